package core

import (
	"context"
	"time"

	blobcore "coacore/internal/blob/core"
	"coacore/internal/identity"
	"coacore/internal/refdata"
	"coacore/pkg/domain"
)

// Logger is the minimal structured logging seam used by the service. Args are
// alternating key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// AuditStatus marks the outcome recorded in an audit entry.
type AuditStatus string

const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusError   AuditStatus = "error"
)

// AuditEntry captures one service-level operation for compliance trails.
type AuditEntry struct {
	Operation string
	Entity    EntityType
	Action    Action
	EntityID  string
	Actor     string
	Status    AuditStatus
	Detail    string
	Duration  time.Duration
	Timestamp time.Time
}

// AuditRecorder receives audit entries emitted by the service.
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry)
}

type noopAuditRecorder struct{}

func (noopAuditRecorder) Record(context.Context, AuditEntry) {}

// MetricsRecorder observes operation outcomes for metrics export.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

type noopMetricsRecorder struct{}

func (noopMetricsRecorder) Observe(context.Context, string, bool, time.Duration) {}

// TraceSpan terminates a traced operation.
type TraceSpan interface {
	End(err error)
}

// Tracer starts spans around service operations.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

type noopTracer struct{}

type noopSpan struct{}

func (noopSpan) End(error) {}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

// Now returns the current time from the wrapped function.
func (f ClockFunc) Now() time.Time { return f() }

type options struct {
	logger     Logger
	audit      AuditRecorder
	metrics    MetricsRecorder
	tracer     Tracer
	clock      Clock
	verifier   identity.Verifier
	signatures blobcore.Store
	refdata    refdata.Source
}

func defaultOptions() options {
	return options{
		logger:  noopLogger{},
		audit:   noopAuditRecorder{},
		metrics: noopMetricsRecorder{},
		tracer:  noopTracer{},
		clock:   ClockFunc(func() time.Time { return time.Now().UTC() }),
	}
}

// Option customizes service construction.
type Option func(*options)

// WithLogger installs a structured logger.
func WithLogger(logger Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithAuditRecorder installs an audit sink.
func WithAuditRecorder(recorder AuditRecorder) Option {
	return func(o *options) {
		if recorder != nil {
			o.audit = recorder
		}
	}
}

// WithMetricsRecorder installs a metrics sink.
func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(o *options) {
		if recorder != nil {
			o.metrics = recorder
		}
	}
}

// WithTracer installs a tracer.
func WithTracer(tracer Tracer) Option {
	return func(o *options) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithClock overrides the time source.
func WithClock(clock Clock) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithIdentityVerifier installs the PIN verification client used for
// signature binding.
func WithIdentityVerifier(verifier identity.Verifier) Option {
	return func(o *options) {
		o.verifier = verifier
	}
}

// WithSignatureStore installs the blob store holding signature images.
func WithSignatureStore(store blobcore.Store) Option {
	return func(o *options) {
		o.signatures = store
	}
}

// WithReferenceData installs the controlled-vocabulary source.
func WithReferenceData(source refdata.Source) Option {
	return func(o *options) {
		o.refdata = source
	}
}

// operationMetadata maps audited operations to their entity and action so
// recordAuditSuccess can emit complete entries without caller repetition.
var operationMetadata = map[string]struct {
	entity EntityType
	action Action
}{
	"save_coa":              {entity: domain.EntityCOA, action: domain.ActionUpdate},
	"postpone_coa":          {entity: domain.EntityCOA, action: domain.ActionUpdate},
	"bind_signature":        {entity: domain.EntityCOA, action: domain.ActionUpdate},
	"archive_postpone_note": {entity: domain.EntityCOA, action: domain.ActionUpdate},
	"hide_indexes":          {entity: domain.EntityCOA, action: domain.ActionUpdate},
	"register_sample":       {entity: domain.EntitySample, action: domain.ActionCreate},
	"register_unit":         {entity: domain.EntityUnit, action: domain.ActionCreate},
}
