// Package core implements the certificate lifecycle service: validation,
// role-gated saves, postponement, status propagation to units and samples,
// signature binding, and document composition.
package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	blobcore "coacore/internal/blob/core"
	"coacore/internal/refdata"
	"coacore/internal/report"
	"coacore/pkg/domain"
)

// Service exposes the certificate workflow operations over a persistent store.
type Service struct {
	store domain.PersistentStore
	opts  options
}

// NewService constructs a service backed by the supplied store.
func NewService(store domain.PersistentStore, opts ...Option) *Service {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Service{store: store, opts: o}
}

// NewInMemoryService creates a service and in-memory store with the given rules engine.
func NewInMemoryService(engine *RulesEngine, opts ...Option) *Service {
	return NewService(NewMemoryStore(engine), opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() domain.PersistentStore {
	return s.store
}

// observe wraps an operation with tracing, timing, metrics, and audit.
func (s *Service) observe(ctx context.Context, operation, entityID string, fn func(ctx context.Context) error) error {
	ctx, span := s.opts.tracer.Start(ctx, operation)
	start := s.opts.clock.Now()
	err := fn(ctx)
	duration := s.opts.clock.Now().Sub(start)
	span.End(err)
	s.opts.metrics.Observe(ctx, operation, err == nil, duration)
	if err == nil {
		s.recordAuditSuccess(ctx, operation, entityID, duration)
	} else {
		s.opts.logger.Error("operation failed", "operation", operation, "entity_id", entityID, "error", err)
	}
	return err
}

// recordAuditSuccess emits a success audit entry for a known operation.
// Unknown operations are ignored.
func (s *Service) recordAuditSuccess(ctx context.Context, operation, entityID string, duration time.Duration) {
	meta, ok := operationMetadata[operation]
	if !ok {
		return
	}
	s.opts.audit.Record(ctx, AuditEntry{
		Operation: operation,
		Entity:    meta.entity,
		Action:    meta.action,
		EntityID:  entityID,
		Status:    AuditStatusSuccess,
		Duration:  duration,
		Timestamp: s.opts.clock.Now(),
	})
}

// RegisterSample persists a new sample submission.
func (s *Service) RegisterSample(ctx context.Context, sample Sample) (Sample, Result, error) {
	var created Sample
	res, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		created, err = tx.CreateSample(sample)
		return err
	})
	if err == nil {
		s.recordAuditSuccess(ctx, "register_sample", created.ID, 0)
	}
	return created, res, err
}

// RegisterUnit persists a new unit under an existing sample.
func (s *Service) RegisterUnit(ctx context.Context, unit Unit) (Unit, Result, error) {
	var created Unit
	res, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		created, err = tx.CreateUnit(unit)
		return err
	})
	if err == nil {
		s.recordAuditSuccess(ctx, "register_unit", created.ID, 0)
	}
	return created, res, err
}

// GetCOA loads the certificate for a unit with its report-code cache
// regenerated from the unit's identity. Stale persisted codes never survive
// a read.
func (s *Service) GetCOA(ctx context.Context, unitID string) (COA, Unit, error) {
	var coa COA
	var unit Unit
	err := s.store.View(ctx, func(view domain.TransactionView) error {
		var ok bool
		unit, ok = view.FindUnit(unitID)
		if !ok {
			return ErrNotFound{Entity: EntityUnit, ID: unitID}
		}
		coa, ok = view.FindCOAByUnit(unitID)
		if !ok {
			return ErrNotFound{Entity: EntityCOA, ID: unitID}
		}
		return nil
	})
	if err != nil {
		return COA{}, Unit{}, err
	}
	coa.TestReportNumbers = report.DeriveReportCodes(unit.Code, unit.ReceivedAt, unit.Assays)
	return coa, unit, nil
}

// Validate checks a certificate draft against its unit's registration: no
// results outside the registered assay/index matrix, a result cell with every
// required channel for each registered pair, and the mandatory test metadata.
// Failures aggregate into a ValidationError; a nil return means the draft is
// saveable.
func (s *Service) Validate(unit Unit, draft COA) error {
	var fields []domain.FieldError

	registered := make(map[string]map[string]struct{}, len(unit.Assays))
	for _, assay := range unit.Assays {
		idxs := make(map[string]struct{}, len(unit.SampleIndexes[assay]))
		for _, idx := range unit.SampleIndexes[assay] {
			idxs[idx] = struct{}{}
		}
		registered[assay] = idxs
	}

	for assay, cells := range draft.TestResults {
		idxs, ok := registered[assay]
		if !ok {
			fields = append(fields, domain.FieldError{Field: "test_results", Message: fmt.Sprintf("assay %q is not registered for unit %s", assay, unit.Code)})
			continue
		}
		for index := range cells {
			if _, ok := idxs[index]; !ok {
				fields = append(fields, domain.FieldError{Field: "test_results", Message: fmt.Sprintf("sample index %q is not registered for assay %q", index, assay)})
			}
		}
	}
	for assay, portions := range draft.TestPortions {
		idxs, ok := registered[assay]
		if !ok {
			fields = append(fields, domain.FieldError{Field: "test_portions", Message: fmt.Sprintf("assay %q is not registered for unit %s", assay, unit.Code)})
			continue
		}
		for index := range portions {
			if _, ok := idxs[index]; !ok {
				fields = append(fields, domain.FieldError{Field: "test_portions", Message: fmt.Sprintf("sample index %q is not registered for assay %q", index, assay)})
			}
		}
	}
	for assay, hidden := range draft.HiddenIndexes {
		idxs, ok := registered[assay]
		if !ok {
			fields = append(fields, domain.FieldError{Field: "hidden_indexes", Message: fmt.Sprintf("assay %q is not registered for unit %s", assay, unit.Code)})
			continue
		}
		for _, index := range hidden {
			if _, ok := idxs[index]; !ok {
				fields = append(fields, domain.FieldError{Field: "hidden_indexes", Message: fmt.Sprintf("sample index %q is not registered for assay %q", index, assay)})
			}
		}
	}

	for _, assay := range unit.Assays {
		channels := domain.KindOf(assay).RequiredChannels()
		for _, index := range unit.SampleIndexes[assay] {
			cell, ok := draft.Result(assay, index)
			if !ok {
				fields = append(fields, domain.FieldError{Field: "test_results", Message: fmt.Sprintf("assay %q sample index %q has no result", assay, index)})
				continue
			}
			for _, ch := range channels {
				if cell.Get(ch) == "" {
					fields = append(fields, domain.FieldError{Field: "test_results", Message: fmt.Sprintf("assay %q sample index %q is missing %s", assay, index, ch)})
				}
			}
		}
	}

	if draft.DateTested == "" {
		fields = append(fields, domain.FieldError{Field: "date_tested", Message: "is required"})
	}
	if draft.TestedBy == "" {
		fields = append(fields, domain.FieldError{Field: "tested_by", Message: "is required"})
	}

	if len(fields) > 0 {
		return domain.ValidationError{Fields: fields}
	}
	return nil
}

// SaveCOA validates and persists a certificate draft, then propagates status
// to the owning unit and sample. The resulting certificate status depends on
// the actor's role: admins release the certificate as completed, everyone
// else leaves it pending approval.
//
// The certificate write and the unit/sample propagation run in separate
// transactions to mirror the downstream systems consuming them; a propagation
// failure after a committed save surfaces as PropagationError so callers do
// not report overall success.
func (s *Service) SaveCOA(ctx context.Context, actor Actor, unitID string, draft COA) (COA, Result, error) {
	var saved COA
	var res Result
	err := s.observe(ctx, "save_coa", unitID, func(ctx context.Context) error {
		unit, ok := s.store.GetUnit(unitID)
		if !ok {
			return ErrNotFound{Entity: EntityUnit, ID: unitID}
		}
		if err := s.Validate(unit, draft); err != nil {
			return err
		}

		target := domain.StatusPendingApproval
		if actor.Role == domain.RoleAdmin {
			target = domain.StatusCompleted
		}
		codes := report.DeriveReportCodes(unit.Code, unit.ReceivedAt, unit.Assays)

		var archivedNote string
		var hiddenBefore map[string][]string
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			existing, ok := tx.FindCOAByUnit(unitID)
			if !ok {
				draft.UnitID = unitID
				draft.Status = target
				draft.TestReportNumbers = codes
				saved, err = tx.CreateCOA(draft)
				return err
			}
			hiddenBefore = existing.HiddenIndexes
			if existing.Status == domain.StatusPostponed && target == domain.StatusCompleted {
				archivedNote = existing.Notes
			}
			saved, err = tx.UpdateCOA(existing.ID, func(c *COA) error {
				applyDraft(c, draft)
				c.Status = target
				c.TestReportNumbers = codes
				return nil
			})
			return err
		})
		if err != nil {
			return err
		}

		if archivedNote != "" {
			s.opts.audit.Record(ctx, AuditEntry{
				Operation: "archive_postpone_note",
				Entity:    EntityCOA,
				Action:    ActionUpdate,
				EntityID:  saved.ID,
				Actor:     actor.Name,
				Status:    AuditStatusSuccess,
				Detail:    archivedNote,
				Timestamp: s.opts.clock.Now(),
			})
		}
		s.recordHiddenIndexChanges(ctx, actor, saved, hiddenBefore)

		if err := s.propagate(ctx, actor, unit, target); err != nil {
			return err
		}
		s.opts.logger.Info("certificate saved", "unit", unit.Code, "status", string(saved.Status), "actor", actor.Name)
		return nil
	})
	return saved, res, err
}

// recordHiddenIndexChanges emits a field-level audit entry for every assay
// whose hidden-index set moved during a save, preserving the print-suppression
// history the certificate itself overwrites.
func (s *Service) recordHiddenIndexChanges(ctx context.Context, actor Actor, saved COA, before map[string][]string) {
	assays := make(map[string]struct{}, len(before)+len(saved.HiddenIndexes))
	for assay := range before {
		assays[assay] = struct{}{}
	}
	for assay := range saved.HiddenIndexes {
		assays[assay] = struct{}{}
	}
	changed := make([]string, 0, len(assays))
	for assay := range assays {
		if !sameIndexSet(before[assay], saved.HiddenIndexes[assay]) {
			changed = append(changed, assay)
		}
	}
	sort.Strings(changed)

	for _, assay := range changed {
		s.opts.audit.Record(ctx, AuditEntry{
			Operation: "hide_indexes",
			Entity:    EntityCOA,
			Action:    ActionUpdate,
			EntityID:  saved.ID,
			Actor:     actor.Name,
			Status:    AuditStatusSuccess,
			Detail:    fmt.Sprintf("%s: [%s] -> [%s]", assay, strings.Join(before[assay], ", "), strings.Join(saved.HiddenIndexes[assay], ", ")),
			Timestamp: s.opts.clock.Now(),
		})
	}
}

// sameIndexSet compares two index lists ignoring order.
func sameIndexSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

// applyDraft copies the editable durable fields of a draft onto the stored
// certificate, leaving identity and bookkeeping fields alone.
func applyDraft(c *COA, draft COA) {
	c.TestResults = draft.TestResults
	c.TestPortions = draft.TestPortions
	c.TestMethods = draft.TestMethods
	c.IsolateTypes = draft.IsolateTypes
	c.TestRanges = draft.TestRanges
	c.HiddenIndexes = draft.HiddenIndexes
	c.DateTested = draft.DateTested
	c.TestedBy = draft.TestedBy
	c.ReviewedBy = draft.ReviewedBy
	c.LabSupervisor = draft.LabSupervisor
	c.LabManager = draft.LabManager
	c.Notes = draft.Notes
	if draft.Signatures != nil {
		c.Signatures = draft.Signatures
	}
}

// propagate pushes certificate status onto the owning unit and sample.
// Errors wrap as PropagationError because the certificate itself is already
// committed.
func (s *Service) propagate(ctx context.Context, actor Actor, unit Unit, status domain.COAStatus) error {
	unitCOAStatus := domain.UnitCOACreated
	sampleStatus := domain.SampleStatus("")
	switch status {
	case domain.StatusCompleted:
		unitCOAStatus = domain.UnitCOAFinalized
		sampleStatus = domain.SampleStatusCompleted
	case domain.StatusPostponed:
		sampleStatus = domain.SampleStatusPostponed
	}

	_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, err := tx.UpdateUnit(unit.ID, func(u *Unit) error {
			u.COAStatus = unitCOAStatus
			u.LastEditedBy = actor.Name
			return nil
		}); err != nil {
			return err
		}
		if sampleStatus == "" {
			return nil
		}
		_, err := tx.UpdateSample(unit.SampleID, func(sm *Sample) error {
			sm.Status = sampleStatus
			sm.LastEditedBy = actor.Name
			return nil
		})
		return err
	})
	if err != nil {
		return domain.PropagationError{Entity: EntityUnit, ID: unit.ID, Err: err}
	}
	return nil
}

// PostponeCOA defers a certificate's release with a mandatory reason. Any
// editor role may postpone; the reason lands in the certificate notes and the
// parent sample moves to postponed.
func (s *Service) PostponeCOA(ctx context.Context, actor Actor, unitID, reason string) (COA, Result, error) {
	var postponed COA
	var res Result
	err := s.observe(ctx, "postpone_coa", unitID, func(ctx context.Context) error {
		if reason == "" {
			return domain.ValidationError{Fields: []domain.FieldError{{Field: "notes", Message: "postpone reason is required"}}}
		}
		unit, ok := s.store.GetUnit(unitID)
		if !ok {
			return ErrNotFound{Entity: EntityUnit, ID: unitID}
		}

		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			existing, ok := tx.FindCOAByUnit(unitID)
			if !ok {
				postponed, err = tx.CreateCOA(COA{UnitID: unitID, Status: domain.StatusPostponed, Notes: reason})
				return err
			}
			postponed, err = tx.UpdateCOA(existing.ID, func(c *COA) error {
				c.Status = domain.StatusPostponed
				c.Notes = reason
				return nil
			})
			return err
		})
		if err != nil {
			return err
		}

		if err := s.propagate(ctx, actor, unit, domain.StatusPostponed); err != nil {
			return err
		}
		s.opts.logger.Info("certificate postponed", "unit", unit.Code, "reason", reason, "actor", actor.Name)
		return nil
	})
	return postponed, res, err
}

// ComposeDocument builds the full renderable page tree for a unit's
// certificate.
func (s *Service) ComposeDocument(ctx context.Context, unitID string) (report.Document, error) {
	coa, unit, err := s.GetCOA(ctx, unitID)
	if err != nil {
		return report.Document{}, err
	}
	sample, ok := s.store.GetSample(unit.SampleID)
	if !ok {
		return report.Document{}, ErrNotFound{Entity: EntitySample, ID: unit.SampleID}
	}
	return report.BuildDocument(unit, sample, coa), nil
}

// RenderHTML composes and serializes a unit's certificate as HTML.
func (s *Service) RenderHTML(ctx context.Context, unitID string) ([]byte, error) {
	doc, err := s.ComposeDocument(ctx, unitID)
	if err != nil {
		return nil, err
	}
	return report.RenderHTML(doc), nil
}

// RenderText composes and serializes a unit's certificate as plain text.
func (s *Service) RenderText(ctx context.Context, unitID string) ([]byte, error) {
	doc, err := s.ComposeDocument(ctx, unitID)
	if err != nil {
		return nil, err
	}
	return report.RenderText(doc), nil
}

// Vocabulary returns the controlled terms for a named vocabulary. When the
// source is absent or serves malformed data the field degrades to free-text
// entry: terms come back nil with degraded=true and no error.
func (s *Service) Vocabulary(ctx context.Context, name string) (terms []string, degraded bool, err error) {
	if s.opts.refdata == nil {
		return nil, true, nil
	}
	terms, err = s.opts.refdata.Terms(ctx, name)
	if err != nil {
		var malformed refdata.MalformedError
		if errors.As(err, &malformed) {
			s.opts.logger.Warn("vocabulary degraded to free text", "vocabulary", name, "error", err)
			return nil, true, nil
		}
		return nil, false, err
	}
	return terms, false, nil
}

// signatureSlots are the approval fields a verified signer can occupy.
var signatureSlots = map[string]struct{}{
	"tested_by":      {},
	"reviewed_by":    {},
	"lab_supervisor": {},
	"lab_manager":    {},
}

// BindSignature verifies a PIN against the identity service and binds the
// resolved signer to an approval slot on the unit's certificate.
func (s *Service) BindSignature(ctx context.Context, unitID, slot, pin string) (COA, error) {
	var bound COA
	err := s.observe(ctx, "bind_signature", unitID, func(ctx context.Context) error {
		if _, ok := signatureSlots[slot]; !ok {
			return domain.ValidationError{Fields: []domain.FieldError{{Field: slot, Message: "unknown signature slot"}}}
		}
		if s.opts.verifier == nil {
			return errors.New("no identity verifier configured")
		}
		verification, err := s.opts.verifier.VerifyPIN(ctx, pin)
		if err != nil {
			return err
		}

		_, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			existing, ok := tx.FindCOAByUnit(unitID)
			if !ok {
				return ErrNotFound{Entity: EntityCOA, ID: unitID}
			}
			bound, err = tx.UpdateCOA(existing.ID, func(c *COA) error {
				if c.Signatures == nil {
					c.Signatures = map[string]domain.SignatureBinding{}
				}
				c.Signatures[slot] = domain.SignatureBinding{
					Name:     verification.Name,
					ImageKey: verification.SignatureImage,
					BoundAt:  s.opts.clock.Now(),
				}
				setSignerName(c, slot, verification.Name)
				return nil
			})
			return err
		})
		return err
	})
	return bound, err
}

func setSignerName(c *COA, slot, name string) {
	switch slot {
	case "tested_by":
		c.TestedBy = name
	case "reviewed_by":
		c.ReviewedBy = name
	case "lab_supervisor":
		c.LabSupervisor = name
	case "lab_manager":
		c.LabManager = name
	}
}

// UploadSignatureImage stores a signer's image in the configured blob store
// and returns its key for later binding. Keys carry a random suffix because
// blob stores are create-only; re-uploading a signer's image yields a fresh
// key rather than an overwrite.
func (s *Service) UploadSignatureImage(ctx context.Context, name string, r io.Reader, contentType string) (string, error) {
	if s.opts.signatures == nil {
		return "", errors.New("no signature store configured")
	}
	key := "signatures/" + name + "-" + uuid.NewString()
	if _, err := s.opts.signatures.Put(ctx, key, r, blobcore.PutOptions{ContentType: contentType}); err != nil {
		return "", err
	}
	return key, nil
}

// SignatureImageURL resolves a presigned (or local) URL for a stored
// signature image.
func (s *Service) SignatureImageURL(ctx context.Context, key string) (string, error) {
	if s.opts.signatures == nil {
		return "", errors.New("no signature store configured")
	}
	return s.opts.signatures.PresignURL(ctx, key, blobcore.SignedURLOptions{Method: "GET"})
}
