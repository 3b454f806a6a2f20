package domain

import (
	"fmt"
	"strings"
)

// FieldError reports a single field-level validation failure. Field names
// use the durable schema spelling (date_tested, test_results, ...).
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError aggregates the field errors that block a save.
type ValidationError struct {
	Fields []FieldError
}

func (e ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Error()
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// PropagationError reports that the certificate write committed but a
// dependent unit/sample write did not. The caller must not treat the
// operation as an overall success; the inconsistency is recoverable by
// retrying the propagation.
type PropagationError struct {
	Entity EntityType
	ID     string
	Err    error
}

func (e PropagationError) Error() string {
	return fmt.Sprintf("coa saved but %s %s not updated: %v", e.Entity, e.ID, e.Err)
}

func (e PropagationError) Unwrap() error { return e.Err }

// ErrNotFound is returned when reference validation fails within
// transactional helpers.
type ErrNotFound struct {
	Entity EntityType
	ID     string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}
