package core

import (
	"context"
	"fmt"
	"reflect"

	"coacore/pkg/domain"
)

// StatusTransitionRule blocks illegal certificate workflow transitions:
// unknown statuses, edits to completed certificates, and any move out of
// postponed other than completion by a later approval.
func StatusTransitionRule() domain.Rule {
	return statusTransitionRule{}
}

type statusTransitionRule struct{}

func (statusTransitionRule) Name() string { return "coa_status_transition" }

var validCOAStatuses = map[domain.COAStatus]struct{}{
	domain.StatusDraft:           {},
	domain.StatusPendingApproval: {},
	domain.StatusPostponed:       {},
	domain.StatusCompleted:       {},
}

func (statusTransitionRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	var result domain.Result
	for _, change := range changes {
		if change.Entity != domain.EntityCOA {
			continue
		}
		after, ok := change.After.(domain.COA)
		if !ok {
			continue
		}
		if _, known := validCOAStatuses[after.Status]; !known {
			result.Violations = append(result.Violations, domain.Violation{
				Rule:     "coa_status_transition",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("unknown coa status %q", after.Status),
				Entity:   domain.EntityCOA,
				EntityID: after.ID,
			})
			continue
		}
		if change.Action != domain.ActionUpdate {
			continue
		}
		before, ok := change.Before.(domain.COA)
		if !ok {
			continue
		}
		switch before.Status {
		case domain.StatusCompleted:
			if after.Status != domain.StatusCompleted || changedContent(before, after) {
				result.Violations = append(result.Violations, domain.Violation{
					Rule:     "coa_status_transition",
					Severity: domain.SeverityBlock,
					Message:  "completed certificate cannot be modified",
					Entity:   domain.EntityCOA,
					EntityID: after.ID,
				})
			}
		case domain.StatusPostponed:
			if after.Status != domain.StatusPostponed && after.Status != domain.StatusCompleted {
				result.Violations = append(result.Violations, domain.Violation{
					Rule:     "coa_status_transition",
					Severity: domain.SeverityBlock,
					Message:  fmt.Sprintf("postponed certificate cannot transition to %q", after.Status),
					Entity:   domain.EntityCOA,
					EntityID: after.ID,
				})
			}
		}
	}
	return result, nil
}

// changedContent reports whether any durable field other than status moved.
// Completed certificates tolerate idempotent re-saves of identical content.
func changedContent(before, after domain.COA) bool {
	before.Status = after.Status
	before.UpdatedAt = after.UpdatedAt
	return !reflect.DeepEqual(before, after)
}
