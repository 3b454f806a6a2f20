package core

import "coacore/pkg/domain"

type (
	EntityType         = domain.EntityType
	Severity           = domain.Severity
	Base               = domain.Base
	Sample             = domain.Sample
	Unit               = domain.Unit
	COA                = domain.COA
	Actor              = domain.Actor
	Change             = domain.Change
	Action             = domain.Action
	Violation          = domain.Violation
	Result             = domain.Result
	RulesEngine        = domain.RulesEngine
	RuleViolationError = domain.RuleViolationError
	ErrNotFound        = domain.ErrNotFound
)

const (
	EntitySample = domain.EntitySample
	EntityUnit   = domain.EntityUnit
	EntityCOA    = domain.EntityCOA
)

const (
	StatusDraft           = domain.StatusDraft
	StatusPendingApproval = domain.StatusPendingApproval
	StatusPostponed       = domain.StatusPostponed
	StatusCompleted       = domain.StatusCompleted
)

const (
	SeverityBlock = domain.SeverityBlock
	SeverityWarn  = domain.SeverityWarn
	SeverityLog   = domain.SeverityLog
)

const (
	ActionCreate = domain.ActionCreate
	ActionUpdate = domain.ActionUpdate
	ActionDelete = domain.ActionDelete
)
