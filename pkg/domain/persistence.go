package domain

import "context"

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope.
type Transaction interface {
	Snapshot() TransactionView
	CreateSample(Sample) (Sample, error)
	UpdateSample(id string, mutator func(*Sample) error) (Sample, error)
	DeleteSample(id string) error
	CreateUnit(Unit) (Unit, error)
	UpdateUnit(id string, mutator func(*Unit) error) (Unit, error)
	DeleteUnit(id string) error
	CreateCOA(COA) (COA, error)
	UpdateCOA(id string, mutator func(*COA) error) (COA, error)
	DeleteCOA(id string) error
	FindSample(id string) (Sample, bool)
	FindUnit(id string) (Unit, bool)
	FindCOAByUnit(unitID string) (COA, bool)
}

// TransactionView provides read-only access to snapshot data for rules.
type TransactionView interface {
	RuleView
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetSample(id string) (Sample, bool)
	ListSamples() []Sample
	GetUnit(id string) (Unit, bool)
	ListUnits() []Unit
	GetCOA(id string) (COA, bool)
	GetCOAByUnit(unitID string) (COA, bool)
	ListCOAs() []COA
}
