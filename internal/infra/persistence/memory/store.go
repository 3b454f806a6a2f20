// Package memory provides an in-memory implementation of the core persistence
// store used for tests and ephemeral environments.
package memory

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"coacore/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interface.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Sample aliases domain.Sample for in-memory persistence operations.
	Sample = domain.Sample
	// Unit aliases domain.Unit.
	Unit = domain.Unit
	// COA aliases domain.COA.
	COA = domain.COA
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
	// PersistentStore aliases domain.PersistentStore abstraction.
	PersistentStore = domain.PersistentStore
)

type memoryState struct {
	samples map[string]Sample
	units   map[string]Unit
	coas    map[string]COA
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Samples map[string]Sample `json:"samples"`
	Units   map[string]Unit   `json:"units"`
	COAs    map[string]COA    `json:"coas"`
}

func newMemoryState() memoryState {
	return memoryState{
		samples: make(map[string]Sample),
		units:   make(map[string]Unit),
		coas:    make(map[string]COA),
	}
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	s := Snapshot{
		Samples: make(map[string]Sample, len(state.samples)),
		Units:   make(map[string]Unit, len(state.units)),
		COAs:    make(map[string]COA, len(state.coas)),
	}
	for k, v := range state.samples {
		s.Samples[k] = cloneSample(v)
	}
	for k, v := range state.units {
		s.Units[k] = cloneUnit(v)
	}
	for k, v := range state.coas {
		s.COAs[k] = cloneCOA(v)
	}
	return s
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for k, v := range s.Samples {
		state.samples[k] = cloneSample(v)
	}
	for k, v := range s.Units {
		state.units[k] = cloneUnit(v)
	}
	for k, v := range s.COAs {
		state.coas[k] = cloneCOA(v)
	}
	return state
}

// migrateSnapshot normalizes snapshots produced by earlier schema revisions:
// nil buckets become empty maps, orphaned units and certificates are dropped,
// and certificates without a recognised status revert to draft.
func migrateSnapshot(snapshot Snapshot) Snapshot {
	if snapshot.Samples == nil {
		snapshot.Samples = map[string]Sample{}
	}
	if snapshot.Units == nil {
		snapshot.Units = map[string]Unit{}
	}
	if snapshot.COAs == nil {
		snapshot.COAs = map[string]COA{}
	}

	sampleExists := func(id string) bool {
		_, ok := snapshot.Samples[id]
		return ok
	}
	unitExists := func(id string) bool {
		_, ok := snapshot.Units[id]
		return ok
	}

	for id, unit := range snapshot.Units {
		if unit.SampleID == "" || !sampleExists(unit.SampleID) {
			delete(snapshot.Units, id)
			continue
		}
		if unit.SampleIndexes == nil {
			unit.SampleIndexes = map[string][]string{}
		}
		snapshot.Units[id] = unit
	}

	for id, coa := range snapshot.COAs {
		if coa.UnitID == "" || !unitExists(coa.UnitID) {
			delete(snapshot.COAs, id)
			continue
		}
		switch coa.Status {
		case domain.StatusDraft, domain.StatusPendingApproval, domain.StatusPostponed, domain.StatusCompleted:
		default:
			coa.Status = domain.StatusDraft
		}
		snapshot.COAs[id] = coa
	}

	for id, sample := range snapshot.Samples {
		switch sample.Status {
		case domain.SampleStatusPending, domain.SampleStatusCompleted, domain.SampleStatusPostponed:
		default:
			sample.Status = domain.SampleStatusPending
		}
		snapshot.Samples[id] = sample
	}

	return snapshot
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	for k, v := range s.samples {
		cloned.samples[k] = cloneSample(v)
	}
	for k, v := range s.units {
		cloned.units[k] = cloneUnit(v)
	}
	for k, v := range s.coas {
		cloned.coas[k] = cloneCOA(v)
	}
	return cloned
}

func cloneSample(s Sample) Sample { return s }

func cloneUnit(u Unit) Unit {
	cp := u
	cp.Assays = append([]string(nil), u.Assays...)
	if u.SampleIndexes != nil {
		cp.SampleIndexes = make(map[string][]string, len(u.SampleIndexes))
		for assay, idxs := range u.SampleIndexes {
			cp.SampleIndexes[assay] = append([]string(nil), idxs...)
		}
	}
	cp.MatrixTags = append([]domain.MatrixTag(nil), u.MatrixTags...)
	cp.Houses = append([]string(nil), u.Houses...)
	cp.SampleTypes = append([]string(nil), u.SampleTypes...)
	return cp
}

func cloneCOA(c COA) COA { return c.Clone() }

// Store provides an in-memory transactional store for the core domain.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) newID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b[:])
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(migrateSnapshot(snapshot))
}

// RulesEngine exposes the currently configured engine for integration points.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// NowFunc returns the time provider used by the in-memory store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

// transaction represents a mutation set applied to the store state.
type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

// transactionView exposes a read-only snapshot of the transactional state to rules.
type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

// ListSamples returns all samples within the transaction snapshot.
func (v transactionView) ListSamples() []Sample {
	out := make([]Sample, 0, len(v.state.samples))
	for _, s := range v.state.samples {
		out = append(out, cloneSample(s))
	}
	return out
}

// ListUnits returns all units within the transaction snapshot.
func (v transactionView) ListUnits() []Unit {
	out := make([]Unit, 0, len(v.state.units))
	for _, u := range v.state.units {
		out = append(out, cloneUnit(u))
	}
	return out
}

// ListCOAs returns all certificates within the transaction snapshot.
func (v transactionView) ListCOAs() []COA {
	out := make([]COA, 0, len(v.state.coas))
	for _, c := range v.state.coas {
		out = append(out, cloneCOA(c))
	}
	return out
}

// FindSample retrieves a sample by ID from the snapshot.
func (v transactionView) FindSample(id string) (Sample, bool) {
	s, ok := v.state.samples[id]
	if !ok {
		return Sample{}, false
	}
	return cloneSample(s), true
}

// FindUnit retrieves a unit by ID from the snapshot.
func (v transactionView) FindUnit(id string) (Unit, bool) {
	u, ok := v.state.units[id]
	if !ok {
		return Unit{}, false
	}
	return cloneUnit(u), true
}

// FindCOA retrieves a certificate by ID from the snapshot.
func (v transactionView) FindCOA(id string) (COA, bool) {
	c, ok := v.state.coas[id]
	if !ok {
		return COA{}, false
	}
	return cloneCOA(c), true
}

// FindCOAByUnit retrieves the certificate bound to a unit, if any.
func (v transactionView) FindCOAByUnit(unitID string) (COA, bool) {
	return findCOAByUnit(v.state, unitID)
}

func findCOAByUnit(state *memoryState, unitID string) (COA, bool) {
	for _, c := range state.coas {
		if c.UnitID == unitID {
			return cloneCOA(c), true
		}
	}
	return COA{}, false
}

// RunInTransaction executes fn within a transactional copy of the store state.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	view := newTransactionView(&snapshot)
	return fn(view)
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

// FindSample exposes sample lookup within the transaction scope.
func (tx *transaction) FindSample(id string) (Sample, bool) {
	s, ok := tx.state.samples[id]
	if !ok {
		return Sample{}, false
	}
	return cloneSample(s), true
}

// FindUnit exposes unit lookup within the transaction scope.
func (tx *transaction) FindUnit(id string) (Unit, bool) {
	u, ok := tx.state.units[id]
	if !ok {
		return Unit{}, false
	}
	return cloneUnit(u), true
}

// FindCOAByUnit exposes certificate-by-unit lookup within the transaction scope.
func (tx *transaction) FindCOAByUnit(unitID string) (COA, bool) {
	return findCOAByUnit(&tx.state, unitID)
}

// CreateSample stores a new sample within the transaction.
func (tx *transaction) CreateSample(s Sample) (Sample, error) {
	if s.ID == "" {
		s.ID = tx.store.newID()
	}
	if _, exists := tx.state.samples[s.ID]; exists {
		return Sample{}, fmt.Errorf("sample %q already exists", s.ID)
	}
	if s.Status == "" {
		s.Status = domain.SampleStatusPending
	}
	s.CreatedAt = tx.now
	s.UpdatedAt = tx.now
	tx.state.samples[s.ID] = cloneSample(s)
	tx.recordChange(Change{Entity: domain.EntitySample, Action: domain.ActionCreate, After: cloneSample(s)})
	return cloneSample(s), nil
}

// UpdateSample mutates a sample using the provided mutator function.
func (tx *transaction) UpdateSample(id string, mutator func(*Sample) error) (Sample, error) {
	current, ok := tx.state.samples[id]
	if !ok {
		return Sample{}, fmt.Errorf("sample %q not found", id)
	}
	before := cloneSample(current)
	if err := mutator(&current); err != nil {
		return Sample{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.samples[id] = cloneSample(current)
	tx.recordChange(Change{Entity: domain.EntitySample, Action: domain.ActionUpdate, Before: before, After: cloneSample(current)})
	return cloneSample(current), nil
}

// DeleteSample removes a sample from the transaction state.
func (tx *transaction) DeleteSample(id string) error {
	current, ok := tx.state.samples[id]
	if !ok {
		return fmt.Errorf("sample %q not found", id)
	}
	for _, unit := range tx.state.units {
		if unit.SampleID == id {
			return fmt.Errorf("sample %q still referenced by unit %q", id, unit.ID)
		}
	}
	delete(tx.state.samples, id)
	tx.recordChange(Change{Entity: domain.EntitySample, Action: domain.ActionDelete, Before: cloneSample(current)})
	return nil
}

// CreateUnit stores a new unit within the transaction.
func (tx *transaction) CreateUnit(u Unit) (Unit, error) {
	if u.ID == "" {
		u.ID = tx.store.newID()
	}
	if _, exists := tx.state.units[u.ID]; exists {
		return Unit{}, fmt.Errorf("unit %q already exists", u.ID)
	}
	if u.SampleID == "" {
		return Unit{}, errors.New("unit requires sample id")
	}
	if _, ok := tx.state.samples[u.SampleID]; !ok {
		return Unit{}, fmt.Errorf("sample %q not found", u.SampleID)
	}
	if u.SampleIndexes == nil {
		u.SampleIndexes = map[string][]string{}
	}
	u.CreatedAt = tx.now
	u.UpdatedAt = tx.now
	tx.state.units[u.ID] = cloneUnit(u)
	tx.recordChange(Change{Entity: domain.EntityUnit, Action: domain.ActionCreate, After: cloneUnit(u)})
	return cloneUnit(u), nil
}

// UpdateUnit mutates an existing unit. Identity fields are pinned: the unit
// code, sample reference, and received date cannot drift after registration.
func (tx *transaction) UpdateUnit(id string, mutator func(*Unit) error) (Unit, error) {
	current, ok := tx.state.units[id]
	if !ok {
		return Unit{}, fmt.Errorf("unit %q not found", id)
	}
	before := cloneUnit(current)
	if err := mutator(&current); err != nil {
		return Unit{}, err
	}
	current.ID = id
	current.Code = before.Code
	current.SampleID = before.SampleID
	current.ReceivedAt = before.ReceivedAt
	current.UpdatedAt = tx.now
	tx.state.units[id] = cloneUnit(current)
	tx.recordChange(Change{Entity: domain.EntityUnit, Action: domain.ActionUpdate, Before: before, After: cloneUnit(current)})
	return cloneUnit(current), nil
}

// DeleteUnit removes a unit from the transaction state.
func (tx *transaction) DeleteUnit(id string) error {
	current, ok := tx.state.units[id]
	if !ok {
		return fmt.Errorf("unit %q not found", id)
	}
	for _, coa := range tx.state.coas {
		if coa.UnitID == id {
			return fmt.Errorf("unit %q still referenced by coa %q", id, coa.ID)
		}
	}
	delete(tx.state.units, id)
	tx.recordChange(Change{Entity: domain.EntityUnit, Action: domain.ActionDelete, Before: cloneUnit(current)})
	return nil
}

// CreateCOA stores a new certificate within the transaction. A unit holds at
// most one certificate.
func (tx *transaction) CreateCOA(c COA) (COA, error) {
	if c.ID == "" {
		c.ID = tx.store.newID()
	}
	if _, exists := tx.state.coas[c.ID]; exists {
		return COA{}, fmt.Errorf("coa %q already exists", c.ID)
	}
	if c.UnitID == "" {
		return COA{}, errors.New("coa requires unit id")
	}
	if _, ok := tx.state.units[c.UnitID]; !ok {
		return COA{}, fmt.Errorf("unit %q not found", c.UnitID)
	}
	if existing, ok := findCOAByUnit(&tx.state, c.UnitID); ok {
		return COA{}, fmt.Errorf("unit %q already has coa %q", c.UnitID, existing.ID)
	}
	if c.Status == "" {
		c.Status = domain.StatusDraft
	}
	c.CreatedAt = tx.now
	c.UpdatedAt = tx.now
	tx.state.coas[c.ID] = cloneCOA(c)
	tx.recordChange(Change{Entity: domain.EntityCOA, Action: domain.ActionCreate, After: cloneCOA(c)})
	return cloneCOA(c), nil
}

// UpdateCOA mutates an existing certificate.
func (tx *transaction) UpdateCOA(id string, mutator func(*COA) error) (COA, error) {
	current, ok := tx.state.coas[id]
	if !ok {
		return COA{}, fmt.Errorf("coa %q not found", id)
	}
	before := cloneCOA(current)
	if err := mutator(&current); err != nil {
		return COA{}, err
	}
	current.ID = id
	current.UnitID = before.UnitID
	current.UpdatedAt = tx.now
	tx.state.coas[id] = cloneCOA(current)
	tx.recordChange(Change{Entity: domain.EntityCOA, Action: domain.ActionUpdate, Before: before, After: cloneCOA(current)})
	return cloneCOA(current), nil
}

// DeleteCOA removes a certificate from the transaction state.
func (tx *transaction) DeleteCOA(id string) error {
	current, ok := tx.state.coas[id]
	if !ok {
		return fmt.Errorf("coa %q not found", id)
	}
	delete(tx.state.coas, id)
	tx.recordChange(Change{Entity: domain.EntityCOA, Action: domain.ActionDelete, Before: cloneCOA(current)})
	return nil
}

// GetSample retrieves a sample by ID from committed state.
func (s *Store) GetSample(id string) (Sample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sample, ok := s.state.samples[id]
	if !ok {
		return Sample{}, false
	}
	return cloneSample(sample), true
}

// ListSamples returns all committed samples.
func (s *Store) ListSamples() []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Sample, 0, len(s.state.samples))
	for _, sample := range s.state.samples {
		out = append(out, cloneSample(sample))
	}
	return out
}

// GetUnit retrieves a unit by ID from committed state.
func (s *Store) GetUnit(id string) (Unit, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	unit, ok := s.state.units[id]
	if !ok {
		return Unit{}, false
	}
	return cloneUnit(unit), true
}

// ListUnits returns all committed units.
func (s *Store) ListUnits() []Unit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Unit, 0, len(s.state.units))
	for _, unit := range s.state.units {
		out = append(out, cloneUnit(unit))
	}
	return out
}

// GetCOA retrieves a certificate by ID from committed state.
func (s *Store) GetCOA(id string) (COA, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	coa, ok := s.state.coas[id]
	if !ok {
		return COA{}, false
	}
	return cloneCOA(coa), true
}

// GetCOAByUnit retrieves the certificate bound to a unit from committed state.
func (s *Store) GetCOAByUnit(unitID string) (COA, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findCOAByUnit(&s.state, unitID)
}

// ListCOAs returns all committed certificates.
func (s *Store) ListCOAs() []COA {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]COA, 0, len(s.state.coas))
	for _, coa := range s.state.coas {
		out = append(out, cloneCOA(coa))
	}
	return out
}
