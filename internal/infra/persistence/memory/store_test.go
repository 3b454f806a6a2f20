package memory

import (
	"context"
	"testing"
	"time"

	"coacore/pkg/domain"
)

func seedSampleAndUnit(t *testing.T, store *Store) (Sample, Unit) {
	t.Helper()
	var sample Sample
	var unit Unit
	_, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		var err error
		sample, err = tx.CreateSample(Sample{Code: "S-2025-014", Year: 2025})
		if err != nil {
			return err
		}
		unit, err = tx.CreateUnit(Unit{
			Code:       "MIC25-7",
			SampleID:   sample.ID,
			ReceivedAt: time.Date(2025, time.March, 4, 0, 0, 0, 0, time.UTC),
			Assays:     []string{"Total Count"},
			SampleIndexes: map[string][]string{
				"Total Count": {"H1", "H2"},
			},
		})
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return sample, unit
}

func TestCreateSampleDefaultsStatus(t *testing.T) {
	store := NewStore(nil)
	sample, _ := seedSampleAndUnit(t, store)
	got, ok := store.GetSample(sample.ID)
	if !ok {
		t.Fatalf("sample not committed")
	}
	if got.Status != domain.SampleStatusPending {
		t.Fatalf("status = %s, want pending default", got.Status)
	}
	if got.ID == "" || got.CreatedAt.IsZero() {
		t.Fatalf("bookkeeping fields unset: %+v", got.Base)
	}
}

func TestCreateUnitRequiresExistingSample(t *testing.T) {
	store := NewStore(nil)
	_, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		_, err := tx.CreateUnit(Unit{Code: "MIC25-8", SampleID: "missing"})
		return err
	})
	if err == nil {
		t.Fatalf("unit created against missing sample")
	}
}

func TestUpdateUnitPinsIdentityFields(t *testing.T) {
	store := NewStore(nil)
	_, unit := seedSampleAndUnit(t, store)

	_, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		_, err := tx.UpdateUnit(unit.ID, func(u *Unit) error {
			u.Code = "HACKED"
			u.SampleID = "other"
			u.ReceivedAt = time.Now()
			u.Notes = "amended"
			return nil
		})
		return err
	})
	if err != nil {
		t.Fatalf("update unit: %v", err)
	}

	got, _ := store.GetUnit(unit.ID)
	if got.Code != unit.Code || got.SampleID != unit.SampleID || !got.ReceivedAt.Equal(unit.ReceivedAt) {
		t.Fatalf("identity fields drifted: %+v", got)
	}
	if got.Notes != "amended" {
		t.Fatalf("mutable field not applied: %q", got.Notes)
	}
}

func TestOneCertificatePerUnit(t *testing.T) {
	store := NewStore(nil)
	_, unit := seedSampleAndUnit(t, store)
	ctx := context.Background()

	_, err := store.RunInTransaction(ctx, func(tx Transaction) error {
		_, err := tx.CreateCOA(COA{UnitID: unit.ID})
		return err
	})
	if err != nil {
		t.Fatalf("first coa: %v", err)
	}

	_, err = store.RunInTransaction(ctx, func(tx Transaction) error {
		_, err := tx.CreateCOA(COA{UnitID: unit.ID})
		return err
	})
	if err == nil {
		t.Fatalf("second certificate accepted for the same unit")
	}
}

func TestCreateCOADefaultsToDraft(t *testing.T) {
	store := NewStore(nil)
	_, unit := seedSampleAndUnit(t, store)

	var created COA
	_, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		var err error
		created, err = tx.CreateCOA(COA{UnitID: unit.ID})
		return err
	})
	if err != nil {
		t.Fatalf("create coa: %v", err)
	}
	if created.Status != domain.StatusDraft {
		t.Fatalf("status = %s, want draft default", created.Status)
	}
	got, ok := store.GetCOAByUnit(unit.ID)
	if !ok || got.ID != created.ID {
		t.Fatalf("coa-by-unit lookup failed")
	}
}

func TestDeleteGuards(t *testing.T) {
	store := NewStore(nil)
	sample, unit := seedSampleAndUnit(t, store)
	ctx := context.Background()

	if _, err := store.RunInTransaction(ctx, func(tx Transaction) error {
		_, err := tx.CreateCOA(COA{UnitID: unit.ID})
		return err
	}); err != nil {
		t.Fatalf("create coa: %v", err)
	}

	if _, err := store.RunInTransaction(ctx, func(tx Transaction) error {
		return tx.DeleteSample(sample.ID)
	}); err == nil {
		t.Fatalf("sample deleted while a unit references it")
	}
	if _, err := store.RunInTransaction(ctx, func(tx Transaction) error {
		return tx.DeleteUnit(unit.ID)
	}); err == nil {
		t.Fatalf("unit deleted while a certificate references it")
	}

	// Tearing down in dependency order succeeds.
	if _, err := store.RunInTransaction(ctx, func(tx Transaction) error {
		coa, _ := tx.FindCOAByUnit(unit.ID)
		if err := tx.DeleteCOA(coa.ID); err != nil {
			return err
		}
		if err := tx.DeleteUnit(unit.ID); err != nil {
			return err
		}
		return tx.DeleteSample(sample.ID)
	}); err != nil {
		t.Fatalf("ordered teardown: %v", err)
	}
	if got := store.ListSamples(); len(got) != 0 {
		t.Fatalf("samples remain after teardown: %d", len(got))
	}
}

func TestFailedTransactionLeavesStateUntouched(t *testing.T) {
	store := NewStore(nil)
	sample, _ := seedSampleAndUnit(t, store)

	_, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		if _, err := tx.UpdateSample(sample.ID, func(s *Sample) error {
			s.Company = "mutated"
			return nil
		}); err != nil {
			return err
		}
		return tx.DeleteSample("missing")
	})
	if err == nil {
		t.Fatalf("expected transaction failure")
	}
	got, _ := store.GetSample(sample.ID)
	if got.Company == "mutated" {
		t.Fatalf("partial transaction leaked into committed state")
	}
}

func TestBlockingRuleRollsBackTransaction(t *testing.T) {
	engine := domain.NewRulesEngine()
	engine.Register(blockCOACreates{})
	store := NewStore(engine)
	_, unit := seedSampleAndUnit(t, store)

	_, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		_, err := tx.CreateCOA(COA{UnitID: unit.ID})
		return err
	})
	if _, ok := err.(domain.RuleViolationError); !ok {
		t.Fatalf("expected RuleViolationError, got %v", err)
	}
	if _, ok := store.GetCOAByUnit(unit.ID); ok {
		t.Fatalf("blocked certificate was committed")
	}
}

type blockCOACreates struct{}

func (blockCOACreates) Name() string { return "block_coa_creates" }

func (blockCOACreates) Evaluate(_ context.Context, _ domain.RuleView, changes []Change) (Result, error) {
	var result Result
	for _, c := range changes {
		if c.Entity == domain.EntityCOA && c.Action == domain.ActionCreate {
			result.Violations = append(result.Violations, domain.Violation{
				Rule:     "block_coa_creates",
				Severity: domain.SeverityBlock,
				Message:  "no certificates allowed",
			})
		}
	}
	return result, nil
}

func TestExportImportRoundTrip(t *testing.T) {
	store := NewStore(nil)
	sample, unit := seedSampleAndUnit(t, store)
	if _, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		_, err := tx.CreateCOA(COA{UnitID: unit.ID, Status: domain.StatusPendingApproval, TestedBy: "N. Farouk"})
		return err
	}); err != nil {
		t.Fatalf("create coa: %v", err)
	}

	restored := NewStore(nil)
	restored.ImportState(store.ExportState())

	gotSample, ok := restored.GetSample(sample.ID)
	if !ok || gotSample.Code != "S-2025-014" {
		t.Fatalf("sample lost in round trip")
	}
	gotUnit, ok := restored.GetUnit(unit.ID)
	if !ok || gotUnit.SampleIndexes["Total Count"][1] != "H2" {
		t.Fatalf("unit indexes lost in round trip")
	}
	gotCOA, ok := restored.GetCOAByUnit(unit.ID)
	if !ok || gotCOA.TestedBy != "N. Farouk" || gotCOA.Status != domain.StatusPendingApproval {
		t.Fatalf("certificate lost in round trip: %+v", gotCOA)
	}
}

func TestImportStateMigratesLegacySnapshots(t *testing.T) {
	snapshot := Snapshot{
		Samples: map[string]Sample{
			"s1": {Base: domain.Base{ID: "s1"}, Code: "S-1", Status: "weird"},
		},
		Units: map[string]Unit{
			"u1":     {Base: domain.Base{ID: "u1"}, Code: "MIC25-1", SampleID: "s1"},
			"orphan": {Base: domain.Base{ID: "orphan"}, Code: "MIC25-2", SampleID: "gone"},
		},
		COAs: map[string]COA{
			"c1":     {Base: domain.Base{ID: "c1"}, UnitID: "u1", Status: "bogus"},
			"orphan": {Base: domain.Base{ID: "orphan"}, UnitID: "gone"},
		},
	}

	store := NewStore(nil)
	store.ImportState(snapshot)

	if _, ok := store.GetUnit("orphan"); ok {
		t.Fatalf("orphaned unit survived migration")
	}
	if _, ok := store.GetCOA("orphan"); ok {
		t.Fatalf("orphaned certificate survived migration")
	}
	sample, _ := store.GetSample("s1")
	if sample.Status != domain.SampleStatusPending {
		t.Fatalf("unknown sample status not reset: %s", sample.Status)
	}
	coa, _ := store.GetCOA("c1")
	if coa.Status != domain.StatusDraft {
		t.Fatalf("unknown coa status not reset: %s", coa.Status)
	}
	unit, _ := store.GetUnit("u1")
	if unit.SampleIndexes == nil {
		t.Fatalf("nil sample indexes not normalized")
	}
}

func TestCommittedReadsAreIsolatedCopies(t *testing.T) {
	store := NewStore(nil)
	_, unit := seedSampleAndUnit(t, store)

	got, _ := store.GetUnit(unit.ID)
	got.SampleIndexes["Total Count"][0] = "TAMPERED"

	again, _ := store.GetUnit(unit.ID)
	if again.SampleIndexes["Total Count"][0] != "H1" {
		t.Fatalf("caller mutation leaked into committed state")
	}
}
