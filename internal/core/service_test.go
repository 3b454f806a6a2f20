package core

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	blobcore "coacore/internal/blob/core"
	"coacore/internal/identity"
	fsblob "coacore/internal/infra/blob/fs"
	"coacore/internal/refdata"
	"coacore/pkg/domain"
)

type auditRecorderStub struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (r *auditRecorderStub) Record(_ context.Context, entry AuditEntry) {
	r.mu.Lock()
	r.entries = append(r.entries, entry)
	r.mu.Unlock()
}

func (r *auditRecorderStub) byOperation(op string) []AuditEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []AuditEntry
	for _, e := range r.entries {
		if e.Operation == op {
			out = append(out, e)
		}
	}
	return out
}

type malformedSource struct{}

func (malformedSource) Terms(_ context.Context, vocabulary string) ([]string, error) {
	return nil, refdata.MalformedError{Vocabulary: vocabulary, Err: errors.New("terms is not an array")}
}

func newTestService(t *testing.T, opts ...Option) (*Service, Sample, Unit) {
	t.Helper()
	svc := NewInMemoryService(NewDefaultRulesEngine(), opts...)
	ctx := context.Background()

	sample, _, err := svc.RegisterSample(ctx, Sample{
		Code:         "S-2025-014",
		Year:         2025,
		DateReceived: time.Date(2025, time.March, 4, 0, 0, 0, 0, time.UTC),
		Company:      "Delta Poultry",
		Farm:         "North Farm",
	})
	if err != nil {
		t.Fatalf("register sample: %v", err)
	}

	unit, _, err := svc.RegisterUnit(ctx, Unit{
		Code:       "MIC25-7",
		SampleID:   sample.ID,
		ReceivedAt: time.Date(2025, time.March, 4, 0, 0, 0, 0, time.UTC),
		Assays:     []string{"Total Count", "Salmonella spp."},
		SampleIndexes: map[string][]string{
			"Total Count":     {"H1", "H2"},
			"Salmonella spp.": {"H1"},
		},
	})
	if err != nil {
		t.Fatalf("register unit: %v", err)
	}
	return svc, sample, unit
}

func validDraft() COA {
	draft := COA{
		TestMethods: map[string]string{"Total Count": "ISO 4833-1"},
		DateTested:  "2025-03-06",
		TestedBy:    "N. Farouk",
	}
	draft.SetResult("Total Count", "H1", domain.ResultCell{Value: "850", Mould: "120", Fungi: "90"})
	draft.SetResult("Total Count", "H2", domain.ResultCell{Value: "6453", Mould: "0", Fungi: "0"})
	draft.SetResult("Salmonella spp.", "H1", domain.ResultCell{Value: "Not Detected"})
	return draft
}

func TestSaveCOATechnicianLeavesPendingApproval(t *testing.T) {
	svc, sample, unit := newTestService(t)
	ctx := context.Background()

	saved, _, err := svc.SaveCOA(ctx, Actor{Name: "tech", Role: domain.RoleTechnician}, unit.ID, validDraft())
	if err != nil {
		t.Fatalf("save coa: %v", err)
	}
	if saved.Status != domain.StatusPendingApproval {
		t.Fatalf("technician save status = %s, want pending_approval", saved.Status)
	}

	gotUnit, ok := svc.Store().GetUnit(unit.ID)
	if !ok {
		t.Fatalf("unit vanished")
	}
	if gotUnit.COAStatus != domain.UnitCOACreated {
		t.Fatalf("unit coa_status = %q, want created", gotUnit.COAStatus)
	}
	if gotUnit.LastEditedBy != "tech" {
		t.Fatalf("unit last_edited_by = %q", gotUnit.LastEditedBy)
	}

	gotSample, _ := svc.Store().GetSample(sample.ID)
	if gotSample.Status != domain.SampleStatusPending {
		t.Fatalf("sample status = %s, technician save must not complete it", gotSample.Status)
	}
}

func TestSaveCOAAdminCompletesAndPropagates(t *testing.T) {
	svc, sample, unit := newTestService(t)
	ctx := context.Background()

	saved, _, err := svc.SaveCOA(ctx, Actor{Name: "boss", Role: domain.RoleAdmin}, unit.ID, validDraft())
	if err != nil {
		t.Fatalf("save coa: %v", err)
	}
	if saved.Status != domain.StatusCompleted {
		t.Fatalf("admin save status = %s, want completed", saved.Status)
	}
	if saved.TestReportNumbers["Salmonella spp."] != "SALM25-7" {
		t.Fatalf("report codes not derived on save: %v", saved.TestReportNumbers)
	}

	gotUnit, _ := svc.Store().GetUnit(unit.ID)
	if gotUnit.COAStatus != domain.UnitCOAFinalized {
		t.Fatalf("unit coa_status = %q, want finalized", gotUnit.COAStatus)
	}
	gotSample, _ := svc.Store().GetSample(sample.ID)
	if gotSample.Status != domain.SampleStatusCompleted {
		t.Fatalf("sample status = %s, want completed", gotSample.Status)
	}
}

func TestSaveCOAUnknownUnit(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, _, err := svc.SaveCOA(context.Background(), Actor{Role: domain.RoleAdmin}, "missing", validDraft())
	var nf ErrNotFound
	if !errors.As(err, &nf) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if nf.Entity != EntityUnit {
		t.Fatalf("not-found entity = %s", nf.Entity)
	}
}

func TestSaveCOARejectsUnregisteredAssayAndIndex(t *testing.T) {
	svc, _, unit := newTestService(t)

	draft := validDraft()
	draft.SetResult("Parasitology", "H1", domain.ResultCell{Value: "x"})
	draft.SetResult("Total Count", "H9", domain.ResultCell{Value: "x"})
	draft.HiddenIndexes = map[string][]string{"Total Count": {"H9"}}

	_, _, err := svc.SaveCOA(context.Background(), Actor{Role: domain.RoleAdmin}, unit.ID, draft)
	var ve domain.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(ve.Fields) < 3 {
		t.Fatalf("expected unregistered assay, index, and hidden-index failures, got %+v", ve.Fields)
	}
}

func TestSaveCOARequiresResultForEveryRegisteredPair(t *testing.T) {
	svc, _, unit := newTestService(t)
	ctx := context.Background()

	empty := COA{DateTested: "2025-03-06", TestedBy: "N. Farouk"}
	_, _, err := svc.SaveCOA(ctx, Actor{Name: "tech", Role: domain.RoleTechnician}, unit.ID, empty)
	var ve domain.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("empty draft accepted: %v", err)
	}
	// Every registered (assay, index) pair must be reported missing.
	missing := 0
	for _, f := range ve.Fields {
		if f.Field == "test_results" && strings.Contains(f.Message, "has no result") {
			missing++
		}
	}
	if missing != 3 {
		t.Fatalf("expected 3 missing-result failures, got %d: %+v", missing, ve.Fields)
	}
	if _, ok := svc.Store().GetCOAByUnit(unit.ID); ok {
		t.Fatalf("certificate persisted despite missing results")
	}
}

func TestSaveCOARequiresEveryRequiredChannel(t *testing.T) {
	svc, _, unit := newTestService(t)

	draft := validDraft()
	// Total-count rows require value, mould, and fungi.
	draft.SetResult("Total Count", "H1", domain.ResultCell{Value: "850", Mould: "120"})

	_, _, err := svc.SaveCOA(context.Background(), Actor{Role: domain.RoleAdmin}, unit.ID, draft)
	var ve domain.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("partial cell accepted: %v", err)
	}
	found := false
	for _, f := range ve.Fields {
		if f.Field == "test_results" && strings.Contains(f.Message, "missing fungi") {
			found = true
		}
	}
	if !found {
		t.Fatalf("missing-channel failure not reported: %+v", ve.Fields)
	}
}

func TestValidateRequiresDateTestedAndTestedBy(t *testing.T) {
	svc, _, unit := newTestService(t)
	u, _ := svc.Store().GetUnit(unit.ID)

	err := svc.Validate(u, COA{})
	var ve domain.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	missing := map[string]bool{}
	for _, f := range ve.Fields {
		missing[f.Field] = true
	}
	if !missing["date_tested"] || !missing["tested_by"] {
		t.Fatalf("missing required-field errors: %+v", ve.Fields)
	}
}

func TestCompletedCertificateBlocksContentChanges(t *testing.T) {
	svc, _, unit := newTestService(t)
	ctx := context.Background()
	admin := Actor{Name: "boss", Role: domain.RoleAdmin}

	if _, _, err := svc.SaveCOA(ctx, admin, unit.ID, validDraft()); err != nil {
		t.Fatalf("initial save: %v", err)
	}

	changed := validDraft()
	changed.Notes = "amended after release"
	_, _, err := svc.SaveCOA(ctx, admin, unit.ID, changed)
	var rve domain.RuleViolationError
	if !errors.As(err, &rve) {
		t.Fatalf("expected RuleViolationError, got %v", err)
	}
	if len(rve.Result.Violations) == 0 || rve.Result.Violations[0].Rule != "coa_status_transition" {
		t.Fatalf("unexpected violations: %+v", rve.Result.Violations)
	}
}

func TestCompletedCertificateToleratesIdenticalResave(t *testing.T) {
	svc, _, unit := newTestService(t)
	ctx := context.Background()
	admin := Actor{Name: "boss", Role: domain.RoleAdmin}

	if _, _, err := svc.SaveCOA(ctx, admin, unit.ID, validDraft()); err != nil {
		t.Fatalf("initial save: %v", err)
	}
	if _, _, err := svc.SaveCOA(ctx, admin, unit.ID, validDraft()); err != nil {
		t.Fatalf("idempotent re-save rejected: %v", err)
	}
}

func TestPostponeCOARequiresReason(t *testing.T) {
	svc, _, unit := newTestService(t)
	_, _, err := svc.PostponeCOA(context.Background(), Actor{Role: domain.RoleTechnician}, unit.ID, "")
	var ve domain.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(ve.Fields) != 1 || ve.Fields[0].Field != "notes" {
		t.Fatalf("unexpected fields: %+v", ve.Fields)
	}
}

func TestPostponeCOAPropagatesToSample(t *testing.T) {
	svc, sample, unit := newTestService(t)
	ctx := context.Background()

	postponed, _, err := svc.PostponeCOA(ctx, Actor{Name: "tech", Role: domain.RoleTechnician}, unit.ID, "awaiting confirmation run")
	if err != nil {
		t.Fatalf("postpone: %v", err)
	}
	if postponed.Status != domain.StatusPostponed || postponed.Notes != "awaiting confirmation run" {
		t.Fatalf("postponed coa = %+v", postponed)
	}

	gotSample, _ := svc.Store().GetSample(sample.ID)
	if gotSample.Status != domain.SampleStatusPostponed {
		t.Fatalf("sample status = %s, want postponed", gotSample.Status)
	}
}

func TestPostponedCertificateArchivesNoteOnCompletion(t *testing.T) {
	audit := &auditRecorderStub{}
	svc, _, unit := newTestService(t, WithAuditRecorder(audit))
	ctx := context.Background()

	reason := "awaiting confirmation run"
	if _, _, err := svc.PostponeCOA(ctx, Actor{Name: "tech", Role: domain.RoleTechnician}, unit.ID, reason); err != nil {
		t.Fatalf("postpone: %v", err)
	}

	saved, _, err := svc.SaveCOA(ctx, Actor{Name: "boss", Role: domain.RoleAdmin}, unit.ID, validDraft())
	if err != nil {
		t.Fatalf("complete after postpone: %v", err)
	}
	if saved.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, postponed certificates must be completable", saved.Status)
	}

	archived := audit.byOperation("archive_postpone_note")
	if len(archived) != 1 {
		t.Fatalf("expected one archive entry, got %d", len(archived))
	}
	if archived[0].Detail != reason {
		t.Fatalf("archived note = %q, want %q", archived[0].Detail, reason)
	}
	if archived[0].Actor != "boss" {
		t.Fatalf("archive actor = %q", archived[0].Actor)
	}
}

func TestSaveCOAAuditsHiddenIndexChanges(t *testing.T) {
	audit := &auditRecorderStub{}
	svc, _, unit := newTestService(t, WithAuditRecorder(audit))
	ctx := context.Background()
	tech := Actor{Name: "tech", Role: domain.RoleTechnician}

	if _, _, err := svc.SaveCOA(ctx, tech, unit.ID, validDraft()); err != nil {
		t.Fatalf("initial save: %v", err)
	}
	if got := audit.byOperation("hide_indexes"); len(got) != 0 {
		t.Fatalf("hidden-index entries without hidden indexes: %+v", got)
	}

	hidden := validDraft()
	hidden.HiddenIndexes = map[string][]string{"Total Count": {"H2"}}
	if _, _, err := svc.SaveCOA(ctx, tech, unit.ID, hidden); err != nil {
		t.Fatalf("save with hidden index: %v", err)
	}

	entries := audit.byOperation("hide_indexes")
	if len(entries) != 1 {
		t.Fatalf("expected one hidden-index entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Actor != "tech" || e.Entity != EntityCOA || e.Action != ActionUpdate {
		t.Fatalf("entry = %+v", e)
	}
	if !strings.Contains(e.Detail, "Total Count") || !strings.Contains(e.Detail, "H2") {
		t.Fatalf("detail = %q", e.Detail)
	}

	// Re-saving the same hidden set records no further history.
	if _, _, err := svc.SaveCOA(ctx, tech, unit.ID, hidden); err != nil {
		t.Fatalf("idempotent re-save: %v", err)
	}
	if got := audit.byOperation("hide_indexes"); len(got) != 1 {
		t.Fatalf("unchanged hidden set re-audited: %d entries", len(got))
	}

	// Unhiding is a change too.
	if _, _, err := svc.SaveCOA(ctx, tech, unit.ID, validDraft()); err != nil {
		t.Fatalf("unhide save: %v", err)
	}
	if got := audit.byOperation("hide_indexes"); len(got) != 2 {
		t.Fatalf("unhide not audited: %d entries", len(got))
	}
}

func TestGetCOARegeneratesStaleReportCodes(t *testing.T) {
	svc, _, unit := newTestService(t)
	ctx := context.Background()

	if _, _, err := svc.SaveCOA(ctx, Actor{Name: "tech", Role: domain.RoleTechnician}, unit.ID, validDraft()); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Corrupt the persisted cache directly; a read must never trust it.
	_, err := svc.Store().RunInTransaction(ctx, func(tx domain.Transaction) error {
		existing, _ := tx.FindCOAByUnit(unit.ID)
		_, err := tx.UpdateCOA(existing.ID, func(c *COA) error {
			c.TestReportNumbers = map[string]string{"Total Count": "STALE-1"}
			return nil
		})
		return err
	})
	if err != nil {
		t.Fatalf("corrupt cache: %v", err)
	}

	coa, _, err := svc.GetCOA(ctx, unit.ID)
	if err != nil {
		t.Fatalf("get coa: %v", err)
	}
	if coa.TestReportNumbers["Total Count"] != "COUNT25-7" {
		t.Fatalf("stale code survived read: %v", coa.TestReportNumbers)
	}
	if coa.TestReportNumbers["Salmonella spp."] != "SALM25-7" {
		t.Fatalf("missing regenerated code: %v", coa.TestReportNumbers)
	}
}

func TestSaveCOAEmitsAuditEntryWithFixedClock(t *testing.T) {
	audit := &auditRecorderStub{}
	fixed := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	svc, _, unit := newTestService(t,
		WithAuditRecorder(audit),
		WithClock(ClockFunc(func() time.Time { return fixed })),
	)

	if _, _, err := svc.SaveCOA(context.Background(), Actor{Name: "tech", Role: domain.RoleTechnician}, unit.ID, validDraft()); err != nil {
		t.Fatalf("save: %v", err)
	}

	entries := audit.byOperation("save_coa")
	if len(entries) != 1 {
		t.Fatalf("expected one save_coa audit entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Entity != EntityCOA || e.Action != ActionUpdate || e.Status != AuditStatusSuccess {
		t.Fatalf("audit entry = %+v", e)
	}
	if !e.Timestamp.Equal(fixed) {
		t.Fatalf("audit timestamp = %s, want fixed clock %s", e.Timestamp, fixed)
	}
	if e.EntityID != unit.ID {
		t.Fatalf("audit entity id = %q", e.EntityID)
	}
}

func TestComposeDocumentRendersEndToEnd(t *testing.T) {
	svc, _, unit := newTestService(t)
	ctx := context.Background()

	if _, _, err := svc.SaveCOA(ctx, Actor{Name: "tech", Role: domain.RoleTechnician}, unit.ID, validDraft()); err != nil {
		t.Fatalf("save: %v", err)
	}

	doc, err := svc.ComposeDocument(ctx, unit.ID)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if len(doc.Pages) != 2 {
		t.Fatalf("expected one page per assay, got %d", len(doc.Pages))
	}

	html, err := svc.RenderHTML(ctx, unit.ID)
	if err != nil {
		t.Fatalf("render html: %v", err)
	}
	if !strings.Contains(string(html), "COUNT25-7") || !strings.Contains(string(html), "SALM25-7") {
		t.Fatalf("rendered html missing report codes")
	}

	text, err := svc.RenderText(ctx, unit.ID)
	if err != nil {
		t.Fatalf("render text: %v", err)
	}
	if !strings.Contains(string(text), "MIC25-7") {
		t.Fatalf("rendered text missing unit code")
	}
}

func TestVocabularyDegradesWithoutSource(t *testing.T) {
	svc, _, _ := newTestService(t)
	terms, degraded, err := svc.Vocabulary(context.Background(), refdata.VocabIsolationTypes)
	if err != nil || !degraded || terms != nil {
		t.Fatalf("absent source: terms=%v degraded=%v err=%v", terms, degraded, err)
	}
}

func TestVocabularyDegradesOnMalformedPayload(t *testing.T) {
	svc, _, _ := newTestService(t, WithReferenceData(malformedSource{}))
	terms, degraded, err := svc.Vocabulary(context.Background(), refdata.VocabFungalSpecies)
	if err != nil || !degraded || terms != nil {
		t.Fatalf("malformed source: terms=%v degraded=%v err=%v", terms, degraded, err)
	}
}

func TestVocabularyServesStaticTerms(t *testing.T) {
	source := refdata.NewStaticSource(map[string][]string{
		refdata.VocabIsolationTypes: {"E. coli", "Proteus"},
	})
	svc, _, _ := newTestService(t, WithReferenceData(source))

	terms, degraded, err := svc.Vocabulary(context.Background(), refdata.VocabIsolationTypes)
	if err != nil || degraded {
		t.Fatalf("static source: degraded=%v err=%v", degraded, err)
	}
	if len(terms) != 2 || terms[0] != "E. coli" {
		t.Fatalf("terms = %v", terms)
	}
}

func TestBindSignature(t *testing.T) {
	verifier := identity.NewMemoryVerifier(map[string]identity.Verification{
		"4321": {Name: "Dr. Huda", SignatureImage: "signatures/huda.png"},
	})
	fixed := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	svc, _, unit := newTestService(t,
		WithIdentityVerifier(verifier),
		WithClock(ClockFunc(func() time.Time { return fixed })),
	)
	ctx := context.Background()

	if _, _, err := svc.SaveCOA(ctx, Actor{Name: "tech", Role: domain.RoleTechnician}, unit.ID, validDraft()); err != nil {
		t.Fatalf("save: %v", err)
	}

	bound, err := svc.BindSignature(ctx, unit.ID, "lab_supervisor", "4321")
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	sig, ok := bound.Signatures["lab_supervisor"]
	if !ok {
		t.Fatalf("no binding recorded: %+v", bound.Signatures)
	}
	if sig.Name != "Dr. Huda" || sig.ImageKey != "signatures/huda.png" || !sig.BoundAt.Equal(fixed) {
		t.Fatalf("binding = %+v", sig)
	}
	if bound.LabSupervisor != "Dr. Huda" {
		t.Fatalf("lab_supervisor name = %q", bound.LabSupervisor)
	}

	if _, err := svc.BindSignature(ctx, unit.ID, "janitor", "4321"); err == nil {
		t.Fatalf("unknown slot accepted")
	}
	if _, err := svc.BindSignature(ctx, unit.ID, "tested_by", "9999"); !errors.Is(err, identity.ErrInvalidPIN) {
		t.Fatalf("expected ErrInvalidPIN, got %v", err)
	}
}

func TestUploadSignatureImage(t *testing.T) {
	blobs := newBlobFS(t)
	svc, _, _ := newTestService(t, WithSignatureStore(blobs))
	ctx := context.Background()

	key, err := svc.UploadSignatureImage(ctx, "huda", strings.NewReader("png-bytes"), "image/png")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if !strings.HasPrefix(key, "signatures/huda-") {
		t.Fatalf("key = %q", key)
	}

	// Re-uploading under the same signer yields a distinct key.
	again, err := svc.UploadSignatureImage(ctx, "huda", strings.NewReader("png-bytes"), "image/png")
	if err != nil {
		t.Fatalf("second upload: %v", err)
	}
	if again == key {
		t.Fatalf("upload keys collided: %q", key)
	}

	url, err := svc.SignatureImageURL(ctx, key)
	if err != nil {
		t.Fatalf("signature url: %v", err)
	}
	if !strings.Contains(url, "huda-") {
		t.Fatalf("url = %q", url)
	}
}

func newBlobFS(t *testing.T) blobcore.Store {
	t.Helper()
	store, err := fsblob.New(t.TempDir())
	if err != nil {
		t.Fatalf("blob store: %v", err)
	}
	return store
}
