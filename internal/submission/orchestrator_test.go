package submission

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/clinicware/anamnesis-platform/internal/anamnesis"
	"github.com/clinicware/anamnesis-platform/internal/formsession"
	"github.com/clinicware/anamnesis-platform/internal/formstate"
	"github.com/clinicware/anamnesis-platform/internal/identity"
	"github.com/clinicware/anamnesis-platform/internal/protocol"
	"github.com/clinicware/anamnesis-platform/internal/tenancy"
	"github.com/clinicware/anamnesis-platform/pkg/logging"
)

type stubGenerator struct {
	mu      sync.Mutex
	result  protocol.Result
	err     error
	calls   int
	started chan struct{}
	block   chan struct{}
}

func (g *stubGenerator) Generate(_ context.Context, _ protocol.Request) (protocol.Result, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	if g.started != nil {
		close(g.started)
		g.started = nil
	}
	if g.block != nil {
		<-g.block
	}
	if g.err != nil {
		return protocol.Result{}, g.err
	}
	return g.result, nil
}

type failingCreateRepo struct {
	anamnesis.Repository
}

func (r *failingCreateRepo) Create(_ context.Context, _ *anamnesis.CreateRecordRequest) (*anamnesis.Record, error) {
	return nil, errors.New("database unavailable")
}

type fixture struct {
	orchestrator *Orchestrator
	aggregator   *formsession.Aggregator
	repo         *anamnesis.InMemoryRepository
	generator    *stubGenerator
	scope        formsession.Scope
}

func newFixture(t *testing.T, repo anamnesis.Repository, generator *stubGenerator, opts ...Option) *fixture {
	t.Helper()

	logger := logging.New("error")
	slots := formstate.NewMemorySlotStore()
	aggregator := formsession.NewAggregator(slots, "anamnesis", logger)

	resolver := identity.NewStaticResolver()
	resolver.Add("user-1", tenancy.TenantContext{ClinicID: "clinic-1", ProfessionalID: "prof-1"})

	memRepo, _ := repo.(*anamnesis.InMemoryRepository)

	return &fixture{
		orchestrator: NewOrchestrator(resolver, repo, generator, aggregator, logger, opts...),
		aggregator:   aggregator,
		repo:         memRepo,
		generator:    generator,
		scope:        formsession.Scope{ClinicID: "clinic-1", ProfessionalID: "prof-1", SessionID: "sess-1"},
	}
}

func (f *fixture) fillSession(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	sections := map[string]string{
		formsession.SectionPatient:    `{"mode":"manual","name":"Ana Silva","age":34}`,
		formsession.SectionAssessment: `{"type":"facial","main_complaint":"flacidez facial","treatment_objective":"firmeza"}`,
		formsession.SectionLifestyle:  `{"smoker":false,"sun_exposure":"diária"}`,
		formsession.SectionResources:  `{"mode":"manual","manual_text":"LED + sérum"}`,
	}
	for section, payload := range sections {
		if err := f.aggregator.UpdateSection(ctx, f.scope, section, json.RawMessage(payload)); err != nil {
			t.Fatalf("seed section %s: %v", section, err)
		}
	}
}

func TestSubmitEndToEnd(t *testing.T) {
	repo := anamnesis.NewInMemoryRepository()
	generator := &stubGenerator{result: protocol.Result{Protocol: "Protocolo: LED 10 sessões + sérum diário", Model: "gemini-2.5-flash"}}
	f := newFixture(t, repo, generator)
	f.fillSession(t)
	ctx := context.Background()

	outcome, err := f.orchestrator.Submit(ctx, "user-1", "sess-1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if outcome.State != StateDone {
		t.Fatalf("expected Done, got %s (error %q)", outcome.State, outcome.Error)
	}
	if len(outcome.Warnings) != 0 {
		t.Fatalf("expected clean run, warnings: %v", outcome.Warnings)
	}

	if repo.Len() != 1 {
		t.Fatalf("expected exactly one record, got %d", repo.Len())
	}
	record := outcome.Record
	if record.PatientName != "Ana Silva" || record.PatientAge != 34 {
		t.Fatalf("manual patient fields lost: %+v", record)
	}
	if record.PatientID != nil {
		t.Fatal("manual mode must not reference a stored patient")
	}
	if record.MainComplaint != "flacidez facial" || record.Objective != "firmeza" {
		t.Fatalf("assessment fields lost: %+v", record)
	}
	if record.AIProtocol == nil || record.AIModel == nil {
		t.Fatal("expected enrichment fields on the record")
	}
	if *record.AIModel != "gemini-2.5-flash" {
		t.Fatalf("unexpected model: %s", *record.AIModel)
	}

	var sections map[string]json.RawMessage
	if err := json.Unmarshal(record.Sections, &sections); err != nil {
		t.Fatalf("sections payload: %v", err)
	}
	var resources formsession.ResourceSelection
	if err := json.Unmarshal(sections["resources"], &resources); err != nil {
		t.Fatalf("resources payload: %v", err)
	}
	if resources.Mode != formsession.ResourceModeManual || resources.ManualText != "LED + sérum" {
		t.Fatalf("resource selection lost: %+v", resources)
	}

	after, err := f.aggregator.Snapshot(ctx, f.scope)
	if err != nil {
		t.Fatalf("snapshot after submit: %v", err)
	}
	if !reflect.DeepEqual(after, formsession.Empty()) {
		t.Fatalf("session must equal its empty default after Done, got %+v", after)
	}
}

func TestSubmitEnrichmentFailureIsNonFatal(t *testing.T) {
	repo := anamnesis.NewInMemoryRepository()
	generator := &stubGenerator{err: errors.New("provider unavailable")}
	f := newFixture(t, repo, generator)
	f.fillSession(t)
	ctx := context.Background()

	outcome, err := f.orchestrator.Submit(ctx, "user-1", "sess-1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if outcome.State != StateDone {
		t.Fatalf("enrichment failure must still reach Done, got %s", outcome.State)
	}
	if len(outcome.Warnings) != 1 {
		t.Fatalf("expected one warning, got %v", outcome.Warnings)
	}

	if repo.Len() != 1 {
		t.Fatalf("expected the primary record to exist, got %d", repo.Len())
	}
	record, err := repo.GetByID(ctx, "clinic-1", outcome.Record.ID)
	if err != nil {
		t.Fatalf("reload record: %v", err)
	}
	if record.AIProtocol != nil || record.AIModel != nil || record.EnrichedAt != nil {
		t.Fatal("no enrichment fields may be patched when enrichment fails")
	}
}

func TestSubmitPersistenceFailureIsFatalAndPreservesSession(t *testing.T) {
	repo := anamnesis.NewInMemoryRepository()
	generator := &stubGenerator{result: protocol.Result{Protocol: "x", Model: "y"}}
	f := newFixture(t, &failingCreateRepo{Repository: repo}, generator)
	f.fillSession(t)
	ctx := context.Background()

	before, err := f.aggregator.Snapshot(ctx, f.scope)
	if err != nil {
		t.Fatalf("snapshot before submit: %v", err)
	}

	outcome, err := f.orchestrator.Submit(ctx, "user-1", "sess-1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if outcome.State != StateError {
		t.Fatalf("expected Error, got %s", outcome.State)
	}
	if outcome.FailedAt != StatePersistingPrimary {
		t.Fatalf("expected failure at persistence, got %s", outcome.FailedAt)
	}
	if repo.Len() != 0 {
		t.Fatalf("nothing may be persisted on a fatal failure, got %d records", repo.Len())
	}
	generator.mu.Lock()
	calls := generator.calls
	generator.mu.Unlock()
	if calls != 0 {
		t.Fatal("enrichment must not run after a fatal persistence failure")
	}

	after, err := f.aggregator.Snapshot(ctx, f.scope)
	if err != nil {
		t.Fatalf("snapshot after submit: %v", err)
	}
	if !reflect.DeepEqual(before, after) {
		t.Fatal("the form session must be left intact for retry")
	}
}

func TestSubmitValidationFailuresAreReportedPerField(t *testing.T) {
	repo := anamnesis.NewInMemoryRepository()
	generator := &stubGenerator{result: protocol.Result{Protocol: "x", Model: "y"}}
	f := newFixture(t, repo, generator)
	ctx := context.Background()

	// Patient present, but the assessment is missing both required fields.
	if err := f.aggregator.UpdateSection(ctx, f.scope, formsession.SectionPatient,
		json.RawMessage(`{"mode":"manual","name":"Ana Silva","age":34}`)); err != nil {
		t.Fatalf("seed patient: %v", err)
	}

	outcome, err := f.orchestrator.Submit(ctx, "user-1", "sess-1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if outcome.State != StateIdle {
		t.Fatalf("validation failure must return to Idle, got %s", outcome.State)
	}
	if len(outcome.FieldErrors) != 2 {
		t.Fatalf("expected two field errors, got %+v", outcome.FieldErrors)
	}
	fields := map[string]bool{}
	for _, fe := range outcome.FieldErrors {
		fields[fe.Field] = true
	}
	if !fields["assessment.main_complaint"] || !fields["assessment.treatment_objective"] {
		t.Fatalf("unexpected field errors: %+v", outcome.FieldErrors)
	}
	if repo.Len() != 0 {
		t.Fatal("validation failures must never reach the store")
	}
}

func TestSubmitUnresolvedTenantIsFatal(t *testing.T) {
	repo := anamnesis.NewInMemoryRepository()
	generator := &stubGenerator{result: protocol.Result{Protocol: "x", Model: "y"}}
	f := newFixture(t, repo, generator)
	f.fillSession(t)

	outcome, err := f.orchestrator.Submit(context.Background(), "stranger", "sess-1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if outcome.State != StateError || outcome.FailedAt != StateResolvingTenant {
		t.Fatalf("expected fatal tenant failure, got %+v", outcome)
	}
	if repo.Len() != 0 {
		t.Fatal("nothing may be persisted without a tenant")
	}
}

func TestSubmitSingleFlightPerSession(t *testing.T) {
	repo := anamnesis.NewInMemoryRepository()
	generator := &stubGenerator{
		result:  protocol.Result{Protocol: "x", Model: "y"},
		started: make(chan struct{}),
		block:   make(chan struct{}),
	}
	f := newFixture(t, repo, generator)
	f.fillSession(t)
	ctx := context.Background()

	started := generator.started
	firstDone := make(chan Outcome, 1)
	go func() {
		outcome, _ := f.orchestrator.Submit(ctx, "user-1", "sess-1")
		firstDone <- outcome
	}()

	<-started
	if _, err := f.orchestrator.Submit(ctx, "user-1", "sess-1"); !errors.Is(err, ErrSubmissionInFlight) {
		t.Fatalf("expected ErrSubmissionInFlight, got %v", err)
	}

	close(generator.block)
	outcome := <-firstDone
	if outcome.State != StateDone {
		t.Fatalf("first submit should complete, got %s", outcome.State)
	}

	// The guard is released once the run finishes; a later submit proceeds.
	if _, err := f.orchestrator.Submit(ctx, "user-1", "sess-1"); errors.Is(err, ErrSubmissionInFlight) {
		t.Fatal("guard must be released after the run completes")
	}
}

func TestObserverSeesTransitions(t *testing.T) {
	repo := anamnesis.NewInMemoryRepository()
	generator := &stubGenerator{result: protocol.Result{Protocol: "x", Model: "y"}}

	var mu sync.Mutex
	var states []State
	observer := ObserverFunc(func(_ string, _, to State) {
		mu.Lock()
		states = append(states, to)
		mu.Unlock()
	})

	logger := logging.New("error")
	slots := formstate.NewMemorySlotStore()
	aggregator := formsession.NewAggregator(slots, "anamnesis", logger)
	resolver := identity.NewStaticResolver()
	resolver.Add("user-1", tenancy.TenantContext{ClinicID: "clinic-1", ProfessionalID: "prof-1"})
	orchestrator := NewOrchestrator(resolver, repo, generator, aggregator, logger, WithObserver(observer))

	scope := formsession.Scope{ClinicID: "clinic-1", ProfessionalID: "prof-1", SessionID: "sess-1"}
	ctx := context.Background()
	for section, payload := range map[string]string{
		formsession.SectionPatient:    `{"mode":"manual","name":"Ana Silva","age":34}`,
		formsession.SectionAssessment: `{"type":"facial","main_complaint":"flacidez facial","treatment_objective":"firmeza"}`,
	} {
		if err := aggregator.UpdateSection(ctx, scope, section, json.RawMessage(payload)); err != nil {
			t.Fatalf("seed %s: %v", section, err)
		}
	}

	if _, err := orchestrator.Submit(ctx, "user-1", "sess-1"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	want := []State{StateResolvingTenant, StateValidating, StatePersistingPrimary, StateRequestingEnrichment, StatePatchingPrimary, StateDone}
	mu.Lock()
	defer mu.Unlock()
	if !reflect.DeepEqual(states, want) {
		t.Fatalf("unexpected transition order:\nwant %v\ngot  %v", want, states)
	}
}

type recordingArchiver struct {
	mu      sync.Mutex
	records []*anamnesis.Record
	err     error
}

func (a *recordingArchiver) ArchiveRecord(_ context.Context, record *anamnesis.Record) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, record)
	return a.err
}

func TestSubmitExportsRecordToArchive(t *testing.T) {
	repo := anamnesis.NewInMemoryRepository()
	generator := &stubGenerator{result: protocol.Result{Protocol: "Protocolo", Model: "stub"}}
	archiver := &recordingArchiver{}
	f := newFixture(t, repo, generator, WithArchiver(archiver))
	f.fillSession(t)

	outcome, err := f.orchestrator.Submit(context.Background(), "user-1", "sess-1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if outcome.State != StateDone {
		t.Fatalf("expected Done, got %s", outcome.State)
	}

	archiver.mu.Lock()
	defer archiver.mu.Unlock()
	if len(archiver.records) != 1 {
		t.Fatalf("expected one archived record, got %d", len(archiver.records))
	}
	if archiver.records[0].ID != outcome.Record.ID {
		t.Fatal("archived record does not match the persisted one")
	}
}

func TestSubmitArchiveFailureIsSilent(t *testing.T) {
	repo := anamnesis.NewInMemoryRepository()
	generator := &stubGenerator{result: protocol.Result{Protocol: "Protocolo", Model: "stub"}}
	archiver := &recordingArchiver{err: errors.New("bucket unreachable")}
	f := newFixture(t, repo, generator, WithArchiver(archiver))
	f.fillSession(t)

	outcome, err := f.orchestrator.Submit(context.Background(), "user-1", "sess-1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if outcome.State != StateDone {
		t.Fatalf("archive failure must not change the outcome, got %s", outcome.State)
	}
	if len(outcome.Warnings) != 0 {
		t.Fatalf("archive failure must not surface as a warning: %v", outcome.Warnings)
	}
}

func TestSubmitEditUpdatesExistingRecord(t *testing.T) {
	repo := anamnesis.NewInMemoryRepository()
	generator := &stubGenerator{result: protocol.Result{Protocol: "Protocolo", Model: "stub"}}
	f := newFixture(t, repo, generator)
	ctx := context.Background()

	existing, err := repo.Create(ctx, &anamnesis.CreateRecordRequest{
		ClinicID:       "clinic-1",
		ProfessionalID: "prof-1",
		AssessmentType: "facial",
		MainComplaint:  "linhas de expressão",
		Objective:      "suavizar",
		PatientName:    "Ana Silva",
		PatientAge:     34,
	})
	if err != nil {
		t.Fatalf("create existing record: %v", err)
	}

	f.fillSession(t)
	if err := f.aggregator.SetOriginRecord(ctx, f.scope, existing.ID); err != nil {
		t.Fatalf("mark edit origin: %v", err)
	}

	outcome, err := f.orchestrator.Submit(ctx, "user-1", "sess-1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if outcome.State != StateDone {
		t.Fatalf("expected Done, got %s (%s)", outcome.State, outcome.Error)
	}
	if outcome.Record.ID != existing.ID {
		t.Fatalf("edit must update record %s, got new record %s", existing.ID, outcome.Record.ID)
	}
	if outcome.Record.MainComplaint != "flacidez facial" {
		t.Fatalf("record fields not updated: %q", outcome.Record.MainComplaint)
	}
	if repo.Len() != 1 {
		t.Fatalf("edit must not create a second record, repo holds %d", repo.Len())
	}
	if generator.calls != 0 {
		t.Fatalf("edits must not trigger enrichment, generator called %d times", generator.calls)
	}
	if origin := f.aggregator.OriginRecord(ctx, f.scope); origin != "" {
		t.Fatalf("origin mark must be cleared after submit, got %q", origin)
	}
}

func TestSubmitEditMissingRecordIsFatal(t *testing.T) {
	repo := anamnesis.NewInMemoryRepository()
	generator := &stubGenerator{result: protocol.Result{Protocol: "Protocolo", Model: "stub"}}
	f := newFixture(t, repo, generator)
	ctx := context.Background()

	f.fillSession(t)
	if err := f.aggregator.SetOriginRecord(ctx, f.scope, "rec-gone"); err != nil {
		t.Fatalf("mark edit origin: %v", err)
	}

	outcome, err := f.orchestrator.Submit(ctx, "user-1", "sess-1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !outcome.Fatal() || outcome.FailedAt != StatePersistingPrimary {
		t.Fatalf("expected fatal persistence failure, got %s at %s", outcome.State, outcome.FailedAt)
	}
	if origin := f.aggregator.OriginRecord(ctx, f.scope); origin != "rec-gone" {
		t.Fatalf("fatal submit must leave the session intact, origin = %q", origin)
	}
}
