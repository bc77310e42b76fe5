// Package submission drives the dependent-record submission flow: resolve
// the tenant, validate the form session, persist the primary record, request
// AI enrichment, and patch the record — in that order, each step depending
// on the previous one.
package submission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/clinicware/anamnesis-platform/internal/anamnesis"
	"github.com/clinicware/anamnesis-platform/internal/formsession"
	"github.com/clinicware/anamnesis-platform/internal/identity"
	"github.com/clinicware/anamnesis-platform/internal/protocol"
	"github.com/clinicware/anamnesis-platform/pkg/logging"
)

// State names the steps of the submission machine.
type State string

const (
	StateIdle                 State = "idle"
	StateResolvingTenant      State = "resolving_tenant"
	StateValidating           State = "validating"
	StatePersistingPrimary    State = "persisting_primary"
	StateRequestingEnrichment State = "requesting_enrichment"
	StatePatchingPrimary      State = "patching_primary"
	StateDone                 State = "done"
	StateError                State = "error"
)

// ErrSubmissionInFlight is returned when a second submit arrives for a
// session whose previous submit has not finished.
var ErrSubmissionInFlight = errors.New("submission: already in flight for this session")

// FieldError reports a single validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Outcome is the terminal result of one submission run.
type Outcome struct {
	State       State             `json:"state"`
	Record      *anamnesis.Record `json:"record,omitempty"`
	FieldErrors []FieldError      `json:"field_errors,omitempty"`
	Warnings    []string          `json:"warnings,omitempty"`
	// FailedAt names the step that produced a fatal error.
	FailedAt State  `json:"failed_at,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Fatal reports whether the run ended in the Error state.
func (o Outcome) Fatal() bool { return o.State == StateError }

// Observer is notified of every state transition. Used for metrics and
// event streaming; optional.
type Observer interface {
	SubmissionTransition(sessionID string, from, to State)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(sessionID string, from, to State)

func (f ObserverFunc) SubmissionTransition(sessionID string, from, to State) {
	f(sessionID, from, to)
}

// Orchestrator owns the submission state machine. Each session gets its own
// single-flight guard held by this instance; there is no process-wide state.
// Archiver exports finished records to long-term storage. Export is best
// effort and never affects the submission outcome.
type Archiver interface {
	ArchiveRecord(ctx context.Context, record *anamnesis.Record) error
}

type Orchestrator struct {
	resolver   identity.Resolver
	repo       anamnesis.Repository
	generator  protocol.Generator
	aggregator *formsession.Aggregator
	observer   Observer
	archiver   Archiver
	logger     *logging.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// Option customizes the orchestrator.
type Option func(*Orchestrator)

// WithObserver wires a transition observer.
func WithObserver(o Observer) Option {
	return func(orc *Orchestrator) { orc.observer = o }
}

// WithArchiver exports every persisted record after a successful run.
func WithArchiver(a Archiver) Option {
	return func(orc *Orchestrator) { orc.archiver = a }
}

func NewOrchestrator(resolver identity.Resolver, repo anamnesis.Repository, generator protocol.Generator, aggregator *formsession.Aggregator, logger *logging.Logger, opts ...Option) *Orchestrator {
	if resolver == nil {
		panic("submission: tenant resolver cannot be nil")
	}
	if repo == nil {
		panic("submission: record repository cannot be nil")
	}
	if generator == nil {
		panic("submission: enrichment generator cannot be nil")
	}
	if aggregator == nil {
		panic("submission: form session aggregator cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	orc := &Orchestrator{
		resolver:   resolver,
		repo:       repo,
		generator:  generator,
		aggregator: aggregator,
		logger:     logger,
		inFlight:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(orc)
	}
	return orc
}

type run struct {
	orc       *Orchestrator
	sessionID string
	state     State
}

func (r *run) transition(to State) {
	if r.orc.observer != nil {
		r.orc.observer.SubmissionTransition(r.sessionID, r.state, to)
	}
	r.state = to
}

// Submit runs the full machine for one session. The acting user is resolved
// to a tenant first; every later step is scoped to that tenant. A session
// seeded from an edit handoff updates its origin record and skips
// enrichment; any other session creates a new record. A fatal step leaves
// the form session untouched so the professional can retry without
// re-entering data; only Done resets it.
//
// There are no automatic retries and no orchestrator-imposed timeouts:
// retrying after a fatal persistence failure may create a duplicate record.
func (o *Orchestrator) Submit(ctx context.Context, userID, sessionID string) (Outcome, error) {
	if !o.acquire(sessionID) {
		return Outcome{}, ErrSubmissionInFlight
	}
	defer o.release(sessionID)

	r := &run{orc: o, sessionID: sessionID, state: StateIdle}

	// ResolvingTenant
	r.transition(StateResolvingTenant)
	tenant, found, err := o.resolver.Resolve(ctx, userID)
	if err != nil {
		return o.fatal(r, StateResolvingTenant, fmt.Errorf("tenant resolution failed: %w", err)), nil
	}
	if !found {
		return o.fatal(r, StateResolvingTenant, errors.New("user has no clinic membership")), nil
	}

	scope := formsession.Scope{
		ClinicID:       tenant.ClinicID,
		ProfessionalID: tenant.ProfessionalID,
		SessionID:      sessionID,
	}

	// Validating
	r.transition(StateValidating)
	session, err := o.aggregator.Snapshot(ctx, scope)
	if err != nil {
		return o.fatal(r, StateValidating, fmt.Errorf("failed to load session: %w", err)), nil
	}
	if fieldErrors := validate(session); len(fieldErrors) > 0 {
		r.transition(StateIdle)
		return Outcome{State: StateIdle, FieldErrors: fieldErrors}, nil
	}

	// An edit-seeded session carries the id of the record it modifies;
	// everything else is a fresh draft.
	originID := o.aggregator.OriginRecord(ctx, scope)

	// PersistingPrimary
	r.transition(StatePersistingPrimary)
	var record *anamnesis.Record
	if originID != "" {
		record, err = o.repo.Update(ctx, tenant.ClinicID, originID, updateRequest(session))
	} else {
		record, err = o.repo.Create(ctx, createRequest(tenant.ClinicID, tenant.ProfessionalID, session))
	}
	if err != nil {
		return o.fatal(r, StatePersistingPrimary, fmt.Errorf("failed to persist record: %w", err)), nil
	}

	var warnings []string

	// Enrichment runs for new records only. An edit keeps its existing
	// protocol; re-running enrichment is an explicit separate action.
	if originID == "" {
		// RequestingEnrichment — best effort from here on: the record stands.
		r.transition(StateRequestingEnrichment)
		result, err := o.generator.Generate(ctx, protocol.Request{
			AssessmentType: record.AssessmentType,
			PatientName:    record.PatientName,
			PatientAge:     record.PatientAge,
			MainComplaint:  record.MainComplaint,
			Objective:      record.Objective,
			Observations:   record.Observations,
			Sections:       record.Sections,
		})
		if err != nil {
			o.logger.Warn("enrichment failed, record stands without protocol",
				"session_id", sessionID, "record_id", record.ID, "error", err.Error())
			warnings = append(warnings, "enrichment did not complete: "+err.Error())
		} else {
			// PatchingPrimary
			r.transition(StatePatchingPrimary)
			patched, err := o.repo.PatchEnrichment(ctx, tenant.ClinicID, record.ID, anamnesis.EnrichmentPatch{
				Protocol: result.Protocol,
				Model:    result.Model,
			})
			if err != nil {
				o.logger.Warn("enrichment patch failed, record stands without protocol",
					"session_id", sessionID, "record_id", record.ID, "error", err.Error())
				warnings = append(warnings, "enrichment could not be attached: "+err.Error())
			} else {
				record = patched
			}
		}
	}

	// Done: only now is the session cleared.
	r.transition(StateDone)
	if err := o.aggregator.Reset(ctx, scope); err != nil {
		o.logger.Warn("failed to reset form session after submit",
			"session_id", sessionID, "error", err.Error())
		warnings = append(warnings, "form session could not be cleared")
	}

	if o.archiver != nil {
		if err := o.archiver.ArchiveRecord(ctx, record); err != nil {
			o.logger.Warn("record archive export failed",
				"session_id", sessionID, "record_id", record.ID, "error", err.Error())
		}
	}

	o.logger.Info("submission completed",
		"session_id", sessionID,
		"record_id", record.ID,
		"edited", originID != "",
		"enriched", record.AIProtocol != nil,
		"warnings", len(warnings),
	)
	return Outcome{State: StateDone, Record: record, Warnings: warnings}, nil
}

func (o *Orchestrator) fatal(r *run, at State, err error) Outcome {
	r.transition(StateError)
	o.logger.Error("submission failed", "session_id", r.sessionID, "step", string(at), "error", err.Error())
	return Outcome{State: StateError, FailedAt: at, Error: err.Error()}
}

func (o *Orchestrator) acquire(sessionID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inFlight[sessionID]; busy {
		return false
	}
	o.inFlight[sessionID] = struct{}{}
	return true
}

func (o *Orchestrator) release(sessionID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inFlight, sessionID)
}

func validate(session formsession.Session) []FieldError {
	var errs []FieldError

	switch session.Patient.Mode {
	case formsession.PatientModeExisting:
		if strings.TrimSpace(session.Patient.PatientID) == "" {
			errs = append(errs, FieldError{Field: "patient.patient_id", Message: "select a patient"})
		}
	case formsession.PatientModeManual:
		if strings.TrimSpace(session.Patient.Name) == "" {
			errs = append(errs, FieldError{Field: "patient.name", Message: "patient name is required"})
		}
		if session.Patient.Age <= 0 {
			errs = append(errs, FieldError{Field: "patient.age", Message: "patient age is required"})
		}
	default:
		errs = append(errs, FieldError{Field: "patient.mode", Message: "invalid patient mode"})
	}

	if strings.TrimSpace(session.Assessment.MainComplaint) == "" {
		errs = append(errs, FieldError{Field: "assessment.main_complaint", Message: "main complaint is required"})
	}
	if strings.TrimSpace(session.Assessment.TreatmentObjective) == "" {
		errs = append(errs, FieldError{Field: "assessment.treatment_objective", Message: "treatment objective is required"})
	}
	return errs
}

func createRequest(clinicID, professionalID string, session formsession.Session) *anamnesis.CreateRecordRequest {
	req := &anamnesis.CreateRecordRequest{
		ClinicID:       clinicID,
		ProfessionalID: professionalID,
		AssessmentType: string(session.Assessment.Type),
		MainComplaint:  session.Assessment.MainComplaint,
		Objective:      session.Assessment.TreatmentObjective,
		Observations:   session.Assessment.Observations,
		Sections:       sectionsPayload(session),
	}
	if session.Patient.Mode == formsession.PatientModeExisting {
		id := session.Patient.PatientID
		req.PatientID = &id
	} else {
		req.PatientName = session.Patient.Name
		req.PatientAge = session.Patient.Age
	}
	return req
}

func updateRequest(session formsession.Session) *anamnesis.UpdateRecordRequest {
	req := &anamnesis.UpdateRecordRequest{
		AssessmentType: string(session.Assessment.Type),
		MainComplaint:  session.Assessment.MainComplaint,
		Objective:      session.Assessment.TreatmentObjective,
		Observations:   session.Assessment.Observations,
		Sections:       sectionsPayload(session),
	}
	if session.Patient.Mode == formsession.PatientModeExisting {
		id := session.Patient.PatientID
		req.PatientID = &id
	} else {
		req.PatientName = session.Patient.Name
		req.PatientAge = session.Patient.Age
	}
	return req
}

// sectionsPayload flattens the non-identity sections into the record's JSONB
// column. The assessment base fields already live in dedicated columns; only
// its area-specific details ride along here.
func sectionsPayload(session formsession.Session) json.RawMessage {
	payload := map[string]any{
		"general_health": session.GeneralHealth,
		"lifestyle":      session.Lifestyle,
		"measurements":   session.Measurements,
		"resources":      session.Resources,
	}
	if len(session.Assessment.Details) > 0 {
		payload["assessment_details"] = session.Assessment.Details
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}
