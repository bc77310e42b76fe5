package formsession

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/clinicware/anamnesis-platform/internal/formstate"
	"github.com/clinicware/anamnesis-platform/pkg/logging"
)

// Scope identifies whose session the slots belong to.
type Scope struct {
	ClinicID       string
	ProfessionalID string
	SessionID      string
}

func (s Scope) valid() bool {
	return s.ClinicID != "" && s.ProfessionalID != "" && s.SessionID != ""
}

// Aggregator composes the per-section slots into one logical form session.
// Every mutation writes through its slot immediately; nothing is batched.
type Aggregator struct {
	slots  formstate.SlotStore
	prefix string
	logger *logging.Logger
}

// NewAggregator wires an aggregator over the supplied slot store.
func NewAggregator(slots formstate.SlotStore, prefix string, logger *logging.Logger) *Aggregator {
	if slots == nil {
		panic("formsession: slot store cannot be nil")
	}
	if prefix == "" {
		prefix = "anamnesis"
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Aggregator{slots: slots, prefix: prefix, logger: logger}
}

// slotOrigin backs the edit marker. It is not a form section: it never
// appears in snapshots and exists only to tell submission "update this
// record" instead of "create a new one".
const slotOrigin = "origin_record"

func (a *Aggregator) slotKey(scope Scope, section string) string {
	return formstate.Key(a.prefix, scope.ClinicID, scope.ProfessionalID, scope.SessionID, section)
}

// UpdateSection replaces the named section with data. The replacement is
// whole-object: answers from a previously selected assessment area do not
// survive an area switch.
func (a *Aggregator) UpdateSection(ctx context.Context, scope Scope, section string, data json.RawMessage) error {
	if !scope.valid() {
		return fmt.Errorf("formsession: incomplete session scope")
	}
	canonical, err := normalizeSection(section, data)
	if err != nil {
		return err
	}
	return a.slots.Set(ctx, a.slotKey(scope, section), canonical)
}

// SetPatientMode switches between existing-patient and manual-patient entry.
// Only the patient-identity section is touched; every other section keeps its
// bytes.
func (a *Aggregator) SetPatientMode(ctx context.Context, scope Scope, mode PatientMode) error {
	if !scope.valid() {
		return fmt.Errorf("formsession: incomplete session scope")
	}
	if mode != PatientModeExisting && mode != PatientModeManual {
		return fmt.Errorf("formsession: unknown patient mode %q", mode)
	}

	identity := a.patientSection(ctx, scope)
	identity.Mode = mode
	identity = normalizePatient(identity)

	data, err := marshalSection(identity)
	if err != nil {
		return err
	}
	return a.slots.Set(ctx, a.slotKey(scope, SectionPatient), data)
}

// Snapshot reads every slot and returns the full current session. Missing or
// corrupt slots fall back to their empty defaults, so the result is always
// complete.
func (a *Aggregator) Snapshot(ctx context.Context, scope Scope) (Session, error) {
	if !scope.valid() {
		return Session{}, fmt.Errorf("formsession: incomplete session scope")
	}

	session := Empty()
	session.Patient = a.patientSection(ctx, scope)

	session.GeneralHealth = a.objectSection(ctx, scope, SectionGeneralHealth)
	session.Lifestyle = a.objectSection(ctx, scope, SectionLifestyle)
	session.Measurements = a.objectSection(ctx, scope, SectionMeasurements)

	assessmentRaw := a.slots.Get(ctx, a.slotKey(scope, SectionAssessment), json.RawMessage(`{}`))
	var assessment AreaAssessment
	if err := json.Unmarshal(assessmentRaw, &assessment); err != nil {
		a.logger.Warn("assessment slot unreadable, using empty section", "session_id", scope.SessionID, "error", err)
		assessment = AreaAssessment{}
	}
	session.Assessment = assessment

	resourcesRaw := a.slots.Get(ctx, a.slotKey(scope, SectionResources), json.RawMessage(`{}`))
	var resources ResourceSelection
	if err := json.Unmarshal(resourcesRaw, &resources); err != nil {
		a.logger.Warn("resources slot unreadable, using empty section", "session_id", scope.SessionID, "error", err)
		resources = ResourceSelection{}
	}
	session.Resources = resources

	return session, nil
}

// Reset restores every section to its empty default and clears the backing
// slots. Invoked when a submission completes or the user cancels.
func (a *Aggregator) Reset(ctx context.Context, scope Scope) error {
	if !scope.valid() {
		return fmt.Errorf("formsession: incomplete session scope")
	}
	keys := make([]string, 0, len(SectionNames)+1)
	for _, section := range SectionNames {
		keys = append(keys, a.slotKey(scope, section))
	}
	keys = append(keys, a.slotKey(scope, slotOrigin))
	if err := a.slots.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("formsession: reset session %s: %w", scope.SessionID, err)
	}
	return nil
}

// Seed populates a fresh session from a handoff snapshot (edit or clone).
// Sections absent from the snapshot keep their defaults.
func (a *Aggregator) Seed(ctx context.Context, scope Scope, sections map[string]json.RawMessage) error {
	for _, section := range SectionNames {
		data, ok := sections[section]
		if !ok {
			continue
		}
		if err := a.UpdateSection(ctx, scope, section, data); err != nil {
			return err
		}
	}
	return nil
}

// SetOriginRecord marks the session as an edit of recordID. The mark is
// cleared by Reset, so a completed edit submit leaves no stale reference.
func (a *Aggregator) SetOriginRecord(ctx context.Context, scope Scope, recordID string) error {
	if !scope.valid() {
		return fmt.Errorf("formsession: incomplete session scope")
	}
	if recordID == "" {
		return fmt.Errorf("formsession: origin record id cannot be empty")
	}
	data, err := json.Marshal(recordID)
	if err != nil {
		return fmt.Errorf("formsession: encode origin record id: %w", err)
	}
	return a.slots.Set(ctx, a.slotKey(scope, slotOrigin), data)
}

// OriginRecord returns the id of the record this session edits, or empty when
// the session is a fresh draft.
func (a *Aggregator) OriginRecord(ctx context.Context, scope Scope) string {
	raw := a.slots.Get(ctx, a.slotKey(scope, slotOrigin), json.RawMessage(`""`))
	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		a.logger.Warn("origin slot unreadable, treating session as new", "session_id", scope.SessionID, "error", err)
		return ""
	}
	return id
}

func (a *Aggregator) patientSection(ctx context.Context, scope Scope) PatientIdentity {
	raw := a.slots.Get(ctx, a.slotKey(scope, SectionPatient), json.RawMessage(`{}`))
	var identity PatientIdentity
	if err := json.Unmarshal(raw, &identity); err != nil {
		a.logger.Warn("patient slot unreadable, using empty section", "session_id", scope.SessionID, "error", err)
		identity = PatientIdentity{}
	}
	if identity.Mode == "" {
		identity.Mode = PatientModeExisting
	}
	return identity
}

func (a *Aggregator) objectSection(ctx context.Context, scope Scope, section string) map[string]any {
	raw := a.slots.Get(ctx, a.slotKey(scope, section), json.RawMessage(`{}`))
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		if err != nil {
			a.logger.Warn("section slot unreadable, using empty object", "section", section, "error", err)
		}
		return map[string]any{}
	}
	return obj
}
