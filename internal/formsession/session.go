// Package formsession aggregates the durable slots of one multi-step
// anamnesis form into a single logical session: patient identity, clinical
// sub-sections, and resource selections, each persisted on every edit.
package formsession

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// PatientMode selects how the session identifies its patient.
type PatientMode string

const (
	// PatientModeExisting references a stored patient record.
	PatientModeExisting PatientMode = "existing"
	// PatientModeManual carries an inline name/age pair.
	PatientModeManual PatientMode = "manual"
)

// AssessmentType tags the area-specific assessment variant.
type AssessmentType string

const (
	AssessmentFacial   AssessmentType = "facial"
	AssessmentCorporal AssessmentType = "corporal"
	AssessmentCapilar  AssessmentType = "capilar"
)

// ResourceMode selects between catalogue picks and free-text resources.
type ResourceMode string

const (
	ResourceModeCatalog ResourceMode = "catalog"
	ResourceModeManual  ResourceMode = "manual"
)

// Section names. One durable slot backs each.
const (
	SectionPatient       = "patient"
	SectionGeneralHealth = "general_health"
	SectionLifestyle     = "lifestyle"
	SectionAssessment    = "assessment"
	SectionMeasurements  = "measurements"
	SectionResources     = "resources"
)

// SectionNames lists every section in slot order.
var SectionNames = []string{
	SectionPatient,
	SectionGeneralHealth,
	SectionLifestyle,
	SectionAssessment,
	SectionMeasurements,
	SectionResources,
}

// PatientIdentity is the patient-identity section. Exactly one of the
// existing-reference or manual fields is active, selected by Mode.
type PatientIdentity struct {
	Mode      PatientMode `json:"mode"`
	PatientID string      `json:"patient_id,omitempty"`
	Name      string      `json:"name,omitempty"`
	Age       int         `json:"age,omitempty"`
}

// AreaAssessment is the area-specific assessment section. Fields common to
// all areas live on the base shape; area-specific answers go in Details.
type AreaAssessment struct {
	Type               AssessmentType `json:"type,omitempty"`
	MainComplaint      string         `json:"main_complaint,omitempty"`
	TreatmentObjective string         `json:"treatment_objective,omitempty"`
	Observations       string         `json:"observations,omitempty"`
	Details            map[string]any `json:"details,omitempty"`
}

// ResourceSelection is the resource-selection section.
type ResourceSelection struct {
	Mode          ResourceMode `json:"mode,omitempty"`
	EquipmentIDs  []string     `json:"equipment_ids,omitempty"`
	CosmeticIDs   []string     `json:"cosmetic_ids,omitempty"`
	InjectableIDs []string     `json:"injectable_ids,omitempty"`
	ManualText    string       `json:"manual_text,omitempty"`
}

// Session is the aggregate snapshot of one form session. Every section is a
// plain object (never null) so downstream consumers can merge without
// nil-checks.
type Session struct {
	Patient       PatientIdentity   `json:"patient"`
	GeneralHealth map[string]any    `json:"general_health"`
	Lifestyle     map[string]any    `json:"lifestyle"`
	Assessment    AreaAssessment    `json:"assessment"`
	Measurements  map[string]any    `json:"measurements"`
	Resources     ResourceSelection `json:"resources"`
}

// Empty returns the default session: existing-patient mode with nothing
// selected, and every object section present but empty.
func Empty() Session {
	return Session{
		Patient:       PatientIdentity{Mode: PatientModeExisting},
		GeneralHealth: map[string]any{},
		Lifestyle:     map[string]any{},
		Assessment:    AreaAssessment{},
		Measurements:  map[string]any{},
		Resources:     ResourceSelection{},
	}
}

// normalizeSection validates raw section data at the aggregator boundary and
// returns the canonical bytes to store. The data always replaces the whole
// section; nothing is merged.
func normalizeSection(section string, data json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || !bytes.HasPrefix(trimmed, []byte("{")) {
		return nil, fmt.Errorf("formsession: section %s must be a JSON object", section)
	}

	switch section {
	case SectionPatient:
		var identity PatientIdentity
		if err := strictDecode(trimmed, &identity); err != nil {
			return nil, fmt.Errorf("formsession: invalid patient section: %w", err)
		}
		return marshalSection(normalizePatient(identity))
	case SectionAssessment:
		var assessment AreaAssessment
		if err := strictDecode(trimmed, &assessment); err != nil {
			return nil, fmt.Errorf("formsession: invalid assessment section: %w", err)
		}
		if assessment.Type != "" && !validAssessmentType(assessment.Type) {
			return nil, fmt.Errorf("formsession: unknown assessment type %q", assessment.Type)
		}
		return marshalSection(assessment)
	case SectionResources:
		var selection ResourceSelection
		if err := strictDecode(trimmed, &selection); err != nil {
			return nil, fmt.Errorf("formsession: invalid resources section: %w", err)
		}
		return marshalSection(normalizeResources(selection))
	case SectionGeneralHealth, SectionLifestyle, SectionMeasurements:
		var obj map[string]any
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return nil, fmt.Errorf("formsession: invalid %s section: %w", section, err)
		}
		return marshalSection(obj)
	default:
		return nil, fmt.Errorf("formsession: unknown section %q", section)
	}
}

// normalizePatient enforces the mode invariant: the inactive mode's fields
// are dropped so a stale reference cannot leak into a manual submission.
func normalizePatient(identity PatientIdentity) PatientIdentity {
	switch identity.Mode {
	case PatientModeManual:
		identity.PatientID = ""
	case PatientModeExisting:
		identity.Name = ""
		identity.Age = 0
	default:
		identity.Mode = PatientModeExisting
		identity.Name = ""
		identity.Age = 0
	}
	return identity
}

func normalizeResources(selection ResourceSelection) ResourceSelection {
	switch selection.Mode {
	case ResourceModeManual:
		selection.EquipmentIDs = nil
		selection.CosmeticIDs = nil
		selection.InjectableIDs = nil
	case ResourceModeCatalog:
		selection.ManualText = ""
	}
	return selection
}

func validAssessmentType(t AssessmentType) bool {
	switch t {
	case AssessmentFacial, AssessmentCorporal, AssessmentCapilar:
		return true
	}
	return false
}

func strictDecode(data []byte, into any) error {
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.DisallowUnknownFields()
	return dec.Decode(into)
}

func marshalSection(v any) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("formsession: encode section: %w", err)
	}
	return data, nil
}
