// Package anamnesis holds the primary record of one clinical evaluation: the
// assessment a professional fills in for a patient, later enriched with an
// AI-generated treatment protocol.
package anamnesis

import (
	"encoding/json"
	"strings"
	"time"
)

// Record is the primary record representing one clinical evaluation instance.
// AIProtocol and AIModel stay nil until enrichment completes; the record is
// visible to history listings as soon as it is persisted.
type Record struct {
	ID             string          `json:"id"`
	ClinicID       string          `json:"clinic_id"`
	ProfessionalID string          `json:"professional_id"`
	PatientID      *string         `json:"patient_id,omitempty"`
	PatientName    string          `json:"patient_name,omitempty"`
	PatientAge     int             `json:"patient_age,omitempty"`
	AssessmentType string          `json:"assessment_type"`
	MainComplaint  string          `json:"main_complaint"`
	Objective      string          `json:"treatment_objective"`
	Observations   string          `json:"observations,omitempty"`
	Sections       json.RawMessage `json:"sections"`
	AIProtocol     *string         `json:"ai_protocol,omitempty"`
	AIModel        *string         `json:"ai_model,omitempty"`
	EnrichedAt     *time.Time      `json:"enriched_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// CreateRecordRequest is what the submission orchestrator persists.
type CreateRecordRequest struct {
	ClinicID       string          `json:"-"`
	ProfessionalID string          `json:"-"`
	PatientID      *string         `json:"patient_id,omitempty"`
	PatientName    string          `json:"patient_name,omitempty"`
	PatientAge     int             `json:"patient_age,omitempty"`
	AssessmentType string          `json:"assessment_type"`
	MainComplaint  string          `json:"main_complaint"`
	Objective      string          `json:"treatment_objective"`
	Observations   string          `json:"observations,omitempty"`
	Sections       json.RawMessage `json:"sections"`
}

// Validate checks tenant scoping and patient identity coherence.
func (r *CreateRecordRequest) Validate() error {
	if strings.TrimSpace(r.ClinicID) == "" {
		return ErrMissingClinicID
	}
	if strings.TrimSpace(r.ProfessionalID) == "" {
		return ErrMissingProfessionalID
	}
	if r.PatientID == nil && strings.TrimSpace(r.PatientName) == "" {
		return ErrMissingPatient
	}
	if r.PatientID != nil && strings.TrimSpace(r.PatientName) != "" {
		return ErrAmbiguousPatient
	}
	return nil
}

// UpdateRecordRequest carries the editable fields of an existing record.
type UpdateRecordRequest struct {
	PatientID      *string         `json:"patient_id,omitempty"`
	PatientName    string          `json:"patient_name,omitempty"`
	PatientAge     int             `json:"patient_age,omitempty"`
	AssessmentType string          `json:"assessment_type"`
	MainComplaint  string          `json:"main_complaint"`
	Objective      string          `json:"treatment_objective"`
	Observations   string          `json:"observations,omitempty"`
	Sections       json.RawMessage `json:"sections"`
}

// EnrichmentPatch is applied once enrichment succeeds.
type EnrichmentPatch struct {
	Protocol string `json:"protocol"`
	Model    string `json:"model"`
}

// ListFilter bounds history listings.
type ListFilter struct {
	ProfessionalID string
	PatientID      string
	Limit          int
	Offset         int
}
