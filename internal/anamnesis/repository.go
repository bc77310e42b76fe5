package anamnesis

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for primary record storage
type Repository interface {
	Create(ctx context.Context, req *CreateRecordRequest) (*Record, error)
	Update(ctx context.Context, clinicID, id string, req *UpdateRecordRequest) (*Record, error)
	PatchEnrichment(ctx context.Context, clinicID, id string, patch EnrichmentPatch) (*Record, error)
	GetByID(ctx context.Context, clinicID, id string) (*Record, error)
	ListByClinic(ctx context.Context, clinicID string, filter ListFilter) ([]*Record, error)
}

// InMemoryRepository is an in-memory implementation of Repository used in
// tests and development.
type InMemoryRepository struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewInMemoryRepository creates a new in-memory repository
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{records: make(map[string]*Record)}
}

// Create creates a new record in memory
func (r *InMemoryRepository) Create(ctx context.Context, req *CreateRecordRequest) (*Record, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	record := &Record{
		ID:             uuid.New().String(),
		ClinicID:       req.ClinicID,
		ProfessionalID: req.ProfessionalID,
		PatientID:      req.PatientID,
		PatientName:    req.PatientName,
		PatientAge:     req.PatientAge,
		AssessmentType: req.AssessmentType,
		MainComplaint:  req.MainComplaint,
		Objective:      req.Objective,
		Observations:   req.Observations,
		Sections:       cloneJSON(req.Sections),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	r.mu.Lock()
	r.records[record.ID] = record
	r.mu.Unlock()

	return cloneRecord(record), nil
}

// Update replaces the editable fields of an existing record.
func (r *InMemoryRepository) Update(ctx context.Context, clinicID, id string, req *UpdateRecordRequest) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[id]
	if !ok || record.ClinicID != clinicID {
		return nil, ErrRecordNotFound
	}

	record.PatientID = req.PatientID
	record.PatientName = req.PatientName
	record.PatientAge = req.PatientAge
	record.AssessmentType = req.AssessmentType
	record.MainComplaint = req.MainComplaint
	record.Objective = req.Objective
	record.Observations = req.Observations
	record.Sections = cloneJSON(req.Sections)
	record.UpdatedAt = time.Now().UTC()

	return cloneRecord(record), nil
}

// PatchEnrichment attaches the AI protocol to an existing record.
func (r *InMemoryRepository) PatchEnrichment(ctx context.Context, clinicID, id string, patch EnrichmentPatch) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[id]
	if !ok || record.ClinicID != clinicID {
		return nil, ErrRecordNotFound
	}

	now := time.Now().UTC()
	protocol := patch.Protocol
	model := patch.Model
	record.AIProtocol = &protocol
	record.AIModel = &model
	record.EnrichedAt = &now
	record.UpdatedAt = now

	return cloneRecord(record), nil
}

// GetByID retrieves a record scoped to the clinic.
func (r *InMemoryRepository) GetByID(ctx context.Context, clinicID, id string) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.records[id]
	if !ok || record.ClinicID != clinicID {
		return nil, ErrRecordNotFound
	}
	return cloneRecord(record), nil
}

// ListByClinic returns the clinic's records, newest first.
func (r *InMemoryRepository) ListByClinic(ctx context.Context, clinicID string, filter ListFilter) ([]*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Record
	for _, record := range r.records {
		if record.ClinicID != clinicID {
			continue
		}
		if filter.ProfessionalID != "" && record.ProfessionalID != filter.ProfessionalID {
			continue
		}
		if filter.PatientID != "" && (record.PatientID == nil || *record.PatientID != filter.PatientID) {
			continue
		}
		out = append(out, cloneRecord(record))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Len reports the number of stored records. Exposed for tests.
func (r *InMemoryRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

func cloneJSON(data json.RawMessage) json.RawMessage {
	if data == nil {
		return nil
	}
	return append(json.RawMessage(nil), data...)
}

func cloneRecord(record *Record) *Record {
	copied := *record
	copied.Sections = cloneJSON(record.Sections)
	if record.PatientID != nil {
		v := *record.PatientID
		copied.PatientID = &v
	}
	if record.AIProtocol != nil {
		v := *record.AIProtocol
		copied.AIProtocol = &v
	}
	if record.AIModel != nil {
		v := *record.AIModel
		copied.AIModel = &v
	}
	if record.EnrichedAt != nil {
		v := *record.EnrichedAt
		copied.EnrichedAt = &v
	}
	return &copied
}
