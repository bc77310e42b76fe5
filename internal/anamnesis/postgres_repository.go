package anamnesis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// PgxPool is the subset of pgxpool.Pool the repository needs. Narrowed so
// tests can drive it with pgxmock.
type PgxPool interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresRepository stores records in the relational database.
type PostgresRepository struct {
	pool PgxPool
}

// NewPostgresRepository initializes a repo backed by pgxpool.
func NewPostgresRepository(pool PgxPool) *PostgresRepository {
	if pool == nil {
		panic("anamnesis: pgx pool required")
	}
	return &PostgresRepository{pool: pool}
}

const recordColumns = `
	id, clinic_id, professional_id, patient_id, patient_name, patient_age,
	assessment_type, main_complaint, treatment_objective, observations,
	sections, ai_protocol, ai_model, enriched_at, created_at, updated_at
`

// Create inserts a new row.
func (r *PostgresRepository) Create(ctx context.Context, req *CreateRecordRequest) (*Record, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	id := uuid.New()
	query := `
		INSERT INTO anamnesis_records (
			id, clinic_id, professional_id, patient_id, patient_name, patient_age,
			assessment_type, main_complaint, treatment_objective, observations, sections
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`
	var createdAt, updatedAt time.Time
	if err := r.pool.QueryRow(ctx, query,
		id,
		req.ClinicID,
		req.ProfessionalID,
		req.PatientID,
		req.PatientName,
		req.PatientAge,
		req.AssessmentType,
		req.MainComplaint,
		req.Objective,
		req.Observations,
		req.Sections,
	).Scan(&createdAt, &updatedAt); err != nil {
		return nil, fmt.Errorf("anamnesis: insert failed: %w", err)
	}

	return &Record{
		ID:             id.String(),
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
		CreatedAt:      createdAt,
		UpdatedAt:      updatedAt,
	}, nil
}

// Update replaces the editable fields of an existing record.
func (r *PostgresRepository) Update(ctx context.Context, clinicID, id string, req *UpdateRecordRequest) (*Record, error) {
	query := `
		UPDATE anamnesis_records SET
			patient_id = $1,
			patient_name = $2,
			patient_age = $3,
			assessment_type = $4,
			main_complaint = $5,
			treatment_objective = $6,
			observations = $7,
			sections = $8,
			updated_at = now()
		WHERE id = $9 AND clinic_id = $10
		RETURNING ` + recordColumns
	row := r.pool.QueryRow(ctx, query,
		req.PatientID,
		req.PatientName,
		req.PatientAge,
		req.AssessmentType,
		req.MainComplaint,
		req.Objective,
		req.Observations,
		req.Sections,
		id,
		clinicID,
	)
	return scanRecord(row)
}

// PatchEnrichment attaches the AI protocol and model to an existing record.
func (r *PostgresRepository) PatchEnrichment(ctx context.Context, clinicID, id string, patch EnrichmentPatch) (*Record, error) {
	query := `
		UPDATE anamnesis_records SET
			ai_protocol = $1,
			ai_model = $2,
			enriched_at = now(),
			updated_at = now()
		WHERE id = $3 AND clinic_id = $4
		RETURNING ` + recordColumns
	row := r.pool.QueryRow(ctx, query, patch.Protocol, patch.Model, id, clinicID)
	return scanRecord(row)
}

// GetByID fetches a record scoped to the clinic.
func (r *PostgresRepository) GetByID(ctx context.Context, clinicID, id string) (*Record, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM anamnesis_records
		WHERE id = $1 AND clinic_id = $2
	`
	row := r.pool.QueryRow(ctx, query, id, clinicID)
	return scanRecord(row)
}

// ListByClinic returns the clinic's records, newest first.
func (r *PostgresRepository) ListByClinic(ctx context.Context, clinicID string, filter ListFilter) ([]*Record, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	query := `
		SELECT ` + recordColumns + `
		FROM anamnesis_records
		WHERE clinic_id = $1
		  AND ($2 = '' OR professional_id = $2)
		  AND ($3 = '' OR patient_id::text = $3)
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5
	`
	rows, err := r.pool.Query(ctx, query, clinicID, filter.ProfessionalID, filter.PatientID, limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("anamnesis: list failed: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var record Record
	if err := row.Scan(
		&record.ID,
		&record.ClinicID,
		&record.ProfessionalID,
		&record.PatientID,
		&record.PatientName,
		&record.PatientAge,
		&record.AssessmentType,
		&record.MainComplaint,
		&record.Objective,
		&record.Observations,
		&record.Sections,
		&record.AIProtocol,
		&record.AIModel,
		&record.EnrichedAt,
		&record.CreatedAt,
		&record.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("anamnesis: scan failed: %w", err)
	}
	return &record, nil
}
