// Package patients is the minimal patient directory backing the
// existing-patient mode of the anamnesis form.
package patients

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Patient is one directory entry.
type Patient struct {
	ID        string    `json:"id"`
	ClinicID  string    `json:"clinic_id"`
	Name      string    `json:"name"`
	BirthDate time.Time `json:"birth_date"`
	Phone     string    `json:"phone,omitempty"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Age returns the patient's age in whole years at the reference time.
func (p Patient) Age(now time.Time) int {
	years := now.Year() - p.BirthDate.Year()
	if now.YearDay() < p.BirthDate.YearDay() {
		years--
	}
	if years < 0 {
		return 0
	}
	return years
}

var ErrPatientNotFound = errors.New("patients: not found")

// Repository provides patient lookups scoped to a clinic.
type Repository interface {
	Create(ctx context.Context, patient *Patient) (*Patient, error)
	GetByID(ctx context.Context, clinicID, id string) (*Patient, error)
	Search(ctx context.Context, clinicID, nameQuery string, limit int) ([]*Patient, error)
}

// PgxPool is the subset of pgxpool.Pool the repository needs.
type PgxPool interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresRepository stores patients in the relational database.
type PostgresRepository struct {
	pool PgxPool
}

func NewPostgresRepository(pool PgxPool) *PostgresRepository {
	if pool == nil {
		panic("patients: pgx pool required")
	}
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) Create(ctx context.Context, patient *Patient) (*Patient, error) {
	if patient == nil {
		return nil, errors.New("patients: patient cannot be nil")
	}
	if strings.TrimSpace(patient.ClinicID) == "" || strings.TrimSpace(patient.Name) == "" {
		return nil, errors.New("patients: clinic and name are required")
	}

	id := uuid.NewString()
	query := `
		INSERT INTO patients (id, clinic_id, name, birth_date, phone, email)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`
	var createdAt time.Time
	if err := r.pool.QueryRow(ctx, query,
		id, patient.ClinicID, patient.Name, patient.BirthDate, patient.Phone, patient.Email,
	).Scan(&createdAt); err != nil {
		return nil, fmt.Errorf("patients: insert failed: %w", err)
	}

	out := *patient
	out.ID = id
	out.CreatedAt = createdAt
	return &out, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, clinicID, id string) (*Patient, error) {
	query := `
		SELECT id, clinic_id, name, birth_date, COALESCE(phone, ''), COALESCE(email, ''), created_at
		FROM patients
		WHERE id = $1 AND clinic_id = $2
	`
	var patient Patient
	err := r.pool.QueryRow(ctx, query, id, clinicID).Scan(
		&patient.ID, &patient.ClinicID, &patient.Name, &patient.BirthDate,
		&patient.Phone, &patient.Email, &patient.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPatientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("patients: get failed: %w", err)
	}
	return &patient, nil
}

func (r *PostgresRepository) Search(ctx context.Context, clinicID, nameQuery string, limit int) ([]*Patient, error) {
	if limit <= 0 || limit > 50 {
		limit = 20
	}
	query := `
		SELECT id, clinic_id, name, birth_date, COALESCE(phone, ''), COALESCE(email, ''), created_at
		FROM patients
		WHERE clinic_id = $1 AND ($2 = '' OR name ILIKE '%' || $2 || '%')
		ORDER BY name
		LIMIT $3
	`
	rows, err := r.pool.Query(ctx, query, clinicID, strings.TrimSpace(nameQuery), limit)
	if err != nil {
		return nil, fmt.Errorf("patients: search failed: %w", err)
	}
	defer rows.Close()

	var results []*Patient
	for rows.Next() {
		var patient Patient
		if err := rows.Scan(
			&patient.ID, &patient.ClinicID, &patient.Name, &patient.BirthDate,
			&patient.Phone, &patient.Email, &patient.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("patients: scan failed: %w", err)
		}
		results = append(results, &patient)
	}
	return results, rows.Err()
}

// InMemoryRepository keeps patients in a map. Used in tests and demos.
type InMemoryRepository struct {
	mu       sync.RWMutex
	patients map[string]*Patient
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{patients: make(map[string]*Patient)}
}

func (r *InMemoryRepository) Create(_ context.Context, patient *Patient) (*Patient, error) {
	if patient == nil {
		return nil, errors.New("patients: patient cannot be nil")
	}
	if strings.TrimSpace(patient.ClinicID) == "" || strings.TrimSpace(patient.Name) == "" {
		return nil, errors.New("patients: clinic and name are required")
	}

	out := *patient
	out.ID = uuid.NewString()
	out.CreatedAt = time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.patients[out.ID] = &out

	clone := out
	return &clone, nil
}

func (r *InMemoryRepository) GetByID(_ context.Context, clinicID, id string) (*Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	patient, ok := r.patients[id]
	if !ok || patient.ClinicID != clinicID {
		return nil, ErrPatientNotFound
	}
	clone := *patient
	return &clone, nil
}

func (r *InMemoryRepository) Search(_ context.Context, clinicID, nameQuery string, limit int) ([]*Patient, error) {
	if limit <= 0 || limit > 50 {
		limit = 20
	}
	needle := strings.ToLower(strings.TrimSpace(nameQuery))

	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []*Patient
	for _, patient := range r.patients {
		if patient.ClinicID != clinicID {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(patient.Name), needle) {
			continue
		}
		clone := *patient
		results = append(results, &clone)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}
