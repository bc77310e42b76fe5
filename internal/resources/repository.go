// Package resources manages the clinic's treatment resource inventory:
// equipment, cosmetics, and injectables selectable on the anamnesis form.
package resources

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Kind classifies a resource.
type Kind string

const (
	KindEquipment  Kind = "equipment"
	KindCosmetic   Kind = "cosmetic"
	KindInjectable Kind = "injectable"
)

// Resource is one inventory item.
type Resource struct {
	ID       string `json:"id"`
	ClinicID string `json:"clinic_id"`
	Kind     Kind   `json:"kind"`
	Name     string `json:"name"`
	Active   bool   `json:"active"`
}

// Valid reports whether the kind is a known variant.
func (k Kind) Valid() bool {
	return k == KindEquipment || k == KindCosmetic || k == KindInjectable
}

func (r *Resource) validate() error {
	if r.ClinicID == "" {
		return errors.New("resources: clinic id is required")
	}
	if !r.Kind.Valid() {
		return fmt.Errorf("resources: unknown kind %q", r.Kind)
	}
	if strings.TrimSpace(r.Name) == "" {
		return errors.New("resources: name is required")
	}
	return nil
}

// Catalogue groups a clinic's active resources by kind.
type Catalogue struct {
	Equipment   []Resource `json:"equipment"`
	Cosmetics   []Resource `json:"cosmetics"`
	Injectables []Resource `json:"injectables"`
}

// Repository loads resource inventories.
type Repository interface {
	ListByClinic(ctx context.Context, clinicID string) (Catalogue, error)
}

// Writer persists new resources.
type Writer interface {
	Create(ctx context.Context, res *Resource) error
}

// PgxQuerier is the subset of pgxpool.Pool the repository needs.
type PgxQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresRepository reads the resources table.
type PostgresRepository struct {
	pool PgxQuerier
}

func NewPostgresRepository(pool PgxQuerier) *PostgresRepository {
	if pool == nil {
		panic("resources: pgx pool required")
	}
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) ListByClinic(ctx context.Context, clinicID string) (Catalogue, error) {
	query := `
		SELECT id, clinic_id, kind, name, active
		FROM resources
		WHERE clinic_id = $1 AND active
		ORDER BY kind, name
	`
	rows, err := r.pool.Query(ctx, query, clinicID)
	if err != nil {
		return Catalogue{}, fmt.Errorf("resources: list failed: %w", err)
	}
	defer rows.Close()

	var catalogue Catalogue
	for rows.Next() {
		var res Resource
		if err := rows.Scan(&res.ID, &res.ClinicID, &res.Kind, &res.Name, &res.Active); err != nil {
			return Catalogue{}, fmt.Errorf("resources: scan failed: %w", err)
		}
		catalogue.add(res)
	}
	return catalogue, rows.Err()
}

func (r *PostgresRepository) Create(ctx context.Context, res *Resource) error {
	if res == nil {
		return errors.New("resources: resource cannot be nil")
	}
	if err := res.validate(); err != nil {
		return err
	}
	if res.ID == "" {
		res.ID = uuid.NewString()
	}
	res.Active = true

	query := `
		INSERT INTO resources (id, clinic_id, kind, name, active)
		VALUES ($1, $2, $3, $4, TRUE)
	`
	if _, err := r.pool.Exec(ctx, query, res.ID, res.ClinicID, string(res.Kind), res.Name); err != nil {
		return fmt.Errorf("resources: create failed: %w", err)
	}
	return nil
}

func (c *Catalogue) add(res Resource) {
	switch res.Kind {
	case KindEquipment:
		c.Equipment = append(c.Equipment, res)
	case KindCosmetic:
		c.Cosmetics = append(c.Cosmetics, res)
	case KindInjectable:
		c.Injectables = append(c.Injectables, res)
	}
}

// InMemoryRepository serves a fixed inventory. Used in tests.
type InMemoryRepository struct {
	mu    sync.RWMutex
	items map[string][]Resource
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{items: make(map[string][]Resource)}
}

// Add registers a resource under its clinic.
func (r *InMemoryRepository) Add(res Resource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[res.ClinicID] = append(r.items[res.ClinicID], res)
}

func (r *InMemoryRepository) Create(_ context.Context, res *Resource) error {
	if res == nil {
		return errors.New("resources: resource cannot be nil")
	}
	if err := res.validate(); err != nil {
		return err
	}
	if res.ID == "" {
		res.ID = uuid.NewString()
	}
	res.Active = true
	r.Add(*res)
	return nil
}

func (r *InMemoryRepository) ListByClinic(_ context.Context, clinicID string) (Catalogue, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	items := make([]Resource, 0, len(r.items[clinicID]))
	for _, res := range r.items[clinicID] {
		if res.Active {
			items = append(items, res)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Kind != items[j].Kind {
			return items[i].Kind < items[j].Kind
		}
		return items[i].Name < items[j].Name
	})

	var catalogue Catalogue
	for _, res := range items {
		catalogue.add(res)
	}
	return catalogue, nil
}
