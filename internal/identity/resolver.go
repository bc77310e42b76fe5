// Package identity resolves an authenticated user to the clinic and
// professional profile their session operates under.
package identity

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"

	"github.com/clinicware/anamnesis-platform/internal/tenancy"
)

// Resolver looks up the tenant context for a user. The second return value
// reports whether a membership exists; absence is a valid outcome, not an
// error.
type Resolver interface {
	Resolve(ctx context.Context, userID string) (tenancy.TenantContext, bool, error)
}

// PgxQuerier is the subset of pgxpool.Pool the resolver needs.
type PgxQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresResolver resolves memberships from the professionals table.
type PostgresResolver struct {
	pool PgxQuerier
}

func NewPostgresResolver(pool PgxQuerier) *PostgresResolver {
	if pool == nil {
		panic("identity: pgx pool required")
	}
	return &PostgresResolver{pool: pool}
}

func (r *PostgresResolver) Resolve(ctx context.Context, userID string) (tenancy.TenantContext, bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return tenancy.TenantContext{}, false, nil
	}

	query := `
		SELECT clinic_id, id
		FROM professionals
		WHERE user_id = $1 AND active
		ORDER BY created_at ASC
		LIMIT 1
	`
	var tc tenancy.TenantContext
	err := r.pool.QueryRow(ctx, query, userID).Scan(&tc.ClinicID, &tc.ProfessionalID)
	if err == pgx.ErrNoRows {
		return tenancy.TenantContext{}, false, nil
	}
	if err != nil {
		return tenancy.TenantContext{}, false, fmt.Errorf("identity: resolve %s: %w", userID, err)
	}
	return tc, true, nil
}

// StaticResolver serves a fixed user-to-tenant map. Used in tests and demo
// environments without a database.
type StaticResolver struct {
	mu       sync.RWMutex
	byUserID map[string]tenancy.TenantContext
}

func NewStaticResolver() *StaticResolver {
	return &StaticResolver{byUserID: make(map[string]tenancy.TenantContext)}
}

// Add registers a membership for the user.
func (r *StaticResolver) Add(userID string, tc tenancy.TenantContext) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byUserID[userID] = tc
}

func (r *StaticResolver) Resolve(_ context.Context, userID string) (tenancy.TenantContext, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tc, ok := r.byUserID[userID]
	return tc, ok, nil
}
