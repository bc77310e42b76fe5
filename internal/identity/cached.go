package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/clinicware/anamnesis-platform/internal/tenancy"
	"github.com/clinicware/anamnesis-platform/pkg/logging"
)

var cacheTracer = otel.Tracer("anamnesis.internal.identity")

// DefaultCacheTTL bounds how long a membership lookup is reused before the
// database is consulted again.
const DefaultCacheTTL = 10 * time.Minute

type cachedMembership struct {
	ClinicID       string `json:"clinic_id"`
	ProfessionalID string `json:"professional_id"`
	Found          bool   `json:"found"`
}

// CachedResolver fronts another resolver with a Redis cache. Negative results
// are cached too, so unknown users do not hammer the database.
type CachedResolver struct {
	next   Resolver
	redis  *redis.Client
	ttl    time.Duration
	logger *logging.Logger
}

func NewCachedResolver(next Resolver, redisClient *redis.Client, ttl time.Duration, logger *logging.Logger) *CachedResolver {
	if next == nil {
		panic("identity: wrapped resolver required")
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = logging.New("info")
	}
	return &CachedResolver{next: next, redis: redisClient, ttl: ttl, logger: logger}
}

func (r *CachedResolver) key(userID string) string {
	return fmt.Sprintf("identity:membership:%s", userID)
}

func (r *CachedResolver) Resolve(ctx context.Context, userID string) (tenancy.TenantContext, bool, error) {
	if r.redis == nil {
		return r.next.Resolve(ctx, userID)
	}

	ctx, span := cacheTracer.Start(ctx, "identity.resolve")
	defer span.End()

	if data, err := r.redis.Get(ctx, r.key(userID)).Bytes(); err == nil {
		var cached cachedMembership
		if err := json.Unmarshal(data, &cached); err == nil {
			return tenancy.TenantContext{
				ClinicID:       cached.ClinicID,
				ProfessionalID: cached.ProfessionalID,
			}, cached.Found, nil
		}
		// Corrupt cache entries fall through to the source of truth.
		r.logger.Warn("identity: discarding corrupt cache entry", "user_id", userID)
	} else if err != redis.Nil {
		r.logger.Warn("identity: cache read failed", "user_id", userID, "error", err.Error())
	}

	tc, found, err := r.next.Resolve(ctx, userID)
	if err != nil {
		return tenancy.TenantContext{}, false, err
	}

	data, err := json.Marshal(cachedMembership{
		ClinicID:       tc.ClinicID,
		ProfessionalID: tc.ProfessionalID,
		Found:          found,
	})
	if err == nil {
		if err := r.redis.Set(ctx, r.key(userID), data, r.ttl).Err(); err != nil {
			r.logger.Warn("identity: cache write failed", "user_id", userID, "error", err.Error())
		}
	}

	return tc, found, nil
}

// Invalidate drops the cached membership for a user, forcing the next
// Resolve to hit the wrapped resolver.
func (r *CachedResolver) Invalidate(ctx context.Context, userID string) error {
	if r.redis == nil {
		return nil
	}
	if err := r.redis.Del(ctx, r.key(userID)).Err(); err != nil {
		return fmt.Errorf("identity: invalidate %s: %w", userID, err)
	}
	return nil
}
