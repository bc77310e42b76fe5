package bootstrap

import (
	"context"
	"crypto/tls"
	"strings"

	"github.com/redis/go-redis/v9"

	appconfig "github.com/clinicware/anamnesis-platform/internal/config"
	"github.com/clinicware/anamnesis-platform/internal/formstate"
	"github.com/clinicware/anamnesis-platform/internal/handoff"
	"github.com/clinicware/anamnesis-platform/internal/identity"
	"github.com/clinicware/anamnesis-platform/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		return nil
	}
	return client
}

// BuildSlotStore wires the durable form-state store. Redis is the primary;
// when it is unavailable (or memory mode is forced) writes land in process
// memory so a typing professional never loses work mid-form.
func BuildSlotStore(cfg *appconfig.Config, redisClient *redis.Client, logger *logging.Logger) formstate.SlotStore {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg != nil && cfg.UseMemorySlots {
		logger.Info("using in-memory slot store")
		return formstate.NewMemorySlotStore()
	}
	if redisClient == nil {
		logger.Warn("redis unavailable; falling back to in-memory slot store")
		return formstate.NewMemorySlotStore()
	}
	primary := formstate.NewRedisSlotStore(redisClient, cfg.SlotTTL, logger)
	return formstate.NewFallbackStore(primary, logger)
}

// BuildResolver wires membership resolution, with a Redis cache in front of
// Postgres when a Redis client is available.
func BuildResolver(pool identity.PgxQuerier, redisClient *redis.Client, logger *logging.Logger) identity.Resolver {
	if logger == nil {
		logger = logging.Default()
	}
	var resolver identity.Resolver = identity.NewPostgresResolver(pool)
	if redisClient != nil {
		resolver = identity.NewCachedResolver(resolver, redisClient, identity.DefaultCacheTTL, logger)
	}
	return resolver
}

// BuildHandoffChannel returns the Redis-backed handoff channel, or the
// in-process one when Redis is down.
func BuildHandoffChannel(redisClient *redis.Client, logger *logging.Logger) handoff.Channel {
	if logger == nil {
		logger = logging.Default()
	}
	if redisClient == nil {
		logger.Warn("redis unavailable; handoff packets will not survive restarts")
		return handoff.NewMemoryChannel()
	}
	return handoff.NewRedisChannel(redisClient)
}
