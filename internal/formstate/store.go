// Package formstate provides the durable key/value slots that back in-progress
// anamnesis form sessions. A slot holds one JSON value under a stable key and
// is written through on every change so a reload or tab switch never loses
// user input.
package formstate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/clinicware/anamnesis-platform/pkg/logging"
)

// DefaultSlotTTL bounds how long an abandoned draft survives.
const DefaultSlotTTL = 7 * 24 * time.Hour

// SlotStore is the contract for durable form-state slots.
//
// Get never fails from the caller's point of view: absent or corrupt data
// yields the supplied default and a logged diagnostic. Set and Delete report
// storage errors so wrappers can degrade, but callers on the request path go
// through FallbackStore, which absorbs them.
type SlotStore interface {
	Get(ctx context.Context, key string, defaultValue json.RawMessage) json.RawMessage
	Set(ctx context.Context, key string, value json.RawMessage) error
	Delete(ctx context.Context, keys ...string) error
}

// Key builds a namespaced slot key from its parts.
func Key(prefix string, parts ...string) string {
	all := append([]string{prefix}, parts...)
	return strings.Join(all, ":")
}

// RedisSlotStore persists slots in Redis with a TTL.
type RedisSlotStore struct {
	redis  *redis.Client
	ttl    time.Duration
	tracer trace.Tracer
	logger *logging.Logger
}

// NewRedisSlotStore wires a slot store over the supplied Redis client.
func NewRedisSlotStore(client *redis.Client, ttl time.Duration, logger *logging.Logger) *RedisSlotStore {
	if client == nil {
		panic("formstate: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultSlotTTL
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &RedisSlotStore{
		redis:  client,
		ttl:    ttl,
		tracer: otel.Tracer("anamnesis.internal.formstate"),
		logger: logger,
	}
}

// Get returns the stored value, or defaultValue when the key is absent or the
// stored bytes are not valid JSON.
func (s *RedisSlotStore) Get(ctx context.Context, key string, defaultValue json.RawMessage) json.RawMessage {
	ctx, span := s.tracer.Start(ctx, "formstate.get_slot")
	defer span.End()

	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			span.RecordError(err)
			s.logger.Warn("slot read failed, serving default", "key", key, "error", err)
		}
		return defaultValue
	}
	if !json.Valid(data) {
		s.logger.Warn("slot holds corrupt data, serving default", "key", key)
		return defaultValue
	}
	return data
}

// Set writes the value through immediately. Values are stored verbatim, so
// callers must hand over valid JSON.
func (s *RedisSlotStore) Set(ctx context.Context, key string, value json.RawMessage) error {
	ctx, span := s.tracer.Start(ctx, "formstate.set_slot")
	defer span.End()

	if !json.Valid(value) {
		return fmt.Errorf("formstate: refusing to store invalid JSON under %s", key)
	}
	if err := s.redis.Set(ctx, key, []byte(value), s.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("formstate: failed to persist slot %s: %w", key, err)
	}
	return nil
}

// Delete removes the given slots. Missing keys are not an error.
func (s *RedisSlotStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	ctx, span := s.tracer.Start(ctx, "formstate.delete_slots")
	defer span.End()

	if err := s.redis.Del(ctx, keys...).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("formstate: failed to delete slots: %w", err)
	}
	return nil
}
