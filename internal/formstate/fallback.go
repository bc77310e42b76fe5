package formstate

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/clinicware/anamnesis-platform/pkg/logging"
)

// FallbackStore wraps a durable SlotStore and degrades to in-memory slots for
// keys whose durable write failed (quota exceeded, Redis down). The failure is
// logged once per key and never surfaces to the caller, so the form keeps
// working for the rest of the session.
type FallbackStore struct {
	primary SlotStore
	overlay *MemorySlotStore
	logger  *logging.Logger

	mu       sync.Mutex
	degraded map[string]struct{}
}

// NewFallbackStore wraps primary with silent in-memory degradation.
func NewFallbackStore(primary SlotStore, logger *logging.Logger) *FallbackStore {
	if primary == nil {
		panic("formstate: primary slot store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &FallbackStore{
		primary:  primary,
		overlay:  NewMemorySlotStore(),
		logger:   logger,
		degraded: make(map[string]struct{}),
	}
}

// Get serves degraded keys from the overlay, everything else from the primary.
func (s *FallbackStore) Get(ctx context.Context, key string, defaultValue json.RawMessage) json.RawMessage {
	if s.overlay.Has(key) {
		return s.overlay.Get(ctx, key, defaultValue)
	}
	return s.primary.Get(ctx, key, defaultValue)
}

// Set writes through to durable storage; on failure the value lands in the
// overlay instead and the key stays in-memory-only until deleted.
func (s *FallbackStore) Set(ctx context.Context, key string, value json.RawMessage) error {
	if err := s.primary.Set(ctx, key, value); err != nil {
		s.mu.Lock()
		if _, seen := s.degraded[key]; !seen {
			s.logger.Warn("durable slot write failed, degrading to memory", "key", key, "error", err)
			s.degraded[key] = struct{}{}
		}
		s.mu.Unlock()
		return s.overlay.Set(ctx, key, value)
	}
	// A durable write supersedes any stale overlay copy.
	if s.overlay.Has(key) {
		_ = s.overlay.Delete(ctx, key)
		s.mu.Lock()
		delete(s.degraded, key)
		s.mu.Unlock()
	}
	return nil
}

// Delete clears both layers.
func (s *FallbackStore) Delete(ctx context.Context, keys ...string) error {
	_ = s.overlay.Delete(ctx, keys...)
	s.mu.Lock()
	for _, key := range keys {
		delete(s.degraded, key)
	}
	s.mu.Unlock()
	return s.primary.Delete(ctx, keys...)
}
