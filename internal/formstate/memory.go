package formstate

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemorySlotStore keeps slots in process memory. Used directly in tests and
// development, and as the degradation target when durable storage is down.
type MemorySlotStore struct {
	mu    sync.RWMutex
	slots map[string]json.RawMessage
}

// NewMemorySlotStore creates an empty in-memory slot store.
func NewMemorySlotStore() *MemorySlotStore {
	return &MemorySlotStore{slots: make(map[string]json.RawMessage)}
}

// Get returns the stored value or defaultValue when absent.
func (s *MemorySlotStore) Get(ctx context.Context, key string, defaultValue json.RawMessage) json.RawMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.slots[key]
	if !ok {
		return defaultValue
	}
	return value
}

// Set stores a copy of the value.
func (s *MemorySlotStore) Set(ctx context.Context, key string, value json.RawMessage) error {
	if !json.Valid(value) {
		return fmt.Errorf("formstate: refusing to store invalid JSON under %s", key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[key] = append(json.RawMessage(nil), value...)
	return nil
}

// Delete removes the given slots.
func (s *MemorySlotStore) Delete(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.slots, key)
	}
	return nil
}

// Has reports whether a key is present. Exposed for the fallback wrapper.
func (s *MemorySlotStore) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.slots[key]
	return ok
}
