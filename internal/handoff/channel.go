// Package handoff implements the one-shot transfer packets that let the
// record-history screen hand a snapshot to the form screen — "edit this
// record" or "clone it as a new draft" — without a server round trip through
// the primary store. A packet is consumed exactly once: the read deletes it.
package handoff

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Kind tags the packet variant.
type Kind string

const (
	// KindEdit pre-populates the form to modify an existing record.
	KindEdit Kind = "edit"
	// KindClone pre-populates the form as a new draft copied from a record.
	KindClone Kind = "clone"
)

// Valid reports whether the kind is a known variant.
func (k Kind) Valid() bool {
	return k == KindEdit || k == KindClone
}

// Packet is the typed transfer payload. RecordID is set only for edits;
// Sections carries the flattened section snapshots used to seed the session.
type Packet struct {
	Kind     Kind                       `json:"kind"`
	RecordID string                     `json:"record_id,omitempty"`
	Sections map[string]json.RawMessage `json:"sections"`
	IssuedAt time.Time                  `json:"issued_at"`
}

func (p *Packet) validate() error {
	if !p.Kind.Valid() {
		return fmt.Errorf("handoff: unknown packet kind %q", p.Kind)
	}
	if p.Kind == KindEdit && p.RecordID == "" {
		return fmt.Errorf("handoff: edit packet requires a record id")
	}
	if p.Kind == KindClone && p.RecordID != "" {
		return fmt.Errorf("handoff: clone packet must not carry a record id")
	}
	return nil
}

// Channel stores at most one pending packet per (scope, kind).
type Channel interface {
	Publish(ctx context.Context, scope string, packet Packet) error
	Consume(ctx context.Context, scope string, kind Kind) (*Packet, error)
}

const packetTTL = 15 * time.Minute

// RedisChannel keeps packets in Redis so the handoff survives a full page
// navigation. Consume is atomic via GETDEL.
type RedisChannel struct {
	redis  *redis.Client
	tracer trace.Tracer
}

// NewRedisChannel creates a Redis-backed handoff channel.
func NewRedisChannel(client *redis.Client) *RedisChannel {
	if client == nil {
		panic("handoff: redis client cannot be nil")
	}
	return &RedisChannel{
		redis:  client,
		tracer: otel.Tracer("anamnesis.internal.handoff"),
	}
}

func packetKey(scope string, kind Kind) string {
	return fmt.Sprintf("handoff:%s:%s", scope, kind)
}

// Publish stores the packet, replacing any packet of the same kind that was
// never consumed.
func (c *RedisChannel) Publish(ctx context.Context, scope string, packet Packet) error {
	ctx, span := c.tracer.Start(ctx, "handoff.publish")
	defer span.End()

	if packet.IssuedAt.IsZero() {
		packet.IssuedAt = time.Now().UTC()
	}
	if err := packet.validate(); err != nil {
		return err
	}
	data, err := json.Marshal(packet)
	if err != nil {
		return fmt.Errorf("handoff: encode packet: %w", err)
	}
	if err := c.redis.Set(ctx, packetKey(scope, packet.Kind), data, packetTTL).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("handoff: persist packet: %w", err)
	}
	return nil
}

// Consume atomically reads and removes the pending packet of the given kind.
// Returns nil when nothing is pending; a second consume in a row always
// returns nil.
func (c *RedisChannel) Consume(ctx context.Context, scope string, kind Kind) (*Packet, error) {
	ctx, span := c.tracer.Start(ctx, "handoff.consume")
	defer span.End()

	if !kind.Valid() {
		return nil, fmt.Errorf("handoff: unknown packet kind %q", kind)
	}
	data, err := c.redis.GetDel(ctx, packetKey(scope, kind)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("handoff: read packet: %w", err)
	}

	var packet Packet
	if err := json.Unmarshal(data, &packet); err != nil {
		// A corrupt packet is dropped rather than re-applied forever.
		return nil, fmt.Errorf("handoff: decode packet: %w", err)
	}
	return &packet, nil
}

// MemoryChannel is the in-process implementation used in tests and when Redis
// is unavailable.
type MemoryChannel struct {
	mu      sync.Mutex
	packets map[string]Packet
}

// NewMemoryChannel creates an empty in-memory channel.
func NewMemoryChannel() *MemoryChannel {
	return &MemoryChannel{packets: make(map[string]Packet)}
}

// Publish stores the packet in memory.
func (c *MemoryChannel) Publish(ctx context.Context, scope string, packet Packet) error {
	if packet.IssuedAt.IsZero() {
		packet.IssuedAt = time.Now().UTC()
	}
	if err := packet.validate(); err != nil {
		return err
	}
	c.mu.Lock()
	c.packets[packetKey(scope, packet.Kind)] = packet
	c.mu.Unlock()
	return nil
}

// Consume reads and removes the pending packet under the channel's lock.
func (c *MemoryChannel) Consume(ctx context.Context, scope string, kind Kind) (*Packet, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("handoff: unknown packet kind %q", kind)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	key := packetKey(scope, kind)
	packet, ok := c.packets[key]
	if !ok {
		return nil, nil
	}
	delete(c.packets, key)
	return &packet, nil
}
