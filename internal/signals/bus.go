// Package signals turns raw tab visibility beacons from the form UI into
// semantic session events. Consumers subscribe to "session resumed" and
// "session suspended" transitions instead of poking at a shared global, and
// use them for opportunistic refresh of cached remote data.
package signals

import (
	"sync"
	"time"
)

// Kind identifies the semantic event type.
type Kind string

const (
	// KindSuspended fires when the form's tab becomes hidden or loses focus.
	KindSuspended Kind = "session.suspended"
	// KindResumed fires when the tab becomes visible/focused again.
	KindResumed Kind = "session.resumed"
)

// Event is one visibility transition for a form session.
type Event struct {
	Kind      Kind      `json:"kind"`
	SessionID string    `json:"session_id"`
	At        time.Time `json:"at"`
	// Elapsed is the time the session spent suspended before this resume.
	// Zero when unknown (degraded environments report focus only).
	Elapsed time.Duration `json:"elapsed"`
}

type subscriber struct {
	sessionID string // empty subscribes to every session
	ch        chan Event
}

// Bus is a typed in-process publish/subscribe channel for session events.
// Delivery is best-effort: a subscriber that stops draining its channel is
// skipped rather than blocking the publisher.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]*subscriber
	next int
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]*subscriber)}
}

// Subscribe registers for events of one session, or all sessions when
// sessionID is empty. The returned cancel func releases the subscription.
func (b *Bus) Subscribe(sessionID string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	sub := &subscriber{sessionID: sessionID, ch: make(chan Event, 16)}
	b.subs[id] = sub

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if existing, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(existing.ch)
		}
	}
	return sub.ch, cancel
}

// Publish fans the event out to matching subscribers.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if sub.sessionID != "" && sub.sessionID != event.SessionID {
			continue
		}
		select {
		case sub.ch <- event:
		default:
		}
	}
}

// SubscriberCount reports active subscriptions. Used by tests and stats.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
