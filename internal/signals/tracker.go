package signals

import (
	"sync"
	"time"

	"github.com/clinicware/anamnesis-platform/pkg/logging"
)

// DefaultCoalesceWindow collapses rapid blur/focus pairs (alt-tabbing) into a
// single genuine transition.
const DefaultCoalesceWindow = 2 * time.Second

type sessionState struct {
	suspendedAt   time.Time
	suspended     bool
	lastResumedAt time.Time
}

// Tracker ingests raw visibility beacons and publishes coalesced semantic
// events on the bus. One tracker serves all sessions; per-session state is
// kept internally, never in a process-wide flag.
type Tracker struct {
	bus      *Bus
	window   time.Duration
	logger   *logging.Logger
	observer func(Event)

	mu       sync.Mutex
	sessions map[string]*sessionState
	now      func() time.Time
}

// TrackerOption configures the tracker.
type TrackerOption func(*Tracker)

// WithCoalesceWindow overrides the blur/focus de-duplication window.
func WithCoalesceWindow(window time.Duration) TrackerOption {
	return func(t *Tracker) {
		if window > 0 {
			t.window = window
		}
	}
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithObserver registers a hook invoked for every published event, e.g. to
// bump metrics counters.
func WithObserver(fn func(Event)) TrackerOption {
	return func(t *Tracker) { t.observer = fn }
}

// NewTracker wires a tracker over the supplied bus.
func NewTracker(bus *Bus, logger *logging.Logger, opts ...TrackerOption) *Tracker {
	if bus == nil {
		panic("signals: bus cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	t := &Tracker{
		bus:      bus,
		window:   DefaultCoalesceWindow,
		logger:   logger,
		sessions: make(map[string]*sessionState),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ReportSuspended records that the session's tab went hidden or unfocused.
// Repeated suspends without an intervening resume are idempotent.
func (t *Tracker) ReportSuspended(sessionID string) {
	t.mu.Lock()
	state := t.state(sessionID)
	if state.suspended {
		t.mu.Unlock()
		return
	}
	now := t.now()
	state.suspended = true
	state.suspendedAt = now
	t.mu.Unlock()

	t.publish(Event{Kind: KindSuspended, SessionID: sessionID, At: now})
}

// ReportResumed records that the session's tab became visible/focused again
// and publishes a resumed event carrying the suspended duration. Repeated
// resumes inside the coalesce window collapse into the first one, so an
// alt-tab storm invokes recovery logic at most once per window — but even
// the briefest genuine suspension still produces its event.
func (t *Tracker) ReportResumed(sessionID string) {
	t.mu.Lock()
	state := t.state(sessionID)
	now := t.now()

	var elapsed time.Duration
	if state.suspended {
		elapsed = now.Sub(state.suspendedAt)
		state.suspended = false
	}
	// Degraded environments never report suspends; a bare focus beacon still
	// produces a resumed event, just without timing metadata.

	if !state.lastResumedAt.IsZero() && now.Sub(state.lastResumedAt) < t.window {
		t.mu.Unlock()
		return
	}
	state.lastResumedAt = now
	t.mu.Unlock()

	t.publish(Event{Kind: KindResumed, SessionID: sessionID, At: now, Elapsed: elapsed})
}

// Forget drops per-session state, e.g. after a session is reset.
func (t *Tracker) Forget(sessionID string) {
	t.mu.Lock()
	delete(t.sessions, sessionID)
	t.mu.Unlock()
}

func (t *Tracker) state(sessionID string) *sessionState {
	state, ok := t.sessions[sessionID]
	if !ok {
		state = &sessionState{}
		t.sessions[sessionID] = state
	}
	return state
}

func (t *Tracker) publish(event Event) {
	t.logger.Debug("session visibility transition",
		"session_id", event.SessionID,
		"kind", string(event.Kind),
		"elapsed", event.Elapsed,
	)
	if t.observer != nil {
		t.observer(event)
	}
	t.bus.Publish(event)
}
