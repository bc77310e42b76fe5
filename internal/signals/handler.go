package signals

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/clinicware/anamnesis-platform/pkg/logging"
)

// Beacon is the raw visibility report the form UI sends.
type Beacon struct {
	State string `json:"state"` // "hidden" or "visible"
}

// Handler exposes the beacon ingestion endpoints: a plain POST fallback and a
// websocket channel that also pushes resumed/suspended events back to the
// client so open components can refresh stale catalogues.
type Handler struct {
	tracker  *Tracker
	bus      *Bus
	logger   *logging.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a signals handler.
func NewHandler(tracker *Tracker, bus *Bus, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		tracker: tracker,
		bus:     bus,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin enforcement happens in the CORS middleware.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// PostBeacon handles POST /sessions/{sessionID}/beacon.
func (h *Handler) PostBeacon(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		http.Error(w, "missing session id", http.StatusBadRequest)
		return
	}

	var beacon Beacon
	if err := json.NewDecoder(r.Body).Decode(&beacon); err != nil {
		http.Error(w, "invalid beacon body", http.StatusBadRequest)
		return
	}

	switch strings.ToLower(strings.TrimSpace(beacon.State)) {
	case "hidden", "blur":
		h.tracker.ReportSuspended(sessionID)
	case "visible", "focus":
		h.tracker.ReportResumed(sessionID)
	default:
		http.Error(w, "unknown beacon state", http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

type wsEventPayload struct {
	Kind      string `json:"kind"`
	SessionID string `json:"session_id"`
	At        string `json:"at"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

// Events handles GET /sessions/{sessionID}/events: upgrades to a websocket,
// consumes beacons from the client, and streams semantic events back.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		http.Error(w, "missing session id", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err, "session_id", sessionID)
		return
	}
	defer conn.Close()

	events, cancel := h.bus.Subscribe(sessionID)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var beacon Beacon
			if err := conn.ReadJSON(&beacon); err != nil {
				return
			}
			switch strings.ToLower(strings.TrimSpace(beacon.State)) {
			case "hidden", "blur":
				h.tracker.ReportSuspended(sessionID)
			case "visible", "focus":
				h.tracker.ReportResumed(sessionID)
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			payload := wsEventPayload{
				Kind:      string(event.Kind),
				SessionID: event.SessionID,
				At:        event.At.UTC().Format(time.RFC3339Nano),
				ElapsedMS: event.Elapsed.Milliseconds(),
			}
			if err := conn.WriteJSON(payload); err != nil {
				return
			}
		}
	}
}
