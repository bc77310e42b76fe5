package submission

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/clinicware/anamnesis-platform/internal/observability/metrics"
	"github.com/clinicware/anamnesis-platform/internal/tenancy"
	"github.com/clinicware/anamnesis-platform/pkg/logging"
)

// Handler exposes the submission flow over HTTP.
type Handler struct {
	orchestrator *Orchestrator
	metrics      *metrics.SubmissionMetrics
	logger       *logging.Logger
}

// HandlerOption customizes the handler.
type HandlerOption func(*Handler)

// WithMetrics records outcome counters and durations for each submission.
func WithMetrics(m *metrics.SubmissionMetrics) HandlerOption {
	return func(h *Handler) { h.metrics = m }
}

func NewHandler(orchestrator *Orchestrator, logger *logging.Logger, opts ...HandlerOption) *Handler {
	if orchestrator == nil {
		panic("submission: orchestrator cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	h := &Handler{orchestrator: orchestrator, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Submit handles POST /sessions/{sessionID}/submit. The response status
// mirrors the terminal state: 201 on Done, 422 on validation failure, 502 on
// a fatal step, 409 when the session already has a submit in flight.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	userID, ok := tenancy.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "missing user context", http.StatusUnauthorized)
		return
	}
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		http.Error(w, "missing session id", http.StatusBadRequest)
		return
	}

	start := time.Now()
	outcome, err := h.orchestrator.Submit(r.Context(), userID, sessionID)
	if err != nil {
		if errors.Is(err, ErrSubmissionInFlight) {
			http.Error(w, "submission already in flight", http.StatusConflict)
			return
		}
		h.logger.Error("submission handler failed", "session_id", sessionID, "error", err.Error())
		http.Error(w, "submission failed", http.StatusInternalServerError)
		return
	}

	h.metrics.ObserveOutcome(string(outcome.State), time.Since(start).Seconds())
	for _, warning := range outcome.Warnings {
		h.metrics.ObserveWarning(warningStage(warning))
	}

	status := http.StatusCreated
	switch outcome.State {
	case StateIdle:
		status = http.StatusUnprocessableEntity
	case StateError:
		status = http.StatusBadGateway
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(outcome)
}

// warningStage buckets free-text warnings into a low-cardinality metric label.
func warningStage(warning string) string {
	switch {
	case strings.HasPrefix(warning, "enrichment did not complete"):
		return string(StateRequestingEnrichment)
	case strings.HasPrefix(warning, "enrichment could not be attached"):
		return string(StatePatchingPrimary)
	default:
		return "session_reset"
	}
}
