package formsession

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/clinicware/anamnesis-platform/internal/observability/metrics"
	"github.com/clinicware/anamnesis-platform/internal/tenancy"
	"github.com/clinicware/anamnesis-platform/pkg/logging"
)

const maxSectionBytes = 256 * 1024

// Handler exposes the form-session surface consumed by the multi-step UI.
type Handler struct {
	aggregator *Aggregator
	metrics    *metrics.SessionMetrics
	logger     *logging.Logger
}

// HandlerOption customizes the handler.
type HandlerOption func(*Handler)

// WithMetrics counts section updates per section name.
func WithMetrics(m *metrics.SessionMetrics) HandlerOption {
	return func(h *Handler) { h.metrics = m }
}

// NewHandler creates a form-session handler.
func NewHandler(aggregator *Aggregator, logger *logging.Logger, opts ...HandlerOption) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	h := &Handler{aggregator: aggregator, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) scopeFromRequest(w http.ResponseWriter, r *http.Request) (Scope, bool) {
	clinicID, ok := tenancy.ClinicIDFromContext(r.Context())
	if !ok {
		http.Error(w, "missing clinic context", http.StatusBadRequest)
		return Scope{}, false
	}
	professionalID, ok := tenancy.ProfessionalIDFromContext(r.Context())
	if !ok {
		http.Error(w, "missing professional context", http.StatusBadRequest)
		return Scope{}, false
	}
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		http.Error(w, "missing session id", http.StatusBadRequest)
		return Scope{}, false
	}
	return Scope{ClinicID: clinicID, ProfessionalID: professionalID, SessionID: sessionID}, true
}

// UpdateSection handles PUT /sessions/{sessionID}/sections/{section}.
func (h *Handler) UpdateSection(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scopeFromRequest(w, r)
	if !ok {
		return
	}
	section := chi.URLParam(r, "section")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxSectionBytes))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if err := h.aggregator.UpdateSection(r.Context(), scope, section, body); err != nil {
		h.logger.Warn("section update rejected", "section", section, "session_id", scope.SessionID, "error", err)
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	h.metrics.ObserveSectionUpdate(section)
	w.WriteHeader(http.StatusNoContent)
}

type patientModeRequest struct {
	Mode PatientMode `json:"mode"`
}

// SetPatientMode handles PUT /sessions/{sessionID}/patient-mode.
func (h *Handler) SetPatientMode(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scopeFromRequest(w, r)
	if !ok {
		return
	}

	var req patientModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.aggregator.SetPatientMode(r.Context(), scope, req.Mode); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Snapshot handles GET /sessions/{sessionID}.
func (h *Handler) Snapshot(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scopeFromRequest(w, r)
	if !ok {
		return
	}
	session, err := h.aggregator.Snapshot(r.Context(), scope)
	if err != nil {
		h.logger.Error("snapshot failed", "session_id", scope.SessionID, "error", err)
		http.Error(w, "failed to load session", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(session)
}

// Reset handles DELETE /sessions/{sessionID}.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scopeFromRequest(w, r)
	if !ok {
		return
	}
	if err := h.aggregator.Reset(r.Context(), scope); err != nil {
		h.logger.Error("session reset failed", "session_id", scope.SessionID, "error", err)
		http.Error(w, "failed to reset session", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
