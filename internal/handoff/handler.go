package handoff

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/clinicware/anamnesis-platform/internal/formsession"
	"github.com/clinicware/anamnesis-platform/internal/tenancy"
	"github.com/clinicware/anamnesis-platform/pkg/logging"
)

// Seeder pre-populates a form session from a consumed packet. Satisfied by
// the formsession aggregator.
type Seeder interface {
	Reset(ctx context.Context, scope formsession.Scope) error
	Seed(ctx context.Context, scope formsession.Scope, sections map[string]json.RawMessage) error
	SetOriginRecord(ctx context.Context, scope formsession.Scope, recordID string) error
}

// Handler exposes the publish/consume endpoints used by the history and form
// screens.
type Handler struct {
	channel Channel
	seeder  Seeder
	logger  *logging.Logger
}

// HandlerOption customizes the handler.
type HandlerOption func(*Handler)

// WithSeeder makes Consume seed the target form session server-side when the
// caller names one.
func WithSeeder(s Seeder) HandlerOption {
	return func(h *Handler) { h.seeder = s }
}

// NewHandler creates a handoff handler.
func NewHandler(channel Channel, logger *logging.Logger, opts ...HandlerOption) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	h := &Handler{channel: channel, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func scopeFromRequest(r *http.Request) (string, error) {
	clinicID, ok := tenancy.ClinicIDFromContext(r.Context())
	if !ok {
		return "", fmt.Errorf("missing clinic context")
	}
	professionalID, ok := tenancy.ProfessionalIDFromContext(r.Context())
	if !ok {
		return "", fmt.Errorf("missing professional context")
	}
	return clinicID + ":" + professionalID, nil
}

// Publish handles POST /handoff/{kind}.
func (h *Handler) Publish(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var packet Packet
	if err := json.NewDecoder(r.Body).Decode(&packet); err != nil {
		http.Error(w, "invalid packet body", http.StatusBadRequest)
		return
	}
	packet.Kind = Kind(chi.URLParam(r, "kind"))

	if err := h.channel.Publish(r.Context(), scope, packet); err != nil {
		h.logger.Warn("handoff publish rejected", "kind", string(packet.Kind), "error", err)
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// Consume handles POST /handoff/{kind}/consume. Responds 204 when nothing is
// pending so the form's initialization can run unconditionally.
func (h *Handler) Consume(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	kind := Kind(chi.URLParam(r, "kind"))
	packet, err := h.channel.Consume(r.Context(), scope, kind)
	if err != nil {
		h.logger.Error("handoff consume failed", "kind", string(kind), "error", err)
		http.Error(w, "failed to consume packet", http.StatusInternalServerError)
		return
	}
	if packet == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	// When the form names its session, seed it here so the next snapshot
	// already carries the source record's answers.
	if sessionID := r.URL.Query().Get("session"); sessionID != "" && h.seeder != nil {
		h.seedSession(r.Context(), sessionID, packet)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(packet)
}

// seedSession resets the target session and loads the packet's sections into
// it. An edit packet additionally marks the session with its source record so
// submitting updates that record instead of creating a new one. Failures are
// logged and the packet is still returned; the form can populate locally.
func (h *Handler) seedSession(ctx context.Context, sessionID string, packet *Packet) {
	clinicID, _ := tenancy.ClinicIDFromContext(ctx)
	professionalID, _ := tenancy.ProfessionalIDFromContext(ctx)
	scope := formsession.Scope{
		ClinicID:       clinicID,
		ProfessionalID: professionalID,
		SessionID:      sessionID,
	}

	if err := h.seeder.Reset(ctx, scope); err != nil {
		h.logger.Warn("handoff seed: session reset failed", "session_id", sessionID, "error", err)
		return
	}
	if err := h.seeder.Seed(ctx, scope, packet.Sections); err != nil {
		h.logger.Warn("handoff seed: section load failed", "session_id", sessionID, "error", err)
		return
	}
	if packet.Kind == KindEdit {
		if err := h.seeder.SetOriginRecord(ctx, scope, packet.RecordID); err != nil {
			h.logger.Warn("handoff seed: origin mark failed", "session_id", sessionID, "record_id", packet.RecordID, "error", err)
		}
	}
}
