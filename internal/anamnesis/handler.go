package anamnesis

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/clinicware/anamnesis-platform/internal/tenancy"
	"github.com/clinicware/anamnesis-platform/pkg/logging"
)

// Handler serves the record-history surface.
type Handler struct {
	repo   Repository
	logger *logging.Logger
}

// NewHandler creates a records handler.
func NewHandler(repo Repository, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{repo: repo, logger: logger}
}

// ListRecordsResponse is the response for listing records.
type ListRecordsResponse struct {
	Records []*Record `json:"records"`
	Count   int       `json:"count"`
	Offset  int       `json:"offset"`
	Limit   int       `json:"limit"`
}

// List handles GET /records requests.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	clinicID, ok := tenancy.ClinicIDFromContext(r.Context())
	if !ok {
		http.Error(w, "missing clinic context", http.StatusBadRequest)
		return
	}

	filter := ListFilter{Limit: 50}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 && limit <= 100 {
			filter.Limit = limit
		}
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil && offset >= 0 {
			filter.Offset = offset
		}
	}
	if professionalID := r.URL.Query().Get("professional_id"); professionalID != "" {
		filter.ProfessionalID = professionalID
	}
	if patientID := r.URL.Query().Get("patient_id"); patientID != "" {
		filter.PatientID = patientID
	}

	records, err := h.repo.ListByClinic(r.Context(), clinicID, filter)
	if err != nil {
		h.logger.Error("failed to list records", "error", err, "clinic_id", clinicID)
		http.Error(w, "failed to list records", http.StatusInternalServerError)
		return
	}

	response := ListRecordsResponse{
		Records: records,
		Count:   len(records),
		Offset:  filter.Offset,
		Limit:   filter.Limit,
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

// Get handles GET /records/{recordID} requests.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	clinicID, ok := tenancy.ClinicIDFromContext(r.Context())
	if !ok {
		http.Error(w, "missing clinic context", http.StatusBadRequest)
		return
	}
	recordID := chi.URLParam(r, "recordID")

	record, err := h.repo.GetByID(r.Context(), clinicID, recordID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			http.Error(w, "record not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to load record", "error", err, "record_id", recordID)
		http.Error(w, "failed to load record", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(record)
}
