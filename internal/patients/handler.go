package patients

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/clinicware/anamnesis-platform/internal/tenancy"
	"github.com/clinicware/anamnesis-platform/pkg/logging"
)

// Handler serves the patient directory.
type Handler struct {
	repo   Repository
	logger *logging.Logger
}

func NewHandler(repo Repository, logger *logging.Logger) *Handler {
	if repo == nil {
		panic("patients: repository cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{repo: repo, logger: logger}
}

type patientView struct {
	*Patient
	Age int `json:"age"`
}

// Search handles GET /patients?q=name&limit=20.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	clinicID, ok := tenancy.ClinicIDFromContext(r.Context())
	if !ok {
		http.Error(w, "missing clinic context", http.StatusBadRequest)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.repo.Search(r.Context(), clinicID, r.URL.Query().Get("q"), limit)
	if err != nil {
		h.logger.Error("patient search failed", "clinic_id", clinicID, "error", err.Error())
		http.Error(w, "search failed", http.StatusInternalServerError)
		return
	}

	now := time.Now().UTC()
	views := make([]patientView, 0, len(results))
	for _, patient := range results {
		views = append(views, patientView{Patient: patient, Age: patient.Age(now)})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"patients": views, "count": len(views)})
}

// Get handles GET /patients/{patientID}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	clinicID, ok := tenancy.ClinicIDFromContext(r.Context())
	if !ok {
		http.Error(w, "missing clinic context", http.StatusBadRequest)
		return
	}
	patientID := chi.URLParam(r, "patientID")

	patient, err := h.repo.GetByID(r.Context(), clinicID, patientID)
	if err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			http.Error(w, "patient not found", http.StatusNotFound)
			return
		}
		h.logger.Error("patient lookup failed", "patient_id", patientID, "error", err.Error())
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(patientView{Patient: patient, Age: patient.Age(time.Now().UTC())})
}

type createPatientRequest struct {
	Name      string `json:"name"`
	BirthDate string `json:"birth_date"`
	Phone     string `json:"phone,omitempty"`
	Email     string `json:"email,omitempty"`
}

// Create handles POST /patients.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	clinicID, ok := tenancy.ClinicIDFromContext(r.Context())
	if !ok {
		http.Error(w, "missing clinic context", http.StatusBadRequest)
		return
	}

	var req createPatientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	birthDate, err := time.Parse("2006-01-02", req.BirthDate)
	if err != nil {
		http.Error(w, "birth_date must be YYYY-MM-DD", http.StatusUnprocessableEntity)
		return
	}

	patient, err := h.repo.Create(r.Context(), &Patient{
		ClinicID:  clinicID,
		Name:      req.Name,
		BirthDate: birthDate,
		Phone:     req.Phone,
		Email:     req.Email,
	})
	if err != nil {
		h.logger.Error("patient create failed", "clinic_id", clinicID, "error", err.Error())
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(patient)
}
