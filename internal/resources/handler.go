package resources

import (
	"encoding/json"
	"net/http"

	"github.com/clinicware/anamnesis-platform/internal/tenancy"
	"github.com/clinicware/anamnesis-platform/pkg/logging"
)

// Handler serves the clinic's resource catalogue. The writer is optional;
// read-only deployments leave it nil and creation returns 405.
type Handler struct {
	catalog *Catalog
	writer  Writer
	logger  *logging.Logger
}

func NewHandler(catalog *Catalog, writer Writer, logger *logging.Logger) *Handler {
	if catalog == nil {
		panic("resources: catalog cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{catalog: catalog, writer: writer, logger: logger}
}

// List handles GET /resources. Pass ?reload=true to bypass the cache.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	clinicID, ok := tenancy.ClinicIDFromContext(r.Context())
	if !ok {
		http.Error(w, "missing clinic context", http.StatusBadRequest)
		return
	}

	if r.URL.Query().Get("reload") == "true" {
		h.catalog.Invalidate()
	}

	catalogue, err := h.catalog.Get(r.Context(), clinicID)
	if err != nil {
		h.logger.Error("failed to load resource catalogue", "clinic_id", clinicID, "error", err.Error())
		http.Error(w, "failed to load resources", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(catalogue)
}

type createResourceRequest struct {
	Kind Kind   `json:"kind"`
	Name string `json:"name"`
}

// Create handles POST /resources.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if h.writer == nil {
		http.Error(w, "resource creation disabled", http.StatusMethodNotAllowed)
		return
	}
	clinicID, ok := tenancy.ClinicIDFromContext(r.Context())
	if !ok {
		http.Error(w, "missing clinic context", http.StatusBadRequest)
		return
	}

	var req createResourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	res := &Resource{ClinicID: clinicID, Kind: req.Kind, Name: req.Name}
	if err := h.writer.Create(r.Context(), res); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	// New inventory must show up on the next catalogue read.
	h.catalog.Invalidate()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(res)
}
