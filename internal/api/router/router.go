package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/clinicware/anamnesis-platform/internal/anamnesis"
	"github.com/clinicware/anamnesis-platform/internal/formsession"
	"github.com/clinicware/anamnesis-platform/internal/handoff"
	httpmiddleware "github.com/clinicware/anamnesis-platform/internal/http/middleware"
	"github.com/clinicware/anamnesis-platform/internal/identity"
	"github.com/clinicware/anamnesis-platform/internal/patients"
	"github.com/clinicware/anamnesis-platform/internal/protocol"
	"github.com/clinicware/anamnesis-platform/internal/resources"
	"github.com/clinicware/anamnesis-platform/internal/signals"
	"github.com/clinicware/anamnesis-platform/internal/submission"
	"github.com/clinicware/anamnesis-platform/pkg/logging"
)

// Config holds router configuration. Handlers left nil simply do not get
// their routes mounted, which keeps partial deployments (e.g. a read-only
// records service) possible without build flags.
type Config struct {
	Logger *logging.Logger

	// AuthSecret enables HMAC JWT validation; when empty the router falls
	// back to trusting the X-User-Id header, which is only acceptable for
	// local development.
	AuthSecret string
	Resolver   identity.Resolver

	CORSAllowedOrigins []string
	MetricsHandler     http.Handler

	// Beacon ingestion is the one surface the browser fires on every tab
	// switch, so it carries its own rate limit.
	BeaconRatePerSecond float64
	BeaconBurst         int

	FormSessions *formsession.Handler
	Submissions  *submission.Handler
	Signals      *signals.Handler
	Handoff      *handoff.Handler
	Records      *anamnesis.Handler
	Enrichment   *protocol.Handler
	Resources    *resources.Handler
	Patients     *patients.Handler
}

// New creates a chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints.
	r.Group(func(public chi.Router) {
		public.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	auth := httpmiddleware.HeaderAuth()
	if cfg.AuthSecret != "" {
		auth = httpmiddleware.JWTAuth(cfg.AuthSecret)
	}

	beaconRate := cfg.BeaconRatePerSecond
	if beaconRate <= 0 {
		beaconRate = 5
	}
	beaconBurst := cfg.BeaconBurst
	if beaconBurst <= 0 {
		beaconBurst = 10
	}

	// Tenant-scoped API routes.
	r.Group(func(tenant chi.Router) {
		tenant.Use(auth)
		if cfg.Resolver != nil {
			tenant.Use(httpmiddleware.Tenant(cfg.Resolver, cfg.Logger))
		}

		tenant.Route("/sessions/{sessionID}", func(r chi.Router) {
			if cfg.FormSessions != nil {
				r.Get("/", cfg.FormSessions.Snapshot)
				r.Delete("/", cfg.FormSessions.Reset)
				r.Put("/sections/{section}", cfg.FormSessions.UpdateSection)
				r.Put("/patient-mode", cfg.FormSessions.SetPatientMode)
			}
			if cfg.Submissions != nil {
				r.Post("/submit", cfg.Submissions.Submit)
			}
			if cfg.Signals != nil {
				r.With(httpmiddleware.RateLimit(beaconRate, beaconBurst)).Post("/beacon", cfg.Signals.PostBeacon)
				r.Get("/events", cfg.Signals.Events)
			}
		})

		if cfg.Handoff != nil {
			tenant.Route("/handoff/{kind}", func(r chi.Router) {
				r.Post("/", cfg.Handoff.Publish)
				r.Post("/consume", cfg.Handoff.Consume)
			})
		}

		if cfg.Records != nil {
			tenant.Route("/records", func(r chi.Router) {
				r.Get("/", cfg.Records.List)
				r.Get("/{recordID}", cfg.Records.Get)
				if cfg.Enrichment != nil {
					r.Post("/{recordID}/enrich", cfg.Enrichment.Enqueue)
				}
			})
		}
		if cfg.Enrichment != nil {
			tenant.Get("/enrichment-jobs/{jobID}", cfg.Enrichment.JobStatus)
		}

		if cfg.Resources != nil {
			tenant.Get("/resources", cfg.Resources.List)
			tenant.Post("/resources", cfg.Resources.Create)
		}

		if cfg.Patients != nil {
			tenant.Route("/patients", func(r chi.Router) {
				r.Get("/", cfg.Patients.Search)
				r.Post("/", cfg.Patients.Create)
				r.Get("/{patientID}", cfg.Patients.Get)
			})
		}
	})

	return r
}
