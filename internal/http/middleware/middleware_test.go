package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/clinicware/anamnesis-platform/internal/identity"
	"github.com/clinicware/anamnesis-platform/internal/tenancy"
	"github.com/clinicware/anamnesis-platform/pkg/logging"
)

func TestCORSAllowsListedOrigin(t *testing.T) {
	called := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	mw := CORS([]string{"https://app.clinic.test"})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://app.clinic.test")
	rec := httptest.NewRecorder()

	mw(handler).ServeHTTP(rec, req)

	if !called {
		t.Fatal("expected handler to be called")
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.clinic.test" {
		t.Fatalf("expected allow origin header, got %q", got)
	}
}

func TestCORSDeniesUnknownOrigin(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mw := CORS([]string{"https://app.clinic.test"})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.test")
	rec := httptest.NewRecorder()

	mw(handler).ServeHTTP(rec, req)

	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("unknown origin must not be echoed back")
	}
}

func signToken(t *testing.T, secret, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestJWTAuthAcceptsValidToken(t *testing.T) {
	var gotUserID string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID, _ = tenancy.UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/records", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "secret", "user-1"))
	rec := httptest.NewRecorder()

	JWTAuth("secret")(handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if gotUserID != "user-1" {
		t.Fatalf("expected subject in context, got %q", gotUserID)
	}
}

func TestJWTAuthRejectsBadSignature(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	})

	req := httptest.NewRequest(http.MethodGet, "/records", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "other-secret", "user-1"))
	rec := httptest.NewRecorder()

	JWTAuth("secret")(handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestTenantInjectsClinicContext(t *testing.T) {
	resolver := identity.NewStaticResolver()
	resolver.Add("user-1", tenancy.TenantContext{ClinicID: "clinic-1", ProfessionalID: "prof-1"})

	var clinicID, professionalID string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clinicID, _ = tenancy.ClinicIDFromContext(r.Context())
		professionalID, _ = tenancy.ProfessionalIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/records", nil)
	req = req.WithContext(tenancy.WithUserID(req.Context(), "user-1"))
	rec := httptest.NewRecorder()

	Tenant(resolver, logging.New("error"))(handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if clinicID != "clinic-1" || professionalID != "prof-1" {
		t.Fatalf("tenant context missing: clinic=%q professional=%q", clinicID, professionalID)
	}
}

func TestTenantRejectsUsersWithoutMembership(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	})

	req := httptest.NewRequest(http.MethodGet, "/records", nil)
	req = req.WithContext(tenancy.WithUserID(req.Context(), "stranger"))
	rec := httptest.NewRecorder()

	Tenant(identity.NewStaticResolver(), logging.New("error"))(handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func newBeaconRouter(rate float64, burst int) http.Handler {
	r := chi.NewRouter()
	r.With(RateLimit(rate, burst)).Post("/sessions/{sessionID}/beacon", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	return r
}

func postBeacon(t *testing.T, router http.Handler, professionalID, sessionID string) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/sessions/"+sessionID+"/beacon", nil)
	req = req.WithContext(tenancy.WithProfessionalID(req.Context(), professionalID))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec.Code
}

func TestRateLimitRejectsBursts(t *testing.T) {
	router := newBeaconRouter(1, 2)

	var rejected bool
	for i := 0; i < 5; i++ {
		if postBeacon(t, router, "prof-1", "sess-1") == http.StatusTooManyRequests {
			rejected = true
		}
	}
	if !rejected {
		t.Fatal("expected the burst to trip the limiter")
	}
}

func TestRateLimitScopesBucketsPerSession(t *testing.T) {
	router := newBeaconRouter(1, 2)

	for i := 0; i < 5; i++ {
		postBeacon(t, router, "prof-1", "sess-a")
	}
	if code := postBeacon(t, router, "prof-1", "sess-b"); code != http.StatusAccepted {
		t.Fatalf("a throttled session must not starve another, got %d", code)
	}
	if code := postBeacon(t, router, "prof-2", "sess-a"); code != http.StatusAccepted {
		t.Fatalf("a throttled professional must not starve another, got %d", code)
	}
}

func TestRateLimitFallsBackToAddressWithoutTenant(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mw := RateLimit(1, 2)

	var rejected bool
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodPost, "/sessions/s/beacon", nil)
		req.Header.Set("X-Real-Ip", "10.0.0.1")
		rec := httptest.NewRecorder()
		mw(handler).ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			rejected = true
		}
	}
	if !rejected {
		t.Fatal("expected the burst to trip the limiter")
	}
}
