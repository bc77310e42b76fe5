package middleware

import (
	"net/http"

	"github.com/clinicware/anamnesis-platform/internal/identity"
	"github.com/clinicware/anamnesis-platform/internal/tenancy"
	"github.com/clinicware/anamnesis-platform/pkg/logging"
)

// Tenant resolves the acting user's clinic and professional profile and
// places them in the request context. Users without a membership get 403:
// they are authenticated but have no clinic to operate under yet.
func Tenant(resolver identity.Resolver, logger *logging.Logger) func(http.Handler) http.Handler {
	if resolver == nil {
		panic("middleware: tenant resolver cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := tenancy.UserIDFromContext(r.Context())
			if !ok {
				http.Error(w, "missing user context", http.StatusUnauthorized)
				return
			}

			tenant, found, err := resolver.Resolve(r.Context(), userID)
			if err != nil {
				logger.Error("tenant resolution failed", "user_id", userID, "error", err.Error())
				http.Error(w, "tenant resolution failed", http.StatusBadGateway)
				return
			}
			if !found {
				http.Error(w, "no clinic membership", http.StatusForbidden)
				return
			}

			ctx := tenancy.WithClinicID(r.Context(), tenant.ClinicID)
			ctx = tenancy.WithProfessionalID(ctx, tenant.ProfessionalID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
