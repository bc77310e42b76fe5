package tenancy

import "context"

type ctxKey string

const (
	clinicKey       ctxKey = "anamnesis.clinic_id"
	professionalKey ctxKey = "anamnesis.professional_id"
	userKey         ctxKey = "anamnesis.user_id"
)

// TenantContext carries the identifiers that scope a record to its owner.
type TenantContext struct {
	ClinicID       string `json:"clinic_id"`
	ProfessionalID string `json:"professional_id"`
}

// WithClinicID stores the clinic id in context.
func WithClinicID(ctx context.Context, clinicID string) context.Context {
	return context.WithValue(ctx, clinicKey, clinicID)
}

// ClinicIDFromContext extracts the clinic id if present.
func ClinicIDFromContext(ctx context.Context) (string, bool) {
	val := ctx.Value(clinicKey)
	if val == nil {
		return "", false
	}
	clinicID, ok := val.(string)
	return clinicID, ok && clinicID != ""
}

// WithProfessionalID stores the professional id in context.
func WithProfessionalID(ctx context.Context, professionalID string) context.Context {
	return context.WithValue(ctx, professionalKey, professionalID)
}

// ProfessionalIDFromContext extracts the professional id if present.
func ProfessionalIDFromContext(ctx context.Context) (string, bool) {
	val := ctx.Value(professionalKey)
	if val == nil {
		return "", false
	}
	professionalID, ok := val.(string)
	return professionalID, ok && professionalID != ""
}

// WithUserID stores the authenticated user id in context.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey, userID)
}

// UserIDFromContext extracts the authenticated user id if present.
func UserIDFromContext(ctx context.Context) (string, bool) {
	val := ctx.Value(userKey)
	if val == nil {
		return "", false
	}
	userID, ok := val.(string)
	return userID, ok && userID != ""
}
