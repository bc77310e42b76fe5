package tenancy

import (
	"context"
	"testing"
)

func TestClinicIDRoundTrip(t *testing.T) {
	ctx := WithClinicID(context.Background(), "clinic-1")
	got, ok := ClinicIDFromContext(ctx)
	if !ok || got != "clinic-1" {
		t.Fatalf("expected clinic-1, got %q ok=%v", got, ok)
	}
}

func TestMissingValues(t *testing.T) {
	ctx := context.Background()
	if _, ok := ClinicIDFromContext(ctx); ok {
		t.Error("expected no clinic id")
	}
	if _, ok := ProfessionalIDFromContext(ctx); ok {
		t.Error("expected no professional id")
	}
	if _, ok := UserIDFromContext(ctx); ok {
		t.Error("expected no user id")
	}
}

func TestEmptyStringTreatedAsAbsent(t *testing.T) {
	ctx := WithProfessionalID(context.Background(), "")
	if _, ok := ProfessionalIDFromContext(ctx); ok {
		t.Error("empty professional id should not count as present")
	}
}
