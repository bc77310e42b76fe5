package anamnesis

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func validCreateRequest() *CreateRecordRequest {
	return &CreateRecordRequest{
		ClinicID:       "clinic-1",
		ProfessionalID: "prof-1",
		PatientName:    "Ana Silva",
		PatientAge:     34,
		AssessmentType: "facial",
		MainComplaint:  "flacidez facial",
		Objective:      "firmeza",
		Sections:       json.RawMessage(`{"lifestyle":{"smoker":false}}`),
	}
}

func TestCreateValidation(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	cases := []struct {
		name    string
		mutate  func(*CreateRecordRequest)
		wantErr error
	}{
		{"missing clinic", func(r *CreateRecordRequest) { r.ClinicID = " " }, ErrMissingClinicID},
		{"missing professional", func(r *CreateRecordRequest) { r.ProfessionalID = "" }, ErrMissingProfessionalID},
		{"missing patient", func(r *CreateRecordRequest) { r.PatientName = "" }, ErrMissingPatient},
		{"ambiguous patient", func(r *CreateRecordRequest) {
			id := "pat-1"
			r.PatientID = &id
		}, ErrAmbiguousPatient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validCreateRequest()
			tc.mutate(req)
			if _, err := repo.Create(ctx, req); !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
	if repo.Len() != 0 {
		t.Fatalf("invalid requests must not persist anything, have %d records", repo.Len())
	}
}

func TestCreateAndPatchEnrichment(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	record, err := repo.Create(ctx, validCreateRequest())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if record.AIProtocol != nil || record.AIModel != nil {
		t.Fatal("enrichment fields must be nil until the patch lands")
	}

	patched, err := repo.PatchEnrichment(ctx, "clinic-1", record.ID, EnrichmentPatch{
		Protocol: "Protocolo: radiofrequência 8 sessões",
		Model:    "gemini-2.5-flash",
	})
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	if patched.AIProtocol == nil || *patched.AIProtocol == "" {
		t.Fatal("expected protocol after patch")
	}
	if patched.AIModel == nil || *patched.AIModel != "gemini-2.5-flash" {
		t.Fatalf("expected model identifier, got %v", patched.AIModel)
	}
	if patched.EnrichedAt == nil {
		t.Fatal("expected enriched_at timestamp")
	}
}

func TestClinicScoping(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	record, err := repo.Create(ctx, validCreateRequest())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := repo.GetByID(ctx, "clinic-other", record.ID); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("expected not-found across clinics, got %v", err)
	}
	if _, err := repo.PatchEnrichment(ctx, "clinic-other", record.ID, EnrichmentPatch{Protocol: "x", Model: "y"}); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("expected not-found patch across clinics, got %v", err)
	}
}

func TestListByClinicFilters(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		req := validCreateRequest()
		if i == 2 {
			req.ProfessionalID = "prof-2"
		}
		if _, err := repo.Create(ctx, req); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}

	all, err := repo.ListByClinic(ctx, "clinic-1", ListFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 records, got %d", len(all))
	}

	scoped, err := repo.ListByClinic(ctx, "clinic-1", ListFilter{ProfessionalID: "prof-2"})
	if err != nil {
		t.Fatalf("list scoped: %v", err)
	}
	if len(scoped) != 1 {
		t.Fatalf("expected 1 record for prof-2, got %d", len(scoped))
	}

	limited, err := repo.ListByClinic(ctx, "clinic-1", ListFilter{Limit: 2})
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("expected limit applied, got %d", len(limited))
	}
}
