package anamnesis

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

var recordColumnNames = []string{
	"id", "clinic_id", "professional_id", "patient_id", "patient_name", "patient_age",
	"assessment_type", "main_complaint", "treatment_objective", "observations",
	"sections", "ai_protocol", "ai_model", "enriched_at", "created_at", "updated_at",
}

func TestPostgresCreate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	now := time.Now().UTC()
	mock.ExpectQuery("INSERT INTO anamnesis_records").
		WithArgs(
			pgxmock.AnyArg(), "clinic-1", "prof-1", pgxmock.AnyArg(), "Ana Silva", 34,
			"facial", "flacidez facial", "firmeza", "",
			json.RawMessage(`{"lifestyle":{"smoker":false}}`),
		).
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	repo := NewPostgresRepository(mock)
	record, err := repo.Create(context.Background(), validCreateRequest())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if record.ID == "" {
		t.Fatal("expected generated id")
	}
	if !record.CreatedAt.Equal(now) {
		t.Fatalf("expected created_at %v, got %v", now, record.CreatedAt)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresCreateSkipsQueryOnInvalidRequest(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	repo := NewPostgresRepository(mock)
	req := validCreateRequest()
	req.ClinicID = ""
	if _, err := repo.Create(context.Background(), req); !errors.Is(err, ErrMissingClinicID) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("no query expected: %v", err)
	}
}

func TestPostgresPatchEnrichment(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	now := time.Now().UTC()
	protocol := "Protocolo: radiofrequência 8 sessões"
	model := "gemini-2.5-flash"
	mock.ExpectQuery("UPDATE anamnesis_records SET").
		WithArgs(protocol, model, "rec-1", "clinic-1").
		WillReturnRows(pgxmock.NewRows(recordColumnNames).AddRow(
			"rec-1", "clinic-1", "prof-1", nil, "Ana Silva", 34,
			"facial", "flacidez facial", "firmeza", "",
			json.RawMessage(`{}`), &protocol, &model, &now, now, now,
		))

	repo := NewPostgresRepository(mock)
	record, err := repo.PatchEnrichment(context.Background(), "clinic-1", "rec-1", EnrichmentPatch{Protocol: protocol, Model: model})
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	if record.AIProtocol == nil || *record.AIProtocol != protocol {
		t.Fatalf("expected protocol on record, got %v", record.AIProtocol)
	}
	if record.EnrichedAt == nil {
		t.Fatal("expected enriched_at on record")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresGetByIDNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery("SELECT").
		WithArgs("missing", "clinic-1").
		WillReturnError(pgx.ErrNoRows)

	repo := NewPostgresRepository(mock)
	if _, err := repo.GetByID(context.Background(), "clinic-1", "missing"); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestPostgresListByClinic(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	now := time.Now().UTC()
	mock.ExpectQuery("SELECT").
		WithArgs("clinic-1", "prof-1", "", 50, 0).
		WillReturnRows(pgxmock.NewRows(recordColumnNames).
			AddRow("rec-1", "clinic-1", "prof-1", nil, "Ana Silva", 34,
				"facial", "flacidez facial", "firmeza", "",
				json.RawMessage(`{}`), nil, nil, nil, now, now).
			AddRow("rec-2", "clinic-1", "prof-1", nil, "Bruno Costa", 41,
				"corporal", "gordura localizada", "definição", "",
				json.RawMessage(`{}`), nil, nil, nil, now, now))

	repo := NewPostgresRepository(mock)
	records, err := repo.ListByClinic(context.Background(), "clinic-1", ListFilter{ProfessionalID: "prof-1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[1].PatientName != "Bruno Costa" {
		t.Fatalf("unexpected ordering: %s", records[1].PatientName)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
