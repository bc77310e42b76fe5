package protocol

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestBuildPromptIncludesAssessment(t *testing.T) {
	prompt := buildPrompt(Request{
		AssessmentType: "facial",
		PatientName:    "Ana Silva",
		PatientAge:     34,
		MainComplaint:  "flacidez facial",
		Objective:      "firmeza",
		Observations:   "pele sensível",
		Sections:       json.RawMessage(`{"lifestyle":{"smoker":false}}`),
	})

	for _, want := range []string{
		"facial",
		"Ana Silva, 34 anos",
		"flacidez facial",
		"firmeza",
		"pele sensível",
		`"smoker":false`,
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestBuildPromptOmitsEmptyFields(t *testing.T) {
	prompt := buildPrompt(Request{
		AssessmentType: "corporal",
		MainComplaint:  "gordura localizada",
	})
	if strings.Contains(prompt, "Paciente:") {
		t.Error("prompt must omit the patient line when no name is set")
	}
	if strings.Contains(prompt, "anamnese completa") {
		t.Error("prompt must omit the sections block when empty")
	}
}

func TestRequestValidation(t *testing.T) {
	if err := (Request{AssessmentType: "facial"}).validate(); err != ErrEmptyRequest {
		t.Fatalf("expected ErrEmptyRequest, got %v", err)
	}
	if err := (Request{Objective: "firmeza"}).validate(); err != nil {
		t.Fatalf("objective alone should be enough, got %v", err)
	}
}
