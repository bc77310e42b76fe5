// Package protocol generates aesthetic treatment protocols from completed
// anamnesis records using an LLM provider.
package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Request carries everything the prompt needs about the patient and the
// assessment. Sections is the raw aggregated form payload; it is embedded in
// the prompt as-is so the model sees every answer the professional captured.
type Request struct {
	AssessmentType string          `json:"assessment_type"`
	PatientName    string          `json:"patient_name"`
	PatientAge     int             `json:"patient_age"`
	MainComplaint  string          `json:"main_complaint"`
	Objective      string          `json:"treatment_objective"`
	Observations   string          `json:"observations,omitempty"`
	Sections       json.RawMessage `json:"sections,omitempty"`
}

// Result is the generated protocol plus the model that produced it.
type Result struct {
	Protocol string `json:"protocol"`
	Model    string `json:"model"`
}

// Generator produces a treatment protocol for an assessment.
type Generator interface {
	Generate(ctx context.Context, req Request) (Result, error)
}

var (
	ErrEmptyRequest    = errors.New("protocol: assessment has no complaint or objective")
	ErrEmptyCompletion = errors.New("protocol: provider returned an empty protocol")
)

func (r Request) validate() error {
	if strings.TrimSpace(r.MainComplaint) == "" && strings.TrimSpace(r.Objective) == "" {
		return ErrEmptyRequest
	}
	return nil
}

const systemPrompt = `Você é um(a) esteticista sênior que elabora protocolos de tratamento.
Com base na anamnese fornecida, escreva um protocolo estético objetivo em português:
número de sessões, intervalo entre sessões, procedimentos por sessão, ativos ou
equipamentos recomendados e cuidados domiciliares. Não invente dados clínicos que
não estejam na anamnese. Não prescreva medicamentos.`

func buildPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Tipo de avaliação: %s\n", req.AssessmentType)
	if req.PatientName != "" {
		fmt.Fprintf(&b, "Paciente: %s", req.PatientName)
		if req.PatientAge > 0 {
			fmt.Fprintf(&b, ", %d anos", req.PatientAge)
		}
		b.WriteString("\n")
	}
	if req.MainComplaint != "" {
		fmt.Fprintf(&b, "Queixa principal: %s\n", req.MainComplaint)
	}
	if req.Objective != "" {
		fmt.Fprintf(&b, "Objetivo do tratamento: %s\n", req.Objective)
	}
	if req.Observations != "" {
		fmt.Fprintf(&b, "Observações: %s\n", req.Observations)
	}
	if len(req.Sections) > 0 && string(req.Sections) != "{}" && string(req.Sections) != "null" {
		b.WriteString("\nFicha de anamnese completa (JSON):\n")
		b.Write(req.Sections)
		b.WriteString("\n")
	}
	b.WriteString("\nElabore o protocolo de tratamento.")
	return b.String()
}
