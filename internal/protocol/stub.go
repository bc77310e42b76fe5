package protocol

import (
	"context"
	"fmt"
)

// StubGenerator returns a canned protocol without calling any model. Used in
// development when no AI provider is configured.
type StubGenerator struct{}

func NewStubGenerator() *StubGenerator {
	return &StubGenerator{}
}

func (g *StubGenerator) Generate(_ context.Context, req Request) (Result, error) {
	if err := req.validate(); err != nil {
		return Result{}, err
	}
	protocol := fmt.Sprintf(
		"Protocolo sugerido (ambiente de desenvolvimento)\n\nAvaliação: %s\nQueixa: %s\n\nNenhum modelo de IA está configurado; este texto é apenas um marcador.",
		req.AssessmentType, req.MainComplaint,
	)
	return Result{Protocol: protocol, Model: "stub"}, nil
}
