package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/clinicware/anamnesis-platform/internal/anamnesis"
	"github.com/clinicware/anamnesis-platform/pkg/logging"
)

// RecipientResolver maps a clinic to the address that receives operational
// alerts. Absence disables the alert for that clinic.
type RecipientResolver interface {
	AlertRecipient(ctx context.Context, clinicID string) (email, name string, ok bool)
}

// StaticRecipient always answers with one configured address. Used when a
// deployment routes every alert to a single operations inbox.
type StaticRecipient struct {
	Email string
	Name  string
}

func (s StaticRecipient) AlertRecipient(_ context.Context, _ string) (string, string, bool) {
	if strings.TrimSpace(s.Email) == "" {
		return "", "", false
	}
	return s.Email, s.Name, true
}

// Service sends enrichment-failure alerts. All sends are best effort; a
// failed alert is logged and swallowed by callers.
type Service struct {
	sender     EmailSender
	recipients RecipientResolver
	logger     *logging.Logger
}

func NewService(sender EmailSender, recipients RecipientResolver, logger *logging.Logger) *Service {
	if sender == nil {
		panic("notify: email sender cannot be nil")
	}
	if recipients == nil {
		panic("notify: recipient resolver cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{sender: sender, recipients: recipients, logger: logger}
}

// NotifyEnrichmentFailure tells the clinic that a record was saved but its
// AI protocol could not be generated.
func (s *Service) NotifyEnrichmentFailure(ctx context.Context, record *anamnesis.Record, reason string) error {
	if record == nil {
		return nil
	}
	email, name, ok := s.recipients.AlertRecipient(ctx, record.ClinicID)
	if !ok {
		s.logger.Debug("no alert recipient for clinic, skipping notification", "clinic_id", record.ClinicID)
		return nil
	}

	patient := record.PatientName
	if patient == "" && record.PatientID != nil {
		patient = "paciente " + *record.PatientID
	}

	msg := EmailMessage{
		To:      email,
		ToName:  name,
		Subject: "Protocolo de tratamento não foi gerado",
		Body: fmt.Sprintf(
			"A ficha de anamnese de %s (avaliação %s) foi salva, mas o protocolo de tratamento não pôde ser gerado.\n\n"+
				"Motivo: %s\n\n"+
				"A ficha permanece disponível; você pode reprocessar a geração do protocolo a qualquer momento.",
			patient, record.AssessmentType, reason,
		),
	}
	if err := s.sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("notify: enrichment failure alert: %w", err)
	}
	return nil
}
