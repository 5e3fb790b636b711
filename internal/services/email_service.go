package services

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"strings"

	"github.com/resend/resend-go/v2"
	"github.com/sjperalta/fintera-invoicing/internal/config"
	"github.com/sjperalta/fintera-invoicing/internal/models"
	"github.com/sjperalta/fintera-invoicing/pkg/logger"
)

//go:embed templates/email/*.html
var emailTemplates embed.FS

// emailSender is the part of the Resend client the service uses
type emailSender interface {
	Send(params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// EmailService notifies reviewers. Failures are logged and returned but
// never undo the action that triggered the email.
type EmailService struct {
	config *config.Config
	sender emailSender
}

func NewEmailService(cfg *config.Config) *EmailService {
	client := resend.NewClient(cfg.ResendAPIKey)
	return &EmailService{
		config: cfg,
		sender: client.Emails,
	}
}

// checkEmailPreconditions reports whether an email should be sent at all.
// Disabled notifications are not an error; a missing key or recipient is.
func (s *EmailService) checkEmailPreconditions(to, operation string) (bool, error) {
	if !s.config.EnableEmailNotifications {
		logger.Debug("email notifications disabled, skipping", "operation", operation)
		return false, nil
	}
	if s.config.ResendAPIKey == "" {
		err := errors.New("RESEND_API_KEY is not set")
		logger.Warn("email not sent", "operation", operation, "error", err)
		return false, err
	}
	if strings.TrimSpace(to) == "" {
		return false, errors.New("email address is empty")
	}
	return true, nil
}

type exceptionSummary struct {
	Kind     string
	Reason   string
	LineID   string
	Assigned string
}

// SendExceptionsAssigned tells a reviewer which exceptions of an invoice
// are waiting on them.
func (s *EmailService) SendExceptionsAssigned(ctx context.Context, to string, inv *models.Invoice, exceptions []models.Exception) error {
	const operation = "exceptions assigned"
	if ok, err := s.checkEmailPreconditions(to, operation); !ok {
		return err
	}

	items := make([]exceptionSummary, 0, len(exceptions))
	for _, e := range exceptions {
		items = append(items, exceptionSummary{Kind: e.Kind, Reason: e.Reason, LineID: e.LineID, Assigned: e.AssignedRole})
	}
	data := struct {
		InvoiceID  string
		ContractID string
		Version    int
		Total      string
		Currency   string
		Confidence string
		Exceptions []exceptionSummary
		AppURL     string
	}{
		InvoiceID:  inv.ID,
		ContractID: inv.ContractID,
		Version:    inv.Version,
		Total:      models.Money(inv.Total()),
		Currency:   inv.Currency,
		Confidence: fmt.Sprintf("%.2f", inv.AggregateConfidence),
		Exceptions: items,
		AppURL:     s.config.AppURL,
	}

	subject := fmt.Sprintf("%d invoice exception(s) need your review", len(exceptions))
	return s.send(to, subject, "exceptions_assigned.html", data)
}

// SendPushFailed warns that an approved invoice could not be delivered to
// the accounting system.
func (s *EmailService) SendPushFailed(ctx context.Context, to string, inv *models.Invoice, attempt int, reason string) error {
	const operation = "push failed"
	if ok, err := s.checkEmailPreconditions(to, operation); !ok {
		return err
	}

	data := struct {
		InvoiceID string
		Total     string
		Currency  string
		Attempt   int
		Reason    string
		AppURL    string
	}{
		InvoiceID: inv.ID,
		Total:     models.Money(inv.Total()),
		Currency:  inv.Currency,
		Attempt:   attempt,
		Reason:    reason,
		AppURL:    s.config.AppURL,
	}

	subject := fmt.Sprintf("Invoice %s could not be pushed", inv.ID)
	return s.send(to, subject, "push_failed.html", data)
}

func (s *EmailService) send(to, subject, tmpl string, data any) error {
	body, err := s.renderTemplate(tmpl, data)
	if err != nil {
		return err
	}

	params := &resend.SendEmailRequest{
		From:    s.config.FromEmail,
		To:      []string{to},
		Subject: subject,
		Html:    body,
	}
	if _, err := s.sender.Send(params); err != nil {
		logger.Error(fmt.Sprintf("Failed to send email to %s: %v", to, err))
		return err
	}

	logger.Info(fmt.Sprintf("[Email Sent] To: %s | Subject: %s", to, subject))
	return nil
}

func (s *EmailService) renderTemplate(name string, data interface{}) (string, error) {
	tmpl, err := template.ParseFS(emailTemplates, "templates/email/"+name)
	if err != nil {
		return "", fmt.Errorf("failed to parse template %s: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template %s: %w", name, err)
	}

	return buf.String(), nil
}
