package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
	"time"

	"github.com/mailgun/mailgun-go/v4"

	"github.com/mohamjad/n8n-ecommerce-reporting/src/config"
	"github.com/mohamjad/n8n-ecommerce-reporting/src/logger"
	"github.com/mohamjad/n8n-ecommerce-reporting/src/models"
)

// AlertService notifies an operator when an ingestion run finishes in a
// non-SUCCESS state. Successful runs stay quiet.
type AlertService interface {
	SendRunAlert(entry models.RunLogEntry) error
}

func NewAlertService() AlertService {
	if config.Cfg == nil {
		slog.Error("Configuration (config.Cfg) is nil. Alert service will default to mock.")
		return &MockAlertService{}
	}

	provider := strings.ToLower(config.Cfg.EmailServiceProvider)
	logger.L.Info("Initializing alert service", "provider", provider)

	switch provider {
	case "mailgun":
		if config.Cfg.MailgunDomain == "" || config.Cfg.MailgunPrivateAPIKey == "" || config.Cfg.SenderEmail == "" || config.Cfg.AlertRecipient == "" {
			logger.L.Warn("Mailgun configuration incomplete. Falling back to MockAlertService.")
			return &MockAlertService{}
		}
		mg := mailgun.NewMailgun(config.Cfg.MailgunDomain, config.Cfg.MailgunPrivateAPIKey)
		logger.L.Info("Mailgun client initialized", "domain", config.Cfg.MailgunDomain)
		return &MailgunAlertService{
			mg:          mg,
			senderEmail: config.Cfg.SenderEmail,
			senderName:  config.Cfg.SenderName,
			recipient:   config.Cfg.AlertRecipient,
		}
	case "smtp":
		if config.Cfg.SMTPServer == "" || config.Cfg.SMTPUser == "" || config.Cfg.SMTPPassword == "" || config.Cfg.SenderEmail == "" || config.Cfg.AlertRecipient == "" {
			logger.L.Warn("SMTP configuration incomplete. Falling back to MockAlertService.")
			return &MockAlertService{}
		}
		return &SMTPAlertService{
			SMTPServer:   config.Cfg.SMTPServer,
			SMTPPort:     config.Cfg.SMTPPort,
			SMTPUser:     config.Cfg.SMTPUser,
			SMTPPassword: config.Cfg.SMTPPassword,
			SenderEmail:  config.Cfg.SenderEmail,
			Recipient:    config.Cfg.AlertRecipient,
		}
	default:
		logger.L.Info("Defaulting to MockAlertService.")
		return &MockAlertService{}
	}
}

func alertSubject(entry models.RunLogEntry) string {
	return fmt.Sprintf("Ingestion run %s finished %s", entry.RunID, entry.Status)
}

func alertBody(entry models.RunLogEntry) string {
	return fmt.Sprintf(`Run %s finished with status %s.

Reports completed: %d/%d
Rows written: %d
Duration: %ds
Errors: %s

Check the run log dashboard for details.`,
		entry.RunID, entry.Status,
		entry.ReportsCompleted, entry.ReportsRequested,
		entry.RowsWritten, entry.DurationSeconds,
		entry.ErrorSummary)
}

type MailgunAlertService struct {
	mg          mailgun.Mailgun
	senderEmail string
	senderName  string
	recipient   string
}

func (s *MailgunAlertService) SendRunAlert(entry models.RunLogEntry) error {
	from := fmt.Sprintf("%s <%s>", s.senderName, s.senderEmail)
	message := s.mg.NewMessage(from, alertSubject(entry), alertBody(entry), s.recipient)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, id, err := s.mg.Send(ctx, message)
	if err != nil {
		logger.L.Error("Failed to send run alert via Mailgun", "error", err, "runID", entry.RunID)
		return fmt.Errorf("failed to send run alert via Mailgun: %w", err)
	}
	logger.L.Info("Run alert sent via Mailgun", "runID", entry.RunID, "messageID", id)
	return nil
}

type SMTPAlertService struct {
	SMTPServer   string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	SenderEmail  string
	Recipient    string
}

func (s *SMTPAlertService) SendRunAlert(entry models.RunLogEntry) error {
	header := map[string]string{
		"From":         s.SenderEmail,
		"To":           s.Recipient,
		"Subject":      alertSubject(entry),
		"MIME-version": "1.0",
		"Content-Type": "text/plain; charset=\"UTF-8\"",
	}
	message := ""
	for k, v := range header {
		message += fmt.Sprintf("%s: %s\r\n", k, v)
	}
	message += "\r\n" + alertBody(entry)

	auth := smtp.PlainAuth("", s.SMTPUser, s.SMTPPassword, s.SMTPServer)
	addr := fmt.Sprintf("%s:%d", s.SMTPServer, s.SMTPPort)
	if err := smtp.SendMail(addr, auth, s.SenderEmail, []string{s.Recipient}, []byte(message)); err != nil {
		logger.L.Error("Failed to send run alert via SMTP", "error", err, "runID", entry.RunID)
		return fmt.Errorf("failed to send run alert via SMTP: %w", err)
	}
	logger.L.Info("Run alert sent via SMTP", "runID", entry.RunID)
	return nil
}

type MockAlertService struct{}

func (m *MockAlertService) SendRunAlert(entry models.RunLogEntry) error {
	logger.L.Info("MOCK ALERT: run finished",
		"runID", entry.RunID, "status", entry.Status, "errors", entry.ErrorSummary)
	return nil
}
