package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/retry"
)

// EmailSender abstracts SMTP delivery so tests can capture messages.
type EmailSender interface {
	Send(ctx context.Context, recipients []string, subject, body string) error
}

// SMTPSender sends mail through a plain SMTP relay with AUTH.
type SMTPSender struct {
	host     string
	port     int
	sender   string
	password string
}

// NewSMTPSender creates an SMTP-backed sender.
func NewSMTPSender(host string, port int, sender, password string) *SMTPSender {
	return &SMTPSender{host: host, port: port, sender: sender, password: password}
}

func (s *SMTPSender) Send(_ context.Context, recipients []string, subject, body string) error {
	msg := strings.Builder{}
	msg.WriteString("From: " + s.sender + "\r\n")
	msg.WriteString("To: " + strings.Join(recipients, ", ") + "\r\n")
	msg.WriteString("Subject: " + subject + "\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)

	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	auth := smtp.PlainAuth("", s.sender, s.password, s.host)
	if err := smtp.SendMail(addr, auth, s.sender, recipients, []byte(msg.String())); err != nil {
		return fmt.Errorf("smtp send failed: %w", err)
	}
	return nil
}

// EmailChannel delivers alerts by mail. Sends are retried with the
// shared retry policy; the relay is outside our control.
type EmailChannel struct {
	sender     EmailSender
	recipients []string
	policy     retry.Policy
}

// NewEmailChannel creates the email notifier.
func NewEmailChannel(sender EmailSender, recipients []string) *EmailChannel {
	return &EmailChannel{
		sender:     sender,
		recipients: recipients,
		policy:     retry.DefaultPolicy(),
	}
}

func (c *EmailChannel) Channel() domain.Channel { return domain.ChannelEmail }

func (c *EmailChannel) Notify(ctx context.Context, alert *domain.Alert) error {
	subject := fmt.Sprintf("FRAUD ALERT - %s Priority - Transaction %s", alert.Severity, alert.TransactionID)
	body := formatAlertBody(alert)

	return c.policy.Do(ctx, func(ctx context.Context) error {
		return c.sender.Send(ctx, c.recipients, subject, body)
	})
}

func formatAlertBody(alert *domain.Alert) string {
	b := strings.Builder{}
	b.WriteString("FRAUD DETECTION ALERT\n\n")
	fmt.Fprintf(&b, "Alert ID:       %s\n", alert.ID)
	fmt.Fprintf(&b, "Transaction ID: %s\n", alert.TransactionID)
	fmt.Fprintf(&b, "Severity:       %s\n", alert.Severity)
	fmt.Fprintf(&b, "Risk Score:     %.3f\n", alert.RiskScore)
	fmt.Fprintf(&b, "Amount:         $%.2f\n", alert.Amount)
	fmt.Fprintf(&b, "Created:        %s\n", alert.CreatedAt.Format(time.RFC3339))

	if len(alert.FraudIndicators) > 0 {
		b.WriteString("\nFraud Indicators:\n")
		for _, ind := range alert.FraudIndicators {
			b.WriteString("  - " + ind + "\n")
		}
	}
	if len(alert.Recommendations) > 0 {
		b.WriteString("\nRecommendations:\n")
		for _, rec := range alert.Recommendations {
			b.WriteString("  - " + rec + "\n")
		}
	}
	if alert.Summary != "" {
		b.WriteString("\nSummary:\n" + alert.Summary + "\n")
	}

	return b.String()
}
