package notify

import (
	"context"
	"log/slog"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ConsoleChannel writes alerts to the structured log. It is the one
// channel that is always configured and cannot be rate limited.
type ConsoleChannel struct {
	logger *slog.Logger
}

// NewConsoleChannel creates the console notifier.
func NewConsoleChannel(logger *slog.Logger) *ConsoleChannel {
	return &ConsoleChannel{logger: logger}
}

func (c *ConsoleChannel) Channel() domain.Channel { return domain.ChannelConsole }

func (c *ConsoleChannel) Notify(_ context.Context, alert *domain.Alert) error {
	attrs := []any{
		"alert_id", alert.ID,
		"transaction_id", alert.TransactionID,
		"severity", alert.Severity,
		"risk_score", alert.RiskScore,
		"amount", alert.Amount,
	}

	switch alert.Severity {
	case domain.SeverityHigh:
		c.logger.Error("HIGH PRIORITY FRAUD ALERT", attrs...)
	case domain.SeverityMedium:
		c.logger.Warn("fraud alert", attrs...)
	default:
		c.logger.Info("fraud alert", attrs...)
	}

	return nil
}
