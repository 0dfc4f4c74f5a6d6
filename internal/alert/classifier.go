// Package alert classifies analysis results into severities and fans
// alerts out across notification channels.
package alert

import (
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Severity thresholds. Classification is total: every (risk, amount)
// pair maps to exactly one severity.
const (
	highRisk   = 0.9
	highAmount = 10000.0

	mediumRisk   = 0.7
	mediumAmount = 1000.0
)

// Classify maps a risk score and amount to a severity.
func Classify(riskScore, amount float64) domain.Severity {
	switch {
	case riskScore >= highRisk || amount >= highAmount:
		return domain.SeverityHigh
	case riskScore >= mediumRisk || amount >= mediumAmount:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}

// ChannelsFor returns the channel set for a severity. The webhook
// channel is opt-in and rides along with email on HIGH and MEDIUM.
func ChannelsFor(severity domain.Severity, webhookEnabled bool) []domain.Channel {
	switch severity {
	case domain.SeverityHigh, domain.SeverityMedium:
		channels := []domain.Channel{domain.ChannelConsole, domain.ChannelEmail, domain.ChannelBus}
		if webhookEnabled {
			channels = append(channels, domain.ChannelWebhook)
		}
		return channels
	default:
		return []domain.Channel{domain.ChannelConsole, domain.ChannelBus}
	}
}

// Build creates the alert for a flagged transaction's analysis result.
func Build(tx *domain.Transaction, result *domain.AnalysisResult, webhookEnabled bool) *domain.Alert {
	severity := Classify(result.RiskScore, tx.Amount)

	return &domain.Alert{
		ID:              uuid.New().String(),
		TransactionID:   tx.ID,
		Severity:        severity,
		Channels:        ChannelsFor(severity, webhookEnabled),
		Status:          domain.AlertCreated,
		RiskScore:       result.RiskScore,
		Amount:          tx.Amount,
		Summary:         result.Summary,
		FraudIndicators: result.FraudIndicators,
		Recommendations: result.Recommendations,
		CreatedAt:       time.Now().UTC(),
	}
}
