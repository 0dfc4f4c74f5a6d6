package domain

import (
	"time"
)

// Severity is the discrete alert priority.
type Severity string

const (
	SeverityHigh   Severity = "HIGH"
	SeverityMedium Severity = "MEDIUM"
	SeverityLow    Severity = "LOW"
)

// Channel identifies a notification channel.
type Channel string

const (
	ChannelConsole Channel = "console"
	ChannelEmail   Channel = "email"
	ChannelBus     Channel = "message-bus"
	ChannelWebhook Channel = "webhook"
)

// AlertStatus tracks an alert through dispatch.
// CREATED -> DISPATCHING -> {SENT, PARTIALLY_SENT, FAILED}.
type AlertStatus string

const (
	AlertCreated     AlertStatus = "CREATED"
	AlertDispatching AlertStatus = "DISPATCHING"
	AlertSent        AlertStatus = "SENT"
	AlertPartial     AlertStatus = "PARTIALLY_SENT"
	AlertFailed      AlertStatus = "FAILED"
)

// Alert is a terminal pipeline artifact: created by the severity
// classifier, consumed by the notification fan-out, done once every
// channel dispatch attempt has resolved.
type Alert struct {
	ID            string      `json:"alertId"`
	TransactionID string      `json:"transactionId"`
	Severity      Severity    `json:"severity"`
	Channels      []Channel   `json:"notificationChannels"`
	Status        AlertStatus `json:"status"`

	RiskScore float64 `json:"riskScore"`
	Amount    float64 `json:"amount"`
	Summary   string  `json:"analysisSummary,omitempty"`

	FraudIndicators []string `json:"fraudIndicators,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}
