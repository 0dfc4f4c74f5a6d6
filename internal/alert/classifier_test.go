package alert

import (
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		risk   float64
		amount float64
		want   domain.Severity
	}{
		{"high_risk", 0.95, 100, domain.SeverityHigh},
		{"high_amount", 0.1, 10000, domain.SeverityHigh},
		{"risk_boundary_high", 0.9, 50, domain.SeverityHigh},
		{"medium_risk", 0.75, 100, domain.SeverityMedium},
		{"risk_boundary_medium", 0.7, 50, domain.SeverityMedium},
		{"medium_amount", 0.1, 1000, domain.SeverityMedium},
		{"just_below_medium", 0.69, 999.99, domain.SeverityLow},
		{"low", 0.1, 50, domain.SeverityLow},
		{"zero", 0, 0, domain.SeverityLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.risk, tt.amount); got != tt.want {
				t.Errorf("Classify(%v, %v) = %s, want %s", tt.risk, tt.amount, got, tt.want)
			}
		})
	}
}

func TestClassifyTotal(t *testing.T) {
	// Every input must land in exactly one of the three severities.
	for risk := 0.0; risk <= 1.0; risk += 0.05 {
		for _, amount := range []float64{0, 500, 999.99, 1000, 5000, 9999.99, 10000, 50000} {
			got := Classify(risk, amount)
			switch got {
			case domain.SeverityHigh, domain.SeverityMedium, domain.SeverityLow:
			default:
				t.Fatalf("Classify(%v, %v) produced invalid severity %q", risk, amount, got)
			}
		}
	}
}

func TestChannelsFor(t *testing.T) {
	high := ChannelsFor(domain.SeverityHigh, false)
	if !hasChannels(high, domain.ChannelConsole, domain.ChannelEmail, domain.ChannelBus) || len(high) != 3 {
		t.Errorf("unexpected HIGH channels: %v", high)
	}

	medium := ChannelsFor(domain.SeverityMedium, false)
	if !hasChannels(medium, domain.ChannelConsole, domain.ChannelEmail, domain.ChannelBus) || len(medium) != 3 {
		t.Errorf("unexpected MEDIUM channels: %v", medium)
	}

	low := ChannelsFor(domain.SeverityLow, false)
	if !hasChannels(low, domain.ChannelConsole, domain.ChannelBus) || len(low) != 2 {
		t.Errorf("unexpected LOW channels: %v", low)
	}

	withWebhook := ChannelsFor(domain.SeverityHigh, true)
	if !hasChannels(withWebhook, domain.ChannelWebhook) || len(withWebhook) != 4 {
		t.Errorf("expected webhook appended for HIGH: %v", withWebhook)
	}

	lowWebhook := ChannelsFor(domain.SeverityLow, true)
	if hasChannels(lowWebhook, domain.ChannelWebhook) {
		t.Errorf("webhook must not ride on LOW alerts: %v", lowWebhook)
	}
}

func TestBuild(t *testing.T) {
	tx := &domain.Transaction{ID: "tx-1", Amount: 15000}
	result := &domain.AnalysisResult{
		TransactionID:   "tx-1",
		RiskScore:       0.85,
		Summary:         "hybrid analysis",
		FraudIndicators: []string{"velocity anomaly"},
	}

	a := Build(tx, result, false)

	if a.ID == "" {
		t.Error("expected generated alert id")
	}
	if a.Severity != domain.SeverityHigh {
		t.Errorf("expected HIGH for amount 15000, got %s", a.Severity)
	}
	if a.Status != domain.AlertCreated {
		t.Errorf("expected CREATED status, got %s", a.Status)
	}
	if a.RiskScore != 0.85 || a.Amount != 15000 {
		t.Errorf("alert fields not carried over: %+v", a)
	}
	if a.CreatedAt.IsZero() {
		t.Error("expected created timestamp")
	}
}

func hasChannels(got []domain.Channel, want ...domain.Channel) bool {
	set := map[domain.Channel]bool{}
	for _, c := range got {
		set[c] = true
	}
	for _, c := range want {
		if !set[c] {
			return false
		}
	}
	return true
}
