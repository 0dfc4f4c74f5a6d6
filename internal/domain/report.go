package domain

import (
	"time"
)

// Report is an aggregated summary over a time window, persisted to the
// warehouse and published on the report topic.
type Report struct {
	ID          string    `json:"reportId"`
	WindowStart time.Time `json:"windowStart"`
	WindowEnd   time.Time `json:"windowEnd"`

	TotalAnalyzed int64   `json:"totalAnalyzed"`
	TotalFlagged  int64   `json:"totalFlagged"`
	AverageRisk   float64 `json:"averageRisk"`
	HighRiskCount int64   `json:"highRiskCount"` // risk_score >= 0.8

	AlertCounts map[Severity]int64 `json:"alertCounts"`

	// FlaggingRate is flagged / analyzed * 100; 0 when nothing was analyzed.
	FlaggingRate float64 `json:"flaggingRate"`

	GeneratedAt time.Time `json:"generatedAt"`
}
