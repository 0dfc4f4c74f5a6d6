// Package report builds aggregated summaries over an analysis window.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/retry"
)

// Generator produces reports from warehouse rollups.
type Generator struct {
	repo   domain.Repository
	bus    domain.EventBus
	retry  retry.Policy
	logger *slog.Logger
}

// NewGenerator creates a report generator.
func NewGenerator(repo domain.Repository, bus domain.EventBus, logger *slog.Logger) *Generator {
	return &Generator{
		repo:   repo,
		bus:    bus,
		retry:  retry.DefaultPolicy(),
		logger: logger,
	}
}

// Generate builds, persists, and publishes a report covering the given
// window. The report must be durable before it is announced, so a
// persistence failure aborts generation.
func (g *Generator) Generate(ctx context.Context, windowStart, windowEnd time.Time) (*domain.Report, error) {
	if !windowEnd.After(windowStart) {
		return nil, fmt.Errorf("report window end must be after start")
	}

	agg, err := g.repo.AnalysisAggregates(ctx, windowStart, windowEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate analyses: %w", err)
	}

	counts, err := g.repo.AlertCountsBySeverity(ctx, windowStart, windowEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to count alerts: %w", err)
	}

	flaggingRate := 0.0
	if agg.Total > 0 {
		flaggingRate = float64(agg.Flagged) / float64(agg.Total) * 100
	}

	report := &domain.Report{
		ID:            uuid.New().String(),
		WindowStart:   windowStart,
		WindowEnd:     windowEnd,
		TotalAnalyzed: agg.Total,
		TotalFlagged:  agg.Flagged,
		AverageRisk:   agg.AvgRisk,
		HighRiskCount: agg.HighRisk,
		AlertCounts:   counts,
		FlaggingRate:  flaggingRate,
		GeneratedAt:   time.Now().UTC(),
	}

	if err := g.repo.SaveReport(ctx, report); err != nil {
		return nil, fmt.Errorf("failed to save report: %w", err)
	}

	g.publish(ctx, report)

	g.logger.Info("report generated",
		"report_id", report.ID,
		"analyzed", report.TotalAnalyzed,
		"flagged", report.TotalFlagged,
		"flagging_rate", report.FlaggingRate)

	return report, nil
}

func (g *Generator) publish(ctx context.Context, report *domain.Report) {
	payload, err := json.Marshal(report)
	if err != nil {
		g.logger.Warn("report marshal failed", "report_id", report.ID, "error", err)
		return
	}

	err = g.retry.Do(ctx, func(ctx context.Context) error {
		return g.bus.Publish(ctx, domain.TopicReport, payload)
	})
	if err != nil {
		g.logger.Warn("report publish failed", "report_id", report.ID, "error", err)
	}
}
