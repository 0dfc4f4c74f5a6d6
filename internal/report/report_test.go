package report

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// stubRepo covers only the repository surface the generator touches.
type stubRepo struct {
	domain.Repository

	agg    *domain.AnalysisAggregates
	aggErr error
	counts map[domain.Severity]int64

	mu    sync.Mutex
	saved *domain.Report
}

func (r *stubRepo) AnalysisAggregates(context.Context, time.Time, time.Time) (*domain.AnalysisAggregates, error) {
	if r.aggErr != nil {
		return nil, r.aggErr
	}
	return r.agg, nil
}

func (r *stubRepo) AlertCountsBySeverity(context.Context, time.Time, time.Time) (map[domain.Severity]int64, error) {
	return r.counts, nil
}

func (r *stubRepo) SaveReport(_ context.Context, report *domain.Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = report
	return nil
}

// recordBus records published topics. Setting failures makes that many
// leading publish attempts fail, to exercise the retry path.
type recordBus struct {
	domain.EventBus

	mu       sync.Mutex
	topics   []string
	failures int
}

func (b *recordBus) Publish(_ context.Context, topic string, _ []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures > 0 {
		b.failures--
		return errors.New("bus unavailable")
	}
	b.topics = append(b.topics, topic)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGenerate(t *testing.T) {
	repo := &stubRepo{
		agg: &domain.AnalysisAggregates{
			Total:    200,
			Flagged:  30,
			HighRisk: 8,
			AvgRisk:  0.27,
		},
		counts: map[domain.Severity]int64{
			domain.SeverityHigh: 8,
			domain.SeverityLow:  22,
		},
	}
	bus := &recordBus{}
	g := NewGenerator(repo, bus, discardLogger())

	now := time.Now().UTC()
	report, err := g.Generate(context.Background(), now.Add(-24*time.Hour), now)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if report.TotalAnalyzed != 200 || report.TotalFlagged != 30 {
		t.Errorf("aggregates not carried over: %+v", report)
	}
	if report.FlaggingRate != 15.0 {
		t.Errorf("expected flagging rate 15.0, got %v", report.FlaggingRate)
	}
	if report.AlertCounts[domain.SeverityHigh] != 8 {
		t.Errorf("alert counts missing: %v", report.AlertCounts)
	}
	if repo.saved == nil || repo.saved.ID != report.ID {
		t.Error("report not persisted")
	}
	if len(bus.topics) != 1 || bus.topics[0] != domain.TopicReport {
		t.Errorf("report event not published: %v", bus.topics)
	}
}

func TestGenerateEmptyWindow(t *testing.T) {
	repo := &stubRepo{
		agg:    &domain.AnalysisAggregates{},
		counts: map[domain.Severity]int64{},
	}
	g := NewGenerator(repo, &recordBus{}, discardLogger())

	now := time.Now().UTC()
	report, err := g.Generate(context.Background(), now.Add(-time.Hour), now)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if report.FlaggingRate != 0 {
		t.Errorf("empty window must yield flagging rate 0, got %v", report.FlaggingRate)
	}
}

func TestGenerateInvalidWindow(t *testing.T) {
	g := NewGenerator(&stubRepo{}, &recordBus{}, discardLogger())

	now := time.Now().UTC()
	if _, err := g.Generate(context.Background(), now, now.Add(-time.Hour)); err == nil {
		t.Error("expected error for inverted window")
	}
	if _, err := g.Generate(context.Background(), now, now); err == nil {
		t.Error("expected error for zero-length window")
	}
}

func TestGeneratePublishRetriesTransientBusFailure(t *testing.T) {
	repo := &stubRepo{
		agg:    &domain.AnalysisAggregates{Total: 10, Flagged: 1},
		counts: map[domain.Severity]int64{},
	}
	bus := &recordBus{failures: 1}
	g := NewGenerator(repo, bus, discardLogger())

	now := time.Now().UTC()
	if _, err := g.Generate(context.Background(), now.Add(-time.Hour), now); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	bus.mu.Lock()
	defer bus.mu.Unlock()
	if len(bus.topics) != 1 || bus.topics[0] != domain.TopicReport {
		t.Errorf("report event not delivered after retry: %v", bus.topics)
	}
}

func TestGenerateAggregateFailure(t *testing.T) {
	repo := &stubRepo{aggErr: errors.New("warehouse down")}
	g := NewGenerator(repo, &recordBus{}, discardLogger())

	now := time.Now().UTC()
	if _, err := g.Generate(context.Background(), now.Add(-time.Hour), now); err == nil {
		t.Error("expected error when aggregation fails")
	}
}
