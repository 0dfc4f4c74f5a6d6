package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return repo
}

func TestSaveGetTransaction(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	tx := &domain.Transaction{
		ID:        "tx-1",
		Amount:    1234.56,
		Timestamp: "2026-08-30T12:00:00Z",
		Features:  map[string]float64{"V1": 1.5, "V14": -2.3},
		CreatedAt: time.Now().UTC(),
	}

	if err := repo.SaveTransaction(ctx, tx); err != nil {
		t.Fatalf("SaveTransaction failed: %v", err)
	}

	got, err := repo.GetTransaction(ctx, "tx-1")
	if err != nil {
		t.Fatalf("GetTransaction failed: %v", err)
	}
	if got.Amount != 1234.56 {
		t.Errorf("expected amount 1234.56, got %v", got.Amount)
	}
	if got.Features["V14"] != -2.3 {
		t.Errorf("features not round-tripped: %v", got.Features)
	}
}

func TestGetTransactionNotFound(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.GetTransaction(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveGetAnalysis(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	result := &domain.AnalysisResult{
		ID:              "an-1",
		TransactionID:   "tx-1",
		RiskScore:       0.81,
		Method:          domain.MethodHybrid,
		FraudIndicators: []string{"velocity anomaly"},
		Recommendations: []string{"Manual review"},
		Summary:         "hybrid",
		LocalRisk:       0.6,
		RemoteRisk:      0.9,
		RoutingReason:   "High risk",
		Flagged:         true,
		RiskFlags:       []string{"High transaction amount"},
		CreatedAt:       time.Now().UTC(),
		ProcessMs:       42,
	}

	if err := repo.SaveAnalysis(ctx, result); err != nil {
		t.Fatalf("SaveAnalysis failed: %v", err)
	}

	got, err := repo.GetAnalysis(ctx, "an-1")
	if err != nil {
		t.Fatalf("GetAnalysis failed: %v", err)
	}
	if got.Method != domain.MethodHybrid {
		t.Errorf("expected hybrid method, got %s", got.Method)
	}
	if !got.Flagged {
		t.Error("flagged not round-tripped")
	}
	if got.LocalRisk != 0.6 || got.RemoteRisk != 0.9 {
		t.Errorf("component scores not round-tripped: %+v", got)
	}

	byTx, err := repo.GetAnalysisByTransaction(ctx, "tx-1")
	if err != nil {
		t.Fatalf("GetAnalysisByTransaction failed: %v", err)
	}
	if byTx.ID != "an-1" {
		t.Errorf("expected an-1, got %s", byTx.ID)
	}
}

func TestAlertLifecycle(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	a := &domain.Alert{
		ID:            "alert-1",
		TransactionID: "tx-1",
		Severity:      domain.SeverityHigh,
		Channels:      []domain.Channel{domain.ChannelConsole, domain.ChannelEmail, domain.ChannelBus},
		Status:        domain.AlertCreated,
		RiskScore:     0.95,
		Amount:        15000,
		CreatedAt:     time.Now().UTC(),
	}

	if err := repo.SaveAlert(ctx, a); err != nil {
		t.Fatalf("SaveAlert failed: %v", err)
	}

	if err := repo.UpdateAlertStatus(ctx, "alert-1", domain.AlertSent); err != nil {
		t.Fatalf("UpdateAlertStatus failed: %v", err)
	}

	got, err := repo.GetAlert(ctx, "alert-1")
	if err != nil {
		t.Fatalf("GetAlert failed: %v", err)
	}
	if got.Status != domain.AlertSent {
		t.Errorf("expected SENT, got %s", got.Status)
	}
	if len(got.Channels) != 3 {
		t.Errorf("channels not round-tripped: %v", got.Channels)
	}

	if err := repo.UpdateAlertStatus(ctx, "missing", domain.AlertSent); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing alert, got %v", err)
	}
}

func TestListAlertsFilters(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	now := time.Now().UTC()
	alerts := []*domain.Alert{
		{ID: "a1", TransactionID: "t1", Severity: domain.SeverityHigh, Status: domain.AlertSent, Channels: []domain.Channel{domain.ChannelConsole}, CreatedAt: now},
		{ID: "a2", TransactionID: "t2", Severity: domain.SeverityLow, Status: domain.AlertSent, Channels: []domain.Channel{domain.ChannelConsole}, CreatedAt: now},
		{ID: "a3", TransactionID: "t3", Severity: domain.SeverityHigh, Status: domain.AlertSent, Channels: []domain.Channel{domain.ChannelConsole}, CreatedAt: now.Add(-2 * time.Hour)},
	}
	for _, a := range alerts {
		if err := repo.SaveAlert(ctx, a); err != nil {
			t.Fatalf("SaveAlert failed: %v", err)
		}
	}

	highs, err := repo.ListAlerts(ctx, domain.SeverityHigh, now.Add(-time.Hour), 10)
	if err != nil {
		t.Fatalf("ListAlerts failed: %v", err)
	}
	if len(highs) != 1 || highs[0].ID != "a1" {
		t.Errorf("expected only recent HIGH alert, got %+v", highs)
	}

	all, err := repo.ListAlerts(ctx, "", now.Add(-time.Hour), 10)
	if err != nil {
		t.Fatalf("ListAlerts failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 recent alerts, got %d", len(all))
	}
}

func TestFlagRuleUpsert(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	rule := &domain.FlagRule{
		ID:         "rule-1",
		Name:       "Round amount",
		Version:    "1",
		Expression: "amount == 9000.0",
		Score:      0.25,
		Reason:     "Round amount pattern",
		Enabled:    true,
	}

	if err := repo.SaveFlagRule(ctx, rule); err != nil {
		t.Fatalf("SaveFlagRule failed: %v", err)
	}

	rule.Score = 0.3
	rule.Enabled = false
	if err := repo.SaveFlagRule(ctx, rule); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	got, err := repo.GetFlagRule(ctx, "rule-1")
	if err != nil {
		t.Fatalf("GetFlagRule failed: %v", err)
	}
	if got.Score != 0.3 {
		t.Errorf("expected updated score 0.3, got %v", got.Score)
	}
	if got.Enabled {
		t.Error("expected disabled after upsert")
	}

	rules, err := repo.ListFlagRules(ctx)
	if err != nil {
		t.Fatalf("ListFlagRules failed: %v", err)
	}
	if len(rules) != 1 {
		t.Errorf("expected 1 rule, got %d", len(rules))
	}
}

func TestReportRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	now := time.Now().UTC()
	report := &domain.Report{
		ID:            "rep-1",
		WindowStart:   now.Add(-24 * time.Hour),
		WindowEnd:     now,
		TotalAnalyzed: 100,
		TotalFlagged:  12,
		AverageRisk:   0.31,
		HighRiskCount: 4,
		AlertCounts: map[domain.Severity]int64{
			domain.SeverityHigh: 4,
			domain.SeverityLow:  8,
		},
		FlaggingRate: 12.0,
		GeneratedAt:  now,
	}

	if err := repo.SaveReport(ctx, report); err != nil {
		t.Fatalf("SaveReport failed: %v", err)
	}

	got, err := repo.GetReport(ctx, "rep-1")
	if err != nil {
		t.Fatalf("GetReport failed: %v", err)
	}
	if got.TotalFlagged != 12 {
		t.Errorf("expected 12 flagged, got %d", got.TotalFlagged)
	}
	if got.AlertCounts[domain.SeverityHigh] != 4 {
		t.Errorf("alert counts not round-tripped: %v", got.AlertCounts)
	}
}

func TestAnalysisAggregates(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	now := time.Now().UTC()
	results := []*domain.AnalysisResult{
		{ID: "an-1", TransactionID: "t1", RiskScore: 0.9, Method: domain.MethodHybrid, Flagged: true, CreatedAt: now},
		{ID: "an-2", TransactionID: "t2", RiskScore: 0.2, Method: domain.MethodLocal, Flagged: false, CreatedAt: now},
		{ID: "an-3", TransactionID: "t3", RiskScore: 0.85, Method: domain.MethodHybrid, Flagged: true, CreatedAt: now.Add(-48 * time.Hour)},
	}
	for _, result := range results {
		if err := repo.SaveAnalysis(ctx, result); err != nil {
			t.Fatalf("SaveAnalysis failed: %v", err)
		}
	}

	agg, err := repo.AnalysisAggregates(ctx, now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("AnalysisAggregates failed: %v", err)
	}
	if agg.Total != 2 {
		t.Errorf("expected 2 in window, got %d", agg.Total)
	}
	if agg.Flagged != 1 {
		t.Errorf("expected 1 flagged, got %d", agg.Flagged)
	}
	if agg.HighRisk != 1 {
		t.Errorf("expected 1 high risk, got %d", agg.HighRisk)
	}
	if agg.AvgRisk < 0.54 || agg.AvgRisk > 0.56 {
		t.Errorf("expected avg ~0.55, got %v", agg.AvgRisk)
	}
}

func TestAlertCountsBySeverity(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	now := time.Now().UTC()
	for i, sev := range []domain.Severity{domain.SeverityHigh, domain.SeverityHigh, domain.SeverityLow} {
		a := &domain.Alert{
			ID:            "al-" + string(rune('a'+i)),
			TransactionID: "t",
			Severity:      sev,
			Status:        domain.AlertSent,
			Channels:      []domain.Channel{domain.ChannelConsole},
			CreatedAt:     now,
		}
		if err := repo.SaveAlert(ctx, a); err != nil {
			t.Fatalf("SaveAlert failed: %v", err)
		}
	}

	counts, err := repo.AlertCountsBySeverity(ctx, now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("AlertCountsBySeverity failed: %v", err)
	}
	if counts[domain.SeverityHigh] != 2 || counts[domain.SeverityLow] != 1 {
		t.Errorf("unexpected counts: %v", counts)
	}
}
