package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/alert"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/flagger"
	"github.com/opensource-finance/kestrel/internal/notify"
	"github.com/opensource-finance/kestrel/internal/routing"
	"github.com/opensource-finance/kestrel/internal/stats"
)

// memRepo is an in-memory Repository for pipeline tests.
type memRepo struct {
	mu       sync.Mutex
	txs      map[string]*domain.Transaction
	analyses map[string]*domain.AnalysisResult
	alerts   map[string]*domain.Alert
}

func newMemRepo() *memRepo {
	return &memRepo{
		txs:      map[string]*domain.Transaction{},
		analyses: map[string]*domain.AnalysisResult{},
		alerts:   map[string]*domain.Alert{},
	}
}

func (r *memRepo) SaveTransaction(_ context.Context, tx *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txs[tx.ID] = tx
	return nil
}

func (r *memRepo) GetTransaction(_ context.Context, txID string) (*domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.txs[txID]
	if !ok {
		return nil, errors.New("not found")
	}
	return tx, nil
}

func (r *memRepo) SaveAnalysis(_ context.Context, result *domain.AnalysisResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.analyses[result.ID] = result
	return nil
}

func (r *memRepo) GetAnalysis(_ context.Context, id string) (*domain.AnalysisResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	result, ok := r.analyses[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return result, nil
}

func (r *memRepo) GetAnalysisByTransaction(_ context.Context, txID string) (*domain.AnalysisResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, result := range r.analyses {
		if result.TransactionID == txID {
			return result, nil
		}
	}
	return nil, errors.New("not found")
}

func (r *memRepo) SaveAlert(_ context.Context, a *domain.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *a
	r.alerts[a.ID] = &stored
	return nil
}

func (r *memRepo) UpdateAlertStatus(_ context.Context, alertID string, status domain.AlertStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.alerts[alertID]
	if !ok {
		return errors.New("not found")
	}
	a.Status = status
	return nil
}

func (r *memRepo) GetAlert(_ context.Context, alertID string) (*domain.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.alerts[alertID]
	if !ok {
		return nil, errors.New("not found")
	}
	return a, nil
}

func (r *memRepo) ListAlerts(context.Context, domain.Severity, time.Time, int) ([]*domain.Alert, error) {
	return nil, nil
}

func (r *memRepo) SaveFlagRule(context.Context, *domain.FlagRule) error { return nil }
func (r *memRepo) GetFlagRule(context.Context, string) (*domain.FlagRule, error) {
	return nil, errors.New("not found")
}
func (r *memRepo) ListFlagRules(context.Context) ([]*domain.FlagRule, error) { return nil, nil }
func (r *memRepo) SaveReport(context.Context, *domain.Report) error          { return nil }
func (r *memRepo) GetReport(context.Context, string) (*domain.Report, error) {
	return nil, errors.New("not found")
}
func (r *memRepo) AnalysisAggregates(context.Context, time.Time, time.Time) (*domain.AnalysisAggregates, error) {
	return &domain.AnalysisAggregates{}, nil
}
func (r *memRepo) AlertCountsBySeverity(context.Context, time.Time, time.Time) (map[domain.Severity]int64, error) {
	return map[domain.Severity]int64{}, nil
}
func (r *memRepo) Ping(context.Context) error { return nil }
func (r *memRepo) Close() error               { return nil }

// recordBus records published topics. Setting failures makes that many
// leading publish attempts fail, to exercise the retry path.
type recordBus struct {
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

func (b *recordBus) Subscribe(context.Context, string, domain.MessageHandler) (domain.Subscription, error) {
	return nil, errors.New("not supported")
}

func (b *recordBus) Request(context.Context, string, []byte) ([]byte, error) {
	return nil, errors.New("not supported")
}

func (b *recordBus) Ping(context.Context) error { return nil }
func (b *recordBus) Close() error               { return nil }

func (b *recordBus) published(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, t := range b.topics {
		if t == topic {
			n++
		}
	}
	return n
}

type memCache struct {
	mu       sync.Mutex
	values   map[string][]byte
	counters map[string]int64
}

func newMemCache() *memCache {
	return &memCache{values: map[string][]byte{}, counters: map[string]int64{}}
}

func (c *memCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[key], nil
}

func (c *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
	return nil
}

func (c *memCache) SetNX(_ context.Context, key string, value []byte, _ time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.values[key]; exists {
		return false, nil
	}
	c.values[key] = value
	return true, nil
}

func (c *memCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, key)
	return nil
}

func (c *memCache) IncrementCounter(_ context.Context, key string, _ time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[key]++
	return c.counters[key], nil
}

func (c *memCache) Ping(context.Context) error { return nil }
func (c *memCache) Close() error               { return nil }

type fakeNotifier struct {
	channel domain.Channel
	mu      sync.Mutex
	calls   int
}

func (n *fakeNotifier) Channel() domain.Channel { return n.channel }

func (n *fakeNotifier) Notify(context.Context, *domain.Alert) error {
	n.mu.Lock()
	n.calls++
	n.mu.Unlock()
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testEnv struct {
	pipeline *Pipeline
	repo     *memRepo
	bus      *recordBus
	stats    *stats.Collector
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := domain.DefaultConfig()
	logger := discardLogger()

	repo := newMemRepo()
	bus := &recordBus{}
	collector := stats.NewCollector()

	notifiers := []notify.Notifier{
		&fakeNotifier{channel: domain.ChannelConsole},
		&fakeNotifier{channel: domain.ChannelEmail},
		&fakeNotifier{channel: domain.ChannelBus},
	}
	dispatcher := alert.NewDispatcher(notifiers, newMemCache(), domain.NotifyConfig{}, logger)

	p := New(
		flagger.New(nil, nil, logger),
		routing.NewAnalyzer(nil, nil, cfg.Routing, logger),
		dispatcher,
		repo,
		bus,
		collector,
		cfg,
		logger,
	)

	return &testEnv{pipeline: p, repo: repo, bus: bus, stats: collector}
}

func cleanTx(id string) *domain.Transaction {
	return &domain.Transaction{
		ID:        id,
		Amount:    100,
		Timestamp: "2026-08-30T12:00:00Z",
		CreatedAt: time.Now().UTC(),
	}
}

func TestProcessCleanTransaction(t *testing.T) {
	env := newTestEnv(t)

	outcome, err := env.pipeline.Process(context.Background(), cleanTx("tx-clean"))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if outcome.Alert != nil {
		t.Errorf("clean transaction must not raise an alert, got %+v", outcome.Alert)
	}
	if outcome.Result.Flagged {
		t.Error("clean transaction must not be flagged")
	}
	if outcome.Result.Method != domain.MethodLocal {
		t.Errorf("expected local-model method, got %s", outcome.Result.Method)
	}

	if _, err := env.repo.GetTransaction(context.Background(), "tx-clean"); err != nil {
		t.Error("transaction not persisted")
	}
	if _, err := env.repo.GetAnalysisByTransaction(context.Background(), "tx-clean"); err != nil {
		t.Error("analysis not persisted")
	}

	if env.bus.published(domain.TopicTransactionFlagged) != 0 {
		t.Error("clean transaction must not publish a flagged event")
	}
	if env.bus.published(domain.TopicAnalysisResult) != 1 {
		t.Error("analysis result event missing")
	}

	snap := env.stats.Snapshot()
	if snap.Processed != 1 || snap.Flagged != 0 {
		t.Errorf("unexpected stats: %+v", snap)
	}
}

func TestProcessFlaggedTransactionRaisesAlert(t *testing.T) {
	env := newTestEnv(t)

	tx := cleanTx("tx-high")
	tx.Amount = 15000

	outcome, err := env.pipeline.Process(context.Background(), tx)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if !outcome.Result.Flagged {
		t.Fatal("high-amount transaction must be flagged")
	}
	if outcome.Alert == nil {
		t.Fatal("flagged transaction must raise exactly one alert")
	}
	if outcome.Alert.Severity != domain.SeverityHigh {
		t.Errorf("expected HIGH severity for $15000, got %s", outcome.Alert.Severity)
	}
	if outcome.Alert.Status != domain.AlertSent {
		t.Errorf("expected alert SENT, got %s", outcome.Alert.Status)
	}

	// No remote scorer configured, escalation degrades to fallback.
	if outcome.Result.Method != domain.MethodFallback {
		t.Errorf("expected fallback method, got %s", outcome.Result.Method)
	}

	stored, err := env.repo.GetAlert(context.Background(), outcome.Alert.ID)
	if err != nil {
		t.Fatal("alert not persisted")
	}
	if stored.Status != domain.AlertSent {
		t.Errorf("persisted alert status not updated: %s", stored.Status)
	}

	if env.bus.published(domain.TopicTransactionFlagged) != 1 {
		t.Error("flagged event missing")
	}

	snap := env.stats.Snapshot()
	if snap.Flagged != 1 || snap.Escalated != 1 || snap.AlertsHigh != 1 {
		t.Errorf("unexpected stats: %+v", snap)
	}
	if snap.RemoteFailures != 1 {
		t.Errorf("fallback must count as remote failure, got %d", snap.RemoteFailures)
	}
}

func TestProcessFailSafeTransaction(t *testing.T) {
	env := newTestEnv(t)

	tx := cleanTx("tx-bad-ts")
	tx.Amount = 50
	tx.Timestamp = "not-a-timestamp"

	outcome, err := env.pipeline.Process(context.Background(), tx)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if !outcome.Result.Flagged {
		t.Fatal("fail-safe transaction must be flagged")
	}
	if outcome.Alert == nil {
		t.Fatal("fail-safe transaction must raise an alert")
	}
	if outcome.Alert.Severity != domain.SeverityMedium {
		t.Errorf("expected MEDIUM for risk 0.8 at $50, got %s", outcome.Alert.Severity)
	}

	snap := env.stats.Snapshot()
	if snap.FailSafe != 1 {
		t.Errorf("expected 1 fail-safe, got %d", snap.FailSafe)
	}
}

func TestProcessRejectsMissingID(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.pipeline.Process(context.Background(), &domain.Transaction{}); err == nil {
		t.Error("expected error for missing transaction id")
	}
	if _, err := env.pipeline.Process(context.Background(), nil); err == nil {
		t.Error("expected error for nil transaction")
	}
}

func TestProcessCancelledContext(t *testing.T) {
	env := newTestEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := env.pipeline.Process(ctx, cleanTx("tx-cancelled")); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestProcessBatchIsolatesFailures(t *testing.T) {
	env := newTestEnv(t)

	txs := []*domain.Transaction{
		cleanTx("tx-b1"),
		{}, // missing id
		cleanTx("tx-b3"),
	}

	outcomes := env.pipeline.ProcessBatch(context.Background(), txs)

	if len(outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(outcomes))
	}
	if outcomes[0].Result.TransactionID != "tx-b1" {
		t.Error("batch order not preserved")
	}
	if outcomes[1].Result.Method != domain.MethodError {
		t.Errorf("bad item must carry an error result, got %s", outcomes[1].Result.Method)
	}
	if outcomes[2].Result.TransactionID != "tx-b3" {
		t.Error("failure must not abort later items")
	}

	snap := env.stats.Snapshot()
	if snap.Processed != 2 {
		t.Errorf("expected 2 processed (error item skipped), got %d", snap.Processed)
	}
}

func TestProcessBatchConcurrent(t *testing.T) {
	env := newTestEnv(t)

	txs := make([]*domain.Transaction, 25)
	for i := range txs {
		txs[i] = cleanTx("tx-batch-" + string(rune('a'+i%26)) + string(rune('a'+i/26)))
	}

	outcomes := env.pipeline.ProcessBatch(context.Background(), txs)

	for i, outcome := range outcomes {
		if outcome == nil || outcome.Result == nil {
			t.Fatalf("outcome %d missing", i)
		}
	}
	if env.stats.Snapshot().Processed != 25 {
		t.Errorf("expected 25 processed, got %d", env.stats.Snapshot().Processed)
	}
}

func TestProcessPublishRetriesTransientBusFailure(t *testing.T) {
	env := newTestEnv(t)
	env.bus.failures = 1

	if _, err := env.pipeline.Process(context.Background(), cleanTx("tx-flaky-bus")); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	// The first publish attempt fails; the retry must deliver the
	// analysis result event.
	if got := env.bus.published(domain.TopicAnalysisResult); got != 1 {
		t.Errorf("expected analysis result delivered after retry, got %d", got)
	}
}
