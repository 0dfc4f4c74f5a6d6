// Package pipeline runs a transaction through the full screening flow:
// flag, route, classify, dispatch, persist.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/alert"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/flagger"
	"github.com/opensource-finance/kestrel/internal/retry"
	"github.com/opensource-finance/kestrel/internal/routing"
	"github.com/opensource-finance/kestrel/internal/stats"
)

// Outcome bundles everything one transaction produced. Alert is nil
// when the transaction was not flagged.
type Outcome struct {
	Result *domain.AnalysisResult `json:"result"`
	Alert  *domain.Alert          `json:"alert,omitempty"`
}

// Pipeline orchestrates the screening stages. Stages themselves never
// fail a transaction; the pipeline's own error return covers only
// context cancellation and invalid input.
type Pipeline struct {
	flagger    *flagger.Flagger
	analyzer   *routing.Analyzer
	dispatcher *alert.Dispatcher
	repo       domain.Repository
	bus        domain.EventBus
	stats      *stats.Collector
	retry      retry.Policy

	webhookEnabled   bool
	batchConcurrency int

	logger *slog.Logger
}

// New creates a pipeline over the given stages.
func New(
	flg *flagger.Flagger,
	analyzer *routing.Analyzer,
	dispatcher *alert.Dispatcher,
	repo domain.Repository,
	bus domain.EventBus,
	collector *stats.Collector,
	cfg *domain.Config,
	logger *slog.Logger,
) *Pipeline {
	concurrency := cfg.Pipeline.BatchConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	return &Pipeline{
		flagger:          flg,
		analyzer:         analyzer,
		dispatcher:       dispatcher,
		repo:             repo,
		bus:              bus,
		stats:            collector,
		retry:            retry.DefaultPolicy(),
		webhookEnabled:   cfg.Notify.WebhookEnabled,
		batchConcurrency: concurrency,
		logger:           logger,
	}
}

// Process screens one transaction end to end. A flagged transaction
// produces exactly one alert; a clean transaction produces none.
// Persistence and publish failures are logged but never drop the
// analysis.
func (p *Pipeline) Process(ctx context.Context, tx *domain.Transaction) (*Outcome, error) {
	if tx == nil || tx.ID == "" {
		return nil, fmt.Errorf("transaction id is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()

	if err := p.repo.SaveTransaction(ctx, tx); err != nil {
		p.logger.Warn("transaction persist failed",
			"transaction_id", tx.ID,
			"error", err)
	}

	flag := p.flagger.Flag(ctx, tx)
	if flag.Method == domain.FlagMethodFailSafe {
		p.stats.RecordFailSafe()
	}

	var result *domain.AnalysisResult
	if flag.Flagged {
		p.publish(ctx, domain.TopicTransactionFlagged, flag)
		result = p.analyzer.Analyze(ctx, tx, flag)
	} else {
		result = p.cleanResult(tx, flag)
	}

	escalated := result.Method == domain.MethodHybrid ||
		result.Method == domain.MethodRemote ||
		result.Method == domain.MethodFallback
	p.stats.RecordAnalysis(result.RiskScore, flag.Flagged, escalated)
	if result.Method == domain.MethodFallback {
		p.stats.RecordRemoteFailure()
	}

	if err := p.repo.SaveAnalysis(ctx, result); err != nil {
		p.logger.Warn("analysis persist failed",
			"analysis_id", result.ID,
			"transaction_id", tx.ID,
			"error", err)
	}
	p.publish(ctx, domain.TopicAnalysisResult, result)

	outcome := &Outcome{Result: result}
	if flag.Flagged {
		outcome.Alert = p.raiseAlert(ctx, tx, result)
	}

	result.ProcessMs = time.Since(start).Milliseconds()

	p.logger.Info("transaction processed",
		"transaction_id", tx.ID,
		"risk_score", result.RiskScore,
		"method", result.Method,
		"flagged", flag.Flagged,
		"process_ms", result.ProcessMs)

	return outcome, nil
}

// ProcessBatch screens transactions concurrently, bounded by the
// configured batch concurrency. One bad transaction never aborts the
// batch; its slot carries a conservative error result instead.
func (p *Pipeline) ProcessBatch(ctx context.Context, txs []*domain.Transaction) []*Outcome {
	outcomes := make([]*Outcome, len(txs))
	sem := make(chan struct{}, p.batchConcurrency)
	var wg sync.WaitGroup

	for i, tx := range txs {
		wg.Add(1)
		go func(idx int, tx *domain.Transaction) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			if tx == nil {
				tx = &domain.Transaction{}
			}

			outcome, err := p.Process(ctx, tx)
			if err != nil {
				p.logger.Error("batch item failed",
					"transaction_id", tx.ID,
					"error", err)
				outcome = &Outcome{Result: routing.ErrorResult(tx, err.Error())}
			}
			outcomes[idx] = outcome
		}(i, tx)
	}

	wg.Wait()
	return outcomes
}

// raiseAlert classifies, persists, and dispatches the alert for a
// flagged transaction, then records the final dispatch status.
func (p *Pipeline) raiseAlert(ctx context.Context, tx *domain.Transaction, result *domain.AnalysisResult) *domain.Alert {
	a := alert.Build(tx, result, p.webhookEnabled)
	p.stats.RecordAlert(string(a.Severity))

	if err := p.repo.SaveAlert(ctx, a); err != nil {
		p.logger.Warn("alert persist failed",
			"alert_id", a.ID,
			"transaction_id", tx.ID,
			"error", err)
	}

	outcome := p.dispatcher.Dispatch(ctx, a)
	for range outcome.Errors {
		p.stats.RecordDispatchFailure()
	}

	if err := p.repo.UpdateAlertStatus(ctx, a.ID, a.Status); err != nil {
		p.logger.Warn("alert status update failed",
			"alert_id", a.ID,
			"status", a.Status,
			"error", err)
	}

	return a
}

// cleanResult records a transaction that passed the rule screen. No
// escalation runs; the preliminary score stands.
func (p *Pipeline) cleanResult(tx *domain.Transaction, flag *domain.FlagResult) *domain.AnalysisResult {
	score := domain.ClampScore(flag.PreliminaryScore)
	return &domain.AnalysisResult{
		ID:            uuid.New().String(),
		TransactionID: tx.ID,
		RiskScore:     score,
		Method:        domain.MethodLocal,
		Flagged:       false,
		RiskFlags:     flag.RiskFlags,
		RoutingReason: fmt.Sprintf("Not flagged (%.3f); standard processing", score),
		Summary:       fmt.Sprintf("Rule screen passed: risk %.3f", score),
		CreatedAt:     time.Now().UTC(),
	}
}

// publish sends an event with retry. Event delivery is best effort;
// the analysis stands whether or not consumers hear about it.
func (p *Pipeline) publish(ctx context.Context, topic string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		p.logger.Warn("event marshal failed", "topic", topic, "error", err)
		return
	}

	err = p.retry.Do(ctx, func(ctx context.Context) error {
		return p.bus.Publish(ctx, topic, payload)
	})
	if err != nil {
		p.logger.Warn("event publish failed", "topic", topic, "error", err)
	}
}
