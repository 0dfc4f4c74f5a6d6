// Package worker consumes ingested transactions from the event bus and
// runs them through the screening pipeline asynchronously.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/pipeline"
)

// Worker subscribes to the ingestion topic and processes each message
// through the pipeline.
type Worker struct {
	bus      domain.EventBus
	pipeline *pipeline.Pipeline
	logger   *slog.Logger

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc

	mu      sync.Mutex
	stopped bool
}

// NewWorker creates an async worker over the given bus and pipeline.
func NewWorker(bus domain.EventBus, p *pipeline.Pipeline, logger *slog.Logger) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		pipeline: p,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes to the transaction ingestion topic.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicTransactionIngested, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", domain.TopicTransactionIngested, err)
	}
	w.subscriptions = append(w.subscriptions, sub)

	w.logger.Info("worker started", "topic", domain.TopicTransactionIngested)
	return nil
}

// handleMessage processes one ingested transaction. A malformed payload
// is an error back to the bus; a processed transaction is always
// acknowledged even when its analysis degraded.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	// A delivery racing with Stop is dropped; registering it with the
	// WaitGroup after Wait has begun would be a use-after-drain.
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.wg.Add(1)
	w.mu.Unlock()
	defer w.wg.Done()

	var req domain.TransactionRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		w.logger.Error("failed to parse transaction message",
			"message_id", msg.ID,
			"error", err)
		return err
	}

	tx := req.ToTransaction()

	outcome, err := w.pipeline.Process(ctx, tx)
	if err != nil {
		w.logger.Error("async processing failed",
			"transaction_id", tx.ID,
			"message_id", msg.ID,
			"error", err)
		return err
	}

	w.logger.Debug("async transaction processed",
		"transaction_id", tx.ID,
		"risk_score", outcome.Result.RiskScore,
		"flagged", outcome.Result.Flagged)

	return nil
}

// Stop unsubscribes and waits for in-flight messages to drain.
func (w *Worker) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	w.mu.Unlock()

	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			w.logger.Warn("unsubscribe failed", "topic", sub.Topic(), "error", err)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()
	w.logger.Info("worker stopped")
}
