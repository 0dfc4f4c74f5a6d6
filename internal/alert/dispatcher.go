package alert

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/notify"
)

// dedupTTL keeps dispatch claims long enough to cover any realistic
// retry horizon.
const dedupTTL = 24 * time.Hour

// Outcome summarizes one dispatch run.
type Outcome struct {
	Status     domain.AlertStatus
	Errors     []*notify.DispatchError
	Suppressed bool // cooldown hit; nothing was dispatched
}

// Dispatcher fans an alert out to its channels concurrently.
type Dispatcher struct {
	notifiers map[domain.Channel]notify.Notifier
	cache     domain.Cache
	cfg       domain.NotifyConfig
	logger    *slog.Logger
}

// NewDispatcher creates a dispatcher over the given notifiers.
func NewDispatcher(notifiers []notify.Notifier, cache domain.Cache, cfg domain.NotifyConfig, logger *slog.Logger) *Dispatcher {
	byChannel := make(map[domain.Channel]notify.Notifier, len(notifiers))
	for _, n := range notifiers {
		byChannel[n.Channel()] = n
	}
	return &Dispatcher{
		notifiers: byChannel,
		cache:     cache,
		cfg:       cfg,
		logger:    logger,
	}
}

// Dispatch delivers the alert on every configured channel. Channels
// run concurrently and fail independently; the alert status reflects
// the aggregate outcome. The alert's Status field is updated in place.
func (d *Dispatcher) Dispatch(ctx context.Context, alert *domain.Alert) *Outcome {
	if d.cooldownActive(ctx, alert) {
		d.logger.Info("alert suppressed by cooldown",
			"alert_id", alert.ID,
			"transaction_id", alert.TransactionID)
		alert.Status = domain.AlertSent
		return &Outcome{Status: domain.AlertSent, Suppressed: true}
	}

	alert.Status = domain.AlertDispatching

	type channelResult struct {
		channel domain.Channel
		err     *notify.DispatchError
	}

	results := make([]channelResult, len(alert.Channels))
	var wg sync.WaitGroup

	for i, channel := range alert.Channels {
		wg.Add(1)
		go func(idx int, ch domain.Channel) {
			defer wg.Done()
			results[idx] = channelResult{channel: ch, err: d.dispatchOne(ctx, alert, ch)}
		}(i, channel)
	}

	wg.Wait()

	outcome := &Outcome{}
	succeeded := 0
	for _, r := range results {
		if r.err != nil {
			outcome.Errors = append(outcome.Errors, r.err)
			d.logger.Warn("channel dispatch failed",
				"alert_id", alert.ID,
				"channel", r.channel,
				"error", r.err.Err)
		} else {
			succeeded++
		}
	}

	switch {
	case succeeded == len(alert.Channels):
		outcome.Status = domain.AlertSent
	case succeeded > 0:
		outcome.Status = domain.AlertPartial
	default:
		outcome.Status = domain.AlertFailed
	}

	alert.Status = outcome.Status
	return outcome
}

// dispatchOne delivers on a single channel with a first-writer-wins
// dedup claim, so redelivery after a partial failure cannot duplicate
// notifications on channels that already succeeded.
func (d *Dispatcher) dispatchOne(ctx context.Context, alert *domain.Alert, channel domain.Channel) *notify.DispatchError {
	// Disabled email is skipped by policy, not failed; console and bus
	// still carry the alert.
	if channel == domain.ChannelEmail && !d.cfg.EmailEnabled {
		d.logger.Info("email notifications disabled, skipping email channel",
			"alert_id", alert.ID)
		return nil
	}

	notifier, ok := d.notifiers[channel]
	if !ok {
		return &notify.DispatchError{
			Channel: channel,
			AlertID: alert.ID,
			Err:     fmt.Errorf("no notifier configured"),
		}
	}

	dedupKey := fmt.Sprintf("alert:dispatch:%s:%s", alert.ID, channel)
	claimed, err := d.cache.SetNX(ctx, dedupKey, []byte("1"), dedupTTL)
	if err != nil {
		// Cache trouble must not block delivery; duplicates beat
		// dropped alerts.
		d.logger.Warn("dedup claim failed, dispatching anyway",
			"alert_id", alert.ID,
			"channel", channel,
			"error", err)
	} else if !claimed {
		return nil // already delivered by an earlier attempt
	}

	if channel == domain.ChannelEmail && d.emailRateExceeded(ctx) {
		// The rate gate also skips by policy rather than failing.
		d.logger.Warn("email rate limit reached, skipping email channel",
			"alert_id", alert.ID)
		return nil
	}

	if err := notifier.Notify(ctx, alert); err != nil {
		// Release the claim so a retry can redeliver this channel.
		if delErr := d.cache.Delete(ctx, dedupKey); delErr != nil {
			d.logger.Warn("failed to release dedup claim",
				"alert_id", alert.ID,
				"channel", channel,
				"error", delErr)
		}
		return &notify.DispatchError{Channel: channel, AlertID: alert.ID, Err: err}
	}

	return nil
}

// cooldownActive reports whether an alert for the same transaction
// was dispatched within the cooldown window.
func (d *Dispatcher) cooldownActive(ctx context.Context, alert *domain.Alert) bool {
	if d.cfg.CooldownMinutes <= 0 {
		return false
	}

	key := "alert:cooldown:" + alert.TransactionID
	stored, err := d.cache.SetNX(ctx, key, []byte(alert.ID), time.Duration(d.cfg.CooldownMinutes)*time.Minute)
	if err != nil {
		d.logger.Warn("cooldown check failed", "alert_id", alert.ID, "error", err)
		return false
	}
	return !stored
}

func (d *Dispatcher) emailRateExceeded(ctx context.Context) bool {
	if d.cfg.MaxAlertsPerHour <= 0 {
		return false
	}

	count, err := d.cache.IncrementCounter(ctx, "alert:email:hourly", time.Hour)
	if err != nil {
		d.logger.Warn("rate counter failed", "error", err)
		return false
	}
	return count > int64(d.cfg.MaxAlertsPerHour)
}
