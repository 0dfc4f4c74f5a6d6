package alert

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/notify"
)

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
	err     error

	mu    sync.Mutex
	calls int
}

func (n *fakeNotifier) Channel() domain.Channel { return n.channel }

func (n *fakeNotifier) Notify(ctx context.Context, _ *domain.Alert) error {
	n.mu.Lock()
	n.calls++
	n.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return n.err
}

func (n *fakeNotifier) callCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestAlert(txID string) *domain.Alert {
	return &domain.Alert{
		ID:            "alert-" + txID,
		TransactionID: txID,
		Severity:      domain.SeverityHigh,
		Channels:      []domain.Channel{domain.ChannelConsole, domain.ChannelEmail, domain.ChannelBus},
		Status:        domain.AlertCreated,
		RiskScore:     0.95,
		Amount:        12000,
	}
}

func newDispatcher(cache domain.Cache, cfg domain.NotifyConfig, notifiers ...notify.Notifier) *Dispatcher {
	return NewDispatcher(notifiers, cache, cfg, discardLogger())
}

func TestDispatchAllChannelsSucceed(t *testing.T) {
	console := &fakeNotifier{channel: domain.ChannelConsole}
	email := &fakeNotifier{channel: domain.ChannelEmail}
	bus := &fakeNotifier{channel: domain.ChannelBus}

	d := newDispatcher(newMemCache(), domain.NotifyConfig{EmailEnabled: true}, console, email, bus)

	a := newTestAlert("tx-1")
	outcome := d.Dispatch(context.Background(), a)

	if outcome.Status != domain.AlertSent {
		t.Errorf("expected SENT, got %s", outcome.Status)
	}
	if a.Status != domain.AlertSent {
		t.Errorf("alert status not updated: %s", a.Status)
	}
	if len(outcome.Errors) != 0 {
		t.Errorf("unexpected errors: %v", outcome.Errors)
	}
	for _, n := range []*fakeNotifier{console, email, bus} {
		if n.callCount() != 1 {
			t.Errorf("channel %s: expected 1 call, got %d", n.channel, n.callCount())
		}
	}
}

func TestDispatchPartialFailureIsolated(t *testing.T) {
	console := &fakeNotifier{channel: domain.ChannelConsole}
	email := &fakeNotifier{channel: domain.ChannelEmail, err: errors.New("smtp down")}
	bus := &fakeNotifier{channel: domain.ChannelBus}

	d := newDispatcher(newMemCache(), domain.NotifyConfig{EmailEnabled: true}, console, email, bus)

	a := newTestAlert("tx-2")
	outcome := d.Dispatch(context.Background(), a)

	if outcome.Status != domain.AlertPartial {
		t.Errorf("expected PARTIALLY_SENT, got %s", outcome.Status)
	}
	if len(outcome.Errors) != 1 {
		t.Fatalf("expected 1 error, got %d", len(outcome.Errors))
	}
	if outcome.Errors[0].Channel != domain.ChannelEmail {
		t.Errorf("expected email failure, got %s", outcome.Errors[0].Channel)
	}
	// The failing channel must not stop the others.
	if console.callCount() != 1 || bus.callCount() != 1 {
		t.Error("healthy channels must still deliver")
	}
}

func TestDispatchAllChannelsFail(t *testing.T) {
	console := &fakeNotifier{channel: domain.ChannelConsole, err: errors.New("down")}
	email := &fakeNotifier{channel: domain.ChannelEmail, err: errors.New("down")}
	bus := &fakeNotifier{channel: domain.ChannelBus, err: errors.New("down")}

	d := newDispatcher(newMemCache(), domain.NotifyConfig{EmailEnabled: true}, console, email, bus)

	a := newTestAlert("tx-3")
	outcome := d.Dispatch(context.Background(), a)

	if outcome.Status != domain.AlertFailed {
		t.Errorf("expected FAILED, got %s", outcome.Status)
	}
	if len(outcome.Errors) != 3 {
		t.Errorf("expected 3 errors, got %d", len(outcome.Errors))
	}
}

func TestDispatchIdempotentPerChannel(t *testing.T) {
	console := &fakeNotifier{channel: domain.ChannelConsole}
	email := &fakeNotifier{channel: domain.ChannelEmail, err: errors.New("smtp down")}
	bus := &fakeNotifier{channel: domain.ChannelBus}

	cache := newMemCache()
	d := newDispatcher(cache, domain.NotifyConfig{EmailEnabled: true}, console, email, bus)

	a := newTestAlert("tx-4")
	first := d.Dispatch(context.Background(), a)
	if first.Status != domain.AlertPartial {
		t.Fatalf("expected PARTIALLY_SENT, got %s", first.Status)
	}

	// Retry after the email relay recovers. Only email redelivers.
	email.err = nil
	second := d.Dispatch(context.Background(), a)

	if second.Status != domain.AlertSent {
		t.Errorf("expected SENT on retry, got %s", second.Status)
	}
	if console.callCount() != 1 {
		t.Errorf("console redelivered: %d calls", console.callCount())
	}
	if bus.callCount() != 1 {
		t.Errorf("bus redelivered: %d calls", bus.callCount())
	}
	if email.callCount() != 2 {
		t.Errorf("expected email redelivery, got %d calls", email.callCount())
	}
}

func TestDispatchCooldownSuppresses(t *testing.T) {
	console := &fakeNotifier{channel: domain.ChannelConsole}
	email := &fakeNotifier{channel: domain.ChannelEmail}
	bus := &fakeNotifier{channel: domain.ChannelBus}

	cache := newMemCache()
	cfg := domain.NotifyConfig{CooldownMinutes: 5}
	d := newDispatcher(cache, cfg, console, email, bus)

	first := newTestAlert("tx-5")
	d.Dispatch(context.Background(), first)

	second := newTestAlert("tx-5")
	second.ID = "alert-tx-5-repeat"
	outcome := d.Dispatch(context.Background(), second)

	if !outcome.Suppressed {
		t.Error("expected repeat alert suppressed by cooldown")
	}
	if console.callCount() != 1 {
		t.Errorf("suppressed alert must not dispatch, got %d console calls", console.callCount())
	}
}

func TestDispatchEmailRateLimit(t *testing.T) {
	console := &fakeNotifier{channel: domain.ChannelConsole}
	email := &fakeNotifier{channel: domain.ChannelEmail}
	bus := &fakeNotifier{channel: domain.ChannelBus}

	cache := newMemCache()
	cfg := domain.NotifyConfig{EmailEnabled: true, MaxAlertsPerHour: 1}
	d := newDispatcher(cache, cfg, console, email, bus)

	first := newTestAlert("tx-6")
	if outcome := d.Dispatch(context.Background(), first); outcome.Status != domain.AlertSent {
		t.Fatalf("first dispatch failed: %s", outcome.Status)
	}

	second := newTestAlert("tx-7")
	outcome := d.Dispatch(context.Background(), second)

	// Rate-limited email is skipped by policy, not failed.
	if outcome.Status != domain.AlertSent {
		t.Errorf("expected SENT with email gated, got %s", outcome.Status)
	}
	if email.callCount() != 1 {
		t.Errorf("expected email gated after limit, got %d calls", email.callCount())
	}
	// Console and bus are never rate limited.
	if console.callCount() != 2 || bus.callCount() != 2 {
		t.Error("console and bus must deliver regardless of the email gate")
	}
}

func TestDispatchEmailDisabledSkipped(t *testing.T) {
	console := &fakeNotifier{channel: domain.ChannelConsole}
	email := &fakeNotifier{channel: domain.ChannelEmail}
	bus := &fakeNotifier{channel: domain.ChannelBus}

	d := newDispatcher(newMemCache(), domain.NotifyConfig{}, console, email, bus)

	a := newTestAlert("tx-10")
	outcome := d.Dispatch(context.Background(), a)

	// Disabled email is skipped by policy, never failed.
	if outcome.Status != domain.AlertSent {
		t.Errorf("expected SENT with email disabled, got %s", outcome.Status)
	}
	if email.callCount() != 0 {
		t.Errorf("disabled email must not deliver, got %d calls", email.callCount())
	}
	if console.callCount() != 1 || bus.callCount() != 1 {
		t.Error("console and bus must still deliver")
	}
}

func TestDispatchCancelledContext(t *testing.T) {
	console := &fakeNotifier{channel: domain.ChannelConsole}
	email := &fakeNotifier{channel: domain.ChannelEmail}
	bus := &fakeNotifier{channel: domain.ChannelBus}

	d := newDispatcher(newMemCache(), domain.NotifyConfig{EmailEnabled: true}, console, email, bus)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := newTestAlert("tx-8")
	outcome := d.Dispatch(ctx, a)

	if outcome.Status != domain.AlertFailed {
		t.Errorf("expected FAILED under cancelled context, got %s", outcome.Status)
	}
}

func TestDispatchMissingNotifier(t *testing.T) {
	console := &fakeNotifier{channel: domain.ChannelConsole}

	d := newDispatcher(newMemCache(), domain.NotifyConfig{EmailEnabled: true}, console)

	a := newTestAlert("tx-9") // wants console, email, bus
	outcome := d.Dispatch(context.Background(), a)

	if outcome.Status != domain.AlertPartial {
		t.Errorf("expected PARTIALLY_SENT with unconfigured channels, got %s", outcome.Status)
	}
	if len(outcome.Errors) != 2 {
		t.Errorf("expected 2 errors for missing notifiers, got %d", len(outcome.Errors))
	}
}
