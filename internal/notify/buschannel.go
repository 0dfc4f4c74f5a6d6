package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/retry"
)

// BusChannel publishes alerts on the event bus so downstream
// consumers (case management, audit) can react.
type BusChannel struct {
	bus    domain.EventBus
	topic  string
	policy retry.Policy
}

// NewBusChannel creates the message-bus notifier.
func NewBusChannel(bus domain.EventBus) *BusChannel {
	return &BusChannel{
		bus:    bus,
		topic:  domain.TopicAlert,
		policy: retry.DefaultPolicy(),
	}
}

func (c *BusChannel) Channel() domain.Channel { return domain.ChannelBus }

func (c *BusChannel) Notify(ctx context.Context, alert *domain.Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}

	return c.policy.Do(ctx, func(ctx context.Context) error {
		return c.bus.Publish(ctx, c.topic, payload)
	})
}
