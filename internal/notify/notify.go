// Package notify implements the notification channels alerts fan out
// to. Channels are independent: one failing never stops the others.
package notify

import (
	"context"
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Notifier delivers an alert over one channel.
type Notifier interface {
	// Channel identifies which channel this notifier serves.
	Channel() domain.Channel

	// Notify delivers the alert. Must be safe to call concurrently.
	Notify(ctx context.Context, alert *domain.Alert) error
}

// DispatchError records a single channel failure during fan-out.
type DispatchError struct {
	Channel domain.Channel
	AlertID string
	Err     error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch to %s failed for alert %s: %v", e.Channel, e.AlertID, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }
