package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/retry"
)

// WebhookChannel posts alerts to a configured HTTP endpoint
// (Slack-style incoming webhook). Opt-in; disabled by default.
type WebhookChannel struct {
	url    string
	client *http.Client
	policy retry.Policy
}

// NewWebhookChannel creates the webhook notifier.
func NewWebhookChannel(url string) *WebhookChannel {
	return &WebhookChannel{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		policy: retry.DefaultPolicy(),
	}
}

func (c *WebhookChannel) Channel() domain.Channel { return domain.ChannelWebhook }

type webhookPayload struct {
	Text  string        `json:"text"`
	Alert *domain.Alert `json:"alert"`
}

func (c *WebhookChannel) Notify(ctx context.Context, alert *domain.Alert) error {
	body, err := json.Marshal(webhookPayload{
		Text: fmt.Sprintf("[%s] fraud alert %s: transaction %s risk %.3f amount $%.2f",
			alert.Severity, alert.ID, alert.TransactionID, alert.RiskScore, alert.Amount),
		Alert: alert,
	})
	if err != nil {
		return fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	return c.policy.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

		if resp.StatusCode >= 300 {
			return fmt.Errorf("webhook returned status %d", resp.StatusCode)
		}
		return nil
	})
}
