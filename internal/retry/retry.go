// Package retry implements bounded exponential backoff for calls to
// flaky dependencies (the remote scorer, SMTP, webhooks).
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Policy describes a retry schedule.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// BaseDelay is the delay before the second attempt; each further
	// attempt doubles it, capped at MaxDelay.
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// Jitter adds up to this fraction of the delay as random noise so
	// concurrent retriers do not synchronize.
	Jitter float64
}

// DefaultPolicy suits short network calls inside a request.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    2 * time.Second,
		Jitter:      0.2,
	}
}

// Do runs fn until it succeeds, the attempts are exhausted, or the
// context is done. It returns the last error from fn, or the context
// error when cancelled mid-wait.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	delay := p.BaseDelay

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			wait := delay
			if p.Jitter > 0 {
				wait += time.Duration(rand.Float64() * p.Jitter * float64(delay))
			}

			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}

			delay *= 2
			if p.MaxDelay > 0 && delay > p.MaxDelay {
				delay = p.MaxDelay
			}
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
	}

	return lastErr
}
