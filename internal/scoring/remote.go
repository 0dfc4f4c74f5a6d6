package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/retry"
)

// HTTPRemoteScorer calls an external analysis service over HTTP.
// Transient failures are retried with backoff; exhausted retries
// surface as ErrUnavailable so the caller can fall back.
type HTTPRemoteScorer struct {
	baseURL string
	apiKey  string
	client  *http.Client
	policy  retry.Policy
	logger  *slog.Logger
}

// NewHTTPRemoteScorer creates a remote scorer client.
func NewHTTPRemoteScorer(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *HTTPRemoteScorer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPRemoteScorer{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		policy:  retry.DefaultPolicy(),
		logger:  logger,
	}
}

type remoteRequest struct {
	TransactionID string             `json:"transaction_id"`
	Amount        float64            `json:"amount"`
	Timestamp     string             `json:"timestamp"`
	Features      map[string]float64 `json:"features,omitempty"`
}

// Analyze sends the transaction to the remote analysis endpoint.
func (s *HTTPRemoteScorer) Analyze(ctx context.Context, tx *domain.Transaction) (*RemoteResult, error) {
	body, err := json.Marshal(remoteRequest{
		TransactionID: tx.ID,
		Amount:        tx.Amount,
		Timestamp:     tx.Timestamp,
		Features:      tx.Features,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode analysis request: %w", err)
	}

	var result *RemoteResult
	attemptErr := s.policy.Do(ctx, func(ctx context.Context) error {
		r, err := s.analyzeOnce(ctx, body)
		if err != nil {
			s.logger.Warn("remote analysis attempt failed",
				"transaction_id", tx.ID,
				"error", err)
			return err
		}
		result = r
		return nil
	})
	if attemptErr != nil {
		return nil, fmt.Errorf("remote analysis failed: %v: %w", attemptErr, ErrUnavailable)
	}

	result.RiskScore = domain.ClampScore(result.RiskScore)
	return result, nil
}

func (s *HTTPRemoteScorer) analyzeOnce(ctx context.Context, body []byte) (*RemoteResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused.
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("remote scorer returned status %d", resp.StatusCode)
	}

	var result RemoteResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode analysis response: %w", err)
	}

	return &result, nil
}
