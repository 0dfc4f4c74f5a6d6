// Package scoring provides the local and remote risk scorers.
//
// The local scorer is a pre-trained classifier evaluated in-process;
// the remote scorer is an external analysis service consulted for
// escalated transactions.
package scoring

import (
	"context"
	"errors"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ErrUnavailable indicates the scorer cannot serve right now (model
// not loaded, remote endpoint unreachable). Callers fall back rather
// than fail the transaction.
var ErrUnavailable = errors.New("scorer unavailable")

// LocalScorer scores a prepared feature vector in-process.
type LocalScorer interface {
	// Score returns a risk score in [0,1] for the feature vector.
	Score(ctx context.Context, vector []float64) (float64, error)

	// ScoreBatch scores many vectors at once, one result per input.
	ScoreBatch(ctx context.Context, vectors [][]float64) ([]float64, error)

	// Name identifies the model for result summaries.
	Name() string
}

// RemoteResult is the remote analysis outcome for one transaction.
type RemoteResult struct {
	RiskScore       float64  `json:"risk_score"`
	FraudIndicators []string `json:"fraud_indicators,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`
	Summary         string   `json:"analysis_summary,omitempty"`
}

// RemoteScorer performs deep analysis of a transaction via an external
// service. Implementations must return an error wrapping
// ErrUnavailable on transport or service failures so callers can
// distinguish "remote down" from "remote said no".
type RemoteScorer interface {
	Analyze(ctx context.Context, tx *domain.Transaction) (*RemoteResult, error)
}
