// Package routing decides which scorer handles a flagged transaction
// and combines their scores into the final analysis result.
package routing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/feature"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

// errorScore is the conservative risk assigned when analysis fails
// entirely. High enough to force manual review downstream.
const errorScore = 0.8

// Analyzer routes flagged transactions between the local and remote
// scorers per the escalation policy.
type Analyzer struct {
	local  scoring.LocalScorer  // may be nil
	remote scoring.RemoteScorer // may be nil
	cfg    domain.RoutingConfig
	logger *slog.Logger
}

// NewAnalyzer creates a routing analyzer. Either scorer may be nil;
// the analyzer degrades through the method tags accordingly.
func NewAnalyzer(local scoring.LocalScorer, remote scoring.RemoteScorer, cfg domain.RoutingConfig, logger *slog.Logger) *Analyzer {
	return &Analyzer{
		local:  local,
		remote: remote,
		cfg:    cfg,
		logger: logger,
	}
}

// Analyze produces the final risk assessment for a flagged
// transaction. It never fails the transaction: scoring errors degrade
// to a conservative result with method "error".
func (a *Analyzer) Analyze(ctx context.Context, tx *domain.Transaction, flag *domain.FlagResult) *domain.AnalysisResult {
	start := time.Now()

	result := &domain.AnalysisResult{
		ID:            uuid.New().String(),
		TransactionID: tx.ID,
		Flagged:       flag.Flagged,
		RiskFlags:     flag.RiskFlags,
		CreatedAt:     time.Now().UTC(),
	}

	localRisk, localOK := a.localScore(ctx, tx, flag)
	result.LocalRisk = localRisk

	escalate := localRisk >= a.cfg.AIThreshold || tx.Amount >= a.cfg.EscalateAmount

	if !escalate {
		result.Method = domain.MethodLocal
		result.RiskScore = domain.ClampScore(localRisk)
		result.RoutingReason = fmt.Sprintf("Standard risk (%.3f) and value ($%.2f)", localRisk, tx.Amount)
		result.Summary = fmt.Sprintf("Local analysis: risk %.3f", localRisk)
		result.ProcessMs = time.Since(start).Milliseconds()
		return result
	}

	result.RoutingReason = fmt.Sprintf("High risk (%.3f) or high value ($%.2f)", localRisk, tx.Amount)

	remote, err := a.remoteAnalyze(ctx, tx)
	if err != nil {
		// Escalation wanted but the remote scorer is out. The local
		// score stands; flag the degradation for reviewers.
		a.logger.Warn("remote analysis unavailable, using local fallback",
			"transaction_id", tx.ID,
			"error", err)

		result.Method = domain.MethodFallback
		result.RiskScore = domain.ClampScore(localRisk)
		result.FraudIndicators = append(result.FraudIndicators, "Remote analysis unavailable")
		result.Recommendations = append(result.Recommendations, "Manual review recommended")
		result.Summary = fmt.Sprintf("Fallback analysis: local risk %.3f, remote unavailable", localRisk)
		result.ProcessMs = time.Since(start).Milliseconds()
		return result
	}

	result.RemoteRisk = remote.RiskScore
	result.FraudIndicators = remote.FraudIndicators
	result.Recommendations = remote.Recommendations

	if localOK {
		combined := localRisk*a.cfg.LocalWeight + remote.RiskScore*a.cfg.RemoteWeight
		result.Method = domain.MethodHybrid
		result.RiskScore = domain.ClampScore(combined)
		result.Summary = fmt.Sprintf("Hybrid analysis: remote(%.3f) + local(%.3f) = %.3f",
			remote.RiskScore, localRisk, result.RiskScore)
	} else {
		result.Method = domain.MethodRemote
		result.RiskScore = domain.ClampScore(remote.RiskScore)
		result.Summary = remote.Summary
		if result.Summary == "" {
			result.Summary = fmt.Sprintf("Remote analysis: risk %.3f", remote.RiskScore)
		}
	}

	result.ProcessMs = time.Since(start).Milliseconds()
	return result
}

// localScore computes the local model score, falling back to the
// flagger's preliminary score when no model is available. The second
// return reports whether a real model score was produced.
func (a *Analyzer) localScore(ctx context.Context, tx *domain.Transaction, flag *domain.FlagResult) (float64, bool) {
	if a.local == nil {
		return domain.ClampScore(flag.PreliminaryScore), false
	}

	vector, err := feature.Vector(tx)
	if err != nil {
		a.logger.Warn("feature vector build failed, using preliminary score",
			"transaction_id", tx.ID,
			"error", err)
		return domain.ClampScore(flag.PreliminaryScore), false
	}

	score, err := a.local.Score(ctx, vector)
	if err != nil {
		a.logger.Warn("local scoring failed, using preliminary score",
			"transaction_id", tx.ID,
			"error", err)
		return domain.ClampScore(flag.PreliminaryScore), false
	}

	return domain.ClampScore(score), true
}

func (a *Analyzer) remoteAnalyze(ctx context.Context, tx *domain.Transaction) (*scoring.RemoteResult, error) {
	if a.remote == nil {
		return nil, fmt.Errorf("no remote scorer configured: %w", scoring.ErrUnavailable)
	}
	return a.remote.Analyze(ctx, tx)
}

// ErrorResult produces the conservative result used when the pipeline
// itself fails on a transaction.
func ErrorResult(tx *domain.Transaction, reason string) *domain.AnalysisResult {
	return &domain.AnalysisResult{
		ID:              uuid.New().String(),
		TransactionID:   tx.ID,
		RiskScore:       errorScore,
		Method:          domain.MethodError,
		Flagged:         true,
		FraudIndicators: []string{"Analysis error: " + reason},
		Recommendations: []string{"Manual review required"},
		Summary:         "Analysis failed; conservative score applied",
		CreatedAt:       time.Now().UTC(),
	}
}
