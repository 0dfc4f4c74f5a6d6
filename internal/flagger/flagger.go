// Package flagger implements the rule-based first-pass screen. Every
// transaction goes through it; only flagged transactions proceed to
// full risk analysis.
package flagger

import (
	"context"
	"log/slog"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/feature"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

// Threshold constants for the built-in heuristics.
const (
	highAmount     = 10000.0
	elevatedAmount = 5000.0

	extremeFeatureLimit = 3.0

	// A transaction is flagged when its preliminary score reaches
	// FlagScoreThreshold or it accumulates MinFlagCount reasons.
	FlagScoreThreshold = 0.3
	MinFlagCount       = 2

	// failSafeScore is the conservative score assigned when flagging
	// itself errors. High enough to guarantee escalation downstream.
	failSafeScore = 0.8
)

// Flagger screens transactions with built-in heuristics, optional
// operator-defined CEL rules, and an optional model pre-score.
type Flagger struct {
	scorer scoring.LocalScorer // may be nil
	engine *rules.Engine       // may be nil
	logger *slog.Logger
}

// New creates a flagger. scorer and engine are both optional; with
// neither, flagging is purely heuristic.
func New(scorer scoring.LocalScorer, engine *rules.Engine, logger *slog.Logger) *Flagger {
	return &Flagger{
		scorer: scorer,
		engine: engine,
		logger: logger,
	}
}

// Flag screens one transaction. It never returns an error: when
// screening itself fails the transaction is flagged for manual review
// with a conservative score rather than dropped.
func (f *Flagger) Flag(ctx context.Context, tx *domain.Transaction) *domain.FlagResult {
	result := &domain.FlagResult{
		TransactionID: tx.ID,
		Method:        domain.FlagMethodRules,
	}

	score := 0.0

	// Amount heuristics. The bands are exclusive: a high amount does
	// not also collect the elevated flag.
	switch {
	case tx.Amount > highAmount:
		result.RiskFlags = append(result.RiskFlags, "High transaction amount")
		score += 0.3
	case tx.Amount > elevatedAmount:
		result.RiskFlags = append(result.RiskFlags, "Elevated transaction amount")
		score += 0.2
	}

	// Off-hours heuristic. An unparseable non-empty timestamp is
	// itself suspicious: fail safe instead of guessing.
	if tx.Timestamp != "" {
		hour, err := tx.Hour()
		if err != nil {
			return f.failSafe(tx, "malformed timestamp: "+tx.Timestamp)
		}
		if hour >= 23 || hour <= 3 {
			result.RiskFlags = append(result.RiskFlags, "Off-hours transaction")
			score += 0.1
		}
	}

	// Extreme feature values suggest the upstream feature pipeline saw
	// something far outside the training distribution.
	if len(tx.Features) > 0 {
		extreme := feature.ExtremeCount(tx, extremeFeatureLimit)
		if extreme > 5 {
			result.RiskFlags = append(result.RiskFlags, "Multiple extreme feature values")
			score += 0.4
		} else if extreme > 2 {
			result.RiskFlags = append(result.RiskFlags, "Some extreme feature values")
			score += 0.2
		}
	}

	// Operator-defined CEL rules contribute on top of the built-ins.
	if f.engine != nil && f.engine.RulesCount() > 0 {
		contributions, err := f.engine.EvaluateAll(ctx, tx)
		if err != nil {
			f.logger.Warn("flag rule evaluation failed", "transaction_id", tx.ID, "error", err)
		}
		for _, c := range contributions {
			if c.Err != "" {
				f.logger.Warn("flag rule errored",
					"transaction_id", tx.ID,
					"rule_id", c.RuleID,
					"error", c.Err)
				continue
			}
			if c.Score > 0 {
				result.RiskFlags = append(result.RiskFlags, c.Reason)
				score += c.Score
			}
		}
	}

	// Model pre-score can only raise the verdict, never lower it.
	if f.scorer != nil {
		vector, err := feature.Vector(tx)
		if err != nil {
			return f.failSafe(tx, err.Error())
		}

		mlRisk, err := f.scorer.Score(ctx, vector)
		if err != nil {
			f.logger.Warn("model pre-score failed", "transaction_id", tx.ID, "error", err)
		} else {
			result.Method = domain.FlagMethodRulesModel
			if mlRisk > 0.7 {
				result.RiskFlags = append(result.RiskFlags, "ML model high risk prediction")
				score = max(score, mlRisk)
			} else if mlRisk > 0.5 {
				result.RiskFlags = append(result.RiskFlags, "ML model moderate risk prediction")
				score = max(score, mlRisk*0.8)
			}
		}
	}

	result.PreliminaryScore = domain.ClampScore(score)
	result.Flagged = result.PreliminaryScore >= FlagScoreThreshold || len(result.RiskFlags) >= MinFlagCount

	return result
}

// failSafe produces the conservative verdict used when screening
// errors. Flagged on error so a broken feed cannot slip fraud past
// the pipeline unreviewed.
func (f *Flagger) failSafe(tx *domain.Transaction, reason string) *domain.FlagResult {
	f.logger.Error("flagging failed, applying fail-safe",
		"transaction_id", tx.ID,
		"reason", reason)

	return &domain.FlagResult{
		TransactionID:    tx.ID,
		Flagged:          true,
		RiskFlags:        []string{"Flagging error: " + reason},
		PreliminaryScore: failSafeScore,
		Method:           domain.FlagMethodFailSafe,
	}
}
