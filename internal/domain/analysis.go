package domain

import (
	"time"
)

// AnalysisMethod tags how a risk score was produced. The set is closed:
// downstream consumers switch on these values.
type AnalysisMethod string

const (
	// MethodLocal means only the local classifier scored the transaction.
	MethodLocal AnalysisMethod = "local-model"

	// MethodRemote means only the remote model scored the transaction
	// (local classifier unavailable, remote analysis succeeded).
	MethodRemote AnalysisMethod = "remote-model"

	// MethodHybrid means local and remote scores were combined.
	MethodHybrid AnalysisMethod = "hybrid-combined"

	// MethodFallback means escalation was attempted but the remote
	// scorer failed, so the local score stands alone.
	MethodFallback AnalysisMethod = "fallback"

	// MethodError means scoring failed entirely and a conservative
	// default score was substituted.
	MethodError AnalysisMethod = "error"
)

// AnalysisResult is the outcome of risk analysis for one transaction.
// Immutable once produced; handed to the severity classifier and then
// discarded by the core (persistence is the repository's job).
type AnalysisResult struct {
	ID            string         `json:"analysisId"`
	TransactionID string         `json:"transactionId"`
	RiskScore     float64        `json:"riskScore"` // always in [0,1]
	Method        AnalysisMethod `json:"analysisMethod"`

	FraudIndicators []string `json:"fraudIndicators,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`
	Summary         string   `json:"analysisSummary,omitempty"`

	// Component scores, populated when escalation ran.
	LocalRisk  float64 `json:"localRisk,omitempty"`
	RemoteRisk float64 `json:"remoteRisk,omitempty"`

	// RoutingReason explains the escalation decision.
	RoutingReason string `json:"routingReason,omitempty"`

	// Flagged carries the flagger verdict forward so consumers do not
	// need the intermediate FlagResult.
	Flagged   bool     `json:"flagged"`
	RiskFlags []string `json:"riskFlags,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	ProcessMs int64     `json:"processMs,omitempty"`
}

// ClampScore forces a risk score into the closed interval [0,1].
// Out-of-range scores are clamped, never propagated.
func ClampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
