package domain

// FlagResult is the output of the rule-based flagging screen.
// Derived from a single Transaction; pure data, created once and
// passed forward, never mutated.
type FlagResult struct {
	TransactionID string `json:"transactionId"`

	// Flagged is true when the transaction warrants deeper analysis.
	Flagged bool `json:"flagged"`

	// RiskFlags lists human-readable reasons, in evaluation order.
	RiskFlags []string `json:"riskFlags"`

	// PreliminaryScore is the summed rule contribution, capped at 1.0.
	PreliminaryScore float64 `json:"preliminaryRiskScore"`

	// Method records how the verdict was produced ("rule_based",
	// "rule_based_model", "error_fallback").
	Method string `json:"flaggingMethod"`
}

// Flagging method tags.
const (
	FlagMethodRules      = "rule_based"
	FlagMethodRulesModel = "rule_based_model"
	FlagMethodFailSafe   = "error_fallback"
)
