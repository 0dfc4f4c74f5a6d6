package domain

// FlagRule is an operator-configurable flagging rule. Rules extend the
// built-in heuristics: each rule contributes a score and a reason to
// the FlagResult when its CEL expression matches.
type FlagRule struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// Expression is a CEL expression over the transaction. It must
	// evaluate to bool (contributes Score when true) or double
	// (contributes value * Score, clamped to [0,1] first).
	Expression string `json:"expression"`

	// Score is the contribution added to the preliminary risk score.
	Score float64 `json:"score"`

	// Reason is appended to the risk flags when the rule matches.
	Reason string `json:"reason"`

	Enabled bool `json:"enabled"`
}

// RuleContribution is the outcome of evaluating one flag rule.
type RuleContribution struct {
	RuleID string `json:"ruleId"`

	// Score is the contribution toward the preliminary risk score.
	// Zero means the rule did not match.
	Score float64 `json:"score"`

	Reason string `json:"reason,omitempty"`

	// Err holds the evaluation error message, if any. A rule that
	// errors contributes nothing but is surfaced for operators.
	Err string `json:"error,omitempty"`
}
