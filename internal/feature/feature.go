// Package feature converts raw transactions into fixed-length numeric
// vectors matching the scorer's expected input layout.
package feature

import (
	"fmt"
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// FeatureCount is the number of named feature keys (V1..V28).
const FeatureCount = 28

// VectorLength is the scorer input size: log-amount plus V1..V28.
const VectorLength = FeatureCount + 1

// FeatureError indicates malformed transaction input. It fails the
// single transaction only; batch processing continues past it.
type FeatureError struct {
	Field  string
	Reason string
}

func (e *FeatureError) Error() string {
	return fmt.Sprintf("feature: invalid %s: %s", e.Field, e.Reason)
}

// Vector produces the ordered feature vector for a transaction:
// log1p(amount) first, then V1..V28 in order.
//
// Missing feature keys default to 0.0. This is deliberate zero
// imputation, not error masking: upstream feeds routinely omit keys
// and the model was trained with the same convention.
func Vector(tx *domain.Transaction) ([]float64, error) {
	if tx.Amount < 0 {
		return nil, &FeatureError{Field: "amount", Reason: fmt.Sprintf("negative value %v", tx.Amount)}
	}
	if math.IsNaN(tx.Amount) || math.IsInf(tx.Amount, 0) {
		return nil, &FeatureError{Field: "amount", Reason: "non-numeric value"}
	}

	vec := make([]float64, 0, VectorLength)
	vec = append(vec, math.Log1p(tx.Amount))

	for i := 1; i <= FeatureCount; i++ {
		vec = append(vec, tx.Features[fmt.Sprintf("V%d", i)])
	}

	return vec, nil
}

// ExtremeCount returns the number of feature values whose absolute
// magnitude exceeds the threshold. Used by the flagger's
// extreme-feature rules.
func ExtremeCount(tx *domain.Transaction, threshold float64) int {
	count := 0
	for _, v := range tx.Features {
		if math.Abs(v) > threshold {
			count++
		}
	}
	return count
}
