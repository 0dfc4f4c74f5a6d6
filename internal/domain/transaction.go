// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"time"
)

// Transaction represents an incoming transaction to be screened.
// Transactions are immutable once ingested; every pipeline stage
// reads them and none mutates them.
type Transaction struct {
	ID string `json:"transactionId"`

	// Amount is the transaction value. Must be non-negative.
	Amount float64 `json:"amount"`

	// Timestamp is the original ISO-8601 timestamp as received.
	// Kept as a string because upstream feeds are not trusted to
	// produce parseable values; the flagger treats a malformed
	// timestamp as suspicious rather than rejecting the transaction.
	Timestamp string `json:"timestamp"`

	// Features maps named feature keys ("V1".."V28") to values.
	// Keys may be sparse; missing keys are treated as 0.0.
	Features map[string]float64 `json:"features,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// TransactionRequest is the API request payload for transaction analysis.
type TransactionRequest struct {
	TransactionID string             `json:"transaction_id"`
	Amount        float64            `json:"amount"`
	Timestamp     string             `json:"timestamp"`
	Features      map[string]float64 `json:"features,omitempty"`
}

// ToTransaction converts a request to a Transaction domain object.
func (r *TransactionRequest) ToTransaction() *Transaction {
	return &Transaction{
		ID:        r.TransactionID,
		Amount:    r.Amount,
		Timestamp: r.Timestamp,
		Features:  r.Features,
		CreatedAt: time.Now().UTC(),
	}
}

// Hour extracts the hour-of-day from the transaction timestamp.
// Returns an error when the timestamp is not RFC 3339 / ISO-8601.
func (t *Transaction) Hour() (int, error) {
	ts, err := time.Parse(time.RFC3339, t.Timestamp)
	if err != nil {
		return 0, err
	}
	return ts.Hour(), nil
}
