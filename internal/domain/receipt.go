package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ParsedReceipt is the structured output of the external receipt parsing
// (OCR) collaborator. The reconciler consumes this, never raw image bytes.
type ParsedReceipt struct {
	MerchantName string          `json:"merchant_name"`
	Amount       decimal.Decimal `json:"amount"`
	Date         time.Time       `json:"date"`
	Confidence   float64         `json:"confidence"`
	Reference    string          `json:"reference,omitempty"`
}

// ReceiptMatchRequest asks the reconciler to match a parsed receipt against
// either a specific transaction (TransactionID set) or an open search window.
type ReceiptMatchRequest struct {
	Receipt       ParsedReceipt `json:"receipt"`
	TransactionID string        `json:"transaction_id,omitempty"`
}

// MatchResult is the structured outcome of one reconciliation attempt.
// "Nothing matched" is a result, not an error.
type MatchResult struct {
	Matched              bool    `json:"matched"`
	Confidence           float64 `json:"confidence"`
	MatchedTransactionID string  `json:"matched_transaction_id,omitempty"`
	Verified             bool    `json:"verified"`
}

// JobStatus is the lifecycle state of an asynchronous reconciliation job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobRetrying  JobStatus = "retrying"
)

// ReconcileJob is the queue payload for one receipt-matching invocation.
// Delivery is at-least-once: the handler must tolerate duplicate invocations
// with the same payload.
type ReconcileJob struct {
	JobID         string        `json:"job_id"`
	Receipt       ParsedReceipt `json:"receipt"`
	TransactionID string        `json:"transaction_id,omitempty"`

	Status      JobStatus    `json:"status"`
	Result      *MatchResult `json:"result,omitempty"`
	Error       string       `json:"error,omitempty"`
	RetryCount  int          `json:"retry_count"`
	CreatedAt   time.Time    `json:"created_at"`
	StartedAt   *time.Time   `json:"started_at,omitempty"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}
