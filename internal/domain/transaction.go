package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionStatus is the lifecycle state of a ledger transaction.
//
// Normal processing lands directly on approved, flagged or declined at
// creation; pending exists only as the zero-ish default and is never the
// outcome of a processed attempt. The single post-creation transition is
// approved -> verified, performed by the reconciler after a high-confidence
// receipt match.
type TransactionStatus string

const (
	TxPending  TransactionStatus = "pending"
	TxApproved TransactionStatus = "approved"
	TxDeclined TransactionStatus = "declined"
	TxFlagged  TransactionStatus = "flagged"
	TxVerified TransactionStatus = "verified"
)

// Transaction is an immutable record of one spend attempt and its outcome.
// After creation only the receipt/verification fields and the
// approved -> verified status edge may change (append-only ledger semantics).
type Transaction struct {
	ID           string            `json:"id"`
	AccountID    string            `json:"account_id"`
	Amount       decimal.Decimal   `json:"amount"`
	MerchantName string            `json:"merchant_name"`
	Category     string            `json:"category,omitempty"`
	Description  string            `json:"description,omitempty"`
	Status       TransactionStatus `json:"status"`

	// Risk metadata captured at creation time and never recomputed.
	RiskScore   decimal.Decimal `json:"risk_score"`
	RiskReasons []string        `json:"risk_reasons,omitempty"`

	// Receipt reconciliation fields, the only mutable part of the record.
	ReceiptReference  string     `json:"receipt_reference,omitempty"`
	ReceiptVerified   bool       `json:"receipt_verified"`
	ReceiptVerifiedAt *time.Time `json:"receipt_verified_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProcessTransactionRequest is the already-validated input for one spend attempt.
type ProcessTransactionRequest struct {
	AccountID    string          `json:"account_id"`
	Amount       decimal.Decimal `json:"amount"`
	MerchantName string          `json:"merchant_name"`
	Category     string          `json:"category,omitempty"`
	Description  string          `json:"description,omitempty"`
}

// TransactionFilter narrows ListTransactions results. Zero values mean
// "no restriction" for that field.
type TransactionFilter struct {
	AccountID         string
	Statuses          []TransactionStatus
	CreatedAfter      time.Time
	CreatedBefore     time.Time
	ReceiptUnverified bool
	Limit             int
	Offset            int
}

// NormalizeMerchant canonicalizes a merchant name for storage and matching:
// trimmed and upper-cased.
func NormalizeMerchant(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}
