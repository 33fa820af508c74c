// Package domain defines the core business entities for FinLedger.
// These models are independent of storage and transport and represent the
// canonical data structures used throughout the service.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountStatus is the lifecycle state of a corporate card account.
type AccountStatus string

const (
	AccountActive    AccountStatus = "active"
	AccountFrozen    AccountStatus = "frozen"
	AccountCancelled AccountStatus = "cancelled"
)

// Account represents a corporate card with a spending limit and the amount
// already spent against it. CurrentBalance is only ever mutated by the ledger
// service while holding the account's exclusive lock; the invariant
// 0 <= CurrentBalance <= SpendingLimit holds at every commit point.
type Account struct {
	ID             string          `json:"id"`
	CardNumber     string          `json:"card_number"`
	CardholderName string          `json:"cardholder_name"`
	SpendingLimit  decimal.Decimal `json:"spending_limit"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
	Status         AccountStatus   `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Available returns the remaining spending capacity (limit - balance).
// It is always derived, never stored.
func (a *Account) Available() decimal.Decimal {
	return a.SpendingLimit.Sub(a.CurrentBalance)
}

// MaskedNumber returns the card number with all but the last four digits hidden.
func (a *Account) MaskedNumber() string {
	if len(a.CardNumber) <= 4 {
		return a.CardNumber
	}
	return "****" + a.CardNumber[len(a.CardNumber)-4:]
}

// AccountSnapshot is the API-facing view of an account.
type AccountSnapshot struct {
	ID               string          `json:"id"`
	CardNumber       string          `json:"card_number"`
	CardholderName   string          `json:"cardholder_name"`
	SpendingLimit    decimal.Decimal `json:"spending_limit"`
	CurrentBalance   decimal.Decimal `json:"current_balance"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
	Status           AccountStatus   `json:"status"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Snapshot builds the API view with the card number masked and the available
// balance computed.
func (a *Account) Snapshot() AccountSnapshot {
	return AccountSnapshot{
		ID:               a.ID,
		CardNumber:       a.MaskedNumber(),
		CardholderName:   a.CardholderName,
		SpendingLimit:    a.SpendingLimit,
		CurrentBalance:   a.CurrentBalance,
		AvailableBalance: a.Available(),
		Status:           a.Status,
		CreatedAt:        a.CreatedAt,
		UpdatedAt:        a.UpdatedAt,
	}
}

// CreateAccountRequest is the already-validated input for account issuance.
type CreateAccountRequest struct {
	CardNumber     string          `json:"card_number"`
	CardholderName string          `json:"cardholder_name"`
	SpendingLimit  decimal.Decimal `json:"spending_limit"`
}
