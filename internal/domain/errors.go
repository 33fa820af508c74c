package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Error types for consistent error handling across FinLedger. Every expected
// failure of the ledger core is one of these variants; handlers map them to
// HTTP status codes with errors.As.

// ErrNotFound indicates a resource was not found.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrAccountNotFound indicates the card account does not exist.
type ErrAccountNotFound struct {
	ID string
}

func (e *ErrAccountNotFound) Error() string {
	return fmt.Sprintf("account not found: %s", e.ID)
}

// ErrAccountNotUsable indicates the account exists but is frozen or cancelled.
type ErrAccountNotUsable struct {
	ID     string
	Status AccountStatus
}

func (e *ErrAccountNotUsable) Error() string {
	return fmt.Sprintf("account %s is %s, cannot process transaction", e.ID, e.Status)
}

// ErrFraudBlocked indicates the risk evaluator hard-blocked the attempt.
// No transaction record exists for a blocked attempt.
type ErrFraudBlocked struct {
	Score   decimal.Decimal
	Reasons []string
}

func (e *ErrFraudBlocked) Error() string {
	return fmt.Sprintf("transaction blocked by fraud checks (score=%s): %s",
		e.Score, strings.Join(e.Reasons, "; "))
}

// ErrInsufficientFunds indicates not enough available balance. A declined
// transaction record has already been persisted when this error surfaces.
type ErrInsufficientFunds struct {
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *ErrInsufficientFunds) Error() string {
	return fmt.Sprintf("insufficient funds: requested=%s available=%s", e.Requested, e.Available)
}

// ErrStorage indicates a durability fault in the underlying store. Any
// in-flight mutation has been rolled back before this error surfaces.
type ErrStorage struct {
	Op  string
	Err error
}

func (e *ErrStorage) Error() string {
	return fmt.Sprintf("storage failure [%s]: %v", e.Op, e.Err)
}

func (e *ErrStorage) Unwrap() error {
	return e.Err
}

// ErrValidation indicates a validation error (bad input).
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrUnauthorized indicates invalid credentials or token.
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "unauthorized"
}

// ErrExternalService indicates a failure in an external service call.
type ErrExternalService struct {
	Service string
	Err     error
}

func (e *ErrExternalService) Error() string {
	return fmt.Sprintf("external service error [%s]: %v", e.Service, e.Err)
}

func (e *ErrExternalService) Unwrap() error {
	return e.Err
}

// ErrConflict indicates a resource already exists (e.g. duplicate card number).
type ErrConflict struct {
	Message string
}

func (e *ErrConflict) Error() string {
	return e.Message
}
