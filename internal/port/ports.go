// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations.
package port

import (
	"context"

	"github.com/boddenberg/finledger-go/internal/domain"

	"github.com/shopspring/decimal"
)

// AccountGuard is exclusive access to one account, handed out by
// LedgerStore.AccountForUpdate. Exactly one guard per account exists at a
// time; the holder sees the fully committed state of every previous commit.
//
// Release must be called on every exit path (defer it right after
// acquisition). Calling Release after a successful Commit is a no-op, so the
// usual pattern is safe:
//
//	guard, err := store.AccountForUpdate(ctx, id)
//	if err != nil { ... }
//	defer guard.Release()
//	...
//	return guard.Commit(ctx, newBalance, tx)
type AccountGuard interface {
	// Account returns the state of the account as of lock acquisition.
	Account() domain.Account

	// Commit atomically persists the new balance and appends the
	// transaction record, then releases the lock. tx may carry any final
	// status; pass the unchanged balance to record a decline without
	// mutating funds. Commit failure rolls the mutation back and keeps
	// the lock for Release.
	Commit(ctx context.Context, newBalance decimal.Decimal, tx *domain.Transaction) error

	// Release drops the lock without committing. Idempotent.
	Release()
}

// LedgerStore is the durable home of accounts and their append-only
// transaction logs. The ledger service depends only on this interface.
type LedgerStore interface {
	CreateAccount(ctx context.Context, acct *domain.Account) error
	GetAccount(ctx context.Context, id string) (*domain.Account, error)
	ListAccounts(ctx context.Context) ([]domain.Account, error)

	// AccountForUpdate blocks until exclusive access to the account is
	// acquired or ctx is done. It never fails fast on contention.
	AccountForUpdate(ctx context.Context, id string) (AccountGuard, error)

	GetTransaction(ctx context.Context, id string) (*domain.Transaction, error)
	ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error)

	// LinkReceipt attaches a receipt reference to a transaction without
	// changing its verification state.
	LinkReceipt(ctx context.Context, txID, receiptRef string) error

	// VerifyReceipt marks the transaction's receipt as verified and, only
	// if the transaction is currently approved, promotes it to verified.
	// Re-verifying an already verified transaction is a no-op.
	VerifyReceipt(ctx context.Context, txID string) (*domain.Transaction, error)
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}

// ReceiptParser is the external OCR collaborator: it turns stored receipt
// evidence into a structured parse result. Internals (image handling, OCR)
// live outside this service.
type ReceiptParser interface {
	Parse(ctx context.Context, receiptRef string) (*domain.ParsedReceipt, error)
}

// ReconcilePublisher enqueues reconciliation jobs for asynchronous,
// at-least-once processing.
type ReconcilePublisher interface {
	Publish(ctx context.Context, job *domain.ReconcileJob) error
	Close() error
}

// ReconcileHandler processes one reconciliation job. Returning an error
// requests a retry; the handler must tolerate duplicate invocations with the
// same payload.
type ReconcileHandler func(ctx context.Context, job *domain.ReconcileJob) (*domain.MatchResult, error)

// ReconcileConsumer drains the reconciliation queue with a worker pool.
type ReconcileConsumer interface {
	Start(ctx context.Context, handler ReconcileHandler) error
	Stop(ctx context.Context) error
}

// JobStore tracks reconciliation job state for status polling.
type JobStore interface {
	SaveJob(ctx context.Context, job *domain.ReconcileJob) error
	GetJob(ctx context.Context, jobID string) (*domain.ReconcileJob, error)
}
