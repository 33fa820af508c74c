// Package service provides the business logic layer (use cases).
// LedgerService is the transaction engine: fraud-gated, lock-serialized
// balance mutation with an append-only transaction record per attempt.
package service

import (
	"context"
	"time"

	"github.com/boddenberg/finledger-go/internal/domain"
	"github.com/boddenberg/finledger-go/internal/fraud"
	"github.com/boddenberg/finledger-go/internal/infra/observability"
	"github.com/boddenberg/finledger-go/internal/port"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var ledgerTracer = otel.Tracer("service/ledger")

// LedgerService processes spend attempts against card accounts.
type LedgerService struct {
	store   port.LedgerStore
	fraud   *fraud.Engine
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewLedgerService creates the ledger service with all dependencies injected.
func NewLedgerService(store port.LedgerStore, engine *fraud.Engine, metrics *observability.Metrics, logger *zap.Logger) *LedgerService {
	return &LedgerService{store: store, fraud: engine, metrics: metrics, logger: logger}
}

// CreateAccount issues a new corporate card with a zero balance.
func (s *LedgerService) CreateAccount(ctx context.Context, req domain.CreateAccountRequest) (*domain.Account, error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.CreateAccount")
	defer span.End()

	if !req.SpendingLimit.IsPositive() {
		return nil, &domain.ErrValidation{Field: "spending_limit", Message: "must be positive"}
	}
	if req.CardNumber == "" {
		return nil, &domain.ErrValidation{Field: "card_number", Message: "required"}
	}

	now := time.Now().UTC()
	acct := &domain.Account{
		ID:             uuid.New().String(),
		CardNumber:     req.CardNumber,
		CardholderName: req.CardholderName,
		SpendingLimit:  req.SpendingLimit,
		CurrentBalance: decimal.Zero,
		Status:         domain.AccountActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.store.CreateAccount(ctx, acct); err != nil {
		return nil, err
	}

	s.logger.Info("account created",
		zap.String("account_id", acct.ID),
		zap.String("cardholder", acct.CardholderName),
		zap.String("limit", acct.SpendingLimit.String()),
	)
	return acct, nil
}

// GetAccount returns the current account state. Non-locking read.
func (s *LedgerService) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.GetAccount")
	defer span.End()

	return s.store.GetAccount(ctx, id)
}

// ListAccounts returns all accounts.
func (s *LedgerService) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.ListAccounts")
	defer span.End()

	return s.store.ListAccounts(ctx)
}

// GetTransaction returns one transaction record.
func (s *LedgerService) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.GetTransaction")
	defer span.End()

	return s.store.GetTransaction(ctx, id)
}

// ListTransactions returns transactions matching the filter, newest first.
func (s *LedgerService) ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.ListTransactions")
	defer span.End()

	return s.store.ListTransactions(ctx, filter)
}

// ProcessTransaction runs one spend attempt end to end, in strict order:
//
//  1. Risk evaluation, with no lock held. Fraud checks may be slow and must
//     not serialize unrelated work behind account contention. A blocked
//     verdict fails immediately and creates no record.
//  2. Exclusive account acquisition (blocks on contention, never fails fast).
//  3. Balance check under the lock. Insufficient funds persists a DECLINED
//     record before the error surfaces: the decline is part of the audit
//     trail, not a discarded attempt.
//  4. Otherwise the balance mutation and the record append commit atomically;
//     the verdict decides APPROVED vs FLAGGED.
//
// Each committed attempt for an account sees the fully committed balance of
// every previous one; 0 <= balance <= limit holds at every commit point.
func (s *LedgerService) ProcessTransaction(ctx context.Context, req domain.ProcessTransactionRequest) (*domain.Transaction, error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.ProcessTransaction")
	defer span.End()
	span.SetAttributes(
		attribute.String("account.id", req.AccountID),
		attribute.String("amount", req.Amount.String()),
	)

	start := time.Now()
	defer func() { s.metrics.RecordRequestDuration("process_transaction", time.Since(start)) }()

	if !req.Amount.IsPositive() {
		return nil, &domain.ErrValidation{Field: "amount", Message: "must be positive"}
	}
	if req.MerchantName == "" {
		return nil, &domain.ErrValidation{Field: "merchant_name", Message: "required"}
	}

	// Phase 1: fraud checks, strictly before lock acquisition.
	verdict := s.fraud.Check(ctx, fraud.Attempt{
		AccountID:    req.AccountID,
		Amount:       req.Amount,
		MerchantName: req.MerchantName,
	})

	if verdict.Blocked {
		s.metrics.IncrFraudBlock()
		s.logger.Warn("transaction blocked by fraud checks",
			zap.String("account_id", req.AccountID),
			zap.String("score", verdict.Score.String()),
			zap.Strings("reasons", verdict.Reasons),
		)
		return nil, &domain.ErrFraudBlocked{Score: verdict.Score, Reasons: verdict.Reasons}
	}

	// Phase 2: exclusive access. Blocks while another attempt on the same
	// account is in flight; different accounts never contend.
	lockStart := time.Now()
	guard, err := s.store.AccountForUpdate(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordLockWait(time.Since(lockStart))
	defer guard.Release()

	acct := guard.Account()
	if acct.Status != domain.AccountActive {
		return nil, &domain.ErrAccountNotUsable{ID: acct.ID, Status: acct.Status}
	}

	now := time.Now().UTC()
	tx := &domain.Transaction{
		ID:           uuid.New().String(),
		AccountID:    acct.ID,
		Amount:       req.Amount,
		MerchantName: domain.NormalizeMerchant(req.MerchantName),
		Category:     req.Category,
		Description:  req.Description,
		RiskScore:    verdict.Score,
		RiskReasons:  verdict.Reasons,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	// Phase 3: balance check with the lock held. No other attempt can
	// observe or mutate the balance until this one commits or rolls back.
	available := acct.Available()
	if req.Amount.GreaterThan(available) {
		tx.Status = domain.TxDeclined
		if len(tx.RiskReasons) == 0 {
			tx.RiskReasons = []string{"insufficient funds"}
		}
		if err := guard.Commit(ctx, acct.CurrentBalance, tx); err != nil {
			return nil, err
		}
		s.metrics.IncrTransaction(domain.TxDeclined)
		s.logger.Warn("transaction declined: insufficient funds",
			zap.String("account_id", acct.ID),
			zap.String("transaction_id", tx.ID),
			zap.String("requested", req.Amount.String()),
			zap.String("available", available.String()),
		)
		return nil, &domain.ErrInsufficientFunds{Requested: req.Amount, Available: available}
	}

	// Phase 4: atomic balance update + record append.
	tx.Status = domain.TxApproved
	if !verdict.Passed {
		tx.Status = domain.TxFlagged
	}

	newBalance := acct.CurrentBalance.Add(req.Amount)
	if err := guard.Commit(ctx, newBalance, tx); err != nil {
		return nil, err
	}

	s.metrics.IncrTransaction(tx.Status)
	s.logger.Info("transaction processed",
		zap.String("account_id", acct.ID),
		zap.String("transaction_id", tx.ID),
		zap.String("status", string(tx.Status)),
		zap.String("amount", req.Amount.String()),
		zap.String("new_balance", newBalance.String()),
	)
	return tx, nil
}
