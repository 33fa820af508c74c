package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/boddenberg/finledger-go/internal/domain"
	"github.com/boddenberg/finledger-go/internal/infra/observability"
	"github.com/boddenberg/finledger-go/internal/port"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var reconcileTracer = otel.Tracer("service/reconcile")

// Match policy constants. Amounts within one currency unit count as an
// amount match; candidates are searched over a trailing seven-day window.
var (
	amountTolerance = decimal.NewFromInt(1)
	amountSpread    = decimal.NewFromInt(100)
)

const (
	verifyThreshold = 0.80
	acceptThreshold = 0.70
	searchWindow    = 7 * 24 * time.Hour
)

// ReconcileService matches parsed receipts to committed transactions and
// upgrades their verification state. It runs out of band, invoked with
// at-least-once semantics, so every path is safe to repeat with the same
// input.
type ReconcileService struct {
	store   port.LedgerStore
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewReconcileService creates the reconciliation matcher.
func NewReconcileService(store port.LedgerStore, metrics *observability.Metrics, logger *zap.Logger) *ReconcileService {
	return &ReconcileService{store: store, metrics: metrics, logger: logger}
}

// MatchReceipt resolves a parsed receipt against the ledger. With a
// transaction id it verifies that one record; without, it searches the
// trailing window for the best unverified candidate. "Nothing matched" is a
// structured result, never an error; only storage faults propagate.
func (s *ReconcileService) MatchReceipt(ctx context.Context, req domain.ReceiptMatchRequest) (*domain.MatchResult, error) {
	ctx, span := reconcileTracer.Start(ctx, "ReconcileService.MatchReceipt")
	defer span.End()
	span.SetAttributes(
		attribute.String("receipt.merchant", req.Receipt.MerchantName),
		attribute.String("transaction.id", req.TransactionID),
	)

	start := time.Now()
	defer func() { s.metrics.RecordRequestDuration("reconcile_match", time.Since(start)) }()

	if req.TransactionID != "" {
		return s.matchTargeted(ctx, req.Receipt, req.TransactionID)
	}
	return s.matchOpen(ctx, req.Receipt)
}

// matchTargeted verifies a receipt against one named transaction.
// Confidence: 0.95 when both amount and merchant agree, 0.70 when exactly
// one does, 0.30 when neither.
func (s *ReconcileService) matchTargeted(ctx context.Context, receipt domain.ParsedReceipt, txID string) (*domain.MatchResult, error) {
	tx, err := s.store.GetTransaction(ctx, txID)
	if err != nil {
		var notFound *domain.ErrNotFound
		if errors.As(err, &notFound) {
			s.logger.Warn("reconcile: target transaction missing", zap.String("transaction_id", txID))
			s.metrics.IncrReconcileOutcome("no_match")
			return &domain.MatchResult{Matched: false}, nil
		}
		return nil, err
	}

	amountMatch := tx.Amount.Sub(receipt.Amount).Abs().LessThan(amountTolerance)
	merchantMatch := merchantsOverlap(receipt.MerchantName, tx.MerchantName)

	confidence := 0.30
	switch {
	case amountMatch && merchantMatch:
		confidence = 0.95
	case amountMatch || merchantMatch:
		confidence = 0.70
	}

	return s.applyOutcome(ctx, tx, receipt, confidence)
}

// matchOpen scans recent unverified approved/flagged transactions and picks
// the best-scoring candidate. Score = 0.6*amount + 0.4*merchant, where the
// amount score decays linearly over a 100-unit difference and the merchant
// score is the same all-or-nothing substring rule as targeted mode.
func (s *ReconcileService) matchOpen(ctx context.Context, receipt domain.ParsedReceipt) (*domain.MatchResult, error) {
	candidates, err := s.store.ListTransactions(ctx, domain.TransactionFilter{
		Statuses:          []domain.TransactionStatus{domain.TxApproved, domain.TxFlagged},
		CreatedAfter:      time.Now().UTC().Add(-searchWindow),
		ReceiptUnverified: true,
	})
	if err != nil {
		return nil, err
	}

	var best *domain.Transaction
	bestScore := 0.0
	for i := range candidates {
		tx := &candidates[i]

		diff := tx.Amount.Sub(receipt.Amount).Abs()
		amountScore, _ := decimal.NewFromInt(1).Sub(diff.Div(amountSpread)).Float64()
		if amountScore < 0 {
			amountScore = 0
		}

		merchantScore := 0.0
		if merchantsOverlap(receipt.MerchantName, tx.MerchantName) {
			merchantScore = 1.0
		}

		score := 0.6*amountScore + 0.4*merchantScore
		if score > bestScore {
			bestScore = score
			best = tx
		}
	}

	if best == nil || bestScore < acceptThreshold {
		s.metrics.IncrReconcileOutcome("no_match")
		s.logger.Info("reconcile: no candidate above threshold",
			zap.Float64("best_score", bestScore),
			zap.Int("candidates", len(candidates)),
		)
		return &domain.MatchResult{Matched: false, Confidence: bestScore}, nil
	}

	return s.applyOutcome(ctx, best, receipt, bestScore)
}

// applyOutcome performs the bounded mutation a match allows: link the receipt
// evidence, and above the verify threshold flip receipt_verified and promote
// APPROVED to VERIFIED. FLAGGED transactions keep their status even when
// verified; only the approved edge exists. Below the accept threshold the
// transaction is left untouched.
func (s *ReconcileService) applyOutcome(ctx context.Context, tx *domain.Transaction, receipt domain.ParsedReceipt, confidence float64) (*domain.MatchResult, error) {
	if confidence < acceptThreshold {
		s.metrics.IncrReconcileOutcome("no_match")
		return &domain.MatchResult{Matched: false, Confidence: confidence}, nil
	}

	result := &domain.MatchResult{
		Matched:              true,
		Confidence:           confidence,
		MatchedTransactionID: tx.ID,
	}

	if receipt.Reference != "" {
		if err := s.store.LinkReceipt(ctx, tx.ID, receipt.Reference); err != nil {
			return nil, err
		}
	}

	if confidence >= verifyThreshold {
		if _, err := s.store.VerifyReceipt(ctx, tx.ID); err != nil {
			return nil, err
		}
		result.Verified = true
		s.metrics.IncrReconcileOutcome("verified")
		s.logger.Info("reconcile: transaction verified",
			zap.String("transaction_id", tx.ID),
			zap.Float64("confidence", confidence),
		)
		return result, nil
	}

	s.metrics.IncrReconcileOutcome("linked")
	s.logger.Info("reconcile: receipt linked, below verify threshold",
		zap.String("transaction_id", tx.ID),
		zap.Float64("confidence", confidence),
	)
	return result, nil
}

// merchantsOverlap applies the case-insensitive substring containment rule
// in either direction.
func merchantsOverlap(a, b string) bool {
	a = strings.ToUpper(strings.TrimSpace(a))
	b = strings.ToUpper(strings.TrimSpace(b))
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}
