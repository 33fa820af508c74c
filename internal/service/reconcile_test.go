package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/boddenberg/finledger-go/internal/domain"
	"github.com/boddenberg/finledger-go/internal/infra/memstore"
	"github.com/boddenberg/finledger-go/internal/infra/observability"
	"github.com/boddenberg/finledger-go/internal/service"

	"go.uber.org/zap"
)

// seedTransaction commits one transaction into the store and returns its id.
func seedTransaction(t *testing.T, store *memstore.Store, id, amount, merchant string, status domain.TransactionStatus) {
	t.Helper()
	ctx := context.Background()

	if _, err := store.GetAccount(ctx, "a-1"); err != nil {
		now := time.Now().UTC()
		if err := store.CreateAccount(ctx, &domain.Account{
			ID:            "a-1",
			CardNumber:    "4111111111111111",
			SpendingLimit: dec("100000.00"),
			Status:        domain.AccountActive,
			CreatedAt:     now,
			UpdatedAt:     now,
		}); err != nil {
			t.Fatal(err)
		}
	}

	g, err := store.AccountForUpdate(ctx, "a-1")
	if err != nil {
		t.Fatal(err)
	}
	acct := g.Account()
	now := time.Now().UTC()
	if err := g.Commit(ctx, acct.CurrentBalance.Add(dec(amount)), &domain.Transaction{
		ID:           id,
		AccountID:    "a-1",
		Amount:       dec(amount),
		MerchantName: domain.NormalizeMerchant(merchant),
		Status:       status,
		CreatedAt:    now,
		UpdatedAt:    now,
	}); err != nil {
		t.Fatal(err)
	}
}

func newReconciler(store *memstore.Store) *service.ReconcileService {
	return service.NewReconcileService(store, observability.NewMetrics(), zap.NewNop())
}

func TestMatchReceipt_Targeted_BothMatch(t *testing.T) {
	store := memstore.New(zap.NewNop())
	seedTransaction(t, store, "tx-1", "42.50", "Coffee Shop", domain.TxApproved)
	svc := newReconciler(store)

	result, err := svc.MatchReceipt(context.Background(), domain.ReceiptMatchRequest{
		TransactionID: "tx-1",
		Receipt: domain.ParsedReceipt{
			MerchantName: "coffee shop downtown",
			Amount:       dec("42.99"),
			Reference:    "rcpt-1",
		},
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !result.Matched {
		t.Fatal("expected a match")
	}
	if result.Confidence != 0.95 {
		t.Errorf("expected confidence 0.95, got %f", result.Confidence)
	}
	if !result.Verified {
		t.Error("expected verification above the 0.80 threshold")
	}

	tx, _ := store.GetTransaction(context.Background(), "tx-1")
	if tx.Status != domain.TxVerified {
		t.Errorf("expected transaction promoted to verified, got %s", tx.Status)
	}
	if tx.ReceiptReference != "rcpt-1" {
		t.Errorf("expected receipt linked, got %q", tx.ReceiptReference)
	}
}

func TestMatchReceipt_Targeted_OneMatch(t *testing.T) {
	store := memstore.New(zap.NewNop())
	seedTransaction(t, store, "tx-1", "42.50", "Coffee Shop", domain.TxApproved)
	svc := newReconciler(store)

	// Amount agrees, merchant does not: 0.70, linked but not verified.
	result, err := svc.MatchReceipt(context.Background(), domain.ReceiptMatchRequest{
		TransactionID: "tx-1",
		Receipt: domain.ParsedReceipt{
			MerchantName: "HARDWARE DEPOT",
			Amount:       dec("42.00"),
			Reference:    "rcpt-1",
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !result.Matched || result.Confidence != 0.70 {
		t.Fatalf("expected matched at 0.70, got matched=%v confidence=%f", result.Matched, result.Confidence)
	}
	if result.Verified {
		t.Error("0.70 is below the verify threshold")
	}

	tx, _ := store.GetTransaction(context.Background(), "tx-1")
	if tx.Status != domain.TxApproved {
		t.Errorf("expected status unchanged, got %s", tx.Status)
	}
	if tx.ReceiptReference != "rcpt-1" {
		t.Errorf("expected receipt linked at 0.70, got %q", tx.ReceiptReference)
	}
	if tx.ReceiptVerified {
		t.Error("receipt must not be verified at 0.70")
	}
}

func TestMatchReceipt_Targeted_NeitherMatch(t *testing.T) {
	store := memstore.New(zap.NewNop())
	seedTransaction(t, store, "tx-1", "42.50", "Coffee Shop", domain.TxApproved)
	svc := newReconciler(store)

	result, err := svc.MatchReceipt(context.Background(), domain.ReceiptMatchRequest{
		TransactionID: "tx-1",
		Receipt: domain.ParsedReceipt{
			MerchantName: "HARDWARE DEPOT",
			Amount:       dec("500.00"),
			Reference:    "rcpt-1",
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Matched {
		t.Error("0.30 is below the accept threshold, expected no match")
	}
	if result.Confidence != 0.30 {
		t.Errorf("expected confidence 0.30, got %f", result.Confidence)
	}

	tx, _ := store.GetTransaction(context.Background(), "tx-1")
	if tx.ReceiptReference != "" {
		t.Error("a rejected match must leave the transaction untouched")
	}
}

func TestMatchReceipt_Targeted_MissingTransaction(t *testing.T) {
	store := memstore.New(zap.NewNop())
	svc := newReconciler(store)

	result, err := svc.MatchReceipt(context.Background(), domain.ReceiptMatchRequest{
		TransactionID: "ghost",
		Receipt:       domain.ParsedReceipt{MerchantName: "SHOP", Amount: dec("10.00")},
	})
	if err != nil {
		t.Fatalf("missing target is a no-match result, not an error: %v", err)
	}
	if result.Matched {
		t.Error("expected no match for a missing transaction")
	}
}

func TestMatchReceipt_OpenSearch_BestCandidate(t *testing.T) {
	store := memstore.New(zap.NewNop())
	seedTransaction(t, store, "tx-far", "500.00", "Coffee Shop", domain.TxApproved)
	seedTransaction(t, store, "tx-near", "42.50", "Coffee Shop", domain.TxApproved)
	seedTransaction(t, store, "tx-other", "42.50", "Hardware Depot", domain.TxApproved)
	svc := newReconciler(store)

	result, err := svc.MatchReceipt(context.Background(), domain.ReceiptMatchRequest{
		Receipt: domain.ParsedReceipt{
			MerchantName: "Coffee Shop",
			Amount:       dec("42.50"),
			Reference:    "rcpt-1",
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !result.Matched {
		t.Fatal("expected a match")
	}
	if result.MatchedTransactionID != "tx-near" {
		t.Errorf("expected best candidate tx-near, got %s", result.MatchedTransactionID)
	}
	if !result.Verified {
		t.Error("exact amount and merchant should verify (score 1.0)")
	}
}

func TestMatchReceipt_OpenSearch_NoCandidateAboveThreshold(t *testing.T) {
	store := memstore.New(zap.NewNop())
	seedTransaction(t, store, "tx-1", "500.00", "Hardware Depot", domain.TxApproved)
	svc := newReconciler(store)

	result, err := svc.MatchReceipt(context.Background(), domain.ReceiptMatchRequest{
		Receipt: domain.ParsedReceipt{
			MerchantName: "Coffee Shop",
			Amount:       dec("10.00"),
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Matched {
		t.Errorf("expected no match, got confidence %f", result.Confidence)
	}
}

func TestMatchReceipt_OpenSearch_SkipsVerified(t *testing.T) {
	store := memstore.New(zap.NewNop())
	seedTransaction(t, store, "tx-1", "42.50", "Coffee Shop", domain.TxApproved)
	if _, err := store.VerifyReceipt(context.Background(), "tx-1"); err != nil {
		t.Fatal(err)
	}
	svc := newReconciler(store)

	result, err := svc.MatchReceipt(context.Background(), domain.ReceiptMatchRequest{
		Receipt: domain.ParsedReceipt{
			MerchantName: "Coffee Shop",
			Amount:       dec("42.50"),
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Matched {
		t.Error("already-verified transactions must not be open-search candidates")
	}
}

func TestMatchReceipt_FlaggedVerifiesWithoutPromotion(t *testing.T) {
	store := memstore.New(zap.NewNop())
	seedTransaction(t, store, "tx-1", "42.50", "Coffee Shop", domain.TxFlagged)
	svc := newReconciler(store)

	result, err := svc.MatchReceipt(context.Background(), domain.ReceiptMatchRequest{
		TransactionID: "tx-1",
		Receipt: domain.ParsedReceipt{
			MerchantName: "Coffee Shop",
			Amount:       dec("42.50"),
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !result.Verified {
		t.Fatal("expected receipt verification")
	}

	tx, _ := store.GetTransaction(context.Background(), "tx-1")
	if tx.Status != domain.TxFlagged {
		t.Errorf("flagged must never promote to verified, got %s", tx.Status)
	}
	if !tx.ReceiptVerified {
		t.Error("receipt_verified must be set")
	}
}

func TestMatchReceipt_Idempotent(t *testing.T) {
	store := memstore.New(zap.NewNop())
	seedTransaction(t, store, "tx-1", "42.50", "Coffee Shop", domain.TxApproved)
	svc := newReconciler(store)

	req := domain.ReceiptMatchRequest{
		TransactionID: "tx-1",
		Receipt: domain.ParsedReceipt{
			MerchantName: "Coffee Shop",
			Amount:       dec("42.50"),
			Reference:    "rcpt-1",
		},
	}

	first, err := svc.MatchReceipt(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	afterFirst, _ := store.GetTransaction(context.Background(), "tx-1")

	second, err := svc.MatchReceipt(context.Background(), req)
	if err != nil {
		t.Fatalf("duplicate delivery must succeed: %v", err)
	}
	afterSecond, _ := store.GetTransaction(context.Background(), "tx-1")

	if first.Verified != second.Verified || first.Confidence != second.Confidence {
		t.Error("duplicate delivery must return the same outcome")
	}
	if afterSecond.Status != afterFirst.Status {
		t.Error("duplicate delivery must not change transaction state")
	}
	if !afterSecond.ReceiptVerifiedAt.Equal(*afterFirst.ReceiptVerifiedAt) {
		t.Error("duplicate delivery must not move the verification timestamp")
	}
}
