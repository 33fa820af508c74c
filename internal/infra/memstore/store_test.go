package memstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/boddenberg/finledger-go/internal/domain"
	"github.com/boddenberg/finledger-go/internal/infra/memstore"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newAccount(id string) *domain.Account {
	now := time.Now().UTC()
	return &domain.Account{
		ID:             id,
		CardNumber:     "4111111111111111-" + id,
		CardholderName: "Test Holder",
		SpendingLimit:  dec("1000.00"),
		CurrentBalance: decimal.Zero,
		Status:         domain.AccountActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func newTx(id, accountID string, amount string, status domain.TransactionStatus) *domain.Transaction {
	now := time.Now().UTC()
	return &domain.Transaction{
		ID:           id,
		AccountID:    accountID,
		Amount:       dec(amount),
		MerchantName: "SHOP",
		Status:       status,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestCreateAccount_DuplicateCardNumber(t *testing.T) {
	store := memstore.New(zap.NewNop())
	ctx := context.Background()

	a := newAccount("a-1")
	if err := store.CreateAccount(ctx, a); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	dup := newAccount("a-2")
	dup.CardNumber = a.CardNumber
	err := store.CreateAccount(ctx, dup)
	if err == nil {
		t.Fatal("expected conflict for duplicate card number")
	}
	var conflict *domain.ErrConflict
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ErrConflict, got %T", err)
	}
}

func TestAccountForUpdate_SerializesAccess(t *testing.T) {
	store := memstore.New(zap.NewNop())
	ctx := context.Background()
	if err := store.CreateAccount(ctx, newAccount("a-1")); err != nil {
		t.Fatal(err)
	}

	g1, err := store.AccountForUpdate(ctx, "a-1")
	if err != nil {
		t.Fatal(err)
	}

	acquired := make(chan struct{})
	go func() {
		g2, err := store.AccountForUpdate(ctx, "a-1")
		if err != nil {
			t.Error(err)
			return
		}
		close(acquired)
		g2.Release()
	}()

	select {
	case <-acquired:
		t.Fatal("second acquisition succeeded while the first guard was held")
	case <-time.After(50 * time.Millisecond):
	}

	g1.Release()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second acquisition never unblocked after release")
	}
}

func TestAccountForUpdate_ContextCancel(t *testing.T) {
	store := memstore.New(zap.NewNop())
	ctx := context.Background()
	if err := store.CreateAccount(ctx, newAccount("a-1")); err != nil {
		t.Fatal(err)
	}

	g, err := store.AccountForUpdate(ctx, "a-1")
	if err != nil {
		t.Fatal(err)
	}
	defer g.Release()

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()

	_, err = store.AccountForUpdate(waitCtx, "a-1")
	if err == nil {
		t.Fatal("expected error when the wait deadline expires")
	}
	var storageErr *domain.ErrStorage
	if !errors.As(err, &storageErr) {
		t.Fatalf("expected ErrStorage, got %T", err)
	}
}

func TestGuardCommit_WritesBalanceAndRecord(t *testing.T) {
	store := memstore.New(zap.NewNop())
	ctx := context.Background()
	if err := store.CreateAccount(ctx, newAccount("a-1")); err != nil {
		t.Fatal(err)
	}

	g, err := store.AccountForUpdate(ctx, "a-1")
	if err != nil {
		t.Fatal(err)
	}
	tx := newTx("tx-1", "a-1", "250.00", domain.TxApproved)
	if err := g.Commit(ctx, dec("250.00"), tx); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	acct, err := store.GetAccount(ctx, "a-1")
	if err != nil {
		t.Fatal(err)
	}
	if !acct.CurrentBalance.Equal(dec("250.00")) {
		t.Errorf("expected balance 250.00, got %s", acct.CurrentBalance)
	}

	got, err := store.GetTransaction(ctx, "tx-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.TxApproved {
		t.Errorf("expected approved record, got %s", got.Status)
	}

	// Commit released the lock; reacquisition must not block.
	reCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	g2, err := store.AccountForUpdate(reCtx, "a-1")
	if err != nil {
		t.Fatalf("reacquisition after commit failed: %v", err)
	}
	g2.Release()
}

func TestGuardCommit_RejectsBalanceOutsideRange(t *testing.T) {
	store := memstore.New(zap.NewNop())
	ctx := context.Background()
	if err := store.CreateAccount(ctx, newAccount("a-1")); err != nil {
		t.Fatal(err)
	}

	for _, bad := range []string{"-0.01", "1000.01"} {
		g, err := store.AccountForUpdate(ctx, "a-1")
		if err != nil {
			t.Fatal(err)
		}
		if err := g.Commit(ctx, dec(bad), nil); err == nil {
			t.Errorf("expected commit of balance %s to fail", bad)
		}
		g.Release()
	}

	acct, _ := store.GetAccount(ctx, "a-1")
	if !acct.CurrentBalance.IsZero() {
		t.Errorf("failed commits must leave the balance untouched, got %s", acct.CurrentBalance)
	}
}

func TestGuardRelease_Idempotent(t *testing.T) {
	store := memstore.New(zap.NewNop())
	ctx := context.Background()
	if err := store.CreateAccount(ctx, newAccount("a-1")); err != nil {
		t.Fatal(err)
	}

	g, err := store.AccountForUpdate(ctx, "a-1")
	if err != nil {
		t.Fatal(err)
	}
	g.Release()
	g.Release() // second call must not panic or double-unlock

	reCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	g2, err := store.AccountForUpdate(reCtx, "a-1")
	if err != nil {
		t.Fatalf("reacquisition failed: %v", err)
	}
	g2.Release()
}

func TestVerifyReceipt_Idempotent(t *testing.T) {
	store := memstore.New(zap.NewNop())
	ctx := context.Background()
	if err := store.CreateAccount(ctx, newAccount("a-1")); err != nil {
		t.Fatal(err)
	}

	g, _ := store.AccountForUpdate(ctx, "a-1")
	if err := g.Commit(ctx, dec("100.00"), newTx("tx-1", "a-1", "100.00", domain.TxApproved)); err != nil {
		t.Fatal(err)
	}

	first, err := store.VerifyReceipt(ctx, "tx-1")
	if err != nil {
		t.Fatal(err)
	}
	if first.Status != domain.TxVerified || !first.ReceiptVerified {
		t.Errorf("expected verified transaction, got status=%s verified=%v", first.Status, first.ReceiptVerified)
	}

	firstAt := first.ReceiptVerifiedAt
	second, err := store.VerifyReceipt(ctx, "tx-1")
	if err != nil {
		t.Fatal(err)
	}
	if !second.ReceiptVerifiedAt.Equal(*firstAt) {
		t.Error("re-verification must not move the verification timestamp")
	}
}

func TestVerifyReceipt_FlaggedKeepsStatus(t *testing.T) {
	store := memstore.New(zap.NewNop())
	ctx := context.Background()
	if err := store.CreateAccount(ctx, newAccount("a-1")); err != nil {
		t.Fatal(err)
	}

	g, _ := store.AccountForUpdate(ctx, "a-1")
	if err := g.Commit(ctx, dec("100.00"), newTx("tx-1", "a-1", "100.00", domain.TxFlagged)); err != nil {
		t.Fatal(err)
	}

	tx, err := store.VerifyReceipt(ctx, "tx-1")
	if err != nil {
		t.Fatal(err)
	}
	if tx.Status != domain.TxFlagged {
		t.Errorf("flagged transaction must keep its status, got %s", tx.Status)
	}
	if !tx.ReceiptVerified {
		t.Error("receipt_verified must still be set for flagged transactions")
	}
}

func TestListTransactions_Filter(t *testing.T) {
	store := memstore.New(zap.NewNop())
	ctx := context.Background()
	if err := store.CreateAccount(ctx, newAccount("a-1")); err != nil {
		t.Fatal(err)
	}
	if err := store.CreateAccount(ctx, newAccount("a-2")); err != nil {
		t.Fatal(err)
	}

	commit := func(id, acct, amount string, status domain.TransactionStatus) {
		g, err := store.AccountForUpdate(ctx, acct)
		if err != nil {
			t.Fatal(err)
		}
		a := g.Account()
		if err := g.Commit(ctx, a.CurrentBalance.Add(dec(amount)), newTx(id, acct, amount, status)); err != nil {
			t.Fatal(err)
		}
	}

	commit("tx-1", "a-1", "10.00", domain.TxApproved)
	commit("tx-2", "a-1", "20.00", domain.TxFlagged)
	commit("tx-3", "a-2", "30.00", domain.TxApproved)

	got, err := store.ListTransactions(ctx, domain.TransactionFilter{AccountID: "a-1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 transactions for a-1, got %d", len(got))
	}
	if got[0].ID != "tx-2" {
		t.Errorf("expected newest first, got %s", got[0].ID)
	}

	got, err = store.ListTransactions(ctx, domain.TransactionFilter{
		Statuses: []domain.TransactionStatus{domain.TxApproved},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 approved transactions, got %d", len(got))
	}
}
