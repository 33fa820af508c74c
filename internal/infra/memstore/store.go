// Package memstore is the in-memory implementation of the ledger store.
// It is the default backend for development and tests; the postgres package
// provides the durable equivalent with the same locking contract.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/boddenberg/finledger-go/internal/domain"
	"github.com/boddenberg/finledger-go/internal/port"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// accountEntry pairs an account's state with its exclusive lock.
//
// The lock channel (capacity 1) serializes the read-check-mutate-append cycle
// per account: acquisition blocks while another operation is in flight for
// the same account and operations on different accounts never contend. The
// state mutex only guards field access so non-locking reads (GetAccount)
// stay race-free.
type accountEntry struct {
	lock chan struct{}

	mu   sync.RWMutex
	acct domain.Account
}

// Store keeps accounts and their append-only transaction log in memory.
type Store struct {
	mu       sync.RWMutex
	accounts map[string]*accountEntry
	byCard   map[string]string // card number -> account id

	txMu    sync.RWMutex
	txs     map[string]*domain.Transaction
	txOrder []string // append order, oldest first

	logger *zap.Logger
}

// New creates an empty in-memory ledger store.
func New(logger *zap.Logger) *Store {
	return &Store{
		accounts: make(map[string]*accountEntry),
		byCard:   make(map[string]string),
		txs:      make(map[string]*domain.Transaction),
		logger:   logger,
	}
}

var _ port.LedgerStore = (*Store)(nil)

// CreateAccount registers a new account. The caller assigns identity and
// timestamps; duplicate ids or card numbers are conflicts.
func (s *Store) CreateAccount(_ context.Context, acct *domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[acct.ID]; exists {
		return &domain.ErrConflict{Message: fmt.Sprintf("account %s already exists", acct.ID)}
	}
	if _, exists := s.byCard[acct.CardNumber]; exists {
		return &domain.ErrConflict{Message: "card number already registered"}
	}

	s.accounts[acct.ID] = &accountEntry{
		lock: make(chan struct{}, 1),
		acct: *acct,
	}
	s.byCard[acct.CardNumber] = acct.ID
	return nil
}

// GetAccount returns a copy of the account. This is a non-locking read,
// suitable for display; processing always goes through AccountForUpdate.
func (s *Store) GetAccount(_ context.Context, id string) (*domain.Account, error) {
	s.mu.RLock()
	entry, ok := s.accounts[id]
	s.mu.RUnlock()
	if !ok {
		return nil, &domain.ErrAccountNotFound{ID: id}
	}

	entry.mu.RLock()
	acct := entry.acct
	entry.mu.RUnlock()
	return &acct, nil
}

// ListAccounts returns copies of all accounts, ordered by creation time.
func (s *Store) ListAccounts(_ context.Context) ([]domain.Account, error) {
	s.mu.RLock()
	entries := make([]*accountEntry, 0, len(s.accounts))
	for _, e := range s.accounts {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]domain.Account, 0, len(entries))
	for _, e := range entries {
		e.mu.RLock()
		out = append(out, e.acct)
		e.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// AccountForUpdate blocks until it holds the account's exclusive lock or ctx
// is done. No try-lock mode exists; a caller wanting bounded wait passes a
// context with a deadline.
func (s *Store) AccountForUpdate(ctx context.Context, id string) (port.AccountGuard, error) {
	s.mu.RLock()
	entry, ok := s.accounts[id]
	s.mu.RUnlock()
	if !ok {
		return nil, &domain.ErrAccountNotFound{ID: id}
	}

	select {
	case entry.lock <- struct{}{}:
	case <-ctx.Done():
		return nil, &domain.ErrStorage{Op: "acquire account lock", Err: ctx.Err()}
	}

	entry.mu.RLock()
	snapshot := entry.acct
	entry.mu.RUnlock()

	return &guard{store: s, entry: entry, snapshot: snapshot}, nil
}

// guard implements port.AccountGuard over one locked accountEntry.
type guard struct {
	store    *Store
	entry    *accountEntry
	snapshot domain.Account

	mu   sync.Mutex
	done bool
}

func (g *guard) Account() domain.Account {
	return g.snapshot
}

// Commit writes the new balance and appends the transaction record
// atomically, then releases the lock. The database-style constraints
// (0 <= balance <= limit) are enforced here as a last line of defense;
// a violation leaves the account untouched.
func (g *guard) Commit(_ context.Context, newBalance decimal.Decimal, tx *domain.Transaction) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.done {
		return &domain.ErrStorage{Op: "commit", Err: errCommitted}
	}

	if newBalance.IsNegative() || newBalance.GreaterThan(g.snapshot.SpendingLimit) {
		return &domain.ErrStorage{
			Op:  "commit",
			Err: fmt.Errorf("balance %s outside [0, %s]", newBalance, g.snapshot.SpendingLimit),
		}
	}

	now := time.Now().UTC()

	g.entry.mu.Lock()
	g.entry.acct.CurrentBalance = newBalance
	g.entry.acct.UpdatedAt = now
	g.entry.mu.Unlock()

	if tx != nil {
		cp := *tx
		g.store.txMu.Lock()
		g.store.txs[cp.ID] = &cp
		g.store.txOrder = append(g.store.txOrder, cp.ID)
		g.store.txMu.Unlock()
	}

	g.done = true
	<-g.entry.lock
	return nil
}

// Release drops the lock without committing. Safe to call after Commit.
func (g *guard) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.done {
		return
	}
	g.done = true
	<-g.entry.lock
}

var errCommitted = fmt.Errorf("guard already committed or released")

// GetTransaction returns a copy of the transaction.
func (s *Store) GetTransaction(_ context.Context, id string) (*domain.Transaction, error) {
	s.txMu.RLock()
	defer s.txMu.RUnlock()

	tx, ok := s.txs[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "transaction", ID: id}
	}
	cp := *tx
	return &cp, nil
}

// ListTransactions returns copies of transactions matching the filter,
// newest first.
func (s *Store) ListTransactions(_ context.Context, f domain.TransactionFilter) ([]domain.Transaction, error) {
	s.txMu.RLock()
	defer s.txMu.RUnlock()

	var out []domain.Transaction
	skipped := 0
	for i := len(s.txOrder) - 1; i >= 0; i-- {
		tx := s.txs[s.txOrder[i]]
		if !matches(tx, f) {
			continue
		}
		if skipped < f.Offset {
			skipped++
			continue
		}
		out = append(out, *tx)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

func matches(tx *domain.Transaction, f domain.TransactionFilter) bool {
	if f.AccountID != "" && tx.AccountID != f.AccountID {
		return false
	}
	if len(f.Statuses) > 0 {
		ok := false
		for _, st := range f.Statuses {
			if tx.Status == st {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if !f.CreatedAfter.IsZero() && tx.CreatedAt.Before(f.CreatedAfter) {
		return false
	}
	if !f.CreatedBefore.IsZero() && tx.CreatedAt.After(f.CreatedBefore) {
		return false
	}
	if f.ReceiptUnverified && tx.ReceiptVerified {
		return false
	}
	return true
}

// LinkReceipt attaches receipt evidence to a transaction without touching
// its verification state.
func (s *Store) LinkReceipt(_ context.Context, txID, receiptRef string) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx, ok := s.txs[txID]
	if !ok {
		return &domain.ErrNotFound{Resource: "transaction", ID: txID}
	}
	tx.ReceiptReference = receiptRef
	tx.UpdatedAt = time.Now().UTC()
	return nil
}

// VerifyReceipt marks the receipt verified and promotes approved
// transactions to verified. Re-verifying is a no-op, which makes the
// at-least-once reconciler safe.
func (s *Store) VerifyReceipt(_ context.Context, txID string) (*domain.Transaction, error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx, ok := s.txs[txID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "transaction", ID: txID}
	}

	if !tx.ReceiptVerified {
		now := time.Now().UTC()
		tx.ReceiptVerified = true
		tx.ReceiptVerifiedAt = &now
		tx.UpdatedAt = now
		if tx.Status == domain.TxApproved {
			tx.Status = domain.TxVerified
		}
		s.logger.Info("receipt verified",
			zap.String("transaction_id", txID),
			zap.String("status", string(tx.Status)),
		)
	}

	cp := *tx
	return &cp, nil
}
