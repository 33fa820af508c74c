// Package postgres is the durable ledger store. Exclusive account access maps
// onto SELECT ... FOR UPDATE inside a database transaction, so the locking
// contract matches the in-memory store: blocking acquisition, atomic
// balance-plus-record commit, and check constraints on the balance range.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/boddenberg/finledger-go/internal/domain"
	"github.com/boddenberg/finledger-go/internal/port"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Store implements port.LedgerStore on top of PostgreSQL via lib/pq.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ port.LedgerStore = (*Store)(nil)

// Open connects to the database and verifies the connection.
func Open(ctx context.Context, databaseURL string, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, &domain.ErrStorage{Op: "open database", Err: err}
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		return nil, &domain.ErrStorage{Op: "ping database", Err: err}
	}
	return &Store{db: db, logger: logger}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports connectivity, used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate applies the schema. Idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return &domain.ErrStorage{Op: "migrate", Err: err}
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
    id              TEXT PRIMARY KEY,
    card_number     TEXT NOT NULL UNIQUE,
    cardholder_name TEXT NOT NULL,
    spending_limit  NUMERIC(14,2) NOT NULL CHECK (spending_limit > 0),
    current_balance NUMERIC(14,2) NOT NULL DEFAULT 0
                    CHECK (current_balance >= 0 AND current_balance <= spending_limit),
    status          TEXT NOT NULL DEFAULT 'active',
    created_at      TIMESTAMPTZ NOT NULL,
    updated_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS transactions (
    id                  TEXT PRIMARY KEY,
    account_id          TEXT NOT NULL REFERENCES accounts(id),
    amount              NUMERIC(14,2) NOT NULL CHECK (amount > 0),
    merchant_name       TEXT NOT NULL,
    category            TEXT NOT NULL DEFAULT '',
    description         TEXT NOT NULL DEFAULT '',
    status              TEXT NOT NULL,
    risk_score          NUMERIC(4,2) NOT NULL DEFAULT 0,
    risk_reasons        TEXT[] NOT NULL DEFAULT '{}',
    receipt_reference   TEXT NOT NULL DEFAULT '',
    receipt_verified    BOOLEAN NOT NULL DEFAULT FALSE,
    receipt_verified_at TIMESTAMPTZ,
    created_at          TIMESTAMPTZ NOT NULL,
    updated_at          TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_account_created
    ON transactions (account_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_transactions_status_created
    ON transactions (status, created_at DESC);
`

const accountColumns = `id, card_number, cardholder_name, spending_limit, current_balance, status, created_at, updated_at`

const transactionColumns = `id, account_id, amount, merchant_name, category, description, status,
	risk_score, risk_reasons, receipt_reference, receipt_verified, receipt_verified_at, created_at, updated_at`

// CreateAccount inserts a new account.
func (s *Store) CreateAccount(ctx context.Context, acct *domain.Account) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		acct.ID, acct.CardNumber, acct.CardholderName, acct.SpendingLimit,
		acct.CurrentBalance, string(acct.Status), acct.CreatedAt, acct.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return &domain.ErrConflict{Message: "card number already registered"}
		}
		return &domain.ErrStorage{Op: "create account", Err: err}
	}
	return nil
}

// GetAccount returns the account without locking it.
func (s *Store) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	acct, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.ErrAccountNotFound{ID: id}
	}
	if err != nil {
		return nil, &domain.ErrStorage{Op: "get account", Err: err}
	}
	return acct, nil
}

// ListAccounts returns all accounts, ordered by creation time.
func (s *Store) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM accounts ORDER BY created_at`)
	if err != nil {
		return nil, &domain.ErrStorage{Op: "list accounts", Err: err}
	}
	defer rows.Close()

	var out []domain.Account
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, &domain.ErrStorage{Op: "list accounts", Err: err}
		}
		out = append(out, *acct)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.ErrStorage{Op: "list accounts", Err: err}
	}
	return out, nil
}

// AccountForUpdate opens a database transaction and takes the row lock with
// SELECT ... FOR UPDATE. Postgres queues lock waiters, so acquisition blocks
// while another attempt on the same account is in flight; ctx cancellation
// aborts the wait.
func (s *Store) AccountForUpdate(ctx context.Context, id string) (port.AccountGuard, error) {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &domain.ErrStorage{Op: "begin transaction", Err: err}
	}

	row := dbTx.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id)
	acct, err := scanAccount(row)
	if err != nil {
		_ = dbTx.Rollback()
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &domain.ErrAccountNotFound{ID: id}
		}
		return nil, &domain.ErrStorage{Op: "lock account", Err: err}
	}

	return &guard{dbTx: dbTx, snapshot: *acct}, nil
}

type guard struct {
	dbTx     *sql.Tx
	snapshot domain.Account
	done     bool
}

func (g *guard) Account() domain.Account {
	return g.snapshot
}

// Commit updates the balance and appends the record in the same database
// transaction. The schema's check constraint backs the balance-range
// invariant; a violation rolls everything back.
func (g *guard) Commit(ctx context.Context, newBalance decimal.Decimal, tx *domain.Transaction) error {
	if g.done {
		return &domain.ErrStorage{Op: "commit", Err: errors.New("guard already committed or released")}
	}

	now := time.Now().UTC()
	if _, err := g.dbTx.ExecContext(ctx, `
		UPDATE accounts SET current_balance = $1, updated_at = $2 WHERE id = $3`,
		newBalance, now, g.snapshot.ID,
	); err != nil {
		_ = g.dbTx.Rollback()
		g.done = true
		return &domain.ErrStorage{Op: "commit balance", Err: err}
	}

	if tx != nil {
		if _, err := g.dbTx.ExecContext(ctx, `
			INSERT INTO transactions (`+transactionColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			tx.ID, tx.AccountID, tx.Amount, tx.MerchantName, tx.Category, tx.Description,
			string(tx.Status), tx.RiskScore, pq.Array(tx.RiskReasons), tx.ReceiptReference,
			tx.ReceiptVerified, tx.ReceiptVerifiedAt, tx.CreatedAt, tx.UpdatedAt,
		); err != nil {
			_ = g.dbTx.Rollback()
			g.done = true
			return &domain.ErrStorage{Op: "commit record", Err: err}
		}
	}

	if err := g.dbTx.Commit(); err != nil {
		g.done = true
		return &domain.ErrStorage{Op: "commit", Err: err}
	}
	g.done = true
	return nil
}

// Release rolls back without committing. Idempotent.
func (g *guard) Release() {
	if g.done {
		return
	}
	g.done = true
	_ = g.dbTx.Rollback()
}

// GetTransaction returns one transaction record.
func (s *Store) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "transaction", ID: id}
	}
	if err != nil {
		return nil, &domain.ErrStorage{Op: "get transaction", Err: err}
	}
	return tx, nil
}

// ListTransactions returns transactions matching the filter, newest first.
func (s *Store) ListTransactions(ctx context.Context, f domain.TransactionFilter) ([]domain.Transaction, error) {
	var (
		where []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.AccountID != "" {
		where = append(where, "account_id = "+arg(f.AccountID))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		where = append(where, "status = ANY("+arg(pq.Array(statuses))+")")
	}
	if !f.CreatedAfter.IsZero() {
		where = append(where, "created_at >= "+arg(f.CreatedAfter))
	}
	if !f.CreatedBefore.IsZero() {
		where = append(where, "created_at <= "+arg(f.CreatedBefore))
	}
	if f.ReceiptUnverified {
		where = append(where, "receipt_verified = FALSE")
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}
	if f.Offset > 0 {
		query += " OFFSET " + arg(f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &domain.ErrStorage{Op: "list transactions", Err: err}
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, &domain.ErrStorage{Op: "list transactions", Err: err}
		}
		out = append(out, *tx)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.ErrStorage{Op: "list transactions", Err: err}
	}
	return out, nil
}

// LinkReceipt attaches receipt evidence without touching verification state.
func (s *Store) LinkReceipt(ctx context.Context, txID, receiptRef string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE transactions SET receipt_reference = $1, updated_at = $2 WHERE id = $3`,
		receiptRef, time.Now().UTC(), txID,
	)
	if err != nil {
		return &domain.ErrStorage{Op: "link receipt", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &domain.ErrNotFound{Resource: "transaction", ID: txID}
	}
	return nil
}

// VerifyReceipt marks the receipt verified and promotes approved transactions
// to verified. Re-verifying is a no-op, keeping the at-least-once reconciler
// safe.
func (s *Store) VerifyReceipt(ctx context.Context, txID string) (*domain.Transaction, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		UPDATE transactions
		SET receipt_verified = TRUE,
		    receipt_verified_at = $1,
		    updated_at = $1,
		    status = CASE WHEN status = 'approved' THEN 'verified' ELSE status END
		WHERE id = $2 AND receipt_verified = FALSE`,
		now, txID,
	)
	if err != nil {
		return nil, &domain.ErrStorage{Op: "verify receipt", Err: err}
	}
	return s.GetTransaction(ctx, txID)
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row scanner) (*domain.Account, error) {
	var (
		acct   domain.Account
		status string
	)
	if err := row.Scan(
		&acct.ID, &acct.CardNumber, &acct.CardholderName, &acct.SpendingLimit,
		&acct.CurrentBalance, &status, &acct.CreatedAt, &acct.UpdatedAt,
	); err != nil {
		return nil, err
	}
	acct.Status = domain.AccountStatus(status)
	return &acct, nil
}

func scanTransaction(row scanner) (*domain.Transaction, error) {
	var (
		tx         domain.Transaction
		status     string
		reasons    pq.StringArray
		verifiedAt sql.NullTime
	)
	if err := row.Scan(
		&tx.ID, &tx.AccountID, &tx.Amount, &tx.MerchantName, &tx.Category,
		&tx.Description, &status, &tx.RiskScore, &reasons, &tx.ReceiptReference,
		&tx.ReceiptVerified, &verifiedAt, &tx.CreatedAt, &tx.UpdatedAt,
	); err != nil {
		return nil, err
	}
	tx.Status = domain.TransactionStatus(status)
	tx.RiskReasons = []string(reasons)
	if verifiedAt.Valid {
		t := verifiedAt.Time
		tx.ReceiptVerifiedAt = &t
	}
	return &tx, nil
}
