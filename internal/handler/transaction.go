package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/boddenberg/finledger-go/internal/domain"
	"github.com/boddenberg/finledger-go/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// TransactionHandler serves the spend-attempt endpoints.
type TransactionHandler struct {
	ledger *service.LedgerService
	logger *zap.Logger
}

// NewTransactionHandler creates the transaction handler.
func NewTransactionHandler(ledger *service.LedgerService, logger *zap.Logger) *TransactionHandler {
	return &TransactionHandler{ledger: ledger, logger: logger}
}

// Process handles POST /v1/transactions: one spend attempt, end to end.
func (h *TransactionHandler) Process(w http.ResponseWriter, r *http.Request) {
	var req domain.ProcessTransactionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	tx, err := h.ledger.ProcessTransaction(r.Context(), req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

// Get handles GET /v1/transactions/{id}.
func (h *TransactionHandler) Get(w http.ResponseWriter, r *http.Request) {
	tx, err := h.ledger.GetTransaction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// List handles GET /v1/transactions with optional filters:
// account_id, status (repeatable), after, before (RFC 3339), limit, offset.
func (h *TransactionHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	txs, err := h.ledger.ListTransactions(r.Context(), filter)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if txs == nil {
		txs = []domain.Transaction{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"transactions": txs})
}

// ListByCard handles GET /v1/cards/{id}/transactions: the card's spend
// history, newest first, with the same optional filters as the flat listing.
// An unknown card is a 404, not an empty list.
func (h *TransactionHandler) ListByCard(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	filter.AccountID = chi.URLParam(r, "id")

	if _, err := h.ledger.GetAccount(r.Context(), filter.AccountID); err != nil {
		writeError(w, h.logger, err)
		return
	}

	txs, err := h.ledger.ListTransactions(r.Context(), filter)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if txs == nil {
		txs = []domain.Transaction{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"transactions": txs})
}

func parseFilter(r *http.Request) (domain.TransactionFilter, error) {
	q := r.URL.Query()
	f := domain.TransactionFilter{AccountID: q.Get("account_id")}

	for _, st := range q["status"] {
		f.Statuses = append(f.Statuses, domain.TransactionStatus(st))
	}
	if v := q.Get("after"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, &domain.ErrValidation{Field: "after", Message: "must be RFC 3339"}
		}
		f.CreatedAfter = t
	}
	if v := q.Get("before"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, &domain.ErrValidation{Field: "before", Message: "must be RFC 3339"}
		}
		f.CreatedBefore = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, &domain.ErrValidation{Field: "limit", Message: "must be a non-negative integer"}
		}
		f.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, &domain.ErrValidation{Field: "offset", Message: "must be a non-negative integer"}
		}
		f.Offset = n
	}
	return f, nil
}
