package handler

import (
	"net/http"

	"github.com/boddenberg/finledger-go/internal/domain"
	"github.com/boddenberg/finledger-go/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// AccountHandler serves the card account endpoints.
type AccountHandler struct {
	ledger *service.LedgerService
	logger *zap.Logger
}

// NewAccountHandler creates the account handler.
func NewAccountHandler(ledger *service.LedgerService, logger *zap.Logger) *AccountHandler {
	return &AccountHandler{ledger: ledger, logger: logger}
}

// Create handles POST /v1/cards.
func (h *AccountHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateAccountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	acct, err := h.ledger.CreateAccount(r.Context(), req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, acct.Snapshot())
}

// Get handles GET /v1/cards/{id}.
func (h *AccountHandler) Get(w http.ResponseWriter, r *http.Request) {
	acct, err := h.ledger.GetAccount(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, acct.Snapshot())
}

// Balance handles GET /v1/cards/{id}/balance: the spending-capacity subset
// of the account without cardholder details.
func (h *AccountHandler) Balance(w http.ResponseWriter, r *http.Request) {
	acct, err := h.ledger.GetAccount(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account_id":        acct.ID,
		"spending_limit":    acct.SpendingLimit,
		"current_balance":   acct.CurrentBalance,
		"available_balance": acct.Available(),
		"status":            acct.Status,
	})
}

// List handles GET /v1/cards.
func (h *AccountHandler) List(w http.ResponseWriter, r *http.Request) {
	accts, err := h.ledger.ListAccounts(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	out := make([]domain.AccountSnapshot, 0, len(accts))
	for i := range accts {
		out = append(out, accts[i].Snapshot())
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"cards": out})
}
