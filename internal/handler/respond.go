// Package handler exposes the HTTP API over chi.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/boddenberg/finledger-go/internal/domain"

	"go.uber.org/zap"
)

// errorResponse is the wire shape of every error.
type errorResponse struct {
	Error   string      `json:"error"`
	Details interface{} `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// writeError maps domain error types to HTTP status codes. Unknown errors
// become 500 with a generic message; details stay in the logs.
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var (
		notFound     *domain.ErrNotFound
		acctNotFound *domain.ErrAccountNotFound
		notUsable    *domain.ErrAccountNotUsable
		blocked      *domain.ErrFraudBlocked
		insufficient *domain.ErrInsufficientFunds
		validation   *domain.ErrValidation
		unauthorized *domain.ErrUnauthorized
		conflict     *domain.ErrConflict
		external     *domain.ErrExternalService
	)

	switch {
	case errors.As(err, &notFound), errors.As(err, &acctNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.As(err, &unauthorized):
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: err.Error()})
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.As(err, &notUsable):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
	case errors.As(err, &blocked):
		writeJSON(w, http.StatusForbidden, errorResponse{
			Error: "transaction blocked by fraud checks",
			Details: map[string]interface{}{
				"risk_score": blocked.Score,
				"reasons":    blocked.Reasons,
			},
		})
	case errors.As(err, &insufficient):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
			Error: "insufficient funds",
			Details: map[string]interface{}{
				"requested": insufficient.Requested,
				"available": insufficient.Available,
			},
		})
	case errors.As(err, &external):
		logger.Error("external service error", zap.Error(err))
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "upstream service unavailable"})
	default:
		logger.Error("internal error", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
	}
}

func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &domain.ErrValidation{Field: "body", Message: "invalid JSON: " + err.Error()}
	}
	return nil
}
