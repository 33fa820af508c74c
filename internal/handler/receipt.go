package handler

import (
	"net/http"

	"github.com/boddenberg/finledger-go/internal/domain"
	"github.com/boddenberg/finledger-go/internal/port"
	"github.com/boddenberg/finledger-go/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ReceiptHandler serves receipt matching: synchronous one-shot matches and
// asynchronous jobs with status polling.
type ReceiptHandler struct {
	reconciler *service.ReconcileService
	parser     port.ReceiptParser
	publisher  port.ReconcilePublisher
	jobs       port.JobStore
	logger     *zap.Logger
}

// NewReceiptHandler creates the receipt handler.
func NewReceiptHandler(reconciler *service.ReconcileService, parser port.ReceiptParser, publisher port.ReconcilePublisher, jobs port.JobStore, logger *zap.Logger) *ReceiptHandler {
	return &ReceiptHandler{
		reconciler: reconciler,
		parser:     parser,
		publisher:  publisher,
		jobs:       jobs,
		logger:     logger,
	}
}

// matchRequest is the wire shape of POST /v1/receipts/match. Either an
// already-parsed receipt or a receipt_ref to run through the parser; an
// optional transaction id for targeted matching; async selects queueing.
type matchRequest struct {
	Receipt       *domain.ParsedReceipt `json:"receipt,omitempty"`
	ReceiptRef    string                `json:"receipt_ref,omitempty"`
	TransactionID string                `json:"transaction_id,omitempty"`
	Async         bool                  `json:"async,omitempty"`
}

// Match handles POST /v1/receipts/match. Synchronous calls return the match
// result; async calls return 202 with a job id for polling.
func (h *ReceiptHandler) Match(w http.ResponseWriter, r *http.Request) {
	var req matchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	receipt, err := h.resolveReceipt(r, req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	if req.Async {
		job := &domain.ReconcileJob{
			JobID:         uuid.New().String(),
			Receipt:       *receipt,
			TransactionID: req.TransactionID,
		}
		if err := h.publisher.Publish(r.Context(), job); err != nil {
			writeError(w, h.logger, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"job_id": job.JobID,
			"status": string(domain.JobPending),
		})
		return
	}

	result, err := h.reconciler.MatchReceipt(r.Context(), domain.ReceiptMatchRequest{
		Receipt:       *receipt,
		TransactionID: req.TransactionID,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// resolveReceipt returns the parsed receipt from the request body, calling
// the external parser when only a reference was supplied.
func (h *ReceiptHandler) resolveReceipt(r *http.Request, req matchRequest) (*domain.ParsedReceipt, error) {
	if req.Receipt != nil {
		return req.Receipt, nil
	}
	if req.ReceiptRef == "" {
		return nil, &domain.ErrValidation{Field: "receipt", Message: "receipt or receipt_ref required"}
	}
	return h.parser.Parse(r.Context(), req.ReceiptRef)
}

// Status handles GET /v1/receipts/status/{jobId}.
func (h *ReceiptHandler) Status(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.GetJob(r.Context(), chi.URLParam(r, "jobId"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}
