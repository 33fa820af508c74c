package handler

import (
	"net/http"
	"time"

	"github.com/boddenberg/finledger-go/internal/domain"
	"github.com/boddenberg/finledger-go/internal/infra/observability"
	"github.com/boddenberg/finledger-go/internal/service"

	"go.uber.org/zap"
)

// ReportHandler serves spending reports and the ledger metrics snapshot.
type ReportHandler struct {
	reports *service.ReportService
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewReportHandler creates the report handler.
func NewReportHandler(reports *service.ReportService, metrics *observability.Metrics, logger *zap.Logger) *ReportHandler {
	return &ReportHandler{reports: reports, metrics: metrics, logger: logger}
}

// Spending handles GET /v1/reports/spending with query params:
// type (summary|by_merchant|detailed, default summary), account_id,
// start, end (RFC 3339; default trailing 30 days).
func (h *ReportHandler) Spending(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	typ := domain.ReportType(q.Get("type"))
	if typ == "" {
		typ = domain.ReportSummary
	}

	end := time.Now().UTC()
	start := end.AddDate(0, 0, -30)
	if v := q.Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, h.logger, &domain.ErrValidation{Field: "start", Message: "must be RFC 3339"})
			return
		}
		start = t
	}
	if v := q.Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, h.logger, &domain.ErrValidation{Field: "end", Message: "must be RFC 3339"})
			return
		}
		end = t
	}

	report, err := h.reports.SpendingReport(r.Context(), typ, q.Get("account_id"), start, end)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// LedgerSnapshot handles GET /v1/metrics/ledger: cumulative transaction and
// reconciliation counters as JSON, for dashboards that do not scrape
// Prometheus.
func (h *ReportHandler) LedgerSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.metrics.GetLedgerSnapshot())
}
