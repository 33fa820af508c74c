package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/boddenberg/finledger-go/internal/config"
	"github.com/boddenberg/finledger-go/internal/infra/observability"
	"github.com/boddenberg/finledger-go/internal/port"
	"github.com/boddenberg/finledger-go/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Pinger reports backend connectivity for the readiness probe. The in-memory
// store has no external dependency and passes a nil Pinger.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps bundles everything the router wires together.
type Deps struct {
	Config     *config.Config
	Ledger     *service.LedgerService
	Reconciler *service.ReconcileService
	Reports    *service.ReportService
	Parser     port.ReceiptParser
	Publisher  port.ReconcilePublisher
	Jobs       port.JobStore
	Metrics    *observability.Metrics
	Store      Pinger
	Logger     *zap.Logger
}

// NewRouter builds the full HTTP surface: operational endpoints unguarded,
// the /v1 API behind JWT auth.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(d.Logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(middleware.Heartbeat("/ping"))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		if d.Store != nil {
			if err := d.Store.Ping(req.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status": "unavailable",
					"reason": "store unreachable",
				})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(d.Metrics.Registry, promhttp.HandlerOpts{}))

	accounts := NewAccountHandler(d.Ledger, d.Logger)
	transactions := NewTransactionHandler(d.Ledger, d.Logger)
	receipts := NewReceiptHandler(d.Reconciler, d.Parser, d.Publisher, d.Jobs, d.Logger)
	reports := NewReportHandler(d.Reports, d.Metrics, d.Logger)

	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(AuthMiddleware(d.Config.JWTSecret, d.Config.AuthDisabled, d.Logger))

		v1.Route("/cards", func(cr chi.Router) {
			cr.Post("/", accounts.Create)
			cr.Get("/", accounts.List)
			cr.Get("/{id}", accounts.Get)
			cr.Get("/{id}/balance", accounts.Balance)
			cr.Get("/{id}/transactions", transactions.ListByCard)
		})

		v1.Route("/transactions", func(tr chi.Router) {
			tr.Post("/", transactions.Process)
			tr.Get("/", transactions.List)
			tr.Get("/{id}", transactions.Get)
		})

		v1.Route("/receipts", func(rr chi.Router) {
			rr.Post("/match", receipts.Match)
			rr.Get("/status/{jobId}", receipts.Status)
		})

		v1.Get("/reports/spending", reports.Spending)
		v1.Get("/metrics/ledger", reports.LedgerSnapshot)
	})

	return r
}
