package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/boddenberg/finledger-go/internal/config"
	"github.com/boddenberg/finledger-go/internal/domain"
	"github.com/boddenberg/finledger-go/internal/fraud"
	"github.com/boddenberg/finledger-go/internal/handler"
	"github.com/boddenberg/finledger-go/internal/infra/cache"
	"github.com/boddenberg/finledger-go/internal/infra/client"
	"github.com/boddenberg/finledger-go/internal/infra/memstore"
	"github.com/boddenberg/finledger-go/internal/infra/observability"
	"github.com/boddenberg/finledger-go/internal/infra/postgres"
	"github.com/boddenberg/finledger-go/internal/infra/queue"
	"github.com/boddenberg/finledger-go/internal/port"
	"github.com/boddenberg/finledger-go/internal/service"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("store_backend", cfg.StoreBackend),
		zap.String("fraud_max_amount", cfg.FraudMaxAmount.String()),
		zap.Int("velocity_max_per_minute", cfg.VelocityMaxPerMinute),
		zap.Int("queue_workers", cfg.QueueWorkers),
		zap.Bool("auth_disabled", cfg.AuthDisabled),
	)

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "finledger")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Store ---
	var (
		store  port.LedgerStore
		pinger handler.Pinger
	)
	switch cfg.StoreBackend {
	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		pg, err := postgres.Open(ctx, cfg.DatabaseURL, logger)
		cancel()
		if err != nil {
			logger.Fatal("failed to open postgres store", zap.Error(err))
		}
		defer pg.Close()
		if err := pg.Migrate(context.Background()); err != nil {
			logger.Fatal("failed to migrate schema", zap.Error(err))
		}
		store = pg
		pinger = pg
		logger.Info("using postgres ledger store")
	default:
		store = memstore.New(logger)
		logger.Info("using in-memory ledger store")
	}

	// --- Fraud engine ---
	engine := fraud.NewEngine(fraud.DefaultRules(fraud.Config{
		MaxAmount:         cfg.FraudMaxAmount,
		MerchantDenylist:  cfg.FraudMerchantDenylist,
		VelocityMaxPerMin: cfg.VelocityMaxPerMinute,
		VelocityWindow:    cfg.VelocityWindow,
	}), metrics, logger)

	// --- Services ---
	ledgerSvc := service.NewLedgerService(store, engine, metrics, logger)
	reconcileSvc := service.NewReconcileService(store, metrics, logger)

	reportCache := cache.New[*domain.SpendingReport](cfg.ReportCacheTTL)
	reportSvc := service.NewReportService(store, reportCache, metrics, logger)

	// --- Receipt parser client ---
	parser := client.NewReceiptParser(cfg.ParserAPIURL, cfg.HTTPTimeout, metrics, logger)

	// --- Reconciliation queue ---
	jobStore := queue.NewJobStore()
	reconcileQueue := queue.New(queue.Config{
		BufferSize: cfg.QueueBufferSize,
		Workers:    cfg.QueueWorkers,
		MaxRetries: cfg.QueueMaxRetries,
		Backoff:    cfg.InitialBackoff,
	}, jobStore, metrics, logger)

	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	defer stopConsumer()

	if err := reconcileQueue.Start(consumerCtx, func(ctx context.Context, job *domain.ReconcileJob) (*domain.MatchResult, error) {
		return reconcileSvc.MatchReceipt(ctx, domain.ReceiptMatchRequest{
			Receipt:       job.Receipt,
			TransactionID: job.TransactionID,
		})
	}); err != nil {
		logger.Fatal("failed to start reconcile workers", zap.Error(err))
	}

	// --- Router ---
	router := handler.NewRouter(handler.Deps{
		Config:     cfg,
		Ledger:     ledgerSvc,
		Reconciler: reconcileSvc,
		Reports:    reportSvc,
		Parser:     parser,
		Publisher:  reconcileQueue,
		Jobs:       jobStore,
		Metrics:    metrics,
		Store:      pinger,
		Logger:     logger,
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Run until signalled, then drain ---
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(rootCtx)

	g.Go(func() error {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("server shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		// Drain in-flight reconciliation jobs before exit.
		if err := reconcileQueue.Stop(shutdownCtx); err != nil {
			logger.Warn("reconcile queue did not drain cleanly", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
	logger.Info("server stopped")
}
