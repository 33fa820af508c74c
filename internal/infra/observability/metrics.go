package observability

import (
	"time"

	"github.com/boddenberg/finledger-go/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for the ledger service.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration   *prometheus.HistogramVec
	lockWaitDuration  prometheus.Histogram
	transactionsTotal *prometheus.CounterVec
	ruleViolations    *prometheus.CounterVec
	fraudBlocks       prometheus.Counter
	reconcileOutcomes *prometheus.CounterVec
	cacheHits         *prometheus.CounterVec
	cacheMisses       *prometheus.CounterVec
	externalErrors    *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "finledger_request_duration_seconds",
				Help:    "Duration of operations by name.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		lockWaitDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "finledger_account_lock_wait_seconds",
				Help:    "Time spent waiting for exclusive account access.",
				Buckets: prometheus.DefBuckets,
			},
		),
		transactionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finledger_transactions_total",
				Help: "Transactions processed, by final status.",
			},
			[]string{"status"},
		),
		ruleViolations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finledger_fraud_rule_violations_total",
				Help: "Fraud rule violations, by rule.",
			},
			[]string{"rule"},
		),
		fraudBlocks: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "finledger_fraud_blocks_total",
				Help: "Attempts hard-blocked before any mutation.",
			},
		),
		reconcileOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finledger_reconcile_outcomes_total",
				Help: "Reconciliation outcomes: verified, linked, no_match, error.",
			},
			[]string{"outcome"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finledger_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finledger_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finledger_external_errors_total",
				Help: "Total errors from external services.",
			},
			[]string{"service"},
		),
	}
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// RecordLockWait records how long a processing attempt waited for its
// account lock.
func (m *Metrics) RecordLockWait(d time.Duration) {
	m.lockWaitDuration.Observe(d.Seconds())
}

// IncrTransaction counts a processed transaction by its final status.
func (m *Metrics) IncrTransaction(status domain.TransactionStatus) {
	m.transactionsTotal.WithLabelValues(string(status)).Inc()
}

// IncrRuleViolation counts a fraud rule violation.
func (m *Metrics) IncrRuleViolation(rule string) {
	m.ruleViolations.WithLabelValues(rule).Inc()
}

// IncrFraudBlock counts a hard-blocked attempt.
func (m *Metrics) IncrFraudBlock() {
	m.fraudBlocks.Inc()
}

// IncrReconcileOutcome counts a reconciliation outcome.
func (m *Metrics) IncrReconcileOutcome(outcome string) {
	m.reconcileOutcomes.WithLabelValues(outcome).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// LedgerSnapshot is a point-in-time summary of the ledger counters,
// served by GET /v1/metrics/ledger.
type LedgerSnapshot struct {
	Approved          int64 `json:"approved"`
	Flagged           int64 `json:"flagged"`
	Declined          int64 `json:"declined"`
	Verified          int64 `json:"verified"`
	FraudBlocks       int64 `json:"fraud_blocks"`
	ReconcileVerified int64 `json:"reconcile_verified"`
	ReconcileLinked   int64 `json:"reconcile_linked"`
	ReconcileNoMatch  int64 `json:"reconcile_no_match"`
}

// GetLedgerSnapshot reads the cumulative counter values back out of
// Prometheus for the operational summary endpoint.
func (m *Metrics) GetLedgerSnapshot() *LedgerSnapshot {
	return &LedgerSnapshot{
		Approved:          int64(counterValue(m.transactionsTotal, string(domain.TxApproved))),
		Flagged:           int64(counterValue(m.transactionsTotal, string(domain.TxFlagged))),
		Declined:          int64(counterValue(m.transactionsTotal, string(domain.TxDeclined))),
		Verified:          int64(counterValue(m.transactionsTotal, string(domain.TxVerified))),
		FraudBlocks:       int64(plainCounterValue(m.fraudBlocks)),
		ReconcileVerified: int64(counterValue(m.reconcileOutcomes, "verified")),
		ReconcileLinked:   int64(counterValue(m.reconcileOutcomes, "linked")),
		ReconcileNoMatch:  int64(counterValue(m.reconcileOutcomes, "no_match")),
	}
}

// counterValue extracts the current float64 value from a CounterVec for a given label.
func counterValue(cv *prometheus.CounterVec, label string) float64 {
	counter := cv.WithLabelValues(label)
	m := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}

func plainCounterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
