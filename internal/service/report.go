package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/boddenberg/finledger-go/internal/domain"
	"github.com/boddenberg/finledger-go/internal/infra/observability"
	"github.com/boddenberg/finledger-go/internal/port"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var reportTracer = otel.Tracer("service/report")

// ReportService aggregates spending over a period. Reports only count funds
// that actually moved: approved and verified transactions.
type ReportService struct {
	store   port.LedgerStore
	cache   port.Cache[*domain.SpendingReport]
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewReportService creates the report service.
func NewReportService(store port.LedgerStore, cache port.Cache[*domain.SpendingReport], metrics *observability.Metrics, logger *zap.Logger) *ReportService {
	return &ReportService{store: store, cache: cache, metrics: metrics, logger: logger}
}

// SpendingReport builds the requested report over [start, end]. Results are
// cached per (type, account, period) for the configured TTL.
func (s *ReportService) SpendingReport(ctx context.Context, typ domain.ReportType, accountID string, start, end time.Time) (*domain.SpendingReport, error) {
	ctx, span := reportTracer.Start(ctx, "ReportService.SpendingReport")
	defer span.End()

	switch typ {
	case domain.ReportSummary, domain.ReportByMerchant, domain.ReportDetailed:
	default:
		return nil, &domain.ErrValidation{Field: "type", Message: fmt.Sprintf("unknown report type %q", typ)}
	}
	if end.Before(start) {
		return nil, &domain.ErrValidation{Field: "period", Message: "end before start"}
	}

	cacheKey := fmt.Sprintf("report:%s:%s:%d:%d", typ, accountID, start.Unix(), end.Unix())
	if cached, ok := s.cache.Get(cacheKey); ok {
		s.metrics.IncrCacheHit("report")
		return cached, nil
	}
	s.metrics.IncrCacheMiss("report")

	txs, err := s.store.ListTransactions(ctx, domain.TransactionFilter{
		AccountID:     accountID,
		Statuses:      []domain.TransactionStatus{domain.TxApproved, domain.TxVerified},
		CreatedAfter:  start,
		CreatedBefore: end,
	})
	if err != nil {
		return nil, err
	}

	report := &domain.SpendingReport{
		Type:        typ,
		PeriodStart: start,
		PeriodEnd:   end,
		GeneratedAt: time.Now().UTC(),
	}

	switch typ {
	case domain.ReportSummary:
		total := decimal.Zero
		for _, tx := range txs {
			total = total.Add(tx.Amount)
		}
		avg := decimal.Zero
		if len(txs) > 0 {
			avg = total.Div(decimal.NewFromInt(int64(len(txs)))).Round(2)
		}
		report.Summary = &domain.ReportSummaryData{
			TotalSpending:      total,
			TransactionCount:   len(txs),
			AverageTransaction: avg,
		}

	case domain.ReportByMerchant:
		agg := make(map[string]*domain.MerchantSpend)
		for _, tx := range txs {
			m, ok := agg[tx.MerchantName]
			if !ok {
				m = &domain.MerchantSpend{MerchantName: tx.MerchantName, TotalSpending: decimal.Zero}
				agg[tx.MerchantName] = m
			}
			m.TotalSpending = m.TotalSpending.Add(tx.Amount)
			m.TransactionCount++
		}
		merchants := make([]domain.MerchantSpend, 0, len(agg))
		for _, m := range agg {
			merchants = append(merchants, *m)
		}
		sort.Slice(merchants, func(i, j int) bool {
			return merchants[i].TotalSpending.GreaterThan(merchants[j].TotalSpending)
		})
		report.Merchants = merchants

	case domain.ReportDetailed:
		report.Transactions = txs
	}

	s.cache.Set(cacheKey, report)
	s.logger.Debug("report generated",
		zap.String("type", string(typ)),
		zap.Int("transactions", len(txs)),
	)
	return report, nil
}
