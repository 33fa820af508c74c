package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReportType selects the shape of a spending report.
type ReportType string

const (
	ReportSummary    ReportType = "summary"
	ReportByMerchant ReportType = "by_merchant"
	ReportDetailed   ReportType = "detailed"
)

// SpendingReport aggregates approved/verified spend over a period.
// Exactly one of Summary, Merchants or Transactions is populated,
// depending on Type.
type SpendingReport struct {
	Type        ReportType      `json:"type"`
	PeriodStart time.Time       `json:"period_start"`
	PeriodEnd   time.Time       `json:"period_end"`
	GeneratedAt time.Time       `json:"generated_at"`

	Summary      *ReportSummaryData `json:"summary,omitempty"`
	Merchants    []MerchantSpend    `json:"merchants,omitempty"`
	Transactions []Transaction      `json:"transactions,omitempty"`
}

// ReportSummaryData is the aggregate view of a period.
type ReportSummaryData struct {
	TotalSpending      decimal.Decimal `json:"total_spending"`
	TransactionCount   int             `json:"transaction_count"`
	AverageTransaction decimal.Decimal `json:"average_transaction"`
}

// MerchantSpend is one merchant's aggregate within a by-merchant report.
type MerchantSpend struct {
	MerchantName     string          `json:"merchant_name"`
	TotalSpending    decimal.Decimal `json:"total_spending"`
	TransactionCount int             `json:"transaction_count"`
}
