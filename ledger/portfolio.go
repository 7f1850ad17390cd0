package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PORTFOLIO SUMMARY - Money view across all tenants
// =============================================================================

// PortfolioSummary buckets money, not tenants: every outstanding transaction
// lands in exactly one bucket by its own days overdue.
//
// INVARIANT: Aging.Total() == TotalOutstanding
type PortfolioSummary struct {
	TotalOutstanding decimal.Decimal
	TotalPaid        decimal.Decimal
	TotalOverdue     decimal.Decimal
	TotalTenants     int // distinct tenant IDs over all input, balance or not
	Aging            AgingBuckets
}

// SummarizePortfolio accumulates raw transactions in a single pass.
func SummarizePortfolio(txs []Transaction, asOf time.Time) PortfolioSummary {
	s := PortfolioSummary{
		TotalOutstanding: decimal.Zero,
		TotalPaid:        decimal.Zero,
		TotalOverdue:     decimal.Zero,
	}
	tenants := make(map[string]struct{})

	for _, tx := range txs {
		tenants[tx.TenantID] = struct{}{}

		switch {
		case tx.Status == StatusPaid:
			s.TotalPaid = s.TotalPaid.Add(tx.Amount)
		case tx.Status.IsOutstanding():
			owed := tx.Outstanding()
			s.TotalOutstanding = s.TotalOutstanding.Add(owed)
			if tx.Status == StatusOverdue {
				s.TotalOverdue = s.TotalOverdue.Add(owed)
			}
			s.Aging = s.Aging.Add(BucketFor(TransactionDaysOverdue(tx, asOf)), owed)
		}
	}

	s.TotalTenants = len(tenants)
	return s
}
