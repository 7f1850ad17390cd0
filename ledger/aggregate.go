/*
aggregate.go - Ledger Aggregator

PURPOSE:
  Turns one tenant's raw transactions into a TenantBalance: outstanding,
  overdue and paid totals, an aging profile, the oldest open date and the
  tenant-level days overdue.

RULES:
  Outstanding: status pending or overdue, summed by what is still owed
  Overdue:     the subset with status overdue (a status, not a date test)
  Paid:        status paid, tracked separately and never netted
  DaysOverdue: TenantDaysOverdue (max over outstanding transactions)

  A tenant with zero outstanding is not an error. Callers that want the
  "with balance" view apply WithOutstanding.

SEE ALSO:
  - aging.go: days-overdue semantics and buckets
  - portfolio.go: the cross-tenant money view
*/
package ledger

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// TenantBalance is derived on demand. It is never persisted.
type TenantBalance struct {
	TenantID           string
	OutstandingBalance decimal.Decimal
	PaidBalance        decimal.Decimal
	OverdueBalance     decimal.Decimal
	TotalInvoices      int
	OverdueInvoices    int
	OldestInvoiceDate  *time.Time // nil when nothing is outstanding
	DaysOverdue        int
	Aging              AgingBuckets
}

// AggregateTenantBalance computes the balance of one tenant. All transactions
// are expected to belong to the same tenant; the first one names it.
// Every transaction must carry CreatedAt.
func AggregateTenantBalance(txs []Transaction, asOf time.Time) TenantBalance {
	b := TenantBalance{
		OutstandingBalance: decimal.Zero,
		PaidBalance:        decimal.Zero,
		OverdueBalance:     decimal.Zero,
	}
	if len(txs) > 0 {
		b.TenantID = txs[0].TenantID
	}

	for _, tx := range txs {
		switch {
		case tx.Status == StatusPaid:
			b.PaidBalance = b.PaidBalance.Add(tx.Amount)

		case tx.Status.IsOutstanding():
			owed := tx.Outstanding()
			b.OutstandingBalance = b.OutstandingBalance.Add(owed)
			b.TotalInvoices++
			if tx.Status == StatusOverdue {
				b.OverdueBalance = b.OverdueBalance.Add(owed)
				b.OverdueInvoices++
			}
			b.Aging = b.Aging.Add(BucketFor(TransactionDaysOverdue(tx, asOf)), owed)
		}
	}

	b.DaysOverdue = TenantDaysOverdue(txs, asOf)
	b.OldestInvoiceDate = OldestInvoiceDate(txs)
	return b
}

// OldestInvoiceDate is the earliest reference date among outstanding
// transactions, or nil when there are none.
func OldestInvoiceDate(txs []Transaction) *time.Time {
	var oldest *time.Time
	for _, tx := range txs {
		if !tx.Status.IsOutstanding() {
			continue
		}
		ref := tx.ReferenceDate()
		if oldest == nil || ref.Before(*oldest) {
			oldest = &ref
		}
	}
	return oldest
}

// BalancesByTenant groups a mixed stream by tenant and aggregates each group.
// Result is ordered by outstanding balance descending, then tenant ID.
func BalancesByTenant(txs []Transaction, asOf time.Time) []TenantBalance {
	groups := make(map[string][]Transaction)
	for _, tx := range txs {
		groups[tx.TenantID] = append(groups[tx.TenantID], tx)
	}

	balances := make([]TenantBalance, 0, len(groups))
	for tenantID, group := range groups {
		b := AggregateTenantBalance(group, asOf)
		b.TenantID = tenantID
		balances = append(balances, b)
	}

	sort.Slice(balances, func(i, j int) bool {
		if c := balances[i].OutstandingBalance.Cmp(balances[j].OutstandingBalance); c != 0 {
			return c > 0
		}
		return balances[i].TenantID < balances[j].TenantID
	})
	return balances
}

// WithOutstanding keeps only tenants with a positive outstanding balance.
func WithOutstanding(balances []TenantBalance) []TenantBalance {
	out := make([]TenantBalance, 0, len(balances))
	for _, b := range balances {
		if b.OutstandingBalance.IsPositive() {
			out = append(out, b)
		}
	}
	return out
}

// OutstandingInvoices derives the open invoice view from transactions.
// Transactions fully settled but not yet marked paid are skipped.
func OutstandingInvoices(txs []Transaction, asOf time.Time) []Invoice {
	var invoices []Invoice
	for _, tx := range txs {
		if !tx.Status.IsOutstanding() || !tx.Outstanding().IsPositive() {
			continue
		}
		status := InvoiceOpen
		if tx.Status == StatusOverdue {
			status = InvoiceOverdue
		}
		invoices = append(invoices, Invoice{
			ID:                tx.ID,
			TenantID:          tx.TenantID,
			PropertyID:        tx.PropertyID,
			Category:          tx.Category,
			Amount:            tx.Amount,
			OutstandingAmount: tx.Outstanding(),
			DueDate:           tx.ReferenceDate(),
			DaysOverdue:       TransactionDaysOverdue(tx, asOf),
			Status:            status,
		})
	}
	sort.SliceStable(invoices, func(i, j int) bool {
		return invoices[i].DueDate.Before(invoices[j].DueDate)
	})
	return invoices
}
