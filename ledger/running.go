/*
running.go - Running Balance Builder

PURPOSE:
  Produces the chronological ledger view for bank and transaction history:
  every entry stamped with the cumulative signed total up to and including it.

ALGORITHM:
  1. Filter (property, tenant, status, date range, free text)
  2. Stable sort ascending by due_date ?? created_at
  3. Walk ascending: +amount for income, -amount for expense, stamp the total
  4. Reverse for display (most recent first). Stamps are never recomputed.

EXAMPLE:
  day 1 +1000, day 2 -200, day 3 +50
  stamped ascending:   1000, 800, 850
  returned (display):  850, 800, 1000
*/
package ledger

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// LedgerEntry is a transaction annotated with its running balance.
type LedgerEntry struct {
	Transaction
	RunningBalance decimal.Decimal
}

// RunningBalanceFilter narrows the stream before balances are computed.
// Zero values mean "no filter".
type RunningBalanceFilter struct {
	TenantID   string
	PropertyID string
	Statuses   []TransactionStatus
	From       *time.Time // inclusive, compared to ReferenceDate
	To         *time.Time // inclusive, compared to ReferenceDate
	Search     string     // case-insensitive substring of id, category, description, property
}

// Matches reports whether tx passes every filter.
func (f RunningBalanceFilter) Matches(tx Transaction) bool {
	if f.TenantID != "" && tx.TenantID != f.TenantID {
		return false
	}
	if f.PropertyID != "" && tx.PropertyID != f.PropertyID {
		return false
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, tx.Status) {
		return false
	}
	ref := tx.ReferenceDate()
	if f.From != nil && ref.Before(*f.From) {
		return false
	}
	if f.To != nil && ref.After(*f.To) {
		return false
	}
	if q := strings.TrimSpace(f.Search); q != "" {
		q = strings.ToLower(q)
		haystack := strings.ToLower(strings.Join([]string{
			tx.ID, tx.Category, tx.Description, tx.PropertyID,
		}, " "))
		if !strings.Contains(haystack, q) {
			return false
		}
	}
	return true
}

// BuildRunningBalance returns the filtered stream, most recent first, with
// balances computed in ascending order.
func BuildRunningBalance(txs []Transaction, filter RunningBalanceFilter) []LedgerEntry {
	entries := make([]LedgerEntry, 0, len(txs))
	for _, tx := range txs {
		if filter.Matches(tx) {
			entries = append(entries, LedgerEntry{Transaction: tx})
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].ReferenceDate().Before(entries[j].ReferenceDate())
	})

	balance := decimal.Zero
	for i := range entries {
		balance = balance.Add(entries[i].SignedAmount())
		entries[i].RunningBalance = balance
	}

	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries
}

func containsStatus(statuses []TransactionStatus, s TransactionStatus) bool {
	for _, candidate := range statuses {
		if candidate == s {
			return true
		}
	}
	return false
}
