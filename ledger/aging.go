package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// DAYS OVERDUE - Two distinct semantics, kept separate on purpose
// =============================================================================

const day = 24 * time.Hour

// TransactionDaysOverdue is the per-transaction figure used for money bucketing:
// whole days elapsed since due_date (or created_at), never negative.
func TransactionDaysOverdue(tx Transaction, asOf time.Time) int {
	return daysSince(tx.ReferenceDate(), asOf)
}

// TenantDaysOverdue is the tenant-level figure: the maximum per-transaction
// days overdue across the tenant's outstanding transactions. Zero when nothing
// is past due.
func TenantDaysOverdue(txs []Transaction, asOf time.Time) int {
	worst := 0
	for _, tx := range txs {
		if !tx.Status.IsOutstanding() {
			continue
		}
		if d := TransactionDaysOverdue(tx, asOf); d > worst {
			worst = d
		}
	}
	return worst
}

func daysSince(ref, asOf time.Time) int {
	elapsed := asOf.Sub(ref)
	if elapsed <= 0 {
		return 0
	}
	return int(elapsed / day)
}

// =============================================================================
// AGING BUCKETS - Partition of money by days overdue
// =============================================================================

type Bucket int

const (
	Bucket0To30 Bucket = iota
	Bucket30To60
	Bucket60To90
	Bucket90Plus
)

func (b Bucket) String() string {
	switch b {
	case Bucket0To30:
		return "0-30"
	case Bucket30To60:
		return "30-60"
	case Bucket60To90:
		return "60-90"
	default:
		return "90+"
	}
}

// BucketFor maps days overdue onto exactly one bucket:
// <=30, 31-60, 61-90, >90.
func BucketFor(days int) Bucket {
	switch {
	case days <= 30:
		return Bucket0To30
	case days <= 60:
		return Bucket30To60
	case days <= 90:
		return Bucket60To90
	default:
		return Bucket90Plus
	}
}

// AgingBuckets partitions an amount of money. The four buckets are mutually
// exclusive and sum to the pool that was bucketed.
type AgingBuckets struct {
	Days0To30  decimal.Decimal
	Days30To60 decimal.Decimal
	Days60To90 decimal.Decimal
	Days90Plus decimal.Decimal
}

// Add returns a copy with amount added to bucket b.
func (a AgingBuckets) Add(b Bucket, amount decimal.Decimal) AgingBuckets {
	switch b {
	case Bucket0To30:
		a.Days0To30 = a.Days0To30.Add(amount)
	case Bucket30To60:
		a.Days30To60 = a.Days30To60.Add(amount)
	case Bucket60To90:
		a.Days60To90 = a.Days60To90.Add(amount)
	default:
		a.Days90Plus = a.Days90Plus.Add(amount)
	}
	return a
}

// Total is the sum of all four buckets.
func (a AgingBuckets) Total() decimal.Decimal {
	return a.Days0To30.Add(a.Days30To60).Add(a.Days60To90).Add(a.Days90Plus)
}

// TenantAging counts tenants per bucket, by tenant-level days overdue.
type TenantAging struct {
	Days0To30  int
	Days30To60 int
	Days60To90 int
	Days90Plus int
}

// BucketTenants counts tenants with an outstanding balance by the bucket of
// their TenantDaysOverdue. Tenants with nothing outstanding are not counted.
func BucketTenants(balances []TenantBalance) TenantAging {
	var out TenantAging
	for _, b := range balances {
		if !b.OutstandingBalance.IsPositive() {
			continue
		}
		switch BucketFor(b.DaysOverdue) {
		case Bucket0To30:
			out.Days0To30++
		case Bucket30To60:
			out.Days30To60++
		case Bucket60To90:
			out.Days60To90++
		default:
			out.Days90Plus++
		}
	}
	return out
}
