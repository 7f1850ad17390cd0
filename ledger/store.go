/*
store.go - Interface between the engine and the external record store

PURPOSE:
  The engine does not own transactions, credits or deposits. It reads them
  through Reader and performs exactly one kind of write, CommitAllocations.

ATOMIC COMMIT:
  CommitAllocations is all-or-nothing. Implementations must either use a real
  multi-row transaction (store/sqlite) or stage and restore (ledger/store
  memory). Partial application, some instruments reduced and others not, is
  never acceptable. Implementations also re-check capacity against their own
  current balances and fail with ErrStaleBalance rather than over-apply.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite, used by the server
  - ledger/store/memory.go: in-memory, for tests and demos
*/
package ledger

import (
	"context"
	"time"
)

// TransactionQuery selects transactions. Zero values mean "any".
type TransactionQuery struct {
	TenantID   string
	PropertyID string
	Statuses   []TransactionStatus
	From       *time.Time // inclusive, on due_date ?? created_at
	To         *time.Time // inclusive, on due_date ?? created_at
}

// Reader is the read surface of the external store.
type Reader interface {
	// Transactions returns matching transactions in no particular order.
	Transactions(ctx context.Context, q TransactionQuery) ([]Transaction, error)

	// Instruments returns a tenant's credits and deposits. Empty kind means both.
	Instruments(ctx context.Context, tenantID string, kind InstrumentKind) ([]Instrument, error)

	// Allocations returns the committed allocation history of a tenant, oldest first.
	Allocations(ctx context.Context, tenantID string) ([]AllocationRecord, error)
}

// Committer is the single write surface.
type Committer interface {
	// CommitAllocations persists allocs and reduces the affected balances in
	// one atomic step.
	CommitAllocations(ctx context.Context, tenantID string, allocs []Allocation) (CommitReceipt, error)
}

// Store is the full external surface.
type Store interface {
	Reader
	Committer
}

// CommitterFunc adapts a function to Committer.
type CommitterFunc func(ctx context.Context, tenantID string, allocs []Allocation) (CommitReceipt, error)

func (f CommitterFunc) CommitAllocations(ctx context.Context, tenantID string, allocs []Allocation) (CommitReceipt, error) {
	return f(ctx, tenantID, allocs)
}

// OpenInvoices reads a tenant's outstanding transactions and derives invoices.
func OpenInvoices(ctx context.Context, r Reader, tenantID string, asOf time.Time) ([]Invoice, error) {
	txs, err := r.Transactions(ctx, TransactionQuery{
		TenantID: tenantID,
		Statuses: []TransactionStatus{StatusPending, StatusOverdue},
	})
	if err != nil {
		return nil, err
	}
	return OutstandingInvoices(txs, asOf), nil
}
