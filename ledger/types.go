/*
Package ledger provides the tenant ledger and settlement allocation engine.

PURPOSE:
  Interprets raw charge/payment records owned by an external store. It derives
  per-tenant balances and aging, portfolio-wide summaries, chronological running
  balances, and validates and commits settlement allocations of credits and
  deposits against open invoices.

KEY CONCEPTS IN THIS FILE (types.go):
  - Transaction: a single charge or payment event, signed by its type
  - Invoice: the open/overdue view of one unpaid transaction
  - Instrument: a credit or deposit with an allocatable remainder
  - Allocation: one (instrument, invoice, amount) cell of a proposal

DESIGN PRINCIPLES:
  1. Derived, never stored: balances are recomputed from transactions on demand
  2. Precision: all money is decimal.Decimal, never float64
  3. Purity: aggregation takes asOf explicitly, there is no hidden clock
  4. All-or-nothing: allocation commits either apply fully or not at all

SEE ALSO:
  - aggregate.go: Ledger Aggregator (per tenant)
  - portfolio.go: Portfolio Summarizer (across tenants)
  - running.go: Running Balance Builder
  - proposal.go, session.go: Settlement Allocator
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// TRANSACTION - A single charge or payment event
// =============================================================================

type TransactionType string

const (
	TypeIncome  TransactionType = "income"
	TypeExpense TransactionType = "expense"
)

type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusPaid      TransactionStatus = "paid"
	StatusOverdue   TransactionStatus = "overdue"
	StatusCancelled TransactionStatus = "cancelled"
)

// IsOutstanding reports whether money is still owed on a transaction in this status.
func (s TransactionStatus) IsOutstanding() bool {
	return s == StatusPending || s == StatusOverdue
}

type Transaction struct {
	ID          string
	TenantID    string
	PropertyID  string
	Type        TransactionType
	Amount      decimal.Decimal // never negative; sign comes from Type
	Status      TransactionStatus
	Category    string
	Description string
	DueDate     *time.Time
	CreatedAt   time.Time
	PaidDate    *time.Time

	// SettledAmount is the total of committed allocations against this
	// transaction. Zero for transactions never settled by an instrument.
	SettledAmount decimal.Decimal
}

// ReferenceDate is the date a transaction is aged and ordered by: the due date
// when present, the creation date otherwise.
func (t Transaction) ReferenceDate() time.Time {
	if t.DueDate != nil {
		return *t.DueDate
	}
	return t.CreatedAt
}

// Outstanding returns what is still owed on the transaction.
func (t Transaction) Outstanding() decimal.Decimal {
	return t.Amount.Sub(t.SettledAmount)
}

// SignedAmount returns Amount for income and -Amount for expense.
func (t Transaction) SignedAmount() decimal.Decimal {
	if t.Type == TypeExpense {
		return t.Amount.Neg()
	}
	return t.Amount
}

// =============================================================================
// INVOICE - Open view over one unpaid or partially paid transaction
// =============================================================================

type InvoiceStatus string

const (
	InvoiceOpen    InvoiceStatus = "open"
	InvoiceOverdue InvoiceStatus = "overdue"
)

// Invoice is derived from a Transaction. ID equals the transaction ID.
//
// INVARIANT: 0 <= OutstandingAmount <= Amount
type Invoice struct {
	ID                string
	TenantID          string
	PropertyID        string
	Category          string
	Amount            decimal.Decimal
	OutstandingAmount decimal.Decimal
	DueDate           time.Time
	DaysOverdue       int
	Status            InvoiceStatus
}

// =============================================================================
// SETTLEMENT INSTRUMENT - Credit or deposit available to offset invoices
// =============================================================================

type InstrumentKind string

const (
	KindCredit  InstrumentKind = "credit"
	KindDeposit InstrumentKind = "deposit"
)

type InstrumentStatus string

const (
	InstrumentAvailable InstrumentStatus = "available" // credits
	InstrumentHeld      InstrumentStatus = "held"      // deposits
	InstrumentExhausted InstrumentStatus = "exhausted"
)

type DepositType string

const (
	DepositSecurity DepositType = "security"
	DepositPet      DepositType = "pet"
	DepositOther    DepositType = "other"
)

type CreditDetails struct {
	Reason      string
	CreatedDate time.Time
	ExpiresDate *time.Time
}

type DepositDetails struct {
	Type         DepositType
	Description  string
	ReceivedDate time.Time
}

// Instrument is a credit or a deposit. Exactly one of Credit / Deposit is set,
// matching Kind.
//
// INVARIANT: 0 <= AvailableAmount <= Amount
type Instrument struct {
	ID              string
	TenantID        string
	Kind            InstrumentKind
	Amount          decimal.Decimal
	AvailableAmount decimal.Decimal
	Status          InstrumentStatus

	Credit  *CreditDetails
	Deposit *DepositDetails
}

// LiveStatus is the non-exhausted status for the instrument's kind.
func (i Instrument) LiveStatus() InstrumentStatus {
	if i.Kind == KindDeposit {
		return InstrumentHeld
	}
	return InstrumentAvailable
}

// =============================================================================
// ALLOCATION - One cell of a settlement proposal
// =============================================================================

type Allocation struct {
	InstrumentID string
	InvoiceID    string
	Amount       decimal.Decimal
}

// AllocationRecord is a persisted allocation, written by a successful commit.
type AllocationRecord struct {
	ID             string
	CommitID       string
	TenantID       string
	InstrumentID   string
	InstrumentKind InstrumentKind
	InvoiceID      string
	Amount         decimal.Decimal
	CreatedAt      time.Time
}

// CommitReceipt is what a store returns after an atomic allocation commit.
type CommitReceipt struct {
	CommitID    string
	TenantID    string
	CommittedAt time.Time
	Total       decimal.Decimal
	Records     []AllocationRecord
}
