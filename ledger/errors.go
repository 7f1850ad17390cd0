/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error types in one place. Structured errors unwrap to a sentinel so
  callers can branch with errors.Is and still read details with errors.As.

ERROR CATEGORIES:
  1. Proposal errors - ValidationError, CapacityExceededError (rejected locally,
     proposal unchanged)
  2. Commit errors - ErrEmptyProposal, CommitFailureError (proposal kept for retry)
  3. Lookup errors - unknown instrument / invoice / tenant

Aggregation functions never return errors: malformed input is a caller
precondition.

SEE ALSO:
  - proposal.go: returns proposal errors
  - session.go: returns commit errors
  - api/handlers.go: maps these to HTTP status codes
*/
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidAmount is returned when a proposal cell amount is negative.
	ErrInvalidAmount = errors.New("invalid allocation amount")

	// ErrCapacityExceeded is returned when an allocation would exceed the
	// remaining headroom of its instrument or its invoice.
	ErrCapacityExceeded = errors.New("allocation capacity exceeded")

	// ErrEmptyProposal is returned when committing a proposal with no entries
	// or without a tenant.
	ErrEmptyProposal = errors.New("empty allocation proposal")

	// ErrCommitFailed is returned when the external write did not succeed.
	// Source balances are unchanged.
	ErrCommitFailed = errors.New("allocation commit failed")

	// ErrUnknownInstrument is returned for an instrument outside the proposal.
	ErrUnknownInstrument = errors.New("unknown settlement instrument")

	// ErrUnknownInvoice is returned for an invoice outside the proposal.
	ErrUnknownInvoice = errors.New("unknown invoice")

	// ErrTenantMismatch is returned when an instrument or invoice belongs to
	// another tenant than the proposal.
	ErrTenantMismatch = errors.New("record belongs to another tenant")

	// ErrCommitInProgress is returned when editing a session that is committing.
	ErrCommitInProgress = errors.New("commit in progress")

	// ErrStaleBalance is returned by stores when persisted balances no longer
	// cover a proposal.
	ErrStaleBalance = errors.New("persisted balance no longer covers allocation")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError rejects a cell amount before it enters the proposal.
type ValidationError struct {
	InstrumentID string
	InvoiceID    string
	Amount       decimal.Decimal
	Reason       string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid amount %s for %s -> %s: %s",
		e.Amount, e.InstrumentID, e.InvoiceID, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidAmount
}

// CapacitySide names which side of a cell ran out of headroom.
type CapacitySide string

const (
	SideInstrument CapacitySide = "instrument"
	SideInvoice    CapacitySide = "invoice"
)

// CapacityExceededError is returned instead of silently clamping an allocation.
type CapacityExceededError struct {
	Side         CapacitySide
	InstrumentID string
	InvoiceID    string
	Requested    decimal.Decimal
	Max          decimal.Decimal
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("allocation %s -> %s of %s exceeds %s headroom %s",
		e.InstrumentID, e.InvoiceID, e.Requested, e.Side, e.Max)
}

func (e *CapacityExceededError) Unwrap() error {
	return ErrCapacityExceeded
}

// CommitFailureError wraps the external write error. The proposal that failed
// is still held by the session.
type CommitFailureError struct {
	TenantID string
	Entries  int
	Err      error
}

func (e *CommitFailureError) Error() string {
	return fmt.Sprintf("commit of %d allocations for tenant %s failed: %v",
		e.Entries, e.TenantID, e.Err)
}

func (e *CommitFailureError) Unwrap() []error {
	return []error{ErrCommitFailed, e.Err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the same commit may succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrCommitFailed) || errors.Is(err, context.DeadlineExceeded)
}

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrCapacityExceeded) ||
		errors.Is(err, ErrEmptyProposal) ||
		errors.Is(err, ErrTenantMismatch)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrUnknownInstrument) ||
		errors.Is(err, ErrUnknownInvoice)
}
