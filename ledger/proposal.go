/*
proposal.go - Allocation proposal (pure value object)

PURPOSE:
  Holds an uncommitted matrix of instrument -> invoice amounts together with
  the capacities it was opened against. Every mutation returns a new Proposal;
  the receiver is never modified, so callers own their state explicitly.

CENTRAL CONTRACT (holds after every Set, not only at commit):
  for every instrument i:  sum(amount(i, *)) <= available(i)
  for every invoice v:     sum(amount(*, v)) <= outstanding(v)

CELL HEADROOM:
  When editing cell (i, v) its own current value is returned first:

    CellMax(i, v) = min(RemainingCapacity(i) + cell(i, v),
                        RemainingNeed(v)     + cell(i, v))

  so a cell can move freely up or down within what the rest of the matrix
  leaves. Amounts above CellMax are rejected, never clamped.

ZERO CELLS:
  Setting a cell to zero removes it. The matrix never stores zero rows.
*/
package ledger

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type cellKey struct {
	instrumentID string
	invoiceID    string
}

// Proposal is an in-memory allocation matrix for one tenant.
// The zero value is an empty proposal without a tenant.
type Proposal struct {
	tenantID string

	capacity map[string]decimal.Decimal // instrument ID -> available amount
	need     map[string]decimal.Decimal // invoice ID -> outstanding amount
	kinds    map[string]InstrumentKind

	instrumentOrder []string
	invoiceOrder    []string

	cells map[cellKey]decimal.Decimal
}

// NewProposal opens an empty proposal against the given instruments and
// invoices. All records must belong to tenantID.
func NewProposal(tenantID string, instruments []Instrument, invoices []Invoice) (Proposal, error) {
	p := Proposal{
		tenantID: tenantID,
		capacity: make(map[string]decimal.Decimal, len(instruments)),
		need:     make(map[string]decimal.Decimal, len(invoices)),
		kinds:    make(map[string]InstrumentKind, len(instruments)),
		cells:    make(map[cellKey]decimal.Decimal),
	}

	for _, inst := range instruments {
		if inst.TenantID != tenantID {
			return Proposal{}, fmt.Errorf("instrument %s: %w", inst.ID, ErrTenantMismatch)
		}
		if _, dup := p.capacity[inst.ID]; dup {
			continue
		}
		p.capacity[inst.ID] = inst.AvailableAmount
		p.kinds[inst.ID] = inst.Kind
		p.instrumentOrder = append(p.instrumentOrder, inst.ID)
	}

	for _, inv := range invoices {
		if inv.TenantID != tenantID {
			return Proposal{}, fmt.Errorf("invoice %s: %w", inv.ID, ErrTenantMismatch)
		}
		if _, dup := p.need[inv.ID]; dup {
			continue
		}
		p.need[inv.ID] = inv.OutstandingAmount
		p.invoiceOrder = append(p.invoiceOrder, inv.ID)
	}

	return p, nil
}

// =============================================================================
// QUERIES
// =============================================================================

func (p Proposal) TenantID() string { return p.tenantID }
func (p Proposal) Len() int         { return len(p.cells) }
func (p Proposal) IsEmpty() bool    { return len(p.cells) == 0 }

// InstrumentIDs returns the instruments in the order they were supplied.
func (p Proposal) InstrumentIDs() []string { return append([]string(nil), p.instrumentOrder...) }

// InvoiceIDs returns the invoices in the order they were supplied.
func (p Proposal) InvoiceIDs() []string { return append([]string(nil), p.invoiceOrder...) }

// Kind returns the kind of a known instrument.
func (p Proposal) Kind(instrumentID string) InstrumentKind { return p.kinds[instrumentID] }

// Cell returns the current amount in (instrumentID, invoiceID), zero if unset.
func (p Proposal) Cell(instrumentID, invoiceID string) decimal.Decimal {
	if v, ok := p.cells[cellKey{instrumentID, invoiceID}]; ok {
		return v
	}
	return decimal.Zero
}

// RemainingCapacity is available(i) minus everything allocated from i.
func (p Proposal) RemainingCapacity(instrumentID string) (decimal.Decimal, error) {
	available, ok := p.capacity[instrumentID]
	if !ok {
		return decimal.Zero, fmt.Errorf("%s: %w", instrumentID, ErrUnknownInstrument)
	}
	return available.Sub(p.instrumentTotal(instrumentID)), nil
}

// RemainingNeed is outstanding(v) minus everything allocated to v.
func (p Proposal) RemainingNeed(invoiceID string) (decimal.Decimal, error) {
	outstanding, ok := p.need[invoiceID]
	if !ok {
		return decimal.Zero, fmt.Errorf("%s: %w", invoiceID, ErrUnknownInvoice)
	}
	return outstanding.Sub(p.invoiceTotal(invoiceID)), nil
}

// CellMax is the largest legal value for one cell, after returning the cell's
// own current value to both sides.
func (p Proposal) CellMax(instrumentID, invoiceID string) (decimal.Decimal, error) {
	byInstrument, byInvoice, err := p.cellHeadroom(instrumentID, invoiceID)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.Min(byInstrument, byInvoice), nil
}

// Total is the sum of all proposed amounts.
func (p Proposal) Total() decimal.Decimal {
	total := decimal.Zero
	for _, v := range p.cells {
		total = total.Add(v)
	}
	return total
}

// Entries lists non-zero cells in instrument, then invoice, supply order.
func (p Proposal) Entries() []Allocation {
	entries := make([]Allocation, 0, len(p.cells))
	for _, i := range p.instrumentOrder {
		for _, v := range p.invoiceOrder {
			if amount, ok := p.cells[cellKey{i, v}]; ok {
				entries = append(entries, Allocation{InstrumentID: i, InvoiceID: v, Amount: amount})
			}
		}
	}
	return entries
}

// InstrumentTotals sums the proposal per instrument. Untouched instruments are absent.
func (p Proposal) InstrumentTotals() map[string]decimal.Decimal {
	totals := make(map[string]decimal.Decimal)
	for k, v := range p.cells {
		totals[k.instrumentID] = totals[k.instrumentID].Add(v)
	}
	return totals
}

// InvoiceTotals sums the proposal per invoice. Untouched invoices are absent.
func (p Proposal) InvoiceTotals() map[string]decimal.Decimal {
	totals := make(map[string]decimal.Decimal)
	for k, v := range p.cells {
		totals[k.invoiceID] = totals[k.invoiceID].Add(v)
	}
	return totals
}

// =============================================================================
// FUNCTIONAL UPDATES
// =============================================================================

// Set inserts, updates or removes (amount == 0) one cell and returns the new
// proposal. On error the returned proposal is the receiver, unchanged.
func (p Proposal) Set(instrumentID, invoiceID string, amount decimal.Decimal) (Proposal, error) {
	if amount.IsNegative() {
		return p, &ValidationError{
			InstrumentID: instrumentID,
			InvoiceID:    invoiceID,
			Amount:       amount,
			Reason:       "amount must not be negative",
		}
	}

	byInstrument, byInvoice, err := p.cellHeadroom(instrumentID, invoiceID)
	if err != nil {
		return p, err
	}
	if amount.GreaterThan(byInstrument) {
		return p, &CapacityExceededError{
			Side: SideInstrument, InstrumentID: instrumentID, InvoiceID: invoiceID,
			Requested: amount, Max: byInstrument,
		}
	}
	if amount.GreaterThan(byInvoice) {
		return p, &CapacityExceededError{
			Side: SideInvoice, InstrumentID: instrumentID, InvoiceID: invoiceID,
			Requested: amount, Max: byInvoice,
		}
	}

	next := p
	next.cells = make(map[cellKey]decimal.Decimal, len(p.cells)+1)
	for k, v := range p.cells {
		next.cells[k] = v
	}
	key := cellKey{instrumentID, invoiceID}
	if amount.IsZero() {
		delete(next.cells, key)
	} else {
		next.cells[key] = amount
	}
	return next, nil
}

// Clear returns the same capacities with no cells.
func (p Proposal) Clear() Proposal {
	next := p
	next.cells = make(map[cellKey]decimal.Decimal)
	return next
}

// Settle returns an empty proposal whose capacities and needs are reduced by
// the current cells, i.e. the state after this proposal has been committed.
func (p Proposal) Settle() Proposal {
	next := p
	next.capacity = make(map[string]decimal.Decimal, len(p.capacity))
	for id, available := range p.capacity {
		next.capacity[id] = available.Sub(p.instrumentTotal(id))
	}
	next.need = make(map[string]decimal.Decimal, len(p.need))
	for id, outstanding := range p.need {
		next.need[id] = outstanding.Sub(p.invoiceTotal(id))
	}
	next.cells = make(map[cellKey]decimal.Decimal)
	return next
}

func (p Proposal) cellHeadroom(instrumentID, invoiceID string) (decimal.Decimal, decimal.Decimal, error) {
	capacity, err := p.RemainingCapacity(instrumentID)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	need, err := p.RemainingNeed(invoiceID)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	current := p.Cell(instrumentID, invoiceID)
	return capacity.Add(current), need.Add(current), nil
}

func (p Proposal) instrumentTotal(instrumentID string) decimal.Decimal {
	total := decimal.Zero
	for k, v := range p.cells {
		if k.instrumentID == instrumentID {
			total = total.Add(v)
		}
	}
	return total
}

func (p Proposal) invoiceTotal(invoiceID string) decimal.Decimal {
	total := decimal.Zero
	for k, v := range p.cells {
		if k.invoiceID == invoiceID {
			total = total.Add(v)
		}
	}
	return total
}

// ParseAmount parses user input for a proposal cell. Non-numeric and negative
// input is a ValidationError.
func ParseAmount(instrumentID, invoiceID, raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, &ValidationError{
			InstrumentID: instrumentID,
			InvoiceID:    invoiceID,
			Reason:       fmt.Sprintf("%q is not a number", raw),
		}
	}
	if amount.IsNegative() {
		return decimal.Zero, &ValidationError{
			InstrumentID: instrumentID,
			InvoiceID:    invoiceID,
			Amount:       amount,
			Reason:       "amount must not be negative",
		}
	}
	return amount, nil
}
