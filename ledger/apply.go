package ledger

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// APPLY ALLOCATIONS - Post-commit projection of source balances
// =============================================================================

// ApplyAllocations returns copies of instruments and transactions with allocs
// applied: each instrument's available amount drops by its total (exhausted at
// zero) and each transaction's settled amount grows by its total (paid when
// nothing is left). Nothing is applied if any total exceeds what is available
// or outstanding; the inputs are never modified.
func ApplyAllocations(instruments []Instrument, txs []Transaction, allocs []Allocation, at time.Time) ([]Instrument, []Transaction, error) {
	byInstrument := make(map[string]decimal.Decimal)
	byInvoice := make(map[string]decimal.Decimal)
	for _, a := range allocs {
		if !a.Amount.IsPositive() {
			return nil, nil, &ValidationError{
				InstrumentID: a.InstrumentID, InvoiceID: a.InvoiceID, Amount: a.Amount,
				Reason: "committed amounts must be positive",
			}
		}
		byInstrument[a.InstrumentID] = byInstrument[a.InstrumentID].Add(a.Amount)
		byInvoice[a.InvoiceID] = byInvoice[a.InvoiceID].Add(a.Amount)
	}

	outInstruments := append([]Instrument(nil), instruments...)
	seen := make(map[string]bool, len(byInstrument))
	for i := range outInstruments {
		inst := &outInstruments[i]
		total, ok := byInstrument[inst.ID]
		if !ok {
			continue
		}
		seen[inst.ID] = true
		if total.GreaterThan(inst.AvailableAmount) {
			return nil, nil, fmt.Errorf("instrument %s: %s > %s: %w",
				inst.ID, total, inst.AvailableAmount, ErrStaleBalance)
		}
		inst.AvailableAmount = inst.AvailableAmount.Sub(total)
		if inst.AvailableAmount.IsZero() {
			inst.Status = InstrumentExhausted
		}
	}
	if id := firstMissing(byInstrument, seen); id != "" {
		return nil, nil, fmt.Errorf("%s: %w", id, ErrUnknownInstrument)
	}

	outTxs := append([]Transaction(nil), txs...)
	seen = make(map[string]bool, len(byInvoice))
	for i := range outTxs {
		tx := &outTxs[i]
		total, ok := byInvoice[tx.ID]
		if !ok {
			continue
		}
		seen[tx.ID] = true
		if !tx.Status.IsOutstanding() || total.GreaterThan(tx.Outstanding()) {
			return nil, nil, fmt.Errorf("invoice %s: %s > %s: %w",
				tx.ID, total, tx.Outstanding(), ErrStaleBalance)
		}
		tx.SettledAmount = tx.SettledAmount.Add(total)
		if tx.Outstanding().IsZero() {
			paid := at
			tx.Status = StatusPaid
			tx.PaidDate = &paid
		}
	}
	if id := firstMissing(byInvoice, seen); id != "" {
		return nil, nil, fmt.Errorf("%s: %w", id, ErrUnknownInvoice)
	}

	return outInstruments, outTxs, nil
}

func firstMissing(totals map[string]decimal.Decimal, seen map[string]bool) string {
	var missing []string
	for id := range totals {
		if !seen[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return ""
	}
	sort.Strings(missing)
	return missing[0]
}
