package ledger_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/warp/tenant-ledger/ledger"
)

// =============================================================================
// TEST INFRASTRUCTURE
// =============================================================================

var asOf = time.Date(2025, time.June, 30, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func daysAgo(n int) *time.Time {
	t := asOf.Add(-time.Duration(n) * 24 * time.Hour)
	return &t
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), append([]interface{}{"want %s, got %s", want, got.String()}, msgAndArgs...)...)
}

// charge is an income transaction due n days before asOf.
func charge(id, tenantID, amount string, dueDaysAgo int, status ledger.TransactionStatus) ledger.Transaction {
	due := daysAgo(dueDaysAgo)
	return ledger.Transaction{
		ID:        id,
		TenantID:  tenantID,
		Type:      ledger.TypeIncome,
		Amount:    dec(amount),
		Status:    status,
		Category:  "rent",
		DueDate:   due,
		CreatedAt: due.Add(-7 * 24 * time.Hour),
	}
}

func credit(id, tenantID, available string) ledger.Instrument {
	return ledger.Instrument{
		ID:              id,
		TenantID:        tenantID,
		Kind:            ledger.KindCredit,
		Amount:          dec(available),
		AvailableAmount: dec(available),
		Status:          ledger.InstrumentAvailable,
		Credit:          &ledger.CreditDetails{Reason: "goodwill", CreatedDate: asOf},
	}
}

func deposit(id, tenantID, available string) ledger.Instrument {
	return ledger.Instrument{
		ID:              id,
		TenantID:        tenantID,
		Kind:            ledger.KindDeposit,
		Amount:          dec(available),
		AvailableAmount: dec(available),
		Status:          ledger.InstrumentHeld,
		Deposit:         &ledger.DepositDetails{Type: ledger.DepositSecurity, ReceivedDate: asOf},
	}
}

func invoice(id, tenantID, outstanding string) ledger.Invoice {
	return ledger.Invoice{
		ID:                id,
		TenantID:          tenantID,
		Amount:            dec(outstanding),
		OutstandingAmount: dec(outstanding),
		DueDate:           asOf,
		Status:            ledger.InvoiceOpen,
	}
}
