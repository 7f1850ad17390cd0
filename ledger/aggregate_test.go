package ledger_test

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/tenant-ledger/ledger"
)

func TestAggregateTenantBalance_PendingVersusOverdue(t *testing.T) {
	// GIVEN: $500 due 10 days ago and $300 due 40 days ago, both pending
	pending := []ledger.Transaction{
		charge("tx-1", "t1", "500", 10, ledger.StatusPending),
		charge("tx-2", "t1", "300", 40, ledger.StatusPending),
	}

	// WHEN
	b := ledger.AggregateTenantBalance(pending, asOf)

	// THEN: everything is outstanding, nothing is overdue by status
	assertDecimal(t, "800", b.OutstandingBalance)
	assertDecimal(t, "0", b.OverdueBalance)
	assert.Equal(t, 40, b.DaysOverdue)
	assert.Equal(t, 2, b.TotalInvoices)
	assert.Equal(t, 0, b.OverdueInvoices)

	// GIVEN: the same charges marked overdue
	overdue := []ledger.Transaction{
		charge("tx-1", "t1", "500", 10, ledger.StatusOverdue),
		charge("tx-2", "t1", "300", 40, ledger.StatusOverdue),
	}

	// WHEN
	b = ledger.AggregateTenantBalance(overdue, asOf)

	// THEN
	assertDecimal(t, "800", b.OutstandingBalance)
	assertDecimal(t, "800", b.OverdueBalance)
	assert.Equal(t, 40, b.DaysOverdue)
	assert.Equal(t, 2, b.OverdueInvoices)
}

func TestAggregateTenantBalance_PaidIsNeverNetted(t *testing.T) {
	txs := []ledger.Transaction{
		charge("tx-1", "t1", "1200", 70, ledger.StatusPaid),
		charge("tx-2", "t1", "1200", 40, ledger.StatusOverdue),
		charge("tx-3", "t1", "50", 5, ledger.StatusCancelled),
	}

	b := ledger.AggregateTenantBalance(txs, asOf)

	assert.Equal(t, "t1", b.TenantID)
	assertDecimal(t, "1200", b.PaidBalance)
	assertDecimal(t, "1200", b.OutstandingBalance)
	assert.Equal(t, 1, b.TotalInvoices)
	require.NotNil(t, b.OldestInvoiceDate)
	assert.True(t, b.OldestInvoiceDate.Equal(*txs[1].DueDate))
}

func TestAggregateTenantBalance_NothingOutstanding(t *testing.T) {
	b := ledger.AggregateTenantBalance([]ledger.Transaction{
		charge("tx-1", "t1", "100", 10, ledger.StatusPaid),
	}, asOf)

	assertDecimal(t, "0", b.OutstandingBalance)
	assert.Nil(t, b.OldestInvoiceDate)
	assert.Equal(t, 0, b.DaysOverdue)
	assert.True(t, b.Aging.Total().IsZero())
}

func TestAggregateTenantBalance_UsesSettledAmount(t *testing.T) {
	// GIVEN: a $150 invoice with $100 already settled by a credit
	tx := charge("tx-1", "t1", "150", 10, ledger.StatusPending)
	tx.SettledAmount = dec("100")

	// WHEN
	b := ledger.AggregateTenantBalance([]ledger.Transaction{tx}, asOf)

	// THEN
	assertDecimal(t, "50", b.OutstandingBalance)
	assertDecimal(t, "50", b.Aging.Days0To30)
}

func TestConservation_BalanceEqualsOpenInvoices(t *testing.T) {
	// GIVEN: a mix of statuses including a partially settled invoice
	partial := charge("tx-4", "t1", "400", 95, ledger.StatusOverdue)
	partial.SettledAmount = dec("125.50")
	txs := []ledger.Transaction{
		charge("tx-1", "t1", "500", 10, ledger.StatusPending),
		charge("tx-2", "t1", "300", 40, ledger.StatusOverdue),
		charge("tx-3", "t1", "999", 60, ledger.StatusPaid),
		partial,
	}

	// WHEN
	b := ledger.AggregateTenantBalance(txs, asOf)
	invoices := ledger.OutstandingInvoices(txs, asOf)

	// THEN
	sum := decimal.Zero
	for _, inv := range invoices {
		sum = sum.Add(inv.OutstandingAmount)
	}
	assert.True(t, b.OutstandingBalance.Equal(sum), "balance %s != invoices %s", b.OutstandingBalance, sum)
	assert.True(t, b.Aging.Total().Equal(b.OutstandingBalance))
}

func TestOutstandingInvoices_OrderAndStatus(t *testing.T) {
	settled := charge("tx-settled", "t1", "100", 50, ledger.StatusPending)
	settled.SettledAmount = dec("100")
	txs := []ledger.Transaction{
		charge("tx-new", "t1", "100", 5, ledger.StatusPending),
		charge("tx-old", "t1", "200", 45, ledger.StatusOverdue),
		charge("tx-paid", "t1", "300", 90, ledger.StatusPaid),
		settled,
	}

	invoices := ledger.OutstandingInvoices(txs, asOf)

	require.Len(t, invoices, 2)
	assert.Equal(t, "tx-old", invoices[0].ID)
	assert.Equal(t, ledger.InvoiceOverdue, invoices[0].Status)
	assert.Equal(t, 45, invoices[0].DaysOverdue)
	assert.Equal(t, "tx-new", invoices[1].ID)
	assert.Equal(t, ledger.InvoiceOpen, invoices[1].Status)
}

func TestWithOutstanding_TenOfWhichFourClear(t *testing.T) {
	// GIVEN: 10 tenants, 4 of them with only paid transactions
	var txs []ledger.Transaction
	for i := 0; i < 10; i++ {
		status := ledger.StatusPending
		if i < 4 {
			status = ledger.StatusPaid
		}
		tenant := fmt.Sprintf("tenant-%02d", i)
		txs = append(txs, charge("tx-"+tenant, tenant, "100", i*10, status))
	}

	// WHEN
	summary := ledger.SummarizePortfolio(txs, asOf)
	balances := ledger.BalancesByTenant(txs, asOf)

	// THEN
	assert.Equal(t, 10, summary.TotalTenants)
	assert.Len(t, balances, 10)
	assert.Len(t, ledger.WithOutstanding(balances), 6)
}

func TestBalancesByTenant_SortedByOutstanding(t *testing.T) {
	txs := []ledger.Transaction{
		charge("a", "t-b", "100", 1, ledger.StatusPending),
		charge("b", "t-a", "100", 1, ledger.StatusPending),
		charge("c", "t-c", "900", 1, ledger.StatusOverdue),
	}

	balances := ledger.BalancesByTenant(txs, asOf)

	require.Len(t, balances, 3)
	assert.Equal(t, []string{"t-c", "t-a", "t-b"},
		[]string{balances[0].TenantID, balances[1].TenantID, balances[2].TenantID})
}
