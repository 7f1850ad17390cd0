/*
handlers_test.go - HTTP tests for the ledger API

Tests for:
- Tenant balance, invoices and instruments
- Settlement sessions: open, edit, reject, commit, discard
- Commit failure keeps the proposal (502) and busy sessions (409)
- Running balance filters and the portfolio summary
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/tenant-ledger/ledger"
	"github.com/warp/tenant-ledger/ledger/store"
)

var testNow = time.Date(2025, time.June, 30, 12, 0, 0, 0, time.UTC)

type testServer struct {
	handler *Handler
	router  http.Handler
	store   *store.Memory
}

// newTestServer loads scenarioID into a memory store behind a router.
func newTestServer(t *testing.T, scenarioID string) *testServer {
	t.Helper()
	mem := store.NewMemory().WithClock(func() time.Time { return testNow })
	if scenarioID != "" {
		require.NoError(t, LoadScenarioData(context.Background(), mem, scenarioID, testNow))
	}
	h := NewHandler(mem, WithClock(func() time.Time { return testNow }), WithCommitTimeout(time.Second))
	return &testServer{handler: h, router: NewRouter(h), store: mem}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func assertAmount(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got),
		append([]interface{}{"want %s, got %s", want, got.String()}, msgAndArgs...)...)
}

func (ts *testServer) openSettlement(t *testing.T, tenantID string) SettlementDTO {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/tenants/"+tenantID+"/settlements", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[SettlementDTO](t, rec)
}

func (ts *testServer) setCell(t *testing.T, sid, instrumentID, invoiceID, amount string) *httptest.ResponseRecorder {
	t.Helper()
	return ts.do(t, http.MethodPut, "/api/settlements/"+sid+"/allocations", SetAllocationRequest{
		InstrumentID: instrumentID,
		InvoiceID:    invoiceID,
		Amount:       amount,
	})
}

// =============================================================================
// TENANT ENDPOINTS
// =============================================================================

func TestGetTenantBalance(t *testing.T) {
	// GIVEN: The settlement demo (paid 75d, overdue 45d and 15d, pending 10d)
	ts := newTestServer(t, "settlement-demo")

	// WHEN: Fetching the balance
	rec := ts.do(t, http.MethodGet, "/api/tenants/tenant-001/balance", nil)

	// THEN: Paid is tracked separately and aging splits by transaction
	require.Equal(t, http.StatusOK, rec.Code)
	b := decode[TenantBalanceDTO](t, rec)
	assert.Equal(t, "tenant-001", b.TenantID)
	assertAmount(t, "3200", b.OutstandingBalance)
	assertAmount(t, "3000", b.OverdueBalance)
	assertAmount(t, "1500", b.PaidBalance)
	assert.Equal(t, 3, b.TotalInvoices)
	assert.Equal(t, 2, b.OverdueInvoices)
	assert.Equal(t, 45, b.DaysOverdue)
	assertAmount(t, "1700", b.Aging.Days0To30)
	assertAmount(t, "1500", b.Aging.Days30To60)
	assertAmount(t, "0", b.Aging.Days60To90)
	assertAmount(t, "0", b.Aging.Days90Plus)
	assert.NotEmpty(t, b.OldestInvoiceDate)
}

func TestGetTenantBalance_UnknownTenantIsZero(t *testing.T) {
	ts := newTestServer(t, "settlement-demo")

	rec := ts.do(t, http.MethodGet, "/api/tenants/nobody/balance", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	b := decode[TenantBalanceDTO](t, rec)
	assert.Equal(t, "nobody", b.TenantID)
	assertAmount(t, "0", b.OutstandingBalance)
	assert.Empty(t, b.OldestInvoiceDate)
}

func TestListTenantInvoices(t *testing.T) {
	ts := newTestServer(t, "settlement-demo")

	rec := ts.do(t, http.MethodGet, "/api/tenants/tenant-001/invoices", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	invoices := decode[[]InvoiceDTO](t, rec)
	require.Len(t, invoices, 3)
	assert.Equal(t, "tx-rent-2", invoices[0].ID)
	assert.Equal(t, "overdue", invoices[0].Status)
	assert.Equal(t, 45, invoices[0].DaysOverdue)
	assert.Equal(t, "tx-util-1", invoices[2].ID)
	assert.Equal(t, "open", invoices[2].Status)
}

func TestListTenantInstruments(t *testing.T) {
	ts := newTestServer(t, "settlement-demo")

	tests := []struct {
		name   string
		query  string
		status int
		count  int
	}{
		{"all", "", http.StatusOK, 3},
		{"credits", "?kind=credit", http.StatusOK, 1},
		{"deposits", "?kind=deposit", http.StatusOK, 2},
		{"bad kind", "?kind=voucher", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodGet, "/api/tenants/tenant-001/instruments"+tt.query, nil)
			require.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusOK {
				assert.Len(t, decode[[]InstrumentDTO](t, rec), tt.count)
			}
		})
	}
}

// =============================================================================
// SETTLEMENT SESSIONS
// =============================================================================

func TestSettlement_EditAndCommit(t *testing.T) {
	// GIVEN: An open settlement over the demo tenant
	ts := newTestServer(t, "settlement-demo")
	s := ts.openSettlement(t, "tenant-001")
	assert.Equal(t, "empty", s.State)
	assert.False(t, s.CanCommit)
	assert.Len(t, s.Instruments, 3)
	assert.Len(t, s.Invoices, 3)

	// WHEN: Settling the utilities bill with the credit
	rec := ts.setCell(t, s.ID, "cr-goodwill", "tx-util-1", "200")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[SetAllocationResponse](t, rec)
	assertAmount(t, "200", resp.CellMax)
	assert.Equal(t, "editing", resp.Settlement.State)
	assert.True(t, resp.Settlement.CanCommit)

	// AND: Asking for more than the credit has left
	rec = ts.setCell(t, s.ID, "cr-goodwill", "tx-rent-2", "150")

	// THEN: The edit is rejected, not clamped
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	get := decode[SettlementDTO](t, ts.do(t, http.MethodGet, "/api/settlements/"+s.ID, nil))
	assert.Len(t, get.Entries, 1)
	assertAmount(t, "200", get.Total)

	// WHEN: Using exactly what is left plus part of the security deposit
	require.Equal(t, http.StatusOK, ts.setCell(t, s.ID, "cr-goodwill", "tx-rent-2", "100").Code)
	require.Equal(t, http.StatusOK, ts.setCell(t, s.ID, "dep-security", "tx-rent-2", "1000").Code)

	// AND: Committing
	rec = ts.do(t, http.MethodPost, "/api/settlements/"+s.ID+"/commit", nil)

	// THEN: Every cell is written in one commit
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	commit := decode[CommitResponse](t, rec)
	assertAmount(t, "1300", commit.Total)
	assert.Len(t, commit.Records, 3)
	assert.Equal(t, "empty", commit.Settlement.State)
	for _, inst := range commit.Settlement.Instruments {
		if inst.ID == "cr-goodwill" {
			assertAmount(t, "0", inst.Remaining)
		}
	}

	// AND: Refetched balances reflect the commit
	b := decode[TenantBalanceDTO](t, ts.do(t, http.MethodGet, "/api/tenants/tenant-001/balance", nil))
	assertAmount(t, "1900", b.OutstandingBalance)
	assertAmount(t, "1700", b.PaidBalance)
	assert.Equal(t, 2, b.TotalInvoices)

	instruments := decode[[]InstrumentDTO](t, ts.do(t, http.MethodGet, "/api/tenants/tenant-001/instruments", nil))
	for _, inst := range instruments {
		switch inst.ID {
		case "cr-goodwill", "dep-security":
			assertAmount(t, "0", inst.AvailableAmount, inst.ID)
			assert.Equal(t, "exhausted", inst.Status)
		case "dep-pet":
			assertAmount(t, "250", inst.AvailableAmount)
		}
	}

	history := decode[[]AllocationRecordDTO](t, ts.do(t, http.MethodGet, "/api/tenants/tenant-001/allocations", nil))
	assert.Len(t, history, 3)
}

func TestSettlement_ExhaustedInstrumentsAreNotOffered(t *testing.T) {
	ts := newTestServer(t, "settlement-demo")
	s := ts.openSettlement(t, "tenant-001")
	require.Equal(t, http.StatusOK, ts.setCell(t, s.ID, "cr-goodwill", "tx-rent-2", "300").Code)
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/settlements/"+s.ID+"/commit", nil).Code)

	next := ts.openSettlement(t, "tenant-001")

	require.Len(t, next.Instruments, 2)
	for _, inst := range next.Instruments {
		assert.NotEqual(t, "cr-goodwill", inst.ID)
	}
}

func TestSetAllocation_BadInput(t *testing.T) {
	ts := newTestServer(t, "settlement-demo")
	s := ts.openSettlement(t, "tenant-001")

	tests := []struct {
		name       string
		instrument string
		invoice    string
		amount     string
		status     int
	}{
		{"missing amount", "cr-goodwill", "tx-rent-2", "", http.StatusBadRequest},
		{"not a number", "cr-goodwill", "tx-rent-2", "abc", http.StatusBadRequest},
		{"negative", "cr-goodwill", "tx-rent-2", "-5", http.StatusBadRequest},
		{"unknown instrument", "cr-nope", "tx-rent-2", "5", http.StatusNotFound},
		{"paid invoice", "cr-goodwill", "tx-rent-1", "5", http.StatusNotFound},
		{"over invoice", "dep-security", "tx-util-1", "201", http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.setCell(t, s.ID, tt.instrument, tt.invoice, tt.amount)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}

	rec := ts.do(t, http.MethodPut, "/api/settlements/"+s.ID+"/allocations", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSetAllocation_ZeroRemovesCell(t *testing.T) {
	ts := newTestServer(t, "settlement-demo")
	s := ts.openSettlement(t, "tenant-001")
	require.Equal(t, http.StatusOK, ts.setCell(t, s.ID, "dep-pet", "tx-rent-3", "250").Code)

	rec := ts.setCell(t, s.ID, "dep-pet", "tx-rent-3", "0")

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[SetAllocationResponse](t, rec)
	assert.Empty(t, resp.Settlement.Entries)
	assert.Equal(t, "empty", resp.Settlement.State)
	assertAmount(t, "250", resp.CellMax)
}

func TestCommitSettlement_Empty(t *testing.T) {
	ts := newTestServer(t, "settlement-demo")
	s := ts.openSettlement(t, "tenant-001")

	rec := ts.do(t, http.MethodPost, "/api/settlements/"+s.ID+"/commit", nil)

	assert.Equal(t, http.StatusConflict, rec.Code)
	history, err := ts.store.Allocations(context.Background(), "tenant-001")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestCommitSettlement_FailureKeepsProposal(t *testing.T) {
	// GIVEN: A store whose commit fails once
	ts := newTestServer(t, "settlement-demo")
	failures := 1
	ts.store.BeforeApply = func(ctx context.Context, staged []ledger.AllocationRecord) error {
		if failures > 0 {
			failures--
			return errors.New("disk full")
		}
		return nil
	}
	s := ts.openSettlement(t, "tenant-001")
	require.Equal(t, http.StatusOK, ts.setCell(t, s.ID, "dep-security", "tx-rent-2", "500").Code)

	// WHEN: Committing
	rec := ts.do(t, http.MethodPost, "/api/settlements/"+s.ID+"/commit", nil)

	// THEN: The caller sees 502 and the proposal is still there
	require.Equal(t, http.StatusBadGateway, rec.Code)
	get := decode[SettlementDTO](t, ts.do(t, http.MethodGet, "/api/settlements/"+s.ID, nil))
	assert.Equal(t, "editing", get.State)
	require.Len(t, get.Entries, 1)
	assertAmount(t, "500", get.Entries[0].Amount)

	instruments, err := ts.store.Instruments(context.Background(), "tenant-001", ledger.KindDeposit)
	require.NoError(t, err)
	for _, inst := range instruments {
		assertAmount(t, inst.Amount.String(), inst.AvailableAmount, inst.ID)
	}

	// WHEN: Retrying
	rec = ts.do(t, http.MethodPost, "/api/settlements/"+s.ID+"/commit", nil)

	// THEN: It goes through
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestSettlement_BusySessionConflicts(t *testing.T) {
	ts := newTestServer(t, "settlement-demo")
	s := ts.openSettlement(t, "tenant-001")

	held, ok := ts.handler.sessions.get(s.ID)
	require.True(t, ok)
	held.mu.Lock()
	defer held.mu.Unlock()

	rec := ts.setCell(t, s.ID, "dep-pet", "tx-rent-3", "10")

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSettlement_DiscardAndNotFound(t *testing.T) {
	ts := newTestServer(t, "settlement-demo")
	s := ts.openSettlement(t, "tenant-001")
	require.Equal(t, http.StatusOK, ts.setCell(t, s.ID, "dep-pet", "tx-rent-3", "10").Code)

	rec := ts.do(t, http.MethodDelete, "/api/settlements/"+s.ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/settlements/"+s.ID, nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodDelete, "/api/settlements/"+s.ID, nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodPost, "/api/settlements/missing/commit", nil).Code)

	instruments, err := ts.store.Instruments(context.Background(), "tenant-001", ledger.KindDeposit)
	require.NoError(t, err)
	for _, inst := range instruments {
		assertAmount(t, inst.Amount.String(), inst.AvailableAmount, inst.ID)
	}
}

// =============================================================================
// PORTFOLIO ENDPOINTS
// =============================================================================

func TestListBalances(t *testing.T) {
	// GIVEN: Five tenants, one of them fully paid
	ts := newTestServer(t, "delinquent-portfolio")

	// WHEN: Listing tenants with a balance
	rec := ts.do(t, http.MethodGet, "/api/balances?outstanding=true", nil)

	// THEN: The paid tenant is left out and the largest balance comes first
	require.Equal(t, http.StatusOK, rec.Code)
	balances := decode[[]TenantBalanceDTO](t, rec)
	require.Len(t, balances, 4)
	assert.Equal(t, "tenant-103", balances[0].TenantID)
	assertAmount(t, "2600", balances[0].OutstandingBalance)

	all := decode[[]TenantBalanceDTO](t, ts.do(t, http.MethodGet, "/api/balances", nil))
	assert.Len(t, all, 5)

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/balances?outstanding=maybe", nil).Code)
}

func TestGetPortfolioSummary(t *testing.T) {
	ts := newTestServer(t, "delinquent-portfolio")

	rec := ts.do(t, http.MethodGet, "/api/portfolio/summary", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	s := decode[PortfolioSummaryDTO](t, rec)
	assert.Equal(t, 5, s.TotalTenants)
	assertAmount(t, "7975", s.TotalOutstanding)
	assertAmount(t, "2000", s.TotalPaid)
	assertAmount(t, "5825", s.TotalOverdue)
	assertAmount(t, "2150", s.Aging.Days0To30)
	assertAmount(t, "2125", s.Aging.Days30To60)
	assertAmount(t, "2400", s.Aging.Days60To90)
	assertAmount(t, "1300", s.Aging.Days90Plus)
	assert.Equal(t, s.TotalOutstanding.String(),
		s.Aging.Days0To30.Add(s.Aging.Days30To60).Add(s.Aging.Days60To90).Add(s.Aging.Days90Plus).String())

	assert.Equal(t, 1, s.TenantAging.Days0To30)
	assert.Equal(t, 1, s.TenantAging.Days30To60)
	assert.Equal(t, 1, s.TenantAging.Days60To90)
	assert.Equal(t, 1, s.TenantAging.Days90Plus)
}

func TestGetPortfolioSummary_AsOf(t *testing.T) {
	ts := newTestServer(t, "delinquent-portfolio")

	rec := ts.do(t, http.MethodGet, "/api/portfolio/summary?as_of=2025-08-29", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	s := decode[PortfolioSummaryDTO](t, rec)
	assert.Equal(t, "2025-08-29T00:00:00Z", s.AsOf)
	assertAmount(t, "0", s.Aging.Days0To30)

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/portfolio/summary?as_of=someday", nil).Code)
}

func TestListTransactions(t *testing.T) {
	ts := newTestServer(t, "settlement-demo")

	tests := []struct {
		name   string
		query  string
		status int
		ids    []string
	}{
		{"tenant", "?tenant_id=tenant-001", http.StatusOK, []string{"tx-util-1", "tx-rent-3", "tx-rent-2", "tx-rent-1"}},
		{"status", "?status=paid", http.StatusOK, []string{"tx-rent-1"}},
		{"statuses", "?status=overdue,pending", http.StatusOK, []string{"tx-util-1", "tx-rent-3", "tx-rent-2"}},
		{"search", "?q=UTILITIES", http.StatusOK, []string{"tx-util-1"}},
		{"date range", "?from=2025-05-01&to=2025-06-15", http.StatusOK, []string{"tx-rent-3", "tx-rent-2"}},
		{"bad status", "?status=late", http.StatusBadRequest, nil},
		{"bad date", "?from=yesterday", http.StatusBadRequest, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodGet, "/api/transactions"+tt.query, nil)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.status != http.StatusOK {
				return
			}
			entries := decode[[]LedgerEntryDTO](t, rec)
			ids := make([]string, len(entries))
			for i, e := range entries {
				ids[i] = e.ID
			}
			assert.Equal(t, tt.ids, ids)
		})
	}
}

func TestListTransactions_RunningBalance(t *testing.T) {
	// GIVEN: Four charges of 1500, 1500, 1500 and 200
	ts := newTestServer(t, "settlement-demo")

	// WHEN: Listing the tenant ledger
	entries := decode[[]LedgerEntryDTO](t, ts.do(t, http.MethodGet, "/api/transactions?tenant_id=tenant-001", nil))

	// THEN: The newest row carries the full running total, the oldest its own amount
	require.Len(t, entries, 4)
	assertAmount(t, "4700", entries[0].RunningBalance)
	assertAmount(t, "1500", entries[3].RunningBalance)
}

func TestRouter_Metrics(t *testing.T) {
	ts := newTestServer(t, "settlement-demo")
	ts.openSettlement(t, "tenant-001")

	rec := ts.do(t, http.MethodGet, "/metrics", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "ledger_settlement_sessions_opened_total"))
}
