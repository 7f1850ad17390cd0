/*
scenarios_test.go - Tests for demo scenarios

PURPOSE:
	Each scenario must load into an empty or populated store and produce
	the balances the demo relies on. Loading through the API also drops
	open settlement sessions.
*/
package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/tenant-ledger/ledger"
	"github.com/warp/tenant-ledger/ledger/store"
)

func TestLoadScenarioData_AllScenarios(t *testing.T) {
	for _, sc := range Scenarios() {
		t.Run(sc.ID, func(t *testing.T) {
			mem := store.NewMemory()

			err := LoadScenarioData(context.Background(), mem, sc.ID, testNow)

			require.NoError(t, err)
			txs, err := mem.Transactions(context.Background(), ledger.TransactionQuery{})
			require.NoError(t, err)
			assert.NotEmpty(t, txs)
		})
	}
}

func TestLoadScenarioData_Unknown(t *testing.T) {
	err := LoadScenarioData(context.Background(), store.NewMemory(), "no-such-scenario", testNow)
	assert.Error(t, err)
}

func TestLoadScenarioData_ReplacesPreviousData(t *testing.T) {
	// GIVEN: A store holding the settlement demo
	mem := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, LoadScenarioData(ctx, mem, "settlement-demo", testNow))

	// WHEN: Loading another scenario
	require.NoError(t, LoadScenarioData(ctx, mem, "property-ledger", testNow))

	// THEN: Nothing of the first one is left
	txs, err := mem.Transactions(ctx, ledger.TransactionQuery{TenantID: "tenant-001"})
	require.NoError(t, err)
	assert.Empty(t, txs)
	instruments, err := mem.Instruments(ctx, "tenant-001", "")
	require.NoError(t, err)
	assert.Empty(t, instruments)
}

func TestScenario_PropertyLedger(t *testing.T) {
	// GIVEN: Four months of rent at 1400 and two expenses on prop-200
	ts := newTestServer(t, "property-ledger")

	// WHEN: Listing the property ledger
	entries := decode[[]LedgerEntryDTO](t, ts.do(t, http.MethodGet, "/api/transactions?property_id=prop-200", nil))

	// THEN: Expenses reduce the running balance
	require.Len(t, entries, 6)
	assert.Equal(t, "tx-b-rent-0", entries[0].ID)
	assertAmount(t, "4900", entries[0].RunningBalance)
}

func TestScenarioEndpoints(t *testing.T) {
	ts := newTestServer(t, "")

	// List
	rec := ts.do(t, http.MethodGet, "/api/scenarios/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]ScenarioDTO](t, rec), len(Scenarios()))

	// Nothing loaded yet
	rec = ts.do(t, http.MethodGet, "/api/scenarios/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "null", rec.Body.String())

	// Unknown and missing ids are rejected
	assert.Equal(t, http.StatusBadRequest,
		ts.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"}).Code)
	assert.Equal(t, http.StatusBadRequest,
		ts.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{}).Code)

	// Load
	rec = ts.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "settlement-demo"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	current := decode[ScenarioDTO](t, ts.do(t, http.MethodGet, "/api/scenarios/current", nil))
	assert.Equal(t, "settlement-demo", current.ID)
}

func TestLoadScenario_DropsOpenSessions(t *testing.T) {
	// GIVEN: An open settlement
	ts := newTestServer(t, "settlement-demo")
	s := ts.openSettlement(t, "tenant-001")
	require.Equal(t, 1, ts.handler.sessions.count())

	// WHEN: Reloading the data
	rec := ts.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "delinquent-portfolio"})
	require.Equal(t, http.StatusOK, rec.Code)

	// THEN: The session is gone
	assert.Equal(t, 0, ts.handler.sessions.count())
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/settlements/"+s.ID, nil).Code)
}
