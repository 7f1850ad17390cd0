/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built data sets that populate the store with realistic
	tenant ledgers. Dates are relative to the load time so aging buckets
	stay meaningful whenever the scenario is loaded.

AVAILABLE SCENARIOS:

	settlement-demo:      One tenant with open invoices, a credit and a deposit
	delinquent-portfolio: Tenants spread over every aging bucket
	property-ledger:      Income and expenses over two properties

HOW SCENARIOS WORK:
 1. Reset the store (clear all data)
 2. Write transactions
 3. Write credits and deposits

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "settlement-demo"}

USAGE VIA CLI:

	server seed --scenario settlement-demo

NOTE:

	Scenarios reset the store and drop every open settlement session.
	Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Ledger handlers
  - cmd/server/main.go: seed command
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/warp/tenant-ledger/ledger"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "settlement-demo",
		Name:        "Settlement Demo",
		Description: "One tenant with overdue rent, a goodwill credit and a security deposit",
	},
	{
		ID:          "delinquent-portfolio",
		Name:        "Delinquent Portfolio",
		Description: "Five tenants covering every aging bucket, one fully paid",
	},
	{
		ID:          "property-ledger",
		Name:        "Property Ledger",
		Description: "Rent income and maintenance expenses over two properties",
	},
}

var scenarioLoaders = map[string]func(b *scenarioBuilder){
	"settlement-demo":      buildSettlementDemo,
	"delinquent-portfolio": buildDelinquentPortfolio,
	"property-ledger":      buildPropertyLedger,
}

// Scenarios lists the available demo data sets.
func Scenarios() []ScenarioDTO {
	return append([]ScenarioDTO(nil), scenarios...)
}

// LoadScenarioData resets store and writes the named scenario with dates
// relative to asOf.
func LoadScenarioData(ctx context.Context, store Backend, scenarioID string, asOf time.Time) error {
	build, ok := scenarioLoaders[scenarioID]
	if !ok {
		return fmt.Errorf("unknown scenario %q", scenarioID)
	}

	b := &scenarioBuilder{asOf: asOf}
	build(b)

	if err := store.Reset(ctx); err != nil {
		return fmt.Errorf("failed to reset store: %w", err)
	}
	for _, tx := range b.transactions {
		if err := store.SaveTransaction(ctx, tx); err != nil {
			return err
		}
	}
	for _, inst := range b.instruments {
		if err := store.SaveInstrument(ctx, inst); err != nil {
			return err
		}
	}

	logrus.WithFields(logrus.Fields{
		"scenario":     scenarioID,
		"transactions": len(b.transactions),
		"instruments":  len(b.instruments),
	}).Info("scenario loaded")
	return nil
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	current := h.currentScenario
	h.mu.RUnlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "Unknown scenario", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.currentScenario = ""
	h.sessions.clear()

	if err := LoadScenarioData(r.Context(), h.Store, req.ScenarioID, h.now()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}
	h.currentScenario = req.ScenarioID

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// =============================================================================
// SCENARIO BUILDER
// =============================================================================

type scenarioBuilder struct {
	asOf         time.Time
	transactions []ledger.Transaction
	instruments  []ledger.Instrument
}

// daysAgo returns midnight UTC n days before asOf.
func (b *scenarioBuilder) daysAgo(n int) time.Time {
	d := b.asOf.UTC().AddDate(0, 0, -n)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
}

// charge adds an income transaction due n days ago, created a week before it.
func (b *scenarioBuilder) charge(id, tenantID, propertyID, category, amount string, dueDaysAgo int, status ledger.TransactionStatus) {
	due := b.daysAgo(dueDaysAgo)
	tx := ledger.Transaction{
		ID:          id,
		TenantID:    tenantID,
		PropertyID:  propertyID,
		Type:        ledger.TypeIncome,
		Amount:      decimal.RequireFromString(amount),
		Status:      status,
		Category:    category,
		Description: fmt.Sprintf("%s %s", category, due.Format("Jan 2006")),
		DueDate:     &due,
		CreatedAt:   due.AddDate(0, 0, -7),
	}
	if status == ledger.StatusPaid {
		paid := due.AddDate(0, 0, -1)
		tx.PaidDate = &paid
	}
	b.transactions = append(b.transactions, tx)
}

// expense adds a paid expense without a due date.
func (b *scenarioBuilder) expense(id, tenantID, propertyID, category, description, amount string, daysAgo int) {
	created := b.daysAgo(daysAgo)
	b.transactions = append(b.transactions, ledger.Transaction{
		ID:          id,
		TenantID:    tenantID,
		PropertyID:  propertyID,
		Type:        ledger.TypeExpense,
		Amount:      decimal.RequireFromString(amount),
		Status:      ledger.StatusPaid,
		Category:    category,
		Description: description,
		CreatedAt:   created,
		PaidDate:    &created,
	})
}

func (b *scenarioBuilder) credit(id, tenantID, amount, reason string, daysAgo int) {
	b.instruments = append(b.instruments, ledger.Instrument{
		ID:              id,
		TenantID:        tenantID,
		Kind:            ledger.KindCredit,
		Amount:          decimal.RequireFromString(amount),
		AvailableAmount: decimal.RequireFromString(amount),
		Status:          ledger.InstrumentAvailable,
		Credit:          &ledger.CreditDetails{Reason: reason, CreatedDate: b.daysAgo(daysAgo)},
	})
}

func (b *scenarioBuilder) deposit(id, tenantID, amount string, kind ledger.DepositType, description string, daysAgo int) {
	b.instruments = append(b.instruments, ledger.Instrument{
		ID:              id,
		TenantID:        tenantID,
		Kind:            ledger.KindDeposit,
		Amount:          decimal.RequireFromString(amount),
		AvailableAmount: decimal.RequireFromString(amount),
		Status:          ledger.InstrumentHeld,
		Deposit:         &ledger.DepositDetails{Type: kind, Description: description, ReceivedDate: b.daysAgo(daysAgo)},
	})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func buildSettlementDemo(b *scenarioBuilder) {
	b.charge("tx-rent-1", "tenant-001", "prop-001", "rent", "1500", 75, ledger.StatusPaid)
	b.charge("tx-rent-2", "tenant-001", "prop-001", "rent", "1500", 45, ledger.StatusOverdue)
	b.charge("tx-rent-3", "tenant-001", "prop-001", "rent", "1500", 15, ledger.StatusOverdue)
	b.charge("tx-util-1", "tenant-001", "prop-001", "utilities", "200", 10, ledger.StatusPending)

	b.credit("cr-goodwill", "tenant-001", "300", "Goodwill credit for HVAC outage", 20)
	b.deposit("dep-security", "tenant-001", "1000", ledger.DepositSecurity, "Security deposit", 400)
	b.deposit("dep-pet", "tenant-001", "250", ledger.DepositPet, "Pet deposit", 400)
}

func buildDelinquentPortfolio(b *scenarioBuilder) {
	b.charge("tx-t100-1", "tenant-100", "prop-010", "rent", "1200", 5, ledger.StatusPending)

	b.charge("tx-t101-1", "tenant-101", "prop-010", "rent", "950", 40, ledger.StatusOverdue)
	b.charge("tx-t101-2", "tenant-101", "prop-010", "rent", "950", 10, ledger.StatusPending)

	b.charge("tx-t102-1", "tenant-102", "prop-011", "rent", "1100", 70, ledger.StatusOverdue)
	b.charge("tx-t102-2", "tenant-102", "prop-011", "rent", "1100", 40, ledger.StatusOverdue)
	b.charge("tx-t102-3", "tenant-102", "prop-011", "late_fee", "75", 40, ledger.StatusOverdue)

	b.charge("tx-t103-1", "tenant-103", "prop-012", "rent", "1300", 120, ledger.StatusOverdue)
	b.charge("tx-t103-2", "tenant-103", "prop-012", "rent", "1300", 90, ledger.StatusOverdue)
	b.charge("tx-t103-3", "tenant-103", "prop-012", "rent", "1300", 60, ledger.StatusCancelled)

	b.charge("tx-t104-1", "tenant-104", "prop-012", "rent", "1000", 35, ledger.StatusPaid)
	b.charge("tx-t104-2", "tenant-104", "prop-012", "rent", "1000", 5, ledger.StatusPaid)

	b.credit("cr-t102-concession", "tenant-102", "150", "Rent concession", 30)
	b.deposit("dep-t103-security", "tenant-103", "1300", ledger.DepositSecurity, "Security deposit", 500)
}

func buildPropertyLedger(b *scenarioBuilder) {
	for month := 0; month < 4; month++ {
		daysAgo := 30*month + 1
		status := ledger.StatusPaid
		if month == 0 {
			status = ledger.StatusPending
		}
		b.charge(fmt.Sprintf("tx-a-rent-%d", month), "tenant-201", "prop-100", "rent", "1800", daysAgo, status)
		b.charge(fmt.Sprintf("tx-b-rent-%d", month), "tenant-202", "prop-200", "rent", "1400", daysAgo, status)
	}
	b.expense("tx-a-plumbing", "tenant-201", "prop-100", "maintenance", "Kitchen sink plumbing repair", "320", 50)
	b.expense("tx-b-paint", "tenant-202", "prop-200", "maintenance", "Hallway repaint", "600", 80)
	b.expense("tx-b-refund", "tenant-202", "prop-200", "refund", "Overpayment refund", "100", 20)
}
