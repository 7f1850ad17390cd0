/*
handlers.go - HTTP API handlers for the tenant ledger

PURPOSE:
  Exposes the ledger engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the ledger package.

ENDPOINTS:
  Tenants:
    GET    /api/tenants/{id}/balance      Aggregate balance with aging
    GET    /api/tenants/{id}/invoices     Outstanding invoices
    GET    /api/tenants/{id}/instruments  Credits and deposits (?kind=)
    GET    /api/tenants/{id}/allocations  Committed allocation history
    POST   /api/tenants/{id}/settlements  Open a settlement session

  Settlements:
    GET    /api/settlements/{sid}             Session snapshot
    PUT    /api/settlements/{sid}/allocations Set one proposal cell
    POST   /api/settlements/{sid}/commit      Commit the proposal
    DELETE /api/settlements/{sid}             Discard, no external effect

  Portfolio:
    GET    /api/balances           Balances per tenant (?outstanding=true)
    GET    /api/portfolio/summary  Money and tenant aging (?as_of=)
    GET    /api/transactions       Running balance view

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store: record store (SQLite in production, memory in tests)
  - now: clock used as asOf for every aggregation
  - sessions: open settlement sessions

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Unknown session, instrument or invoice
  - 409: Empty proposal, session busy
  - 422: Allocation above headroom
  - 502: Commit failed at the store; the proposal is kept for retry
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - sessions.go: Settlement session registry
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"github.com/warp/tenant-ledger/ledger"
	"github.com/warp/tenant-ledger/metrics"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Backend is the record store plus the back-office writes scenarios need.
type Backend interface {
	ledger.Store
	SaveTransaction(ctx context.Context, tx ledger.Transaction) error
	SaveInstrument(ctx context.Context, inst ledger.Instrument) error
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store Backend

	now           func() time.Time
	commitTimeout time.Duration
	corsOrigins   []string
	sessions      *sessionRegistry

	mu              sync.RWMutex
	currentScenario string
}

type Option func(*Handler)

// WithClock fixes the asOf used by aggregations. Tests pin it.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// WithCommitTimeout bounds each settlement commit.
func WithCommitTimeout(d time.Duration) Option {
	return func(h *Handler) { h.commitTimeout = d }
}

// WithCORSOrigins replaces the default allowed origins.
func WithCORSOrigins(origins []string) Option {
	return func(h *Handler) { h.corsOrigins = origins }
}

// NewHandler creates a new handler with the given store.
func NewHandler(store Backend, opts ...Option) *Handler {
	h := &Handler{
		Store:         store,
		now:           func() time.Time { return time.Now().UTC() },
		commitTimeout: ledger.DefaultCommitTimeout,
		corsOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		sessions:      newSessionRegistry(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// =============================================================================
// TENANT HANDLERS
// =============================================================================

// GetTenantBalance returns the aggregate balance of one tenant.
func (h *Handler) GetTenantBalance(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "id")

	txs, err := h.Store.Transactions(r.Context(), ledger.TransactionQuery{TenantID: tenantID})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load transactions", err)
		return
	}

	balance := ledger.AggregateTenantBalance(txs, h.now())
	balance.TenantID = tenantID
	writeJSON(w, http.StatusOK, toTenantBalanceDTO(balance))
}

// ListTenantInvoices returns the tenant's open and overdue invoices, oldest due first.
func (h *Handler) ListTenantInvoices(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "id")

	invoices, err := ledger.OpenInvoices(r.Context(), h.Store, tenantID, h.now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load invoices", err)
		return
	}

	dtos := make([]InvoiceDTO, len(invoices))
	for i, inv := range invoices {
		dtos[i] = toInvoiceDTO(inv)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListTenantInstruments returns credits and deposits, optionally one kind only.
func (h *Handler) ListTenantInstruments(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "id")

	kind := ledger.InstrumentKind(r.URL.Query().Get("kind"))
	switch kind {
	case "", ledger.KindCredit, ledger.KindDeposit:
	default:
		writeError(w, http.StatusBadRequest, "Invalid kind", fmt.Errorf("unknown instrument kind %q", kind))
		return
	}

	instruments, err := h.Store.Instruments(r.Context(), tenantID, kind)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load instruments", err)
		return
	}

	dtos := make([]InstrumentDTO, len(instruments))
	for i, inst := range instruments {
		dtos[i] = toInstrumentDTO(inst)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListTenantAllocations returns committed allocations, oldest first.
func (h *Handler) ListTenantAllocations(w http.ResponseWriter, r *http.Request) {
	records, err := h.Store.Allocations(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load allocations", err)
		return
	}
	writeJSON(w, http.StatusOK, toAllocationRecordDTOs(records))
}

// =============================================================================
// SETTLEMENT HANDLERS
// =============================================================================

// OpenSettlement starts a settlement session over the tenant's instruments
// with money left and its outstanding invoices.
func (h *Handler) OpenSettlement(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := chi.URLParam(r, "id")

	all, err := h.Store.Instruments(ctx, tenantID, "")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load instruments", err)
		return
	}
	instruments := make([]ledger.Instrument, 0, len(all))
	for _, inst := range all {
		if inst.AvailableAmount.IsPositive() {
			instruments = append(instruments, inst)
		}
	}

	invoices, err := ledger.OpenInvoices(ctx, h.Store, tenantID, h.now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load invoices", err)
		return
	}

	proposal, err := ledger.NewProposal(tenantID, instruments, invoices)
	if err != nil {
		writeLedgerError(w, "Failed to open settlement", err)
		return
	}

	session := ledger.NewSession(proposal, h.Store, ledger.WithCommitTimeout(h.commitTimeout))
	s := h.sessions.open(tenantID, session, h.now())
	metrics.SessionsOpened.Inc()

	logrus.WithFields(logrus.Fields{
		"settlement_id": s.id,
		"tenant_id":     tenantID,
		"instruments":   len(instruments),
		"invoices":      len(invoices),
	}).Info("settlement opened")

	writeJSON(w, http.StatusCreated, s.snapshot())
}

// GetSettlement returns the current state of a session.
func (h *Handler) GetSettlement(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lockSettlement(w, r)
	if !ok {
		return
	}
	defer s.mu.Unlock()

	writeJSON(w, http.StatusOK, s.snapshot())
}

// SetAllocation sets one cell of the proposal. Over-limit amounts are
// rejected with the maximum in the error details, never clamped.
func (h *Handler) SetAllocation(w http.ResponseWriter, r *http.Request) {
	var req SetAllocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid allocation", err)
		return
	}
	amount, err := ledger.ParseAmount(req.InstrumentID, req.InvoiceID, req.Amount)
	if err != nil {
		metrics.ObserveRejection(err)
		writeLedgerError(w, "Invalid allocation", err)
		return
	}

	s, ok := h.lockSettlement(w, r)
	if !ok {
		return
	}
	defer s.mu.Unlock()

	if err := s.session.SetAllocation(req.InstrumentID, req.InvoiceID, amount); err != nil {
		metrics.ObserveRejection(err)
		writeLedgerError(w, "Allocation rejected", err)
		return
	}

	cellMax, err := s.session.Proposal().CellMax(req.InstrumentID, req.InvoiceID)
	if err != nil {
		writeLedgerError(w, "Allocation rejected", err)
		return
	}
	writeJSON(w, http.StatusOK, SetAllocationResponse{
		Settlement: s.snapshot(),
		CellMax:    cellMax,
	})
}

// CommitSettlement writes the proposal in one atomic store call.
func (h *Handler) CommitSettlement(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lockSettlement(w, r)
	if !ok {
		return
	}
	defer s.mu.Unlock()

	entries := s.session.Proposal().Len()
	started := time.Now()
	receipt, err := s.session.Commit(r.Context())
	metrics.ObserveCommit(started, err)

	log := logrus.WithFields(logrus.Fields{
		"settlement_id": s.id,
		"tenant_id":     s.tenantID,
		"entries":       entries,
		"duration":      time.Since(started),
	})
	if err != nil {
		log.WithError(err).Warn("settlement commit failed")
		writeLedgerError(w, "Commit failed", err)
		return
	}
	log.WithFields(logrus.Fields{
		"commit_id": receipt.CommitID,
		"total":     receipt.Total.String(),
	}).Info("settlement committed")

	writeJSON(w, http.StatusOK, CommitResponse{
		CommitID:    receipt.CommitID,
		TenantID:    receipt.TenantID,
		CommittedAt: formatDate(receipt.CommittedAt),
		Total:       receipt.Total,
		Records:     toAllocationRecordDTOs(receipt.Records),
		Settlement:  s.snapshot(),
	})
}

// DiscardSettlement drops the session without touching the store.
func (h *Handler) DiscardSettlement(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lockSettlement(w, r)
	if !ok {
		return
	}
	defer s.mu.Unlock()

	s.session.Discard()
	h.sessions.remove(s.id)
	w.WriteHeader(http.StatusNoContent)
}

// lockSettlement resolves {sid} and takes the session lock without waiting.
func (h *Handler) lockSettlement(w http.ResponseWriter, r *http.Request) (*settlement, bool) {
	id := chi.URLParam(r, "sid")
	s, ok := h.sessions.get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "Settlement not found", fmt.Errorf("settlement %s", id))
		return nil, false
	}
	if !s.mu.TryLock() {
		writeError(w, http.StatusConflict, "Settlement busy", ledger.ErrCommitInProgress)
		return nil, false
	}
	return s, true
}

// =============================================================================
// PORTFOLIO HANDLERS
// =============================================================================

// ListBalances returns every tenant's balance, largest outstanding first.
func (h *Handler) ListBalances(w http.ResponseWriter, r *http.Request) {
	outstandingOnly := false
	if raw := r.URL.Query().Get("outstanding"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid outstanding flag", err)
			return
		}
		outstandingOnly = v
	}

	txs, err := h.Store.Transactions(r.Context(), ledger.TransactionQuery{})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load transactions", err)
		return
	}

	balances := ledger.BalancesByTenant(txs, h.now())
	if outstandingOnly {
		balances = ledger.WithOutstanding(balances)
	}

	dtos := make([]TenantBalanceDTO, len(balances))
	for i, b := range balances {
		dtos[i] = toTenantBalanceDTO(b)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetPortfolioSummary returns money per aging bucket and tenants per bucket.
func (h *Handler) GetPortfolioSummary(w http.ResponseWriter, r *http.Request) {
	asOf := h.now()
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		t, err := parseDateParam(raw, false)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid as_of", err)
			return
		}
		asOf = t
	}

	txs, err := h.Store.Transactions(r.Context(), ledger.TransactionQuery{})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load transactions", err)
		return
	}

	summary := ledger.SummarizePortfolio(txs, asOf)
	tenants := ledger.BucketTenants(ledger.BalancesByTenant(txs, asOf))
	metrics.ObservePortfolio(summary)

	writeJSON(w, http.StatusOK, toPortfolioSummaryDTO(summary, tenants, asOf))
}

// ListTransactions returns the running-balance view, most recent first.
//
// Query: tenant_id, property_id, status (comma separated), from, to (dates,
// inclusive), q (free text).
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	filter, err := parseRunningBalanceFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid filter", err)
		return
	}

	txs, err := h.Store.Transactions(r.Context(), ledger.TransactionQuery{
		TenantID:   filter.TenantID,
		PropertyID: filter.PropertyID,
		Statuses:   filter.Statuses,
		From:       filter.From,
		To:         filter.To,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load transactions", err)
		return
	}

	entries := ledger.BuildRunningBalance(txs, filter)
	dtos := make([]LedgerEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toLedgerEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func parseRunningBalanceFilter(r *http.Request) (ledger.RunningBalanceFilter, error) {
	q := r.URL.Query()
	filter := ledger.RunningBalanceFilter{
		TenantID:   q.Get("tenant_id"),
		PropertyID: q.Get("property_id"),
		Search:     q.Get("q"),
	}

	if raw := q.Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			status := ledger.TransactionStatus(strings.TrimSpace(part))
			switch status {
			case ledger.StatusPending, ledger.StatusPaid, ledger.StatusOverdue, ledger.StatusCancelled:
				filter.Statuses = append(filter.Statuses, status)
			default:
				return filter, fmt.Errorf("unknown status %q", part)
			}
		}
	}
	if raw := q.Get("from"); raw != "" {
		t, err := parseDateParam(raw, false)
		if err != nil {
			return filter, fmt.Errorf("from: %w", err)
		}
		filter.From = &t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := parseDateParam(raw, true)
		if err != nil {
			return filter, fmt.Errorf("to: %w", err)
		}
		filter.To = &t
	}
	return filter, nil
}

// parseDateParam accepts RFC 3339 or YYYY-MM-DD. A bare date used as an upper
// bound covers the whole day.
func parseDateParam(raw string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (use YYYY-MM-DD or RFC 3339)", raw)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeLedgerError maps ledger errors to HTTP status codes.
func writeLedgerError(w http.ResponseWriter, message string, err error) {
	writeError(w, statusFor(err), message, err)
}

func statusFor(err error) int {
	var capacity *ledger.CapacityExceededError
	switch {
	case errors.Is(err, ledger.ErrCommitFailed):
		return http.StatusBadGateway
	case errors.As(err, &capacity):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, ledger.ErrTenantMismatch):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrEmptyProposal), errors.Is(err, ledger.ErrCommitInProgress):
		return http.StatusConflict
	case ledger.IsNotFound(err):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
