/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger package from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY:
  Amounts are decimal.Decimal, which marshals as a JSON string ("125.50").
  Request amounts are strings and are parsed with ledger.ParseAmount so that
  bad input surfaces as a ledger.ValidationError.

DATES:
  Dates are RFC 3339 strings in UTC. Optional dates are omitted when unset.

VALIDATION:
  Request types carry Validate() built on ozzo-validation. Handlers call it
  before touching the ledger.

SEE ALSO:
  - handlers.go: Uses these types
  - sessions.go: Settlement session registry
*/
package api

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"
	"github.com/warp/tenant-ledger/ledger"
)

// =============================================================================
// BALANCES
// =============================================================================

type AgingDTO struct {
	Days0To30  decimal.Decimal `json:"days_0_30"`
	Days30To60 decimal.Decimal `json:"days_30_60"`
	Days60To90 decimal.Decimal `json:"days_60_90"`
	Days90Plus decimal.Decimal `json:"days_90_plus"`
}

// TenantBalanceDTO represents one tenant's aggregate balance.
type TenantBalanceDTO struct {
	TenantID           string          `json:"tenant_id"`
	OutstandingBalance decimal.Decimal `json:"outstanding_balance"`
	PaidBalance        decimal.Decimal `json:"paid_balance"`
	OverdueBalance     decimal.Decimal `json:"overdue_balance"`
	TotalInvoices      int             `json:"total_invoices"`
	OverdueInvoices    int             `json:"overdue_invoices"`
	OldestInvoiceDate  string          `json:"oldest_invoice_date,omitempty"`
	DaysOverdue        int             `json:"days_overdue"`
	Aging              AgingDTO        `json:"aging"`
}

type TenantAgingDTO struct {
	Days0To30  int `json:"days_0_30"`
	Days30To60 int `json:"days_30_60"`
	Days60To90 int `json:"days_60_90"`
	Days90Plus int `json:"days_90_plus"`
}

// PortfolioSummaryDTO is the portfolio-wide rollup plus tenant counts per bucket.
type PortfolioSummaryDTO struct {
	AsOf             string          `json:"as_of"`
	TotalOutstanding decimal.Decimal `json:"total_outstanding"`
	TotalPaid        decimal.Decimal `json:"total_paid"`
	TotalOverdue     decimal.Decimal `json:"total_overdue"`
	TotalTenants     int             `json:"total_tenants"`
	Aging            AgingDTO        `json:"aging"`
	TenantAging      TenantAgingDTO  `json:"tenant_aging"`
}

// =============================================================================
// TRANSACTIONS & INVOICES
// =============================================================================

// LedgerEntryDTO is one row of the running-balance view.
type LedgerEntryDTO struct {
	ID             string          `json:"id"`
	TenantID       string          `json:"tenant_id"`
	PropertyID     string          `json:"property_id,omitempty"`
	Type           string          `json:"type"`
	Amount         decimal.Decimal `json:"amount"`
	SettledAmount  decimal.Decimal `json:"settled_amount"`
	Status         string          `json:"status"`
	Category       string          `json:"category,omitempty"`
	Description    string          `json:"description,omitempty"`
	DueDate        string          `json:"due_date,omitempty"`
	CreatedAt      string          `json:"created_at"`
	PaidDate       string          `json:"paid_date,omitempty"`
	RunningBalance decimal.Decimal `json:"running_balance"`
}

type InvoiceDTO struct {
	ID                string          `json:"id"`
	TenantID          string          `json:"tenant_id"`
	PropertyID        string          `json:"property_id,omitempty"`
	Category          string          `json:"category,omitempty"`
	Amount            decimal.Decimal `json:"amount"`
	OutstandingAmount decimal.Decimal `json:"outstanding_amount"`
	DueDate           string          `json:"due_date"`
	DaysOverdue       int             `json:"days_overdue"`
	Status            string          `json:"status"`
}

// =============================================================================
// INSTRUMENTS & ALLOCATIONS
// =============================================================================

type InstrumentDTO struct {
	ID              string          `json:"id"`
	TenantID        string          `json:"tenant_id"`
	Kind            string          `json:"kind"`
	Amount          decimal.Decimal `json:"amount"`
	AvailableAmount decimal.Decimal `json:"available_amount"`
	Status          string          `json:"status"`

	// credit
	Reason      string `json:"reason,omitempty"`
	CreatedDate string `json:"created_date,omitempty"`
	ExpiresDate string `json:"expires_date,omitempty"`

	// deposit
	DepositType  string `json:"deposit_type,omitempty"`
	Description  string `json:"description,omitempty"`
	ReceivedDate string `json:"received_date,omitempty"`
}

type AllocationDTO struct {
	InstrumentID string          `json:"instrument_id"`
	InvoiceID    string          `json:"invoice_id"`
	Amount       decimal.Decimal `json:"amount"`
}

type AllocationRecordDTO struct {
	ID             string          `json:"id"`
	CommitID       string          `json:"commit_id"`
	TenantID       string          `json:"tenant_id"`
	InstrumentID   string          `json:"instrument_id"`
	InstrumentKind string          `json:"instrument_kind"`
	InvoiceID      string          `json:"invoice_id"`
	Amount         decimal.Decimal `json:"amount"`
	CreatedAt      string          `json:"created_at"`
}

// =============================================================================
// SETTLEMENT SESSIONS
// =============================================================================

type SettlementInstrumentDTO struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	Allocated decimal.Decimal `json:"allocated"`
	Remaining decimal.Decimal `json:"remaining"`
}

type SettlementInvoiceDTO struct {
	ID        string          `json:"id"`
	Allocated decimal.Decimal `json:"allocated"`
	Remaining decimal.Decimal `json:"remaining"`
}

// SettlementDTO is a snapshot of one settlement session.
type SettlementDTO struct {
	ID          string                    `json:"id"`
	TenantID    string                    `json:"tenant_id"`
	State       string                    `json:"state"`
	CanCommit   bool                      `json:"can_commit"`
	Total       decimal.Decimal           `json:"total"`
	OpenedAt    string                    `json:"opened_at"`
	Instruments []SettlementInstrumentDTO `json:"instruments"`
	Invoices    []SettlementInvoiceDTO    `json:"invoices"`
	Entries     []AllocationDTO           `json:"entries"`
}

// SetAllocationRequest sets one proposal cell. "0" removes the cell.
type SetAllocationRequest struct {
	InstrumentID string `json:"instrument_id"`
	InvoiceID    string `json:"invoice_id"`
	Amount       string `json:"amount"`
}

func (r *SetAllocationRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.InstrumentID, validation.Required),
		validation.Field(&r.InvoiceID, validation.Required),
		validation.Field(&r.Amount, validation.Required),
	)
}

// SetAllocationResponse returns the session together with the edited cell's
// new maximum.
type SetAllocationResponse struct {
	Settlement SettlementDTO   `json:"settlement"`
	CellMax    decimal.Decimal `json:"cell_max"`
}

// CommitResponse is returned after a successful commit. Balances derived
// earlier are stale; clients refetch them.
type CommitResponse struct {
	CommitID    string                `json:"commit_id"`
	TenantID    string                `json:"tenant_id"`
	CommittedAt string                `json:"committed_at"`
	Total       decimal.Decimal       `json:"total"`
	Records     []AllocationRecordDTO `json:"records"`
	Settlement  SettlementDTO         `json:"settlement"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

func (r *LoadScenarioRequest) Validate() error {
	ids := make([]interface{}, len(scenarios))
	for i, s := range scenarios {
		ids[i] = s.ID
	}
	return validation.ValidateStruct(r,
		validation.Field(&r.ScenarioID, validation.Required, validation.In(ids...)),
	)
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func formatDate(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatOptionalDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatDate(*t)
}

func toAgingDTO(a ledger.AgingBuckets) AgingDTO {
	return AgingDTO{
		Days0To30:  a.Days0To30,
		Days30To60: a.Days30To60,
		Days60To90: a.Days60To90,
		Days90Plus: a.Days90Plus,
	}
}

func toTenantBalanceDTO(b ledger.TenantBalance) TenantBalanceDTO {
	return TenantBalanceDTO{
		TenantID:           b.TenantID,
		OutstandingBalance: b.OutstandingBalance,
		PaidBalance:        b.PaidBalance,
		OverdueBalance:     b.OverdueBalance,
		TotalInvoices:      b.TotalInvoices,
		OverdueInvoices:    b.OverdueInvoices,
		OldestInvoiceDate:  formatOptionalDate(b.OldestInvoiceDate),
		DaysOverdue:        b.DaysOverdue,
		Aging:              toAgingDTO(b.Aging),
	}
}

func toPortfolioSummaryDTO(s ledger.PortfolioSummary, tenants ledger.TenantAging, asOf time.Time) PortfolioSummaryDTO {
	return PortfolioSummaryDTO{
		AsOf:             formatDate(asOf),
		TotalOutstanding: s.TotalOutstanding,
		TotalPaid:        s.TotalPaid,
		TotalOverdue:     s.TotalOverdue,
		TotalTenants:     s.TotalTenants,
		Aging:            toAgingDTO(s.Aging),
		TenantAging: TenantAgingDTO{
			Days0To30:  tenants.Days0To30,
			Days30To60: tenants.Days30To60,
			Days60To90: tenants.Days60To90,
			Days90Plus: tenants.Days90Plus,
		},
	}
}

func toLedgerEntryDTO(e ledger.LedgerEntry) LedgerEntryDTO {
	return LedgerEntryDTO{
		ID:             e.ID,
		TenantID:       e.TenantID,
		PropertyID:     e.PropertyID,
		Type:           string(e.Type),
		Amount:         e.Amount,
		SettledAmount:  e.SettledAmount,
		Status:         string(e.Status),
		Category:       e.Category,
		Description:    e.Description,
		DueDate:        formatOptionalDate(e.DueDate),
		CreatedAt:      formatDate(e.CreatedAt),
		PaidDate:       formatOptionalDate(e.PaidDate),
		RunningBalance: e.RunningBalance,
	}
}

func toInvoiceDTO(inv ledger.Invoice) InvoiceDTO {
	return InvoiceDTO{
		ID:                inv.ID,
		TenantID:          inv.TenantID,
		PropertyID:        inv.PropertyID,
		Category:          inv.Category,
		Amount:            inv.Amount,
		OutstandingAmount: inv.OutstandingAmount,
		DueDate:           formatDate(inv.DueDate),
		DaysOverdue:       inv.DaysOverdue,
		Status:            string(inv.Status),
	}
}

func toInstrumentDTO(inst ledger.Instrument) InstrumentDTO {
	dto := InstrumentDTO{
		ID:              inst.ID,
		TenantID:        inst.TenantID,
		Kind:            string(inst.Kind),
		Amount:          inst.Amount,
		AvailableAmount: inst.AvailableAmount,
		Status:          string(inst.Status),
	}
	if c := inst.Credit; c != nil {
		dto.Reason = c.Reason
		dto.CreatedDate = formatDate(c.CreatedDate)
		dto.ExpiresDate = formatOptionalDate(c.ExpiresDate)
	}
	if d := inst.Deposit; d != nil {
		dto.DepositType = string(d.Type)
		dto.Description = d.Description
		dto.ReceivedDate = formatDate(d.ReceivedDate)
	}
	return dto
}

func toAllocationRecordDTO(r ledger.AllocationRecord) AllocationRecordDTO {
	return AllocationRecordDTO{
		ID:             r.ID,
		CommitID:       r.CommitID,
		TenantID:       r.TenantID,
		InstrumentID:   r.InstrumentID,
		InstrumentKind: string(r.InstrumentKind),
		InvoiceID:      r.InvoiceID,
		Amount:         r.Amount,
		CreatedAt:      formatDate(r.CreatedAt),
	}
}

func toAllocationRecordDTOs(records []ledger.AllocationRecord) []AllocationRecordDTO {
	dtos := make([]AllocationRecordDTO, len(records))
	for i, r := range records {
		dtos[i] = toAllocationRecordDTO(r)
	}
	return dtos
}
