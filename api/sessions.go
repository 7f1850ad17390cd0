/*
sessions.go - Registry of open settlement sessions

PURPOSE:
  Each settlement dialog is a ledger.Session held server-side under a UUID.
  A ledger.Session is single-writer, so every entry carries its own mutex.
  Requests take it with TryLock: a second request racing a commit on the same
  session gets 409 instead of queueing behind it.

LIFETIME:
  Sessions live until discarded (DELETE) or until the process exits.
  Committing does not close a session; it returns to the empty state with
  reduced capacities and can be used again.

SEE ALSO:
  - ledger/session.go: State machine
  - handlers.go: Settlement endpoints
*/
package api

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/warp/tenant-ledger/ledger"
)

type settlement struct {
	mu       sync.Mutex
	id       string
	tenantID string
	openedAt time.Time
	session  *ledger.Session
}

type sessionRegistry struct {
	mu   sync.RWMutex
	byID map[string]*settlement
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{byID: make(map[string]*settlement)}
}

func (r *sessionRegistry) open(tenantID string, session *ledger.Session, at time.Time) *settlement {
	s := &settlement{
		id:       uuid.NewString(),
		tenantID: tenantID,
		openedAt: at,
		session:  session,
	}
	r.mu.Lock()
	r.byID[s.id] = s
	r.mu.Unlock()
	return s
}

func (r *sessionRegistry) get(id string) (*settlement, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[id]
	return s, ok
}

func (r *sessionRegistry) remove(id string) {
	r.mu.Lock()
	delete(r.byID, id)
	r.mu.Unlock()
}

// clear drops every session. Used when the underlying data is replaced.
func (r *sessionRegistry) clear() {
	r.mu.Lock()
	r.byID = make(map[string]*settlement)
	r.mu.Unlock()
}

func (r *sessionRegistry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// snapshot renders the session. Callers hold s.mu.
func (s *settlement) snapshot() SettlementDTO {
	p := s.session.Proposal()
	instrumentTotals := p.InstrumentTotals()
	invoiceTotals := p.InvoiceTotals()

	dto := SettlementDTO{
		ID:          s.id,
		TenantID:    s.tenantID,
		State:       string(s.session.State()),
		CanCommit:   s.session.CanCommit(),
		Total:       p.Total(),
		OpenedAt:    formatDate(s.openedAt),
		Instruments: make([]SettlementInstrumentDTO, 0, len(p.InstrumentIDs())),
		Invoices:    make([]SettlementInvoiceDTO, 0, len(p.InvoiceIDs())),
		Entries:     make([]AllocationDTO, 0, p.Len()),
	}
	for _, id := range p.InstrumentIDs() {
		remaining, _ := p.RemainingCapacity(id)
		dto.Instruments = append(dto.Instruments, SettlementInstrumentDTO{
			ID:        id,
			Kind:      string(p.Kind(id)),
			Allocated: instrumentTotals[id],
			Remaining: remaining,
		})
	}
	for _, id := range p.InvoiceIDs() {
		remaining, _ := p.RemainingNeed(id)
		dto.Invoices = append(dto.Invoices, SettlementInvoiceDTO{
			ID:        id,
			Allocated: invoiceTotals[id],
			Remaining: remaining,
		})
	}
	for _, e := range p.Entries() {
		dto.Entries = append(dto.Entries, AllocationDTO{
			InstrumentID: e.InstrumentID,
			InvoiceID:    e.InvoiceID,
			Amount:       e.Amount,
		})
	}
	return dto
}
