// Package store provides in-memory ledger.Store implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/tenant-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu           sync.RWMutex
	transactions map[string]ledger.Transaction
	instruments  map[string]ledger.Instrument
	allocations  []ledger.AllocationRecord

	// BeforeApply, when set, runs inside CommitAllocations after staging and
	// before anything is made visible. A non-nil error aborts the commit.
	BeforeApply func(ctx context.Context, staged []ledger.AllocationRecord) error

	now func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		transactions: make(map[string]ledger.Transaction),
		instruments:  make(map[string]ledger.Instrument),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the commit timestamp source.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

// PutTransaction inserts or replaces a transaction.
func (m *Memory) PutTransaction(tx ledger.Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactions[tx.ID] = tx
}

// PutInstrument inserts or replaces a credit or deposit.
func (m *Memory) PutInstrument(inst ledger.Instrument) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.instruments[inst.ID] = inst
}

// SaveTransaction is PutTransaction with the signature shared by the SQL store.
func (m *Memory) SaveTransaction(_ context.Context, tx ledger.Transaction) error {
	m.PutTransaction(tx)
	return nil
}

// SaveInstrument is PutInstrument with the signature shared by the SQL store.
func (m *Memory) SaveInstrument(_ context.Context, inst ledger.Instrument) error {
	m.PutInstrument(inst)
	return nil
}

// Reset drops all records.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactions = make(map[string]ledger.Transaction)
	m.instruments = make(map[string]ledger.Instrument)
	m.allocations = nil
	return nil
}

func (m *Memory) Transactions(_ context.Context, q ledger.TransactionQuery) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	filter := ledger.RunningBalanceFilter{
		TenantID:   q.TenantID,
		PropertyID: q.PropertyID,
		Statuses:   q.Statuses,
		From:       q.From,
		To:         q.To,
	}
	var result []ledger.Transaction
	for _, tx := range m.transactions {
		if filter.Matches(tx) {
			result = append(result, tx)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Memory) Instruments(_ context.Context, tenantID string, kind ledger.InstrumentKind) ([]ledger.Instrument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.Instrument
	for _, inst := range m.instruments {
		if inst.TenantID != tenantID || (kind != "" && inst.Kind != kind) {
			continue
		}
		result = append(result, inst)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Memory) Allocations(_ context.Context, tenantID string) ([]ledger.AllocationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.AllocationRecord
	for _, r := range m.allocations {
		if r.TenantID == tenantID {
			result = append(result, r)
		}
	}
	return result, nil
}

// =============================================================================
// ATOMIC COMMIT - Snapshot, stage, restore on failure
// =============================================================================

// CommitAllocations applies allocs all-or-nothing. The live maps are only
// replaced once every check and the BeforeApply hook have passed.
func (m *Memory) CommitAllocations(ctx context.Context, tenantID string, allocs []ledger.Allocation) (ledger.CommitReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(allocs) == 0 {
		return ledger.CommitReceipt{}, ledger.ErrEmptyProposal
	}
	if err := ctx.Err(); err != nil {
		return ledger.CommitReceipt{}, err
	}

	snapshot := m.snapshot()

	instruments, txs, err := m.tenantRecords(tenantID, allocs)
	if err != nil {
		return ledger.CommitReceipt{}, err
	}
	at := m.now()
	instruments, txs, err = ledger.ApplyAllocations(instruments, txs, allocs, at)
	if err != nil {
		return ledger.CommitReceipt{}, err
	}

	receipt := ledger.CommitReceipt{
		CommitID:    uuid.NewString(),
		TenantID:    tenantID,
		CommittedAt: at,
		Total:       decimal.Zero,
	}
	kinds := make(map[string]ledger.InstrumentKind, len(instruments))
	for _, inst := range instruments {
		kinds[inst.ID] = inst.Kind
	}
	for _, a := range allocs {
		receipt.Records = append(receipt.Records, ledger.AllocationRecord{
			ID:             uuid.NewString(),
			CommitID:       receipt.CommitID,
			TenantID:       tenantID,
			InstrumentID:   a.InstrumentID,
			InstrumentKind: kinds[a.InstrumentID],
			InvoiceID:      a.InvoiceID,
			Amount:         a.Amount,
			CreatedAt:      at,
		})
		receipt.Total = receipt.Total.Add(a.Amount)
	}

	for _, inst := range instruments {
		m.instruments[inst.ID] = inst
	}
	for _, tx := range txs {
		m.transactions[tx.ID] = tx
	}
	m.allocations = append(m.allocations, receipt.Records...)

	if m.BeforeApply != nil {
		if err := m.BeforeApply(ctx, receipt.Records); err != nil {
			m.restore(snapshot)
			return ledger.CommitReceipt{}, err
		}
	}
	if err := ctx.Err(); err != nil {
		m.restore(snapshot)
		return ledger.CommitReceipt{}, err
	}
	return receipt, nil
}

func (m *Memory) tenantRecords(tenantID string, allocs []ledger.Allocation) ([]ledger.Instrument, []ledger.Transaction, error) {
	var instruments []ledger.Instrument
	var txs []ledger.Transaction
	seenInst := make(map[string]bool)
	seenTx := make(map[string]bool)

	for _, a := range allocs {
		if !seenInst[a.InstrumentID] {
			inst, ok := m.instruments[a.InstrumentID]
			if !ok {
				return nil, nil, fmt.Errorf("%s: %w", a.InstrumentID, ledger.ErrUnknownInstrument)
			}
			if inst.TenantID != tenantID {
				return nil, nil, fmt.Errorf("instrument %s: %w", inst.ID, ledger.ErrTenantMismatch)
			}
			seenInst[a.InstrumentID] = true
			instruments = append(instruments, inst)
		}
		if !seenTx[a.InvoiceID] {
			tx, ok := m.transactions[a.InvoiceID]
			if !ok {
				return nil, nil, fmt.Errorf("%s: %w", a.InvoiceID, ledger.ErrUnknownInvoice)
			}
			if tx.TenantID != tenantID {
				return nil, nil, fmt.Errorf("invoice %s: %w", tx.ID, ledger.ErrTenantMismatch)
			}
			seenTx[a.InvoiceID] = true
			txs = append(txs, tx)
		}
	}
	return instruments, txs, nil
}

type memorySnapshot struct {
	transactions map[string]ledger.Transaction
	instruments  map[string]ledger.Instrument
	allocations  []ledger.AllocationRecord
}

func (m *Memory) snapshot() memorySnapshot {
	txs := make(map[string]ledger.Transaction, len(m.transactions))
	for k, v := range m.transactions {
		txs[k] = v
	}
	insts := make(map[string]ledger.Instrument, len(m.instruments))
	for k, v := range m.instruments {
		insts[k] = v
	}
	return memorySnapshot{
		transactions: txs,
		instruments:  insts,
		allocations:  append([]ledger.AllocationRecord(nil), m.allocations...),
	}
}

func (m *Memory) restore(s memorySnapshot) {
	m.transactions = s.transactions
	m.instruments = s.instruments
	m.allocations = s.allocations
}

var _ ledger.Store = (*Memory)(nil)
