/*
Package sqlite provides a SQLite-backed implementation of ledger.Store.

PURPOSE:
  Reads transactions, credits and deposits, and performs the engine's single
  write: the atomic allocation commit.

KEY TABLES:
  transactions: charges and payments (settled_amount tracks allocations)
  instruments:  credits and deposits (available_amount tracks allocations)
  allocations:  committed allocation rows, append-only

ATOMIC COMMIT:
  CommitAllocations runs in one SQL transaction:
    1. Load every touched instrument and invoice inside the transaction
    2. Re-check capacity with ledger.ApplyAllocations (ErrStaleBalance if not)
    3. UPDATE instruments, UPDATE transactions, INSERT allocations
    4. COMMIT, or ROLLBACK on any error
  SQLITE_BUSY / SQLITE_LOCKED retries the whole transaction with exponential
  backoff; any other error is permanent.

TIME STORAGE:
  Times are stored as fixed-width UTC strings (timeLayout) so that
  lexicographic comparison in SQL matches chronological order.

MIGRATION:
  Versioned migrations in migrations/ are embedded and applied with
  golang-migrate on New().

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - ledger/store.go: interface definitions
  - ledger/store/memory.go: in-memory implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/warp/tenant-ledger/ledger"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const timeLayout = "2006-01-02T15:04:05.000000000Z"

// DefaultCommitRetries is how many times a busy commit is retried.
const DefaultCommitRetries = 5

// Store implements ledger.Store using SQLite.
type Store struct {
	db      *sql.DB
	mu      sync.RWMutex
	retries uint64
	now     func() time.Time
}

// New opens (and migrates) a SQLite database at dbPath.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// every pooled connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}

	store := NewWithDB(db)
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// NewWithDB wraps an already open, already migrated database.
func NewWithDB(db *sql.DB) *Store {
	return &Store{
		db:      db,
		retries: DefaultCommitRetries,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithCommitRetries sets the busy-retry budget of CommitAllocations.
func (s *Store) WithCommitRetries(n uint64) *Store {
	s.retries = n
	return s
}

// WithClock replaces the commit timestamp source.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return err
	}
	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// =============================================================================
// WRITES OWNED BY THE BACK OFFICE (seeding, tests)
// =============================================================================

// SaveTransaction inserts or replaces a transaction.
func (s *Store) SaveTransaction(ctx context.Context, tx ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT OR REPLACE INTO transactions
		(id, tenant_id, property_id, tx_type, amount, settled_amount, status,
		 category, description, due_date, created_at, paid_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		tx.ID, tx.TenantID, tx.PropertyID, tx.Type,
		tx.Amount.String(), tx.SettledAmount.String(), tx.Status,
		tx.Category, tx.Description,
		nullTime(tx.DueDate), formatTime(tx.CreatedAt), nullTime(tx.PaidDate),
	)
	if err != nil {
		return fmt.Errorf("failed to save transaction: %w", err)
	}
	return nil
}

// SaveInstrument inserts or replaces a credit or deposit.
func (s *Store) SaveInstrument(ctx context.Context, inst ledger.Instrument) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		reason, depositType, description string
		createdDate, expiresDate         sql.NullString
		receivedDate                     sql.NullString
	)
	if inst.Credit != nil {
		reason = inst.Credit.Reason
		createdDate = nullTime(&inst.Credit.CreatedDate)
		expiresDate = nullTime(inst.Credit.ExpiresDate)
	}
	if inst.Deposit != nil {
		depositType = string(inst.Deposit.Type)
		description = inst.Deposit.Description
		receivedDate = nullTime(&inst.Deposit.ReceivedDate)
	}

	query := `
		INSERT OR REPLACE INTO instruments
		(id, tenant_id, kind, amount, available_amount, status, reason,
		 created_date, expires_date, deposit_type, description, received_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		inst.ID, inst.TenantID, inst.Kind,
		inst.Amount.String(), inst.AvailableAmount.String(), inst.Status,
		reason, createdDate, expiresDate, depositType, description, receivedDate,
	)
	if err != nil {
		return fmt.Errorf("failed to save instrument: %w", err)
	}
	return nil
}

// Reset deletes all data. Used when loading demo scenarios.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"allocations", "instruments", "transactions"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	return nil
}

// =============================================================================
// READS (ledger.Reader)
// =============================================================================

const transactionColumns = `id, tenant_id, property_id, tx_type, amount, settled_amount, status,
		category, description, due_date, created_at, paid_date`

const instrumentColumns = `id, tenant_id, kind, amount, available_amount, status, reason,
		created_date, expires_date, deposit_type, description, received_date`

// Transactions returns transactions matching q, ordered by reference date.
func (s *Store) Transactions(ctx context.Context, q ledger.TransactionQuery) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		where []string
		args  []any
	)
	if q.TenantID != "" {
		where = append(where, "tenant_id = ?")
		args = append(args, q.TenantID)
	}
	if q.PropertyID != "" {
		where = append(where, "property_id = ?")
		args = append(args, q.PropertyID)
	}
	if len(q.Statuses) > 0 {
		placeholders := make([]string, len(q.Statuses))
		for i, st := range q.Statuses {
			placeholders[i] = "?"
			args = append(args, st)
		}
		where = append(where, "status IN ("+strings.Join(placeholders, ", ")+")")
	}
	if q.From != nil {
		where = append(where, "COALESCE(due_date, created_at) >= ?")
		args = append(args, formatTime(*q.From))
	}
	if q.To != nil {
		where = append(where, "COALESCE(due_date, created_at) <= ?")
		args = append(args, formatTime(*q.To))
	}

	query := "SELECT " + transactionColumns + " FROM transactions"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY COALESCE(due_date, created_at) ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txs []ledger.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// Instruments returns a tenant's credits and/or deposits.
func (s *Store) Instruments(ctx context.Context, tenantID string, kind ledger.InstrumentKind) ([]ledger.Instrument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT " + instrumentColumns + " FROM instruments WHERE tenant_id = ?"
	args := []any{tenantID}
	if kind != "" {
		query += " AND kind = ?"
		args = append(args, kind)
	}
	query += " ORDER BY kind ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query instruments: %w", err)
	}
	defer rows.Close()

	var result []ledger.Instrument
	for rows.Next() {
		inst, err := scanInstrument(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, inst)
	}
	return result, rows.Err()
}

// Allocations returns a tenant's committed allocations, oldest first.
func (s *Store) Allocations(ctx context.Context, tenantID string) ([]ledger.AllocationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, commit_id, tenant_id, instrument_id, instrument_kind, invoice_id, amount, created_at
		FROM allocations
		WHERE tenant_id = ?
		ORDER BY created_at ASC, rowid ASC
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query allocations: %w", err)
	}
	defer rows.Close()

	var records []ledger.AllocationRecord
	for rows.Next() {
		var (
			r         ledger.AllocationRecord
			amount    string
			createdAt string
		)
		if err := rows.Scan(&r.ID, &r.CommitID, &r.TenantID, &r.InstrumentID,
			&r.InstrumentKind, &r.InvoiceID, &amount, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan allocation: %w", err)
		}
		r.Amount = parseDecimal(amount)
		r.CreatedAt = parseTime(createdAt)
		records = append(records, r)
	}
	return records, rows.Err()
}

// =============================================================================
// ATOMIC COMMIT (ledger.Committer)
// =============================================================================

// CommitAllocations persists allocs and reduces balances in one SQL transaction.
func (s *Store) CommitAllocations(ctx context.Context, tenantID string, allocs []ledger.Allocation) (ledger.CommitReceipt, error) {
	if len(allocs) == 0 {
		return ledger.CommitReceipt{}, ledger.ErrEmptyProposal
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var receipt ledger.CommitReceipt
	attempt := 0
	op := func() error {
		attempt++
		r, err := s.commitOnce(ctx, tenantID, allocs)
		if err != nil {
			if isBusyError(err) {
				logrus.WithFields(logrus.Fields{
					"tenant_id": tenantID,
					"attempt":   attempt,
				}).Warn("allocation commit hit a busy database, retrying")
				return err
			}
			return backoff.Permanent(err)
		}
		receipt = r
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), s.retries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return ledger.CommitReceipt{}, err
	}
	return receipt, nil
}

func (s *Store) commitOnce(ctx context.Context, tenantID string, allocs []ledger.Allocation) (ledger.CommitReceipt, error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.CommitReceipt{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	instruments, err := loadInstruments(ctx, sqlTx, tenantID, distinct(allocs, func(a ledger.Allocation) string { return a.InstrumentID }))
	if err != nil {
		return ledger.CommitReceipt{}, err
	}
	txs, err := loadInvoices(ctx, sqlTx, tenantID, distinct(allocs, func(a ledger.Allocation) string { return a.InvoiceID }))
	if err != nil {
		return ledger.CommitReceipt{}, err
	}

	at := s.now()
	instruments, txs, err = ledger.ApplyAllocations(instruments, txs, allocs, at)
	if err != nil {
		return ledger.CommitReceipt{}, err
	}

	kinds := make(map[string]ledger.InstrumentKind, len(instruments))
	for _, inst := range instruments {
		kinds[inst.ID] = inst.Kind
		if _, err := sqlTx.ExecContext(ctx,
			"UPDATE instruments SET available_amount = ?, status = ? WHERE id = ?",
			inst.AvailableAmount.String(), inst.Status, inst.ID,
		); err != nil {
			return ledger.CommitReceipt{}, fmt.Errorf("failed to update instrument %s: %w", inst.ID, err)
		}
	}
	for _, tx := range txs {
		if _, err := sqlTx.ExecContext(ctx,
			"UPDATE transactions SET settled_amount = ?, status = ?, paid_date = ? WHERE id = ?",
			tx.SettledAmount.String(), tx.Status, nullTime(tx.PaidDate), tx.ID,
		); err != nil {
			return ledger.CommitReceipt{}, fmt.Errorf("failed to update invoice %s: %w", tx.ID, err)
		}
	}

	receipt := ledger.CommitReceipt{
		CommitID:    uuid.NewString(),
		TenantID:    tenantID,
		CommittedAt: at,
		Total:       decimal.Zero,
	}
	for _, a := range allocs {
		rec := ledger.AllocationRecord{
			ID:             uuid.NewString(),
			CommitID:       receipt.CommitID,
			TenantID:       tenantID,
			InstrumentID:   a.InstrumentID,
			InstrumentKind: kinds[a.InstrumentID],
			InvoiceID:      a.InvoiceID,
			Amount:         a.Amount,
			CreatedAt:      at,
		}
		if _, err := sqlTx.ExecContext(ctx, `
			INSERT INTO allocations
			(id, commit_id, tenant_id, instrument_id, instrument_kind, invoice_id, amount, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, rec.ID, rec.CommitID, rec.TenantID, rec.InstrumentID, rec.InstrumentKind,
			rec.InvoiceID, rec.Amount.String(), formatTime(rec.CreatedAt),
		); err != nil {
			return ledger.CommitReceipt{}, fmt.Errorf("failed to insert allocation: %w", err)
		}
		receipt.Records = append(receipt.Records, rec)
		receipt.Total = receipt.Total.Add(a.Amount)
	}

	if err := sqlTx.Commit(); err != nil {
		return ledger.CommitReceipt{}, fmt.Errorf("failed to commit allocations: %w", err)
	}
	return receipt, nil
}

func loadInstruments(ctx context.Context, sqlTx *sql.Tx, tenantID string, ids []string) ([]ledger.Instrument, error) {
	result := make([]ledger.Instrument, 0, len(ids))
	for _, id := range ids {
		rows, err := sqlTx.QueryContext(ctx, "SELECT "+instrumentColumns+" FROM instruments WHERE id = ?", id)
		if err != nil {
			return nil, fmt.Errorf("failed to load instrument %s: %w", id, err)
		}
		inst, found, err := scanOne(rows, scanInstrument)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("%s: %w", id, ledger.ErrUnknownInstrument)
		}
		if inst.TenantID != tenantID {
			return nil, fmt.Errorf("instrument %s: %w", id, ledger.ErrTenantMismatch)
		}
		result = append(result, inst)
	}
	return result, nil
}

func loadInvoices(ctx context.Context, sqlTx *sql.Tx, tenantID string, ids []string) ([]ledger.Transaction, error) {
	result := make([]ledger.Transaction, 0, len(ids))
	for _, id := range ids {
		rows, err := sqlTx.QueryContext(ctx, "SELECT "+transactionColumns+" FROM transactions WHERE id = ?", id)
		if err != nil {
			return nil, fmt.Errorf("failed to load invoice %s: %w", id, err)
		}
		tx, found, err := scanOne(rows, scanTransaction)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("%s: %w", id, ledger.ErrUnknownInvoice)
		}
		if tx.TenantID != tenantID {
			return nil, fmt.Errorf("invoice %s: %w", id, ledger.ErrTenantMismatch)
		}
		result = append(result, tx)
	}
	return result, nil
}

// =============================================================================
// SCANNING
// =============================================================================

func scanOne[T any](rows *sql.Rows, scan func(*sql.Rows) (T, error)) (T, bool, error) {
	defer rows.Close()
	var zero T
	if !rows.Next() {
		return zero, false, rows.Err()
	}
	v, err := scan(rows)
	if err != nil {
		return zero, false, err
	}
	return v, true, rows.Err()
}

func scanTransaction(rows *sql.Rows) (ledger.Transaction, error) {
	var (
		tx        ledger.Transaction
		amount    string
		settled   string
		dueDate   sql.NullString
		createdAt string
		paidDate  sql.NullString
	)
	err := rows.Scan(
		&tx.ID, &tx.TenantID, &tx.PropertyID, &tx.Type, &amount, &settled, &tx.Status,
		&tx.Category, &tx.Description, &dueDate, &createdAt, &paidDate,
	)
	if err != nil {
		return tx, fmt.Errorf("failed to scan transaction: %w", err)
	}
	tx.Amount = parseDecimal(amount)
	tx.SettledAmount = parseDecimal(settled)
	tx.DueDate = parseNullTime(dueDate)
	tx.CreatedAt = parseTime(createdAt)
	tx.PaidDate = parseNullTime(paidDate)
	return tx, nil
}

func scanInstrument(rows *sql.Rows) (ledger.Instrument, error) {
	var (
		inst         ledger.Instrument
		amount       string
		available    string
		reason       string
		createdDate  sql.NullString
		expiresDate  sql.NullString
		depositType  string
		description  string
		receivedDate sql.NullString
	)
	err := rows.Scan(
		&inst.ID, &inst.TenantID, &inst.Kind, &amount, &available, &inst.Status, &reason,
		&createdDate, &expiresDate, &depositType, &description, &receivedDate,
	)
	if err != nil {
		return inst, fmt.Errorf("failed to scan instrument: %w", err)
	}
	inst.Amount = parseDecimal(amount)
	inst.AvailableAmount = parseDecimal(available)

	switch inst.Kind {
	case ledger.KindCredit:
		credit := &ledger.CreditDetails{Reason: reason, ExpiresDate: parseNullTime(expiresDate)}
		if t := parseNullTime(createdDate); t != nil {
			credit.CreatedDate = *t
		}
		inst.Credit = credit
	case ledger.KindDeposit:
		deposit := &ledger.DepositDetails{Type: ledger.DepositType(depositType), Description: description}
		if t := parseNullTime(receivedDate); t != nil {
			deposit.ReceivedDate = *t
		}
		inst.Deposit = deposit
	}
	return inst, nil
}

// Helper functions

func distinct(allocs []ledger.Allocation, key func(ledger.Allocation) string) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, a := range allocs {
		k := key(a)
		if !seen[k] {
			seen[k] = true
			ids = append(ids, k)
		}
	}
	sort.Strings(ids)
	return ids
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339, s)
	}
	return t
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func isBusyError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

var _ ledger.Store = (*Store)(nil)
