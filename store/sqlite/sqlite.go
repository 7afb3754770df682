/*
Package sqlite provides a SQLite-backed implementation of ledger.Store.

PURPOSE:
  Owns the persisted book - accounts, payees, transactions with their
  splits, and schedules - and emits the mutation events the ledger cache
  consumes. In production the same patterns apply to PostgreSQL; only
  minor SQL dialect differences.

KEY TABLES:
  accounts:     Flat projection of the account hierarchy (read interface)
  payees:       Payee reference data
  transactions: Transaction headers
  splits:       One row per leg, relational so account queries use an index
  schedules:    Template + recurrence + exception sets, JSON-encoded

ATOMICITY:
  CommitTransaction replaces header and legs inside one SQL transaction;
  EnterOccurrence writes the realized transaction and the entered-date
  exception in one SQL transaction. Events are emitted only after the
  database commit succeeds, against the committed state.

INDEXES:
  idx_splits_account: The hot path - "transactions touching account X".

CONCURRENCY:
  Uses sync.RWMutex for thread-safety on top of WAL mode, matching the
  engine's cooperative single-writer model.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./book.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  cache := ledger.NewCache(store, accountID)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - ledger/store.go: Interface and event contract
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/ledger-engine/ledger"
)

// Store implements ledger.Store on SQLite.
type Store struct {
	ledger.Notifier

	db *sql.DB
	mu sync.RWMutex
}

// New opens (or creates) the database at dbPath. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		id        TEXT PRIMARY KEY,
		name      TEXT NOT NULL,
		type      TEXT NOT NULL,
		unit_kind TEXT NOT NULL DEFAULT '',
		unit_code TEXT NOT NULL DEFAULT '',
		parent    TEXT NOT NULL DEFAULT '',
		closed    INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS payees (
		id   TEXT PRIMARY KEY,
		name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS transactions (
		id          TEXT PRIMARY KEY,
		date        TEXT NOT NULL,
		num         TEXT NOT NULL DEFAULT '',
		payee       TEXT NOT NULL DEFAULT '',
		memo        TEXT NOT NULL DEFAULT '',
		status      TEXT NOT NULL DEFAULT '',
		attachments TEXT NOT NULL DEFAULT '[]',
		properties  TEXT NOT NULL DEFAULT '{}'
	);

	CREATE TABLE IF NOT EXISTS splits (
		tx_id     TEXT NOT NULL REFERENCES transactions(id) ON DELETE CASCADE,
		seq       INTEGER NOT NULL,
		account   TEXT NOT NULL,
		amount    TEXT NOT NULL,
		unit_kind TEXT NOT NULL,
		unit_code TEXT NOT NULL,
		memo      TEXT NOT NULL DEFAULT '',
		metadata  TEXT NOT NULL DEFAULT '{}',
		PRIMARY KEY (tx_id, seq)
	);

	CREATE TABLE IF NOT EXISTS schedules (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		template   TEXT NOT NULL,
		recurrence TEXT NOT NULL,
		entered    TEXT NOT NULL DEFAULT '[]',
		canceled   TEXT NOT NULL DEFAULT '[]',
		active     INTEGER NOT NULL DEFAULT 1,
		auto_enter INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_splits_account ON splits(account);
	CREATE INDEX IF NOT EXISTS idx_transactions_date ON transactions(date);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// ACCOUNT READER
// =============================================================================

// SaveAccount inserts or updates an account projection row. The hierarchy
// itself is owned by the shell application; this mirrors what the engine
// reads.
func (s *Store) SaveAccount(ctx context.Context, a ledger.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, name, type, unit_kind, unit_code, parent, closed)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, type = excluded.type,
			unit_kind = excluded.unit_kind, unit_code = excluded.unit_code,
			parent = excluded.parent, closed = excluded.closed`,
		a.ID, a.Name, a.Type, a.Unit.Kind, a.Unit.Code, a.Parent, boolInt(a.Closed))
	return err
}

// SavePayee inserts or updates a payee.
func (s *Store) SavePayee(ctx context.Context, p ledger.Payee) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payees (id, name) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name`,
		p.ID, p.Name)
	return err
}

func (s *Store) Account(ctx context.Context, id ledger.AccountID) (ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accountLocked(ctx, id)
}

func (s *Store) accountLocked(ctx context.Context, id ledger.AccountID) (ledger.Account, error) {
	var a ledger.Account
	var closed int
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, type, unit_kind, unit_code, parent, closed
		FROM accounts WHERE id = ?`, id).
		Scan(&a.ID, &a.Name, &a.Type, &a.Unit.Kind, &a.Unit.Code, &a.Parent, &closed)
	if err == sql.ErrNoRows {
		return ledger.Account{}, ledger.ErrAccountNotFound
	}
	if err != nil {
		return ledger.Account{}, err
	}
	a.Closed = closed != 0
	if a.Unit.Code == "" {
		a.Unit = ledger.Unit{}
	}
	return a, nil
}

func (s *Store) Accounts(ctx context.Context) ([]ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, type, unit_kind, unit_code, parent, closed
		FROM accounts ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Account
	for rows.Next() {
		var a ledger.Account
		var closed int
		if err := rows.Scan(&a.ID, &a.Name, &a.Type, &a.Unit.Kind, &a.Unit.Code, &a.Parent, &closed); err != nil {
			return nil, err
		}
		a.Closed = closed != 0
		if a.Unit.Code == "" {
			a.Unit = ledger.Unit{}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) Payee(ctx context.Context, id ledger.PayeeID) (ledger.Payee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var p ledger.Payee
	err := s.db.QueryRowContext(ctx, `SELECT id, name FROM payees WHERE id = ?`, id).
		Scan(&p.ID, &p.Name)
	if err == sql.ErrNoRows {
		return ledger.Payee{}, ledger.ErrPayeeNotFound
	}
	return p, err
}

func (s *Store) Payees(ctx context.Context) ([]ledger.Payee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM payees ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Payee
	for rows.Next() {
		var p ledger.Payee
		if err := rows.Scan(&p.ID, &p.Name); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// TradingAccount returns the per-unit trading account, creating it under
// a "trading" root on first use.
func (s *Store) TradingAccount(unit ledger.Unit) (ledger.AccountID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := ledger.AccountID("trading:" + unit.String())
	var existing string
	err := s.db.QueryRow(`SELECT id FROM accounts WHERE id = ?`, id).Scan(&existing)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return "", err
	}

	_, err = s.db.Exec(`
		INSERT INTO accounts (id, name, type, unit_kind, unit_code, parent, closed)
		VALUES (?, ?, ?, ?, ?, 'trading', 0)`,
		id, "Trading:"+unit.Code, ledger.AccountTrading, unit.Kind, unit.Code)
	if err != nil {
		return "", err
	}
	return id, nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func (s *Store) Transaction(ctx context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transactionLocked(ctx, id)
}

func (s *Store) transactionLocked(ctx context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	var tx ledger.Transaction
	var dateStr, attachments, properties string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, date, num, payee, memo, status, attachments, properties
		FROM transactions WHERE id = ?`, id).
		Scan(&tx.ID, &dateStr, &tx.Num, &tx.Payee, &tx.Memo, &tx.Status, &attachments, &properties)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}
	if tx.Date, err = ledger.ParseDate(dateStr); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(attachments), &tx.Attachments); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(properties), &tx.Properties); err != nil {
		return nil, err
	}
	if tx.Splits, err = s.splitsLocked(ctx, id); err != nil {
		return nil, err
	}
	return &tx, nil
}

func (s *Store) splitsLocked(ctx context.Context, id ledger.TransactionID) ([]ledger.Split, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT account, amount, unit_kind, unit_code, memo, metadata
		FROM splits WHERE tx_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Split
	for rows.Next() {
		var sp ledger.Split
		var amount, metadata string
		if err := rows.Scan(&sp.Account, &amount, &sp.Unit.Kind, &sp.Unit.Code, &sp.Memo, &metadata); err != nil {
			return nil, err
		}
		sp.Amount = ledger.MustParseDecimal(amount)
		if err := json.Unmarshal([]byte(metadata), &sp.Metadata); err != nil {
			return nil, err
		}
		out = append(out, sp)
	}
	return out, rows.Err()
}

func (s *Store) AccountTransactions(ctx context.Context, account ledger.AccountID, from, to ledger.Date) ([]*ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT DISTINCT t.id FROM transactions t
		JOIN splits sp ON sp.tx_id = t.id
		WHERE sp.account = ?`
	args := []any{account}
	if !from.IsZero() {
		query += ` AND t.date >= ?`
		args = append(args, from.String())
	}
	if !to.IsZero() {
		query += ` AND t.date <= ?`
		args = append(args, to.String())
	}
	query += ` ORDER BY t.date, t.id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var ids []ledger.TransactionID
	for rows.Next() {
		var id ledger.TransactionID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*ledger.Transaction, 0, len(ids))
	for _, id := range ids {
		tx, err := s.transactionLocked(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, nil
}

// CommitTransaction inserts or replaces the transaction atomically,
// rejecting unbalanced split lists and references to missing or closed
// accounts. Events are emitted after the database commit.
func (s *Store) CommitTransaction(ctx context.Context, tx *ledger.Transaction) error {
	if err := ledger.CheckBalance(tx.Splits); err != nil {
		return err
	}

	s.mu.Lock()
	old, err := s.transactionLocked(ctx, tx.ID)
	if err != nil && err != ledger.ErrTransactionNotFound {
		s.mu.Unlock()
		return err
	}
	for _, sp := range tx.Splits {
		a, err := s.accountLocked(ctx, sp.Account)
		if err != nil || a.Closed {
			s.mu.Unlock()
			return ledger.ErrStoreRejected
		}
	}
	err = s.inTx(ctx, func(dbtx *sql.Tx) error {
		return writeTransaction(ctx, dbtx, tx)
	})
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	s.NotifyTransactionDiff(old, tx.Clone())
	return nil
}

// inTx runs fn inside one SQL transaction, rolling back on any error.
func (s *Store) inTx(ctx context.Context, fn func(dbtx *sql.Tx) error) error {
	dbtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer dbtx.Rollback()
	if err := fn(dbtx); err != nil {
		return err
	}
	return dbtx.Commit()
}

// writeTransaction upserts the header and rewrites the split list inside
// the caller's SQL transaction.
func writeTransaction(ctx context.Context, dbtx *sql.Tx, tx *ledger.Transaction) error {
	attachments, err := json.Marshal(tx.Attachments)
	if err != nil {
		return err
	}
	properties, err := json.Marshal(tx.Properties)
	if err != nil {
		return err
	}

	_, err = dbtx.ExecContext(ctx, `
		INSERT INTO transactions (id, date, num, payee, memo, status, attachments, properties)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			date = excluded.date, num = excluded.num, payee = excluded.payee,
			memo = excluded.memo, status = excluded.status,
			attachments = excluded.attachments, properties = excluded.properties`,
		tx.ID, tx.Date.String(), tx.Num, tx.Payee, tx.Memo, tx.Status,
		string(attachments), string(properties))
	if err != nil {
		return err
	}
	if _, err := dbtx.ExecContext(ctx, `DELETE FROM splits WHERE tx_id = ?`, tx.ID); err != nil {
		return err
	}
	for i, sp := range tx.Splits {
		metadata, err := json.Marshal(sp.Metadata)
		if err != nil {
			return err
		}
		_, err = dbtx.ExecContext(ctx, `
			INSERT INTO splits (tx_id, seq, account, amount, unit_kind, unit_code, memo, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			tx.ID, i, sp.Account, sp.Amount.String(), sp.Unit.Kind, sp.Unit.Code,
			sp.Memo, string(metadata))
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) RemoveTransaction(ctx context.Context, id ledger.TransactionID) error {
	s.mu.Lock()
	old, err := s.transactionLocked(ctx, id)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	s.NotifyTransactionDiff(old, nil)
	return nil
}

// =============================================================================
// SCHEDULES
// =============================================================================

type scheduleRow struct {
	id        ledger.ScheduleID
	name      string
	template  string
	recur     string
	entered   string
	canceled  string
	active    int
	autoEnter int
}

func (s *Store) Schedule(ctx context.Context, id ledger.ScheduleID) (*ledger.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scheduleLocked(ctx, id)
}

func (s *Store) scheduleLocked(ctx context.Context, id ledger.ScheduleID) (*ledger.Schedule, error) {
	var r scheduleRow
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, template, recurrence, entered, canceled, active, auto_enter
		FROM schedules WHERE id = ?`, id).
		Scan(&r.id, &r.name, &r.template, &r.recur, &r.entered, &r.canceled, &r.active, &r.autoEnter)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrScheduleNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeSchedule(r)
}

func decodeSchedule(r scheduleRow) (*ledger.Schedule, error) {
	sch := &ledger.Schedule{
		ID:        r.id,
		Name:      r.name,
		Active:    r.active != 0,
		AutoEnter: r.autoEnter != 0,
		Entered:   ledger.NewDateSet(),
		Canceled:  ledger.NewDateSet(),
	}
	if err := json.Unmarshal([]byte(r.template), &sch.Template); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(r.recur), &sch.Recurrence); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(r.entered), &sch.Entered); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(r.canceled), &sch.Canceled); err != nil {
		return nil, err
	}
	return sch, nil
}

// AccountSchedules loads every schedule and filters by template account in
// Go. Books carry a handful of schedules; a relational side table is not
// worth its upkeep here.
func (s *Store) AccountSchedules(ctx context.Context, account ledger.AccountID) ([]*ledger.Schedule, error) {
	all, err := s.AllSchedules(ctx)
	if err != nil {
		return nil, err
	}
	var out []*ledger.Schedule
	for _, sch := range all {
		if sch.Template.Touches(account) {
			out = append(out, sch)
		}
	}
	return out, nil
}

// AllSchedules returns every schedule, used by the auto-enter job.
func (s *Store) AllSchedules(ctx context.Context) ([]*ledger.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, template, recurrence, entered, canceled, active, auto_enter
		FROM schedules ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ledger.Schedule
	for rows.Next() {
		var r scheduleRow
		if err := rows.Scan(&r.id, &r.name, &r.template, &r.recur, &r.entered, &r.canceled, &r.active, &r.autoEnter); err != nil {
			return nil, err
		}
		sch, err := decodeSchedule(r)
		if err != nil {
			return nil, err
		}
		out = append(out, sch)
	}
	return out, rows.Err()
}

func (s *Store) CommitSchedule(ctx context.Context, sch *ledger.Schedule) error {
	if err := sch.Recurrence.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	_, err := s.scheduleLocked(ctx, sch.ID)
	existed := err == nil
	if err != nil && err != ledger.ErrScheduleNotFound {
		s.mu.Unlock()
		return err
	}
	err = s.inTx(ctx, func(dbtx *sql.Tx) error {
		return writeSchedule(ctx, dbtx, sch)
	})
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	if existed {
		s.NotifyScheduleModified(sch.Clone())
	} else {
		s.NotifyScheduleAdded(sch.Clone())
	}
	return nil
}

// writeSchedule upserts the schedule row inside the caller's SQL
// transaction.
func writeSchedule(ctx context.Context, dbtx *sql.Tx, sch *ledger.Schedule) error {
	template, err := json.Marshal(sch.Template)
	if err != nil {
		return err
	}
	recur, err := json.Marshal(sch.Recurrence)
	if err != nil {
		return err
	}
	entered := sch.Entered
	if entered == nil {
		entered = ledger.NewDateSet()
	}
	canceled := sch.Canceled
	if canceled == nil {
		canceled = ledger.NewDateSet()
	}
	enteredJSON, err := json.Marshal(entered)
	if err != nil {
		return err
	}
	canceledJSON, err := json.Marshal(canceled)
	if err != nil {
		return err
	}

	_, err = dbtx.ExecContext(ctx, `
		INSERT INTO schedules (id, name, template, recurrence, entered, canceled, active, auto_enter)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, template = excluded.template,
			recurrence = excluded.recurrence, entered = excluded.entered,
			canceled = excluded.canceled, active = excluded.active,
			auto_enter = excluded.auto_enter`,
		sch.ID, sch.Name, string(template), string(recur),
		string(enteredJSON), string(canceledJSON),
		boolInt(sch.Active), boolInt(sch.AutoEnter))
	return err
}

func (s *Store) RemoveSchedule(ctx context.Context, id ledger.ScheduleID) error {
	s.mu.Lock()
	sch, err := s.scheduleLocked(ctx, id)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	s.NotifyScheduleRemoved(sch)
	return nil
}

// EnterOccurrence records the due date as entered and persists the
// realized transaction, both in one SQL transaction.
func (s *Store) EnterOccurrence(ctx context.Context, id ledger.ScheduleID, due ledger.Date, tx *ledger.Transaction) error {
	if err := ledger.CheckBalance(tx.Splits); err != nil {
		return err
	}

	s.mu.Lock()
	sch, err := s.scheduleLocked(ctx, id)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	sch.Entered.Add(due)
	err = s.inTx(ctx, func(dbtx *sql.Tx) error {
		if err := writeTransaction(ctx, dbtx, tx); err != nil {
			return err
		}
		return writeSchedule(ctx, dbtx, sch)
	})
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	s.NotifyOccurrenceEntered(sch, due)
	s.NotifyTransactionDiff(nil, tx.Clone())
	return nil
}

func (s *Store) CancelOccurrence(ctx context.Context, id ledger.ScheduleID, due ledger.Date) error {
	s.mu.Lock()
	sch, err := s.scheduleLocked(ctx, id)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	sch.Canceled.Add(due)
	err = s.inTx(ctx, func(dbtx *sql.Tx) error {
		return writeSchedule(ctx, dbtx, sch)
	})
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	s.NotifyOccurrenceCanceled(sch, due)
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
