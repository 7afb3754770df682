// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/ledger-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	ledger.Notifier

	mu           sync.RWMutex
	accounts     map[ledger.AccountID]ledger.Account
	payees       map[ledger.PayeeID]ledger.Payee
	transactions map[ledger.TransactionID]*ledger.Transaction
	schedules    map[ledger.ScheduleID]*ledger.Schedule
	trading      map[ledger.Unit]ledger.AccountID
	tradingRoot  ledger.AccountID
}

func NewMemory() *Memory {
	m := &Memory{
		accounts:     make(map[ledger.AccountID]ledger.Account),
		payees:       make(map[ledger.PayeeID]ledger.Payee),
		transactions: make(map[ledger.TransactionID]*ledger.Transaction),
		schedules:    make(map[ledger.ScheduleID]*ledger.Schedule),
		trading:      make(map[ledger.Unit]ledger.AccountID),
		tradingRoot:  "trading",
	}
	m.accounts[m.tradingRoot] = ledger.Account{
		ID:   m.tradingRoot,
		Name: "Trading",
		Type: ledger.AccountTrading,
	}
	return m
}

// =============================================================================
// ACCOUNT READER
// =============================================================================

// SaveAccount and SavePayee seed reference data. Signatures mirror the
// SQLite store so book builders can target either.
func (m *Memory) SaveAccount(_ context.Context, a ledger.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[a.ID] = a
	return nil
}

func (m *Memory) SavePayee(_ context.Context, p ledger.Payee) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payees[p.ID] = p
	return nil
}

func (m *Memory) Account(_ context.Context, id ledger.AccountID) (ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[id]
	if !ok {
		return ledger.Account{}, ledger.ErrAccountNotFound
	}
	return a, nil
}

func (m *Memory) Accounts(_ context.Context) ([]ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ledger.Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) Payee(_ context.Context, id ledger.PayeeID) (ledger.Payee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.payees[id]
	if !ok {
		return ledger.Payee{}, ledger.ErrPayeeNotFound
	}
	return p, nil
}

func (m *Memory) Payees(_ context.Context) ([]ledger.Payee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ledger.Payee, 0, len(m.payees))
	for _, p := range m.payees {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// TradingAccount returns the per-unit trading account, creating it under
// the Trading root on first use.
func (m *Memory) TradingAccount(unit ledger.Unit) (ledger.AccountID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.trading[unit]; ok {
		return id, nil
	}
	id := ledger.AccountID("trading:" + unit.String())
	m.accounts[id] = ledger.Account{
		ID:     id,
		Name:   "Trading:" + unit.Code,
		Type:   ledger.AccountTrading,
		Unit:   unit,
		Parent: m.tradingRoot,
	}
	m.trading[unit] = id
	return id, nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func (m *Memory) Transaction(_ context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.transactions[id]
	if !ok {
		return nil, ledger.ErrTransactionNotFound
	}
	return tx.Clone(), nil
}

func (m *Memory) AccountTransactions(_ context.Context, account ledger.AccountID, from, to ledger.Date) ([]*ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*ledger.Transaction
	for _, tx := range m.transactions {
		if !tx.Touches(account) {
			continue
		}
		if !from.IsZero() && tx.Date.Before(from) {
			continue
		}
		if !to.IsZero() && tx.Date.After(to) {
			continue
		}
		out = append(out, tx.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) CommitTransaction(_ context.Context, tx *ledger.Transaction) error {
	if err := ledger.CheckBalance(tx.Splits); err != nil {
		return err
	}

	m.mu.Lock()
	for _, s := range tx.Splits {
		if a, ok := m.accounts[s.Account]; !ok || a.Closed {
			m.mu.Unlock()
			return ledger.ErrStoreRejected
		}
	}
	old := m.transactions[tx.ID]
	stored := tx.Clone()
	m.transactions[tx.ID] = stored
	m.mu.Unlock()

	m.NotifyTransactionDiff(old, stored)
	return nil
}

func (m *Memory) RemoveTransaction(_ context.Context, id ledger.TransactionID) error {
	m.mu.Lock()
	old, ok := m.transactions[id]
	if !ok {
		m.mu.Unlock()
		return ledger.ErrTransactionNotFound
	}
	delete(m.transactions, id)
	m.mu.Unlock()

	m.NotifyTransactionDiff(old, nil)
	return nil
}

// =============================================================================
// SCHEDULES
// =============================================================================

func (m *Memory) Schedule(_ context.Context, id ledger.ScheduleID) (*ledger.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.schedules[id]
	if !ok {
		return nil, ledger.ErrScheduleNotFound
	}
	return s.Clone(), nil
}

func (m *Memory) AccountSchedules(_ context.Context, account ledger.AccountID) ([]*ledger.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*ledger.Schedule
	for _, s := range m.schedules {
		if s.Template.Touches(account) {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) CommitSchedule(_ context.Context, s *ledger.Schedule) error {
	if err := s.Recurrence.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	_, existed := m.schedules[s.ID]
	stored := s.Clone()
	if stored.Entered == nil {
		stored.Entered = ledger.NewDateSet()
	}
	if stored.Canceled == nil {
		stored.Canceled = ledger.NewDateSet()
	}
	m.schedules[s.ID] = stored
	m.mu.Unlock()

	if existed {
		m.NotifyScheduleModified(stored)
	} else {
		m.NotifyScheduleAdded(stored)
	}
	return nil
}

func (m *Memory) RemoveSchedule(_ context.Context, id ledger.ScheduleID) error {
	m.mu.Lock()
	s, ok := m.schedules[id]
	if !ok {
		m.mu.Unlock()
		return ledger.ErrScheduleNotFound
	}
	delete(m.schedules, id)
	m.mu.Unlock()

	m.NotifyScheduleRemoved(s)
	return nil
}

func (m *Memory) EnterOccurrence(ctx context.Context, id ledger.ScheduleID, due ledger.Date, tx *ledger.Transaction) error {
	if err := ledger.CheckBalance(tx.Splits); err != nil {
		return err
	}

	m.mu.Lock()
	s, ok := m.schedules[id]
	if !ok {
		m.mu.Unlock()
		return ledger.ErrScheduleNotFound
	}
	s.Entered.Add(due)
	stored := tx.Clone()
	m.transactions[tx.ID] = stored
	m.mu.Unlock()

	m.NotifyOccurrenceEntered(s, due)
	m.NotifyTransactionDiff(nil, stored)
	return nil
}

func (m *Memory) CancelOccurrence(_ context.Context, id ledger.ScheduleID, due ledger.Date) error {
	m.mu.Lock()
	s, ok := m.schedules[id]
	if !ok {
		m.mu.Unlock()
		return ledger.ErrScheduleNotFound
	}
	s.Canceled.Add(due)
	m.mu.Unlock()

	m.NotifyOccurrenceCanceled(s, due)
	return nil
}
