/*
store.go - Persistence interface for transactions and schedules

PURPOSE:
  Defines the boundary between the engine and whatever owns the persisted
  book. The engine never reaches a process-wide singleton: caches and
  controllers hold a reference to the Store they observe.

KEY INTERFACES:
  AccountReader: Narrow read view of the account hierarchy
  Store:         Transactions + schedules, with atomic commit semantics
  StoreObserver: Mutation events, consumed by the ledger cache

EVENT CONTRACT:
  Every successful mutation is announced through StoreObserver before the
  mutating call returns. Events are synchronous and delivered in mutation
  order, so an observing cache is never behind the store by more than the
  event currently being processed.

ATOMICITY:
  CommitTransaction and CommitSchedule apply a validated split list or
  recurrence as a whole; EnterOccurrence records the exception and writes
  the realized transaction in one step. A store that cannot honor a commit
  (referenced entity deleted concurrently) rejects it with ErrStoreRejected
  and leaves its state untouched.

IMPLEMENTATIONS:
  - ledger/store/memory.go: In-memory, for tests and dev
  - store/sqlite/sqlite.go: Production SQLite

SEE ALSO:
  - cache.go: The Store's main consumer
  - buffer.go: Commits through the Store
*/
package ledger

import (
	"context"
	"sync"
)

// =============================================================================
// ACCOUNT READER - Narrow view of the account hierarchy
// =============================================================================

// Account is the read-only shape the engine needs from the hierarchy.
type Account struct {
	ID     AccountID
	Name   string
	Type   AccountType
	Unit   Unit // home unit: a currency, or the security a stock account holds
	Parent AccountID
	Closed bool
}

type Payee struct {
	ID   PayeeID
	Name string
}

// AccountReader answers the engine's reference questions. The account
// hierarchy itself is out of scope; this is the only window into it.
type AccountReader interface {
	TradingAccounts

	Account(ctx context.Context, id AccountID) (Account, error)
	Accounts(ctx context.Context) ([]Account, error)
	Payee(ctx context.Context, id PayeeID) (Payee, error)
	Payees(ctx context.Context) ([]Payee, error)
}

// =============================================================================
// STORE - Owns persisted transactions and schedules
// =============================================================================

// Store owns the persisted book. It is the sole writer of transactions and
// schedules; the engine mutates them only through these calls.
type Store interface {
	AccountReader

	// Transaction returns the transaction by id, or ErrTransactionNotFound.
	Transaction(ctx context.Context, id TransactionID) (*Transaction, error)

	// AccountTransactions returns all transactions with a split posted to
	// the account, date-ascending. Zero from/to leave that end open.
	AccountTransactions(ctx context.Context, account AccountID, from, to Date) ([]*Transaction, error)

	// CommitTransaction inserts or replaces a transaction atomically. The
	// split list must already satisfy CheckBalance; the store re-checks and
	// rejects rather than trusting the caller.
	CommitTransaction(ctx context.Context, tx *Transaction) error

	// RemoveTransaction deletes the transaction.
	RemoveTransaction(ctx context.Context, id TransactionID) error

	// Schedule returns the schedule by id, or ErrScheduleNotFound.
	Schedule(ctx context.Context, id ScheduleID) (*Schedule, error)

	// AccountSchedules returns all schedules whose template posts to the
	// account.
	AccountSchedules(ctx context.Context, account AccountID) ([]*Schedule, error)

	// CommitSchedule inserts or replaces a schedule atomically.
	CommitSchedule(ctx context.Context, s *Schedule) error

	// RemoveSchedule deletes the schedule.
	RemoveSchedule(ctx context.Context, id ScheduleID) error

	// EnterOccurrence realizes one occurrence: commits the transaction and
	// records the due date in the schedule's entered set, atomically.
	EnterOccurrence(ctx context.Context, id ScheduleID, due Date, tx *Transaction) error

	// CancelOccurrence records the due date in the canceled set.
	CancelOccurrence(ctx context.Context, id ScheduleID, due Date) error

	// Subscribe registers an observer for mutation events.
	Subscribe(obs StoreObserver)

	// Unsubscribe removes a previously registered observer.
	Unsubscribe(obs StoreObserver)
}

// =============================================================================
// STORE EVENTS
// =============================================================================

// StoreObserver receives mutation events. Callbacks run synchronously on
// the mutating goroutine, after the store's own state is consistent.
type StoreObserver interface {
	SplitAdded(tx *Transaction, split Split)
	SplitRemoved(tx *Transaction, split Split)
	SplitAmountChanged(tx *Transaction, split Split)
	TransactionDateChanged(tx *Transaction, oldDate Date)

	ScheduleAdded(s *Schedule)
	ScheduleRemoved(s *Schedule)
	ScheduleModified(s *Schedule)
	OccurrenceEntered(s *Schedule, due Date)
	OccurrenceCanceled(s *Schedule, due Date)
}

// =============================================================================
// NOTIFIER - Shared observer bookkeeping for Store implementations
// =============================================================================

// Notifier implements the Subscribe/Unsubscribe half of Store and fans
// events out to observers. Store implementations embed it.
type Notifier struct {
	mu        sync.Mutex
	observers []StoreObserver
}

func (n *Notifier) Subscribe(obs StoreObserver) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.observers = append(n.observers, obs)
}

func (n *Notifier) Unsubscribe(obs StoreObserver) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, o := range n.observers {
		if o == obs {
			n.observers = append(n.observers[:i], n.observers[i+1:]...)
			return
		}
	}
}

func (n *Notifier) each(fn func(StoreObserver)) {
	n.mu.Lock()
	obs := append([]StoreObserver(nil), n.observers...)
	n.mu.Unlock()
	for _, o := range obs {
		fn(o)
	}
}

func (n *Notifier) NotifyScheduleAdded(s *Schedule) {
	n.each(func(o StoreObserver) { o.ScheduleAdded(s) })
}

func (n *Notifier) NotifyScheduleRemoved(s *Schedule) {
	n.each(func(o StoreObserver) { o.ScheduleRemoved(s) })
}

func (n *Notifier) NotifyScheduleModified(s *Schedule) {
	n.each(func(o StoreObserver) { o.ScheduleModified(s) })
}

func (n *Notifier) NotifyOccurrenceEntered(s *Schedule, due Date) {
	n.each(func(o StoreObserver) { o.OccurrenceEntered(s, due) })
}

func (n *Notifier) NotifyOccurrenceCanceled(s *Schedule, due Date) {
	n.each(func(o StoreObserver) { o.OccurrenceCanceled(s, due) })
}

// NotifyTransactionDiff announces the split-level difference between the
// previous and the committed state of one transaction. Either side may be
// nil (insert, delete). The date change, if any, is announced first so
// observers reposition before they re-read split content.
func (n *Notifier) NotifyTransactionDiff(old, new *Transaction) {
	if old != nil && new != nil && !old.Date.Equal(new.Date) {
		n.each(func(o StoreObserver) { o.TransactionDateChanged(new, old.Date) })
	}

	oldSplits := make(map[AccountID]Split)
	if old != nil {
		for _, s := range old.Splits {
			oldSplits[s.Account] = s
		}
	}
	if new != nil {
		for _, s := range new.Splits {
			prev, existed := oldSplits[s.Account]
			switch {
			case !existed:
				split := s
				n.each(func(o StoreObserver) { o.SplitAdded(new, split) })
			case !prev.Amount.Equal(s.Amount) || prev.Unit != s.Unit:
				split := s
				n.each(func(o StoreObserver) { o.SplitAmountChanged(new, split) })
			}
			delete(oldSplits, s.Account)
		}
	}
	for _, s := range oldSplits {
		split := s
		// Removed splits are announced against the surviving transaction
		// when there is one, against the old state on full deletion.
		target := new
		if target == nil {
			target = old
		}
		n.each(func(o StoreObserver) { o.SplitRemoved(target, split) })
	}
}
