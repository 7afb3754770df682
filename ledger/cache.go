/*
cache.go - The sorted, indexed register over one account

PURPOSE:
  Maintains a live view over every transaction touching one account,
  interleaved with the computed future occurrences of every active
  schedule referencing it. Rows stay sorted under arbitrary insert,
  update, delete and move; two reverse indices give O(1) lookup from a
  transaction id or a (schedule, due date) pair to the current position;
  a running balance column is recomputed for every row downstream of a
  mutation, never for the rows above it.

ORDERING:
  One comparator rules every operation - lookup, insert, reposition:
    1. date ascending
    2. real transactions before virtual occurrences
    3. descending total signed contribution to the account (configurable)
    4. insertion sequence (stable)
  It is never re-derived ad hoc; compare() is the single source of truth.

RUNNING BALANCE:
  Accumulated top-to-bottom from committed transactions and past-dated
  occurrences only. A future-dated occurrence row carries the balance
  as of the row above it - scheduled money never moves the displayed
  balance.

OBSERVABILITY:
  Every structural change is announced as a range operation (about-to,
  mutate, done) so a table presentation can apply a minimal diff. Sub-row
  count changes announce only the affected sub-row range. Sub-row counts
  are obtained from a pure query source; the cache never pushes state
  into the controller or scheme during that query.

CONCURRENCY:
  Single-threaded and cooperative. Store events are processed to
  completion - reindex and rebalance included - before control returns,
  so observers never see a partially-reindexed state.

SEE ALSO:
  - store.go: The events this cache consumes
  - recurrence.go: Occurrence generation
  - controller.go: The cache's main consumer
*/
package ledger

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ROW - One displayed entry: real transaction or virtual occurrence
// =============================================================================

// Row is the cache's tagged union: exactly one of Txn or Schedule is set.
// Virtual rows carry the schedule plus the computed due date.
type Row struct {
	Txn      *Transaction
	Schedule *Schedule
	Due      Date

	// SubRows is the cached number of split-detail rows to display.
	SubRows int

	// Balance is the per-unit running balance of the account as of this
	// row. Owned by the cache; callers must not mutate it.
	Balance map[Unit]Amount

	seq int64 // insertion order, final comparator key
}

func (r *Row) IsVirtual() bool { return r.Txn == nil }

// Content returns the transaction content backing the row: the committed
// transaction, or the schedule template for a virtual occurrence.
func (r *Row) Content() *Transaction {
	if r.Txn != nil {
		return r.Txn
	}
	return &r.Schedule.Template
}

// EffectiveDate is the sort date: the transaction date, or the due date.
func (r *Row) EffectiveDate() Date {
	if r.Txn != nil {
		return r.Txn.Date
	}
	return r.Due
}

// OccKey addresses a virtual row: schedule id plus due date.
type OccKey struct {
	Schedule ScheduleID
	Due      Date
}

// =============================================================================
// OBSERVER - Range-based structural change notifications
// =============================================================================

// Range is an inclusive [From, To] span of row positions.
type Range struct {
	From, To int
}

func span(i int) Range { return Range{From: i, To: i} }

// RowObserver receives structural changes as begin/mutate/end range
// operations, mirrored for sub-row ranges. All callbacks are synchronous.
type RowObserver interface {
	RowsAboutToInsert(r Range)
	RowsInserted(r Range)
	RowsAboutToRemove(r Range)
	RowsRemoved(r Range)
	RowMoved(from, to int)
	RowsChanged(r Range)

	SubRowsAboutToInsert(row int, r Range)
	SubRowsInserted(row int, r Range)
	SubRowsAboutToRemove(row int, r Range)
	SubRowsRemoved(row int, r Range)
}

// SubRowSource answers sub-row counts as a pure query. The controller's
// view scheme implements it; the query must not mutate cache state.
type SubRowSource interface {
	SubRowCount(row *Row) int
}

// defaultSubRows shows one detail row per extra leg once a transaction has
// more than two.
type defaultSubRows struct{}

func (defaultSubRows) SubRowCount(row *Row) int {
	n := len(row.Content().Splits)
	if n <= 2 {
		return 0
	}
	return n - 1
}

// =============================================================================
// DISPLAY POLICY - How far ahead virtual occurrences materialize
// =============================================================================

// DisplayPolicy bounds occurrence materialization per schedule: a fixed
// count of upcoming occurrences, or everything inside a day window.
// Count wins when both are set.
type DisplayPolicy struct {
	Count      int
	WindowDays int
}

func DefaultDisplayPolicy() DisplayPolicy {
	return DisplayPolicy{WindowDays: 90}
}

func (p DisplayPolicy) bound(today Date) Bound {
	if p.Count > 0 {
		return CountBound(p.Count)
	}
	days := p.WindowDays
	if days <= 0 {
		days = 90
	}
	return UntilBound(today.AddDays(days))
}

// RowPredicate filters rows. Installing one builds a parallel filtered
// sequence; the unfiltered sequence stays intact underneath.
type RowPredicate func(row *Row) bool

// =============================================================================
// CACHE
// =============================================================================

// Cache is the ledger cache for exactly one account. It subscribes to the
// store's mutation events and is the sole writer of its own index and
// balance structures.
type Cache struct {
	store   Store
	account AccountID
	policy  DisplayPolicy
	tieLess func(a, b *Row) int

	observer RowObserver
	subRows  SubRowSource

	rows  []*Row
	byTxn map[TransactionID]int
	byOcc map[OccKey]int

	filter     RowPredicate
	filtered   []int       // positions of matching rows, ascending
	toFiltered map[int]int // row position -> filtered position

	today   Date
	nextSeq int64
}

// CacheOption configures a Cache at construction time.
type CacheOption func(*Cache)

// WithDisplayPolicy overrides the occurrence materialization policy.
func WithDisplayPolicy(p DisplayPolicy) CacheOption {
	return func(c *Cache) { c.policy = p }
}

// WithTieBreak replaces the same-day tie-break between rows of the same
// kind. The default orders by descending total contribution to the
// account; the insertion-sequence key below it always keeps the order
// total and reload-stable.
func WithTieBreak(cmp func(a, b *Row) int) CacheOption {
	return func(c *Cache) { c.tieLess = cmp }
}

// NewCache builds an empty cache and subscribes it to the store. Call
// Reload to populate it, Close to unsubscribe.
func NewCache(store Store, account AccountID, opts ...CacheOption) *Cache {
	c := &Cache{
		store:   store,
		account: account,
		policy:  DefaultDisplayPolicy(),
		subRows: defaultSubRows{},
		byTxn:   make(map[TransactionID]int),
		byOcc:   make(map[OccKey]int),
		today:   Today(),
	}
	c.tieLess = c.contributionTieBreak
	for _, opt := range opts {
		opt(c)
	}
	store.Subscribe(c)
	return c
}

// Close unsubscribes the cache from the store.
func (c *Cache) Close() {
	c.store.Unsubscribe(c)
}

// SetObserver installs the structural-change observer.
func (c *Cache) SetObserver(obs RowObserver) { c.observer = obs }

// SetSubRowSource installs the pure sub-row count query, normally the
// controller's view scheme.
func (c *Cache) SetSubRowSource(src SubRowSource) {
	if src == nil {
		src = defaultSubRows{}
	}
	c.subRows = src
}

func (c *Cache) Account() AccountID { return c.account }

// Len returns the number of rows in the unfiltered sequence.
func (c *Cache) Len() int { return len(c.rows) }

// Row returns the row at position i. Out-of-range positions are a caller
// contract violation and panic.
func (c *Cache) Row(i int) *Row {
	if i < 0 || i >= len(c.rows) {
		panic(fmt.Sprintf("ledger: row %d out of range [0,%d)", i, len(c.rows)))
	}
	return c.rows[i]
}

// FindTransaction returns the current position of a transaction's row.
func (c *Cache) FindTransaction(id TransactionID) (int, bool) {
	i, ok := c.byTxn[id]
	return i, ok
}

// FindOccurrence returns the current position of an occurrence's row.
func (c *Cache) FindOccurrence(id ScheduleID, due Date) (int, bool) {
	i, ok := c.byOcc[OccKey{Schedule: id, Due: due}]
	return i, ok
}

// BalanceAt returns the running balance as of row i.
func (c *Cache) BalanceAt(i int) map[Unit]Amount {
	return c.Row(i).Balance
}

// =============================================================================
// COMPARATOR - The single ordering used everywhere
// =============================================================================

// compare is the shared comparator: negative when a sorts before b.
func (c *Cache) compare(a, b *Row) int {
	if d := a.EffectiveDate().Compare(b.EffectiveDate()); d != 0 {
		return d
	}
	av, bv := a.IsVirtual(), b.IsVirtual()
	if av != bv {
		if av {
			return 1
		}
		return -1
	}
	if d := c.tieLess(a, b); d != 0 {
		return d
	}
	switch {
	case a.seq < b.seq:
		return -1
	case a.seq > b.seq:
		return 1
	}
	return 0
}

// contributionTieBreak orders same-day rows by descending total signed
// contribution to the account. A display heuristic, not an accounting
// rule; see WithTieBreak.
func (c *Cache) contributionTieBreak(a, b *Row) int {
	return c.contribution(b).Cmp(c.contribution(a))
}

// contribution sums the signed amounts this row posts to the account.
func (c *Cache) contribution(r *Row) decimal.Decimal {
	total := decimal.Zero
	for _, s := range r.Content().Splits {
		if s.Account == c.account {
			total = total.Add(s.Amount)
		}
	}
	return total
}

// =============================================================================
// RELOAD - Full rebuild from the store
// =============================================================================

// Reload rebuilds the row list from the store: every transaction touching
// the account merged with the computed occurrences of every active
// schedule referencing it, then one O(n log n) sort and one O(n)
// balance-and-index pass.
func (c *Cache) Reload(ctx context.Context) error {
	txs, err := c.store.AccountTransactions(ctx, c.account, Date{}, Date{})
	if err != nil {
		return err
	}
	schedules, err := c.store.AccountSchedules(ctx, c.account)
	if err != nil {
		return err
	}

	c.today = Today()
	// Rebuilding repopulates both indices from scratch; entries for rows
	// that no longer exist must not survive the reload.
	c.byTxn = make(map[TransactionID]int, len(txs))
	c.byOcc = make(map[OccKey]int)
	if n := len(c.rows); n > 0 && c.observer != nil {
		c.observer.RowsAboutToRemove(Range{From: 0, To: n - 1})
		c.rows = nil
		c.observer.RowsRemoved(Range{From: 0, To: n - 1})
	} else {
		c.rows = nil
	}

	rows := make([]*Row, 0, len(txs))
	for _, tx := range txs {
		rows = append(rows, c.newTxnRow(tx))
	}
	bound := c.policy.bound(c.today)
	for _, s := range schedules {
		if !s.Active {
			continue
		}
		for _, due := range s.Recurrence.Occurrences(s.Exceptions(), bound) {
			rows = append(rows, c.newOccurrenceRow(s, due))
		}
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return c.compare(rows[i], rows[j]) < 0
	})
	c.rows = rows
	c.rebuild(0)

	if n := len(c.rows); n > 0 && c.observer != nil {
		c.observer.RowsAboutToInsert(Range{From: 0, To: n - 1})
		c.observer.RowsInserted(Range{From: 0, To: n - 1})
	}
	c.refilter()
	return nil
}

func (c *Cache) newTxnRow(tx *Transaction) *Row {
	r := &Row{Txn: tx, seq: c.nextSeq}
	c.nextSeq++
	r.SubRows = c.subRows.SubRowCount(r)
	return r
}

func (c *Cache) newOccurrenceRow(s *Schedule, due Date) *Row {
	r := &Row{Schedule: s, Due: due, seq: c.nextSeq}
	c.nextSeq++
	r.SubRows = c.subRows.SubRowCount(r)
	return r
}

// rebuild recomputes indices and running balances from position i onward.
// Every mutation path funnels through here before returning, so the
// indices and the sequence can never drift.
func (c *Cache) rebuild(i int) {
	if i < 0 {
		i = 0
	}
	running := make(map[Unit]Amount)
	if i > 0 {
		for u, a := range c.rows[i-1].Balance {
			running[u] = a
		}
	}
	for j := i; j < len(c.rows); j++ {
		r := c.rows[j]
		if r.Txn != nil {
			c.byTxn[r.Txn.ID] = j
		} else {
			c.byOcc[OccKey{Schedule: r.Schedule.ID, Due: r.Due}] = j
		}
		if c.counts(r) {
			for _, s := range r.Content().Splits {
				if s.Account != c.account {
					continue
				}
				sum, ok := running[s.Unit]
				if !ok {
					sum = Amount{Unit: s.Unit}
				}
				running[s.Unit] = sum.Add(s.Signed())
			}
		}
		snapshot := make(map[Unit]Amount, len(running))
		for u, a := range running {
			snapshot[u] = a
		}
		r.Balance = snapshot
	}
}

// counts reports whether the row moves the displayed balance: every real
// transaction, and only past-dated occurrences.
func (c *Cache) counts(r *Row) bool {
	if !r.IsVirtual() {
		return true
	}
	return !r.Due.After(c.today)
}

// =============================================================================
// STRUCTURAL MUTATIONS
// =============================================================================

// insertRow splices the row in at its sorted position and rebuilds from
// there. Returns the position.
func (c *Cache) insertRow(r *Row) int {
	pos := sort.Search(len(c.rows), func(i int) bool {
		return c.compare(c.rows[i], r) > 0
	})
	if c.observer != nil {
		c.observer.RowsAboutToInsert(span(pos))
	}
	c.rows = append(c.rows, nil)
	copy(c.rows[pos+1:], c.rows[pos:])
	c.rows[pos] = r
	c.rebuild(pos)
	if c.observer != nil {
		c.observer.RowsInserted(span(pos))
	}
	c.refilter()
	return pos
}

// removeRowAt splices the row out and rebuilds from its old position.
func (c *Cache) removeRowAt(pos int) {
	r := c.rows[pos]
	if c.observer != nil {
		c.observer.RowsAboutToRemove(span(pos))
	}
	if r.Txn != nil {
		delete(c.byTxn, r.Txn.ID)
	} else {
		delete(c.byOcc, OccKey{Schedule: r.Schedule.ID, Due: r.Due})
	}
	c.rows = append(c.rows[:pos], c.rows[pos+1:]...)
	c.rebuild(pos)
	if c.observer != nil {
		c.observer.RowsRemoved(span(pos))
	}
	c.refilter()
}

// repositionRow re-sorts one row after its content changed. When the
// comparator still agrees with the current position only the row content
// is refreshed; otherwise the row moves with a single move notification
// and every balance between the old and new position is recomputed.
func (c *Cache) repositionRow(pos int) {
	r := c.rows[pos]
	ordered := true
	if pos > 0 && c.compare(c.rows[pos-1], r) > 0 {
		ordered = false
	}
	if pos < len(c.rows)-1 && c.compare(r, c.rows[pos+1]) > 0 {
		ordered = false
	}
	if ordered {
		c.refreshRow(pos)
		return
	}

	// Splice out, find the new slot, splice back in.
	c.rows = append(c.rows[:pos], c.rows[pos+1:]...)
	to := sort.Search(len(c.rows), func(i int) bool {
		return c.compare(c.rows[i], r) > 0
	})
	c.rows = append(c.rows, nil)
	copy(c.rows[to+1:], c.rows[to:])
	c.rows[to] = r

	from := pos
	low := from
	if to < low {
		low = to
	}
	c.rebuild(low)
	if c.observer != nil {
		c.observer.RowMoved(from, to)
	}
	c.refreshSubRows(to)
	c.refilter()
}

// refreshRow announces a content-only change and recomputes balances from
// the row on, with no reordering notification.
func (c *Cache) refreshRow(pos int) {
	c.rebuild(pos)
	c.refreshSubRows(pos)
	if c.observer != nil {
		c.observer.RowsChanged(span(pos))
	}
	c.refilter()
}

// refreshSubRows re-queries the sub-row count and announces only the
// affected sub-row range when it changed.
func (c *Cache) refreshSubRows(pos int) {
	r := c.rows[pos]
	old := r.SubRows
	now := c.subRows.SubRowCount(r)
	if now == old {
		return
	}
	r.SubRows = now
	if c.observer == nil {
		return
	}
	if now > old {
		rg := Range{From: old, To: now - 1}
		c.observer.SubRowsAboutToInsert(pos, rg)
		c.observer.SubRowsInserted(pos, rg)
	} else {
		rg := Range{From: now, To: old - 1}
		c.observer.SubRowsAboutToRemove(pos, rg)
		c.observer.SubRowsRemoved(pos, rg)
	}
}

// =============================================================================
// STORE EVENT HANDLERS (StoreObserver)
// =============================================================================

// SplitAdded inserts a row when the transaction starts touching the
// account, or refreshes the row when an extra leg landed on a cached one.
func (c *Cache) SplitAdded(tx *Transaction, split Split) {
	if pos, ok := c.byTxn[tx.ID]; ok {
		c.rows[pos].Txn = tx
		c.repositionRow(pos)
		return
	}
	if split.Account != c.account || !tx.Touches(c.account) {
		return
	}
	c.insertRow(c.newTxnRow(tx))
}

// SplitRemoved drops the row when the account's own leg went away, or
// refreshes it when some other leg of a cached transaction did.
func (c *Cache) SplitRemoved(tx *Transaction, split Split) {
	pos, ok := c.byTxn[tx.ID]
	if !ok {
		return
	}
	if split.Account == c.account || !tx.Touches(c.account) {
		c.removeRowAt(pos)
		return
	}
	c.rows[pos].Txn = tx
	c.repositionRow(pos)
}

// SplitAmountChanged repositions when the new amount shifts the ordering,
// otherwise refreshes content in place.
func (c *Cache) SplitAmountChanged(tx *Transaction, split Split) {
	pos, ok := c.byTxn[tx.ID]
	if !ok {
		return
	}
	c.rows[pos].Txn = tx
	c.repositionRow(pos)
}

// TransactionDateChanged moves the row to its new sorted position.
func (c *Cache) TransactionDateChanged(tx *Transaction, oldDate Date) {
	pos, ok := c.byTxn[tx.ID]
	if !ok {
		return
	}
	c.rows[pos].Txn = tx
	c.repositionRow(pos)
}

// ScheduleAdded materializes the schedule's occurrences per the display
// policy.
func (c *Cache) ScheduleAdded(s *Schedule) {
	if !s.Active || !s.Template.Touches(c.account) {
		return
	}
	bound := c.policy.bound(c.today)
	for _, due := range s.Recurrence.Occurrences(s.Exceptions(), bound) {
		c.insertRow(c.newOccurrenceRow(s, due))
	}
}

// ScheduleRemoved drops every occurrence row of the schedule.
func (c *Cache) ScheduleRemoved(s *Schedule) {
	c.dropScheduleRows(s.ID)
}

// ScheduleModified regenerates the schedule's occurrence rows: the rule,
// the exception sets or the template may all have changed.
func (c *Cache) ScheduleModified(s *Schedule) {
	c.dropScheduleRows(s.ID)
	c.ScheduleAdded(s)
}

// OccurrenceEntered removes exactly the entered occurrence row; the
// realized transaction arrives through its own SplitAdded events.
func (c *Cache) OccurrenceEntered(s *Schedule, due Date) {
	if pos, ok := c.byOcc[OccKey{Schedule: s.ID, Due: due}]; ok {
		c.removeRowAt(pos)
	}
}

// OccurrenceCanceled removes exactly the canceled occurrence row, leaving
// every other occurrence in place with unchanged ordering.
func (c *Cache) OccurrenceCanceled(s *Schedule, due Date) {
	if pos, ok := c.byOcc[OccKey{Schedule: s.ID, Due: due}]; ok {
		c.removeRowAt(pos)
	}
}

func (c *Cache) dropScheduleRows(id ScheduleID) {
	for pos := 0; pos < len(c.rows); {
		r := c.rows[pos]
		if r.IsVirtual() && r.Schedule.ID == id {
			c.removeRowAt(pos)
			continue
		}
		pos++
	}
}

// =============================================================================
// FILTER - Parallel filtered sequence
// =============================================================================

// SetFilter installs a predicate and builds the filtered parallel
// sequence. The unfiltered sequence stays intact.
func (c *Cache) SetFilter(pred RowPredicate) {
	c.filter = pred
	c.refilter()
}

// ClearFilter discards the parallel sequence.
func (c *Cache) ClearFilter() {
	c.filter = nil
	c.filtered = nil
	c.toFiltered = nil
}

// FilteredLen returns the filtered row count, or the full count when no
// filter is installed.
func (c *Cache) FilteredLen() int {
	if c.filter == nil {
		return len(c.rows)
	}
	return len(c.filtered)
}

// FilteredRow returns the i-th filtered row.
func (c *Cache) FilteredRow(i int) *Row {
	if c.filter == nil {
		return c.Row(i)
	}
	if i < 0 || i >= len(c.filtered) {
		panic(fmt.Sprintf("ledger: filtered row %d out of range [0,%d)", i, len(c.filtered)))
	}
	return c.rows[c.filtered[i]]
}

// FilteredIndex maps an unfiltered row position to its filtered position.
func (c *Cache) FilteredIndex(pos int) (int, bool) {
	if c.filter == nil {
		return pos, pos >= 0 && pos < len(c.rows)
	}
	i, ok := c.toFiltered[pos]
	return i, ok
}

func (c *Cache) refilter() {
	if c.filter == nil {
		return
	}
	c.filtered = c.filtered[:0]
	c.toFiltered = make(map[int]int)
	for pos, r := range c.rows {
		if c.filter(r) {
			c.toFiltered[pos] = len(c.filtered)
			c.filtered = append(c.filtered, pos)
		}
	}
}
