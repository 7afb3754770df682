/*
controller.go - Orchestrates cache + buffer for exactly one account

PURPOSE:
  The controller is the engine's outward face for one account register.
  It owns the edit state machine (at most one live buffer), resolves the
  view scheme for the account's type, answers the display addressing
  queries (main rows, sub-rows, column values, editability, actions) and
  drives the commit surface.

CYCLE BREAK:
  The cache needs sub-row counts, which are scheme policy. The controller
  implements the cache's SubRowSource by delegating to the scheme as a
  pure query - the cache asks, nothing pushes state back during the ask.

EDIT SERIALIZATION:
  Exactly one edit may be active. Starting a second one fails with
  ErrEditInProgress unless the caller explicitly discards first. This is
  the sole serialization point the engine exposes.

SEE ALSO:
  - cache.go: Row storage and ordering
  - buffer.go: The scratch edit state
  - scheme.go: Column layout and editability policy
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
)

// Controller wires one account's cache, buffer and scheme together.
type Controller struct {
	store   Store
	account Account
	scheme  Scheme
	cache   *Cache
	buffer  *Buffer

	// autoTrading makes Commit synthesize trading splits for cross-unit
	// imbalance before the hard check, the way multi-currency books
	// expect. Off, Commit fails unless the user applied trading manually.
	autoTrading bool
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithScheme overrides scheme resolution, mainly for tests and plugins.
func WithScheme(s Scheme) ControllerOption {
	return func(c *Controller) { c.scheme = s }
}

// WithAutoTrading toggles trading-split synthesis at commit. Default on.
func WithAutoTrading(enabled bool) ControllerOption {
	return func(c *Controller) { c.autoTrading = enabled }
}

// CacheOptions forwards options to the underlying cache.
func CacheOptions(opts ...CacheOption) ControllerOption {
	return func(c *Controller) {
		c.cache = NewCache(c.store, c.account.ID, opts...)
	}
}

// NewController resolves the account and its scheme, builds the cache and
// loads it. The controller subscribes to the store through its cache;
// call Close when done.
func NewController(ctx context.Context, store Store, account AccountID, opts ...ControllerOption) (*Controller, error) {
	info, err := store.Account(ctx, account)
	if err != nil {
		return nil, err
	}
	c := &Controller{
		store:       store,
		account:     info,
		autoTrading: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.scheme == nil {
		scheme, ok := SchemeFor(info, store)
		if !ok {
			return nil, fmt.Errorf("no view scheme registered for account type %q", info.Type)
		}
		c.scheme = scheme
	}
	if c.cache == nil {
		c.cache = NewCache(store, info.ID)
	}
	c.cache.SetSubRowSource(c)
	c.buffer = NewBuffer(store, info)
	if err := c.cache.Reload(ctx); err != nil {
		c.cache.Close()
		return nil, err
	}
	return c, nil
}

// Close detaches the controller's cache from the store.
func (c *Controller) Close() { c.cache.Close() }

func (c *Controller) Account() Account { return c.account }
func (c *Controller) Cache() *Cache    { return c.cache }
func (c *Controller) Scheme() Scheme   { return c.scheme }

// SetObserver forwards the structural-change observer to the cache.
func (c *Controller) SetObserver(obs RowObserver) { c.cache.SetObserver(obs) }

// SubRowCount implements SubRowSource by asking the scheme. Pure query;
// the cycle Cache -> Controller -> Scheme never pushes state back.
func (c *Controller) SubRowCount(row *Row) int {
	return c.scheme.SubRowCount(row)
}

// =============================================================================
// QUERY SURFACE
// =============================================================================

// RowCount returns the number of main rows, honoring any active filter.
func (c *Controller) RowCount() int { return c.cache.FilteredLen() }

// RowAt resolves a (possibly filtered) display position to its row.
func (c *Controller) RowAt(i int) *Row { return c.cache.FilteredRow(i) }

// Columns returns the register's column layout.
func (c *Controller) Columns() []Column { return c.scheme.Columns() }

// DisplayValue renders one cell. The balance column is answered from the
// cache's running balance; everything else is scheme policy.
func (c *Controller) DisplayValue(i int, col Column) string {
	return c.scheme.DisplayValue(c.RowAt(i), col)
}

// SubRowValue renders one detail sub-row cell.
func (c *Controller) SubRowValue(i, sub int, col Column) string {
	return c.scheme.SubRowValue(c.RowAt(i), sub, col)
}

// EditValue returns the raw value an edit starts from.
func (c *Controller) EditValue(i int, col Column) string {
	return c.scheme.EditValue(c.RowAt(i), col)
}

// IsEditable reports whether the cell may be edited.
func (c *Controller) IsEditable(i int, col Column) bool {
	return c.scheme.IsEditable(c.RowAt(i), col)
}

// Actions returns the extra operations applicable to the selection.
func (c *Controller) Actions(sel Selection) []Action {
	return c.scheme.Actions(sel)
}

// EditState reports the buffer's current state.
func (c *Controller) EditState() EditState { return c.buffer.State() }

// Buffer exposes the live edit buffer for field-level access.
func (c *Controller) Buffer() *Buffer { return c.buffer }

// =============================================================================
// COMMIT SURFACE
// =============================================================================

// StartEdit begins editing the row at display position i. A transaction
// row edits its committed content; a virtual row realizes the occurrence.
// Fails with ErrEditInProgress while another edit is active.
func (c *Controller) StartEdit(i int) error {
	row := c.RowAt(i)
	if row.IsVirtual() {
		return c.buffer.StartOccurrence(i, row.Schedule, row.Due)
	}
	return c.buffer.StartExisting(i, row.Txn)
}

// StartScheduleEdit begins editing the schedule behind a virtual row.
func (c *Controller) StartScheduleEdit(i int) error {
	row := c.RowAt(i)
	if !row.IsVirtual() {
		return fmt.Errorf("row %d is not a schedule occurrence", i)
	}
	return c.buffer.StartSchedule(i, row.Schedule)
}

// StartNew begins editing the blank row at the end of the register.
func (c *Controller) StartNew() error {
	return c.buffer.StartNew()
}

// SetField applies one field of the active edit, gated by the scheme's
// editability policy for existing rows. A write against a row the
// current filter no longer displays is rejected rather than aimed at
// whatever row now holds that display position.
func (c *Controller) SetField(col Column, value string) error {
	if c.buffer.State() == EditIdle {
		return ErrNoEdit
	}
	if pos := c.buffer.RowPos(); pos >= 0 {
		if pos >= c.cache.FilteredLen() {
			return fmt.Errorf("edited row %d is outside the visible range", pos)
		}
		if !c.scheme.IsEditable(c.RowAt(pos), col) {
			return fmt.Errorf("column %q is read-only here", col)
		}
	}
	return c.buffer.Set(col, value)
}

// Validate runs the buffer's full validation.
func (c *Controller) Validate(ctx context.Context) []FieldError {
	return c.buffer.Validate(ctx)
}

// Commit validates and materializes the active edit. With auto-trading
// on, a pure cross-unit imbalance is repaired by synthesized trading
// splits before the hard check; every other failure blocks the commit.
func (c *Controller) Commit(ctx context.Context) (*CommitResult, error) {
	if c.autoTrading && c.repairableImbalance(ctx) {
		if err := c.buffer.ApplyTrading(); err != nil {
			return nil, err
		}
	}
	return c.buffer.Commit(ctx)
}

// repairableImbalance reports whether the scratch's only validation
// failures are per-unit residues, the one class trading synthesis can
// repair. The balance check itself must report a residue - not a
// duplicate account or an empty split list - and validation must carry
// exactly one failure per imbalanced unit, so coercion failures and
// missing references disqualify the repair.
func (c *Controller) repairableImbalance(ctx context.Context) bool {
	tx := c.buffer.Scratch()
	if c.buffer.State() == EditIdle || tx == nil {
		return false
	}
	var unbalanced *UnbalancedError
	if !errors.As(CheckBalance(tx.Splits), &unbalanced) {
		return false
	}
	errs := c.buffer.Validate(ctx)
	if len(errs) != len(unbalanced.Residue) {
		return false
	}
	for _, e := range errs {
		if e.Column != ColDebit {
			return false
		}
	}
	return true
}

// Discard abandons the active edit atomically.
func (c *Controller) Discard() { c.buffer.Discard() }

// =============================================================================
// ROW ACTIONS
// =============================================================================

// Apply runs a row action against the selection. Actions that edit
// content route through the buffer; occurrence actions hit the store
// directly and the cache follows via events.
func (c *Controller) Apply(ctx context.Context, action Action, sel Selection) error {
	switch action {
	case ActionConvertToSplit:
		if c.buffer.State() == EditIdle {
			if err := c.startEditRow(sel.Row); err != nil {
				return err
			}
		}
		return c.buffer.AddSplit(Split{Unit: c.account.Unit})

	case ActionRemoveSplitLeg:
		if sel.SubRow < 0 {
			return fmt.Errorf("remove split leg needs a sub-row selection")
		}
		if c.buffer.State() == EditIdle {
			if err := c.startEditRow(sel.Row); err != nil {
				return err
			}
		}
		return c.buffer.RemoveSplit(sel.SubRow)

	case ActionCancelOccurrence:
		if sel.Row == nil || !sel.Row.IsVirtual() {
			return fmt.Errorf("cancel occurrence needs a schedule row")
		}
		return c.store.CancelOccurrence(ctx, sel.Row.Schedule.ID, sel.Row.Due)

	case ActionEnterOccurrence:
		if sel.Row == nil || !sel.Row.IsVirtual() {
			return fmt.Errorf("enter occurrence needs a schedule row")
		}
		pos, ok := c.cache.FindOccurrence(sel.Row.Schedule.ID, sel.Row.Due)
		if !ok {
			return ErrScheduleNotFound
		}
		if err := c.startEditAt(pos); err != nil {
			return err
		}
		if _, err := c.Commit(ctx); err != nil {
			c.Discard()
			return err
		}
		return nil

	default:
		return fmt.Errorf("unknown action %q", action)
	}
}

func (c *Controller) startEditRow(row *Row) error {
	if row == nil {
		return fmt.Errorf("action needs a row selection")
	}
	if row.IsVirtual() {
		pos, ok := c.cache.FindOccurrence(row.Schedule.ID, row.Due)
		if !ok {
			return ErrScheduleNotFound
		}
		return c.startEditAt(pos)
	}
	pos, ok := c.cache.FindTransaction(row.Txn.ID)
	if !ok {
		return ErrTransactionNotFound
	}
	return c.startEditAt(pos)
}

// startEditAt opens an edit anchored at an unfiltered cache position.
// The indices answer unfiltered positions while StartEdit addresses the
// displayed sequence, so the position is converted first; a row the
// active filter hides cannot anchor an edit.
func (c *Controller) startEditAt(pos int) error {
	i, ok := c.cache.FilteredIndex(pos)
	if !ok {
		return fmt.Errorf("row at position %d is hidden by the active filter", pos)
	}
	return c.StartEdit(i)
}
