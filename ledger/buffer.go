/*
buffer.go - Scratch representation of the one row being edited

PURPOSE:
  Holds the full editable field set of exactly one cache row - new or
  existing, transaction or schedule - coerces field-level input, runs
  validation, and commits to the store. Until Commit succeeds nothing
  the buffer does touches the store; Discard is a single atomic reset.

STATE MACHINE:
  Idle -> EditingExisting(row) -> Committed | Discarded -> Idle
  Idle -> EditingNew            -> Committed | Discarded -> Idle

  At most one buffer is live per controller, and starting an edit while
  one is active is a caller contract violation - the controller enforces
  it, the buffer only reports it.

COERCION:
  Set(column, value) parses decimals via shopspring/decimal and dates via
  the forgiving godate parser, storing the result in the scratch copy.
  Coercion failures are recorded as field errors and re-surfaced by
  Validate rather than blocking further edits.

COMMIT:
  Commit materializes only when Validate reports no errors. A store-level
  rejection (referenced entity deleted concurrently) is retryable: the
  buffer stays populated so the user can correct and retry.

SEE ALSO:
  - balancing.go: The soft and hard balance checks
  - controller.go: Owns the edit state machine around this buffer
*/
package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	date "github.com/joyt/godate"
	"github.com/shopspring/decimal"
)

// EditState is the buffer's position in the edit state machine.
type EditState string

const (
	EditIdle     EditState = "idle"
	EditExisting EditState = "editing_existing"
	EditNew      EditState = "editing_new"
)

// =============================================================================
// BUFFER
// =============================================================================

// Buffer is the scratch copy of the single row being edited.
type Buffer struct {
	store   Store
	account Account

	state   EditState
	rowPos  int // position of the edited row; -1 for a new row
	scratch *Transaction

	// Set when the edit realizes a schedule occurrence: commit goes
	// through EnterOccurrence instead of CommitTransaction.
	scheduleID ScheduleID
	due        Date

	// Set when the edit targets the schedule itself (recurrence fields).
	schedule *Schedule

	coercion []FieldError // parse failures kept for Validate
}

// NewBuffer builds an idle buffer bound to a store and the register's
// account.
func NewBuffer(store Store, account Account) *Buffer {
	return &Buffer{store: store, account: account, rowPos: -1}
}

func (b *Buffer) State() EditState { return b.state }

// RowPos returns the position of the row being edited, -1 when editing a
// new row or idle.
func (b *Buffer) RowPos() int { return b.rowPos }

// Scratch exposes the working copy for display while editing.
func (b *Buffer) Scratch() *Transaction { return b.scratch }

// ScratchSchedule exposes the schedule working copy, nil unless a
// schedule edit is active.
func (b *Buffer) ScratchSchedule() *Schedule { return b.schedule }

// =============================================================================
// EDIT START
// =============================================================================

// StartExisting begins editing a committed transaction row.
func (b *Buffer) StartExisting(pos int, tx *Transaction) error {
	if b.state != EditIdle {
		return ErrEditInProgress
	}
	b.state = EditExisting
	b.rowPos = pos
	b.scratch = tx.Clone()
	return nil
}

// StartOccurrence begins editing a virtual occurrence row. The scratch is
// the schedule template realized on the due date; committing enters the
// occurrence.
func (b *Buffer) StartOccurrence(pos int, s *Schedule, due Date) error {
	if b.state != EditIdle {
		return ErrEditInProgress
	}
	b.state = EditExisting
	b.rowPos = pos
	b.scratch = s.Template.Clone()
	b.scratch.ID = TransactionID(uuid.NewString())
	b.scratch.Date = due
	b.scheduleID = s.ID
	b.due = due
	return nil
}

// StartSchedule begins editing the schedule behind a virtual row: name,
// recurrence, auto-enter. Committing rewrites the schedule.
func (b *Buffer) StartSchedule(pos int, s *Schedule) error {
	if b.state != EditIdle {
		return ErrEditInProgress
	}
	b.state = EditExisting
	b.rowPos = pos
	b.schedule = s.Clone()
	b.scratch = &b.schedule.Template
	return nil
}

// StartNew begins editing a blank row dated today, pre-seeded with the
// account's own empty leg and one open counter-leg.
func (b *Buffer) StartNew() error {
	if b.state != EditIdle {
		return ErrEditInProgress
	}
	b.state = EditNew
	b.rowPos = -1
	b.scratch = &Transaction{
		ID:   TransactionID(uuid.NewString()),
		Date: Today(),
		Splits: []Split{
			{Account: b.account.ID, Unit: b.defaultUnit()},
		},
	}
	return nil
}

func (b *Buffer) defaultUnit() Unit {
	if !b.account.Unit.IsZero() {
		return b.account.Unit
	}
	return Currency("USD")
}

// =============================================================================
// FIELD MUTATION
// =============================================================================

// Set applies a field value to the scratch copy with light coercion. It
// never touches the store, and a bad value never blocks further edits -
// the failure resurfaces from Validate against the same column.
func (b *Buffer) Set(col Column, value string) error {
	if b.state == EditIdle {
		return ErrNoEdit
	}
	value = strings.TrimSpace(value)

	switch col {
	case ColDate:
		t, err := date.Parse(value)
		if err != nil {
			b.coerceErr(col, fmt.Sprintf("unparseable date %q", value))
			return nil
		}
		b.clearCoerceErr(col)
		b.scratch.Date = DateOf(t)

	case ColNum:
		b.scratch.Num = value

	case ColPayee:
		b.scratch.Payee = PayeeID(value)

	case ColMemo:
		b.scratch.Memo = value

	case ColDebit, ColCredit:
		// A debit row shows an empty credit cell and vice versa; writing
		// that emptiness back leaves the amount alone.
		if value == "" {
			b.clearCoerceErr(ColDebit)
			b.clearCoerceErr(ColCredit)
			return nil
		}
		d, err := decimal.NewFromString(value)
		if err != nil {
			b.coerceErr(col, fmt.Sprintf("unparseable amount %q", value))
			return nil
		}
		b.clearCoerceErr(ColDebit)
		b.clearCoerceErr(ColCredit)
		if col == ColCredit {
			d = d.Neg()
		}
		b.setOwnAmount(d)

	case ColQuantity:
		if value == "" {
			b.clearCoerceErr(col)
			return nil
		}
		d, err := decimal.NewFromString(value)
		if err != nil {
			b.coerceErr(col, fmt.Sprintf("unparseable quantity %q", value))
			return nil
		}
		b.clearCoerceErr(col)
		b.setOwnAmount(d)

	case ColTransfer:
		b.setTransfer(AccountID(value))

	case ColAction, ColPrice:
		if b.scratch.Properties == nil {
			b.scratch.Properties = make(map[string]string)
		}
		b.scratch.Properties[string(col)] = value

	default:
		return fmt.Errorf("column %q is not editable", col)
	}
	return nil
}

// setOwnAmount writes the signed amount onto the account's own leg and,
// for a plain two-leg single-unit transaction, mirrors the negation onto
// the counter-leg so simple edits stay balanced by construction.
func (b *Buffer) setOwnAmount(d decimal.Decimal) {
	own := -1
	for i := range b.scratch.Splits {
		if b.scratch.Splits[i].Account == b.account.ID {
			own = i
			break
		}
	}
	if own == -1 {
		b.scratch.Splits = append(b.scratch.Splits, Split{Account: b.account.ID, Unit: b.defaultUnit()})
		own = len(b.scratch.Splits) - 1
	}
	b.scratch.Splits[own].Amount = d

	if len(b.scratch.Splits) == 2 {
		other := 1 - own
		if b.scratch.Splits[other].Unit == b.scratch.Splits[own].Unit {
			b.scratch.Splits[other].Amount = d.Neg()
		}
	}
}

// setTransfer points the counter-leg of a two-leg transaction at another
// account, creating the leg when only the account's own exists.
func (b *Buffer) setTransfer(target AccountID) {
	own := -1
	for i := range b.scratch.Splits {
		if b.scratch.Splits[i].Account == b.account.ID {
			own = i
			break
		}
	}
	switch {
	case own == -1:
		// No own leg yet; nothing sensible to mirror.
		b.scratch.Splits = append(b.scratch.Splits, Split{Account: target, Unit: b.defaultUnit()})
	case len(b.scratch.Splits) == 1:
		s := b.scratch.Splits[own]
		b.scratch.Splits = append(b.scratch.Splits, Split{
			Account: target,
			Amount:  s.Amount.Neg(),
			Unit:    s.Unit,
		})
	case len(b.scratch.Splits) == 2:
		other := 1 - own
		b.scratch.Splits[other].Account = target
	default:
		// More than two legs: the transfer column is read-only, enforced
		// by the scheme; reaching here is a caller bug but harmless.
	}
}

// SetStatus toggles the cleared/flagged marker. Kept off the Set column
// path: status is read-only in the register grid and changed through a
// dedicated action.
func (b *Buffer) SetStatus(st Status) error {
	if b.state == EditIdle {
		return ErrNoEdit
	}
	b.scratch.Status = st
	return nil
}

// SetSplit overwrites one leg of the scratch split list. Used for
// sub-row editing of split transactions.
func (b *Buffer) SetSplit(i int, s Split) error {
	if b.state == EditIdle {
		return ErrNoEdit
	}
	if i < 0 || i >= len(b.scratch.Splits) {
		return fmt.Errorf("split %d out of range", i)
	}
	b.scratch.Splits[i] = s
	return nil
}

// AddSplit appends a leg ("convert to split").
func (b *Buffer) AddSplit(s Split) error {
	if b.state == EditIdle {
		return ErrNoEdit
	}
	b.scratch.Splits = append(b.scratch.Splits, s)
	return nil
}

// RemoveSplit drops a leg ("remove split leg").
func (b *Buffer) RemoveSplit(i int) error {
	if b.state == EditIdle {
		return ErrNoEdit
	}
	if i < 0 || i >= len(b.scratch.Splits) {
		return fmt.Errorf("split %d out of range", i)
	}
	b.scratch.Splits = append(b.scratch.Splits[:i], b.scratch.Splits[i+1:]...)
	return nil
}

// SetRecurrence replaces the recurrence of an active schedule edit.
func (b *Buffer) SetRecurrence(r Recurrence) error {
	if b.schedule == nil {
		return ErrNoEdit
	}
	b.schedule.Recurrence = r
	return nil
}

// SetScheduleName renames the schedule of an active schedule edit.
func (b *Buffer) SetScheduleName(name string) error {
	if b.schedule == nil {
		return ErrNoEdit
	}
	b.schedule.Name = name
	return nil
}

// SetAutoEnter flips auto-entering for an active schedule edit.
func (b *Buffer) SetAutoEnter(auto bool) error {
	if b.schedule == nil {
		return ErrNoEdit
	}
	b.schedule.AutoEnter = auto
	return nil
}

func (b *Buffer) coerceErr(col Column, msg string) {
	b.clearCoerceErr(col)
	b.coercion = append(b.coercion, FieldError{Message: msg, Column: col})
}

func (b *Buffer) clearCoerceErr(col Column) {
	out := b.coercion[:0]
	for _, e := range b.coercion {
		if e.Column != col {
			out = append(out, e)
		}
	}
	b.coercion = out
}

// =============================================================================
// VALIDATION
// =============================================================================

// Validate runs every structural and referential check plus the balance
// invariant on the scratch split list. It returns the full list of
// failures with the column to refocus; an empty list means Commit may
// proceed. Validation is speculative: it never mutates the scratch and
// never blocks further edits.
func (b *Buffer) Validate(ctx context.Context) []FieldError {
	if b.state == EditIdle {
		return []FieldError{{Message: "no edit in progress"}}
	}

	errs := append([]FieldError(nil), b.coercion...)

	if b.scratch.Date.IsZero() {
		errs = append(errs, FieldError{Message: "date is required", Column: ColDate})
	}
	if len(b.scratch.Splits) == 0 {
		errs = append(errs, FieldError{Message: "transaction has no splits", Column: ColDebit})
	}

	// Referential checks: every account must exist and be open, the payee
	// must exist when set. Missing references are recoverable - the user
	// edits the field and retries.
	for _, s := range b.scratch.Splits {
		a, err := b.store.Account(ctx, s.Account)
		if err != nil {
			errs = append(errs, FieldError{
				Message: fmt.Sprintf("account %q does not exist", s.Account),
				Column:  ColTransfer,
			})
			continue
		}
		if a.Closed {
			errs = append(errs, FieldError{
				Message: fmt.Sprintf("account %q is closed", s.Account),
				Column:  ColTransfer,
			})
		}
	}
	if b.scratch.Payee != "" {
		if _, err := b.store.Payee(ctx, b.scratch.Payee); err != nil {
			errs = append(errs, FieldError{
				Message: fmt.Sprintf("payee %q does not exist", b.scratch.Payee),
				Column:  ColPayee,
			})
		}
	}

	if b.schedule != nil {
		if err := b.schedule.Recurrence.Validate(); err != nil {
			errs = append(errs, FieldError{Message: err.Error(), Column: ColDate})
		}
	}

	if len(b.scratch.Splits) > 0 {
		switch err := CheckBalance(b.scratch.Splits).(type) {
		case nil:
		case *DuplicateAccountError:
			errs = append(errs, FieldError{
				Message: fmt.Sprintf("account %q appears twice", err.Account),
				Column:  ColTransfer,
			})
		case *UnbalancedError:
			for _, unit := range unitsOf(err.Residue) {
				errs = append(errs, FieldError{
					Message: fmt.Sprintf("splits do not balance in %s (off by %s)",
						unit, err.Residue[unit].Value.String()),
					Column: ColDebit,
				})
			}
		default:
			errs = append(errs, FieldError{Message: err.Error()})
		}
	}
	return errs
}

func unitsOf(m map[Unit]Amount) []Unit {
	out := make([]Unit, 0, len(m))
	for u := range m {
		out = append(out, u)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].String() < out[j-1].String(); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// ApplyTrading repairs a cross-unit imbalance by synthesizing trading
// splits into the scratch. After a successful call the balance check
// passes; duplicate-account collisions are returned untouched.
func (b *Buffer) ApplyTrading() error {
	if b.state == EditIdle {
		return ErrNoEdit
	}
	balanced, err := BalanceWithTrading(b.scratch.Splits, b.store)
	if err != nil {
		return err
	}
	b.scratch.Splits = balanced
	return nil
}

// =============================================================================
// COMMIT / DISCARD
// =============================================================================

// CommitResult reports what a successful commit produced.
type CommitResult struct {
	Txn      *Transaction
	Schedule *Schedule
}

// Commit materializes the scratch through the store, but only when
// Validate reports no errors. On success the buffer resets to Idle. A
// store-level rejection comes back wrapped as retryable and leaves the
// buffer populated.
func (b *Buffer) Commit(ctx context.Context) (*CommitResult, error) {
	if b.state == EditIdle {
		return nil, ErrNoEdit
	}
	if errs := b.Validate(ctx); len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrValidationFailed, errs[0].Error())
	}

	var err error
	result := &CommitResult{}
	switch {
	case b.schedule != nil:
		err = b.store.CommitSchedule(ctx, b.schedule)
		result.Schedule = b.schedule
	case b.scheduleID != "":
		err = b.store.EnterOccurrence(ctx, b.scheduleID, b.due, b.scratch)
		result.Txn = b.scratch
	default:
		err = b.store.CommitTransaction(ctx, b.scratch)
		result.Txn = b.scratch
	}
	if err != nil {
		if IsRetryable(err) {
			return nil, err // buffer stays populated for correction
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreRejected, err)
	}

	b.reset()
	return result, nil
}

// Discard resets the buffer to Idle. Atomic, with no store side effects.
func (b *Buffer) Discard() {
	b.reset()
}

func (b *Buffer) reset() {
	b.state = EditIdle
	b.rowPos = -1
	b.scratch = nil
	b.schedule = nil
	b.scheduleID = ""
	b.due = Date{}
	b.coercion = nil
}
