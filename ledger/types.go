/*
Package ledger provides the core ledger engine.

PURPOSE:
  This package contains the domain types and algorithms behind a register
  view over double-entry transactions: the sorted ledger cache, the edit
  buffer, recurrence expansion for schedules, and the zero-sum balance
  invariant across currencies and securities.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: A signed decimal quantity in a balancing Unit
  - Unit: A balancing unit — a currency code or a security identifier
  - Split: One leg of a transaction, posted to exactly one account
  - Transaction: An ordered set of splits that must net to zero per unit
  - Schedule: A template transaction plus a Recurrence and exception sets

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal to avoid floating-point errors
  2. Type Safety: Strong typing for IDs prevents mixing account/payee IDs
  3. Ownership: Splits are owned by their Transaction; the cache and the
     indices only ever hold references
  4. Derivation: Running balances and occurrences are computed, never stored

SEE ALSO:
  - balancing.go: The zero-sum invariant and trading-split synthesis
  - recurrence.go: Occurrence generation for schedules
  - cache.go: The sorted, indexed register over one account
*/
package ledger

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// BALANCING UNIT - What splits are summed against
// =============================================================================

// UnitKind distinguishes the two flavors of balancing unit.
type UnitKind string

const (
	UnitCurrency UnitKind = "currency"
	UnitSecurity UnitKind = "security"
)

// Unit is a balancing unit: a currency code (ISO 4217) or a security
// identifier. Every split carries one, and the zero-sum invariant holds
// per unit, never across units.
type Unit struct {
	Kind UnitKind
	Code string
}

func Currency(code string) Unit { return Unit{Kind: UnitCurrency, Code: code} }
func Security(id string) Unit   { return Unit{Kind: UnitSecurity, Code: id} }

func (u Unit) IsCurrency() bool { return u.Kind == UnitCurrency }
func (u Unit) IsSecurity() bool { return u.Kind == UnitSecurity }
func (u Unit) IsZero() bool     { return u.Code == "" }

func (u Unit) String() string {
	if u.Kind == UnitSecurity {
		return "sec:" + u.Code
	}
	return u.Code
}

// =============================================================================
// AMOUNT - Signed decimal quantity in a unit
// =============================================================================

type Amount struct {
	Value decimal.Decimal
	Unit  Unit
}

func NewAmount(value float64, unit Unit) Amount {
	return Amount{Value: decimal.NewFromFloat(value), Unit: unit}
}

func NewAmountFromDecimal(value decimal.Decimal, unit Unit) Amount {
	return Amount{Value: value, Unit: unit}
}

func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (a Amount) Zero() Amount              { return Amount{Value: decimal.Zero, Unit: a.Unit} }
func (a Amount) Add(b Amount) Amount       { return Amount{Value: a.Value.Add(b.Value), Unit: a.Unit} }
func (a Amount) Sub(b Amount) Amount       { return Amount{Value: a.Value.Sub(b.Value), Unit: a.Unit} }
func (a Amount) Neg() Amount               { return Amount{Value: a.Value.Neg(), Unit: a.Unit} }
func (a Amount) Abs() Amount               { return Amount{Value: a.Value.Abs(), Unit: a.Unit} }
func (a Amount) IsZero() bool              { return a.Value.IsZero() }
func (a Amount) IsNegative() bool          { return a.Value.IsNegative() }
func (a Amount) IsPositive() bool          { return a.Value.IsPositive() }
func (a Amount) GreaterThan(b Amount) bool { return a.Value.GreaterThan(b.Value) }
func (a Amount) LessThan(b Amount) bool    { return a.Value.LessThan(b.Value) }
func (a Amount) Equal(b Amount) bool       { return a.Unit == b.Unit && a.Value.Equal(b.Value) }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type TransactionID string
type AccountID string
type PayeeID string
type ScheduleID string

// AccountType selects the view scheme for an account's register.
// Plugins may register additional types.
type AccountType string

const (
	AccountGeneric    AccountType = "generic"
	AccountInvestment AccountType = "investment"
	AccountBrokerage  AccountType = "brokerage"
	AccountTrading    AccountType = "trading"
)

// =============================================================================
// TRANSACTION - Ordered splits that net to zero per unit
// =============================================================================

// Status is the reconciliation marker of a transaction.
type Status string

const (
	StatusNone    Status = ""
	StatusCleared Status = "cleared"
	StatusFlagged Status = "flagged"
)

// Split is one leg of a transaction. A split is owned exclusively by its
// Transaction; index structures reference it, never own it.
type Split struct {
	Account  AccountID
	Amount   decimal.Decimal // signed
	Unit     Unit
	Memo     string
	Metadata map[string]string // opaque user data, round-tripped untouched
}

func (s Split) Signed() Amount { return Amount{Value: s.Amount, Unit: s.Unit} }

// Transaction is the unit of double-entry bookkeeping.
//
// INVARIANTS:
//   - Splits balance: for every unit, signed amounts sum to zero
//   - No account id appears in two splits
//
// Both are enforced by CheckBalance before any commit.
type Transaction struct {
	ID          TransactionID
	Date        Date
	Num         string // user-visible number/reference, free text
	Payee       PayeeID
	Memo        string
	Status      Status
	Attachments []string
	Splits      []Split
	Properties  map[string]string
}

// SplitFor returns the split posted to the given account, if any.
func (t *Transaction) SplitFor(account AccountID) (Split, bool) {
	for _, s := range t.Splits {
		if s.Account == account {
			return s, true
		}
	}
	return Split{}, false
}

// Touches reports whether any split posts to the account.
func (t *Transaction) Touches(account AccountID) bool {
	_, ok := t.SplitFor(account)
	return ok
}

// Clone returns a deep copy. The edit buffer works on clones so that a
// discarded edit leaves the stored transaction untouched.
func (t *Transaction) Clone() *Transaction {
	c := *t
	c.Attachments = append([]string(nil), t.Attachments...)
	c.Splits = make([]Split, len(t.Splits))
	for i, s := range t.Splits {
		c.Splits[i] = s
		if s.Metadata != nil {
			c.Splits[i].Metadata = make(map[string]string, len(s.Metadata))
			for k, v := range s.Metadata {
				c.Splits[i].Metadata[k] = v
			}
		}
	}
	if t.Properties != nil {
		c.Properties = make(map[string]string, len(t.Properties))
		for k, v := range t.Properties {
			c.Properties[k] = v
		}
	}
	return &c
}

// =============================================================================
// SCHEDULE - Template transaction + recurrence + exception sets
// =============================================================================

// Frequency of a recurrence rule.
type Frequency string

const (
	FreqOnce    Frequency = "once"
	FreqDaily   Frequency = "daily"
	FreqWeekly  Frequency = "weekly"
	FreqMonthly Frequency = "monthly"
	FreqYearly  Frequency = "yearly"
)

// Recurrence describes when a schedule falls due.
//
// The optional day sets narrow each period: Weekdays for weekly rules,
// DaysOfMonth for monthly rules, YearDays for yearly rules. An empty set
// falls back to the start date's own weekday / day-of-month / (month, day).
// The stop condition is Until, Remaining, or neither (unbounded).
type Recurrence struct {
	Start       Date
	Frequency   Frequency
	Interval    int // every N periods; 0 is treated as 1
	Weekdays    []int
	DaysOfMonth []int
	YearDays    []MonthDay
	Until       *Date
	Remaining   *int
}

// Schedule is a recurring transaction template. Occurrences are computed on
// demand and never persisted individually; the two exception sets record
// which computed dates have been entered as real transactions or canceled.
type Schedule struct {
	ID         ScheduleID
	Name       string
	Template   Transaction
	Recurrence Recurrence
	Entered    DateSet
	Canceled   DateSet
	Active     bool
	AutoEnter  bool
}

// Exceptions returns the union of the entered and canceled sets, which is
// what the recurrence engine filters against.
func (s *Schedule) Exceptions() DateSet {
	u := make(DateSet, len(s.Entered)+len(s.Canceled))
	for d := range s.Entered {
		u[d] = struct{}{}
	}
	for d := range s.Canceled {
		u[d] = struct{}{}
	}
	return u
}

// Clone returns a deep copy of the schedule.
func (s *Schedule) Clone() *Schedule {
	c := *s
	c.Template = *s.Template.Clone()
	c.Entered = s.Entered.Clone()
	c.Canceled = s.Canceled.Clone()
	if s.Recurrence.Until != nil {
		u := *s.Recurrence.Until
		c.Recurrence.Until = &u
	}
	if s.Recurrence.Remaining != nil {
		r := *s.Recurrence.Remaining
		c.Recurrence.Remaining = &r
	}
	c.Recurrence.Weekdays = append([]int(nil), s.Recurrence.Weekdays...)
	c.Recurrence.DaysOfMonth = append([]int(nil), s.Recurrence.DaysOfMonth...)
	c.Recurrence.YearDays = append([]MonthDay(nil), s.Recurrence.YearDays...)
	return &c
}
