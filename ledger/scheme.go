/*
scheme.go - Pluggable per-account-type register policy

PURPOSE:
  A register's shape depends on what kind of account it shows: a cash
  account has debit/credit columns, an investment account adds action,
  quantity and price. The Scheme interface captures exactly that policy -
  column identity, per-row editability, sub-row counts, display and edit
  values, and selection-gated row actions - and nothing else, so account
  types stay a narrow capability instead of an inheritance chain.

SELECTION:
  Concrete schemes live in the views package; plugins register factories
  here, keyed by account type, and the controller resolves one at
  construction time.

SEE ALSO:
  - views/: Built-in schemes (generic cash, investment, brokerage)
  - controller.go: Resolves and delegates to the scheme
*/
package ledger

import (
	"sort"
	"sync"
)

// =============================================================================
// COLUMNS
// =============================================================================

// Column identifies one register column. Which columns exist for a row is
// the scheme's call; these are the ids the engine itself knows about.
type Column string

const (
	ColNone     Column = ""
	ColDate     Column = "date"
	ColNum      Column = "num"
	ColPayee    Column = "payee"
	ColMemo     Column = "memo"
	ColTransfer Column = "transfer" // other-account / split summary
	ColStatus   Column = "status"
	ColDebit    Column = "debit"
	ColCredit   Column = "credit"
	ColBalance  Column = "balance"

	// Investment columns
	ColAction   Column = "action"
	ColQuantity Column = "quantity"
	ColPrice    Column = "price"
	ColValue    Column = "value"
)

// =============================================================================
// ACTIONS
// =============================================================================

// Action is an extra row-level operation a scheme offers for the current
// selection.
type Action string

const (
	ActionConvertToSplit   Action = "convert_to_split"
	ActionRemoveSplitLeg   Action = "remove_split_leg"
	ActionEnterOccurrence  Action = "enter_occurrence"
	ActionCancelOccurrence Action = "cancel_occurrence"
)

// Selection addresses what the user has selected: a main row, or one of
// its sub-rows. SubRow is -1 for the main row.
type Selection struct {
	Row    *Row
	SubRow int
}

// =============================================================================
// SCHEME
// =============================================================================

// Scheme is the pluggable policy for one account's register.
type Scheme interface {
	// Columns returns the column layout, in display order.
	Columns() []Column

	// IsEditable reports whether the column may be edited on this row.
	// Balance and status stay read-only everywhere; the transfer column
	// only opens up for two-leg single-currency rows.
	IsEditable(row *Row, col Column) bool

	// SubRowCount is the pure sub-row query the cache consumes.
	SubRowCount(row *Row) int

	// DisplayValue renders the column for presentation.
	DisplayValue(row *Row, col Column) string

	// SubRowValue renders the column for one detail sub-row.
	SubRowValue(row *Row, sub int, col Column) string

	// EditValue returns the raw value an edit of the column starts from.
	EditValue(row *Row, col Column) string

	// Actions returns the extra operations applicable to the selection.
	Actions(sel Selection) []Action
}

// SchemeFactory builds a scheme for one account, reading reference data
// through the narrow account view.
type SchemeFactory func(account Account, reader AccountReader) Scheme

// =============================================================================
// REGISTRY - Account type -> scheme factory
// =============================================================================

type schemeRegistry struct {
	mu        sync.RWMutex
	factories map[AccountType]SchemeFactory
}

var schemes = &schemeRegistry{factories: make(map[AccountType]SchemeFactory)}

// RegisterScheme installs a scheme factory for an account type. Built-in
// types register from the views package; plugins add their own the same
// way. Later registrations win, which lets a plugin override a built-in.
func RegisterScheme(t AccountType, f SchemeFactory) {
	schemes.mu.Lock()
	defer schemes.mu.Unlock()
	schemes.factories[t] = f
}

// RegisteredSchemes lists the account types with a registered factory.
func RegisteredSchemes() []AccountType {
	schemes.mu.RLock()
	defer schemes.mu.RUnlock()
	out := make([]AccountType, 0, len(schemes.factories))
	for t := range schemes.factories {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SchemeFor resolves the scheme for an account, falling back to the
// generic factory when the account's type has none registered.
func SchemeFor(account Account, reader AccountReader) (Scheme, bool) {
	schemes.mu.RLock()
	defer schemes.mu.RUnlock()
	if f, ok := schemes.factories[account.Type]; ok {
		return f(account, reader), true
	}
	if f, ok := schemes.factories[AccountGeneric]; ok {
		return f(account, reader), true
	}
	return nil, false
}
