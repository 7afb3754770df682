/*
Package views provides the built-in view schemes for account registers.

PURPOSE:
  Implements ledger.Scheme for the account types the application ships
  with: the generic cash register, the investment register and the
  brokerage register. Plugins register further schemes through
  ledger.RegisterScheme exactly the way this package does in init.

SHARED BEHAVIOR:
  All three schemes share the base policy: balance and status columns are
  read-only everywhere, the transfer column only opens up for two-leg
  single-currency rows, transactions with more than two legs expand into
  one detail sub-row per extra leg, and currency amounts format through
  go-money's per-currency formatter.

SEE ALSO:
  - ledger/scheme.go: The Scheme contract and registry
*/
package views

import (
	"context"

	money "github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"

	"github.com/warp/ledger-engine/ledger"
)

func init() {
	ledger.RegisterScheme(ledger.AccountGeneric, NewGeneric)
	ledger.RegisterScheme(ledger.AccountTrading, NewGeneric)
	ledger.RegisterScheme(ledger.AccountInvestment, NewInvestment)
	ledger.RegisterScheme(ledger.AccountBrokerage, NewBrokerage)
}

// =============================================================================
// FORMATTING
// =============================================================================

// FormatAmount renders a decimal in its balancing unit: currency amounts
// through go-money's formatter, security quantities as plain decimals
// tagged with the identifier.
func FormatAmount(v decimal.Decimal, unit ledger.Unit) string {
	if unit.IsSecurity() {
		return v.String() + " " + unit.Code
	}
	cur := money.New(0, unit.Code).Currency()
	return cur.Formatter().Format(v.Shift(int32(cur.Fraction)).IntPart())
}

// =============================================================================
// BASE SCHEME - Shared across account types
// =============================================================================

type base struct {
	account ledger.Account
	reader  ledger.AccountReader
}

// ownSplit returns the leg posted to the scheme's account, if present.
func (b base) ownSplit(row *ledger.Row) (ledger.Split, bool) {
	return row.Content().SplitFor(b.account.ID)
}

// otherSplits returns the legs not posted to the scheme's account, in
// transaction order. These are the detail sub-rows.
func (b base) otherSplits(row *ledger.Row) []ledger.Split {
	var out []ledger.Split
	for _, s := range row.Content().Splits {
		if s.Account != b.account.ID {
			out = append(out, s)
		}
	}
	return out
}

// SubRowCount expands transactions with more than two legs into one
// detail row per extra leg.
func (b base) SubRowCount(row *ledger.Row) int {
	n := len(row.Content().Splits)
	if n <= 2 {
		return 0
	}
	return n - 1
}

// isSimpleTransfer reports whether the row is a two-leg single-currency
// transaction, the only shape where the transfer column is editable.
func (b base) isSimpleTransfer(row *ledger.Row) bool {
	splits := row.Content().Splits
	if len(splits) != 2 {
		return false
	}
	return splits[0].Unit == splits[1].Unit && splits[0].Unit.IsCurrency()
}

func (b base) accountName(id ledger.AccountID) string {
	a, err := b.reader.Account(context.Background(), id)
	if err != nil {
		return string(id)
	}
	return a.Name
}

func (b base) payeeName(id ledger.PayeeID) string {
	if id == "" {
		return ""
	}
	p, err := b.reader.Payee(context.Background(), id)
	if err != nil {
		return string(id)
	}
	return p.Name
}

func (b base) displayValue(row *ledger.Row, col ledger.Column) string {
	tx := row.Content()
	switch col {
	case ledger.ColDate:
		return row.EffectiveDate().String()
	case ledger.ColNum:
		if row.IsVirtual() {
			return "Scheduled"
		}
		return tx.Num
	case ledger.ColPayee:
		return b.payeeName(tx.Payee)
	case ledger.ColMemo:
		return tx.Memo
	case ledger.ColStatus:
		switch tx.Status {
		case ledger.StatusCleared:
			return "c"
		case ledger.StatusFlagged:
			return "f"
		}
		return ""
	case ledger.ColTransfer:
		others := b.otherSplits(row)
		switch len(others) {
		case 0:
			return ""
		case 1:
			return b.accountName(others[0].Account)
		default:
			return "-- Split --"
		}
	case ledger.ColDebit:
		if s, ok := b.ownSplit(row); ok && s.Amount.IsPositive() {
			return FormatAmount(s.Amount, s.Unit)
		}
		return ""
	case ledger.ColCredit:
		if s, ok := b.ownSplit(row); ok && s.Amount.IsNegative() {
			return FormatAmount(s.Amount.Neg(), s.Unit)
		}
		return ""
	case ledger.ColBalance:
		return b.balanceValue(row)
	}
	return ""
}

// balanceValue renders the running balance in the account's home unit.
func (b base) balanceValue(row *ledger.Row) string {
	unit := b.account.Unit
	if unit.IsZero() {
		// No home unit: show whichever single unit the balance carries.
		if len(row.Balance) == 1 {
			for u, a := range row.Balance {
				return FormatAmount(a.Value, u)
			}
		}
		return ""
	}
	if a, ok := row.Balance[unit]; ok {
		return FormatAmount(a.Value, unit)
	}
	return FormatAmount(decimal.Zero, unit)
}

func (b base) subRowValue(row *ledger.Row, sub int, col ledger.Column) string {
	others := b.otherSplits(row)
	if sub < 0 || sub >= len(others) {
		return ""
	}
	s := others[sub]
	switch col {
	case ledger.ColTransfer:
		return b.accountName(s.Account)
	case ledger.ColMemo:
		return s.Memo
	case ledger.ColDebit:
		if s.Amount.IsPositive() {
			return FormatAmount(s.Amount, s.Unit)
		}
	case ledger.ColCredit:
		if s.Amount.IsNegative() {
			return FormatAmount(s.Amount.Neg(), s.Unit)
		}
	}
	return ""
}

func (b base) editValue(row *ledger.Row, col ledger.Column) string {
	tx := row.Content()
	switch col {
	case ledger.ColDate:
		return row.EffectiveDate().String()
	case ledger.ColNum:
		return tx.Num
	case ledger.ColPayee:
		return string(tx.Payee)
	case ledger.ColMemo:
		return tx.Memo
	case ledger.ColTransfer:
		others := b.otherSplits(row)
		if len(others) == 1 {
			return string(others[0].Account)
		}
		return ""
	case ledger.ColDebit:
		if s, ok := b.ownSplit(row); ok && s.Amount.IsPositive() {
			return s.Amount.String()
		}
	case ledger.ColCredit:
		if s, ok := b.ownSplit(row); ok && s.Amount.IsNegative() {
			return s.Amount.Neg().String()
		}
	case ledger.ColQuantity:
		if s, ok := b.ownSplit(row); ok {
			return s.Amount.String()
		}
	case ledger.ColAction, ledger.ColPrice:
		return tx.Properties[string(col)]
	}
	return ""
}

func (b base) actions(sel ledger.Selection) []ledger.Action {
	if sel.Row == nil {
		return nil
	}
	var out []ledger.Action
	if sel.Row.IsVirtual() {
		return []ledger.Action{ledger.ActionEnterOccurrence, ledger.ActionCancelOccurrence}
	}
	if len(sel.Row.Content().Splits) <= 2 && sel.SubRow < 0 {
		out = append(out, ledger.ActionConvertToSplit)
	}
	if len(sel.Row.Content().Splits) > 2 && sel.SubRow >= 0 {
		out = append(out, ledger.ActionRemoveSplitLeg)
	}
	return out
}

// =============================================================================
// GENERIC CASH REGISTER
// =============================================================================

// Generic is the register for ordinary cash accounts: checking, savings,
// expenses, income.
type Generic struct {
	base
}

func NewGeneric(account ledger.Account, reader ledger.AccountReader) ledger.Scheme {
	return &Generic{base{account: account, reader: reader}}
}

func (g *Generic) Columns() []ledger.Column {
	return []ledger.Column{
		ledger.ColDate, ledger.ColNum, ledger.ColPayee, ledger.ColMemo,
		ledger.ColTransfer, ledger.ColStatus, ledger.ColDebit,
		ledger.ColCredit, ledger.ColBalance,
	}
}

func (g *Generic) IsEditable(row *ledger.Row, col ledger.Column) bool {
	switch col {
	case ledger.ColBalance, ledger.ColStatus:
		return false
	case ledger.ColTransfer:
		return g.isSimpleTransfer(row)
	case ledger.ColDate, ledger.ColNum, ledger.ColPayee, ledger.ColMemo,
		ledger.ColDebit, ledger.ColCredit:
		return true
	}
	return false
}

func (g *Generic) DisplayValue(row *ledger.Row, col ledger.Column) string {
	return g.displayValue(row, col)
}

func (g *Generic) SubRowValue(row *ledger.Row, sub int, col ledger.Column) string {
	return g.subRowValue(row, sub, col)
}

func (g *Generic) EditValue(row *ledger.Row, col ledger.Column) string {
	return g.editValue(row, col)
}

func (g *Generic) Actions(sel ledger.Selection) []ledger.Action {
	return g.actions(sel)
}
