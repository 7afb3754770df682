package views

import (
	"github.com/shopspring/decimal"

	"github.com/warp/ledger-engine/ledger"
)

// =============================================================================
// INVESTMENT REGISTER
// =============================================================================

// Investment is the register for accounts that hold a security: the own
// leg is a share quantity, and the action/quantity/price/value columns
// replace the plain debit/credit pair.
type Investment struct {
	base
}

func NewInvestment(account ledger.Account, reader ledger.AccountReader) ledger.Scheme {
	return &Investment{base{account: account, reader: reader}}
}

func (v *Investment) Columns() []ledger.Column {
	return []ledger.Column{
		ledger.ColDate, ledger.ColNum, ledger.ColPayee, ledger.ColMemo,
		ledger.ColAction, ledger.ColQuantity, ledger.ColPrice,
		ledger.ColValue, ledger.ColBalance,
	}
}

func (v *Investment) IsEditable(row *ledger.Row, col ledger.Column) bool {
	switch col {
	case ledger.ColBalance, ledger.ColStatus, ledger.ColValue:
		return false
	case ledger.ColDate, ledger.ColNum, ledger.ColPayee, ledger.ColMemo,
		ledger.ColAction, ledger.ColQuantity, ledger.ColPrice:
		return true
	}
	return false
}

func (v *Investment) DisplayValue(row *ledger.Row, col ledger.Column) string {
	switch col {
	case ledger.ColAction:
		return v.action(row)
	case ledger.ColQuantity:
		if s, ok := v.ownSplit(row); ok {
			return s.Amount.String()
		}
		return ""
	case ledger.ColPrice:
		return v.price(row)
	case ledger.ColValue:
		return v.value(row)
	}
	return v.displayValue(row, col)
}

func (v *Investment) SubRowValue(row *ledger.Row, sub int, col ledger.Column) string {
	return v.subRowValue(row, sub, col)
}

func (v *Investment) EditValue(row *ledger.Row, col ledger.Column) string {
	return v.editValue(row, col)
}

func (v *Investment) Actions(sel ledger.Selection) []ledger.Action {
	return v.actions(sel)
}

// action reads the recorded action, defaulting from the quantity's sign.
func (v *Investment) action(row *ledger.Row) string {
	if a := row.Content().Properties["action"]; a != "" {
		return a
	}
	s, ok := v.ownSplit(row)
	if !ok {
		return ""
	}
	if s.Amount.IsNegative() {
		return "Sell"
	}
	return "Buy"
}

func (v *Investment) price(row *ledger.Row) string {
	if p := row.Content().Properties["price"]; p != "" {
		return p
	}
	// No recorded price: derive it from the currency counter-leg.
	qty, ok := v.ownSplit(row)
	if !ok || qty.Amount.IsZero() {
		return ""
	}
	for _, s := range v.otherSplits(row) {
		if s.Unit.IsCurrency() {
			return FormatAmount(s.Amount.Neg().Div(qty.Amount), s.Unit)
		}
	}
	return ""
}

// value renders the cash moved by the transaction's currency legs.
func (v *Investment) value(row *ledger.Row) string {
	total := decimal.Zero
	var unit ledger.Unit
	for _, s := range v.otherSplits(row) {
		if s.Unit.IsCurrency() {
			total = total.Add(s.Amount.Neg())
			unit = s.Unit
		}
	}
	if unit.IsZero() {
		return ""
	}
	return FormatAmount(total, unit)
}
