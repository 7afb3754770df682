package views

import (
	"github.com/warp/ledger-engine/ledger"
)

// =============================================================================
// BROKERAGE REGISTER
// =============================================================================

// Brokerage is the register for the cash side of a brokerage account: it
// keeps the generic debit/credit/transfer columns and adds the investment
// trio so trades and cash movements read in one view.
type Brokerage struct {
	Investment
}

func NewBrokerage(account ledger.Account, reader ledger.AccountReader) ledger.Scheme {
	return &Brokerage{Investment{base{account: account, reader: reader}}}
}

func (b *Brokerage) Columns() []ledger.Column {
	return []ledger.Column{
		ledger.ColDate, ledger.ColNum, ledger.ColPayee, ledger.ColMemo,
		ledger.ColTransfer, ledger.ColAction, ledger.ColQuantity,
		ledger.ColPrice, ledger.ColDebit, ledger.ColCredit,
		ledger.ColBalance,
	}
}

func (b *Brokerage) IsEditable(row *ledger.Row, col ledger.Column) bool {
	switch col {
	case ledger.ColBalance, ledger.ColStatus, ledger.ColValue:
		return false
	case ledger.ColTransfer:
		return b.isSimpleTransfer(row)
	case ledger.ColDate, ledger.ColNum, ledger.ColPayee, ledger.ColMemo,
		ledger.ColAction, ledger.ColQuantity, ledger.ColPrice,
		ledger.ColDebit, ledger.ColCredit:
		return true
	}
	return false
}

func (b *Brokerage) DisplayValue(row *ledger.Row, col ledger.Column) string {
	// The brokerage account's own leg is cash; the investment columns
	// read off the trade's security leg and stay empty for pure cash rows.
	switch col {
	case ledger.ColAction:
		sec, ok := b.securityLeg(row)
		if !ok {
			return ""
		}
		if a := row.Content().Properties["action"]; a != "" {
			return a
		}
		if sec.Amount.IsNegative() {
			return "Sell"
		}
		return "Buy"
	case ledger.ColQuantity:
		sec, ok := b.securityLeg(row)
		if !ok {
			return ""
		}
		return sec.Amount.String()
	case ledger.ColPrice:
		sec, ok := b.securityLeg(row)
		if !ok {
			return ""
		}
		if p := row.Content().Properties["price"]; p != "" {
			return p
		}
		own, ok := b.ownSplit(row)
		if !ok || sec.Amount.IsZero() {
			return ""
		}
		return FormatAmount(own.Amount.Neg().Div(sec.Amount), own.Unit)
	}
	return b.base.displayValue(row, col)
}

func (b *Brokerage) securityLeg(row *ledger.Row) (ledger.Split, bool) {
	for _, s := range row.Content().Splits {
		if s.Unit.IsSecurity() {
			return s, true
		}
	}
	return ledger.Split{}, false
}
