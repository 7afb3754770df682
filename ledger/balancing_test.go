package ledger_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/warp/ledger-engine/ledger"
)

// tradingTable is a fixed in-test TradingAccounts resolver.
type tradingTable map[ledger.Unit]ledger.AccountID

func (t tradingTable) TradingAccount(u ledger.Unit) (ledger.AccountID, error) {
	if id, ok := t[u]; ok {
		return id, nil
	}
	return "", ledger.ErrAccountNotFound
}

func num(s string) decimal.Decimal { return ledger.MustParseDecimal(s) }

func TestCheckBalanceAcceptsZeroSumPerUnit(t *testing.T) {
	splits := []ledger.Split{
		{Account: "checking", Amount: num("-100"), Unit: ledger.Currency("USD")},
		{Account: "groceries", Amount: num("100"), Unit: ledger.Currency("USD")},
	}
	if err := ledger.CheckBalance(splits); err != nil {
		t.Errorf("balanced splits rejected: %v", err)
	}
}

func TestCheckBalanceRejectsEmptyAndImbalanced(t *testing.T) {
	if err := ledger.CheckBalance(nil); !errors.Is(err, ledger.ErrNoSplits) {
		t.Errorf("expected ErrNoSplits, got %v", err)
	}

	splits := []ledger.Split{
		{Account: "checking", Amount: num("-100"), Unit: ledger.Currency("USD")},
		{Account: "groceries", Amount: num("90"), Unit: ledger.Currency("USD")},
	}
	err := ledger.CheckBalance(splits)
	var ub *ledger.UnbalancedError
	if !errors.As(err, &ub) {
		t.Fatalf("expected UnbalancedError, got %v", err)
	}
	if got := ub.Residue[ledger.Currency("USD")].Value; !got.Equal(num("-10")) {
		t.Errorf("expected residue -10, got %s", got)
	}
	if !errors.Is(err, ledger.ErrUnbalanced) {
		t.Error("UnbalancedError must unwrap to ErrUnbalanced")
	}
}

func TestCheckBalanceRejectsDuplicateAccount(t *testing.T) {
	// GIVEN: A split set netting to zero but hitting one account twice
	splits := []ledger.Split{
		{Account: "checking", Amount: num("-50"), Unit: ledger.Currency("USD")},
		{Account: "checking", Amount: num("20"), Unit: ledger.Currency("USD")},
		{Account: "groceries", Amount: num("30"), Unit: ledger.Currency("USD")},
	}

	// THEN: Rejected, never repaired or merged
	err := ledger.CheckBalance(splits)
	var dup *ledger.DuplicateAccountError
	if !errors.As(err, &dup) || dup.Account != "checking" {
		t.Fatalf("expected DuplicateAccountError for checking, got %v", err)
	}
	if !errors.Is(err, ledger.ErrDuplicateAccount) {
		t.Error("DuplicateAccountError must unwrap to ErrDuplicateAccount")
	}
}

func TestTradingSynthesisForSecurityPurchase(t *testing.T) {
	// GIVEN: Buy 10 shares for 1500 USD - two units, each imbalanced
	usd := ledger.Currency("USD")
	aapl := ledger.Security("AAPL")
	splits := []ledger.Split{
		{Account: "brokerage-cash", Amount: num("-1500"), Unit: usd},
		{Account: "aapl-holding", Amount: num("10"), Unit: aapl},
	}
	trading := tradingTable{
		usd:  "trading-usd",
		aapl: "trading-aapl",
	}

	// WHEN: Synthesizing trading splits
	out, err := ledger.BalanceWithTrading(splits, trading)
	if err != nil {
		t.Fatalf("BalanceWithTrading: %v", err)
	}

	// THEN: One offsetting split per unit, and the result passes the
	// hard balance check
	if len(out) != 4 {
		t.Fatalf("expected 4 splits, got %d", len(out))
	}
	if err := ledger.CheckBalance(out); err != nil {
		t.Errorf("synthesized set still unbalanced: %v", err)
	}

	byAccount := map[ledger.AccountID]ledger.Split{}
	for _, s := range out {
		byAccount[s.Account] = s
	}
	if s := byAccount["trading-usd"]; !s.Amount.Equal(num("1500")) || s.Unit != usd {
		t.Errorf("USD trading split wrong: %+v", s)
	}
	if s := byAccount["trading-aapl"]; !s.Amount.Equal(num("-10")) || s.Unit != aapl {
		t.Errorf("AAPL trading split wrong: %+v", s)
	}
}

func TestTradingSynthesisIsDeterministic(t *testing.T) {
	usd := ledger.Currency("USD")
	eur := ledger.Currency("EUR")
	splits := []ledger.Split{
		{Account: "eur-account", Amount: num("100"), Unit: eur},
		{Account: "usd-account", Amount: num("-110"), Unit: usd},
	}
	trading := tradingTable{usd: "trading-usd", eur: "trading-eur"}

	first, err := ledger.BalanceWithTrading(splits, trading)
	if err != nil {
		t.Fatal(err)
	}
	second, err := ledger.BalanceWithTrading(splits, trading)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != len(second) {
		t.Fatal("non-deterministic output length")
	}
	for i := range first {
		if first[i].Account != second[i].Account || !first[i].Amount.Equal(second[i].Amount) {
			t.Errorf("split %d differs between runs: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestTradingSynthesisLeavesBalancedInputAlone(t *testing.T) {
	splits := []ledger.Split{
		{Account: "checking", Amount: num("-5"), Unit: ledger.Currency("USD")},
		{Account: "coffee", Amount: num("5"), Unit: ledger.Currency("USD")},
	}
	out, err := ledger.BalanceWithTrading(splits, tradingTable{})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Errorf("balanced input grew to %d splits", len(out))
	}
}

func TestTradingSynthesisRejectsAccountCollision(t *testing.T) {
	// GIVEN: The imbalanced split already posts to the trading account
	usd := ledger.Currency("USD")
	splits := []ledger.Split{
		{Account: "trading-usd", Amount: num("-25"), Unit: usd},
	}

	// THEN: Collision is rejected, not silently merged
	_, err := ledger.BalanceWithTrading(splits, tradingTable{usd: "trading-usd"})
	var dup *ledger.DuplicateAccountError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateAccountError, got %v", err)
	}
}
