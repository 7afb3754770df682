/*
balancing.go - The zero-sum invariant and trading-split synthesis

PURPOSE:
  Double-entry bookkeeping requires every transaction to net to zero. With
  multiple currencies and securities in one transaction that cannot hold
  per se: buying 10 shares for 1500 USD moves two different balancing
  units. The checker restores the global invariant by synthesizing one
  offsetting "trading split" per imbalanced unit, posted to a per-unit
  trading account. The economic imbalance stays visible as that trading
  account's own balance.

INVARIANTS:
  1. For every committed transaction and every unit in its splits, the
     signed amounts of that unit sum to exactly zero.
  2. No account id appears in two splits of one transaction. Never repaired,
     always rejected.

DETERMINISM:
  Synthesis is deterministic: the same imbalanced input always produces the
  same trading splits, in unit order. Commit-time validation and the
  speculative check during editing therefore agree.

SEE ALSO:
  - buffer.go: Runs the soft check while editing, the hard check on commit
  - store.go: TradingAccounts, resolved through the account hierarchy
*/
package ledger

import (
	"sort"
)

// TradingAccounts resolves the per-unit trading account used to absorb
// cross-unit imbalance: one account per currency, one per security.
// Implementations typically create them lazily under a Trading root.
type TradingAccounts interface {
	TradingAccount(unit Unit) (AccountID, error)
}

// =============================================================================
// BALANCE CHECK
// =============================================================================

// BalanceUnits sums each split's signed amount into its balancing unit.
func BalanceUnits(splits []Split) map[Unit]Amount {
	sums := make(map[Unit]Amount)
	for _, s := range splits {
		sum, ok := sums[s.Unit]
		if !ok {
			sum = Amount{Unit: s.Unit}
		}
		sums[s.Unit] = sum.Add(s.Signed())
	}
	return sums
}

// CheckBalance reports whether the split set satisfies the invariant:
// at least one split, no repeated account, every unit sums to zero.
func CheckBalance(splits []Split) error {
	if len(splits) == 0 {
		return ErrNoSplits
	}
	seen := make(map[AccountID]bool, len(splits))
	for _, s := range splits {
		if seen[s.Account] {
			return &DuplicateAccountError{Account: s.Account}
		}
		seen[s.Account] = true
	}

	residue := make(map[Unit]Amount)
	for unit, sum := range BalanceUnits(splits) {
		if !sum.IsZero() {
			residue[unit] = sum
		}
	}
	if len(residue) > 0 {
		return &UnbalancedError{Residue: residue}
	}
	return nil
}

// =============================================================================
// TRADING SYNTHESIS
// =============================================================================

// BalanceWithTrading returns the split set extended with one synthesized
// offsetting split per imbalanced unit, posted against that unit's trading
// account. Already-balanced input comes back unchanged. Duplicate accounts
// are rejected, not repaired - including a collision between an existing
// split and a trading account.
func BalanceWithTrading(splits []Split, trading TradingAccounts) ([]Split, error) {
	if len(splits) == 0 {
		return nil, ErrNoSplits
	}
	seen := make(map[AccountID]bool, len(splits))
	for _, s := range splits {
		if seen[s.Account] {
			return nil, &DuplicateAccountError{Account: s.Account}
		}
		seen[s.Account] = true
	}

	var imbalanced []Unit
	sums := BalanceUnits(splits)
	for unit, sum := range sums {
		if !sum.IsZero() {
			imbalanced = append(imbalanced, unit)
		}
	}
	if len(imbalanced) == 0 {
		return splits, nil
	}

	// Unit order keeps synthesis deterministic for identical input.
	sort.Slice(imbalanced, func(i, j int) bool {
		return imbalanced[i].String() < imbalanced[j].String()
	})

	out := append([]Split(nil), splits...)
	for _, unit := range imbalanced {
		account, err := trading.TradingAccount(unit)
		if err != nil {
			return nil, err
		}
		if seen[account] {
			return nil, &DuplicateAccountError{Account: account}
		}
		seen[account] = true
		out = append(out, Split{
			Account: account,
			Amount:  sums[unit].Value.Neg(),
			Unit:    unit,
			Memo:    "trading balance",
		})
	}
	return out, nil
}
