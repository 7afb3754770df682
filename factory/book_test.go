package factory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/ledger-engine/factory"
	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/ledger/store"
)

func TestParseBookValidatesTheEnvelope(t *testing.T) {
	_, err := factory.ParseBook("{not json")
	assert.ErrorContains(t, err, "invalid book JSON")

	_, err = factory.ParseBook(`{"payees": [{"id": "a", "name": "A"}]}`)
	assert.ErrorContains(t, err, "no accounts")

	book, err := factory.ParseBook(`{"accounts": [{"id": "checking", "name": "Checking", "unit": "USD"}]}`)
	require.NoError(t, err)
	assert.Len(t, book.Accounts, 1)
}

func TestParseUnitDistinguishesSecurities(t *testing.T) {
	assert.Equal(t, ledger.Currency("USD"), factory.ParseUnit("USD"))
	assert.Equal(t, ledger.Security("VTI"), factory.ParseUnit("security/VTI"))
}

func TestSeedWritesTheWholeBook(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	book, err := factory.ParseBook(`{
		"accounts": [
			{"id": "checking", "name": "Checking", "unit": "USD"},
			{"id": "salary", "name": "Salary", "unit": "USD"},
			{"id": "rent", "name": "Rent", "unit": "USD"},
			{"id": "old", "name": "Old Card", "unit": "USD", "closed": true}
		],
		"payees": [{"id": "acme", "name": "ACME Corp"}],
		"transactions": [{
			"id": "jan-pay", "date": "2026-01-05", "payee": "acme", "status": "cleared",
			"splits": [
				{"account": "checking", "amount": "2500", "unit": "USD"},
				{"account": "salary", "amount": "-2500", "unit": "USD", "memo": "gross"}
			]
		}],
		"schedules": [{
			"id": "rent", "name": "Rent", "frequency": "monthly", "start": "2026-02-01",
			"auto_enter": true,
			"template": {
				"payee": "acme",
				"splits": [
					{"account": "checking", "amount": "-1400", "unit": "USD"},
					{"account": "rent", "amount": "1400", "unit": "USD"}
				]
			}
		}]
	}`)
	require.NoError(t, err)
	require.NoError(t, factory.Seed(ctx, m, book))

	acct, err := m.Account(ctx, "checking")
	require.NoError(t, err)
	assert.Equal(t, "Checking", acct.Name)
	assert.Equal(t, ledger.AccountGeneric, acct.Type)
	assert.Equal(t, ledger.Currency("USD"), acct.Unit)

	old, err := m.Account(ctx, "old")
	require.NoError(t, err)
	assert.True(t, old.Closed)

	payee, err := m.Payee(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "ACME Corp", payee.Name)

	tx, err := m.Transaction(ctx, "jan-pay")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCleared, tx.Status)
	require.Len(t, tx.Splits, 2)
	assert.Equal(t, "gross", tx.Splits[1].Memo)
	assert.True(t, tx.Date.Equal(ledger.NewDate(2026, 1, 5)))

	sch, err := m.Schedule(ctx, "rent")
	require.NoError(t, err)
	assert.Equal(t, ledger.FreqMonthly, sch.Recurrence.Frequency)
	assert.Equal(t, 1, sch.Recurrence.Interval, "interval defaults to 1")
	assert.True(t, sch.Active)
	assert.True(t, sch.AutoEnter)
	require.Len(t, sch.Template.Splits, 2)
}

func TestSeedRejectsMalformedEntries(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name string
		json string
		want string
	}{
		{
			name: "bad transaction date",
			json: `{
				"accounts": [{"id": "a", "name": "A", "unit": "USD"}],
				"transactions": [{"date": "Jan 5", "splits": [
					{"account": "a", "amount": "1", "unit": "USD"},
					{"account": "a", "amount": "-1", "unit": "USD"}
				]}]
			}`,
			want: "Jan 5",
		},
		{
			name: "bad split amount",
			json: `{
				"accounts": [{"id": "a", "name": "A", "unit": "USD"}],
				"transactions": [{"id": "t1", "date": "2026-01-05", "splits": [
					{"account": "a", "amount": "ten", "unit": "USD"}
				]}]
			}`,
			want: `bad amount "ten"`,
		},
		{
			name: "unknown split account",
			json: `{
				"accounts": [{"id": "a", "name": "A", "unit": "USD"}],
				"transactions": [{"id": "t1", "date": "2026-01-05", "splits": [
					{"account": "a", "amount": "5", "unit": "USD"},
					{"account": "ghost", "amount": "-5", "unit": "USD"}
				]}]
			}`,
			want: "t1",
		},
		{
			name: "bad schedule frequency",
			json: `{
				"accounts": [{"id": "a", "name": "A", "unit": "USD"}],
				"schedules": [{"id": "s1", "name": "S", "frequency": "fortnightly",
					"start": "2026-01-01",
					"template": {"splits": [
						{"account": "a", "amount": "1", "unit": "USD"},
						{"account": "a", "amount": "-1", "unit": "USD"}
					]}}]
			}`,
			want: "s1",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			book, err := factory.ParseBook(tc.json)
			require.NoError(t, err)
			err = factory.Seed(ctx, store.NewMemory(), book)
			assert.ErrorContains(t, err, tc.want)
		})
	}
}

func TestSeedMaterializesTradingAccounts(t *testing.T) {
	// GIVEN a book whose only references to trading accounts are split legs.
	ctx := context.Background()
	m := store.NewMemory()

	book, err := factory.ParseBook(`{
		"accounts": [
			{"id": "brokerage", "name": "Brokerage", "type": "brokerage", "unit": "USD"},
			{"id": "vti", "name": "VTI", "type": "investment", "unit": "security/VTI"}
		],
		"transactions": [{
			"id": "buy-1", "date": "2026-01-10",
			"splits": [
				{"account": "brokerage", "amount": "-1500", "unit": "USD"},
				{"account": "vti", "amount": "10", "unit": "security/VTI"},
				{"account": "trading:USD", "amount": "1500", "unit": "USD"},
				{"account": "trading:sec:VTI", "amount": "-10", "unit": "security/VTI"}
			]
		}]
	}`)
	require.NoError(t, err)

	// WHEN seeding, the factory creates the trading accounts before the
	// commit's account-existence check can reject them.
	require.NoError(t, factory.Seed(ctx, m, book))

	acct, err := m.Account(ctx, "trading:USD")
	require.NoError(t, err)
	assert.Equal(t, ledger.AccountTrading, acct.Type)

	tx, err := m.Transaction(ctx, "buy-1")
	require.NoError(t, err)
	assert.Len(t, tx.Splits, 4)
}

func TestDemoBookSeedsCleanly(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	require.NoError(t, factory.Seed(ctx, m, factory.DemoBook()))

	accounts, err := m.Accounts(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(accounts), 8)

	sch, err := m.Schedule(ctx, "demo-rent")
	require.NoError(t, err)
	assert.True(t, sch.AutoEnter)

	// The demo fund purchase is balanced through its trading legs.
	tx, err := m.Transaction(ctx, "demo-buy-vti-1")
	require.NoError(t, err)
	assert.NoError(t, ledger.CheckBalance(tx.Splits))
}
