/*
Package factory provides JSON to Go book conversion.

PURPOSE:
  Converts JSON book definitions into stored accounts, payees,
  transactions, and schedules. This enables demo and test books
  without code changes - a fixture file defines the book, and the
  factory seeds a store from it.

WHY JSON?
  - Fixture books live next to the code that exercises them
  - Easy integration with a demo/reset endpoint
  - Version control for book definitions

JSON SCHEMA:
  {
    "accounts": [
      {"id": "checking", "name": "Checking", "type": "generic", "unit": "USD"}
    ],
    "payees": [
      {"id": "acme", "name": "ACME Corp"}
    ],
    "transactions": [
      {
        "date": "2026-01-05",
        "payee": "acme",
        "splits": [
          {"account": "checking", "amount": "2500", "unit": "USD"},
          {"account": "salary", "amount": "-2500", "unit": "USD"}
        ]
      }
    ],
    "schedules": [
      {
        "id": "rent",
        "name": "Rent",
        "frequency": "monthly",
        "start": "2026-01-01",
        "auto_enter": true,
        "template": { ... }
      }
    ]
  }

UNIT SYNTAX:
  Plain codes ("USD", "EUR") are currencies. The "security/" prefix
  ("security/VTI") marks securities.

USAGE:
  book, err := factory.ParseBook(jsonString)
  err = factory.Seed(ctx, store, book)

  // Or the built-in demo book:
  err = factory.Seed(ctx, store, factory.DemoBook())

SEE ALSO:
  - ledger/types.go: Domain types the JSON maps onto
  - api/handlers.go: Reset endpoint driving Seed
*/
package factory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/ledger-engine/ledger"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// BookJSON is the JSON representation of a complete book.
type BookJSON struct {
	Accounts     []AccountJSON     `json:"accounts"`
	Payees       []PayeeJSON       `json:"payees,omitempty"`
	Transactions []TransactionJSON `json:"transactions,omitempty"`
	Schedules    []ScheduleJSON    `json:"schedules,omitempty"`
}

// AccountJSON represents one account.
type AccountJSON struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Type   string `json:"type,omitempty"` // generic, investment, brokerage
	Unit   string `json:"unit,omitempty"`
	Parent string `json:"parent,omitempty"`
	Closed bool   `json:"closed,omitempty"`
}

// PayeeJSON represents one payee.
type PayeeJSON struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// TransactionJSON represents one transaction with its splits.
type TransactionJSON struct {
	ID     string      `json:"id,omitempty"` // generated when empty
	Date   string      `json:"date"`
	Num    string      `json:"num,omitempty"`
	Payee  string      `json:"payee,omitempty"`
	Memo   string      `json:"memo,omitempty"`
	Status string      `json:"status,omitempty"` // cleared, flagged
	Splits []SplitJSON `json:"splits"`
}

// SplitJSON represents one leg.
type SplitJSON struct {
	Account string `json:"account"`
	Amount  string `json:"amount"`
	Unit    string `json:"unit"`
	Memo    string `json:"memo,omitempty"`
}

// ScheduleJSON represents one schedule.
type ScheduleJSON struct {
	ID         string          `json:"id,omitempty"`
	Name       string          `json:"name"`
	Frequency  string          `json:"frequency"` // once, daily, weekly, monthly, yearly
	Interval   int             `json:"interval,omitempty"`
	Start      string          `json:"start"`
	Until      string          `json:"until,omitempty"`
	Remaining  *int            `json:"remaining,omitempty"`
	Weekdays   []int           `json:"weekdays,omitempty"`
	DaysOfMonth []int          `json:"days_of_month,omitempty"`
	AutoEnter  bool            `json:"auto_enter,omitempty"`
	Template   TransactionJSON `json:"template"`
}

// =============================================================================
// PARSING
// =============================================================================

// ParseBook parses a JSON book definition.
func ParseBook(jsonStr string) (*BookJSON, error) {
	var book BookJSON
	if err := json.Unmarshal([]byte(jsonStr), &book); err != nil {
		return nil, fmt.Errorf("invalid book JSON: %w", err)
	}
	if len(book.Accounts) == 0 {
		return nil, fmt.Errorf("book defines no accounts")
	}
	return &book, nil
}

// ParseUnit converts the JSON unit syntax into a ledger.Unit.
func ParseUnit(s string) ledger.Unit {
	if code, ok := strings.CutPrefix(s, "security/"); ok {
		return ledger.Security(code)
	}
	return ledger.Currency(s)
}

func (a AccountJSON) toAccount() ledger.Account {
	acct := ledger.Account{
		ID:     ledger.AccountID(a.ID),
		Name:   a.Name,
		Type:   ledger.AccountGeneric,
		Parent: ledger.AccountID(a.Parent),
		Closed: a.Closed,
	}
	if a.Type != "" {
		acct.Type = ledger.AccountType(a.Type)
	}
	if a.Unit != "" {
		acct.Unit = ParseUnit(a.Unit)
	}
	return acct
}

func (t TransactionJSON) toTransaction() (*ledger.Transaction, error) {
	tx := &ledger.Transaction{
		ID:     ledger.TransactionID(t.ID),
		Num:    t.Num,
		Payee:  ledger.PayeeID(t.Payee),
		Memo:   t.Memo,
		Status: ledger.Status(t.Status),
	}
	if tx.ID == "" {
		tx.ID = ledger.TransactionID(uuid.NewString())
	}
	var err error
	if tx.Date, err = ledger.ParseDate(t.Date); err != nil {
		return nil, fmt.Errorf("transaction %s: %w", tx.ID, err)
	}
	for _, s := range t.Splits {
		amount, err := decimal.NewFromString(s.Amount)
		if err != nil {
			return nil, fmt.Errorf("transaction %s: bad amount %q: %w", tx.ID, s.Amount, err)
		}
		tx.Splits = append(tx.Splits, ledger.Split{
			Account: ledger.AccountID(s.Account),
			Amount:  amount,
			Unit:    ParseUnit(s.Unit),
			Memo:    s.Memo,
		})
	}
	return tx, nil
}

func (s ScheduleJSON) toSchedule() (*ledger.Schedule, error) {
	template, err := s.Template.toTransaction()
	if err != nil {
		return nil, fmt.Errorf("schedule %s: %w", s.ID, err)
	}

	sch := &ledger.Schedule{
		ID:        ledger.ScheduleID(s.ID),
		Name:      s.Name,
		Template:  *template,
		Active:    true,
		AutoEnter: s.AutoEnter,
		Entered:   ledger.NewDateSet(),
		Canceled:  ledger.NewDateSet(),
		Recurrence: ledger.Recurrence{
			Frequency:   ledger.Frequency(s.Frequency),
			Interval:    s.Interval,
			Weekdays:    s.Weekdays,
			DaysOfMonth: s.DaysOfMonth,
			Remaining:   s.Remaining,
		},
	}
	if sch.ID == "" {
		sch.ID = ledger.ScheduleID(uuid.NewString())
	}
	if sch.Recurrence.Interval == 0 {
		sch.Recurrence.Interval = 1
	}
	if sch.Recurrence.Start, err = ledger.ParseDate(s.Start); err != nil {
		return nil, fmt.Errorf("schedule %s: %w", sch.ID, err)
	}
	if s.Until != "" {
		until, err := ledger.ParseDate(s.Until)
		if err != nil {
			return nil, fmt.Errorf("schedule %s: %w", sch.ID, err)
		}
		sch.Recurrence.Until = &until
	}
	if err := sch.Recurrence.Validate(); err != nil {
		return nil, fmt.Errorf("schedule %s: %w", sch.ID, err)
	}
	return sch, nil
}

// =============================================================================
// SEEDING
// =============================================================================

// BookStore is the store surface the factory writes through. Both the
// SQLite and the in-memory store satisfy it.
type BookStore interface {
	ledger.Store
	SaveAccount(ctx context.Context, a ledger.Account) error
	SavePayee(ctx context.Context, p ledger.Payee) error
}

// Seed writes the book into the store. Accounts and payees first so
// transaction commits pass account checks.
func Seed(ctx context.Context, store BookStore, book *BookJSON) error {
	for _, a := range book.Accounts {
		if err := store.SaveAccount(ctx, a.toAccount()); err != nil {
			return fmt.Errorf("account %s: %w", a.ID, err)
		}
	}
	for _, p := range book.Payees {
		payee := ledger.Payee{ID: ledger.PayeeID(p.ID), Name: p.Name}
		if err := store.SavePayee(ctx, payee); err != nil {
			return fmt.Errorf("payee %s: %w", p.ID, err)
		}
	}
	for _, t := range book.Transactions {
		tx, err := t.toTransaction()
		if err != nil {
			return err
		}
		// Materialize trading accounts referenced by trading legs before
		// the commit's account-existence check runs.
		for _, sp := range tx.Splits {
			if !strings.HasPrefix(string(sp.Account), "trading:") {
				continue
			}
			if _, err := store.TradingAccount(sp.Unit); err != nil {
				return fmt.Errorf("transaction %s: %w", tx.ID, err)
			}
		}
		if err := store.CommitTransaction(ctx, tx); err != nil {
			return fmt.Errorf("transaction %s: %w", tx.ID, err)
		}
	}
	for _, s := range book.Schedules {
		sch, err := s.toSchedule()
		if err != nil {
			return err
		}
		if err := store.CommitSchedule(ctx, sch); err != nil {
			return fmt.Errorf("schedule %s: %w", sch.ID, err)
		}
	}
	return nil
}

// =============================================================================
// DEMO BOOK
// =============================================================================

// DemoBook returns a small household book: two bank accounts, a
// brokerage with one fund, income and expense categories, a couple of
// seed transactions, and a monthly rent schedule.
func DemoBook() *BookJSON {
	return &BookJSON{
		Accounts: []AccountJSON{
			{ID: "checking", Name: "Checking", Unit: "USD"},
			{ID: "savings", Name: "Savings", Unit: "USD"},
			{ID: "brokerage", Name: "Brokerage", Type: "brokerage", Unit: "USD"},
			{ID: "vti", Name: "VTI", Type: "investment", Unit: "security/VTI", Parent: "brokerage"},
			{ID: "salary", Name: "Salary", Unit: "USD"},
			{ID: "rent", Name: "Rent", Unit: "USD"},
			{ID: "groceries", Name: "Groceries", Unit: "USD"},
			{ID: "utilities", Name: "Utilities", Unit: "USD"},
		},
		Payees: []PayeeJSON{
			{ID: "acme", Name: "ACME Corp"},
			{ID: "landlord", Name: "Maple Street Properties"},
			{ID: "grocer", Name: "Corner Grocer"},
		},
		Transactions: []TransactionJSON{
			{
				ID: "demo-salary-1", Date: "2026-01-05", Payee: "acme", Memo: "January salary",
				Splits: []SplitJSON{
					{Account: "checking", Amount: "2500", Unit: "USD"},
					{Account: "salary", Amount: "-2500", Unit: "USD"},
				},
			},
			{
				ID: "demo-groceries-1", Date: "2026-01-08", Payee: "grocer",
				Splits: []SplitJSON{
					{Account: "checking", Amount: "-84.15", Unit: "USD"},
					{Account: "groceries", Amount: "84.15", Unit: "USD"},
				},
			},
			{
				// A fund purchase balanced through trading accounts.
				ID: "demo-buy-vti-1", Date: "2026-01-10", Memo: "Buy 10 VTI @ 250",
				Splits: []SplitJSON{
					{Account: "brokerage", Amount: "-2500", Unit: "USD"},
					{Account: "vti", Amount: "10", Unit: "security/VTI"},
					{Account: "trading:USD", Amount: "2500", Unit: "USD"},
					{Account: "trading:sec:VTI", Amount: "-10", Unit: "security/VTI"},
				},
			},
		},
		Schedules: []ScheduleJSON{
			{
				ID: "demo-rent", Name: "Rent", Frequency: "monthly", Start: "2026-01-01",
				AutoEnter: true,
				Template: TransactionJSON{
					Payee: "landlord", Memo: "Monthly rent",
					Splits: []SplitJSON{
						{Account: "checking", Amount: "-1400", Unit: "USD"},
						{Account: "rent", Amount: "1400", Unit: "USD"},
					},
				},
			},
		},
	}
}
