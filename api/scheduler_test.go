package api

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/ledger-engine/ledger"
)

func TestAutoEnterRealizesDueOccurrences(t *testing.T) {
	// GIVEN: An auto-enter schedule with three overdue occurrences
	_, _, s := newTestServer(t)
	seedBook(t, s)
	ctx := context.Background()

	start := ledger.Today().AddDays(-70)
	sch := &ledger.Schedule{
		ID:     "rent",
		Name:   "Rent",
		Active: true, AutoEnter: true,
		Template: ledger.Transaction{
			Splits: []ledger.Split{
				{Account: "checking", Amount: ledger.MustParseDecimal("-700"), Unit: usd()},
				{Account: "groceries", Amount: ledger.MustParseDecimal("700"), Unit: usd()},
			},
		},
		Recurrence: ledger.Recurrence{Start: start, Frequency: ledger.FreqDaily, Interval: 30},
		Entered:    ledger.NewDateSet(),
		Canceled:   ledger.NewDateSet(),
	}
	require.NoError(t, s.CommitSchedule(ctx, sch))

	sched := NewAutoEnterScheduler(s, zerolog.Nop())

	// WHEN: One pass runs
	sched.RunOnce(ctx)

	// THEN: Every due date up to today is entered as a real transaction
	after, err := s.Schedule(ctx, "rent")
	require.NoError(t, err)
	for _, d := range []ledger.Date{start, start.AddDays(30), start.AddDays(60)} {
		assert.True(t, after.Entered.Contains(d), "due %s not entered", d)
	}

	txs, err := s.AccountTransactions(ctx, "checking", ledger.Date{}, ledger.Date{})
	require.NoError(t, err)
	assert.Len(t, txs, 3)

	// AND: A second pass is a no-op
	sched.RunOnce(ctx)
	txs, err = s.AccountTransactions(ctx, "checking", ledger.Date{}, ledger.Date{})
	require.NoError(t, err)
	assert.Len(t, txs, 3)
}

func TestAutoEnterSkipsInactiveAndManualSchedules(t *testing.T) {
	_, _, s := newTestServer(t)
	seedBook(t, s)
	ctx := context.Background()

	manual := &ledger.Schedule{
		ID: "manual", Name: "Manual", Active: true,
		Template: ledger.Transaction{
			Splits: []ledger.Split{
				{Account: "checking", Amount: ledger.MustParseDecimal("-5"), Unit: usd()},
				{Account: "groceries", Amount: ledger.MustParseDecimal("5"), Unit: usd()},
			},
		},
		Recurrence: ledger.Recurrence{Start: ledger.Today().AddDays(-10), Frequency: ledger.FreqDaily},
		Entered:    ledger.NewDateSet(),
		Canceled:   ledger.NewDateSet(),
	}
	require.NoError(t, s.CommitSchedule(ctx, manual))

	inactive := manual.Clone()
	inactive.ID = "inactive"
	inactive.Active = false
	inactive.AutoEnter = true
	require.NoError(t, s.CommitSchedule(ctx, inactive))

	NewAutoEnterScheduler(s, zerolog.Nop()).RunOnce(ctx)

	txs, err := s.AccountTransactions(ctx, "checking", ledger.Date{}, ledger.Date{})
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestSchedulerRejectsBadCronSpec(t *testing.T) {
	_, _, s := newTestServer(t)
	sched := NewAutoEnterScheduler(s, zerolog.Nop())
	sched.Spec = "not a cron spec"
	assert.Error(t, sched.Start())
}
