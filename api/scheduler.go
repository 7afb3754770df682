/*
scheduler.go - Automated occurrence entry

PURPOSE:
  Periodically scans schedules flagged auto-enter and realizes every
  occurrence that has come due, so recurring bills post themselves
  without the user opening the register.

DESIGN:
  - Runs on a cron spec (default: hourly) via robfig/cron
  - Projects each auto-enter schedule's due dates up to today
  - Skips dates already entered or canceled (the recurrence engine
    filters exceptions before emitting)
  - Entry goes through Store.EnterOccurrence, so the same atomic
    write and event emission as a manual entry

IDEMPOTENCY:
  Entering an occurrence records its due date as an exception, so a
  rerun over the same window enters nothing twice.

USAGE:
  s := NewAutoEnterScheduler(store, log)
  s.Start()
  // ... later
  s.Stop()

SEE ALSO:
  - handlers.go: Manual occurrence entry via row actions
  - ledger/recurrence.go: Due-date projection
*/
package api

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/store/sqlite"
)

// AutoEnterScheduler realizes due occurrences of auto-enter schedules.
type AutoEnterScheduler struct {
	Store *sqlite.Store
	Log   zerolog.Logger
	Spec  string // cron spec, default "@hourly"

	cron *cron.Cron
}

// NewAutoEnterScheduler creates a new scheduler.
func NewAutoEnterScheduler(store *sqlite.Store, log zerolog.Logger) *AutoEnterScheduler {
	return &AutoEnterScheduler{
		Store: store,
		Log:   log,
		Spec:  "@hourly",
	}
}

// Start begins the scheduler and runs one pass immediately.
func (s *AutoEnterScheduler) Start() error {
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.Spec, func() { s.RunOnce(context.Background()) }); err != nil {
		return fmt.Errorf("invalid cron spec %q: %w", s.Spec, err)
	}
	s.cron.Start()
	s.Log.Info().Str("spec", s.Spec).Msg("auto-enter scheduler started")

	s.RunOnce(context.Background())
	return nil
}

// Stop stops the scheduler, waiting for a running pass to finish.
func (s *AutoEnterScheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
		s.Log.Info().Msg("auto-enter scheduler stopped")
	}
}

// RunOnce enters every due occurrence of every auto-enter schedule.
func (s *AutoEnterScheduler) RunOnce(ctx context.Context) {
	schedules, err := s.Store.AllSchedules(ctx)
	if err != nil {
		s.Log.Error().Err(err).Msg("auto-enter: listing schedules")
		return
	}

	today := ledger.Today()
	entered := 0
	for _, sch := range schedules {
		if !sch.Active || !sch.AutoEnter {
			continue
		}
		due := sch.Recurrence.Occurrences(sch.Exceptions(), ledger.UntilBound(today))
		for _, d := range due {
			if err := s.enter(ctx, sch, d); err != nil {
				s.Log.Error().Err(err).
					Str("schedule", string(sch.ID)).
					Str("due", d.String()).
					Msg("auto-enter: entry failed")
				continue
			}
			entered++
		}
	}

	if entered > 0 {
		s.Log.Info().Int("entered", entered).Msg("auto-enter pass complete")
	}
}

func (s *AutoEnterScheduler) enter(ctx context.Context, sch *ledger.Schedule, due ledger.Date) error {
	tx := sch.Template.Clone()
	tx.ID = ledger.TransactionID(uuid.NewString())
	tx.Date = due
	return s.Store.EnterOccurrence(ctx, sch.ID, due, tx)
}
