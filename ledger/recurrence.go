/*
recurrence.go - Occurrence generation for schedules

PURPOSE:
  Turns a Recurrence rule into an ordered sequence of due dates, filtered
  by a schedule's exception sets. This is a pure computation: occurrences
  are never persisted, the cache recomputes them whenever it reloads.

GENERATION MODEL:
  Dates are produced in ascending order, period block by period block:
    daily:   start, start+N, start+2N, ...
    weekly:  each included weekday inside every Nth week
    monthly: each included day-of-month inside every Nth month,
             skipping months that lack that day (Jan 31 -> skip Feb)
    yearly:  each included (month, day) inside every Nth year

BOUNDS:
  The caller supplies exactly one bound: "next K occurrences" or "all
  occurrences up to date D". No bound means an empty result. Generation
  stops at the earlier of the rule's own stop condition (last date or
  remaining-occurrence count) and the caller's bound.

STOP-COUNT SEMANTICS:
  A remaining-occurrence count is consumed by candidate dates, before
  exception filtering. Canceling one occurrence therefore never pulls a
  later date into the sequence - the remaining dates stay exactly where
  they were.

FAILURE MODE:
  A malformed-but-constructible rule (day-of-month 32, weekday 9) yields
  an empty sequence; generation never errors. Rule construction is
  validated separately via Recurrence.Validate.

SEE ALSO:
  - types.go: Recurrence and Schedule definitions
  - cache.go: Merges occurrences with real transactions
*/
package ledger

import (
	"fmt"
	"sort"
	"time"
)

// =============================================================================
// BOUNDS - Exactly one per query
// =============================================================================

// Bound limits an occurrence query: either the next Count occurrences after
// filtering, or every occurrence up to and including Until.
type Bound struct {
	Count int
	Until *Date
}

func CountBound(n int) Bound { return Bound{Count: n} }

func UntilBound(d Date) Bound { return Bound{Until: &d} }

func (b Bound) valid() bool {
	if b.Count > 0 && b.Until != nil {
		return false // mutually exclusive
	}
	return b.Count > 0 || b.Until != nil
}

// emptyBlockCap bounds the number of consecutive candidate-free period
// blocks scanned before giving up, so malformed rules terminate with an
// empty sequence instead of spinning.
const emptyBlockCap = 1000

// =============================================================================
// OCCURRENCE GENERATION
// =============================================================================

// Occurrences returns the ordered due dates of the recurrence, excluding any
// date present in exceptions, limited by the rule's stop condition and the
// caller's bound. An invalid bound or an unproductive rule yields nil.
func (r Recurrence) Occurrences(exceptions DateSet, bound Bound) []Date {
	if !bound.valid() || r.Start.IsZero() {
		return nil
	}

	var out []Date
	remaining := -1 // -1: unbounded
	if r.Remaining != nil {
		remaining = *r.Remaining
	}

	// emit runs every candidate through the stop condition, the exception
	// sets and the caller bound. It returns false once generation must stop.
	emit := func(d Date) bool {
		if d.Before(r.Start) {
			return true
		}
		if r.Until != nil && d.After(*r.Until) {
			return false
		}
		if bound.Until != nil && d.After(*bound.Until) {
			return false
		}
		if remaining == 0 {
			return false
		}
		if remaining > 0 {
			remaining--
		}
		if exceptions.Contains(d) {
			return true
		}
		out = append(out, d)
		if bound.Count > 0 && len(out) >= bound.Count {
			return false
		}
		return true
	}

	switch r.Frequency {
	case FreqOnce:
		emit(r.Start)
	case FreqDaily:
		r.daily(emit)
	case FreqWeekly:
		r.weekly(emit)
	case FreqMonthly:
		r.monthly(emit)
	case FreqYearly:
		r.yearly(emit)
	}
	return out
}

// NextOccurrence returns the first occurrence strictly after the given date.
// Used by the auto-enter job and for blank-row date defaults.
func (r Recurrence) NextOccurrence(exceptions DateSet, after Date) (Date, bool) {
	horizon := after.AddYears(10)
	for _, d := range r.Occurrences(exceptions, UntilBound(horizon)) {
		if d.After(after) {
			return d, true
		}
	}
	return Date{}, false
}

func (r Recurrence) interval() int {
	if r.Interval < 1 {
		return 1
	}
	return r.Interval
}

func (r Recurrence) daily(emit func(Date) bool) {
	step := r.interval()
	for d := r.Start; ; d = d.AddDays(step) {
		if !emit(d) {
			return
		}
	}
}

func (r Recurrence) weekly(emit func(Date) bool) {
	days := append([]int(nil), r.Weekdays...)
	if len(days) == 0 {
		days = []int{int(r.Start.Weekday())}
	}
	sort.Ints(days)

	// Walk Sunday-aligned week blocks starting at the week containing Start.
	weekStart := r.Start.AddDays(-int(r.Start.Weekday()))
	step := 7 * r.interval()
	for empty := 0; empty < emptyBlockCap; {
		produced := false
		for _, wd := range days {
			if wd < 0 || wd > 6 {
				continue
			}
			produced = true
			if !emit(weekStart.AddDays(wd)) {
				return
			}
		}
		if produced {
			empty = 0
		} else {
			empty++
		}
		weekStart = weekStart.AddDays(step)
	}
}

func (r Recurrence) monthly(emit func(Date) bool) {
	days := append([]int(nil), r.DaysOfMonth...)
	if len(days) == 0 {
		days = []int{r.Start.Day()}
	}
	sort.Ints(days)

	year, month := r.Start.Year(), r.Start.Month()
	step := r.interval()
	for empty := 0; empty < emptyBlockCap; {
		produced := false
		for _, dom := range days {
			if dom < 1 || dom > DaysIn(year, month) {
				continue // month lacks this day, skip entirely
			}
			produced = true
			if !emit(NewDate(year, month, dom)) {
				return
			}
		}
		if produced {
			empty = 0
		} else {
			empty++
		}
		month += time.Month(step)
		for month > 12 {
			month -= 12
			year++
		}
	}
}

func (r Recurrence) yearly(emit func(Date) bool) {
	days := append([]MonthDay(nil), r.YearDays...)
	if len(days) == 0 {
		days = []MonthDay{{Month: r.Start.Month(), Day: r.Start.Day()}}
	}
	sort.Slice(days, func(i, j int) bool {
		if days[i].Month != days[j].Month {
			return days[i].Month < days[j].Month
		}
		return days[i].Day < days[j].Day
	})

	step := r.interval()
	for year, empty := r.Start.Year(), 0; empty < emptyBlockCap; year += step {
		produced := false
		for _, md := range days {
			if md.Month < time.January || md.Month > time.December {
				continue
			}
			if md.Day < 1 || md.Day > DaysIn(year, md.Month) {
				continue // Feb 29 in a non-leap year
			}
			produced = true
			if !emit(NewDate(year, md.Month, md.Day)) {
				return
			}
		}
		if produced {
			empty = 0
		} else {
			empty++
		}
	}
}

// =============================================================================
// RULE VALIDATION - Separate from generation
// =============================================================================

// Validate checks that the rule is well formed. Generation tolerates bad
// rules by producing nothing; this is the place that tells the user why.
func (r Recurrence) Validate() error {
	if r.Start.IsZero() {
		return fmt.Errorf("recurrence: start date required")
	}
	if r.Interval < 0 {
		return fmt.Errorf("recurrence: interval must be positive, got %d", r.Interval)
	}
	switch r.Frequency {
	case FreqOnce, FreqDaily, FreqWeekly, FreqMonthly, FreqYearly:
	default:
		return fmt.Errorf("recurrence: unknown frequency %q", r.Frequency)
	}
	for _, wd := range r.Weekdays {
		if wd < 0 || wd > 6 {
			return fmt.Errorf("recurrence: weekday %d out of range", wd)
		}
	}
	for _, dom := range r.DaysOfMonth {
		if dom < 1 || dom > 31 {
			return fmt.Errorf("recurrence: day-of-month %d out of range", dom)
		}
	}
	for _, md := range r.YearDays {
		if md.Month < time.January || md.Month > time.December {
			return fmt.Errorf("recurrence: month %d out of range", md.Month)
		}
		if md.Day < 1 || md.Day > 31 {
			return fmt.Errorf("recurrence: day %d out of range", md.Day)
		}
	}
	if r.Until != nil && r.Until.Before(r.Start) {
		return fmt.Errorf("recurrence: last date %s before start %s", r.Until, r.Start)
	}
	if r.Remaining != nil && *r.Remaining < 0 {
		return fmt.Errorf("recurrence: remaining count must not be negative")
	}
	return nil
}
