package ledger

import (
	"encoding/json"
	"strings"
	"time"
)

// =============================================================================
// DATE - Day-granularity calendar date
// =============================================================================

// Date is a calendar day. The ledger never cares about time-of-day: rows
// sort by day, recurrence rules generate days, running balances cut over at
// day boundaries. Dates are normalized to UTC midnight so that Date values
// are comparable and usable as map keys.
type Date struct {
	t time.Time
}

// Constructors
func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates a time.Time to its calendar day.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

func Today() Date {
	return DateOf(time.Now())
}

// ParseDate parses the canonical YYYY-MM-DD form used in storage and on the
// wire. User-facing free-form input goes through the edit buffer instead.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, err
	}
	return DateOf(t), nil
}

// Accessors
func (d Date) Year() int         { return d.t.Year() }
func (d Date) Month() time.Month { return d.t.Month() }
func (d Date) Day() int          { return d.t.Day() }
func (d Date) Weekday() time.Weekday {
	return d.t.Weekday()
}
func (d Date) Time() time.Time { return d.t }
func (d Date) IsZero() bool    { return d.t.IsZero() }

// Comparison
func (d Date) Before(other Date) bool        { return d.t.Before(other.t) }
func (d Date) After(other Date) bool         { return d.t.After(other.t) }
func (d Date) Equal(other Date) bool         { return d.t.Equal(other.t) }
func (d Date) BeforeOrEqual(other Date) bool { return !d.t.After(other.t) }
func (d Date) AfterOrEqual(other Date) bool  { return !d.t.Before(other.t) }

// Compare returns -1, 0 or +1, the way the cache comparator needs it.
func (d Date) Compare(other Date) int {
	switch {
	case d.t.Before(other.t):
		return -1
	case d.t.After(other.t):
		return 1
	default:
		return 0
	}
}

// Arithmetic
func (d Date) AddDays(n int) Date   { return DateOf(d.t.AddDate(0, 0, n)) }
func (d Date) AddMonths(n int) Date { return DateOf(d.t.AddDate(0, n, 0)) }
func (d Date) AddYears(n int) Date  { return DateOf(d.t.AddDate(n, 0, 0)) }

// DaysIn returns the number of days in the date's month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func (d Date) String() string {
	if d.t.IsZero() {
		return ""
	}
	return d.t.Format("2006-01-02")
}

// JSON round-trips as "YYYY-MM-DD"; the zero date as "".
func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// =============================================================================
// DATE SET - Exception sets for schedules
// =============================================================================

// DateSet is a set of dates. Schedules keep two of them: occurrences already
// entered into real transactions and occurrences explicitly canceled.
type DateSet map[Date]struct{}

func NewDateSet(dates ...Date) DateSet {
	s := make(DateSet, len(dates))
	for _, d := range dates {
		s[d] = struct{}{}
	}
	return s
}

func (s DateSet) Contains(d Date) bool {
	_, ok := s[d]
	return ok
}

func (s DateSet) Add(d Date)    { s[d] = struct{}{} }
func (s DateSet) Remove(d Date) { delete(s, d) }

// Dates returns the members in ascending order.
func (s DateSet) Dates() []Date {
	out := make([]Date, 0, len(s))
	for d := range s {
		out = append(out, d)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Before(out[j-1]); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// JSON round-trips as a sorted array of "YYYY-MM-DD" strings.
func (s DateSet) MarshalJSON() ([]byte, error) {
	dates := s.Dates()
	out := make([]string, len(dates))
	for i, d := range dates {
		out[i] = d.String()
	}
	return json.Marshal(out)
}

func (s *DateSet) UnmarshalJSON(data []byte) error {
	var raw []string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	set := make(DateSet, len(raw))
	for _, r := range raw {
		d, err := ParseDate(r)
		if err != nil {
			return err
		}
		set.Add(d)
	}
	*s = set
	return nil
}

// Clone returns an independent copy. Schedules hand these to the recurrence
// engine, which must not observe later mutation.
func (s DateSet) Clone() DateSet {
	c := make(DateSet, len(s))
	for d := range s {
		c[d] = struct{}{}
	}
	return c
}

// MonthDay is a (month, day) pair for yearly recurrences.
type MonthDay struct {
	Month time.Month
	Day   int
}
