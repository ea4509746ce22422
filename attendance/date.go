package attendance

import (
	"fmt"
	"time"
)

// =============================================================================
// DATE - Day-granularity key for all per-day state
// =============================================================================

// Date is a calendar day in UTC. It keys ClockEvents, ShiftFacts and
// ExceptionRequests; punches carry full timestamps separately.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{Year: year, Month: month, Day: day}
}

// DateOf extracts the UTC calendar day from a timestamp.
func DateOf(t time.Time) Date {
	u := t.UTC()
	return Date{Year: u.Year(), Month: u.Month(), Day: u.Day()}
}

// ParseDate parses "2006-01-02".
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return DateOf(t), nil
}

// Time returns midnight UTC of the day.
func (d Date) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// At returns the timestamp for a clock time on this day (UTC).
func (d Date) At(hour, minute int) time.Time {
	return time.Date(d.Year, d.Month, d.Day, hour, minute, 0, 0, time.UTC)
}

func (d Date) String() string        { return d.Time().Format("2006-01-02") }
func (d Date) IsZero() bool          { return d.Year == 0 }
func (d Date) Equal(o Date) bool     { return d == o }
func (d Date) Before(o Date) bool    { return d.Time().Before(o.Time()) }
func (d Date) After(o Date) bool     { return d.Time().After(o.Time()) }
func (d Date) AddDays(n int) Date    { return DateOf(d.Time().AddDate(0, 0, n)) }
func (d Date) Weekday() time.Weekday { return d.Time().Weekday() }

// DatesBetween returns every day in [from, to] inclusive.
func DatesBetween(from, to Date) []Date {
	if to.Before(from) {
		return nil
	}
	var out []Date
	for d := from; !d.After(to); d = d.AddDays(1) {
		out = append(out, d)
	}
	return out
}
