/*
Package attendance provides the core attendance normalization engine.

PURPOSE:
  This package contains the pure domain types and algorithms for turning raw
  clock punches into adjusted, payroll-ready timestamps. It knows how to
  resolve rounding rules, normalize punch times against a planned shift, and
  classify schedule anomalies. It performs no I/O: persistence lives behind
  the interfaces in store.go, orchestration lives in the workflow package.

KEY CONCEPTS IN THIS FILE (types.go):
  - ClockEvent: A single punch (day start/end, break start/end)
  - ShiftFact:  The externally supplied plan for a user/day (read-only)
  - AdjustedTimes / DailyComputation: Output of the normalizer
  - DayAttendanceView: Derived per-day summary, always recomputable

DESIGN PRINCIPLES:
  1. Determinism: the same inputs always produce the same adjusted values,
     so a day can be recomputed any number of times (safe backfill).
  2. Minute granularity: all punch arithmetic happens on whole minutes.
  3. Type safety: strong typing for IDs prevents mixing users and groups.
  4. No hidden state: everything a computation needs is passed in.

SEE ALSO:
  - rules.go:     RuleSet resolution with group/global/default fallback
  - normalize.go: Single-punch and daily-aggregate rounding
  - detect.go:    Anomaly classifiers
  - request.go:   Exception request lifecycle types
*/
package attendance

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type GroupID string
type EventID string
type RequestID string

// =============================================================================
// CLOCK EVENT - One punch
// =============================================================================

// PunchKind identifies which shift boundary a punch refers to.
type PunchKind string

const (
	PunchDayStart   PunchKind = "day_start"
	PunchBreakStart PunchKind = "break_start"
	PunchBreakEnd   PunchKind = "break_end"
	PunchDayEnd     PunchKind = "day_end"
)

// ValidPunchKind reports whether k is one of the four punch kinds.
func ValidPunchKind(k PunchKind) bool {
	switch k {
	case PunchDayStart, PunchBreakStart, PunchBreakEnd, PunchDayEnd:
		return true
	}
	return false
}

// EventStatus tracks whether a punch is settled or awaiting admin review.
// PendingReview is used for self-declared missed-punch corrections: the event
// participates in normalization immediately but can still be deleted if the
// correction is rejected.
type EventStatus string

const (
	EventConfirmed     EventStatus = "confirmed"
	EventPendingReview EventStatus = "pending_review"
)

// CaptureMethod records how the punch was captured. The engine never validates
// physical origin (GPS/QR checks happen upstream); the method is carried for
// audit only.
type CaptureMethod string

const (
	CaptureBadge    CaptureMethod = "badge"
	CaptureMobile   CaptureMethod = "mobile"
	CaptureWeb      CaptureMethod = "web"
	CaptureDeclared CaptureMethod = "declared" // retroactive missed-punch declaration
)

// ClockEvent is a single punch. At most one confirmed event exists per
// (user, date, kind); a pending_review event may temporarily coexist and
// supersedes on approval or is discarded on rejection.
type ClockEvent struct {
	ID         EventID
	UserID     UserID
	Date       Date
	Kind       PunchKind
	RawAt      time.Time  // as punched, truncated to the minute
	AdjustedAt *time.Time // nil until normalized
	Method     CaptureMethod
	Status     EventStatus
	Note       string // justification for declared punches
	CreatedAt  time.Time
}

// Adjusted returns the adjusted timestamp, falling back to the raw one when
// normalization has not run yet.
func (e ClockEvent) Adjusted() time.Time {
	if e.AdjustedAt != nil {
		return *e.AdjustedAt
	}
	return e.RawAt
}

// DayEvents is the set of punches for one user/day, keyed by kind.
// Pending-review events supersede confirmed ones for the same kind.
type DayEvents map[PunchKind]ClockEvent

// CollectDay builds a DayEvents map from a slice, letting pending_review
// events shadow confirmed ones.
func CollectDay(events []ClockEvent) DayEvents {
	day := make(DayEvents, len(events))
	for _, e := range events {
		if prev, ok := day[e.Kind]; ok {
			if prev.Status == EventPendingReview && e.Status == EventConfirmed {
				continue
			}
		}
		day[e.Kind] = e
	}
	return day
}

// =============================================================================
// SHIFT FACT - Externally supplied plan, never written by this engine
// =============================================================================

// ShiftFact is the planning feed's snapshot for a user/day.
type ShiftFact struct {
	UserID       UserID
	Date         Date
	PlannedStart time.Time
	PlannedEnd   time.Time
	BreakStart   *time.Time
	BreakEnd     *time.Time
	TeamManaged  bool
}

// PlannedBreakMinutes returns the planned break duration, 0 when no break
// window is planned.
func (s ShiftFact) PlannedBreakMinutes() int {
	if s.BreakStart == nil || s.BreakEnd == nil {
		return 0
	}
	return MinutesBetween(*s.BreakStart, *s.BreakEnd)
}

// BaseShiftMinutes is the planned net working time: span minus planned break.
func (s ShiftFact) BaseShiftMinutes() int {
	return MinutesBetween(s.PlannedStart, s.PlannedEnd) - s.PlannedBreakMinutes()
}

// =============================================================================
// NORMALIZER OUTPUT
// =============================================================================

// DailyComputation carries every intermediate of the daily-aggregate formula,
// so anomaly payloads and audits never re-derive them.
type DailyComputation struct {
	EntryAt           time.Time
	ExitRaw           time.Time
	AdjustedExit      time.Time
	BreakMinutes      int // effective break (planned, or approved waiver value)
	PlannedBreak      int
	BaseMinutes       int // planned net working minutes
	NetMinutes        int // exit_raw - entry - break
	RoundedMinutes    int
	DifferenceMinutes int // net - rounded, removed from the exit punch
	BlockMinutes      int
	RoundType         RoundType
}

// OvertimeMinutes is the counted overtime after rounding, 0 when the day did
// not exceed the planned net time.
func (d DailyComputation) OvertimeMinutes() int {
	ot := d.RoundedMinutes - d.BaseMinutes
	if ot < 0 {
		return 0
	}
	return ot
}

// AdjustedTimes is the full result of normalizing one day.
type AdjustedTimes struct {
	ByKind map[PunchKind]time.Time
	Daily  *DailyComputation // set only in daily mode with a day-end punch
}

// Of returns the adjusted time for a kind, if present.
func (a AdjustedTimes) Of(kind PunchKind) (time.Time, bool) {
	t, ok := a.ByKind[kind]
	return t, ok
}

// =============================================================================
// DAY ATTENDANCE VIEW - Derived, never independent truth
// =============================================================================

// AdjustedPunch pairs a punch with its adjusted time for presentation.
type AdjustedPunch struct {
	Kind       PunchKind
	RawAt      time.Time
	AdjustedAt time.Time
	Status     EventStatus
}

// DayAttendanceView is the derived summary for one user/day. It is a pure
// function of {events, shift, rules, resolved requests} and is recomputed on
// demand rather than stored as truth.
type DayAttendanceView struct {
	UserID           UserID
	Date             Date
	Punches          []AdjustedPunch
	NetWorkedMinutes int
	BreakMinutes     int
	WorkedHours      decimal.Decimal
	OvertimeMinutes  int
	OpenRequests     []RequestKind
	Complete         bool // day-start and day-end both present
}

// WorkedHoursOf converts net minutes to a decimal hour amount.
func WorkedHoursOf(netMinutes int) decimal.Decimal {
	return decimal.NewFromInt(int64(netMinutes)).Div(decimal.NewFromInt(60))
}

// =============================================================================
// MINUTE ARITHMETIC
// =============================================================================

// TruncateMinute drops seconds and below; all punch math is whole minutes.
func TruncateMinute(t time.Time) time.Time {
	return t.Truncate(time.Minute)
}

// MinutesBetween returns b-a in whole minutes (negative when b precedes a).
func MinutesBetween(a, b time.Time) int {
	return int(TruncateMinute(b).Sub(TruncateMinute(a)) / time.Minute)
}

// AddMinutes shifts a timestamp by n minutes.
func AddMinutes(t time.Time, n int) time.Time {
	return t.Add(time.Duration(n) * time.Minute)
}

// AbsMinutes is |n|.
func AbsMinutes(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
