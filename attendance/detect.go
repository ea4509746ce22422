/*
detect.go - Anomaly classifiers

PURPOSE:
  Three independent, pure classifiers over a day's normalized punches:

  LATE ARRIVAL      day-start punch, adjusted entry past the planned start by
                    at least the configured threshold (0 disables).
  EXTRA TURN        day-end punch in daily mode, counted overtime after
                    rounding is positive. Suppressed when an approved
                    early-arrival allowance for the date matches the overtime
                    within one minute (anticipation already pays for it).
  OUT OF FLEX       any anchored punch outside its flexibility window.

  Each classifier returns nil ("no finding") or a finding struct carrying
  every input used to detect and quantify the anomaly, so the resulting
  ExceptionRequest payload never needs to re-derive raw data.

TOTALITY:
  Classifiers never fail on ordinary out-of-range inputs; they return nil.
  Missing required inputs (RuleSet, ShiftFact) are rejected upstream at
  intake before detection runs.

IDEMPOTENCY:
  Detection itself is stateless. The no-duplicate guarantee lives in the
  request store: before insert, an existing pending request of the same
  (user, date, kind) turns creation into a no-op. See workflow/intake.go.
*/
package attendance

import "time"

// =============================================================================
// FINDINGS
// =============================================================================

// LateArrivalFinding quantifies a late day-start punch.
type LateArrivalFinding struct {
	ShiftStart       time.Time
	AdjustedEntry    time.Time
	LateMinutes      int
	ThresholdMinutes int
}

// ExtraTurnFinding quantifies counted overtime at day-end.
type ExtraTurnFinding struct {
	PlannedStart    time.Time
	PlannedEnd      time.Time
	ActualStart     time.Time
	ActualExit      time.Time
	AdjustedExit    time.Time
	WorkedMinutes   int
	PlannedMinutes  int
	OvertimeMinutes int
	BlockMinutes    int
	RoundType       RoundType
	Difference      int

	// Break details carried for review context.
	EffectiveBreak  int
	PlannedBreak    int
	BreakConfirmed  bool
	BreakSkipReason string
}

// OutOfFlexFinding describes a punch outside its flexibility window.
type OutOfFlexFinding struct {
	Kind        PunchKind
	PunchAt     time.Time
	WindowStart time.Time
	WindowEnd   time.Time
	FlexMinutes int
	// EarlyMinutes is set when the punch precedes the window; an approved
	// early day-start allowance is what the extra-turn detector compares
	// overtime against.
	EarlyMinutes int
	LateMinutes  int
}

// =============================================================================
// LATE ARRIVAL
// =============================================================================

// DetectLateArrival classifies an adjusted day-start punch. A zero threshold
// disables detection entirely.
func DetectLateArrival(adjustedEntry time.Time, shift ShiftFact, rules RuleSet) *LateArrivalFinding {
	if rules.LateThresholdMinutes <= 0 {
		return nil
	}
	late := MinutesBetween(shift.PlannedStart, adjustedEntry)
	if late < rules.LateThresholdMinutes {
		return nil
	}
	return &LateArrivalFinding{
		ShiftStart:       shift.PlannedStart,
		AdjustedEntry:    adjustedEntry,
		LateMinutes:      late,
		ThresholdMinutes: rules.LateThresholdMinutes,
	}
}

// =============================================================================
// EXTRA TURN (OVERTIME)
// =============================================================================

// AnticipationTolerance is the equality tolerance, in minutes, when comparing
// an approved early-arrival allowance against computed overtime.
const AnticipationTolerance = 1

// DetectExtraTurn classifies a completed day in daily mode.
// approvedAnticipation is the early-arrival minutes of an approved allowance
// for the same date, 0 when none exists; a pending allowance never counts.
// The credit is capped at MaxAnticipationMinutes when the rule sets one.
func DetectExtraTurn(comp DailyComputation, shift ShiftFact, rules RuleSet, approvedAnticipation int, breakConfirmed bool, breakSkipReason string) *ExtraTurnFinding {
	if rules.Mode != RoundingDaily {
		return nil
	}
	overtime := comp.OvertimeMinutes()
	if overtime <= 0 {
		return nil
	}

	// An approved anticipation that numerically matches the overtime means
	// the early arrival already pays for it: no request, no double-counting.
	credit := approvedAnticipation
	if rules.MaxAnticipationMinutes > 0 && credit > rules.MaxAnticipationMinutes {
		credit = rules.MaxAnticipationMinutes
	}
	if credit > 0 && AbsMinutes(overtime-credit) <= AnticipationTolerance {
		return nil
	}

	return &ExtraTurnFinding{
		PlannedStart:    shift.PlannedStart,
		PlannedEnd:      shift.PlannedEnd,
		ActualStart:     comp.EntryAt,
		ActualExit:      comp.ExitRaw,
		AdjustedExit:    comp.AdjustedExit,
		WorkedMinutes:   comp.NetMinutes,
		PlannedMinutes:  comp.BaseMinutes,
		OvertimeMinutes: overtime,
		BlockMinutes:    comp.BlockMinutes,
		RoundType:       comp.RoundType,
		Difference:      comp.DifferenceMinutes,
		EffectiveBreak:  comp.BreakMinutes,
		PlannedBreak:    comp.PlannedBreak,
		BreakConfirmed:  breakConfirmed,
		BreakSkipReason: breakSkipReason,
	}
}

// =============================================================================
// OUT OF FLEXIBILITY
// =============================================================================

// DetectOutOfFlex checks a punch against its flexibility window. Only shift
// boundary punches have windows; break punches are governed by the break
// waiver flow instead. The caller maps the resolved overflow policy onto the
// finding (allow -> request, warn -> warning, block -> reject at intake).
func DetectOutOfFlex(kind PunchKind, punchAt time.Time, shift ShiftFact, rules RuleSet) *OutOfFlexFinding {
	var anchor time.Time
	var flex int
	switch kind {
	case PunchDayStart:
		anchor, flex = shift.PlannedStart, rules.EntryFlexMinutes
	case PunchDayEnd:
		anchor, flex = shift.PlannedEnd, rules.ExitFlexMinutes
	default:
		return nil
	}

	punchAt = TruncateMinute(punchAt)
	windowStart := AddMinutes(anchor, -flex)
	windowEnd := AddMinutes(anchor, flex)
	if !punchAt.Before(windowStart) && !punchAt.After(windowEnd) {
		return nil
	}

	f := &OutOfFlexFinding{
		Kind:        kind,
		PunchAt:     punchAt,
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
		FlexMinutes: flex,
	}
	if punchAt.Before(windowStart) {
		f.EarlyMinutes = MinutesBetween(punchAt, anchor)
	} else {
		f.LateMinutes = MinutesBetween(anchor, punchAt)
	}
	return f
}
