/*
view.go - Derived per-day attendance summary

PURPOSE:
  DayAttendanceView is never stored as independent truth: it is recomputed
  here as a pure function of {events, shift, rules, resolved requests}.
  Replaying the same inputs always yields the same view, which is the core
  correctness invariant behind safe backfill recomputation.
*/
package attendance

// =============================================================================
// RESOLUTION EFFECTS - Reading approved requests back into inputs
// =============================================================================

// ApprovedBreakMinutes extracts the granted break length of an approved
// break-reduction waiver for the day, nil when none exists.
func ApprovedBreakMinutes(requests []ExceptionRequest) *int {
	for _, r := range requests {
		if r.Kind == KindBreakWaiver && r.Status == StatusApproved {
			granted := r.Payload.RoundedBreakMinutes
			return &granted
		}
	}
	return nil
}

// ApprovedAnticipationMinutes extracts the early-arrival minutes of an
// approved out-of-flex allowance on the day-start punch. Pending allowances
// never count (conservative approved-only behavior).
func ApprovedAnticipationMinutes(requests []ExceptionRequest) int {
	for _, r := range requests {
		if r.Kind == KindOutOfFlex && r.Status == StatusApproved &&
			r.Payload.PunchKind == PunchDayStart && r.Payload.EarlyMinutes > 0 {
			return r.Payload.EarlyMinutes
		}
	}
	return 0
}

// =============================================================================
// VIEW ASSEMBLY
// =============================================================================

// BuildDayView derives the day summary. Pure; callable any number of times.
func BuildDayView(user UserID, date Date, events []ClockEvent, shift ShiftFact, rules RuleSet, requests []ExceptionRequest) DayAttendanceView {
	day := CollectDay(events)
	adjusted := Normalize(NormalizeInput{
		Events:               day,
		Shift:                shift,
		Rules:                rules,
		ApprovedBreakMinutes: ApprovedBreakMinutes(requests),
	})

	view := DayAttendanceView{UserID: user, Date: date}

	for _, e := range events {
		at, ok := adjusted.Of(e.Kind)
		if !ok {
			at = TruncateMinute(e.RawAt)
		}
		view.Punches = append(view.Punches, AdjustedPunch{
			Kind:       e.Kind,
			RawAt:      TruncateMinute(e.RawAt),
			AdjustedAt: at,
			Status:     e.Status,
		})
	}

	entry, hasEntry := adjusted.Of(PunchDayStart)
	exit, hasExit := adjusted.Of(PunchDayEnd)
	view.Complete = hasEntry && hasExit

	if adjusted.Daily != nil {
		view.NetWorkedMinutes = adjusted.Daily.NetMinutes
		view.BreakMinutes = adjusted.Daily.BreakMinutes
		view.OvertimeMinutes = adjusted.Daily.OvertimeMinutes()
	} else if view.Complete {
		breakMin := breakMinutesFrom(day, shift, requests)
		view.BreakMinutes = breakMin
		view.NetWorkedMinutes = MinutesBetween(entry, exit) - breakMin
	}
	view.WorkedHours = WorkedHoursOf(view.NetWorkedMinutes)

	for _, r := range requests {
		if r.Status == StatusPending {
			view.OpenRequests = append(view.OpenRequests, r.Kind)
		}
	}
	return view
}

// breakMinutesFrom picks the effective break in single mode: punched break
// span when both break punches exist, else the planned (or waived) duration.
func breakMinutesFrom(day DayEvents, shift ShiftFact, requests []ExceptionRequest) int {
	if granted := ApprovedBreakMinutes(requests); granted != nil {
		return *granted
	}
	bs, hasStart := day[PunchBreakStart]
	be, hasEnd := day[PunchBreakEnd]
	if hasStart && hasEnd {
		return MinutesBetween(bs.RawAt, be.RawAt)
	}
	return shift.PlannedBreakMinutes()
}
