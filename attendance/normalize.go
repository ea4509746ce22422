/*
normalize.go - Raw punch -> adjusted timestamp

PURPOSE:
  Pure, deterministic normalization of a day's punches. Two modes:

  SINGLE: every punch is rounded independently to the configured block,
  relative to its own anchor (shift start for the entry punch, shift end for
  the exit punch, the planned break bounds for break punches).

  DAILY: only the day-end punch is adjusted. The adjustment removes the
  sub-block remainder of the day's net overtime:

      net        = exit_raw - entry - break_minutes
      rounded    = base + round((net - base) / block) * block   (net > base)
      difference = net - rounded
      adjusted   = exit_raw - difference

  break_minutes defaults to the planned break from the ShiftFact; an approved
  break-reduction waiver substitutes its rounded break length. When
  net <= base there is no overtime and the exit passes through unmodified.

IDEMPOTENCE:
  Normalize has no side effects and no hidden inputs. Calling it again with
  the same NormalizeInput yields the same AdjustedTimes, which is what makes
  recompute and backfill safe.

SEE ALSO:
  - detect.go: consumes the DailyComputation to quantify overtime
  - workflow/recompute.go: reruns this after request resolution
*/
package attendance

import "time"

// =============================================================================
// INPUT
// =============================================================================

// NormalizeInput bundles everything normalization depends on. Resolution
// effects are baked in by the caller: an approved break-reduction waiver
// arrives as ApprovedBreakMinutes, the engine never reads request state.
type NormalizeInput struct {
	Events DayEvents
	Shift  ShiftFact
	Rules  RuleSet

	// ApprovedBreakMinutes substitutes the planned break duration when an
	// approved break-reduction waiver exists for the day.
	ApprovedBreakMinutes *int
}

// EffectiveBreakMinutes is the break duration the daily formula subtracts.
func (in NormalizeInput) EffectiveBreakMinutes() int {
	if in.ApprovedBreakMinutes != nil {
		return *in.ApprovedBreakMinutes
	}
	return in.Shift.PlannedBreakMinutes()
}

// =============================================================================
// NORMALIZE
// =============================================================================

// Normalize computes adjusted timestamps for every punch of the day.
// Pure: same input, same output, any number of times.
func Normalize(in NormalizeInput) AdjustedTimes {
	out := AdjustedTimes{ByKind: make(map[PunchKind]time.Time, len(in.Events))}

	switch in.Rules.Mode {
	case RoundingDaily:
		normalizeDaily(in, &out)
	default:
		normalizeSingle(in, &out)
	}
	return out
}

// normalizeSingle rounds each punch against its own anchor.
func normalizeSingle(in NormalizeInput, out *AdjustedTimes) {
	for kind, e := range in.Events {
		anchor, ok := punchAnchor(kind, in.Shift)
		if !ok {
			// No planned bound to round against (e.g. break punch with no
			// planned break window): pass through.
			out.ByKind[kind] = TruncateMinute(e.RawAt)
			continue
		}
		offset := MinutesBetween(anchor, e.RawAt)
		out.ByKind[kind] = AddMinutes(anchor, roundToBlock(offset, in.Rules.BlockMinutes, in.Rules.RoundType))
	}
}

// normalizeDaily passes entry/break punches through and adjusts the day-end
// punch by the rounded-overtime difference.
func normalizeDaily(in NormalizeInput, out *AdjustedTimes) {
	for kind, e := range in.Events {
		out.ByKind[kind] = TruncateMinute(e.RawAt)
	}

	entry, hasEntry := in.Events[PunchDayStart]
	exit, hasExit := in.Events[PunchDayEnd]
	if !hasEntry || !hasExit {
		// Incomplete day: nothing to aggregate yet.
		return
	}

	comp := ComputeDaily(
		TruncateMinute(entry.RawAt),
		TruncateMinute(exit.RawAt),
		in.Shift,
		in.Rules,
		in.EffectiveBreakMinutes(),
	)
	out.ByKind[PunchDayEnd] = comp.AdjustedExit
	out.Daily = &comp
}

// ComputeDaily evaluates the daily-aggregate formula. Exposed separately so
// the extra-turn detector and audits can quantify overtime from the same
// arithmetic the normalizer uses.
func ComputeDaily(entry, exitRaw time.Time, shift ShiftFact, rules RuleSet, breakMinutes int) DailyComputation {
	base := shift.BaseShiftMinutes()
	net := MinutesBetween(entry, exitRaw) - breakMinutes

	rounded := net
	if net > base {
		rounded = base + roundToBlock(net-base, rules.BlockMinutes, rules.RoundType)
	}
	diff := net - rounded

	return DailyComputation{
		EntryAt:           entry,
		ExitRaw:           exitRaw,
		AdjustedExit:      AddMinutes(exitRaw, -diff),
		BreakMinutes:      breakMinutes,
		PlannedBreak:      shift.PlannedBreakMinutes(),
		BaseMinutes:       base,
		NetMinutes:        net,
		RoundedMinutes:    rounded,
		DifferenceMinutes: diff,
		BlockMinutes:      rules.BlockMinutes,
		RoundType:         rules.RoundType,
	}
}

// =============================================================================
// HELPERS
// =============================================================================

// punchAnchor returns the planned bound a punch kind rounds against.
func punchAnchor(kind PunchKind, shift ShiftFact) (time.Time, bool) {
	switch kind {
	case PunchDayStart:
		return shift.PlannedStart, true
	case PunchDayEnd:
		return shift.PlannedEnd, true
	case PunchBreakStart:
		if shift.BreakStart != nil {
			return *shift.BreakStart, true
		}
	case PunchBreakEnd:
		if shift.BreakEnd != nil {
			return *shift.BreakEnd, true
		}
	}
	return time.Time{}, false
}

// roundToBlock rounds a minute offset to a multiple of block. Handles
// negative offsets (punch before its anchor) with floor toward minus
// infinity so floor/ceil keep their direction on both sides of the anchor.
func roundToBlock(offset, block int, typ RoundType) int {
	if block <= 0 {
		return offset
	}
	q := floorDiv(offset, block)
	rem := offset - q*block // always in [0, block)

	switch typ {
	case RoundCeil:
		if rem > 0 {
			q++
		}
	case RoundNearest:
		if rem*2 >= block {
			q++
		}
	}
	return q * block
}

// floorDiv divides rounding toward minus infinity.
func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
