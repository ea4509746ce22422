package workflow_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/attendance/store"
	"github.com/warp/attendance-engine/workflow"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type world struct {
	store   *store.Memory
	clock   attendance.FixedClock
	intake  *workflow.IntakeService
	review  *workflow.ReviewService
	engine  *workflow.RecomputeEngine
	payroll *fakeEnqueuer
}

type fakeEnqueuer struct {
	days []attendance.Date
}

func (f *fakeEnqueuer) EnqueueDay(_ context.Context, _ attendance.UserID, date attendance.Date, _ time.Time) error {
	f.days = append(f.days, date)
	return nil
}

func day() attendance.Date { return attendance.NewDate(2026, time.March, 2) }

// newWorld seeds one user with a 09:00-18:00 shift and a 13:00-13:30 break.
func newWorld(t *testing.T) *world {
	t.Helper()
	m := store.NewMemory()
	clock := attendance.FixedClock{At: day().At(20, 0)}
	enq := &fakeEnqueuer{}

	intake := workflow.NewIntakeService(m, clock, nil)
	intake.Payroll = enq
	review := workflow.NewReviewService(m, clock, nil)
	review.Payroll = enq

	d := day()
	bs := d.At(13, 0)
	be := d.At(13, 30)
	require.NoError(t, m.PutShift(context.Background(), attendance.ShiftFact{
		UserID:       "alice",
		Date:         d,
		PlannedStart: d.At(9, 0),
		PlannedEnd:   d.At(18, 0),
		BreakStart:   &bs,
		BreakEnd:     &be,
	}))

	return &world{
		store:   m,
		clock:   clock,
		intake:  intake,
		review:  review,
		engine:  workflow.NewRecomputeEngine(m, clock),
		payroll: enq,
	}
}

// useDailyRules installs a global daily-aggregate rule row. Exit flexibility
// is widened so late exits exercise the overtime path, not the flex window.
func (w *world) useDailyRules(t *testing.T, block int) {
	t.Helper()
	mode := attendance.RoundingDaily
	rt := attendance.RoundFloor
	exitFlex := 120
	require.NoError(t, w.store.PutGroupRule(context.Background(), attendance.GroupRule{
		GroupID:         attendance.GlobalRuleGroup,
		Mode:            &mode,
		BlockMinutes:    &block,
		RoundType:       &rt,
		ExitFlexMinutes: &exitFlex,
	}))
}

func (w *world) punch(t *testing.T, kind attendance.PunchKind, at time.Time) *workflow.PunchResult {
	t.Helper()
	res, err := w.intake.RecordPunch(context.Background(), workflow.PunchInput{
		UserID: "alice", Date: day(), Kind: kind, RawAt: at,
		Method: attendance.CaptureBadge,
	})
	require.NoError(t, err)
	return res
}

// =============================================================================
// PUNCH INTAKE
// =============================================================================

func TestRecordPunch_SingleModeAdjustsAgainstAnchor(t *testing.T) {
	// GIVEN: default rules (single mode, block 15 floor)
	// WHEN:  punching day-start at 09:07
	// THEN:  the punch is persisted with an adjusted time of 09:00

	w := newWorld(t)
	res := w.punch(t, attendance.PunchDayStart, day().At(9, 7))

	assert.True(t, res.AdjustedAt.Equal(day().At(9, 0)),
		"adjusted = %v, want 09:00", res.AdjustedAt)

	events, err := w.store.ListDayEvents(context.Background(), "alice", day())
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.NotNil(t, events[0].AdjustedAt)
	assert.True(t, events[0].AdjustedAt.Equal(day().At(9, 0)))

	audits, err := w.store.ListAudit(context.Background(), "alice", day())
	require.NoError(t, err)
	assert.NotEmpty(t, audits, "intake must leave an audit trail")
}

func TestRecordPunch_DuplicateKindRejected(t *testing.T) {
	// GIVEN: a confirmed day-start punch
	// WHEN:  punching day-start again
	// THEN:  the second punch is rejected as a conflict

	w := newWorld(t)
	w.punch(t, attendance.PunchDayStart, day().At(9, 0))

	_, err := w.intake.RecordPunch(context.Background(), workflow.PunchInput{
		UserID: "alice", Date: day(), Kind: attendance.PunchDayStart,
		RawAt: day().At(9, 10), Method: attendance.CaptureBadge,
	})
	assert.ErrorIs(t, err, attendance.ErrDuplicatePunch)
	assert.True(t, attendance.IsConflict(err))
}

func TestRecordPunch_NoShiftFact(t *testing.T) {
	w := newWorld(t)
	_, err := w.intake.RecordPunch(context.Background(), workflow.PunchInput{
		UserID: "bob", Date: day(), Kind: attendance.PunchDayStart,
		RawAt: day().At(9, 0), Method: attendance.CaptureBadge,
	})
	assert.ErrorIs(t, err, attendance.ErrShiftMissing)
}

func TestRecordPunch_LateArrivalCreatesOnePendingRequest(t *testing.T) {
	// GIVEN: default rules (threshold 15, flex 30)
	// WHEN:  punching day-start at 09:20 (adjusted 09:15, exactly threshold)
	// THEN:  one pending late_arrival request exists; a second creation
	//        attempt for the same (user, date, kind) is refused

	w := newWorld(t)
	res := w.punch(t, attendance.PunchDayStart, day().At(9, 20))

	require.Len(t, res.CreatedRequests, 1)
	assert.Equal(t, attendance.KindLateArrival, res.CreatedRequests[0].Kind)
	assert.True(t, res.NeedsAttention)

	err := w.store.CreatePending(context.Background(), attendance.ExceptionRequest{
		ID: "dup", Kind: attendance.KindLateArrival,
		UserID: "alice", Date: day(), Status: attendance.StatusPending,
	})
	assert.ErrorIs(t, err, attendance.ErrPendingExists)
}

func TestRecordPunch_OverflowBlockRejectsBeforePersisting(t *testing.T) {
	// GIVEN: an overflow policy of block
	// WHEN:  punching an hour before the planned start (outside flex 30)
	// THEN:  the punch is rejected and nothing is written

	w := newWorld(t)
	ov := attendance.OverflowBlock
	require.NoError(t, w.store.PutGroupRule(context.Background(), attendance.GroupRule{
		GroupID:  attendance.GlobalRuleGroup,
		Overflow: &ov,
	}))

	_, err := w.intake.RecordPunch(context.Background(), workflow.PunchInput{
		UserID: "alice", Date: day(), Kind: attendance.PunchDayStart,
		RawAt: day().At(8, 0), Method: attendance.CaptureBadge,
	})
	assert.ErrorIs(t, err, attendance.ErrPunchBlocked)

	events, err := w.store.ListDayEvents(context.Background(), "alice", day())
	require.NoError(t, err)
	assert.Empty(t, events, "blocked punch must not be persisted")
}

func TestRecordPunch_OverflowWarnSurfacesWarningOnly(t *testing.T) {
	// GIVEN: an overflow policy of warn
	// WHEN:  punching outside the flexibility window
	// THEN:  the punch lands with a warning and no out-of-flex request

	w := newWorld(t)
	ov := attendance.OverflowWarn
	lt := 0 // disable late detection so only the warning path fires
	require.NoError(t, w.store.PutGroupRule(context.Background(), attendance.GroupRule{
		GroupID:              attendance.GlobalRuleGroup,
		Overflow:             &ov,
		LateThresholdMinutes: &lt,
	}))

	res := w.punch(t, attendance.PunchDayStart, day().At(8, 0))
	assert.NotEmpty(t, res.Warning)
	assert.Empty(t, res.CreatedRequests)
}

// =============================================================================
// EXTRA TURN AND APPROVAL FLOW
// =============================================================================

func TestExtraTurnFlow_DetectApproveResolveOnce(t *testing.T) {
	// GIVEN: daily rules (block 30), entry 08:55 and exit 19:01 (60min OT)
	// WHEN:  the day completes
	// THEN:  an extra_turn request goes pending and the day is enqueued for
	//        payroll; approval resolves it exactly once

	w := newWorld(t)
	w.useDailyRules(t, 30)

	w.punch(t, attendance.PunchDayStart, day().At(8, 55))
	res := w.punch(t, attendance.PunchDayEnd, day().At(19, 1))

	assert.True(t, res.AdjustedAt.Equal(day().At(18, 55)),
		"adjusted exit = %v, want 18:55", res.AdjustedAt)
	require.Len(t, res.CreatedRequests, 1)
	created := res.CreatedRequests[0]
	assert.Equal(t, attendance.KindExtraTurn, created.Kind)
	assert.Equal(t, 60, created.Payload.OvertimeMinutes)
	assert.Equal(t, []attendance.Date{day()}, w.payroll.days)

	resolved, err := w.review.Resolve(context.Background(), created.ID, attendance.Resolution{
		Approve: true, ResolverID: "admin-1",
	})
	require.NoError(t, err)
	assert.Equal(t, attendance.StatusApproved, resolved.Status)
	assert.Equal(t, "admin-1", resolved.ResolvedBy)

	// Terminal states are immutable: the loser of the race gets a conflict.
	_, err = w.review.Resolve(context.Background(), created.ID, attendance.Resolution{
		Approve: false, ResolverID: "admin-2",
	})
	assert.ErrorIs(t, err, attendance.ErrAlreadyResolved)

	// Resolution re-enqueues the day for payroll.
	assert.Equal(t, []attendance.Date{day(), day()}, w.payroll.days)
}

func TestResolve_RequiresResolver(t *testing.T) {
	w := newWorld(t)
	_, err := w.review.Resolve(context.Background(), "whatever", attendance.Resolution{Approve: true})
	assert.ErrorIs(t, err, attendance.ErrValidation)
}

func TestResolve_UnknownRequest(t *testing.T) {
	w := newWorld(t)
	_, err := w.review.Resolve(context.Background(), "missing", attendance.Resolution{
		Approve: true, ResolverID: "admin-1",
	})
	assert.ErrorIs(t, err, attendance.ErrRequestNotFound)
}

type downEnqueuer struct{}

func (downEnqueuer) EnqueueDay(context.Context, attendance.UserID, attendance.Date, time.Time) error {
	return errors.New("payroll queue unavailable")
}

func TestResolve_EnqueueFailureDoesNotMaskResolution(t *testing.T) {
	// GIVEN: a pending extra-turn request and a payroll queue that is down
	// WHEN:  the admin approves
	// THEN:  the committed resolution is returned, not the enqueue error

	w := newWorld(t)
	w.useDailyRules(t, 30)
	w.punch(t, attendance.PunchDayStart, day().At(8, 55))
	res := w.punch(t, attendance.PunchDayEnd, day().At(19, 1))
	require.Len(t, res.CreatedRequests, 1)

	w.review.Payroll = downEnqueuer{}
	resolved, err := w.review.Resolve(context.Background(), res.CreatedRequests[0].ID, attendance.Resolution{
		Approve: true, ResolverID: "admin-1",
	})
	require.NoError(t, err)
	require.NotNil(t, resolved)
	assert.Equal(t, attendance.StatusApproved, resolved.Status)

	req, err := w.store.GetRequest(context.Background(), res.CreatedRequests[0].ID)
	require.NoError(t, err)
	assert.Equal(t, attendance.StatusApproved, req.Status)
}

// =============================================================================
// MISSED PUNCH DECLARATION
// =============================================================================

func TestMissedPunch_RejectDeletesEventKeepsRequest(t *testing.T) {
	// GIVEN: a declared day-end punch pending review
	// WHEN:  an admin rejects the correction
	// THEN:  the event disappears, the rejected request stays for audit

	w := newWorld(t)
	res, err := w.intake.DeclareMissedPunch(context.Background(), workflow.PunchInput{
		UserID: "alice", Date: day(), Kind: attendance.PunchDayEnd,
		RawAt: day().At(18, 2), Method: attendance.CaptureDeclared,
	}, "forgot to badge out")
	require.NoError(t, err)
	require.Len(t, res.CreatedRequests, 1)

	_, err = w.review.Resolve(context.Background(), res.CreatedRequests[0].ID, attendance.Resolution{
		Approve: false, ResolverID: "admin-1", Reason: "no evidence",
	})
	require.NoError(t, err)

	_, err = w.store.GetEvent(context.Background(), res.EventID)
	assert.ErrorIs(t, err, attendance.ErrEventNotFound)

	req, err := w.store.GetRequest(context.Background(), res.CreatedRequests[0].ID)
	require.NoError(t, err)
	assert.Equal(t, attendance.StatusRejected, req.Status)
	assert.Equal(t, "no evidence", req.RejectionReason)
}

func TestMissedPunch_ApproveConfirmsEvent(t *testing.T) {
	w := newWorld(t)
	res, err := w.intake.DeclareMissedPunch(context.Background(), workflow.PunchInput{
		UserID: "alice", Date: day(), Kind: attendance.PunchDayStart,
		RawAt: day().At(9, 1), Method: attendance.CaptureDeclared,
	}, "badge reader was down")
	require.NoError(t, err)

	_, err = w.review.Resolve(context.Background(), res.CreatedRequests[0].ID, attendance.Resolution{
		Approve: true, ResolverID: "admin-1",
	})
	require.NoError(t, err)

	ev, err := w.store.GetEvent(context.Background(), res.EventID)
	require.NoError(t, err)
	assert.Equal(t, attendance.EventConfirmed, ev.Status)
}

func TestMissedPunch_ApproveSupersedesConfirmedPunch(t *testing.T) {
	// GIVEN: a confirmed 09:07 day-start and a declared correction to 09:00
	// WHEN:  the correction is approved
	// THEN:  the corrected event is the day's only day-start punch; the
	//        original confirmed event is deleted, with an audit entry

	w := newWorld(t)
	original := w.punch(t, attendance.PunchDayStart, day().At(9, 7))

	res, err := w.intake.DeclareMissedPunch(context.Background(), workflow.PunchInput{
		UserID: "alice", Date: day(), Kind: attendance.PunchDayStart,
		RawAt: day().At(9, 0), Method: attendance.CaptureDeclared,
	}, "badged in on the wrong terminal")
	require.NoError(t, err)
	require.Len(t, res.CreatedRequests, 1)

	_, err = w.review.Resolve(context.Background(), res.CreatedRequests[0].ID, attendance.Resolution{
		Approve: true, ResolverID: "admin-1",
	})
	require.NoError(t, err)

	events, err := w.store.ListDayEvents(context.Background(), "alice", day())
	require.NoError(t, err)
	var starts []attendance.ClockEvent
	for _, e := range events {
		if e.Kind == attendance.PunchDayStart {
			starts = append(starts, e)
		}
	}
	require.Len(t, starts, 1, "approval must supersede the original punch")
	assert.Equal(t, res.EventID, starts[0].ID)
	assert.Equal(t, attendance.EventConfirmed, starts[0].Status)
	assert.True(t, starts[0].RawAt.Equal(day().At(9, 0)))

	_, err = w.store.GetEvent(context.Background(), original.EventID)
	assert.ErrorIs(t, err, attendance.ErrEventNotFound)

	audits, err := w.store.ListAudit(context.Background(), "alice", day())
	require.NoError(t, err)
	var superseded bool
	for _, a := range audits {
		if a.Action == attendance.AuditEventDeleted &&
			a.Details["event_id"] == string(original.EventID) {
			superseded = true
		}
	}
	assert.True(t, superseded, "superseding deletion must be audited")
}

func TestMissedPunch_JustificationMandatory(t *testing.T) {
	w := newWorld(t)
	_, err := w.intake.DeclareMissedPunch(context.Background(), workflow.PunchInput{
		UserID: "alice", Date: day(), Kind: attendance.PunchDayEnd,
		RawAt: day().At(18, 0), Method: attendance.CaptureDeclared,
	}, "")
	assert.ErrorIs(t, err, attendance.ErrValidation)
}

// =============================================================================
// BREAK WAIVER
// =============================================================================

func TestBreakWaiver_ApprovalFeedsDailyFormula(t *testing.T) {
	// GIVEN: daily rules (block 20), a complete day 09:00-18:14
	// WHEN:  a waiver for a 10-minute break is approved (rounded to 20)
	// THEN:  recompute moves the adjusted exit from 18:00 to 18:10

	w := newWorld(t)
	w.useDailyRules(t, 20)

	w.punch(t, attendance.PunchDayStart, day().At(9, 0))
	res := w.punch(t, attendance.PunchDayEnd, day().At(18, 14))
	require.True(t, res.AdjustedAt.Equal(day().At(18, 0)),
		"pre-waiver adjusted exit = %v, want 18:00", res.AdjustedAt)

	sum, err := w.intake.RequestBreakWaiver(context.Background(), "alice", day(), 10)
	require.NoError(t, err)
	assert.Equal(t, 10, sum.Payload.RequestedBreakMinutes)
	assert.Equal(t, 20, sum.Payload.RoundedBreakMinutes, "requested length rounds up to the block")

	_, err = w.review.Resolve(context.Background(), sum.ID, attendance.Resolution{
		Approve: true, ResolverID: "admin-1",
	})
	require.NoError(t, err)

	ev, err := w.store.GetEvent(context.Background(), res.EventID)
	require.NoError(t, err)
	require.NotNil(t, ev.AdjustedAt)
	assert.True(t, ev.AdjustedAt.Equal(day().At(18, 10)),
		"post-waiver adjusted exit = %v, want 18:10", ev.AdjustedAt)
}

func TestBreakWaiver_MustBeShorterThanPlanned(t *testing.T) {
	w := newWorld(t)
	_, err := w.intake.RequestBreakWaiver(context.Background(), "alice", day(), 30)
	assert.ErrorIs(t, err, attendance.ErrValidation)
}

// =============================================================================
// RECOMPUTE AND BACKFILL
// =============================================================================

func TestRecompute_SecondRunWritesNothing(t *testing.T) {
	// GIVEN: a normalized day
	// WHEN:  recomputing twice
	// THEN:  the second run changes nothing and adds no audit entry

	w := newWorld(t)
	w.useDailyRules(t, 30)
	w.punch(t, attendance.PunchDayStart, day().At(8, 55))
	w.punch(t, attendance.PunchDayEnd, day().At(19, 1))

	require.NoError(t, w.engine.Recompute(context.Background(), "alice", day()))
	before, err := w.store.ListAudit(context.Background(), "alice", day())
	require.NoError(t, err)

	require.NoError(t, w.engine.Recompute(context.Background(), "alice", day()))
	after, err := w.store.ListAudit(context.Background(), "alice", day())
	require.NoError(t, err)

	assert.Equal(t, len(before), len(after), "idempotent recompute must not audit")
}

func TestBackfill_RepairsDivergedValues(t *testing.T) {
	// GIVEN: a stored adjusted value tampered away from the formula's output
	// WHEN:  auditing and backfilling the range
	// THEN:  the divergence is reported, then repaired, and a second audit
	//        is clean

	w := newWorld(t)
	w.useDailyRules(t, 30)
	w.punch(t, attendance.PunchDayStart, day().At(8, 55))
	res := w.punch(t, attendance.PunchDayEnd, day().At(19, 1))

	// Simulate a record written by a buggy formula version.
	require.NoError(t, w.store.SetAdjusted(context.Background(), res.EventID, day().At(19, 1)))

	diverged, err := w.engine.Audit(context.Background(), "alice", day())
	require.NoError(t, err)
	require.Len(t, diverged, 1)
	assert.True(t, diverged[0].Fresh.Equal(day().At(18, 55)))

	report, err := w.engine.Backfill(context.Background(), "alice", day(), day())
	require.NoError(t, err)
	assert.Equal(t, 1, report.DaysChecked)
	assert.Len(t, report.Corrections, 1)

	clean, err := w.engine.Audit(context.Background(), "alice", day())
	require.NoError(t, err)
	assert.Empty(t, clean)
}

func TestBackfill_SkipsDaysWithoutShift(t *testing.T) {
	// GIVEN: a range where only one day has a shift fact
	// WHEN:  backfilling
	// THEN:  shiftless days are counted as skipped, not failed

	w := newWorld(t)
	w.punch(t, attendance.PunchDayStart, day().At(9, 0))

	// An orphaned punch on a day the planning feed never covered.
	prev := day().AddDays(-1)
	require.NoError(t, w.store.InsertEvent(context.Background(), attendance.ClockEvent{
		ID: "orphan", UserID: "alice", Date: prev, Kind: attendance.PunchDayStart,
		RawAt: prev.At(9, 0), Method: attendance.CaptureBadge,
		Status: attendance.EventConfirmed, CreatedAt: prev.At(9, 0),
	}))

	report, err := w.engine.Backfill(context.Background(), "alice", prev, day())
	require.NoError(t, err)
	assert.Equal(t, 1, report.DaysChecked)
	assert.Equal(t, 1, report.DaysSkipped)
}

// =============================================================================
// DAY VIEW
// =============================================================================

func TestDayView_ReflectsAdjustedStateAndOpenRequests(t *testing.T) {
	// GIVEN: a complete daily-mode day with pending overtime
	// WHEN:  building the day view
	// THEN:  worked hours derive from net minutes and the open request shows

	w := newWorld(t)
	w.useDailyRules(t, 30)
	w.punch(t, attendance.PunchDayStart, day().At(8, 55))
	w.punch(t, attendance.PunchDayEnd, day().At(19, 1))

	view, err := workflow.DayView(context.Background(), w.store, "alice", day())
	require.NoError(t, err)

	assert.True(t, view.Complete)
	assert.Equal(t, 576, view.NetWorkedMinutes)
	assert.Equal(t, 60, view.OvertimeMinutes)
	assert.Equal(t, "9.60", view.WorkedHours.StringFixed(2))
	assert.Equal(t, []attendance.RequestKind{attendance.KindExtraTurn}, view.OpenRequests)
}
