package payroll_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/attendance/store"
	"github.com/warp/attendance-engine/payroll"
)

// =============================================================================
// TEST DOUBLES
// =============================================================================

// stepClock is a mutable fixed clock so tests can move past backoff windows.
type stepClock struct {
	at time.Time
}

func (c *stepClock) Now() time.Time        { return c.at }
func (c *stepClock) advance(d time.Duration) { c.at = c.at.Add(d) }

// memQueue is an in-memory QueueStore mirroring the documented upsert rules.
type memQueue struct {
	recs map[string]*payroll.QueueRecord
}

func newMemQueue() *memQueue {
	return &memQueue{recs: make(map[string]*payroll.QueueRecord)}
}

func (q *memQueue) EnqueueDay(_ context.Context, user attendance.UserID, date attendance.Date, at time.Time) error {
	key := string(user) + "|" + date.String()
	if rec, ok := q.recs[key]; ok {
		if rec.Status == payroll.RecordSubmitted {
			rec.Status = payroll.RecordQueued
			rec.Attempts = 0
			rec.NextAttemptAt = at
			rec.LastError = ""
		}
		return nil
	}
	q.recs[key] = &payroll.QueueRecord{
		ID: key, UserID: user, Date: date,
		Status: payroll.RecordQueued, NextAttemptAt: at, CreatedAt: at,
	}
	return nil
}

func (q *memQueue) ListDue(_ context.Context, now time.Time) ([]payroll.QueueRecord, error) {
	var due []payroll.QueueRecord
	for _, rec := range q.recs {
		if rec.Status == payroll.RecordQueued && !rec.NextAttemptAt.After(now) {
			due = append(due, *rec)
		}
	}
	return due, nil
}

func (q *memQueue) ListRecords(_ context.Context) ([]payroll.QueueRecord, error) {
	var all []payroll.QueueRecord
	for _, rec := range q.recs {
		all = append(all, *rec)
	}
	return all, nil
}

func (q *memQueue) MarkSubmitted(_ context.Context, id string, at time.Time) error {
	rec, ok := q.recs[id]
	if !ok {
		return fmt.Errorf("unknown record %s", id)
	}
	rec.Status = payroll.RecordSubmitted
	rec.SubmittedAt = &at
	return nil
}

func (q *memQueue) MarkAttempt(_ context.Context, id string, attempts int, nextAt time.Time, lastError string) error {
	rec, ok := q.recs[id]
	if !ok {
		return fmt.Errorf("unknown record %s", id)
	}
	rec.Attempts = attempts
	rec.NextAttemptAt = nextAt
	rec.LastError = lastError
	return nil
}

func (q *memQueue) MarkFailed(_ context.Context, id string, lastError string) error {
	rec, ok := q.recs[id]
	if !ok {
		return fmt.Errorf("unknown record %s", id)
	}
	rec.Status = payroll.RecordFailed
	rec.LastError = lastError
	return nil
}

// fakeGateway records submissions and fails on demand.
type fakeGateway struct {
	subs []payroll.Submission
	err  error
}

func (g *fakeGateway) Submit(_ context.Context, sub payroll.Submission) error {
	if g.err != nil {
		return g.err
	}
	g.subs = append(g.subs, sub)
	return nil
}

// =============================================================================
// FIXTURE
// =============================================================================

func testDay() attendance.Date { return attendance.NewDate(2026, time.March, 2) }

// seedCompleteDay stores a shift, daily rules and a normalized complete day.
func seedCompleteDay(t *testing.T, m *store.Memory) {
	t.Helper()
	ctx := context.Background()
	d := testDay()

	bs := d.At(13, 0)
	be := d.At(13, 30)
	require.NoError(t, m.PutShift(ctx, attendance.ShiftFact{
		UserID: "alice", Date: d,
		PlannedStart: d.At(9, 0), PlannedEnd: d.At(18, 0),
		BreakStart: &bs, BreakEnd: &be,
	}))

	mode := attendance.RoundingDaily
	block := 30
	require.NoError(t, m.PutGroupRule(ctx, attendance.GroupRule{
		GroupID: attendance.GlobalRuleGroup, Mode: &mode, BlockMinutes: &block,
	}))

	entryAdj := d.At(9, 0)
	exitAdj := d.At(18, 0)
	for _, e := range []attendance.ClockEvent{
		{ID: "ev-start", UserID: "alice", Date: d, Kind: attendance.PunchDayStart,
			RawAt: d.At(9, 0), AdjustedAt: &entryAdj, Method: attendance.CaptureBadge,
			Status: attendance.EventConfirmed, CreatedAt: d.At(9, 0)},
		{ID: "ev-end", UserID: "alice", Date: d, Kind: attendance.PunchDayEnd,
			RawAt: d.At(18, 0), AdjustedAt: &exitAdj, Method: attendance.CaptureBadge,
			Status: attendance.EventConfirmed, CreatedAt: d.At(18, 0)},
	} {
		require.NoError(t, m.InsertEvent(ctx, e))
	}
}

func newTestWorker(t *testing.T) (*payroll.Worker, *memQueue, *fakeGateway, *stepClock, *store.Memory) {
	t.Helper()
	m := store.NewMemory()
	seedCompleteDay(t, m)

	queue := newMemQueue()
	gateway := &fakeGateway{}
	clock := &stepClock{at: testDay().At(19, 0)}

	w := payroll.NewWorker(queue, m, gateway, clock)
	w.Backoff = 5 * time.Minute
	w.MaxAttempts = 5

	require.NoError(t, queue.EnqueueDay(context.Background(), "alice", testDay(), clock.Now()))
	return w, queue, gateway, clock, m
}

func singleRecord(t *testing.T, queue *memQueue) payroll.QueueRecord {
	t.Helper()
	recs, err := queue.ListRecords(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	return recs[0]
}

// =============================================================================
// SUBMISSION
// =============================================================================

func TestSweep_SubmitsCompleteDay(t *testing.T) {
	// GIVEN: a complete, anomaly-free day in the queue
	// WHEN:  sweeping
	// THEN:  both punches go out with idempotency keys, worked hours ride on
	//        the day-end record, and the queue record is marked submitted

	w, queue, gateway, _, m := newTestWorker(t)
	w.Sweep(context.Background())

	require.Len(t, gateway.subs, 2)
	assert.Equal(t, attendance.PunchDayStart, gateway.subs[0].Kind)
	assert.Equal(t, attendance.PunchDayEnd, gateway.subs[1].Kind)
	assert.Equal(t, "alice|2026-03-02|day_end", gateway.subs[1].IdempotencyKey)
	// 09:00-18:00 with a 30min break: 510 minutes = 8.5 hours
	assert.Equal(t, "8.50", gateway.subs[1].WorkedHours.StringFixed(2))
	assert.True(t, gateway.subs[0].WorkedHours.IsZero())

	rec := singleRecord(t, queue)
	assert.Equal(t, payroll.RecordSubmitted, rec.Status)
	require.NotNil(t, rec.SubmittedAt)

	audits, err := m.ListAudit(context.Background(), "alice", testDay())
	require.NoError(t, err)
	require.Len(t, audits, 1)
	assert.Equal(t, attendance.AuditPayrollSubmitted, audits[0].Action)
}

func TestSweep_HoldsWhilePendingRequestExists(t *testing.T) {
	// GIVEN: a queued day with a pending exception request
	// WHEN:  sweeping
	// THEN:  nothing is submitted and no attempt is burned; the day stays
	//        queued for the sweep after resolution

	w, queue, gateway, _, m := newTestWorker(t)
	require.NoError(t, m.CreatePending(context.Background(), attendance.ExceptionRequest{
		ID: "req-1", Kind: attendance.KindExtraTurn,
		UserID: "alice", Date: testDay(), Status: attendance.StatusPending,
	}))

	w.Sweep(context.Background())

	assert.Empty(t, gateway.subs)
	rec := singleRecord(t, queue)
	assert.Equal(t, payroll.RecordQueued, rec.Status)
	assert.Equal(t, 0, rec.Attempts)
}

func TestSweep_IncompleteDayNotSubmitted(t *testing.T) {
	// GIVEN: a queued day whose day-end punch is gone
	// WHEN:  sweeping
	// THEN:  nothing is submitted and the record stays queued

	w, queue, gateway, _, m := newTestWorker(t)
	require.NoError(t, m.DeleteEvent(context.Background(), "ev-end"))

	w.Sweep(context.Background())

	assert.Empty(t, gateway.subs)
	assert.Equal(t, payroll.RecordQueued, singleRecord(t, queue).Status)
}

// =============================================================================
// RETRY BEHAVIOR
// =============================================================================

func TestSweep_RetriesUntilCeilingThenFailsPermanently(t *testing.T) {
	// GIVEN: a gateway that always fails retryably
	// WHEN:  sweeping past the backoff window repeatedly
	// THEN:  exactly MaxAttempts attempts happen, then the record is
	//        permanently failed and never picked up again

	w, queue, gateway, clock, m := newTestWorker(t)
	gateway.err = &attendance.GatewayError{Permanent: false, Cause: errors.New("gateway down")}

	for i := 1; i < w.MaxAttempts; i++ {
		w.Sweep(context.Background())
		rec := singleRecord(t, queue)
		assert.Equal(t, payroll.RecordQueued, rec.Status)
		assert.Equal(t, i, rec.Attempts)

		// Before the backoff elapses the record is not due.
		w.Sweep(context.Background())
		assert.Equal(t, i, singleRecord(t, queue).Attempts, "backoff must gate retries")

		clock.advance(w.Backoff + time.Second)
	}

	w.Sweep(context.Background())
	rec := singleRecord(t, queue)
	assert.Equal(t, payroll.RecordFailed, rec.Status)
	assert.Contains(t, rec.LastError, "gateway down")

	// A failed record is terminal: further sweeps ignore it.
	clock.advance(time.Hour)
	gateway.err = nil
	w.Sweep(context.Background())
	assert.Empty(t, gateway.subs)
	assert.Equal(t, payroll.RecordFailed, singleRecord(t, queue).Status)

	audits, err := m.ListAudit(context.Background(), "alice", testDay())
	require.NoError(t, err)
	require.Len(t, audits, 1)
	assert.Equal(t, attendance.AuditPayrollFailed, audits[0].Action)
}

func TestSweep_PermanentGatewayErrorSkipsRetry(t *testing.T) {
	// GIVEN: a gateway rejecting the submission permanently
	// WHEN:  sweeping once
	// THEN:  the record fails immediately without burning the retry budget

	w, queue, gateway, _, _ := newTestWorker(t)
	gateway.err = &attendance.GatewayError{Permanent: true, Cause: errors.New("unknown cost center")}

	w.Sweep(context.Background())

	rec := singleRecord(t, queue)
	assert.Equal(t, payroll.RecordFailed, rec.Status)
	assert.Contains(t, rec.LastError, "unknown cost center")
}

func TestEnqueueDay_SubmittedDayRequeues(t *testing.T) {
	// GIVEN: a submitted day whose values changed after a late resolution
	// WHEN:  enqueueing it again
	// THEN:  it returns to queued with a fresh attempt budget

	w, queue, gateway, clock, _ := newTestWorker(t)
	w.Sweep(context.Background())
	require.Equal(t, payroll.RecordSubmitted, singleRecord(t, queue).Status)

	require.NoError(t, queue.EnqueueDay(context.Background(), "alice", testDay(), clock.Now()))
	rec := singleRecord(t, queue)
	assert.Equal(t, payroll.RecordQueued, rec.Status)
	assert.Equal(t, 0, rec.Attempts)

	w.Sweep(context.Background())
	assert.Len(t, gateway.subs, 4, "resubmission sends the day again under the same keys")
	assert.Equal(t, gateway.subs[1].IdempotencyKey, gateway.subs[3].IdempotencyKey)
}
