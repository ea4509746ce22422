package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/attendance/store"
)

func TestSetEventStatus_ConfirmBesideConfirmedRejected(t *testing.T) {
	// GIVEN: a confirmed day-start punch and a pending correction of the
	//        same kind
	// WHEN:  confirming the correction while the original still exists
	// THEN:  the status update is rejected as a duplicate punch; deleting
	//        the original first makes it succeed

	ctx := context.Background()
	m := store.NewMemory()
	d := attendance.NewDate(2026, time.March, 2)

	require.NoError(t, m.InsertEvent(ctx, attendance.ClockEvent{
		ID: "ev-original", UserID: "alice", Date: d,
		Kind: attendance.PunchDayStart, RawAt: d.At(9, 7),
		Method: attendance.CaptureBadge, Status: attendance.EventConfirmed,
		CreatedAt: d.At(9, 7),
	}))
	require.NoError(t, m.InsertEvent(ctx, attendance.ClockEvent{
		ID: "ev-correction", UserID: "alice", Date: d,
		Kind: attendance.PunchDayStart, RawAt: d.At(9, 0),
		Method: attendance.CaptureDeclared, Status: attendance.EventPendingReview,
		CreatedAt: d.At(9, 8),
	}))

	err := m.SetEventStatus(ctx, "ev-correction", attendance.EventConfirmed)
	require.Error(t, err)
	assert.ErrorIs(t, err, attendance.ErrDuplicatePunch)

	var dup *attendance.DuplicatePunchError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, attendance.EventID("ev-original"), dup.ExistingID)

	ev, err := m.GetEvent(ctx, "ev-correction")
	require.NoError(t, err)
	assert.Equal(t, attendance.EventPendingReview, ev.Status, "rejected update must not flip the status")

	require.NoError(t, m.DeleteEvent(ctx, "ev-original"))
	require.NoError(t, m.SetEventStatus(ctx, "ev-correction", attendance.EventConfirmed))
}
