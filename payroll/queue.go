package payroll

import (
	"context"
	"time"

	"github.com/warp/attendance-engine/attendance"
)

// =============================================================================
// RETRY QUEUE - Persisted scheduling state
// =============================================================================

// RecordStatus is the lifecycle of one queued day.
type RecordStatus string

const (
	RecordQueued    RecordStatus = "queued"
	RecordSubmitted RecordStatus = "submitted"
	RecordFailed    RecordStatus = "failed" // permanent; manual action required
)

// QueueRecord is the persisted retry state for one user/day. Explicit state
// on disk means a restart resumes exactly where the worker left off.
type QueueRecord struct {
	ID            string
	UserID        attendance.UserID
	Date          attendance.Date
	Status        RecordStatus
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
	SubmittedAt   *time.Time
	CreatedAt     time.Time
}

// QueueStore persists queue records.
type QueueStore interface {
	// EnqueueDay registers a user/day for submission. Upsert: re-enqueueing
	// an existing record resets a submitted day back to queued (recompute
	// after a late resolution) and is a no-op while one is queued.
	EnqueueDay(ctx context.Context, user attendance.UserID, date attendance.Date, at time.Time) error

	// ListDue returns queued records whose NextAttemptAt is not after now.
	ListDue(ctx context.Context, now time.Time) ([]QueueRecord, error)

	// ListRecords returns every record, newest first, for operator review.
	ListRecords(ctx context.Context) ([]QueueRecord, error)

	// MarkSubmitted finalizes a record after a successful submission.
	MarkSubmitted(ctx context.Context, id string, at time.Time) error

	// MarkAttempt records a failed attempt and when to try again.
	MarkAttempt(ctx context.Context, id string, attempts int, nextAt time.Time, lastError string) error

	// MarkFailed marks a record permanently failed.
	MarkFailed(ctx context.Context, id string, lastError string) error
}
