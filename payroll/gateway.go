/*
Package payroll submits finalized attendance days to the payroll gateway.

PURPOSE:
  Once a day's punches are normalized and free of pending anomalies, its
  adjusted values are pushed to the external payroll system. Submission is
  keyed by an idempotency key derived from (user, date, punch kind), so a
  retried submission cannot create a duplicate remote record.

FAILURE MODEL:
  Gateway failures are opaque and treated as retryable unless explicitly
  classified permanent. Retry state (attempt count, next-eligible time) is
  persisted, so a process restart neither loses progress nor double-submits.
  After the attempt ceiling the record is marked permanently failed and
  surfaced for manual action - never silently dropped.

SEE ALSO:
  - worker.go: the periodic sync worker
  - queue.go:  the persisted retry queue
*/
package payroll

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/attendance-engine/attendance"
)

// =============================================================================
// GATEWAY
// =============================================================================

// Submission is one finalized per-punch record.
type Submission struct {
	IdempotencyKey string
	UserID         attendance.UserID
	Date           attendance.Date
	Kind           attendance.PunchKind
	AdjustedAt     time.Time

	// WorkedHours accompanies the day-end record so the gateway books net
	// time without re-deriving it.
	WorkedHours decimal.Decimal
}

// IdempotencyKey derives the remote dedup key for a punch record.
func IdempotencyKey(user attendance.UserID, date attendance.Date, kind attendance.PunchKind) string {
	return fmt.Sprintf("%s|%s|%s", user, date, kind)
}

// Gateway is the external payroll system. Submit must honor context
// cancellation; the worker wraps every call in a timeout and treats a
// timeout as a retryable failure.
type Gateway interface {
	Submit(ctx context.Context, sub Submission) error
}

// LogGateway logs every submission instead of calling a remote system.
// The development stand-in wired by cmd/server until a real client exists.
type LogGateway struct{}

func (LogGateway) Submit(ctx context.Context, sub Submission) error {
	log.Printf("[PayrollSync] submit %s kind=%s adjusted=%s worked=%s",
		sub.IdempotencyKey, sub.Kind, sub.AdjustedAt.Format(time.RFC3339), sub.WorkedHours)
	return nil
}
