/*
Package workflow orchestrates the attendance engine against storage.

PURPOSE:
  Three services around the pure attendance package:

  IntakeService:   the punch intake boundary. Runs normalize + detect +
                   persist as one atomic unit per user/day.
  ReviewService:   admin resolution of exception requests (the state
                   machine's only driver) followed by a recompute.
  RecomputeEngine: re-derives adjusted timestamps for a day; also the
                   backfill/audit path.

  This file defines the notification collaborator. The engine only decides
  THAT and WHAT to notify; delivery transport is someone else's problem.
*/
package workflow

import (
	"context"
	"log"

	"github.com/warp/attendance-engine/attendance"
)

// =============================================================================
// NOTIFICATION EVENTS
// =============================================================================

type NotificationKind string

const (
	NotifyLateArrival     NotificationKind = "late_arrival_detected"
	NotifyAnomalyCreated  NotificationKind = "anomaly_created"
	NotifyAnomalyResolved NotificationKind = "anomaly_resolved"
)

// Notification is the structured event handed to the delivery collaborator.
type Notification struct {
	Recipient attendance.UserID
	Kind      NotificationKind
	Payload   map[string]any
}

// Notifier receives notification events. Implementations must not block:
// intake and review emit after their transaction commits.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// NopNotifier drops everything. For tests.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Notification) {}

// LogNotifier writes events to the process log. Default wiring until a real
// transport is attached.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, n Notification) {
	log.Printf("[Notify] %s -> %s %v", n.Kind, n.Recipient, n.Payload)
}
