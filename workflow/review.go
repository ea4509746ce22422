/*
review.go - Admin resolution of exception requests

PURPOSE:
  The only driver of the request state machine:

      pending --approve--> approved   (terminal)
      pending --reject-->  rejected   (terminal)

  The transition is a compare-and-set: it succeeds only if the row is still
  pending at commit time, so concurrent admins cannot double-resolve
  (the loser gets ErrAlreadyResolved).

SIDE EFFECTS OF RESOLUTION:
  - Every resolution reruns the recompute engine for the day, because an
    approved request changes the inputs the adjusted times derive from.
  - Approving a break_reduction_waiver writes the granted rounded break
    length back into the payload (optionally overridden by the reviewer).
  - Approving a missed_punch confirms its pending_review ClockEvent and
    deletes the confirmed punch it supersedes, keeping at most one
    confirmed event per (user, date, kind); rejecting it deletes the
    declared event. The request row itself is kept either way for audit.
  - The user is notified of the outcome.
*/
package workflow

import (
	"context"
	"log"
	"time"

	"github.com/warp/attendance-engine/attendance"
)

type ReviewService struct {
	Store    attendance.TxStore
	Clock    attendance.Clock
	Notifier Notifier
	Payroll  PayrollEnqueuer
}

func NewReviewService(store attendance.TxStore, clock attendance.Clock, notifier Notifier) *ReviewService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &ReviewService{Store: store, Clock: clock, Notifier: notifier}
}

// Resolve applies an admin decision to a pending request.
// Returns ErrAlreadyResolved when the request left pending in the meantime.
func (rs *ReviewService) Resolve(ctx context.Context, id attendance.RequestID, res attendance.Resolution) (*attendance.ExceptionRequest, error) {
	if res.ResolverID == "" {
		return nil, &attendance.ValidationError{Field: "resolver_id", Message: "required"}
	}

	now := rs.Clock.Now()
	var resolved *attendance.ExceptionRequest

	err := rs.Store.WithTx(ctx, func(s attendance.Store) error {
		current, err := s.GetRequest(ctx, id)
		if err != nil {
			return err
		}

		to := attendance.StatusRejected
		action := attendance.AuditRequestRejected
		if res.Approve {
			to = attendance.StatusApproved
			action = attendance.AuditRequestApproved
		}

		// Approval of a waiver fixes the granted break length in the
		// payload; recompute reads it from there ever after.
		var payload *attendance.RequestPayload
		if res.Approve && current.Kind == attendance.KindBreakWaiver && res.RoundedBreakMinutes != nil {
			p := current.Payload
			p.RoundedBreakMinutes = *res.RoundedBreakMinutes
			payload = &p
		}

		resolved, err = s.ResolveCAS(ctx, id, to, res.ResolverID, res.Reason, payload, now)
		if err != nil {
			return err
		}

		if current.Kind == attendance.KindMissedPunch && current.EventID != nil {
			if res.Approve {
				if err := supersedeConfirmed(ctx, s, current, now, res.ResolverID); err != nil {
					return err
				}
				if err := s.SetEventStatus(ctx, *current.EventID, attendance.EventConfirmed); err != nil {
					return err
				}
			} else {
				if err := s.DeleteEvent(ctx, *current.EventID); err != nil {
					return err
				}
				if err := s.AppendAudit(ctx, attendance.AuditEntry{
					ID: auditID(), At: now, ActorID: res.ResolverID,
					Action: attendance.AuditEventDeleted,
					UserID: current.UserID, Date: current.Date,
					Details: map[string]any{"event_id": string(*current.EventID)},
				}); err != nil {
					return err
				}
			}
		}

		// Resolution retroactively changes the adjusted values downstream.
		if _, err := recomputeDay(ctx, s, current.UserID, current.Date); err != nil {
			return err
		}

		return s.AppendAudit(ctx, attendance.AuditEntry{
			ID: auditID(), At: now, ActorID: res.ResolverID,
			Action: action,
			UserID: current.UserID, Date: current.Date,
			Details: map[string]any{"request_id": string(id), "kind": string(current.Kind)},
		})
	})
	if err != nil {
		return nil, err
	}

	// A resolved request changes the day's adjusted values: put the day
	// back in front of the payroll worker (no-op when never submitted).
	// The resolution is already committed at this point; an enqueue
	// failure is logged, never returned as the outcome.
	if rs.Payroll != nil {
		if err := rs.Payroll.EnqueueDay(ctx, resolved.UserID, resolved.Date, now); err != nil {
			log.Printf("[Review] Failed to enqueue %s/%s for payroll after resolution: %v",
				resolved.UserID, resolved.Date, err)
		}
	}

	rs.Notifier.Notify(ctx, Notification{
		Recipient: resolved.UserID,
		Kind:      NotifyAnomalyResolved,
		Payload: map[string]any{
			"request_id":   string(resolved.ID),
			"request_kind": string(resolved.Kind),
			"status":       string(resolved.Status),
		},
	})
	return resolved, nil
}

// supersedeConfirmed deletes the previously confirmed punch of the same kind,
// if one exists, so the approved correction becomes the day's single
// confirmed event for that kind.
func supersedeConfirmed(ctx context.Context, s attendance.Store, req *attendance.ExceptionRequest, now time.Time, resolverID string) error {
	pending, err := s.GetEvent(ctx, *req.EventID)
	if err != nil {
		return err
	}
	events, err := s.ListDayEvents(ctx, req.UserID, req.Date)
	if err != nil {
		return err
	}
	for _, e := range events {
		if e.ID == pending.ID || e.Kind != pending.Kind || e.Status != attendance.EventConfirmed {
			continue
		}
		if err := s.DeleteEvent(ctx, e.ID); err != nil {
			return err
		}
		if err := s.AppendAudit(ctx, attendance.AuditEntry{
			ID: auditID(), At: now, ActorID: resolverID,
			Action: attendance.AuditEventDeleted,
			UserID: req.UserID, Date: req.Date,
			Details: map[string]any{"event_id": string(e.ID), "superseded_by": string(pending.ID)},
		}); err != nil {
			return err
		}
	}
	return nil
}
