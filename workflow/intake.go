/*
intake.go - Punch intake boundary

PURPOSE:
  Receives ClockEvent candidates, normalizes them, runs anomaly detection,
  and persists everything as ONE atomic unit per user/day. The transaction
  is what serializes concurrent punches for the same day: two simultaneous
  day-end submissions cannot both compute overtime and both pass the
  idempotency guard.

FLOW (RecordPunch):
  1. Validate the candidate (kind, timestamps); reject malformed input.
  2. Resolve shift + rules; a punch with no applicable rule is persisted
     unprocessed and surfaced as a RuleResolutionError.
  3. Overflow policy "block": a punch outside its flexibility window is
     rejected before anything is written.
  4. Insert the event (duplicate kind/day -> DuplicatePunchError).
  5. Normalize the whole day and write back adjusted timestamps.
  6. Detect anomalies; create requests through the store's atomic
     check+insert (an existing pending request makes creation a no-op).
  7. Commit, then emit notifications.

USER-INITIATED FLOWS:
  DeclareMissedPunch: retroactive punch with mandatory justification;
  recorded immediately as a pending_review event (not blocking downstream)
  plus a missed_punch request.
  RequestBreakWaiver: asks for a shorter-than-planned break to count as the
  planned one; approval feeds the rounded break length into the daily
  formula.
*/
package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/warp/attendance-engine/attendance"
)

// =============================================================================
// SERVICE
// =============================================================================

// PayrollEnqueuer registers a completed day for payroll submission.
// Satisfied by payroll.QueueStore; nil disables enqueueing.
type PayrollEnqueuer interface {
	EnqueueDay(ctx context.Context, user attendance.UserID, date attendance.Date, at time.Time) error
}

type IntakeService struct {
	Store    attendance.TxStore
	Clock    attendance.Clock
	Notifier Notifier
	Payroll  PayrollEnqueuer
}

func NewIntakeService(store attendance.TxStore, clock attendance.Clock, notifier Notifier) *IntakeService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &IntakeService{Store: store, Clock: clock, Notifier: notifier}
}

// PunchInput is a ClockEvent candidate from the capture boundary.
type PunchInput struct {
	UserID attendance.UserID
	Date   attendance.Date
	Kind   attendance.PunchKind
	RawAt  time.Time
	Method attendance.CaptureMethod
}

// RequestSummary is what intake reports back about a created request.
type RequestSummary struct {
	ID      attendance.RequestID
	Kind    attendance.RequestKind
	Payload attendance.RequestPayload
}

// PunchResult is the intake boundary's response.
type PunchResult struct {
	EventID         attendance.EventID
	AdjustedAt      time.Time
	CreatedRequests []RequestSummary
	Warning         string // overflow policy "warn"
	NeedsAttention  bool   // a payroll-relevant anomaly wants user attention
}

// =============================================================================
// RECORD PUNCH
// =============================================================================

// RecordPunch processes one punch atomically and returns its adjusted time
// plus any created exception requests.
func (is *IntakeService) RecordPunch(ctx context.Context, in PunchInput) (*PunchResult, error) {
	if err := validatePunch(in); err != nil {
		return nil, err
	}

	now := is.Clock.Now()
	event := attendance.ClockEvent{
		ID:        newEventID(),
		UserID:    in.UserID,
		Date:      in.Date,
		Kind:      in.Kind,
		RawAt:     attendance.TruncateMinute(in.RawAt),
		Method:    in.Method,
		Status:    attendance.EventConfirmed,
		CreatedAt: now,
	}

	result := &PunchResult{EventID: event.ID}
	var pending []Notification

	err := is.Store.WithTx(ctx, func(s attendance.Store) error {
		shift, err := s.GetShift(ctx, in.UserID, in.Date)
		if err != nil {
			return err
		}
		resolver := attendance.NewRuleResolver(s)
		rules, err := resolver.Resolve(ctx, in.UserID, in.Date)
		if err != nil {
			return err
		}

		// Flexibility window under the block policy: reject before writing.
		flex := attendance.DetectOutOfFlex(in.Kind, event.RawAt, *shift, rules)
		if flex != nil && rules.Overflow == attendance.OverflowBlock {
			return attendance.ErrPunchBlocked
		}

		if err := s.InsertEvent(ctx, event); err != nil {
			return err
		}

		events, err := s.ListDayEvents(ctx, in.UserID, in.Date)
		if err != nil {
			return err
		}
		requests, err := s.ListRequests(ctx, in.UserID, in.Date, nil)
		if err != nil {
			return err
		}

		adjusted := attendance.Normalize(attendance.NormalizeInput{
			Events:               attendance.CollectDay(events),
			Shift:                *shift,
			Rules:                rules,
			ApprovedBreakMinutes: attendance.ApprovedBreakMinutes(requests),
		})
		for _, e := range events {
			target, ok := adjusted.Of(e.Kind)
			if !ok {
				target = attendance.TruncateMinute(e.RawAt)
			}
			if e.AdjustedAt == nil || !e.AdjustedAt.Equal(target) {
				if err := s.SetAdjusted(ctx, e.ID, target); err != nil {
					return err
				}
			}
			if e.ID == event.ID {
				result.AdjustedAt = target
			}
		}

		created, warning, err := is.detect(ctx, s, detectContext{
			in:       in,
			shift:    *shift,
			rules:    rules,
			adjusted: adjusted,
			requests: requests,
			flex:     flex,
			now:      now,
		})
		if err != nil {
			return err
		}
		result.CreatedRequests = created
		result.Warning = warning
		result.NeedsAttention = len(created) > 0

		if err := s.AppendAudit(ctx, attendance.AuditEntry{
			ID: auditID(), At: now, ActorID: string(in.UserID),
			Action: attendance.AuditPunchRecorded,
			UserID: in.UserID, Date: in.Date,
			Details: map[string]any{"kind": string(in.Kind), "raw": event.RawAt},
		}); err != nil {
			return err
		}

		for _, c := range created {
			kind := NotifyAnomalyCreated
			if c.Kind == attendance.KindLateArrival {
				kind = NotifyLateArrival
			}
			pending = append(pending, Notification{
				Recipient: in.UserID,
				Kind:      kind,
				Payload:   map[string]any{"request_id": string(c.ID), "request_kind": string(c.Kind)},
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// A completed day becomes a payroll submission candidate; the worker
	// holds it while any request is still pending.
	if in.Kind == attendance.PunchDayEnd && is.Payroll != nil {
		if err := is.Payroll.EnqueueDay(ctx, in.UserID, in.Date, now); err != nil {
			return nil, err
		}
	}

	for _, n := range pending {
		is.Notifier.Notify(ctx, n)
	}
	return result, nil
}

// detectContext bundles the inputs detection needs inside the transaction.
type detectContext struct {
	in       PunchInput
	shift    attendance.ShiftFact
	rules    attendance.RuleSet
	adjusted attendance.AdjustedTimes
	requests []attendance.ExceptionRequest
	flex     *attendance.OutOfFlexFinding
	now      time.Time
}

// detect runs the classifiers relevant to the punched kind and persists
// their findings through the idempotency-guarded store.
func (is *IntakeService) detect(ctx context.Context, s attendance.Store, dc detectContext) ([]RequestSummary, string, error) {
	var created []RequestSummary
	var warning string

	// Out-of-flex on the punch just taken.
	if dc.flex != nil {
		switch dc.rules.Overflow {
		case attendance.OverflowWarn:
			warning = "punch outside flexibility window"
		case attendance.OverflowAllow:
			sum, err := is.createRequest(ctx, s, dc, attendance.KindOutOfFlex,
				attendance.PayloadFromOutOfFlex(*dc.flex), nil)
			if err != nil {
				return nil, "", err
			}
			if sum != nil {
				created = append(created, *sum)
			}
		}
	}

	// Late arrival: day-start only, on the adjusted entry.
	if dc.in.Kind == attendance.PunchDayStart {
		if entry, ok := dc.adjusted.Of(attendance.PunchDayStart); ok {
			if f := attendance.DetectLateArrival(entry, dc.shift, dc.rules); f != nil {
				sum, err := is.createRequest(ctx, s, dc, attendance.KindLateArrival,
					attendance.PayloadFromLateArrival(*f), nil)
				if err != nil {
					return nil, "", err
				}
				if sum != nil {
					created = append(created, *sum)
				}
			}
		}
	}

	// Extra turn: day-end in daily mode, on the aggregate computation.
	if dc.in.Kind == attendance.PunchDayEnd && dc.adjusted.Daily != nil {
		breakConfirmed, skipReason := breakEvidence(ctx, s, dc)
		f := attendance.DetectExtraTurn(
			*dc.adjusted.Daily, dc.shift, dc.rules,
			attendance.ApprovedAnticipationMinutes(dc.requests),
			breakConfirmed, skipReason,
		)
		if f != nil {
			sum, err := is.createRequest(ctx, s, dc, attendance.KindExtraTurn,
				attendance.PayloadFromExtraTurn(*f), nil)
			if err != nil {
				return nil, "", err
			}
			if sum != nil {
				created = append(created, *sum)
			}
		}
	}

	return created, warning, nil
}

// breakEvidence reports whether break punches exist for the day and, when
// the break was shortened, why.
func breakEvidence(ctx context.Context, s attendance.Store, dc detectContext) (bool, string) {
	events, err := s.ListDayEvents(ctx, dc.in.UserID, dc.in.Date)
	if err != nil {
		return false, ""
	}
	day := attendance.CollectDay(events)
	_, hasStart := day[attendance.PunchBreakStart]
	_, hasEnd := day[attendance.PunchBreakEnd]
	for _, r := range dc.requests {
		if r.Kind == attendance.KindBreakWaiver && r.Status == attendance.StatusApproved {
			return hasStart && hasEnd, "approved break reduction waiver"
		}
	}
	return hasStart && hasEnd, ""
}

// createRequest inserts a pending request; an existing pending request of
// the same (user, date, kind) turns this into a no-op.
func (is *IntakeService) createRequest(ctx context.Context, s attendance.Store, dc detectContext, kind attendance.RequestKind, payload attendance.RequestPayload, eventID *attendance.EventID) (*RequestSummary, error) {
	req := attendance.ExceptionRequest{
		ID:        newRequestID(),
		Kind:      kind,
		UserID:    dc.in.UserID,
		Date:      dc.in.Date,
		Status:    attendance.StatusPending,
		Payload:   payload,
		EventID:   eventID,
		CreatedAt: dc.now,
		UpdatedAt: dc.now,
	}
	err := s.CreatePending(ctx, req)
	if errors.Is(err, attendance.ErrPendingExists) {
		return nil, nil // idempotency guard: replayed submission, no duplicate
	}
	if err != nil {
		return nil, err
	}
	if err := s.AppendAudit(ctx, attendance.AuditEntry{
		ID: auditID(), At: dc.now, ActorID: "system",
		Action: attendance.AuditRequestCreated,
		UserID: dc.in.UserID, Date: dc.in.Date,
		Details: map[string]any{"request_id": string(req.ID), "kind": string(kind)},
	}); err != nil {
		return nil, err
	}
	return &RequestSummary{ID: req.ID, Kind: kind, Payload: payload}, nil
}

// =============================================================================
// MISSED PUNCH DECLARATION
// =============================================================================

// DeclareMissedPunch records a retroactive punch as pending_review together
// with a missed_punch request. The event participates in normalization
// immediately; rejection deletes it again.
func (is *IntakeService) DeclareMissedPunch(ctx context.Context, in PunchInput, justification string) (*PunchResult, error) {
	if err := validatePunch(in); err != nil {
		return nil, err
	}
	if justification == "" {
		return nil, &attendance.ValidationError{Field: "justification", Message: "required for missed punch declarations"}
	}

	now := is.Clock.Now()
	event := attendance.ClockEvent{
		ID:        newEventID(),
		UserID:    in.UserID,
		Date:      in.Date,
		Kind:      in.Kind,
		RawAt:     attendance.TruncateMinute(in.RawAt),
		Method:    attendance.CaptureDeclared,
		Status:    attendance.EventPendingReview,
		Note:      justification,
		CreatedAt: now,
	}

	result := &PunchResult{EventID: event.ID}
	err := is.Store.WithTx(ctx, func(s attendance.Store) error {
		if _, err := s.GetShift(ctx, in.UserID, in.Date); err != nil {
			return err
		}
		if err := s.InsertEvent(ctx, event); err != nil {
			return err
		}

		declaredAt := event.RawAt
		req := attendance.ExceptionRequest{
			ID:     newRequestID(),
			Kind:   attendance.KindMissedPunch,
			UserID: in.UserID,
			Date:   in.Date,
			Status: attendance.StatusPending,
			Payload: attendance.RequestPayload{
				PunchKind:     in.Kind,
				DeclaredAt:    &declaredAt,
				Justification: justification,
			},
			EventID:   &event.ID,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.CreatePending(ctx, req); err != nil {
			return err
		}
		result.CreatedRequests = append(result.CreatedRequests, RequestSummary{
			ID: req.ID, Kind: req.Kind, Payload: req.Payload,
		})

		// Adjusted time is computed through the normal path right away.
		if _, err := recomputeDay(ctx, s, in.UserID, in.Date); err != nil {
			return err
		}
		ev, err := s.GetEvent(ctx, event.ID)
		if err != nil {
			return err
		}
		result.AdjustedAt = ev.Adjusted()

		return s.AppendAudit(ctx, attendance.AuditEntry{
			ID: auditID(), At: now, ActorID: string(in.UserID),
			Action: attendance.AuditRequestCreated,
			UserID: in.UserID, Date: in.Date,
			Details: map[string]any{"request_id": string(req.ID), "kind": string(attendance.KindMissedPunch)},
		})
	})
	if err != nil {
		return nil, err
	}

	is.Notifier.Notify(ctx, Notification{
		Recipient: in.UserID,
		Kind:      NotifyAnomalyCreated,
		Payload:   map[string]any{"request_kind": string(attendance.KindMissedPunch)},
	})
	return result, nil
}

// =============================================================================
// BREAK REDUCTION WAIVER
// =============================================================================

// RequestBreakWaiver asks for a shorter-than-planned break to still count as
// the planned break. The requested length is rounded to the rule block; the
// rounded value is what approval substitutes into the daily formula.
func (is *IntakeService) RequestBreakWaiver(ctx context.Context, user attendance.UserID, date attendance.Date, requestedBreakMinutes int) (*RequestSummary, error) {
	if requestedBreakMinutes < 0 {
		return nil, &attendance.ValidationError{Field: "break_minutes", Message: "cannot be negative"}
	}

	now := is.Clock.Now()
	var summary *RequestSummary
	err := is.Store.WithTx(ctx, func(s attendance.Store) error {
		shift, err := s.GetShift(ctx, user, date)
		if err != nil {
			return err
		}
		resolver := attendance.NewRuleResolver(s)
		rules, err := resolver.Resolve(ctx, user, date)
		if err != nil {
			return err
		}
		planned := shift.PlannedBreakMinutes()
		if requestedBreakMinutes >= planned {
			return &attendance.ValidationError{Field: "break_minutes", Message: "not shorter than the planned break"}
		}

		rounded := roundBreak(requestedBreakMinutes, rules)
		req := attendance.ExceptionRequest{
			ID:     newRequestID(),
			Kind:   attendance.KindBreakWaiver,
			UserID: user,
			Date:   date,
			Status: attendance.StatusPending,
			Payload: attendance.RequestPayload{
				RequestedBreakMinutes: requestedBreakMinutes,
				RoundedBreakMinutes:   rounded,
				PlannedBreak:          planned,
			},
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.CreatePending(ctx, req); err != nil {
			return err
		}
		summary = &RequestSummary{ID: req.ID, Kind: req.Kind, Payload: req.Payload}
		return s.AppendAudit(ctx, attendance.AuditEntry{
			ID: auditID(), At: now, ActorID: string(user),
			Action: attendance.AuditRequestCreated,
			UserID: user, Date: date,
			Details: map[string]any{"request_id": string(req.ID), "kind": string(attendance.KindBreakWaiver)},
		})
	})
	if err != nil {
		return nil, err
	}

	is.Notifier.Notify(ctx, Notification{
		Recipient: user,
		Kind:      NotifyAnomalyCreated,
		Payload:   map[string]any{"request_kind": string(attendance.KindBreakWaiver)},
	})
	return summary, nil
}

// roundBreak rounds a requested break length up to the rule block so a
// waiver never grants finer granularity than the rounding policy itself.
func roundBreak(minutes int, rules attendance.RuleSet) int {
	block := rules.BlockMinutes
	if block <= 0 || minutes%block == 0 {
		return minutes
	}
	return (minutes/block + 1) * block
}

// =============================================================================
// HELPERS
// =============================================================================

func validatePunch(in PunchInput) error {
	if in.UserID == "" {
		return &attendance.ValidationError{Field: "user_id", Message: "required"}
	}
	if in.Date.IsZero() {
		return &attendance.ValidationError{Field: "date", Message: "required"}
	}
	if !attendance.ValidPunchKind(in.Kind) {
		return &attendance.ValidationError{Field: "kind", Message: "unknown punch kind"}
	}
	if in.RawAt.IsZero() {
		return &attendance.ValidationError{Field: "raw_at", Message: "required"}
	}
	return nil
}

func newEventID() attendance.EventID     { return attendance.EventID(uuid.NewString()) }
func newRequestID() attendance.RequestID { return attendance.RequestID(uuid.NewString()) }
func auditID() string                    { return uuid.NewString() }
