/*
request.go - Exception request lifecycle types

PURPOSE:
  An ExceptionRequest is one detected or declared anomaly routed through the
  approval workflow. Five kinds share one state machine:

      pending --approve--> approved   (terminal; triggers recompute + notify)
      pending --reject-->  rejected   (terminal; missed-punch also deletes
                                       its ClockEvent; triggers notify)

  No transition leaves a terminal state. Resolution happens exactly once:
  the store performs a compare-and-set on status and loses the race with
  ErrAlreadyResolved.

IDEMPOTENCY INVARIANT:
  For a given (user, date, kind) at most one request may be pending at a
  time. The store enforces this atomically (check + insert in one
  transaction); detection becomes a no-op when a pending request exists.

VERSIONED PAYLOAD:
  The payload snapshots every input used to detect and quantify the anomaly.
  Rows written by older engine versions may miss newer fields, so the
  payload carries a version and DecodePayload applies explicit defaults
  instead of assuming presence.

KINDS:
  late_arrival            auto-detected on day-start
  extra_turn              auto-detected on day-end (daily mode)
  out_of_flex             auto-detected on boundary punches
  break_reduction_waiver  user-initiated (early break-end); approval feeds
                          rounded_break_minutes back into the daily formula
  missed_punch            user-declared retroactive punch with justification
*/
package attendance

import (
	"encoding/json"
	"fmt"
	"time"
)

// =============================================================================
// KIND AND STATUS
// =============================================================================

// RequestKind is a closed enumeration; logic never compares numeric codes.
type RequestKind string

const (
	KindLateArrival RequestKind = "late_arrival"
	KindExtraTurn   RequestKind = "extra_turn"
	KindOutOfFlex   RequestKind = "out_of_flex"
	KindBreakWaiver RequestKind = "break_reduction_waiver"
	KindMissedPunch RequestKind = "missed_punch"
)

// ValidRequestKind reports whether k is a known kind.
func ValidRequestKind(k RequestKind) bool {
	switch k {
	case KindLateArrival, KindExtraTurn, KindOutOfFlex, KindBreakWaiver, KindMissedPunch:
		return true
	}
	return false
}

type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusApproved RequestStatus = "approved"
	StatusRejected RequestStatus = "rejected"
)

// Terminal reports whether the status admits no further transition.
func (s RequestStatus) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// =============================================================================
// PAYLOAD - Versioned snapshot of detection inputs
// =============================================================================

// PayloadVersion is the version written by this engine.
const PayloadVersion = 2

// RequestPayload is the structured payload of a request. Fields are a
// superset across kinds; unused fields stay zero and are omitted on the
// wire. Never read a payload without going through DecodePayload.
type RequestPayload struct {
	Version int `json:"version"`

	// Late arrival.
	ShiftStart       *time.Time `json:"shift_start,omitempty"`
	AdjustedEntry    *time.Time `json:"adjusted_entry,omitempty"`
	LateMinutes      int        `json:"late_minutes,omitempty"`
	ThresholdMinutes int        `json:"threshold_minutes,omitempty"`

	// Extra turn.
	PlannedStart    *time.Time `json:"planned_start,omitempty"`
	PlannedEnd      *time.Time `json:"planned_end,omitempty"`
	ActualStart     *time.Time `json:"actual_start,omitempty"`
	ActualExit      *time.Time `json:"actual_exit,omitempty"`
	AdjustedExit    *time.Time `json:"adjusted_exit,omitempty"`
	WorkedMinutes   int        `json:"worked_minutes,omitempty"`
	PlannedMinutes  int        `json:"planned_minutes,omitempty"`
	OvertimeMinutes int        `json:"overtime_minutes,omitempty"`
	BlockMinutes    int        `json:"block_minutes,omitempty"`
	RoundType       RoundType  `json:"round_type,omitempty"`
	Difference      int        `json:"difference,omitempty"`
	EffectiveBreak  int        `json:"effective_break,omitempty"`
	PlannedBreak    int        `json:"planned_break,omitempty"`
	BreakConfirmed  bool       `json:"break_confirmed,omitempty"`
	BreakSkipReason string     `json:"break_skip_reason,omitempty"`

	// Out of flexibility.
	PunchKind    PunchKind  `json:"punch_kind,omitempty"`
	PunchAt      *time.Time `json:"punch_at,omitempty"`
	WindowStart  *time.Time `json:"window_start,omitempty"`
	WindowEnd    *time.Time `json:"window_end,omitempty"`
	FlexMinutes  int        `json:"flex_minutes,omitempty"`
	EarlyMinutes int        `json:"early_minutes,omitempty"`

	// Break-reduction waiver.
	RequestedBreakMinutes int `json:"requested_break_minutes,omitempty"`
	RoundedBreakMinutes   int `json:"rounded_break_minutes,omitempty"`

	// Missed punch.
	DeclaredAt    *time.Time `json:"declared_at,omitempty"`
	Justification string     `json:"justification,omitempty"`
}

// EncodePayload serializes a payload, stamping the current version.
func EncodePayload(p RequestPayload) ([]byte, error) {
	p.Version = PayloadVersion
	return json.Marshal(p)
}

// DecodePayload deserializes a payload and applies fallback defaults for
// fields that legacy versions did not record.
func DecodePayload(raw []byte) (RequestPayload, error) {
	var p RequestPayload
	if len(raw) == 0 {
		return RequestPayload{Version: 1, RoundType: RoundFloor}, nil
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return RequestPayload{}, fmt.Errorf("malformed request payload: %w", err)
	}
	if p.Version == 0 {
		p.Version = 1
	}
	if p.Version < 2 {
		// v1 rows predate block/round bookkeeping on overtime payloads.
		if p.RoundType == "" {
			p.RoundType = RoundFloor
		}
		if p.BlockMinutes == 0 {
			p.BlockMinutes = DefaultRuleSet().BlockMinutes
		}
		if p.PlannedBreak == 0 {
			p.PlannedBreak = p.EffectiveBreak
		}
	}
	return p, nil
}

// =============================================================================
// PAYLOAD CONSTRUCTORS
// =============================================================================

func PayloadFromLateArrival(f LateArrivalFinding) RequestPayload {
	return RequestPayload{
		ShiftStart:       &f.ShiftStart,
		AdjustedEntry:    &f.AdjustedEntry,
		LateMinutes:      f.LateMinutes,
		ThresholdMinutes: f.ThresholdMinutes,
	}
}

func PayloadFromExtraTurn(f ExtraTurnFinding) RequestPayload {
	return RequestPayload{
		PlannedStart:    &f.PlannedStart,
		PlannedEnd:      &f.PlannedEnd,
		ActualStart:     &f.ActualStart,
		ActualExit:      &f.ActualExit,
		AdjustedExit:    &f.AdjustedExit,
		WorkedMinutes:   f.WorkedMinutes,
		PlannedMinutes:  f.PlannedMinutes,
		OvertimeMinutes: f.OvertimeMinutes,
		BlockMinutes:    f.BlockMinutes,
		RoundType:       f.RoundType,
		Difference:      f.Difference,
		EffectiveBreak:  f.EffectiveBreak,
		PlannedBreak:    f.PlannedBreak,
		BreakConfirmed:  f.BreakConfirmed,
		BreakSkipReason: f.BreakSkipReason,
	}
}

func PayloadFromOutOfFlex(f OutOfFlexFinding) RequestPayload {
	return RequestPayload{
		PunchKind:    f.Kind,
		PunchAt:      &f.PunchAt,
		WindowStart:  &f.WindowStart,
		WindowEnd:    &f.WindowEnd,
		FlexMinutes:  f.FlexMinutes,
		EarlyMinutes: f.EarlyMinutes,
		LateMinutes:  f.LateMinutes,
	}
}

// =============================================================================
// EXCEPTION REQUEST
// =============================================================================

// ExceptionRequest is one anomaly instance flowing through review.
type ExceptionRequest struct {
	ID      RequestID
	Kind    RequestKind
	UserID  UserID
	Date    Date
	Status  RequestStatus
	Payload RequestPayload

	// EventID links a missed-punch request to the pending-review ClockEvent
	// it declared; rejection deletes that event.
	EventID *EventID

	ResolvedBy      string
	ResolvedAt      *time.Time
	RejectionReason string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Resolution is the admin decision applied to a pending request.
type Resolution struct {
	Approve    bool
	ResolverID string
	Reason     string

	// RoundedBreakMinutes overrides the waiver's approved break length on
	// approval of a break_reduction_waiver. Nil keeps the requested value.
	RoundedBreakMinutes *int
}
