/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Punches:
    PunchRequest, MissedPunchRequest, PunchResponseDTO, PunchDTO

  Attendance:
    DayViewDTO

  Requests:
    RequestDTO, ResolveRequestDTO, BreakWaiverRequest

  Rules / shifts:
    RuleDTO (wraps factory.RuleJSON), ShiftRequest

  Admin:
    BackfillRequest, BackfillReportDTO, QueueRecordDTO, AuditEntryDTO

VALIDATION:
  Validation is done in handlers and in the workflow layer, not in DTOs.
  DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/rules.go: RuleJSON type
*/
package api

import (
	"time"

	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/payroll"
	"github.com/warp/attendance-engine/workflow"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// PunchRequest is a punch submission from a capture client.
type PunchRequest struct {
	UserID string `json:"user_id"`
	Date   string `json:"date"` // YYYY-MM-DD
	Kind   string `json:"kind"` // day_start | break_start | break_end | day_end
	At     string `json:"at"`   // RFC3339
	Method string `json:"method,omitempty"`
}

// MissedPunchRequest declares a punch retroactively.
type MissedPunchRequest struct {
	PunchRequest
	Justification string `json:"justification"`
}

// BreakWaiverRequest asks for a shorter break to count as the planned one.
type BreakWaiverRequest struct {
	UserID       string `json:"user_id"`
	Date         string `json:"date"`
	BreakMinutes int    `json:"break_minutes"`
}

// RequestSummaryDTO describes an exception request created by a punch.
type RequestSummaryDTO struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
}

// PunchResponseDTO is the intake boundary's answer to a punch.
type PunchResponseDTO struct {
	EventID         string              `json:"event_id"`
	AdjustedAt      string              `json:"adjusted_at"`
	CreatedRequests []RequestSummaryDTO `json:"created_requests,omitempty"`
	Warning         string              `json:"warning,omitempty"`
	NeedsAttention  bool                `json:"needs_attention"`
}

// PunchDTO is one punch inside a day view.
type PunchDTO struct {
	Kind       string `json:"kind"`
	RawAt      string `json:"raw_at"`
	AdjustedAt string `json:"adjusted_at"`
	Status     string `json:"status"`
}

// DayViewDTO is the derived attendance summary for one user/day.
type DayViewDTO struct {
	UserID           string     `json:"user_id"`
	Date             string     `json:"date"`
	Punches          []PunchDTO `json:"punches"`
	NetWorkedMinutes int        `json:"net_worked_minutes"`
	BreakMinutes     int        `json:"break_minutes"`
	WorkedHours      string     `json:"worked_hours"`
	OvertimeMinutes  int        `json:"overtime_minutes"`
	OpenRequests     []string   `json:"open_requests,omitempty"`
	Complete         bool       `json:"complete"`
}

// RequestDTO is a full exception request.
type RequestDTO struct {
	ID              string                    `json:"id"`
	Kind            string                    `json:"kind"`
	UserID          string                    `json:"user_id"`
	Date            string                    `json:"date"`
	Status          string                    `json:"status"`
	Payload         attendance.RequestPayload `json:"payload"`
	EventID         string                    `json:"event_id,omitempty"`
	ResolvedBy      string                    `json:"resolved_by,omitempty"`
	ResolvedAt      string                    `json:"resolved_at,omitempty"`
	RejectionReason string                    `json:"rejection_reason,omitempty"`
	CreatedAt       string                    `json:"created_at"`
}

// ResolveRequestDTO carries an admin decision.
type ResolveRequestDTO struct {
	ResolverID          string `json:"resolver_id"`
	Reason              string `json:"reason,omitempty"`
	RoundedBreakMinutes *int   `json:"rounded_break_minutes,omitempty"`
}

// ShiftRequest upserts a planning-feed snapshot for a user/day.
type ShiftRequest struct {
	UserID       string  `json:"user_id"`
	Date         string  `json:"date"`
	PlannedStart string  `json:"planned_start"` // RFC3339
	PlannedEnd   string  `json:"planned_end"`
	BreakStart   *string `json:"break_start,omitempty"`
	BreakEnd     *string `json:"break_end,omitempty"`
	TeamManaged  bool    `json:"team_managed,omitempty"`
}

// UserGroupRequest assigns a user to a rule group.
type UserGroupRequest struct {
	UserID string `json:"user_id"`
	Group  string `json:"group"`
}

// RecomputeRequest triggers a recompute of one user/day.
type RecomputeRequest struct {
	UserID string `json:"user_id"`
	Date   string `json:"date"`
}

// BackfillRequest audits and repairs a date range.
type BackfillRequest struct {
	UserID string `json:"user_id"`
	From   string `json:"from"`
	To     string `json:"to"`
}

// CorrectionDTO is one repaired divergence.
type CorrectionDTO struct {
	Date   string `json:"date"`
	Kind   string `json:"kind"`
	Stored string `json:"stored"`
	Fresh  string `json:"fresh"`
}

// BackfillReportDTO summarizes a backfill run.
type BackfillReportDTO struct {
	DaysChecked int             `json:"days_checked"`
	DaysSkipped int             `json:"days_skipped"`
	Corrections []CorrectionDTO `json:"corrections"`
}

// QueueRecordDTO is one payroll queue record for operator review.
type QueueRecordDTO struct {
	ID            string `json:"id"`
	UserID        string `json:"user_id"`
	Date          string `json:"date"`
	Status        string `json:"status"`
	Attempts      int    `json:"attempts"`
	NextAttemptAt string `json:"next_attempt_at"`
	LastError     string `json:"last_error,omitempty"`
	SubmittedAt   string `json:"submitted_at,omitempty"`
}

// AuditEntryDTO is one audit log line.
type AuditEntryDTO struct {
	ID      string         `json:"id"`
	At      string         `json:"at"`
	ActorID string         `json:"actor_id"`
	Action  string         `json:"action"`
	Details map[string]any `json:"details,omitempty"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toPunchResponseDTO(res *workflow.PunchResult) PunchResponseDTO {
	dto := PunchResponseDTO{
		EventID:        string(res.EventID),
		AdjustedAt:     res.AdjustedAt.Format(time.RFC3339),
		Warning:        res.Warning,
		NeedsAttention: res.NeedsAttention,
	}
	for _, c := range res.CreatedRequests {
		dto.CreatedRequests = append(dto.CreatedRequests, RequestSummaryDTO{
			ID: string(c.ID), Kind: string(c.Kind),
		})
	}
	return dto
}

func toDayViewDTO(v attendance.DayAttendanceView) DayViewDTO {
	dto := DayViewDTO{
		UserID:           string(v.UserID),
		Date:             v.Date.String(),
		NetWorkedMinutes: v.NetWorkedMinutes,
		BreakMinutes:     v.BreakMinutes,
		WorkedHours:      v.WorkedHours.StringFixed(2),
		OvertimeMinutes:  v.OvertimeMinutes,
		Complete:         v.Complete,
	}
	for _, p := range v.Punches {
		dto.Punches = append(dto.Punches, PunchDTO{
			Kind:       string(p.Kind),
			RawAt:      p.RawAt.Format(time.RFC3339),
			AdjustedAt: p.AdjustedAt.Format(time.RFC3339),
			Status:     string(p.Status),
		})
	}
	for _, k := range v.OpenRequests {
		dto.OpenRequests = append(dto.OpenRequests, string(k))
	}
	return dto
}

func toRequestDTO(r attendance.ExceptionRequest) RequestDTO {
	dto := RequestDTO{
		ID:              string(r.ID),
		Kind:            string(r.Kind),
		UserID:          string(r.UserID),
		Date:            r.Date.String(),
		Status:          string(r.Status),
		Payload:         r.Payload,
		ResolvedBy:      r.ResolvedBy,
		RejectionReason: r.RejectionReason,
		CreatedAt:       r.CreatedAt.Format(time.RFC3339),
	}
	if r.EventID != nil {
		dto.EventID = string(*r.EventID)
	}
	if r.ResolvedAt != nil {
		dto.ResolvedAt = r.ResolvedAt.Format(time.RFC3339)
	}
	return dto
}

func toRequestDTOs(rs []attendance.ExceptionRequest) []RequestDTO {
	dtos := make([]RequestDTO, len(rs))
	for i, r := range rs {
		dtos[i] = toRequestDTO(r)
	}
	return dtos
}

func toQueueRecordDTO(rec payroll.QueueRecord) QueueRecordDTO {
	dto := QueueRecordDTO{
		ID:            rec.ID,
		UserID:        string(rec.UserID),
		Date:          rec.Date.String(),
		Status:        string(rec.Status),
		Attempts:      rec.Attempts,
		NextAttemptAt: rec.NextAttemptAt.Format(time.RFC3339),
		LastError:     rec.LastError,
	}
	if rec.SubmittedAt != nil {
		dto.SubmittedAt = rec.SubmittedAt.Format(time.RFC3339)
	}
	return dto
}

func toBackfillReportDTO(rep *workflow.BackfillReport) BackfillReportDTO {
	dto := BackfillReportDTO{
		DaysChecked: rep.DaysChecked,
		DaysSkipped: rep.DaysSkipped,
		Corrections: []CorrectionDTO{},
	}
	for _, c := range rep.Corrections {
		dto.Corrections = append(dto.Corrections, CorrectionDTO{
			Date:   c.Date.String(),
			Kind:   string(c.Kind),
			Stored: c.Stored.Format(time.RFC3339),
			Fresh:  c.Fresh.Format(time.RFC3339),
		})
	}
	return dto
}
