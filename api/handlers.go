/*
handlers.go - HTTP API handlers for the attendance engine

PURPOSE:
  Exposes the attendance engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the workflow layer.

ENDPOINTS:
  Punches:
    POST   /api/punches                      Record a punch
    POST   /api/punches/missed               Declare a missed punch
    POST   /api/breaks/waiver                Request a break reduction waiver

  Attendance:
    GET    /api/attendance/{user}/{date}       Day view
    GET    /api/attendance/{user}/{date}/audit Audit trail for a day

  Requests:
    GET    /api/requests/pending             All pending exception requests
    GET    /api/requests/{id}                One request
    POST   /api/requests/{id}/approve        Approve
    POST   /api/requests/{id}/reject         Reject

  Rules / shifts:
    PUT    /api/shifts                       Upsert a shift fact
    GET    /api/rules/{group}                Rule row for a group
    PUT    /api/rules/{group}                Upsert a rule row

  Admin:
    POST   /api/admin/groups                 Assign a user to a rule group
    POST   /api/admin/recompute              Recompute one user/day
    POST   /api/admin/backfill               Audit+repair a date range
    GET    /api/payroll/queue                Payroll retry queue
    POST   /api/payroll/sweep                Run one sweep immediately

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, blocked punches, invalid input
  - 404: Unknown user/day, request, event
  - 409: Duplicate punch, lost resolution race
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.
  Resolver identity is taken from the request body.

SEE ALSO:
  - dto.go: Request/response data structures
  - seed.go: Demo data loader
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/factory"
	"github.com/warp/attendance-engine/payroll"
	"github.com/warp/attendance-engine/workflow"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     attendance.TxStore
	Queue     payroll.QueueStore
	Intake    *workflow.IntakeService
	Review    *workflow.ReviewService
	Recompute *workflow.RecomputeEngine
	Worker    *payroll.Worker // nil when the sync worker is disabled
}

// NewHandler wires the workflow services over the given store.
func NewHandler(store attendance.TxStore, queue payroll.QueueStore, clock attendance.Clock, notifier workflow.Notifier) *Handler {
	intake := workflow.NewIntakeService(store, clock, notifier)
	intake.Payroll = queue
	review := workflow.NewReviewService(store, clock, notifier)
	review.Payroll = queue
	return &Handler{
		Store:     store,
		Queue:     queue,
		Intake:    intake,
		Review:    review,
		Recompute: workflow.NewRecomputeEngine(store, clock),
	}
}

// =============================================================================
// PUNCH HANDLERS
// =============================================================================

// RecordPunch processes one punch submission.
func (h *Handler) RecordPunch(w http.ResponseWriter, r *http.Request) {
	var req PunchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	in, err := punchInputFrom(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid punch", err)
		return
	}

	res, err := h.Intake.RecordPunch(r.Context(), in)
	if err != nil {
		writeDomainError(w, "Failed to record punch", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPunchResponseDTO(res))
}

// DeclareMissedPunch records a retroactive punch pending admin review.
func (h *Handler) DeclareMissedPunch(w http.ResponseWriter, r *http.Request) {
	var req MissedPunchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	in, err := punchInputFrom(req.PunchRequest)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid punch", err)
		return
	}

	res, err := h.Intake.DeclareMissedPunch(r.Context(), in, req.Justification)
	if err != nil {
		writeDomainError(w, "Failed to declare missed punch", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPunchResponseDTO(res))
}

// RequestBreakWaiver creates a pending break reduction waiver.
func (h *Handler) RequestBreakWaiver(w http.ResponseWriter, r *http.Request) {
	var req BreakWaiverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	date, err := attendance.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}

	sum, err := h.Intake.RequestBreakWaiver(r.Context(), attendance.UserID(req.UserID), date, req.BreakMinutes)
	if err != nil {
		writeDomainError(w, "Failed to request break waiver", err)
		return
	}
	writeJSON(w, http.StatusCreated, RequestSummaryDTO{ID: string(sum.ID), Kind: string(sum.Kind)})
}

func punchInputFrom(req PunchRequest) (workflow.PunchInput, error) {
	date, err := attendance.ParseDate(req.Date)
	if err != nil {
		return workflow.PunchInput{}, err
	}
	at, err := time.Parse(time.RFC3339, req.At)
	if err != nil {
		return workflow.PunchInput{}, err
	}
	method := attendance.CaptureMethod(req.Method)
	if method == "" {
		method = attendance.CaptureWeb
	}
	return workflow.PunchInput{
		UserID: attendance.UserID(req.UserID),
		Date:   date,
		Kind:   attendance.PunchKind(req.Kind),
		RawAt:  at,
		Method: method,
	}, nil
}

// =============================================================================
// ATTENDANCE HANDLERS
// =============================================================================

// GetDayView returns the derived attendance summary for one user/day.
func (h *Handler) GetDayView(w http.ResponseWriter, r *http.Request) {
	user := attendance.UserID(chi.URLParam(r, "user"))
	date, err := attendance.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}

	view, err := workflow.DayView(r.Context(), h.Store, user, date)
	if err != nil {
		writeDomainError(w, "Failed to build day view", err)
		return
	}
	writeJSON(w, http.StatusOK, toDayViewDTO(*view))
}

// GetDayAudit returns the audit trail for one user/day.
func (h *Handler) GetDayAudit(w http.ResponseWriter, r *http.Request) {
	user := attendance.UserID(chi.URLParam(r, "user"))
	date, err := attendance.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}

	entries, err := h.Store.ListAudit(r.Context(), user, date)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list audit entries", err)
		return
	}
	dtos := make([]AuditEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = AuditEntryDTO{
			ID:      e.ID,
			At:      e.At.Format(time.RFC3339),
			ActorID: e.ActorID,
			Action:  string(e.Action),
			Details: e.Details,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// REQUEST HANDLERS
// =============================================================================

// ListPendingRequests returns every pending exception request.
func (h *Handler) ListPendingRequests(w http.ResponseWriter, r *http.Request) {
	pending, err := h.Store.ListPending(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list pending requests", err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTOs(pending))
}

// GetRequest returns a single exception request.
func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	id := attendance.RequestID(chi.URLParam(r, "id"))
	req, err := h.Store.GetRequest(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get request", err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(*req))
}

// ApproveRequest applies an approval decision.
func (h *Handler) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, true)
}

// RejectRequest applies a rejection decision.
func (h *Handler) RejectRequest(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, false)
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request, approve bool) {
	id := attendance.RequestID(chi.URLParam(r, "id"))
	var body ResolveRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	resolved, err := h.Review.Resolve(r.Context(), id, attendance.Resolution{
		Approve:             approve,
		ResolverID:          body.ResolverID,
		Reason:              body.Reason,
		RoundedBreakMinutes: body.RoundedBreakMinutes,
	})
	if err != nil {
		writeDomainError(w, "Failed to resolve request", err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(*resolved))
}

// =============================================================================
// SHIFT AND RULE HANDLERS
// =============================================================================

// PutShift upserts a planning-feed snapshot.
func (h *Handler) PutShift(w http.ResponseWriter, r *http.Request) {
	var req ShiftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	shift, err := shiftFrom(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid shift", err)
		return
	}

	if err := h.Store.PutShift(r.Context(), shift); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save shift", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func shiftFrom(req ShiftRequest) (attendance.ShiftFact, error) {
	date, err := attendance.ParseDate(req.Date)
	if err != nil {
		return attendance.ShiftFact{}, err
	}
	start, err := time.Parse(time.RFC3339, req.PlannedStart)
	if err != nil {
		return attendance.ShiftFact{}, err
	}
	end, err := time.Parse(time.RFC3339, req.PlannedEnd)
	if err != nil {
		return attendance.ShiftFact{}, err
	}
	shift := attendance.ShiftFact{
		UserID:       attendance.UserID(req.UserID),
		Date:         date,
		PlannedStart: start,
		PlannedEnd:   end,
		TeamManaged:  req.TeamManaged,
	}
	if req.BreakStart != nil {
		bs, err := time.Parse(time.RFC3339, *req.BreakStart)
		if err != nil {
			return attendance.ShiftFact{}, err
		}
		shift.BreakStart = &bs
	}
	if req.BreakEnd != nil {
		be, err := time.Parse(time.RFC3339, *req.BreakEnd)
		if err != nil {
			return attendance.ShiftFact{}, err
		}
		shift.BreakEnd = &be
	}
	return shift, nil
}

// GetRule returns the stored rule row for a group.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	group := attendance.GroupID(chi.URLParam(r, "group"))
	rule, err := h.Store.GetGroupRule(r.Context(), group)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get rule", err)
		return
	}
	if rule == nil {
		writeError(w, http.StatusNotFound, "No rule row for group", nil)
		return
	}
	raw, err := factory.RuleToJSON(*rule)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to serialize rule", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(raw)
}

// PutRule upserts a rule row from its JSON document.
func (h *Handler) PutRule(w http.ResponseWriter, r *http.Request) {
	group := chi.URLParam(r, "group")

	var doc factory.RuleJSON
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if doc.Group == "" {
		doc.Group = group
	}
	if doc.Group != group {
		writeError(w, http.StatusBadRequest, "Group in body does not match URL", nil)
		return
	}
	rule, err := factory.RuleFromJSON(doc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid rule document", err)
		return
	}

	if err := h.Store.PutGroupRule(r.Context(), rule); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save rule", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "group": group})
}

// AssignGroup maps a user to a rule group.
func (h *Handler) AssignGroup(w http.ResponseWriter, r *http.Request) {
	var req UserGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.UserID == "" || req.Group == "" {
		writeError(w, http.StatusBadRequest, "user_id and group are required", nil)
		return
	}

	if err := h.Store.SetUserGroup(r.Context(), attendance.UserID(req.UserID), attendance.GroupID(req.Group)); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to assign group", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// TriggerRecompute re-derives adjusted times for one user/day.
func (h *Handler) TriggerRecompute(w http.ResponseWriter, r *http.Request) {
	var req RecomputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	date, err := attendance.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}

	if err := h.Recompute.Recompute(r.Context(), attendance.UserID(req.UserID), date); err != nil {
		writeDomainError(w, "Failed to recompute", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// TriggerBackfill audits and repairs a date range for one user.
func (h *Handler) TriggerBackfill(w http.ResponseWriter, r *http.Request) {
	var req BackfillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	from, err := attendance.ParseDate(req.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid from date (use YYYY-MM-DD)", err)
		return
	}
	to, err := attendance.ParseDate(req.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid to date (use YYYY-MM-DD)", err)
		return
	}

	report, err := h.Recompute.Backfill(r.Context(), attendance.UserID(req.UserID), from, to)
	if err != nil {
		writeDomainError(w, "Backfill failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toBackfillReportDTO(report))
}

// ListPayrollQueue returns every payroll queue record, newest first.
func (h *Handler) ListPayrollQueue(w http.ResponseWriter, r *http.Request) {
	records, err := h.Queue.ListRecords(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list payroll queue", err)
		return
	}
	dtos := make([]QueueRecordDTO, len(records))
	for i, rec := range records {
		dtos[i] = toQueueRecordDTO(rec)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// TriggerPayrollSweep runs one payroll sweep outside the ticker cadence.
func (h *Handler) TriggerPayrollSweep(w http.ResponseWriter, r *http.Request) {
	if h.Worker == nil {
		writeError(w, http.StatusServiceUnavailable, "Payroll worker is disabled", nil)
		return
	}
	h.Worker.Sweep(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps the error taxonomy onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case attendance.IsConflict(err):
		writeError(w, http.StatusConflict, message, err)
	case attendance.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	case attendance.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
