// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/attendance-engine/attendance"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements attendance.TxStore with maps behind one mutex. The
// single mutex doubles as the per-day serialization the intake unit needs,
// mirroring what row locking provides in SQLite.
type Memory struct {
	mu       sync.RWMutex
	events   map[attendance.EventID]attendance.ClockEvent
	shifts   map[dayKey]attendance.ShiftFact
	rules    map[attendance.GroupID]attendance.GroupRule
	groups   map[attendance.UserID]attendance.GroupID
	requests map[attendance.RequestID]attendance.ExceptionRequest
	audits   []attendance.AuditEntry
}

type dayKey struct {
	User attendance.UserID
	Date attendance.Date
}

func NewMemory() *Memory {
	return &Memory{
		events:   make(map[attendance.EventID]attendance.ClockEvent),
		shifts:   make(map[dayKey]attendance.ShiftFact),
		rules:    make(map[attendance.GroupID]attendance.GroupRule),
		groups:   make(map[attendance.UserID]attendance.GroupID),
		requests: make(map[attendance.RequestID]attendance.ExceptionRequest),
	}
}

// WithTx runs fn under the write lock. Rollback is not simulated: memory
// stores back tests for logic, not crash recovery.
func (m *Memory) WithTx(ctx context.Context, fn func(attendance.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(lockedView{m})
}

// lockedView exposes the store inside WithTx without re-locking.
type lockedView struct{ m *Memory }

// =============================================================================
// EVENTS
// =============================================================================

func (m *Memory) InsertEvent(ctx context.Context, e attendance.ClockEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertEventLocked(e)
}

func (m *Memory) insertEventLocked(e attendance.ClockEvent) error {
	if e.Status == attendance.EventConfirmed {
		for _, existing := range m.events {
			if existing.UserID == e.UserID && existing.Date == e.Date &&
				existing.Kind == e.Kind && existing.Status == attendance.EventConfirmed {
				return &attendance.DuplicatePunchError{
					UserID: e.UserID, Date: e.Date, Kind: e.Kind, ExistingID: existing.ID,
				}
			}
		}
	}
	m.events[e.ID] = e
	return nil
}

func (m *Memory) SetAdjusted(ctx context.Context, id attendance.EventID, adjusted time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setAdjustedLocked(id, adjusted)
}

func (m *Memory) setAdjustedLocked(id attendance.EventID, adjusted time.Time) error {
	e, ok := m.events[id]
	if !ok {
		return attendance.ErrEventNotFound
	}
	e.AdjustedAt = &adjusted
	m.events[id] = e
	return nil
}

func (m *Memory) SetEventStatus(ctx context.Context, id attendance.EventID, status attendance.EventStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setEventStatusLocked(id, status)
}

func (m *Memory) setEventStatusLocked(id attendance.EventID, status attendance.EventStatus) error {
	e, ok := m.events[id]
	if !ok {
		return attendance.ErrEventNotFound
	}
	// Confirming must never create a second confirmed punch for the same
	// (user, date, kind). Mirrors the partial unique index in SQLite.
	if status == attendance.EventConfirmed {
		for _, other := range m.events {
			if other.ID != id && other.UserID == e.UserID && other.Date == e.Date &&
				other.Kind == e.Kind && other.Status == attendance.EventConfirmed {
				return &attendance.DuplicatePunchError{
					UserID: e.UserID, Date: e.Date, Kind: e.Kind, ExistingID: other.ID,
				}
			}
		}
	}
	e.Status = status
	m.events[id] = e
	return nil
}

func (m *Memory) DeleteEvent(ctx context.Context, id attendance.EventID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteEventLocked(id)
}

func (m *Memory) deleteEventLocked(id attendance.EventID) error {
	if _, ok := m.events[id]; !ok {
		return attendance.ErrEventNotFound
	}
	delete(m.events, id)
	return nil
}

func (m *Memory) GetEvent(ctx context.Context, id attendance.EventID) (*attendance.ClockEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getEventLocked(id)
}

func (m *Memory) getEventLocked(id attendance.EventID) (*attendance.ClockEvent, error) {
	e, ok := m.events[id]
	if !ok {
		return nil, attendance.ErrEventNotFound
	}
	return &e, nil
}

func (m *Memory) ListDayEvents(ctx context.Context, user attendance.UserID, date attendance.Date) ([]attendance.ClockEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listDayEventsLocked(user, date)
}

func (m *Memory) listDayEventsLocked(user attendance.UserID, date attendance.Date) ([]attendance.ClockEvent, error) {
	var out []attendance.ClockEvent
	for _, e := range m.events {
		if e.UserID == user && e.Date == date {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// =============================================================================
// SHIFTS
// =============================================================================

func (m *Memory) GetShift(ctx context.Context, user attendance.UserID, date attendance.Date) (*attendance.ShiftFact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getShiftLocked(user, date)
}

func (m *Memory) getShiftLocked(user attendance.UserID, date attendance.Date) (*attendance.ShiftFact, error) {
	s, ok := m.shifts[dayKey{User: user, Date: date}]
	if !ok {
		return nil, attendance.ErrShiftMissing
	}
	return &s, nil
}

func (m *Memory) PutShift(ctx context.Context, s attendance.ShiftFact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shifts[dayKey{User: s.UserID, Date: s.Date}] = s
	return nil
}

// =============================================================================
// RULES
// =============================================================================

func (m *Memory) GetGroupRule(ctx context.Context, group attendance.GroupID) (*attendance.GroupRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getGroupRuleLocked(group)
}

func (m *Memory) getGroupRuleLocked(group attendance.GroupID) (*attendance.GroupRule, error) {
	r, ok := m.rules[group]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *Memory) GroupOf(ctx context.Context, user attendance.UserID, date attendance.Date) (attendance.GroupID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.groupOfLocked(user)
}

func (m *Memory) groupOfLocked(user attendance.UserID) (attendance.GroupID, error) {
	if g, ok := m.groups[user]; ok {
		return g, nil
	}
	return attendance.GlobalRuleGroup, nil
}

func (m *Memory) PutGroupRule(ctx context.Context, r attendance.GroupRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[r.GroupID] = r
	return nil
}

func (m *Memory) SetUserGroup(ctx context.Context, user attendance.UserID, group attendance.GroupID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups[user] = group
	return nil
}

// =============================================================================
// REQUESTS
// =============================================================================

func (m *Memory) CreatePending(ctx context.Context, r attendance.ExceptionRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createPendingLocked(r)
}

func (m *Memory) createPendingLocked(r attendance.ExceptionRequest) error {
	// Check + insert under one lock: the idempotency invariant.
	for _, existing := range m.requests {
		if existing.UserID == r.UserID && existing.Date == r.Date &&
			existing.Kind == r.Kind && existing.Status == attendance.StatusPending {
			return attendance.ErrPendingExists
		}
	}
	r.Status = attendance.StatusPending
	m.requests[r.ID] = r
	return nil
}

func (m *Memory) GetRequest(ctx context.Context, id attendance.RequestID) (*attendance.ExceptionRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getRequestLocked(id)
}

func (m *Memory) getRequestLocked(id attendance.RequestID) (*attendance.ExceptionRequest, error) {
	r, ok := m.requests[id]
	if !ok {
		return nil, attendance.ErrRequestNotFound
	}
	return &r, nil
}

func (m *Memory) ListRequests(ctx context.Context, user attendance.UserID, date attendance.Date, status *attendance.RequestStatus) ([]attendance.ExceptionRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listRequestsLocked(user, date, status)
}

func (m *Memory) listRequestsLocked(user attendance.UserID, date attendance.Date, status *attendance.RequestStatus) ([]attendance.ExceptionRequest, error) {
	var out []attendance.ExceptionRequest
	for _, r := range m.requests {
		if r.UserID != user || r.Date != date {
			continue
		}
		if status != nil && r.Status != *status {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) ListPending(ctx context.Context) ([]attendance.ExceptionRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listPendingLocked()
}

func (m *Memory) listPendingLocked() ([]attendance.ExceptionRequest, error) {
	var out []attendance.ExceptionRequest
	for _, r := range m.requests {
		if r.Status == attendance.StatusPending {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) ResolveCAS(ctx context.Context, id attendance.RequestID, to attendance.RequestStatus, resolverID, reason string, payload *attendance.RequestPayload, at time.Time) (*attendance.ExceptionRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resolveCASLocked(id, to, resolverID, reason, payload, at)
}

func (m *Memory) resolveCASLocked(id attendance.RequestID, to attendance.RequestStatus, resolverID, reason string, payload *attendance.RequestPayload, at time.Time) (*attendance.ExceptionRequest, error) {
	r, ok := m.requests[id]
	if !ok {
		return nil, attendance.ErrRequestNotFound
	}
	if r.Status != attendance.StatusPending {
		return nil, attendance.ErrAlreadyResolved
	}
	if !to.Terminal() {
		return nil, attendance.ErrConflict
	}
	r.Status = to
	r.ResolvedBy = resolverID
	r.ResolvedAt = &at
	r.RejectionReason = reason
	r.UpdatedAt = at
	if payload != nil {
		r.Payload = *payload
	}
	m.requests[id] = r
	return &r, nil
}

// =============================================================================
// AUDIT
// =============================================================================

func (m *Memory) AppendAudit(ctx context.Context, entry attendance.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audits = append(m.audits, entry)
	return nil
}

func (m *Memory) ListAudit(ctx context.Context, user attendance.UserID, date attendance.Date) ([]attendance.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []attendance.AuditEntry
	for _, a := range m.audits {
		if a.UserID == user && a.Date == date {
			out = append(out, a)
		}
	}
	return out, nil
}

// =============================================================================
// LOCKED VIEW - Store methods usable inside WithTx
// =============================================================================

func (v lockedView) InsertEvent(_ context.Context, e attendance.ClockEvent) error {
	return v.m.insertEventLocked(e)
}
func (v lockedView) SetAdjusted(_ context.Context, id attendance.EventID, adjusted time.Time) error {
	return v.m.setAdjustedLocked(id, adjusted)
}
func (v lockedView) SetEventStatus(_ context.Context, id attendance.EventID, status attendance.EventStatus) error {
	return v.m.setEventStatusLocked(id, status)
}
func (v lockedView) DeleteEvent(_ context.Context, id attendance.EventID) error {
	return v.m.deleteEventLocked(id)
}
func (v lockedView) GetEvent(_ context.Context, id attendance.EventID) (*attendance.ClockEvent, error) {
	return v.m.getEventLocked(id)
}
func (v lockedView) ListDayEvents(_ context.Context, user attendance.UserID, date attendance.Date) ([]attendance.ClockEvent, error) {
	return v.m.listDayEventsLocked(user, date)
}
func (v lockedView) GetShift(_ context.Context, user attendance.UserID, date attendance.Date) (*attendance.ShiftFact, error) {
	return v.m.getShiftLocked(user, date)
}
func (v lockedView) PutShift(_ context.Context, s attendance.ShiftFact) error {
	v.m.shifts[dayKey{User: s.UserID, Date: s.Date}] = s
	return nil
}
func (v lockedView) GetGroupRule(_ context.Context, group attendance.GroupID) (*attendance.GroupRule, error) {
	return v.m.getGroupRuleLocked(group)
}
func (v lockedView) GroupOf(_ context.Context, user attendance.UserID, date attendance.Date) (attendance.GroupID, error) {
	return v.m.groupOfLocked(user)
}
func (v lockedView) PutGroupRule(_ context.Context, r attendance.GroupRule) error {
	v.m.rules[r.GroupID] = r
	return nil
}
func (v lockedView) SetUserGroup(_ context.Context, user attendance.UserID, group attendance.GroupID) error {
	v.m.groups[user] = group
	return nil
}
func (v lockedView) CreatePending(_ context.Context, r attendance.ExceptionRequest) error {
	return v.m.createPendingLocked(r)
}
func (v lockedView) GetRequest(_ context.Context, id attendance.RequestID) (*attendance.ExceptionRequest, error) {
	return v.m.getRequestLocked(id)
}
func (v lockedView) ListRequests(_ context.Context, user attendance.UserID, date attendance.Date, status *attendance.RequestStatus) ([]attendance.ExceptionRequest, error) {
	return v.m.listRequestsLocked(user, date, status)
}
func (v lockedView) ListPending(_ context.Context) ([]attendance.ExceptionRequest, error) {
	return v.m.listPendingLocked()
}
func (v lockedView) ResolveCAS(_ context.Context, id attendance.RequestID, to attendance.RequestStatus, resolverID, reason string, payload *attendance.RequestPayload, at time.Time) (*attendance.ExceptionRequest, error) {
	return v.m.resolveCASLocked(id, to, resolverID, reason, payload, at)
}
func (v lockedView) AppendAudit(_ context.Context, entry attendance.AuditEntry) error {
	v.m.audits = append(v.m.audits, entry)
	return nil
}
func (v lockedView) ListAudit(_ context.Context, user attendance.UserID, date attendance.Date) ([]attendance.AuditEntry, error) {
	var out []attendance.AuditEntry
	for _, a := range v.m.audits {
		if a.UserID == user && a.Date == date {
			out = append(out, a)
		}
	}
	return out, nil
}
