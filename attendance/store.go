/*
store.go - Persistence interfaces for the attendance engine

PURPOSE:
  Defines the boundary between domain logic and the database. All durable
  state lives behind these interfaces (no shared mutable process state), so
  the engine is stateless and horizontally replicable; correctness rests on
  the storage layer's transaction guarantees.

KEY INTERFACES:
  EventStore:   ClockEvent persistence (day uniqueness on confirmed punches)
  ShiftStore:   ShiftFact snapshots from the planning feed
  RuleStore:    Rule rows + user->group membership (implements RuleSource)
  RequestStore: ExceptionRequest persistence; owns the two invariants:
                  - at most one pending per (user, date, kind), enforced by
                    an atomic check+insert
                  - terminal-once resolution, enforced by compare-and-set
                    on status (ErrAlreadyResolved on a lost race)
  AuditLog:     Append-only record of who did what when
  TxStore:      WithTx for the atomic intake unit (normalize + detect +
                persist per user/day)

IMPLEMENTATIONS:
  - store/sqlite:        Production SQLite (WAL)
  - attendance/store:    In-memory, for tests
*/
package attendance

import (
	"context"
	"time"
)

// =============================================================================
// EVENTS
// =============================================================================

// EventStore persists clock events. Insert enforces at most one confirmed
// event per (user, date, kind); a pending_review event may coexist while a
// correction awaits review.
type EventStore interface {
	// InsertEvent persists a new punch. Returns DuplicatePunchError when a
	// confirmed event of the same (user, date, kind) exists.
	InsertEvent(ctx context.Context, e ClockEvent) error

	// SetAdjusted overwrites the adjusted timestamp of an event. Only the
	// recompute path calls this.
	SetAdjusted(ctx context.Context, id EventID, adjusted time.Time) error

	// SetEventStatus flips pending_review <-> confirmed on admin review.
	SetEventStatus(ctx context.Context, id EventID, status EventStatus) error

	// DeleteEvent removes an event. Only the rejection of a missed-punch
	// correction calls this.
	DeleteEvent(ctx context.Context, id EventID) error

	GetEvent(ctx context.Context, id EventID) (*ClockEvent, error)

	// ListDayEvents returns all events for a user/day, oldest first.
	ListDayEvents(ctx context.Context, user UserID, date Date) ([]ClockEvent, error)
}

// =============================================================================
// SHIFTS
// =============================================================================

// ShiftStore holds the externally supplied plan. The engine reads it; only
// the ingest boundary writes it.
type ShiftStore interface {
	// GetShift returns the shift for a user/day, ErrShiftMissing when none.
	GetShift(ctx context.Context, user UserID, date Date) (*ShiftFact, error)

	// PutShift upserts the planning feed's snapshot.
	PutShift(ctx context.Context, s ShiftFact) error
}

// =============================================================================
// RULES
// =============================================================================

// RuleStore persists rule rows and group membership. It satisfies
// RuleSource so a RuleResolver can read from it directly.
type RuleStore interface {
	RuleSource

	PutGroupRule(ctx context.Context, r GroupRule) error
	SetUserGroup(ctx context.Context, user UserID, group GroupID) error
}

// =============================================================================
// EXCEPTION REQUESTS
// =============================================================================

// RequestStore owns request persistence and the state machine primitives.
type RequestStore interface {
	// CreatePending inserts a new pending request. The existence check and
	// insert are atomic; returns ErrPendingExists when a pending request of
	// the same (user, date, kind) already exists.
	CreatePending(ctx context.Context, r ExceptionRequest) error

	GetRequest(ctx context.Context, id RequestID) (*ExceptionRequest, error)

	// ListRequests returns requests for a user/day, optionally filtered by
	// status. Nil status means all.
	ListRequests(ctx context.Context, user UserID, date Date, status *RequestStatus) ([]ExceptionRequest, error)

	// ListPending returns every pending request, oldest first.
	ListPending(ctx context.Context) ([]ExceptionRequest, error)

	// ResolveCAS transitions a request out of pending. The update only
	// succeeds if the row is still pending at commit time; otherwise
	// ErrAlreadyResolved. A non-nil payload replaces the stored payload
	// (break-waiver approval writes the granted rounded break back).
	ResolveCAS(ctx context.Context, id RequestID, to RequestStatus, resolverID, reason string, payload *RequestPayload, at time.Time) (*ExceptionRequest, error)
}

// =============================================================================
// AUDIT LOG
// =============================================================================

type AuditAction string

const (
	AuditPunchRecorded    AuditAction = "punch_recorded"
	AuditRequestCreated   AuditAction = "request_created"
	AuditRequestApproved  AuditAction = "request_approved"
	AuditRequestRejected  AuditAction = "request_rejected"
	AuditEventDeleted     AuditAction = "event_deleted"
	AuditRecompute        AuditAction = "recompute"
	AuditBackfillCorrect  AuditAction = "backfill_correction"
	AuditPayrollSubmitted AuditAction = "payroll_submitted"
	AuditPayrollFailed    AuditAction = "payroll_failed"
)

// AuditEntry records who did what when. Append-only.
type AuditEntry struct {
	ID      string
	At      time.Time
	ActorID string
	Action  AuditAction
	UserID  UserID
	Date    Date
	Details map[string]any
}

type AuditLog interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error
	ListAudit(ctx context.Context, user UserID, date Date) ([]AuditEntry, error)
}

// =============================================================================
// AGGREGATE + TRANSACTIONS
// =============================================================================

// Store aggregates every persistence concern the workflow needs.
type Store interface {
	EventStore
	ShiftStore
	RuleStore
	RequestStore
	AuditLog
}

// TxStore adds transactional execution. Punch intake runs its whole unit
// (normalize + detect + persist) inside WithTx so concurrent punches for the
// same user/day serialize and the idempotency guard cannot race.
type TxStore interface {
	Store

	// WithTx executes fn atomically. A returned error rolls back.
	WithTx(ctx context.Context, fn func(Store) error) error
}
