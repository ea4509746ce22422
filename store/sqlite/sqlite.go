/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements every persistence interface of the attendance engine
  (attendance.TxStore, payroll.QueueStore) using SQLite. In production, the
  same patterns apply to PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  clock_events:       punches, with adjusted timestamps written by recompute
  shift_facts:        planning-feed snapshots (read-only to the core)
  rule_rows:          rule documents stored as JSON, parsed by factory
  user_groups:        user-to-group membership
  exception_requests: anomaly requests and their state machine
  audit_log:          append-only who-did-what-when
  payroll_queue:      persisted retry state for the sync worker

INVARIANTS ENFORCED IN SCHEMA:
  - idx_unique_confirmed_punch: at most one confirmed punch per
    (user, date, kind); a pending_review correction may coexist
  - idx_unique_pending_request: at most one pending request per
    (user, date, kind). The application checks first so it can return a
    typed error; the partial unique index makes check+insert race-free.
  - payroll_queue UNIQUE(user_id, date): one retry record per day

CONCURRENCY:
  WithTx holds a process-level mutex and a database transaction, so a
  punch's normalize+detect+persist unit is serialized within the process and
  atomic across processes. Resolution uses a compare-and-set
  UPDATE ... WHERE status='pending'.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) so readers don't block on
  the single writer and a day mid-transaction stays invisible until commit.

USAGE:
  store, err := sqlite.New("./data/attendance.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - attendance/store.go: Interface definitions
  - attendance/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/factory"
	"github.com/warp/attendance-engine/payroll"
)

// Store implements attendance.TxStore and payroll.QueueStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
	runner
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// runner holds the SQL implementations. Store runs them against the
// connection; WithTx runs the same code against an open transaction.
type runner struct {
	q querier
}

// New creates a new SQLite store. Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// The sqlite driver cannot multiplex writes over one file handle.
	db.SetMaxOpenConns(1)

	store := &Store{db: db, runner: runner{q: db}}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS clock_events (
		id          TEXT PRIMARY KEY,
		user_id     TEXT NOT NULL,
		date        TEXT NOT NULL,
		kind        TEXT NOT NULL,
		raw_at      TEXT NOT NULL,
		adjusted_at TEXT,
		method      TEXT NOT NULL,
		status      TEXT NOT NULL,
		note        TEXT NOT NULL DEFAULT '',
		created_at  TEXT NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_confirmed_punch
		ON clock_events(user_id, date, kind) WHERE status = 'confirmed';
	CREATE INDEX IF NOT EXISTS idx_events_user_date
		ON clock_events(user_id, date);

	CREATE TABLE IF NOT EXISTS shift_facts (
		user_id       TEXT NOT NULL,
		date          TEXT NOT NULL,
		planned_start TEXT NOT NULL,
		planned_end   TEXT NOT NULL,
		break_start   TEXT,
		break_end     TEXT,
		team_managed  INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (user_id, date)
	);

	CREATE TABLE IF NOT EXISTS rule_rows (
		group_id    TEXT PRIMARY KEY,
		config_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS user_groups (
		user_id  TEXT PRIMARY KEY,
		group_id TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS exception_requests (
		id               TEXT PRIMARY KEY,
		kind             TEXT NOT NULL,
		user_id          TEXT NOT NULL,
		date             TEXT NOT NULL,
		status           TEXT NOT NULL,
		payload          TEXT NOT NULL,
		event_id         TEXT,
		resolved_by      TEXT NOT NULL DEFAULT '',
		resolved_at      TEXT,
		rejection_reason TEXT NOT NULL DEFAULT '',
		created_at       TEXT NOT NULL,
		updated_at       TEXT NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_pending_request
		ON exception_requests(user_id, date, kind) WHERE status = 'pending';
	CREATE INDEX IF NOT EXISTS idx_requests_user_date
		ON exception_requests(user_id, date);
	CREATE INDEX IF NOT EXISTS idx_requests_status
		ON exception_requests(status);

	CREATE TABLE IF NOT EXISTS audit_log (
		id       TEXT PRIMARY KEY,
		at       TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		action   TEXT NOT NULL,
		user_id  TEXT NOT NULL,
		date     TEXT NOT NULL,
		details  TEXT NOT NULL DEFAULT '{}'
	);
	CREATE INDEX IF NOT EXISTS idx_audit_user_date
		ON audit_log(user_id, date);

	CREATE TABLE IF NOT EXISTS payroll_queue (
		id              TEXT PRIMARY KEY,
		user_id         TEXT NOT NULL,
		date            TEXT NOT NULL,
		status          TEXT NOT NULL,
		attempts        INTEGER NOT NULL DEFAULT 0,
		next_attempt_at TEXT NOT NULL,
		last_error      TEXT NOT NULL DEFAULT '',
		submitted_at    TEXT,
		created_at      TEXT NOT NULL,
		UNIQUE (user_id, date)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn atomically. The process-level mutex serializes intake
// units within this process; the database transaction makes them atomic
// across processes.
func (s *Store) WithTx(ctx context.Context, fn func(attendance.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(runner{q: tx}); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// =============================================================================
// ENCODING HELPERS
// =============================================================================

func encTime(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func decTime(s string) (time.Time, error) { return time.Parse(time.RFC3339, s) }

func encTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return encTime(*t)
}

func decTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := decTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint
}

type rowScanner interface {
	Scan(dest ...any) error
}

func mustAffect(res sql.Result, missing error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return missing
	}
	return nil
}

// =============================================================================
// CLOCK EVENTS
// =============================================================================

const eventColumns = `id, user_id, date, kind, raw_at, adjusted_at, method, status, note, created_at`

func (r runner) InsertEvent(ctx context.Context, e attendance.ClockEvent) error {
	if e.Status == attendance.EventConfirmed {
		var existing string
		err := r.q.QueryRowContext(ctx,
			`SELECT id FROM clock_events WHERE user_id=? AND date=? AND kind=? AND status=?`,
			string(e.UserID), e.Date.String(), string(e.Kind), string(attendance.EventConfirmed),
		).Scan(&existing)
		if err == nil {
			return &attendance.DuplicatePunchError{
				UserID: e.UserID, Date: e.Date, Kind: e.Kind,
				ExistingID: attendance.EventID(existing),
			}
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
	}

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO clock_events (id, user_id, date, kind, raw_at, adjusted_at, method, status, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(e.ID), string(e.UserID), e.Date.String(), string(e.Kind),
		encTime(e.RawAt), encTimePtr(e.AdjustedAt), string(e.Method),
		string(e.Status), e.Note, encTime(e.CreatedAt),
	)
	if isUniqueViolation(err) {
		return &attendance.DuplicatePunchError{UserID: e.UserID, Date: e.Date, Kind: e.Kind}
	}
	return err
}

func (r runner) SetAdjusted(ctx context.Context, id attendance.EventID, adjusted time.Time) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE clock_events SET adjusted_at=? WHERE id=?`, encTime(adjusted), string(id))
	if err != nil {
		return err
	}
	return mustAffect(res, attendance.ErrEventNotFound)
}

func (r runner) SetEventStatus(ctx context.Context, id attendance.EventID, status attendance.EventStatus) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE clock_events SET status=? WHERE id=?`, string(status), string(id))
	if err != nil {
		// The partial unique index fires when confirming would create a
		// second confirmed punch for the same (user, date, kind).
		if isUniqueViolation(err) {
			return r.duplicatePunchFor(ctx, id)
		}
		return err
	}
	return mustAffect(res, attendance.ErrEventNotFound)
}

// duplicatePunchFor builds the typed duplicate error for the event that lost
// to the confirmed-uniqueness index.
func (r runner) duplicatePunchFor(ctx context.Context, id attendance.EventID) error {
	e, err := r.GetEvent(ctx, id)
	if err != nil {
		return attendance.ErrDuplicatePunch
	}
	dup := &attendance.DuplicatePunchError{UserID: e.UserID, Date: e.Date, Kind: e.Kind}
	var existing string
	if err := r.q.QueryRowContext(ctx,
		`SELECT id FROM clock_events WHERE user_id=? AND date=? AND kind=? AND status=? AND id<>?`,
		string(e.UserID), e.Date.String(), string(e.Kind), string(attendance.EventConfirmed), string(id),
	).Scan(&existing); err == nil {
		dup.ExistingID = attendance.EventID(existing)
	}
	return dup
}

func (r runner) DeleteEvent(ctx context.Context, id attendance.EventID) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM clock_events WHERE id=?`, string(id))
	if err != nil {
		return err
	}
	return mustAffect(res, attendance.ErrEventNotFound)
}

func (r runner) GetEvent(ctx context.Context, id attendance.EventID) (*attendance.ClockEvent, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM clock_events WHERE id=?`, string(id))
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, attendance.ErrEventNotFound
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (r runner) ListDayEvents(ctx context.Context, user attendance.UserID, date attendance.Date) ([]attendance.ClockEvent, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM clock_events WHERE user_id=? AND date=? ORDER BY created_at, id`,
		string(user), date.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []attendance.ClockEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func scanEvent(row rowScanner) (*attendance.ClockEvent, error) {
	var (
		e                attendance.ClockEvent
		id, user, date   string
		kind, method     string
		status           string
		rawAt, createdAt string
		adjusted         sql.NullString
	)
	if err := row.Scan(&id, &user, &date, &kind, &rawAt, &adjusted, &method, &status, &e.Note, &createdAt); err != nil {
		return nil, err
	}
	d, err := attendance.ParseDate(date)
	if err != nil {
		return nil, err
	}
	e.ID = attendance.EventID(id)
	e.UserID = attendance.UserID(user)
	e.Date = d
	e.Kind = attendance.PunchKind(kind)
	e.Method = attendance.CaptureMethod(method)
	e.Status = attendance.EventStatus(status)
	if e.RawAt, err = decTime(rawAt); err != nil {
		return nil, err
	}
	if e.AdjustedAt, err = decTimePtr(adjusted); err != nil {
		return nil, err
	}
	if e.CreatedAt, err = decTime(createdAt); err != nil {
		return nil, err
	}
	return &e, nil
}

// =============================================================================
// SHIFT FACTS
// =============================================================================

func (r runner) GetShift(ctx context.Context, user attendance.UserID, date attendance.Date) (*attendance.ShiftFact, error) {
	var (
		start, end           string
		breakStart, breakEnd sql.NullString
		teamManaged          bool
	)
	err := r.q.QueryRowContext(ctx, `
		SELECT planned_start, planned_end, break_start, break_end, team_managed
		FROM shift_facts WHERE user_id=? AND date=?`,
		string(user), date.String(),
	).Scan(&start, &end, &breakStart, &breakEnd, &teamManaged)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, attendance.ErrShiftMissing
	}
	if err != nil {
		return nil, err
	}

	s := attendance.ShiftFact{UserID: user, Date: date, TeamManaged: teamManaged}
	if s.PlannedStart, err = decTime(start); err != nil {
		return nil, err
	}
	if s.PlannedEnd, err = decTime(end); err != nil {
		return nil, err
	}
	if s.BreakStart, err = decTimePtr(breakStart); err != nil {
		return nil, err
	}
	if s.BreakEnd, err = decTimePtr(breakEnd); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r runner) PutShift(ctx context.Context, s attendance.ShiftFact) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO shift_facts (user_id, date, planned_start, planned_end, break_start, break_end, team_managed)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, date) DO UPDATE SET
			planned_start=excluded.planned_start,
			planned_end=excluded.planned_end,
			break_start=excluded.break_start,
			break_end=excluded.break_end,
			team_managed=excluded.team_managed`,
		string(s.UserID), s.Date.String(), encTime(s.PlannedStart), encTime(s.PlannedEnd),
		encTimePtr(s.BreakStart), encTimePtr(s.BreakEnd), s.TeamManaged,
	)
	return err
}

// =============================================================================
// RULE ROWS
// =============================================================================

func (r runner) GetGroupRule(ctx context.Context, group attendance.GroupID) (*attendance.GroupRule, error) {
	var config string
	err := r.q.QueryRowContext(ctx,
		`SELECT config_json FROM rule_rows WHERE group_id=?`, string(group)).Scan(&config)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rule, err := factory.ParseRule([]byte(config))
	if err != nil {
		return nil, fmt.Errorf("stored rule for group %s: %w", group, err)
	}
	return &rule, nil
}

func (r runner) GroupOf(ctx context.Context, user attendance.UserID, date attendance.Date) (attendance.GroupID, error) {
	var group string
	err := r.q.QueryRowContext(ctx,
		`SELECT group_id FROM user_groups WHERE user_id=?`, string(user)).Scan(&group)
	if errors.Is(err, sql.ErrNoRows) {
		return attendance.GlobalRuleGroup, nil
	}
	if err != nil {
		return "", err
	}
	return attendance.GroupID(group), nil
}

func (r runner) PutGroupRule(ctx context.Context, rule attendance.GroupRule) error {
	config, err := factory.RuleToJSON(rule)
	if err != nil {
		return err
	}
	_, err = r.q.ExecContext(ctx, `
		INSERT INTO rule_rows (group_id, config_json) VALUES (?, ?)
		ON CONFLICT (group_id) DO UPDATE SET config_json=excluded.config_json`,
		string(rule.GroupID), string(config),
	)
	return err
}

func (r runner) SetUserGroup(ctx context.Context, user attendance.UserID, group attendance.GroupID) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO user_groups (user_id, group_id) VALUES (?, ?)
		ON CONFLICT (user_id) DO UPDATE SET group_id=excluded.group_id`,
		string(user), string(group),
	)
	return err
}

// =============================================================================
// EXCEPTION REQUESTS
// =============================================================================

const requestColumns = `id, kind, user_id, date, status, payload, event_id, resolved_by, resolved_at, rejection_reason, created_at, updated_at`

func (r runner) CreatePending(ctx context.Context, req attendance.ExceptionRequest) error {
	// Check first so callers get the typed error; the partial unique index
	// idx_unique_pending_request is the race-free backstop.
	var existing string
	err := r.q.QueryRowContext(ctx, `
		SELECT id FROM exception_requests WHERE user_id=? AND date=? AND kind=? AND status=?`,
		string(req.UserID), req.Date.String(), string(req.Kind), string(attendance.StatusPending),
	).Scan(&existing)
	if err == nil {
		return attendance.ErrPendingExists
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	payload, err := attendance.EncodePayload(req.Payload)
	if err != nil {
		return err
	}
	var eventID any
	if req.EventID != nil {
		eventID = string(*req.EventID)
	}
	_, err = r.q.ExecContext(ctx, `
		INSERT INTO exception_requests (id, kind, user_id, date, status, payload, event_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(req.ID), string(req.Kind), string(req.UserID), req.Date.String(),
		string(attendance.StatusPending), string(payload), eventID,
		encTime(req.CreatedAt), encTime(req.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return attendance.ErrPendingExists
	}
	return err
}

func (r runner) GetRequest(ctx context.Context, id attendance.RequestID) (*attendance.ExceptionRequest, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM exception_requests WHERE id=?`, string(id))
	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, attendance.ErrRequestNotFound
	}
	if err != nil {
		return nil, err
	}
	return req, nil
}

func (r runner) ListRequests(ctx context.Context, user attendance.UserID, date attendance.Date, status *attendance.RequestStatus) ([]attendance.ExceptionRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM exception_requests WHERE user_id=? AND date=?`
	args := []any{string(user), date.String()}
	if status != nil {
		query += ` AND status=?`
		args = append(args, string(*status))
	}
	query += ` ORDER BY created_at, id`
	return r.queryRequests(ctx, query, args...)
}

func (r runner) ListPending(ctx context.Context) ([]attendance.ExceptionRequest, error) {
	return r.queryRequests(ctx,
		`SELECT `+requestColumns+` FROM exception_requests WHERE status=? ORDER BY created_at, id`,
		string(attendance.StatusPending))
}

func (r runner) queryRequests(ctx context.Context, query string, args ...any) ([]attendance.ExceptionRequest, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []attendance.ExceptionRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *req)
	}
	return out, rows.Err()
}

func scanRequest(row rowScanner) (*attendance.ExceptionRequest, error) {
	var (
		req                  attendance.ExceptionRequest
		id, kind, user, date string
		status, payload      string
		eventID, resolvedAt  sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&id, &kind, &user, &date, &status, &payload, &eventID,
		&req.ResolvedBy, &resolvedAt, &req.RejectionReason, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	d, err := attendance.ParseDate(date)
	if err != nil {
		return nil, err
	}
	req.ID = attendance.RequestID(id)
	req.Kind = attendance.RequestKind(kind)
	req.UserID = attendance.UserID(user)
	req.Date = d
	req.Status = attendance.RequestStatus(status)
	if req.Payload, err = attendance.DecodePayload([]byte(payload)); err != nil {
		return nil, err
	}
	if eventID.Valid {
		eid := attendance.EventID(eventID.String)
		req.EventID = &eid
	}
	if req.ResolvedAt, err = decTimePtr(resolvedAt); err != nil {
		return nil, err
	}
	if req.CreatedAt, err = decTime(createdAt); err != nil {
		return nil, err
	}
	if req.UpdatedAt, err = decTime(updatedAt); err != nil {
		return nil, err
	}
	return &req, nil
}

func (r runner) ResolveCAS(ctx context.Context, id attendance.RequestID, to attendance.RequestStatus, resolverID, reason string, payload *attendance.RequestPayload, at time.Time) (*attendance.ExceptionRequest, error) {
	if !to.Terminal() {
		return nil, attendance.ErrConflict
	}

	var payloadArg any
	if payload != nil {
		enc, err := attendance.EncodePayload(*payload)
		if err != nil {
			return nil, err
		}
		payloadArg = string(enc)
	}

	// The transition succeeds only if the row is still pending.
	res, err := r.q.ExecContext(ctx, `
		UPDATE exception_requests
		SET status=?, resolved_by=?, resolved_at=?, rejection_reason=?,
		    payload=COALESCE(?, payload), updated_at=?
		WHERE id=? AND status=?`,
		string(to), resolverID, encTime(at), reason, payloadArg, encTime(at),
		string(id), string(attendance.StatusPending),
	)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// Distinguish "gone" from "lost the race".
		if _, err := r.GetRequest(ctx, id); err != nil {
			return nil, err
		}
		return nil, attendance.ErrAlreadyResolved
	}
	return r.GetRequest(ctx, id)
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func (r runner) AppendAudit(ctx context.Context, entry attendance.AuditEntry) error {
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return err
	}
	_, err = r.q.ExecContext(ctx, `
		INSERT INTO audit_log (id, at, actor_id, action, user_id, date, details)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, encTime(entry.At), entry.ActorID, string(entry.Action),
		string(entry.UserID), entry.Date.String(), string(details),
	)
	return err
}

func (r runner) ListAudit(ctx context.Context, user attendance.UserID, date attendance.Date) ([]attendance.AuditEntry, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, at, actor_id, action, user_id, date, details
		FROM audit_log WHERE user_id=? AND date=? ORDER BY at, id`,
		string(user), date.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []attendance.AuditEntry
	for rows.Next() {
		var (
			e           attendance.AuditEntry
			at, d       string
			action, usr string
			details     string
		)
		if err := rows.Scan(&e.ID, &at, &e.ActorID, &action, &usr, &d, &details); err != nil {
			return nil, err
		}
		if e.At, err = decTime(at); err != nil {
			return nil, err
		}
		if e.Date, err = attendance.ParseDate(d); err != nil {
			return nil, err
		}
		e.Action = attendance.AuditAction(action)
		e.UserID = attendance.UserID(usr)
		if err := json.Unmarshal([]byte(details), &e.Details); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// PAYROLL QUEUE
// =============================================================================

const queueColumns = `id, user_id, date, status, attempts, next_attempt_at, last_error, submitted_at, created_at`

func (s *Store) EnqueueDay(ctx context.Context, user attendance.UserID, date attendance.Date, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A submitted day re-queues (a late resolution changed its values),
	// a queued day is untouched, a permanently failed day stays failed.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payroll_queue (id, user_id, date, status, attempts, next_attempt_at, created_at)
		VALUES (?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT (user_id, date) DO UPDATE SET
			status=?, attempts=0, next_attempt_at=excluded.next_attempt_at, last_error=''
		WHERE payroll_queue.status=?`,
		uuid.NewString(), string(user), date.String(), string(payroll.RecordQueued),
		encTime(at), encTime(at),
		string(payroll.RecordQueued), string(payroll.RecordSubmitted),
	)
	return err
}

func (s *Store) ListDue(ctx context.Context, now time.Time) ([]payroll.QueueRecord, error) {
	return s.queryQueue(ctx,
		`SELECT `+queueColumns+` FROM payroll_queue WHERE status=? AND next_attempt_at<=? ORDER BY next_attempt_at`,
		string(payroll.RecordQueued), encTime(now))
}

func (s *Store) ListRecords(ctx context.Context) ([]payroll.QueueRecord, error) {
	return s.queryQueue(ctx,
		`SELECT `+queueColumns+` FROM payroll_queue ORDER BY created_at DESC, id`)
}

func (s *Store) queryQueue(ctx context.Context, query string, args ...any) ([]payroll.QueueRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []payroll.QueueRecord
	for rows.Next() {
		var (
			rec             payroll.QueueRecord
			user, date      string
			status          string
			nextAt, created string
			submitted       sql.NullString
		)
		if err := rows.Scan(&rec.ID, &user, &date, &status, &rec.Attempts,
			&nextAt, &rec.LastError, &submitted, &created); err != nil {
			return nil, err
		}
		rec.UserID = attendance.UserID(user)
		if rec.Date, err = attendance.ParseDate(date); err != nil {
			return nil, err
		}
		rec.Status = payroll.RecordStatus(status)
		if rec.NextAttemptAt, err = decTime(nextAt); err != nil {
			return nil, err
		}
		if rec.SubmittedAt, err = decTimePtr(submitted); err != nil {
			return nil, err
		}
		if rec.CreatedAt, err = decTime(created); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) MarkSubmitted(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `
		UPDATE payroll_queue SET status=?, submitted_at=? WHERE id=?`,
		string(payroll.RecordSubmitted), encTime(at), id)
	if err != nil {
		return err
	}
	return mustAffect(res, sql.ErrNoRows)
}

func (s *Store) MarkAttempt(ctx context.Context, id string, attempts int, nextAt time.Time, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `
		UPDATE payroll_queue SET attempts=?, next_attempt_at=?, last_error=? WHERE id=?`,
		attempts, encTime(nextAt), lastError, id)
	if err != nil {
		return err
	}
	return mustAffect(res, sql.ErrNoRows)
}

func (s *Store) MarkFailed(ctx context.Context, id string, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `
		UPDATE payroll_queue SET status=?, last_error=? WHERE id=?`,
		string(payroll.RecordFailed), lastError, id)
	if err != nil {
		return err
	}
	return mustAffect(res, sql.ErrNoRows)
}
