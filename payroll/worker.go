/*
worker.go - Periodic payroll sync worker

PURPOSE:
  Sweeps the retry queue on a fixed interval and pushes finalized days to
  the payroll gateway. Gating: a day with any pending exception request is
  held untouched (its adjusted values may still change); it becomes eligible
  again once the request resolves and the sweep next runs.

DESIGN:
  - Background goroutine, ticker + stop channel (Start/Stop)
  - Reads committed data only; a mid-transaction punch is invisible
  - Per-call timeout on the gateway; timeout counts as a retryable failure
  - Bounded retries with persisted attempt counts; the retry loop for a
    record stops permanently at the ceiling (no other cancellation path)
*/
package payroll

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/warp/attendance-engine/attendance"
)

// =============================================================================
// WORKER
// =============================================================================

type Worker struct {
	Queue   QueueStore
	Store   attendance.Store
	Gateway Gateway
	Clock   attendance.Clock

	Interval    time.Duration // sweep cadence
	Timeout     time.Duration // per-gateway-call budget
	Backoff     time.Duration // delay before the next attempt
	MaxAttempts int

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewWorker(queue QueueStore, store attendance.Store, gateway Gateway, clock attendance.Clock) *Worker {
	return &Worker{
		Queue:       queue,
		Store:       store,
		Gateway:     gateway,
		Clock:       clock,
		Interval:    1 * time.Minute,
		Timeout:     10 * time.Second,
		Backoff:     5 * time.Minute,
		MaxAttempts: 5,
	}
}

// Start begins the background sweep loop.
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.ticker = time.NewTicker(w.Interval)
	w.stop = make(chan struct{})
	w.wg.Add(1)
	go w.run()

	log.Printf("[PayrollSync] Started with interval %v, max attempts %d", w.Interval, w.MaxAttempts)
}

// Stop stops the loop and waits for an in-flight sweep to finish.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.ticker != nil {
		w.ticker.Stop()
		close(w.stop)
		w.wg.Wait()
		w.ticker = nil
		log.Println("[PayrollSync] Stopped")
	}
}

func (w *Worker) run() {
	defer w.wg.Done()

	// Sweep immediately on start, then on every tick.
	w.Sweep(context.Background())

	for {
		select {
		case <-w.ticker.C:
			w.Sweep(context.Background())
		case <-w.stop:
			return
		}
	}
}

// Sweep processes every due queue record once. Exported so tests and the
// admin boundary can drive it without the ticker.
func (w *Worker) Sweep(ctx context.Context) {
	now := w.Clock.Now()
	due, err := w.Queue.ListDue(ctx, now)
	if err != nil {
		log.Printf("[PayrollSync] Error listing due records: %v", err)
		return
	}

	for _, rec := range due {
		if err := w.processRecord(ctx, rec); err != nil {
			log.Printf("[PayrollSync] Record %s (%s/%s): %v", rec.ID, rec.UserID, rec.Date, err)
		}
	}
}

// processRecord submits one day, or reschedules it.
func (w *Worker) processRecord(ctx context.Context, rec QueueRecord) error {
	now := w.Clock.Now()

	// Hold while any anomaly for the day is still pending: its resolution
	// will change the adjusted values we are about to submit.
	pending := attendance.StatusPending
	open, err := w.Store.ListRequests(ctx, rec.UserID, rec.Date, &pending)
	if err != nil {
		return err
	}
	if len(open) > 0 {
		return nil // held; the next sweep after resolution picks it up
	}

	subs, err := w.buildSubmissions(ctx, rec)
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		return nil // incomplete day; nothing to submit yet
	}

	for _, sub := range subs {
		if err := w.submitOne(ctx, sub); err != nil {
			return w.recordFailure(ctx, rec, now, err)
		}
	}

	if err := w.Queue.MarkSubmitted(ctx, rec.ID, now); err != nil {
		return err
	}
	return w.Store.AppendAudit(ctx, attendance.AuditEntry{
		ID: uuid.NewString(), At: now, ActorID: "payroll-sync",
		Action: attendance.AuditPayrollSubmitted,
		UserID: rec.UserID, Date: rec.Date,
		Details: map[string]any{"punches": len(subs), "attempts": rec.Attempts + 1},
	})
}

// buildSubmissions turns the day's confirmed punches into gateway records.
func (w *Worker) buildSubmissions(ctx context.Context, rec QueueRecord) ([]Submission, error) {
	events, err := w.Store.ListDayEvents(ctx, rec.UserID, rec.Date)
	if err != nil {
		return nil, err
	}

	day := attendance.CollectDay(events)
	if _, ok := day[attendance.PunchDayEnd]; !ok {
		return nil, nil
	}

	shift, err := w.Store.GetShift(ctx, rec.UserID, rec.Date)
	if err != nil {
		return nil, err
	}
	resolver := attendance.NewRuleResolver(w.Store)
	rules, err := resolver.Resolve(ctx, rec.UserID, rec.Date)
	if err != nil {
		return nil, err
	}
	requests, err := w.Store.ListRequests(ctx, rec.UserID, rec.Date, nil)
	if err != nil {
		return nil, err
	}
	view := attendance.BuildDayView(rec.UserID, rec.Date, events, *shift, rules, requests)

	var subs []Submission
	for _, kind := range []attendance.PunchKind{
		attendance.PunchDayStart, attendance.PunchBreakStart,
		attendance.PunchBreakEnd, attendance.PunchDayEnd,
	} {
		e, ok := day[kind]
		if !ok || e.Status != attendance.EventConfirmed {
			continue
		}
		sub := Submission{
			IdempotencyKey: IdempotencyKey(rec.UserID, rec.Date, kind),
			UserID:         rec.UserID,
			Date:           rec.Date,
			Kind:           kind,
			AdjustedAt:     e.Adjusted(),
		}
		if kind == attendance.PunchDayEnd {
			sub.WorkedHours = view.WorkedHours
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// submitOne calls the gateway under the configured timeout. A deadline hit
// is a retryable gateway failure, not a distinct error class.
func (w *Worker) submitOne(ctx context.Context, sub Submission) error {
	callCtx, cancel := context.WithTimeout(ctx, w.Timeout)
	defer cancel()

	err := w.Gateway.Submit(callCtx, sub)
	if errors.Is(err, context.DeadlineExceeded) {
		return &attendance.GatewayError{Permanent: false, Cause: err}
	}
	return err
}

// recordFailure increments the attempt counter and either reschedules or
// escalates to permanent failure.
func (w *Worker) recordFailure(ctx context.Context, rec QueueRecord, now time.Time, cause error) error {
	attempts := rec.Attempts + 1

	permanent := false
	var ge *attendance.GatewayError
	if errors.As(cause, &ge) && ge.Permanent {
		permanent = true
	}

	if permanent || attempts >= w.MaxAttempts {
		if err := w.Queue.MarkFailed(ctx, rec.ID, cause.Error()); err != nil {
			return err
		}
		log.Printf("[PayrollSync] Record %s permanently failed after %d attempts: %v", rec.ID, attempts, cause)
		return w.Store.AppendAudit(ctx, attendance.AuditEntry{
			ID: uuid.NewString(), At: now, ActorID: "payroll-sync",
			Action: attendance.AuditPayrollFailed,
			UserID: rec.UserID, Date: rec.Date,
			Details: map[string]any{"attempts": attempts, "error": cause.Error()},
		})
	}
	return w.Queue.MarkAttempt(ctx, rec.ID, attempts, now.Add(w.Backoff), cause.Error())
}
