/*
recompute.go - Re-deriving adjusted timestamps

PURPOSE:
  Recompute re-reads everything a day depends on (events, shift, rules,
  approved requests), reruns the normalizer with resolution effects baked
  into the inputs, and overwrites the stored adjusted timestamps. It runs
  after every request resolution and is safe to run any number of additional
  times: normalization is pure, so a second pass writes nothing.

BACKFILL:
  The same machinery repairs records computed under a previous, buggy
  formula version. Audit() compares stored values against a fresh
  computation and reports divergences without touching anything; Backfill()
  applies the corrections explicitly, logging each one. Divergences are
  never corrected silently.
*/
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/warp/attendance-engine/attendance"
)

// RecomputeEngine re-derives adjusted times for user/days.
type RecomputeEngine struct {
	Store attendance.TxStore
	Clock attendance.Clock
}

func NewRecomputeEngine(store attendance.TxStore, clock attendance.Clock) *RecomputeEngine {
	return &RecomputeEngine{Store: store, Clock: clock}
}

// Recompute re-derives and persists adjusted timestamps for one user/day.
// Idempotent: repeated calls with unchanged inputs write nothing.
func (re *RecomputeEngine) Recompute(ctx context.Context, user attendance.UserID, date attendance.Date) error {
	return re.Store.WithTx(ctx, func(s attendance.Store) error {
		changed, err := recomputeDay(ctx, s, user, date)
		if err != nil {
			return err
		}
		if changed == 0 {
			return nil
		}
		return s.AppendAudit(ctx, attendance.AuditEntry{
			ID:      auditID(),
			At:      re.Clock.Now(),
			ActorID: "system",
			Action:  attendance.AuditRecompute,
			UserID:  user,
			Date:    date,
			Details: map[string]any{"events_changed": changed},
		})
	})
}

// recomputeDay reruns normalization inside an open transaction and writes
// back any adjusted timestamp that moved. Returns how many events changed.
// Shared by intake, review and backfill so every path derives values the
// same way.
func recomputeDay(ctx context.Context, s attendance.Store, user attendance.UserID, date attendance.Date) (int, error) {
	events, err := s.ListDayEvents(ctx, user, date)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	fresh, err := freshAdjusted(ctx, s, user, date, events)
	if err != nil {
		return 0, err
	}

	changed := 0
	for _, e := range events {
		target, ok := fresh.Of(e.Kind)
		if !ok {
			target = attendance.TruncateMinute(e.RawAt)
		}
		if e.AdjustedAt != nil && e.AdjustedAt.Equal(target) {
			continue
		}
		if err := s.SetAdjusted(ctx, e.ID, target); err != nil {
			return changed, err
		}
		changed++
	}
	return changed, nil
}

// freshAdjusted computes adjusted times for a day from current inputs.
func freshAdjusted(ctx context.Context, s attendance.Store, user attendance.UserID, date attendance.Date, events []attendance.ClockEvent) (attendance.AdjustedTimes, error) {
	shift, err := s.GetShift(ctx, user, date)
	if err != nil {
		return attendance.AdjustedTimes{}, err
	}
	resolver := attendance.NewRuleResolver(s)
	rules, err := resolver.Resolve(ctx, user, date)
	if err != nil {
		return attendance.AdjustedTimes{}, err
	}
	requests, err := s.ListRequests(ctx, user, date, nil)
	if err != nil {
		return attendance.AdjustedTimes{}, err
	}
	return attendance.Normalize(attendance.NormalizeInput{
		Events:               attendance.CollectDay(events),
		Shift:                *shift,
		Rules:                rules,
		ApprovedBreakMinutes: attendance.ApprovedBreakMinutes(requests),
	}), nil
}

// =============================================================================
// AUDIT / BACKFILL
// =============================================================================

// Audit compares stored adjusted values against a fresh computation without
// writing anything.
func (re *RecomputeEngine) Audit(ctx context.Context, user attendance.UserID, date attendance.Date) ([]attendance.RecomputeInconsistency, error) {
	var found []attendance.RecomputeInconsistency
	err := re.Store.WithTx(ctx, func(s attendance.Store) error {
		events, err := s.ListDayEvents(ctx, user, date)
		if err != nil || len(events) == 0 {
			return err
		}
		fresh, err := freshAdjusted(ctx, s, user, date, events)
		if err != nil {
			return err
		}
		for _, e := range events {
			target, ok := fresh.Of(e.Kind)
			if !ok {
				target = attendance.TruncateMinute(e.RawAt)
			}
			if e.AdjustedAt != nil && !e.AdjustedAt.Equal(target) {
				found = append(found, attendance.RecomputeInconsistency{
					UserID: user, Date: date, Kind: e.Kind,
					Stored: *e.AdjustedAt, Fresh: target,
				})
			}
		}
		return nil
	})
	return found, err
}

// BackfillReport summarizes a backfill run.
type BackfillReport struct {
	DaysChecked int
	DaysSkipped int // days with punches but no shift fact
	Corrections []attendance.RecomputeInconsistency
}

// Backfill audits and repairs every day in [from, to]. Each correction is
// logged before it is applied; nothing is corrected silently.
func (re *RecomputeEngine) Backfill(ctx context.Context, user attendance.UserID, from, to attendance.Date) (*BackfillReport, error) {
	report := &BackfillReport{}
	for _, date := range attendance.DatesBetween(from, to) {
		diverged, err := re.Audit(ctx, user, date)
		if errors.Is(err, attendance.ErrShiftMissing) {
			report.DaysSkipped++
			continue
		}
		if err != nil {
			return report, fmt.Errorf("backfill audit %s/%s: %w", user, date, err)
		}
		report.DaysChecked++
		if len(diverged) == 0 {
			continue
		}
		for _, d := range diverged {
			log.Printf("[Recompute] correcting %v", &d)
		}
		err = re.Store.WithTx(ctx, func(s attendance.Store) error {
			if _, err := recomputeDay(ctx, s, user, date); err != nil {
				return err
			}
			return s.AppendAudit(ctx, attendance.AuditEntry{
				ID:      auditID(),
				At:      re.Clock.Now(),
				ActorID: "backfill",
				Action:  attendance.AuditBackfillCorrect,
				UserID:  user,
				Date:    date,
				Details: map[string]any{"corrections": len(diverged)},
			})
		})
		if err != nil {
			return report, fmt.Errorf("backfill apply %s/%s: %w", user, date, err)
		}
		report.Corrections = append(report.Corrections, diverged...)
	}
	return report, nil
}

// =============================================================================
// DAY VIEW
// =============================================================================

// DayView derives the attendance summary for a user/day.
func DayView(ctx context.Context, s attendance.Store, user attendance.UserID, date attendance.Date) (*attendance.DayAttendanceView, error) {
	events, err := s.ListDayEvents(ctx, user, date)
	if err != nil {
		return nil, err
	}
	shift, err := s.GetShift(ctx, user, date)
	if err != nil {
		return nil, err
	}
	resolver := attendance.NewRuleResolver(s)
	rules, err := resolver.Resolve(ctx, user, date)
	if err != nil {
		return nil, err
	}
	requests, err := s.ListRequests(ctx, user, date, nil)
	if err != nil {
		return nil, err
	}
	view := attendance.BuildDayView(user, date, events, *shift, rules, requests)
	return &view, nil
}
