/*
seed.go - Demo data loader

PURPOSE:
  Seeds a fresh database with a small, self-consistent demo world so the API
  can be explored without a planning feed or HR configuration:

  - Rule rows: a global default, a daily-aggregate "warehouse" group and a
    zero-flexibility "production" group (factory presets)
  - Three users mapped to those groups
  - Shift facts for today and yesterday (09:00-18:00 with a 13:00-13:30
    break)
  - One punched-out day for alice, driven through the real intake path so
    normalization, detection and payroll enqueueing all run

  Intended for local development (-seed flag); never runs in production.
*/
package api

import (
	"context"
	"fmt"
	"log"

	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/factory"
	"github.com/warp/attendance-engine/workflow"
)

var seedUsers = map[attendance.UserID]attendance.GroupID{
	"alice": "warehouse",
	"bob":   "warehouse",
	"carol": "production",
}

// Seed loads the demo world. Idempotent enough for repeated runs: shifts and
// rules upsert, duplicate punches surface as conflicts and are skipped.
func Seed(ctx context.Context, h *Handler, clock attendance.Clock) error {
	today := attendance.DateOf(clock.Now())
	yesterday := today.AddDays(-1)

	for _, doc := range []string{
		factory.DailyWarehouseJSON("warehouse"),
		factory.ProductionLineJSON("production"),
	} {
		rule, err := factory.ParseRule([]byte(doc))
		if err != nil {
			return fmt.Errorf("seed rule: %w", err)
		}
		if err := h.Store.PutGroupRule(ctx, rule); err != nil {
			return fmt.Errorf("seed rule %s: %w", rule.GroupID, err)
		}
	}

	for user, group := range seedUsers {
		if err := h.Store.SetUserGroup(ctx, user, group); err != nil {
			return fmt.Errorf("seed group for %s: %w", user, err)
		}
		for _, date := range []attendance.Date{yesterday, today} {
			breakStart := date.At(13, 0)
			breakEnd := date.At(13, 30)
			shift := attendance.ShiftFact{
				UserID:       user,
				Date:         date,
				PlannedStart: date.At(9, 0),
				PlannedEnd:   date.At(18, 0),
				BreakStart:   &breakStart,
				BreakEnd:     &breakEnd,
			}
			if err := h.Store.PutShift(ctx, shift); err != nil {
				return fmt.Errorf("seed shift %s/%s: %w", user, date, err)
			}
		}
	}

	// One fully punched day for alice through the real intake path. An early
	// entry and a late exit make the daily aggregate produce overtime, so the
	// demo starts with a pending extra-turn request and a held payroll day.
	punches := []workflow.PunchInput{
		{UserID: "alice", Date: yesterday, Kind: attendance.PunchDayStart, RawAt: yesterday.At(8, 55), Method: attendance.CaptureBadge},
		{UserID: "alice", Date: yesterday, Kind: attendance.PunchBreakStart, RawAt: yesterday.At(13, 0), Method: attendance.CaptureBadge},
		{UserID: "alice", Date: yesterday, Kind: attendance.PunchBreakEnd, RawAt: yesterday.At(13, 30), Method: attendance.CaptureBadge},
		{UserID: "alice", Date: yesterday, Kind: attendance.PunchDayEnd, RawAt: yesterday.At(19, 5), Method: attendance.CaptureBadge},
	}
	for _, p := range punches {
		if _, err := h.Intake.RecordPunch(ctx, p); err != nil {
			if attendance.IsConflict(err) {
				continue // already seeded on a previous run
			}
			return fmt.Errorf("seed punch %s/%s: %w", p.UserID, p.Kind, err)
		}
	}

	log.Printf("[Seed] Loaded demo data for %d users (%s, %s)", len(seedUsers), yesterday, today)
	return nil
}
