/*
rules.go - Rounding/flexibility rule resolution

PURPOSE:
  Resolves the effective RuleSet for a user/day. Rule rows exist at two
  levels: per-group overrides and a single global row. Resolution is
  field-by-field: each unset field on the group row falls back to the global
  row, and each field unset there falls back to a hard default.

HARD DEFAULTS:
  rounding mode  single
  entry flex     30 min
  exit flex      30 min
  daily block    15 min
  round type     floor
  overflow       allow
  late threshold 15 min
  standard break rules enabled

PRODUCTION OVERRIDE:
  Groups flagged "production" get entry/exit flexibility forced to zero at
  resolution time, regardless of stored values. Applying the override here
  (not in each detector) means every downstream consumer sees the corrected
  value.

SEE ALSO:
  - factory/rules.go: JSON rule documents -> GroupRule
  - normalize.go, detect.go: consumers of the resolved RuleSet
*/
package attendance

import (
	"context"
	"fmt"
)

// =============================================================================
// RULE SET - Resolved, immutable for the day
// =============================================================================

// RoundingMode selects per-punch or daily-aggregate rounding.
type RoundingMode string

const (
	RoundingSingle RoundingMode = "single"
	RoundingDaily  RoundingMode = "daily"
)

// RoundType is the direction of block rounding.
type RoundType string

const (
	RoundFloor   RoundType = "floor"
	RoundCeil    RoundType = "ceil"
	RoundNearest RoundType = "nearest"
)

// OverflowPolicy controls what happens to a punch outside its flexibility
// window: allow creates an out-of-flex request, warn only surfaces a warning,
// block rejects the punch at intake.
type OverflowPolicy string

const (
	OverflowAllow OverflowPolicy = "allow"
	OverflowWarn  OverflowPolicy = "warn"
	OverflowBlock OverflowPolicy = "block"
)

// RuleSet is the fully resolved configuration for one user/day.
type RuleSet struct {
	Mode                   RoundingMode
	EntryFlexMinutes       int
	ExitFlexMinutes        int
	BlockMinutes           int
	RoundType              RoundType
	Overflow               OverflowPolicy
	LateThresholdMinutes   int // 0 disables late-arrival detection
	MaxAnticipationMinutes int
	StandardBreakRules     bool
}

// DefaultRuleSet returns the hard defaults applied when neither the group row
// nor the global row sets a field.
func DefaultRuleSet() RuleSet {
	return RuleSet{
		Mode:                   RoundingSingle,
		EntryFlexMinutes:       30,
		ExitFlexMinutes:        30,
		BlockMinutes:           15,
		RoundType:              RoundFloor,
		Overflow:               OverflowAllow,
		LateThresholdMinutes:   15,
		MaxAnticipationMinutes: 30,
		StandardBreakRules:     true,
	}
}

// =============================================================================
// GROUP RULE - Stored row with optional fields
// =============================================================================

// GroupRule is a stored rule row. Nil fields mean "unset, fall through".
// The global row uses GroupID == GlobalRuleGroup.
type GroupRule struct {
	GroupID                GroupID
	Production             bool
	Mode                   *RoundingMode
	EntryFlexMinutes       *int
	ExitFlexMinutes        *int
	BlockMinutes           *int
	RoundType              *RoundType
	Overflow               *OverflowPolicy
	LateThresholdMinutes   *int
	MaxAnticipationMinutes *int
	StandardBreakRules     *bool
}

// GlobalRuleGroup is the reserved group id of the global fallback row.
const GlobalRuleGroup GroupID = "global"

// overlay applies every set field of r onto base.
func (r *GroupRule) overlay(base RuleSet) RuleSet {
	if r == nil {
		return base
	}
	if r.Mode != nil {
		base.Mode = *r.Mode
	}
	if r.EntryFlexMinutes != nil {
		base.EntryFlexMinutes = *r.EntryFlexMinutes
	}
	if r.ExitFlexMinutes != nil {
		base.ExitFlexMinutes = *r.ExitFlexMinutes
	}
	if r.BlockMinutes != nil {
		base.BlockMinutes = *r.BlockMinutes
	}
	if r.RoundType != nil {
		base.RoundType = *r.RoundType
	}
	if r.Overflow != nil {
		base.Overflow = *r.Overflow
	}
	if r.LateThresholdMinutes != nil {
		base.LateThresholdMinutes = *r.LateThresholdMinutes
	}
	if r.MaxAnticipationMinutes != nil {
		base.MaxAnticipationMinutes = *r.MaxAnticipationMinutes
	}
	if r.StandardBreakRules != nil {
		base.StandardBreakRules = *r.StandardBreakRules
	}
	return base
}

// =============================================================================
// RULE RESOLVER
// =============================================================================

// RuleSource supplies stored rule rows and user->group membership.
type RuleSource interface {
	// GetGroupRule returns the rule row for a group, nil when absent.
	GetGroupRule(ctx context.Context, group GroupID) (*GroupRule, error)

	// GroupOf returns the group a user belongs to on a date.
	GroupOf(ctx context.Context, user UserID, date Date) (GroupID, error)
}

// RuleResolver resolves the effective RuleSet for a user/day and caches the
// result for the duration of processing that day.
type RuleResolver struct {
	Source RuleSource

	cache map[ruleCacheKey]RuleSet
}

type ruleCacheKey struct {
	user UserID
	date Date
}

func NewRuleResolver(source RuleSource) *RuleResolver {
	return &RuleResolver{Source: source, cache: make(map[ruleCacheKey]RuleSet)}
}

// Resolve returns the effective rule set for user/date.
// Fallback order per field: group row -> global row -> hard default.
func (rr *RuleResolver) Resolve(ctx context.Context, user UserID, date Date) (RuleSet, error) {
	key := ruleCacheKey{user: user, date: date}
	if rs, ok := rr.cache[key]; ok {
		return rs, nil
	}

	group, err := rr.Source.GroupOf(ctx, user, date)
	if err != nil {
		return RuleSet{}, &RuleResolutionError{User: user, Date: date, Cause: err}
	}

	global, err := rr.Source.GetGroupRule(ctx, GlobalRuleGroup)
	if err != nil {
		return RuleSet{}, &RuleResolutionError{User: user, Date: date, Cause: err}
	}
	groupRule, err := rr.Source.GetGroupRule(ctx, group)
	if err != nil {
		return RuleSet{}, &RuleResolutionError{User: user, Date: date, Cause: err}
	}

	rs := groupRule.overlay(global.overlay(DefaultRuleSet()))

	// Production staff have no flex window. Forced here so every consumer
	// sees the corrected value.
	if groupRule != nil && groupRule.Production {
		rs.EntryFlexMinutes = 0
		rs.ExitFlexMinutes = 0
	}

	if err := rs.Validate(); err != nil {
		return RuleSet{}, &RuleResolutionError{User: user, Date: date, Cause: err}
	}

	rr.cache[key] = rs
	return rs, nil
}

// Validate rejects rule sets that would make the arithmetic meaningless.
func (rs RuleSet) Validate() error {
	if rs.Mode != RoundingSingle && rs.Mode != RoundingDaily {
		return fmt.Errorf("unknown rounding mode %q", rs.Mode)
	}
	if rs.RoundType != RoundFloor && rs.RoundType != RoundCeil && rs.RoundType != RoundNearest {
		return fmt.Errorf("unknown round type %q", rs.RoundType)
	}
	if rs.Overflow != OverflowAllow && rs.Overflow != OverflowWarn && rs.Overflow != OverflowBlock {
		return fmt.Errorf("unknown overflow policy %q", rs.Overflow)
	}
	if rs.BlockMinutes <= 0 {
		return fmt.Errorf("block size must be positive, got %d", rs.BlockMinutes)
	}
	if rs.EntryFlexMinutes < 0 || rs.ExitFlexMinutes < 0 {
		return fmt.Errorf("flexibility minutes cannot be negative")
	}
	if rs.LateThresholdMinutes < 0 {
		return fmt.Errorf("late threshold cannot be negative")
	}
	return nil
}
