/*
Package factory provides JSON to Go rule conversion.

PURPOSE:
  Converts JSON rule documents into attendance.GroupRule rows. Rule rows are
  configured by HR, stored as JSON, and resolved field-by-field at runtime -
  an absent field means "fall through to the global row, then to the hard
  default", so the JSON only ever states overrides.

JSON SCHEMA:
  {
    "group": "warehouse",
    "production": false,
    "rounding_mode": "daily",
    "entry_flex_minutes": 30,
    "exit_flex_minutes": 30,
    "block_minutes": 30,
    "round_type": "floor",
    "overflow": "allow",
    "late_threshold_minutes": 15,
    "max_anticipation_minutes": 60,
    "standard_break_rules": true
  }

SEE ALSO:
  - attendance/rules.go: GroupRule and the resolution order
  - store/sqlite:        persists the parsed rows
*/
package factory

import (
	"encoding/json"
	"fmt"

	"github.com/warp/attendance-engine/attendance"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// RuleJSON is the wire form of a rule row. Pointer fields distinguish
// "unset, fall through" from an explicit zero.
type RuleJSON struct {
	Group                  string `json:"group"`
	Production             bool   `json:"production,omitempty"`
	RoundingMode           string `json:"rounding_mode,omitempty"`
	EntryFlexMinutes       *int   `json:"entry_flex_minutes,omitempty"`
	ExitFlexMinutes        *int   `json:"exit_flex_minutes,omitempty"`
	BlockMinutes           *int   `json:"block_minutes,omitempty"`
	RoundType              string `json:"round_type,omitempty"`
	Overflow               string `json:"overflow,omitempty"`
	LateThresholdMinutes   *int   `json:"late_threshold_minutes,omitempty"`
	MaxAnticipationMinutes *int   `json:"max_anticipation_minutes,omitempty"`
	StandardBreakRules     *bool  `json:"standard_break_rules,omitempty"`
}

// =============================================================================
// PARSING
// =============================================================================

// ParseRule converts a JSON rule document into a GroupRule row.
func ParseRule(raw []byte) (attendance.GroupRule, error) {
	var doc RuleJSON
	if err := json.Unmarshal(raw, &doc); err != nil {
		return attendance.GroupRule{}, fmt.Errorf("invalid rule document: %w", err)
	}
	return RuleFromJSON(doc)
}

// RuleFromJSON validates and maps a decoded document.
func RuleFromJSON(doc RuleJSON) (attendance.GroupRule, error) {
	if doc.Group == "" {
		return attendance.GroupRule{}, fmt.Errorf("rule document missing group")
	}

	rule := attendance.GroupRule{
		GroupID:                attendance.GroupID(doc.Group),
		Production:             doc.Production,
		EntryFlexMinutes:       doc.EntryFlexMinutes,
		ExitFlexMinutes:        doc.ExitFlexMinutes,
		BlockMinutes:           doc.BlockMinutes,
		LateThresholdMinutes:   doc.LateThresholdMinutes,
		MaxAnticipationMinutes: doc.MaxAnticipationMinutes,
		StandardBreakRules:     doc.StandardBreakRules,
	}

	if doc.RoundingMode != "" {
		mode := attendance.RoundingMode(doc.RoundingMode)
		if mode != attendance.RoundingSingle && mode != attendance.RoundingDaily {
			return attendance.GroupRule{}, fmt.Errorf("unknown rounding_mode %q", doc.RoundingMode)
		}
		rule.Mode = &mode
	}
	if doc.RoundType != "" {
		rt := attendance.RoundType(doc.RoundType)
		switch rt {
		case attendance.RoundFloor, attendance.RoundCeil, attendance.RoundNearest:
			rule.RoundType = &rt
		default:
			return attendance.GroupRule{}, fmt.Errorf("unknown round_type %q", doc.RoundType)
		}
	}
	if doc.Overflow != "" {
		ov := attendance.OverflowPolicy(doc.Overflow)
		switch ov {
		case attendance.OverflowAllow, attendance.OverflowWarn, attendance.OverflowBlock:
			rule.Overflow = &ov
		default:
			return attendance.GroupRule{}, fmt.Errorf("unknown overflow policy %q", doc.Overflow)
		}
	}

	for name, v := range map[string]*int{
		"entry_flex_minutes":     doc.EntryFlexMinutes,
		"exit_flex_minutes":      doc.ExitFlexMinutes,
		"late_threshold_minutes": doc.LateThresholdMinutes,
	} {
		if v != nil && *v < 0 {
			return attendance.GroupRule{}, fmt.Errorf("%s cannot be negative", name)
		}
	}
	if doc.BlockMinutes != nil && *doc.BlockMinutes <= 0 {
		return attendance.GroupRule{}, fmt.Errorf("block_minutes must be positive")
	}

	return rule, nil
}

// RuleToJSON serializes a rule row back to its wire form.
func RuleToJSON(r attendance.GroupRule) ([]byte, error) {
	doc := RuleJSON{
		Group:                  string(r.GroupID),
		Production:             r.Production,
		EntryFlexMinutes:       r.EntryFlexMinutes,
		ExitFlexMinutes:        r.ExitFlexMinutes,
		BlockMinutes:           r.BlockMinutes,
		LateThresholdMinutes:   r.LateThresholdMinutes,
		MaxAnticipationMinutes: r.MaxAnticipationMinutes,
		StandardBreakRules:     r.StandardBreakRules,
	}
	if r.Mode != nil {
		doc.RoundingMode = string(*r.Mode)
	}
	if r.RoundType != nil {
		doc.RoundType = string(*r.RoundType)
	}
	if r.Overflow != nil {
		doc.Overflow = string(*r.Overflow)
	}
	return json.Marshal(doc)
}

// =============================================================================
// PRESETS
// =============================================================================

// DailyWarehouseJSON is a typical daily-aggregate configuration: 30-minute
// overtime blocks, floor rounding, standard flexibility.
func DailyWarehouseJSON(group string) string {
	return fmt.Sprintf(`{
		"group": %q,
		"rounding_mode": "daily",
		"block_minutes": 30,
		"round_type": "floor",
		"entry_flex_minutes": 30,
		"exit_flex_minutes": 30,
		"late_threshold_minutes": 15,
		"overflow": "allow"
	}`, group)
}

// ProductionLineJSON configures a production group: zero flexibility is
// forced at resolution time regardless of these values.
func ProductionLineJSON(group string) string {
	return fmt.Sprintf(`{
		"group": %q,
		"production": true,
		"rounding_mode": "single",
		"block_minutes": 15,
		"round_type": "nearest",
		"late_threshold_minutes": 10
	}`, group)
}
