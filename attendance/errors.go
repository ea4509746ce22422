/*
errors.go - Centralized error types for the attendance engine

PURPOSE:
  One place for every error the core can produce, so callers branch with
  errors.Is/errors.As instead of string matching.

TAXONOMY:
  Validation    malformed punch, unknown rule reference; rejected at intake,
                never persisted
  Conflict      duplicate punch for a kind/day, lost resolution race; not
                retried automatically
  RuleResolution no applicable rule; punch held unprocessed pending a
                configuration fix
  RecomputeInconsistency stored adjusted value diverges from a fresh
                computation during audit; reported, corrected explicitly
  Gateway       payroll submission failure; retried up to the bound, then
                escalated to permanent failure
*/
package attendance

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation marks malformed input rejected at intake.
	ErrValidation = errors.New("validation failed")

	// ErrDuplicatePunch is returned when a confirmed punch already exists
	// for the same (user, date, kind).
	ErrDuplicatePunch = errors.New("duplicate punch for kind and day")

	// ErrConflict marks an operation lost to a concurrent one.
	ErrConflict = errors.New("conflict")

	// ErrAlreadyResolved is returned when resolving a request that left
	// pending status in the meantime (compare-and-set lost the race).
	ErrAlreadyResolved = errors.New("request already resolved")

	// ErrPendingExists is returned by the request store when a pending
	// request of the same (user, date, kind) already exists.
	ErrPendingExists = errors.New("pending request already exists")

	// ErrRuleResolution marks a punch that cannot be processed because no
	// applicable rule row exists.
	ErrRuleResolution = errors.New("rule resolution failed")

	// ErrShiftMissing is returned when no ShiftFact exists for a user/day.
	ErrShiftMissing = errors.New("no shift fact for user and date")

	// ErrRequestNotFound is returned for unknown request ids.
	ErrRequestNotFound = errors.New("request not found")

	// ErrEventNotFound is returned for unknown event ids.
	ErrEventNotFound = errors.New("event not found")

	// ErrPunchBlocked is returned at intake when the punch falls outside
	// its flexibility window and the overflow policy is block.
	ErrPunchBlocked = errors.New("punch outside flexibility window")

	// ErrGateway marks a payroll gateway failure, retryable unless
	// explicitly classified permanent.
	ErrGateway = errors.New("payroll gateway failure")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError details a rejected intake input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// DuplicatePunchError details a day-uniqueness violation.
type DuplicatePunchError struct {
	UserID     UserID
	Date       Date
	Kind       PunchKind
	ExistingID EventID
}

func (e *DuplicatePunchError) Error() string {
	return fmt.Sprintf("punch %s already recorded for %s on %s (event: %s)",
		e.Kind, e.UserID, e.Date, e.ExistingID)
}

func (e *DuplicatePunchError) Unwrap() error { return ErrDuplicatePunch }

// RuleResolutionError holds the user/date a rule could not be resolved for.
type RuleResolutionError struct {
	User  UserID
	Date  Date
	Cause error
}

func (e *RuleResolutionError) Error() string {
	return fmt.Sprintf("cannot resolve rules for %s on %s: %v", e.User, e.Date, e.Cause)
}

func (e *RuleResolutionError) Unwrap() error { return ErrRuleResolution }

// RecomputeInconsistency reports a stored adjusted value that diverged from
// a fresh computation. Never auto-corrected silently: the backfill path
// applies and logs the correction explicitly.
type RecomputeInconsistency struct {
	UserID UserID
	Date   Date
	Kind   PunchKind
	Stored time.Time
	Fresh  time.Time
}

func (e *RecomputeInconsistency) Error() string {
	return fmt.Sprintf("adjusted %s for %s on %s diverges: stored %s, computed %s",
		e.Kind, e.UserID, e.Date,
		e.Stored.Format("15:04"), e.Fresh.Format("15:04"))
}

// GatewayError wraps a payroll submission failure. Permanent failures skip
// retry and escalate immediately.
type GatewayError struct {
	Permanent bool
	Cause     error
}

func (e *GatewayError) Error() string {
	kind := "retryable"
	if e.Permanent {
		kind = "permanent"
	}
	return fmt.Sprintf("payroll gateway (%s): %v", kind, e.Cause)
}

func (e *GatewayError) Unwrap() error { return ErrGateway }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable reports whether the operation might succeed on retry.
func IsRetryable(err error) bool {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return !ge.Permanent
	}
	return errors.Is(err, ErrGateway)
}

// IsClientError reports whether the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrDuplicatePunch) ||
		errors.Is(err, ErrPunchBlocked) ||
		errors.Is(err, ErrPendingExists)
}

// IsConflict reports a concurrency or uniqueness conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrAlreadyResolved) ||
		errors.Is(err, ErrDuplicatePunch)
}

// IsNotFound reports a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRequestNotFound) ||
		errors.Is(err, ErrEventNotFound) ||
		errors.Is(err, ErrShiftMissing)
}
