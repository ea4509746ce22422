package attendance

import "time"

// =============================================================================
// CLOCK - Injected time source
// =============================================================================

// Clock supplies the current time to everything that needs one. Components
// never read time.Now directly and there is no process-wide simulated time:
// tests inject a FixedClock instead.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock always returns the same instant. For tests.
type FixedClock struct {
	At time.Time
}

func (c FixedClock) Now() time.Time { return c.At }
