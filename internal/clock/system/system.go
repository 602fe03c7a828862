// Package system provides the wall clock used to stamp reconciled progress.
package system

import (
	"time"

	"github.com/JakeFAU/ingest-progress/internal/progress"
)

var _ progress.Clock = Clock{}

// Clock reports UTC time truncated to a fixed precision so timestamps survive
// a round trip through Postgres (microseconds) unchanged.
type Clock struct {
	precision time.Duration
}

// New creates a Clock with microsecond precision.
func New() Clock {
	return Clock{precision: time.Microsecond}
}

// WithPrecision returns a copy truncating to d. Values <= 0 disable truncation.
func (c Clock) WithPrecision(d time.Duration) Clock {
	c.precision = d
	return c
}

// Now returns the current time.
func (c Clock) Now() time.Time {
	now := time.Now().UTC()
	if c.precision > 0 {
		now = now.Truncate(c.precision)
	}
	return now
}
