// Package system provides the wall clock used outside of tests.
package system

import (
	"time"

	"github.com/JakeFAU/postrelay/internal/relay"
)

var _ relay.Clock = Clock{}

// Clock reports UTC wall time. Cursor timestamps and run records are always UTC.
type Clock struct{}

// New creates a Clock.
func New() Clock {
	return Clock{}
}

// Now returns the current UTC time truncated to microseconds, the precision
// Postgres and SQLite keep for timestamps.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
