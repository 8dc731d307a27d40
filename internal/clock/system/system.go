// Package system provides the wall clock used outside tests.
package system

import "time"

// Clock implements leadgen.Clock. Times are UTC and truncated to
// microseconds, the precision Postgres timestamptz columns keep, so a value
// read back from the store equals the value written.
type Clock struct{}

// New returns a Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
