// Package system provides the wall-clock implementation of recorder.Clock.
package system

import "time"

// Clock returns the real current time.
type Clock struct{}

// New returns a system clock.
func New() Clock {
	return Clock{}
}

// Now returns the current wall-clock time.
func (Clock) Now() time.Time {
	return time.Now()
}
