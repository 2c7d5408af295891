// Package system provides the wall-clock implementation of analysis.Clock.
package system

import "time"

// Clock reports real time.
type Clock struct{}

// New constructs a Clock.
func New() Clock { return Clock{} }

// Now returns the current UTC time.
func (Clock) Now() time.Time { return time.Now().UTC() }
