package core

import "time"

// Clock provides the current time for deadline checks.
// This interface enables dependency injection for deterministic testing.
type Clock interface {
	Now() time.Time
}

// systemClock wraps time.Now for production use.
type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// DefaultClock is the wall clock used when no clock is injected.
var DefaultClock Clock = systemClock{}
