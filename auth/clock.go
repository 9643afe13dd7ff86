package auth

import "time"

// Clock abstracts time for the subsystem. Every component that reads the
// wall clock takes one so tests can drive expiry and lockout boundaries
// deterministically.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock { return systemClock{} }
