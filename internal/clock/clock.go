// Package clock provides an injectable time source so packages that need "now" can be tested
// deterministically.
package clock

import "time"

// Clock is the minimal time source used across domain packages.
type Clock interface {
	Now() time.Time
}

// System is the production Clock backed by time.Now.
type System struct{}

func (System) Now() time.Time { return time.Now() }
