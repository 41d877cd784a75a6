package domain

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// clock stamps run reports, NetCDF creation attributes and alert tasks.
// Tests freeze it with SetClock so generated artifacts are reproducible.
var clock = clockwork.NewRealClock()

// SetClock swaps the package time source. Pass nil to restore real time.
func SetClock(c clockwork.Clock) {
	if c == nil {
		clock = clockwork.NewRealClock()
		return
	}
	clock = c
}

// Now returns the package clock's current time in UTC.
func Now() time.Time {
	return clock.Now().UTC()
}
