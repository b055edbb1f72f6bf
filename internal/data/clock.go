package data

import "time"

// Clock abstracts the source of time so repositories and services can be
// tested against a pinned instant. Production code wires SystemClock.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the system clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock always reports the instant it holds. Tests use it to make run
// bookkeeping and schedule math deterministic.
type FixedClock struct {
	At time.Time
}

func (f FixedClock) Now() time.Time { return f.At }
