package types

import "time"

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// Timer is the handle returned by TimerClock.AfterFunc.
type Timer interface {
	// Stop prevents the timer from firing. It returns false if the timer has
	// already fired or been stopped.
	Stop() bool
}

// TimerClock is a Clock that can also schedule callbacks. The alert scheduler
// depends on it so delayed evaluation can be driven by a fake clock in tests.
type TimerClock interface {
	Clock
	AfterFunc(d time.Duration, f func()) Timer
}

// RealClock implements TimerClock using the real system time (always UTC).
type RealClock struct{}

// Now returns the current time in UTC.
func (RealClock) Now() time.Time { return time.Now().UTC() }

// AfterFunc runs f in its own goroutine after d has elapsed.
func (RealClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
