package pool

import "time"

// Timer is a pending deadline. Stop reports whether it prevented the call.
type Timer interface {
	Stop() bool
}

// Scheduler runs f once d has elapsed. The pool uses it for eviction
// deadlines; tests swap in a manual clock.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// wallClock schedules deadlines with the runtime timer.
type wallClock struct{}

func (wallClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
