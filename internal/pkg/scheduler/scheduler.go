// Package scheduler is the single timer abstraction used for heartbeats,
// reconnects, debounced refetches and periodic resyncs. Components receive
// a Scheduler instead of calling time.AfterFunc so tests can drive virtual
// time with schedulertest.Manual.
package scheduler

import "time"

// Timer cancels a scheduled callback.
type Timer interface {
	// Stop prevents the callback from running. It reports whether the
	// call stopped the timer; false means it already fired or was stopped.
	Stop() bool
}

// Scheduler runs callbacks after a delay.
type Scheduler interface {
	After(d time.Duration, fn func()) Timer
	Now() time.Time
}

type realScheduler struct{}

// Real returns a Scheduler backed by the runtime timer heap.
func Real() Scheduler { return realScheduler{} }

func (realScheduler) After(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

func (realScheduler) Now() time.Time { return time.Now() }

// Stop stops t when it is non-nil and returns nil so callers can clear
// their field in one line: m.timer = scheduler.Stop(m.timer).
func Stop(t Timer) Timer {
	if t != nil {
		t.Stop()
	}
	return nil
}
