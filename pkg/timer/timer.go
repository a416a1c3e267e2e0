package timer

import (
	"sync"
	"time"
)

// Timer is a handle to a scheduled callback. Stop is idempotent:
// stopping an already-fired or already-stopped timer is a no-op.
type Timer interface {
	Stop()
}

// Scheduler schedules one-shot callbacks and provides the current
// time, so timing-sensitive logic can run against a simulated clock.
type Scheduler interface {
	Schedule(d time.Duration, fn func()) Timer
	Now() time.Time
}

type realScheduler struct{}

// NewScheduler returns a Scheduler backed by the wall clock.
// Callbacks fire on their own goroutine; callers that need loop
// affinity must marshal the callback themselves.
func NewScheduler() Scheduler {
	return realScheduler{}
}

func (realScheduler) Schedule(d time.Duration, fn func()) Timer {
	return &realTimer{t: time.AfterFunc(d, fn)}
}

func (realScheduler) Now() time.Time {
	return time.Now()
}

type realTimer struct {
	once sync.Once
	t    *time.Timer
}

func (rt *realTimer) Stop() {
	rt.once.Do(func() { rt.t.Stop() })
}
