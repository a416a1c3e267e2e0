package timer

import (
	"sort"
	"sync"
	"time"
)

// FakeScheduler is a deterministic Scheduler for tests. Time only
// moves when Advance is called; due callbacks run synchronously on
// the advancing goroutine, in deadline order. The lock is released
// while a callback runs, so callbacks (and other goroutines) may
// schedule or stop timers freely.
type FakeScheduler struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*fakeTimer
}

type fakeTimer struct {
	s        *FakeScheduler
	deadline time.Time
	seq      int
	fn       func()
	stopped  bool
	fired    bool
}

func NewFakeScheduler(start time.Time) *FakeScheduler {
	return &FakeScheduler{now: start}
}

func (s *FakeScheduler) Schedule(d time.Duration, fn func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	t := &fakeTimer{s: s, deadline: s.now.Add(d), seq: s.seq, fn: fn}
	s.timers = append(s.timers, t)
	return t
}

func (s *FakeScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Advance moves the clock forward and fires every timer whose
// deadline falls inside the window, including timers scheduled by
// firing callbacks when they land inside the same window.
func (s *FakeScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now.Add(d)
	for {
		next := s.nextDueLocked(target)
		if next == nil {
			break
		}
		if next.deadline.After(s.now) {
			s.now = next.deadline
		}
		next.fired = true
		fn := next.fn
		s.mu.Unlock()
		fn()
		s.mu.Lock()
	}
	s.now = target
	s.mu.Unlock()
}

// Pending reports how many timers are scheduled and not yet fired
// or stopped.
func (s *FakeScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		if !t.fired && !t.stopped {
			n++
		}
	}
	return n
}

func (s *FakeScheduler) nextDueLocked(limit time.Time) *fakeTimer {
	var due []*fakeTimer
	for _, t := range s.timers {
		if !t.fired && !t.stopped && !t.deadline.After(limit) {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].deadline.Equal(due[j].deadline) {
			return due[i].seq < due[j].seq
		}
		return due[i].deadline.Before(due[j].deadline)
	})
	return due[0]
}

func (t *fakeTimer) Stop() {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	t.stopped = true
}
