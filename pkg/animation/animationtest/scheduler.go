// Package animationtest provides a manually driven animation.Scheduler.
package animationtest

import (
	"sort"
	"sync"
	"time"

	"github.com/sudorandom/geoanim/pkg/animation"
)

// Scheduler is a fake clock. Timers fire only from Advance or RunPending, in due
// order, on the calling goroutine.
type Scheduler struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*timer
}

type timer struct {
	s       *Scheduler
	due     time.Time
	seq     int
	f       func()
	stopped bool
}

func (t *timer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// New returns a scheduler whose clock reads start.
func New(start time.Time) *Scheduler {
	return &Scheduler{now: start}
}

// Now returns the fake time.
func (s *Scheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// AfterFunc registers f to run once the fake time reaches now+d.
func (s *Scheduler) AfterFunc(d time.Duration, f func()) animation.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	t := &timer{s: s, due: s.now.Add(d), seq: s.seq, f: f}
	s.timers = append(s.timers, t)
	return t
}

// Pending returns the number of live timers.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

// Advance moves the clock forward by d, firing every timer that becomes due,
// including timers scheduled by callbacks.
func (s *Scheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now.Add(d)
	s.mu.Unlock()

	for {
		t := s.popDue(target)
		if t == nil {
			break
		}
		t.f()
	}

	s.mu.Lock()
	if s.now.Before(target) {
		s.now = target
	}
	s.mu.Unlock()
}

// RunPending fires timers that are already due without moving the clock.
func (s *Scheduler) RunPending() { s.Advance(0) }

// Skew moves the clock without firing timers, simulating a stalled process.
func (s *Scheduler) Skew(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = s.now.Add(d)
}

func (s *Scheduler) popDue(target time.Time) *timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	live := s.timers[:0]
	for _, t := range s.timers {
		if !t.stopped {
			live = append(live, t)
		}
	}
	s.timers = live
	if len(s.timers) == 0 {
		return nil
	}
	sort.Slice(s.timers, func(i, j int) bool {
		if !s.timers[i].due.Equal(s.timers[j].due) {
			return s.timers[i].due.Before(s.timers[j].due)
		}
		return s.timers[i].seq < s.timers[j].seq
	})
	t := s.timers[0]
	if t.due.After(target) {
		return nil
	}
	s.timers = s.timers[1:]
	t.stopped = true
	if t.due.After(s.now) {
		s.now = t.due
	}
	return t
}
