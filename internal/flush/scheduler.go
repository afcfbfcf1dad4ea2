// Package flush implements a debounce timer with a hard ceiling.
//
// An episode starts with the first Schedule call after idle. Each further
// call pushes the quiet-period timer out again, but the ceiling timer stays
// anchored to the episode start, so an episode never lasts longer than
// MaxWait no matter how often Schedule is called.
package flush

import (
	"sync"
	"time"
)

// Reason says why an episode closed.
type Reason string

const (
	ReasonDebounce Reason = "debounce"
	ReasonCeiling  Reason = "ceiling"
	ReasonForced   Reason = "forced"
)

// Action runs once when an episode closes.
type Action func(Reason)

// Scheduler is safe for concurrent use.
type Scheduler struct {
	mu sync.Mutex

	debounce time.Duration
	maxWait  time.Duration

	pending   bool
	action    Action
	episode   uint64 // bumped on every close; stale ceiling timers compare against it
	arm       uint64 // bumped on every debounce (re)arm
	debounceT *time.Timer
	ceilingT  *time.Timer
}

// New returns an idle scheduler. A maxWait shorter than debounce is raised to
// debounce.
func New(debounce, maxWait time.Duration) *Scheduler {
	s := &Scheduler{}
	s.setTimings(debounce, maxWait)
	return s
}

func (s *Scheduler) setTimings(debounce, maxWait time.Duration) {
	if debounce < 0 {
		debounce = 0
	}
	if maxWait < debounce {
		maxWait = debounce
	}
	s.debounce = debounce
	s.maxWait = maxWait
}

// Reconfigure changes the timings. A running episode keeps its timers; the
// new values apply from the next episode.
func (s *Scheduler) Reconfigure(debounce, maxWait time.Duration) {
	s.mu.Lock()
	s.setTimings(debounce, maxWait)
	s.mu.Unlock()
}

// Timings returns the effective debounce and ceiling.
func (s *Scheduler) Timings() (debounce, maxWait time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.debounce, s.maxWait
}

// Schedule requests a flush. The latest action wins; it runs exactly once
// when the current episode closes.
func (s *Scheduler) Schedule(action Action) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.action = action
	if !s.pending {
		s.pending = true
		ep := s.episode
		s.ceilingT = time.AfterFunc(s.maxWait, func() { s.fireCeiling(ep) })
	} else if s.debounceT != nil {
		s.debounceT.Stop()
	}

	s.arm++
	arm := s.arm
	s.debounceT = time.AfterFunc(s.debounce, func() { s.fireDebounce(arm) })
}

// Pending reports whether an episode is open.
func (s *Scheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Flush closes the open episode now. It reports whether an action ran.
func (s *Scheduler) Flush() bool {
	s.mu.Lock()
	if !s.pending {
		s.mu.Unlock()
		return false
	}
	action := s.closeLocked()
	s.mu.Unlock()

	if action != nil {
		action(ReasonForced)
	}
	return true
}

func (s *Scheduler) fireDebounce(arm uint64) {
	s.mu.Lock()
	if !s.pending || arm != s.arm {
		s.mu.Unlock()
		return
	}
	action := s.closeLocked()
	s.mu.Unlock()

	if action != nil {
		action(ReasonDebounce)
	}
}

func (s *Scheduler) fireCeiling(ep uint64) {
	s.mu.Lock()
	if !s.pending || ep != s.episode {
		s.mu.Unlock()
		return
	}
	action := s.closeLocked()
	s.mu.Unlock()

	if action != nil {
		action(ReasonCeiling)
	}
}

// closeLocked returns the scheduler to idle and hands back the action to run
// outside the lock. Call with s.mu held.
func (s *Scheduler) closeLocked() Action {
	if s.debounceT != nil {
		s.debounceT.Stop()
		s.debounceT = nil
	}
	if s.ceilingT != nil {
		s.ceilingT.Stop()
		s.ceilingT = nil
	}
	s.pending = false
	s.episode++
	s.arm++
	action := s.action
	s.action = nil
	return action
}
