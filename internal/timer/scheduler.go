// Package timer owns every delayed callback of a component: debounce,
// polling, heartbeat and reconnect timers are named tokens that can be
// rescheduled or cancelled, and a superseded timer never runs its callback.
package timer

import (
	"sync"
	"time"
)

// Token names a timer slot. Scheduling a token replaces its previous timer.
type Token string

// Well-known tokens.
const (
	Debounce  Token = "debounce"
	Poll      Token = "poll"
	Heartbeat Token = "heartbeat"
	Reconnect Token = "reconnect"
)

type entry struct {
	gen   uint64
	timer Timer
}

// Scheduler runs callbacks after a delay, one pending timer per token.
// It is safe for concurrent use.
type Scheduler struct {
	clock Clock

	mu      sync.Mutex
	gen     uint64
	entries map[Token]*entry
	closed  bool
}

// NewScheduler creates a scheduler on clock. A nil clock uses Real.
func NewScheduler(clock Clock) *Scheduler {
	if clock == nil {
		clock = Real()
	}
	return &Scheduler{
		clock:   clock,
		entries: make(map[Token]*entry),
	}
}

// Now returns the scheduler clock's current time.
func (s *Scheduler) Now() time.Time {
	return s.clock.Now()
}

// Schedule arranges for fn to run after d, replacing any pending timer for tok.
// fn runs on the clock's goroutine; callers marshal work where they need to.
func (s *Scheduler) Schedule(tok Token, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if e, ok := s.entries[tok]; ok {
		e.timer.Stop()
	}
	s.gen++
	gen := s.gen
	e := &entry{gen: gen}
	s.entries[tok] = e
	e.timer = s.clock.AfterFunc(d, func() { s.fire(tok, gen, fn) })
}

func (s *Scheduler) fire(tok Token, gen uint64, fn func()) {
	s.mu.Lock()
	e, ok := s.entries[tok]
	if !ok || e.gen != gen {
		s.mu.Unlock()
		return
	}
	delete(s.entries, tok)
	s.mu.Unlock()
	fn()
}

// Cancel stops the pending timer for tok. Returns false if none was pending.
func (s *Scheduler) Cancel(tok Token) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[tok]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(s.entries, tok)
	return true
}

// Pending reports whether a timer is scheduled for tok.
func (s *Scheduler) Pending(tok Token) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[tok]
	return ok
}

// Close cancels every pending timer. Later Schedule calls are ignored.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for tok, e := range s.entries {
		e.timer.Stop()
		delete(s.entries, tok)
	}
}
