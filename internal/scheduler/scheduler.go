// Package scheduler is the host tick source asynchronous requests hang off.
// Steps registered with a Scheduler run once per Tick, on the goroutine that
// calls Tick; nothing here starts goroutines of its own except Run.
package scheduler

import (
	"context"
	"sync"
	"time"
)

// Handle identifies a registered step.
type Handle uint64

type entry struct {
	handle Handle
	step   func()
}

// Scheduler keeps an ordered set of step functions. The mutex only guards
// the bookkeeping so Register/Unregister can be called from another
// goroutine; steps themselves never run concurrently with each other.
type Scheduler struct {
	mu      sync.Mutex
	next    Handle
	entries []entry
	live    map[Handle]bool
}

// New returns an empty Scheduler.
func New() *Scheduler {
	return &Scheduler{live: make(map[Handle]bool)}
}

// Register adds step to run on every subsequent Tick.
func (s *Scheduler) Register(step func()) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	h := s.next
	s.entries = append(s.entries, entry{handle: h, step: step})
	s.live[h] = true
	return h
}

// Unregister removes a step. It reports whether the step was registered.
// A step removed during a Tick does not run later in that Tick.
func (s *Scheduler) Unregister(h Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.live[h] {
		return false
	}
	delete(s.live, h)
	for i, e := range s.entries {
		if e.handle == h {
			s.entries = append(s.entries[:i:i], s.entries[i+1:]...)
			break
		}
	}
	return true
}

// Len returns the number of registered steps.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Tick runs each step registered when the tick starts, once, in
// registration order. Steps added during the tick wait for the next one.
func (s *Scheduler) Tick() {
	s.mu.Lock()
	snapshot := append([]entry(nil), s.entries...)
	s.mu.Unlock()

	for _, e := range snapshot {
		s.mu.Lock()
		alive := s.live[e.handle]
		s.mu.Unlock()
		if alive {
			e.step()
		}
	}
}

// Run calls Tick every interval until ctx is done. Hosts with their own
// frame or timer callback call Tick directly instead.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Tick()
		}
	}
}
