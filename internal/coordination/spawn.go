package coordination

import (
	"sync"
	"time"
)

// staggerStep is the per-position delay within a crowded spawn window:
// the Nth spawn within the window is delayed N x staggerStep, mitigating
// provider rate limits when a burst of spawn_agent calls land together
// (spec.md §4.6).
const staggerStep = 500 * time.Millisecond

// staggerWindow is the rolling window width within which spawns count
// against each other.
const staggerWindow = 1 * time.Second

// Stagger computes the spawn_agent launch delay: spawns land in
// 1-second windows; the Nth spawn (1-indexed) observed within the
// current window is delayed N x 500ms. A spawn observed after the
// window has elapsed starts a fresh window at position 1 (delayed 500ms).
type Stagger struct {
	mu          sync.Mutex
	windowStart time.Time
	count       int
}

// NewStagger creates a fresh stagger tracker.
func NewStagger() *Stagger {
	return &Stagger{}
}

// Next records one more spawn and returns how long the caller should
// wait before launching it.
func (s *Stagger) Next(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.windowStart.IsZero() || now.Sub(s.windowStart) >= staggerWindow {
		s.windowStart = now
		s.count = 1
	} else {
		s.count++
	}
	return time.Duration(s.count) * staggerStep
}
