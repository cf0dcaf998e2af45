package audio

import (
	"sync"
	"time"
)

// Clock reports the current position on an audio timeline. Input and output
// timelines are independent; the scheduler only ever sees the output clock.
type Clock interface {
	Now() time.Duration
}

// WallClock is an output timeline that starts at zero when created.
type WallClock struct {
	start time.Time
}

// NewWallClock starts a new timeline at the current instant.
func NewWallClock() *WallClock {
	return &WallClock{start: time.Now()}
}

// Now returns the time elapsed since the timeline started.
func (c *WallClock) Now() time.Duration {
	return time.Since(c.start)
}

// Origin is the wall time that corresponds to position zero.
func (c *WallClock) Origin() time.Time {
	return c.start
}

// Scheduler places consecutive buffers back-to-back on the output timeline.
// A buffer starts at max(clock.Now(), end of the previous buffer); when the
// clock has already passed that point playback resumes immediately without
// inserting silence.
type Scheduler struct {
	clock Clock

	mu       sync.Mutex
	nextFree time.Duration
	pending  int
}

// NewScheduler creates a scheduler bound to an output clock.
func NewScheduler(clock Clock) *Scheduler {
	return &Scheduler{clock: clock}
}

// Schedule reserves a slot of the given duration and returns its start time.
func (s *Scheduler) Schedule(duration time.Duration) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := s.clock.Now()
	if s.nextFree > start {
		start = s.nextFree
	}
	s.nextFree = start + duration
	s.pending++
	return start
}

// NextFreeSlot returns the end of the last scheduled buffer.
func (s *Scheduler) NextFreeSlot() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextFree
}

// Buffered returns how much scheduled audio has not yet played.
func (s *Scheduler) Buffered() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	ahead := s.nextFree - s.clock.Now()
	if ahead < 0 {
		return 0
	}
	return ahead
}

// Scheduled returns the number of buffers scheduled so far.
func (s *Scheduler) Scheduled() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}
