// Package progress decides when a transfer's status may be surfaced.
// Naive per-chunk updates trip the destination's own rate limiting, so
// the Throttle caps how often the caller's notifier fires. It performs
// no I/O itself.
package progress

import (
	"sync"
	"time"
)

// Func receives progress updates. bytesTotal is negative while the total
// is unknown. Implementations must be non-blocking.
type Func func(bytesDone, bytesTotal int64)

// Sample is one observation of a transfer's progress.
type Sample struct {
	Time  time.Time
	Bytes int64
	Total int64 // negative if unknown
}

// Percent returns the completion percentage, or -1 if the total is
// unknown or zero.
func (s Sample) Percent() float64 {
	if s.Total <= 0 {
		return -1
	}
	return float64(s.Bytes) / float64(s.Total) * 100
}

// completionPct is the threshold at which a sample counts as completion.
const completionPct = 99.5

// Throttle limits notification frequency for one transfer. The first
// sample and the completion sample always pass; in between, at most
// MaxUpdates notifications are allowed, spaced at least MinInterval
// apart unless the percentage moved by DeltaPct or more.
type Throttle struct {
	MaxUpdates  int
	MinInterval time.Duration
	DeltaPct    float64

	mu        sync.Mutex
	started   bool
	completed bool
	emitted   int
	lastTime  time.Time
	lastPct   float64
}

func NewThrottle(maxUpdates int, minInterval time.Duration, deltaPct float64) *Throttle {
	return &Throttle{
		MaxUpdates:  maxUpdates,
		MinInterval: minInterval,
		DeltaPct:    deltaPct,
	}
}

// ShouldEmit reports whether the caller's notifier may fire for s.
func (t *Throttle) ShouldEmit(s Sample) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	pct := s.Percent()

	if !t.started {
		t.started = true
		t.lastTime = s.Time
		t.lastPct = pct
		return true
	}

	if t.completed {
		return false
	}

	if pct >= completionPct {
		t.completed = true
		t.lastTime = s.Time
		t.lastPct = pct
		return true
	}

	if t.emitted >= t.MaxUpdates {
		return false
	}

	intervalDue := s.Time.Sub(t.lastTime) >= t.MinInterval
	deltaDue := pct >= 0 && t.lastPct >= 0 && pct-t.lastPct >= t.DeltaPct
	// Unknown totals can only go by the clock.
	if pct < 0 {
		deltaDue = false
	}

	if !intervalDue && !deltaDue {
		return false
	}

	t.emitted++
	t.lastTime = s.Time
	t.lastPct = pct
	return true
}

// Speed keeps a rolling bytes-per-second estimate over progress samples.
type Speed struct {
	mu        sync.Mutex
	lastTime  time.Time
	lastBytes int64
	rate      float64
}

// ewmaAlpha weights the newest interval against the running estimate.
const ewmaAlpha = 0.3

// Observe folds one sample into the estimate and returns the current
// rate in bytes per second.
func (s *Speed) Observe(now time.Time, bytes int64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastTime.IsZero() {
		s.lastTime = now
		s.lastBytes = bytes
		return 0
	}

	// A counter going backwards means the producer restarted (a retried
	// download attempt rewrites the file from zero). Rebase the window on
	// the new baseline instead of folding in a negative rate.
	if bytes < s.lastBytes {
		s.lastTime = now
		s.lastBytes = bytes
		return s.rate
	}

	dt := now.Sub(s.lastTime).Seconds()
	if dt <= 0 {
		return s.rate
	}

	instant := float64(bytes-s.lastBytes) / dt
	if s.rate == 0 {
		s.rate = instant
	} else {
		s.rate = ewmaAlpha*instant + (1-ewmaAlpha)*s.rate
	}
	s.lastTime = now
	s.lastBytes = bytes
	return s.rate
}

// Rate returns the current estimate without observing a new sample.
func (s *Speed) Rate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rate
}
