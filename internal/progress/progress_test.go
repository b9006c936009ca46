package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func sampleAt(base time.Time, offset time.Duration, bytes, total int64) Sample {
	return Sample{Time: base.Add(offset), Bytes: bytes, Total: total}
}

func TestThrottleAlwaysEmitsFirstSample(t *testing.T) {
	th := NewThrottle(8, time.Minute, 20)
	base := time.Now()

	assert.True(t, th.ShouldEmit(sampleAt(base, 0, 1, 100)))
	// Immediately after, nothing is due.
	assert.False(t, th.ShouldEmit(sampleAt(base, time.Second, 2, 100)))
}

func TestThrottleAlwaysEmitsCompletion(t *testing.T) {
	th := NewThrottle(0, time.Hour, 100)
	base := time.Now()

	assert.True(t, th.ShouldEmit(sampleAt(base, 0, 0, 100)))
	assert.False(t, th.ShouldEmit(sampleAt(base, time.Second, 50, 100)))
	// MaxUpdates is zero and neither interval nor delta is due, but
	// completion must still pass.
	assert.True(t, th.ShouldEmit(sampleAt(base, 2*time.Second, 100, 100)))
	// Nothing after completion.
	assert.False(t, th.ShouldEmit(sampleAt(base, time.Hour, 100, 100)))
}

func TestThrottleDeltaThreshold(t *testing.T) {
	th := NewThrottle(8, time.Hour, 20)
	base := time.Now()

	assert.True(t, th.ShouldEmit(sampleAt(base, 0, 0, 1000)))
	assert.False(t, th.ShouldEmit(sampleAt(base, time.Second, 100, 1000)))  // +10%
	assert.True(t, th.ShouldEmit(sampleAt(base, 2*time.Second, 210, 1000))) // +21%
	assert.False(t, th.ShouldEmit(sampleAt(base, 3*time.Second, 300, 1000)))
}

func TestThrottleIntervalThreshold(t *testing.T) {
	th := NewThrottle(8, 10*time.Second, 90)
	base := time.Now()

	assert.True(t, th.ShouldEmit(sampleAt(base, 0, 0, 1000)))
	assert.False(t, th.ShouldEmit(sampleAt(base, 5*time.Second, 10, 1000)))
	assert.True(t, th.ShouldEmit(sampleAt(base, 11*time.Second, 20, 1000)))
}

func TestThrottleRespectsMaxUpdates(t *testing.T) {
	th := NewThrottle(3, 0, 0.1)
	base := time.Now()

	// First sample is free.
	assert.True(t, th.ShouldEmit(sampleAt(base, 0, 0, 10000)))

	emitted := 0
	for i := int64(1); i < 900; i++ {
		if th.ShouldEmit(sampleAt(base, time.Duration(i)*time.Second, i*10, 10000)) {
			emitted++
		}
	}
	assert.Equal(t, 3, emitted)

	// Completion still passes after the budget is gone.
	assert.True(t, th.ShouldEmit(sampleAt(base, time.Hour, 9999, 10000)))
}

func TestThrottleUnknownTotalUsesClockOnly(t *testing.T) {
	th := NewThrottle(8, 10*time.Second, 20)
	base := time.Now()

	assert.True(t, th.ShouldEmit(sampleAt(base, 0, 0, -1)))
	// Lots of bytes but no interval elapsed: no emission, no percent.
	assert.False(t, th.ShouldEmit(sampleAt(base, time.Second, 1<<30, -1)))
	assert.True(t, th.ShouldEmit(sampleAt(base, 11*time.Second, 2<<30, -1)))
}

func TestSamplePercent(t *testing.T) {
	assert.InDelta(t, 50.0, Sample{Bytes: 50, Total: 100}.Percent(), 0.001)
	assert.Equal(t, -1.0, Sample{Bytes: 50, Total: 0}.Percent())
	assert.Equal(t, -1.0, Sample{Bytes: 50, Total: -1}.Percent())
}

func TestSpeedObserve(t *testing.T) {
	var s Speed
	base := time.Now()

	// First observation only seeds the window.
	assert.Zero(t, s.Observe(base, 0))

	// 1000 bytes over one second.
	rate := s.Observe(base.Add(time.Second), 1000)
	assert.InDelta(t, 1000.0, rate, 0.001)

	// Steady rate converges to itself.
	rate = s.Observe(base.Add(2*time.Second), 2000)
	assert.InDelta(t, 1000.0, rate, 0.001)

	assert.InDelta(t, 1000.0, s.Rate(), 0.001)
}

func TestSpeedToleratesCounterRestart(t *testing.T) {
	var s Speed
	base := time.Now()

	// Steady 10 MiB/s through a full first part.
	s.Observe(base, 0)
	rate := s.Observe(base.Add(time.Second), 10<<20)
	assert.InDelta(t, float64(10<<20), rate, 0.001)

	// The next part's counter starts over at zero. The estimate must
	// hold its value rather than fold in a negative interval.
	rate = s.Observe(base.Add(2*time.Second), 0)
	assert.InDelta(t, float64(10<<20), rate, 0.001)
	assert.GreaterOrEqual(t, rate, 0.0)

	// And the new baseline carries the estimate forward normally.
	rate = s.Observe(base.Add(3*time.Second), 10<<20)
	assert.InDelta(t, float64(10<<20), rate, 0.001)
}

func TestSpeedIgnoresZeroElapsed(t *testing.T) {
	var s Speed
	base := time.Now()

	s.Observe(base, 0)
	first := s.Observe(base.Add(time.Second), 500)
	same := s.Observe(base.Add(time.Second), 900)
	assert.Equal(t, first, same)
}
