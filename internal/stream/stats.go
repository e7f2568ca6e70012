package stream

import (
	"math"
	"sync"
	"time"
)

// Stability thresholds relative to the mean
const (
	fpsStabilityThreshold    = 0.15
	jitterStabilityThreshold = 0.20
)

// FPSStats summarizes read timing over a window of recent frames
type FPSStats struct {
	Frames     int
	FPSMean    float64
	FPSStdDev  float64
	JitterMean time.Duration // mean |interval - expected|
	JitterMax  time.Duration
	IsStable   bool
}

// CalculateFPSStats computes rate and jitter from consecutive read timestamps
func CalculateFPSStats(frameTimes []time.Time) FPSStats {
	n := len(frameTimes)
	if n < 2 {
		return FPSStats{Frames: n}
	}

	span := frameTimes[n-1].Sub(frameTimes[0]).Seconds()
	if span <= 0 {
		return FPSStats{Frames: n}
	}
	fpsMean := float64(n-1) / span
	expected := 1.0 / fpsMean

	var sumSquares, jitterSum, jitterMax float64
	samples := 0
	for i := 1; i < n; i++ {
		interval := frameTimes[i].Sub(frameTimes[i-1]).Seconds()
		jitter := math.Abs(interval - expected)
		jitterSum += jitter
		if jitter > jitterMax {
			jitterMax = jitter
		}
		if interval > 0 {
			diff := 1.0/interval - fpsMean
			sumSquares += diff * diff
			samples++
		}
	}

	var fpsStdDev float64
	if samples > 0 {
		fpsStdDev = math.Sqrt(sumSquares / float64(samples))
	}
	jitterMean := jitterSum / float64(n-1)

	return FPSStats{
		Frames:     n,
		FPSMean:    fpsMean,
		FPSStdDev:  fpsStdDev,
		JitterMean: seconds(jitterMean),
		JitterMax:  seconds(jitterMax),
		IsStable: fpsStdDev < fpsMean*fpsStabilityThreshold &&
			jitterMean < expected*jitterStabilityThreshold,
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// fpsMeter keeps a ring of the most recent read timestamps.
// It is written by the session loop and read by the stats logger.
type fpsMeter struct {
	mu    sync.Mutex
	times []time.Time
	next  int
	full  bool
}

func newFPSMeter(window int) *fpsMeter {
	if window < 2 {
		window = 2
	}
	return &fpsMeter{times: make([]time.Time, window)}
}

func (m *fpsMeter) Tick(t time.Time) {
	m.mu.Lock()
	m.times[m.next] = t
	m.next = (m.next + 1) % len(m.times)
	if m.next == 0 {
		m.full = true
	}
	m.mu.Unlock()
}

func (m *fpsMeter) Reset() {
	m.mu.Lock()
	m.next = 0
	m.full = false
	m.mu.Unlock()
}

// Stats returns the window in chronological order
func (m *fpsMeter) Stats() FPSStats {
	m.mu.Lock()
	var ordered []time.Time
	if m.full {
		ordered = append(ordered, m.times[m.next:]...)
		ordered = append(ordered, m.times[:m.next]...)
	} else {
		ordered = append(ordered, m.times[:m.next]...)
	}
	m.mu.Unlock()
	return CalculateFPSStats(ordered)
}
