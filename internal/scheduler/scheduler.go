// Package scheduler decides when the session reads a frame and when a read
// frame gets full landmark detection.
//
// The two throttles are independent: the rate gate bounds camera reads to the
// target fps, the cadence counter bounds detection to every Nth read frame.
package scheduler

import "time"

// RateGate ensures reads happen no faster than 1/fps
type RateGate struct {
	lastRead time.Time
}

// Interval returns the minimum spacing between reads at fps
func Interval(fps int) time.Duration {
	if fps < 1 {
		fps = 1
	}
	return time.Second / time.Duration(fps)
}

// Due reports whether a read is allowed at now
func (g *RateGate) Due(now time.Time, fps int) bool {
	if g.lastRead.IsZero() {
		return true
	}
	return now.Sub(g.lastRead) >= Interval(fps)
}

// Wait returns how long until the next read is due (zero if due now)
func (g *RateGate) Wait(now time.Time, fps int) time.Duration {
	if g.lastRead.IsZero() {
		return 0
	}
	remaining := Interval(fps) - now.Sub(g.lastRead)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// MarkRead records a read attempt at now
func (g *RateGate) MarkRead(now time.Time) {
	g.lastRead = now
}

// Reset makes the next read due immediately
func (g *RateGate) Reset() {
	g.lastRead = time.Time{}
}

// Cadence counts successfully read frames and selects detection frames
type Cadence struct {
	count uint64
}

// Next advances the counter for one read frame and reports whether it should
// run detection. With frameSkip=3 frames 0, 3, 6, ... are detection frames.
func (c *Cadence) Next(frameSkip int) bool {
	if frameSkip < 1 {
		frameSkip = 1
	}
	detect := c.count%uint64(frameSkip) == 0
	c.count++
	return detect
}

// Reset restarts the counter so the next frame runs detection
func (c *Cadence) Reset() {
	c.count = 0
}
