// Package blink turns per-frame eye aspect ratios into debounced blink events.
//
// Two signals come out of the debouncer and they are deliberately distinct:
// the blink event fires at most once per cooldown window, while the visible
// flag stays true for a display hold after each event so a UI can render it.
package blink

import "time"

// Default timings
const (
	DefaultCooldown    = 500 * time.Millisecond
	DefaultDisplayHold = 350 * time.Millisecond
)

// Debouncer tracks the last genuine blink of the primary face.
// It is owned by the session loop and is not safe for concurrent use.
type Debouncer struct {
	cooldown time.Duration
	hold     time.Duration

	// Zero means no blink has been seen yet
	lastBlinkAt   time.Time
	lastDisplayAt time.Time
}

// Result is the outcome of evaluating one detection tick
type Result struct {
	// Event is true only for a genuine blink outside the cooldown window
	Event bool
	// Visible is true while the display hold of the last event is running
	Visible bool
}

// NewDebouncer creates a debouncer. Non-positive durations fall back to defaults.
func NewDebouncer(cooldown, hold time.Duration) *Debouncer {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if hold <= 0 {
		hold = DefaultDisplayHold
	}
	return &Debouncer{cooldown: cooldown, hold: hold}
}

// Evaluate runs on detection ticks with the face-level EAR.
func (d *Debouncer) Evaluate(ear, threshold float64, now time.Time) Result {
	if ear < threshold && d.cooledDown(now) {
		d.lastBlinkAt = now
		d.lastDisplayAt = now
		return Result{Event: true, Visible: true}
	}
	return Result{Visible: d.Visible(now)}
}

// Visible reports whether now falls inside the display hold of the last blink.
// Reuse ticks call this instead of Evaluate.
func (d *Debouncer) Visible(now time.Time) bool {
	if d.lastDisplayAt.IsZero() {
		return false
	}
	return now.Sub(d.lastDisplayAt) < d.hold
}

// Reset forgets previous blinks; the session calls it when the camera opens
func (d *Debouncer) Reset() {
	d.lastBlinkAt = time.Time{}
	d.lastDisplayAt = time.Time{}
}

// Cooldown returns the minimum spacing between events
func (d *Debouncer) Cooldown() time.Duration { return d.cooldown }

// Hold returns the display hold duration
func (d *Debouncer) Hold() time.Duration { return d.hold }

func (d *Debouncer) cooledDown(now time.Time) bool {
	if d.lastBlinkAt.IsZero() {
		return true
	}
	return now.Sub(d.lastBlinkAt) > d.cooldown
}
