// Package stream owns the camera device: backend probing, bounded retries,
// resolution/fps negotiation and frame reads.
//
// Concrete capture backends live in the capture subpackage (gocv, GStreamer);
// this package only sees them through Backend and Device, so the lifecycle
// logic is testable without a camera.
package stream

import (
	"context"
	"errors"

	"github.com/e7canasta/orion-blink/internal/types"
)

var (
	// ErrNoCamera is returned by Start when no backend/index pair yields a frame
	ErrNoCamera = errors.New("stream: no camera available")
	// ErrNotStarted is returned by Read when the camera is not open
	ErrNotStarted = errors.New("stream: camera not started")
	// ErrReadFailed is returned by Read when the device produced no frame
	ErrReadFailed = errors.New("stream: failed to read frame")
)

// Negotiation is a requested or reported capture mode
type Negotiation struct {
	Width  int
	Height int
	FPS    int
}

// Backend is a platform capture driver tried in priority order during probing
type Backend interface {
	// Name identifies the backend in logs and frame sources (e.g. "v4l2")
	Name() string
	// Open opens device index and requests the capture mode in want.
	// It does not read a frame.
	Open(index int, want Negotiation) (Device, error)
}

// Device is one open capture device.
//
// Implementations must guarantee:
//   - Read blocks at most for a bounded, backend-specific time
//   - Close is idempotent
//   - Device is only used from one goroutine
type Device interface {
	// Read returns the next frame. The caller owns and must close the image.
	Read() (types.Image, error)
	// Negotiated reports the mode the device actually accepted
	Negotiated() Negotiation
	// SetFPS requests a new device frame rate without reopening
	SetFPS(fps int) error
	// Close releases the device
	Close() error
}

// FrameSource is the camera lifecycle used by the session loop.
//
// Start probes backends and devices and returns ErrNoCamera (wrapped) after
// the retry budget is spent. Stop is idempotent and releases the device
// unconditionally. Stats is safe to call from any goroutine.
type FrameSource interface {
	Start(ctx context.Context) error
	Stop() error
	Read() (types.Frame, error)
	SetTargetFPS(fps int) error
	IsOpen() bool
	Stats() types.StreamStats
}
