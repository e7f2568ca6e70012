package types

import (
	"image"
	"time"
)

// Image is a decoded camera frame owned by whoever holds the Frame.
// Implementations wrap native buffers, so Close must be called once the
// frame is no longer needed.
type Image interface {
	// Size returns the pixel dimensions
	Size() (width, height int)
	// Resize returns a new image scaled to width x height.
	// The receiver is left untouched and must still be closed.
	Resize(width, height int) (Image, error)
	// Gray returns an 8-bit grayscale copy for the landmark provider
	Gray() (*image.Gray, error)
	// EncodeJPEG compresses the image at the given quality (1-100)
	EncodeJPEG(quality int) ([]byte, error)
	// Close releases the native buffer
	Close() error
}

// Frame represents a single camera frame
type Frame struct {
	// Seq is the monotonic sequence number since the camera was opened
	Seq uint64
	// Timestamp is when the frame was read from the device
	Timestamp time.Time
	// Width in pixels
	Width int
	// Height in pixels
	Height int
	// Source identifies the backend and device index (e.g. "v4l2:0")
	Source string
	// TraceID is a unique identifier for correlating logs of one frame
	TraceID string
	// Image holds the pixels (BGR by default)
	Image Image
}

// Close releases the frame's image, if any
func (f *Frame) Close() error {
	if f.Image == nil {
		return nil
	}
	err := f.Image.Close()
	f.Image = nil
	return err
}

// NormalizedRect represents a rectangle with normalized coordinates (0.0 - 1.0)
// relative to the frame it was detected on
type NormalizedRect struct {
	X      float64 `json:"x"`      // Top-left X (0.0 = left edge, 1.0 = right edge)
	Y      float64 `json:"y"`      // Top-left Y (0.0 = top edge, 1.0 = bottom edge)
	Width  float64 `json:"width"`  // Width as fraction of frame width
	Height float64 `json:"height"` // Height as fraction of frame height
}

// NormalizeRect converts a pixel rectangle into frame-relative coordinates.
// The rectangle is clamped to the frame first so results stay in [0,1].
func NormalizeRect(r image.Rectangle, frameWidth, frameHeight int) NormalizedRect {
	if frameWidth <= 0 || frameHeight <= 0 {
		return NormalizedRect{}
	}
	r = r.Intersect(image.Rect(0, 0, frameWidth, frameHeight))
	fw, fh := float64(frameWidth), float64(frameHeight)
	return NormalizedRect{
		X:      float64(r.Min.X) / fw,
		Y:      float64(r.Min.Y) / fh,
		Width:  float64(r.Dx()) / fw,
		Height: float64(r.Dy()) / fh,
	}
}

// StreamStats contains frame source statistics
type StreamStats struct {
	FrameCount   uint64
	ReadFailures uint64
	FPSTarget    int
	FPSReal      float64
	FPSJitter    time.Duration // mean deviation from the mean read interval
	FPSStable    bool
	Source       string
	Resolution   string
	Probes       uint32
	IsOpen       bool
}
