package stream

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"sync"
	"sync/atomic"

	"github.com/e7canasta/orion-blink/internal/types"
)

// MockBackend generates synthetic frames without a camera.
// It is selected with the "mock" backend name and used by tests.
type MockBackend struct {
	// Devices lists the indices that open; nil means only index 0
	Devices []int
	// FailReads makes every Read after the probe frame fail
	FailReads atomic.Bool

	mu     sync.Mutex
	opened []*MockDevice
}

// NewMockBackend creates a mock backend exposing the given device indices
func NewMockBackend(devices ...int) *MockBackend {
	return &MockBackend{Devices: devices}
}

// Name implements Backend
func (b *MockBackend) Name() string { return "mock" }

// Open implements Backend
func (b *MockBackend) Open(index int, want Negotiation) (Device, error) {
	devices := b.Devices
	if devices == nil {
		devices = []int{0}
	}
	found := false
	for _, d := range devices {
		if d == index {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("mock device %d not present", index)
	}

	if want.Width <= 0 || want.Height <= 0 {
		want.Width, want.Height = 640, 480
	}
	if want.FPS <= 0 {
		want.FPS = 30
	}
	dev := &MockDevice{backend: b, mode: want}

	b.mu.Lock()
	b.opened = append(b.opened, dev)
	b.mu.Unlock()
	return dev, nil
}

// Opened returns every device opened so far
func (b *MockBackend) Opened() []*MockDevice {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*MockDevice(nil), b.opened...)
}

// MockDevice is an open synthetic device
type MockDevice struct {
	backend *MockBackend
	mode    Negotiation
	reads   int
	closed  atomic.Bool
}

// Read implements Device. The first read (the probe frame) always succeeds.
func (d *MockDevice) Read() (types.Image, error) {
	if d.closed.Load() {
		return nil, errors.New("mock device closed")
	}
	d.reads++
	if d.reads > 1 && d.backend.FailReads.Load() {
		return nil, errors.New("mock read failure")
	}
	return NewMockImage(d.mode.Width, d.mode.Height, d.reads), nil
}

// Negotiated implements Device
func (d *MockDevice) Negotiated() Negotiation { return d.mode }

// SetFPS implements Device
func (d *MockDevice) SetFPS(fps int) error {
	d.mode.FPS = fps
	return nil
}

// Close implements Device
func (d *MockDevice) Close() error {
	d.closed.Store(true)
	return nil
}

// Closed reports whether Close was called
func (d *MockDevice) Closed() bool { return d.closed.Load() }

// MockImage is an in-memory RGBA image implementing types.Image
type MockImage struct {
	img    *image.RGBA
	closed atomic.Bool
}

// NewMockImage draws a gray frame with a bar whose position follows seq
func NewMockImage(width, height, seq int) *MockImage {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.RGBA{R: 90, G: 90, B: 90, A: 255}}, image.Point{}, draw.Src)

	barWidth := width / 10
	if barWidth < 1 {
		barWidth = 1
	}
	x := (seq * barWidth) % width
	bar := image.Rect(x, 0, x+barWidth, height)
	draw.Draw(img, bar, &image.Uniform{C: color.RGBA{R: 220, G: 220, B: 220, A: 255}}, image.Point{}, draw.Src)

	return &MockImage{img: img}
}

// Size implements types.Image
func (m *MockImage) Size() (int, int) {
	b := m.img.Bounds()
	return b.Dx(), b.Dy()
}

// Resize implements types.Image with nearest-neighbour sampling
func (m *MockImage) Resize(width, height int) (types.Image, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid size %dx%d", width, height)
	}
	sw, sh := m.Size()
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		sy := y * sh / height
		for x := 0; x < width; x++ {
			sx := x * sw / width
			dst.SetRGBA(x, y, m.img.RGBAAt(sx, sy))
		}
	}
	return &MockImage{img: dst}, nil
}

// Gray implements types.Image
func (m *MockImage) Gray() (*image.Gray, error) {
	gray := image.NewGray(m.img.Bounds())
	draw.Draw(gray, gray.Bounds(), m.img, m.img.Bounds().Min, draw.Src)
	return gray, nil
}

// EncodeJPEG implements types.Image
func (m *MockImage) EncodeJPEG(quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, m.img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Close implements types.Image
func (m *MockImage) Close() error {
	m.closed.Store(true)
	return nil
}

// Closed reports whether Close was called
func (m *MockImage) Closed() bool { return m.closed.Load() }
