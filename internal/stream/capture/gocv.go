package capture

import (
	"errors"
	"fmt"
	"log/slog"

	"gocv.io/x/gocv"

	"github.com/e7canasta/orion-blink/internal/stream"
	"github.com/e7canasta/orion-blink/internal/types"
)

// OpenCVBackend opens devices through one OpenCV capture API
type OpenCVBackend struct {
	name string
	api  gocv.VideoCaptureAPI
}

// NewOpenCVBackend creates a backend for the given capture API
func NewOpenCVBackend(name string, api gocv.VideoCaptureAPI) *OpenCVBackend {
	return &OpenCVBackend{name: name, api: api}
}

// Name implements stream.Backend
func (b *OpenCVBackend) Name() string { return b.name }

// Open implements stream.Backend
func (b *OpenCVBackend) Open(index int, want stream.Negotiation) (stream.Device, error) {
	vc, err := gocv.OpenVideoCaptureWithAPI(index, b.api)
	if err != nil {
		return nil, fmt.Errorf("%s: open device %d: %w", b.name, index, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("%s: device %d not opened", b.name, index)
	}

	if want.Width > 0 && want.Height > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(want.Width))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(want.Height))
	}
	if want.FPS > 0 {
		vc.Set(gocv.VideoCaptureFPS, float64(want.FPS))
	}

	return &openCVDevice{vc: vc, name: fmt.Sprintf("%s:%d", b.name, index)}, nil
}

type openCVDevice struct {
	vc     *gocv.VideoCapture
	name   string
	closed bool
}

func (d *openCVDevice) Read() (types.Image, error) {
	if d.closed {
		return nil, errors.New("device closed")
	}
	mat := gocv.NewMat()
	if ok := d.vc.Read(&mat); !ok || mat.Empty() {
		mat.Close()
		return nil, fmt.Errorf("%s: no frame", d.name)
	}
	return NewMatImage(mat), nil
}

func (d *openCVDevice) Negotiated() stream.Negotiation {
	return stream.Negotiation{
		Width:  int(d.vc.Get(gocv.VideoCaptureFrameWidth)),
		Height: int(d.vc.Get(gocv.VideoCaptureFrameHeight)),
		FPS:    int(d.vc.Get(gocv.VideoCaptureFPS) + 0.5),
	}
}

func (d *openCVDevice) SetFPS(fps int) error {
	if d.closed {
		return errors.New("device closed")
	}
	d.vc.Set(gocv.VideoCaptureFPS, float64(fps))
	if got := int(d.vc.Get(gocv.VideoCaptureFPS) + 0.5); got != fps {
		slog.Debug("capture: device kept a different fps", "device", d.name, "requested", fps, "got", got)
	}
	return nil
}

func (d *openCVDevice) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	return d.vc.Close()
}
