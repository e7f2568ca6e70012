package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
	"gocv.io/x/gocv"

	"github.com/e7canasta/orion-blink/internal/stream"
	"github.com/e7canasta/orion-blink/internal/types"
)

var gstInit sync.Once

// GStreamerBackend captures through a GStreamer pipeline ending in an appsink:
//
//	<camera src> → videoconvert → videoscale → videorate → capsfilter(BGR) → appsink
type GStreamerBackend struct {
	readTimeout time.Duration
}

// NewGStreamerBackend creates the backend; readTimeout bounds each pull
func NewGStreamerBackend(readTimeout time.Duration) *GStreamerBackend {
	if readTimeout <= 0 {
		readTimeout = time.Second
	}
	return &GStreamerBackend{readTimeout: readTimeout}
}

// Name implements stream.Backend
func (b *GStreamerBackend) Name() string { return "gstreamer" }

// Open implements stream.Backend
func (b *GStreamerBackend) Open(index int, want stream.Negotiation) (stream.Device, error) {
	gstInit.Do(func() { gst.Init(nil) })

	if want.Width <= 0 || want.Height <= 0 {
		want.Width, want.Height = 640, 480
	}
	if want.FPS <= 0 {
		want.FPS = 30
	}

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	factory, props := gstSource(index)
	src, err := gst.NewElement(factory)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", factory, err)
	}
	for k, v := range props {
		if err := src.SetProperty(k, v); err != nil {
			return nil, fmt.Errorf("failed to set %s.%s: %w", factory, k, err)
		}
	}

	converter, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoconvert: %w", err)
	}
	scaler, err := gst.NewElement("videoscale")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoscale: %w", err)
	}
	videorate, err := gst.NewElement("videorate")
	if err != nil {
		return nil, fmt.Errorf("failed to create videorate: %w", err)
	}
	videorate.SetProperty("drop-only", true)

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, fmt.Errorf("failed to create capsfilter: %w", err)
	}
	capsfilter.SetProperty("caps", gst.NewCapsFromString(buildCaps(want)))

	sink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("failed to create appsink: %w", err)
	}
	sink.SetProperty("sync", false)    // No sync with clock (real-time)
	sink.SetProperty("max-buffers", 1) // Keep only latest frame
	sink.SetProperty("drop", true)     // Drop old frames

	pipeline.AddMany(src, converter, scaler, videorate, capsfilter, sink.Element)
	if err := gst.ElementLinkMany(src, converter, scaler, videorate, capsfilter, sink.Element); err != nil {
		pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("failed to link camera pipeline: %w", err)
	}

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("failed to start camera pipeline: %w", err)
	}

	slog.Debug("capture: gstreamer pipeline playing", "source", factory, "index", index, "caps", buildCaps(want))

	return &gstDevice{
		name:       fmt.Sprintf("gstreamer:%d", index),
		pipeline:   pipeline,
		sink:       sink,
		capsfilter: capsfilter,
		mode:       want,
		timeout:    b.readTimeout,
	}, nil
}

func buildCaps(n stream.Negotiation) string {
	return fmt.Sprintf("video/x-raw,format=BGR,width=%d,height=%d,framerate=%d/1", n.Width, n.Height, n.FPS)
}

type gstDevice struct {
	name       string
	pipeline   *gst.Pipeline
	sink       *app.Sink
	capsfilter *gst.Element
	mode       stream.Negotiation
	timeout    time.Duration
	closed     bool
}

func (d *gstDevice) Read() (types.Image, error) {
	if d.closed {
		return nil, errors.New("device closed")
	}

	sample := d.sink.TryPullSample(d.timeout)
	if sample == nil {
		return nil, fmt.Errorf("%s: no sample within %v", d.name, d.timeout)
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return nil, fmt.Errorf("%s: sample without buffer", d.name)
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	defer buffer.Unmap()

	want := d.mode.Width * d.mode.Height * 3
	if len(data) != want {
		return nil, fmt.Errorf("%s: buffer is %d bytes, want %d", d.name, len(data), want)
	}

	// NewMatFromBytes borrows data; clone so the Mat owns its pixels
	borrowed, err := gocv.NewMatFromBytes(d.mode.Height, d.mode.Width, gocv.MatTypeCV8UC3, data)
	if err != nil {
		return nil, fmt.Errorf("%s: wrap buffer: %w", d.name, err)
	}
	defer borrowed.Close()
	return NewMatImage(borrowed.Clone()), nil
}

func (d *gstDevice) Negotiated() stream.Negotiation {
	return d.mode
}

// SetFPS updates the capsfilter in place; GStreamer renegotiates without a restart
func (d *gstDevice) SetFPS(fps int) error {
	if d.closed {
		return errors.New("device closed")
	}
	mode := d.mode
	mode.FPS = fps
	if err := d.capsfilter.SetProperty("caps", gst.NewCapsFromString(buildCaps(mode))); err != nil {
		return fmt.Errorf("failed to update caps: %w", err)
	}
	d.mode = mode
	return nil
}

func (d *gstDevice) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	if err := d.pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("failed to set pipeline to NULL: %w", err)
	}
	return nil
}
