package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/orion-blink/internal/config"
	"github.com/e7canasta/orion-blink/internal/types"
)

// Options configures a Camera
type Options struct {
	Want           Negotiation // requested capture mode
	MaxDeviceIndex int         // probe indices 0..MaxDeviceIndex
	Retry          RetryPolicy // whole probe cycles
	Sleep          Sleeper     // nil means SleepContext
	Now            func() time.Time
}

// OptionsFromConfig maps the camera section of the configuration
func OptionsFromConfig(cfg config.CameraConfig) Options {
	return Options{
		Want:           Negotiation{Width: cfg.Width, Height: cfg.Height, FPS: cfg.FPS},
		MaxDeviceIndex: cfg.MaxDeviceIndex,
		Retry: RetryPolicy{
			MaxAttempts: cfg.ProbeAttempts,
			Delay:       cfg.ProbeDelay(),
			MaxDelay:    cfg.ProbeDelay(),
		},
	}
}

// Camera implements FrameSource over an ordered list of backends
type Camera struct {
	backends []Backend
	opts     Options

	// owned by the session loop
	dev    Device
	source string
	seq    uint64

	// read by Stats from any goroutine
	open       atomic.Bool
	frames     atomic.Uint64
	failures   atomic.Uint64
	probes     atomic.Uint32
	fpsTarget  atomic.Int64
	sourceName atomic.Value // string
	resolution atomic.Value // string
	meter      *fpsMeter
}

// NewCamera creates a camera that probes backends in the given order
func NewCamera(backends []Backend, opts Options) *Camera {
	if opts.MaxDeviceIndex < 0 {
		opts.MaxDeviceIndex = 0
	}
	if opts.Retry.MaxAttempts < 1 {
		opts.Retry = DefaultRetryPolicy()
	}
	if opts.Sleep == nil {
		opts.Sleep = SleepContext
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	c := &Camera{
		backends: backends,
		opts:     opts,
		meter:    newFPSMeter(30),
	}
	c.fpsTarget.Store(int64(opts.Want.FPS))
	c.sourceName.Store("")
	c.resolution.Store("")
	return c
}

// Start probes every backend and device index, retrying whole probe cycles
// per the retry policy. Calling Start on an open camera is a no-op.
func (c *Camera) Start(ctx context.Context) error {
	if c.dev != nil {
		slog.Debug("stream: camera already open", "source", c.source)
		return nil
	}
	if len(c.backends) == 0 {
		return fmt.Errorf("%w: no capture backends configured", ErrNoCamera)
	}

	slog.Info("stream: probing camera",
		"backends", c.backendNames(),
		"max_device_index", c.opts.MaxDeviceIndex,
		"attempts", c.opts.Retry.MaxAttempts,
	)

	_, err := Retry(ctx, c.opts.Retry, c.opts.Sleep, func(ctx context.Context, attempt int) error {
		c.probes.Add(1)
		dev, source, err := c.probe(ctx)
		if err != nil {
			return err
		}
		c.dev = dev
		c.source = source
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %w", ErrNoCamera, err)
	}

	c.seq = 0
	c.meter.Reset()
	c.open.Store(true)
	c.sourceName.Store(c.source)
	c.verifyNegotiation()
	return nil
}

// probe runs one cycle over backends x device indices. The first pair that
// yields a real frame wins; the test frame is discarded.
func (c *Camera) probe(ctx context.Context) (Device, string, error) {
	for _, b := range c.backends {
		for index := 0; index <= c.opts.MaxDeviceIndex; index++ {
			if err := ctx.Err(); err != nil {
				return nil, "", err
			}

			source := fmt.Sprintf("%s:%d", b.Name(), index)
			dev, err := b.Open(index, c.opts.Want)
			if err != nil {
				slog.Debug("stream: device did not open", "source", source, "error", err)
				continue
			}

			img, err := dev.Read()
			if err != nil || img == nil {
				slog.Debug("stream: device opened but produced no frame", "source", source, "error", err)
				dev.Close()
				continue
			}
			w, h := img.Size()
			img.Close()
			if w <= 0 || h <= 0 {
				slog.Debug("stream: device produced an empty frame", "source", source)
				dev.Close()
				continue
			}

			slog.Info("stream: camera opened", "source", source, "test_frame", fmt.Sprintf("%dx%d", w, h))
			return dev, source, nil
		}
	}
	return nil, "", ErrNoCamera
}

// verifyNegotiation logs the mode the device accepted. Mismatches are not
// enforced; the session resizes every frame anyway.
func (c *Camera) verifyNegotiation() {
	got := c.dev.Negotiated()
	want := c.opts.Want
	c.resolution.Store(fmt.Sprintf("%dx%d", got.Width, got.Height))

	if got != want {
		slog.Warn("stream: device did not accept requested mode",
			"source", c.source,
			"requested", fmt.Sprintf("%dx%d@%d", want.Width, want.Height, want.FPS),
			"negotiated", fmt.Sprintf("%dx%d@%d", got.Width, got.Height, got.FPS),
		)
		return
	}
	slog.Info("stream: capture mode negotiated",
		"source", c.source,
		"width", got.Width,
		"height", got.Height,
		"fps", got.FPS,
	)
}

// Read returns the next frame from the open device
func (c *Camera) Read() (types.Frame, error) {
	if c.dev == nil {
		return types.Frame{}, ErrNotStarted
	}

	img, err := c.dev.Read()
	if err != nil {
		c.failures.Add(1)
		return types.Frame{}, fmt.Errorf("%w: %w", ErrReadFailed, err)
	}
	if img == nil {
		c.failures.Add(1)
		return types.Frame{}, ErrReadFailed
	}

	now := c.opts.Now()
	c.seq++
	c.frames.Add(1)
	c.meter.Tick(now)

	w, h := img.Size()
	return types.Frame{
		Seq:       c.seq,
		Timestamp: now,
		Width:     w,
		Height:    h,
		Source:    c.source,
		TraceID:   uuid.New().String(),
		Image:     img,
	}, nil
}

// SetTargetFPS records the target and re-applies it to an open device.
// A device that refuses the change keeps running at its previous rate.
func (c *Camera) SetTargetFPS(fps int) error {
	if fps < 1 {
		return fmt.Errorf("fps must be >= 1, got %d", fps)
	}
	c.fpsTarget.Store(int64(fps))
	c.opts.Want.FPS = fps

	if c.dev == nil {
		return nil
	}
	if err := c.dev.SetFPS(fps); err != nil {
		return fmt.Errorf("failed to apply fps %d to %s: %w", fps, c.source, err)
	}
	slog.Info("stream: target fps updated", "source", c.source, "fps", fps)
	return nil
}

// Stop releases the device. Safe to call when nothing is open.
func (c *Camera) Stop() error {
	if c.dev == nil {
		return nil
	}

	dev, source := c.dev, c.source
	c.dev = nil
	c.source = ""
	c.open.Store(false)
	c.sourceName.Store("")

	if err := dev.Close(); err != nil {
		slog.Warn("stream: error releasing camera", "source", source, "error", err)
		return fmt.Errorf("failed to release %s: %w", source, err)
	}
	slog.Info("stream: camera released", "source", source, "frames", c.seq)
	return nil
}

// IsOpen reports whether a device is open
func (c *Camera) IsOpen() bool {
	return c.open.Load()
}

// Stats returns current stream statistics
func (c *Camera) Stats() types.StreamStats {
	fps := c.meter.Stats()
	return types.StreamStats{
		FrameCount:   c.frames.Load(),
		ReadFailures: c.failures.Load(),
		FPSTarget:    int(c.fpsTarget.Load()),
		FPSReal:      fps.FPSMean,
		FPSJitter:    fps.JitterMean,
		FPSStable:    fps.IsStable,
		Source:       c.sourceName.Load().(string),
		Resolution:   c.resolution.Load().(string),
		Probes:       c.probes.Load(),
		IsOpen:       c.open.Load(),
	}
}

func (c *Camera) backendNames() []string {
	names := make([]string, 0, len(c.backends))
	for _, b := range c.backends {
		names = append(names, b.Name())
	}
	return names
}
