package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/orion-blink/internal/blink"
	"github.com/e7canasta/orion-blink/internal/config"
	"github.com/e7canasta/orion-blink/internal/control"
	"github.com/e7canasta/orion-blink/internal/emitter"
	"github.com/e7canasta/orion-blink/internal/landmark"
	"github.com/e7canasta/orion-blink/internal/scheduler"
	"github.com/e7canasta/orion-blink/internal/stream"
	"github.com/e7canasta/orion-blink/internal/types"
)

// Deps are the collaborators a Session drives
type Deps struct {
	Source   stream.FrameSource
	Provider landmark.Provider
	Emitter  *emitter.Emitter
	Commands *control.Queue

	// Now and Sleep default to the wall clock
	Now   func() time.Time
	Sleep stream.Sleeper
}

// Session is the blink detection loop.
//
// Everything except the atomic counters is owned by the goroutine running
// Run. Other goroutines talk to it only through the command queue.
type Session struct {
	cfg      config.SessionConfig
	settings config.Settings

	source   stream.FrameSource
	provider landmark.Provider
	out      *emitter.Emitter
	commands *control.Queue

	debouncer *blink.Debouncer
	gate      scheduler.RateGate
	cadence   scheduler.Cadence
	cached    *types.FaceObservation

	tick         uint64
	readFailures int
	providerDown bool

	now   func() time.Time
	sleep stream.Sleeper

	state      atomic.Int32
	frames     atomic.Uint64
	detections atomic.Uint64
	blinks     atomic.Uint64
	videos     atomic.Uint64

	started   time.Time
	mu        sync.Mutex
	isRunning bool
}

// NewSession creates a session in the Idle state
func NewSession(cfg *config.Config, deps Deps) (*Session, error) {
	if deps.Source == nil || deps.Provider == nil || deps.Emitter == nil || deps.Commands == nil {
		return nil, fmt.Errorf("session requires a frame source, landmark provider, emitter and command queue")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Sleep == nil {
		deps.Sleep = stream.SleepContext
	}

	s := &Session{
		cfg:       cfg.Session,
		settings:  cfg.Settings(),
		source:    deps.Source,
		provider:  deps.Provider,
		out:       deps.Emitter,
		commands:  deps.Commands,
		debouncer: blink.NewDebouncer(cfg.Session.BlinkCooldown(), cfg.Session.DisplayHold()),
		now:       deps.Now,
		sleep:     deps.Sleep,
	}
	s.state.Store(int32(Idle))

	if s.debouncer.Hold() > s.debouncer.Cooldown() {
		slog.Warn("core: display hold exceeds blink cooldown, blink indicator may bridge consecutive blinks",
			"hold", s.debouncer.Hold(),
			"cooldown", s.debouncer.Cooldown(),
		)
	}

	return s, nil
}

// State returns the current lifecycle state; safe from any goroutine
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// Settings returns a copy of the live settings. Only call from the loop
// goroutine or after Run returned.
func (s *Session) Settings() config.Settings {
	return s.settings
}

func (s *Session) setState(next SessionState) {
	prev := SessionState(s.state.Swap(int32(next)))
	if prev != next {
		slog.Info("core: session state changed", "from", prev, "to", next)
	}
}

// Run drives the loop until ctx is done. The camera is released on return.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("session is already running")
	}
	s.isRunning = true
	s.started = s.now()
	s.mu.Unlock()

	defer func() {
		s.releaseCamera()
		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
	}()

	slog.Info("core: session running",
		"ear_threshold", s.settings.EARThreshold,
		"frame_skip", s.settings.FrameSkip,
		"target_fps", s.settings.TargetFPS,
		"processing_resolution", fmt.Sprintf("%dx%d", s.settings.ProcessingWidth, s.settings.ProcessingHeight),
	)

	for ctx.Err() == nil {
		s.step(ctx)
	}

	slog.Info("core: session loop exiting", "ticks", s.tick, "frames", s.frames.Load())
	return nil
}

// step runs one tick
func (s *Session) step(ctx context.Context) {
	s.drainCommands(ctx)

	if s.State() != Active {
		_ = s.sleep(ctx, s.cfg.IdleBackoff())
		return
	}

	now := s.now()
	if !s.gate.Due(now, s.settings.TargetFPS) {
		wait := s.gate.Wait(now, s.settings.TargetFPS)
		if poll := s.cfg.RatePoll(); poll > 0 && poll < wait {
			wait = poll
		}
		_ = s.sleep(ctx, wait)
		return
	}
	s.gate.MarkRead(now)

	frame, err := s.source.Read()
	if err != nil {
		s.readFailed(ctx, err)
		return
	}
	defer frame.Close()

	s.readFailures = 0
	s.frames.Add(1)
	s.process(frame, now)
}

// readFailed reports a failed read. Too many in a row release the camera.
func (s *Session) readFailed(ctx context.Context, err error) {
	s.readFailures++
	slog.Warn("core: frame read failed", "error", err, "consecutive", s.readFailures)
	s.out.Errorf("Failed to read frame")

	if limit := s.cfg.MaxConsecutiveFailure; limit > 0 && s.readFailures >= limit {
		s.out.Errorf("Camera stopped responding after %d failed reads", s.readFailures)
		s.releaseCamera()
		s.setState(Idle)
		return
	}
	_ = s.sleep(ctx, s.cfg.ReadFailurePause())
}

// process runs steps (e) to (j) for one read frame
func (s *Session) process(frame types.Frame, now time.Time) {
	w, h := s.settings.ProcessingWidth, s.settings.ProcessingHeight

	img := frame.Image
	if fw, fh := img.Size(); fw != w || fh != h {
		resized, err := img.Resize(w, h)
		if err != nil {
			s.out.Errorf("Failed to resize frame: %v", err)
			return
		}
		defer resized.Close()
		img = resized
	}

	var obs types.FaceObservation
	if s.cadence.Next(s.settings.FrameSkip) {
		obs = s.detect(img, now, frame.TraceID)
	} else {
		obs = s.reuse(now)
	}

	if err := s.out.Emit(emitter.FaceData{Observation: obs}); err != nil {
		slog.Error("core: failed to emit face data", "error", err)
	}

	if s.settings.VideoEnabled && obs.Detected && s.videoDue() {
		s.emitVideo(img)
	}

	s.tick++
}

func (s *Session) videoDue() bool {
	every := uint64(s.cfg.VideoEveryNTicks)
	if every == 0 {
		every = 1
	}
	return s.tick%every == 0
}

func (s *Session) emitVideo(img types.Image) {
	jpeg, err := img.EncodeJPEG(s.cfg.JPEGQuality)
	if err != nil {
		s.out.Debugf("Failed to encode video frame: %v", err)
		return
	}
	if err := s.out.Emit(emitter.VideoFrame{JPEG: jpeg}); err != nil {
		slog.Error("core: failed to emit video frame", "error", err)
		return
	}
	s.videos.Add(1)
}

// startCamera probes for a camera. The probe's test frame decides
// Probing -> Active; exhausted retries end in Error.
func (s *Session) startCamera(ctx context.Context) {
	s.setState(Probing)

	if err := s.source.Start(ctx); err != nil {
		if ctx.Err() != nil {
			s.setState(Idle)
			return
		}
		slog.Error("core: camera unavailable", "error", err)
		s.out.Errorf("Failed to open camera")
		s.setState(Error)
		return
	}

	s.resetPipeline()
	s.setState(Active)
	s.out.Statusf("Camera opened successfully")
}

// stopCamera releases the camera and disables video. No-op unless Active.
func (s *Session) stopCamera() {
	if s.State() != Active {
		slog.Debug("core: stop_camera ignored", "state", s.State())
		return
	}
	s.settings.VideoEnabled = false
	s.releaseCamera()
	s.setState(Idle)
}

// releaseCamera releases an open camera and reports it
func (s *Session) releaseCamera() {
	if !s.source.IsOpen() {
		return
	}
	if err := s.source.Stop(); err != nil {
		slog.Error("core: failed to release camera", "error", err)
	}
	s.cached = nil
	s.out.Statusf("Camera released")
}

// resetPipeline clears per-camera loop state
func (s *Session) resetPipeline() {
	s.gate.Reset()
	s.cadence.Reset()
	s.debouncer.Reset()
	s.cached = nil
	s.readFailures = 0
	s.tick = 0
}
