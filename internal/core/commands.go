package core

import (
	"context"
	"log/slog"

	"github.com/e7canasta/orion-blink/internal/control"
)

// drainCommands applies every queued line in arrival order
func (s *Session) drainCommands(ctx context.Context) {
	for _, line := range s.commands.Drain() {
		cmd, err := control.Parse([]byte(line))
		if err != nil {
			slog.Debug("core: command rejected", "error", err)
			s.out.Debugf("Invalid command: %v", err)
			continue
		}
		s.apply(ctx, cmd)
	}
}

// apply executes one command against settings and state
func (s *Session) apply(ctx context.Context, cmd control.Command) {
	slog.Debug("core: applying command", "command", cmd.Key())

	switch c := cmd.(type) {
	case control.SetEarThreshold:
		applied, err := s.settings.SetEARThreshold(c.Value)
		if err != nil {
			s.out.Debugf("Invalid ear_threshold: %v", err)
			return
		}
		s.out.Debugf("EAR threshold set to %.3f", applied)

	case control.SetFrameSkip:
		if err := s.settings.SetFrameSkip(c.Value); err != nil {
			s.out.Debugf("Invalid frame_skip: %v", err)
			return
		}
		s.out.Debugf("Frame skip set to %d", c.Value)

	case control.SetTargetFps:
		s.setTargetFPS(c.Value)

	case control.SetResolution:
		if err := s.settings.SetResolution(c.Width, c.Height); err != nil {
			s.out.Debugf("Invalid processing_resolution: %v", err)
			return
		}
		s.out.Debugf("Processing resolution set to %dx%d", c.Width, c.Height)

	case control.RequestVideo:
		s.settings.VideoEnabled = true
		s.out.Debugf("Video streaming enabled")

	case control.StartCamera:
		if !s.State().canStart() {
			s.out.Debugf("start_camera ignored: camera is %s", s.State())
			return
		}
		s.startCamera(ctx)

	case control.StopCamera:
		s.stopCamera()

	default:
		slog.Warn("core: unhandled command", "command", cmd.Key())
	}
}

// setTargetFPS updates the rate gate and re-applies the rate to an open device
func (s *Session) setTargetFPS(fps int) {
	prev := s.settings.TargetFPS
	if err := s.settings.SetTargetFPS(fps); err != nil {
		s.out.Debugf("Invalid target_fps: %v", err)
		return
	}
	s.out.Debugf("Target FPS set to %d", fps)

	if !s.source.IsOpen() {
		return
	}
	if err := s.source.SetTargetFPS(fps); err != nil {
		slog.Warn("core: device rejected target fps",
			"old_fps", prev,
			"new_fps", fps,
			"error", err,
		)
		s.out.Debugf("Camera could not apply target_fps %d: %v", fps, err)
	}
}
