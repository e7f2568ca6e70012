package core

import (
	"errors"
	"log/slog"
	"time"

	"github.com/e7canasta/orion-blink/internal/ear"
	"github.com/e7canasta/orion-blink/internal/emitter"
	"github.com/e7canasta/orion-blink/internal/landmark"
	"github.com/e7canasta/orion-blink/internal/types"
)

// detect runs the landmark provider on img and caches the result.
// Only the largest face is reported and debounced.
func (s *Session) detect(img types.Image, now time.Time, traceID string) types.FaceObservation {
	s.detections.Add(1)
	s.cached = nil

	gray, err := img.Gray()
	if err != nil {
		s.out.Errorf("Failed to convert frame: %v", err)
		return types.NoFace()
	}

	faces, err := s.provider.DetectFaces(gray)
	if err != nil {
		s.providerFailed(err, traceID)
		return types.NoFace()
	}

	face, ok := types.PrimaryFace(faces)
	if !ok {
		s.providerRecovered()
		return types.NoFace()
	}

	landmarks, err := s.provider.LocateLandmarks(gray, face)
	if err != nil {
		s.providerFailed(err, traceID)
		return types.NoFace()
	}
	s.providerRecovered()

	left, right, ok := types.EyeContours(landmarks)
	if !ok {
		s.out.Debugf("Landmark set too short: %d points", len(landmarks))
		return types.NoFace()
	}
	value, err := ear.Face(left, right)
	if err != nil {
		s.out.Debugf("EAR unavailable: %v", err)
		return types.NoFace()
	}

	res := s.debouncer.Evaluate(value, s.settings.EARThreshold, now)
	if res.Event {
		s.blinks.Add(1)
		if err := s.out.Emit(emitter.NewBlink(value, now)); err != nil {
			slog.Error("core: failed to emit blink", "error", err)
		}
		slog.Debug("core: blink", "ear", value, "trace_id", traceID)
	}

	w, h := img.Size()
	eyes := make([]types.Point, 0, 2*types.EyePoints)
	for _, p := range left {
		eyes = append(eyes, p.Normalize(w, h))
	}
	for _, p := range right {
		eyes = append(eyes, p.Normalize(w, h))
	}

	obs := types.FaceObservation{
		Detected:     true,
		EAR:          value,
		Blink:        res.Visible,
		Rect:         types.NormalizeRect(face, w, h),
		EyeLandmarks: eyes,
	}
	s.cached = &obs
	return obs
}

// reuse derives this tick's observation from the cached one. Only the blink
// indicator is recomputed.
func (s *Session) reuse(now time.Time) types.FaceObservation {
	if s.cached == nil {
		return types.NoFace()
	}
	return s.cached.WithBlink(s.debouncer.Visible(now))
}

// providerFailed reports the first failure of a streak as an error message
func (s *Session) providerFailed(err error, traceID string) {
	slog.Warn("core: landmark provider failed", "error", err, "trace_id", traceID)
	if s.providerDown {
		return
	}
	s.providerDown = true
	if errors.Is(err, landmark.ErrUnavailable) {
		s.out.Errorf("Landmark provider unavailable")
		return
	}
	s.out.Errorf("Landmark detection failed: %v", err)
}

func (s *Session) providerRecovered() {
	if s.providerDown {
		s.providerDown = false
		slog.Info("core: landmark provider recovered")
	}
}
