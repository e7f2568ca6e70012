package config

import (
	"fmt"
	"math"
)

// Settings is the live, command-mutable part of the configuration.
// It is owned by the session loop; every setter leaves it unchanged on error.
type Settings struct {
	EARThreshold     float64
	FrameSkip        int
	TargetFPS        int
	ProcessingWidth  int
	ProcessingHeight int
	VideoEnabled     bool
}

// Settings returns the initial runtime settings
func (c *Config) Settings() Settings {
	return Settings{
		EARThreshold:     c.Session.EARThreshold,
		FrameSkip:        c.Session.FrameSkip,
		TargetFPS:        c.Session.TargetFPS,
		ProcessingWidth:  c.Session.ProcessingResolution[0],
		ProcessingHeight: c.Session.ProcessingResolution[1],
	}
}

// SetEARThreshold clamps v into [0,1] and returns the applied value
func (s *Settings) SetEARThreshold(v float64) (float64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return s.EARThreshold, fmt.Errorf("ear_threshold must be a finite number")
	}
	s.EARThreshold = math.Min(1, math.Max(0, v))
	return s.EARThreshold, nil
}

// SetFrameSkip updates the detection cadence
func (s *Settings) SetFrameSkip(n int) error {
	if n < 1 {
		return fmt.Errorf("frame_skip must be >= 1, got %d", n)
	}
	s.FrameSkip = n
	return nil
}

// SetTargetFPS updates the read-rate gate
func (s *Settings) SetTargetFPS(n int) error {
	if n < 1 {
		return fmt.Errorf("target_fps must be >= 1, got %d", n)
	}
	s.TargetFPS = n
	return nil
}

// MaxProcessingDimension bounds each side of the processing resolution
const MaxProcessingDimension = 4096

// SetResolution updates the processing resolution
func (s *Settings) SetResolution(w, h int) error {
	if err := checkResolution(w, h); err != nil {
		return err
	}
	s.ProcessingWidth = w
	s.ProcessingHeight = h
	return nil
}

func checkResolution(w, h int) error {
	if w < 1 || h < 1 || w > MaxProcessingDimension || h > MaxProcessingDimension {
		return fmt.Errorf("processing_resolution must be within [1, %d], got [%d, %d]", MaxProcessingDimension, w, h)
	}
	return nil
}
