package config

import (
	"fmt"
	"math"
	"strings"
)

var logLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate checks if the configuration is valid and fills in defaults
func Validate(cfg *Config) error {
	if cfg.ShutdownTimeoutS <= 0 {
		cfg.ShutdownTimeoutS = 3
	}

	if err := validateSession(&cfg.Session); err != nil {
		return err
	}
	if err := validateCamera(&cfg.Camera); err != nil {
		return err
	}

	// Landmark helper
	if cfg.Landmark.Command == "" {
		cfg.Landmark.Command = "landmarks/run_landmarks.sh"
	}
	if cfg.Landmark.ModelPath == "" {
		cfg.Landmark.ModelPath = DefaultModelPath
	}
	if cfg.Landmark.RestartIntervalMS <= 0 {
		cfg.Landmark.RestartIntervalMS = 2000
	}

	// MQTT is optional; defaults only matter when enabled
	if cfg.MQTT.Enabled {
		if cfg.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
		}
		if cfg.MQTT.ClientID == "" {
			cfg.MQTT.ClientID = "blinkd"
		}
		if cfg.MQTT.Topics.Control == "" {
			cfg.MQTT.Topics.Control = fmt.Sprintf("blinkd/control/%s", cfg.MQTT.ClientID)
		}
		if cfg.MQTT.Topics.Telemetry == "" {
			cfg.MQTT.Topics.Telemetry = fmt.Sprintf("blinkd/telemetry/%s", cfg.MQTT.ClientID)
		}
		if cfg.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", cfg.MQTT.QoS)
		}
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	if !logLevels[cfg.Log.Level] {
		return fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", cfg.Log.Level)
	}

	return nil
}

func validateSession(s *SessionConfig) error {
	if math.IsNaN(s.EARThreshold) || s.EARThreshold < 0 || s.EARThreshold > 1 {
		return fmt.Errorf("session.ear_threshold must be in [0,1], got %v", s.EARThreshold)
	}
	if s.BlinkCooldownMS <= 0 {
		s.BlinkCooldownMS = 500
	}
	if s.DisplayHoldMS <= 0 {
		s.DisplayHoldMS = 350
	}

	if s.FrameSkip < 0 {
		return fmt.Errorf("session.frame_skip must be >= 1")
	}
	if s.FrameSkip == 0 {
		s.FrameSkip = 2
	}
	if s.TargetFPS < 0 {
		return fmt.Errorf("session.target_fps must be >= 1")
	}
	if s.TargetFPS == 0 {
		s.TargetFPS = 15
	}

	switch len(s.ProcessingResolution) {
	case 0:
		s.ProcessingResolution = []int{640, 480}
	case 2:
		if err := checkResolution(s.ProcessingResolution[0], s.ProcessingResolution[1]); err != nil {
			return fmt.Errorf("session.%w", err)
		}
	default:
		return fmt.Errorf("session.processing_resolution must be [width, height], got %v", s.ProcessingResolution)
	}

	if s.VideoEveryNTicks <= 0 {
		s.VideoEveryNTicks = 3
	}
	if s.JPEGQuality == 0 {
		s.JPEGQuality = 70
	}
	if s.JPEGQuality < 1 || s.JPEGQuality > 100 {
		return fmt.Errorf("session.jpeg_quality must be in [1,100], got %d", s.JPEGQuality)
	}
	if s.IdleBackoffMS <= 0 {
		s.IdleBackoffMS = 100
	}
	if s.RatePollMS <= 0 {
		s.RatePollMS = 5
	}
	if s.ReadFailurePauseMS <= 0 {
		s.ReadFailurePauseMS = 100
	}
	if s.MaxConsecutiveFailure <= 0 {
		s.MaxConsecutiveFailure = 50
	}
	if s.StatsIntervalS < 0 {
		s.StatsIntervalS = 0
	}
	return nil
}

func validateCamera(c *CameraConfig) error {
	if c.Width < 0 || c.Height < 0 || c.FPS < 0 {
		return fmt.Errorf("camera width, height and fps must be >= 0")
	}
	if c.Width == 0 {
		c.Width = 640
	}
	if c.Height == 0 {
		c.Height = 480
	}
	if c.FPS == 0 {
		c.FPS = 30
	}
	if c.MaxDeviceIndex < 0 {
		return fmt.Errorf("camera.max_device_index must be >= 0")
	}
	if c.ProbeAttempts <= 0 {
		c.ProbeAttempts = 3
	}
	if c.ProbeDelayMS <= 0 {
		c.ProbeDelayMS = 1000
	}
	if c.ReadTimeoutMS <= 0 {
		c.ReadTimeoutMS = 1000
	}
	for i, b := range c.Backends {
		c.Backends[i] = strings.ToLower(strings.TrimSpace(b))
	}
	return nil
}
