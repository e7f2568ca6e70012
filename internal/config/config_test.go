package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "blinkd.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	s := cfg.Session
	if s.EARThreshold != 0.25 || s.FrameSkip != 2 || s.TargetFPS != 15 {
		t.Errorf("session defaults = %+v", s)
	}
	if s.BlinkCooldown() != 500*time.Millisecond || s.DisplayHold() != 350*time.Millisecond {
		t.Errorf("timings = %v/%v", s.BlinkCooldown(), s.DisplayHold())
	}
	if s.JPEGQuality != 70 || s.VideoEveryNTicks != 3 {
		t.Errorf("video defaults = q%d every %d", s.JPEGQuality, s.VideoEveryNTicks)
	}
	if cfg.Camera.MaxDeviceIndex != 4 || cfg.Camera.ProbeAttempts != 3 {
		t.Errorf("camera defaults = %+v", cfg.Camera)
	}
	if cfg.Landmark.ModelPath != DefaultModelPath {
		t.Errorf("model path = %q", cfg.Landmark.ModelPath)
	}
	if cfg.MQTT.Enabled {
		t.Error("mqtt should be disabled by default")
	}
	if cfg.Log.Level != "info" {
		t.Errorf("log level = %q", cfg.Log.Level)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
session:
  ear_threshold: 0.3
  frame_skip: 3
  target_fps: 20
  processing_resolution: [320, 240]
camera:
  backends: [" V4L2 ", "any"]
mqtt:
  enabled: true
  broker: localhost:1883
log:
  level: DEBUG
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	s := cfg.Settings()
	want := Settings{EARThreshold: 0.3, FrameSkip: 3, TargetFPS: 20, ProcessingWidth: 320, ProcessingHeight: 240}
	if s != want {
		t.Errorf("Settings = %+v, want %+v", s, want)
	}
	if got := strings.Join(cfg.Camera.Backends, ","); got != "v4l2,any" {
		t.Errorf("backends = %q", got)
	}
	if cfg.MQTT.Topics.Control != "blinkd/control/blinkd" {
		t.Errorf("control topic = %q", cfg.MQTT.Topics.Control)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q", cfg.Log.Level)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"threshold above one", "session:\n  ear_threshold: 1.5\n"},
		{"negative frame skip", "session:\n  frame_skip: -1\n"},
		{"bad resolution", "session:\n  processing_resolution: [640]\n"},
		{"oversized resolution", "session:\n  processing_resolution: [8192, 480]\n"},
		{"jpeg quality", "session:\n  jpeg_quality: 101\n"},
		{"mqtt without broker", "mqtt:\n  enabled: true\n"},
		{"log level", "log:\n  level: loud\n"},
		{"yaml syntax", "session: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.content)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadExplicitZero(t *testing.T) {
	path := writeConfig(t, `
session:
  ear_threshold: 0
camera:
  max_device_index: 0
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Session.EARThreshold != 0 {
		t.Errorf("ear_threshold = %v, want explicit 0 kept", cfg.Session.EARThreshold)
	}
	if cfg.Camera.MaxDeviceIndex != 0 {
		t.Errorf("max_device_index = %d, want explicit 0 kept", cfg.Camera.MaxDeviceIndex)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BLINKD_MODEL_PATH", "/opt/models/face.dat")
	t.Setenv("BLINKD_MQTT_BROKER", "broker:1883")
	t.Setenv("BLINKD_LOG_LEVEL", "WARN")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Landmark.ModelPath != "/opt/models/face.dat" {
		t.Errorf("model path = %q", cfg.Landmark.ModelPath)
	}
	if !cfg.MQTT.Enabled || cfg.MQTT.Broker != "broker:1883" {
		t.Errorf("mqtt = %+v", cfg.MQTT)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("log level = %q", cfg.Log.Level)
	}
}

func TestResolvePaths(t *testing.T) {
	cfg := Default()
	base := filepath.FromSlash("/opt/blinkd")

	if got := cfg.ResolveModelPath(base); got != filepath.Join(base, DefaultModelPath) {
		t.Errorf("ResolveModelPath = %q", got)
	}

	cfg.Landmark.ModelPath = filepath.Join(t.TempDir(), "m.dat")
	if got := cfg.ResolveModelPath(base); got != cfg.Landmark.ModelPath {
		t.Errorf("absolute path rewritten to %q", got)
	}

	cfg.Landmark.Command = "landmark-helper"
	if got := cfg.ResolveLandmarkCommand(base); got != "landmark-helper" {
		t.Errorf("bare command resolved to %q", got)
	}
}

func TestSettingsSetters(t *testing.T) {
	s := Default().Settings()

	if v, err := s.SetEARThreshold(1.7); err != nil || v != 1 {
		t.Errorf("SetEARThreshold(1.7) = %v, %v; want clamp to 1", v, err)
	}
	if v, err := s.SetEARThreshold(-0.2); err != nil || v != 0 {
		t.Errorf("SetEARThreshold(-0.2) = %v, %v; want clamp to 0", v, err)
	}

	before := s
	if err := s.SetFrameSkip(0); err == nil {
		t.Error("SetFrameSkip(0) should fail")
	}
	if err := s.SetTargetFPS(-3); err == nil {
		t.Error("SetTargetFPS(-3) should fail")
	}
	if err := s.SetResolution(0, 480); err == nil {
		t.Error("SetResolution(0, 480) should fail")
	}
	if err := s.SetResolution(2000000000, 2000000000); err == nil {
		t.Error("SetResolution(2e9, 2e9) should fail")
	}
	if err := s.SetResolution(640, MaxProcessingDimension+1); err == nil {
		t.Error("SetResolution above the dimension bound should fail")
	}
	if s != before {
		t.Errorf("failed setters changed settings: %+v -> %+v", before, s)
	}

	if err := s.SetResolution(320, 240); err != nil || s.ProcessingWidth != 320 || s.ProcessingHeight != 240 {
		t.Errorf("SetResolution(320, 240) = %v, settings %+v", err, s)
	}
}
