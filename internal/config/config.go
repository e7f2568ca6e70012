package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultModelPath is where the landmark model is expected, relative to the executable
const DefaultModelPath = "models/shape_predictor_68_face_landmarks.dat"

// Defaults for keys where zero is a valid setting. They are seeded before
// the file is decoded so an explicit 0 survives.
const (
	DefaultEARThreshold   = 0.25
	DefaultMaxDeviceIndex = 4
)

// Config represents the complete blinkd configuration
type Config struct {
	ShutdownTimeoutS int            `yaml:"shutdown_timeout_s"` // Graceful shutdown timeout in seconds (default: 3)
	Session          SessionConfig  `yaml:"session"`
	Camera           CameraConfig   `yaml:"camera"`
	Landmark         LandmarkConfig `yaml:"landmark"`
	MQTT             MQTTConfig     `yaml:"mqtt"`
	Preview          PreviewConfig  `yaml:"preview"`
	Log              LogConfig      `yaml:"log"`
}

// SessionConfig contains the initial runtime settings and loop timings
type SessionConfig struct {
	EARThreshold          float64 `yaml:"ear_threshold"`            // blink when EAR drops below (default: 0.25)
	BlinkCooldownMS       int     `yaml:"blink_cooldown_ms"`        // min spacing between blink events (default: 500)
	DisplayHoldMS         int     `yaml:"display_hold_ms"`          // how long faceData.blink stays true (default: 350)
	FrameSkip             int     `yaml:"frame_skip"`               // detect every Nth read frame (default: 2)
	TargetFPS             int     `yaml:"target_fps"`               // read-rate gate (default: 15)
	ProcessingResolution  []int   `yaml:"processing_resolution"`    // [width, height] (default: [640, 480])
	VideoEveryNTicks      int     `yaml:"video_every_n_ticks"`      // video frame cadence (default: 3)
	JPEGQuality           int     `yaml:"jpeg_quality"`             // 1-100 (default: 70)
	IdleBackoffMS         int     `yaml:"idle_backoff_ms"`          // sleep when camera is not active (default: 100)
	RatePollMS            int     `yaml:"rate_poll_ms"`             // sleep when the rate gate is closed (default: 5)
	ReadFailurePauseMS    int     `yaml:"read_failure_pause_ms"`    // pause after a failed read (default: 100)
	MaxConsecutiveFailure int     `yaml:"max_consecutive_failures"` // failed reads before the camera is released (default: 50)
	StatsIntervalS        int     `yaml:"stats_interval_s"`         // stats log interval, 0 disables (default: 10)
}

// CameraConfig contains capture device settings
type CameraConfig struct {
	Width          int      `yaml:"width"`            // requested capture width (default: 640)
	Height         int      `yaml:"height"`           // requested capture height (default: 480)
	FPS            int      `yaml:"fps"`              // requested device fps (default: 30)
	MaxDeviceIndex int      `yaml:"max_device_index"` // probe indices 0..N (default: 4)
	ProbeAttempts  int      `yaml:"probe_attempts"`   // whole probe cycles before giving up (default: 3)
	ProbeDelayMS   int      `yaml:"probe_delay_ms"`   // fixed delay between cycles (default: 1000)
	Backends       []string `yaml:"backends"`         // override the platform backend order
	GStreamer      bool     `yaml:"gstreamer"`        // append the GStreamer appsink backend
	ReadTimeoutMS  int      `yaml:"read_timeout_ms"`  // bound for a single GStreamer pull (default: 1000)
}

// LandmarkConfig contains the landmark helper process settings
type LandmarkConfig struct {
	Command           string   `yaml:"command"`             // helper executable (default: landmarks/run_landmarks.sh)
	Args              []string `yaml:"args"`                // extra arguments
	ModelPath         string   `yaml:"model_path"`          // landmark model, relative to the executable when not absolute
	RestartIntervalMS int      `yaml:"restart_interval_ms"` // min spacing between helper respawns (default: 2000)
}

// MQTTConfig contains the optional MQTT broker settings
type MQTTConfig struct {
	Enabled  bool       `yaml:"enabled"`
	Broker   string     `yaml:"broker"`
	ClientID string     `yaml:"client_id"`
	Topics   MQTTTopics `yaml:"topics"`
	QoS      byte       `yaml:"qos"`
}

// MQTTTopics contains topic names
type MQTTTopics struct {
	Control   string `yaml:"control"`
	Telemetry string `yaml:"telemetry"`
}

// PreviewConfig contains the optional websocket preview server
type PreviewConfig struct {
	Addr string `yaml:"addr"` // e.g. "127.0.0.1:8765", empty disables
}

// LogConfig contains logging settings
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: info)
}

// Load reads and parses a YAML configuration file.
//
// A missing file is not an error: defaults are used. A .env file in the
// working directory, if present, is loaded before environment overrides
// are applied.
func Load(path string) (*Config, error) {
	cfg := newConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist):
		// defaults only
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// .env is optional
	_ = godotenv.Load()
	applyEnv(&cfg)

	// Validate configuration
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Default returns a validated configuration with every default applied
func Default() *Config {
	cfg := newConfig()
	if err := Validate(&cfg); err != nil {
		panic(fmt.Sprintf("default config is invalid: %v", err))
	}
	return &cfg
}

func newConfig() Config {
	var cfg Config
	cfg.Session.EARThreshold = DefaultEARThreshold
	cfg.Camera.MaxDeviceIndex = DefaultMaxDeviceIndex
	return cfg
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("BLINKD_MODEL_PATH"); v != "" {
		cfg.Landmark.ModelPath = v
	}
	if v := os.Getenv("BLINKD_LANDMARK_CMD"); v != "" {
		cfg.Landmark.Command = v
	}
	if v := os.Getenv("BLINKD_MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
		cfg.MQTT.Enabled = true
	}
	if v := os.Getenv("BLINKD_PREVIEW_ADDR"); v != "" {
		cfg.Preview.Addr = v
	}
	if v := os.Getenv("BLINKD_LOG_LEVEL"); v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}
}

// ResolveModelPath returns the landmark model path, resolving relative
// paths against baseDir (normally the executable's directory)
func (c *Config) ResolveModelPath(baseDir string) string {
	return resolve(c.Landmark.ModelPath, baseDir)
}

// ResolveLandmarkCommand resolves a relative helper path against baseDir.
// Bare command names are left for PATH lookup.
func (c *Config) ResolveLandmarkCommand(baseDir string) string {
	cmd := c.Landmark.Command
	if !strings.ContainsRune(cmd, filepath.Separator) && !strings.ContainsRune(cmd, '/') {
		return cmd
	}
	return resolve(cmd, baseDir)
}

func resolve(p, baseDir string) string {
	if filepath.IsAbs(p) || baseDir == "" {
		return p
	}
	return filepath.Join(baseDir, p)
}

// ShutdownTimeout returns the graceful shutdown timeout
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutS) * time.Second
}

// BlinkCooldown returns the minimum spacing between blink events
func (s SessionConfig) BlinkCooldown() time.Duration { return ms(s.BlinkCooldownMS) }

// DisplayHold returns how long the blink indicator stays visible
func (s SessionConfig) DisplayHold() time.Duration { return ms(s.DisplayHoldMS) }

// IdleBackoff returns the sleep used while the camera is not active
func (s SessionConfig) IdleBackoff() time.Duration { return ms(s.IdleBackoffMS) }

// RatePoll returns the sleep used while the rate gate is closed
func (s SessionConfig) RatePoll() time.Duration { return ms(s.RatePollMS) }

// ReadFailurePause returns the pause after a failed frame read
func (s SessionConfig) ReadFailurePause() time.Duration { return ms(s.ReadFailurePauseMS) }

// StatsInterval returns the stats log interval (zero disables)
func (s SessionConfig) StatsInterval() time.Duration {
	return time.Duration(s.StatsIntervalS) * time.Second
}

// ProbeDelay returns the fixed delay between probe cycles
func (c CameraConfig) ProbeDelay() time.Duration { return ms(c.ProbeDelayMS) }

// ReadTimeout returns the bound for a single GStreamer pull
func (c CameraConfig) ReadTimeout() time.Duration { return ms(c.ReadTimeoutMS) }

// RestartInterval returns the min spacing between helper respawns
func (l LandmarkConfig) RestartInterval() time.Duration { return ms(l.RestartIntervalMS) }

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}
