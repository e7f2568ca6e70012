package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/e7canasta/orion-blink/internal/config"
	"github.com/e7canasta/orion-blink/internal/control"
	"github.com/e7canasta/orion-blink/internal/core"
	"github.com/e7canasta/orion-blink/internal/emitter"
	"github.com/e7canasta/orion-blink/internal/landmark"
	"github.com/e7canasta/orion-blink/internal/stream"
	"github.com/e7canasta/orion-blink/internal/stream/capture"
)

const defaultConfigPath = "config/blinkd.yaml"

func main() {
	os.Exit(run())
}

func run() int {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	// stdout carries the host protocol, so logs go to stderr
	var logLevel slog.LevelVar
	if *debug {
		logLevel.Set(slog.LevelDebug)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: &logLevel,
	}))
	slog.SetDefault(logger)

	out := emitter.New(os.Stdout)
	out.Statusf("Starting blink detector...")

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		out.Errorf("Failed to load configuration: %v", err)
		return 1
	}
	if !*debug {
		if err := logLevel.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
			slog.Warn("invalid log level, keeping info", "level", cfg.Log.Level)
		}
	}

	slog.Info("starting blinkd",
		"config", *configPath,
		"debug", *debug,
		"backends", cfg.Camera.Backends,
	)

	// Model and helper paths are relative to the executable
	baseDir := executableDir()
	modelPath := cfg.ResolveModelPath(baseDir)
	if err := landmark.CheckModel(modelPath); err != nil {
		slog.Error("landmark model missing", "path", modelPath, "error", err)
		out.Errorf("Model file not found: %s", modelPath)
		return 1
	}

	backends, err := capture.Backends(cfg.Camera)
	if err != nil {
		slog.Error("invalid camera backends", "error", err)
		out.Errorf("Invalid camera configuration: %v", err)
		return 1
	}
	camera := stream.NewCamera(backends, stream.OptionsFromConfig(cfg.Camera))

	// Create context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	helper, err := landmark.NewProcess(landmark.ProcessConfig{
		Command:         cfg.ResolveLandmarkCommand(baseDir),
		Args:            cfg.Landmark.Args,
		ModelPath:       modelPath,
		RestartInterval: cfg.Landmark.RestartInterval(),
	})
	if err != nil {
		out.Errorf("Invalid landmark configuration: %v", err)
		return 1
	}
	// The helper outlives ctx so Stop can close it gracefully
	if err := helper.Start(context.Background()); err != nil {
		slog.Error("failed to start landmark helper", "error", err)
		out.Errorf("Failed to start landmark provider: %v", err)
		return 1
	}
	defer helper.Stop()

	queue := control.NewQueue(0)
	listener := control.Listen(ctx, os.Stdin, queue)

	// Optional MQTT mirror and control topic
	var mirror *emitter.MQTTMirror
	if cfg.MQTT.Enabled {
		mirror = emitter.NewMQTTMirror(cfg.MQTT)
		if err := mirror.Connect(ctx); err != nil {
			slog.Warn("mqtt unavailable, continuing without it", "broker", cfg.MQTT.Broker, "error", err)
			mirror = nil
		} else {
			defer mirror.Disconnect()
			out.AddMirror(mirror)

			source := control.NewMQTTSource(mirror.Client, cfg.MQTT.Topics.Control, cfg.MQTT.QoS, queue)
			if err := source.Start(); err != nil {
				slog.Warn("mqtt control topic unavailable", "error", err)
			} else {
				defer source.Stop()
			}
		}
	}

	// Optional websocket preview
	var preview *emitter.Preview
	if cfg.Preview.Addr != "" {
		preview = emitter.NewPreview(cfg.Preview.Addr)
		if err := preview.Start(); err != nil {
			slog.Warn("preview server unavailable", "addr", cfg.Preview.Addr, "error", err)
			preview = nil
		} else {
			out.AddMirror(preview)
		}
	}

	session, err := core.NewSession(cfg, core.Deps{
		Source:   camera,
		Provider: helper,
		Emitter:  out,
		Commands: queue,
	})
	if err != nil {
		slog.Error("failed to create session", "error", err)
		out.Errorf("Failed to start session: %v", err)
		return 1
	}

	go session.StartStatsLogger(ctx, cfg.Session.StatsInterval())

	// Run session in goroutine
	errChan := make(chan error, 1)
	go func() {
		errChan <- session.Run(ctx) // Always send, even if nil
	}()

	// Wait for shutdown signal, host disconnect or error
	finished := false
	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
	case <-listener.Done():
		slog.Info("command input closed, shutting down", "error", listener.Err())
	case err := <-errChan:
		finished = true
		if err != nil {
			slog.Error("session error", "error", err)
		}
	}

	out.Statusf("Stopping blink detector...")
	cancel()

	// Graceful shutdown
	shutdownTimeout := cfg.ShutdownTimeout()
	slog.Info("shutting down gracefully", "timeout", shutdownTimeout)

	if !finished {
		select {
		case <-errChan:
		case <-time.After(shutdownTimeout):
			slog.Error("session did not stop in time", "timeout", shutdownTimeout)
		}
	}

	if preview != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := preview.Stop(shutdownCtx); err != nil {
			slog.Error("preview shutdown failed", "error", err)
		}
	}

	if mirror != nil {
		ms := mirror.Stats()
		slog.Info("mqtt mirror stats",
			"published", ms.Published,
			"dropped", ms.Dropped,
			"errors", ms.Errors,
		)
	}

	final := session.Status()
	slog.Info("blinkd stopped",
		"frames", final.Frames,
		"blinks", final.Blinks,
		"commands_read", listener.Lines(),
		"commands_dropped", final.CommandsDropped,
	)
	return 0
}

// executableDir returns the directory of the running binary, or "" when unknown
func executableDir() string {
	exe, err := os.Executable()
	if err != nil {
		slog.Warn("cannot resolve executable path, using working directory", "error", err)
		return ""
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe)
}
