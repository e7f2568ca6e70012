package core

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/e7canasta/orion-blink/internal/emitter"
	"github.com/e7canasta/orion-blink/internal/landmark"
	"github.com/e7canasta/orion-blink/internal/types"
)

// metered is implemented by providers that count their own activity
type metered interface {
	Metrics() landmark.ProcessMetrics
}

// Status is a point-in-time snapshot of the session, safe to take from any goroutine
type Status struct {
	State         SessionState      `json:"state"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Frames        uint64            `json:"frames"`
	Detections    uint64            `json:"detections"`
	Blinks        uint64            `json:"blinks"`
	VideoFrames   uint64            `json:"video_frames"`
	Stream        types.StreamStats `json:"stream"`
	Sent          map[string]uint64 `json:"sent"`
	EmitErrors    uint64            `json:"emit_errors"`

	CommandsDropped uint64                   `json:"commands_dropped"`
	Landmark        *landmark.ProcessMetrics `json:"landmark,omitempty"`
}

// Status returns the current session snapshot
func (s *Session) Status() Status {
	s.mu.Lock()
	var uptime int64
	if s.isRunning {
		uptime = int64(s.now().Sub(s.started).Seconds())
	}
	s.mu.Unlock()

	out := s.out.Stats()
	st := Status{
		State:         s.State(),
		UptimeSeconds: uptime,
		Frames:        s.frames.Load(),
		Detections:    s.detections.Load(),
		Blinks:        s.blinks.Load(),
		VideoFrames:   s.videos.Load(),
		Stream:        s.source.Stats(),
		Sent:          out.Sent,
		EmitErrors:    out.Errors,

		CommandsDropped: s.commands.Dropped(),
	}
	if m, ok := s.provider.(metered); ok {
		pm := m.Metrics()
		st.Landmark = &pm
	}
	return st
}

// StartStatsLogger logs throughput and process CPU every interval until ctx is done
func (s *Session) StartStatsLogger(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		slog.Warn("core: process stats unavailable", "error", err)
		proc = nil
	}
	if proc != nil {
		// prime the CPU delta
		_, _ = proc.Percent(0)
	}

	prev := s.Status()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := s.Status()

			fields := []any{
				"state", st.State,
				"frames", st.Frames,
				"fps_real", st.Stream.FPSReal,
				"fps_target", st.Stream.FPSTarget,
				"fps_stable", st.Stream.FPSStable,
				"fps_jitter", st.Stream.FPSJitter,
				"detections_last_interval", st.Detections - prev.Detections,
				"blinks", st.Blinks,
				"read_failures", st.Stream.ReadFailures,
				"emit_errors", st.EmitErrors,
			}
			if sent := st.Sent[emitter.KeyVideo]; sent > 0 {
				fields = append(fields, "video_frames", sent)
			}
			if st.CommandsDropped > 0 {
				fields = append(fields, "commands_dropped", st.CommandsDropped)
			}
			if lm := st.Landmark; lm != nil {
				fields = append(fields,
					"landmark_calls", lm.Calls,
					"landmark_failures", lm.Failures,
					"landmark_restarts", lm.Restarts,
				)
			}
			if proc != nil {
				if cpu, err := proc.Percent(0); err == nil {
					fields = append(fields, "cpu_pct", int(cpu))
				}
				if mem, err := proc.MemoryInfo(); err == nil {
					fields = append(fields, "rss_mb", mem.RSS>>20)
				}
			}

			slog.Info("core: session stats", fields...)

			if st.State == Active && st.Frames == prev.Frames {
				slog.Warn("core: no frames read in last interval",
					"interval", interval,
					"action", "check camera connection")
			}
			prev = st
		}
	}
}
