package landmark

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/orion-blink/internal/types"
)

// cropMargin expands the face rectangle sent with a landmark request
const cropMargin = 0.25

// stopTimeout bounds the graceful helper exit in Stop
const stopTimeout = 2 * time.Second

// ProcessConfig configures the landmark helper subprocess
type ProcessConfig struct {
	Command         string
	Args            []string
	ModelPath       string
	RestartInterval time.Duration
}

// ProcessMetrics reports helper activity
type ProcessMetrics struct {
	Calls    uint64
	Failures uint64
	Restarts uint64
	PID      int
}

// helper is one spawned subprocess
type helper struct {
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	stdout   *bufio.Reader
	stopping atomic.Bool
	exited   chan struct{}
}

// Process is a Provider backed by an external landmark helper.
//
// Requests are length-prefixed msgpack frames written to the helper's stdin;
// each request is answered by exactly one frame on stdout. Calls are
// serialized and carry no deadline. A helper that crashes is respawned lazily
// on the next call, at most once per RestartInterval.
type Process struct {
	cfg ProcessConfig
	now func() time.Time

	callMu sync.Mutex // one request in flight
	nextID uint64

	// mu is never held across helper I/O, so Stop can always kill a
	// helper that stopped answering.
	mu        sync.Mutex
	ctx       context.Context
	h         *helper
	lastSpawn time.Time
	closed    bool
	wg        sync.WaitGroup

	calls    atomic.Uint64
	failures atomic.Uint64
	restarts atomic.Uint64
}

// NewProcess creates a helper client; the helper is spawned by Start
func NewProcess(cfg ProcessConfig) (*Process, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("landmark helper command is required")
	}
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("landmark model path is required")
	}

	slog.Info("landmark: helper configured",
		"command", cfg.Command,
		"model", cfg.ModelPath,
		"restart_interval", cfg.RestartInterval,
	)

	return &Process{cfg: cfg, now: time.Now}, nil
}

// Start spawns the helper. ctx bounds the helper's lifetime.
func (p *Process) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.h != nil {
		return fmt.Errorf("landmark helper already started")
	}
	p.ctx = ctx
	p.closed = false
	return p.spawnLocked()
}

func (p *Process) spawnLocked() error {
	args := append([]string{"--model", p.cfg.ModelPath}, p.cfg.Args...)
	cmd := exec.CommandContext(p.ctx, p.cfg.Command, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	p.lastSpawn = p.now()
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start landmark helper: %w", err)
	}

	h := &helper{
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReaderSize(stdout, 64<<10),
		exited: make(chan struct{}),
	}
	p.h = h

	slog.Info("landmark: helper spawned", "pid", cmd.Process.Pid)

	p.wg.Add(2)
	go p.logStderr(stderr)
	go p.waitProcess(h)

	return nil
}

// DetectFaces implements Provider
func (p *Process) DetectFaces(gray *image.Gray) ([]image.Rectangle, error) {
	b := gray.Bounds()
	if b.Empty() {
		return nil, nil
	}

	req := request{
		Op:     opDetect,
		Width:  b.Dx(),
		Height: b.Dy(),
		Pixels: packGray(gray, b),
	}
	var resp response
	if err := p.call(&req, &resp); err != nil {
		return nil, err
	}

	faces := make([]image.Rectangle, 0, len(resp.Faces))
	for _, f := range resp.Faces {
		if len(f) != 4 {
			return nil, fmt.Errorf("landmark helper returned malformed face %v", f)
		}
		r := image.Rect(f[0], f[1], f[2], f[3]).Add(b.Min)
		if !r.Empty() {
			faces = append(faces, r)
		}
	}
	return faces, nil
}

// LocateLandmarks implements Provider. Only the area around face is sent.
func (p *Process) LocateLandmarks(gray *image.Gray, face image.Rectangle) ([]types.Point, error) {
	crop := expand(face, cropMargin).Intersect(gray.Bounds())
	if crop.Empty() {
		return nil, fmt.Errorf("face %v outside frame %v", face, gray.Bounds())
	}

	rel := face.Sub(crop.Min)
	req := request{
		Op:     opLandmarks,
		Width:  crop.Dx(),
		Height: crop.Dy(),
		Pixels: packGray(gray, crop),
		Rect:   []int{rel.Min.X, rel.Min.Y, rel.Max.X, rel.Max.Y},
	}
	var resp response
	if err := p.call(&req, &resp); err != nil {
		return nil, err
	}

	if len(resp.Points) != types.LandmarkCount {
		return nil, fmt.Errorf("landmark helper returned %d points, want %d", len(resp.Points), types.LandmarkCount)
	}
	points := make([]types.Point, len(resp.Points))
	for i, pt := range resp.Points {
		if len(pt) != 2 {
			return nil, fmt.Errorf("landmark helper returned malformed point %d", i)
		}
		points[i] = types.Point{X: pt[0] + float64(crop.Min.X), Y: pt[1] + float64(crop.Min.Y)}
	}
	return points, nil
}

func (p *Process) call(req *request, resp *response) error {
	p.callMu.Lock()
	defer p.callMu.Unlock()

	h, err := p.acquire()
	if err != nil {
		return err
	}

	p.calls.Add(1)
	p.nextID++
	req.ID = p.nextID

	if err := writeFrame(h.stdin, req); err != nil {
		p.discard(h)
		return fmt.Errorf("landmark helper write: %w", err)
	}
	if err := readFrame(h.stdout, resp); err != nil {
		p.discard(h)
		return fmt.Errorf("landmark helper read: %w", err)
	}
	if resp.ID != req.ID {
		p.discard(h)
		return fmt.Errorf("landmark helper answered request %d, want %d", resp.ID, req.ID)
	}
	if resp.Error != "" {
		p.failures.Add(1)
		return fmt.Errorf("landmark helper: %s", resp.Error)
	}
	return nil
}

// acquire returns the live helper, respawning a dead one when allowed
func (p *Process) acquire() (*helper, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || p.ctx == nil {
		return nil, fmt.Errorf("%w: helper not running", ErrUnavailable)
	}
	if p.h != nil {
		select {
		case <-p.h.exited:
			p.discardLocked(p.h)
		default:
			return p.h, nil
		}
	}
	if err := p.respawnLocked(); err != nil {
		return nil, err
	}
	return p.h, nil
}

// respawnLocked restarts a crashed helper unless the last spawn was too recent
func (p *Process) respawnLocked() error {
	if since := p.now().Sub(p.lastSpawn); since < p.cfg.RestartInterval {
		return fmt.Errorf("%w: restart in %s", ErrUnavailable, p.cfg.RestartInterval-since)
	}
	if err := p.ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	p.restarts.Add(1)
	slog.Warn("landmark: respawning helper", "restarts", p.restarts.Load())
	if err := p.spawnLocked(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

// discard kills a helper whose stream is out of sync
func (p *Process) discard(h *helper) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.discardLocked(h)
}

func (p *Process) discardLocked(h *helper) {
	p.failures.Add(1)
	if p.h == h {
		p.h = nil
	}
	h.stopping.Store(true)
	h.stdin.Close()
	if h.cmd.Process != nil {
		_ = h.cmd.Process.Kill()
	}
}

// logStderr maps helper log levels onto slog
func (p *Process) logStderr(r io.Reader) {
	defer p.wg.Done()

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case containsAny(line, "[ERROR]", "[CRITICAL]"):
			slog.Error("landmark: helper error", "log", line)
		case containsAny(line, "[WARNING]", "[WARN]"):
			slog.Warn("landmark: helper warning", "log", line)
		default:
			slog.Debug("landmark: helper log", "log", line)
		}
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		slog.Debug("landmark: stderr closed", "error", err)
	}
}

// waitProcess reaps the helper
func (p *Process) waitProcess(h *helper) {
	defer p.wg.Done()
	defer close(h.exited)

	pid := h.cmd.Process.Pid
	err := h.cmd.Wait()

	switch {
	case h.stopping.Load():
		slog.Debug("landmark: helper exited (shutdown)", "pid", pid)
	case err != nil:
		slog.Error("landmark: helper exited unexpectedly", "pid", pid, "error", err)
	default:
		slog.Warn("landmark: helper exited", "pid", pid)
	}
}

// Stop closes the helper's stdin and kills it if it does not exit in time.
// A call blocked on a silent helper fails once the helper is gone.
func (p *Process) Stop() error {
	p.mu.Lock()
	p.closed = true
	h := p.h
	p.h = nil
	p.mu.Unlock()

	if h != nil {
		h.stopping.Store(true)
		h.stdin.Close()

		select {
		case <-h.exited:
		case <-time.After(stopTimeout):
			slog.Warn("landmark: helper stop timeout, force killing process")
			if err := h.cmd.Process.Kill(); err != nil {
				slog.Error("landmark: failed to kill helper", "error", err)
			}
		}
	}

	p.wg.Wait()

	slog.Info("landmark: helper stopped",
		"calls", p.calls.Load(),
		"failures", p.failures.Load(),
		"restarts", p.restarts.Load(),
	)
	return nil
}

// Metrics returns helper counters
func (p *Process) Metrics() ProcessMetrics {
	p.mu.Lock()
	defer p.mu.Unlock()

	m := ProcessMetrics{
		Calls:    p.calls.Load(),
		Failures: p.failures.Load(),
		Restarts: p.restarts.Load(),
	}
	if p.h != nil && p.h.cmd.Process != nil {
		m.PID = p.h.cmd.Process.Pid
	}
	return m
}

// packGray copies r out of g as tightly packed rows
func packGray(g *image.Gray, r image.Rectangle) []byte {
	w, h := r.Dx(), r.Dy()
	if g.Stride == w && r == g.Bounds() {
		return g.Pix[:w*h]
	}
	out := make([]byte, w*h)
	for y := 0; y < h; y++ {
		off := g.PixOffset(r.Min.X, r.Min.Y+y)
		copy(out[y*w:(y+1)*w], g.Pix[off:off+w])
	}
	return out
}

// expand grows r by frac of its size on every side
func expand(r image.Rectangle, frac float64) image.Rectangle {
	mx := int(float64(r.Dx()) * frac)
	my := int(float64(r.Dy()) * frac)
	return image.Rect(r.Min.X-mx, r.Min.Y-my, r.Max.X+mx, r.Max.Y+my)
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
