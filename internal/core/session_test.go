package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/e7canasta/orion-blink/internal/config"
	"github.com/e7canasta/orion-blink/internal/control"
	"github.com/e7canasta/orion-blink/internal/emitter"
	"github.com/e7canasta/orion-blink/internal/landmark"
	"github.com/e7canasta/orion-blink/internal/stream"
	"github.com/e7canasta/orion-blink/internal/types"
)

// manualClock advances only when told to or when the session sleeps
type manualClock struct{ t time.Time }

func (c *manualClock) Now() time.Time          { return c.t }
func (c *manualClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func (c *manualClock) Sleep(ctx context.Context, d time.Duration) error {
	c.Advance(d)
	return ctx.Err()
}

// fakeProvider reports one face whose eyes produce the scripted EAR values.
// The last value repeats once the script is exhausted.
type fakeProvider struct {
	ears    []float64
	noFace  bool
	err     error
	detects int
	locates int
}

var fakeFace = image.Rect(200, 120, 440, 360)

func (p *fakeProvider) DetectFaces(gray *image.Gray) ([]image.Rectangle, error) {
	p.detects++
	if p.err != nil {
		return nil, p.err
	}
	if p.noFace {
		return nil, nil
	}
	return []image.Rectangle{image.Rect(0, 0, 10, 10), fakeFace}, nil
}

func (p *fakeProvider) LocateLandmarks(gray *image.Gray, face image.Rectangle) ([]types.Point, error) {
	value := 0.3
	if len(p.ears) > 0 {
		i := p.locates
		if i >= len(p.ears) {
			i = len(p.ears) - 1
		}
		value = p.ears[i]
	}
	p.locates++
	return landmarksWithEAR(value), nil
}

// landmarksWithEAR builds 68 points whose eye contours have the given EAR.
// Eyes are 30px wide, so the eye opening is ear*30.
func landmarksWithEAR(ear float64) []types.Point {
	pts := make([]types.Point, types.LandmarkCount)
	half := ear * 30 / 2
	eye := func(start int, x, y float64) {
		pts[start+0] = types.Point{X: x, Y: y}
		pts[start+1] = types.Point{X: x + 10, Y: y - half}
		pts[start+2] = types.Point{X: x + 20, Y: y - half}
		pts[start+3] = types.Point{X: x + 30, Y: y}
		pts[start+4] = types.Point{X: x + 20, Y: y + half}
		pts[start+5] = types.Point{X: x + 10, Y: y + half}
	}
	eye(types.LeftEyeStart, 260, 200)
	eye(types.RightEyeStart, 350, 200)
	return pts
}

// meteredProvider adds call counters to a fakeProvider
type meteredProvider struct{ *fakeProvider }

func (p meteredProvider) Metrics() landmark.ProcessMetrics {
	return landmark.ProcessMetrics{Calls: uint64(p.detects + p.locates)}
}

type harness struct {
	session  *Session
	camera   *stream.Camera
	backend  *stream.MockBackend
	provider *fakeProvider
	queue    *control.Queue
	clock    *manualClock
	out      *bytes.Buffer
}

func newHarness(t *testing.T, mutate func(*config.Config)) *harness {
	t.Helper()

	cfg := config.Default()
	cfg.Session.TargetFPS = 1000
	cfg.Session.FrameSkip = 1
	if mutate != nil {
		mutate(cfg)
	}

	clock := &manualClock{t: time.Unix(1700000000, 0)}
	backend := stream.NewMockBackend()
	opts := stream.OptionsFromConfig(cfg.Camera)
	opts.Sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	opts.Now = clock.Now
	camera := stream.NewCamera([]stream.Backend{backend}, opts)

	h := &harness{
		camera:   camera,
		backend:  backend,
		provider: &fakeProvider{},
		queue:    control.NewQueue(16),
		clock:    clock,
		out:      &bytes.Buffer{},
	}

	s, err := NewSession(cfg, Deps{
		Source:   camera,
		Provider: h.provider,
		Emitter:  emitter.New(h.out),
		Commands: h.queue,
		Now:      clock.Now,
		Sleep:    clock.Sleep,
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	h.session = s
	t.Cleanup(func() { camera.Stop() })
	return h
}

func (h *harness) send(t *testing.T, lines ...string) {
	t.Helper()
	for _, l := range lines {
		if !h.queue.TryPush(l) {
			t.Fatalf("queue full pushing %s", l)
		}
	}
}

// readFrames steps the loop until n more frames have been processed
func (h *harness) readFrames(t *testing.T, n int) {
	t.Helper()
	target := h.session.frames.Load() + uint64(n)
	for i := 0; i < 1000 && h.session.frames.Load() < target; i++ {
		h.session.step(context.Background())
	}
	if got := h.session.frames.Load(); got < target {
		t.Fatalf("read %d frames, want %d", got, target)
	}
}

// messages decodes every emitted line
func (h *harness) messages(t *testing.T) []emitter.Message {
	t.Helper()
	var msgs []emitter.Message
	for _, line := range strings.Split(strings.TrimSpace(h.out.String()), "\n") {
		if line == "" {
			continue
		}
		msg, err := emitter.Unmarshal([]byte(line))
		if err != nil {
			t.Fatalf("invalid output line %q: %v", line, err)
		}
		msgs = append(msgs, msg)
	}
	return msgs
}

func countKey(msgs []emitter.Message, key string) int {
	n := 0
	for _, m := range msgs {
		if m.Key() == key {
			n++
		}
	}
	return n
}

func hasStatus(msgs []emitter.Message, text string) bool {
	for _, m := range msgs {
		if st, ok := m.(emitter.Status); ok && st.Text == text {
			return true
		}
	}
	return false
}

func TestNewSessionRequiresDeps(t *testing.T) {
	if _, err := NewSession(config.Default(), Deps{}); err == nil {
		t.Error("expected error for missing dependencies")
	}
}

func TestStopWhenIdleIsNoop(t *testing.T) {
	h := newHarness(t, nil)
	h.send(t, `{"stop_camera": true}`)

	h.session.step(context.Background())

	if got := h.session.State(); got != Idle {
		t.Errorf("state = %s, want idle", got)
	}
	if h.out.Len() != 0 {
		t.Errorf("unexpected output: %s", h.out.String())
	}
	if len(h.backend.Opened()) != 0 {
		t.Error("camera should not be touched")
	}
}

func TestStartCamera(t *testing.T) {
	h := newHarness(t, nil)
	h.send(t, `{"start_camera": true}`)

	h.session.step(context.Background())

	if got := h.session.State(); got != Active {
		t.Fatalf("state = %s, want active", got)
	}
	if !hasStatus(h.messages(t), "Camera opened successfully") {
		t.Errorf("missing open status in %s", h.out.String())
	}

	// a second start while active changes nothing
	h.send(t, `{"start_camera": true}`)
	h.session.step(context.Background())
	if n := len(h.backend.Opened()); n != 1 {
		t.Errorf("opened %d devices, want 1", n)
	}
}

func TestStartCameraUnavailable(t *testing.T) {
	h := newHarness(t, nil)
	h.backend.Devices = []int{}
	h.send(t, `{"start_camera": true}`)

	h.session.step(context.Background())

	if got := h.session.State(); got != Error {
		t.Fatalf("state = %s, want error", got)
	}
	if countKey(h.messages(t), emitter.KeyError) != 1 {
		t.Errorf("want one error message, got %s", h.out.String())
	}

	// start_camera retries from Error
	h.backend.Devices = nil
	h.send(t, `{"start_camera": true}`)
	h.session.step(context.Background())
	if got := h.session.State(); got != Active {
		t.Errorf("state = %s, want active after retry", got)
	}
}

func TestEndToEndBlink(t *testing.T) {
	h := newHarness(t, nil)
	h.provider.ears = []float64{0.35, 0.28, 0.35}
	h.send(t, `{"ear_threshold": 0.3}`, `{"start_camera": true}`)

	h.readFrames(t, 3)

	msgs := h.messages(t)
	blinkAt := -1
	for i, m := range msgs {
		if b, ok := m.(emitter.Blink); ok {
			if b.EAR >= 0.3 {
				t.Errorf("blink ear = %v, want < 0.3", b.EAR)
			}
			blinkAt = i
			break
		}
	}
	if blinkAt < 0 {
		t.Fatalf("no blink message in %s", h.out.String())
	}
	if blinkAt+1 >= len(msgs) {
		t.Fatal("no message after blink")
	}
	fd, ok := msgs[blinkAt+1].(emitter.FaceData)
	if !ok {
		t.Fatalf("message after blink is %s, want faceData", msgs[blinkAt+1].Key())
	}
	if !fd.Observation.Blink || !fd.Observation.Detected {
		t.Errorf("faceData after blink = %+v, want detected with blink", fd.Observation)
	}
	if n := countKey(msgs, emitter.KeyBlink); n != 1 {
		t.Errorf("got %d blink messages, want 1", n)
	}
}

func TestFaceDataShape(t *testing.T) {
	h := newHarness(t, nil)
	h.send(t, `{"start_camera": true}`)
	h.readFrames(t, 1)

	var fd *emitter.FaceData
	for _, m := range h.messages(t) {
		if f, ok := m.(emitter.FaceData); ok {
			fd = &f
		}
	}
	if fd == nil {
		t.Fatal("no faceData")
	}

	obs := fd.Observation
	if len(obs.EyeLandmarks) != 12 {
		t.Fatalf("got %d eye landmarks, want 12", len(obs.EyeLandmarks))
	}
	want := types.NormalizeRect(fakeFace, 640, 480)
	if obs.Rect != want {
		t.Errorf("rect = %+v, want largest face %+v", obs.Rect, want)
	}
	for _, p := range obs.EyeLandmarks {
		if p.X < 0 || p.X > 1 || p.Y < 0 || p.Y > 1 {
			t.Errorf("eye point %+v not normalized", p)
		}
	}
}

func TestNoFace(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Session.FrameSkip = 2 })
	h.provider.noFace = true
	h.send(t, `{"start_camera": true}`, `{"request_video": true}`)

	h.readFrames(t, 2)

	msgs := h.messages(t)
	if n := countKey(msgs, emitter.KeyFaceData); n != 2 {
		t.Fatalf("got %d faceData, want 2", n)
	}
	for _, m := range msgs {
		if fd, ok := m.(emitter.FaceData); ok && fd.Observation.Detected {
			t.Errorf("unexpected face: %+v", fd.Observation)
		}
	}
	if n := countKey(msgs, emitter.KeyVideo); n != 0 {
		t.Errorf("got %d video frames without a face", n)
	}
}

func TestFrameSkipReuse(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Session.FrameSkip = 3 })
	h.provider.ears = []float64{0.30, 0.32, 0.34}
	h.send(t, `{"start_camera": true}`)

	h.readFrames(t, 9)

	if h.provider.detects != 3 {
		t.Errorf("detections = %d, want 3 (frames 0, 3, 6)", h.provider.detects)
	}

	var faces []types.FaceObservation
	for _, m := range h.messages(t) {
		if fd, ok := m.(emitter.FaceData); ok {
			faces = append(faces, fd.Observation)
		}
	}
	if len(faces) != 9 {
		t.Fatalf("got %d faceData, want one per frame", len(faces))
	}

	for i, obs := range faces {
		detected := faces[i-i%3]
		if !obs.Detected {
			t.Errorf("tick %d: no face", i)
			continue
		}
		obs.Blink = detected.Blink
		if !reflect.DeepEqual(obs, detected) {
			t.Errorf("tick %d = %+v, want reuse of tick %d %+v", i, obs, i-i%3, detected)
		}
	}
	if faces[0].EAR == faces[3].EAR || faces[3].EAR == faces[6].EAR {
		t.Errorf("each detection should refresh the EAR: %v %v %v", faces[0].EAR, faces[3].EAR, faces[6].EAR)
	}
}

func TestFrameSkipCommand(t *testing.T) {
	h := newHarness(t, nil)
	h.send(t, `{"start_camera": true}`, `{"frame_skip": 4}`)

	h.readFrames(t, 8)

	if h.provider.detects != 2 {
		t.Errorf("detections = %d, want 2", h.provider.detects)
	}
}

func TestDisplayHoldOnReuse(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.Session.FrameSkip = 100
		c.Session.BlinkCooldownMS = 500
		c.Session.DisplayHoldMS = 350
	})
	h.provider.ears = []float64{0.1}
	h.send(t, `{"start_camera": true}`)

	h.readFrames(t, 1)
	start := h.clock.Now()

	lastFaceData := func() types.FaceObservation {
		t.Helper()
		msgs := h.messages(t)
		for i := len(msgs) - 1; i >= 0; i-- {
			if fd, ok := msgs[i].(emitter.FaceData); ok {
				return fd.Observation
			}
		}
		t.Fatal("no faceData")
		return types.FaceObservation{}
	}

	if !lastFaceData().Blink {
		t.Fatal("detection tick should show the blink")
	}

	h.clock.t = start.Add(200 * time.Millisecond)
	h.readFrames(t, 1)
	if !lastFaceData().Blink {
		t.Error("reused tick at 0.2s should still show the blink")
	}

	h.clock.t = start.Add(500 * time.Millisecond)
	h.readFrames(t, 1)
	if lastFaceData().Blink {
		t.Error("reused tick at 0.5s should not show the blink")
	}

	if h.provider.detects != 1 {
		t.Errorf("detections = %d, want 1", h.provider.detects)
	}
}

func TestVideoCadence(t *testing.T) {
	h := newHarness(t, nil)
	h.send(t, `{"start_camera": true}`, `{"request_video": true}`)

	h.readFrames(t, 6)

	msgs := h.messages(t)
	if n := countKey(msgs, emitter.KeyVideo); n != 2 {
		t.Errorf("got %d video frames over 6 ticks, want 2", n)
	}
	for _, m := range msgs {
		if v, ok := m.(emitter.VideoFrame); ok && !bytes.HasPrefix(v.JPEG, []byte{0xff, 0xd8}) {
			t.Error("video frame is not a JPEG")
		}
	}
}

func TestStopCameraDisablesVideo(t *testing.T) {
	h := newHarness(t, nil)
	h.send(t, `{"start_camera": true}`, `{"request_video": true}`)
	h.readFrames(t, 1)

	h.send(t, `{"stop_camera": true}`)
	h.session.step(context.Background())

	if got := h.session.State(); got != Idle {
		t.Errorf("state = %s, want idle", got)
	}
	if h.session.Settings().VideoEnabled {
		t.Error("video should be disabled after stop")
	}
	if h.camera.IsOpen() {
		t.Error("camera should be released")
	}
	if !hasStatus(h.messages(t), "Camera released") {
		t.Errorf("missing release status in %s", h.out.String())
	}
}

func TestReadFailureContinues(t *testing.T) {
	h := newHarness(t, nil)
	h.send(t, `{"start_camera": true}`)
	h.session.step(context.Background())

	h.backend.FailReads.Store(true)
	for i := 0; i < 5; i++ {
		h.session.step(context.Background())
	}

	if got := h.session.State(); got != Active {
		t.Errorf("state = %s, want active after transient failures", got)
	}
	if n := countKey(h.messages(t), emitter.KeyError); n == 0 {
		t.Error("want error messages for failed reads")
	}

	h.backend.FailReads.Store(false)
	h.readFrames(t, 1)
}

func TestRepeatedReadFailuresReleaseCamera(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Session.MaxConsecutiveFailure = 3 })
	h.send(t, `{"start_camera": true}`)
	h.session.step(context.Background())

	h.backend.FailReads.Store(true)
	for i := 0; i < 20 && h.session.State() == Active; i++ {
		h.session.step(context.Background())
	}

	if got := h.session.State(); got != Idle {
		t.Fatalf("state = %s, want idle", got)
	}
	if h.camera.IsOpen() {
		t.Error("camera should be released")
	}
	if !hasStatus(h.messages(t), "Camera released") {
		t.Error("missing release status")
	}
}

func TestInvalidCommands(t *testing.T) {
	h := newHarness(t, nil)
	before := h.session.Settings()

	h.send(t,
		`not json`,
		`{"frame_skip": 0}`,
		`{"target_fps": -1}`,
		`{"bogus": 1}`,
		`{"processing_resolution": [0, 10]}`,
	)
	h.session.step(context.Background())

	if got := h.session.Settings(); got != before {
		t.Errorf("settings changed: %+v -> %+v", before, got)
	}
	msgs := h.messages(t)
	if n := countKey(msgs, emitter.KeyDebug); n != 5 {
		t.Errorf("got %d debug messages, want 5: %s", n, h.out.String())
	}
	if n := countKey(msgs, emitter.KeyError); n != 0 {
		t.Errorf("malformed commands must not produce errors")
	}
}

func TestSettingsCommands(t *testing.T) {
	h := newHarness(t, nil)
	h.send(t,
		`{"ear_threshold": 1.7}`,
		`{"processing_resolution": [320, 240]}`,
		`{"target_fps": 12}`,
	)
	h.session.step(context.Background())

	got := h.session.Settings()
	if got.EARThreshold != 1 {
		t.Errorf("threshold = %v, want clamped to 1", got.EARThreshold)
	}
	if got.ProcessingWidth != 320 || got.ProcessingHeight != 240 {
		t.Errorf("resolution = %dx%d", got.ProcessingWidth, got.ProcessingHeight)
	}
	if got.TargetFPS != 12 {
		t.Errorf("target fps = %d", got.TargetFPS)
	}
}

func TestTargetFPSReappliedToCamera(t *testing.T) {
	h := newHarness(t, nil)
	h.send(t, `{"start_camera": true}`)
	h.session.step(context.Background())

	h.send(t, `{"target_fps": 10}`)
	h.session.step(context.Background())

	if got := h.camera.Stats().FPSTarget; got != 10 {
		t.Errorf("camera fps target = %d, want 10", got)
	}
}

func TestProcessingResolution(t *testing.T) {
	h := newHarness(t, nil)
	h.send(t, `{"start_camera": true}`, `{"processing_resolution": [320, 240]}`)
	h.readFrames(t, 1)

	for _, m := range h.messages(t) {
		if fd, ok := m.(emitter.FaceData); ok {
			want := types.NormalizeRect(fakeFace, 320, 240)
			if fd.Observation.Rect != want {
				t.Errorf("rect = %+v, want %+v", fd.Observation.Rect, want)
			}
		}
	}
}

func TestOversizedResolutionRejected(t *testing.T) {
	h := newHarness(t, nil)
	h.send(t, `{"start_camera": true}`, `{"processing_resolution": [2000000000, 2000000000]}`)

	h.readFrames(t, 5)

	got := h.session.Settings()
	if got.ProcessingWidth != 640 || got.ProcessingHeight != 480 {
		t.Errorf("resolution = %dx%d, want 640x480 unchanged", got.ProcessingWidth, got.ProcessingHeight)
	}
	msgs := h.messages(t)
	if n := countKey(msgs, emitter.KeyDebug); n != 1 {
		t.Errorf("got %d debug messages, want 1: %s", n, h.out.String())
	}
	if n := countKey(msgs, emitter.KeyFaceData); n != 5 {
		t.Errorf("got %d faceData, want 5", n)
	}
}

func TestProviderFailureReportedOnce(t *testing.T) {
	h := newHarness(t, nil)
	h.provider.err = errors.New("helper crashed")
	h.send(t, `{"start_camera": true}`)

	h.readFrames(t, 4)

	msgs := h.messages(t)
	if n := countKey(msgs, emitter.KeyError); n != 1 {
		t.Errorf("got %d error messages, want 1", n)
	}
	if n := countKey(msgs, emitter.KeyFaceData); n != 4 {
		t.Errorf("got %d faceData, want 4", n)
	}
}

func TestRunReleasesCameraOnCancel(t *testing.T) {
	h := newHarness(t, nil)
	h.send(t, `{"start_camera": true}`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sleeps := 0
	h.session.sleep = func(ctx context.Context, d time.Duration) error {
		h.clock.Advance(d)
		sleeps++
		if sleeps >= 10 {
			cancel()
		}
		return ctx.Err()
	}

	if err := h.session.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if h.camera.IsOpen() {
		t.Error("camera should be released when Run returns")
	}
	if !hasStatus(h.messages(t), "Camera released") {
		t.Error("missing release status")
	}
	if h.session.frames.Load() == 0 {
		t.Error("no frames read before cancel")
	}
}

func TestStatus(t *testing.T) {
	h := newHarness(t, nil)
	h.send(t, `{"start_camera": true}`)
	h.readFrames(t, 2)

	st := h.session.Status()
	if st.State != Active || st.Frames != 2 || st.Detections != 2 {
		t.Errorf("status = %+v", st)
	}
	if st.Sent[emitter.KeyFaceData] != 2 {
		t.Errorf("sent faceData = %d, want 2", st.Sent[emitter.KeyFaceData])
	}

	data, err := json.Marshal(st)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !bytes.Contains(data, []byte(`"state":"active"`)) {
		t.Errorf("state not encoded by name: %s", data)
	}
}

func TestStatusReportsProviderMetrics(t *testing.T) {
	h := newHarness(t, nil)
	h.session.provider = meteredProvider{h.provider}
	h.send(t, `{"start_camera": true}`)
	h.readFrames(t, 2)

	st := h.session.Status()
	if st.Landmark == nil {
		t.Fatal("landmark metrics missing")
	}
	if st.Landmark.Calls != 4 {
		t.Errorf("landmark calls = %d, want 4", st.Landmark.Calls)
	}
	if st.CommandsDropped != 0 {
		t.Errorf("commands dropped = %d", st.CommandsDropped)
	}
}

func TestCameraRestartClearsBlinkHold(t *testing.T) {
	h := newHarness(t, nil)
	h.provider.ears = []float64{0.1, 0.3}
	h.send(t, `{"start_camera": true}`)
	h.readFrames(t, 1)

	h.send(t, `{"stop_camera": true}`)
	h.session.step(context.Background())
	h.send(t, `{"start_camera": true}`)
	h.readFrames(t, 1)

	var last types.FaceObservation
	for _, m := range h.messages(t) {
		if fd, ok := m.(emitter.FaceData); ok {
			last = fd.Observation
		}
	}
	if !last.Detected {
		t.Fatal("no face after restart")
	}
	if last.Blink {
		t.Error("blink from before the restart is still shown")
	}
}

func TestSessionStateString(t *testing.T) {
	tests := []struct {
		state SessionState
		want  string
	}{
		{Idle, "idle"},
		{Probing, "probing"},
		{Active, "active"},
		{Error, "error"},
		{SessionState(9), "SessionState(9)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("got %q, want %q", got, tt.want)
		}
	}
}
