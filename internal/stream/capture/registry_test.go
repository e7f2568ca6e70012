package capture

import (
	"testing"

	"github.com/e7canasta/orion-blink/internal/config"
	"github.com/e7canasta/orion-blink/internal/stream"
)

func TestBackendsDefaultOrder(t *testing.T) {
	backends, err := Backends(config.CameraConfig{})
	if err != nil {
		t.Fatalf("Backends: %v", err)
	}
	want := PlatformBackends()
	if len(backends) != len(want) {
		t.Fatalf("got %d backends, want %d", len(backends), len(want))
	}
	for i, b := range backends {
		if b.Name() != want[i] {
			t.Errorf("backend %d = %q, want %q", i, b.Name(), want[i])
		}
	}
}

func TestBackendsOverride(t *testing.T) {
	backends, err := Backends(config.CameraConfig{Backends: []string{"mock", "any"}, GStreamer: true})
	if err != nil {
		t.Fatalf("Backends: %v", err)
	}
	var names []string
	for _, b := range backends {
		names = append(names, b.Name())
	}
	if len(names) != 3 || names[0] != "mock" || names[1] != "any" || names[2] != "gstreamer" {
		t.Errorf("names = %v", names)
	}
}

func TestBackendsUnknown(t *testing.T) {
	if _, err := Backends(config.CameraConfig{Backends: []string{"firewire"}}); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestBuildCaps(t *testing.T) {
	got := buildCaps(streamMode(320, 240, 15))
	want := "video/x-raw,format=BGR,width=320,height=240,framerate=15/1"
	if got != want {
		t.Errorf("buildCaps = %q, want %q", got, want)
	}
}

func streamMode(w, h, fps int) stream.Negotiation {
	return stream.Negotiation{Width: w, Height: h, FPS: fps}
}
