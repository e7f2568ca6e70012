package capture

import (
	"fmt"

	"gocv.io/x/gocv"

	"github.com/e7canasta/orion-blink/internal/config"
	"github.com/e7canasta/orion-blink/internal/stream"
)

var openCVAPIs = map[string]gocv.VideoCaptureAPI{
	"any":          gocv.VideoCaptureAny,
	"v4l2":         gocv.VideoCaptureV4L2,
	"avfoundation": gocv.VideoCaptureAVFoundation,
	"dshow":        gocv.VideoCaptureDshow,
	"msmf":         gocv.VideoCaptureMSMF,
}

// PlatformBackends returns the default probe order for this OS
func PlatformBackends() []string {
	return append([]string(nil), platformBackends...)
}

// Backends builds the ordered backend list from the camera configuration.
// An empty backend list means the platform order. GStreamer is appended
// when enabled and not already listed.
func Backends(cfg config.CameraConfig) ([]stream.Backend, error) {
	names := cfg.Backends
	if len(names) == 0 {
		names = PlatformBackends()
	}
	if cfg.GStreamer && !contains(names, "gstreamer") {
		names = append(append([]string(nil), names...), "gstreamer")
	}

	backends := make([]stream.Backend, 0, len(names))
	for _, name := range names {
		switch name {
		case "mock":
			backends = append(backends, stream.NewMockBackend())
		case "gstreamer":
			backends = append(backends, NewGStreamerBackend(cfg.ReadTimeout()))
		default:
			api, ok := openCVAPIs[name]
			if !ok {
				return nil, fmt.Errorf("unknown capture backend %q", name)
			}
			backends = append(backends, NewOpenCVBackend(name, api))
		}
	}
	return backends, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
