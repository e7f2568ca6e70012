package capture

import "fmt"

// platformBackends is the probe order on Linux
var platformBackends = []string{"v4l2", "any"}

// gstSource builds the GStreamer camera source for device index
func gstSource(index int) (factory string, props map[string]any) {
	return "v4l2src", map[string]any{"device": fmt.Sprintf("/dev/video%d", index)}
}
