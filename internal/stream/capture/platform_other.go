//go:build !linux && !darwin && !windows

package capture

// platformBackends is the probe order elsewhere
var platformBackends = []string{"any"}

// gstSource builds the GStreamer camera source for device index
func gstSource(index int) (factory string, props map[string]any) {
	return "autovideosrc", nil
}
