package capture

// platformBackends is the probe order on Windows
var platformBackends = []string{"dshow", "msmf", "any"}

// gstSource builds the GStreamer camera source for device index
func gstSource(index int) (factory string, props map[string]any) {
	return "ksvideosrc", map[string]any{"device-index": index}
}
