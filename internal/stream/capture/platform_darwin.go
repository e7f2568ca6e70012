package capture

// platformBackends is the probe order on macOS
var platformBackends = []string{"avfoundation", "any"}

// gstSource builds the GStreamer camera source for device index
func gstSource(index int) (factory string, props map[string]any) {
	return "avfvideosrc", map[string]any{"device-index": index}
}
