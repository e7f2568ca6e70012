// Package landmark connects the session to the external face landmark model.
//
// The model itself runs out of process (see Process); the session only
// depends on the Provider contract: face rectangles from a grayscale frame,
// then 68 landmarks for one rectangle, with the eye contours at 36-41 and
// 42-47.
package landmark

import (
	"errors"
	"fmt"
	"image"
	"os"

	"github.com/e7canasta/orion-blink/internal/types"
)

var (
	// ErrModelMissing is returned when the landmark model file is absent
	ErrModelMissing = errors.New("landmark: model file not found")
	// ErrUnavailable is returned while a crashed helper waits to be restarted
	ErrUnavailable = errors.New("landmark: provider unavailable")
)

// Provider locates faces and facial landmarks
type Provider interface {
	// DetectFaces returns face rectangles in pixel coordinates
	DetectFaces(gray *image.Gray) ([]image.Rectangle, error)
	// LocateLandmarks returns the 68 landmark points of face in pixel coordinates
	LocateLandmarks(gray *image.Gray, face image.Rectangle) ([]types.Point, error)
}

// CheckModel verifies the model file exists and is a regular, non-empty file
func CheckModel(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrModelMissing, path)
		}
		return fmt.Errorf("failed to stat model %s: %w", path, err)
	}
	if !info.Mode().IsRegular() || info.Size() == 0 {
		return fmt.Errorf("%w: %s is not a model file", ErrModelMissing, path)
	}
	return nil
}
