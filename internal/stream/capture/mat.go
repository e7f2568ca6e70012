// Package capture provides the native camera backends: OpenCV (gocv) per
// platform API and a GStreamer appsink pipeline.
package capture

import (
	"errors"
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/e7canasta/orion-blink/internal/types"
)

// MatImage wraps a BGR gocv.Mat as a types.Image
type MatImage struct {
	mat gocv.Mat
}

// NewMatImage takes ownership of mat
func NewMatImage(mat gocv.Mat) *MatImage {
	return &MatImage{mat: mat}
}

// Size implements types.Image
func (m *MatImage) Size() (int, int) {
	return m.mat.Cols(), m.mat.Rows()
}

// Resize implements types.Image
func (m *MatImage) Resize(width, height int) (types.Image, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid size %dx%d", width, height)
	}
	dst := gocv.NewMat()
	gocv.Resize(m.mat, &dst, image.Pt(width, height), 0, 0, gocv.InterpolationLinear)
	if dst.Empty() {
		dst.Close()
		return nil, errors.New("resize produced an empty frame")
	}
	return &MatImage{mat: dst}, nil
}

// Gray implements types.Image
func (m *MatImage) Gray() (*image.Gray, error) {
	gray := gocv.NewMat()
	defer gray.Close()

	gocv.CvtColor(m.mat, &gray, gocv.ColorBGRToGray)
	if gray.Empty() {
		return nil, errors.New("grayscale conversion failed")
	}

	cols, rows := gray.Cols(), gray.Rows()
	return &image.Gray{
		Pix:    gray.ToBytes(),
		Stride: cols,
		Rect:   image.Rect(0, 0, cols, rows),
	}, nil
}

// EncodeJPEG implements types.Image
func (m *MatImage) EncodeJPEG(quality int) ([]byte, error) {
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, m.mat, []int{gocv.IMWriteJpegQuality, quality})
	if err != nil {
		return nil, fmt.Errorf("jpeg encode failed: %w", err)
	}
	defer buf.Close()

	// the native buffer is freed on Close
	src := buf.GetBytes()
	out := make([]byte, len(src))
	copy(out, src)
	return out, nil
}

// Close implements types.Image
func (m *MatImage) Close() error {
	return m.mat.Close()
}
