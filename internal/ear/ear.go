// Package ear computes the eye aspect ratio from eye contour landmarks.
//
// The ratio is close to 0.3 for an open eye and falls toward 0 as the lids
// close, which makes it a cheap per-frame blink signal.
package ear

import (
	"errors"
	"math"

	"github.com/e7canasta/orion-blink/internal/types"
)

// Epsilon keeps the ratio finite when the horizontal extent collapses
const Epsilon = 1e-6

// ErrContour is returned when a contour does not have six points
var ErrContour = errors.New("ear: eye contour must have 6 points")

// Eye computes the aspect ratio of one eye.
//
// Points are ordered {corner, upper-1, upper-2, corner, lower-2, lower-1}:
//
//	EAR = (|p2-p6| + |p3-p5|) / (2*|p1-p4| + eps)
func Eye(p []types.Point) (float64, error) {
	if len(p) != types.EyePoints {
		return 0, ErrContour
	}
	vertical := dist(p[1], p[5]) + dist(p[2], p[4])
	horizontal := dist(p[0], p[3])
	return vertical / (2*horizontal + Epsilon), nil
}

// Face averages both eyes into one face-level ratio
func Face(left, right []types.Point) (float64, error) {
	l, err := Eye(left)
	if err != nil {
		return 0, err
	}
	r, err := Eye(right)
	if err != nil {
		return 0, err
	}
	return (l + r) / 2, nil
}

func dist(a, b types.Point) float64 {
	d := a.Sub(b)
	return math.Hypot(d.X, d.Y)
}
