package types

import "image"

// Point is a 2-D coordinate. Landmark providers return pixel points;
// observations carry them normalized to the frame.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Sub returns p - q
func (p Point) Sub(q Point) Point {
	return Point{X: p.X - q.X, Y: p.Y - q.Y}
}

// Normalize scales a pixel point into frame-relative coordinates
func (p Point) Normalize(frameWidth, frameHeight int) Point {
	if frameWidth <= 0 || frameHeight <= 0 {
		return Point{}
	}
	return Point{X: p.X / float64(frameWidth), Y: p.Y / float64(frameHeight)}
}

// FaceObservation is the per-tick result for the primary face.
//
// Observations produced on detection ticks are cached by the session and
// never mutated; reuse ticks derive a copy through WithBlink.
type FaceObservation struct {
	Detected     bool           `json:"faceDetected"`
	EAR          float64        `json:"ear"`
	Blink        bool           `json:"blink"`
	Rect         NormalizedRect `json:"faceRect"`
	EyeLandmarks []Point        `json:"eyeLandmarks"`
}

// NoFace is the observation reported when no face is visible
func NoFace() FaceObservation {
	return FaceObservation{EyeLandmarks: []Point{}}
}

// WithBlink returns a copy of o with only the blink flag replaced.
// The landmark slice is shared and must be treated as read-only.
func (o FaceObservation) WithBlink(blink bool) FaceObservation {
	o.Blink = blink
	return o
}

// Landmark index ranges of the 68-point face model
const (
	LandmarkCount = 68
	LeftEyeStart  = 36
	RightEyeStart = 42
	EyePoints     = 6
)

// EyeContours extracts the left and right six-point eye contours from a
// 68-point landmark set. ok is false when the set is too short.
func EyeContours(landmarks []Point) (left, right []Point, ok bool) {
	if len(landmarks) < RightEyeStart+EyePoints {
		return nil, nil, false
	}
	left = landmarks[LeftEyeStart : LeftEyeStart+EyePoints]
	right = landmarks[RightEyeStart : RightEyeStart+EyePoints]
	return left, right, true
}

// PrimaryFace picks the largest rectangle, which is the face closest to the camera
func PrimaryFace(faces []image.Rectangle) (image.Rectangle, bool) {
	if len(faces) == 0 {
		return image.Rectangle{}, false
	}
	best := faces[0]
	for _, f := range faces[1:] {
		if f.Dx()*f.Dy() > best.Dx()*best.Dy() {
			best = f
		}
	}
	return best, true
}
