package emitter

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/e7canasta/orion-blink/internal/types"
)

// Wire keys, exactly one per line
const (
	KeyStatus   = "status"
	KeyDebug    = "debug"
	KeyError    = "error"
	KeyBlink    = "blink"
	KeyFaceData = "faceData"
	KeyVideo    = "videoStream"
)

// ErrBadLine is returned by Unmarshal for lines that are not a single-key message
var ErrBadLine = errors.New("emitter: not a single-key message")

// Message is one line of the output protocol. The set of implementations is closed.
type Message interface {
	Key() string
	value() any
}

// Status reports a lifecycle milestone
type Status struct{ Text string }

// Debug reports a diagnostic, e.g. a rejected command
type Debug struct{ Text string }

// Error reports a failure the host should surface
type Error struct{ Text string }

// Blink is a genuine, debounced blink event
type Blink struct {
	EAR  float64 `json:"ear"`
	Time float64 `json:"time"` // unix seconds
}

// FaceData carries the observation of one tick
type FaceData struct {
	Observation types.FaceObservation
}

// VideoFrame carries one JPEG encoded frame, base64 on the wire
type VideoFrame struct {
	JPEG []byte
}

func (Status) Key() string     { return KeyStatus }
func (Debug) Key() string      { return KeyDebug }
func (Error) Key() string      { return KeyError }
func (Blink) Key() string      { return KeyBlink }
func (FaceData) Key() string   { return KeyFaceData }
func (VideoFrame) Key() string { return KeyVideo }

func (m Status) value() any { return m.Text }
func (m Debug) value() any  { return m.Text }
func (m Error) value() any  { return m.Text }
func (m Blink) value() any  { return m }

func (m FaceData) value() any {
	obs := m.Observation
	if obs.EyeLandmarks == nil {
		obs.EyeLandmarks = []types.Point{}
	}
	return obs
}

// []byte marshals as a standard base64 string
func (m VideoFrame) value() any { return m.JPEG }

// NewBlink builds a blink event at t
func NewBlink(ear float64, t time.Time) Blink {
	return Blink{EAR: ear, Time: UnixSeconds(t)}
}

// UnixSeconds converts t into fractional unix seconds
func UnixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// Marshal encodes m as a single-key JSON object without a trailing newline
func Marshal(m Message) ([]byte, error) {
	data, err := json.Marshal(map[string]any{m.Key(): m.value()})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s message: %w", m.Key(), err)
	}
	return data, nil
}

// Unmarshal decodes one output line back into its message
func Unmarshal(line []byte) (Message, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(line, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadLine, err)
	}
	if len(fields) != 1 {
		return nil, fmt.Errorf("%w: %d keys", ErrBadLine, len(fields))
	}

	for key, raw := range fields {
		switch key {
		case KeyStatus, KeyDebug, KeyError:
			var text string
			if err := json.Unmarshal(raw, &text); err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrBadLine, key, err)
			}
			switch key {
			case KeyStatus:
				return Status{Text: text}, nil
			case KeyDebug:
				return Debug{Text: text}, nil
			default:
				return Error{Text: text}, nil
			}
		case KeyBlink:
			var b Blink
			if err := json.Unmarshal(raw, &b); err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrBadLine, key, err)
			}
			return b, nil
		case KeyFaceData:
			var obs types.FaceObservation
			if err := json.Unmarshal(raw, &obs); err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrBadLine, key, err)
			}
			return FaceData{Observation: obs}, nil
		case KeyVideo:
			var jpeg []byte
			if err := json.Unmarshal(raw, &jpeg); err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrBadLine, key, err)
			}
			return VideoFrame{JPEG: jpeg}, nil
		default:
			return nil, fmt.Errorf("%w: unknown key %q", ErrBadLine, key)
		}
	}
	return nil, ErrBadLine
}
