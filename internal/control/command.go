// Package control parses host commands and queues them for the session loop.
//
// Lines arrive raw from stdin (or MQTT) and are only parsed when the session
// drains the queue, so a malformed line can never stall the reader.
package control

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrMalformed is returned for lines that are not a JSON object
	ErrMalformed = errors.New("control: malformed command")
	// ErrUnknownCommand is returned when no recognized key is present
	ErrUnknownCommand = errors.New("control: no recognized command key")
	// ErrAmbiguousCommand is returned when more than one recognized key is present
	ErrAmbiguousCommand = errors.New("control: more than one command key")
	// ErrInvalidValue is returned when a recognized key has a value of the wrong shape
	ErrInvalidValue = errors.New("control: invalid command value")
)

// Command is one parsed host command. The set of implementations is closed.
type Command interface {
	// Key returns the wire key the command was parsed from
	Key() string
	command()
}

// SetEarThreshold updates the blink threshold
type SetEarThreshold struct{ Value float64 }

// SetFrameSkip updates the detection cadence
type SetFrameSkip struct{ Value int }

// SetTargetFps updates the read-rate gate
type SetTargetFps struct{ Value int }

// SetResolution updates the processing resolution
type SetResolution struct{ Width, Height int }

// RequestVideo enables video frame emission
type RequestVideo struct{}

// StartCamera opens the camera
type StartCamera struct{}

// StopCamera releases the camera and disables video
type StopCamera struct{}

// Wire keys
const (
	KeyEarThreshold = "ear_threshold"
	KeyFrameSkip    = "frame_skip"
	KeyTargetFps    = "target_fps"
	KeyResolution   = "processing_resolution"
	KeyRequestVideo = "request_video"
	KeyStartCamera  = "start_camera"
	KeyStopCamera   = "stop_camera"
)

func (SetEarThreshold) Key() string { return KeyEarThreshold }
func (SetFrameSkip) Key() string    { return KeyFrameSkip }
func (SetTargetFps) Key() string    { return KeyTargetFps }
func (SetResolution) Key() string   { return KeyResolution }
func (RequestVideo) Key() string    { return KeyRequestVideo }
func (StartCamera) Key() string     { return KeyStartCamera }
func (StopCamera) Key() string      { return KeyStopCamera }

func (SetEarThreshold) command() {}
func (SetFrameSkip) command()    {}
func (SetTargetFps) command()    {}
func (SetResolution) command()   {}
func (RequestVideo) command()    {}
func (StartCamera) command()     {}
func (StopCamera) command()      {}

type decodeFunc func(json.RawMessage) (Command, error)

var decoders = map[string]decodeFunc{
	KeyEarThreshold: func(raw json.RawMessage) (Command, error) {
		var v float64
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return SetEarThreshold{Value: v}, nil
	},
	KeyFrameSkip: func(raw json.RawMessage) (Command, error) {
		var v int
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return SetFrameSkip{Value: v}, nil
	},
	KeyTargetFps: func(raw json.RawMessage) (Command, error) {
		var v int
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return SetTargetFps{Value: v}, nil
	},
	KeyResolution: func(raw json.RawMessage) (Command, error) {
		var v []int
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		if len(v) != 2 {
			return nil, fmt.Errorf("want [width, height], got %d values", len(v))
		}
		return SetResolution{Width: v[0], Height: v[1]}, nil
	},
	// Presence is enough for the flag commands; the value is ignored.
	KeyRequestVideo: func(json.RawMessage) (Command, error) { return RequestVideo{}, nil },
	KeyStartCamera:  func(json.RawMessage) (Command, error) { return StartCamera{}, nil },
	KeyStopCamera:   func(json.RawMessage) (Command, error) { return StopCamera{}, nil },
}

// Parse decodes one control line. Unrecognized keys are ignored; exactly
// one recognized key must be present.
func Parse(line []byte) (Command, error) {
	line = bytes.TrimSpace(line)

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(line, &fields); err != nil || fields == nil {
		return nil, fmt.Errorf("%w: %q", ErrMalformed, truncate(line))
	}

	var keys []string
	for k := range fields {
		if _, ok := decoders[k]; ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	switch len(keys) {
	case 0:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, truncate(line))
	case 1:
	default:
		return nil, fmt.Errorf("%w: %v", ErrAmbiguousCommand, keys)
	}

	key := keys[0]
	cmd, err := decoders[key](fields[key])
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidValue, key, err)
	}
	return cmd, nil
}

func truncate(b []byte) string {
	const max = 120
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
