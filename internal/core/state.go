package core

import (
	"encoding/json"
	"fmt"
)

// SessionState is the camera lifecycle state
type SessionState int32

const (
	// Idle: no camera held, waiting for start_camera
	Idle SessionState = iota
	// Probing: searching backends and device indices for a camera
	Probing
	// Active: camera open, frames flowing
	Active
	// Error: the last probe found no camera; start_camera retries
	Error
)

var stateNames = map[SessionState]string{
	Idle:    "idle",
	Probing: "probing",
	Active:  "active",
	Error:   "error",
}

func (s SessionState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("SessionState(%d)", int32(s))
}

// MarshalJSON encodes the state by name
func (s SessionState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// canStart reports whether start_camera may begin a probe from s
func (s SessionState) canStart() bool {
	return s == Idle || s == Error
}
