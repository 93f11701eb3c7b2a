// Package plugin discovers and runs the external executables that react to
// drowsiness alerts.
package plugin

import (
	"encoding/json"
	"slices"
)

// AlertEvent is the event name sent with every drowsiness alert request.
const AlertEvent = "drowsiness-alert"

// Manifest describes a plugin's metadata and capabilities.
type Manifest struct {
	Name         string          `json:"name"`
	Version      string          `json:"version"`
	Description  string          `json:"description"`
	Executable   string          `json:"executable"`
	Actions      []string        `json:"actions"`
	ConfigSchema json.RawMessage `json:"configSchema,omitempty"`
}

// HasAction reports whether the manifest declares the given action.
func (m Manifest) HasAction(action string) bool {
	return slices.Contains(m.Actions, action)
}

// Request is written as JSON to the plugin's stdin.
type Request struct {
	Action string          `json:"action"`
	Event  string          `json:"event"`
	Config json.RawMessage `json:"config,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
}

// AlertParams are the params of a drowsiness alert request.
type AlertParams struct {
	SessionID    string   `json:"session_id"`
	TimestampMs  int64    `json:"timestamp_ms"`
	ClosedFrames int      `json:"closed_frames"`
	Openness     *float64 `json:"openness"`
}

// NewAlertRequest builds the request for a drowsiness alert.
func NewAlertRequest(action string, config json.RawMessage, params AlertParams) (*Request, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	return &Request{
		Action: action,
		Event:  AlertEvent,
		Config: config,
		Params: raw,
	}, nil
}

// Response is read as JSON from the plugin's stdout.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Plugin represents a discovered plugin with its manifest and location.
type Plugin struct {
	Manifest   Manifest
	Path       string
	Executable string
}
