package drowsiness

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig is returned when a Config fails validation.
var ErrInvalidConfig = errors.New("invalid drowsiness config")

// Default detection settings.
const (
	DefaultEARThreshold          = 0.21
	DefaultClosedFramesThreshold = 15
	DefaultAlertCooldownMs       = 5000
)

// Config holds the fixed detection settings for one session.
type Config struct {
	// EARThreshold is the openness below which an eye counts as closed.
	EARThreshold float64 `json:"ear_threshold"`

	// ClosedFramesThreshold is the number of consecutive closed frames
	// required to declare drowsiness.
	ClosedFramesThreshold int `json:"closed_frames_threshold"`

	// AlertCooldownMs is the minimum spacing between alerts.
	AlertCooldownMs int64 `json:"alert_cooldown_ms"`

	// Eyes maps eye contour positions to landmark indices.
	Eyes EyeIndices `json:"eyes"`
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		EARThreshold:          DefaultEARThreshold,
		ClosedFramesThreshold: DefaultClosedFramesThreshold,
		AlertCooldownMs:       DefaultAlertCooldownMs,
		Eyes:                  DefaultEyeIndices(),
	}
}

// Validate checks that the config can drive a session.
func (c Config) Validate() error {
	if !(c.EARThreshold > 0) {
		return fmt.Errorf("%w: ear threshold must be positive, got %v", ErrInvalidConfig, c.EARThreshold)
	}
	if c.ClosedFramesThreshold < 1 {
		return fmt.Errorf("%w: closed frames threshold must be at least 1, got %d", ErrInvalidConfig, c.ClosedFramesThreshold)
	}
	if c.AlertCooldownMs < 0 {
		return fmt.Errorf("%w: alert cooldown must not be negative, got %d", ErrInvalidConfig, c.AlertCooldownMs)
	}
	if err := c.Eyes.validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// State is the mutable per-session detection state.
type State struct {
	ClosedFrameCount int    `json:"closed_frame_count"`
	LastAlertMs      *int64 `json:"last_alert_ms,omitempty"`
	Drowsy           bool   `json:"drowsy"`
}

// NewState returns the state a session starts in.
func NewState() State {
	return State{}
}

// Phase reports the debouncer phase of the state.
func (s State) Phase() Phase {
	switch {
	case s.Drowsy:
		return PhaseDrowsy
	case s.ClosedFrameCount > 0:
		return PhaseAccumulating
	default:
		return PhaseOpen
	}
}

// Result is the per-frame decision.
type Result struct {
	Openness         *float64 `json:"openness"`
	ClosedFrameCount int      `json:"closed_frame_count"`
	IsDrowsy         bool     `json:"is_drowsy"`
	ShouldAlert      bool     `json:"should_alert"`
	TimestampMs      int64    `json:"timestamp_ms"`
}

// Update processes one frame and returns the next state and its decision.
// Frames must be given in arrival order. A frame that cannot produce eye
// contours is treated as if no face was found.
func Update(state State, cfg Config, frame LandmarkFrame, nowMs int64) (State, Result) {
	next, res, _ := update(state, cfg, frame, nowMs)
	return next, res
}

// update is Update that also reports why a frame was treated as no face.
func update(state State, cfg Config, frame LandmarkFrame, nowMs int64) (State, Result, error) {
	var openness *float64
	left, right, err := ExtractEyes(frame, cfg.Eyes)
	if err == nil {
		o := MeanOpenness(left, right)
		openness = &o
	}

	next := state
	next.ClosedFrameCount, next.Drowsy = Debounce(state.ClosedFrameCount, state.Drowsy, openness, cfg)

	var alert bool
	alert, next.LastAlertMs = Gate(next.Drowsy, state.LastAlertMs, nowMs, cfg.AlertCooldownMs)

	return next, Result{
		Openness:         openness,
		ClosedFrameCount: next.ClosedFrameCount,
		IsDrowsy:         next.Drowsy,
		ShouldAlert:      alert,
		TimestampMs:      nowMs,
	}, err
}
