package drowsiness

// Phase is the debouncer state derived from the closed-frame count.
type Phase int

const (
	// PhaseOpen means the last frame was open or had no face.
	PhaseOpen Phase = iota
	// PhaseAccumulating means eyes are closed but not for long enough yet.
	PhaseAccumulating
	// PhaseDrowsy means eyes have been closed for the configured span.
	PhaseDrowsy
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseOpen:
		return "open"
	case PhaseAccumulating:
		return "accumulating"
	case PhaseDrowsy:
		return "drowsy"
	default:
		return "unknown"
	}
}

// Debounce advances the closed-frame counter by one frame.
// A nil openness (no face) or one at or above the threshold resets the
// counter; otherwise it grows and latches drowsy once it reaches the
// closed-frames threshold.
func Debounce(count int, drowsy bool, openness *float64, cfg Config) (int, bool) {
	if openness == nil || *openness >= cfg.EARThreshold {
		return 0, false
	}

	count++
	if count >= cfg.ClosedFramesThreshold {
		drowsy = true
	}
	return count, drowsy
}
