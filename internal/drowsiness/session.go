package drowsiness

import "errors"

// Session owns the detection state of a single monitoring session.
// It is not safe for concurrent use; every capture source needs its own.
type Session struct {
	config Config
	state  State

	// OnMalformed, if set, is called with the extraction error whenever a
	// frame has landmarks that cannot form both eye contours.
	OnMalformed func(err error)
}

// NewSession validates the config and creates a session in the open state.
func NewSession(config Config) (*Session, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Session{
		config: config,
		state:  NewState(),
	}, nil
}

// Update feeds one frame into the session.
func (s *Session) Update(frame LandmarkFrame, nowMs int64) Result {
	next, res, err := update(s.state, s.config, frame, nowMs)
	s.state = next

	if err != nil && errors.Is(err, ErrMalformedInput) && s.OnMalformed != nil {
		s.OnMalformed(err)
	}
	return res
}

// State returns a copy of the current state.
func (s *Session) State() State {
	st := s.state
	if st.LastAlertMs != nil {
		last := *st.LastAlertMs
		st.LastAlertMs = &last
	}
	return st
}

// Phase returns the current debouncer phase.
func (s *Session) Phase() Phase {
	return s.state.Phase()
}

// Config returns the session config.
func (s *Session) Config() Config {
	return s.config
}

// Reset returns the session to its initial state.
func (s *Session) Reset() {
	s.state = NewState()
}
