package app

import (
	"time"

	"github.com/ayusman/drowsyguard/internal/drowsiness"
)

// Event is one processed frame of a monitoring session.
type Event struct {
	SessionID string
	Result    drowsiness.Result
	At        time.Time
}

// Sink receives the result of every processed frame.
type Sink interface {
	Handle(ev Event)
}

// SessionSink is a Sink that also tracks session boundaries.
type SessionSink interface {
	Sink
	SessionStarted(id string, cfg drowsiness.Config)
	SessionEnded(id string)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ev Event)

// Handle calls f(ev).
func (f SinkFunc) Handle(ev Event) {
	f(ev)
}

// Fanout forwards events and session boundaries to several sinks in order.
type Fanout []Sink

func (f Fanout) Handle(ev Event) {
	for _, s := range f {
		s.Handle(ev)
	}
}

func (f Fanout) SessionStarted(id string, cfg drowsiness.Config) {
	for _, s := range f {
		if ss, ok := s.(SessionSink); ok {
			ss.SessionStarted(id, cfg)
		}
	}
}

func (f Fanout) SessionEnded(id string) {
	for _, s := range f {
		if ss, ok := s.(SessionSink); ok {
			ss.SessionEnded(id)
		}
	}
}
