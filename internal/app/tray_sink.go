package app

import (
	"sync"
	"time"
)

// StatusDisplay shows the live monitoring status, e.g. in the system tray.
type StatusDisplay interface {
	SetDrowsy(drowsy bool)
	SetClosedFrames(n int)
	SetLastAlert(at time.Time)
}

// TraySink pushes status changes to a StatusDisplay. Unchanged values are
// not re-sent.
type TraySink struct {
	display StatusDisplay

	mu     sync.Mutex
	primed bool
	drowsy bool
	closed int
}

// NewTraySink creates a sink for the given display.
func NewTraySink(display StatusDisplay) *TraySink {
	return &TraySink{display: display}
}

func (t *TraySink) Handle(ev Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	res := ev.Result
	if !t.primed || res.IsDrowsy != t.drowsy {
		t.display.SetDrowsy(res.IsDrowsy)
		t.drowsy = res.IsDrowsy
	}
	if !t.primed || res.ClosedFrameCount != t.closed {
		t.display.SetClosedFrames(res.ClosedFrameCount)
		t.closed = res.ClosedFrameCount
	}
	if res.ShouldAlert {
		t.display.SetLastAlert(ev.At)
	}
	t.primed = true
}
