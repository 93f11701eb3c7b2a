// Package metrics keeps process-wide counters for the detection pipeline.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ayusman/drowsyguard/internal/drowsiness"
)

// Metrics holds counters updated from the capture loop and the WebSocket
// handlers. The zero value is ready to use.
type Metrics struct {
	frames          atomic.Int64
	noFaceFrames    atomic.Int64
	malformedFrames atomic.Int64
	drowsyFrames    atomic.Int64
	alerts          atomic.Int64
	decodeErrors    atomic.Int64
	detectErrors    atomic.Int64
	totalLatency    atomic.Int64
	lastFrameTime   atomic.Int64

	wsConnections atomic.Int64
	wsSessions    atomic.Int64
	wsMessages    atomic.Int64
	wsErrors      atomic.Int64
}

var (
	defaultMetrics *Metrics
	defaultOnce    sync.Once
)

// New returns an empty Metrics.
func New() *Metrics {
	return &Metrics{}
}

// Default returns the process-wide Metrics.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = New()
	})
	return defaultMetrics
}

// RecordResult counts one processed frame and its decision.
func (m *Metrics) RecordResult(res drowsiness.Result) {
	m.frames.Add(1)
	m.lastFrameTime.Store(time.Now().Unix())

	if res.Openness == nil {
		m.noFaceFrames.Add(1)
	}
	if res.IsDrowsy {
		m.drowsyFrames.Add(1)
	}
	if res.ShouldAlert {
		m.alerts.Add(1)
	}
}

// RecordLatency adds the time spent producing one result.
func (m *Metrics) RecordLatency(d time.Duration) {
	m.totalLatency.Add(d.Milliseconds())
}

func (m *Metrics) IncrementMalformed() {
	m.malformedFrames.Add(1)
}

func (m *Metrics) IncrementDecodeErrors() {
	m.decodeErrors.Add(1)
}

func (m *Metrics) IncrementDetectErrors() {
	m.detectErrors.Add(1)
}

// WebSocketOpened counts a new connection and its session.
func (m *Metrics) WebSocketOpened() {
	m.wsConnections.Add(1)
	m.wsSessions.Add(1)
}

// WebSocketClosed drops a connection from the active count.
func (m *Metrics) WebSocketClosed() {
	m.wsConnections.Add(-1)
}

func (m *Metrics) IncrementWebSocketMessages() {
	m.wsMessages.Add(1)
}

func (m *Metrics) IncrementWebSocketErrors() {
	m.wsErrors.Add(1)
}

// Frames returns the number of processed frames.
func (m *Metrics) Frames() int64 {
	return m.frames.Load()
}

// Alerts returns the number of alerts raised.
func (m *Metrics) Alerts() int64 {
	return m.alerts.Load()
}

// ActiveConnections returns the number of open WebSocket connections.
func (m *Metrics) ActiveConnections() int64 {
	return m.wsConnections.Load()
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	Frames          int64   `json:"frames"`
	NoFaceFrames    int64   `json:"no_face_frames"`
	MalformedFrames int64   `json:"malformed_frames"`
	DrowsyFrames    int64   `json:"drowsy_frames"`
	Alerts          int64   `json:"alerts"`
	DecodeErrors    int64   `json:"decode_errors"`
	DetectErrors    int64   `json:"detect_errors"`
	AvgLatencyMs    float64 `json:"avg_latency_ms"`
	LastFrameTime   int64   `json:"last_frame_time"`

	WebSocket WebSocketSnapshot `json:"websocket"`
}

// WebSocketSnapshot holds the WebSocket counters.
type WebSocketSnapshot struct {
	Connections   int64 `json:"connections"`
	TotalSessions int64 `json:"total_sessions"`
	Messages      int64 `json:"messages"`
	Errors        int64 `json:"errors"`
}

// Snapshot copies the current counter values.
func (m *Metrics) Snapshot() Snapshot {
	s := Snapshot{
		Frames:          m.frames.Load(),
		NoFaceFrames:    m.noFaceFrames.Load(),
		MalformedFrames: m.malformedFrames.Load(),
		DrowsyFrames:    m.drowsyFrames.Load(),
		Alerts:          m.alerts.Load(),
		DecodeErrors:    m.decodeErrors.Load(),
		DetectErrors:    m.detectErrors.Load(),
		LastFrameTime:   m.lastFrameTime.Load(),
		WebSocket: WebSocketSnapshot{
			Connections:   m.wsConnections.Load(),
			TotalSessions: m.wsSessions.Load(),
			Messages:      m.wsMessages.Load(),
			Errors:        m.wsErrors.Load(),
		},
	}
	if s.Frames > 0 {
		s.AvgLatencyMs = float64(m.totalLatency.Load()) / float64(s.Frames)
	}
	return s
}
