// Package app runs drowsiness monitoring against a local camera.
package app

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ayusman/drowsyguard/internal/capture"
	"github.com/ayusman/drowsyguard/internal/detector"
	"github.com/ayusman/drowsyguard/internal/drowsiness"
	"github.com/ayusman/drowsyguard/internal/metrics"
)

// Config holds configuration options for the application.
type Config struct {
	Detection drowsiness.Config
	CameraID  int
	FPS       int

	// Detector overrides the MediaPipe face mesh detector.
	Detector detector.Detector
}

// ErrNoDetector is returned by New when no face detector is configured
// and MediaPipe is not available.
var ErrNoDetector = errors.New("no face detector available")

// newDefaultDetector opens the detector used when Config.Detector is nil.
var newDefaultDetector = func() (detector.Detector, error) {
	mp, err := detector.NewMediaPipeDetector(detector.DefaultConfig())
	if err != nil {
		return nil, err
	}
	return mp, nil
}

// Status is a snapshot of the monitoring state.
type Status struct {
	Enabled      bool              `json:"enabled"`
	Running      bool              `json:"running"`
	SessionID    string            `json:"session_id,omitempty"`
	Phase        string            `json:"phase"`
	ClosedFrames int               `json:"closed_frames"`
	Drowsy       bool              `json:"drowsy"`
	LastAlert    *time.Time        `json:"last_alert,omitempty"`
	Config       drowsiness.Config `json:"config"`
}

// App captures frames, detects faces and feeds the primary face into a
// drowsiness session whose results go to the registered sinks.
type App struct {
	config   Config
	camera   capture.Camera
	detector detector.Detector
	metrics  *metrics.Metrics
	sinks    Fanout
	enabled  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	mu       sync.RWMutex

	// session state, touched by the capture loop and SetEnabled
	sessMu    sync.Mutex
	session   *drowsiness.Session
	sessionID string
	startedAt time.Time
	lastAlert *time.Time
	now       func() time.Time
}

// New creates a new App. The detection config must be valid. Without an
// explicit detector MediaPipe must be available; monitoring never falls
// back to a detector that cannot see faces.
func New(config Config) (*App, error) {
	if err := config.Detection.Validate(); err != nil {
		return nil, err
	}
	if config.FPS <= 0 {
		config.FPS = capture.DefaultFPS
	}

	opts := capture.DefaultOptions()
	opts.DeviceID = config.CameraID
	opts.FPS = config.FPS

	a := &App{
		config:  config,
		camera:  capture.NewCameraWithOptions(opts),
		metrics: metrics.Default(),
		enabled: true,
		now:     time.Now,
	}

	if config.Detector != nil {
		a.detector = config.Detector
		return a, nil
	}

	d, err := newDefaultDetector()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoDetector, err)
	}
	a.detector = d
	log.Println("Using MediaPipe face mesh detection")

	return a, nil
}

// AddSink registers a sink. Sinks must be added before Start.
func (a *App) AddSink(s Sink) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sinks = append(a.sinks, s)
}

// SetEnabled turns monitoring on or off. Re-enabling starts counting
// closed frames from zero.
func (a *App) SetEnabled(enabled bool) {
	a.mu.Lock()
	was := a.enabled
	a.enabled = enabled
	a.mu.Unlock()

	if enabled && !was {
		a.sessMu.Lock()
		if a.session != nil {
			a.session.Reset()
		}
		a.sessMu.Unlock()
	}
	log.Printf("Monitoring enabled: %v", enabled)
}

// IsEnabled returns whether monitoring is currently enabled.
func (a *App) IsEnabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.enabled
}

// SetDetector sets the face detector implementation to use.
func (a *App) SetDetector(d detector.Detector) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.detector = d
}

// SetCamera replaces the camera. It has no effect while running.
func (a *App) SetCamera(c capture.Camera) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopCh == nil {
		a.camera = c
	}
}

// SetMetrics replaces the metrics the app reports into.
func (a *App) SetMetrics(m *metrics.Metrics) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.metrics = m
}

// Start opens the camera, begins a new session and starts the capture loop.
func (a *App) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopCh != nil {
		return nil
	}

	if err := a.camera.Open(); err != nil {
		return err
	}
	a.camera.SetFPS(a.config.FPS)

	if err := a.beginSession(); err != nil {
		a.camera.Close()
		return err
	}

	a.stopCh = make(chan struct{})
	a.doneCh = make(chan struct{})
	go a.runPipeline(a.stopCh, a.doneCh)

	log.Printf("Detection pipeline started at %d fps", a.config.FPS)
	return nil
}

// Stop halts the capture loop, ends the session and releases resources.
func (a *App) Stop() {
	a.mu.Lock()
	stopCh, doneCh := a.stopCh, a.doneCh
	a.stopCh, a.doneCh = nil, nil
	a.mu.Unlock()

	if stopCh == nil {
		return
	}

	close(stopCh)
	<-doneCh

	a.endSession()

	if err := a.camera.Close(); err != nil {
		log.Printf("Error closing camera: %v", err)
	}

	if d := a.Detector(); d != nil {
		if err := d.Close(); err != nil {
			log.Printf("Error closing detector: %v", err)
		}
	}

	log.Println("Detection pipeline stopped")
}

// IsRunning reports whether the capture loop is active.
func (a *App) IsRunning() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.stopCh != nil
}

// Status returns the current monitoring state.
func (a *App) Status() Status {
	st := Status{
		Enabled: a.IsEnabled(),
		Running: a.IsRunning(),
		Phase:   drowsiness.PhaseOpen.String(),
		Config:  a.config.Detection,
	}

	a.sessMu.Lock()
	defer a.sessMu.Unlock()

	if a.session != nil {
		state := a.session.State()
		st.SessionID = a.sessionID
		st.Phase = state.Phase().String()
		st.ClosedFrames = state.ClosedFrameCount
		st.Drowsy = state.Drowsy
	}
	if a.lastAlert != nil {
		t := *a.lastAlert
		st.LastAlert = &t
	}
	return st
}

// Camera returns the camera instance.
func (a *App) Camera() capture.Camera {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.camera
}

// Detector returns the face detector.
func (a *App) Detector() detector.Detector {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.detector
}

// beginSession creates a fresh session. Callers hold a.mu.
func (a *App) beginSession() error {
	session, err := drowsiness.NewSession(a.config.Detection)
	if err != nil {
		return err
	}
	m := a.metrics
	session.OnMalformed = func(err error) {
		m.IncrementMalformed()
		log.Printf("Malformed landmark frame: %v", err)
	}

	a.sessMu.Lock()
	a.session = session
	a.sessionID = uuid.NewString()
	a.startedAt = a.now()
	a.lastAlert = nil
	id := a.sessionID
	a.sessMu.Unlock()

	a.sinks.SessionStarted(id, a.config.Detection)
	log.Printf("Session %s started", id)
	return nil
}

func (a *App) endSession() {
	a.sessMu.Lock()
	id := a.sessionID
	a.session = nil
	a.sessionID = ""
	a.sessMu.Unlock()

	if id == "" {
		return
	}

	a.mu.RLock()
	sinks := a.sinks
	a.mu.RUnlock()

	sinks.SessionEnded(id)
	log.Printf("Session %s ended", id)
}

// errNoSession is returned when a frame arrives outside a session.
var errNoSession = errors.New("no active session")
