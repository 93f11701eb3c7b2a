package app

import (
	"errors"
	"fmt"
	"log"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/drowsyguard/internal/detector"
	"github.com/ayusman/drowsyguard/internal/drowsiness"
	"github.com/ayusman/drowsyguard/internal/metrics"
)

// runPipeline reads one frame per tick at the configured FPS until stopCh
// is closed. Frames are never skipped while enabled since closed-eye
// thresholds are counted in frames.
func (a *App) runPipeline(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(time.Second / time.Duration(a.config.FPS))
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if !a.IsEnabled() {
				continue
			}

			frame, err := a.Camera().ReadFrame()
			if err != nil {
				log.Printf("Error reading frame: %v", err)
				continue
			}

			if _, err := a.ProcessFrame(frame); err != nil {
				log.Printf("Error processing frame: %v", err)
			}
			frame.Close()
		}
	}
}

// ProcessFrame runs face detection on a camera frame and feeds the primary
// face into the session. A detector failure skips the frame without
// touching the session.
func (a *App) ProcessFrame(frame *gocv.Mat) (drowsiness.Result, error) {
	d := a.Detector()
	if d == nil {
		return drowsiness.Result{}, errors.New("no detector configured")
	}

	m := a.Metrics()
	start := time.Now()

	faces, err := d.Detect(frame)
	if err != nil {
		m.IncrementDetectErrors()
		return drowsiness.Result{}, fmt.Errorf("detect faces: %w", err)
	}

	res, err := a.ProcessLandmarks(detector.Primary(faces))
	if err != nil {
		return res, err
	}
	m.RecordLatency(time.Since(start))
	return res, nil
}

// ProcessLandmarks feeds one landmark frame, nil meaning no face, into the
// session and forwards the result to the sinks.
func (a *App) ProcessLandmarks(frame drowsiness.LandmarkFrame) (drowsiness.Result, error) {
	a.sessMu.Lock()
	if a.session == nil {
		a.sessMu.Unlock()
		return drowsiness.Result{}, errNoSession
	}

	now := a.now()
	res := a.session.Update(frame, now.Sub(a.startedAt).Milliseconds())
	id := a.sessionID
	if res.ShouldAlert {
		a.lastAlert = &now
	}
	a.sessMu.Unlock()

	a.Metrics().RecordResult(res)
	if res.ShouldAlert {
		log.Printf("Drowsiness alert: eyes closed for %d frames", res.ClosedFrameCount)
	}

	a.mu.RLock()
	sinks := a.sinks
	a.mu.RUnlock()

	sinks.Handle(Event{SessionID: id, Result: res, At: now})
	return res, nil
}

// Metrics returns the metrics the app reports into.
func (a *App) Metrics() *metrics.Metrics {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.metrics
}
