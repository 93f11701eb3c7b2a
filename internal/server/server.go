// Package server provides the HTTP server for remote drowsiness monitoring.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ayusman/drowsyguard/internal/app"
	"github.com/ayusman/drowsyguard/internal/detector"
	"github.com/ayusman/drowsyguard/internal/drowsiness"
	"github.com/ayusman/drowsyguard/internal/metrics"
	"github.com/ayusman/drowsyguard/internal/server/api"
	"github.com/ayusman/drowsyguard/internal/store"
)

// Config holds the server configuration.
type Config struct {
	StaticDir string
	Store     *store.Store

	// Detector is required for "frame" messages. Landmark messages work
	// without one.
	Detector    detector.Detector
	Detection   drowsiness.Config
	MaxImageDim int

	Metrics *metrics.Metrics

	// Sink receives every result produced by a WebSocket session. If it
	// also implements app.SessionSink it sees session boundaries.
	Sink app.Sink

	// Status reports the local monitor, if one runs in this process.
	Status func() app.Status
}

// Server represents the HTTP server for the DrowsyGuard application.
type Server struct {
	config Config
	mux    *http.ServeMux
	start  time.Time
	http   *http.Server
	detect *DetectHandler
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	if config.Metrics == nil {
		config.Metrics = metrics.Default()
	}
	if config.Detection == (drowsiness.Config{}) {
		config.Detection = drowsiness.DefaultConfig()
	}

	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
	}
	s.http = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.HandleFunc("/api/metrics", s.handleMetrics)

	if s.config.Status != nil {
		s.mux.HandleFunc("/api/status", s.handleStatus)
	}

	s.detect = NewDetectHandler(DetectConfig{
		Detector:    s.config.Detector,
		Detection:   s.config.Detection,
		MaxImageDim: s.config.MaxImageDim,
		Metrics:     s.config.Metrics,
		Sink:        s.config.Sink,
	})
	s.mux.Handle("/api/detect", s.detect)

	if s.config.Store != nil {
		sessions := api.NewSessionHandler(s.config.Store)
		s.mux.Handle("/api/sessions", sessions)
		s.mux.Handle("/api/sessions/", sessions)
	}

	if s.config.StaticDir != "" {
		fs := http.FileServer(http.Dir(s.config.StaticDir))
		s.mux.Handle("/", fs)
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]any{
		"status":   "ok",
		"uptime":   time.Since(s.start).String(),
		"detector": s.config.Detector != nil,
	}
	writeJSON(w, response)
}

// handleMetrics handles GET requests to /api/metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, s.config.Metrics.Snapshot())
}

// handleStatus handles GET requests to /api/status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, s.config.Status())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// ListenAndServe starts the HTTP server on the given address. It returns
// http.ErrServerClosed after Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	s.http.Addr = addr
	return s.http.ListenAndServe()
}

// Shutdown gracefully stops the server, waiting for in-flight requests
// until ctx is done. Open WebSocket sessions are closed.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.http.Shutdown(ctx)
	s.detect.CloseAll()
	return err
}
