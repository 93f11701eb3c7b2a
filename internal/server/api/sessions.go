// Package api provides the JSON handlers for recorded monitoring sessions.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ayusman/drowsyguard/internal/store"
)

// SessionHandler serves /api/sessions and its sub-resources.
type SessionHandler struct {
	store *store.Store
}

// NewSessionHandler creates a new SessionHandler with the given store.
func NewSessionHandler(s *store.Store) *SessionHandler {
	return &SessionHandler{store: s}
}

// ServeHTTP routes:
//
//	GET    /api/sessions[?limit=n]
//	GET    /api/sessions/{id}
//	DELETE /api/sessions/{id}
//	GET    /api/sessions/{id}/alerts
func (h *SessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/sessions")
	path = strings.Trim(path, "/")

	if path == "" {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.list(w, r)
		return
	}

	id, sub, _ := strings.Cut(path, "/")
	switch {
	case sub == "alerts" && r.Method == http.MethodGet:
		h.alerts(w, id)
	case sub == "" && r.Method == http.MethodGet:
		h.get(w, id)
	case sub == "" && r.Method == http.MethodDelete:
		h.delete(w, id)
	case sub != "" && sub != "alerts":
		writeError(w, http.StatusNotFound, "Not found")
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

type sessionResponse struct {
	ID              string          `json:"id"`
	Source          string          `json:"source"`
	Config          json.RawMessage `json:"config"`
	StartedAt       string          `json:"started_at"`
	EndedAt         *string         `json:"ended_at"`
	Frames          int             `json:"frames"`
	NoFaceFrames    int             `json:"no_face_frames"`
	DrowsyFrames    int             `json:"drowsy_frames"`
	Alerts          int             `json:"alerts"`
	MaxClosedFrames int             `json:"max_closed_frames"`
}

type listSessionsResponse struct {
	Sessions []sessionResponse `json:"sessions"`
}

type alertResponse struct {
	ID           string   `json:"id"`
	TimestampMs  int64    `json:"timestamp_ms"`
	ClosedFrames int      `json:"closed_frames"`
	Openness     *float64 `json:"openness"`
	CreatedAt    string   `json:"created_at"`
}

type listAlertsResponse struct {
	SessionID string          `json:"session_id"`
	Alerts    []alertResponse `json:"alerts"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func toSessionResponse(s *store.Session) sessionResponse {
	resp := sessionResponse{
		ID:              s.ID,
		Source:          string(s.Source),
		Config:          s.Config,
		StartedAt:       s.StartedAt.Format(time.RFC3339),
		Frames:          s.Frames,
		NoFaceFrames:    s.NoFaceFrames,
		DrowsyFrames:    s.DrowsyFrames,
		Alerts:          s.Alerts,
		MaxClosedFrames: s.MaxClosedFrames,
	}
	if s.EndedAt != nil {
		ended := s.EndedAt.Format(time.RFC3339)
		resp.EndedAt = &ended
	}
	return resp
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func (h *SessionHandler) list(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	sessions, err := h.store.Sessions().List(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list sessions")
		return
	}

	response := listSessionsResponse{
		Sessions: make([]sessionResponse, 0, len(sessions)),
	}
	for _, s := range sessions {
		response.Sessions = append(response.Sessions, toSessionResponse(s))
	}

	writeJSON(w, http.StatusOK, response)
}

func (h *SessionHandler) get(w http.ResponseWriter, id string) {
	session, err := h.store.Sessions().GetByID(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get session")
		return
	}

	writeJSON(w, http.StatusOK, toSessionResponse(session))
}

func (h *SessionHandler) delete(w http.ResponseWriter, id string) {
	if err := h.store.Sessions().Delete(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete session")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandler) alerts(w http.ResponseWriter, id string) {
	if _, err := h.store.Sessions().GetByID(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get session")
		return
	}

	alerts, err := h.store.Alerts().ListBySession(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list alerts")
		return
	}

	response := listAlertsResponse{
		SessionID: id,
		Alerts:    make([]alertResponse, 0, len(alerts)),
	}
	for _, a := range alerts {
		response.Alerts = append(response.Alerts, alertResponse{
			ID:           a.ID,
			TimestampMs:  a.TimestampMs,
			ClosedFrames: a.ClosedFrames,
			Openness:     a.Openness,
			CreatedAt:    a.CreatedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, response)
}
