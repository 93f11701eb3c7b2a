package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// Source identifies where a session's frames came from.
type Source string

const (
	// SourceLocal is a session driven by the local camera.
	SourceLocal Source = "local"
	// SourceRemote is a session driven by a WebSocket client.
	SourceRemote Source = "remote"
)

// Session is the stored summary of one monitoring session.
type Session struct {
	ID              string
	Source          Source
	Config          json.RawMessage
	StartedAt       time.Time
	EndedAt         *time.Time
	Frames          int
	NoFaceFrames    int
	DrowsyFrames    int
	Alerts          int
	MaxClosedFrames int
}

// SessionStats are the running frame counters of a session. Alerts are
// counted as they are recorded.
type SessionStats struct {
	Frames          int
	NoFaceFrames    int
	DrowsyFrames    int
	MaxClosedFrames int
}

// SessionRepository provides CRUD operations for sessions.
type SessionRepository struct {
	db *sql.DB
}

// Sessions returns the session repository for this store.
func (s *Store) Sessions() *SessionRepository {
	return &SessionRepository{db: s.db}
}

const sessionColumns = `id, source, config, started_at, ended_at, frames, no_face_frames, drowsy_frames, alerts, max_closed_frames`

// Create inserts a new session. StartedAt defaults to now.
func (r *SessionRepository) Create(s *Session) error {
	if s.StartedAt.IsZero() {
		s.StartedAt = time.Now()
	}

	config := s.Config
	if config == nil {
		config = json.RawMessage("{}")
	}

	_, err := r.db.Exec(
		`INSERT INTO sessions (id, source, config, started_at, frames, no_face_frames, drowsy_frames, alerts, max_closed_frames)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, string(s.Source), string(config), s.StartedAt,
		s.Frames, s.NoFaceFrames, s.DrowsyFrames, s.Alerts, s.MaxClosedFrames,
	)
	return err
}

// GetByID retrieves a session by its ID.
func (r *SessionRepository) GetByID(id string) (*Session, error) {
	row := r.db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)

	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return s, nil
}

// List retrieves sessions, newest first. A limit of 0 or less returns all.
func (r *SessionRepository) List(limit int) ([]*Session, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := r.db.Query(
		`SELECT `+sessionColumns+` FROM sessions ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return sessions, nil
}

// UpdateStats overwrites the frame counters of a session.
func (r *SessionRepository) UpdateStats(id string, stats SessionStats) error {
	result, err := r.db.Exec(
		`UPDATE sessions
		 SET frames = ?, no_face_frames = ?, drowsy_frames = ?, max_closed_frames = ?
		 WHERE id = ?`,
		stats.Frames, stats.NoFaceFrames, stats.DrowsyFrames, stats.MaxClosedFrames, id,
	)
	if err != nil {
		return err
	}
	return expectOneRow(result)
}

// End marks a session as finished.
func (r *SessionRepository) End(id string, at time.Time) error {
	result, err := r.db.Exec(`UPDATE sessions SET ended_at = ? WHERE id = ?`, at, id)
	if err != nil {
		return err
	}
	return expectOneRow(result)
}

// Delete removes a session and its alerts.
func (r *SessionRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectOneRow(result)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*Session, error) {
	s := &Session{}
	var source, config string
	var ended sql.NullTime

	err := row.Scan(
		&s.ID, &source, &config, &s.StartedAt, &ended,
		&s.Frames, &s.NoFaceFrames, &s.DrowsyFrames, &s.Alerts, &s.MaxClosedFrames,
	)
	if err != nil {
		return nil, err
	}

	s.Source = Source(source)
	s.Config = json.RawMessage(config)
	if ended.Valid {
		t := ended.Time
		s.EndedAt = &t
	}
	return s, nil
}

func expectOneRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
