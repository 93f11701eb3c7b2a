package store

import (
	"database/sql"
	"time"
)

// Alert is a drowsiness alert raised during a session.
type Alert struct {
	ID           string
	SessionID    string
	TimestampMs  int64
	ClosedFrames int
	Openness     *float64
	CreatedAt    time.Time
}

// AlertRepository provides access to stored alerts.
type AlertRepository struct {
	db *sql.DB
}

// Alerts returns the alert repository for this store.
func (s *Store) Alerts() *AlertRepository {
	return &AlertRepository{db: s.db}
}

// Create inserts an alert and bumps the alert counter of its session in
// a single transaction.
func (r *AlertRepository) Create(a *Alert) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var openness sql.NullFloat64
	if a.Openness != nil {
		openness = sql.NullFloat64{Float64: *a.Openness, Valid: true}
	}

	_, err = tx.Exec(
		`INSERT INTO alerts (id, session_id, timestamp_ms, closed_frames, openness, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.SessionID, a.TimestampMs, a.ClosedFrames, openness, a.CreatedAt,
	)
	if err != nil {
		return err
	}

	result, err := tx.Exec(`UPDATE sessions SET alerts = alerts + 1 WHERE id = ?`, a.SessionID)
	if err != nil {
		return err
	}
	if err := expectOneRow(result); err != nil {
		return err
	}

	return tx.Commit()
}

// ListBySession retrieves all alerts of a session in the order they were raised.
func (r *AlertRepository) ListBySession(sessionID string) ([]*Alert, error) {
	rows, err := r.db.Query(
		`SELECT id, session_id, timestamp_ms, closed_frames, openness, created_at
		 FROM alerts
		 WHERE session_id = ?
		 ORDER BY timestamp_ms`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*Alert
	for rows.Next() {
		a := &Alert{}
		var openness sql.NullFloat64
		if err := rows.Scan(&a.ID, &a.SessionID, &a.TimestampMs, &a.ClosedFrames, &openness, &a.CreatedAt); err != nil {
			return nil, err
		}
		if openness.Valid {
			o := openness.Float64
			a.Openness = &o
		}
		alerts = append(alerts, a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return alerts, nil
}
