package store

import (
	"testing"
)

func TestAlertRepository_Create(t *testing.T) {
	s := newTestStore(t)
	s.Sessions().Create(&Session{ID: "s1", Source: SourceLocal})

	openness := 0.12
	alerts := []*Alert{
		{ID: "a2", SessionID: "s1", TimestampMs: 6100, ClosedFrames: 200, Openness: &openness},
		{ID: "a1", SessionID: "s1", TimestampMs: 1000, ClosedFrames: 15},
	}
	for _, a := range alerts {
		if err := s.Alerts().Create(a); err != nil {
			t.Fatalf("Create(%s) error = %v", a.ID, err)
		}
	}

	got, err := s.Alerts().ListBySession("s1")
	if err != nil {
		t.Fatalf("ListBySession() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 alerts, got %d", len(got))
	}
	if got[0].ID != "a1" || got[1].ID != "a2" {
		t.Errorf("alerts not ordered by timestamp: %s, %s", got[0].ID, got[1].ID)
	}
	if got[0].Openness != nil {
		t.Errorf("expected nil openness, got %f", *got[0].Openness)
	}
	if got[1].Openness == nil || *got[1].Openness != 0.12 {
		t.Errorf("expected openness 0.12, got %v", got[1].Openness)
	}

	session, err := s.Sessions().GetByID("s1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if session.Alerts != 2 {
		t.Errorf("session alert count = %d, want 2", session.Alerts)
	}
}

func TestAlertRepository_UnknownSession(t *testing.T) {
	s := newTestStore(t)

	err := s.Alerts().Create(&Alert{ID: "a1", SessionID: "missing", TimestampMs: 1})
	if err == nil {
		t.Fatal("expected error for alert without session")
	}

	alerts, err := s.Alerts().ListBySession("missing")
	if err != nil {
		t.Fatalf("ListBySession() error = %v", err)
	}
	if len(alerts) != 0 {
		t.Errorf("expected no alerts, got %d", len(alerts))
	}
}

func TestAlertRepository_CascadeDelete(t *testing.T) {
	s := newTestStore(t)
	s.Sessions().Create(&Session{ID: "s1", Source: SourceLocal})
	s.Alerts().Create(&Alert{ID: "a1", SessionID: "s1", TimestampMs: 10, ClosedFrames: 15})

	if err := s.Sessions().Delete("s1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	var count int
	if err := s.DB().QueryRow("SELECT COUNT(*) FROM alerts").Scan(&count); err != nil {
		t.Fatalf("count alerts: %v", err)
	}
	if count != 0 {
		t.Errorf("expected alerts to be deleted with their session, got %d", count)
	}
}
