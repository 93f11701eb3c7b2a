package e2e

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ayusman/drowsyguard/internal/app"
	"github.com/ayusman/drowsyguard/internal/capture"
	"github.com/ayusman/drowsyguard/internal/detector"
	"github.com/ayusman/drowsyguard/internal/drowsiness"
	"github.com/ayusman/drowsyguard/internal/metrics"
	"github.com/ayusman/drowsyguard/internal/server"
	"github.com/ayusman/drowsyguard/internal/store"
)

type sessionJSON struct {
	ID           string  `json:"id"`
	Source       string  `json:"source"`
	EndedAt      *string `json:"ended_at"`
	Frames       int     `json:"frames"`
	DrowsyFrames int     `json:"drowsy_frames"`
	Alerts       int     `json:"alerts"`
}

func getJSON(t *testing.T, client *http.Client, url string, v any) int {
	t.Helper()

	resp, err := client.Get(url)
	if err != nil {
		t.Fatalf("GET %s error = %v", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK && v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("GET %s: decode error = %v", url, err)
		}
	}
	return resp.StatusCode
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func detection() drowsiness.Config {
	cfg := drowsiness.DefaultConfig()
	cfg.ClosedFramesThreshold = 3
	cfg.AlertCooldownMs = 60000
	return cfg
}

func TestE2E_RemoteSession(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test")
	}

	s, err := store.New(filepath.Join(t.TempDir(), "data.db"))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	defer s.Close()

	srv := server.New(server.Config{
		Store:     s,
		Detection: detection(),
		Metrics:   metrics.New(),
		Sink:      app.NewStoreSink(s, store.SourceRemote),
	})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	client := ts.Client()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/api/detect", nil)
	if err != nil {
		t.Fatalf("dial error = %v", err)
	}

	var hello struct {
		SessionID string `json:"session_id"`
	}
	if err := conn.ReadJSON(&hello); err != nil {
		t.Fatalf("read hello error = %v", err)
	}

	t.Run("StreamClosedEyes", func(t *testing.T) {
		closed := detector.ClosedEyesLandmarks()
		var alarms int
		for i := 0; i < 5; i++ {
			if err := conn.WriteJSON(map[string]any{"type": "landmarks", "landmarks": closed.Frame()}); err != nil {
				t.Fatalf("write error = %v", err)
			}
			var reply struct {
				Drowsy bool `json:"drowsy"`
				Alarm  bool `json:"alarm"`
			}
			if err := conn.ReadJSON(&reply); err != nil {
				t.Fatalf("read error = %v", err)
			}
			if reply.Drowsy != (i >= 2) {
				t.Errorf("frame %d: drowsy = %v", i+1, reply.Drowsy)
			}
			if reply.Alarm {
				alarms++
			}
		}
		if alarms != 1 {
			t.Errorf("alarms = %d, want 1", alarms)
		}
	})

	conn.Close()

	url := fmt.Sprintf("%s/api/sessions/%s", ts.URL, hello.SessionID)

	t.Run("SessionRecorded", func(t *testing.T) {
		var got sessionJSON
		eventually(t, "session to end", func() bool {
			return getJSON(t, client, url, &got) == http.StatusOK && got.EndedAt != nil
		})

		if got.Source != "remote" || got.Frames != 5 || got.DrowsyFrames != 3 || got.Alerts != 1 {
			t.Errorf("unexpected session: %+v", got)
		}
	})

	t.Run("AlertRecorded", func(t *testing.T) {
		var resp struct {
			Alerts []struct {
				ClosedFrames int `json:"closed_frames"`
			} `json:"alerts"`
		}
		if code := getJSON(t, client, url+"/alerts", &resp); code != http.StatusOK {
			t.Fatalf("status = %d", code)
		}
		if len(resp.Alerts) != 1 || resp.Alerts[0].ClosedFrames != 3 {
			t.Errorf("unexpected alerts: %+v", resp.Alerts)
		}
	})

	t.Run("MetricsCounted", func(t *testing.T) {
		var snap metrics.Snapshot
		getJSON(t, client, ts.URL+"/api/metrics", &snap)
		if snap.Frames != 5 || snap.Alerts != 1 || snap.WebSocket.TotalSessions != 1 {
			t.Errorf("unexpected metrics: %+v", snap)
		}
	})
}

func TestE2E_LocalMonitoring(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test")
	}

	s, err := store.New(filepath.Join(t.TempDir(), "data.db"))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	defer s.Close()

	mock := detector.NewMockDetector()
	mock.SetFaces([]detector.FaceLandmarks{detector.ClosedEyesLandmarks()})

	a, err := app.New(app.Config{Detection: detection(), FPS: 30, Detector: mock})
	if err != nil {
		t.Fatalf("app.New() error = %v", err)
	}
	m := metrics.New()
	a.SetMetrics(m)
	a.SetCamera(capture.NewBlankMockCamera())
	a.AddSink(app.NewStoreSink(s, store.SourceLocal))

	srv := server.New(server.Config{Store: s, Metrics: m, Status: a.Status})
	ts := httptest.NewServer(srv)
	defer ts.Close()
	client := ts.Client()

	if err := a.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	eventually(t, "first alert", func() bool { return m.Alerts() >= 1 })

	t.Run("StatusReportsDrowsy", func(t *testing.T) {
		var status app.Status
		if code := getJSON(t, client, ts.URL+"/api/status", &status); code != http.StatusOK {
			t.Fatalf("status = %d", code)
		}
		if !status.Running || !status.Drowsy || status.LastAlert == nil {
			t.Errorf("unexpected status: %+v", status)
		}
	})

	a.Stop()

	t.Run("SessionRecorded", func(t *testing.T) {
		var resp struct {
			Sessions []sessionJSON `json:"sessions"`
		}
		if code := getJSON(t, client, ts.URL+"/api/sessions", &resp); code != http.StatusOK {
			t.Fatalf("status = %d", code)
		}
		if len(resp.Sessions) != 1 {
			t.Fatalf("sessions = %d, want 1", len(resp.Sessions))
		}

		got := resp.Sessions[0]
		if got.Source != "local" || got.EndedAt == nil || got.Alerts != 1 {
			t.Errorf("unexpected session: %+v", got)
		}
		if int64(got.Frames) != m.Frames() {
			t.Errorf("frames = %d, metrics counted %d", got.Frames, m.Frames())
		}
	})
}
