package server

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/png"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ayusman/drowsyguard/internal/app"
	"github.com/ayusman/drowsyguard/internal/detector"
	"github.com/ayusman/drowsyguard/internal/drowsiness"
	"github.com/ayusman/drowsyguard/internal/metrics"
)

// recordingSink collects what the detect handler forwards.
type recordingSink struct {
	mu      sync.Mutex
	events  []app.Event
	started []string
	ended   []string
}

func (r *recordingSink) Handle(ev app.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingSink) SessionStarted(id string, _ drowsiness.Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, id)
}

func (r *recordingSink) SessionEnded(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended = append(r.ended, id)
}

func (r *recordingSink) endedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ended)
}

func testDetection(closedFrames int) drowsiness.Config {
	cfg := drowsiness.DefaultConfig()
	cfg.ClosedFramesThreshold = closedFrames
	cfg.AlertCooldownMs = 60000
	return cfg
}

// reply is the union of every message the server sends.
type reply struct {
	Type         string `json:"type"`
	SessionID    string `json:"session_id"`
	Drowsy       bool   `json:"drowsy"`
	ClosedFrames int    `json:"closed_frames"`
	Alarm        bool   `json:"alarm"`
	Error        string `json:"error"`
}

// dial connects to /api/detect and consumes the hello message.
func dial(t *testing.T, srv *httptest.Server) (*websocket.Conn, string) {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/detect"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	var hello reply
	if err := conn.ReadJSON(&hello); err != nil {
		t.Fatalf("failed to read hello: %v", err)
	}
	if hello.Type != "connected" || hello.SessionID == "" {
		t.Fatalf("unexpected hello: %+v", hello)
	}
	return conn, hello.SessionID
}

func exchange(t *testing.T, conn *websocket.Conn, msg any) reply {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("write error: %v", err)
	}
	var r reply
	if err := conn.ReadJSON(&r); err != nil {
		t.Fatalf("read error: %v", err)
	}
	return r
}

func landmarksMessage(face *detector.FaceLandmarks) map[string]any {
	return map[string]any{"type": "landmarks", "landmarks": face.Frame()}
}

func pngDataURL(t *testing.T) string {
	t.Helper()

	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 32, 24))); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

// oversizedPNGDataURL declares a 40000x40000 image in a PNG header with no
// pixel data.
func oversizedPNGDataURL() string {
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:4], 40000)
	binary.BigEndian.PutUint32(ihdr[4:8], 40000)
	ihdr[8] = 8

	chunk := append([]byte("IHDR"), ihdr...)

	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	binary.Write(&buf, binary.BigEndian, uint32(len(ihdr)))
	buf.Write(chunk)
	binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestDetect_Landmarks(t *testing.T) {
	sink := &recordingSink{}
	m := metrics.New()
	srv := httptest.NewServer(New(Config{Detection: testDetection(3), Metrics: m, Sink: sink}))
	defer srv.Close()

	conn, id := dial(t, srv)
	closed := detector.ClosedEyesLandmarks()
	open := detector.OpenEyesLandmarks()

	want := []reply{
		{ClosedFrames: 1},
		{ClosedFrames: 2},
		{ClosedFrames: 3, Drowsy: true, Alarm: true},
		{ClosedFrames: 4, Drowsy: true},
	}
	for i, w := range want {
		got := exchange(t, conn, landmarksMessage(&closed))
		if got != w {
			t.Errorf("frame %d: got %+v, want %+v", i+1, got, w)
		}
	}

	t.Run("no face resets", func(t *testing.T) {
		got := exchange(t, conn, map[string]any{"type": "landmarks", "landmarks": nil})
		if got.Drowsy || got.ClosedFrames != 0 || got.Alarm {
			t.Errorf("expected reset, got %+v", got)
		}
	})

	t.Run("open eyes keep the count at zero", func(t *testing.T) {
		got := exchange(t, conn, landmarksMessage(&open))
		if got.Drowsy || got.ClosedFrames != 0 {
			t.Errorf("unexpected reply %+v", got)
		}
	})

	t.Run("malformed landmarks reset", func(t *testing.T) {
		exchange(t, conn, landmarksMessage(&closed))
		got := exchange(t, conn, map[string]any{"type": "landmarks", "landmarks": []map[string]float64{{"x": 1, "y": 1}}})
		if got.ClosedFrames != 0 || got.Error != "" {
			t.Errorf("expected reset, got %+v", got)
		}
		if m.Snapshot().MalformedFrames != 1 {
			t.Errorf("MalformedFrames = %d, want 1", m.Snapshot().MalformedFrames)
		}
	})

	conn.Close()
	waitFor(t, "session end", func() bool { return sink.endedCount() == 1 })

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.started) != 1 || sink.started[0] != id || sink.ended[0] != id {
		t.Errorf("unexpected session boundaries: started=%v ended=%v", sink.started, sink.ended)
	}
	if len(sink.events) != 8 {
		t.Errorf("sink saw %d events, want 8", len(sink.events))
	}
	alerts := 0
	for _, ev := range sink.events {
		if ev.SessionID != id {
			t.Errorf("event for session %q, want %q", ev.SessionID, id)
		}
		if ev.Result.ShouldAlert {
			alerts++
		}
	}
	if alerts != 1 {
		t.Errorf("sink saw %d alerts, want 1", alerts)
	}
}

func TestDetect_ErrorsKeepSession(t *testing.T) {
	m := metrics.New()
	srv := httptest.NewServer(New(Config{Detection: testDetection(3), Metrics: m}))
	defer srv.Close()

	conn, _ := dial(t, srv)
	closed := detector.ClosedEyesLandmarks()
	exchange(t, conn, landmarksMessage(&closed))
	exchange(t, conn, landmarksMessage(&closed))

	tests := []struct {
		name    string
		message string
		wantErr string
	}{
		{"invalid json", `{"type":`, "invalid message"},
		{"unknown type", `{"type":"audio"}`, `unknown message type "audio"`},
		{"frame without image", `{"type":"frame"}`, "empty image payload"},
		{"frame without detector", `{"type":"frame","image":"aGVsbG8="}`, "no face detector available"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(tt.message)); err != nil {
				t.Fatalf("write error: %v", err)
			}
			var got reply
			if err := conn.ReadJSON(&got); err != nil {
				t.Fatalf("read error: %v", err)
			}
			if !strings.Contains(got.Error, tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", got.Error, tt.wantErr)
			}
		})
	}

	// The closed run survives the rejected messages.
	got := exchange(t, conn, landmarksMessage(&closed))
	if got.ClosedFrames != 3 || !got.Drowsy || !got.Alarm {
		t.Errorf("expected third closed frame to alert, got %+v", got)
	}
	if m.Snapshot().Frames != 3 {
		t.Errorf("Frames = %d, want 3", m.Snapshot().Frames)
	}
}

func TestDetect_ImageFrames(t *testing.T) {
	m := metrics.New()
	mock := detector.NewMockDetector()
	mock.SetFaces([]detector.FaceLandmarks{detector.ClosedEyesLandmarks()})

	srv := httptest.NewServer(New(Config{Detection: testDetection(2), Detector: mock, Metrics: m}))
	defer srv.Close()

	conn, _ := dial(t, srv)
	frame := map[string]any{"type": "frame", "image": pngDataURL(t)}

	if got := exchange(t, conn, frame); got.ClosedFrames != 1 || got.Drowsy {
		t.Errorf("first frame: %+v", got)
	}
	if got := exchange(t, conn, frame); got.ClosedFrames != 2 || !got.Drowsy || !got.Alarm {
		t.Errorf("second frame: %+v", got)
	}
	if mock.Calls() != 2 {
		t.Errorf("detector called %d times, want 2", mock.Calls())
	}

	t.Run("no face in image resets", func(t *testing.T) {
		mock.SetFaces(nil)
		if got := exchange(t, conn, frame); got.ClosedFrames != 0 || got.Drowsy {
			t.Errorf("expected reset, got %+v", got)
		}
	})

	t.Run("oversized image is rejected before decoding", func(t *testing.T) {
		mock.SetFaces([]detector.FaceLandmarks{detector.ClosedEyesLandmarks()})
		exchange(t, conn, frame)
		calls := mock.Calls()

		got := exchange(t, conn, map[string]any{"type": "frame", "image": oversizedPNGDataURL()})
		if !strings.Contains(got.Error, "image too large") {
			t.Fatalf("expected image too large error, got %+v", got)
		}
		if mock.Calls() != calls {
			t.Error("detector should not run on a rejected frame")
		}

		// The closed run survives the rejected frame.
		if got := exchange(t, conn, frame); got.ClosedFrames != 2 || got.Error != "" {
			t.Errorf("expected session to continue, got %+v", got)
		}
		mock.SetFaces(nil)
		exchange(t, conn, frame)
	})

	t.Run("undecodable image", func(t *testing.T) {
		got := exchange(t, conn, map[string]any{"type": "frame", "image": "data:image/png;base64,aGVsbG8="})
		if got.Error == "" {
			t.Fatalf("expected error reply, got %+v", got)
		}
		if m.Snapshot().DecodeErrors != 2 {
			t.Errorf("DecodeErrors = %d, want 2", m.Snapshot().DecodeErrors)
		}
	})
}

func TestDetect_SessionsAreIndependent(t *testing.T) {
	m := metrics.New()
	srv := httptest.NewServer(New(Config{Detection: testDetection(3), Metrics: m}))
	defer srv.Close()

	a, idA := dial(t, srv)
	b, idB := dial(t, srv)
	if idA == idB {
		t.Fatal("expected distinct session ids")
	}

	closed := detector.ClosedEyesLandmarks()
	exchange(t, a, landmarksMessage(&closed))
	exchange(t, a, landmarksMessage(&closed))

	if got := exchange(t, b, landmarksMessage(&closed)); got.ClosedFrames != 1 {
		t.Errorf("second connection should start from zero, got %+v", got)
	}
	if got := m.ActiveConnections(); got != 2 {
		t.Errorf("ActiveConnections = %d, want 2", got)
	}

	a.Close()
	b.Close()
	waitFor(t, "connections to close", func() bool { return m.ActiveConnections() == 0 })

	if got := m.Snapshot().WebSocket.TotalSessions; got != 2 {
		t.Errorf("TotalSessions = %d, want 2", got)
	}
}

func TestServer_Shutdown(t *testing.T) {
	s := New(Config{})
	srv := httptest.NewServer(s)
	defer srv.Close()

	conn, _ := dial(t, srv)
	waitFor(t, "connection registration", func() bool { return s.detect.Connections() == 1 })

	s.detect.CloseAll()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected connection to be closed")
	}
	waitFor(t, "handler cleanup", func() bool { return s.detect.Connections() == 0 })
}
