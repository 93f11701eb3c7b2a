package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ayusman/drowsyguard/internal/app"
	"github.com/ayusman/drowsyguard/internal/detector"
	"github.com/ayusman/drowsyguard/internal/drowsiness"
	"github.com/ayusman/drowsyguard/internal/frames"
	"github.com/ayusman/drowsyguard/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 << 20
)

// Inbound message types.
const (
	MessageLandmarks = "landmarks"
	MessageFrame     = "frame"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // browsers connect from any origin
	},
}

var errNoDetector = errors.New("no face detector available")

// inboundMessage is one client frame. A JSON null or absent landmarks
// field means no face was found.
type inboundMessage struct {
	Type      string                   `json:"type"`
	Landmarks drowsiness.LandmarkFrame `json:"landmarks"`
	Image     string                   `json:"image"`
}

type helloMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// decisionMessage is sent for every processed frame.
type decisionMessage struct {
	Drowsy       bool `json:"drowsy"`
	ClosedFrames int  `json:"closed_frames"`
	Alarm        bool `json:"alarm"`
}

type errorMessage struct {
	Error string `json:"error"`
}

// DetectConfig configures a DetectHandler.
type DetectConfig struct {
	Detector    detector.Detector
	Detection   drowsiness.Config
	MaxImageDim int
	Metrics     *metrics.Metrics
	Sink        app.Sink
}

// DetectHandler runs one drowsiness session per WebSocket connection.
// Clients stream landmarks or camera images and get a decision back for
// each one. Session state is dropped when the connection closes.
type DetectHandler struct {
	config   DetectConfig
	detectMu sync.Mutex
	clients  map[*websocket.Conn]bool
	mu       sync.Mutex
	now      func() time.Time
}

// NewDetectHandler creates a new DetectHandler.
func NewDetectHandler(config DetectConfig) *DetectHandler {
	if config.Metrics == nil {
		config.Metrics = metrics.Default()
	}
	if config.MaxImageDim <= 0 {
		config.MaxImageDim = frames.DefaultMaxDim
	}
	return &DetectHandler{
		config:  config,
		clients: make(map[*websocket.Conn]bool),
		now:     time.Now,
	}
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *DetectHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	session, err := drowsiness.NewSession(h.config.Detection)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v", err)
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()

	m := h.config.Metrics
	m.WebSocketOpened()

	c := &client{
		handler: h,
		conn:    conn,
		session: session,
		id:      uuid.NewString(),
		started: h.now(),
		done:    make(chan struct{}),
	}
	session.OnMalformed = func(err error) {
		m.IncrementMalformed()
		log.Printf("session %s: malformed landmarks: %v", c.id, err)
	}

	defer func() {
		close(c.done)
		conn.Close()

		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()

		m.WebSocketClosed()
		if ss, ok := h.config.Sink.(app.SessionSink); ok {
			ss.SessionEnded(c.id)
		}
		log.Printf("session %s: disconnected", c.id)
	}()

	if ss, ok := h.config.Sink.(app.SessionSink); ok {
		ss.SessionStarted(c.id, h.config.Detection)
	}
	log.Printf("session %s: connected from %s", c.id, r.RemoteAddr)

	if err := c.write(helloMessage{Type: "connected", SessionID: c.id}); err != nil {
		return
	}

	go c.pingLoop()
	c.readLoop()
}

// CloseAll closes every open connection. Their handlers end their
// sessions as they return.
func (h *DetectHandler) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
	}
}

// Connections returns the number of open connections.
func (h *DetectHandler) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// detect runs the shared detector on a decoded image. Calls are
// serialized because detector implementations are not safe for
// concurrent use.
func (h *DetectHandler) detect(payload string) (drowsiness.LandmarkFrame, error) {
	if h.config.Detector == nil {
		return nil, errNoDetector
	}

	img, err := frames.DecodeLimit(payload, frames.MaxPixels(h.config.MaxImageDim))
	if err != nil {
		h.config.Metrics.IncrementDecodeErrors()
		return nil, fmt.Errorf("decode image: %w", err)
	}

	mat, err := frames.ToMat(img, h.config.MaxImageDim)
	if err != nil {
		h.config.Metrics.IncrementDecodeErrors()
		return nil, fmt.Errorf("decode image: %w", err)
	}
	defer mat.Close()

	h.detectMu.Lock()
	faces, err := h.config.Detector.Detect(&mat)
	h.detectMu.Unlock()
	if err != nil {
		h.config.Metrics.IncrementDetectErrors()
		return nil, fmt.Errorf("detect faces: %w", err)
	}
	return detector.Primary(faces), nil
}

// client is one connection and its session.
type client struct {
	handler *DetectHandler
	conn    *websocket.Conn
	session *drowsiness.Session
	id      string
	started time.Time
	done    chan struct{}
	writeMu sync.Mutex
}

func (c *client) write(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

func (c *client) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *client) readLoop() {
	m := c.handler.config.Metrics

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				m.IncrementWebSocketErrors()
				log.Printf("session %s: read error: %v", c.id, err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		m.IncrementWebSocketMessages()

		reply := c.handle(data)
		if err := c.write(reply); err != nil {
			log.Printf("session %s: write error: %v", c.id, err)
			return
		}
	}
}

// handle processes one inbound message and returns the reply. Rejected
// messages leave the session untouched.
func (c *client) handle(data []byte) any {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return errorMessage{Error: "invalid message: " + err.Error()}
	}

	var frame drowsiness.LandmarkFrame
	switch msg.Type {
	case MessageLandmarks:
		frame = msg.Landmarks
	case MessageFrame:
		if msg.Image == "" {
			return errorMessage{Error: frames.ErrEmptyPayload.Error()}
		}
		f, err := c.handler.detect(msg.Image)
		if err != nil {
			return errorMessage{Error: err.Error()}
		}
		frame = f
	default:
		return errorMessage{Error: fmt.Sprintf("unknown message type %q", msg.Type)}
	}

	now := c.handler.now()
	res := c.session.Update(frame, now.Sub(c.started).Milliseconds())

	c.handler.config.Metrics.RecordResult(res)
	if res.ShouldAlert {
		log.Printf("session %s: drowsiness alert after %d closed frames", c.id, res.ClosedFrameCount)
	}
	if sink := c.handler.config.Sink; sink != nil {
		sink.Handle(app.Event{SessionID: c.id, Result: res, At: now})
	}

	return decisionMessage{
		Drowsy:       res.IsDrowsy,
		ClosedFrames: res.ClosedFrameCount,
		Alarm:        res.ShouldAlert,
	}
}
