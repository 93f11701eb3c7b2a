package app

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ayusman/drowsyguard/internal/drowsiness"
	"github.com/ayusman/drowsyguard/internal/store"
)

// DefaultFlushFrames is how many frames pass between session stat writes.
const DefaultFlushFrames = 150

// StoreSink records sessions and their alerts in the store. One sink can
// serve many concurrent sessions.
type StoreSink struct {
	store       *store.Store
	source      store.Source
	flushFrames int

	mu       sync.Mutex
	sessions map[string]*store.SessionStats
}

// NewStoreSink creates a sink writing sessions of the given source.
func NewStoreSink(st *store.Store, source store.Source) *StoreSink {
	return &StoreSink{
		store:       st,
		source:      source,
		flushFrames: DefaultFlushFrames,
		sessions:    make(map[string]*store.SessionStats),
	}
}

// SetFlushFrames changes how often running stats are written.
func (s *StoreSink) SetFlushFrames(n int) {
	if n < 1 {
		n = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushFrames = n
}

func (s *StoreSink) SessionStarted(id string, cfg drowsiness.Config) {
	config, err := json.Marshal(cfg)
	if err != nil {
		log.Printf("Failed to encode session config: %v", err)
	}

	err = s.store.Sessions().Create(&store.Session{
		ID:     id,
		Source: s.source,
		Config: config,
	})
	if err != nil {
		log.Printf("Failed to record session %s: %v", id, err)
		return
	}

	s.mu.Lock()
	s.sessions[id] = &store.SessionStats{}
	s.mu.Unlock()
}

func (s *StoreSink) Handle(ev Event) {
	s.mu.Lock()
	stats, ok := s.sessions[ev.SessionID]
	if !ok {
		s.mu.Unlock()
		return
	}

	res := ev.Result
	stats.Frames++
	if res.Openness == nil {
		stats.NoFaceFrames++
	}
	if res.IsDrowsy {
		stats.DrowsyFrames++
	}
	if res.ClosedFrameCount > stats.MaxClosedFrames {
		stats.MaxClosedFrames = res.ClosedFrameCount
	}

	var flush *store.SessionStats
	if stats.Frames%s.flushFrames == 0 {
		snapshot := *stats
		flush = &snapshot
	}
	s.mu.Unlock()

	if res.ShouldAlert {
		err := s.store.Alerts().Create(&store.Alert{
			ID:           uuid.NewString(),
			SessionID:    ev.SessionID,
			TimestampMs:  res.TimestampMs,
			ClosedFrames: res.ClosedFrameCount,
			Openness:     res.Openness,
		})
		if err != nil {
			log.Printf("Failed to record alert for session %s: %v", ev.SessionID, err)
		}
	}

	if flush != nil {
		if err := s.store.Sessions().UpdateStats(ev.SessionID, *flush); err != nil {
			log.Printf("Failed to update session %s: %v", ev.SessionID, err)
		}
	}
}

func (s *StoreSink) SessionEnded(id string) {
	s.mu.Lock()
	stats, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if !ok {
		return
	}

	if err := s.store.Sessions().UpdateStats(id, *stats); err != nil {
		log.Printf("Failed to update session %s: %v", id, err)
	}
	if err := s.store.Sessions().End(id, time.Now()); err != nil {
		log.Printf("Failed to end session %s: %v", id, err)
	}
}
