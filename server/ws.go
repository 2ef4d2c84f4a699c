package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AuralStack/ScribeFlow/events"
	"github.com/AuralStack/ScribeFlow/logger"
)

const (
	// subscriberBuffer is the per-connection send queue. A consumer
	// that falls this far behind starts losing events.
	subscriberBuffer = 64

	// wsWriteWait bounds a single websocket write.
	wsWriteWait = 10 * time.Second

	// wsPongWait is how long a connection may stay silent before it is
	// considered dead. Pings go out at 90% of this interval.
	wsPongWait = 60 * time.Second

	wsPingInterval = wsPongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Identity comes from the X-User-ID header, not cookies, so
	// cross-origin upgrades carry no ambient authority.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsEvent is the wire shape pushed to websocket consumers. It mirrors
// the polling API's record shape.
type wsEvent struct {
	Type      events.EventType `json:"type"`
	SessionID string           `json:"session_id"`
	Timestamp time.Time        `json:"timestamp"`
	Data      events.EventData `json:"data,omitempty"`
}

// sessionHub fans one session's transcript events out to every open
// websocket on that session.
type sessionHub struct {
	mu     sync.Mutex
	subs   []chan []byte
	closed bool
}

func (h *sessionHub) subscribe() <-chan []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan []byte, subscriberBuffer)
	if h.closed {
		close(ch)
		return ch
	}
	h.subs = append(h.subs, ch)
	return ch
}

func (h *sessionHub) unsubscribe(ch <-chan []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, sub := range h.subs {
		if sub == ch {
			h.subs = append(h.subs[:i], h.subs[i+1:]...)
			return
		}
	}
}

func (h *sessionHub) send(payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for _, ch := range h.subs {
		select {
		case ch <- payload:
		default:
			// slow consumer — drop the event rather than block the bus
		}
	}
}

func (h *sessionHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for _, ch := range h.subs {
		close(ch)
	}
	h.subs = nil
}

func (s *Server) getOrCreateHub(sessionID string) *sessionHub {
	s.hubsMu.Lock()
	defer s.hubsMu.Unlock()
	h, ok := s.hubs[sessionID]
	if !ok {
		h = &sessionHub{}
		s.hubs[sessionID] = h
	}
	return h
}

func (s *Server) lookupHub(sessionID string) *sessionHub {
	s.hubsMu.Lock()
	defer s.hubsMu.Unlock()
	return s.hubs[sessionID]
}

func (s *Server) removeHub(sessionID string) {
	s.hubsMu.Lock()
	defer s.hubsMu.Unlock()
	delete(s.hubs, sessionID)
}

func (s *Server) closeAllHubs() {
	s.hubsMu.Lock()
	defer s.hubsMu.Unlock()
	for id, h := range s.hubs {
		h.close()
		delete(s.hubs, id)
	}
}

// fanOut routes a transcript event from the bus to the session's hub.
// Sessions nobody is watching have no hub and cost nothing here.
func (s *Server) fanOut(e *events.Event) {
	h := s.lookupHub(e.SessionID)
	if h == nil {
		return
	}

	payload, err := json.Marshal(wsEvent{
		Type:      e.Type,
		SessionID: e.SessionID,
		Timestamp: e.Timestamp,
		Data:      e.Data,
	})
	if err != nil {
		return
	}
	h.send(payload)

	if e.Type == events.EventSessionFinalized {
		h.close()
		s.removeHub(e.SessionID)
	}
}

// handleLiveWS upgrades the connection and streams the session's
// partial/commit/final events until the session finalizes or the client
// goes away.
func (s *Server) handleLiveWS(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")

	// Ownership check before the upgrade; errors can still travel as
	// plain HTTP here.
	if _, err := s.deps.Live.Live(r.Context(), userID(r.Context()), sessionID); err != nil {
		writeError(w, r, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		return
	}
	defer conn.Close()

	hub := s.getOrCreateHub(sessionID)
	ch := hub.subscribe()
	defer hub.unsubscribe(ch)

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	// Reader goroutine: consumes control frames and unblocks the writer
	// when the peer closes the connection.
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case payload, ok := <-ch:
			if !ok {
				// Session finalized; say goodbye cleanly.
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session finalized"),
					time.Now().Add(wsWriteWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				logger.DebugContext(r.Context(), "websocket write failed",
					"session_id", sessionID, "error", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-readerDone:
			return
		}
	}
}
