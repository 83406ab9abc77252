package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// eventWriteWait bounds a single websocket write.
	eventWriteWait = 10 * time.Second
	// eventPingInterval keeps idle connections alive through proxies.
	eventPingInterval = 30 * time.Second
	// eventBuffer is the per-subscriber channel depth; a stalled client
	// misses events rather than backing up publishers.
	eventBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The event stream is an operational dashboard on a trusted
	// network; browser origin is not an access control here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleEvents streams the operational event bus over a websocket.
// GET /api/events
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "event bus not configured")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch := s.bus.Subscribe(eventBuffer)
	defer s.bus.Unsubscribe(ch)

	s.logger.Debug("event stream client connected", "remote", r.RemoteAddr)

	// Reader goroutine: we never expect client messages, but reading is
	// how close frames and dead connections surface.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(eventPingInterval)
	defer ping.Stop()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				s.logger.Debug("event stream write failed", "error", err)
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}
