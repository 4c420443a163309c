package admin

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/mnohosten/repcrec/pkg/events"
)

// eventStream fans out events.Event values to every connected WebSocket
// client. It implements events.Sink so it can be registered directly on
// an events.Logger with AddSink.
type eventStream struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]chan events.Event
}

func newEventStream(allowedOrigins []string) *eventStream {
	return &eventStream{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		clients: make(map[*websocket.Conn]chan events.Event),
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		for _, o := range allowed {
			if o == "*" {
				return true
			}
		}
		origin := r.Header.Get("Origin")
		for _, o := range allowed {
			if o == origin {
				return true
			}
		}
		return false
	}
}

// ServeHTTP upgrades the connection and streams events, one JSON-encoded
// event per WebSocket text message, until the client disconnects.
func (s *eventStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	ch := make(chan events.Event, 64)
	s.mu.Lock()
	s.clients[conn] = ch
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
		close(ch)
		conn.Close()
	}()

	// Drain client reads so the connection's control frames (ping/pong,
	// close) are still processed even though we never expect a message.
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				conn.Close()
				return
			}
		}
	}()

	for e := range ch {
		payload, err := json.Marshal(e)
		if err != nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}

// Notify implements events.Sink by broadcasting e to every connected client.
// Slow clients have events dropped rather than blocking the simulation loop.
func (s *eventStream) Notify(e events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.clients {
		select {
		case ch <- e:
		default:
		}
	}
}

var _ events.Sink = (*eventStream)(nil)
