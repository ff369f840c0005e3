// Package bridge re-publishes the status channel to externally connected
// WebSocket sessions. It holds no state beyond the connection set: every
// upstream message goes out verbatim, stamped with a receive time when
// the payload lacks one.
package bridge

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/galnet/marketsync/internal/metrics"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
)

// session is one external connection. All writes go through write: the
// broadcast loop and the session's ping ticker run on different
// goroutines, and the connection forbids concurrent writers.
type session struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *session) write(messageType int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(messageType, data)
}

// Hub manages WebSocket sessions and broadcasts status payloads to all of
// them. A send failure to one client never affects the others.
type Hub struct {
	clients    map[*session]bool
	broadcast  chan []byte
	register   chan *session
	unregister chan *session
	mu         sync.RWMutex
}

// NewHub creates a new session hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*session]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *session),
		unregister: make(chan *session),
	}
}

// Run starts the hub's event loop. Must be called in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case sess := <-h.register:
			h.mu.Lock()
			h.clients[sess] = true
			total := len(h.clients)
			h.mu.Unlock()
			metrics.BridgeClients.Set(float64(total))
			slog.Info("status session connected", "total", total)

		case sess := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[sess]; ok {
				delete(h.clients, sess)
				sess.conn.Close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			metrics.BridgeClients.Set(float64(total))

		case msg := <-h.broadcast:
			h.mu.Lock()
			for sess := range h.clients {
				if err := sess.write(websocket.TextMessage, msg); err != nil {
					sess.conn.Close()
					delete(h.clients, sess)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast queues a payload for all connected sessions.
func (h *Hub) Broadcast(msg []byte) {
	select {
	case h.broadcast <- msg:
	default:
		// Drop if the buffer is full rather than block the re-publisher.
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // status stream is public, any origin may subscribe
	},
}

// HandleWS upgrades an external session. Ping/pong detects and drops
// half-open connections.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	sess := &session{conn: conn}
	h.register <- sess

	// Read pump: keep the connection alive and detect disconnects.
	go func() {
		defer func() { h.unregister <- sess }()
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()

	// Ping ticker to keep the connection alive through proxies.
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for range ticker.C {
			h.mu.RLock()
			_, ok := h.clients[sess]
			h.mu.RUnlock()
			if !ok {
				return
			}
			if err := sess.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}()
}
