// Package adminws streams periodic bridge statistics to connected
// operators over a plain websocket — a read-only window onto bridge
// health, with no permission or auth semantics of its own (4.P).
package adminws

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// StatsEvent is one snapshot pushed to every connected admin client.
type StatsEvent struct {
	Timestamp        time.Time `json:"timestamp"`
	SessionsActive   int       `json:"sessions_active"`
	AuthCacheSize    int       `json:"auth_cache_size"`
	ReplyRegistrySize int      `json:"reply_registry_size"`
}

// StatsSource is whatever the streamer polls for a snapshot. *bridge.Bridge
// does not implement this directly (its internals are unexported by
// design); cmd/bridge-gateway wires a small adapter type instead.
type StatsSource interface {
	Snapshot() StatsEvent
}

// Streamer fans a periodic StatsSource snapshot out to every connected
// admin websocket client. Modeled directly on the teacher's
// internal/websocket.DAGStreamer register/unregister/broadcast trio.
type Streamer struct {
	source StatsSource
	period time.Duration

	clients    map[*websocket.Conn]bool
	broadcast  chan StatsEvent
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
}

// NewStreamer builds a Streamer that polls source every period.
func NewStreamer(source StatsSource, period time.Duration) *Streamer {
	return &Streamer{
		source:     source,
		period:     period,
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan StatsEvent, 16),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Run drives the client registry, the broadcast fan-out, and the
// periodic poll of source until stop is closed.
func (s *Streamer) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			s.mu.Lock()
			for client := range s.clients {
				client.Close()
			}
			s.clients = make(map[*websocket.Conn]bool)
			s.mu.Unlock()
			return

		case client := <-s.register:
			s.mu.Lock()
			s.clients[client] = true
			s.mu.Unlock()
			slog.Debug("adminws: client connected", "total", len(s.clients))

		case client := <-s.unregister:
			s.mu.Lock()
			if _, ok := s.clients[client]; ok {
				delete(s.clients, client)
				client.Close()
			}
			s.mu.Unlock()
			slog.Debug("adminws: client disconnected", "total", len(s.clients))

		case event := <-s.broadcast:
			s.mu.RLock()
			for client := range s.clients {
				if err := client.WriteJSON(event); err != nil {
					slog.Debug("adminws: write failed, dropping client", "error", err)
					client.Close()
					delete(s.clients, client)
				}
			}
			s.mu.RUnlock()

		case <-ticker.C:
			s.broadcast <- s.source.Snapshot()
		}
	}
}

// HandleWebSocket upgrades r and registers the connection for stats
// broadcasts until the client disconnects.
func (s *Streamer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("adminws: upgrade failed", "error", err)
		return
	}

	s.register <- conn

	go func() {
		defer func() { s.unregister <- conn }()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
