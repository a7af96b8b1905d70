// Package wsocket adapts a gorilla/websocket connection to the bridge's
// transport.Socket interface. The upgrade, ping ticker, and pong-driven
// read-deadline refresh are carried over from the teacher's
// fabric.handleSpokeConnection; write serialization through a mutex is
// new, since transport.Socket.WriteFrame must be safe for concurrent
// callers and gorilla/websocket connections are not.
package wsocket

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     buildCheckOrigin(),
}

// buildCheckOrigin allows every origin unless BRIDGE_ENV=production, in
// which case only origins listed in BRIDGE_ALLOWED_ORIGINS are accepted.
func buildCheckOrigin() func(r *http.Request) bool {
	env := os.Getenv("BRIDGE_ENV")
	allowedRaw := os.Getenv("BRIDGE_ALLOWED_ORIGINS")

	if env == "production" {
		allowed := make(map[string]bool)
		for _, origin := range strings.Split(allowedRaw, ",") {
			if o := strings.TrimSpace(origin); o != "" {
				allowed[o] = true
			}
		}
		return func(r *http.Request) bool {
			return allowed[r.Header.Get("Origin")]
		}
	}
	return func(r *http.Request) bool { return true }
}

// Socket wraps one upgraded websocket connection.
type Socket struct {
	id   string
	conn *websocket.Conn

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

// Upgrade upgrades an HTTP request to a websocket connection and returns a
// ready-to-use Socket. Upgrade starts the ping keepalive itself; the caller
// is responsible for the read loop (ReadFrame).
func Upgrade(w http.ResponseWriter, r *http.Request) (*Socket, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("wsocket: upgrade: %w", err)
	}
	s := &Socket{id: uuid.New().String(), conn: conn, done: make(chan struct{})}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go s.pingLoop()
	return s, nil
}

func (s *Socket) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.writeMu.Lock()
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := s.conn.WriteMessage(websocket.PingMessage, nil)
			s.writeMu.Unlock()
			if err != nil {
				s.Close()
				return
			}
		case <-s.done:
			return
		}
	}
}

// ID returns the socket's stable identifier.
func (s *Socket) ID() string { return s.id }

// ReadFrame blocks until the next frame arrives or the socket closes.
// Must only be called from a single goroutine.
func (s *Socket) ReadFrame(ctx context.Context) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}
	out := make(chan result, 1)
	go func() {
		_, data, err := s.conn.ReadMessage()
		out <- result{data: data, err: err}
	}()

	select {
	case r := <-out:
		if r.err != nil {
			s.Close()
			return nil, r.err
		}
		return r.data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, fmt.Errorf("wsocket: closed")
	}
}

// WriteFrame sends data as a single text frame. Safe for concurrent use.
func (s *Socket) WriteFrame(ctx context.Context, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	s.conn.SetWriteDeadline(deadline)
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// Close closes the underlying connection. Safe to call more than once.
func (s *Socket) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}

// Done is closed once the socket has closed.
func (s *Socket) Done() <-chan struct{} { return s.done }
