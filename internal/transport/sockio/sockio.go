// Package sockio adapts a googollee/go-socket.io connection to the
// bridge's transport.Socket interface, for deployments that want
// socket.io's long-polling fallback instead of a bare websocket upgrade.
package sockio

import (
	"context"
	"fmt"
	"sync"

	socketio "github.com/googollee/go-socket.io"
)

const frameEvent = "frame"

// Socket wraps one socket.io connection. Inbound frames are buffered on a
// channel fed by the "frame" event handler registered in Server.
type Socket struct {
	conn socketio.Conn

	mu        sync.Mutex
	frames    chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newSocket(conn socketio.Conn) *Socket {
	return &Socket{
		conn:   conn,
		frames: make(chan []byte, 64),
		done:   make(chan struct{}),
	}
}

// deliver is called by the Server's "frame" event handler for each
// inbound message; it never blocks the socket.io event loop for long.
func (s *Socket) deliver(data []byte) {
	select {
	case s.frames <- data:
	case <-s.done:
	}
}

// ID returns the socket.io connection's session id.
func (s *Socket) ID() string { return s.conn.ID() }

// ReadFrame blocks until a buffered frame is available.
func (s *Socket) ReadFrame(ctx context.Context) ([]byte, error) {
	select {
	case data := <-s.frames:
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, fmt.Errorf("sockio: closed")
	}
}

// WriteFrame emits data as a "frame" event. Concurrent calls are
// serialized by s.mu.
func (s *Socket) WriteFrame(_ context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.Emit(frameEvent, string(data))
	return nil
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

// Server wires socket.io connect/frame/disconnect callbacks to produce
// transport.Socket values, handed to onConnect as they're established.
type Server struct {
	io *socketio.Server

	mu      sync.Mutex
	sockets map[string]*Socket
}

// NewServer builds a socket.io server and registers the event handlers
// that bridge connections into *Socket values passed to onConnect.
func NewServer(onConnect func(*Socket)) (*Server, error) {
	io := socketio.NewServer(nil)
	s := &Server{io: io, sockets: make(map[string]*Socket)}

	io.OnConnect("/", func(conn socketio.Conn) error {
		sock := newSocket(conn)
		s.mu.Lock()
		s.sockets[conn.ID()] = sock
		s.mu.Unlock()
		if onConnect != nil {
			onConnect(sock)
		}
		return nil
	})

	io.OnEvent("/", frameEvent, func(conn socketio.Conn, data string) {
		s.mu.Lock()
		sock, ok := s.sockets[conn.ID()]
		s.mu.Unlock()
		if ok {
			sock.deliver([]byte(data))
		}
	})

	io.OnDisconnect("/", func(conn socketio.Conn, reason string) {
		s.mu.Lock()
		sock, ok := s.sockets[conn.ID()]
		delete(s.sockets, conn.ID())
		s.mu.Unlock()
		if ok {
			sock.Close()
		}
	})

	io.OnError("/", func(conn socketio.Conn, err error) {
		s.mu.Lock()
		sock, ok := s.sockets[conn.ID()]
		s.mu.Unlock()
		if ok {
			sock.Close()
		}
		_ = err
	})

	return s, nil
}

// Handler exposes the underlying socket.io server's HTTP handler, for
// mounting into a gorilla/mux router.
func (s *Server) Handler() *socketio.Server { return s.io }

// Serve runs the socket.io server's background event loop until ctx is
// cancelled.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.io.Close()
	}()
	return s.io.Serve()
}
