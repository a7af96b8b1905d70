// Package transport defines the duplex, frame-oriented socket abstraction
// the Bridge Session (4.H) reads and writes. Concrete adapters live in
// wsocket (gorilla/websocket) and sockio (go-socket.io).
package transport

import "context"

// Socket is one client connection: a duplex stream of opaque frames.
// Implementations must make ReadFrame safe to call from a single reader
// goroutine and WriteFrame safe to call concurrently with that reader.
type Socket interface {
	// ID returns a stable identifier for this connection, unique for the
	// lifetime of the process.
	ID() string

	// ReadFrame blocks until a frame arrives, ctx is done, or the socket
	// closes. It must only ever be called by one goroutine at a time.
	ReadFrame(ctx context.Context) ([]byte, error)

	// WriteFrame sends data as a single frame. Safe for concurrent use.
	WriteFrame(ctx context.Context, data []byte) error

	// Close closes the underlying connection. Safe to call more than once.
	Close() error

	// Done is closed once the socket has closed, by either side.
	Done() <-chan struct{}
}
