package bridge

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ocx/bridge/internal/transport"
)

// Session is the Bridge Session (4.H): per-socket lifecycle state. It
// owns the subscription handler map (4.E) and wires the socket's
// data/end events to the Frame Dispatcher and teardown respectively.
type Session struct {
	bridge *Bridge
	sock   transport.Socket

	mu       sync.Mutex
	handlers map[string]func() // address -> bus unsubscribe
	closed   bool
}

func newSession(b *Bridge, sock transport.Socket) *Session {
	return &Session{bridge: b, sock: sock, handlers: make(map[string]func())}
}

// Run reads frames from the socket until it closes or ctx is done,
// dispatching each to the bridge, then tears the session down.
func (s *Session) Run(ctx context.Context) {
	defer s.teardown()
	for {
		frame, err := s.sock.ReadFrame(ctx)
		if err != nil {
			return
		}
		s.bridge.dispatch(ctx, s, frame)
	}
}

// Register installs the bus handler for address (4.E.register).
// Re-registering an address already present replaces the prior handler —
// the new bus subscription is installed, then the previous one is
// explicitly unregistered so it cannot leak (see the registry's
// open-question resolution in DESIGN.md).
func (s *Session) Register(address string) {
	if !s.bridge.hooks().PreRegister(s.sock, address) {
		return
	}

	unsubscribe := s.bridge.bus.Subscribe(address, s.bridge.outboundHandler(s, address))

	s.mu.Lock()
	if prior, ok := s.handlers[address]; ok {
		prior()
	}
	s.handlers[address] = unsubscribe
	s.mu.Unlock()

	s.bridge.hooks().PostRegister(s.sock, address)
}

// Unregister removes the bus handler for address (4.E.unregister).
func (s *Session) Unregister(address string) {
	if !s.bridge.hooks().Unregister(s.sock, address) {
		return
	}

	s.mu.Lock()
	unsubscribe, ok := s.handlers[address]
	if ok {
		delete(s.handlers, address)
	}
	s.mu.Unlock()

	if ok {
		unsubscribe()
	}
}

// teardown closes every subscription, cancels every cached auth for this
// socket, and invokes the socketClosed hook — invariant 2 and 3 of the
// data model.
func (s *Session) teardown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	handlers := s.handlers
	s.handlers = nil
	s.mu.Unlock()

	for address, unsubscribe := range handlers {
		// Hook's return value is ignored on close, per spec 4.E.
		s.bridge.hooks().Unregister(s.sock, address)
		unsubscribe()
	}

	s.bridge.authCache.CancelAllFor(s.sock)
	s.bridge.hooks().SocketClosed(s.sock)
	s.bridge.removeSession(s.sock)
	_ = s.sock.Close()

	slog.Debug("bridge: session closed", "socket", s.sock.ID())
}
