package bridge

import (
	"sync"

	"github.com/ocx/bridge/internal/bus"
	"github.com/ocx/bridge/internal/metrics"
	"github.com/ocx/bridge/internal/transport"
)

// Bridge is one bridge instance: the bridge-wide state of the data model
// (§3) plus the bus and configuration it was built with. Bridges do not
// share state with one another.
type Bridge struct {
	cfg Config
	bus bus.Bus

	matchEngine     *MatchEngine
	replyRegistry   *ReplyAddressRegistry
	authCache       *AuthCache
	authCoordinator *AuthCoordinator

	metrics *metrics.Metrics

	mu       sync.Mutex
	sessions map[socketKey]*Session
}

// WithMetrics attaches m to b; subsequent dispatches and session
// lifecycle events report to it. Safe to call with a nil *Metrics, which
// makes every recording call a no-op.
func (b *Bridge) WithMetrics(m *metrics.Metrics) *Bridge {
	b.metrics = m
	return b
}

// New builds a Bridge wired to b, applying cfg's defaults.
func New(cfg Config, b bus.Bus) *Bridge {
	cfg = cfg.WithDefaults()
	replyRegistry := NewReplyAddressRegistry(cfg.ReplyTimeout)
	authCache := NewAuthCache(*cfg.AuthTimeout)

	return &Bridge{
		cfg:             cfg,
		bus:             b,
		matchEngine:     NewMatchEngine(cfg.InboundPermitted, cfg.OutboundPermitted, replyRegistry),
		replyRegistry:   replyRegistry,
		authCache:       authCache,
		authCoordinator: NewAuthCoordinator(authCache, b, cfg.AuthAddress, cfg.Hooks),
		sessions:        make(map[socketKey]*Session),
	}
}

func (b *Bridge) hooks() Hooks { return b.cfg.Hooks }

// Connect creates a Bridge Session (4.H) for a newly accepted socket and
// registers it in the bridge's session table. The caller is responsible
// for running the returned session (typically in its own goroutine):
//
//	sess := bridge.Connect(sock)
//	go sess.Run(ctx)
func (b *Bridge) Connect(sock transport.Socket) *Session {
	sess := newSession(b, sock)

	b.mu.Lock()
	b.sessions[sock] = sess
	count := len(b.sessions)
	b.mu.Unlock()
	b.metrics.SetSessionsActive(count)

	return sess
}

func (b *Bridge) removeSession(sock transport.Socket) {
	b.mu.Lock()
	delete(b.sessions, sock)
	count := len(b.sessions)
	b.mu.Unlock()
	b.metrics.SetSessionsActive(count)
}

// PreAuthorise directly seeds the Auth Cache for sessionID/sock, bypassing
// the Auth Coordinator's bus round trip entirely. This is how a transport
// that already authenticated the peer out of band — SPIFFE/mTLS identity
// verified at connect time (4.M) — grants a session equivalent standing
// to one that passed the normal authority consult.
func (b *Bridge) PreAuthorise(sessionID string, sock transport.Socket, metadata map[string]any) {
	b.authCache.Put(sessionID, sock, metadata)
	b.metrics.RecordAuthLookup("pre_authorised")
}

// SessionCount returns the number of currently connected sessions, for
// the admin stream and metrics.
func (b *Bridge) SessionCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}

// AuthCacheSize returns the number of currently cached authorisations,
// for the admin stats stream (4.P).
func (b *Bridge) AuthCacheSize() int {
	return b.authCache.Size()
}

// ReplyRegistrySize returns the number of currently whitelisted reply
// addresses, for the admin stats stream (4.P).
func (b *Bridge) ReplyRegistrySize() int {
	return b.replyRegistry.Size()
}

// Close tears down every active session, cancelling its subscriptions
// and cached authorisations.
func (b *Bridge) Close() {
	b.mu.Lock()
	sessions := make([]*Session, 0, len(b.sessions))
	for _, sess := range b.sessions {
		sessions = append(sessions, sess)
	}
	b.mu.Unlock()

	for _, sess := range sessions {
		sess.teardown()
	}
}
