package bridge

import (
	"sync"
	"time"

	"github.com/ocx/bridge/internal/transport"
)

// Auth is one cached authorisation: a sessionID, the socket it belongs
// to, the opaque metadata the auth authority returned (augmented with the
// sessionID), and the timer that evicts it.
type Auth struct {
	SessionID string
	Socket    transport.Socket
	Metadata  map[string]any

	timer *time.Timer
}

// AuthCache maps sessionID to its cached Auth, with a per-entry eviction
// timer and an inverse socket→sessionIDs index used to cancel every
// authorisation belonging to a socket in one shot on close.
type AuthCache struct {
	mu        sync.Mutex
	authCache map[string]*Auth
	sockAuths map[socketKey]map[string]struct{}
	timeout   time.Duration
}

// NewAuthCache creates a cache whose entries evict after timeout. A
// timeout of exactly 0 is legal: entries evict on the next tick.
func NewAuthCache(timeout time.Duration) *AuthCache {
	return &AuthCache{
		authCache: make(map[string]*Auth),
		sockAuths: make(map[socketKey]map[string]struct{}),
		timeout:   timeout,
	}
}

// Put inserts (or replaces) the cached Auth for sid, starting a fresh
// eviction timer and recording sid under sock in the inverse index.
func (c *AuthCache) Put(sid string, sock transport.Socket, metadata map[string]any) *Auth {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.authCache[sid]; ok && existing.timer != nil {
		existing.timer.Stop()
	}

	augmented := make(map[string]any, len(metadata)+1)
	for k, v := range metadata {
		augmented[k] = v
	}
	augmented["sessionID"] = sid

	auth := &Auth{SessionID: sid, Socket: sock, Metadata: augmented}
	auth.timer = time.AfterFunc(c.timeout, func() { c.evict(sid, sock) })
	c.authCache[sid] = auth

	if c.sockAuths[sock] == nil {
		c.sockAuths[sock] = make(map[string]struct{})
	}
	c.sockAuths[sock][sid] = struct{}{}

	return auth
}

// Get returns the cached Auth for sid, if any.
func (c *AuthCache) Get(sid string) (*Auth, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	auth, ok := c.authCache[sid]
	return auth, ok
}

// evict removes sid's cache entry and its membership in sock's index
// entry, dropping the index entry entirely once it's empty.
func (c *AuthCache) evict(sid string, sock transport.Socket) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.authCache, sid)
	if set, ok := c.sockAuths[sock]; ok {
		delete(set, sid)
		if len(set) == 0 {
			delete(c.sockAuths, sock)
		}
	}
}

// CancelAllFor cancels and removes every cached Auth belonging to sock,
// invoked on socket close so no timer or cache entry outlives the socket.
func (c *AuthCache) CancelAllFor(sock transport.Socket) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for sid := range c.sockAuths[sock] {
		if auth, ok := c.authCache[sid]; ok {
			if auth.timer != nil {
				auth.timer.Stop()
			}
			delete(c.authCache, sid)
		}
	}
	delete(c.sockAuths, sock)
}

// HasAnyFor reports whether sock currently has at least one cached
// authorisation, used by the Outbound Filter to reject auth-required
// deliveries to sockets with no authorisation at all.
func (c *AuthCache) HasAnyFor(sock transport.Socket) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sockAuths[sock]) > 0
}

// Size returns the number of currently cached authorisations, for the
// admin stats stream.
func (c *AuthCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.authCache)
}

// MetadataForSocket aggregates the metadata of every Auth currently
// cached for sock, for the Outbound Filter's applySendAuthRules hook.
func (c *AuthCache) MetadataForSocket(sock transport.Socket) []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	sids := c.sockAuths[sock]
	out := make([]map[string]any, 0, len(sids))
	for sid := range sids {
		if auth, ok := c.authCache[sid]; ok {
			out = append(out, auth.Metadata)
		}
	}
	return out
}
