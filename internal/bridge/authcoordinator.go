package bridge

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ocx/bridge/internal/bus"
	"github.com/ocx/bridge/internal/transport"
)

// AuthCoordinator decides whether an inbound frame requiring auth is
// permitted, consulting the cache first and falling back to a bus round
// trip against the configured auth authority address.
type AuthCoordinator struct {
	cache       *AuthCache
	bus         bus.Bus
	authAddress string
	hooks       Hooks
}

// NewAuthCoordinator builds a coordinator over cache and b, consulting
// authAddress on cache misses.
func NewAuthCoordinator(cache *AuthCache, b bus.Bus, authAddress string, hooks Hooks) *AuthCoordinator {
	return &AuthCoordinator{cache: cache, bus: b, authAddress: authAddress, hooks: hooks}
}

// Authorise reports whether frame, sent under sessionID from sock, is
// authorised. Any transport error or timeout from the bus round trip
// surfaces as (false, err); the caller treats that identically to an
// explicit denial.
func (a *AuthCoordinator) Authorise(ctx context.Context, frame map[string]any, sessionID string, sock transport.Socket) (bool, error) {
	if auth, ok := a.cache.Get(sessionID); ok {
		// Spec: the reference re-consults applyReceiveAuthRules on every
		// send, even for a cache hit — a cached accept is not a permanent
		// accept.
		if !a.hooks.ApplyReceiveAuthRules(frame, auth.Metadata) {
			return false, nil
		}
		return true, nil
	}

	reply, err := a.bus.Send(ctx, bus.Message{Address: a.authAddress, Body: frame})
	if err != nil {
		slog.Error("authcoordinator: auth authority round trip failed", "address", a.authAddress, "sessionID", sessionID, "error", err)
		return false, err
	}

	body, ok := reply.Body.(map[string]any)
	if !ok {
		return false, fmt.Errorf("authcoordinator: auth authority reply was not an object")
	}
	status, _ := body["status"].(string)
	if status != "ok" {
		return false, nil
	}

	metadata := make(map[string]any, len(body))
	for k, v := range body {
		if k != "status" {
			metadata[k] = v
		}
	}

	if !a.hooks.ApplyReceiveAuthRules(frame, metadata) {
		return false, nil
	}

	a.cache.Put(sessionID, sock, metadata)
	return true, nil
}
