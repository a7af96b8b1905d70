// Package bridge implements the bidirectional event-bus bridge: the
// per-session wiring that exposes a bus.Bus to socket clients under two
// independently configured permission lists, with asynchronous,
// TTL-cached session authorisation.
package bridge

import (
	"time"

	"github.com/ocx/bridge/internal/transport"
)

// Direction distinguishes client→bus traffic from bus→client traffic,
// since the two sides are filtered by independent permission lists.
type Direction int

const (
	Inbound Direction = iota
	Outbound
)

func (d Direction) String() string {
	if d == Inbound {
		return "inbound"
	}
	return "outbound"
}

// PermissionMatch is one entry in an inbound or outbound permission list.
// Exactly one of Address or AddressRegex should be set; if neither is set
// the address matches unconditionally.
type PermissionMatch struct {
	Address      *string
	AddressRegex *string
	Match        map[string]any
	RequiresAuth bool
}

// MatchResult is the Match Engine's verdict for one (direction, address,
// body) triple.
type MatchResult struct {
	DoesMatch    bool
	RequiresAuth bool
}

// Envelope is the JSON shape written to the client socket, both for bus
// deliveries and for the denial frame.
type Envelope struct {
	Address      string `json:"address"`
	Body         any    `json:"body"`
	ReplyAddress string `json:"replyAddress,omitempty"`
}

// DenialAddress is the fixed address denial frames are delivered on.
const DenialAddress = "client.auth"

// DefaultAuthAddress is the bus address the Auth Coordinator consults
// when a sessionID is not already cached.
const DefaultAuthAddress = "vertx.basicauthmanager.authorise"

// DefaultAuthTimeout is how long a cached authorisation survives before
// its timer evicts it.
const DefaultAuthTimeout = 5 * time.Minute

// DefaultReplyTimeout is how long an accepted send's reply address stays
// whitelisted while waiting for the bus reply.
const DefaultReplyTimeout = 30 * time.Second

// Config configures one Bridge instance.
type Config struct {
	InboundPermitted  []PermissionMatch
	OutboundPermitted []PermissionMatch

	// AuthTimeout is a pointer so an explicit 0 (immediate eviction, a
	// legal value per spec) is distinguishable from "unset, use default".
	AuthTimeout  *time.Duration
	AuthAddress  string
	ReplyTimeout time.Duration

	Hooks Hooks
}

// WithDefaults returns a copy of cfg with unset fields replaced by their
// spec defaults. AuthTimeout of exactly 0 is preserved, not defaulted.
func (c Config) WithDefaults() Config {
	if c.AuthAddress == "" {
		c.AuthAddress = DefaultAuthAddress
	}
	if c.AuthTimeout == nil {
		d := DefaultAuthTimeout
		c.AuthTimeout = &d
	}
	if c.ReplyTimeout == 0 {
		c.ReplyTimeout = DefaultReplyTimeout
	}
	if c.Hooks == nil {
		c.Hooks = NoopHooks{}
	}
	return c
}

// socketKey is the map key type for per-socket bridge-wide state.
// transport.Socket implementations are pointer types, so the interface
// value itself is comparable and safe as a map key.
type socketKey = transport.Socket
