// Package bus defines the subject-addressed publish/subscribe bus the
// bridge sits on top of. The bridge never depends on a concrete backend —
// only on this interface — so local, Redis, and Cloud Pub/Sub deployments
// share one bridge implementation.
package bus

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a bus that has already been closed.
var ErrClosed = errors.New("bus: closed")

// ErrTimeout is returned by Send when no reply arrives before ctx expires.
var ErrTimeout = errors.New("bus: send timed out waiting for reply")

// Message is the envelope exchanged over the bus. Body is left as `any` so
// bus implementations can carry arbitrary JSON-shaped client payloads
// without the bridge needing to know the wire format.
type Message struct {
	Address      string
	Body         any
	ReplyAddress string
}

// Handler processes a single delivered message. Handlers must not block for
// long; the bridge's own outbound filter dispatches quickly and relies on
// being re-entered promptly for the next delivery.
type Handler func(ctx context.Context, msg Message)

// Bus is the minimal contract the bridge requires of the event bus.
type Bus interface {
	// Publish fans a message out to every subscriber of msg.Address.
	// There is no reply; errors only reflect transport-level failure.
	Publish(ctx context.Context, msg Message) error

	// Send delivers msg point-to-point to (at most) one handler registered
	// on msg.Address and blocks until that handler replies or ctx is done.
	// This is the primitive the Auth Coordinator (4.D) uses to consult the
	// auth authority, and the primitive the bridge's Frame Dispatcher (4.F)
	// uses for client "send" frames that carry a replyAddress.
	Send(ctx context.Context, msg Message) (Message, error)

	// Subscribe registers handler for every message published or sent to
	// address and returns a function that removes the registration. Multiple
	// subscribers on the same address all receive Publish traffic; only one
	// is chosen to answer a Send.
	Subscribe(address string, handler Handler) (unsubscribe func())

	// Close releases backend resources (connections, goroutines). Subsequent
	// calls are safe no-ops.
	Close() error
}
