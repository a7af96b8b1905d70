// Package busauthority implements authority.Authority by forwarding the
// auth frame over the bus itself, via Bus.Send, to the configured auth
// address. This is the default backend: the authority is just another bus
// consumer, consistent with spec §6's auth request being an ordinary
// send/reply over the bus rather than a side-channel API.
package busauthority

import (
	"context"
	"fmt"

	"github.com/ocx/bridge/internal/bus"
)

// Authority sends auth frames to a fixed bus address and waits for a
// reply shaped like {"status": "ok"|"denied", ...metadata}.
type Authority struct {
	bus         bus.Bus
	authAddress string
}

// New returns an Authority that consults authAddress over b.
func New(b bus.Bus, authAddress string) *Authority {
	return &Authority{bus: b, authAddress: authAddress}
}

func (a *Authority) Authorise(ctx context.Context, frame map[string]any) (string, map[string]any, error) {
	reply, err := a.bus.Send(ctx, bus.Message{Address: a.authAddress, Body: frame})
	if err != nil {
		return "", nil, fmt.Errorf("busauthority: send to %q: %w", a.authAddress, err)
	}

	body, ok := reply.Body.(map[string]any)
	if !ok {
		return "", nil, fmt.Errorf("busauthority: reply from %q was not an object", a.authAddress)
	}

	status, _ := body["status"].(string)
	if status == "" {
		return "", nil, fmt.Errorf("busauthority: reply from %q missing status", a.authAddress)
	}

	metadata := make(map[string]any, len(body))
	for k, v := range body {
		if k != "status" {
			metadata[k] = v
		}
	}
	return status, metadata, nil
}

var _ interface {
	Authorise(ctx context.Context, frame map[string]any) (string, map[string]any, error)
} = (*Authority)(nil)
