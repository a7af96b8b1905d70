package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// dispatch parses one client frame (4.F) and routes it to the matching
// operation. A missing type/address, an unrecognised type, or non-object
// JSON is a protocol error: fatal to that frame, but the socket is left
// open (see DESIGN.md's resolution of the corresponding open question).
func (b *Bridge) dispatch(ctx context.Context, sess *Session, raw []byte) {
	var frame map[string]any
	if err := json.Unmarshal(raw, &frame); err != nil {
		b.protocolError(sess, fmt.Errorf("malformed frame: %w", err))
		return
	}

	typ, _ := frame["type"].(string)
	address, hasAddress := frame["address"].(string)
	if typ == "" || !hasAddress || address == "" {
		b.protocolError(sess, fmt.Errorf("frame missing required type/address fields"))
		return
	}

	b.metrics.RecordFrame(typ)

	switch typ {
	case "send":
		b.ingress(ctx, sess, true, frame, address)
	case "publish":
		b.ingress(ctx, sess, false, frame, address)
	case "register":
		sess.Register(address)
	case "unregister":
		sess.Unregister(address)
	default:
		b.protocolError(sess, fmt.Errorf("unrecognised frame type %q", typ))
	}
}

// protocolError surfaces a fatal, per-frame client protocol error. The
// reference throws; this implementation drops the frame and logs, per
// spec §7 ("implementations should drop and surface").
func (b *Bridge) protocolError(sess *Session, err error) {
	slog.Warn("bridge: protocol error", "socket", sess.sock.ID(), "error", err)
}
