package bridge

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/ocx/bridge/internal/bus"
)

// ingress implements 4.G's client→bus path for both "send" and "publish"
// frames.
func (b *Bridge) ingress(ctx context.Context, sess *Session, send bool, frame map[string]any, address string) {
	body, hasBody := frame["body"]
	if !b.hooks().SendOrPub(sess.sock, send, address, body) {
		return
	}
	if !hasBody {
		slog.Debug("bridge: dropped frame missing body", "socket", sess.sock.ID(), "address", address)
		return
	}

	match := b.matchEngine.Match(Inbound, address, body)
	if !match.DoesMatch {
		slog.Debug("bridge: dropped by inbound match", "socket", sess.sock.ID(), "address", address)
		b.metrics.RecordDrop("match")
		return
	}

	if match.RequiresAuth {
		sessionID, ok := frame["sessionID"].(string)
		if !ok || sessionID == "" {
			b.metrics.RecordDenial("no_session")
			b.deny(sess)
			return
		}
		authorised, err := b.authCoordinator.Authorise(ctx, frame, sessionID, sess.sock)
		if err != nil {
			b.metrics.RecordAuthLookup("error")
			b.metrics.RecordDenial("transport_error")
			b.deny(sess)
			return
		}
		if !authorised {
			b.metrics.RecordDenial("rejected")
			b.deny(sess)
			return
		}
	}

	replyAddress, _ := frame["replyAddress"].(string)

	// Register the outgoing message's own reply address before dispatch,
	// so a later client frame addressed there is accepted as reply
	// traffic without needing an inbound permission match of its own.
	if replyAddress != "" {
		b.replyRegistry.Add(replyAddress)
	}

	msg := bus.Message{Address: address, Body: body, ReplyAddress: replyAddress}

	if !send {
		if err := b.bus.Publish(ctx, msg); err != nil {
			slog.Warn("bridge: publish failed", "address", address, "error", err)
		}
		return
	}

	if replyAddress == "" {
		go func() {
			sendCtx, cancel := context.WithTimeout(context.Background(), b.cfg.ReplyTimeout)
			defer cancel()
			if _, err := b.bus.Send(sendCtx, msg); err != nil {
				slog.Debug("bridge: send with no reply interest failed", "address", address, "error", err)
			}
		}()
		return
	}

	go b.awaitReply(ctx, sess, replyAddress, msg)
}

// awaitReply performs the point-to-point send for a frame that named a
// replyAddress, then forwards the bus reply back to the client tagged
// with that replyAddress. If the reply itself carries a further
// replyAddress, that address is registered too — the "recursive chain"
// of 4.G step 6.
func (b *Bridge) awaitReply(ctx context.Context, sess *Session, replyAddress string, msg bus.Message) {
	sendCtx, cancel := context.WithTimeout(context.Background(), b.cfg.ReplyTimeout)
	defer cancel()

	reply, err := b.bus.Send(sendCtx, msg)
	if err != nil {
		slog.Debug("bridge: reply-awaiting send failed", "address", msg.Address, "error", err)
		return
	}

	if reply.ReplyAddress != "" {
		b.replyRegistry.Add(reply.ReplyAddress)
	}

	envelope := Envelope{Address: replyAddress, Body: reply.Body, ReplyAddress: reply.ReplyAddress}
	data, err := json.Marshal(envelope)
	if err != nil {
		slog.Warn("bridge: failed to marshal reply envelope", "error", err)
		return
	}
	if err := sess.sock.WriteFrame(ctx, data); err != nil {
		slog.Debug("bridge: failed to write reply envelope", "socket", sess.sock.ID(), "error", err)
	}
}

// deny writes the fixed denial frame to the client, bypassing the
// Outbound Filter entirely — denial is not itself subject to outbound
// match or auth rules.
func (b *Bridge) deny(sess *Session) {
	envelope := Envelope{Address: DenialAddress, Body: map[string]any{"status": "denied"}}
	data, err := json.Marshal(envelope)
	if err != nil {
		slog.Error("bridge: failed to marshal denial frame", "error", err)
		return
	}
	if err := sess.sock.WriteFrame(context.Background(), data); err != nil {
		slog.Debug("bridge: failed to write denial frame", "socket", sess.sock.ID(), "error", err)
	}
}

// outboundHandler builds the bus.Handler installed by Session.Register
// for registeredAddress — the Outbound Filter (4.G) applied to every bus
// delivery on that address.
func (b *Bridge) outboundHandler(sess *Session, registeredAddress string) bus.Handler {
	return func(ctx context.Context, msg bus.Message) {
		match := b.matchEngine.Match(Outbound, msg.Address, msg.Body)
		if !match.DoesMatch {
			slog.Debug("bridge: outbound dropped by match", "address", msg.Address)
			return
		}
		if match.RequiresAuth && !b.authCache.HasAnyFor(sess.sock) {
			return
		}

		metadataSet := b.authCache.MetadataForSocket(sess.sock)
		if !b.hooks().ApplySendAuthRules(metadataSet, msg.Address, msg.Body) {
			return
		}

		if msg.ReplyAddress != "" {
			b.replyRegistry.Add(msg.ReplyAddress)
		}

		envelope := Envelope{Address: msg.Address, Body: msg.Body, ReplyAddress: msg.ReplyAddress}
		data, err := json.Marshal(envelope)
		if err != nil {
			slog.Warn("bridge: failed to marshal outbound envelope", "address", registeredAddress, "error", err)
			return
		}
		if err := sess.sock.WriteFrame(ctx, data); err != nil {
			slog.Debug("bridge: failed to write outbound envelope", "socket", sess.sock.ID(), "error", err)
		}
	}
}
