package bridge

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/bridge/internal/bus"
	"github.com/ocx/bridge/internal/bus/localbus"
	"github.com/ocx/bridge/internal/transport"
)

func newTestBridge(t *testing.T, cfg Config) (*Bridge, bus.Bus) {
	t.Helper()
	b := localbus.New()
	t.Cleanup(func() { _ = b.Close() })
	return New(cfg, b), b
}

// S1: inbound send passes.
func TestScenarioS1InboundSendPasses(t *testing.T) {
	cfg := Config{InboundPermitted: []PermissionMatch{{Address: strPtr("foo")}}}
	br, b := newTestBridge(t, cfg)
	sock := newFakeSocket("s1")
	sess := br.Connect(sock)

	received := make(chan bus.Message, 1)
	unsubscribe := b.Subscribe("foo", func(_ context.Context, msg bus.Message) { received <- msg })
	defer unsubscribe()

	br.dispatch(context.Background(), sess, []byte(`{"type":"send","address":"foo","body":{"x":1}}`))

	select {
	case msg := <-received:
		body, _ := msg.Body.(map[string]any)
		assert.Equal(t, float64(1), body["x"])
	case <-time.After(time.Second):
		t.Fatal("bus never received the send")
	}
	assert.Empty(t, sock.frames())
}

// S2: inbound send with mismatched body constraint is dropped.
func TestScenarioS2MismatchedBodyDropped(t *testing.T) {
	cfg := Config{InboundPermitted: []PermissionMatch{{Address: strPtr("foo"), Match: map[string]any{"x": float64(1)}}}}
	br, b := newTestBridge(t, cfg)
	sock := newFakeSocket("s1")
	sess := br.Connect(sock)

	received := make(chan bus.Message, 1)
	unsubscribe := b.Subscribe("foo", func(_ context.Context, msg bus.Message) { received <- msg })
	defer unsubscribe()

	br.dispatch(context.Background(), sess, []byte(`{"type":"send","address":"foo","body":{"x":2}}`))

	select {
	case <-received:
		t.Fatal("bus should not have received a dropped send")
	case <-time.After(100 * time.Millisecond):
	}
}

// S3: auth required, no session -> denial frame.
func TestScenarioS3AuthRequiredNoSession(t *testing.T) {
	cfg := Config{InboundPermitted: []PermissionMatch{{Address: strPtr("foo"), RequiresAuth: true}}}
	br, _ := newTestBridge(t, cfg)
	sock := newFakeSocket("s1")
	sess := br.Connect(sock)

	br.dispatch(context.Background(), sess, []byte(`{"type":"send","address":"foo","body":{}}`))

	require.Eventually(t, func() bool { return len(sock.frames()) == 1 }, time.Second, time.Millisecond)
	var envelope Envelope
	require.NoError(t, json.Unmarshal(sock.frames()[0], &envelope))
	assert.Equal(t, DenialAddress, envelope.Address)
	body, _ := envelope.Body.(map[string]any)
	assert.Equal(t, "denied", body["status"])
}

// S4: auth required, valid session -> bus receives send, authCache populated.
func TestScenarioS4AuthRequiredValidSession(t *testing.T) {
	cfg := Config{InboundPermitted: []PermissionMatch{{Address: strPtr("foo"), RequiresAuth: true}}}
	br, b := newTestBridge(t, cfg)
	sock := newFakeSocket("s1")
	sess := br.Connect(sock)

	received := make(chan bus.Message, 1)
	unsubFoo := b.Subscribe("foo", func(_ context.Context, msg bus.Message) { received <- msg })
	defer unsubFoo()

	unsubAuth := b.Subscribe(DefaultAuthAddress, func(ctx context.Context, msg bus.Message) {
		_ = b.Publish(ctx, bus.Message{Address: msg.ReplyAddress, Body: map[string]any{"status": "ok"}})
	})
	defer unsubAuth()

	br.dispatch(context.Background(), sess, []byte(`{"type":"send","address":"foo","body":{},"sessionID":"S"}`))

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("bus never received the authorised send")
	}

	require.Eventually(t, func() bool {
		_, ok := br.authCache.Get("S")
		return ok
	}, time.Second, time.Millisecond)
}

// S5: outbound delivery after register.
func TestScenarioS5OutboundDelivery(t *testing.T) {
	cfg := Config{OutboundPermitted: []PermissionMatch{{Address: strPtr("bar")}}}
	br, b := newTestBridge(t, cfg)
	sock := newFakeSocket("s1")
	sess := br.Connect(sock)

	br.dispatch(context.Background(), sess, []byte(`{"type":"register","address":"bar"}`))

	require.NoError(t, b.Publish(context.Background(), bus.Message{Address: "bar", Body: map[string]any{"k": "v"}}))

	require.Eventually(t, func() bool { return len(sock.frames()) == 1 }, time.Second, time.Millisecond)
	var envelope Envelope
	require.NoError(t, json.Unmarshal(sock.frames()[0], &envelope))
	assert.Equal(t, "bar", envelope.Address)
	body, _ := envelope.Body.(map[string]any)
	assert.Equal(t, "v", body["k"])
}

// S6: close cleanup after S4+S5.
func TestScenarioS6CloseCleanup(t *testing.T) {
	cfg := Config{
		InboundPermitted:  []PermissionMatch{{Address: strPtr("foo"), RequiresAuth: true}},
		OutboundPermitted: []PermissionMatch{{Address: strPtr("bar")}},
	}
	br, b := newTestBridge(t, cfg)
	sock := newFakeSocket("s1")
	sess := br.Connect(sock)

	unsubAuth := b.Subscribe(DefaultAuthAddress, func(ctx context.Context, msg bus.Message) {
		_ = b.Publish(ctx, bus.Message{Address: msg.ReplyAddress, Body: map[string]any{"status": "ok"}})
	})
	defer unsubAuth()

	received := make(chan struct{}, 1)
	unsubFoo := b.Subscribe("foo", func(context.Context, bus.Message) { received <- struct{}{} })
	defer unsubFoo()

	br.dispatch(context.Background(), sess, []byte(`{"type":"send","address":"foo","body":{},"sessionID":"S"}`))
	<-received

	br.dispatch(context.Background(), sess, []byte(`{"type":"register","address":"bar"}`))
	require.Eventually(t, func() bool {
		_, ok := br.authCache.Get("S")
		return ok
	}, time.Second, time.Millisecond)

	sess.teardown()

	assert.False(t, br.authCache.HasAnyFor(sock))
	_, ok := br.authCache.Get("S")
	assert.False(t, ok)

	sock2 := newFakeSocket("s2")
	sess2 := br.Connect(sock2)
	br.dispatch(context.Background(), sess2, []byte(`{"type":"register","address":"bar"}`))

	require.NoError(t, b.Publish(context.Background(), bus.Message{Address: "bar", Body: map[string]any{"k": "v"}}))
	require.Eventually(t, func() bool { return len(sock2.frames()) == 1 }, time.Second, time.Millisecond)
	// sess's old handler was removed on close, so only sess2 (one
	// subscriber) receives the publish — not two.
	assert.Empty(t, sock.frames())
}

// Property 7: handler idempotence — re-registering the same address
// leaves exactly one installed bus subscription.
func TestPropertyHandlerIdempotence(t *testing.T) {
	cfg := Config{OutboundPermitted: []PermissionMatch{{Address: strPtr("bar")}}}
	br, b := newTestBridge(t, cfg)
	sock := newFakeSocket("s1")
	sess := br.Connect(sock)

	sess.Register("bar")
	sess.Register("bar")

	require.NoError(t, b.Publish(context.Background(), bus.Message{Address: "bar", Body: "x"}))
	require.Eventually(t, func() bool { return len(sock.frames()) == 1 }, time.Second, time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Len(t, sock.frames(), 1, "double registration must not double-deliver")
}

// Property 8: hook veto dominates even when match/auth would allow.
func TestPropertyHookVetoDominates(t *testing.T) {
	cfg := Config{
		InboundPermitted: []PermissionMatch{{Address: strPtr("foo")}},
		Hooks:            vetoHooks{},
	}
	br, b := newTestBridge(t, cfg)
	sock := newFakeSocket("s1")
	sess := br.Connect(sock)

	received := make(chan struct{}, 1)
	unsubscribe := b.Subscribe("foo", func(context.Context, bus.Message) { received <- struct{}{} })
	defer unsubscribe()

	br.dispatch(context.Background(), sess, []byte(`{"type":"send","address":"foo","body":{}}`))

	select {
	case <-received:
		t.Fatal("hook veto should have prevented the send")
	case <-time.After(100 * time.Millisecond):
	}
}

type vetoHooks struct{ NoopHooks }

func (vetoHooks) SendOrPub(sock transport.Socket, send bool, address string, body any) bool {
	return false
}
