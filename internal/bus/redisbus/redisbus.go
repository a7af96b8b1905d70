// Package redisbus distributes bus traffic across bridge instances using
// Redis Pub/Sub, modeled on the teacher's fabric.RedisEventBus: a thin
// PubSubClient interface keeps this package decoupled from a specific
// Redis driver, with the concrete go-redis/v9 wiring in client.go.
package redisbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/ocx/bridge/internal/bus"
)

// PubSubClient is the minimal Redis Pub/Sub surface redisbus needs. Any
// driver (go-redis, redigo) can satisfy it; client.go wires go-redis/v9.
type PubSubClient interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string, handler func([]byte)) (unsubscribe func(), err error)
	Close() error
}

type subscriberEntry struct {
	id      int64
	handler bus.Handler
}

// wireMessage is the JSON shape published on the Redis channel.
type wireMessage struct {
	Address      string `json:"address"`
	Body         any    `json:"body"`
	ReplyAddress string `json:"reply_address,omitempty"`
}

// Bus fans messages out to local subscribers and across Redis Pub/Sub so
// subscribers on other bridge instances also receive them.
type Bus struct {
	client PubSubClient
	prefix string

	mu         sync.RWMutex
	localSubs  map[string][]subscriberEntry
	unsubFuncs map[string]func() // per-address Redis unsubscribe
	closed     bool
	counter    atomic.Int64
}

// New creates a Redis-backed bus. prefix namespaces channels, e.g. "bridge:".
func New(client PubSubClient, prefix string) *Bus {
	if prefix == "" {
		prefix = "bridge:"
	}
	return &Bus{
		client:     client,
		prefix:     prefix,
		localSubs:  make(map[string][]subscriberEntry),
		unsubFuncs: make(map[string]func()),
	}
}

func (b *Bus) channel(address string) string { return b.prefix + address }

// Publish marshals msg and publishes it on the Redis channel for its
// address; every bridge instance subscribed to that address (including
// this one, via its own local fan-out) receives it.
func (b *Bus) Publish(ctx context.Context, msg bus.Message) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return bus.ErrClosed
	}
	b.mu.RUnlock()

	payload, err := json.Marshal(wireMessage{Address: msg.Address, Body: msg.Body, ReplyAddress: msg.ReplyAddress})
	if err != nil {
		return fmt.Errorf("redisbus: marshal: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel(msg.Address), payload); err != nil {
		slog.Warn("redisbus: publish failed, delivering locally only", "address", msg.Address, "error", err)
		b.deliverLocal(ctx, msg)
		return nil
	}
	return nil
}

// Send publishes msg and waits for a reply on a synthetic correlation
// channel, subscribed before publishing to avoid a race with a fast reply.
// The request is published like any other message, so every subscriber of
// msg.Address on every instance receives it; the first reply to arrive is
// returned and later ones are dropped.
func (b *Bus) Send(ctx context.Context, msg bus.Message) (bus.Message, error) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return bus.Message{}, bus.ErrClosed
	}
	b.mu.RUnlock()

	correlation := "_reply." + uuid.New().String()
	replyCh := make(chan bus.Message, 1)
	unsubscribe := b.Subscribe(correlation, func(_ context.Context, reply bus.Message) {
		select {
		case replyCh <- reply:
		default:
		}
	})
	defer unsubscribe()

	req := msg
	req.ReplyAddress = correlation
	if err := b.Publish(ctx, req); err != nil {
		return bus.Message{}, err
	}

	select {
	case reply := <-replyCh:
		return reply, nil
	case <-ctx.Done():
		return bus.Message{}, bus.ErrTimeout
	}
}

// Subscribe registers a local handler and, on first subscriber for address,
// opens the corresponding Redis subscription.
func (b *Bus) Subscribe(address string, handler bus.Handler) (unsubscribe func()) {
	b.mu.Lock()
	id := b.counter.Add(1)
	firstForAddress := len(b.localSubs[address]) == 0
	b.localSubs[address] = append(b.localSubs[address], subscriberEntry{id: id, handler: handler})
	b.mu.Unlock()

	if firstForAddress {
		redisUnsub, err := b.client.Subscribe(context.Background(), b.channel(address), func(payload []byte) {
			var wm wireMessage
			if err := json.Unmarshal(payload, &wm); err != nil {
				slog.Warn("redisbus: bad payload", "address", address, "error", err)
				return
			}
			b.deliverLocal(context.Background(), bus.Message{Address: wm.Address, Body: wm.Body, ReplyAddress: wm.ReplyAddress})
		})
		if err != nil {
			slog.Warn("redisbus: subscribe failed, local-only for this address", "address", address, "error", err)
		} else {
			b.mu.Lock()
			b.unsubFuncs[address] = redisUnsub
			b.mu.Unlock()
		}
	}

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		entries := b.localSubs[address]
		for i, e := range entries {
			if e.id == id {
				b.localSubs[address] = append(entries[:i], entries[i+1:]...)
				break
			}
		}
		if len(b.localSubs[address]) == 0 {
			delete(b.localSubs, address)
			if redisUnsub, ok := b.unsubFuncs[address]; ok {
				redisUnsub()
				delete(b.unsubFuncs, address)
			}
		}
	}
}

func (b *Bus) deliverLocal(ctx context.Context, msg bus.Message) {
	b.mu.RLock()
	handlers := append([]subscriberEntry(nil), b.localSubs[msg.Address]...)
	b.mu.RUnlock()
	for _, entry := range handlers {
		h := entry.handler
		go h(ctx, msg)
	}
}

// Close releases all Redis subscriptions and the underlying client.
func (b *Bus) Close() error {
	b.mu.Lock()
	b.closed = true
	for _, unsub := range b.unsubFuncs {
		unsub()
	}
	b.unsubFuncs = nil
	b.localSubs = nil
	b.mu.Unlock()
	return b.client.Close()
}

var _ bus.Bus = (*Bus)(nil)
