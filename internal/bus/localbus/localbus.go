// Package localbus is an in-process implementation of bus.Bus, for
// single-instance deployments. It is modeled on the teacher's
// fabric.LocalEventBus: an address-keyed map of subscriber handlers,
// fanned out from the caller via a short-lived goroutine per handler so a
// slow subscriber cannot block the publisher.
package localbus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/ocx/bridge/internal/bus"
)

type subscriberEntry struct {
	id      int64
	handler bus.Handler
}

// Bus is an in-memory, address-keyed publish/subscribe bus.
type Bus struct {
	mu      sync.RWMutex
	subs    map[string][]subscriberEntry
	closed  bool
	counter atomic.Int64
}

// New creates a ready-to-use in-process bus.
func New() *Bus {
	return &Bus{subs: make(map[string][]subscriberEntry)}
}

// Publish fans msg out to every subscriber of msg.Address.
func (b *Bus) Publish(ctx context.Context, msg bus.Message) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return bus.ErrClosed
	}
	handlers := append([]subscriberEntry(nil), b.subs[msg.Address]...)
	b.mu.RUnlock()

	for _, entry := range handlers {
		h := entry.handler
		go h(ctx, msg)
	}
	return nil
}

// Send delivers msg to the first subscriber on msg.Address and waits for
// that subscriber to reply on a synthetic, per-call reply address.
func (b *Bus) Send(ctx context.Context, msg bus.Message) (bus.Message, error) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return bus.Message{}, bus.ErrClosed
	}
	handlers := b.subs[msg.Address]
	if len(handlers) == 0 {
		b.mu.RUnlock()
		return bus.Message{}, fmt.Errorf("localbus: no subscriber for address %q", msg.Address)
	}
	target := handlers[0].handler
	b.mu.RUnlock()

	replyCh := make(chan bus.Message, 1)
	correlation := "_reply." + uuid.New().String()
	unsubscribe := b.Subscribe(correlation, func(_ context.Context, reply bus.Message) {
		select {
		case replyCh <- reply:
		default:
		}
	})
	defer unsubscribe()

	req := msg
	req.ReplyAddress = correlation
	go target(ctx, req)

	select {
	case reply := <-replyCh:
		return reply, nil
	case <-ctx.Done():
		return bus.Message{}, bus.ErrTimeout
	}
}

// Subscribe registers handler on address and returns a removal function.
func (b *Bus) Subscribe(address string, handler bus.Handler) (unsubscribe func()) {
	b.mu.Lock()
	id := b.counter.Add(1)
	b.subs[address] = append(b.subs[address], subscriberEntry{id: id, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		entries := b.subs[address]
		for i, e := range entries {
			if e.id == id {
				b.subs[address] = append(entries[:i], entries[i+1:]...)
				break
			}
		}
		if len(b.subs[address]) == 0 {
			delete(b.subs, address)
		}
	}
}

// Close marks the bus closed. Safe to call more than once.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = nil
	return nil
}

var _ bus.Bus = (*Bus)(nil)
