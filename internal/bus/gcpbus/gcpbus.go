// Package gcpbus backs the bridge's bus with Cloud Pub/Sub, modeled on the
// teacher's events.PubSubEventBus: topics are created on first use, message
// ordering is enabled per-address so a subscriber sees frames in the order
// they were sent, and the local embedded bus still does in-process fan-out
// so handlers on the same instance don't round-trip through Pub/Sub.
package gcpbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"cloud.google.com/go/pubsub"

	"github.com/ocx/bridge/internal/bus"
	"github.com/ocx/bridge/internal/bus/localbus"
)

type wireMessage struct {
	Address      string `json:"address"`
	Body         any    `json:"body"`
	ReplyAddress string `json:"reply_address,omitempty"`
}

// Bus publishes to and receives from Cloud Pub/Sub, fanning every inbound
// message out through an embedded localbus.Bus for in-process subscribers.
type Bus struct {
	*localbus.Bus

	client      *pubsub.Client
	topicPrefix string

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
	subs   map[string]context.CancelFunc
}

// New creates a gcpbus.Bus against an existing Pub/Sub client.
func New(client *pubsub.Client, topicPrefix string) *Bus {
	if topicPrefix == "" {
		topicPrefix = "bridge-"
	}
	return &Bus{
		Bus:         localbus.New(),
		client:      client,
		topicPrefix: topicPrefix,
		topics:      make(map[string]*pubsub.Topic),
		subs:        make(map[string]context.CancelFunc),
	}
}

func (b *Bus) topicID(address string) string {
	id := b.topicPrefix + address
	// Pub/Sub topic IDs forbid '.', which bus addresses use freely.
	return sanitizeTopicID(id)
}

func sanitizeTopicID(id string) string {
	out := make([]byte, len(id))
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			out[i] = c
		default:
			out[i] = '-'
		}
	}
	return string(out)
}

func (b *Bus) topicFor(ctx context.Context, address string) (*pubsub.Topic, error) {
	id := b.topicID(address)

	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.topics[id]; ok {
		return t, nil
	}

	topic := b.client.Topic(id)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcpbus: check topic %q: %w", id, err)
	}
	if !exists {
		topic, err = b.client.CreateTopic(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("gcpbus: create topic %q: %w", id, err)
		}
	}
	topic.EnableMessageOrdering = true
	b.topics[id] = topic
	return topic, nil
}

// Publish publishes msg to the Pub/Sub topic for its address and also
// delivers it to local subscribers immediately, without waiting on the
// round trip, so same-instance handlers see it with no added latency.
func (b *Bus) Publish(ctx context.Context, msg bus.Message) error {
	topic, err := b.topicFor(ctx, msg.Address)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(wireMessage{Address: msg.Address, Body: msg.Body, ReplyAddress: msg.ReplyAddress})
	if err != nil {
		return fmt.Errorf("gcpbus: marshal: %w", err)
	}

	result := topic.Publish(ctx, &pubsub.Message{Data: payload, OrderingKey: msg.Address})
	go func() {
		if _, err := result.Get(context.Background()); err != nil {
			slog.Warn("gcpbus: publish result error", "address", msg.Address, "error", err)
		}
	}()

	return b.Bus.Publish(ctx, msg)
}

// Subscribe registers a local handler and, for addresses not yet backed by
// a Pub/Sub subscription, creates one so cross-instance traffic also
// reaches this handler.
func (b *Bus) Subscribe(address string, handler bus.Handler) (unsubscribe func()) {
	localUnsub := b.Bus.Subscribe(address, handler)

	b.mu.Lock()
	_, already := b.subs[address]
	b.mu.Unlock()
	if already {
		return localUnsub
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.mu.Lock()
	b.subs[address] = cancel
	b.mu.Unlock()

	go b.runSubscription(ctx, address)

	return func() {
		localUnsub()
		b.mu.Lock()
		if cancel, ok := b.subs[address]; ok {
			cancel()
			delete(b.subs, address)
		}
		b.mu.Unlock()
	}
}

func (b *Bus) runSubscription(ctx context.Context, address string) {
	subID := b.topicID(address) + "-sub"
	sub := b.client.Subscription(subID)
	exists, err := sub.Exists(ctx)
	if err != nil {
		slog.Warn("gcpbus: check subscription failed", "address", address, "error", err)
		return
	}
	if !exists {
		topic, err := b.topicFor(ctx, address)
		if err != nil {
			slog.Warn("gcpbus: topic for subscription failed", "address", address, "error", err)
			return
		}
		sub, err = b.client.CreateSubscription(ctx, subID, pubsub.SubscriptionConfig{Topic: topic, EnableMessageOrdering: true})
		if err != nil {
			slog.Warn("gcpbus: create subscription failed", "address", address, "error", err)
			return
		}
	}

	err = sub.Receive(ctx, func(_ context.Context, m *pubsub.Message) {
		var wm wireMessage
		if err := json.Unmarshal(m.Data, &wm); err != nil {
			slog.Warn("gcpbus: bad message payload", "address", address, "error", err)
			m.Ack()
			return
		}
		_ = b.Bus.Publish(context.Background(), bus.Message{Address: wm.Address, Body: wm.Body, ReplyAddress: wm.ReplyAddress})
		m.Ack()
	})
	if err != nil && ctx.Err() == nil {
		slog.Warn("gcpbus: subscription receive ended", "address", address, "error", err)
	}
}

// Close stops all Pub/Sub subscriptions and closes the client.
func (b *Bus) Close() error {
	b.mu.Lock()
	for _, cancel := range b.subs {
		cancel()
	}
	b.subs = nil
	b.mu.Unlock()

	_ = b.Bus.Close()
	return b.client.Close()
}

var _ bus.Bus = (*Bus)(nil)
