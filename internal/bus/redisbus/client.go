package redisbus

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RedisClient adapts a *redis.Client to the PubSubClient interface this
// package depends on, the same separation the teacher draws between its
// fabric.RedisClient interface and the concrete driver wired at startup.
type RedisClient struct {
	rdb *redis.Client
}

// NewRedisClient wraps an existing go-redis client.
func NewRedisClient(rdb *redis.Client) *RedisClient {
	return &RedisClient{rdb: rdb}
}

// Dial connects to addr and returns a ready-to-use RedisClient.
func Dial(ctx context.Context, addr, password string, db int) (*RedisClient, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &RedisClient{rdb: rdb}, nil
}

func (c *RedisClient) Publish(ctx context.Context, channel string, payload []byte) error {
	return c.rdb.Publish(ctx, channel, payload).Err()
}

func (c *RedisClient) Subscribe(ctx context.Context, channel string, handler func([]byte)) (func(), error) {
	pubsub := c.rdb.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		ch := pubsub.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handler([]byte(msg.Payload))
			case <-done:
				return
			}
		}
	}()

	unsubscribe := func() {
		close(done)
		_ = pubsub.Close()
	}
	return unsubscribe, nil
}

func (c *RedisClient) Close() error {
	return c.rdb.Close()
}

var _ PubSubClient = (*RedisClient)(nil)
