package realtime

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisBroker fans events out through Redis pub/sub so that sessions on
// different server instances see each other's events.
type RedisBroker struct {
	client *redis.Client
}

var _ Broker = (*RedisBroker)(nil)

// NewRedisBroker connects to url (redis://...) and verifies the
// connection with a ping.
func NewRedisBroker(ctx context.Context, url string) (*RedisBroker, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	c := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return &RedisBroker{client: c}, nil
}

func (b *RedisBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	return b.client.Publish(ctx, topic, payload).Err()
}

func (b *RedisBroker) Subscribe(ctx context.Context, topic string, fn func([]byte)) (func() error, error) {
	ps := b.client.Subscribe(ctx, topic)
	// Wait for the subscription confirmation so that events published
	// after Subscribe returns are not missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", topic, err)
	}
	ch := ps.Channel()
	go func() {
		for msg := range ch {
			fn([]byte(msg.Payload))
		}
	}()
	return ps.Close, nil
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}
