package realtime

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

const flushTimeout = 2 * time.Second

// NATSBroker fans events out over core NATS subjects. Topic names are
// used as subjects directly.
type NATSBroker struct {
	conn *nats.Conn
}

var _ Broker = (*NATSBroker)(nil)

func NewNATSBroker(url string) (*NATSBroker, error) {
	conn, err := nats.Connect(url, nats.Name("sealedchat"))
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &NATSBroker{conn: conn}, nil
}

func (b *NATSBroker) Publish(_ context.Context, topic string, payload []byte) error {
	return b.conn.Publish(topic, payload)
}

func (b *NATSBroker) Subscribe(_ context.Context, topic string, fn func([]byte)) (func() error, error) {
	sub, err := b.conn.Subscribe(topic, func(msg *nats.Msg) {
		fn(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", topic, err)
	}
	// Round-trip to the server so the interest is registered before
	// the caller fetches history.
	if err := b.conn.FlushTimeout(flushTimeout); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("flush subscription %s: %w", topic, err)
	}
	return sub.Unsubscribe, nil
}

func (b *NATSBroker) Close() error {
	b.conn.Close()
	return nil
}
