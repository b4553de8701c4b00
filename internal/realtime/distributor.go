package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/pliu/sealedchat/internal/apperr"
	"github.com/pliu/sealedchat/internal/metrics"
)

// Distributor publishes Events on topics and delivers them to
// subscribers. It owns its Broker: Close closes both.
type Distributor struct {
	broker  Broker
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	closed bool
}

func New(broker Broker, logger *slog.Logger, m *metrics.Metrics) *Distributor {
	if mb, ok := broker.(*MemoryBroker); ok && mb.OnDrop == nil {
		mb.OnDrop = func(topic string) {
			m.EventsDropped.Inc()
			logger.Warn("realtime event dropped", "topic", topic)
		}
	}
	return &Distributor{broker: broker, logger: logger, metrics: m}
}

// Publish sends ev to every current subscriber of topic. Broker
// failures are reported as apperr.CodeChannelUnavailable.
func (d *Distributor) Publish(ctx context.Context, topic string, ev Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return apperr.ChannelUnavailable(ErrClosed)
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := d.broker.Publish(ctx, topic, payload); err != nil {
		return apperr.ChannelUnavailable(err)
	}
	d.metrics.EventsPublished.WithLabelValues(string(ev.Table)).Inc()
	return nil
}

// Subscription is an active registration returned by Subscribe.
type Subscription struct {
	topic       string
	unsubscribe func() error
	once        sync.Once
	err         error
}

func (s *Subscription) Topic() string { return s.topic }

// Unsubscribe stops delivery. It is safe to call more than once.
func (s *Subscription) Unsubscribe() error {
	s.once.Do(func() { s.err = s.unsubscribe() })
	return s.err
}

// Subscribe registers fn for events on topic. fn is called from a
// broker goroutine, one event at a time, in publish order.
func (d *Distributor) Subscribe(ctx context.Context, topic string, fn func(Event)) (*Subscription, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, apperr.ChannelUnavailable(ErrClosed)
	}

	unsubscribe, err := d.broker.Subscribe(ctx, topic, func(payload []byte) {
		var ev Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			d.logger.Warn("discarding malformed realtime payload", "topic", topic, "error", err)
			return
		}
		fn(ev)
	})
	if err != nil {
		return nil, apperr.ChannelUnavailable(err)
	}
	return &Subscription{topic: topic, unsubscribe: unsubscribe}, nil
}

func (d *Distributor) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.broker.Close()
}
