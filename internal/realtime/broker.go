package realtime

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by brokers and distributors after Close.
var ErrClosed = errors.New("realtime: closed")

// Broker moves opaque payloads between publishers and subscribers of a
// topic. Implementations deliver each subscriber's payloads in publish
// order and may drop payloads for slow subscribers.
type Broker interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	// Subscribe returns once the subscription is active; payloads
	// published after that are delivered to fn.
	Subscribe(ctx context.Context, topic string, fn func(payload []byte)) (unsubscribe func() error, err error)
	Close() error
}

// MemoryBroker is an in-process Broker. Each subscriber has a bounded
// queue drained by its own goroutine; when the queue is full the
// payload is dropped for that subscriber only.
type MemoryBroker struct {
	mu     sync.RWMutex
	subs   map[string]map[*memorySub]struct{}
	buffer int
	closed bool

	// OnDrop, when set, is called for every dropped payload.
	OnDrop func(topic string)
}

type memorySub struct {
	queue chan []byte
	done  chan struct{}
	once  sync.Once
}

func (s *memorySub) stop() {
	s.once.Do(func() { close(s.done) })
}

func NewMemoryBroker(buffer int) *MemoryBroker {
	if buffer <= 0 {
		buffer = 64
	}
	return &MemoryBroker{
		subs:   make(map[string]map[*memorySub]struct{}),
		buffer: buffer,
	}
}

func (b *MemoryBroker) Publish(_ context.Context, topic string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	for sub := range b.subs[topic] {
		select {
		case sub.queue <- payload:
		default:
			if b.OnDrop != nil {
				b.OnDrop(topic)
			}
		}
	}
	return nil
}

func (b *MemoryBroker) Subscribe(_ context.Context, topic string, fn func([]byte)) (func() error, error) {
	sub := &memorySub{
		queue: make(chan []byte, b.buffer),
		done:  make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	set := b.subs[topic]
	if set == nil {
		set = make(map[*memorySub]struct{})
		b.subs[topic] = set
	}
	set[sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		for {
			select {
			case <-sub.done:
				return
			case payload := <-sub.queue:
				fn(payload)
			}
		}
	}()

	return func() error {
		b.mu.Lock()
		if set := b.subs[topic]; set != nil {
			delete(set, sub)
			if len(set) == 0 {
				delete(b.subs, topic)
			}
		}
		b.mu.Unlock()
		sub.stop()
		return nil
	}, nil
}

// Subscribers reports the number of active subscriptions on topic.
func (b *MemoryBroker) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, set := range b.subs {
		for sub := range set {
			sub.stop()
		}
	}
	b.subs = make(map[string]map[*memorySub]struct{})
	return nil
}
