package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"voice-bridge/internal/metrics"
)

// Subscriber receives events synchronously on the publisher's goroutine.
type Subscriber interface {
	Handle(ctx context.Context, e Event) error
}

type SubscriberFunc func(ctx context.Context, e Event) error

func (f SubscriberFunc) Handle(ctx context.Context, e Event) error { return f(ctx, e) }

type subscription struct {
	id   uint64
	name string
	sub  Subscriber
}

// Bus is an in-process publish/subscribe hub.
//
// Publish delivers to every subscriber registered at call time, in subscription
// order. A failing or panicking subscriber is logged and skipped; it never stops
// delivery to the rest. Nothing is persisted or replayed.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID uint64

	log     *slog.Logger
	metrics *metrics.Metrics
}

func NewBus(log *slog.Logger, m *metrics.Metrics) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{log: log, metrics: m}
}

// Subscribe registers s under name and returns a function that removes it.
func (b *Bus) Subscribe(name string, s Subscriber) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, name: name, sub: s})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, sub := range b.subs {
				if sub.id == id {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (b *Bus) Publish(ctx context.Context, e Event) {
	if e == nil {
		return
	}
	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	b.metrics.EventPublished(string(e.Type()))
	for _, s := range subs {
		if err := b.deliver(ctx, s, e); err != nil {
			b.metrics.SubscriberFailed(s.name)
			b.log.Error("event subscriber failed",
				"subscriber", s.name,
				"event", e.Type(),
				"conversation_id", e.Conversation(),
				"err", err,
			)
		}
	}
}

func (b *Bus) deliver(ctx context.Context, s subscription, e Event) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return s.sub.Handle(ctx, e)
}
