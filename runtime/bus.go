// Package runtime holds the in-process event bus fed by mutations and drained by subscriptions.
// It carries no business rules.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"message-board/contract"
	"message-board/domain"
	"message-board/errors"
	"slices"
	"sync"
)

// BufferPolicy decides what happens when a subscriber falls behind.
type BufferPolicy string

const (
	// BufferNone never drops: each subscriber owns an unbounded queue.
	BufferNone BufferPolicy = "none"
	// BufferDropOldest bounds each queue and evicts the oldest pending event.
	BufferDropOldest BufferPolicy = "drop-oldest"
)

func ParseBufferPolicy(s string) (BufferPolicy, error) {
	switch p := BufferPolicy(s); p {
	case BufferNone, BufferDropOldest:
		return p, nil
	default:
		return "", fmt.Errorf("unknown buffer policy %q, expected %q or %q", s, BufferNone, BufferDropOldest)
	}
}

// Bus is an in-process publish/subscribe registry keyed by topic.
//
// Delivery is best-effort: events only reach subscribers registered when they
// are published, and nothing survives a restart. Within a topic every
// subscriber receives events in publish order.
//
// Bus is safe for concurrent use by multiple goroutines.
type Bus struct {
	mu       sync.RWMutex
	log      *slog.Logger
	topics   map[domain.Topic][]*Subscription
	policy   BufferPolicy
	capacity int
	observer contract.BusObserver
	closed   bool
}

// NewBus builds a bus. capacity only matters with BufferDropOldest.
// A nil observer is replaced by a no-op one.
func NewBus(log *slog.Logger, policy BufferPolicy, capacity int, observer contract.BusObserver) *Bus {
	if observer == nil {
		observer = noopObserver{}
	}
	if policy == BufferDropOldest && capacity < 1 {
		capacity = 1
	}
	return &Bus{
		log:      log,
		topics:   make(map[domain.Topic][]*Subscription),
		policy:   policy,
		capacity: capacity,
		observer: observer,
	}
}

// Publish hands the payload to every current subscriber of topic, in
// registration order. It never waits on a consumer.
func (b *Bus) Publish(topic domain.Topic, payload any) {
	evt := domain.NewEvent(topic, payload)

	// The read lock is held while enqueueing so that a concurrent Subscribe or
	// Close lands either entirely before or entirely after this publish.
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.log.Warn("Publish on closed bus ignored", "topic", topic)
		return
	}
	subscribers := b.topics[topic]
	for _, sub := range subscribers {
		if sub.enqueue(evt) {
			b.observer.EventDropped(topic)
			b.log.Debug("Slow subscriber, oldest event dropped", "topic", topic, "subscription", sub.ID)
		}
	}
	b.observer.EventPublished(topic, len(subscribers))
}

// Subscribe registers a fresh sequence on topic. Events published before this
// call are never delivered to it. The subscription ends when ctx is done or
// Close is called.
func (b *Bus) Subscribe(ctx context.Context, topic domain.Topic) (contract.Subscription, error) {
	capacity := 0
	if b.policy == BufferDropOldest {
		capacity = b.capacity
	}
	sub := newSubscription(b, topic, capacity)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, errors.ErrBusClosed
	}
	b.topics[topic] = append(b.topics[topic], sub)
	b.mu.Unlock()

	b.observer.SubscriptionOpened(topic)
	b.log.Debug("Subscription registered", "topic", topic, "subscription", sub.ID)

	go sub.pump()
	sub.watch(ctx)
	return sub, nil
}

// SubscriberCount returns the number of live subscriptions on topic.
func (b *Bus) SubscriberCount(topic domain.Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

// Close ends every subscription. Later publishes are ignored and later
// subscriptions fail with ErrBusClosed.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	var all []*Subscription
	for _, subs := range b.topics {
		all = append(all, subs...)
	}
	b.topics = make(map[domain.Topic][]*Subscription)
	b.mu.Unlock()

	for _, sub := range all {
		sub.Close()
	}
	b.log.Info("Event bus closed", "subscriptions", len(all))
}

// remove drops sub from the registry and keeps no empty topic behind.
func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.topics[sub.topic]
	i := slices.Index(subs, sub)
	if i < 0 {
		return
	}
	subs = slices.Delete(subs, i, i+1)
	if len(subs) == 0 {
		delete(b.topics, sub.topic)
	} else {
		b.topics[sub.topic] = subs
	}
}

type noopObserver struct{}

func (noopObserver) SubscriptionOpened(domain.Topic)  {}
func (noopObserver) SubscriptionClosed(domain.Topic)  {}
func (noopObserver) EventPublished(domain.Topic, int) {}
func (noopObserver) EventDropped(domain.Topic)        {}
