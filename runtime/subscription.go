package runtime

import (
	"context"
	"message-board/domain"
	"sync"

	"github.com/google/uuid"
)

// Subscription is one consumer's queue on a topic.
// The bus appends to the queue; a pump goroutine drains it into C in order.
type Subscription struct {
	ID    uuid.UUID
	topic domain.Topic
	bus   *Bus

	mu       sync.Mutex
	queue    []domain.Event
	capacity int
	closed   bool

	signal    chan struct{}
	out       chan domain.Event
	done      chan struct{}
	closeOnce sync.Once
	stopWatch func() bool
}

// watch ends the subscription when ctx is done.
func (s *Subscription) watch(ctx context.Context) {
	stop := context.AfterFunc(ctx, s.Close)
	s.mu.Lock()
	s.stopWatch = stop
	s.mu.Unlock()
}

func newSubscription(bus *Bus, topic domain.Topic, capacity int) *Subscription {
	return &Subscription{
		ID:       uuid.New(),
		topic:    topic,
		bus:      bus,
		capacity: capacity,
		signal:   make(chan struct{}, 1),
		out:      make(chan domain.Event),
		done:     make(chan struct{}),
	}
}

// C yields the events of the subscription. It is closed once the subscription ends.
func (s *Subscription) C() <-chan domain.Event {
	return s.out
}

// Close unregisters the subscription and stops delivery. Idempotent.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.bus.remove(s)

		s.mu.Lock()
		s.closed = true
		s.queue = nil
		stopWatch := s.stopWatch
		s.mu.Unlock()
		close(s.done)

		if stopWatch != nil {
			stopWatch()
		}
		s.bus.observer.SubscriptionClosed(s.topic)
		s.bus.log.Debug("Subscription removed", "topic", s.topic, "subscription", s.ID)
	})
}

// enqueue appends evt and reports whether an older event had to be dropped.
func (s *Subscription) enqueue(evt domain.Event) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	dropped := false
	if s.capacity > 0 && len(s.queue) >= s.capacity {
		s.queue[0] = domain.Event{}
		s.queue = s.queue[1:]
		dropped = true
	}
	s.queue = append(s.queue, evt)
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
	return dropped
}

func (s *Subscription) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.signal:
				continue
			case <-s.done:
				return
			}
		}
		evt := s.queue[0]
		s.queue[0] = domain.Event{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- evt:
		case <-s.done:
			return
		}
	}
}
