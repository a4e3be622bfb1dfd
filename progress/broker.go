package progress

import (
	"context"
	"sync"
)

const bufferSize = 64

// Broker is an in-memory publish/subscribe hub for values of type T.
// Publish never blocks: a subscriber whose buffer is full misses the value.
type Broker[T any] struct {
	subs map[chan T]struct{}
	mu   sync.RWMutex
	done chan struct{}
}

// NewBroker creates a broker.
func NewBroker[T any]() *Broker[T] {
	return &Broker[T]{
		subs: make(map[chan T]struct{}),
		done: make(chan struct{}),
	}
}

// Subscribe registers a subscriber. The returned channel is closed when ctx
// ends or the broker shuts down.
func (b *Broker[T]) Subscribe(ctx context.Context) <-chan T {
	b.mu.Lock()
	defer b.mu.Unlock()

	select {
	case <-b.done:
		ch := make(chan T)
		close(ch)
		return ch
	default:
	}

	sub := make(chan T, bufferSize)
	b.subs[sub] = struct{}{}

	go func() {
		select {
		case <-ctx.Done():
		case <-b.done:
			return
		}

		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[sub]; ok {
			delete(b.subs, sub)
			close(sub)
		}
	}()

	return sub
}

// Publish delivers v to every current subscriber and reports how many
// received it.
func (b *Broker[T]) Publish(v T) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	select {
	case <-b.done:
		return 0
	default:
	}

	delivered := 0
	for sub := range b.subs {
		select {
		case sub <- v:
			delivered++
		default:
		}
	}
	return delivered
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker[T]) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Shutdown closes every subscriber channel. Later Publish calls are dropped.
func (b *Broker[T]) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()

	select {
	case <-b.done:
		return
	default:
		close(b.done)
	}

	for sub := range b.subs {
		delete(b.subs, sub)
		close(sub)
	}
}

// Local is a Notifier backed by a Broker, for in-process subscribers.
type Local struct {
	*Broker[Event]
}

// NewLocal creates an in-process notifier.
func NewLocal() *Local {
	return &Local{Broker: NewBroker[Event]()}
}

// Notify publishes the event. It never fails; slow subscribers miss events.
func (l *Local) Notify(_ context.Context, documentID string, event Event) error {
	event.DocumentId = documentID
	l.Publish(event)
	return nil
}

var _ Notifier = (*Local)(nil)
