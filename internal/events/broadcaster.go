// Package events provides the process-wide motion event broadcaster that
// backs the SSE endpoint.
package events

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/coopcam/coopcam/internal/motion"
)

// DefaultSubscriberBuffer is the per-subscriber channel capacity.
const DefaultSubscriberBuffer = 16

// Subscriber is one SSE client subscription. Events is closed when the
// subscriber is removed, either via Unsubscribe or by falling behind.
type Subscriber struct {
	ID     string
	Events chan motion.Event
}

// Broadcaster fans motion events out to any number of subscribers. Publish
// never blocks: a subscriber whose buffer is full is closed and removed, on
// the theory that an SSE client that cannot drain sixteen small JSON events
// is gone.
type Broadcaster struct {
	logger *slog.Logger
	buffer int

	mu          sync.Mutex
	subscribers map[string]*Subscriber
	closed      bool

	published uint64
	dropped   uint64
}

// NewBroadcaster creates a broadcaster with the given per-subscriber buffer
// (0 selects the default).
func NewBroadcaster(buffer int, logger *slog.Logger) *Broadcaster {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		logger:      logger.With(slog.String("component", "events")),
		buffer:      buffer,
		subscribers: make(map[string]*Subscriber),
	}
}

// Subscribe registers a new subscriber.
func (b *Broadcaster) Subscribe() *Subscriber {
	sub := &Subscriber{
		ID:     uuid.New().String(),
		Events: make(chan motion.Event, b.buffer),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.Events)
		return sub
	}
	b.subscribers[sub.ID] = sub
	return sub
}

// Unsubscribe removes a subscriber and closes its channel. Unknown ids are
// a no-op.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		close(sub.Events)
	}
}

// Publish delivers an event to every subscriber without blocking.
func (b *Broadcaster) Publish(ev motion.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.published++

	for id, sub := range b.subscribers {
		select {
		case sub.Events <- ev:
		default:
			delete(b.subscribers, id)
			close(sub.Events)
			b.dropped++
			b.logger.Warn("subscriber too slow, removed",
				slog.String("subscriber", id),
				slog.String("event", ev.ID),
			)
		}
	}
}

// SubscriberCount returns the current number of subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// Close removes every subscriber and rejects further publishes.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subscribers {
		delete(b.subscribers, id)
		close(sub.Events)
	}
}
