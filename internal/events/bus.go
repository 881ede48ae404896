package events

import (
	"sync"
	"time"

	"oneiric/pkg/logging"
)

const (
	subscriberBufferSize = 100
	replayBufferSize     = 256
)

// Bus fans events out to subscribers and keeps a bounded replay buffer of
// recent events for status reporting. Sends never block: a subscriber that
// cannot keep up misses events rather than stalling the publisher.
type Bus struct {
	mu          sync.RWMutex
	subscribers []chan Event
	recent      []Event
	metrics     *Metrics
}

// NewBus creates an event bus. The metrics sink is optional.
func NewBus(metrics *Metrics) *Bus {
	return &Bus{metrics: metrics}
}

// Publish stamps and delivers an event. The class is derived from the
// reason; the timestamp is filled when zero.
func (b *Bus) Publish(event Event) {
	if event.Class == "" {
		event.Class = classFor(event.Reason)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if event.Class == ClassWarning {
		logging.Warn("Events", "%s %s/%s@%s: %s %s", event.Reason, event.Domain, event.Key, event.Provider, event.Message, event.Error)
	} else {
		logging.Debug("Events", "%s %s/%s@%s: %s", event.Reason, event.Domain, event.Key, event.Provider, event.Message)
	}

	if b.metrics != nil {
		b.metrics.observeEvent(event)
	}

	b.mu.Lock()
	b.recent = append(b.recent, event)
	if len(b.recent) > replayBufferSize {
		b.recent = b.recent[len(b.recent)-replayBufferSize:]
	}
	subscribers := make([]chan Event, len(b.subscribers))
	copy(subscribers, b.subscribers)
	b.mu.Unlock()

	for _, subscriber := range subscribers {
		select {
		case subscriber <- event:
		default:
			// Don't block if the subscriber can't receive immediately.
			logging.Debug("Events", "Subscriber blocked, dropping %s for %s/%s", event.Reason, event.Domain, event.Key)
		}
	}
}

// Subscribe returns a channel receiving all subsequently published events.
func (b *Bus) Subscribe() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, subscriberBufferSize)
	b.subscribers = append(b.subscribers, ch)
	return ch
}

// Recent returns a copy of the replay buffer, oldest first.
func (b *Bus) Recent() []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Event, len(b.recent))
	copy(out, b.recent)
	return out
}

// Metrics returns the bus's metrics sink, which may be nil.
func (b *Bus) MetricsSink() *Metrics {
	return b.metrics
}
