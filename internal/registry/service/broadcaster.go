package service

import (
	"sync"

	"github.com/stardag/stardag/internal/logging"
	"github.com/stardag/stardag/internal/registry/domain"
)

// subscriberBuffer bounds each subscriber channel. A subscriber that cannot
// keep up has events dropped rather than stalling the writer.
const subscriberBuffer = 64

// EventBroadcaster fans out appended events to SSE subscribers, keyed by
// build id. Appends never block on slow consumers.
type EventBroadcaster struct {
	mu     sync.RWMutex
	subs   map[string]map[chan domain.Event]struct{}
	logger logging.Logger
}

// NewEventBroadcaster creates an empty broadcaster.
func NewEventBroadcaster(logger logging.Logger) *EventBroadcaster {
	return &EventBroadcaster{
		subs:   make(map[string]map[chan domain.Event]struct{}),
		logger: logging.OrNop(logger),
	}
}

// Subscribe registers a listener for one build's events. The returned cancel
// function must be called when the consumer goes away.
func (b *EventBroadcaster) Subscribe(buildID string) (<-chan domain.Event, func()) {
	ch := make(chan domain.Event, subscriberBuffer)
	b.mu.Lock()
	if b.subs[buildID] == nil {
		b.subs[buildID] = make(map[chan domain.Event]struct{})
	}
	b.subs[buildID][ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if set, ok := b.subs[buildID]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(b.subs, buildID)
			}
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber of its build, dropping it
// for subscribers whose buffer is full.
func (b *EventBroadcaster) Publish(ev domain.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs[ev.BuildID] {
		select {
		case ch <- ev:
		default:
			b.logger.Warn("dropping event %s for slow subscriber of build %s", ev.ID, ev.BuildID)
		}
	}
}

// SubscriberCount reports the number of active subscribers, for metrics.
func (b *EventBroadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, set := range b.subs {
		n += len(set)
	}
	return n
}
