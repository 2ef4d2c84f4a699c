// Package events provides the platform event plane: an in-process pub/sub
// bus, Redis-backed pollable session records, and a JSON Lines audit archive.
package events

import (
	"sync"

	"github.com/AuralStack/ScribeFlow/logger"
)

// Listener handles a published event. Listeners run off the publisher's
// goroutine and must not assume ordering across publishes.
type Listener func(*Event)

// EventBus distributes lifecycle events to typed and wildcard listeners.
type EventBus struct {
	mu       sync.RWMutex
	byType   map[EventType][]Listener
	wildcard []Listener
}

// NewEventBus creates an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{byType: make(map[EventType][]Listener)}
}

// Subscribe registers a listener for one event type.
func (b *EventBus) Subscribe(t EventType, l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.byType[t] = append(b.byType[t], l)
}

// SubscribeAll registers a listener for every event type.
func (b *EventBus) SubscribeAll(l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.wildcard = append(b.wildcard, l)
}

// Publish delivers the event to all matching listeners on a fresh
// goroutine so emitters never block on slow consumers.
func (b *EventBus) Publish(e *Event) {
	targets := b.snapshot(e.Type)
	go func() {
		for _, l := range targets {
			deliver(l, e)
		}
	}()
}

// snapshot copies the listener set under the read lock so delivery runs
// without holding it.
func (b *EventBus) snapshot(t EventType) []Listener {
	b.mu.RLock()
	defer b.mu.RUnlock()
	targets := make([]Listener, 0, len(b.byType[t])+len(b.wildcard))
	targets = append(targets, b.byType[t]...)
	targets = append(targets, b.wildcard...)
	return targets
}

// Clear removes all listeners. Test helper.
func (b *EventBus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.byType = make(map[EventType][]Listener)
	b.wildcard = nil
}

// deliver isolates listener panics so one bad consumer cannot take down
// the dispatch goroutine.
func deliver(l Listener, e *Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("event listener panicked", "event_type", e.Type, "panic", r)
		}
	}()
	l(e)
}
