// Package app holds the application services and business logic.
package app

import "sync"

// Event is a domain event emitted after a successful mutation. Every
// mutation path publishes through the bus; the websocket hub is the only
// broadcaster, so all clients observe changes through one mechanism.
type Event struct {
	Entity string         // "task" or "sprint"
	Action string         // created, updated, deleted, status_updated, ...
	Data   map[string]any // entity ids plus the new value where applicable
}

// EventBus is an in-process publish/subscribe channel between the mutation
// services and the hub. Subscriptions are explicit at construction time; no
// ambient singleton.
type EventBus struct {
	mu   sync.RWMutex
	next int
	subs map[int]func(Event)
}

// NewEventBus creates an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[int]func(Event))}
}

// Subscribe registers fn for every future event and returns a cancel func.
func (b *EventBus) Subscribe(fn func(Event)) (cancel func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Publish delivers ev to all current subscribers, synchronously and in
// unspecified order.
func (b *EventBus) Publish(ev Event) {
	b.mu.RLock()
	fns := make([]func(Event), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()
	for _, fn := range fns {
		fn(ev)
	}
}
