package pipeline

import (
	"sync"
)

// EventBus provides pub/sub for detection events, decoupling capture
// timing from sink latency. Channel subscribers never block the
// publisher: a full channel drops the event for that subscriber.
type EventBus struct {
	subscribers map[*eventSubscription]bool
	mu          sync.RWMutex
}

type eventSubscription struct {
	channel chan *Event
	handler EventHandler
}

// NewEventBus creates an empty bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[*eventSubscription]bool),
	}
}

// Subscribe registers a handler called synchronously, in publish order,
// for every event. Returns an unsubscribe function.
func (b *EventBus) Subscribe(handler EventHandler) func() {
	sub := &eventSubscription{handler: handler}

	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subscribers, sub)
		b.mu.Unlock()
	}
}

// SubscribeChannel returns a buffered channel of events and an
// unsubscribe function that also closes the channel
func (b *EventBus) SubscribeChannel(bufferSize int) (<-chan *Event, func()) {
	if bufferSize <= 0 {
		bufferSize = 10
	}

	ch := make(chan *Event, bufferSize)
	sub := &eventSubscription{channel: ch}

	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		if _, ok := b.subscribers[sub]; ok {
			delete(b.subscribers, sub)
			close(ch)
		}
		b.mu.Unlock()
	}

	return ch, unsubscribe
}

// Publish delivers an event to all subscribers. Handler subscribers run
// synchronously to preserve event ordering; channel subscribers that
// cannot keep up lose the event.
func (b *EventBus) Publish(ev *Event) {
	if ev == nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		if sub.handler != nil {
			sub.handler.OnEvent(ev)
		} else if sub.channel != nil {
			select {
			case sub.channel <- ev:
			default:
			}
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *EventBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close unsubscribes everyone and closes subscriber channels
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subscribers {
		if sub.channel != nil {
			close(sub.channel)
		}
		delete(b.subscribers, sub)
	}
}
