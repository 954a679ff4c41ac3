package events

import "log/slog"

// InMemoryBus is a buffered-channel bus for single-process use.
type InMemoryBus struct {
	ch chan Event
}

// NewInMemoryBus creates an InMemoryBus with a buffer of 256 events.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{ch: make(chan Event, 256)}
}

// Publish sends event without blocking; a full buffer drops the
// event and logs a warning rather than stalling the caller.
func (b *InMemoryBus) Publish(event Event) {
	select {
	case b.ch <- event:
	default:
		slog.Warn("event bus full, dropping event", "kind", event.Kind, "contact", event.Contact.String())
	}
}

func (b *InMemoryBus) Subscribe() <-chan Event {
	return b.ch
}

func (b *InMemoryBus) Close() {
	close(b.ch)
}
