// Package events is the publish/subscribe channel between the supervisor and
// its observers (metrics, control clients, logs).
package events

import (
	"github.com/kelindar/event"
)

// Bus fans supervisor events out to observers. Delivery is asynchronous;
// each subscriber sees events in publish order.
type Bus struct {
	dispatcher *event.Dispatcher
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Publish delivers ev to the subscribers of its concrete type. Unknown types are dropped.
func (b *Bus) Publish(ev Event) {
	switch e := ev.(type) {
	case StatusChangedEvent:
		event.Publish(b.dispatcher, e)
	case TransactionEvent:
		event.Publish(b.dispatcher, e)
	case DriftEvent:
		event.Publish(b.dispatcher, e)
	case ProbeFailedEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe registers handler for the event type named by its parameter.
// Returns an unsubscribe function; unknown handler types get a no-op.
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(StatusChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(TransactionEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(DriftEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(ProbeFailedEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		return func() {}
	}
}

// Personal.AI order the ending
