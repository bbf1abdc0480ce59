package events

import "context"

// Subscription is a single subscriber's ordered view of the bus.
type Subscription interface {
	// Events delivers matching events in emission order.
	Events() <-chan Event

	// Dropped returns how many events were discarded because the queue was full.
	Dropped() uint64

	// Close detaches the subscription and closes its channel.
	Close()
}

// EventBus is an injected publish/subscribe channel for lifecycle events.
// Publish never blocks on a slow subscriber.
type EventBus interface {
	Publish(ctx context.Context, evt Event) error
	Subscribe(ctx context.Context, topics ...EventType) (Subscription, error)
	Close() error
}
