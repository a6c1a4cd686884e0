package shared

import "context"

// EventHandler reacts to published events. EventTypes lists the types it
// wants; an empty list subscribes it to every type.
type EventHandler interface {
	EventTypes() []string
	Handle(ctx context.Context, event DomainEvent) error
}

// EventPublisher hands aggregate events to subscribers. Services publish only
// after the transaction that produced the events has committed.
type EventPublisher interface {
	Publish(ctx context.Context, events ...DomainEvent) error
}

// EventBus is a publisher with handler registration and a lifecycle
type EventBus interface {
	EventPublisher
	Subscribe(handler EventHandler, eventTypes ...string)
	Unsubscribe(handler EventHandler)
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
