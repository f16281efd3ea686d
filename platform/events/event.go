// Package events provides event bus infrastructure for decoupled,
// event-driven communication between modules.
// This is part of the platform layer and contains no business logic.
package events

import (
	"context"
	"time"
)

// Event is the base interface all domain events must implement.
type Event interface {
	EventName() string
	OccurredAt() time.Time
}

// BaseEvent provides common fields for all events.
type BaseEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

// OccurredAt returns when the event occurred.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// NewBaseEvent stamps an event with the current UTC time.
func NewBaseEvent() BaseEvent {
	return BaseEvent{Timestamp: time.Now().UTC()}
}

// Handler processes events of a specific type.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, event Event) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Publisher is the publishing half of Bus. Services depend on this.
type Publisher interface {
	// Publish delivers to handlers asynchronously; failures are only logged.
	Publish(ctx context.Context, event Event)
}

// Bus is the interface for publishing and subscribing to domain events.
type Bus interface {
	Publisher
	// PublishSync delivers and waits, returning the handlers' errors.
	PublishSync(ctx context.Context, event Event) error
	// Subscribe registers a handler for the name returned by Event.EventName().
	Subscribe(eventName string, handler Handler)
}
