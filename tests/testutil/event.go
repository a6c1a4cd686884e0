package testutil

import (
	"context"
	"sync"

	"github.com/freight/recognition/internal/domain/shared"
)

// EventRecorder is a shared.EventHandler that keeps every event it receives
type EventRecorder struct {
	mu         sync.Mutex
	eventTypes []string
	handled    []shared.DomainEvent
	err        error
}

// NewEventRecorder records the given event types, or every event when none are given
func NewEventRecorder(eventTypes ...string) *EventRecorder {
	return &EventRecorder{eventTypes: eventTypes}
}

// EventTypes implements shared.EventHandler
func (r *EventRecorder) EventTypes() []string {
	return r.eventTypes
}

// Handle implements shared.EventHandler
func (r *EventRecorder) Handle(_ context.Context, event shared.DomainEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handled = append(r.handled, event)
	return r.err
}

// Events returns a copy of the recorded events
func (r *EventRecorder) Events() []shared.DomainEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]shared.DomainEvent(nil), r.handled...)
}

// Types returns the recorded event types in arrival order
func (r *EventRecorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]string, len(r.handled))
	for i, e := range r.handled {
		types[i] = e.EventType()
	}
	return types
}

// Count returns how many recorded events have eventType
func (r *EventRecorder) Count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.handled {
		if e.EventType() == eventType {
			n++
		}
	}
	return n
}

// FailWith makes Handle return err
func (r *EventRecorder) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// Reset forgets recorded events and any configured error
func (r *EventRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handled = nil
	r.err = nil
}
