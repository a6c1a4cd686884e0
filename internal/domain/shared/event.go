package shared

import (
	"time"

	"github.com/google/uuid"
)

// DomainEvent is a fact recorded by an aggregate. EventID doubles as the
// trigger id when a handler posts in response, so redelivery stays idempotent.
type DomainEvent interface {
	EventID() uuid.UUID
	EventType() string
	OccurredAt() time.Time
	AggregateID() uuid.UUID
	AggregateType() string
	Company() string
}

// BaseDomainEvent is embedded by the concrete events
type BaseDomainEvent struct {
	ID           uuid.UUID `json:"id"`
	Type         string    `json:"type"`
	Timestamp    time.Time `json:"timestamp"`
	AggID        uuid.UUID `json:"aggregate_id"`
	AggType      string    `json:"aggregate_type"`
	CompanyValue string    `json:"company"`
}

func (e *BaseDomainEvent) EventID() uuid.UUID     { return e.ID }
func (e *BaseDomainEvent) EventType() string      { return e.Type }
func (e *BaseDomainEvent) OccurredAt() time.Time  { return e.Timestamp }
func (e *BaseDomainEvent) AggregateID() uuid.UUID { return e.AggID }
func (e *BaseDomainEvent) AggregateType() string  { return e.AggType }
func (e *BaseDomainEvent) Company() string        { return e.CompanyValue }

// NewBaseDomainEvent stamps a new event id and the current UTC time
func NewBaseDomainEvent(eventType, aggType string, aggID uuid.UUID, company string) BaseDomainEvent {
	return BaseDomainEvent{
		ID:           uuid.New(),
		Type:         eventType,
		Timestamp:    time.Now().UTC(),
		AggID:        aggID,
		AggType:      aggType,
		CompanyValue: company,
	}
}
