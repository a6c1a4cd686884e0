package shared

import (
	"time"

	"github.com/google/uuid"
)

// AggregateRoot is anything that records events while it changes state.
// Services drain the events after commit and publish them.
type AggregateRoot interface {
	AddDomainEvent(event DomainEvent)
	GetDomainEvents() []DomainEvent
	ClearDomainEvents()
}

// BaseEntity carries identity and UTC timestamps
type BaseEntity struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Touch refreshes UpdatedAt after a state change
func (e *BaseEntity) Touch() {
	e.UpdatedAt = time.Now().UTC()
}

// BaseAggregateRoot adds the optimistic-lock version and the pending events.
// Version starts at 1; repositories update with WHERE version = old.
type BaseAggregateRoot struct {
	BaseEntity
	Version      int `json:"version"`
	domainEvents []DomainEvent
}

func (a *BaseAggregateRoot) IncrementVersion() {
	a.Version++
}

func (a *BaseAggregateRoot) AddDomainEvent(event DomainEvent) {
	a.domainEvents = append(a.domainEvents, event)
}

// GetDomainEvents returns events recorded since the last ClearDomainEvents
func (a *BaseAggregateRoot) GetDomainEvents() []DomainEvent {
	return a.domainEvents
}

func (a *BaseAggregateRoot) ClearDomainEvents() {
	a.domainEvents = nil
}

// CompanyAggregateRoot is an aggregate owned by one company. Companies are
// accounting codes such as "ACME", as collaborators send them.
type CompanyAggregateRoot struct {
	BaseAggregateRoot
	Company string `json:"company"`
}

// NewCompanyAggregateRoot starts a version-1 aggregate of company with a fresh ID
func NewCompanyAggregateRoot(company string) CompanyAggregateRoot {
	now := time.Now().UTC()
	return CompanyAggregateRoot{
		BaseAggregateRoot: BaseAggregateRoot{
			BaseEntity: BaseEntity{ID: uuid.New(), CreatedAt: now, UpdatedAt: now},
			Version:    1,
		},
		Company: company,
	}
}

func (c *CompanyAggregateRoot) GetCompany() string {
	return c.Company
}
