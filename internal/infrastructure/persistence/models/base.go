package models

import (
	"time"

	"github.com/freight/recognition/internal/domain/shared"
	"github.com/google/uuid"
)

// BaseModel provides common persistence fields for all models.
// It maps to the domain's BaseEntity.
type BaseModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// AggregateModel extends BaseModel with the optimistic-lock version
type AggregateModel struct {
	BaseModel
	Version int `gorm:"not null;default:1"`
}

// CompanyAggregateModel provides the persistence fields of company-scoped aggregate roots
type CompanyAggregateModel struct {
	AggregateModel
	Company string `gorm:"type:varchar(50);not null;index"`
}

// FromDomainCompanyAggregateRoot populates the model from a domain CompanyAggregateRoot
func (m *CompanyAggregateModel) FromDomainCompanyAggregateRoot(a shared.CompanyAggregateRoot) {
	m.ID = a.ID
	m.CreatedAt = a.CreatedAt
	m.UpdatedAt = a.UpdatedAt
	m.Version = a.Version
	m.Company = a.Company
}

// ToDomainCompanyAggregateRoot builds the domain CompanyAggregateRoot
func (m *CompanyAggregateModel) ToDomainCompanyAggregateRoot() shared.CompanyAggregateRoot {
	return shared.CompanyAggregateRoot{
		BaseAggregateRoot: shared.BaseAggregateRoot{
			BaseEntity: shared.BaseEntity{
				ID:        m.ID,
				CreatedAt: m.CreatedAt,
				UpdatedAt: m.UpdatedAt,
			},
			Version: m.Version,
		},
		Company: m.Company,
	}
}
