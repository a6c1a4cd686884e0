package persistence

import (
	"context"
	"fmt"

	"github.com/freight/recognition/internal/domain/recognition"
	"github.com/freight/recognition/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormPolicyRepository implements recognition.PolicyRepository using GORM
type GormPolicyRepository struct {
	db *gorm.DB
}

// NewGormPolicyRepository creates a new GormPolicyRepository
func NewGormPolicyRepository(db *gorm.DB) *GormPolicyRepository {
	return &GormPolicyRepository{db: db}
}

// FindByID finds a policy by ID, soft-deleted ones included
func (r *GormPolicyRepository) FindByID(ctx context.Context, id uuid.UUID) (*recognition.Policy, error) {
	var model models.PolicyModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		return nil, translateError(err)
	}
	return model.ToDomain(), nil
}

// FindActiveByCompany returns every enabled, non-deleted policy of a company
func (r *GormPolicyRepository) FindActiveByCompany(ctx context.Context, company string) ([]*recognition.Policy, error) {
	var rows []models.PolicyModel
	if err := r.db.WithContext(ctx).
		Where("company = ? AND enabled = ? AND deleted_at IS NULL", company, true).
		Order("id").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load policies of %s: %w", company, err)
	}
	return policiesToDomain(rows), nil
}

// FindAll lists the policies of a company with filtering and pagination
func (r *GormPolicyRepository) FindAll(ctx context.Context, filter recognition.PolicyFilter) ([]*recognition.Policy, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.PolicyModel{}).Scopes(ForCompany(filter.Company))
	if !filter.IncludeDeleted {
		query = query.Where("deleted_at IS NULL")
	}
	if filter.Enabled != nil {
		query = query.Where("enabled = ?", *filter.Enabled)
	}
	if filter.Search != "" {
		query = query.Where("name LIKE ?", "%"+filter.Search+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count policies: %w", err)
	}

	query = query.Order(orderClause(filter.OrderBy, filter.OrderDir, PolicySortFields, "created_at"))
	if filter.PageSize > 0 {
		query = query.Offset(filter.Offset()).Limit(filter.PageSize)
	}
	var rows []models.PolicyModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list policies: %w", err)
	}
	return policiesToDomain(rows), total, nil
}

// ExistsActiveWithScope reports whether another active policy has exactly this scope
func (r *GormPolicyRepository) ExistsActiveWithScope(ctx context.Context, scope recognition.Scope, excludeID uuid.UUID) (bool, error) {
	scope = scope.Normalize()
	var count int64
	err := r.db.WithContext(ctx).Model(&models.PolicyModel{}).
		Where("company = ? AND cost_center = ? AND profit_center = ? AND branch = ?",
			scope.Company, scope.CostCenter, scope.ProfitCenter, scope.Branch).
		Where("enabled = ? AND deleted_at IS NULL AND id <> ?", true, excludeID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check policy scope: %w", err)
	}
	return count > 0, nil
}

// Create inserts a new policy
func (r *GormPolicyRepository) Create(ctx context.Context, policy *recognition.Policy) error {
	return translateError(r.db.WithContext(ctx).Create(models.PolicyModelFromDomain(policy)).Error)
}

// SaveWithLock updates a policy whose stored version is one behind the aggregate
func (r *GormPolicyRepository) SaveWithLock(ctx context.Context, policy *recognition.Policy) error {
	model := models.PolicyModelFromDomain(policy)
	result := r.db.WithContext(ctx).
		Model(model).
		Select("*").Omit("id", "created_at").
		Where("id = ? AND version = ?", policy.ID, policy.Version-1).
		Updates(model)
	if result.Error != nil {
		return translateError(result.Error)
	}
	if result.RowsAffected == 0 {
		return errOptimisticLock
	}
	return nil
}

func policiesToDomain(rows []models.PolicyModel) []*recognition.Policy {
	out := make([]*recognition.Policy, len(rows))
	for i := range rows {
		out[i] = rows[i].ToDomain()
	}
	return out
}

var _ recognition.PolicyRepository = (*GormPolicyRepository)(nil)
