package persistence

import (
	"context"
	"fmt"

	"github.com/freight/recognition/internal/domain/recognition"
	"github.com/freight/recognition/internal/domain/shared"
	"github.com/freight/recognition/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormPeriodCloseRunRepository implements recognition.PeriodCloseRunRepository using GORM
type GormPeriodCloseRunRepository struct {
	db *gorm.DB
}

// NewGormPeriodCloseRunRepository creates a new GormPeriodCloseRunRepository
func NewGormPeriodCloseRunRepository(db *gorm.DB) *GormPeriodCloseRunRepository {
	return &GormPeriodCloseRunRepository{db: db}
}

// FindByID finds a run by ID
func (r *GormPeriodCloseRunRepository) FindByID(ctx context.Context, id uuid.UUID) (*recognition.PeriodCloseRun, error) {
	var model models.PeriodCloseRunModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		return nil, translateError(err)
	}
	return model.ToDomain(), nil
}

// FindByCompany lists the runs of a company, newest first unless the filter orders otherwise
func (r *GormPeriodCloseRunRepository) FindByCompany(ctx context.Context, company string, filter shared.Filter) ([]*recognition.PeriodCloseRun, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.PeriodCloseRunModel{}).Scopes(ForCompany(company))
	if status, ok := filter.Filters["status"]; ok {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count period close runs: %w", err)
	}

	orderDir := filter.OrderDir
	if filter.OrderBy == "" && orderDir == "" {
		orderDir = "desc"
	}
	query = query.Order(orderClause(filter.OrderBy, orderDir, PeriodCloseRunSortFields, "started_at"))
	if filter.PageSize > 0 {
		query = query.Offset(filter.Offset()).Limit(filter.PageSize)
	}

	var rows []models.PeriodCloseRunModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list period close runs: %w", err)
	}
	out := make([]*recognition.PeriodCloseRun, len(rows))
	for i := range rows {
		out[i] = rows[i].ToDomain()
	}
	return out, total, nil
}

// Create inserts a new run
func (r *GormPeriodCloseRunRepository) Create(ctx context.Context, run *recognition.PeriodCloseRun) error {
	return translateError(r.db.WithContext(ctx).Create(models.PeriodCloseRunModelFromDomain(run)).Error)
}

// Save overwrites a run. A run has a single writer, so no version check is made.
func (r *GormPeriodCloseRunRepository) Save(ctx context.Context, run *recognition.PeriodCloseRun) error {
	model := models.PeriodCloseRunModelFromDomain(run)
	result := r.db.WithContext(ctx).
		Model(model).
		Select("*").Omit("id", "created_at").
		Where("id = ?", run.ID).
		Updates(model)
	if result.Error != nil {
		return translateError(result.Error)
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

var _ recognition.PeriodCloseRunRepository = (*GormPeriodCloseRunRepository)(nil)
