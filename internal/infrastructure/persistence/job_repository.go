package persistence

import (
	"context"

	"github.com/freight/recognition/internal/domain/recognition"
	"github.com/freight/recognition/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormJobRepository stores job snapshots. It is the engine's JobSource.
type GormJobRepository struct {
	db *gorm.DB
}

// NewGormJobRepository creates a new GormJobRepository
func NewGormJobRepository(db *gorm.DB) *GormJobRepository {
	return &GormJobRepository{db: db}
}

// GetJob returns the snapshot of a job or shared.ErrNotFound
func (r *GormJobRepository) GetJob(ctx context.Context, ref recognition.JobRef) (*recognition.Job, error) {
	var model models.JobModel
	if err := r.db.WithContext(ctx).
		Where("job_type = ? AND job_id = ?", ref.Type, ref.ID).
		First(&model).Error; err != nil {
		return nil, translateError(err)
	}
	return model.ToDomain(), nil
}

// Create inserts a new snapshot. A second snapshot of the same job is shared.ErrAlreadyExists.
func (r *GormJobRepository) Create(ctx context.Context, job *recognition.Job) error {
	return translateError(r.db.WithContext(ctx).Create(models.JobModelFromDomain(job)).Error)
}

// SaveWithLock updates a snapshot whose stored version is one behind the aggregate
func (r *GormJobRepository) SaveWithLock(ctx context.Context, job *recognition.Job) error {
	model := models.JobModelFromDomain(job)
	result := r.db.WithContext(ctx).
		Model(model).
		Select("*").Omit("id", "created_at").
		Where("id = ? AND version = ?", job.ID, job.Version-1).
		Updates(model)
	if result.Error != nil {
		return translateError(result.Error)
	}
	if result.RowsAffected == 0 {
		return errOptimisticLock
	}
	return nil
}

var _ recognition.JobRepository = (*GormJobRepository)(nil)
