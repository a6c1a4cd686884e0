package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/freight/recognition/internal/domain/recognition"
	"github.com/freight/recognition/internal/domain/shared"
	"github.com/freight/recognition/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormJobRecognitionRepository implements recognition.JobRecognitionRepository using GORM
type GormJobRecognitionRepository struct {
	db *gorm.DB
}

// NewGormJobRecognitionRepository creates a new GormJobRecognitionRepository
func NewGormJobRecognitionRepository(db *gorm.DB) *GormJobRecognitionRepository {
	return &GormJobRecognitionRepository{db: db}
}

// FindByJob returns the ledger of a job or shared.ErrNotFound
func (r *GormJobRecognitionRepository) FindByJob(ctx context.Context, ref recognition.JobRef) (*recognition.JobRecognition, error) {
	return r.findByJob(r.db.WithContext(ctx), ref)
}

// FindByJobForUpdate locks the ledger row (SELECT ... FOR UPDATE) until the
// surrounding transaction ends
func (r *GormJobRecognitionRepository) FindByJobForUpdate(ctx context.Context, ref recognition.JobRef) (*recognition.JobRecognition, error) {
	return r.findByJob(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), ref)
}

func (r *GormJobRecognitionRepository) findByJob(db *gorm.DB, ref recognition.JobRef) (*recognition.JobRecognition, error) {
	var model models.JobRecognitionModel
	if err := db.Where("job_type = ? AND job_id = ?", ref.Type, ref.ID).First(&model).Error; err != nil {
		return nil, translateError(err)
	}
	return model.ToDomain(), nil
}

// FindOpenPage walks the open ledgers of a company by ID (keyset paging).
// A ledger qualifies when either side is OPEN with a recognition date on or before asOf.
func (r *GormJobRecognitionRepository) FindOpenPage(ctx context.Context, company string, asOf time.Time, cursor shared.Cursor) ([]*recognition.JobRecognition, error) {
	open := recognition.SideStatusOpen
	query := r.db.WithContext(ctx).
		Scopes(ForCompany(company)).
		Where("(wip_status = ? AND wip_recognition_date <= ?) OR (accrual_status = ? AND accrual_recognition_date <= ?)",
			open, asOf, open, asOf)
	if cursor.AfterID != uuid.Nil {
		query = query.Where("id > ?", cursor.AfterID)
	}
	if cursor.Limit > 0 {
		query = query.Limit(cursor.Limit)
	}

	var rows []models.JobRecognitionModel
	if err := query.Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to page open recognitions: %w", err)
	}
	out := make([]*recognition.JobRecognition, len(rows))
	for i := range rows {
		out[i] = rows[i].ToDomain()
	}
	return out, nil
}

// Create inserts a new ledger. A second ledger of the same job is shared.ErrAlreadyExists.
func (r *GormJobRecognitionRepository) Create(ctx context.Context, rec *recognition.JobRecognition) error {
	return translateError(r.db.WithContext(ctx).Create(models.JobRecognitionModelFromDomain(rec)).Error)
}

// SaveWithLock updates the ledger if its stored version equals rec.Version,
// then advances rec.Version
func (r *GormJobRecognitionRepository) SaveWithLock(ctx context.Context, rec *recognition.JobRecognition) error {
	model := models.JobRecognitionModelFromDomain(rec)
	model.Version = rec.Version + 1
	result := r.db.WithContext(ctx).
		Model(model).
		Select("*").Omit("id", "created_at").
		Where("id = ? AND version = ?", rec.ID, rec.Version).
		Updates(model)
	if result.Error != nil {
		return translateError(result.Error)
	}
	if result.RowsAffected == 0 {
		return errOptimisticLock
	}
	rec.IncrementVersion()
	return nil
}

var _ recognition.JobRecognitionRepository = (*GormJobRecognitionRepository)(nil)
