package persistence

import (
	"context"
	"fmt"

	"github.com/freight/recognition/internal/domain/recognition"
	"github.com/freight/recognition/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormPostingRepository is the append-only posting journal
type GormPostingRepository struct {
	db *gorm.DB
}

// NewGormPostingRepository creates a new GormPostingRepository
func NewGormPostingRepository(db *gorm.DB) *GormPostingRepository {
	return &GormPostingRepository{db: db}
}

// Create appends postings in one statement. A taken idempotency key rejects
// the whole statement with shared.ErrAlreadyExists.
func (r *GormPostingRepository) Create(ctx context.Context, postings ...*recognition.Posting) error {
	if len(postings) == 0 {
		return nil
	}
	rows := make([]*models.PostingModel, len(postings))
	for i, p := range postings {
		rows[i] = models.PostingModelFromDomain(p)
	}
	return translateError(r.db.WithContext(ctx).Create(rows).Error)
}

// FindByIdempotencyKey returns the posting with the key or shared.ErrNotFound
func (r *GormPostingRepository) FindByIdempotencyKey(ctx context.Context, key string) (*recognition.Posting, error) {
	var model models.PostingModel
	if err := r.db.WithContext(ctx).First(&model, "idempotency_key = ?", key).Error; err != nil {
		return nil, translateError(err)
	}
	p := model.ToDomain()
	return &p, nil
}

// FindByJob returns the postings of a job in creation order
func (r *GormPostingRepository) FindByJob(ctx context.Context, ref recognition.JobRef) ([]recognition.Posting, error) {
	var rows []models.PostingModel
	if err := r.db.WithContext(ctx).
		Where("job_type = ? AND job_id = ?", ref.Type, ref.ID).
		Order("created_at, id").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load postings of %s: %w", ref, err)
	}
	return postingsToDomain(rows), nil
}

// FindAll lists the postings of a company ordered by date then creation
func (r *GormPostingRepository) FindAll(ctx context.Context, filter recognition.PostingFilter) ([]recognition.Posting, error) {
	query := r.db.WithContext(ctx).Scopes(ForCompany(filter.Company))
	if filter.FromDate != nil {
		query = query.Where("date >= ?", recognition.DateOnly(*filter.FromDate))
	}
	if filter.ToDate != nil {
		query = query.Where("date <= ?", recognition.DateOnly(*filter.ToDate))
	}
	if len(filter.Kinds) > 0 {
		query = query.Where("kind IN ?", filter.Kinds)
	}
	if filter.PageSize > 0 {
		query = query.Offset(filter.Offset()).Limit(filter.PageSize)
	}

	var rows []models.PostingModel
	if err := query.Order("date, created_at, id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list postings: %w", err)
	}
	return postingsToDomain(rows), nil
}

func postingsToDomain(rows []models.PostingModel) []recognition.Posting {
	out := make([]recognition.Posting, len(rows))
	for i := range rows {
		out[i] = rows[i].ToDomain()
	}
	return out
}

var _ recognition.PostingRepository = (*GormPostingRepository)(nil)
