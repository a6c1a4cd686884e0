package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/freight/recognition/internal/domain/recognition"
	"github.com/freight/recognition/internal/infrastructure/persistence/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormActualRepository stores actual revenue and cost entries
type GormActualRepository struct {
	db *gorm.DB
}

// NewGormActualRepository creates a new GormActualRepository
func NewGormActualRepository(db *gorm.DB) *GormActualRepository {
	return &GormActualRepository{db: db}
}

type sideTotal struct {
	Side  recognition.Side
	Total decimal.Decimal
}

// ActualsAsOf sums the entries of a job posted on or before asOf, per side
func (r *GormActualRepository) ActualsAsOf(ctx context.Context, ref recognition.JobRef, asOf time.Time) (recognition.Actuals, error) {
	var totals []sideTotal
	err := r.db.WithContext(ctx).
		Model(&models.ActualEntryModel{}).
		Select("side, COALESCE(SUM(amount), 0) AS total").
		Where("job_type = ? AND job_id = ? AND posted_on <= ?", ref.Type, ref.ID, recognition.DateOnly(asOf)).
		Group("side").
		Scan(&totals).Error
	if err != nil {
		return recognition.Actuals{}, fmt.Errorf("failed to sum actuals of %s: %w", ref, err)
	}

	actuals := recognition.Actuals{Revenue: decimal.Zero, Cost: decimal.Zero}
	for _, t := range totals {
		switch t.Side {
		case recognition.SideWIP:
			actuals.Revenue = t.Total
		case recognition.SideAccrual:
			actuals.Cost = t.Total
		}
	}
	return actuals, nil
}

// Record inserts an entry unless the same (job, side, source document) exists
func (r *GormActualRepository) Record(ctx context.Context, entry *recognition.ActualEntry) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(models.ActualEntryModelFromDomain(entry))
	if result.Error != nil {
		return false, translateError(result.Error)
	}
	return result.RowsAffected > 0, nil
}

var _ recognition.ActualRepository = (*GormActualRepository)(nil)
