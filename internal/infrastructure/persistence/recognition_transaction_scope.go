package persistence

import (
	"context"

	apprec "github.com/freight/recognition/internal/application/recognition"
	"github.com/freight/recognition/internal/domain/recognition"
	"gorm.io/gorm"
)

// GormTransactionScope implements TransactionScope using GORM transactions.
// Repositories handed to fn share the transaction; an error from fn rolls it back.
type GormTransactionScope struct {
	db *gorm.DB
}

// NewGormTransactionScope creates a new GormTransactionScope.
func NewGormTransactionScope(db *gorm.DB) *GormTransactionScope {
	return &GormTransactionScope{db: db}
}

// Execute runs fn within a database transaction.
func (s *GormTransactionScope) Execute(ctx context.Context, fn func(repos apprec.TransactionalRepositories) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTransactionalRepositories{tx: tx})
	})
}

type gormTransactionalRepositories struct {
	tx *gorm.DB
}

// Recognitions returns the ledger repository scoped to the current transaction.
func (r *gormTransactionalRepositories) Recognitions() recognition.JobRecognitionRepository {
	return NewGormJobRecognitionRepository(r.tx)
}

// Postings returns the posting repository scoped to the current transaction.
func (r *gormTransactionalRepositories) Postings() recognition.PostingRepository {
	return NewGormPostingRepository(r.tx)
}

// Runs returns the period-close run repository scoped to the current transaction.
func (r *gormTransactionalRepositories) Runs() recognition.PeriodCloseRunRepository {
	return NewGormPeriodCloseRunRepository(r.tx)
}

var _ apprec.TransactionScope = (*GormTransactionScope)(nil)
var _ apprec.TransactionalRepositories = (*gormTransactionalRepositories)(nil)
