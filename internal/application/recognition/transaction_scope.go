package recognition

import (
	"context"

	"github.com/freight/recognition/internal/domain/recognition"
)

// TransactionScope runs a unit of work against repositories sharing one
// database transaction. fn returning an error rolls the transaction back.
type TransactionScope interface {
	Execute(ctx context.Context, fn func(repos TransactionalRepositories) error) error
}

// TransactionalRepositories exposes the repositories written by a recognition
// transition. The ledger row is read with FindByJobForUpdate inside the scope
// so the balance change and its postings commit together.
type TransactionalRepositories interface {
	Recognitions() recognition.JobRecognitionRepository
	Postings() recognition.PostingRepository
	Runs() recognition.PeriodCloseRunRepository
}

// NoOpTransactionScope runs fn directly on the given repositories.
// Used in tests and with stores that have no transactions.
type NoOpTransactionScope struct {
	recognitions recognition.JobRecognitionRepository
	postings     recognition.PostingRepository
	runs         recognition.PeriodCloseRunRepository
}

// NewNoOpTransactionScope creates a NoOpTransactionScope
func NewNoOpTransactionScope(
	recognitions recognition.JobRecognitionRepository,
	postings recognition.PostingRepository,
	runs recognition.PeriodCloseRunRepository,
) *NoOpTransactionScope {
	return &NoOpTransactionScope{recognitions: recognitions, postings: postings, runs: runs}
}

// Execute runs fn without a transaction
func (s *NoOpTransactionScope) Execute(_ context.Context, fn func(repos TransactionalRepositories) error) error {
	return fn(s)
}

// Recognitions returns the ledger repository
func (s *NoOpTransactionScope) Recognitions() recognition.JobRecognitionRepository {
	return s.recognitions
}

// Postings returns the posting repository
func (s *NoOpTransactionScope) Postings() recognition.PostingRepository {
	return s.postings
}

// Runs returns the period-close run repository
func (s *NoOpTransactionScope) Runs() recognition.PeriodCloseRunRepository {
	return s.runs
}

var _ TransactionScope = (*NoOpTransactionScope)(nil)
var _ TransactionalRepositories = (*NoOpTransactionScope)(nil)
