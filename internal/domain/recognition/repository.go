package recognition

import (
	"context"
	"time"

	"github.com/freight/recognition/internal/domain/shared"
	"github.com/google/uuid"
)

// PolicyFilter defines filtering options for policy queries
type PolicyFilter struct {
	shared.Filter
	Company        string // Filter by company (required by list endpoints)
	Enabled        *bool  // Filter by enabled flag
	IncludeDeleted bool   // Include soft-deleted policies
}

// PolicyRepository defines the interface for recognition policy persistence
type PolicyRepository interface {
	// FindByID finds a policy by ID (soft-deleted policies included)
	FindByID(ctx context.Context, id uuid.UUID) (*Policy, error)

	// FindActiveByCompany returns every enabled, non-deleted policy of a company
	FindActiveByCompany(ctx context.Context, company string) ([]*Policy, error)

	// FindAll lists policies with filtering and pagination
	FindAll(ctx context.Context, filter PolicyFilter) ([]*Policy, int64, error)

	// ExistsActiveWithScope reports whether another active policy has exactly this scope
	ExistsActiveWithScope(ctx context.Context, scope Scope, excludeID uuid.UUID) (bool, error)

	// Create inserts a new policy
	Create(ctx context.Context, policy *Policy) error

	// SaveWithLock updates a policy with optimistic locking (version check)
	SaveWithLock(ctx context.Context, policy *Policy) error
}

// JobSource provides job snapshots: scope, charge lines, date fields and overrides
type JobSource interface {
	GetJob(ctx context.Context, ref JobRef) (*Job, error)
}

// JobRepository persists job snapshots pushed by collaborators
type JobRepository interface {
	JobSource

	// Create inserts a new job snapshot
	Create(ctx context.Context, job *Job) error

	// SaveWithLock updates a job snapshot with optimistic locking
	SaveWithLock(ctx context.Context, job *Job) error
}

// JobRecognitionRepository persists per-job recognition ledgers
type JobRecognitionRepository interface {
	// FindByJob returns the ledger of a job or shared.ErrNotFound
	FindByJob(ctx context.Context, ref JobRef) (*JobRecognition, error)

	// FindByJobForUpdate is FindByJob with a row lock held until the
	// surrounding transaction ends
	FindByJobForUpdate(ctx context.Context, ref JobRef) (*JobRecognition, error)

	// FindOpenPage returns up to cursor.Limit ledgers of a company with at
	// least one open side recognized on or before asOf, ordered by ID, after cursor.AfterID
	FindOpenPage(ctx context.Context, company string, asOf time.Time, cursor shared.Cursor) ([]*JobRecognition, error)

	// Create inserts a new ledger
	Create(ctx context.Context, rec *JobRecognition) error

	// SaveWithLock updates a ledger if its version is unchanged and advances the version
	SaveWithLock(ctx context.Context, rec *JobRecognition) error
}

// PostingFilter defines filtering options for posting queries
type PostingFilter struct {
	shared.Filter
	Company  string
	FromDate *time.Time
	ToDate   *time.Time
	Kinds    []PostingKind
}

// PostingRepository is the append-only store of postings
type PostingRepository interface {
	// Create appends postings. A posting whose idempotency key already exists is rejected
	// with shared.ErrAlreadyExists.
	Create(ctx context.Context, postings ...*Posting) error

	// FindByIdempotencyKey returns the posting with the key or shared.ErrNotFound
	FindByIdempotencyKey(ctx context.Context, key string) (*Posting, error)

	// FindByJob returns the postings of a job in creation order
	FindByJob(ctx context.Context, ref JobRef) ([]Posting, error)

	// FindAll lists postings of a company, ordered by date then creation
	FindAll(ctx context.Context, filter PostingFilter) ([]Posting, error)
}

// ActualAmountProvider returns cumulative actual amounts of a job as of a date
type ActualAmountProvider interface {
	ActualsAsOf(ctx context.Context, ref JobRef, asOf time.Time) (Actuals, error)
}

// ActualRepository stores actual entries and serves as the ActualAmountProvider
type ActualRepository interface {
	ActualAmountProvider

	// Record stores an entry. Re-recording the same (job, side, source document)
	// returns false without storing a duplicate.
	Record(ctx context.Context, entry *ActualEntry) (bool, error)
}

// PeriodCloseRunRepository persists period-close runs
type PeriodCloseRunRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*PeriodCloseRun, error)
	FindByCompany(ctx context.Context, company string, filter shared.Filter) ([]*PeriodCloseRun, int64, error)
	Create(ctx context.Context, run *PeriodCloseRun) error
	Save(ctx context.Context, run *PeriodCloseRun) error
}
