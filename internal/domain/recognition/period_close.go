package recognition

import (
	"time"

	"github.com/freight/recognition/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PeriodRunStatus is the status of a period-close run
type PeriodRunStatus string

const (
	PeriodRunStatusRunning               PeriodRunStatus = "RUNNING"
	PeriodRunStatusCompleted             PeriodRunStatus = "COMPLETED"
	PeriodRunStatusCompletedWithFailures PeriodRunStatus = "COMPLETED_WITH_FAILURES"
	PeriodRunStatusFailed                PeriodRunStatus = "FAILED"
)

// IsTerminal returns true once the run has finished
func (s PeriodRunStatus) IsTerminal() bool {
	return s != PeriodRunStatusRunning
}

// Disposition classifies a job's outcome in a batch
type Disposition string

const (
	DispositionAdjusted Disposition = "ADJUSTED"
	DispositionSkipped  Disposition = "SKIPPED"
	DispositionFailed   Disposition = "FAILED"
)

// Skip reasons
const (
	SkipPolicyNotFound        = "POLICY_NOT_FOUND"
	SkipSideDisabled          = "SIDE_DISABLED"
	SkipNotInPeriod           = "NOT_IN_PERIOD"
	SkipInBalance             = "IN_BALANCE"
	SkipActualBelowRecognized = "ACTUAL_BELOW_RECOGNIZED"
	SkipNotOpen               = "NOT_OPEN"
	SkipDuplicate             = "DUPLICATE"
)

// SideOutcome is what the batch did to one side of a job
type SideOutcome struct {
	Side       Side            `json:"side"`
	Action     Outcome         `json:"action"`
	Amount     decimal.Decimal `json:"amount"`
	PostingIDs []uuid.UUID     `json:"posting_ids,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	Warning    string          `json:"warning,omitempty"`
	Closed     bool            `json:"closed,omitempty"`
}

// BatchItem is one job's entry in a batch result
type BatchItem struct {
	Job         JobRef        `json:"job"`
	Disposition Disposition   `json:"disposition"`
	Sides       []SideOutcome `json:"sides,omitempty"`
	ErrorCode   string        `json:"error_code,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// Posted reports whether any side of the item produced a posting
func (i BatchItem) Posted() bool {
	for _, s := range i.Sides {
		if len(s.PostingIDs) > 0 {
			return true
		}
	}
	return false
}

// BatchResult collects the outcome of a period-close batch
type BatchResult struct {
	RunID     uuid.UUID   `json:"run_id"`
	Company   string      `json:"company"`
	PeriodEnd time.Time   `json:"period_end"`
	Adjusted  []BatchItem `json:"adjusted"`
	Skipped   []BatchItem `json:"skipped"`
	Failed    []BatchItem `json:"failed"`
}

// NewBatchResult creates an empty batch result
func NewBatchResult(company string, periodEnd time.Time) *BatchResult {
	return &BatchResult{
		Company:   company,
		PeriodEnd: periodEnd,
		Adjusted:  []BatchItem{},
		Skipped:   []BatchItem{},
		Failed:    []BatchItem{},
	}
}

// Add files an item under its disposition
func (b *BatchResult) Add(item BatchItem) {
	switch item.Disposition {
	case DispositionAdjusted:
		b.Adjusted = append(b.Adjusted, item)
	case DispositionFailed:
		b.Failed = append(b.Failed, item)
	default:
		b.Skipped = append(b.Skipped, item)
	}
}

// Total returns the number of jobs visited
func (b *BatchResult) Total() int {
	return len(b.Adjusted) + len(b.Skipped) + len(b.Failed)
}

// PeriodCloseRun is the persisted record of one process_period invocation
type PeriodCloseRun struct {
	shared.CompanyAggregateRoot
	PeriodEnd      time.Time       `json:"period_end"`
	Status         PeriodRunStatus `json:"status"`
	StartedAt      time.Time       `json:"started_at"`
	FinishedAt     *time.Time      `json:"finished_at,omitempty"`
	AdjustedCount  int             `json:"adjusted_count"`
	SkippedCount   int             `json:"skipped_count"`
	FailedCount    int             `json:"failed_count"`
	Items          []BatchItem     `json:"items"`
	ReportLocation string          `json:"report_location,omitempty"`
	Error          string          `json:"error,omitempty"`
}

// NewPeriodCloseRun starts a run for a company and period end date
func NewPeriodCloseRun(company string, periodEnd time.Time) (*PeriodCloseRun, error) {
	if err := (Scope{Company: company}).Validate(); err != nil {
		return nil, err
	}
	if periodEnd.IsZero() {
		return nil, shared.NewDomainError("INVALID_PERIOD_END", "Period end date is required")
	}
	run := &PeriodCloseRun{
		CompanyAggregateRoot: shared.NewCompanyAggregateRoot(company),
		PeriodEnd:            DateOnly(periodEnd),
		Status:               PeriodRunStatusRunning,
		Items:                []BatchItem{},
	}
	run.StartedAt = run.CreatedAt
	return run, nil
}

// Complete records the batch result and finishes the run
func (r *PeriodCloseRun) Complete(result *BatchResult) error {
	if r.Status.IsTerminal() {
		return shared.ErrInvalidState.WithMessage("Period-close run already finished")
	}
	r.AdjustedCount = len(result.Adjusted)
	r.SkippedCount = len(result.Skipped)
	r.FailedCount = len(result.Failed)
	r.Items = make([]BatchItem, 0, result.Total())
	r.Items = append(r.Items, result.Adjusted...)
	r.Items = append(r.Items, result.Skipped...)
	r.Items = append(r.Items, result.Failed...)
	r.Status = PeriodRunStatusCompleted
	if r.FailedCount > 0 {
		r.Status = PeriodRunStatusCompletedWithFailures
	}
	r.finish()
	return nil
}

// Fail finishes the run after an error that stopped traversal
func (r *PeriodCloseRun) Fail(err error) {
	if r.Status.IsTerminal() {
		return
	}
	r.Status = PeriodRunStatusFailed
	r.Error = err.Error()
	r.finish()
}

func (r *PeriodCloseRun) finish() {
	now := time.Now().UTC()
	r.FinishedAt = &now
	r.Touch()
	r.IncrementVersion()
	r.AddDomainEvent(NewPeriodClosedEvent(r))
}

// SetReportLocation records where the archived report was written
func (r *PeriodCloseRun) SetReportLocation(location string) {
	r.ReportLocation = location
	r.Touch()
}
