package recognition

import (
	"time"

	"github.com/freight/recognition/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event type names
const (
	EventTypePolicyChanged         = "RecognitionPolicyChanged"
	EventTypeJobStatusChanged      = "JobStatusChanged"
	EventTypeRecognitionPosted     = "RecognitionPosted"
	EventTypeOverAdjustmentFlagged = "OverAdjustmentFlagged"
	EventTypeRecognitionClosed     = "RecognitionClosed"
	EventTypePeriodClosed          = "PeriodClosed"
)

// Aggregate type names
const (
	AggregateTypePolicy         = "RecognitionPolicy"
	AggregateTypeJob            = "Job"
	AggregateTypeJobRecognition = "JobRecognition"
	AggregateTypePeriodCloseRun = "PeriodCloseRun"
)

// PolicyAction is the administrative change recorded by PolicyChangedEvent
type PolicyAction string

const (
	PolicyActionCreated  PolicyAction = "CREATED"
	PolicyActionUpdated  PolicyAction = "UPDATED"
	PolicyActionEnabled  PolicyAction = "ENABLED"
	PolicyActionDisabled PolicyAction = "DISABLED"
	PolicyActionDeleted  PolicyAction = "DELETED"
)

// PolicyChangedEvent is raised on every administrative policy change
type PolicyChangedEvent struct {
	shared.BaseDomainEvent
	PolicyID uuid.UUID    `json:"policy_id"`
	Name     string       `json:"name"`
	Action   PolicyAction `json:"action"`
	Scope    Scope        `json:"scope"`
}

// NewPolicyChangedEvent creates a PolicyChangedEvent
func NewPolicyChangedEvent(p *Policy, action PolicyAction) *PolicyChangedEvent {
	return &PolicyChangedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypePolicyChanged, AggregateTypePolicy, p.ID, p.Company),
		PolicyID:        p.ID,
		Name:            p.Name,
		Action:          action,
		Scope:           p.Scope(),
	}
}

// JobStatusChangedEvent is raised when a job snapshot changes status.
// Finished statuses trigger forced closure of recognition.
type JobStatusChangedEvent struct {
	shared.BaseDomainEvent
	Job            JobRef    `json:"job"`
	PreviousStatus JobStatus `json:"previous_status"`
	Status         JobStatus `json:"status"`
	Reason         string    `json:"reason,omitempty"`
}

// NewJobStatusChangedEvent creates a JobStatusChangedEvent
func NewJobStatusChangedEvent(j *Job, previous JobStatus, reason string) *JobStatusChangedEvent {
	return &JobStatusChangedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeJobStatusChanged, AggregateTypeJob, j.ID, j.Company),
		Job:             j.Ref,
		PreviousStatus:  previous,
		Status:          j.Status,
		Reason:          reason,
	}
}

// RecognitionPostedEvent is raised for every posting a ledger creates
type RecognitionPostedEvent struct {
	shared.BaseDomainEvent
	Job       JobRef          `json:"job"`
	PostingID uuid.UUID       `json:"posting_id"`
	Kind      PostingKind     `json:"kind"`
	Amount    decimal.Decimal `json:"amount"`
	Date      time.Time       `json:"date"`
}

// NewRecognitionPostedEvent creates a RecognitionPostedEvent
func NewRecognitionPostedEvent(r *JobRecognition, p *Posting) *RecognitionPostedEvent {
	return &RecognitionPostedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeRecognitionPosted, AggregateTypeJobRecognition, r.ID, r.Company),
		Job:             r.Job,
		PostingID:       p.ID,
		Kind:            p.Kind,
		Amount:          p.Amount,
		Date:            p.Date,
	}
}

// OverAdjustmentFlaggedEvent asks for manual review of actuals exceeding the balance
type OverAdjustmentFlaggedEvent struct {
	shared.BaseDomainEvent
	Job       JobRef          `json:"job"`
	Side      Side            `json:"side"`
	Requested decimal.Decimal `json:"requested"`
	Applied   decimal.Decimal `json:"applied"`
	Excess    decimal.Decimal `json:"excess"`
}

// NewOverAdjustmentFlaggedEvent creates an OverAdjustmentFlaggedEvent
func NewOverAdjustmentFlaggedEvent(r *JobRecognition, w *OverAdjustmentWarning) *OverAdjustmentFlaggedEvent {
	return &OverAdjustmentFlaggedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeOverAdjustmentFlagged, AggregateTypeJobRecognition, r.ID, r.Company),
		Job:             r.Job,
		Side:            w.Side,
		Requested:       w.Requested,
		Applied:         w.Applied,
		Excess:          w.Excess,
	}
}

// RecognitionClosedEvent is raised when a side is closed
type RecognitionClosedEvent struct {
	shared.BaseDomainEvent
	Job              JobRef     `json:"job"`
	Side             Side       `json:"side"`
	ClosingPostingID *uuid.UUID `json:"closing_posting_id,omitempty"`
}

// NewRecognitionClosedEvent creates a RecognitionClosedEvent
func NewRecognitionClosedEvent(r *JobRecognition, side Side, closing *Posting) *RecognitionClosedEvent {
	e := &RecognitionClosedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeRecognitionClosed, AggregateTypeJobRecognition, r.ID, r.Company),
		Job:             r.Job,
		Side:            side,
	}
	if closing != nil {
		e.ClosingPostingID = &closing.ID
	}
	return e
}

// PeriodClosedEvent is raised when a period-close run finishes
type PeriodClosedEvent struct {
	shared.BaseDomainEvent
	RunID     uuid.UUID       `json:"run_id"`
	PeriodEnd time.Time       `json:"period_end"`
	Status    PeriodRunStatus `json:"status"`
	Adjusted  int             `json:"adjusted"`
	Skipped   int             `json:"skipped"`
	Failed    int             `json:"failed"`
}

// NewPeriodClosedEvent creates a PeriodClosedEvent
func NewPeriodClosedEvent(run *PeriodCloseRun) *PeriodClosedEvent {
	return &PeriodClosedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypePeriodClosed, AggregateTypePeriodCloseRun, run.ID, run.Company),
		RunID:           run.ID,
		PeriodEnd:       run.PeriodEnd,
		Status:          run.Status,
		Adjusted:        run.AdjustedCount,
		Skipped:         run.SkippedCount,
		Failed:          run.FailedCount,
	}
}
