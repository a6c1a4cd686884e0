package recognition

import (
	"slices"
	"time"

	"github.com/freight/recognition/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SideStatus is the state of one recognition side
type SideStatus string

const (
	SideStatusNotStarted SideStatus = "NOT_STARTED"
	SideStatusOpen       SideStatus = "OPEN"
	SideStatusClosed     SideStatus = "CLOSED"
)

// IsValid checks if the status is known
func (s SideStatus) IsValid() bool {
	switch s {
	case SideStatusNotStarted, SideStatusOpen, SideStatusClosed:
		return true
	}
	return false
}

// String returns the string representation of SideStatus
func (s SideStatus) String() string {
	return string(s)
}

// SideState is the running ledger of one side of a job.
//
// Invariants: Balance >= 0; Balance + RecognizedToDate == Amount while Open;
// Balance == 0 once Closed. Excess actuals that could not be posted are kept
// in Overage instead of driving Balance negative. FlaggedTriggers holds the
// trigger ids of adjustments that posted nothing and only added to Overage;
// they have no posting key to deduplicate a replay.
type SideState struct {
	Status               SideStatus      `json:"status"`
	Amount               decimal.Decimal `json:"amount"`
	Balance              decimal.Decimal `json:"balance"`
	RecognizedToDate     decimal.Decimal `json:"recognized_to_date"`
	Overage              decimal.Decimal `json:"overage"`
	Accounts             AccountPair     `json:"accounts"`
	RecognitionDate      *time.Time      `json:"recognition_date,omitempty"`
	InitialPostingID     *uuid.UUID      `json:"initial_posting_id,omitempty"`
	AdjustmentPostingIDs []uuid.UUID     `json:"adjustment_posting_ids"`
	ClosingPostingID     *uuid.UUID      `json:"closing_posting_id,omitempty"`
	ClosedAt             *time.Time      `json:"closed_at,omitempty"`
	FlaggedTriggers      []string        `json:"flagged_triggers"`
}

func newSideState() SideState {
	return SideState{
		Status:               SideStatusNotStarted,
		Amount:               decimal.Zero,
		Balance:              decimal.Zero,
		RecognizedToDate:     decimal.Zero,
		Overage:              decimal.Zero,
		AdjustmentPostingIDs: []uuid.UUID{},
		FlaggedTriggers:      []string{},
	}
}

// IsOpen reports whether the side carries a live balance
func (s *SideState) IsOpen() bool {
	return s.Status == SideStatusOpen
}

// IsClosed reports whether the side accepts no further postings
func (s *SideState) IsClosed() bool {
	return s.Status == SideStatusClosed
}

// Outcome describes what a transition did
type Outcome string

const (
	OutcomePosted            Outcome = "POSTED"
	OutcomePolicyNotFound    Outcome = "POLICY_NOT_FOUND"
	OutcomeBelowMinimum      Outcome = "BELOW_MINIMUM"
	OutcomeDisabled          Outcome = "DISABLED"
	OutcomeAlreadyRecognized Outcome = "ALREADY_RECOGNIZED"
	OutcomeAlreadyClosed     Outcome = "ALREADY_CLOSED"
	OutcomeNothingToPost     Outcome = "NOTHING_TO_POST"
	OutcomeDuplicate         Outcome = "DUPLICATE"
)

// Transition is the result of applying one operation to a side
type Transition struct {
	Side    Side
	Outcome Outcome
	Posting *Posting
	Warning *OverAdjustmentWarning
}

// JobRecognition is the per-job recognition ledger aggregate root.
// Several transitions may be applied before one save, so the version is
// advanced by the repository when the aggregate is persisted.
type JobRecognition struct {
	shared.CompanyAggregateRoot
	Job              JobRef          `json:"job"`
	CostCenter       string          `json:"cost_center"`
	ProfitCenter     string          `json:"profit_center"`
	Branch           string          `json:"branch"`
	PolicyID         *uuid.UUID      `json:"policy_id,omitempty"`
	EstimatedRevenue decimal.Decimal `json:"estimated_revenue"`
	EstimatedCost    decimal.Decimal `json:"estimated_cost"`
	WIP              SideState       `json:"wip"`
	Accrual          SideState       `json:"accrual"`
}

// NewJobRecognition creates the ledger for a job with both sides NotStarted
func NewJobRecognition(job *Job) *JobRecognition {
	return &JobRecognition{
		CompanyAggregateRoot: shared.NewCompanyAggregateRoot(job.Company),
		Job:                  job.Ref,
		CostCenter:           job.CostCenter,
		ProfitCenter:         job.ProfitCenter,
		Branch:               job.Branch,
		EstimatedRevenue:     decimal.Zero,
		EstimatedCost:        decimal.Zero,
		WIP:                  newSideState(),
		Accrual:              newSideState(),
	}
}

// Side returns the mutable state of one side
func (r *JobRecognition) Side(side Side) *SideState {
	if side == SideAccrual {
		return &r.Accrual
	}
	return &r.WIP
}

// Scope returns the job scope captured on the ledger
func (r *JobRecognition) Scope() Scope {
	return Scope{Company: r.Company, CostCenter: r.CostCenter, ProfitCenter: r.ProfitCenter, Branch: r.Branch}
}

// SyncJob refreshes the scope and cached estimates from the job snapshot
func (r *JobRecognition) SyncJob(job *Job, est Estimate) {
	r.CostCenter = job.CostCenter
	r.ProfitCenter = job.ProfitCenter
	r.Branch = job.Branch
	r.EstimatedRevenue = est.Revenue
	r.EstimatedCost = est.Cost
}

// HasOpenSide reports whether any side still carries a balance to reconcile
func (r *JobRecognition) HasOpenSide() bool {
	return r.WIP.IsOpen() || r.Accrual.IsOpen()
}

// IsTerminal reports whether both sides are closed
func (r *JobRecognition) IsTerminal() bool {
	return r.WIP.IsClosed() && r.Accrual.IsClosed()
}

// Recognize performs initial recognition of a side (NotStarted -> Open).
// An amount under the policy minimum, or not positive, leaves the side
// NotStarted and reports OutcomeBelowMinimum.
func (r *JobRecognition) Recognize(side Side, amount decimal.Decimal, settings SideSettings, policyID uuid.UUID, date time.Time, triggerID string) (Transition, error) {
	s := r.Side(side)
	switch s.Status {
	case SideStatusClosed:
		return Transition{}, &RecognitionClosedError{Job: r.Job, Side: side}
	case SideStatusOpen:
		return Transition{Side: side, Outcome: OutcomeAlreadyRecognized}, nil
	}
	if !amount.IsPositive() || amount.LessThan(settings.MinimumAmount) {
		return Transition{Side: side, Outcome: OutcomeBelowMinimum}, nil
	}

	accounts := settings.Accounts()
	posting, err := newPosting(r, kindFor(side, stepInitial), accounts, amount, date, triggerID)
	if err != nil {
		return Transition{}, err
	}

	day := posting.Date
	s.Status = SideStatusOpen
	s.Amount = amount
	s.Balance = amount
	s.RecognizedToDate = decimal.Zero
	s.Accounts = accounts
	s.RecognitionDate = &day
	s.InitialPostingID = &posting.ID
	r.PolicyID = &policyID
	r.applied(posting)
	return Transition{Side: side, Outcome: OutcomePosted, Posting: posting}, nil
}

// Adjust moves part of an open balance out as actuals arrive (Open -> Open).
// Amounts above the balance are clamped; the excess is kept in Overage and
// reported as an OverAdjustmentWarning.
func (r *JobRecognition) Adjust(side Side, amount decimal.Decimal, date time.Time, triggerID string) (Transition, error) {
	if !amount.IsPositive() {
		return Transition{}, ErrInvalidAmount.WithMessage("Adjustment amount must be greater than zero")
	}
	s := r.Side(side)
	switch s.Status {
	case SideStatusClosed:
		return Transition{}, &RecognitionClosedError{Job: r.Job, Side: side}
	case SideStatusNotStarted:
		return Transition{}, ErrRecognitionNotOpen
	}
	if triggerID != "" && slices.Contains(s.FlaggedTriggers, triggerID) {
		return Transition{Side: side, Outcome: OutcomeDuplicate}, nil
	}

	applied := decimal.Min(amount, s.Balance)
	t := Transition{Side: side, Outcome: OutcomeNothingToPost}
	if excess := amount.Sub(applied); excess.IsPositive() {
		t.Warning = &OverAdjustmentWarning{Side: side, Requested: amount, Applied: applied, Excess: excess}
		s.Overage = s.Overage.Add(excess)
		r.AddDomainEvent(NewOverAdjustmentFlaggedEvent(r, t.Warning))
	}
	if !applied.IsPositive() {
		if triggerID != "" {
			s.FlaggedTriggers = append(s.FlaggedTriggers, triggerID)
		}
		r.Touch()
		return t, nil
	}

	posting, err := newPosting(r, kindFor(side, stepAdjustment), s.Accounts, applied, date, triggerID)
	if err != nil {
		return Transition{}, err
	}
	s.Balance = s.Balance.Sub(applied)
	s.RecognizedToDate = s.RecognizedToDate.Add(applied)
	s.AdjustmentPostingIDs = append(s.AdjustmentPostingIDs, posting.ID)
	r.applied(posting)
	t.Outcome = OutcomePosted
	t.Posting = posting
	return t, nil
}

// Close zeroes out the side and closes it (Open -> Closed). A NotStarted side
// is closed without a posting. Closing a closed side is a no-op.
func (r *JobRecognition) Close(side Side, date time.Time, triggerID string) (Transition, error) {
	s := r.Side(side)
	if s.IsClosed() {
		return Transition{Side: side, Outcome: OutcomeAlreadyClosed}, nil
	}

	t := Transition{Side: side, Outcome: OutcomeNothingToPost}
	if s.IsOpen() && s.Balance.IsPositive() {
		posting, err := newPosting(r, kindFor(side, stepClosure), s.Accounts, s.Balance, date, triggerID)
		if err != nil {
			return Transition{}, err
		}
		s.RecognizedToDate = s.RecognizedToDate.Add(s.Balance)
		s.Balance = decimal.Zero
		s.ClosingPostingID = &posting.ID
		r.applied(posting)
		t.Outcome = OutcomePosted
		t.Posting = posting
	}

	now := time.Now().UTC()
	s.Status = SideStatusClosed
	s.ClosedAt = &now
	r.Touch()
	r.AddDomainEvent(NewRecognitionClosedEvent(r, side, t.Posting))
	return t, nil
}

// applied records a posting on the aggregate
func (r *JobRecognition) applied(p *Posting) {
	r.Touch()
	r.AddDomainEvent(NewRecognitionPostedEvent(r, p))
}
