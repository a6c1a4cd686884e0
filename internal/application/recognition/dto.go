package recognition

import (
	"errors"
	"time"

	"github.com/freight/recognition/internal/domain/recognition"
	"github.com/freight/recognition/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RecognizeCommand requests initial recognition of one side of a job.
// TriggerID makes retries of the same request idempotent; it is generated when empty.
type RecognizeCommand struct {
	Job       recognition.JobRef
	TriggerID string
}

// AdjustCommand moves part of a side's balance out as an actual posts
type AdjustCommand struct {
	Job       recognition.JobRef
	Amount    decimal.Decimal
	Date      time.Time
	TriggerID string
}

// CloseCommand closes both sides of a job
type CloseCommand struct {
	Job       recognition.JobRef
	Date      time.Time
	TriggerID string
}

// Message is a coded, human-readable notice or warning
type Message struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// messageOf converts err into a Message, taking the code from the domain error it wraps
func messageOf(err error) Message {
	code := "UNKNOWN"
	if de, ok := shared.AsDomainError(err); ok {
		code = de.Code
	}
	return Message{Code: code, Message: err.Error()}
}

// SideResult is the per-side outcome of an operation touching both sides
type SideResult struct {
	Side    recognition.Side    `json:"side"`
	Outcome recognition.Outcome `json:"outcome"`
}

// PostingResult is returned by every single-job operation
type PostingResult struct {
	Job      recognition.JobRef    `json:"job"`
	Outcome  recognition.Outcome   `json:"outcome"`
	Sides    []SideResult          `json:"sides,omitempty"`
	Postings []recognition.Posting `json:"postings"`
	Notice   *Message              `json:"notice,omitempty"`
	Warnings []Message             `json:"warnings,omitempty"`
	State    *RecognitionStatus    `json:"state,omitempty"`
}

func newPostingResult(ref recognition.JobRef) *PostingResult {
	return &PostingResult{Job: ref, Postings: []recognition.Posting{}}
}

func (r *PostingResult) notice(err error) {
	m := messageOf(err)
	r.Notice = &m
}

func (r *PostingResult) warn(err error) {
	r.Warnings = append(r.Warnings, messageOf(err))
}

func (r *PostingResult) addTransition(t recognition.Transition) {
	if t.Posting != nil {
		r.Postings = append(r.Postings, *t.Posting)
	}
	if t.Warning != nil {
		r.warn(t.Warning)
	}
}

// RecognitionStatus is the read model of a job's recognition ledger
type RecognitionStatus struct {
	ID               uuid.UUID             `json:"id"`
	Job              recognition.JobRef    `json:"job"`
	Company          string                `json:"company"`
	CostCenter       string                `json:"cost_center,omitempty"`
	ProfitCenter     string                `json:"profit_center,omitempty"`
	Branch           string                `json:"branch,omitempty"`
	PolicyID         *uuid.UUID            `json:"policy_id,omitempty"`
	EstimatedRevenue decimal.Decimal       `json:"estimated_revenue"`
	EstimatedCost    decimal.Decimal       `json:"estimated_cost"`
	WIP              recognition.SideState `json:"wip"`
	Accrual          recognition.SideState `json:"accrual"`
	Terminal         bool                  `json:"terminal"`
	Persisted        bool                  `json:"persisted"`
	Version          int                   `json:"version"`
	UpdatedAt        time.Time             `json:"updated_at"`
}

func toStatus(r *recognition.JobRecognition, persisted bool) *RecognitionStatus {
	return &RecognitionStatus{
		ID:               r.ID,
		Job:              r.Job,
		Company:          r.Company,
		CostCenter:       r.CostCenter,
		ProfitCenter:     r.ProfitCenter,
		Branch:           r.Branch,
		PolicyID:         r.PolicyID,
		EstimatedRevenue: r.EstimatedRevenue,
		EstimatedCost:    r.EstimatedCost,
		WIP:              r.WIP,
		Accrual:          r.Accrual,
		Terminal:         r.IsTerminal(),
		Persisted:        persisted,
		Version:          r.Version,
		UpdatedAt:        r.UpdatedAt,
	}
}

// RankedPolicyView explains one entry of a policy ranking
type RankedPolicyView struct {
	Rank          int                 `json:"rank"`
	Policy        *recognition.Policy `json:"policy"`
	Specificity   int                 `json:"specificity"`
	MatchedFields []string            `json:"matched_fields"`
	Selected      bool                `json:"selected"`
}

// PolicyPreview is the ranking of policies for a scope
type PolicyPreview struct {
	Scope    recognition.Scope  `json:"scope"`
	Selected *uuid.UUID         `json:"selected,omitempty"`
	Ranking  []RankedPolicyView `json:"ranking"`
}

// PolicyCommand carries the editable fields of a policy.
// Enabled is honoured on create only; nil means enabled.
type PolicyCommand struct {
	Name     string
	Scope    recognition.Scope
	Priority int
	WIP      recognition.SideSettings
	Accrual  recognition.SideSettings
	Enabled  *bool
}

// UpsertJobCommand is a job snapshot pushed by the owning module
type UpsertJobCommand struct {
	Job         recognition.JobRef
	Scope       recognition.Scope
	Status      recognition.JobStatus
	Dates       recognition.JobDates
	ChargeLines []recognition.ChargeLine
	Overrides   recognition.JobOverrides
}

// JobView is a job snapshot with its derived estimate
type JobView struct {
	Job      *recognition.Job `json:"job"`
	Estimate EstimateView     `json:"estimate"`
	Created  bool             `json:"created"`
}

// EstimateView is the output of the amount calculator
type EstimateView struct {
	Revenue  decimal.Decimal `json:"revenue"`
	Cost     decimal.Decimal `json:"cost"`
	Warnings []Message       `json:"warnings,omitempty"`
}

func toEstimateView(est recognition.Estimate) EstimateView {
	v := EstimateView{Revenue: est.Revenue, Cost: est.Cost}
	for _, w := range est.Warnings {
		v.Warnings = append(v.Warnings, messageOf(w))
	}
	return v
}

// ChangeStatusCommand reports a job status transition
type ChangeStatusCommand struct {
	Job    recognition.JobRef
	Status recognition.JobStatus
	Reason string
}

// RecordActualCommand reports an invoiced (REVENUE) or billed (COST) amount
type RecordActualCommand struct {
	Job            recognition.JobRef
	Side           recognition.Side
	Amount         decimal.Decimal
	PostedOn       time.Time
	SourceDocument string
}

// RecordActualResult reports whether an actual entry was stored
type RecordActualResult struct {
	Entry    *recognition.ActualEntry `json:"entry"`
	Recorded bool                     `json:"recorded"`
}

// errDuplicatePosting aborts a transaction whose posting key already exists
var errDuplicatePosting = errors.New("posting idempotency key already used")
