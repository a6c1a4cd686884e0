package recognition

import (
	"fmt"
	"strings"

	"github.com/freight/recognition/internal/domain/shared"
)

// JobStatus is the lifecycle status of the job document
type JobStatus string

const (
	JobStatusOpen      JobStatus = "OPEN"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusClosed    JobStatus = "CLOSED"
	JobStatusCancelled JobStatus = "CANCELLED"
)

// IsValid checks if the status is known
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusOpen, JobStatusCompleted, JobStatusClosed, JobStatusCancelled:
		return true
	}
	return false
}

// String returns the string representation of JobStatus
func (s JobStatus) String() string {
	return string(s)
}

// IsFinished returns true when the job has ended and recognition must close
func (s JobStatus) IsFinished() bool {
	return s == JobStatusCompleted || s == JobStatusClosed || s == JobStatusCancelled
}

// IsTerminal returns true if no further status change is accepted
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusClosed || s == JobStatusCancelled
}

// JobOverrides are job-level settings that take precedence over the policy
type JobOverrides struct {
	WIPEnabled       *bool      `json:"wip_enabled,omitempty"`
	WIPDateBasis     *DateBasis `json:"wip_date_basis,omitempty"`
	AccrualEnabled   *bool      `json:"accrual_enabled,omitempty"`
	AccrualDateBasis *DateBasis `json:"accrual_date_basis,omitempty"`
}

// Validate checks override date bases
func (o JobOverrides) Validate() error {
	for _, b := range []*DateBasis{o.WIPDateBasis, o.AccrualDateBasis} {
		if b != nil && !b.IsValid() {
			return shared.NewDomainError("INVALID_DATE_BASIS", fmt.Sprintf("Date basis %q is not valid", *b))
		}
	}
	return nil
}

// Job is the engine's snapshot of a job document: the scope, dates and charge
// lines it reads, pushed by the owning module whenever the document changes.
type Job struct {
	shared.CompanyAggregateRoot
	Ref          JobRef       `json:"ref"`
	CostCenter   string       `json:"cost_center"`
	ProfitCenter string       `json:"profit_center"`
	Branch       string       `json:"branch"`
	Status       JobStatus    `json:"status"`
	Dates        JobDates     `json:"dates"`
	ChargeLines  []ChargeLine `json:"charge_lines"`
	Overrides    JobOverrides `json:"overrides"`
}

// NewJob creates a job snapshot in OPEN status
func NewJob(ref JobRef, scope Scope, dates JobDates, lines []ChargeLine, overrides JobOverrides) (*Job, error) {
	if _, err := NewJobRef(ref.Type, ref.ID); err != nil {
		return nil, err
	}
	scope = scope.Normalize()
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if err := overrides.Validate(); err != nil {
		return nil, err
	}
	j := &Job{
		CompanyAggregateRoot: shared.NewCompanyAggregateRoot(scope.Company),
		Ref:                  ref,
		Status:               JobStatusOpen,
	}
	if dates.CreatedAt.IsZero() {
		dates.CreatedAt = j.CreatedAt
	}
	j.assign(scope, dates, lines, overrides)
	return j, nil
}

// Refresh replaces the snapshot content. A job cannot move to another company.
func (j *Job) Refresh(scope Scope, dates JobDates, lines []ChargeLine, overrides JobOverrides) error {
	scope = scope.Normalize()
	if scope.Company != j.Company {
		return shared.NewDomainError("INVALID_COMPANY", "Job company cannot be changed")
	}
	if err := overrides.Validate(); err != nil {
		return err
	}
	if dates.CreatedAt.IsZero() {
		dates.CreatedAt = j.Dates.CreatedAt
	}
	j.assign(scope, dates, lines, overrides)
	j.Touch()
	j.IncrementVersion()
	return nil
}

func (j *Job) assign(scope Scope, dates JobDates, lines []ChargeLine, overrides JobOverrides) {
	j.CostCenter = scope.CostCenter
	j.ProfitCenter = scope.ProfitCenter
	j.Branch = scope.Branch
	j.Dates = dates
	j.ChargeLines = lines
	j.Overrides = overrides
}

// ChangeStatus moves the job to a new status and raises JobStatusChanged.
// Setting the current status again is a no-op.
func (j *Job) ChangeStatus(status JobStatus, reason string) error {
	if !status.IsValid() {
		return shared.NewDomainError("INVALID_JOB_STATUS", fmt.Sprintf("Job status %q is not valid", status))
	}
	if status == j.Status {
		return nil
	}
	if j.Status.IsTerminal() {
		return shared.ErrInvalidState.WithMessage(
			fmt.Sprintf("Cannot change status of job %s from %s", j.Ref, j.Status))
	}
	if j.Status.IsFinished() && status == JobStatusOpen {
		return shared.ErrInvalidState.WithMessage(
			fmt.Sprintf("Cannot reopen job %s from %s", j.Ref, j.Status))
	}
	previous := j.Status
	j.Status = status
	j.Touch()
	j.IncrementVersion()
	j.AddDomainEvent(NewJobStatusChangedEvent(j, previous, reason))
	return nil
}

// Scope returns the organisational scope of the job
func (j *Job) Scope() Scope {
	return Scope{
		Company:      j.Company,
		CostCenter:   j.CostCenter,
		ProfitCenter: j.ProfitCenter,
		Branch:       j.Branch,
	}
}

// SideEnabled applies the job override on top of the policy flag
func (j *Job) SideEnabled(side Side, policy *Policy) bool {
	override := j.Overrides.WIPEnabled
	if side == SideAccrual {
		override = j.Overrides.AccrualEnabled
	}
	if override != nil {
		return *override
	}
	return policy != nil && policy.Settings(side).Enabled
}

// CheckSideConfigured reports a side the job enables on a policy that leaves
// it without accounts or a date basis. A job override can switch on a side
// the policy has disabled, and a disabled side needs no configuration.
func (j *Job) CheckSideConfigured(side Side, policy *Policy) error {
	settings := policy.Settings(side)
	var missing []string
	if strings.TrimSpace(settings.DebitAccount) == "" {
		missing = append(missing, "debit account")
	}
	if strings.TrimSpace(settings.CreditAccount) == "" {
		missing = append(missing, "credit account")
	}
	if !j.DateBasis(side, policy).IsValid() {
		missing = append(missing, "date basis")
	}
	if len(missing) == 0 {
		return nil
	}
	return ErrSideNotConfigured.WithMessage(fmt.Sprintf(
		"%s is enabled for job %s but policy %q has no %s", side, j.Ref, policy.Name, strings.Join(missing, ", ")))
}

// DateBasis applies the job override on top of the policy basis
func (j *Job) DateBasis(side Side, policy *Policy) DateBasis {
	override := j.Overrides.WIPDateBasis
	if side == SideAccrual {
		override = j.Overrides.AccrualDateBasis
	}
	if override != nil {
		return *override
	}
	if policy == nil {
		return ""
	}
	return policy.Settings(side).DateBasis
}

// RecognitionDate resolves the posting date of a side's initial recognition
func (j *Job) RecognitionDate(side Side, policy *Policy) (DateResult, error) {
	basis := j.DateBasis(side, policy)
	date, err := ResolveDate(basis, j.Dates)
	if err != nil {
		return DateResult{Basis: basis}, err
	}
	return DateResult{Basis: basis, Date: date}, nil
}
