package models

import (
	"time"

	"github.com/freight/recognition/internal/domain/recognition"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SideSettingsModel is the column group of one policy side
type SideSettingsModel struct {
	Enabled       bool                  `gorm:"not null;default:false"`
	DateBasis     recognition.DateBasis `gorm:"type:varchar(30)"`
	DebitAccount  string                `gorm:"type:varchar(50)"`
	CreditAccount string                `gorm:"type:varchar(50)"`
	MinimumAmount decimal.Decimal       `gorm:"type:decimal(18,4);not null;default:0"`
}

func sideSettingsModel(s recognition.SideSettings) SideSettingsModel {
	return SideSettingsModel{
		Enabled:       s.Enabled,
		DateBasis:     s.DateBasis,
		DebitAccount:  s.DebitAccount,
		CreditAccount: s.CreditAccount,
		MinimumAmount: s.MinimumAmount,
	}
}

func (m SideSettingsModel) toDomain() recognition.SideSettings {
	return recognition.SideSettings{
		Enabled:       m.Enabled,
		DateBasis:     m.DateBasis,
		DebitAccount:  m.DebitAccount,
		CreditAccount: m.CreditAccount,
		MinimumAmount: m.MinimumAmount,
	}
}

// PolicyModel is the persistence model for the Policy aggregate root.
// Empty scope columns are wildcards.
type PolicyModel struct {
	CompanyAggregateModel
	Name         string            `gorm:"type:varchar(200);not null"`
	CostCenter   string            `gorm:"type:varchar(50);not null;default:''"`
	ProfitCenter string            `gorm:"type:varchar(50);not null;default:''"`
	Branch       string            `gorm:"type:varchar(50);not null;default:''"`
	Enabled      bool              `gorm:"not null;index"`
	Priority     int               `gorm:"not null;default:0"`
	WIP          SideSettingsModel `gorm:"embedded;embeddedPrefix:wip_"`
	Accrual      SideSettingsModel `gorm:"embedded;embeddedPrefix:accrual_"`
	DeletedAt    *time.Time        `gorm:"index"`
}

// TableName returns the table name for GORM
func (PolicyModel) TableName() string {
	return "recognition_policies"
}

// ToDomain converts the persistence model to a domain Policy
func (m *PolicyModel) ToDomain() *recognition.Policy {
	return &recognition.Policy{
		CompanyAggregateRoot: m.ToDomainCompanyAggregateRoot(),
		Name:                 m.Name,
		CostCenter:           m.CostCenter,
		ProfitCenter:         m.ProfitCenter,
		Branch:               m.Branch,
		Enabled:              m.Enabled,
		Priority:             m.Priority,
		WIP:                  m.WIP.toDomain(),
		Accrual:              m.Accrual.toDomain(),
		DeletedAt:            m.DeletedAt,
	}
}

// PolicyModelFromDomain creates a persistence model from a domain Policy
func PolicyModelFromDomain(p *recognition.Policy) *PolicyModel {
	m := &PolicyModel{
		Name:         p.Name,
		CostCenter:   p.CostCenter,
		ProfitCenter: p.ProfitCenter,
		Branch:       p.Branch,
		Enabled:      p.Enabled,
		Priority:     p.Priority,
		WIP:          sideSettingsModel(p.WIP),
		Accrual:      sideSettingsModel(p.Accrual),
		DeletedAt:    p.DeletedAt,
	}
	m.FromDomainCompanyAggregateRoot(p.CompanyAggregateRoot)
	return m
}

// JobModel is the persistence model for job snapshots
type JobModel struct {
	CompanyAggregateModel
	JobType          recognition.JobType      `gorm:"type:varchar(30);not null;uniqueIndex:idx_recognition_jobs_ref,priority:1"`
	JobID            string                   `gorm:"type:varchar(100);not null;uniqueIndex:idx_recognition_jobs_ref,priority:2"`
	CostCenter       string                   `gorm:"type:varchar(50);not null;default:''"`
	ProfitCenter     string                   `gorm:"type:varchar(50);not null;default:''"`
	Branch           string                   `gorm:"type:varchar(50);not null;default:''"`
	Status           recognition.JobStatus    `gorm:"type:varchar(20);not null;default:'OPEN';index"`
	ActualArrival    *time.Time               `gorm:"type:date"`
	Arrival          *time.Time               `gorm:"type:date"`
	ActualDeparture  *time.Time               `gorm:"type:date"`
	Departure        *time.Time               `gorm:"type:date"`
	BookingDate      *time.Time               `gorm:"type:date"`
	JobOpenDate      *time.Time               `gorm:"type:date"`
	JobCreatedAt     time.Time                `gorm:"not null"`
	UserSpecified    *time.Time               `gorm:"type:date"`
	ChargeLines      []recognition.ChargeLine `gorm:"type:jsonb;serializer:json;not null"`
	WIPEnabled       *bool
	WIPDateBasis     *recognition.DateBasis `gorm:"type:varchar(30)"`
	AccrualEnabled   *bool
	AccrualDateBasis *recognition.DateBasis `gorm:"type:varchar(30)"`
}

// TableName returns the table name for GORM
func (JobModel) TableName() string {
	return "recognition_jobs"
}

// ToDomain converts the persistence model to a domain Job
func (m *JobModel) ToDomain() *recognition.Job {
	lines := m.ChargeLines
	if lines == nil {
		lines = []recognition.ChargeLine{}
	}
	return &recognition.Job{
		CompanyAggregateRoot: m.ToDomainCompanyAggregateRoot(),
		Ref:                  recognition.JobRef{Type: m.JobType, ID: m.JobID},
		CostCenter:           m.CostCenter,
		ProfitCenter:         m.ProfitCenter,
		Branch:               m.Branch,
		Status:               m.Status,
		Dates: recognition.JobDates{
			ActualArrival:   utcPtr(m.ActualArrival),
			Arrival:         utcPtr(m.Arrival),
			ActualDeparture: utcPtr(m.ActualDeparture),
			Departure:       utcPtr(m.Departure),
			BookingDate:     utcPtr(m.BookingDate),
			JobOpenDate:     utcPtr(m.JobOpenDate),
			CreatedAt:       m.JobCreatedAt.UTC(),
			UserSpecified:   utcPtr(m.UserSpecified),
		},
		ChargeLines: lines,
		Overrides: recognition.JobOverrides{
			WIPEnabled:       m.WIPEnabled,
			WIPDateBasis:     m.WIPDateBasis,
			AccrualEnabled:   m.AccrualEnabled,
			AccrualDateBasis: m.AccrualDateBasis,
		},
	}
}

// JobModelFromDomain creates a persistence model from a domain Job
func JobModelFromDomain(j *recognition.Job) *JobModel {
	lines := j.ChargeLines
	if lines == nil {
		lines = []recognition.ChargeLine{}
	}
	m := &JobModel{
		JobType:          j.Ref.Type,
		JobID:            j.Ref.ID,
		CostCenter:       j.CostCenter,
		ProfitCenter:     j.ProfitCenter,
		Branch:           j.Branch,
		Status:           j.Status,
		ActualArrival:    j.Dates.ActualArrival,
		Arrival:          j.Dates.Arrival,
		ActualDeparture:  j.Dates.ActualDeparture,
		Departure:        j.Dates.Departure,
		BookingDate:      j.Dates.BookingDate,
		JobOpenDate:      j.Dates.JobOpenDate,
		JobCreatedAt:     j.Dates.CreatedAt,
		UserSpecified:    j.Dates.UserSpecified,
		ChargeLines:      lines,
		WIPEnabled:       j.Overrides.WIPEnabled,
		WIPDateBasis:     j.Overrides.WIPDateBasis,
		AccrualEnabled:   j.Overrides.AccrualEnabled,
		AccrualDateBasis: j.Overrides.AccrualDateBasis,
	}
	m.FromDomainCompanyAggregateRoot(j.CompanyAggregateRoot)
	return m
}

// SideStateModel is the column group of one ledger side
type SideStateModel struct {
	Status               recognition.SideStatus `gorm:"type:varchar(20);not null;default:'NOT_STARTED'"`
	Amount               decimal.Decimal        `gorm:"type:decimal(18,4);not null;default:0"`
	Balance              decimal.Decimal        `gorm:"type:decimal(18,4);not null;default:0"`
	RecognizedToDate     decimal.Decimal        `gorm:"type:decimal(18,4);not null;default:0"`
	Overage              decimal.Decimal        `gorm:"type:decimal(18,4);not null;default:0"`
	DebitAccount         string                 `gorm:"type:varchar(50)"`
	CreditAccount        string                 `gorm:"type:varchar(50)"`
	RecognitionDate      *time.Time             `gorm:"type:date"`
	InitialPostingID     *uuid.UUID             `gorm:"type:uuid"`
	AdjustmentPostingIDs []uuid.UUID            `gorm:"type:jsonb;serializer:json;not null"`
	ClosingPostingID     *uuid.UUID             `gorm:"type:uuid"`
	ClosedAt             *time.Time
	FlaggedTriggers      []string `gorm:"type:jsonb;serializer:json;not null"`
}

func sideStateModel(s recognition.SideState) SideStateModel {
	ids := s.AdjustmentPostingIDs
	if ids == nil {
		ids = []uuid.UUID{}
	}
	flagged := s.FlaggedTriggers
	if flagged == nil {
		flagged = []string{}
	}
	return SideStateModel{
		Status:               s.Status,
		Amount:               s.Amount,
		Balance:              s.Balance,
		RecognizedToDate:     s.RecognizedToDate,
		Overage:              s.Overage,
		DebitAccount:         s.Accounts.Debit,
		CreditAccount:        s.Accounts.Credit,
		RecognitionDate:      s.RecognitionDate,
		InitialPostingID:     s.InitialPostingID,
		AdjustmentPostingIDs: ids,
		ClosingPostingID:     s.ClosingPostingID,
		ClosedAt:             s.ClosedAt,
		FlaggedTriggers:      flagged,
	}
}

func (m SideStateModel) toDomain() recognition.SideState {
	ids := m.AdjustmentPostingIDs
	if ids == nil {
		ids = []uuid.UUID{}
	}
	flagged := m.FlaggedTriggers
	if flagged == nil {
		flagged = []string{}
	}
	return recognition.SideState{
		Status:               m.Status,
		Amount:               m.Amount,
		Balance:              m.Balance,
		RecognizedToDate:     m.RecognizedToDate,
		Overage:              m.Overage,
		Accounts:             recognition.AccountPair{Debit: m.DebitAccount, Credit: m.CreditAccount},
		RecognitionDate:      utcPtr(m.RecognitionDate),
		InitialPostingID:     m.InitialPostingID,
		AdjustmentPostingIDs: ids,
		ClosingPostingID:     m.ClosingPostingID,
		ClosedAt:             m.ClosedAt,
		FlaggedTriggers:      flagged,
	}
}

// JobRecognitionModel is the persistence model for the JobRecognition aggregate root
type JobRecognitionModel struct {
	CompanyAggregateModel
	JobType          recognition.JobType `gorm:"type:varchar(30);not null;uniqueIndex:idx_job_recognitions_ref,priority:1"`
	JobID            string              `gorm:"type:varchar(100);not null;uniqueIndex:idx_job_recognitions_ref,priority:2"`
	CostCenter       string              `gorm:"type:varchar(50);not null;default:''"`
	ProfitCenter     string              `gorm:"type:varchar(50);not null;default:''"`
	Branch           string              `gorm:"type:varchar(50);not null;default:''"`
	PolicyID         *uuid.UUID          `gorm:"type:uuid"`
	EstimatedRevenue decimal.Decimal     `gorm:"type:decimal(18,4);not null;default:0"`
	EstimatedCost    decimal.Decimal     `gorm:"type:decimal(18,4);not null;default:0"`
	WIP              SideStateModel      `gorm:"embedded;embeddedPrefix:wip_"`
	Accrual          SideStateModel      `gorm:"embedded;embeddedPrefix:accrual_"`
}

// TableName returns the table name for GORM
func (JobRecognitionModel) TableName() string {
	return "job_recognitions"
}

// ToDomain converts the persistence model to a domain JobRecognition
func (m *JobRecognitionModel) ToDomain() *recognition.JobRecognition {
	return &recognition.JobRecognition{
		CompanyAggregateRoot: m.ToDomainCompanyAggregateRoot(),
		Job:                  recognition.JobRef{Type: m.JobType, ID: m.JobID},
		CostCenter:           m.CostCenter,
		ProfitCenter:         m.ProfitCenter,
		Branch:               m.Branch,
		PolicyID:             m.PolicyID,
		EstimatedRevenue:     m.EstimatedRevenue,
		EstimatedCost:        m.EstimatedCost,
		WIP:                  m.WIP.toDomain(),
		Accrual:              m.Accrual.toDomain(),
	}
}

// JobRecognitionModelFromDomain creates a persistence model from a domain JobRecognition
func JobRecognitionModelFromDomain(r *recognition.JobRecognition) *JobRecognitionModel {
	m := &JobRecognitionModel{
		JobType:          r.Job.Type,
		JobID:            r.Job.ID,
		CostCenter:       r.CostCenter,
		ProfitCenter:     r.ProfitCenter,
		Branch:           r.Branch,
		PolicyID:         r.PolicyID,
		EstimatedRevenue: r.EstimatedRevenue,
		EstimatedCost:    r.EstimatedCost,
		WIP:              sideStateModel(r.WIP),
		Accrual:          sideStateModel(r.Accrual),
	}
	m.FromDomainCompanyAggregateRoot(r.CompanyAggregateRoot)
	return m
}

// PostingModel is the persistence model for journal postings. Rows are never updated.
type PostingModel struct {
	ID             uuid.UUID               `gorm:"type:uuid;primaryKey"`
	Company        string                  `gorm:"type:varchar(50);not null;index:idx_recognition_postings_company_date,priority:1"`
	RecognitionID  uuid.UUID               `gorm:"type:uuid;not null;index"`
	JobType        recognition.JobType     `gorm:"type:varchar(30);not null;index:idx_recognition_postings_job,priority:1"`
	JobID          string                  `gorm:"type:varchar(100);not null;index:idx_recognition_postings_job,priority:2"`
	Kind           recognition.PostingKind `gorm:"type:varchar(30);not null"`
	Date           time.Time               `gorm:"type:date;not null;index:idx_recognition_postings_company_date,priority:2"`
	DebitAccount   string                  `gorm:"type:varchar(50);not null"`
	CreditAccount  string                  `gorm:"type:varchar(50);not null"`
	Amount         decimal.Decimal         `gorm:"type:decimal(18,4);not null"`
	Memo           string                  `gorm:"type:varchar(500)"`
	TriggerID      string                  `gorm:"type:varchar(200);not null"`
	IdempotencyKey string                  `gorm:"type:varchar(400);not null;uniqueIndex"`
	CreatedAt      time.Time               `gorm:"not null"`
}

// TableName returns the table name for GORM
func (PostingModel) TableName() string {
	return "recognition_postings"
}

// ToDomain converts the persistence model to a domain Posting
func (m *PostingModel) ToDomain() recognition.Posting {
	return recognition.Posting{
		ID:             m.ID,
		Company:        m.Company,
		RecognitionID:  m.RecognitionID,
		Job:            recognition.JobRef{Type: m.JobType, ID: m.JobID},
		Kind:           m.Kind,
		Date:           m.Date.UTC(),
		DebitAccount:   m.DebitAccount,
		CreditAccount:  m.CreditAccount,
		Amount:         m.Amount,
		Memo:           m.Memo,
		TriggerID:      m.TriggerID,
		IdempotencyKey: m.IdempotencyKey,
		CreatedAt:      m.CreatedAt,
	}
}

// PostingModelFromDomain creates a persistence model from a domain Posting
func PostingModelFromDomain(p *recognition.Posting) *PostingModel {
	return &PostingModel{
		ID:             p.ID,
		Company:        p.Company,
		RecognitionID:  p.RecognitionID,
		JobType:        p.Job.Type,
		JobID:          p.Job.ID,
		Kind:           p.Kind,
		Date:           p.Date,
		DebitAccount:   p.DebitAccount,
		CreditAccount:  p.CreditAccount,
		Amount:         p.Amount,
		Memo:           p.Memo,
		TriggerID:      p.TriggerID,
		IdempotencyKey: p.IdempotencyKey,
		CreatedAt:      p.CreatedAt,
	}
}

// ActualEntryModel is the persistence model for actual revenue and cost entries
type ActualEntryModel struct {
	ID             uuid.UUID           `gorm:"type:uuid;primaryKey"`
	Company        string              `gorm:"type:varchar(50);not null;index"`
	JobType        recognition.JobType `gorm:"type:varchar(30);not null;uniqueIndex:idx_recognition_actuals_doc,priority:1"`
	JobID          string              `gorm:"type:varchar(100);not null;uniqueIndex:idx_recognition_actuals_doc,priority:2"`
	Side           recognition.Side    `gorm:"type:varchar(20);not null;uniqueIndex:idx_recognition_actuals_doc,priority:3"`
	SourceDocument string              `gorm:"type:varchar(100);not null;uniqueIndex:idx_recognition_actuals_doc,priority:4"`
	Amount         decimal.Decimal     `gorm:"type:decimal(18,4);not null"`
	PostedOn       time.Time           `gorm:"type:date;not null"`
	CreatedAt      time.Time           `gorm:"not null"`
}

// TableName returns the table name for GORM
func (ActualEntryModel) TableName() string {
	return "recognition_actuals"
}

// ToDomain converts the persistence model to a domain ActualEntry
func (m *ActualEntryModel) ToDomain() *recognition.ActualEntry {
	return &recognition.ActualEntry{
		ID:             m.ID,
		Company:        m.Company,
		Job:            recognition.JobRef{Type: m.JobType, ID: m.JobID},
		Side:           m.Side,
		Amount:         m.Amount,
		PostedOn:       m.PostedOn.UTC(),
		SourceDocument: m.SourceDocument,
		CreatedAt:      m.CreatedAt,
	}
}

// ActualEntryModelFromDomain creates a persistence model from a domain ActualEntry
func ActualEntryModelFromDomain(e *recognition.ActualEntry) *ActualEntryModel {
	return &ActualEntryModel{
		ID:             e.ID,
		Company:        e.Company,
		JobType:        e.Job.Type,
		JobID:          e.Job.ID,
		Side:           e.Side,
		SourceDocument: e.SourceDocument,
		Amount:         e.Amount,
		PostedOn:       e.PostedOn,
		CreatedAt:      e.CreatedAt,
	}
}

// PeriodCloseRunModel is the persistence model for period-close runs.
// Items are stored as a JSON document; runs are read whole.
type PeriodCloseRunModel struct {
	CompanyAggregateModel
	PeriodEnd      time.Time                   `gorm:"type:date;not null;index"`
	Status         recognition.PeriodRunStatus `gorm:"type:varchar(30);not null"`
	StartedAt      time.Time                   `gorm:"not null"`
	FinishedAt     *time.Time
	AdjustedCount  int                     `gorm:"not null;default:0"`
	SkippedCount   int                     `gorm:"not null;default:0"`
	FailedCount    int                     `gorm:"not null;default:0"`
	Items          []recognition.BatchItem `gorm:"type:jsonb;serializer:json;not null"`
	ReportLocation string                  `gorm:"type:varchar(500)"`
	Error          string                  `gorm:"type:text"`
}

// TableName returns the table name for GORM
func (PeriodCloseRunModel) TableName() string {
	return "period_close_runs"
}

// ToDomain converts the persistence model to a domain PeriodCloseRun
func (m *PeriodCloseRunModel) ToDomain() *recognition.PeriodCloseRun {
	items := m.Items
	if items == nil {
		items = []recognition.BatchItem{}
	}
	return &recognition.PeriodCloseRun{
		CompanyAggregateRoot: m.ToDomainCompanyAggregateRoot(),
		PeriodEnd:            m.PeriodEnd.UTC(),
		Status:               m.Status,
		StartedAt:            m.StartedAt,
		FinishedAt:           m.FinishedAt,
		AdjustedCount:        m.AdjustedCount,
		SkippedCount:         m.SkippedCount,
		FailedCount:          m.FailedCount,
		Items:                items,
		ReportLocation:       m.ReportLocation,
		Error:                m.Error,
	}
}

// PeriodCloseRunModelFromDomain creates a persistence model from a domain PeriodCloseRun
func PeriodCloseRunModelFromDomain(r *recognition.PeriodCloseRun) *PeriodCloseRunModel {
	items := r.Items
	if items == nil {
		items = []recognition.BatchItem{}
	}
	m := &PeriodCloseRunModel{
		PeriodEnd:      r.PeriodEnd,
		Status:         r.Status,
		StartedAt:      r.StartedAt,
		FinishedAt:     r.FinishedAt,
		AdjustedCount:  r.AdjustedCount,
		SkippedCount:   r.SkippedCount,
		FailedCount:    r.FailedCount,
		Items:          items,
		ReportLocation: r.ReportLocation,
		Error:          r.Error,
	}
	m.FromDomainCompanyAggregateRoot(r.CompanyAggregateRoot)
	return m
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// RecognitionModels lists the models of the recognition schema, in creation order
func RecognitionModels() []any {
	return []any{
		&PolicyModel{},
		&JobModel{},
		&JobRecognitionModel{},
		&PostingModel{},
		&ActualEntryModel{},
		&PeriodCloseRunModel{},
	}
}
