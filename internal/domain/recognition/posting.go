package recognition

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Side is one half of a job's recognition: revenue (WIP) or cost (accrual)
type Side string

const (
	SideWIP     Side = "WIP"
	SideAccrual Side = "ACCRUAL"
)

// IsValid checks if the side is known
func (s Side) IsValid() bool {
	return s == SideWIP || s == SideAccrual
}

// String returns the string representation of Side
func (s Side) String() string {
	return string(s)
}

// Sides lists both sides in processing order
var Sides = []Side{SideWIP, SideAccrual}

// PostingKind is the economic meaning of a posting
type PostingKind string

const (
	PostingKindInitialWIP        PostingKind = "INITIAL_WIP"
	PostingKindWIPAdjustment     PostingKind = "WIP_ADJUSTMENT"
	PostingKindWIPClosure        PostingKind = "WIP_CLOSURE"
	PostingKindInitialAccrual    PostingKind = "INITIAL_ACCRUAL"
	PostingKindAccrualAdjustment PostingKind = "ACCRUAL_ADJUSTMENT"
	PostingKindAccrualClosure    PostingKind = "ACCRUAL_CLOSURE"
)

// IsValid checks if the kind is known
func (k PostingKind) IsValid() bool {
	_, ok := postingRules[k]
	return ok
}

// String returns the string representation of PostingKind
func (k PostingKind) String() string {
	return string(k)
}

// Side returns the recognition side the kind belongs to
func (k PostingKind) Side() Side {
	return postingRules[k].side
}

// postingStep is the transition that produced a posting
type postingStep int

const (
	stepInitial postingStep = iota
	stepAdjustment
	stepClosure
)

// postingRule fixes the side and direction of a posting kind. Reversing
// kinds swap the side's debit and credit accounts.
type postingRule struct {
	side    Side
	reverse bool
	memo    string
}

var postingRules = map[PostingKind]postingRule{
	PostingKindInitialWIP:        {side: SideWIP, memo: "Initial WIP recognition"},
	PostingKindWIPAdjustment:     {side: SideWIP, reverse: true, memo: "WIP adjustment"},
	PostingKindWIPClosure:        {side: SideWIP, reverse: true, memo: "WIP closure"},
	PostingKindInitialAccrual:    {side: SideAccrual, memo: "Initial cost accrual"},
	PostingKindAccrualAdjustment: {side: SideAccrual, reverse: true, memo: "Accrual adjustment"},
	PostingKindAccrualClosure:    {side: SideAccrual, reverse: true, memo: "Accrual closure"},
}

// sideKinds indexes posting kinds by side and step
var sideKinds = map[Side][3]PostingKind{
	SideWIP:     {PostingKindInitialWIP, PostingKindWIPAdjustment, PostingKindWIPClosure},
	SideAccrual: {PostingKindInitialAccrual, PostingKindAccrualAdjustment, PostingKindAccrualClosure},
}

func kindFor(side Side, step postingStep) PostingKind {
	return sideKinds[side][step]
}

// InitialKind returns the kind of a side's initial recognition posting
func InitialKind(side Side) PostingKind { return kindFor(side, stepInitial) }

// AdjustmentKind returns the kind of a side's adjustment postings
func AdjustmentKind(side Side) PostingKind { return kindFor(side, stepAdjustment) }

// ClosureKind returns the kind of a side's closing posting
func ClosureKind(side Side) PostingKind { return kindFor(side, stepClosure) }

// AccountPair is a side's account configuration at the time it was opened
type AccountPair struct {
	Debit  string `json:"debit"`
	Credit string `json:"credit"`
}

// Posting is an immutable, balanced ledger entry. Corrections are made by new
// postings; existing ones are never changed.
type Posting struct {
	ID             uuid.UUID       `json:"id"`
	Company        string          `json:"company"`
	RecognitionID  uuid.UUID       `json:"recognition_id"`
	Job            JobRef          `json:"job"`
	Kind           PostingKind     `json:"kind"`
	Date           time.Time       `json:"date"`
	DebitAccount   string          `json:"debit_account"`
	CreditAccount  string          `json:"credit_account"`
	Amount         decimal.Decimal `json:"amount"`
	Memo           string          `json:"memo"`
	TriggerID      string          `json:"trigger_id"`
	IdempotencyKey string          `json:"idempotency_key"`
	CreatedAt      time.Time       `json:"created_at"`
}

// PostingKey builds the natural idempotency key of a posting
func PostingKey(job JobRef, kind PostingKind, triggerID string) string {
	return strings.Join([]string{job.String(), string(kind), triggerID}, "|")
}

// newPosting applies the posting table for kind to the side's accounts
func newPosting(rec *JobRecognition, kind PostingKind, accounts AccountPair, amount decimal.Decimal, date time.Time, triggerID string) (*Posting, error) {
	rule, ok := postingRules[kind]
	if !ok {
		return nil, ErrInvalidPosting.WithMessage(fmt.Sprintf("Unknown posting kind %q", kind))
	}
	if !amount.IsPositive() {
		return nil, ErrInvalidPosting.WithMessage("Posting amount must be positive")
	}
	if accounts.Debit == "" || accounts.Credit == "" || accounts.Debit == accounts.Credit {
		return nil, ErrInvalidPosting.WithMessage("Posting requires two distinct accounts")
	}
	if date.IsZero() {
		return nil, ErrInvalidPosting.WithMessage("Posting date is required")
	}
	if triggerID == "" {
		triggerID = uuid.NewString()
	}
	debit, credit := accounts.Debit, accounts.Credit
	if rule.reverse {
		debit, credit = credit, debit
	}
	return &Posting{
		ID:             uuid.New(),
		Company:        rec.Company,
		RecognitionID:  rec.ID,
		Job:            rec.Job,
		Kind:           kind,
		Date:           DateOnly(date),
		DebitAccount:   debit,
		CreditAccount:  credit,
		Amount:         amount,
		Memo:           fmt.Sprintf("%s for %s", rule.memo, rec.Job),
		TriggerID:      triggerID,
		IdempotencyKey: PostingKey(rec.Job, kind, triggerID),
		CreatedAt:      time.Now().UTC(),
	}, nil
}
