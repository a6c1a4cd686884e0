package recognition

import (
	"strings"
	"time"

	"github.com/freight/recognition/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ActualEntry is an invoiced revenue or billed cost amount reported against a
// job by the invoicing module. Side WIP means revenue, ACCRUAL means cost.
type ActualEntry struct {
	ID             uuid.UUID       `json:"id"`
	Company        string          `json:"company"`
	Job            JobRef          `json:"job"`
	Side           Side            `json:"side"`
	Amount         decimal.Decimal `json:"amount"`
	PostedOn       time.Time       `json:"posted_on"`
	SourceDocument string          `json:"source_document"`
	CreatedAt      time.Time       `json:"created_at"`
}

// NewActualEntry validates and builds an actual entry. Negative amounts are
// credit notes and are accepted; zero is rejected.
func NewActualEntry(company string, job JobRef, side Side, amount decimal.Decimal, postedOn time.Time, sourceDocument string) (*ActualEntry, error) {
	if err := (Scope{Company: company}).Validate(); err != nil {
		return nil, err
	}
	if !side.IsValid() {
		return nil, shared.NewDomainError("INVALID_SIDE", "Side must be WIP or ACCRUAL")
	}
	if amount.IsZero() {
		return nil, ErrInvalidAmount.WithMessage("Actual amount cannot be zero")
	}
	if postedOn.IsZero() {
		return nil, shared.NewDomainError("INVALID_POSTED_ON", "Posted-on date is required")
	}
	sourceDocument = strings.TrimSpace(sourceDocument)
	if sourceDocument == "" {
		return nil, shared.NewDomainError("INVALID_SOURCE_DOCUMENT", "Source document is required")
	}
	return &ActualEntry{
		ID:             uuid.New(),
		Company:        company,
		Job:            job,
		Side:           side,
		Amount:         amount,
		PostedOn:       DateOnly(postedOn),
		SourceDocument: sourceDocument,
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// Actuals are cumulative invoiced revenue and billed cost as of a date
type Actuals struct {
	Revenue decimal.Decimal `json:"revenue"`
	Cost    decimal.Decimal `json:"cost"`
}

// For returns the actual amount for one side
func (a Actuals) For(side Side) decimal.Decimal {
	if side == SideAccrual {
		return a.Cost
	}
	return a.Revenue
}
