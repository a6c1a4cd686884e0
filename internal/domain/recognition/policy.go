package recognition

import (
	"fmt"
	"strings"
	"time"

	"github.com/freight/recognition/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// SideSettings holds one side's configuration on a policy.
// For WIP the debit account is the WIP asset and the credit account the
// deferred revenue liability; for accruals the debit account is the cost
// accrual expense and the credit account the accrued cost liability.
type SideSettings struct {
	Enabled       bool            `json:"enabled"`
	DateBasis     DateBasis       `json:"date_basis"`
	DebitAccount  string          `json:"debit_account"`
	CreditAccount string          `json:"credit_account"`
	MinimumAmount decimal.Decimal `json:"minimum_amount"`
}

// Validate checks the settings of an enabled side
func (s SideSettings) Validate(side Side) error {
	if s.MinimumAmount.IsNegative() {
		return shared.NewDomainError("INVALID_MINIMUM_AMOUNT",
			fmt.Sprintf("%s minimum amount cannot be negative", side))
	}
	if !s.Enabled {
		return nil
	}
	if !s.DateBasis.IsValid() {
		return shared.NewDomainError("INVALID_DATE_BASIS",
			fmt.Sprintf("%s date basis %q is not valid", side, s.DateBasis))
	}
	if strings.TrimSpace(s.DebitAccount) == "" || strings.TrimSpace(s.CreditAccount) == "" {
		return shared.NewDomainError("INVALID_ACCOUNT",
			fmt.Sprintf("%s recognition requires both a debit and a credit account", side))
	}
	if s.DebitAccount == s.CreditAccount {
		return shared.NewDomainError("INVALID_ACCOUNT",
			fmt.Sprintf("%s debit and credit accounts must differ", side))
	}
	return nil
}

// Accounts returns the posting account pair of the side
func (s SideSettings) Accounts() AccountPair {
	return AccountPair{Debit: s.DebitAccount, Credit: s.CreditAccount}
}

// Policy is a recognition policy aggregate root. It is maintained by
// administrators and is read-only to the recognition engine.
type Policy struct {
	shared.CompanyAggregateRoot
	Name         string       `json:"name"`
	CostCenter   string       `json:"cost_center"`
	ProfitCenter string       `json:"profit_center"`
	Branch       string       `json:"branch"`
	Enabled      bool         `json:"enabled"`
	Priority     int          `json:"priority"`
	WIP          SideSettings `json:"wip"`
	Accrual      SideSettings `json:"accrual"`
	DeletedAt    *time.Time   `json:"deleted_at,omitempty"`
}

// NewPolicy creates an enabled policy
func NewPolicy(name string, scope Scope, priority int, wip, accrual SideSettings) (*Policy, error) {
	scope = scope.Normalize()
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	p := &Policy{
		CompanyAggregateRoot: shared.NewCompanyAggregateRoot(scope.Company),
		Enabled:              true,
	}
	if err := p.apply(name, scope, priority, wip, accrual); err != nil {
		return nil, err
	}
	p.AddDomainEvent(NewPolicyChangedEvent(p, PolicyActionCreated))
	return p, nil
}

// Update replaces the editable fields of the policy. The company cannot change.
func (p *Policy) Update(name string, scope Scope, priority int, wip, accrual SideSettings) error {
	if p.IsDeleted() {
		return shared.ErrInvalidState.WithMessage("Cannot update a deleted policy")
	}
	scope = scope.Normalize()
	if scope.Company != p.Company {
		return shared.NewDomainError("INVALID_COMPANY", "Policy company cannot be changed")
	}
	if err := p.apply(name, scope, priority, wip, accrual); err != nil {
		return err
	}
	p.Touch()
	p.IncrementVersion()
	p.AddDomainEvent(NewPolicyChangedEvent(p, PolicyActionUpdated))
	return nil
}

func (p *Policy) apply(name string, scope Scope, priority int, wip, accrual SideSettings) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return shared.NewDomainError("INVALID_POLICY_NAME", "Policy name cannot be empty")
	}
	if len(name) > 200 {
		return shared.NewDomainError("INVALID_POLICY_NAME", "Policy name cannot exceed 200 characters")
	}
	if err := wip.Validate(SideWIP); err != nil {
		return err
	}
	if err := accrual.Validate(SideAccrual); err != nil {
		return err
	}
	p.Name = name
	p.CostCenter = scope.CostCenter
	p.ProfitCenter = scope.ProfitCenter
	p.Branch = scope.Branch
	p.Priority = priority
	p.WIP = wip
	p.Accrual = accrual
	return nil
}

// Enable makes the policy eligible for resolution
func (p *Policy) Enable() error {
	if p.IsDeleted() {
		return shared.ErrInvalidState.WithMessage("Cannot enable a deleted policy")
	}
	if p.Enabled {
		return nil
	}
	p.Enabled = true
	p.Touch()
	p.IncrementVersion()
	p.AddDomainEvent(NewPolicyChangedEvent(p, PolicyActionEnabled))
	return nil
}

// Disable removes the policy from resolution without deleting it
func (p *Policy) Disable() {
	if !p.Enabled {
		return
	}
	p.Enabled = false
	p.Touch()
	p.IncrementVersion()
	p.AddDomainEvent(NewPolicyChangedEvent(p, PolicyActionDisabled))
}

// Delete soft-deletes the policy
func (p *Policy) Delete() {
	if p.IsDeleted() {
		return
	}
	now := time.Now().UTC()
	p.DeletedAt = &now
	p.Enabled = false
	p.Touch()
	p.IncrementVersion()
	p.AddDomainEvent(NewPolicyChangedEvent(p, PolicyActionDeleted))
}

// IsDeleted reports whether the policy was soft-deleted
func (p *Policy) IsDeleted() bool {
	return p.DeletedAt != nil
}

// IsActive reports whether the policy takes part in resolution
func (p *Policy) IsActive() bool {
	return p.Enabled && !p.IsDeleted()
}

// Scope returns the policy scope; empty fields are wildcards
func (p *Policy) Scope() Scope {
	return Scope{
		Company:      p.Company,
		CostCenter:   p.CostCenter,
		ProfitCenter: p.ProfitCenter,
		Branch:       p.Branch,
	}
}

// Settings returns the settings of one side
func (p *Policy) Settings(side Side) SideSettings {
	if side == SideAccrual {
		return p.Accrual
	}
	return p.WIP
}
