package recognition

import (
	"fmt"
	"strings"

	"github.com/freight/recognition/internal/domain/shared"
)

// JobType identifies the kind of business document a job comes from
type JobType string

const (
	JobTypeTransportJob       JobType = "TRANSPORT_JOB"
	JobTypeAirShipment        JobType = "AIR_SHIPMENT"
	JobTypeSeaShipment        JobType = "SEA_SHIPMENT"
	JobTypeWarehouseJob       JobType = "WAREHOUSE_JOB"
	JobTypeCustomsDeclaration JobType = "CUSTOMS_DECLARATION"
)

// IsValid checks if the job type is known
func (t JobType) IsValid() bool {
	switch t {
	case JobTypeTransportJob, JobTypeAirShipment, JobTypeSeaShipment,
		JobTypeWarehouseJob, JobTypeCustomsDeclaration:
		return true
	}
	return false
}

// String returns the string representation of JobType
func (t JobType) String() string {
	return string(t)
}

// ParseJobType parses a job type case-insensitively, accepting kebab case
// as used in URLs (e.g. "air-shipment").
func ParseJobType(s string) (JobType, error) {
	t := JobType(strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_")))
	if !t.IsValid() {
		return "", shared.NewDomainError("INVALID_JOB_TYPE", fmt.Sprintf("Unknown job type %q", s))
	}
	return t, nil
}

// JobRef identifies a job across the surrounding system
type JobRef struct {
	Type JobType `json:"job_type"`
	ID   string  `json:"job_id"`
}

// NewJobRef validates and builds a job reference
func NewJobRef(jobType JobType, id string) (JobRef, error) {
	if !jobType.IsValid() {
		return JobRef{}, shared.NewDomainError("INVALID_JOB_TYPE", fmt.Sprintf("Unknown job type %q", jobType))
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return JobRef{}, shared.NewDomainError("INVALID_JOB_ID", "Job ID cannot be empty")
	}
	if len(id) > 100 {
		return JobRef{}, shared.NewDomainError("INVALID_JOB_ID", "Job ID cannot exceed 100 characters")
	}
	return JobRef{Type: jobType, ID: id}, nil
}

// String returns TYPE/ID
func (r JobRef) String() string {
	return string(r.Type) + "/" + r.ID
}

// IsZero reports whether the reference is unset
func (r JobRef) IsZero() bool {
	return r.Type == "" && r.ID == ""
}

// Scope is the organisational placement of a job or the applicability of a policy.
// On a policy an empty CostCenter, ProfitCenter or Branch is a wildcard.
type Scope struct {
	Company      string `json:"company"`
	CostCenter   string `json:"cost_center,omitempty"`
	ProfitCenter string `json:"profit_center,omitempty"`
	Branch       string `json:"branch,omitempty"`
}

// Normalize trims whitespace from every field
func (s Scope) Normalize() Scope {
	return Scope{
		Company:      strings.TrimSpace(s.Company),
		CostCenter:   strings.TrimSpace(s.CostCenter),
		ProfitCenter: strings.TrimSpace(s.ProfitCenter),
		Branch:       strings.TrimSpace(s.Branch),
	}
}

// Validate checks that the company is present
func (s Scope) Validate() error {
	if strings.TrimSpace(s.Company) == "" {
		return shared.NewDomainError("INVALID_COMPANY", "Company cannot be empty")
	}
	return nil
}

// SameAs reports whether two scopes are identical on all four fields
func (s Scope) SameAs(other Scope) bool {
	return s.Normalize() == other.Normalize()
}
