package recognition

import (
	"fmt"
	"strings"

	"github.com/freight/recognition/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// Informational outcomes. They are reported in a PostingResult notice and are
// not returned as errors from single-job operations.
var (
	ErrPolicyNotFound        = shared.NewDomainError("POLICY_NOT_FOUND", "No applicable recognition policy for this job scope")
	ErrBelowMinimumThreshold = shared.NewDomainError("BELOW_MINIMUM_THRESHOLD", "Estimated amount is below the policy minimum")
	ErrRecognitionDisabled   = shared.NewDomainError("RECOGNITION_DISABLED", "Recognition is disabled for this side")
)

// Failures surfaced to the caller.
var (
	ErrDateResolution      = shared.NewDomainError("DATE_RESOLUTION_FAILED", "Recognition date cannot be resolved")
	ErrRecognitionClosed   = shared.NewDomainError("RECOGNITION_CLOSED", "Recognition is closed for this side")
	ErrRecognitionNotOpen  = shared.NewDomainError("RECOGNITION_NOT_OPEN", "Recognition has not been started for this side")
	ErrOverAdjustment      = shared.NewDomainError("OVER_ADJUSTMENT", "Adjustment exceeds the remaining balance")
	ErrInvalidAmount       = shared.NewDomainError("INVALID_AMOUNT", "Amount is not a valid positive number")
	ErrPolicyScopeConflict = shared.NewDomainError("POLICY_SCOPE_CONFLICT", "An enabled policy with the same scope already exists")
	ErrInvalidPosting      = shared.NewDomainError("INVALID_POSTING", "Posting is not valid")
	ErrSideNotConfigured   = shared.NewDomainError("SIDE_NOT_CONFIGURED", "Recognition side is enabled but has no accounts or date basis")
)

// DateResolutionError reports that no source field for a date basis is populated
type DateResolutionError struct {
	Basis   DateBasis
	Sources []string
}

func (e *DateResolutionError) Error() string {
	if len(e.Sources) == 0 {
		return fmt.Sprintf("recognition date basis %q is not configured", e.Basis)
	}
	if e.Basis == DateBasisUserSpecified {
		return "recognition date basis USER_SPECIFIED requires a recognition date on the job"
	}
	return fmt.Sprintf("recognition date basis %s cannot be resolved: none of [%s] is set",
		e.Basis, strings.Join(e.Sources, ", "))
}

func (e *DateResolutionError) Unwrap() error {
	return ErrDateResolution
}

// RecognitionClosedError reports an attempt to post against a closed side
type RecognitionClosedError struct {
	Job  JobRef
	Side Side
}

func (e *RecognitionClosedError) Error() string {
	return fmt.Sprintf("%s recognition for job %s is closed", e.Side, e.Job)
}

func (e *RecognitionClosedError) Unwrap() error {
	return ErrRecognitionClosed
}

// InvalidAmountError reports a malformed numeric value on a charge line.
// The calculator degrades the value to zero and carries on.
type InvalidAmountError struct {
	LineNo int
	Field  string
	Value  string
}

func (e *InvalidAmountError) Error() string {
	return fmt.Sprintf("charge line %d: field %s has malformed amount %q, treated as 0", e.LineNo, e.Field, e.Value)
}

func (e *InvalidAmountError) Unwrap() error {
	return ErrInvalidAmount
}

// OverAdjustmentWarning reports an adjustment that exceeded the remaining
// balance. Applied is what was posted; Excess is left for manual review.
type OverAdjustmentWarning struct {
	Side      Side
	Requested decimal.Decimal
	Applied   decimal.Decimal
	Excess    decimal.Decimal
}

func (e *OverAdjustmentWarning) Error() string {
	return fmt.Sprintf("%s adjustment of %s exceeds remaining balance: posted %s, excess %s flagged for review",
		e.Side, e.Requested.StringFixed(2), e.Applied.StringFixed(2), e.Excess.StringFixed(2))
}

func (e *OverAdjustmentWarning) Unwrap() error {
	return ErrOverAdjustment
}
