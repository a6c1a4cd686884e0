package recognition

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ChargeLine is a charge row of a job as delivered by the job document.
// Values holds raw numeric strings keyed by source field name; different job
// schemas populate different fields.
type ChargeLine struct {
	LineNo      int               `json:"line_no"`
	Description string            `json:"description,omitempty"`
	Values      map[string]string `json:"values"`
}

// AmountConcept is a quantity the calculator derives from charge lines
type AmountConcept string

const (
	ConceptRevenue AmountConcept = "REVENUE"
	ConceptCost    AmountConcept = "COST"
)

// Charge line source fields
const (
	FieldEstimatedRevenue = "estimated_revenue"
	FieldAmount           = "amount"
	FieldSellingAmount    = "selling_amount"
	FieldEstimatedCost    = "estimated_cost"
	FieldCost             = "cost"
	FieldBuyingAmount     = "buying_amount"
)

// AmountSources maps each concept to its source fields in priority order.
// Onboarding a job schema with other field names means extending this table.
var AmountSources = map[AmountConcept][]string{
	ConceptRevenue: {FieldEstimatedRevenue, FieldAmount, FieldSellingAmount},
	ConceptCost:    {FieldEstimatedCost, FieldCost, FieldBuyingAmount},
}

// Estimate is the result of running the calculator over a job's charge lines
type Estimate struct {
	Revenue  decimal.Decimal       `json:"estimated_revenue"`
	Cost     decimal.Decimal       `json:"estimated_cost"`
	Warnings []*InvalidAmountError `json:"-"`
}

// For returns the estimated amount of one recognition side
func (e Estimate) For(side Side) decimal.Decimal {
	if side == SideAccrual {
		return e.Cost
	}
	return e.Revenue
}

// EstimateAmounts sums revenue and cost over the lines. Negative values pass
// through; malformed values count as zero and are reported as warnings.
// It never fails.
func EstimateAmounts(lines []ChargeLine) Estimate {
	est := Estimate{Revenue: decimal.Zero, Cost: decimal.Zero}
	for _, line := range lines {
		rev, warn := lineAmount(line, AmountSources[ConceptRevenue])
		if warn != nil {
			est.Warnings = append(est.Warnings, warn)
		}
		cost, warn := lineAmount(line, AmountSources[ConceptCost])
		if warn != nil {
			est.Warnings = append(est.Warnings, warn)
		}
		est.Revenue = est.Revenue.Add(rev)
		est.Cost = est.Cost.Add(cost)
	}
	return est
}

// lineAmount reads the first populated source field of a line
func lineAmount(line ChargeLine, sources []string) (decimal.Decimal, *InvalidAmountError) {
	for _, field := range sources {
		raw, ok := line.Values[field]
		if !ok {
			continue
		}
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return decimal.Zero, &InvalidAmountError{LineNo: line.LineNo, Field: field, Value: raw}
		}
		return v, nil
	}
	return decimal.Zero, nil
}
