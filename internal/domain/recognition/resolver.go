package recognition

import (
	"sort"
)

// scopeField is an optional scope dimension that a policy may pin
type scopeField struct {
	name string
	get  func(Scope) string
}

// scopeFields lists the wildcard-capable dimensions in reporting order
var scopeFields = []scopeField{
	{name: "cost_center", get: func(s Scope) string { return s.CostCenter }},
	{name: "profit_center", get: func(s Scope) string { return s.ProfitCenter }},
	{name: "branch", get: func(s Scope) string { return s.Branch }},
}

// MatchScope reports whether a policy scope applies to a job scope and which
// non-wildcard fields matched. Companies must be equal; every pinned policy
// field must equal the job's value.
func MatchScope(policy, job Scope) (bool, []string) {
	policy, job = policy.Normalize(), job.Normalize()
	if policy.Company != job.Company {
		return false, nil
	}
	matched := make([]string, 0, len(scopeFields))
	for _, f := range scopeFields {
		want := f.get(policy)
		if want == "" {
			continue
		}
		if want != f.get(job) {
			return false, nil
		}
		matched = append(matched, f.name)
	}
	return true, matched
}

// RankedPolicy is a matching policy together with the facts it was ranked on
type RankedPolicy struct {
	Policy        *Policy  `json:"policy"`
	Specificity   int      `json:"specificity"`
	MatchedFields []string `json:"matched_fields"`
}

// RankPolicies returns every active policy matching the scope, best first.
//
// Order: specificity desc, priority desc, created_at desc, then ID asc.
// The last key is total, so equal inputs always produce the same order.
func RankPolicies(policies []*Policy, scope Scope) []RankedPolicy {
	ranked := make([]RankedPolicy, 0, len(policies))
	for _, p := range policies {
		if p == nil || !p.IsActive() {
			continue
		}
		ok, matched := MatchScope(p.Scope(), scope)
		if !ok {
			continue
		}
		ranked = append(ranked, RankedPolicy{
			Policy:        p,
			Specificity:   len(matched),
			MatchedFields: matched,
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return rankedBefore(ranked[i], ranked[j])
	})
	return ranked
}

func rankedBefore(a, b RankedPolicy) bool {
	if a.Specificity != b.Specificity {
		return a.Specificity > b.Specificity
	}
	if a.Policy.Priority != b.Policy.Priority {
		return a.Policy.Priority > b.Policy.Priority
	}
	if !a.Policy.CreatedAt.Equal(b.Policy.CreatedAt) {
		return a.Policy.CreatedAt.After(b.Policy.CreatedAt)
	}
	return a.Policy.ID.String() < b.Policy.ID.String()
}

// ResolvePolicy returns the top-ranked policy for the scope, or nil when none
// applies. A nil result means recognition is off for the scope; it is not an error.
func ResolvePolicy(policies []*Policy, scope Scope) *Policy {
	ranked := RankPolicies(policies, scope)
	if len(ranked) == 0 {
		return nil
	}
	return ranked[0].Policy
}
