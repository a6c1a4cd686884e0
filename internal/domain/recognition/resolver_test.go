package recognition

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchScope(t *testing.T) {
	job := Scope{Company: "ACME", CostCenter: "CC1", ProfitCenter: "PC1", Branch: "SIN"}

	tests := []struct {
		name     string
		policy   Scope
		match    bool
		specific int
	}{
		{"company only", Scope{Company: "ACME"}, true, 0},
		{"cost center", Scope{Company: "ACME", CostCenter: "CC1"}, true, 1},
		{"exact", Scope{Company: "ACME", CostCenter: "CC1", ProfitCenter: "PC1", Branch: "SIN"}, true, 3},
		{"other company", Scope{Company: "GLOBEX"}, false, 0},
		{"other branch", Scope{Company: "ACME", Branch: "HKG"}, false, 0},
		{"whitespace ignored", Scope{Company: " ACME ", CostCenter: "CC1 "}, true, 1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ok, matched := MatchScope(tc.policy, job)
			assert.Equal(t, tc.match, ok)
			assert.Len(t, matched, tc.specific)
		})
	}
}

func TestMatchScope_PinnedFieldRequiresJobValue(t *testing.T) {
	ok, _ := MatchScope(Scope{Company: "ACME", CostCenter: "CC1"}, Scope{Company: "ACME"})
	assert.False(t, ok)
}

func TestResolvePolicy_MoreSpecificWins(t *testing.T) {
	// A broad policy with a much higher priority must still lose to a more specific one.
	broad := newTestPolicy(t, "broad", Scope{Company: "ACME"}, 100)
	specific := newTestPolicy(t, "cc1", Scope{Company: "ACME", CostCenter: "CC1"}, 0)

	got := ResolvePolicy([]*Policy{broad, specific}, Scope{Company: "ACME", CostCenter: "CC1"})
	require.NotNil(t, got)
	assert.Equal(t, specific.ID, got.ID)
}

func TestResolvePolicy_ThreeFieldMatchNeverBeaten(t *testing.T) {
	exact := newTestPolicy(t, "exact", Scope{Company: "ACME", CostCenter: "CC1", ProfitCenter: "PC1", Branch: "SIN"}, -5)
	policies := []*Policy{
		newTestPolicy(t, "p0", Scope{Company: "ACME"}, 1000),
		newTestPolicy(t, "p1", Scope{Company: "ACME", Branch: "SIN"}, 500),
		newTestPolicy(t, "p2", Scope{Company: "ACME", CostCenter: "CC1", ProfitCenter: "PC1"}, 900),
		exact,
	}
	scope := Scope{Company: "ACME", CostCenter: "CC1", ProfitCenter: "PC1", Branch: "SIN"}

	for i := 0; i < 10; i++ {
		got := ResolvePolicy(policies, scope)
		require.NotNil(t, got)
		assert.Equal(t, exact.ID, got.ID)
		// rotate input order; the result must not depend on it
		policies = append(policies[1:], policies[0])
	}
}

func TestResolvePolicy_PriorityBreaksSpecificityTie(t *testing.T) {
	low := newTestPolicy(t, "low", Scope{Company: "ACME", CostCenter: "CC1"}, 1)
	high := newTestPolicy(t, "high", Scope{Company: "ACME", Branch: "SIN"}, 2)

	got := ResolvePolicy([]*Policy{low, high}, Scope{Company: "ACME", CostCenter: "CC1", Branch: "SIN"})
	require.NotNil(t, got)
	assert.Equal(t, high.ID, got.ID)
}

func TestRankPolicies_TieBreaks(t *testing.T) {
	scope := Scope{Company: "ACME", CostCenter: "CC1"}

	t.Run("most recently created wins", func(t *testing.T) {
		older := newTestPolicy(t, "older", Scope{Company: "ACME", CostCenter: "CC1"}, 0)
		newer := newTestPolicy(t, "newer", Scope{Company: "ACME", CostCenter: "CC1"}, 0)
		older.CreatedAt = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		newer.CreatedAt = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

		ranked := RankPolicies([]*Policy{older, newer}, scope)
		require.Len(t, ranked, 2)
		assert.Equal(t, newer.ID, ranked[0].Policy.ID)
	})

	t.Run("identifier order when everything else ties", func(t *testing.T) {
		created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		a := newTestPolicy(t, "a", Scope{Company: "ACME"}, 0)
		b := newTestPolicy(t, "b", Scope{Company: "ACME"}, 0)
		a.ID = uuid.MustParse("00000000-0000-0000-0000-000000000001")
		b.ID = uuid.MustParse("00000000-0000-0000-0000-000000000002")
		a.CreatedAt, b.CreatedAt = created, created

		first := RankPolicies([]*Policy{b, a}, scope)
		second := RankPolicies([]*Policy{a, b}, scope)
		require.Len(t, first, 2)
		assert.Equal(t, a.ID, first[0].Policy.ID)
		assert.Equal(t, a.ID, second[0].Policy.ID)
	})
}

func TestRankPolicies_SkipsInactive(t *testing.T) {
	disabled := newTestPolicy(t, "disabled", Scope{Company: "ACME", CostCenter: "CC1"}, 0)
	disabled.Disable()
	deleted := newTestPolicy(t, "deleted", Scope{Company: "ACME", CostCenter: "CC1"}, 0)
	deleted.Delete()
	fallback := newTestPolicy(t, "fallback", Scope{Company: "ACME"}, 0)

	ranked := RankPolicies([]*Policy{disabled, deleted, fallback, nil}, Scope{Company: "ACME", CostCenter: "CC1"})
	require.Len(t, ranked, 1)
	assert.Equal(t, fallback.ID, ranked[0].Policy.ID)
	assert.Empty(t, ranked[0].MatchedFields)
}

func TestResolvePolicy_NoMatchIsNil(t *testing.T) {
	p := newTestPolicy(t, "globex", Scope{Company: "GLOBEX"}, 0)
	assert.Nil(t, ResolvePolicy([]*Policy{p}, Scope{Company: "ACME"}))
	assert.Nil(t, ResolvePolicy(nil, Scope{Company: "ACME"}))
}
