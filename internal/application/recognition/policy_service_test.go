package recognition

import (
	"context"
	"testing"

	"github.com/freight/recognition/internal/domain/recognition"
	"github.com/freight/recognition/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicyService_CreateRejectsDuplicateActiveScope(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first := h.addPolicy(t, "cc1", acme, 0, 0)

	_, err := h.policies.Create(ctx, PolicyCommand{
		Name:    "cc1 again",
		Scope:   recognition.Scope{Company: "ACME", CostCenter: "CC1"},
		WIP:     sideSettings("1410-WIP", "2410-DEFERRED-REV", 0),
		Accrual: sideSettings("5410-COST-ACCRUAL", "2420-ACCRUED-COST", 0),
	})
	assert.ErrorIs(t, err, recognition.ErrPolicyScopeConflict)

	// A disabled duplicate is allowed, but cannot be enabled while the first is active
	off := false
	second, err := h.policies.Create(ctx, PolicyCommand{
		Name:    "cc1 draft",
		Scope:   acme,
		WIP:     sideSettings("1410-WIP", "2410-DEFERRED-REV", 0),
		Accrual: sideSettings("5410-COST-ACCRUAL", "2420-ACCRUED-COST", 0),
		Enabled: &off,
	})
	require.NoError(t, err)
	assert.False(t, second.Enabled)

	_, err = h.policies.Enable(ctx, second.ID)
	assert.ErrorIs(t, err, recognition.ErrPolicyScopeConflict)

	_, err = h.policies.Disable(ctx, first.ID)
	require.NoError(t, err)
	enabled, err := h.policies.Enable(ctx, second.ID)
	require.NoError(t, err)
	assert.True(t, enabled.Enabled)
	assert.Equal(t, 2, enabled.Version)
}

func TestPolicyService_UpdateAndDelete(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.addPolicy(t, "cc1", acme, 0, 0)

	updated, err := h.policies.Update(ctx, p.ID, PolicyCommand{
		Name:     "cc1 renamed",
		Scope:    acme,
		Priority: 5,
		WIP:      sideSettings("1410-WIP", "2410-DEFERRED-REV", 250),
		Accrual:  sideSettings("5410-COST-ACCRUAL", "2420-ACCRUED-COST", 0),
	})
	require.NoError(t, err)
	assert.Equal(t, "cc1 renamed", updated.Name)
	assert.Equal(t, 5, updated.Priority)
	assert.True(t, updated.WIP.MinimumAmount.Equal(d("250")))

	require.NoError(t, h.policies.Delete(ctx, p.ID))
	got, err := h.policies.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, got.IsDeleted())

	list, total, err := h.policies.List(ctx, recognition.PolicyFilter{Company: "ACME"})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, list)

	_, err = h.policies.Enable(ctx, p.ID)
	assert.ErrorIs(t, err, shared.ErrInvalidState)

	assert.Contains(t, h.publisher.types(), recognition.EventTypePolicyChanged)
}

func TestPolicyService_Preview(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	general := h.addPolicy(t, "company default", recognition.Scope{Company: "ACME"}, 10, 0)
	specific := h.addPolicy(t, "cc1", acme, 0, 0)
	h.addPolicy(t, "other branch", recognition.Scope{Company: "ACME", Branch: "SIN"}, 0, 0)

	preview, err := h.policies.Preview(ctx, recognition.Scope{Company: "ACME", CostCenter: "CC1", Branch: "HKG"})
	require.NoError(t, err)

	require.Len(t, preview.Ranking, 2)
	require.NotNil(t, preview.Selected)
	assert.Equal(t, specific.ID, *preview.Selected)
	assert.Equal(t, specific.ID, preview.Ranking[0].Policy.ID)
	assert.True(t, preview.Ranking[0].Selected)
	assert.Equal(t, 1, preview.Ranking[0].Specificity)
	assert.Equal(t, general.ID, preview.Ranking[1].Policy.ID)
	assert.Equal(t, 2, preview.Ranking[1].Rank)
	assert.False(t, preview.Ranking[1].Selected)

	empty, err := h.policies.Preview(ctx, recognition.Scope{Company: "OTHER"})
	require.NoError(t, err)
	assert.Nil(t, empty.Selected)
	assert.Empty(t, empty.Ranking)

	_, err = h.policies.Preview(ctx, recognition.Scope{})
	assert.Error(t, err)
}
