package handler

import (
	"net/http"
	"testing"

	apprec "github.com/freight/recognition/internal/application/recognition"
	"github.com/freight/recognition/internal/domain/recognition"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicyHandler_CreateUsesCallerCompany(t *testing.T) {
	env := newTestEnv(t)

	body := policyBody("Air freight")
	body["company"] = "GLOBEX"
	w := env.do(testCompany, http.MethodPost, "/api/v1/policies", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var policy recognition.Policy
	decodeData(t, w, &policy)
	assert.Equal(t, testCompany, policy.Company)
	assert.Equal(t, "AIR", policy.CostCenter)
	assert.True(t, policy.Enabled)
	assert.Equal(t, recognition.DateBasisActualDeparture, policy.WIP.DateBasis)
}

func TestPolicyHandler_ScopeConflict(t *testing.T) {
	env := newTestEnv(t)
	env.seedPolicy(t)

	w := env.do(testCompany, http.MethodPost, "/api/v1/policies", policyBody("Duplicate"))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "POLICY_SCOPE_CONFLICT", decodeError(t, w).Code)

	// the same scope in another company is free
	w = env.do("GLOBEX", http.MethodPost, "/api/v1/policies", policyBody("Globex air"))
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestPolicyHandler_UpdateKeepsEnabledFlag(t *testing.T) {
	env := newTestEnv(t)
	id := env.seedPolicy(t)
	path := "/api/v1/policies/" + id

	w := env.do(testCompany, http.MethodPost, path+"/disable", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := policyBody("Air freight renamed")
	body["enabled"] = true
	body["priority"] = 5
	w = env.do(testCompany, http.MethodPut, path, body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var policy recognition.Policy
	decodeData(t, w, &policy)
	assert.Equal(t, "Air freight renamed", policy.Name)
	assert.Equal(t, 5, policy.Priority)
	assert.False(t, policy.Enabled)

	w = env.do(testCompany, http.MethodPost, path+"/enable", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decodeData(t, w, &policy)
	assert.True(t, policy.Enabled)
}

func TestPolicyHandler_ListAndDelete(t *testing.T) {
	env := newTestEnv(t)
	id := env.seedPolicy(t)
	sea := policyBody("Sea freight")
	sea["cost_center"] = "SEA"
	require.Equal(t, http.StatusCreated, env.do(testCompany, http.MethodPost, "/api/v1/policies", sea).Code)
	require.Equal(t, http.StatusCreated, env.do("GLOBEX", http.MethodPost, "/api/v1/policies", policyBody("Other")).Code)

	w := env.do(testCompany, http.MethodGet, "/api/v1/policies", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var policies []recognition.Policy
	decodeData(t, w, &policies)
	assert.Len(t, policies, 2)

	w = env.do(testCompany, http.MethodDelete, "/api/v1/policies/"+id, nil)
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	decodeData(t, env.do(testCompany, http.MethodGet, "/api/v1/policies", nil), &policies)
	require.Len(t, policies, 1)
	assert.Equal(t, "Sea freight", policies[0].Name)

	decodeData(t, env.do(testCompany, http.MethodGet, "/api/v1/policies?include_deleted=true&search=Air", nil), &policies)
	require.Len(t, policies, 1)
	assert.NotNil(t, policies[0].DeletedAt)
}

func TestPolicyHandler_Preview(t *testing.T) {
	env := newTestEnv(t)
	id := env.seedPolicy(t)
	branch := policyBody("Air HKG")
	branch["branch"] = "HKG"
	w := env.do(testCompany, http.MethodPost, "/api/v1/policies", branch)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var specific recognition.Policy
	decodeData(t, w, &specific)

	w = env.do(testCompany, http.MethodPost, "/api/v1/policies/preview",
		map[string]string{"cost_center": "AIR", "branch": "HKG"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var preview apprec.PolicyPreview
	decodeData(t, w, &preview)
	require.NotNil(t, preview.Selected)
	assert.Equal(t, specific.ID, *preview.Selected)
	require.Len(t, preview.Ranking, 2)
	assert.Equal(t, id, preview.Ranking[1].Policy.ID.String())
	assert.Equal(t, testCompany, preview.Scope.Company)
}

func TestPolicyHandler_OtherCompanyIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	id := env.seedPolicy(t)

	for _, tc := range []struct {
		method, path string
		body         any
	}{
		{http.MethodGet, "/api/v1/policies/" + id, nil},
		{http.MethodPut, "/api/v1/policies/" + id, policyBody("Hijack")},
		{http.MethodPost, "/api/v1/policies/" + id + "/disable", nil},
		{http.MethodDelete, "/api/v1/policies/" + id, nil},
	} {
		w := env.do("GLOBEX", tc.method, tc.path, tc.body)
		assert.Equal(t, http.StatusNotFound, w.Code, tc.method+" "+tc.path)
	}

	w := env.do(testCompany, http.MethodGet, "/api/v1/policies/"+id, nil)
	var policy recognition.Policy
	decodeData(t, w, &policy)
	assert.Equal(t, "Air freight", policy.Name)
	assert.True(t, policy.Enabled)
}

func TestPolicyHandler_Validation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		path string
		body any
	}{
		{"missing name", "/api/v1/policies", map[string]any{"cost_center": "AIR"}},
		{"unknown date basis", "/api/v1/policies", map[string]any{"name": "x", "wip": map[string]any{"date_basis": "WHENEVER"}}},
		{"bad minimum amount", "/api/v1/policies", map[string]any{"name": "x", "wip": map[string]any{"minimum_amount": "1,5"}}},
		{"bad id", "/api/v1/policies/not-a-uuid/enable", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(testCompany, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			assert.Equal(t, "VALIDATION_ERROR", decodeError(t, w).Code)
		})
	}
}
