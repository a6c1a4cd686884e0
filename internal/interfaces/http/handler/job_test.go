package handler

import (
	"net/http"
	"testing"

	apprec "github.com/freight/recognition/internal/application/recognition"
	"github.com/freight/recognition/internal/domain/recognition"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobHandler_Upsert(t *testing.T) {
	env := newTestEnv(t)
	path := "/api/v1/jobs/sea-shipment/BL-1"

	body := jobBody("1200", "800")
	body["overrides"] = map[string]any{"accrual_enabled": false, "wip_date_basis": "ACTUAL_ARRIVAL"}
	w := env.do(testCompany, http.MethodPut, path, body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var view apprec.JobView
	decodeData(t, w, &view)
	assert.True(t, view.Created)
	assert.Equal(t, recognition.JobTypeSeaShipment, view.Job.Ref.Type)
	assert.Equal(t, testCompany, view.Job.Company)
	assert.Equal(t, recognition.JobStatusOpen, view.Job.Status)
	assert.True(t, decimal.RequireFromString("1200").Equal(view.Estimate.Revenue))
	require.NotNil(t, view.Job.Overrides.AccrualEnabled)
	assert.False(t, *view.Job.Overrides.AccrualEnabled)
	require.NotNil(t, view.Job.Dates.ActualDeparture)
	assert.Equal(t, "2024-03-10", view.Job.Dates.ActualDeparture.Format(DateLayout))

	w = env.do(testCompany, http.MethodPut, path, jobBody("1500", "800"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decodeData(t, w, &view)
	assert.False(t, view.Created)
	assert.True(t, decimal.RequireFromString("1500").Equal(view.Estimate.Revenue))

	w = env.do(testCompany, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, w.Code)
	decodeData(t, w, &view)
	assert.Nil(t, view.Job.Overrides.AccrualEnabled)
}

func TestJobHandler_UpsertOtherCompanyIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	env.seedJob(t, "AWB-1", "100", "50")

	w := env.do("GLOBEX", http.MethodPut, "/api/v1/jobs/air-shipment/AWB-1", jobBody("999", "1"))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do("GLOBEX", http.MethodGet, "/api/v1/jobs/air-shipment/AWB-1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestJobHandler_ChangeStatus(t *testing.T) {
	env := newTestEnv(t)
	env.seedJob(t, "AWB-2", "100", "50")
	path := "/api/v1/jobs/air-shipment/AWB-2/status"

	w := env.do(testCompany, http.MethodPost, path, map[string]string{"status": "COMPLETED", "reason": "Delivered"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var job recognition.Job
	decodeData(t, w, &job)
	assert.Equal(t, recognition.JobStatusCompleted, job.Status)

	w = env.do(testCompany, http.MethodPost, path, map[string]string{"status": "OPEN"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
	assert.Equal(t, "INVALID_STATE", decodeError(t, w).Code)

	w = env.do(testCompany, http.MethodPost, path, map[string]string{"status": "SHIPPED"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestJobHandler_RecordActual(t *testing.T) {
	env := newTestEnv(t)
	env.seedJob(t, "AWB-3", "1000", "700")
	path := "/api/v1/jobs/air-shipment/AWB-3/actuals"
	body := map[string]string{"side": "WIP", "amount": "400", "posted_on": "2024-03-15", "source_document": "INV-1"}

	w := env.do(testCompany, http.MethodPost, path, body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var result apprec.RecordActualResult
	decodeData(t, w, &result)
	assert.True(t, result.Recorded)
	assert.Equal(t, recognition.SideWIP, result.Entry.Side)

	w = env.do(testCompany, http.MethodPost, path, body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decodeData(t, w, &result)
	assert.False(t, result.Recorded)

	body["amount"] = "0"
	body["source_document"] = "INV-2"
	w = env.do(testCompany, http.MethodPost, path, body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_AMOUNT", decodeError(t, w).Code)
}

func TestJobHandler_Validation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name     string
		path     string
		body     any
		wantCode string
	}{
		{"bad job type", "/api/v1/jobs/rail-job/X1", jobBody("1", "1"), "INVALID_JOB_TYPE"},
		{"bad date", "/api/v1/jobs/air-shipment/X1", map[string]any{"dates": map[string]string{"booking_date": "yesterday"}}, "VALIDATION_ERROR"},
		{"bad status", "/api/v1/jobs/air-shipment/X1", map[string]any{"status": "LOST"}, "VALIDATION_ERROR"},
		{"bad override basis", "/api/v1/jobs/air-shipment/X1", map[string]any{"overrides": map[string]string{"wip_date_basis": "SOMETIME"}}, "VALIDATION_ERROR"},
		{"charge line without values", "/api/v1/jobs/air-shipment/X1", map[string]any{"charge_lines": []map[string]any{{"line_no": 1}}}, "VALIDATION_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(testCompany, http.MethodPut, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			assert.Equal(t, tt.wantCode, decodeError(t, w).Code)
		})
	}
}
