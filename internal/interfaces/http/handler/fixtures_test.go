package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	apprec "github.com/freight/recognition/internal/application/recognition"
	"github.com/freight/recognition/internal/infrastructure/persistence"
	"github.com/freight/recognition/internal/infrastructure/persistence/models"
	"github.com/freight/recognition/internal/interfaces/http/dto"
	"github.com/freight/recognition/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func init() {
	gin.SetMode(gin.TestMode)
	middleware.SetupValidator()
}

// testEnv is the API wired to real services over an in-memory database
type testEnv struct {
	db          *gorm.DB
	engine      *gin.Engine
	recognition *apprec.RecognitionService
	jobs        *apprec.JobService
	policies    *apprec.PolicyService
	periodClose *apprec.PeriodCloseService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(models.RecognitionModels()...))

	log := zap.NewNop()
	jobRepo := persistence.NewGormJobRepository(db)
	policyRepo := persistence.NewGormPolicyRepository(db)
	ledgerRepo := persistence.NewGormJobRecognitionRepository(db)
	postingRepo := persistence.NewGormPostingRepository(db)
	actualRepo := persistence.NewGormActualRepository(db)
	runRepo := persistence.NewGormPeriodCloseRunRepository(db)
	txScope := persistence.NewGormTransactionScope(db)

	env := &testEnv{
		db:          db,
		recognition: apprec.NewRecognitionService(jobRepo, policyRepo, ledgerRepo, postingRepo, txScope, log),
		jobs:        apprec.NewJobService(jobRepo, actualRepo, log),
		policies:    apprec.NewPolicyService(policyRepo, log),
		periodClose: apprec.NewPeriodCloseService(jobRepo, policyRepo, ledgerRepo, actualRepo, runRepo, txScope, 2, log),
	}

	engine := gin.New()
	engine.Use(middleware.RequestID())
	engine.Use(middleware.JWTAuth(middleware.JWTMiddlewareConfig{Required: false}))

	api := engine.Group("/api/v1")
	recognitionHandler := NewRecognitionHandler(env.recognition, env.jobs)
	journalHandler := NewJournalHandler(env.recognition)
	api.GET("/recognition/postings/export", journalHandler.Export)
	api.GET("/recognition/jobs/:type/:id", recognitionHandler.GetStatus)
	api.GET("/recognition/jobs/:type/:id/postings", recognitionHandler.ListPostings)
	api.POST("/recognition/jobs/:type/:id/wip", recognitionHandler.RecognizeWIP)
	api.POST("/recognition/jobs/:type/:id/accrual", recognitionHandler.RecognizeAccrual)
	api.POST("/recognition/jobs/:type/:id/wip/adjustments", recognitionHandler.AdjustWIP)
	api.POST("/recognition/jobs/:type/:id/accrual/adjustments", recognitionHandler.AdjustAccrual)
	api.POST("/recognition/jobs/:type/:id/close", recognitionHandler.Close)

	periodHandler := NewPeriodCloseHandler(env.periodClose, nil)
	api.POST("/recognition/period-close", periodHandler.Process)
	api.GET("/recognition/period-close/runs", periodHandler.ListRuns)
	api.GET("/recognition/period-close/runs/:id", periodHandler.GetRun)
	api.GET("/recognition/period-close/runs/:id/report", periodHandler.GetReport)

	policyHandler := NewPolicyHandler(env.policies)
	api.POST("/policies", policyHandler.Create)
	api.GET("/policies", policyHandler.List)
	api.POST("/policies/preview", policyHandler.Preview)
	api.GET("/policies/:id", policyHandler.Get)
	api.PUT("/policies/:id", policyHandler.Update)
	api.DELETE("/policies/:id", policyHandler.Delete)
	api.POST("/policies/:id/enable", policyHandler.Enable)
	api.POST("/policies/:id/disable", policyHandler.Disable)

	jobHandler := NewJobHandler(env.jobs)
	api.PUT("/jobs/:type/:id", jobHandler.Upsert)
	api.GET("/jobs/:type/:id", jobHandler.Get)
	api.POST("/jobs/:type/:id/status", jobHandler.ChangeStatus)
	api.POST("/jobs/:type/:id/actuals", jobHandler.RecordActual)

	env.engine = engine
	return env
}

// perform sends body as JSON without a company
func perform(engine *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	return performAs(engine, "", method, path, body)
}

// performAs sends body as JSON on behalf of company
func performAs(engine *gin.Engine, company, method, path string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, _ := json.Marshal(b)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if company != "" {
		req.Header.Set(middleware.CompanyHeader, company)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func (e *testEnv) do(company, method, path string, body any) *httptest.ResponseRecorder {
	return performAs(e.engine, company, method, path, body)
}

// decodeData unmarshals the data member of a success response into out
func decodeData(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	var resp struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	require.True(t, resp.Success, w.Body.String())
	require.NoError(t, json.Unmarshal(resp.Data, out))
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) dto.ErrorInfo {
	t.Helper()
	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	require.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	return *resp.Error
}

// Fixtures for the recognition flow

const testCompany = "ACME"

func policyBody(name string) map[string]any {
	return map[string]any{
		"name":        name,
		"cost_center": "AIR",
		"wip": map[string]any{
			"enabled":        true,
			"date_basis":     "ACTUAL_DEPARTURE",
			"debit_account":  "1410-WIP",
			"credit_account": "2410-DEFERRED-REV",
		},
		"accrual": map[string]any{
			"enabled":        true,
			"date_basis":     "ACTUAL_DEPARTURE",
			"debit_account":  "5410-COST-ACCRUAL",
			"credit_account": "2420-ACCRUED-COST",
		},
	}
}

func jobBody(revenue, cost string) map[string]any {
	return map[string]any{
		"cost_center": "AIR",
		"branch":      "HKG",
		"dates": map[string]any{
			"actual_departure": "2024-03-10",
			"created_at":       "2024-03-01",
		},
		"charge_lines": []map[string]any{
			{"line_no": 1, "description": "Air freight", "values": map[string]string{"amount": revenue, "cost": cost}},
		},
	}
}

// seedPolicy creates the enabled AIR policy of testCompany and returns its ID
func (e *testEnv) seedPolicy(t *testing.T) string {
	t.Helper()
	w := e.do(testCompany, http.MethodPost, "/api/v1/policies", policyBody("Air freight"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		ID string `json:"id"`
	}
	decodeData(t, w, &created)
	return created.ID
}

// seedJob stores an air shipment of testCompany and returns its recognition path
func (e *testEnv) seedJob(t *testing.T, id, revenue, cost string) string {
	t.Helper()
	w := e.do(testCompany, http.MethodPut, "/api/v1/jobs/air-shipment/"+id, jobBody(revenue, cost))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return "/api/v1/recognition/jobs/air-shipment/" + id
}
