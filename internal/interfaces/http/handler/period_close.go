package handler

import (
	"context"
	"net/http"
	"time"

	apprec "github.com/freight/recognition/internal/application/recognition"
	"github.com/freight/recognition/internal/domain/recognition"
	"github.com/freight/recognition/internal/domain/shared"
	"github.com/freight/recognition/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ReportLinker issues temporary download links for archived run reports
type ReportLinker interface {
	DownloadURL(ctx context.Context, keyOrLocation string) (string, time.Time, error)
}

// PeriodCloseHandler triggers period-close batches and serves their history
type PeriodCloseHandler struct {
	BaseHandler
	periodClose *apprec.PeriodCloseService
	reports     ReportLinker
}

// NewPeriodCloseHandler creates a new PeriodCloseHandler. reports may be nil
// when run reports are not archived.
func NewPeriodCloseHandler(periodClose *apprec.PeriodCloseService, reports ReportLinker) *PeriodCloseHandler {
	return &PeriodCloseHandler{
		periodClose: periodClose,
		reports:     reports,
	}
}

// ProcessPeriodRequest selects the period to close
// @Description Period close request
type ProcessPeriodRequest struct {
	PeriodEnd string `json:"period_end" binding:"required,datetime=2006-01-02" example:"2024-03-31"`
}

// ReportLinkResponse is a presigned link to a run report
type ReportLinkResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Process godoc
// @ID           processPeriod
// @Summary      Run period close
// @Description  Reconciles every open recognition of the caller's company against actuals
// @Description  as of the period end. Per-job failures are reported in the result.
// @Tags         period-close
// @Accept       json
// @Produce      json
// @Param        request body ProcessPeriodRequest true "Period"
// @Success      200 {object} APIResponse[recognition.BatchResult]
// @Failure      400 {object} ErrorResponse
// @Failure      401 {object} ErrorResponse
// @Failure      409 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /recognition/period-close [post]
func (h *PeriodCloseHandler) Process(c *gin.Context) {
	company, ok := h.Company(c)
	if !ok {
		return
	}
	var req ProcessPeriodRequest
	if !h.BindJSON(c, &req) {
		return
	}
	periodEnd, err := ParseDate(req.PeriodEnd)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	result, err := h.periodClose.ProcessPeriod(c.Request.Context(), company, periodEnd)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, result)
}

// ListRuns godoc
// @ID           listPeriodCloseRuns
// @Summary      List period-close runs
// @Tags         period-close
// @Produce      json
// @Param        page      query int    false "Page"       default(1)
// @Param        page_size query int    false "Page size"  default(20)
// @Param        order_dir query string false "Order"      Enums(asc, desc)
// @Success      200 {object} APIResponse[[]recognition.PeriodCloseRun]
// @Failure      401 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /recognition/period-close/runs [get]
func (h *PeriodCloseHandler) ListRuns(c *gin.Context) {
	company, ok := h.Company(c)
	if !ok {
		return
	}
	var req dto.ListRequest
	if !h.BindQuery(c, &req) {
		return
	}
	req.Normalize()

	runs, total, err := h.periodClose.ListRuns(c.Request.Context(), company, shared.Filter{
		Page:     req.Page,
		PageSize: req.PageSize,
		OrderBy:  "started_at",
		OrderDir: req.OrderDir,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.SuccessWithMeta(c, runs, total, req.Page, req.PageSize)
}

// GetRun godoc
// @ID           getPeriodCloseRun
// @Summary      Get a period-close run
// @Tags         period-close
// @Produce      json
// @Param        id path string true "Run ID" format(uuid)
// @Success      200 {object} APIResponse[recognition.PeriodCloseRun]
// @Failure      404 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /recognition/period-close/runs/{id} [get]
func (h *PeriodCloseHandler) GetRun(c *gin.Context) {
	run, ok := h.ownedRun(c)
	if !ok {
		return
	}
	h.Success(c, run)
}

// GetReport godoc
// @ID           getPeriodCloseReport
// @Summary      Link to an archived run report
// @Description  Returns a presigned URL for the JSON report archived when the run finished
// @Tags         period-close
// @Produce      json
// @Param        id path string true "Run ID" format(uuid)
// @Success      200 {object} APIResponse[ReportLinkResponse]
// @Failure      404 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /recognition/period-close/runs/{id}/report [get]
func (h *PeriodCloseHandler) GetReport(c *gin.Context) {
	run, ok := h.ownedRun(c)
	if !ok {
		return
	}
	if h.reports == nil || run.ReportLocation == "" {
		h.NotFound(c, "No report was archived for this run")
		return
	}

	url, expiresAt, err := h.reports.DownloadURL(c.Request.Context(), run.ReportLocation)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, ReportLinkResponse{URL: url, ExpiresAt: expiresAt})
}

func (h *PeriodCloseHandler) ownedRun(c *gin.Context) (*recognition.PeriodCloseRun, bool) {
	company, ok := h.Company(c)
	if !ok {
		return nil, false
	}
	var uri dto.IDRequest
	if err := c.ShouldBindUri(&uri); err != nil {
		h.bindError(c, err)
		return nil, false
	}

	run, err := h.periodClose.GetRun(c.Request.Context(), uuid.MustParse(uri.ID))
	if err != nil {
		h.HandleError(c, err)
		return nil, false
	}
	if run.Company != company {
		h.Error(c, http.StatusNotFound, dto.ErrCodeNotFound, "Period-close run not found")
		return nil, false
	}
	return run, true
}
