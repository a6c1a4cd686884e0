package handler

import (
	"context"
	"errors"
	"net/http"

	apprec "github.com/freight/recognition/internal/application/recognition"
	"github.com/freight/recognition/internal/domain/recognition"
	"github.com/freight/recognition/internal/domain/shared"
	"github.com/freight/recognition/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// RecognitionHandler serves the per-job recognition endpoints
type RecognitionHandler struct {
	BaseHandler
	recognition *apprec.RecognitionService
	jobs        *apprec.JobService
}

// NewRecognitionHandler creates a new RecognitionHandler
func NewRecognitionHandler(recognitionService *apprec.RecognitionService, jobService *apprec.JobService) *RecognitionHandler {
	return &RecognitionHandler{
		recognition: recognitionService,
		jobs:        jobService,
	}
}

// RecognizeRequest is the optional body of an initial recognition
// @Description Initial recognition request
type RecognizeRequest struct {
	// TriggerID makes retries idempotent; generated when empty
	TriggerID string `json:"trigger_id" binding:"max=200" example:"evt-7f3c"`
}

// AdjustRequest moves part of a side's balance out
// @Description Adjustment request
type AdjustRequest struct {
	Amount    string `json:"amount" binding:"required,decimal" example:"250.00"`
	Date      string `json:"date" binding:"required,datetime=2006-01-02" example:"2024-03-20"`
	TriggerID string `json:"trigger_id" binding:"max=200" example:"INV-1042"`
}

// CloseRequest closes both sides of a job
// @Description Close recognition request
type CloseRequest struct {
	// Date defaults to today
	Date      string `json:"date" binding:"omitempty,datetime=2006-01-02" example:"2024-03-31"`
	TriggerID string `json:"trigger_id" binding:"max=200" example:"job-closed-J1"`
}

// RecognizeWIP godoc
// @ID           recognizeWIP
// @Summary      Recognize WIP
// @Description  Posts the initial WIP (unbilled revenue) entry of a job. Informational
// @Description  outcomes such as POLICY_NOT_FOUND or BELOW_MINIMUM are returned with 200.
// @Tags         recognition
// @Accept       json
// @Produce      json
// @Param        type    path  string            true   "Job type"  Enums(TRANSPORT_JOB, AIR_SHIPMENT, SEA_SHIPMENT, WAREHOUSE_JOB, CUSTOMS_DECLARATION)
// @Param        id      path  string            true   "Job ID"
// @Param        request body  RecognizeRequest  false  "Trigger"
// @Success      200 {object} APIResponse[apprec.PostingResult]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Failure      409 {object} ErrorResponse
// @Failure      422 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /recognition/jobs/{type}/{id}/wip [post]
func (h *RecognitionHandler) RecognizeWIP(c *gin.Context) {
	h.recognize(c, h.recognition.RecognizeWIP)
}

// RecognizeAccrual godoc
// @ID           recognizeAccrual
// @Summary      Recognize accrual
// @Description  Posts the initial cost accrual entry of a job
// @Tags         recognition
// @Accept       json
// @Produce      json
// @Param        type    path  string            true   "Job type"
// @Param        id      path  string            true   "Job ID"
// @Param        request body  RecognizeRequest  false  "Trigger"
// @Success      200 {object} APIResponse[apprec.PostingResult]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Failure      409 {object} ErrorResponse
// @Failure      422 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /recognition/jobs/{type}/{id}/accrual [post]
func (h *RecognitionHandler) RecognizeAccrual(c *gin.Context) {
	h.recognize(c, h.recognition.RecognizeAccrual)
}

type recognizeFunc = func(ctx context.Context, cmd apprec.RecognizeCommand) (*apprec.PostingResult, error)

func (h *RecognitionHandler) recognize(c *gin.Context, op recognizeFunc) {
	ref, ok := h.ownedJob(c)
	if !ok {
		return
	}
	var req RecognizeRequest
	if c.Request.ContentLength != 0 && !h.BindJSON(c, &req) {
		return
	}

	result, err := op(c.Request.Context(), apprec.RecognizeCommand{Job: ref, TriggerID: req.TriggerID})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, result)
}

// AdjustWIP godoc
// @ID           adjustWIP
// @Summary      Adjust WIP
// @Description  Reverses part of the open WIP balance as revenue is invoiced. Amounts above
// @Description  the remaining balance are clamped and reported as an OVER_ADJUSTMENT warning.
// @Tags         recognition
// @Accept       json
// @Produce      json
// @Param        type    path  string         true  "Job type"
// @Param        id      path  string         true  "Job ID"
// @Param        request body  AdjustRequest  true  "Adjustment"
// @Success      200 {object} APIResponse[apprec.PostingResult]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Failure      409 {object} ErrorResponse
// @Failure      422 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /recognition/jobs/{type}/{id}/wip/adjustments [post]
func (h *RecognitionHandler) AdjustWIP(c *gin.Context) {
	h.adjust(c, h.recognition.AdjustWIP)
}

// AdjustAccrual godoc
// @ID           adjustAccrual
// @Summary      Adjust accrual
// @Description  Reverses part of the open cost accrual as supplier bills arrive
// @Tags         recognition
// @Accept       json
// @Produce      json
// @Param        type    path  string         true  "Job type"
// @Param        id      path  string         true  "Job ID"
// @Param        request body  AdjustRequest  true  "Adjustment"
// @Success      200 {object} APIResponse[apprec.PostingResult]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Failure      409 {object} ErrorResponse
// @Failure      422 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /recognition/jobs/{type}/{id}/accrual/adjustments [post]
func (h *RecognitionHandler) AdjustAccrual(c *gin.Context) {
	h.adjust(c, h.recognition.AdjustAccrual)
}

type adjustFunc = func(ctx context.Context, cmd apprec.AdjustCommand) (*apprec.PostingResult, error)

func (h *RecognitionHandler) adjust(c *gin.Context, op adjustFunc) {
	ref, ok := h.ownedJob(c)
	if !ok {
		return
	}
	var req AdjustRequest
	if !h.BindJSON(c, &req) {
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		h.HandleError(c, recognition.ErrInvalidAmount.WithMessage("Amount must be a decimal number"))
		return
	}
	date, err := ParseDate(req.Date)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	result, err := op(c.Request.Context(), apprec.AdjustCommand{
		Job:       ref,
		Amount:    amount,
		Date:      date,
		TriggerID: req.TriggerID,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, result)
}

// Close godoc
// @ID           closeRecognition
// @Summary      Close recognition
// @Description  Posts the closing entry of every open side. Closing a closed job returns
// @Description  outcome ALREADY_CLOSED.
// @Tags         recognition
// @Accept       json
// @Produce      json
// @Param        type    path  string        true   "Job type"
// @Param        id      path  string        true   "Job ID"
// @Param        request body  CloseRequest  false  "Close"
// @Success      200 {object} APIResponse[apprec.PostingResult]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Failure      409 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /recognition/jobs/{type}/{id}/close [post]
func (h *RecognitionHandler) Close(c *gin.Context) {
	ref, ok := h.ownedJob(c)
	if !ok {
		return
	}
	var req CloseRequest
	if c.Request.ContentLength != 0 && !h.BindJSON(c, &req) {
		return
	}
	date, err := ParseDate(req.Date)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	result, err := h.recognition.CloseRecognition(c.Request.Context(), apprec.CloseCommand{
		Job:       ref,
		Date:      date,
		TriggerID: req.TriggerID,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, result)
}

// GetStatus godoc
// @ID           getRecognitionStatus
// @Summary      Get recognition status
// @Description  Returns both sides of a job's ledger. Jobs not yet recognized report
// @Description  NOT_STARTED sides with current estimates and persisted=false.
// @Tags         recognition
// @Produce      json
// @Param        type path string true "Job type"
// @Param        id   path string true "Job ID"
// @Success      200 {object} APIResponse[apprec.RecognitionStatus]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /recognition/jobs/{type}/{id} [get]
func (h *RecognitionHandler) GetStatus(c *gin.Context) {
	ref, ok := h.ownedJob(c)
	if !ok {
		return
	}
	status, err := h.recognition.GetRecognitionStatus(c.Request.Context(), ref)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, status)
}

// ListPostings godoc
// @ID           listJobPostings
// @Summary      List job postings
// @Description  Returns the audit trail of a job in creation order
// @Tags         recognition
// @Produce      json
// @Param        type path string true "Job type"
// @Param        id   path string true "Job ID"
// @Success      200 {object} APIResponse[[]recognition.Posting]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /recognition/jobs/{type}/{id}/postings [get]
func (h *RecognitionHandler) ListPostings(c *gin.Context) {
	ref, ok := h.ownedJob(c)
	if !ok {
		return
	}
	postings, err := h.recognition.ListPostings(c.Request.Context(), ref)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, postings)
}

// ownedJob parses the job path and checks the job belongs to the request's
// company. Jobs of other companies are reported as not found.
func (h *RecognitionHandler) ownedJob(c *gin.Context) (recognition.JobRef, bool) {
	company, ok := h.Company(c)
	if !ok {
		return recognition.JobRef{}, false
	}
	ref, ok := h.JobRef(c)
	if !ok {
		return recognition.JobRef{}, false
	}

	view, err := h.jobs.GetJob(c.Request.Context(), ref)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			h.Error(c, http.StatusNotFound, dto.ErrCodeNotFound, "Job "+ref.String()+" not found")
			return recognition.JobRef{}, false
		}
		h.HandleError(c, err)
		return recognition.JobRef{}, false
	}
	if view.Job.Company != company {
		h.Error(c, http.StatusNotFound, dto.ErrCodeNotFound, "Job "+ref.String()+" not found")
		return recognition.JobRef{}, false
	}
	return ref, true
}
