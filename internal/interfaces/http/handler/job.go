package handler

import (
	"errors"
	"net/http"
	"time"

	apprec "github.com/freight/recognition/internal/application/recognition"
	"github.com/freight/recognition/internal/domain/recognition"
	"github.com/freight/recognition/internal/domain/shared"
	"github.com/freight/recognition/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// JobHandler receives job snapshots, status changes and actual amounts
type JobHandler struct {
	BaseHandler
	jobs *apprec.JobService
}

// NewJobHandler creates a new JobHandler
func NewJobHandler(jobService *apprec.JobService) *JobHandler {
	return &JobHandler{jobs: jobService}
}

// JobDatesRequest carries the dates the date resolver reads. All are YYYY-MM-DD.
type JobDatesRequest struct {
	ActualArrival   string `json:"actual_arrival" binding:"omitempty,datetime=2006-01-02" example:"2024-03-14"`
	Arrival         string `json:"arrival" binding:"omitempty,datetime=2006-01-02"`
	ActualDeparture string `json:"actual_departure" binding:"omitempty,datetime=2006-01-02" example:"2024-03-10"`
	Departure       string `json:"departure" binding:"omitempty,datetime=2006-01-02"`
	BookingDate     string `json:"booking_date" binding:"omitempty,datetime=2006-01-02"`
	JobOpenDate     string `json:"job_open_date" binding:"omitempty,datetime=2006-01-02"`
	CreatedAt       string `json:"created_at" binding:"omitempty,datetime=2006-01-02"`
	UserSpecified   string `json:"user_specified" binding:"omitempty,datetime=2006-01-02"`
}

func (r JobDatesRequest) dates() recognition.JobDates {
	created, _ := ParseDate(r.CreatedAt)
	return recognition.JobDates{
		ActualArrival:   optionalDate(r.ActualArrival),
		Arrival:         optionalDate(r.Arrival),
		ActualDeparture: optionalDate(r.ActualDeparture),
		Departure:       optionalDate(r.Departure),
		BookingDate:     optionalDate(r.BookingDate),
		JobOpenDate:     optionalDate(r.JobOpenDate),
		CreatedAt:       created,
		UserSpecified:   optionalDate(r.UserSpecified),
	}
}

// optionalDate parses a value already checked by the datetime binding
func optionalDate(value string) *time.Time {
	t, err := ParseDate(value)
	if err != nil || t.IsZero() {
		return nil
	}
	return &t
}

// ChargeLineRequest is one charge line of the job
type ChargeLineRequest struct {
	LineNo      int               `json:"line_no" binding:"gte=0" example:"1"`
	Description string            `json:"description" binding:"max=500" example:"Ocean freight"`
	Values      map[string]string `json:"values" binding:"required"`
}

// JobOverridesRequest lets a job opt out of a side or pin its date basis
type JobOverridesRequest struct {
	WIPEnabled       *bool   `json:"wip_enabled"`
	WIPDateBasis     *string `json:"wip_date_basis" binding:"omitempty,oneof=ACTUAL_ARRIVAL ACTUAL_DEPARTURE JOB_BOOKING_DATE JOB_CREATION_DATE USER_SPECIFIED"`
	AccrualEnabled   *bool   `json:"accrual_enabled"`
	AccrualDateBasis *string `json:"accrual_date_basis" binding:"omitempty,oneof=ACTUAL_ARRIVAL ACTUAL_DEPARTURE JOB_BOOKING_DATE JOB_CREATION_DATE USER_SPECIFIED"`
}

func (r JobOverridesRequest) overrides() recognition.JobOverrides {
	o := recognition.JobOverrides{
		WIPEnabled:     r.WIPEnabled,
		AccrualEnabled: r.AccrualEnabled,
	}
	if r.WIPDateBasis != nil {
		b := recognition.DateBasis(*r.WIPDateBasis)
		o.WIPDateBasis = &b
	}
	if r.AccrualDateBasis != nil {
		b := recognition.DateBasis(*r.AccrualDateBasis)
		o.AccrualDateBasis = &b
	}
	return o
}

// UpsertJobRequest is a full job snapshot
// @Description Job snapshot
type UpsertJobRequest struct {
	CostCenter   string              `json:"cost_center" binding:"max=100" example:"AIR"`
	ProfitCenter string              `json:"profit_center" binding:"max=100" example:"EXPORT"`
	Branch       string              `json:"branch" binding:"max=100" example:"HKG"`
	Status       string              `json:"status" binding:"omitempty,oneof=OPEN COMPLETED CLOSED CANCELLED" example:"OPEN"`
	Dates        JobDatesRequest     `json:"dates"`
	ChargeLines  []ChargeLineRequest `json:"charge_lines" binding:"dive"`
	Overrides    JobOverridesRequest `json:"overrides"`
}

// ChangeStatusRequest moves a job to a new status
// @Description Job status change
type ChangeStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=OPEN COMPLETED CLOSED CANCELLED" example:"CLOSED"`
	Reason string `json:"reason" binding:"max=500" example:"Delivered"`
}

// RecordActualRequest reports an invoiced (WIP) or billed (ACCRUAL) amount
// @Description Actual amount
type RecordActualRequest struct {
	Side           string `json:"side" binding:"required,oneof=WIP ACCRUAL" example:"WIP"`
	Amount         string `json:"amount" binding:"required,decimal" example:"1200.00"`
	PostedOn       string `json:"posted_on" binding:"required,datetime=2006-01-02" example:"2024-03-28"`
	SourceDocument string `json:"source_document" binding:"required,max=100" example:"INV-1042"`
}

// Upsert godoc
// @ID           upsertJob
// @Summary      Create or replace a job snapshot
// @Description  Stores the job snapshot the recognition engine reads. A status that
// @Description  differs from the stored one is applied as a status change.
// @Tags         jobs
// @Accept       json
// @Produce      json
// @Param        type    path string           true "Job type"
// @Param        id      path string           true "Job ID"
// @Param        request body UpsertJobRequest true "Job snapshot"
// @Success      200 {object} APIResponse[apprec.JobView]
// @Success      201 {object} APIResponse[apprec.JobView]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Failure      409 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /jobs/{type}/{id} [put]
func (h *JobHandler) Upsert(c *gin.Context) {
	company, ok := h.Company(c)
	if !ok {
		return
	}
	ref, ok := h.JobRef(c)
	if !ok {
		return
	}
	var req UpsertJobRequest
	if !h.BindJSON(c, &req) {
		return
	}

	existing, err := h.jobs.GetJob(c.Request.Context(), ref)
	switch {
	case err == nil && existing.Job.Company != company:
		h.jobNotFound(c, ref)
		return
	case err != nil && !errors.Is(err, shared.ErrNotFound):
		h.HandleError(c, err)
		return
	}

	lines := make([]recognition.ChargeLine, 0, len(req.ChargeLines))
	for _, l := range req.ChargeLines {
		lines = append(lines, recognition.ChargeLine{LineNo: l.LineNo, Description: l.Description, Values: l.Values})
	}

	view, err := h.jobs.UpsertJob(c.Request.Context(), apprec.UpsertJobCommand{
		Job: ref,
		Scope: recognition.Scope{
			Company:      company,
			CostCenter:   req.CostCenter,
			ProfitCenter: req.ProfitCenter,
			Branch:       req.Branch,
		},
		Status:      recognition.JobStatus(req.Status),
		Dates:       req.Dates.dates(),
		ChargeLines: lines,
		Overrides:   req.Overrides.overrides(),
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if view.Created {
		h.Created(c, view)
		return
	}
	h.Success(c, view)
}

// Get godoc
// @ID           getJob
// @Summary      Get a job snapshot
// @Description  Returns the stored snapshot with the current revenue and cost estimate
// @Tags         jobs
// @Produce      json
// @Param        type path string true "Job type"
// @Param        id   path string true "Job ID"
// @Success      200 {object} APIResponse[apprec.JobView]
// @Failure      404 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /jobs/{type}/{id} [get]
func (h *JobHandler) Get(c *gin.Context) {
	view, ok := h.ownedJob(c)
	if !ok {
		return
	}
	h.Success(c, view)
}

// ChangeStatus godoc
// @ID           changeJobStatus
// @Summary      Change job status
// @Description  Closing or cancelling a job closes its recognition
// @Tags         jobs
// @Accept       json
// @Produce      json
// @Param        type    path string              true "Job type"
// @Param        id      path string              true "Job ID"
// @Param        request body ChangeStatusRequest true "Status"
// @Success      200 {object} APIResponse[recognition.Job]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Failure      409 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /jobs/{type}/{id}/status [post]
func (h *JobHandler) ChangeStatus(c *gin.Context) {
	view, ok := h.ownedJob(c)
	if !ok {
		return
	}
	var req ChangeStatusRequest
	if !h.BindJSON(c, &req) {
		return
	}

	job, err := h.jobs.ChangeStatus(c.Request.Context(), apprec.ChangeStatusCommand{
		Job:    view.Job.Ref,
		Status: recognition.JobStatus(req.Status),
		Reason: req.Reason,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, job)
}

// RecordActual godoc
// @ID           recordJobActual
// @Summary      Record an actual amount
// @Description  Records an invoice (WIP) or supplier bill (ACCRUAL) for the period-close
// @Description  batch. Repeating a source document returns 200 with recorded=false.
// @Tags         jobs
// @Accept       json
// @Produce      json
// @Param        type    path string              true "Job type"
// @Param        id      path string              true "Job ID"
// @Param        request body RecordActualRequest true "Actual"
// @Success      200 {object} APIResponse[apprec.RecordActualResult]
// @Success      201 {object} APIResponse[apprec.RecordActualResult]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /jobs/{type}/{id}/actuals [post]
func (h *JobHandler) RecordActual(c *gin.Context) {
	view, ok := h.ownedJob(c)
	if !ok {
		return
	}
	var req RecordActualRequest
	if !h.BindJSON(c, &req) {
		return
	}
	postedOn, err := ParseDate(req.PostedOn)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	result, err := h.jobs.RecordActual(c.Request.Context(), apprec.RecordActualCommand{
		Job:            view.Job.Ref,
		Side:           recognition.Side(req.Side),
		Amount:         decimal.RequireFromString(req.Amount),
		PostedOn:       postedOn,
		SourceDocument: req.SourceDocument,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if result.Recorded {
		h.Created(c, result)
		return
	}
	h.Success(c, result)
}

func (h *JobHandler) ownedJob(c *gin.Context) (*apprec.JobView, bool) {
	company, ok := h.Company(c)
	if !ok {
		return nil, false
	}
	ref, ok := h.JobRef(c)
	if !ok {
		return nil, false
	}
	view, err := h.jobs.GetJob(c.Request.Context(), ref)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			h.jobNotFound(c, ref)
			return nil, false
		}
		h.HandleError(c, err)
		return nil, false
	}
	if view.Job.Company != company {
		h.jobNotFound(c, ref)
		return nil, false
	}
	return view, true
}

func (h *JobHandler) jobNotFound(c *gin.Context, ref recognition.JobRef) {
	h.Error(c, http.StatusNotFound, dto.ErrCodeNotFound, "Job "+ref.String()+" not found")
}
