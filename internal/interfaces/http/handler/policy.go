package handler

import (
	"context"
	"net/http"

	apprec "github.com/freight/recognition/internal/application/recognition"
	"github.com/freight/recognition/internal/domain/recognition"
	"github.com/freight/recognition/internal/domain/shared"
	"github.com/freight/recognition/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PolicyHandler serves recognition policy administration
type PolicyHandler struct {
	BaseHandler
	policies *apprec.PolicyService
}

// NewPolicyHandler creates a new PolicyHandler
func NewPolicyHandler(policyService *apprec.PolicyService) *PolicyHandler {
	return &PolicyHandler{policies: policyService}
}

// SideSettingsRequest configures one side of a policy
// @Description Side settings
type SideSettingsRequest struct {
	Enabled       bool   `json:"enabled" example:"true"`
	DateBasis     string `json:"date_basis" binding:"omitempty,oneof=ACTUAL_ARRIVAL ACTUAL_DEPARTURE JOB_BOOKING_DATE JOB_CREATION_DATE USER_SPECIFIED" example:"ACTUAL_DEPARTURE"`
	DebitAccount  string `json:"debit_account" binding:"max=50" example:"1410-WIP"`
	CreditAccount string `json:"credit_account" binding:"max=50" example:"2410-DEFERRED-REV"`
	MinimumAmount string `json:"minimum_amount" binding:"omitempty,decimal" example:"50.00"`
}

func (r SideSettingsRequest) settings() recognition.SideSettings {
	minimum := decimal.Zero
	if r.MinimumAmount != "" {
		minimum = decimal.RequireFromString(r.MinimumAmount)
	}
	return recognition.SideSettings{
		Enabled:       r.Enabled,
		DateBasis:     recognition.DateBasis(r.DateBasis),
		DebitAccount:  r.DebitAccount,
		CreditAccount: r.CreditAccount,
		MinimumAmount: minimum,
	}
}

// PolicyRequest creates or replaces a policy. The company is always the caller's.
// Empty cost center, profit center or branch match any job.
// @Description Policy request
type PolicyRequest struct {
	Name         string              `json:"name" binding:"required,min=1,max=200" example:"Air freight HK"`
	CostCenter   string              `json:"cost_center" binding:"max=100" example:"AIR"`
	ProfitCenter string              `json:"profit_center" binding:"max=100" example:""`
	Branch       string              `json:"branch" binding:"max=100" example:"HKG"`
	Priority     int                 `json:"priority" binding:"gte=0" example:"0"`
	WIP          SideSettingsRequest `json:"wip"`
	Accrual      SideSettingsRequest `json:"accrual"`
	// Enabled is honoured on create only
	Enabled *bool `json:"enabled" example:"true"`
}

func (r PolicyRequest) command(company string) apprec.PolicyCommand {
	return apprec.PolicyCommand{
		Name: r.Name,
		Scope: recognition.Scope{
			Company:      company,
			CostCenter:   r.CostCenter,
			ProfitCenter: r.ProfitCenter,
			Branch:       r.Branch,
		},
		Priority: r.Priority,
		WIP:      r.WIP.settings(),
		Accrual:  r.Accrual.settings(),
		Enabled:  r.Enabled,
	}
}

// PolicyListQuery filters policy listings
type PolicyListQuery struct {
	dto.ListRequest
	Enabled        *bool  `form:"enabled"`
	IncludeDeleted bool   `form:"include_deleted"`
	Search         string `form:"search" binding:"max=100"`
}

// PreviewRequest is the job scope to rank policies for
// @Description Policy preview request
type PreviewRequest struct {
	CostCenter   string `json:"cost_center" binding:"max=100" example:"AIR"`
	ProfitCenter string `json:"profit_center" binding:"max=100" example:"EXPORT"`
	Branch       string `json:"branch" binding:"max=100" example:"HKG"`
}

// Create godoc
// @ID           createPolicy
// @Summary      Create a recognition policy
// @Tags         policies
// @Accept       json
// @Produce      json
// @Param        request body PolicyRequest true "Policy"
// @Success      201 {object} APIResponse[recognition.Policy]
// @Failure      400 {object} ErrorResponse
// @Failure      409 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /policies [post]
func (h *PolicyHandler) Create(c *gin.Context) {
	company, ok := h.Company(c)
	if !ok {
		return
	}
	var req PolicyRequest
	if !h.BindJSON(c, &req) {
		return
	}

	policy, err := h.policies.Create(c.Request.Context(), req.command(company))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, policy)
}

// List godoc
// @ID           listPolicies
// @Summary      List recognition policies
// @Tags         policies
// @Produce      json
// @Param        page            query int    false "Page"  default(1)
// @Param        page_size       query int    false "Page size"  default(20)
// @Param        order_by        query string false "Sort field"
// @Param        order_dir       query string false "Sort order"  Enums(asc, desc)
// @Param        enabled         query bool   false "Filter by enabled flag"
// @Param        include_deleted query bool   false "Include deleted policies"
// @Param        search          query string false "Name contains"
// @Success      200 {object} APIResponse[[]recognition.Policy]
// @Security     BearerAuth
// @Router       /policies [get]
func (h *PolicyHandler) List(c *gin.Context) {
	company, ok := h.Company(c)
	if !ok {
		return
	}
	var q PolicyListQuery
	if !h.BindQuery(c, &q) {
		return
	}
	q.Normalize()

	policies, total, err := h.policies.List(c.Request.Context(), recognition.PolicyFilter{
		Filter: shared.Filter{
			Page:     q.Page,
			PageSize: q.PageSize,
			OrderBy:  q.OrderBy,
			OrderDir: q.OrderDir,
			Search:   q.Search,
		},
		Company:        company,
		Enabled:        q.Enabled,
		IncludeDeleted: q.IncludeDeleted,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.SuccessWithMeta(c, policies, total, q.Page, q.PageSize)
}

// Get godoc
// @ID           getPolicy
// @Summary      Get a recognition policy
// @Tags         policies
// @Produce      json
// @Param        id path string true "Policy ID" format(uuid)
// @Success      200 {object} APIResponse[recognition.Policy]
// @Failure      404 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /policies/{id} [get]
func (h *PolicyHandler) Get(c *gin.Context) {
	policy, _, ok := h.ownedPolicy(c)
	if !ok {
		return
	}
	h.Success(c, policy)
}

// Update godoc
// @ID           updatePolicy
// @Summary      Replace a recognition policy
// @Description  Replaces name, scope, priority and side settings. Open recognitions keep
// @Description  the accounts they were opened with.
// @Tags         policies
// @Accept       json
// @Produce      json
// @Param        id      path string        true "Policy ID" format(uuid)
// @Param        request body PolicyRequest true "Policy"
// @Success      200 {object} APIResponse[recognition.Policy]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Failure      409 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /policies/{id} [put]
func (h *PolicyHandler) Update(c *gin.Context) {
	existing, company, ok := h.ownedPolicy(c)
	if !ok {
		return
	}
	var req PolicyRequest
	if !h.BindJSON(c, &req) {
		return
	}

	policy, err := h.policies.Update(c.Request.Context(), existing.ID, req.command(company))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, policy)
}

// Enable godoc
// @ID           enablePolicy
// @Summary      Enable a recognition policy
// @Tags         policies
// @Produce      json
// @Param        id path string true "Policy ID" format(uuid)
// @Success      200 {object} APIResponse[recognition.Policy]
// @Failure      404 {object} ErrorResponse
// @Failure      409 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /policies/{id}/enable [post]
func (h *PolicyHandler) Enable(c *gin.Context) {
	h.toggle(c, h.policies.Enable)
}

// Disable godoc
// @ID           disablePolicy
// @Summary      Disable a recognition policy
// @Tags         policies
// @Produce      json
// @Param        id path string true "Policy ID" format(uuid)
// @Success      200 {object} APIResponse[recognition.Policy]
// @Failure      404 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /policies/{id}/disable [post]
func (h *PolicyHandler) Disable(c *gin.Context) {
	h.toggle(c, h.policies.Disable)
}

func (h *PolicyHandler) toggle(c *gin.Context, op func(ctx context.Context, id uuid.UUID) (*recognition.Policy, error)) {
	existing, _, ok := h.ownedPolicy(c)
	if !ok {
		return
	}
	policy, err := op(c.Request.Context(), existing.ID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, policy)
}

// Delete godoc
// @ID           deletePolicy
// @Summary      Delete a recognition policy
// @Description  Soft-deletes the policy; it stays readable with include_deleted
// @Tags         policies
// @Param        id path string true "Policy ID" format(uuid)
// @Success      204
// @Failure      404 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /policies/{id} [delete]
func (h *PolicyHandler) Delete(c *gin.Context) {
	existing, _, ok := h.ownedPolicy(c)
	if !ok {
		return
	}
	if err := h.policies.Delete(c.Request.Context(), existing.ID); err != nil {
		h.HandleError(c, err)
		return
	}
	h.NoContent(c)
}

// Preview godoc
// @ID           previewPolicy
// @Summary      Preview policy resolution
// @Description  Ranks the active policies of the caller's company for a job scope and
// @Description  marks the one recognition would use
// @Tags         policies
// @Accept       json
// @Produce      json
// @Param        request body PreviewRequest true "Job scope"
// @Success      200 {object} APIResponse[apprec.PolicyPreview]
// @Failure      400 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /policies/preview [post]
func (h *PolicyHandler) Preview(c *gin.Context) {
	company, ok := h.Company(c)
	if !ok {
		return
	}
	var req PreviewRequest
	if !h.BindJSON(c, &req) {
		return
	}

	preview, err := h.policies.Preview(c.Request.Context(), recognition.Scope{
		Company:      company,
		CostCenter:   req.CostCenter,
		ProfitCenter: req.ProfitCenter,
		Branch:       req.Branch,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, preview)
}

// ownedPolicy loads the :id policy, reporting policies of other companies as not found
func (h *PolicyHandler) ownedPolicy(c *gin.Context) (*recognition.Policy, string, bool) {
	company, ok := h.Company(c)
	if !ok {
		return nil, "", false
	}
	var uri dto.IDRequest
	if err := c.ShouldBindUri(&uri); err != nil {
		h.bindError(c, err)
		return nil, "", false
	}

	policy, err := h.policies.Get(c.Request.Context(), uuid.MustParse(uri.ID))
	if err != nil {
		h.HandleError(c, err)
		return nil, "", false
	}
	if policy.Company != company {
		h.Error(c, http.StatusNotFound, dto.ErrCodeNotFound, "Policy not found")
		return nil, "", false
	}
	return policy, company, true
}
