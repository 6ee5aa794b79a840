package handler

import (
	billingapp "github.com/billing/backend/internal/application/billing"
	"github.com/billing/backend/internal/domain/billing"
	"github.com/billing/backend/internal/domain/shared"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RecurringInvoiceHandler handles recurring invoice template API endpoints
type RecurringInvoiceHandler struct {
	BaseHandler
	recurringService *billingapp.RecurringInvoiceService
}

// NewRecurringInvoiceHandler creates a new RecurringInvoiceHandler
func NewRecurringInvoiceHandler(recurringService *billingapp.RecurringInvoiceService) *RecurringInvoiceHandler {
	return &RecurringInvoiceHandler{
		recurringService: recurringService,
	}
}

// RecurringInvoiceListQuery binds the query parameters for template listing
type RecurringInvoiceListQuery struct {
	Page       int    `form:"page"`
	PageSize   int    `form:"page_size" binding:"omitempty,max=100"`
	OrderBy    string `form:"order_by"`
	OrderDir   string `form:"order_dir" binding:"omitempty,oneof=asc desc"`
	Search     string `form:"search"`
	ClientID   string `form:"client_id" binding:"omitempty,uuid"`
	ActiveOnly bool   `form:"active_only"`
	Frequency  string `form:"frequency"`
}

// SetActiveRequest toggles a template's active flag
type SetActiveRequest struct {
	Active *bool `json:"active" binding:"required"`
}

// Create handles POST /recurring-invoices
func (h *RecurringInvoiceHandler) Create(c *gin.Context) {
	organizationID, err := getOrganizationID(c)
	if err != nil {
		h.BadRequest(c, "Invalid organization ID")
		return
	}

	var req billingapp.CreateRecurringInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	var createdBy *uuid.UUID
	if userID, err := getUserID(c); err == nil && userID != uuid.Nil {
		createdBy = &userID
	}

	template, err := h.recurringService.CreateRecurringInvoice(c.Request.Context(), organizationID, createdBy, req)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Created(c, template)
}

// GetByID handles GET /recurring-invoices/:id
func (h *RecurringInvoiceHandler) GetByID(c *gin.Context) {
	organizationID, err := getOrganizationID(c)
	if err != nil {
		h.BadRequest(c, "Invalid organization ID")
		return
	}

	templateID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid template ID format")
		return
	}

	template, err := h.recurringService.GetRecurringInvoice(c.Request.Context(), organizationID, templateID)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, template)
}

// List handles GET /recurring-invoices
func (h *RecurringInvoiceHandler) List(c *gin.Context) {
	organizationID, err := getOrganizationID(c)
	if err != nil {
		h.BadRequest(c, "Invalid organization ID")
		return
	}

	var query RecurringInvoiceListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	filter, err := query.toFilter()
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	result, err := h.recurringService.ListRecurringInvoices(c.Request.Context(), organizationID, filter)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.SuccessWithMeta(c, result.Items, result.Total, result.Page, result.PageSize)
}

// Update handles PUT /recurring-invoices/:id
func (h *RecurringInvoiceHandler) Update(c *gin.Context) {
	organizationID, err := getOrganizationID(c)
	if err != nil {
		h.BadRequest(c, "Invalid organization ID")
		return
	}

	templateID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid template ID format")
		return
	}

	var req billingapp.UpdateRecurringInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	template, err := h.recurringService.UpdateRecurringInvoice(c.Request.Context(), organizationID, templateID, req)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, template)
}

// SetActive handles PUT /recurring-invoices/:id/active
func (h *RecurringInvoiceHandler) SetActive(c *gin.Context) {
	organizationID, err := getOrganizationID(c)
	if err != nil {
		h.BadRequest(c, "Invalid organization ID")
		return
	}

	templateID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid template ID format")
		return
	}

	var req SetActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	template, err := h.recurringService.SetRecurringInvoiceActive(c.Request.Context(), organizationID, templateID, *req.Active)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, template)
}

// Delete handles DELETE /recurring-invoices/:id
func (h *RecurringInvoiceHandler) Delete(c *gin.Context) {
	organizationID, err := getOrganizationID(c)
	if err != nil {
		h.BadRequest(c, "Invalid organization ID")
		return
	}

	templateID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid template ID format")
		return
	}

	if err := h.recurringService.DeleteRecurringInvoice(c.Request.Context(), organizationID, templateID); err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.NoContent(c)
}

// GenerateNow handles POST /recurring-invoices/:id/generate and forces
// generation outside the regular schedule
func (h *RecurringInvoiceHandler) GenerateNow(c *gin.Context) {
	organizationID, err := getOrganizationID(c)
	if err != nil {
		h.BadRequest(c, "Invalid organization ID")
		return
	}

	templateID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid template ID format")
		return
	}

	invoice, err := h.recurringService.GenerateNow(c.Request.Context(), organizationID, templateID)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Created(c, invoice)
}

// toFilter converts the bound query into a domain filter
func (q *RecurringInvoiceListQuery) toFilter() (billing.RecurringInvoiceFilter, error) {
	filter := billing.RecurringInvoiceFilter{
		Filter:     listFilter(q.Page, q.PageSize, q.OrderBy, q.OrderDir, q.Search),
		ActiveOnly: q.ActiveOnly,
	}

	if q.ClientID != "" {
		id, err := uuid.Parse(q.ClientID)
		if err != nil {
			return filter, err
		}
		filter.ClientID = &id
	}
	if q.Frequency != "" {
		frequency := billing.RecurrenceFrequency(q.Frequency)
		if !frequency.IsValid() {
			return filter, shared.NewDomainError("INVALID_FREQUENCY", "Unknown frequency "+q.Frequency)
		}
		filter.Frequency = &frequency
	}

	return filter, nil
}
