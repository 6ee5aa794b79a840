package handler

import (
	billingapp "github.com/billing/backend/internal/application/billing"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// PublicInvoiceHandler serves the unauthenticated pay-by-link view.
// The access token doubles as the credential, so invalid tokens get the
// same 404 as missing invoices to avoid leaking which tokens exist.
type PublicInvoiceHandler struct {
	BaseHandler
	invoiceService *billingapp.InvoiceService
}

// NewPublicInvoiceHandler creates a new PublicInvoiceHandler
func NewPublicInvoiceHandler(invoiceService *billingapp.InvoiceService) *PublicInvoiceHandler {
	return &PublicInvoiceHandler{
		invoiceService: invoiceService,
	}
}

// GetByToken handles GET /public/invoices/:token
func (h *PublicInvoiceHandler) GetByToken(c *gin.Context) {
	token, err := uuid.Parse(c.Param("token"))
	if err != nil {
		h.NotFound(c, "Invoice not found")
		return
	}

	invoice, err := h.invoiceService.GetPublicInvoice(c.Request.Context(), token)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, invoice)
}
