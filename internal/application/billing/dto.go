package billing

import (
	"time"

	"github.com/billing/backend/internal/domain/billing"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InvoiceItemRequest represents a line item in a create or update request
type InvoiceItemRequest struct {
	Product     string          `json:"product" binding:"required,min=1,max=255"`
	Description string          `json:"description" binding:"required,min=1,max=500"`
	Quantity    decimal.Decimal `json:"quantity" binding:"required"`
	UnitPrice   decimal.Decimal `json:"unit_price" binding:"required"`
}

// CreateInvoiceRequest represents a request to create a new draft invoice
type CreateInvoiceRequest struct {
	ClientID             uuid.UUID            `json:"client_id" binding:"required"`
	ClientName           string               `json:"client_name" binding:"required,min=1,max=200"`
	IssueDate            time.Time            `json:"issue_date" binding:"required"`
	DueDate              time.Time            `json:"due_date" binding:"required"`
	Items                []InvoiceItemRequest `json:"items" binding:"required,min=1,dive"`
	TaxRate              decimal.Decimal      `json:"tax_rate"`
	LateFeePercent       decimal.Decimal      `json:"late_fee_percent"`
	AllowPartialPayments bool                 `json:"allow_partial_payments"`
	MinimumPaymentAmount decimal.Decimal      `json:"minimum_payment_amount"`
	Notes                string               `json:"notes" binding:"max=2000"`
}

// UpdateInvoiceRequest represents a request to update a draft invoice
type UpdateInvoiceRequest struct {
	ClientName           string               `json:"client_name" binding:"required,min=1,max=200"`
	IssueDate            time.Time            `json:"issue_date" binding:"required"`
	DueDate              time.Time            `json:"due_date" binding:"required"`
	Items                []InvoiceItemRequest `json:"items" binding:"required,min=1,dive"`
	TaxRate              decimal.Decimal      `json:"tax_rate"`
	LateFeePercent       decimal.Decimal      `json:"late_fee_percent"`
	AllowPartialPayments bool                 `json:"allow_partial_payments"`
	MinimumPaymentAmount decimal.Decimal      `json:"minimum_payment_amount"`
	Notes                string               `json:"notes" binding:"max=2000"`
}

// ReplaceItemsRequest represents a request to replace a draft invoice's items
type ReplaceItemsRequest struct {
	Items []InvoiceItemRequest `json:"items" binding:"required,min=1,dive"`
}

// CancelInvoiceRequest represents a request to cancel an invoice
type CancelInvoiceRequest struct {
	Reason string `json:"reason" binding:"required,min=1,max=500"`
}

// InvoiceItemResponse represents a line item in API responses
type InvoiceItemResponse struct {
	ID          uuid.UUID       `json:"id"`
	Product     string          `json:"product"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

// InvoiceResponse represents an invoice in API responses
type InvoiceResponse struct {
	ID                   uuid.UUID             `json:"id"`
	InvoiceNumber        string                `json:"invoice_number"`
	ClientID             uuid.UUID             `json:"client_id"`
	ClientName           string                `json:"client_name"`
	Status               string                `json:"status"`
	IssueDate            time.Time             `json:"issue_date"`
	DueDate              time.Time             `json:"due_date"`
	Items                []InvoiceItemResponse `json:"items"`
	TaxRate              decimal.Decimal       `json:"tax_rate"`
	Subtotal             decimal.Decimal       `json:"subtotal"`
	TaxAmount            decimal.Decimal       `json:"tax_amount"`
	LateFeePercent       decimal.Decimal       `json:"late_fee_percent"`
	LateFeeApplied       bool                  `json:"late_fee_applied"`
	LateFeeAmount        decimal.Decimal       `json:"late_fee_amount"`
	TotalAmount          decimal.Decimal       `json:"total_amount"`
	PaidAmount           decimal.Decimal       `json:"paid_amount"`
	Balance              decimal.Decimal       `json:"balance"`
	AllowPartialPayments bool                  `json:"allow_partial_payments"`
	MinimumPaymentAmount decimal.Decimal       `json:"minimum_payment_amount"`
	Notes                string                `json:"notes,omitempty"`
	PaidAt               *time.Time            `json:"paid_at,omitempty"`
	CancelledAt          *time.Time            `json:"cancelled_at,omitempty"`
	CancelReason         string                `json:"cancel_reason,omitempty"`
	RemindersSent        int                   `json:"reminders_sent"`
	LastReminderAt       *time.Time            `json:"last_reminder_at,omitempty"`
	CreatedAt            time.Time             `json:"created_at"`
	UpdatedAt            time.Time             `json:"updated_at"`
	Version              int                   `json:"version"`
}

// InvoiceListResponse represents a list item for invoices
type InvoiceListResponse struct {
	ID            uuid.UUID       `json:"id"`
	InvoiceNumber string          `json:"invoice_number"`
	ClientID      uuid.UUID       `json:"client_id"`
	ClientName    string          `json:"client_name"`
	Status        string          `json:"status"`
	IssueDate     time.Time       `json:"issue_date"`
	DueDate       time.Time       `json:"due_date"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	PaidAmount    decimal.Decimal `json:"paid_amount"`
	Balance       decimal.Decimal `json:"balance"`
	CreatedAt     time.Time       `json:"created_at"`
}

// PublicInvoiceResponse is the reduced view served through a pay-by-link
// token. PayableAmount already subtracts any pending gateway payment.
type PublicInvoiceResponse struct {
	InvoiceNumber        string                `json:"invoice_number"`
	ClientName           string                `json:"client_name"`
	Status               string                `json:"status"`
	IssueDate            time.Time             `json:"issue_date"`
	DueDate              time.Time             `json:"due_date"`
	Items                []InvoiceItemResponse `json:"items"`
	TotalAmount          decimal.Decimal       `json:"total_amount"`
	PaidAmount           decimal.Decimal       `json:"paid_amount"`
	Balance              decimal.Decimal       `json:"balance"`
	PayableAmount        decimal.Decimal       `json:"payable_amount"`
	HasPendingPayment    bool                  `json:"has_pending_payment"`
	IsOverdue            bool                  `json:"is_overdue"`
	DaysOverdue          int                   `json:"days_overdue"`
	LateFeeApplied       bool                  `json:"late_fee_applied"`
	LateFeeAmount        decimal.Decimal       `json:"late_fee_amount"`
	AllowPartialPayments bool                  `json:"allow_partial_payments"`
	MinimumPaymentAmount decimal.Decimal       `json:"minimum_payment_amount"`
}

// RecordPaymentRequest represents a request to record a payment on an invoice
type RecordPaymentRequest struct {
	Amount               decimal.Decimal `json:"amount" binding:"required"`
	Method               string          `json:"method" binding:"required"`
	PaymentDate          time.Time       `json:"payment_date" binding:"required"`
	GatewayTransactionID string          `json:"gateway_transaction_id" binding:"max=200"`
	Reference            string          `json:"reference" binding:"max=200"`
	Notes                string          `json:"notes" binding:"max=2000"`
}

// RefundPaymentRequest represents a request to refund a completed payment
type RefundPaymentRequest struct {
	Reason string `json:"reason" binding:"required,min=1,max=500"`
}

// PaymentResponse represents a payment in API responses
type PaymentResponse struct {
	ID                   uuid.UUID       `json:"id"`
	InvoiceID            uuid.UUID       `json:"invoice_id"`
	ClientID             uuid.UUID       `json:"client_id"`
	Method               string          `json:"method"`
	Status               string          `json:"status"`
	Amount               decimal.Decimal `json:"amount"`
	PaymentDate          time.Time       `json:"payment_date"`
	GatewayTransactionID string          `json:"gateway_transaction_id,omitempty"`
	Reference            string          `json:"reference,omitempty"`
	Notes                string          `json:"notes,omitempty"`
	FailureReason        string          `json:"failure_reason,omitempty"`
	RefundReason         string          `json:"refund_reason,omitempty"`
	CompletedAt          *time.Time      `json:"completed_at,omitempty"`
	FailedAt             *time.Time      `json:"failed_at,omitempty"`
	RefundedAt           *time.Time      `json:"refunded_at,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	Version              int             `json:"version"`
}

// RecordPaymentResult bundles the recorded payment with the invoice state
// it produced
type RecordPaymentResult struct {
	Payment *PaymentResponse `json:"payment"`
	Invoice *InvoiceResponse `json:"invoice"`
}

// CreateRecurringInvoiceRequest represents a request to create a template
type CreateRecurringInvoiceRequest struct {
	Name                 string               `json:"name" binding:"required,min=1,max=200"`
	ClientID             uuid.UUID            `json:"client_id" binding:"required"`
	ClientName           string               `json:"client_name" binding:"required,min=1,max=200"`
	Items                []InvoiceItemRequest `json:"items" binding:"required,min=1,dive"`
	TaxRate              decimal.Decimal      `json:"tax_rate"`
	LateFeePercent       decimal.Decimal      `json:"late_fee_percent"`
	AllowPartialPayments bool                 `json:"allow_partial_payments"`
	MinimumPaymentAmount decimal.Decimal      `json:"minimum_payment_amount"`
	Frequency            string               `json:"frequency" binding:"required"`
	StartDate            time.Time            `json:"start_date" binding:"required"`
	EndDate              *time.Time           `json:"end_date"`
	PaymentDueDays       int                  `json:"payment_due_days" binding:"required,min=1"`
	Notes                string               `json:"notes" binding:"max=2000"`
}

// UpdateRecurringInvoiceRequest represents a request to update a template
type UpdateRecurringInvoiceRequest struct {
	Name                 string               `json:"name" binding:"required,min=1,max=200"`
	Items                []InvoiceItemRequest `json:"items" binding:"required,min=1,dive"`
	TaxRate              decimal.Decimal      `json:"tax_rate"`
	LateFeePercent       decimal.Decimal      `json:"late_fee_percent"`
	AllowPartialPayments bool                 `json:"allow_partial_payments"`
	MinimumPaymentAmount decimal.Decimal      `json:"minimum_payment_amount"`
	EndDate              *time.Time           `json:"end_date"`
	PaymentDueDays       int                  `json:"payment_due_days" binding:"required,min=1"`
	Notes                string               `json:"notes" binding:"max=2000"`
}

// RecurringInvoiceResponse represents a template in API responses
type RecurringInvoiceResponse struct {
	ID                   uuid.UUID             `json:"id"`
	Name                 string                `json:"name"`
	ClientID             uuid.UUID             `json:"client_id"`
	ClientName           string                `json:"client_name"`
	Items                []InvoiceItemResponse `json:"items"`
	TaxRate              decimal.Decimal       `json:"tax_rate"`
	LateFeePercent       decimal.Decimal       `json:"late_fee_percent"`
	AllowPartialPayments bool                  `json:"allow_partial_payments"`
	MinimumPaymentAmount decimal.Decimal       `json:"minimum_payment_amount"`
	Frequency            string                `json:"frequency"`
	StartDate            time.Time             `json:"start_date"`
	EndDate              *time.Time            `json:"end_date,omitempty"`
	PaymentDueDays       int                   `json:"payment_due_days"`
	Active               bool                  `json:"active"`
	NextGenerationDate   time.Time             `json:"next_generation_date"`
	LastGeneratedAt      *time.Time            `json:"last_generated_at,omitempty"`
	GeneratedCount       int                   `json:"generated_count"`
	Notes                string                `json:"notes,omitempty"`
	CreatedAt            time.Time             `json:"created_at"`
	UpdatedAt            time.Time             `json:"updated_at"`
	Version              int                   `json:"version"`
}

// toItemResponses converts domain line items to response DTOs
func toItemResponses(items billing.InvoiceItems) []InvoiceItemResponse {
	out := make([]InvoiceItemResponse, 0, len(items))
	for _, item := range items {
		out = append(out, InvoiceItemResponse{
			ID:          item.ID,
			Product:     item.Product,
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			LineTotal:   item.LineTotal,
		})
	}
	return out
}

// toDomainItems converts request line items to validated domain items
func toDomainItems(items []InvoiceItemRequest) ([]billing.InvoiceItem, error) {
	out := make([]billing.InvoiceItem, 0, len(items))
	for _, req := range items {
		item, err := billing.NewInvoiceItem(req.Product, req.Description, req.Quantity, req.UnitPrice)
		if err != nil {
			return nil, err
		}
		out = append(out, *item)
	}
	return out, nil
}

// ToInvoiceResponse converts an invoice aggregate to a response DTO
func ToInvoiceResponse(inv *billing.Invoice) *InvoiceResponse {
	return &InvoiceResponse{
		ID:                   inv.ID,
		InvoiceNumber:        inv.InvoiceNumber,
		ClientID:             inv.ClientID,
		ClientName:           inv.ClientName,
		Status:               string(inv.Status),
		IssueDate:            inv.IssueDate,
		DueDate:              inv.DueDate,
		Items:                toItemResponses(inv.Items),
		TaxRate:              inv.TaxRate,
		Subtotal:             inv.Subtotal,
		TaxAmount:            inv.TaxAmount,
		LateFeePercent:       inv.LateFeePercent,
		LateFeeApplied:       inv.LateFeeApplied,
		LateFeeAmount:        inv.LateFeeAmount,
		TotalAmount:          inv.TotalAmount,
		PaidAmount:           inv.PaidAmount,
		Balance:              inv.Balance(),
		AllowPartialPayments: inv.AllowPartialPayments,
		MinimumPaymentAmount: inv.MinimumPaymentAmount,
		Notes:                inv.Notes,
		PaidAt:               inv.PaidAt,
		CancelledAt:          inv.CancelledAt,
		CancelReason:         inv.CancelReason,
		RemindersSent:        inv.RemindersSent,
		LastReminderAt:       inv.LastReminderAt,
		CreatedAt:            inv.CreatedAt,
		UpdatedAt:            inv.UpdatedAt,
		Version:              inv.Version,
	}
}

// ToInvoiceListResponse converts an invoice aggregate to a list DTO
func ToInvoiceListResponse(inv *billing.Invoice) InvoiceListResponse {
	return InvoiceListResponse{
		ID:            inv.ID,
		InvoiceNumber: inv.InvoiceNumber,
		ClientID:      inv.ClientID,
		ClientName:    inv.ClientName,
		Status:        string(inv.Status),
		IssueDate:     inv.IssueDate,
		DueDate:       inv.DueDate,
		TotalAmount:   inv.TotalAmount,
		PaidAmount:    inv.PaidAmount,
		Balance:       inv.Balance(),
		CreatedAt:     inv.CreatedAt,
	}
}

// ToPaymentResponse converts a payment aggregate to a response DTO
func ToPaymentResponse(p *billing.Payment) *PaymentResponse {
	return &PaymentResponse{
		ID:                   p.ID,
		InvoiceID:            p.InvoiceID,
		ClientID:             p.ClientID,
		Method:               string(p.Method),
		Status:               string(p.Status),
		Amount:               p.Amount,
		PaymentDate:          p.PaymentDate,
		GatewayTransactionID: p.GatewayTransactionID,
		Reference:            p.Reference,
		Notes:                p.Notes,
		FailureReason:        p.FailureReason,
		RefundReason:         p.RefundReason,
		CompletedAt:          p.CompletedAt,
		FailedAt:             p.FailedAt,
		RefundedAt:           p.RefundedAt,
		CreatedAt:            p.CreatedAt,
		Version:              p.Version,
	}
}

// ToRecurringInvoiceResponse converts a template aggregate to a response DTO
func ToRecurringInvoiceResponse(r *billing.RecurringInvoice) *RecurringInvoiceResponse {
	return &RecurringInvoiceResponse{
		ID:                   r.ID,
		Name:                 r.Name,
		ClientID:             r.ClientID,
		ClientName:           r.ClientName,
		Items:                toItemResponses(r.Items),
		TaxRate:              r.TaxRate,
		LateFeePercent:       r.LateFeePercent,
		AllowPartialPayments: r.AllowPartialPayments,
		MinimumPaymentAmount: r.MinimumPaymentAmount,
		Frequency:            string(r.Frequency),
		StartDate:            r.StartDate,
		EndDate:              r.EndDate,
		PaymentDueDays:       r.PaymentDueDays,
		Active:               r.Active,
		NextGenerationDate:   r.NextGenerationDate,
		LastGeneratedAt:      r.LastGeneratedAt,
		GeneratedCount:       r.GeneratedCount,
		Notes:                r.Notes,
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
		Version:              r.Version,
	}
}
