package billing

import (
	"time"

	"github.com/billing/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentRecordedEvent is raised when a payment is first recorded
type PaymentRecordedEvent struct {
	shared.BaseDomainEvent
	PaymentID   uuid.UUID       `json:"payment_id"`
	InvoiceID   uuid.UUID       `json:"invoice_id"`
	Method      PaymentMethod   `json:"method"`
	Status      PaymentStatus   `json:"status"`
	Amount      decimal.Decimal `json:"amount"`
	PaymentDate time.Time       `json:"payment_date"`
}

// EventType returns the event type name
func (e *PaymentRecordedEvent) EventType() string {
	return "PaymentRecorded"
}

// NewPaymentRecordedEvent creates a new PaymentRecordedEvent
func NewPaymentRecordedEvent(p *Payment) *PaymentRecordedEvent {
	return &PaymentRecordedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent("PaymentRecorded", "Payment", p.ID, p.OrganizationID),
		PaymentID:       p.ID,
		InvoiceID:       p.InvoiceID,
		Method:          p.Method,
		Status:          p.Status,
		Amount:          p.Amount,
		PaymentDate:     p.PaymentDate,
	}
}

// PaymentCompletedEvent is raised when a payment transitions to COMPLETED
type PaymentCompletedEvent struct {
	shared.BaseDomainEvent
	PaymentID   uuid.UUID       `json:"payment_id"`
	InvoiceID   uuid.UUID       `json:"invoice_id"`
	Method      PaymentMethod   `json:"method"`
	Amount      decimal.Decimal `json:"amount"`
	CompletedAt time.Time       `json:"completed_at"`
}

// EventType returns the event type name
func (e *PaymentCompletedEvent) EventType() string {
	return "PaymentCompleted"
}

// NewPaymentCompletedEvent creates a new PaymentCompletedEvent
func NewPaymentCompletedEvent(p *Payment) *PaymentCompletedEvent {
	completedAt := time.Now()
	if p.CompletedAt != nil {
		completedAt = *p.CompletedAt
	}
	return &PaymentCompletedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent("PaymentCompleted", "Payment", p.ID, p.OrganizationID),
		PaymentID:       p.ID,
		InvoiceID:       p.InvoiceID,
		Method:          p.Method,
		Amount:          p.Amount,
		CompletedAt:     completedAt,
	}
}

// PaymentFailedEvent is raised when a payment transitions to FAILED
type PaymentFailedEvent struct {
	shared.BaseDomainEvent
	PaymentID     uuid.UUID       `json:"payment_id"`
	InvoiceID     uuid.UUID       `json:"invoice_id"`
	Method        PaymentMethod   `json:"method"`
	Amount        decimal.Decimal `json:"amount"`
	FailureReason string          `json:"failure_reason"`
	FailedAt      time.Time       `json:"failed_at"`
}

// EventType returns the event type name
func (e *PaymentFailedEvent) EventType() string {
	return "PaymentFailed"
}

// NewPaymentFailedEvent creates a new PaymentFailedEvent
func NewPaymentFailedEvent(p *Payment) *PaymentFailedEvent {
	failedAt := time.Now()
	if p.FailedAt != nil {
		failedAt = *p.FailedAt
	}
	return &PaymentFailedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent("PaymentFailed", "Payment", p.ID, p.OrganizationID),
		PaymentID:       p.ID,
		InvoiceID:       p.InvoiceID,
		Method:          p.Method,
		Amount:          p.Amount,
		FailureReason:   p.FailureReason,
		FailedAt:        failedAt,
	}
}

// PaymentRefundedEvent is raised when a payment transitions to REFUNDED
type PaymentRefundedEvent struct {
	shared.BaseDomainEvent
	PaymentID    uuid.UUID       `json:"payment_id"`
	InvoiceID    uuid.UUID       `json:"invoice_id"`
	Method       PaymentMethod   `json:"method"`
	Amount       decimal.Decimal `json:"amount"`
	RefundReason string          `json:"refund_reason"`
	RefundedAt   time.Time       `json:"refunded_at"`
}

// EventType returns the event type name
func (e *PaymentRefundedEvent) EventType() string {
	return "PaymentRefunded"
}

// NewPaymentRefundedEvent creates a new PaymentRefundedEvent
func NewPaymentRefundedEvent(p *Payment) *PaymentRefundedEvent {
	refundedAt := time.Now()
	if p.RefundedAt != nil {
		refundedAt = *p.RefundedAt
	}
	return &PaymentRefundedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent("PaymentRefunded", "Payment", p.ID, p.OrganizationID),
		PaymentID:       p.ID,
		InvoiceID:       p.InvoiceID,
		Method:          p.Method,
		Amount:          p.Amount,
		RefundReason:    p.RefundReason,
		RefundedAt:      refundedAt,
	}
}

// PaymentAmountCorrectedEvent is raised when reconciliation replaces the
// recorded amount with the gateway's authoritative figure
type PaymentAmountCorrectedEvent struct {
	shared.BaseDomainEvent
	PaymentID            uuid.UUID       `json:"payment_id"`
	InvoiceID            uuid.UUID       `json:"invoice_id"`
	GatewayTransactionID string          `json:"gateway_transaction_id"`
	PreviousAmount       decimal.Decimal `json:"previous_amount"`
	CorrectedAmount      decimal.Decimal `json:"corrected_amount"`
}

// EventType returns the event type name
func (e *PaymentAmountCorrectedEvent) EventType() string {
	return "PaymentAmountCorrected"
}

// NewPaymentAmountCorrectedEvent creates a new PaymentAmountCorrectedEvent
func NewPaymentAmountCorrectedEvent(p *Payment, previous decimal.Decimal) *PaymentAmountCorrectedEvent {
	return &PaymentAmountCorrectedEvent{
		BaseDomainEvent:      shared.NewBaseDomainEvent("PaymentAmountCorrected", "Payment", p.ID, p.OrganizationID),
		PaymentID:            p.ID,
		InvoiceID:            p.InvoiceID,
		GatewayTransactionID: p.GatewayTransactionID,
		PreviousAmount:       previous,
		CorrectedAmount:      p.Amount,
	}
}
