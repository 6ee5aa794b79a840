package billing

import (
	"time"

	"github.com/billing/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// RecurringInvoiceCreatedEvent is raised when a template is created
type RecurringInvoiceCreatedEvent struct {
	shared.BaseDomainEvent
	TemplateID uuid.UUID           `json:"template_id"`
	Name       string              `json:"name"`
	ClientID   uuid.UUID           `json:"client_id"`
	Frequency  RecurrenceFrequency `json:"frequency"`
	StartDate  time.Time           `json:"start_date"`
}

// EventType returns the event type name
func (e *RecurringInvoiceCreatedEvent) EventType() string {
	return "RecurringInvoiceCreated"
}

// NewRecurringInvoiceCreatedEvent creates a new RecurringInvoiceCreatedEvent
func NewRecurringInvoiceCreatedEvent(r *RecurringInvoice) *RecurringInvoiceCreatedEvent {
	return &RecurringInvoiceCreatedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent("RecurringInvoiceCreated", "RecurringInvoice", r.ID, r.OrganizationID),
		TemplateID:      r.ID,
		Name:            r.Name,
		ClientID:        r.ClientID,
		Frequency:       r.Frequency,
		StartDate:       r.StartDate,
	}
}

// RecurringInvoiceGeneratedEvent is raised when a template materializes an invoice
type RecurringInvoiceGeneratedEvent struct {
	shared.BaseDomainEvent
	TemplateID         uuid.UUID `json:"template_id"`
	GeneratedInvoiceID uuid.UUID `json:"generated_invoice_id"`
	GeneratedCount     int       `json:"generated_count"`
	NextGenerationDate time.Time `json:"next_generation_date"`
}

// EventType returns the event type name
func (e *RecurringInvoiceGeneratedEvent) EventType() string {
	return "RecurringInvoiceGenerated"
}

// NewRecurringInvoiceGeneratedEvent creates a new RecurringInvoiceGeneratedEvent
func NewRecurringInvoiceGeneratedEvent(r *RecurringInvoice, invoiceID uuid.UUID) *RecurringInvoiceGeneratedEvent {
	return &RecurringInvoiceGeneratedEvent{
		BaseDomainEvent:    shared.NewBaseDomainEvent("RecurringInvoiceGenerated", "RecurringInvoice", r.ID, r.OrganizationID),
		TemplateID:         r.ID,
		GeneratedInvoiceID: invoiceID,
		GeneratedCount:     r.GeneratedCount,
		NextGenerationDate: r.NextGenerationDate,
	}
}
