package event

import (
	"github.com/billing/backend/internal/domain/billing"
	"github.com/billing/backend/internal/domain/shared"
)

// EventRegistry is the registration surface shared by EventSerializer and
// VersionedSerializer.
type EventRegistry interface {
	Register(eventType string, eventInstance shared.DomainEvent)
}

// RegisterAllEvents registers all domain event types with the serializer
// This is required for the OutboxProcessor to deserialize events from the outbox table
func RegisterAllEvents(registry EventRegistry) {
	// Invoice lifecycle events
	registry.Register("InvoiceCreated", &billing.InvoiceCreatedEvent{})
	registry.Register("InvoiceIssued", &billing.InvoiceIssuedEvent{})
	registry.Register("InvoicePaid", &billing.InvoicePaidEvent{})
	registry.Register("InvoiceOverdue", &billing.InvoiceOverdueEvent{})
	registry.Register("InvoiceCancelled", &billing.InvoiceCancelledEvent{})
	registry.Register("PaymentReminderDue", &billing.PaymentReminderDueEvent{})

	// Payment events
	registry.Register("PaymentRecorded", &billing.PaymentRecordedEvent{})
	registry.Register("PaymentCompleted", &billing.PaymentCompletedEvent{})
	registry.Register("PaymentFailed", &billing.PaymentFailedEvent{})
	registry.Register("PaymentRefunded", &billing.PaymentRefundedEvent{})
	registry.Register("PaymentAmountCorrected", &billing.PaymentAmountCorrectedEvent{})

	// Recurring invoice events
	registry.Register("RecurringInvoiceCreated", &billing.RecurringInvoiceCreatedEvent{})
	registry.Register("RecurringInvoiceGenerated", &billing.RecurringInvoiceGeneratedEvent{})
}

// RegisterAllVersionedEvents registers every event type on the versioned
// serializer and declares the upgrade paths for types whose schema has
// changed. InvoiceOverdue is at v2: v1 payloads were written before the
// late fee fields existed, so the upgrader fills them in with the values
// a fee-less overdue transition would have produced.
func RegisterAllVersionedEvents(serializer *VersionedSerializer) error {
	RegisterAllEvents(serializer)

	return serializer.RegisterVersioned("InvoiceOverdue", 2,
		map[int]shared.DomainEvent{
			1: &billing.InvoiceOverdueEvent{},
			2: &billing.InvoiceOverdueEvent{},
		},
		NewBaseEventUpgrader(1, 2, func(data map[string]any) (map[string]any, error) {
			if _, ok := data["late_fee_applied"]; !ok {
				data["late_fee_applied"] = false
			}
			if _, ok := data["late_fee_amount"]; !ok {
				data["late_fee_amount"] = "0"
			}
			return data, nil
		}),
	)
}
