package event

import (
	"context"

	"github.com/billing/backend/internal/domain/billing"
	"github.com/billing/backend/internal/domain/shared"
	"github.com/billing/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// BillingMetricsHandler consumes billing lifecycle events from the bus and
// records the per-event business counters. Gauges (overdue count, open
// balance) are collected periodically instead, so they are not handled here.
type BillingMetricsHandler struct {
	metrics *telemetry.BusinessMetrics
	logger  *zap.Logger
}

// NewBillingMetricsHandler creates a handler bound to the given metrics
func NewBillingMetricsHandler(metrics *telemetry.BusinessMetrics, logger *zap.Logger) *BillingMetricsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BillingMetricsHandler{
		metrics: metrics,
		logger:  logger,
	}
}

// EventTypes returns the event types this handler subscribes to
func (h *BillingMetricsHandler) EventTypes() []string {
	return []string{
		"InvoiceCreated",
		"InvoiceOverdue",
		"PaymentRecorded",
		"PaymentCompleted",
		"PaymentFailed",
	}
}

// Handle records the counter matching the event. Unknown events are ignored
// so the subscription list can grow without breaking delivery.
func (h *BillingMetricsHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	switch e := event.(type) {
	case *billing.InvoiceCreatedEvent:
		h.metrics.RecordInvoiceWithAmount(ctx, e.OrganizationID(), e.TotalAmount)

	case *billing.InvoiceOverdueEvent:
		if e.LateFeeApplied {
			h.metrics.RecordLateFeeApplied(ctx, e.OrganizationID())
		}

	case *billing.PaymentRecordedEvent:
		// Manual payments complete at recording time. Gateway payments are
		// counted when their PaymentCompleted/PaymentFailed event arrives.
		if e.Status == billing.PaymentStatusCompleted {
			h.metrics.RecordPayment(ctx, e.OrganizationID(), string(e.Method), telemetry.PaymentStatusSuccess)
		}

	case *billing.PaymentCompletedEvent:
		h.metrics.RecordPayment(ctx, e.OrganizationID(), string(e.Method), telemetry.PaymentStatusSuccess)

	case *billing.PaymentFailedEvent:
		h.metrics.RecordPayment(ctx, e.OrganizationID(), string(e.Method), telemetry.PaymentStatusFailed)

	default:
		h.logger.Debug("No metric mapped for event type",
			zap.String("event_type", event.EventType()),
		)
	}
	return nil
}

// Ensure BillingMetricsHandler implements EventHandler
var _ shared.EventHandler = (*BillingMetricsHandler)(nil)
