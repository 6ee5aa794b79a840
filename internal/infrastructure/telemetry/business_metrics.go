// Package telemetry provides OpenTelemetry integration for metrics collection.
package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// BusinessMetrics provides business metrics for the billing system.
// It tracks invoice creation, payment activity, and receivables health.
type BusinessMetrics struct {
	meter  metric.Meter
	logger *zap.Logger

	// Counter metrics (monotonically increasing)
	invoiceCreatedTotal *Counter
	invoiceAmountTotal  *Counter
	paymentTotal        *Counter
	lateFeeTotal        *Counter

	// Gauge metrics (point-in-time values)
	overdueInvoiceCount *Gauge
	openBalanceTotal    *FloatGauge

	// Periodic collector
	stopChan    chan struct{}
	stopOnce    sync.Once
	collectOnce sync.Once

	// Data providers for periodic collection
	receivablesProvider ReceivablesMetricsProvider
}

// ReceivablesMetricsProvider provides receivables data for periodic metrics
// collection. This interface allows the telemetry layer to query ledger state
// without depending on the billing domain directly.
type ReceivablesMetricsProvider interface {
	// GetOverdueInvoiceCount returns the number of overdue invoices for an organization
	GetOverdueInvoiceCount(ctx context.Context, organizationID uuid.UUID) (int64, error)

	// GetOpenBalanceTotal returns the total outstanding balance for an organization
	GetOpenBalanceTotal(ctx context.Context, organizationID uuid.UUID) (decimal.Decimal, error)
}

// BusinessMetricsConfig holds configuration for business metrics.
type BusinessMetricsConfig struct {
	Meter               metric.Meter
	Logger              *zap.Logger
	CollectInterval     time.Duration // Default: 5 minutes
	ReceivablesProvider ReceivablesMetricsProvider
}

// NewBusinessMetrics creates a new BusinessMetrics instance.
func NewBusinessMetrics(cfg BusinessMetricsConfig) (*BusinessMetrics, error) {
	if cfg.Meter == nil {
		return nil, ErrMeterNil
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	bm := &BusinessMetrics{
		meter:               cfg.Meter,
		logger:              logger,
		stopChan:            make(chan struct{}),
		receivablesProvider: cfg.ReceivablesProvider,
	}

	// Initialize counter metrics
	var err error

	// Invoice metrics
	bm.invoiceCreatedTotal, err = NewCounter(
		cfg.Meter,
		"billing_invoice_created_total",
		"Total number of invoices created",
		"{invoices}",
	)
	if err != nil {
		return nil, err
	}

	bm.invoiceAmountTotal, err = NewCounter(
		cfg.Meter,
		"billing_invoice_amount_total",
		"Total invoiced amount in cents",
		"{cents}",
	)
	if err != nil {
		return nil, err
	}

	// Payment metrics
	bm.paymentTotal, err = NewCounter(
		cfg.Meter,
		"billing_payment_total",
		"Total number of payment transactions",
		"{payments}",
	)
	if err != nil {
		return nil, err
	}

	bm.lateFeeTotal, err = NewCounter(
		cfg.Meter,
		"billing_late_fee_applied_total",
		"Total number of late fees applied",
		"{fees}",
	)
	if err != nil {
		return nil, err
	}

	// Receivables gauge metrics
	bm.overdueInvoiceCount, err = NewGauge(
		cfg.Meter,
		"billing_overdue_invoice_count",
		"Current number of overdue invoices",
		"{invoices}",
	)
	if err != nil {
		return nil, err
	}

	bm.openBalanceTotal, err = NewFloatGauge(
		cfg.Meter,
		"billing_open_balance_total",
		"Total outstanding receivables balance",
		"{currency}",
	)
	if err != nil {
		return nil, err
	}

	return bm, nil
}

// =============================================================================
// Invoice Metrics
// =============================================================================

// RecordInvoiceCreated records an invoice creation event.
// This should be called from the application layer when an invoice is created.
func (bm *BusinessMetrics) RecordInvoiceCreated(ctx context.Context, organizationID uuid.UUID) {
	bm.invoiceCreatedTotal.Inc(ctx,
		AttrOrganizationID.String(organizationID.String()),
	)
}

// RecordInvoiceAmount records the invoiced amount.
// Amount should be in the smallest currency unit (cents).
func (bm *BusinessMetrics) RecordInvoiceAmount(ctx context.Context, organizationID uuid.UUID, amountCents int64) {
	bm.invoiceAmountTotal.Add(ctx, amountCents,
		AttrOrganizationID.String(organizationID.String()),
	)
}

// RecordInvoiceWithAmount is a convenience method that records both invoice count and amount.
func (bm *BusinessMetrics) RecordInvoiceWithAmount(ctx context.Context, organizationID uuid.UUID, amount decimal.Decimal) {
	bm.RecordInvoiceCreated(ctx, organizationID)

	// Convert to cents (multiply by 100)
	amountCents := amount.Mul(decimal.NewFromInt(100)).IntPart()
	bm.RecordInvoiceAmount(ctx, organizationID, amountCents)
}

// RecordLateFeeApplied records a late fee application during the overdue sweep.
func (bm *BusinessMetrics) RecordLateFeeApplied(ctx context.Context, organizationID uuid.UUID) {
	bm.lateFeeTotal.Inc(ctx,
		AttrOrganizationID.String(organizationID.String()),
	)
}

// =============================================================================
// Payment Metrics
// =============================================================================

// PaymentStatus represents the outcome of a payment for metrics labeling.
type PaymentStatus string

const (
	PaymentStatusSuccess PaymentStatus = "success"
	PaymentStatusFailed  PaymentStatus = "failed"
)

// RecordPayment records a payment transaction.
// This should be called when a payment is recorded or a gateway event is processed.
func (bm *BusinessMetrics) RecordPayment(ctx context.Context, organizationID uuid.UUID, paymentMethod string, status PaymentStatus) {
	bm.paymentTotal.Inc(ctx,
		AttrOrganizationID.String(organizationID.String()),
		AttrPaymentMethod.String(paymentMethod),
		AttrPaymentStatus.String(string(status)),
	)
}

// =============================================================================
// Receivables Metrics
// =============================================================================

// RecordOverdueInvoiceCount records the current number of overdue invoices.
// This is a gauge metric that should be updated periodically.
func (bm *BusinessMetrics) RecordOverdueInvoiceCount(ctx context.Context, organizationID uuid.UUID, count int64) {
	bm.overdueInvoiceCount.Record(ctx, count,
		AttrOrganizationID.String(organizationID.String()),
	)
}

// RecordOpenBalanceTotal records the total outstanding receivables balance.
// This is a gauge metric that should be updated periodically.
func (bm *BusinessMetrics) RecordOpenBalanceTotal(ctx context.Context, organizationID uuid.UUID, balance decimal.Decimal) {
	value, _ := balance.Float64()
	bm.openBalanceTotal.Record(ctx, value,
		AttrOrganizationID.String(organizationID.String()),
	)
}

// =============================================================================
// Periodic Collection
// =============================================================================

// OrganizationProvider provides organization IDs for periodic metrics collection.
type OrganizationProvider interface {
	GetActiveOrganizationIDs(ctx context.Context) ([]uuid.UUID, error)
}

// StartPeriodicCollection starts periodic collection of gauge metrics.
// It collects receivables metrics every interval (default: 5 minutes).
// This is non-blocking - use Stop() to stop collection.
func (bm *BusinessMetrics) StartPeriodicCollection(ctx context.Context, orgProvider OrganizationProvider, interval time.Duration) {
	bm.collectOnce.Do(func() {
		if interval <= 0 {
			interval = 5 * time.Minute
		}

		go bm.runPeriodicCollection(ctx, orgProvider, interval)
	})
}

// runPeriodicCollection runs the periodic collection loop.
func (bm *BusinessMetrics) runPeriodicCollection(ctx context.Context, orgProvider OrganizationProvider, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Collect immediately on start
	bm.collectReceivablesMetrics(ctx, orgProvider)

	for {
		select {
		case <-bm.stopChan:
			bm.logger.Info("Stopping periodic business metrics collection")
			return
		case <-ctx.Done():
			bm.logger.Info("Context cancelled, stopping periodic business metrics collection")
			return
		case <-ticker.C:
			bm.collectReceivablesMetrics(ctx, orgProvider)
		}
	}
}

// collectReceivablesMetrics collects receivables gauge metrics for all organizations.
func (bm *BusinessMetrics) collectReceivablesMetrics(ctx context.Context, orgProvider OrganizationProvider) {
	if bm.receivablesProvider == nil {
		bm.logger.Debug("No receivables provider configured, skipping receivables metrics collection")
		return
	}

	organizationIDs, err := orgProvider.GetActiveOrganizationIDs(ctx)
	if err != nil {
		bm.logger.Error("Failed to get organization IDs for metrics collection", zap.Error(err))
		return
	}

	for _, organizationID := range organizationIDs {
		bm.collectOrganizationReceivablesMetrics(ctx, organizationID)
	}
}

// collectOrganizationReceivablesMetrics collects receivables metrics for a single organization.
func (bm *BusinessMetrics) collectOrganizationReceivablesMetrics(ctx context.Context, organizationID uuid.UUID) {
	// Collect overdue invoice count
	overdueCount, err := bm.receivablesProvider.GetOverdueInvoiceCount(ctx, organizationID)
	if err != nil {
		bm.logger.Warn("Failed to get overdue invoice count for organization",
			zap.String("organization_id", organizationID.String()),
			zap.Error(err),
		)
	} else {
		bm.RecordOverdueInvoiceCount(ctx, organizationID, overdueCount)
	}

	// Collect open balance total
	openBalance, err := bm.receivablesProvider.GetOpenBalanceTotal(ctx, organizationID)
	if err != nil {
		bm.logger.Warn("Failed to get open balance for organization",
			zap.String("organization_id", organizationID.String()),
			zap.Error(err),
		)
	} else {
		bm.RecordOpenBalanceTotal(ctx, organizationID, openBalance)
	}
}

// Stop stops the periodic collection.
func (bm *BusinessMetrics) Stop() {
	bm.stopOnce.Do(func() {
		close(bm.stopChan)
	})
}

// =============================================================================
// Error Types
// =============================================================================

// ErrMeterNil is returned when meter is nil.
var ErrMeterNil = &MetricsError{Op: "NewBusinessMetrics", Err: "meter cannot be nil"}

// MetricsError represents a metrics-related error.
type MetricsError struct {
	Op  string
	Err string
}

func (e *MetricsError) Error() string {
	return e.Op + ": " + e.Err
}

// =============================================================================
// Attribute Key Constants
// =============================================================================

// Business metrics attribute keys not already defined in metrics.go
var (
	// Additional business attributes can be added here
	AttrPaymentSource = attribute.Key("payment_source")
)
