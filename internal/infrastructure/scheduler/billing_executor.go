package scheduler

import (
	"context"
	"fmt"

	appbilling "github.com/billing/backend/internal/application/billing"
	"go.uber.org/zap"
)

// BillingJobExecutor executes the periodic billing passes: the overdue
// sweep, the payment reminder sweep, and recurring invoice generation.
type BillingJobExecutor struct {
	sweeps    *appbilling.SweepService
	recurring *appbilling.RecurringInvoiceService
	logger    *zap.Logger
}

// NewBillingJobExecutor creates a new BillingJobExecutor
func NewBillingJobExecutor(
	sweeps *appbilling.SweepService,
	recurring *appbilling.RecurringInvoiceService,
	logger *zap.Logger,
) *BillingJobExecutor {
	return &BillingJobExecutor{
		sweeps:    sweeps,
		recurring: recurring,
		logger:    logger,
	}
}

// Execute runs the pass identified by the job type
func (e *BillingJobExecutor) Execute(ctx context.Context, job *Job) error {
	switch job.Type {
	case JobTypeOverdueSweep:
		result, err := e.sweeps.SweepOverdue(ctx, job.BatchLimit)
		if err != nil {
			return fmt.Errorf("overdue sweep failed: %w", err)
		}
		e.logger.Info("Overdue sweep finished",
			zap.Int("scanned", result.Scanned),
			zap.Int("transitioned", result.Transitioned),
			zap.Int("failed", result.Failed),
		)
		return nil

	case JobTypeReminderSweep:
		result, err := e.sweeps.SweepReminders(ctx, job.BatchLimit)
		if err != nil {
			return fmt.Errorf("reminder sweep failed: %w", err)
		}
		e.logger.Info("Reminder sweep finished",
			zap.Int("scanned", result.Scanned),
			zap.Int("reminded", result.Transitioned),
			zap.Int("failed", result.Failed),
		)
		return nil

	case JobTypeRecurringGeneration:
		generated, err := e.recurring.GenerateDueInvoices(ctx, job.BatchLimit)
		if err != nil {
			return fmt.Errorf("recurring generation failed: %w", err)
		}
		e.logger.Info("Recurring generation finished",
			zap.Int("generated", generated),
		)
		return nil

	default:
		return fmt.Errorf("%w: %s", ErrUnknownJobType, job.Type)
	}
}

// Ensure BillingJobExecutor implements JobExecutor
var _ JobExecutor = (*BillingJobExecutor)(nil)
