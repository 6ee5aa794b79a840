package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/billing/backend/internal/domain/billing"
	"github.com/billing/backend/internal/domain/shared"
	"github.com/billing/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// SweepService runs the periodic maintenance passes over the invoice
// ledger: the overdue transition sweep and the payment reminder sweep.
// Status transitions also happen lazily on read and write paths, so the
// sweep is a safety net that bounds how stale a status can get, not the
// only place transitions occur.
type SweepService struct {
	txScope        TransactionScope
	invoiceRepo    billing.InvoiceRepository
	eventPublisher shared.EventPublisher
	logger         *zap.Logger
	clock          func() time.Time
}

// SweepServiceConfig holds the dependencies for SweepService
type SweepServiceConfig struct {
	TxScope        TransactionScope
	InvoiceRepo    billing.InvoiceRepository
	EventPublisher shared.EventPublisher
	Logger         *zap.Logger
	Clock          func() time.Time
}

// NewSweepService creates a new SweepService
func NewSweepService(cfg SweepServiceConfig) *SweepService {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &SweepService{
		txScope:        cfg.TxScope,
		invoiceRepo:    cfg.InvoiceRepo,
		eventPublisher: cfg.EventPublisher,
		logger:         logger,
		clock:          clock,
	}
}

// SweepResult reports what a sweep pass did
type SweepResult struct {
	Scanned      int `json:"scanned"`
	Transitioned int `json:"transitioned"`
	Failed       int `json:"failed"`
}

// SweepOverdue recomputes status for every open invoice past its due date.
// Each invoice is processed in its own transaction under a row lock; an
// invoice that loses a race with a concurrent payment is skipped and picked
// up by the next run.
func (s *SweepService) SweepOverdue(ctx context.Context, batchLimit int) (*SweepResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "sweep", "overdue")
	defer span.End()

	now := s.clock()
	candidates, err := s.invoiceRepo.FindSweepCandidates(ctx, now, batchLimit)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to find sweep candidates: %w", err)
	}

	result := &SweepResult{Scanned: len(candidates)}
	for i := range candidates {
		invoiceID := candidates[i].ID
		organizationID := candidates[i].OrganizationID

		err := s.txScope.Execute(ctx, func(repos TransactionalRepositories) error {
			inv, err := repos.InvoiceRepo().FindByIDForUpdate(ctx, organizationID, invoiceID)
			if err != nil {
				return err
			}
			if !inv.RecomputeStatus(now) {
				return nil
			}
			if err := repos.InvoiceRepo().SaveWithLock(ctx, inv); err != nil {
				return err
			}

			result.Transitioned++
			s.logger.Info("Invoice transitioned by overdue sweep",
				zap.String("invoice_id", inv.ID.String()),
				zap.String("status", string(inv.Status)),
				zap.Bool("late_fee_applied", inv.LateFeeApplied),
				zap.String("total", inv.TotalAmount.StringFixed(2)))

			if s.eventPublisher != nil {
				if pubErr := s.eventPublisher.Publish(ctx, inv.GetDomainEvents()...); pubErr != nil {
					s.logger.Warn("Failed to publish sweep events", zap.Error(pubErr))
				}
				inv.ClearDomainEvents()
			}
			return nil
		})
		if err != nil {
			result.Failed++
			s.logger.Warn("Overdue sweep skipped invoice",
				zap.String("invoice_id", invoiceID.String()),
				zap.Error(err))
		}
	}

	if result.Transitioned > 0 || result.Failed > 0 {
		s.logger.Info("Overdue sweep complete",
			zap.Int("scanned", result.Scanned),
			zap.Int("transitioned", result.Transitioned),
			zap.Int("failed", result.Failed))
	}
	return result, nil
}

// SweepReminders records a payment reminder for every open invoice that is
// eligible: past due or approaching due, under the reminder cap, and outside
// the minimum interval since the last one. The actual delivery is driven by
// the PaymentReminderDue events this sweep publishes.
func (s *SweepService) SweepReminders(ctx context.Context, batchLimit int) (*SweepResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "sweep", "reminders")
	defer span.End()

	now := s.clock()
	candidates, err := s.invoiceRepo.FindReminderCandidates(ctx, now, batchLimit)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to find reminder candidates: %w", err)
	}

	result := &SweepResult{Scanned: len(candidates)}
	for i := range candidates {
		inv := &candidates[i]
		if !inv.CanSendReminder(now) {
			continue
		}
		if err := inv.MarkReminderSent(now); err != nil {
			continue
		}
		inv.AddDomainEvent(billing.NewPaymentReminderDueEvent(inv))

		if err := s.invoiceRepo.SaveWithLock(ctx, inv); err != nil {
			result.Failed++
			s.logger.Warn("Reminder sweep skipped invoice",
				zap.String("invoice_id", inv.ID.String()),
				zap.Error(err))
			continue
		}

		result.Transitioned++
		if s.eventPublisher != nil {
			if pubErr := s.eventPublisher.Publish(ctx, inv.GetDomainEvents()...); pubErr != nil {
				s.logger.Warn("Failed to publish reminder events", zap.Error(pubErr))
			}
			inv.ClearDomainEvents()
		}
	}

	if result.Transitioned > 0 {
		s.logger.Info("Reminder sweep complete",
			zap.Int("scanned", result.Scanned),
			zap.Int("reminders_sent", result.Transitioned))
	}
	return result, nil
}
