package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/billing/backend/internal/domain/billing"
	"github.com/billing/backend/internal/domain/shared"
	"github.com/billing/backend/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// catchUpLimit caps how many missed periods a single template generates in
// one run, so a template reactivated after a long pause cannot flood the
// ledger.
const catchUpLimit = 12

// RecurringInvoiceService manages recurring templates and materializes the
// invoices they are due to generate.
type RecurringInvoiceService struct {
	txScope        TransactionScope
	recurringRepo  billing.RecurringInvoiceRepository
	eventPublisher shared.EventPublisher
	logger         *zap.Logger
	clock          func() time.Time
}

// RecurringInvoiceServiceConfig holds the dependencies for RecurringInvoiceService
type RecurringInvoiceServiceConfig struct {
	TxScope        TransactionScope
	RecurringRepo  billing.RecurringInvoiceRepository
	EventPublisher shared.EventPublisher
	Logger         *zap.Logger
	Clock          func() time.Time
}

// NewRecurringInvoiceService creates a new RecurringInvoiceService
func NewRecurringInvoiceService(cfg RecurringInvoiceServiceConfig) *RecurringInvoiceService {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &RecurringInvoiceService{
		txScope:        cfg.TxScope,
		recurringRepo:  cfg.RecurringRepo,
		eventPublisher: cfg.EventPublisher,
		logger:         logger,
		clock:          clock,
	}
}

func (s *RecurringInvoiceService) publish(ctx context.Context, events ...shared.DomainEvent) {
	if len(events) == 0 || s.eventPublisher == nil {
		return
	}
	if err := s.eventPublisher.Publish(ctx, events...); err != nil {
		s.logger.Warn("Failed to publish recurring invoice events", zap.Error(err))
	}
}

// CreateRecurringInvoice creates a new active template
func (s *RecurringInvoiceService) CreateRecurringInvoice(ctx context.Context, organizationID uuid.UUID, createdBy *uuid.UUID, req CreateRecurringInvoiceRequest) (*RecurringInvoiceResponse, error) {
	items, err := toDomainItems(req.Items)
	if err != nil {
		return nil, err
	}

	frequency := billing.RecurrenceFrequency(req.Frequency)
	tmpl, err := billing.NewRecurringInvoice(billing.NewRecurringInvoiceParams{
		OrganizationID:       organizationID,
		Name:                 req.Name,
		ClientID:             req.ClientID,
		ClientName:           req.ClientName,
		Items:                items,
		TaxRate:              req.TaxRate,
		LateFeePercent:       req.LateFeePercent,
		AllowPartialPayments: req.AllowPartialPayments,
		MinimumPaymentAmount: req.MinimumPaymentAmount,
		Frequency:            frequency,
		StartDate:            req.StartDate,
		EndDate:              req.EndDate,
		PaymentDueDays:       req.PaymentDueDays,
		Notes:                req.Notes,
	})
	if err != nil {
		return nil, err
	}
	if createdBy != nil {
		tmpl.SetCreatedBy(*createdBy)
	}

	if err := s.recurringRepo.Save(ctx, tmpl); err != nil {
		return nil, fmt.Errorf("failed to save recurring template: %w", err)
	}

	s.logger.Info("Recurring template created",
		zap.String("template_id", tmpl.ID.String()),
		zap.String("frequency", string(tmpl.Frequency)),
		zap.Time("next_generation", tmpl.NextGenerationDate))

	s.publish(ctx, tmpl.GetDomainEvents()...)
	tmpl.ClearDomainEvents()

	return ToRecurringInvoiceResponse(tmpl), nil
}

// GetRecurringInvoice returns a template by ID
func (s *RecurringInvoiceService) GetRecurringInvoice(ctx context.Context, organizationID, templateID uuid.UUID) (*RecurringInvoiceResponse, error) {
	tmpl, err := s.recurringRepo.FindByIDForOrg(ctx, organizationID, templateID)
	if err != nil {
		return nil, err
	}
	return ToRecurringInvoiceResponse(tmpl), nil
}

// ListRecurringInvoices returns a paginated list of templates
func (s *RecurringInvoiceService) ListRecurringInvoices(ctx context.Context, organizationID uuid.UUID, filter billing.RecurringInvoiceFilter) (*shared.Paginated[RecurringInvoiceResponse], error) {
	templates, err := s.recurringRepo.FindAllForOrg(ctx, organizationID, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list recurring templates: %w", err)
	}
	total, err := s.recurringRepo.CountForOrg(ctx, organizationID, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to count recurring templates: %w", err)
	}

	items := make([]RecurringInvoiceResponse, 0, len(templates))
	for i := range templates {
		items = append(items, *ToRecurringInvoiceResponse(&templates[i]))
	}
	page := shared.NewPaginated(items, total, filter.Page, filter.PageSize)
	return &page, nil
}

// UpdateRecurringInvoice replaces the mutable fields of a template
func (s *RecurringInvoiceService) UpdateRecurringInvoice(ctx context.Context, organizationID, templateID uuid.UUID, req UpdateRecurringInvoiceRequest) (*RecurringInvoiceResponse, error) {
	tmpl, err := s.recurringRepo.FindByIDForOrg(ctx, organizationID, templateID)
	if err != nil {
		return nil, err
	}

	items, err := toDomainItems(req.Items)
	if err != nil {
		return nil, err
	}
	if err := tmpl.Update(billing.UpdateRecurringParams{
		Name:                 req.Name,
		Items:                items,
		TaxRate:              req.TaxRate,
		LateFeePercent:       req.LateFeePercent,
		AllowPartialPayments: req.AllowPartialPayments,
		MinimumPaymentAmount: req.MinimumPaymentAmount,
		EndDate:              req.EndDate,
		PaymentDueDays:       req.PaymentDueDays,
		Notes:                req.Notes,
	}); err != nil {
		return nil, err
	}

	if err := s.recurringRepo.SaveWithLock(ctx, tmpl); err != nil {
		return nil, fmt.Errorf("failed to save recurring template: %w", err)
	}
	return ToRecurringInvoiceResponse(tmpl), nil
}

// SetRecurringInvoiceActive activates or deactivates a template
func (s *RecurringInvoiceService) SetRecurringInvoiceActive(ctx context.Context, organizationID, templateID uuid.UUID, active bool) (*RecurringInvoiceResponse, error) {
	tmpl, err := s.recurringRepo.FindByIDForOrg(ctx, organizationID, templateID)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	if active {
		tmpl.Activate(now)
	} else {
		tmpl.Deactivate(now)
	}

	if err := s.recurringRepo.SaveWithLock(ctx, tmpl); err != nil {
		return nil, fmt.Errorf("failed to save recurring template: %w", err)
	}
	return ToRecurringInvoiceResponse(tmpl), nil
}

// DeleteRecurringInvoice removes a template. Already generated invoices
// are unaffected.
func (s *RecurringInvoiceService) DeleteRecurringInvoice(ctx context.Context, organizationID, templateID uuid.UUID) error {
	return s.recurringRepo.Delete(ctx, organizationID, templateID)
}

// GenerateNow materializes a single invoice from the template immediately,
// regardless of the schedule, and advances the cursor if the template was due.
func (s *RecurringInvoiceService) GenerateNow(ctx context.Context, organizationID, templateID uuid.UUID) (*InvoiceResponse, error) {
	var response *InvoiceResponse

	err := s.txScope.Execute(ctx, func(repos TransactionalRepositories) error {
		now := s.clock()

		tmpl, err := repos.RecurringRepo().FindByIDForOrg(ctx, organizationID, templateID)
		if err != nil {
			return err
		}
		if !tmpl.IsDue(now) {
			return shared.NewDomainError("NOT_DUE", "Template is not due for generation")
		}

		inv, err := s.generateOne(ctx, repos, tmpl, now)
		if err != nil {
			return err
		}
		response = ToInvoiceResponse(inv)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return response, nil
}

// GenerateDueInvoices is the scheduler entry point: it materializes an
// invoice for every template that is due, catching up missed periods one
// generation at a time. Templates whose schedule has ended are deactivated.
// Failures on one template are logged and do not block the rest of the batch.
func (s *RecurringInvoiceService) GenerateDueInvoices(ctx context.Context, batchLimit int) (int, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "recurring", "generate_due")
	defer span.End()

	now := s.clock()
	due, err := s.recurringRepo.FindDue(ctx, now, batchLimit)
	if err != nil {
		telemetry.RecordError(span, err)
		return 0, fmt.Errorf("failed to find due templates: %w", err)
	}

	generated := 0
	for i := range due {
		templateID := due[i].ID
		organizationID := due[i].OrganizationID

		err := s.txScope.Execute(ctx, func(repos TransactionalRepositories) error {
			tmpl, err := repos.RecurringRepo().FindByIDForOrg(ctx, organizationID, templateID)
			if err != nil {
				return err
			}

			for n := 0; tmpl.IsDue(now) && n < catchUpLimit; n++ {
				if _, err := s.generateOne(ctx, repos, tmpl, now); err != nil {
					return err
				}
				generated++
			}

			if tmpl.Active && tmpl.HasEnded(now) {
				tmpl.Deactivate(now)
				return repos.RecurringRepo().SaveWithLock(ctx, tmpl)
			}
			return nil
		})
		if err != nil {
			s.logger.Error("Failed to generate from recurring template",
				zap.String("template_id", templateID.String()),
				zap.Error(err))
		}
	}

	if generated > 0 {
		s.logger.Info("Recurring generation run complete",
			zap.Int("templates", len(due)),
			zap.Int("invoices_generated", generated))
	}
	return generated, nil
}

// generateOne materializes one invoice and advances the template cursor.
// Both saves happen in the caller's transaction.
func (s *RecurringInvoiceService) generateOne(ctx context.Context, repos TransactionalRepositories, tmpl *billing.RecurringInvoice, now time.Time) (*billing.Invoice, error) {
	number, err := repos.InvoiceRepo().GenerateInvoiceNumber(ctx, tmpl.OrganizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to generate invoice number: %w", err)
	}

	inv, err := tmpl.MaterializeInvoice(number, now)
	if err != nil {
		return nil, err
	}

	if err := repos.InvoiceRepo().Save(ctx, inv); err != nil {
		return nil, fmt.Errorf("failed to save generated invoice: %w", err)
	}

	tmpl.Advance(inv.ID, now)
	if err := repos.RecurringRepo().SaveWithLock(ctx, tmpl); err != nil {
		return nil, err
	}

	s.logger.Info("Invoice generated from recurring template",
		zap.String("template_id", tmpl.ID.String()),
		zap.String("invoice_id", inv.ID.String()),
		zap.String("invoice_number", inv.InvoiceNumber),
		zap.Time("next_generation", tmpl.NextGenerationDate))

	s.publish(ctx, append(tmpl.GetDomainEvents(), inv.GetDomainEvents()...)...)
	tmpl.ClearDomainEvents()
	inv.ClearDomainEvents()

	return inv, nil
}
