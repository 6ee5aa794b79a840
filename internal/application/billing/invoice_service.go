package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/billing/backend/internal/domain/billing"
	"github.com/billing/backend/internal/domain/shared"
	"github.com/billing/backend/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// InvoiceService handles invoice lifecycle use cases
type InvoiceService struct {
	invoiceRepo    billing.InvoiceRepository
	paymentRepo    billing.PaymentRepository
	eventPublisher shared.EventPublisher
	logger         *zap.Logger
}

// NewInvoiceService creates a new InvoiceService
func NewInvoiceService(
	invoiceRepo billing.InvoiceRepository,
	paymentRepo billing.PaymentRepository,
	eventPublisher shared.EventPublisher,
	logger *zap.Logger,
) *InvoiceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InvoiceService{
		invoiceRepo:    invoiceRepo,
		paymentRepo:    paymentRepo,
		eventPublisher: eventPublisher,
		logger:         logger,
	}
}

// publishEvents publishes the aggregate's pending domain events and clears
// them. Publishing failures are logged, not propagated; the state change
// has already been persisted.
func (s *InvoiceService) publishEvents(ctx context.Context, inv *billing.Invoice) {
	events := inv.GetDomainEvents()
	if len(events) == 0 || s.eventPublisher == nil {
		return
	}
	if err := s.eventPublisher.Publish(ctx, events...); err != nil {
		s.logger.Warn("Failed to publish invoice events",
			zap.String("invoice_id", inv.ID.String()),
			zap.Error(err))
	}
	inv.ClearDomainEvents()
}

// CreateInvoice creates a new draft invoice with a generated invoice number
func (s *InvoiceService) CreateInvoice(ctx context.Context, organizationID uuid.UUID, createdBy *uuid.UUID, req CreateInvoiceRequest) (*InvoiceResponse, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "invoice", "create")
	defer span.End()

	items, err := toDomainItems(req.Items)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	number, err := s.invoiceRepo.GenerateInvoiceNumber(ctx, organizationID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to generate invoice number: %w", err)
	}

	inv, err := billing.NewInvoice(billing.NewInvoiceParams{
		OrganizationID:       organizationID,
		InvoiceNumber:        number,
		ClientID:             req.ClientID,
		ClientName:           req.ClientName,
		IssueDate:            req.IssueDate,
		DueDate:              req.DueDate,
		Items:                items,
		TaxRate:              req.TaxRate,
		LateFeePercent:       req.LateFeePercent,
		AllowPartialPayments: req.AllowPartialPayments,
		MinimumPaymentAmount: req.MinimumPaymentAmount,
		Notes:                req.Notes,
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if createdBy != nil {
		inv.SetCreatedBy(*createdBy)
	}

	if err := s.invoiceRepo.Save(ctx, inv); err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to save invoice: %w", err)
	}

	s.logger.Info("Invoice created",
		zap.String("invoice_id", inv.ID.String()),
		zap.String("invoice_number", inv.InvoiceNumber),
		zap.String("total", inv.TotalAmount.StringFixed(2)))

	s.publishEvents(ctx, inv)

	return ToInvoiceResponse(inv), nil
}

// GetInvoice returns an invoice by ID, scoped to the organization
func (s *InvoiceService) GetInvoice(ctx context.Context, organizationID, invoiceID uuid.UUID) (*InvoiceResponse, error) {
	inv, err := s.invoiceRepo.FindByIDForOrg(ctx, organizationID, invoiceID)
	if err != nil {
		return nil, err
	}
	return ToInvoiceResponse(inv), nil
}

// GetInvoiceByNumber returns an invoice by its number
func (s *InvoiceService) GetInvoiceByNumber(ctx context.Context, organizationID uuid.UUID, invoiceNumber string) (*InvoiceResponse, error) {
	inv, err := s.invoiceRepo.FindByNumber(ctx, organizationID, invoiceNumber)
	if err != nil {
		return nil, err
	}
	return ToInvoiceResponse(inv), nil
}

// ListInvoices returns a paginated list of invoices for the organization
func (s *InvoiceService) ListInvoices(ctx context.Context, organizationID uuid.UUID, filter billing.InvoiceFilter) (*shared.Paginated[InvoiceListResponse], error) {
	invoices, err := s.invoiceRepo.FindAllForOrg(ctx, organizationID, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	total, err := s.invoiceRepo.CountForOrg(ctx, organizationID, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to count invoices: %w", err)
	}

	items := make([]InvoiceListResponse, 0, len(invoices))
	for i := range invoices {
		items = append(items, ToInvoiceListResponse(&invoices[i]))
	}
	page := shared.NewPaginated(items, total, filter.Page, filter.PageSize)
	return &page, nil
}

// UpdateInvoice replaces the mutable fields of a draft invoice
func (s *InvoiceService) UpdateInvoice(ctx context.Context, organizationID, invoiceID uuid.UUID, req UpdateInvoiceRequest) (*InvoiceResponse, error) {
	inv, err := s.invoiceRepo.FindByIDForOrg(ctx, organizationID, invoiceID)
	if err != nil {
		return nil, err
	}

	items, err := toDomainItems(req.Items)
	if err != nil {
		return nil, err
	}

	inv.ClientName = req.ClientName
	if err := inv.UpdateDraft(billing.DraftChanges{
		IssueDate:            req.IssueDate,
		DueDate:              req.DueDate,
		Items:                items,
		TaxRate:              req.TaxRate,
		LateFeePercent:       req.LateFeePercent,
		AllowPartialPayments: req.AllowPartialPayments,
		MinimumPaymentAmount: req.MinimumPaymentAmount,
		Notes:                req.Notes,
	}); err != nil {
		return nil, err
	}

	if err := s.invoiceRepo.SaveWithLock(ctx, inv); err != nil {
		return nil, fmt.Errorf("failed to save invoice: %w", err)
	}

	return ToInvoiceResponse(inv), nil
}

// ReplaceInvoiceItems swaps the full line item set of a draft invoice
func (s *InvoiceService) ReplaceInvoiceItems(ctx context.Context, organizationID, invoiceID uuid.UUID, req ReplaceItemsRequest) (*InvoiceResponse, error) {
	inv, err := s.invoiceRepo.FindByIDForOrg(ctx, organizationID, invoiceID)
	if err != nil {
		return nil, err
	}

	items, err := toDomainItems(req.Items)
	if err != nil {
		return nil, err
	}
	if err := inv.ReplaceItems(items); err != nil {
		return nil, err
	}

	if err := s.invoiceRepo.SaveWithLock(ctx, inv); err != nil {
		return nil, fmt.Errorf("failed to save invoice: %w", err)
	}

	return ToInvoiceResponse(inv), nil
}

// IssueInvoice transitions a draft invoice to ISSUED
func (s *InvoiceService) IssueInvoice(ctx context.Context, organizationID, invoiceID uuid.UUID) (*InvoiceResponse, error) {
	inv, err := s.invoiceRepo.FindByIDForOrg(ctx, organizationID, invoiceID)
	if err != nil {
		return nil, err
	}

	if err := inv.Issue(); err != nil {
		return nil, err
	}

	if err := s.invoiceRepo.SaveWithLock(ctx, inv); err != nil {
		return nil, fmt.Errorf("failed to save invoice: %w", err)
	}

	s.logger.Info("Invoice issued",
		zap.String("invoice_id", inv.ID.String()),
		zap.String("invoice_number", inv.InvoiceNumber))

	s.publishEvents(ctx, inv)

	return ToInvoiceResponse(inv), nil
}

// CancelInvoice voids an invoice. Invoices with applied payments or a
// pending gateway payment cannot be cancelled.
func (s *InvoiceService) CancelInvoice(ctx context.Context, organizationID, invoiceID uuid.UUID, req CancelInvoiceRequest) (*InvoiceResponse, error) {
	inv, err := s.invoiceRepo.FindByIDForOrg(ctx, organizationID, invoiceID)
	if err != nil {
		return nil, err
	}

	payments, err := s.paymentRepo.FindByInvoice(ctx, inv.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load payments: %w", err)
	}
	for i := range payments {
		if payments[i].IsPending() {
			return nil, shared.NewDomainError("HAS_PENDING_PAYMENT", "Cannot cancel invoice with a pending payment")
		}
	}

	if err := inv.Cancel(req.Reason); err != nil {
		return nil, err
	}

	if err := s.invoiceRepo.SaveWithLock(ctx, inv); err != nil {
		return nil, fmt.Errorf("failed to save invoice: %w", err)
	}

	s.logger.Info("Invoice cancelled",
		zap.String("invoice_id", inv.ID.String()),
		zap.String("reason", req.Reason))

	s.publishEvents(ctx, inv)

	return ToInvoiceResponse(inv), nil
}

// GetPublicInvoice returns the reduced pay-by-link view of an invoice.
// The payable amount subtracts any pending gateway payment so a payer
// cannot double-submit while a card payment is settling.
func (s *InvoiceService) GetPublicInvoice(ctx context.Context, token uuid.UUID) (*PublicInvoiceResponse, error) {
	inv, err := s.invoiceRepo.FindByPublicToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if inv.Status == billing.InvoiceStatusDraft {
		// Drafts are not visible outside the organization
		return nil, shared.ErrNotFound
	}

	payments, err := s.paymentRepo.FindByInvoice(ctx, inv.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load payments: %w", err)
	}

	pending := decimal.Zero
	hasPending := false
	for i := range payments {
		if payments[i].IsPending() {
			pending = pending.Add(payments[i].Amount)
			hasPending = true
		}
	}

	payable := inv.Balance().Sub(pending)
	if payable.IsNegative() {
		payable = decimal.Zero
	}

	now := time.Now()
	return &PublicInvoiceResponse{
		InvoiceNumber:        inv.InvoiceNumber,
		ClientName:           inv.ClientName,
		Status:               string(inv.Status),
		IssueDate:            inv.IssueDate,
		DueDate:              inv.DueDate,
		Items:                toItemResponses(inv.Items),
		TotalAmount:          inv.TotalAmount,
		PaidAmount:           inv.PaidAmount,
		Balance:              inv.Balance(),
		PayableAmount:        payable,
		HasPendingPayment:    hasPending,
		IsOverdue:            inv.IsOverdue(now),
		DaysOverdue:          inv.DaysOverdue(now),
		LateFeeApplied:       inv.LateFeeApplied,
		LateFeeAmount:        inv.LateFeeAmount,
		AllowPartialPayments: inv.AllowPartialPayments,
		MinimumPaymentAmount: inv.MinimumPaymentAmount,
	}, nil
}
