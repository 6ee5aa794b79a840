package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/billing/backend/internal/domain/billing"
	"github.com/billing/backend/internal/domain/shared"
	"github.com/billing/backend/internal/domain/shared/valueobject"
	"github.com/billing/backend/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PaymentService records, refunds and queries payments. Every state change
// runs inside a transaction scope: the invoice row is locked, the admission
// pipeline is re-run against the locked state, and both aggregates are saved
// with optimistic version checks.
type PaymentService struct {
	txScope        TransactionScope
	invoiceRepo    billing.InvoiceRepository
	paymentRepo    billing.PaymentRepository
	eventPublisher shared.EventPublisher
	logger         *zap.Logger
	clock          func() time.Time
}

// PaymentServiceConfig holds the dependencies for PaymentService
type PaymentServiceConfig struct {
	TxScope        TransactionScope
	InvoiceRepo    billing.InvoiceRepository
	PaymentRepo    billing.PaymentRepository
	EventPublisher shared.EventPublisher
	Logger         *zap.Logger
	Clock          func() time.Time
}

// NewPaymentService creates a new PaymentService
func NewPaymentService(cfg PaymentServiceConfig) *PaymentService {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &PaymentService{
		txScope:        cfg.TxScope,
		invoiceRepo:    cfg.InvoiceRepo,
		paymentRepo:    cfg.PaymentRepo,
		eventPublisher: cfg.EventPublisher,
		logger:         logger,
		clock:          clock,
	}
}

func (s *PaymentService) publish(ctx context.Context, events ...shared.DomainEvent) {
	if len(events) == 0 || s.eventPublisher == nil {
		return
	}
	if err := s.eventPublisher.Publish(ctx, events...); err != nil {
		s.logger.Warn("Failed to publish payment events", zap.Error(err))
	}
}

// RecordPayment records a payment against an invoice. Manual methods settle
// immediately and credit the invoice; gateway methods are stored PENDING
// until the gateway notification reconciles them.
//
// The write path is: lock the invoice row, re-run admission against the
// locked state, persist both aggregates with version checks. A concurrent
// writer surfaces as a concurrency conflict, which is retried once against
// fresh state before giving up.
func (s *PaymentService) RecordPayment(ctx context.Context, organizationID, invoiceID uuid.UUID, req RecordPaymentRequest) (*RecordPaymentResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "payment", "record")
	defer span.End()

	method := billing.PaymentMethod(req.Method)
	if !method.IsValid() {
		err := shared.NewDomainError("INVALID_METHOD", fmt.Sprintf("Unknown payment method %q", req.Method))
		telemetry.RecordError(span, err)
		return nil, err
	}

	amount := valueobject.NewMoneyUSD(req.Amount).RoundCurrency()
	if amount.Amount().LessThanOrEqual(decimal.Zero) {
		err := shared.NewDomainError("INVALID_AMOUNT", "Payment amount must be positive")
		telemetry.RecordError(span, err)
		return nil, err
	}

	telemetry.SetAttributes(span,
		"invoice_id", invoiceID.String(),
		"method", string(method),
		"amount", amount.StringFixed(2),
	)

	result, err := s.recordWithRetry(ctx, organizationID, invoiceID, method, amount, req)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	return result, nil
}

// recordWithRetry runs the transactional record once, and once more if the
// first attempt lost an optimistic locking race.
func (s *PaymentService) recordWithRetry(ctx context.Context, organizationID, invoiceID uuid.UUID, method billing.PaymentMethod, amount valueobject.Money, req RecordPaymentRequest) (*RecordPaymentResult, error) {
	result, err := s.recordOnce(ctx, organizationID, invoiceID, method, amount, req)
	if err != nil && shared.IsRetryable(err) {
		s.logger.Info("Payment record hit a concurrency conflict, retrying",
			zap.String("invoice_id", invoiceID.String()))
		result, err = s.recordOnce(ctx, organizationID, invoiceID, method, amount, req)
	}
	return result, err
}

func (s *PaymentService) recordOnce(ctx context.Context, organizationID, invoiceID uuid.UUID, method billing.PaymentMethod, amount valueobject.Money, req RecordPaymentRequest) (*RecordPaymentResult, error) {
	var result *RecordPaymentResult

	err := s.txScope.Execute(ctx, func(repos TransactionalRepositories) error {
		now := s.clock()

		inv, err := repos.InvoiceRepo().FindByIDForUpdate(ctx, organizationID, invoiceID)
		if err != nil {
			return err
		}

		// Late transitions happen lazily here too, so a payment arriving
		// after the due date sees the fee-grown balance.
		statusChanged := inv.RecomputeStatus(now)

		existing, err := repos.PaymentRepo().FindByInvoice(ctx, inv.ID)
		if err != nil {
			return fmt.Errorf("failed to load existing payments: %w", err)
		}

		if admErr := billing.CheckAdmission(inv, existing, billing.AdmissionRequest{
			Amount:      amount.Amount(),
			Method:      method,
			PaymentDate: req.PaymentDate,
		}, now); admErr != nil {
			return admErr
		}

		payment, err := billing.NewPayment(billing.NewPaymentParams{
			OrganizationID:       organizationID,
			InvoiceID:            inv.ID,
			ClientID:             inv.ClientID,
			Method:               method,
			Amount:               amount,
			PaymentDate:          req.PaymentDate,
			GatewayTransactionID: req.GatewayTransactionID,
			Reference:            req.Reference,
			Notes:                req.Notes,
		}, now)
		if err != nil {
			return err
		}

		invoiceChanged := statusChanged
		if method.IsManual() {
			// Manual payments settle immediately and credit the invoice
			if err := inv.ApplyPayment(amount, now); err != nil {
				return err
			}
			invoiceChanged = true
		}

		if invoiceChanged {
			if err := repos.InvoiceRepo().SaveWithLock(ctx, inv); err != nil {
				return err
			}
		}
		if err := repos.PaymentRepo().Save(ctx, payment); err != nil {
			return fmt.Errorf("failed to save payment: %w", err)
		}

		s.publish(ctx, payment.GetDomainEvents()...)
		payment.ClearDomainEvents()
		s.publish(ctx, inv.GetDomainEvents()...)
		inv.ClearDomainEvents()

		result = &RecordPaymentResult{
			Payment: ToPaymentResponse(payment),
			Invoice: ToInvoiceResponse(inv),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Payment recorded",
		zap.String("payment_id", result.Payment.ID.String()),
		zap.String("invoice_id", invoiceID.String()),
		zap.String("method", result.Payment.Method),
		zap.String("status", result.Payment.Status),
		zap.String("amount", result.Payment.Amount.StringFixed(2)))

	return result, nil
}

// RefundPayment refunds a completed manual payment and debits the invoice.
// Gateway payments are refunded only through gateway notifications.
func (s *PaymentService) RefundPayment(ctx context.Context, organizationID, paymentID uuid.UUID, req RefundPaymentRequest) (*RecordPaymentResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "payment", "refund")
	defer span.End()

	var result *RecordPaymentResult

	err := s.txScope.Execute(ctx, func(repos TransactionalRepositories) error {
		now := s.clock()

		payment, err := repos.PaymentRepo().FindByIDForOrg(ctx, organizationID, paymentID)
		if err != nil {
			return err
		}
		if !payment.Method.OperatorCanRefund() {
			return shared.NewDomainError("GATEWAY_REFUND_ONLY",
				fmt.Sprintf("Payments made by %s are refunded through the gateway", payment.Method))
		}

		inv, err := repos.InvoiceRepo().FindByIDForUpdate(ctx, organizationID, payment.InvoiceID)
		if err != nil {
			return err
		}

		changed, err := payment.Refund(req.Reason, now)
		if err != nil {
			return err
		}
		if !changed {
			// Already refunded; report current state without touching the invoice
			result = &RecordPaymentResult{
				Payment: ToPaymentResponse(payment),
				Invoice: ToInvoiceResponse(inv),
			}
			return nil
		}

		if err := inv.ReversePayment(payment.GetAmountMoney(), now); err != nil {
			return err
		}

		if err := repos.PaymentRepo().SaveWithLock(ctx, payment); err != nil {
			return err
		}
		if err := repos.InvoiceRepo().SaveWithLock(ctx, inv); err != nil {
			return err
		}

		s.publish(ctx, payment.GetDomainEvents()...)
		payment.ClearDomainEvents()
		s.publish(ctx, inv.GetDomainEvents()...)
		inv.ClearDomainEvents()

		result = &RecordPaymentResult{
			Payment: ToPaymentResponse(payment),
			Invoice: ToInvoiceResponse(inv),
		}
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	s.logger.Info("Payment refunded",
		zap.String("payment_id", paymentID.String()),
		zap.String("reason", req.Reason))

	return result, nil
}

// CancelPayment hard-deletes a completed manual payment and debits the
// invoice, moving its status backward if needed. Unlike a refund no record
// of the payment remains. Gateway payments cannot be cancelled directly;
// they are refunded through the gateway reconciliation path.
func (s *PaymentService) CancelPayment(ctx context.Context, organizationID, paymentID uuid.UUID) (*InvoiceResponse, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "payment", "cancel")
	defer span.End()

	var result *InvoiceResponse

	err := s.txScope.Execute(ctx, func(repos TransactionalRepositories) error {
		now := s.clock()

		payment, err := repos.PaymentRepo().FindByIDForOrg(ctx, organizationID, paymentID)
		if err != nil {
			return err
		}
		if !payment.Method.IsManual() {
			return shared.NewDomainError("GATEWAY_REFUND_ONLY",
				fmt.Sprintf("Payments made by %s cannot be cancelled; refund through the gateway", payment.Method))
		}
		if payment.Status != billing.PaymentStatusCompleted {
			return shared.NewDomainError("NOT_CANCELLABLE",
				fmt.Sprintf("Only completed payments can be cancelled, payment is %s", payment.Status))
		}

		inv, err := repos.InvoiceRepo().FindByIDForUpdate(ctx, organizationID, payment.InvoiceID)
		if err != nil {
			return err
		}

		if err := inv.ReversePayment(payment.GetAmountMoney(), now); err != nil {
			return err
		}

		if err := repos.PaymentRepo().Delete(ctx, organizationID, payment.ID); err != nil {
			return err
		}
		if err := repos.InvoiceRepo().SaveWithLock(ctx, inv); err != nil {
			return err
		}

		s.publish(ctx, inv.GetDomainEvents()...)
		inv.ClearDomainEvents()

		result = ToInvoiceResponse(inv)
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	s.logger.Info("Payment cancelled",
		zap.String("payment_id", paymentID.String()))

	return result, nil
}

// GetPayment returns a payment by ID, scoped to the organization
func (s *PaymentService) GetPayment(ctx context.Context, organizationID, paymentID uuid.UUID) (*PaymentResponse, error) {
	payment, err := s.paymentRepo.FindByIDForOrg(ctx, organizationID, paymentID)
	if err != nil {
		return nil, err
	}
	return ToPaymentResponse(payment), nil
}

// ListPayments returns a paginated list of payments for the organization
func (s *PaymentService) ListPayments(ctx context.Context, organizationID uuid.UUID, filter billing.PaymentFilter) (*shared.Paginated[PaymentResponse], error) {
	payments, err := s.paymentRepo.FindAllForOrg(ctx, organizationID, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	total, err := s.paymentRepo.CountForOrg(ctx, organizationID, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to count payments: %w", err)
	}

	items := make([]PaymentResponse, 0, len(payments))
	for i := range payments {
		items = append(items, *ToPaymentResponse(&payments[i]))
	}
	page := shared.NewPaginated(items, total, filter.Page, filter.PageSize)
	return &page, nil
}

// ListInvoicePayments returns all payments recorded against an invoice
func (s *PaymentService) ListInvoicePayments(ctx context.Context, organizationID, invoiceID uuid.UUID) ([]PaymentResponse, error) {
	inv, err := s.invoiceRepo.FindByIDForOrg(ctx, organizationID, invoiceID)
	if err != nil {
		return nil, err
	}
	payments, err := s.paymentRepo.FindByInvoice(ctx, inv.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoice payments: %w", err)
	}

	out := make([]PaymentResponse, 0, len(payments))
	for i := range payments {
		out = append(out, *ToPaymentResponse(&payments[i]))
	}
	return out, nil
}
