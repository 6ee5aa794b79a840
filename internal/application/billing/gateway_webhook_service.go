package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/billing/backend/internal/domain/billing"
	"github.com/billing/backend/internal/domain/shared"
	"github.com/billing/backend/internal/domain/shared/valueobject"
	"github.com/billing/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// GatewayWebhookService reconciles verified gateway notifications with
// recorded payments. The gateway's amount is authoritative: a pending
// payment whose recorded amount disagrees is corrected, with an audit
// note, before it is completed.
type GatewayWebhookService struct {
	gateways       map[billing.PaymentGatewayType]billing.PaymentGateway
	txScope        TransactionScope
	idempotency    shared.IdempotencyStore
	idempotencyTTL time.Duration
	eventPublisher shared.EventPublisher
	logger         *zap.Logger
	clock          func() time.Time
}

// GatewayWebhookServiceConfig holds the dependencies for GatewayWebhookService
type GatewayWebhookServiceConfig struct {
	Gateways       []billing.PaymentGateway
	TxScope        TransactionScope
	Idempotency    shared.IdempotencyStore
	IdempotencyTTL time.Duration
	EventPublisher shared.EventPublisher
	Logger         *zap.Logger
	Clock          func() time.Time
}

// NewGatewayWebhookService creates a new GatewayWebhookService
func NewGatewayWebhookService(cfg GatewayWebhookServiceConfig) *GatewayWebhookService {
	gateways := make(map[billing.PaymentGatewayType]billing.PaymentGateway)
	for _, gw := range cfg.Gateways {
		gateways[gw.GatewayType()] = gw
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	ttl := cfg.IdempotencyTTL
	if ttl <= 0 {
		ttl = shared.DefaultIdempotencyConfig().TTL
	}
	return &GatewayWebhookService{
		gateways:       gateways,
		txScope:        cfg.TxScope,
		idempotency:    cfg.Idempotency,
		idempotencyTTL: ttl,
		eventPublisher: cfg.EventPublisher,
		logger:         logger,
		clock:          clock,
	}
}

// WebhookResult reports the outcome of processing a gateway notification.
// A non-nil result with Processed false means the event was acknowledged
// but intentionally skipped (replay, unsupported kind, or a mismatch that
// needs operator attention, never gateway retries).
type WebhookResult struct {
	EventID          string `json:"event_id"`
	EventType        string `json:"event_type"`
	Processed        bool   `json:"processed"`
	AlreadyProcessed bool   `json:"already_processed,omitempty"`
	Message          string `json:"message,omitempty"`
}

// ErrGatewayNotRegistered is returned when no gateway is registered for the type
var ErrGatewayNotRegistered = errors.New("webhook: gateway not registered")

// ProcessNotification verifies and reconciles a raw gateway notification.
//
// Error contract: billing.ErrSignatureInvalid and billing.ErrMalformedNotification
// propagate so the transport can reject the request. Everything after
// successful verification is acknowledged: replays, unsupported events and
// reconciliation mismatches return a result with a nil error, because a
// gateway retry cannot fix them.
func (s *GatewayWebhookService) ProcessNotification(ctx context.Context, gatewayType billing.PaymentGatewayType, payload []byte, signature string) (*WebhookResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "webhook", "process_notification")
	defer span.End()

	gateway, ok := s.gateways[gatewayType]
	if !ok {
		telemetry.RecordError(span, ErrGatewayNotRegistered)
		return nil, ErrGatewayNotRegistered
	}

	notification, err := gateway.VerifyNotification(ctx, payload, signature)
	if err != nil {
		s.logger.Warn("Gateway notification rejected",
			zap.String("gateway", string(gatewayType)),
			zap.Error(err))
		telemetry.RecordError(span, err)
		return nil, err
	}

	result := &WebhookResult{
		EventID:   notification.EventID,
		EventType: notification.RawEventType,
	}

	if notification.Kind == billing.GatewayEventUnsupported {
		s.logger.Debug("Skipping unsupported gateway event",
			zap.String("event_id", notification.EventID),
			zap.String("event_type", notification.RawEventType))
		result.Message = "Event type not handled"
		return result, nil
	}

	// Replay check. Marking happens only after successful handling, so a
	// failed attempt can be retried by the gateway.
	processed, err := s.idempotency.IsProcessed(ctx, idempotencyKey(gatewayType, notification.EventID))
	if err != nil {
		s.logger.Warn("Idempotency lookup failed, relying on aggregate idempotency",
			zap.String("event_id", notification.EventID),
			zap.Error(err))
	}
	if processed {
		s.logger.Info("Gateway event already processed",
			zap.String("event_id", notification.EventID))
		result.AlreadyProcessed = true
		return result, nil
	}

	if err := s.reconcile(ctx, notification); err != nil {
		if errors.Is(err, billing.ErrReconciliationMismatch) {
			// Operator attention, not a gateway retry
			s.logger.Error("Gateway notification does not reconcile",
				zap.String("event_id", notification.EventID),
				zap.String("transaction_id", notification.TransactionID),
				zap.String("gateway_amount", notification.Amount.StringFixed(2)),
				zap.Error(err))
			telemetry.RecordError(span, err)
			result.Message = err.Error()
			return result, nil
		}
		telemetry.RecordError(span, err)
		return nil, err
	}

	if _, err := s.idempotency.MarkProcessed(ctx, idempotencyKey(gatewayType, notification.EventID), s.idempotencyTTL); err != nil {
		s.logger.Warn("Failed to mark gateway event processed",
			zap.String("event_id", notification.EventID),
			zap.Error(err))
	}

	result.Processed = true
	return result, nil
}

func idempotencyKey(gatewayType billing.PaymentGatewayType, eventID string) string {
	return fmt.Sprintf("webhook:%s:%s", gatewayType, eventID)
}

// reconcile applies a verified notification to the matching payment and its
// invoice inside one transaction.
func (s *GatewayWebhookService) reconcile(ctx context.Context, n *billing.GatewayNotification) error {
	return s.txScope.Execute(ctx, func(repos TransactionalRepositories) error {
		now := s.clock()

		payment, err := repos.PaymentRepo().FindByGatewayTransactionID(ctx, n.TransactionID)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				return fmt.Errorf("%w: no payment for transaction %s", billing.ErrReconciliationMismatch, n.TransactionID)
			}
			return err
		}

		if n.Currency != "" && n.Currency != string(valueobject.USD) {
			return fmt.Errorf("%w: unexpected currency %s", billing.ErrReconciliationMismatch, n.Currency)
		}

		inv, err := repos.InvoiceRepo().FindByIDForUpdate(ctx, payment.OrganizationID, payment.InvoiceID)
		if err != nil {
			return err
		}

		switch n.Kind {
		case billing.GatewayEventPaymentSucceeded:
			err = s.applySucceeded(ctx, repos, inv, payment, n, now)
		case billing.GatewayEventPaymentFailed:
			err = s.applyFailed(ctx, repos, payment, n, now)
		case billing.GatewayEventRefund:
			err = s.applyRefund(ctx, repos, inv, payment, n, now)
		default:
			return billing.ErrUnsupportedGatewayEvent
		}
		if err != nil {
			return err
		}

		if s.eventPublisher != nil {
			if pubErr := s.eventPublisher.Publish(ctx, append(payment.GetDomainEvents(), inv.GetDomainEvents()...)...); pubErr != nil {
				s.logger.Warn("Failed to publish reconciliation events", zap.Error(pubErr))
			}
			payment.ClearDomainEvents()
			inv.ClearDomainEvents()
		}
		return nil
	})
}

func (s *GatewayWebhookService) applySucceeded(ctx context.Context, repos TransactionalRepositories, inv *billing.Invoice, payment *billing.Payment, n *billing.GatewayNotification, now time.Time) error {
	if payment.IsPending() {
		// The gateway's amount is authoritative for gateway payments
		gatewayAmount := valueobject.NewMoneyUSD(n.Amount)
		if err := payment.CorrectAmount(gatewayAmount, now); err != nil {
			return fmt.Errorf("%w: %v", billing.ErrReconciliationMismatch, err)
		}
	}

	changed, err := payment.Complete(now)
	if err != nil {
		return fmt.Errorf("%w: %v", billing.ErrReconciliationMismatch, err)
	}
	if !changed {
		// Replay of an already-completed payment
		return nil
	}

	if err := inv.ApplyPayment(payment.GetAmountMoney(), now); err != nil {
		return fmt.Errorf("%w: %v", billing.ErrReconciliationMismatch, err)
	}

	if err := repos.PaymentRepo().SaveWithLock(ctx, payment); err != nil {
		return err
	}
	if err := repos.InvoiceRepo().SaveWithLock(ctx, inv); err != nil {
		return err
	}

	s.logger.Info("Gateway payment reconciled",
		zap.String("payment_id", payment.ID.String()),
		zap.String("invoice_id", inv.ID.String()),
		zap.String("amount", payment.Amount.StringFixed(2)),
		zap.String("invoice_status", string(inv.Status)))
	return nil
}

func (s *GatewayWebhookService) applyFailed(ctx context.Context, repos TransactionalRepositories, payment *billing.Payment, n *billing.GatewayNotification, now time.Time) error {
	reason := n.Reason
	if reason == "" {
		reason = "declined by gateway"
	}
	changed, err := payment.Fail(reason, now)
	if err != nil {
		return fmt.Errorf("%w: %v", billing.ErrReconciliationMismatch, err)
	}
	if !changed {
		return nil
	}
	if err := repos.PaymentRepo().SaveWithLock(ctx, payment); err != nil {
		return err
	}

	s.logger.Info("Gateway payment failed",
		zap.String("payment_id", payment.ID.String()),
		zap.String("reason", reason))
	return nil
}

func (s *GatewayWebhookService) applyRefund(ctx context.Context, repos TransactionalRepositories, inv *billing.Invoice, payment *billing.Payment, n *billing.GatewayNotification, now time.Time) error {
	reason := n.Reason
	if reason == "" {
		reason = "refunded by gateway"
	}
	changed, err := payment.Refund(reason, now)
	if err != nil {
		return fmt.Errorf("%w: %v", billing.ErrReconciliationMismatch, err)
	}
	if !changed {
		return nil
	}

	if err := inv.ReversePayment(payment.GetAmountMoney(), now); err != nil {
		return fmt.Errorf("%w: %v", billing.ErrReconciliationMismatch, err)
	}

	if err := repos.PaymentRepo().SaveWithLock(ctx, payment); err != nil {
		return err
	}
	if err := repos.InvoiceRepo().SaveWithLock(ctx, inv); err != nil {
		return err
	}

	s.logger.Info("Gateway refund reconciled",
		zap.String("payment_id", payment.ID.String()),
		zap.String("invoice_id", inv.ID.String()),
		zap.String("amount", payment.Amount.StringFixed(2)))
	return nil
}
