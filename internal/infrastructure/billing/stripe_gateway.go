package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/billing/backend/internal/domain/billing"
	"github.com/billing/backend/internal/infrastructure/config"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"
	"go.uber.org/zap"
)

// StripeGateway implements billing.PaymentGateway for Stripe webhook
// notifications. It verifies the Stripe-Signature header and translates
// Stripe events into gateway-neutral notifications.
type StripeGateway struct {
	webhookSecret string
	testBypass    bool
	logger        *zap.Logger
}

// NewStripeGateway creates a new Stripe gateway adapter
func NewStripeGateway(cfg config.StripeConfig, logger *zap.Logger) (*StripeGateway, error) {
	if cfg.WebhookSecret == "" && !cfg.TestBypass {
		return nil, fmt.Errorf("stripe: webhook secret is required")
	}

	if cfg.SecretKey != "" {
		stripe.Key = cfg.SecretKey
	}

	return &StripeGateway{
		webhookSecret: cfg.WebhookSecret,
		testBypass:    cfg.TestBypass,
		logger:        logger,
	}, nil
}

// GatewayType identifies the gateway
func (g *StripeGateway) GatewayType() billing.PaymentGatewayType {
	return billing.PaymentGatewayTypeStripe
}

// VerifyNotification checks the Stripe webhook signature and decodes the
// event. The payload is untrusted until the signature verifies; nothing
// from it is logged or returned before that.
func (g *StripeGateway) VerifyNotification(ctx context.Context, payload []byte, signature string) (*billing.GatewayNotification, error) {
	var event stripe.Event

	if g.testBypass {
		if err := json.Unmarshal(payload, &event); err != nil {
			return nil, billing.ErrMalformedNotification
		}
	} else {
		verified, err := webhook.ConstructEvent(payload, signature, g.webhookSecret)
		if err != nil {
			if isSignatureError(err) {
				return nil, billing.ErrSignatureInvalid
			}
			return nil, billing.ErrMalformedNotification
		}
		event = verified
	}

	notification, err := g.translate(&event)
	if err != nil {
		return nil, err
	}

	g.logger.Debug("verified gateway notification",
		zap.String("event_id", notification.EventID),
		zap.String("event_type", notification.RawEventType),
		zap.String("kind", string(notification.Kind)))

	return notification, nil
}

// isSignatureError reports whether the webhook construction error is a
// signature failure rather than a payload parse failure
func isSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrTooOld) ||
		errors.Is(err, webhook.ErrNoValidSignature)
}

// translate maps a verified Stripe event to a gateway-neutral notification.
// Unrecognized event types come back with Kind GatewayEventUnsupported so
// the handler can acknowledge them without processing.
func (g *StripeGateway) translate(event *stripe.Event) (*billing.GatewayNotification, error) {
	notification := &billing.GatewayNotification{
		EventID:      event.ID,
		Gateway:      billing.PaymentGatewayTypeStripe,
		OccurredAt:   time.Unix(event.Created, 0).UTC(),
		RawEventType: string(event.Type),
	}

	switch event.Type {
	case stripe.EventTypePaymentIntentSucceeded:
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return nil, billing.ErrMalformedNotification
		}
		amount := intent.AmountReceived
		if amount == 0 {
			amount = intent.Amount
		}
		notification.Kind = billing.GatewayEventPaymentSucceeded
		notification.TransactionID = intent.ID
		notification.Amount = amountFromMinorUnits(amount)
		notification.Currency = strings.ToUpper(string(intent.Currency))

	case stripe.EventTypePaymentIntentPaymentFailed:
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return nil, billing.ErrMalformedNotification
		}
		notification.Kind = billing.GatewayEventPaymentFailed
		notification.TransactionID = intent.ID
		notification.Amount = amountFromMinorUnits(intent.Amount)
		notification.Currency = strings.ToUpper(string(intent.Currency))
		if intent.LastPaymentError != nil {
			notification.Reason = intent.LastPaymentError.Msg
		}

	case stripe.EventTypeChargeRefunded:
		var charge stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
			return nil, billing.ErrMalformedNotification
		}
		notification.Kind = billing.GatewayEventRefund
		if charge.PaymentIntent != nil {
			notification.TransactionID = charge.PaymentIntent.ID
		}
		notification.Amount = amountFromMinorUnits(charge.AmountRefunded)
		notification.Currency = strings.ToUpper(string(charge.Currency))
		if charge.Refunds != nil && len(charge.Refunds.Data) > 0 {
			notification.Reason = string(charge.Refunds.Data[0].Reason)
		}

	default:
		notification.Kind = billing.GatewayEventUnsupported
	}

	return notification, nil
}

// amountFromMinorUnits converts a Stripe amount in the currency's minor
// units (cents) to a decimal major-unit amount
func amountFromMinorUnits(amount int64) decimal.Decimal {
	return decimal.New(amount, -2)
}

// Ensure StripeGateway implements PaymentGateway
var _ billing.PaymentGateway = (*StripeGateway)(nil)
