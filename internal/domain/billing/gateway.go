package billing

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Gateway reconciliation errors
var (
	// ErrSignatureInvalid means the webhook signature did not verify.
	// Nothing from the payload may be processed or logged as trusted.
	ErrSignatureInvalid = errors.New("gateway: invalid notification signature")

	// ErrMalformedNotification means the payload could not be parsed
	ErrMalformedNotification = errors.New("gateway: malformed notification payload")

	// ErrReconciliationMismatch means a verified event could not be applied:
	// no payment matches the transaction, or the matched payment cannot
	// accept the event in its current state. Requires operator attention.
	ErrReconciliationMismatch = errors.New("gateway: notification does not reconcile with any payment")

	// ErrUnsupportedGatewayEvent means the event kind is not one this
	// system reconciles; it is acknowledged and skipped.
	ErrUnsupportedGatewayEvent = errors.New("gateway: unsupported notification event")
)

// PaymentGatewayType identifies an external payment gateway
type PaymentGatewayType string

const (
	PaymentGatewayTypeStripe PaymentGatewayType = "STRIPE"
)

// IsValid returns true if the gateway type is valid
func (t PaymentGatewayType) IsValid() bool {
	return t == PaymentGatewayTypeStripe
}

// String returns the string representation of PaymentGatewayType
func (t PaymentGatewayType) String() string {
	return string(t)
}

// GatewayEventKind classifies a gateway notification
type GatewayEventKind string

const (
	GatewayEventPaymentSucceeded GatewayEventKind = "payment_succeeded"
	GatewayEventPaymentFailed    GatewayEventKind = "payment_failed"
	GatewayEventRefund           GatewayEventKind = "refund"
	GatewayEventUnsupported      GatewayEventKind = "unsupported"
)

// GatewayNotification is the gateway-neutral form of a verified webhook
// event. Amount is the gateway's authoritative figure for the transaction.
type GatewayNotification struct {
	EventID       string
	Kind          GatewayEventKind
	Gateway       PaymentGatewayType
	TransactionID string
	Amount        decimal.Decimal
	Currency      string
	Reason        string // Failure or refund reason supplied by the gateway
	OccurredAt    time.Time
	RawEventType  string // Gateway-specific event name, for diagnostics
}

// PaymentGateway verifies and decodes gateway webhook notifications.
// Implementations must return ErrSignatureInvalid before doing anything
// with an unverified payload.
type PaymentGateway interface {
	// GatewayType identifies the gateway
	GatewayType() PaymentGatewayType

	// VerifyNotification checks the payload signature and decodes the event.
	// Returns ErrSignatureInvalid or ErrMalformedNotification on bad input,
	// and a notification with Kind GatewayEventUnsupported for event types
	// the reconciliation handler does not process.
	VerifyNotification(ctx context.Context, payload []byte, signature string) (*GatewayNotification, error)
}
