package billing

import (
	"fmt"
	"time"

	"github.com/billing/backend/internal/domain/shared"
	"github.com/billing/backend/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentMethod represents how a payment is made
type PaymentMethod string

const (
	PaymentMethodCash         PaymentMethod = "CASH"
	PaymentMethodBankTransfer PaymentMethod = "BANK_TRANSFER"
	PaymentMethodWireTransfer PaymentMethod = "WIRE_TRANSFER"
	PaymentMethodCheck        PaymentMethod = "CHECK"
	PaymentMethodCard         PaymentMethod = "CARD"
	PaymentMethodWallet       PaymentMethod = "WALLET"
)

// IsValid checks if the method is a valid PaymentMethod
func (m PaymentMethod) IsValid() bool {
	switch m {
	case PaymentMethodCash, PaymentMethodBankTransfer, PaymentMethodWireTransfer,
		PaymentMethodCheck, PaymentMethodCard, PaymentMethodWallet:
		return true
	}
	return false
}

// String returns the string representation of PaymentMethod
func (m PaymentMethod) String() string {
	return string(m)
}

// IsManual returns true for methods an operator records by hand. Manual
// payments complete immediately; gateway payments stay PENDING until the
// gateway reports the outcome.
func (m PaymentMethod) IsManual() bool {
	switch m {
	case PaymentMethodCash, PaymentMethodBankTransfer, PaymentMethodWireTransfer, PaymentMethodCheck:
		return true
	}
	return false
}

// IsGateway returns true for methods settled by an external gateway
func (m PaymentMethod) IsGateway() bool {
	return m == PaymentMethodCard || m == PaymentMethodWallet
}

// InitialStatus returns the status a freshly recorded payment starts in
func (m PaymentMethod) InitialStatus() PaymentStatus {
	if m.IsManual() {
		return PaymentStatusCompleted
	}
	return PaymentStatusPending
}

// OperatorCanRefund returns true if an operator may refund a completed
// payment of this method directly. Gateway refunds arrive only through
// reconciliation so the refunded amount matches what the gateway moved.
func (m PaymentMethod) OperatorCanRefund() bool {
	return m.IsManual()
}

// PaymentStatus represents the lifecycle status of a payment
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
	PaymentStatusRefunded  PaymentStatus = "REFUNDED"
)

// IsValid checks if the status is a valid PaymentStatus
func (s PaymentStatus) IsValid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	}
	return false
}

// String returns the string representation of PaymentStatus
func (s PaymentStatus) String() string {
	return string(s)
}

// IsTerminal returns true if no further transition is possible
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusFailed || s == PaymentStatusRefunded
}

// CanTransitionTo reports whether the transition is allowed.
// PENDING -> COMPLETED | FAILED; COMPLETED -> REFUNDED; terminal states
// accept nothing. Same-state transitions are handled by callers as
// no-op short circuits, not through this table.
func (s PaymentStatus) CanTransitionTo(target PaymentStatus) bool {
	switch s {
	case PaymentStatusPending:
		return target == PaymentStatusCompleted || target == PaymentStatusFailed
	case PaymentStatusCompleted:
		return target == PaymentStatusRefunded
	}
	return false
}

// Payment is an aggregate root recording one attempt to settle part of an
// invoice. The amount is stored rounded to currency places and, for
// gateway methods, may be corrected by reconciliation while PENDING.
type Payment struct {
	shared.OrgAggregateRoot
	InvoiceID   uuid.UUID       `json:"invoice_id"`
	ClientID    uuid.UUID       `json:"client_id"`
	Method      PaymentMethod   `json:"method"`
	Status      PaymentStatus   `json:"status"`
	Amount      decimal.Decimal `json:"amount"`
	PaymentDate time.Time       `json:"payment_date"`

	GatewayTransactionID string `json:"gateway_transaction_id,omitempty"`
	Reference            string `json:"reference,omitempty"` // Check number, wire reference, etc.
	Notes                string `json:"notes,omitempty"`

	FailureReason string     `json:"failure_reason,omitempty"`
	RefundReason  string     `json:"refund_reason,omitempty"`
	CompletedAt   *time.Time `json:"completed_at"`
	FailedAt      *time.Time `json:"failed_at"`
	RefundedAt    *time.Time `json:"refunded_at"`
}

// NewPaymentParams carries the inputs for recording a payment
type NewPaymentParams struct {
	OrganizationID       uuid.UUID
	InvoiceID            uuid.UUID
	ClientID             uuid.UUID
	Method               PaymentMethod
	Amount               valueobject.Money
	PaymentDate          time.Time
	GatewayTransactionID string
	Reference            string
	Notes                string
}

// NewPayment creates a payment in its method's initial status. Manual
// methods start COMPLETED; gateway methods start PENDING and require a
// gateway transaction id to match reconciliation events against.
func NewPayment(p NewPaymentParams, now time.Time) (*Payment, error) {
	if p.InvoiceID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_INVOICE", "Invoice ID cannot be empty")
	}
	if !p.Method.IsValid() {
		return nil, shared.NewDomainError("INVALID_METHOD", fmt.Sprintf("Unknown payment method %q", p.Method))
	}
	amount := p.Amount.RoundCurrency().Amount()
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, shared.NewDomainError("INVALID_AMOUNT", "Payment amount must be positive")
	}
	if p.PaymentDate.IsZero() {
		return nil, shared.NewDomainError("INVALID_PAYMENT_DATE", "Payment date is required")
	}
	if p.Method.IsGateway() && p.GatewayTransactionID == "" {
		return nil, shared.NewDomainError("MISSING_GATEWAY_TRANSACTION", "Gateway payments require a gateway transaction ID")
	}

	payment := &Payment{
		OrgAggregateRoot:     shared.NewOrgAggregateRoot(p.OrganizationID),
		InvoiceID:            p.InvoiceID,
		ClientID:             p.ClientID,
		Method:               p.Method,
		Status:               p.Method.InitialStatus(),
		Amount:               amount,
		PaymentDate:          p.PaymentDate,
		GatewayTransactionID: p.GatewayTransactionID,
		Reference:            p.Reference,
		Notes:                p.Notes,
	}

	if payment.Status == PaymentStatusCompleted {
		completedAt := now
		payment.CompletedAt = &completedAt
	}

	payment.AddDomainEvent(NewPaymentRecordedEvent(payment))

	return payment, nil
}

// Complete marks a PENDING payment as COMPLETED. Returns false with no
// error when the payment is already COMPLETED, so replayed gateway events
// short-circuit without writing.
func (p *Payment) Complete(now time.Time) (bool, error) {
	if p.Status == PaymentStatusCompleted {
		return false, nil
	}
	if !p.Status.CanTransitionTo(PaymentStatusCompleted) {
		return false, shared.NewDomainError("INVALID_STATE", fmt.Sprintf("Cannot complete payment in %s status", p.Status))
	}

	p.Status = PaymentStatusCompleted
	completedAt := now
	p.CompletedAt = &completedAt
	p.UpdatedAt = now
	p.IncrementVersion()

	p.AddDomainEvent(NewPaymentCompletedEvent(p))

	return true, nil
}

// Fail marks a PENDING payment as FAILED with a reason
func (p *Payment) Fail(reason string, now time.Time) (bool, error) {
	if p.Status == PaymentStatusFailed {
		return false, nil
	}
	if !p.Status.CanTransitionTo(PaymentStatusFailed) {
		return false, shared.NewDomainError("INVALID_STATE", fmt.Sprintf("Cannot fail payment in %s status", p.Status))
	}

	p.Status = PaymentStatusFailed
	p.FailureReason = reason
	failedAt := now
	p.FailedAt = &failedAt
	p.UpdatedAt = now
	p.IncrementVersion()

	p.AddDomainEvent(NewPaymentFailedEvent(p))

	return true, nil
}

// Refund marks a COMPLETED payment as REFUNDED with a reason
func (p *Payment) Refund(reason string, now time.Time) (bool, error) {
	if p.Status == PaymentStatusRefunded {
		return false, nil
	}
	if !p.Status.CanTransitionTo(PaymentStatusRefunded) {
		return false, shared.NewDomainError("INVALID_STATE", fmt.Sprintf("Cannot refund payment in %s status", p.Status))
	}

	p.Status = PaymentStatusRefunded
	p.RefundReason = reason
	refundedAt := now
	p.RefundedAt = &refundedAt
	p.UpdatedAt = now
	p.IncrementVersion()

	p.AddDomainEvent(NewPaymentRefundedEvent(p))

	return true, nil
}

// CorrectAmount replaces the recorded amount with the authoritative gateway
// amount before the payment is applied. Only PENDING gateway payments can
// be corrected; an audit note records both figures.
func (p *Payment) CorrectAmount(gatewayAmount valueobject.Money, now time.Time) error {
	if p.Status != PaymentStatusPending {
		return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("Cannot correct amount of payment in %s status", p.Status))
	}
	corrected := gatewayAmount.RoundCurrency().Amount()
	if corrected.LessThanOrEqual(decimal.Zero) {
		return shared.NewDomainError("INVALID_AMOUNT", "Corrected amount must be positive")
	}
	if corrected.Equal(p.Amount) {
		return nil
	}

	previous := p.Amount
	p.Amount = corrected
	p.AppendAuditNote(fmt.Sprintf("amount corrected from %s to %s per gateway notification at %s",
		previous.StringFixed(2), corrected.StringFixed(2), now.UTC().Format(time.RFC3339)))
	p.UpdatedAt = now
	p.IncrementVersion()

	p.AddDomainEvent(NewPaymentAmountCorrectedEvent(p, previous))

	return nil
}

// AppendAuditNote appends an audit line to the payment notes
func (p *Payment) AppendAuditNote(note string) {
	if p.Notes == "" {
		p.Notes = note
		return
	}
	p.Notes = p.Notes + "\n" + note
}

// GetAmountMoney returns the amount as Money
func (p *Payment) GetAmountMoney() valueobject.Money {
	return valueobject.NewMoneyUSD(p.Amount)
}

// IsPending returns true if the payment is pending
func (p *Payment) IsPending() bool {
	return p.Status == PaymentStatusPending
}

// IsCompleted returns true if the payment is completed
func (p *Payment) IsCompleted() bool {
	return p.Status == PaymentStatusCompleted
}

// CountsTowardDuplicates returns true if the payment participates in the
// duplicate and cooldown admission checks. FAILED payments never block a
// retry.
func (p *Payment) CountsTowardDuplicates() bool {
	return p.Status != PaymentStatusFailed
}
