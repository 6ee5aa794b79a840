package billing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// AdmissionReason is a stable machine-readable code explaining why a
// payment request was rejected
type AdmissionReason string

const (
	AdmissionInvoiceNotPayable     AdmissionReason = "INVOICE_NOT_PAYABLE"
	AdmissionPendingExists         AdmissionReason = "PAYMENT_PENDING_EXISTS"
	AdmissionNothingDue            AdmissionReason = "NOTHING_DUE"
	AdmissionExceedsBalance        AdmissionReason = "EXCEEDS_BALANCE"
	AdmissionPartialNotAllowed     AdmissionReason = "PARTIAL_NOT_ALLOWED"
	AdmissionBelowMinimumPayment   AdmissionReason = "BELOW_MINIMUM_PAYMENT"
	AdmissionBelowPracticalMinimum AdmissionReason = "BELOW_PRACTICAL_MINIMUM"
	AdmissionInvalidPaymentDate    AdmissionReason = "INVALID_PAYMENT_DATE"
	AdmissionDuplicatePayment      AdmissionReason = "DUPLICATE_PAYMENT"
	AdmissionCooldownActive        AdmissionReason = "PAYMENT_COOLDOWN"
)

// AdmissionError reports the first failed admission check
type AdmissionError struct {
	Reason  AdmissionReason
	Message string
}

// Error implements the error interface
func (e *AdmissionError) Error() string {
	return e.Message
}

func newAdmissionError(reason AdmissionReason, format string, args ...any) *AdmissionError {
	return &AdmissionError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// Admission policy constants
var (
	// PracticalMinimumPayment is the smallest amount worth processing,
	// waived when the payment settles the exact remaining balance.
	PracticalMinimumPayment = decimal.NewFromFloat(0.50)
)

const (
	// DuplicateWindow is how far back a same-amount payment blocks a new one
	DuplicateWindow = time.Hour
	// PaymentCooldown is the minimum gap between any two payments on an invoice
	PaymentCooldown = 5 * time.Minute
	// PaymentDateSkewTolerance absorbs clock drift between caller and server
	PaymentDateSkewTolerance = 5 * time.Minute
)

// AdmissionRequest is the candidate payment under evaluation. Amount must
// already be rounded to currency places.
type AdmissionRequest struct {
	Amount      decimal.Decimal
	Method      PaymentMethod
	PaymentDate time.Time
}

// CheckAdmission runs the ordered admission pipeline for a payment request
// against the invoice and its existing payments. The first failing check
// wins; nil means admitted. The function is pure: it reads state and the
// provided clock, and never mutates anything, so the recorder can re-run
// it inside a transaction against locked state.
func CheckAdmission(inv *Invoice, existing []Payment, req AdmissionRequest, now time.Time) *AdmissionError {
	// 1. Invoice must be in a payable status
	if !inv.Status.CanAcceptPayment() {
		return newAdmissionError(AdmissionInvoiceNotPayable,
			"Invoice in %s status does not accept payments", inv.Status)
	}

	// 2. At most one pending payment per invoice
	for i := range existing {
		if existing[i].IsPending() {
			return newAdmissionError(AdmissionPendingExists,
				"Invoice already has a pending payment")
		}
	}

	// 3. There must be something left to pay
	balance := inv.Balance()
	if balance.LessThanOrEqual(decimal.Zero) {
		return newAdmissionError(AdmissionNothingDue,
			"Invoice has no outstanding balance")
	}

	// 4. Never accept more than the balance
	if req.Amount.GreaterThan(balance) {
		return newAdmissionError(AdmissionExceedsBalance,
			"Payment amount %s exceeds outstanding balance %s",
			req.Amount.StringFixed(2), balance.StringFixed(2))
	}

	// 5. Partial payments need an explicit policy and a floor
	if req.Amount.LessThan(balance) {
		if !inv.AllowPartialPayments {
			return newAdmissionError(AdmissionPartialNotAllowed,
				"Invoice does not allow partial payments")
		}
		if req.Amount.LessThan(inv.MinimumPaymentAmount) {
			return newAdmissionError(AdmissionBelowMinimumPayment,
				"Payment amount %s is below the minimum payment of %s",
				req.Amount.StringFixed(2), inv.MinimumPaymentAmount.StringFixed(2))
		}
	}

	// 6. Practical minimum, waived for an exact balance settlement
	if req.Amount.LessThan(PracticalMinimumPayment) && !req.Amount.Equal(balance) {
		return newAdmissionError(AdmissionBelowPracticalMinimum,
			"Payment amount %s is below the practical minimum of %s",
			req.Amount.StringFixed(2), PracticalMinimumPayment.StringFixed(2))
	}

	// 7. Payment date sanity
	if req.PaymentDate.After(now.Add(PaymentDateSkewTolerance)) {
		return newAdmissionError(AdmissionInvalidPaymentDate,
			"Payment date cannot be in the future")
	}
	if req.PaymentDate.Before(inv.IssueDate) {
		return newAdmissionError(AdmissionInvalidPaymentDate,
			"Payment date cannot be before the invoice issue date")
	}

	// 8. Same amount within the duplicate window looks like a double submit
	for i := range existing {
		p := &existing[i]
		if !p.CountsTowardDuplicates() {
			continue
		}
		if p.Amount.Equal(req.Amount) && now.Sub(p.CreatedAt) < DuplicateWindow {
			return newAdmissionError(AdmissionDuplicatePayment,
				"A payment of %s was already recorded within the last hour",
				req.Amount.StringFixed(2))
		}
	}

	// 9. Cooldown between any two payments on the same invoice
	for i := range existing {
		p := &existing[i]
		if !p.CountsTowardDuplicates() {
			continue
		}
		if now.Sub(p.CreatedAt) < PaymentCooldown {
			return newAdmissionError(AdmissionCooldownActive,
				"Another payment was recorded less than %s ago", PaymentCooldown)
		}
	}

	return nil
}
