package billing

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/billing/backend/internal/domain/shared"
	"github.com/billing/backend/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InvoiceStatus represents the lifecycle status of an invoice
type InvoiceStatus string

const (
	InvoiceStatusDraft         InvoiceStatus = "DRAFT"          // Fully editable, invisible to payment flows
	InvoiceStatusIssued        InvoiceStatus = "ISSUED"         // Sent to the client, awaiting payment
	InvoiceStatusPartiallyPaid InvoiceStatus = "PARTIALLY_PAID" // Some payment applied, balance remains
	InvoiceStatusOverdue       InvoiceStatus = "OVERDUE"        // Past due date with an open balance
	InvoiceStatusPaid          InvoiceStatus = "PAID"           // Balance settled in full
	InvoiceStatusCancelled     InvoiceStatus = "CANCELLED"      // Voided, no further activity
)

// IsValid checks if the status is a valid InvoiceStatus
func (s InvoiceStatus) IsValid() bool {
	switch s {
	case InvoiceStatusDraft, InvoiceStatusIssued, InvoiceStatusPartiallyPaid,
		InvoiceStatusOverdue, InvoiceStatusPaid, InvoiceStatusCancelled:
		return true
	}
	return false
}

// String returns the string representation of InvoiceStatus
func (s InvoiceStatus) String() string {
	return string(s)
}

// IsTerminal returns true if no further payment activity is possible
func (s InvoiceStatus) IsTerminal() bool {
	return s == InvoiceStatusCancelled
}

// CanAcceptPayment returns true if payments can be recorded in this status
func (s InvoiceStatus) CanAcceptPayment() bool {
	return s == InvoiceStatusIssued || s == InvoiceStatusPartiallyPaid || s == InvoiceStatusOverdue
}

// IsEditable returns true if invoice content (items, dates, rates) may change
func (s InvoiceStatus) IsEditable() bool {
	return s == InvoiceStatusDraft
}

// InvoiceItem is a line item value object within the Invoice aggregate,
// stored as JSONB. LineTotal is derived once at construction and never
// recomputed from stale inputs.
type InvoiceItem struct {
	ID          uuid.UUID       `json:"id"`
	Product     string          `json:"product"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

// NewInvoiceItem creates a validated line item. The line total is
// quantity * unit price rounded half up to currency places.
func NewInvoiceItem(product, description string, quantity, unitPrice decimal.Decimal) (*InvoiceItem, error) {
	if product == "" {
		return nil, shared.NewDomainError("INVALID_ITEM_PRODUCT", "Item product cannot be empty")
	}
	if len(product) > 255 {
		return nil, shared.NewDomainError("INVALID_ITEM_PRODUCT", "Item product cannot exceed 255 characters")
	}
	if description == "" {
		return nil, shared.NewDomainError("INVALID_ITEM_DESCRIPTION", "Item description cannot be empty")
	}
	if len(description) > 500 {
		return nil, shared.NewDomainError("INVALID_ITEM_DESCRIPTION", "Item description cannot exceed 500 characters")
	}
	if quantity.LessThanOrEqual(decimal.Zero) {
		return nil, shared.NewDomainError("INVALID_ITEM_QUANTITY", "Item quantity must be positive")
	}
	if unitPrice.IsNegative() {
		return nil, shared.NewDomainError("INVALID_ITEM_PRICE", "Item unit price cannot be negative")
	}
	return &InvoiceItem{
		ID:          uuid.New(),
		Product:     product,
		Description: description,
		Quantity:    quantity,
		UnitPrice:   unitPrice,
		LineTotal:   quantity.Mul(unitPrice).Round(valueobject.CurrencyPlaces),
	}, nil
}

// InvoiceItems is a slice of InvoiceItem that implements GORM Scanner/Valuer for JSONB storage
type InvoiceItems []InvoiceItem

// Value implements driver.Valuer interface for GORM to store as JSONB
func (items InvoiceItems) Value() (driver.Value, error) {
	if items == nil {
		return "[]", nil
	}
	return json.Marshal(items)
}

// Scan implements sql.Scanner interface for GORM to read from JSONB
func (items *InvoiceItems) Scan(value interface{}) error {
	if value == nil {
		*items = InvoiceItems{}
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("failed to scan InvoiceItems: unsupported type")
	}

	if len(bytes) == 0 {
		*items = InvoiceItems{}
		return nil
	}

	return json.Unmarshal(bytes, items)
}

// Invoice is the billing aggregate root. All monetary figures are stored
// rounded to currency places; Balance is always derived from TotalAmount
// and PaidAmount, never stored.
type Invoice struct {
	shared.OrgAggregateRoot
	InvoiceNumber string        `json:"invoice_number"`
	PublicToken   uuid.UUID     `json:"public_token"` // Unauthenticated pay-by-link token, distinct from ID
	ClientID      uuid.UUID     `json:"client_id"`
	ClientName    string        `json:"client_name"`
	Status        InvoiceStatus `json:"status"`
	IssueDate     time.Time     `json:"issue_date"`
	DueDate       time.Time     `json:"due_date"`
	Items         InvoiceItems  `json:"items"`

	TaxRate        decimal.Decimal `json:"tax_rate"`         // Percent, 0-100
	LateFeePercent decimal.Decimal `json:"late_fee_percent"` // Percent, 0-100
	LateFeeApplied bool            `json:"late_fee_applied"` // Set once, never cleared
	LateFeeAmount  decimal.Decimal `json:"late_fee_amount"`

	Subtotal    decimal.Decimal `json:"subtotal"`
	TaxAmount   decimal.Decimal `json:"tax_amount"`
	TotalAmount decimal.Decimal `json:"total_amount"` // subtotal + tax + late fee
	PaidAmount  decimal.Decimal `json:"paid_amount"`

	AllowPartialPayments bool            `json:"allow_partial_payments"`
	MinimumPaymentAmount decimal.Decimal `json:"minimum_payment_amount"`

	Notes          string     `json:"notes"`
	PaidAt         *time.Time `json:"paid_at"`
	CancelledAt    *time.Time `json:"cancelled_at"`
	CancelReason   string     `json:"cancel_reason"`
	RemindersSent  int        `json:"reminders_sent"`
	LastReminderAt *time.Time `json:"last_reminder_at"`
}

// NewInvoiceParams carries the inputs for creating a draft invoice
type NewInvoiceParams struct {
	OrganizationID       uuid.UUID
	InvoiceNumber        string
	ClientID             uuid.UUID
	ClientName           string
	IssueDate            time.Time
	DueDate              time.Time
	Items                []InvoiceItem
	TaxRate              decimal.Decimal
	LateFeePercent       decimal.Decimal
	AllowPartialPayments bool
	MinimumPaymentAmount decimal.Decimal
	Notes                string
}

// NewInvoice creates a new invoice in DRAFT status
func NewInvoice(p NewInvoiceParams) (*Invoice, error) {
	if p.InvoiceNumber == "" {
		return nil, shared.NewDomainError("INVALID_INVOICE_NUMBER", "Invoice number cannot be empty")
	}
	if len(p.InvoiceNumber) > 50 {
		return nil, shared.NewDomainError("INVALID_INVOICE_NUMBER", "Invoice number cannot exceed 50 characters")
	}
	if p.ClientID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_CLIENT", "Client ID cannot be empty")
	}
	if p.ClientName == "" {
		return nil, shared.NewDomainError("INVALID_CLIENT_NAME", "Client name cannot be empty")
	}

	inv := &Invoice{
		OrgAggregateRoot: shared.NewOrgAggregateRoot(p.OrganizationID),
		InvoiceNumber:    p.InvoiceNumber,
		PublicToken:      uuid.New(),
		ClientID:         p.ClientID,
		ClientName:       p.ClientName,
		Status:           InvoiceStatusDraft,
		PaidAmount:       decimal.Zero,
		LateFeeAmount:    decimal.Zero,
		Items:            InvoiceItems{},
	}

	if err := inv.applyDraftChanges(DraftChanges{
		IssueDate:            p.IssueDate,
		DueDate:              p.DueDate,
		Items:                p.Items,
		TaxRate:              p.TaxRate,
		LateFeePercent:       p.LateFeePercent,
		AllowPartialPayments: p.AllowPartialPayments,
		MinimumPaymentAmount: p.MinimumPaymentAmount,
		Notes:                p.Notes,
	}); err != nil {
		return nil, err
	}

	inv.AddDomainEvent(NewInvoiceCreatedEvent(inv))

	return inv, nil
}

// DraftChanges groups the mutable fields of a draft invoice
type DraftChanges struct {
	IssueDate            time.Time
	DueDate              time.Time
	Items                []InvoiceItem
	TaxRate              decimal.Decimal
	LateFeePercent       decimal.Decimal
	AllowPartialPayments bool
	MinimumPaymentAmount decimal.Decimal
	Notes                string
}

func (inv *Invoice) applyDraftChanges(c DraftChanges) error {
	if c.IssueDate.IsZero() {
		return shared.NewDomainError("INVALID_ISSUE_DATE", "Issue date is required")
	}
	if c.DueDate.IsZero() {
		return shared.NewDomainError("INVALID_DUE_DATE", "Due date is required")
	}
	if c.DueDate.Before(c.IssueDate) {
		return shared.NewDomainError("INVALID_DUE_DATE", "Due date cannot be before issue date")
	}
	if err := validatePercentRate(c.TaxRate, "INVALID_TAX_RATE", "Tax rate"); err != nil {
		return err
	}
	if err := validatePercentRate(c.LateFeePercent, "INVALID_LATE_FEE_RATE", "Late fee percentage"); err != nil {
		return err
	}

	inv.IssueDate = c.IssueDate
	inv.DueDate = c.DueDate
	inv.Items = c.Items
	inv.TaxRate = c.TaxRate
	inv.LateFeePercent = c.LateFeePercent
	inv.Notes = c.Notes
	inv.recalculateTotals()

	if err := inv.validatePartialPolicy(c.AllowPartialPayments, c.MinimumPaymentAmount); err != nil {
		return err
	}
	inv.AllowPartialPayments = c.AllowPartialPayments
	inv.MinimumPaymentAmount = c.MinimumPaymentAmount

	return nil
}

func validatePercentRate(rate decimal.Decimal, code, label string) error {
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(100)) {
		return shared.NewDomainError(code, fmt.Sprintf("%s must be between 0 and 100", label))
	}
	return nil
}

// validatePartialPolicy enforces: when partial payments are allowed the
// minimum must satisfy 0 < minimum < total; when disallowed it must be zero.
func (inv *Invoice) validatePartialPolicy(allow bool, minimum decimal.Decimal) error {
	if !allow {
		if !minimum.IsZero() {
			return shared.NewDomainError("INVALID_MINIMUM_PAYMENT", "Minimum payment amount must be zero when partial payments are not allowed")
		}
		return nil
	}
	if minimum.LessThanOrEqual(decimal.Zero) {
		return shared.NewDomainError("INVALID_MINIMUM_PAYMENT", "Minimum payment amount must be positive when partial payments are allowed")
	}
	if len(inv.Items) > 0 && minimum.GreaterThanOrEqual(inv.TotalAmount) {
		return shared.NewDomainError("INVALID_MINIMUM_PAYMENT", "Minimum payment amount must be less than the invoice total")
	}
	return nil
}

// recalculateTotals rederives subtotal, tax and total from the line items.
// The late fee component survives recalculation once applied.
func (inv *Invoice) recalculateTotals() {
	subtotal := decimal.Zero
	for _, item := range inv.Items {
		subtotal = subtotal.Add(item.LineTotal)
	}
	inv.Subtotal = subtotal.Round(valueobject.CurrencyPlaces)
	inv.TaxAmount = valueobject.NewMoneyUSD(inv.Subtotal).CalculatePercentage(inv.TaxRate).Amount()
	inv.TotalAmount = inv.Subtotal.Add(inv.TaxAmount).Add(inv.LateFeeAmount)
}

// UpdateDraft replaces the mutable fields of a DRAFT invoice
func (inv *Invoice) UpdateDraft(c DraftChanges) error {
	if !inv.Status.IsEditable() {
		return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("Cannot edit invoice in %s status", inv.Status))
	}
	if err := inv.applyDraftChanges(c); err != nil {
		return err
	}
	inv.UpdatedAt = time.Now()
	inv.IncrementVersion()
	return nil
}

// ReplaceItems swaps the full line item set of a DRAFT invoice
func (inv *Invoice) ReplaceItems(items []InvoiceItem) error {
	if !inv.Status.IsEditable() {
		return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("Cannot replace items on invoice in %s status", inv.Status))
	}
	if len(items) == 0 {
		return shared.NewDomainError("INVALID_ITEMS", "Invoice must have at least one item")
	}
	inv.Items = items
	inv.recalculateTotals()
	if err := inv.validatePartialPolicy(inv.AllowPartialPayments, inv.MinimumPaymentAmount); err != nil {
		return err
	}
	inv.UpdatedAt = time.Now()
	inv.IncrementVersion()
	return nil
}

// Issue transitions a DRAFT invoice to ISSUED
func (inv *Invoice) Issue() error {
	if inv.Status != InvoiceStatusDraft {
		return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("Cannot issue invoice in %s status", inv.Status))
	}
	if len(inv.Items) == 0 {
		return shared.NewDomainError("INVALID_ITEMS", "Cannot issue an invoice without items")
	}
	if inv.DueDate.Before(inv.IssueDate) {
		return shared.NewDomainError("INVALID_DUE_DATE", "Due date cannot be before issue date")
	}

	inv.Status = InvoiceStatusIssued
	inv.UpdatedAt = time.Now()
	inv.IncrementVersion()

	inv.AddDomainEvent(NewInvoiceIssuedEvent(inv))

	return nil
}

// Cancel voids the invoice. Invoices with applied payments cannot be
// cancelled; refund the payments first.
func (inv *Invoice) Cancel(reason string) error {
	if inv.Status.IsTerminal() || inv.Status == InvoiceStatusPaid {
		return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("Cannot cancel invoice in %s status", inv.Status))
	}
	if inv.PaidAmount.GreaterThan(decimal.Zero) {
		return shared.NewDomainError("HAS_PAYMENTS", "Cannot cancel invoice with applied payments")
	}
	if reason == "" {
		return shared.NewDomainError("INVALID_REASON", "Cancel reason is required")
	}

	now := time.Now()
	inv.Status = InvoiceStatusCancelled
	inv.CancelledAt = &now
	inv.CancelReason = reason
	inv.UpdatedAt = now
	inv.IncrementVersion()

	inv.AddDomainEvent(NewInvoiceCancelledEvent(inv))

	return nil
}

// ApplyPayment credits a completed payment amount against the invoice and
// recomputes status. The admission pipeline has already validated the
// amount; this guards the aggregate invariants regardless.
func (inv *Invoice) ApplyPayment(amount valueobject.Money, now time.Time) error {
	if !inv.Status.CanAcceptPayment() {
		return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("Cannot apply payment to invoice in %s status", inv.Status))
	}
	rounded := amount.RoundCurrency().Amount()
	if rounded.LessThanOrEqual(decimal.Zero) {
		return shared.NewDomainError("INVALID_AMOUNT", "Payment amount must be positive")
	}
	if rounded.GreaterThan(inv.Balance()) {
		return shared.NewDomainError("EXCEEDS_BALANCE", fmt.Sprintf("Payment amount %s exceeds balance %s", rounded.StringFixed(2), inv.Balance().StringFixed(2)))
	}

	inv.PaidAmount = inv.PaidAmount.Add(rounded)
	inv.RecomputeStatus(now)
	inv.UpdatedAt = now
	inv.IncrementVersion()

	return nil
}

// ReversePayment debits a refunded payment amount from the invoice and
// recomputes status. A PAID invoice reopens; the late fee is never
// re-applied on the way back through OVERDUE.
func (inv *Invoice) ReversePayment(amount valueobject.Money, now time.Time) error {
	if inv.Status.IsTerminal() {
		return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("Cannot reverse payment on invoice in %s status", inv.Status))
	}
	rounded := amount.RoundCurrency().Amount()
	if rounded.LessThanOrEqual(decimal.Zero) {
		return shared.NewDomainError("INVALID_AMOUNT", "Reversal amount must be positive")
	}
	if rounded.GreaterThan(inv.PaidAmount) {
		return shared.NewDomainError("EXCEEDS_PAID", fmt.Sprintf("Reversal amount %s exceeds paid amount %s", rounded.StringFixed(2), inv.PaidAmount.StringFixed(2)))
	}

	inv.PaidAmount = inv.PaidAmount.Sub(rounded)
	inv.PaidAt = nil
	inv.RecomputeStatus(now)
	inv.UpdatedAt = now
	inv.IncrementVersion()

	return nil
}

// RecomputeStatus is the single entry point for status derivation. It is
// idempotent: running it twice with the same inputs changes nothing.
// DRAFT and CANCELLED invoices are never touched. The late fee is applied
// exactly once, on the first transition into OVERDUE.
func (inv *Invoice) RecomputeStatus(now time.Time) bool {
	if inv.Status == InvoiceStatusDraft || inv.Status == InvoiceStatusCancelled {
		return false
	}

	previous := inv.Status

	switch {
	case inv.PaidAmount.GreaterThanOrEqual(inv.TotalAmount):
		inv.Status = InvoiceStatusPaid
		if inv.PaidAt == nil {
			paidAt := now
			inv.PaidAt = &paidAt
		}
		if previous != InvoiceStatusPaid {
			inv.AddDomainEvent(NewInvoicePaidEvent(inv))
		}

	case now.After(inv.DueDate):
		if !inv.LateFeeApplied && inv.LateFeePercent.GreaterThan(decimal.Zero) {
			// The fee is charged on what is still owed, not the full total:
			// a partially paid invoice only accrues a fee on the open part.
			unpaidBase := inv.Subtotal.Add(inv.TaxAmount).Sub(inv.PaidAmount)
			inv.LateFeeAmount = valueobject.NewMoneyUSD(unpaidBase).CalculatePercentage(inv.LateFeePercent).Amount()
			inv.LateFeeApplied = true
			inv.TotalAmount = inv.Subtotal.Add(inv.TaxAmount).Add(inv.LateFeeAmount)
		}
		inv.Status = InvoiceStatusOverdue
		if previous != InvoiceStatusOverdue {
			inv.AddDomainEvent(NewInvoiceOverdueEvent(inv))
		}

	case inv.PaidAmount.GreaterThan(decimal.Zero):
		inv.Status = InvoiceStatusPartiallyPaid

	default:
		inv.Status = InvoiceStatusIssued
	}

	return inv.Status != previous
}

// Balance returns the open amount: total minus paid. May be negative only
// transiently during refund processing; callers display max(balance, 0).
func (inv *Invoice) Balance() decimal.Decimal {
	return inv.TotalAmount.Sub(inv.PaidAmount)
}

// BaseTotal returns subtotal plus tax, excluding any late fee
func (inv *Invoice) BaseTotal() decimal.Decimal {
	return inv.Subtotal.Add(inv.TaxAmount)
}

// GetTotalMoney returns the total as Money
func (inv *Invoice) GetTotalMoney() valueobject.Money {
	return valueobject.NewMoneyUSD(inv.TotalAmount)
}

// GetBalanceMoney returns the balance as Money
func (inv *Invoice) GetBalanceMoney() valueobject.Money {
	return valueobject.NewMoneyUSD(inv.Balance())
}

// IsOverdue returns true if the invoice is past due with an open balance
func (inv *Invoice) IsOverdue(now time.Time) bool {
	if inv.Status == InvoiceStatusDraft || inv.Status == InvoiceStatusCancelled || inv.Status == InvoiceStatusPaid {
		return false
	}
	return now.After(inv.DueDate)
}

// DaysOverdue returns the number of days past due (0 if not overdue)
func (inv *Invoice) DaysOverdue(now time.Time) int {
	if !inv.IsOverdue(now) {
		return 0
	}
	return int(now.Sub(inv.DueDate).Hours() / 24)
}

// Reminder policy constants
const (
	MaxPaymentReminders     = 3
	ReminderMinimumInterval = 7 * 24 * time.Hour
)

// CanSendReminder returns true if a payment reminder may be recorded:
// the invoice has an open balance, fewer than MaxPaymentReminders have
// been sent, and at least ReminderMinimumInterval has passed.
func (inv *Invoice) CanSendReminder(now time.Time) bool {
	if !inv.Status.CanAcceptPayment() {
		return false
	}
	if inv.RemindersSent >= MaxPaymentReminders {
		return false
	}
	if inv.LastReminderAt != nil && now.Sub(*inv.LastReminderAt) < ReminderMinimumInterval {
		return false
	}
	return true
}

// MarkReminderSent records that a reminder went out
func (inv *Invoice) MarkReminderSent(now time.Time) error {
	if !inv.CanSendReminder(now) {
		return shared.NewDomainError("REMINDER_NOT_ALLOWED", "Reminder limit reached or interval not elapsed")
	}
	inv.RemindersSent++
	inv.LastReminderAt = &now
	inv.UpdatedAt = now
	inv.IncrementVersion()
	return nil
}

// PaidPercentage returns the percentage of total that has been paid (0-100)
func (inv *Invoice) PaidPercentage() decimal.Decimal {
	if inv.TotalAmount.IsZero() {
		return decimal.NewFromInt(100)
	}
	return inv.PaidAmount.Div(inv.TotalAmount).Mul(decimal.NewFromInt(100)).Round(2)
}
