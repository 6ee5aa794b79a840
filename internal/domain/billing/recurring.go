package billing

import (
	"fmt"
	"time"

	"github.com/billing/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RecurrenceFrequency represents how often a recurring template generates
type RecurrenceFrequency string

const (
	FrequencyWeekly    RecurrenceFrequency = "WEEKLY"
	FrequencyBiweekly  RecurrenceFrequency = "BIWEEKLY"
	FrequencyMonthly   RecurrenceFrequency = "MONTHLY"
	FrequencyQuarterly RecurrenceFrequency = "QUARTERLY"
	FrequencyYearly    RecurrenceFrequency = "YEARLY"
)

// IsValid checks if the frequency is a valid RecurrenceFrequency
func (f RecurrenceFrequency) IsValid() bool {
	switch f {
	case FrequencyWeekly, FrequencyBiweekly, FrequencyMonthly, FrequencyQuarterly, FrequencyYearly:
		return true
	}
	return false
}

// String returns the string representation of RecurrenceFrequency
func (f RecurrenceFrequency) String() string {
	return string(f)
}

// months returns the month step for month-based frequencies, 0 for weekly
func (f RecurrenceFrequency) months() int {
	switch f {
	case FrequencyMonthly:
		return 1
	case FrequencyQuarterly:
		return 3
	case FrequencyYearly:
		return 12
	}
	return 0
}

// RecurringInvoice is a template aggregate that materializes DRAFT invoices
// on a schedule. NextGenerationDate starts at StartDate and advances by the
// frequency after each generation.
type RecurringInvoice struct {
	shared.OrgAggregateRoot
	Name       string       `json:"name"`
	ClientID   uuid.UUID    `json:"client_id"`
	ClientName string       `json:"client_name"`
	Items      InvoiceItems `json:"items"`

	TaxRate              decimal.Decimal `json:"tax_rate"`
	LateFeePercent       decimal.Decimal `json:"late_fee_percent"`
	AllowPartialPayments bool            `json:"allow_partial_payments"`
	MinimumPaymentAmount decimal.Decimal `json:"minimum_payment_amount"`

	Frequency      RecurrenceFrequency `json:"frequency"`
	StartDate      time.Time           `json:"start_date"`
	EndDate        *time.Time          `json:"end_date"`
	PaymentDueDays int                 `json:"payment_due_days"`

	Active             bool       `json:"active"`
	NextGenerationDate time.Time  `json:"next_generation_date"`
	LastGeneratedAt    *time.Time `json:"last_generated_at"`
	GeneratedCount     int        `json:"generated_count"`
	Notes              string     `json:"notes"`
}

// NewRecurringInvoiceParams carries the inputs for creating a template
type NewRecurringInvoiceParams struct {
	OrganizationID       uuid.UUID
	Name                 string
	ClientID             uuid.UUID
	ClientName           string
	Items                []InvoiceItem
	TaxRate              decimal.Decimal
	LateFeePercent       decimal.Decimal
	AllowPartialPayments bool
	MinimumPaymentAmount decimal.Decimal
	Frequency            RecurrenceFrequency
	StartDate            time.Time
	EndDate              *time.Time
	PaymentDueDays       int
	Notes                string
}

// NewRecurringInvoice creates an active recurring template. The first
// generation is due on the start date itself.
func NewRecurringInvoice(p NewRecurringInvoiceParams) (*RecurringInvoice, error) {
	if p.Name == "" {
		return nil, shared.NewDomainError("INVALID_NAME", "Template name cannot be empty")
	}
	if p.ClientID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_CLIENT", "Client ID cannot be empty")
	}
	if p.ClientName == "" {
		return nil, shared.NewDomainError("INVALID_CLIENT_NAME", "Client name cannot be empty")
	}
	if len(p.Items) == 0 {
		return nil, shared.NewDomainError("INVALID_ITEMS", "Template must have at least one item")
	}
	if !p.Frequency.IsValid() {
		return nil, shared.NewDomainError("INVALID_FREQUENCY", fmt.Sprintf("Unknown frequency %q", p.Frequency))
	}
	if p.StartDate.IsZero() {
		return nil, shared.NewDomainError("INVALID_START_DATE", "Start date is required")
	}
	if p.EndDate != nil && p.EndDate.Before(p.StartDate) {
		return nil, shared.NewDomainError("INVALID_END_DATE", "End date cannot be before start date")
	}
	if p.PaymentDueDays < 1 {
		return nil, shared.NewDomainError("INVALID_DUE_DAYS", "Payment due days must be at least 1")
	}
	if err := validatePercentRate(p.TaxRate, "INVALID_TAX_RATE", "Tax rate"); err != nil {
		return nil, err
	}
	if err := validatePercentRate(p.LateFeePercent, "INVALID_LATE_FEE_RATE", "Late fee percentage"); err != nil {
		return nil, err
	}

	r := &RecurringInvoice{
		OrgAggregateRoot:     shared.NewOrgAggregateRoot(p.OrganizationID),
		Name:                 p.Name,
		ClientID:             p.ClientID,
		ClientName:           p.ClientName,
		Items:                p.Items,
		TaxRate:              p.TaxRate,
		LateFeePercent:       p.LateFeePercent,
		AllowPartialPayments: p.AllowPartialPayments,
		MinimumPaymentAmount: p.MinimumPaymentAmount,
		Frequency:            p.Frequency,
		StartDate:            p.StartDate,
		EndDate:              p.EndDate,
		PaymentDueDays:       p.PaymentDueDays,
		Active:               true,
		NextGenerationDate:   p.StartDate,
		Notes:                p.Notes,
	}

	r.AddDomainEvent(NewRecurringInvoiceCreatedEvent(r))

	return r, nil
}

// NextDate returns the generation date that follows from. Month-based
// frequencies clamp the day-of-month to the last day of the target month,
// so Jan 31 + 1 month is Feb 28 (or 29), never Mar 3.
func (r *RecurringInvoice) NextDate(from time.Time) time.Time {
	switch r.Frequency {
	case FrequencyWeekly:
		return from.AddDate(0, 0, 7)
	case FrequencyBiweekly:
		return from.AddDate(0, 0, 14)
	}
	return addMonthsClamped(from, r.Frequency.months())
}

// addMonthsClamped advances by whole months, clamping the day-of-month.
// time.AddDate normalizes overflow into the next month, which is exactly
// the behavior billing schedules must avoid.
func addMonthsClamped(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	firstOfTarget := time.Date(year, month+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	lastDay := firstOfTarget.AddDate(0, 1, -1).Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(firstOfTarget.Year(), firstOfTarget.Month(), day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// IsDue returns true if the template should generate an invoice now
func (r *RecurringInvoice) IsDue(today time.Time) bool {
	if !r.Active {
		return false
	}
	if r.NextGenerationDate.After(today) {
		return false
	}
	if r.EndDate != nil && r.NextGenerationDate.After(*r.EndDate) {
		return false
	}
	return true
}

// HasEnded returns true if the schedule is exhausted
func (r *RecurringInvoice) HasEnded(today time.Time) bool {
	return r.EndDate != nil && today.After(*r.EndDate)
}

// MaterializeInvoice builds a DRAFT invoice from the template. The caller
// supplies the generated invoice number; due date is today plus the
// template's payment terms. The template itself is advanced separately.
func (r *RecurringInvoice) MaterializeInvoice(invoiceNumber string, today time.Time) (*Invoice, error) {
	if !r.IsDue(today) {
		return nil, shared.NewDomainError("NOT_DUE", "Template is not due for generation")
	}

	items := make([]InvoiceItem, 0, len(r.Items))
	for _, tmpl := range r.Items {
		item, err := NewInvoiceItem(tmpl.Product, tmpl.Description, tmpl.Quantity, tmpl.UnitPrice)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}

	return NewInvoice(NewInvoiceParams{
		OrganizationID:       r.OrganizationID,
		InvoiceNumber:        invoiceNumber,
		ClientID:             r.ClientID,
		ClientName:           r.ClientName,
		IssueDate:            today,
		DueDate:              today.AddDate(0, 0, r.PaymentDueDays),
		Items:                items,
		TaxRate:              r.TaxRate,
		LateFeePercent:       r.LateFeePercent,
		AllowPartialPayments: r.AllowPartialPayments,
		MinimumPaymentAmount: r.MinimumPaymentAmount,
		Notes:                r.Notes,
	})
}

// Advance moves the schedule forward after a successful generation
func (r *RecurringInvoice) Advance(generatedInvoiceID uuid.UUID, now time.Time) {
	generatedAt := now
	r.LastGeneratedAt = &generatedAt
	r.GeneratedCount++
	r.NextGenerationDate = r.NextDate(r.NextGenerationDate)
	r.UpdatedAt = now
	r.IncrementVersion()

	r.AddDomainEvent(NewRecurringInvoiceGeneratedEvent(r, generatedInvoiceID))
}

// Deactivate stops the template from generating further invoices
func (r *RecurringInvoice) Deactivate(now time.Time) {
	if !r.Active {
		return
	}
	r.Active = false
	r.UpdatedAt = now
	r.IncrementVersion()
}

// Activate re-enables an inactive template
func (r *RecurringInvoice) Activate(now time.Time) {
	if r.Active {
		return
	}
	r.Active = true
	r.UpdatedAt = now
	r.IncrementVersion()
}

// UpdateRecurringParams carries the mutable fields of a template
type UpdateRecurringParams struct {
	Name                 string
	Items                []InvoiceItem
	TaxRate              decimal.Decimal
	LateFeePercent       decimal.Decimal
	AllowPartialPayments bool
	MinimumPaymentAmount decimal.Decimal
	EndDate              *time.Time
	PaymentDueDays       int
	Notes                string
}

// Update replaces the mutable fields of the template. Frequency, start
// date and the generation cursor are fixed at creation.
func (r *RecurringInvoice) Update(p UpdateRecurringParams) error {
	if p.Name == "" {
		return shared.NewDomainError("INVALID_NAME", "Template name cannot be empty")
	}
	if len(p.Items) == 0 {
		return shared.NewDomainError("INVALID_ITEMS", "Template must have at least one item")
	}
	if p.EndDate != nil && p.EndDate.Before(r.StartDate) {
		return shared.NewDomainError("INVALID_END_DATE", "End date cannot be before start date")
	}
	if p.PaymentDueDays < 1 {
		return shared.NewDomainError("INVALID_DUE_DAYS", "Payment due days must be at least 1")
	}
	if err := validatePercentRate(p.TaxRate, "INVALID_TAX_RATE", "Tax rate"); err != nil {
		return err
	}
	if err := validatePercentRate(p.LateFeePercent, "INVALID_LATE_FEE_RATE", "Late fee percentage"); err != nil {
		return err
	}

	r.Name = p.Name
	r.Items = p.Items
	r.TaxRate = p.TaxRate
	r.LateFeePercent = p.LateFeePercent
	r.AllowPartialPayments = p.AllowPartialPayments
	r.MinimumPaymentAmount = p.MinimumPaymentAmount
	r.EndDate = p.EndDate
	r.PaymentDueDays = p.PaymentDueDays
	r.Notes = p.Notes
	r.UpdatedAt = time.Now()
	r.IncrementVersion()

	return nil
}
