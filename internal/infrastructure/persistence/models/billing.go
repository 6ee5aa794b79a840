package models

import (
	"time"

	"github.com/billing/backend/internal/domain/billing"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InvoiceModel is the persistence model for the Invoice aggregate root.
// Line items are stored as a JSONB column; they are value objects that are
// only ever read or written through the aggregate.
type InvoiceModel struct {
	OrgAggregateModel
	InvoiceNumber string                `gorm:"type:varchar(50);not null;uniqueIndex:idx_invoice_org_number,priority:2"`
	PublicToken   uuid.UUID             `gorm:"type:uuid;not null;uniqueIndex"`
	ClientID      uuid.UUID             `gorm:"type:uuid;not null;index"`
	ClientName    string                `gorm:"type:varchar(200);not null"`
	Status        billing.InvoiceStatus `gorm:"type:varchar(20);not null;default:'DRAFT';index"`
	IssueDate     time.Time             `gorm:"not null"`
	DueDate       time.Time             `gorm:"not null;index"`
	Items         billing.InvoiceItems  `gorm:"type:jsonb;not null"`

	TaxRate        decimal.Decimal `gorm:"type:decimal(5,2);not null;default:0"`
	LateFeePercent decimal.Decimal `gorm:"type:decimal(5,2);not null;default:0"`
	LateFeeApplied bool            `gorm:"not null;default:false"`
	LateFeeAmount  decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0"`

	Subtotal    decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0"`
	TaxAmount   decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0"`
	TotalAmount decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0"`
	PaidAmount  decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0"`

	AllowPartialPayments bool            `gorm:"not null;default:false"`
	MinimumPaymentAmount decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0"`

	Notes          string `gorm:"type:text"`
	PaidAt         *time.Time
	CancelledAt    *time.Time
	CancelReason   string `gorm:"type:varchar(500)"`
	RemindersSent  int    `gorm:"not null;default:0"`
	LastReminderAt *time.Time
}

// TableName returns the table name for GORM
func (InvoiceModel) TableName() string {
	return "invoices"
}

// ToDomain converts the persistence model to a domain Invoice aggregate.
func (m *InvoiceModel) ToDomain() *billing.Invoice {
	inv := &billing.Invoice{
		InvoiceNumber:        m.InvoiceNumber,
		PublicToken:          m.PublicToken,
		ClientID:             m.ClientID,
		ClientName:           m.ClientName,
		Status:               m.Status,
		IssueDate:            m.IssueDate,
		DueDate:              m.DueDate,
		Items:                m.Items,
		TaxRate:              m.TaxRate,
		LateFeePercent:       m.LateFeePercent,
		LateFeeApplied:       m.LateFeeApplied,
		LateFeeAmount:        m.LateFeeAmount,
		Subtotal:             m.Subtotal,
		TaxAmount:            m.TaxAmount,
		TotalAmount:          m.TotalAmount,
		PaidAmount:           m.PaidAmount,
		AllowPartialPayments: m.AllowPartialPayments,
		MinimumPaymentAmount: m.MinimumPaymentAmount,
		Notes:                m.Notes,
		PaidAt:               m.PaidAt,
		CancelledAt:          m.CancelledAt,
		CancelReason:         m.CancelReason,
		RemindersSent:        m.RemindersSent,
		LastReminderAt:       m.LastReminderAt,
	}
	m.PopulateOrgAggregateRoot(&inv.OrgAggregateRoot)
	return inv
}

// FromDomain populates the persistence model from a domain Invoice aggregate.
func (m *InvoiceModel) FromDomain(inv *billing.Invoice) {
	m.FromDomainOrgAggregateRoot(inv.OrgAggregateRoot)
	m.InvoiceNumber = inv.InvoiceNumber
	m.PublicToken = inv.PublicToken
	m.ClientID = inv.ClientID
	m.ClientName = inv.ClientName
	m.Status = inv.Status
	m.IssueDate = inv.IssueDate
	m.DueDate = inv.DueDate
	m.Items = inv.Items
	m.TaxRate = inv.TaxRate
	m.LateFeePercent = inv.LateFeePercent
	m.LateFeeApplied = inv.LateFeeApplied
	m.LateFeeAmount = inv.LateFeeAmount
	m.Subtotal = inv.Subtotal
	m.TaxAmount = inv.TaxAmount
	m.TotalAmount = inv.TotalAmount
	m.PaidAmount = inv.PaidAmount
	m.AllowPartialPayments = inv.AllowPartialPayments
	m.MinimumPaymentAmount = inv.MinimumPaymentAmount
	m.Notes = inv.Notes
	m.PaidAt = inv.PaidAt
	m.CancelledAt = inv.CancelledAt
	m.CancelReason = inv.CancelReason
	m.RemindersSent = inv.RemindersSent
	m.LastReminderAt = inv.LastReminderAt
}

// InvoiceModelFromDomain creates a new persistence model from a domain Invoice.
func InvoiceModelFromDomain(inv *billing.Invoice) *InvoiceModel {
	m := &InvoiceModel{}
	m.FromDomain(inv)
	return m
}

// PaymentModel is the persistence model for the Payment aggregate root.
type PaymentModel struct {
	OrgAggregateModel
	InvoiceID   uuid.UUID             `gorm:"type:uuid;not null;index"`
	ClientID    uuid.UUID             `gorm:"type:uuid;index"`
	Method      billing.PaymentMethod `gorm:"type:varchar(20);not null"`
	Status      billing.PaymentStatus `gorm:"type:varchar(20);not null;default:'PENDING';index"`
	Amount      decimal.Decimal       `gorm:"type:decimal(18,2);not null"`
	PaymentDate time.Time             `gorm:"not null"`

	// Unique when present: one payment row per gateway transaction
	GatewayTransactionID string `gorm:"type:varchar(255);uniqueIndex:idx_payment_gateway_txn,where:gateway_transaction_id <> ''"`
	Reference            string `gorm:"type:varchar(255)"`
	Notes                string `gorm:"type:text"`

	FailureReason string `gorm:"type:varchar(500)"`
	RefundReason  string `gorm:"type:varchar(500)"`
	CompletedAt   *time.Time
	FailedAt      *time.Time
	RefundedAt    *time.Time
}

// TableName returns the table name for GORM
func (PaymentModel) TableName() string {
	return "payments"
}

// ToDomain converts the persistence model to a domain Payment aggregate.
func (m *PaymentModel) ToDomain() *billing.Payment {
	p := &billing.Payment{
		InvoiceID:            m.InvoiceID,
		ClientID:             m.ClientID,
		Method:               m.Method,
		Status:               m.Status,
		Amount:               m.Amount,
		PaymentDate:          m.PaymentDate,
		GatewayTransactionID: m.GatewayTransactionID,
		Reference:            m.Reference,
		Notes:                m.Notes,
		FailureReason:        m.FailureReason,
		RefundReason:         m.RefundReason,
		CompletedAt:          m.CompletedAt,
		FailedAt:             m.FailedAt,
		RefundedAt:           m.RefundedAt,
	}
	m.PopulateOrgAggregateRoot(&p.OrgAggregateRoot)
	return p
}

// FromDomain populates the persistence model from a domain Payment aggregate.
func (m *PaymentModel) FromDomain(p *billing.Payment) {
	m.FromDomainOrgAggregateRoot(p.OrgAggregateRoot)
	m.InvoiceID = p.InvoiceID
	m.ClientID = p.ClientID
	m.Method = p.Method
	m.Status = p.Status
	m.Amount = p.Amount
	m.PaymentDate = p.PaymentDate
	m.GatewayTransactionID = p.GatewayTransactionID
	m.Reference = p.Reference
	m.Notes = p.Notes
	m.FailureReason = p.FailureReason
	m.RefundReason = p.RefundReason
	m.CompletedAt = p.CompletedAt
	m.FailedAt = p.FailedAt
	m.RefundedAt = p.RefundedAt
}

// PaymentModelFromDomain creates a new persistence model from a domain Payment.
func PaymentModelFromDomain(p *billing.Payment) *PaymentModel {
	m := &PaymentModel{}
	m.FromDomain(p)
	return m
}

// RecurringInvoiceModel is the persistence model for the RecurringInvoice
// template aggregate root.
type RecurringInvoiceModel struct {
	OrgAggregateModel
	Name       string               `gorm:"type:varchar(200);not null"`
	ClientID   uuid.UUID            `gorm:"type:uuid;not null;index"`
	ClientName string               `gorm:"type:varchar(200);not null"`
	Items      billing.InvoiceItems `gorm:"type:jsonb;not null"`

	TaxRate              decimal.Decimal `gorm:"type:decimal(5,2);not null;default:0"`
	LateFeePercent       decimal.Decimal `gorm:"type:decimal(5,2);not null;default:0"`
	AllowPartialPayments bool            `gorm:"not null;default:false"`
	MinimumPaymentAmount decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0"`

	Frequency      billing.RecurrenceFrequency `gorm:"type:varchar(20);not null"`
	StartDate      time.Time                   `gorm:"not null"`
	EndDate        *time.Time
	PaymentDueDays int `gorm:"not null"`

	Active             bool      `gorm:"not null;default:true;index"`
	NextGenerationDate time.Time `gorm:"not null;index"`
	LastGeneratedAt    *time.Time
	GeneratedCount     int    `gorm:"not null;default:0"`
	Notes              string `gorm:"type:text"`
}

// TableName returns the table name for GORM
func (RecurringInvoiceModel) TableName() string {
	return "recurring_invoices"
}

// ToDomain converts the persistence model to a domain RecurringInvoice aggregate.
func (m *RecurringInvoiceModel) ToDomain() *billing.RecurringInvoice {
	tmpl := &billing.RecurringInvoice{
		Name:                 m.Name,
		ClientID:             m.ClientID,
		ClientName:           m.ClientName,
		Items:                m.Items,
		TaxRate:              m.TaxRate,
		LateFeePercent:       m.LateFeePercent,
		AllowPartialPayments: m.AllowPartialPayments,
		MinimumPaymentAmount: m.MinimumPaymentAmount,
		Frequency:            m.Frequency,
		StartDate:            m.StartDate,
		EndDate:              m.EndDate,
		PaymentDueDays:       m.PaymentDueDays,
		Active:               m.Active,
		NextGenerationDate:   m.NextGenerationDate,
		LastGeneratedAt:      m.LastGeneratedAt,
		GeneratedCount:       m.GeneratedCount,
		Notes:                m.Notes,
	}
	m.PopulateOrgAggregateRoot(&tmpl.OrgAggregateRoot)
	return tmpl
}

// FromDomain populates the persistence model from a domain RecurringInvoice aggregate.
func (m *RecurringInvoiceModel) FromDomain(tmpl *billing.RecurringInvoice) {
	m.FromDomainOrgAggregateRoot(tmpl.OrgAggregateRoot)
	m.Name = tmpl.Name
	m.ClientID = tmpl.ClientID
	m.ClientName = tmpl.ClientName
	m.Items = tmpl.Items
	m.TaxRate = tmpl.TaxRate
	m.LateFeePercent = tmpl.LateFeePercent
	m.AllowPartialPayments = tmpl.AllowPartialPayments
	m.MinimumPaymentAmount = tmpl.MinimumPaymentAmount
	m.Frequency = tmpl.Frequency
	m.StartDate = tmpl.StartDate
	m.EndDate = tmpl.EndDate
	m.PaymentDueDays = tmpl.PaymentDueDays
	m.Active = tmpl.Active
	m.NextGenerationDate = tmpl.NextGenerationDate
	m.LastGeneratedAt = tmpl.LastGeneratedAt
	m.GeneratedCount = tmpl.GeneratedCount
	m.Notes = tmpl.Notes
}

// RecurringInvoiceModelFromDomain creates a new persistence model from a domain template.
func RecurringInvoiceModelFromDomain(tmpl *billing.RecurringInvoice) *RecurringInvoiceModel {
	m := &RecurringInvoiceModel{}
	m.FromDomain(tmpl)
	return m
}
