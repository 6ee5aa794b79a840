package billing

import (
	"context"
	"time"

	"github.com/billing/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// InvoiceFilter defines filtering options for invoice queries
type InvoiceFilter struct {
	shared.Filter
	ClientID    *uuid.UUID     // Filter by client
	Status      *InvoiceStatus // Filter by status
	OverdueOnly bool           // Only invoices past due with open balance
	IssuedFrom  *time.Time     // Filter by issue date range start
	IssuedTo    *time.Time     // Filter by issue date range end
	DueFrom     *time.Time     // Filter by due date range start
	DueTo       *time.Time     // Filter by due date range end
}

// InvoiceRepository defines the interface for invoice persistence
type InvoiceRepository interface {
	// FindByID finds an invoice by ID
	FindByID(ctx context.Context, id uuid.UUID) (*Invoice, error)

	// FindByIDForOrg finds an invoice by ID for a specific organization
	FindByIDForOrg(ctx context.Context, organizationID, id uuid.UUID) (*Invoice, error)

	// FindByIDForUpdate loads an invoice with a row lock inside the current
	// transaction. Must be called through WithTx.
	FindByIDForUpdate(ctx context.Context, organizationID, id uuid.UUID) (*Invoice, error)

	// FindByPublicToken finds an invoice by its public pay-by-link token
	FindByPublicToken(ctx context.Context, token uuid.UUID) (*Invoice, error)

	// FindByNumber finds an invoice by number for an organization
	FindByNumber(ctx context.Context, organizationID uuid.UUID, invoiceNumber string) (*Invoice, error)

	// FindAllForOrg finds invoices for an organization with filtering
	FindAllForOrg(ctx context.Context, organizationID uuid.UUID, filter InvoiceFilter) ([]Invoice, error)

	// FindSweepCandidates finds invoices that may need an overdue transition:
	// ISSUED or PARTIALLY_PAID with a due date before the cutoff.
	FindSweepCandidates(ctx context.Context, cutoff time.Time, limit int) ([]Invoice, error)

	// FindReminderCandidates finds open invoices eligible for a payment reminder
	FindReminderCandidates(ctx context.Context, now time.Time, limit int) ([]Invoice, error)

	// Save creates or updates an invoice
	Save(ctx context.Context, invoice *Invoice) error

	// SaveWithLock saves with optimistic locking (version check)
	SaveWithLock(ctx context.Context, invoice *Invoice) error

	// CountForOrg counts invoices for an organization with optional filters
	CountForOrg(ctx context.Context, organizationID uuid.UUID, filter InvoiceFilter) (int64, error)

	// GenerateInvoiceNumber generates a unique invoice number for an organization
	GenerateInvoiceNumber(ctx context.Context, organizationID uuid.UUID) (string, error)

	// WithTx returns a repository bound to the given transaction handle
	WithTx(tx any) InvoiceRepository
}

// PaymentFilter defines filtering options for payment queries
type PaymentFilter struct {
	shared.Filter
	InvoiceID *uuid.UUID
	ClientID  *uuid.UUID
	Status    *PaymentStatus
	Method    *PaymentMethod
}

// PaymentRepository defines the interface for payment persistence
type PaymentRepository interface {
	// FindByID finds a payment by ID
	FindByID(ctx context.Context, id uuid.UUID) (*Payment, error)

	// FindByIDForOrg finds a payment by ID for a specific organization
	FindByIDForOrg(ctx context.Context, organizationID, id uuid.UUID) (*Payment, error)

	// FindByInvoice finds all payments recorded against an invoice
	FindByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]Payment, error)

	// FindByGatewayTransactionID finds the payment carrying a gateway
	// transaction reference. Returns shared.ErrNotFound when unmatched.
	FindByGatewayTransactionID(ctx context.Context, gatewayTransactionID string) (*Payment, error)

	// FindAllForOrg finds payments for an organization with filtering
	FindAllForOrg(ctx context.Context, organizationID uuid.UUID, filter PaymentFilter) ([]Payment, error)

	// Save creates or updates a payment
	Save(ctx context.Context, payment *Payment) error

	// SaveWithLock saves with optimistic locking (version check)
	SaveWithLock(ctx context.Context, payment *Payment) error

	// Delete hard-deletes a payment. Used by the manual cancellation path,
	// which removes the record entirely instead of marking it refunded.
	Delete(ctx context.Context, organizationID, id uuid.UUID) error

	// CountForOrg counts payments for an organization with optional filters
	CountForOrg(ctx context.Context, organizationID uuid.UUID, filter PaymentFilter) (int64, error)

	// WithTx returns a repository bound to the given transaction handle
	WithTx(tx any) PaymentRepository
}

// RecurringInvoiceFilter defines filtering options for template queries
type RecurringInvoiceFilter struct {
	shared.Filter
	ClientID   *uuid.UUID
	ActiveOnly bool
	Frequency  *RecurrenceFrequency
}

// RecurringInvoiceRepository defines the interface for template persistence
type RecurringInvoiceRepository interface {
	// FindByID finds a template by ID
	FindByID(ctx context.Context, id uuid.UUID) (*RecurringInvoice, error)

	// FindByIDForOrg finds a template by ID for a specific organization
	FindByIDForOrg(ctx context.Context, organizationID, id uuid.UUID) (*RecurringInvoice, error)

	// FindDue finds active templates whose next generation date is not after
	// the given day
	FindDue(ctx context.Context, today time.Time, limit int) ([]RecurringInvoice, error)

	// FindAllForOrg finds templates for an organization with filtering
	FindAllForOrg(ctx context.Context, organizationID uuid.UUID, filter RecurringInvoiceFilter) ([]RecurringInvoice, error)

	// Save creates or updates a template
	Save(ctx context.Context, template *RecurringInvoice) error

	// SaveWithLock saves with optimistic locking (version check)
	SaveWithLock(ctx context.Context, template *RecurringInvoice) error

	// Delete removes a template
	Delete(ctx context.Context, organizationID, id uuid.UUID) error

	// CountForOrg counts templates for an organization
	CountForOrg(ctx context.Context, organizationID uuid.UUID, filter RecurringInvoiceFilter) (int64, error)

	// WithTx returns a repository bound to the given transaction handle
	WithTx(tx any) RecurringInvoiceRepository
}
