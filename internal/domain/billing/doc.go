// Package billing provides the domain model for invoicing and payment
// reconciliation in a multi-organization SaaS application.
//
// Key Aggregates:
//   - Invoice: line items, tax, one-time late fee, derived status lifecycle
//     (DRAFT, ISSUED, PARTIALLY_PAID, OVERDUE, PAID, CANCELLED)
//   - Payment: a single settlement attempt against an invoice, manual or
//     gateway-backed (PENDING, COMPLETED, FAILED, REFUNDED)
//   - RecurringInvoice: a template that materializes DRAFT invoices on a
//     weekly/monthly/quarterly/yearly schedule with day-of-month clamping
//
// Domain services:
//   - CheckAdmission: the ordered payment admission pipeline; pure, so the
//     recorder can re-run it inside a transaction against locked state
//   - PaymentGateway: the port through which webhook notifications are
//     verified and decoded for reconciliation
//
// Invariants the model protects:
//   - at most one PENDING payment per invoice
//   - the late fee is applied exactly once per invoice
//   - status recomputation and webhook replay are idempotent
//   - every monetary figure is rounded half up to two places
package billing
