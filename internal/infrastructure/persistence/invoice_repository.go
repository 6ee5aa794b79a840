package persistence

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/billing/backend/internal/domain/billing"
	"github.com/billing/backend/internal/domain/shared"
	"github.com/billing/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Reminder candidates include invoices approaching due inside this window,
// not just past-due ones.
const reminderDueSoonWindow = 72 * time.Hour

// invoiceNumberAttempts bounds the retry loop on random suffix collisions.
const invoiceNumberAttempts = 5

// GormInvoiceRepository implements billing.InvoiceRepository using GORM
type GormInvoiceRepository struct {
	db *gorm.DB
}

// NewGormInvoiceRepository creates a new GormInvoiceRepository
func NewGormInvoiceRepository(db *gorm.DB) *GormInvoiceRepository {
	return &GormInvoiceRepository{db: db}
}

// WithTx returns a repository bound to the given transaction handle
func (r *GormInvoiceRepository) WithTx(tx any) billing.InvoiceRepository {
	if g, ok := tx.(*gorm.DB); ok {
		return NewGormInvoiceRepository(g)
	}
	return r
}

// FindByID finds an invoice by its ID
func (r *GormInvoiceRepository) FindByID(ctx context.Context, id uuid.UUID) (*billing.Invoice, error) {
	var model models.InvoiceModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByIDForOrg finds an invoice by ID within an organization
func (r *GormInvoiceRepository) FindByIDForOrg(ctx context.Context, organizationID, id uuid.UUID) (*billing.Invoice, error) {
	var model models.InvoiceModel
	if err := r.db.WithContext(ctx).
		Where("organization_id = ? AND id = ?", organizationID, id).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByIDForUpdate loads an invoice under a row lock. Only meaningful
// inside a transaction obtained through WithTx.
func (r *GormInvoiceRepository) FindByIDForUpdate(ctx context.Context, organizationID, id uuid.UUID) (*billing.Invoice, error) {
	var model models.InvoiceModel
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("organization_id = ? AND id = ?", organizationID, id).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByPublicToken finds an invoice by its public pay-by-link token
func (r *GormInvoiceRepository) FindByPublicToken(ctx context.Context, token uuid.UUID) (*billing.Invoice, error) {
	var model models.InvoiceModel
	if err := r.db.WithContext(ctx).
		Where("public_token = ?", token).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByNumber finds an invoice by number for an organization
func (r *GormInvoiceRepository) FindByNumber(ctx context.Context, organizationID uuid.UUID, invoiceNumber string) (*billing.Invoice, error) {
	var model models.InvoiceModel
	if err := r.db.WithContext(ctx).
		Where("organization_id = ? AND invoice_number = ?", organizationID, invoiceNumber).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindAllForOrg finds invoices for an organization with filtering
func (r *GormInvoiceRepository) FindAllForOrg(ctx context.Context, organizationID uuid.UUID, filter billing.InvoiceFilter) ([]billing.Invoice, error) {
	var rows []models.InvoiceModel
	query := r.applyFilter(
		r.db.WithContext(ctx).Model(&models.InvoiceModel{}).Where("organization_id = ?", organizationID),
		filter,
	)

	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return toDomainInvoices(rows), nil
}

// FindSweepCandidates finds open invoices past the cutoff that may need an
// overdue transition. OVERDUE invoices are excluded; the transition and the
// late fee are one-shot.
func (r *GormInvoiceRepository) FindSweepCandidates(ctx context.Context, cutoff time.Time, limit int) ([]billing.Invoice, error) {
	var rows []models.InvoiceModel
	query := r.db.WithContext(ctx).
		Where("status IN ? AND due_date < ?",
			[]billing.InvoiceStatus{billing.InvoiceStatusIssued, billing.InvoiceStatusPartiallyPaid},
			cutoff).
		Order("due_date ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return toDomainInvoices(rows), nil
}

// FindReminderCandidates finds open invoices that are past due or approaching
// due, under the reminder cap, and outside the minimum reminder interval.
// The domain re-checks eligibility before recording a reminder.
func (r *GormInvoiceRepository) FindReminderCandidates(ctx context.Context, now time.Time, limit int) ([]billing.Invoice, error) {
	var rows []models.InvoiceModel
	intervalCutoff := now.Add(-billing.ReminderMinimumInterval)
	dueSoon := now.Add(reminderDueSoonWindow)

	query := r.db.WithContext(ctx).
		Where("status IN ?", []billing.InvoiceStatus{
			billing.InvoiceStatusIssued,
			billing.InvoiceStatusPartiallyPaid,
			billing.InvoiceStatusOverdue,
		}).
		Where("reminders_sent < ?", billing.MaxPaymentReminders).
		Where("last_reminder_at IS NULL OR last_reminder_at <= ?", intervalCutoff).
		Where("due_date <= ?", dueSoon).
		Order("due_date ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return toDomainInvoices(rows), nil
}

// Save creates or updates an invoice
func (r *GormInvoiceRepository) Save(ctx context.Context, invoice *billing.Invoice) error {
	model := models.InvoiceModelFromDomain(invoice)
	return r.db.WithContext(ctx).Save(model).Error
}

// SaveWithLock saves with optimistic locking. The domain increments the
// version on every mutation, so the row must still hold the previous one.
func (r *GormInvoiceRepository) SaveWithLock(ctx context.Context, invoice *billing.Invoice) error {
	model := models.InvoiceModelFromDomain(invoice)
	result := r.db.WithContext(ctx).
		Model(&models.InvoiceModel{}).
		Where("id = ? AND version = ?", invoice.ID, invoice.Version-1).
		Select("*").
		Updates(model)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrConcurrencyConflict
	}
	return nil
}

// CountForOrg counts invoices for an organization with optional filters
func (r *GormInvoiceRepository) CountForOrg(ctx context.Context, organizationID uuid.UUID, filter billing.InvoiceFilter) (int64, error) {
	var count int64
	query := r.applyFilterWithoutPagination(
		r.db.WithContext(ctx).Model(&models.InvoiceModel{}).Where("organization_id = ?", organizationID),
		filter,
	)
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// GenerateInvoiceNumber generates a unique invoice number for an organization
// in the form INV-YYYYMM-XXXXXX, where the suffix is random uppercase hex.
// Collisions within an organization are retried; the unique index is the
// final guard.
func (r *GormInvoiceRepository) GenerateInvoiceNumber(ctx context.Context, organizationID uuid.UUID) (string, error) {
	prefix := fmt.Sprintf("INV-%s-", time.Now().UTC().Format("200601"))

	for attempt := 0; attempt < invoiceNumberAttempts; attempt++ {
		suffix := make([]byte, 3)
		if _, err := rand.Read(suffix); err != nil {
			return "", fmt.Errorf("failed to generate invoice number suffix: %w", err)
		}
		number := prefix + strings.ToUpper(hex.EncodeToString(suffix))

		var count int64
		if err := r.db.WithContext(ctx).
			Model(&models.InvoiceModel{}).
			Where("organization_id = ? AND invoice_number = ?", organizationID, number).
			Count(&count).Error; err != nil {
			return "", err
		}
		if count == 0 {
			return number, nil
		}
	}
	return "", fmt.Errorf("failed to generate a unique invoice number after %d attempts", invoiceNumberAttempts)
}

// applyFilter applies filter options to the query
func (r *GormInvoiceRepository) applyFilter(query *gorm.DB, filter billing.InvoiceFilter) *gorm.DB {
	query = r.applyFilterWithoutPagination(query, filter)

	// Apply sorting with whitelist validation to prevent SQL injection
	sortField := ValidateSortField(filter.OrderBy, InvoiceSortFields, "created_at")
	sortOrder := ValidateSortOrder(filter.OrderDir)
	query = query.Order(fmt.Sprintf("%s %s", sortField, sortOrder))

	// Apply pagination
	if filter.PageSize > 0 {
		query = query.Limit(filter.PageSize)
		offset := (filter.Page - 1) * filter.PageSize
		if offset > 0 {
			query = query.Offset(offset)
		}
	}

	return query
}

// applyFilterWithoutPagination applies filter options without pagination
func (r *GormInvoiceRepository) applyFilterWithoutPagination(query *gorm.DB, filter billing.InvoiceFilter) *gorm.DB {
	if filter.ClientID != nil {
		query = query.Where("client_id = ?", *filter.ClientID)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.OverdueOnly {
		query = query.Where("status IN ? AND due_date < ?",
			[]billing.InvoiceStatus{
				billing.InvoiceStatusIssued,
				billing.InvoiceStatusPartiallyPaid,
				billing.InvoiceStatusOverdue,
			},
			time.Now())
	}
	if filter.IssuedFrom != nil {
		query = query.Where("issue_date >= ?", *filter.IssuedFrom)
	}
	if filter.IssuedTo != nil {
		query = query.Where("issue_date <= ?", *filter.IssuedTo)
	}
	if filter.DueFrom != nil {
		query = query.Where("due_date >= ?", *filter.DueFrom)
	}
	if filter.DueTo != nil {
		query = query.Where("due_date <= ?", *filter.DueTo)
	}
	if filter.Search != "" {
		pattern := "%" + filter.Search + "%"
		query = query.Where("invoice_number ILIKE ? OR client_name ILIKE ?", pattern, pattern)
	}
	return query
}

func toDomainInvoices(rows []models.InvoiceModel) []billing.Invoice {
	invoices := make([]billing.Invoice, 0, len(rows))
	for i := range rows {
		invoices = append(invoices, *rows[i].ToDomain())
	}
	return invoices
}

// Ensure GormInvoiceRepository implements InvoiceRepository
var _ billing.InvoiceRepository = (*GormInvoiceRepository)(nil)
