package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/billing/backend/internal/domain/billing"
	"github.com/billing/backend/internal/domain/shared"
	"github.com/billing/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormRecurringInvoiceRepository implements billing.RecurringInvoiceRepository using GORM
type GormRecurringInvoiceRepository struct {
	db *gorm.DB
}

// NewGormRecurringInvoiceRepository creates a new GormRecurringInvoiceRepository
func NewGormRecurringInvoiceRepository(db *gorm.DB) *GormRecurringInvoiceRepository {
	return &GormRecurringInvoiceRepository{db: db}
}

// WithTx returns a repository bound to the given transaction handle
func (r *GormRecurringInvoiceRepository) WithTx(tx any) billing.RecurringInvoiceRepository {
	if g, ok := tx.(*gorm.DB); ok {
		return NewGormRecurringInvoiceRepository(g)
	}
	return r
}

// FindByID finds a template by its ID
func (r *GormRecurringInvoiceRepository) FindByID(ctx context.Context, id uuid.UUID) (*billing.RecurringInvoice, error) {
	var model models.RecurringInvoiceModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByIDForOrg finds a template by ID within an organization
func (r *GormRecurringInvoiceRepository) FindByIDForOrg(ctx context.Context, organizationID, id uuid.UUID) (*billing.RecurringInvoice, error) {
	var model models.RecurringInvoiceModel
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

// FindDue finds active templates whose next generation date is not after the
// given day. Templates whose cursor has passed their end date are excluded;
// the generation loop deactivates them separately.
func (r *GormRecurringInvoiceRepository) FindDue(ctx context.Context, today time.Time, limit int) ([]billing.RecurringInvoice, error) {
	var rows []models.RecurringInvoiceModel
	query := r.db.WithContext(ctx).
		Where("active = ?", true).
		Where("next_generation_date <= ?", today).
		Where("end_date IS NULL OR next_generation_date <= end_date").
		Order("next_generation_date ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return toDomainRecurringInvoices(rows), nil
}

// FindAllForOrg finds templates for an organization with filtering
func (r *GormRecurringInvoiceRepository) FindAllForOrg(ctx context.Context, organizationID uuid.UUID, filter billing.RecurringInvoiceFilter) ([]billing.RecurringInvoice, error) {
	var rows []models.RecurringInvoiceModel
	query := r.applyFilter(
		r.db.WithContext(ctx).Model(&models.RecurringInvoiceModel{}).Where("organization_id = ?", organizationID),
		filter,
	)

	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return toDomainRecurringInvoices(rows), nil
}

// Save creates or updates a template
func (r *GormRecurringInvoiceRepository) Save(ctx context.Context, template *billing.RecurringInvoice) error {
	model := models.RecurringInvoiceModelFromDomain(template)
	return r.db.WithContext(ctx).Save(model).Error
}

// SaveWithLock saves with optimistic locking (version check)
func (r *GormRecurringInvoiceRepository) SaveWithLock(ctx context.Context, template *billing.RecurringInvoice) error {
	model := models.RecurringInvoiceModelFromDomain(template)
	result := r.db.WithContext(ctx).
		Model(&models.RecurringInvoiceModel{}).
		Where("id = ? AND version = ?", template.ID, template.Version-1).
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

// Delete removes a template
func (r *GormRecurringInvoiceRepository) Delete(ctx context.Context, organizationID, id uuid.UUID) error {
	result := r.db.WithContext(ctx).
		Where("organization_id = ? AND id = ?", organizationID, id).
		Delete(&models.RecurringInvoiceModel{})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// CountForOrg counts templates for an organization with optional filters
func (r *GormRecurringInvoiceRepository) CountForOrg(ctx context.Context, organizationID uuid.UUID, filter billing.RecurringInvoiceFilter) (int64, error) {
	var count int64
	query := r.applyFilterWithoutPagination(
		r.db.WithContext(ctx).Model(&models.RecurringInvoiceModel{}).Where("organization_id = ?", organizationID),
		filter,
	)
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// applyFilter applies filter options to the query
func (r *GormRecurringInvoiceRepository) applyFilter(query *gorm.DB, filter billing.RecurringInvoiceFilter) *gorm.DB {
	query = r.applyFilterWithoutPagination(query, filter)

	// Apply sorting with whitelist validation to prevent SQL injection
	sortField := ValidateSortField(filter.OrderBy, RecurringInvoiceSortFields, "created_at")
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
func (r *GormRecurringInvoiceRepository) applyFilterWithoutPagination(query *gorm.DB, filter billing.RecurringInvoiceFilter) *gorm.DB {
	if filter.ClientID != nil {
		query = query.Where("client_id = ?", *filter.ClientID)
	}
	if filter.ActiveOnly {
		query = query.Where("active = ?", true)
	}
	if filter.Frequency != nil {
		query = query.Where("frequency = ?", *filter.Frequency)
	}
	if filter.Search != "" {
		pattern := "%" + filter.Search + "%"
		query = query.Where("name ILIKE ? OR client_name ILIKE ?", pattern, pattern)
	}
	return query
}

func toDomainRecurringInvoices(rows []models.RecurringInvoiceModel) []billing.RecurringInvoice {
	templates := make([]billing.RecurringInvoice, 0, len(rows))
	for i := range rows {
		templates = append(templates, *rows[i].ToDomain())
	}
	return templates
}

// Ensure GormRecurringInvoiceRepository implements RecurringInvoiceRepository
var _ billing.RecurringInvoiceRepository = (*GormRecurringInvoiceRepository)(nil)
