// Package telemetry provides OpenTelemetry integration for metrics collection.
package telemetry

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// GormReceivablesMetricsProvider implements ReceivablesMetricsProvider using GORM.
// It queries the invoices table directly for aggregated metrics.
type GormReceivablesMetricsProvider struct {
	db *gorm.DB
}

// NewGormReceivablesMetricsProvider creates a new GormReceivablesMetricsProvider.
func NewGormReceivablesMetricsProvider(db *gorm.DB) *GormReceivablesMetricsProvider {
	return &GormReceivablesMetricsProvider{db: db}
}

// GetOverdueInvoiceCount returns the number of overdue invoices for an organization.
func (p *GormReceivablesMetricsProvider) GetOverdueInvoiceCount(ctx context.Context, organizationID uuid.UUID) (int64, error) {
	var count int64
	err := p.db.WithContext(ctx).
		Table("invoices").
		Where("organization_id = ? AND status = ?", organizationID, "OVERDUE").
		Count(&count).Error

	return count, err
}

// GetOpenBalanceTotal returns the total outstanding balance for an organization.
func (p *GormReceivablesMetricsProvider) GetOpenBalanceTotal(ctx context.Context, organizationID uuid.UUID) (decimal.Decimal, error) {
	type result struct {
		Balance decimal.Decimal `gorm:"column:balance"`
	}

	var r result
	err := p.db.WithContext(ctx).
		Table("invoices").
		Select("COALESCE(SUM(total_amount - paid_amount), 0) as balance").
		Where("organization_id = ? AND status IN ?", organizationID,
			[]string{"ISSUED", "PARTIALLY_PAID", "OVERDUE"}).
		Scan(&r).Error

	return r.Balance, err
}

// GormOrganizationProvider implements OrganizationProvider using GORM.
// Organizations with at least one open invoice are considered active for
// metrics collection.
type GormOrganizationProvider struct {
	db *gorm.DB
}

// NewGormOrganizationProvider creates a new GormOrganizationProvider.
func NewGormOrganizationProvider(db *gorm.DB) *GormOrganizationProvider {
	return &GormOrganizationProvider{db: db}
}

// GetActiveOrganizationIDs returns organizations with open receivables.
func (p *GormOrganizationProvider) GetActiveOrganizationIDs(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := p.db.WithContext(ctx).
		Table("invoices").
		Distinct("organization_id").
		Where("status IN ?", []string{"ISSUED", "PARTIALLY_PAID", "OVERDUE"}).
		Find(&ids).Error

	return ids, err
}
