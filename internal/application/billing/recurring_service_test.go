package billing

import (
	"context"
	"testing"
	"time"

	"github.com/billing/backend/internal/domain/billing"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// Test helpers

func newTestTemplate(t *testing.T, start time.Time) *billing.RecurringInvoice {
	t.Helper()
	tmpl, err := billing.NewRecurringInvoice(billing.NewRecurringInvoiceParams{
		OrganizationID:       uuid.New(),
		Name:                 "Monthly Retainer",
		ClientID:             uuid.New(),
		ClientName:           "Acme Corp",
		Items:                newTestItems(t),
		TaxRate:              decimal.NewFromInt(10),
		LateFeePercent:       decimal.NewFromInt(5),
		AllowPartialPayments: true,
		MinimumPaymentAmount: decimal.NewFromInt(20),
		Frequency:            billing.FrequencyMonthly,
		StartDate:            start,
		PaymentDueDays:       14,
	})
	require.NoError(t, err)
	tmpl.ClearDomainEvents()
	return tmpl
}

func newRecurringService(invoiceRepo *MockInvoiceRepository, recurringRepo *MockRecurringInvoiceRepository, clock func() time.Time) *RecurringInvoiceService {
	return NewRecurringInvoiceService(RecurringInvoiceServiceConfig{
		TxScope:        NewNoOpTransactionScope(invoiceRepo, new(MockPaymentRepository), recurringRepo),
		RecurringRepo:  recurringRepo,
		EventPublisher: NewMockEventPublisher(),
		Clock:          clock,
	})
}

// ============================================
// Generation Tests
// ============================================

func TestRecurringService_GenerateDueInvoices(t *testing.T) {
	now := time.Now()
	tmpl := newTestTemplate(t, now.AddDate(0, 0, -1))

	invoiceRepo := new(MockInvoiceRepository)
	recurringRepo := new(MockRecurringInvoiceRepository)
	svc := newRecurringService(invoiceRepo, recurringRepo, func() time.Time { return now })

	recurringRepo.On("FindDue", mock.Anything, now, 50).Return([]billing.RecurringInvoice{*tmpl}, nil)
	recurringRepo.On("FindByIDForOrg", mock.Anything, tmpl.OrganizationID, tmpl.ID).Return(tmpl, nil)
	invoiceRepo.On("GenerateInvoiceNumber", mock.Anything, tmpl.OrganizationID).Return("INV-202608-0A1B2C", nil)
	invoiceRepo.On("Save", mock.Anything, mock.AnythingOfType("*billing.Invoice")).Return(nil)
	recurringRepo.On("SaveWithLock", mock.Anything, tmpl).Return(nil)

	generated, err := svc.GenerateDueInvoices(context.Background(), 50)
	require.NoError(t, err)

	assert.Equal(t, 1, generated)
	assert.Equal(t, 1, tmpl.GeneratedCount)
	assert.True(t, tmpl.NextGenerationDate.After(now))

	invoiceRepo.AssertCalled(t, "Save", mock.Anything, mock.MatchedBy(func(inv *billing.Invoice) bool {
		return inv.Status == billing.InvoiceStatusDraft &&
			inv.ClientID == tmpl.ClientID &&
			inv.TotalAmount.Equal(decimal.RequireFromString("275"))
	}))
}

func TestRecurringService_GenerateDueInvoices_CatchesUpMissedPeriods(t *testing.T) {
	now := time.Now()
	// Started two months and a day ago: three periods are due
	tmpl := newTestTemplate(t, now.AddDate(0, -2, -1))

	invoiceRepo := new(MockInvoiceRepository)
	recurringRepo := new(MockRecurringInvoiceRepository)
	svc := newRecurringService(invoiceRepo, recurringRepo, func() time.Time { return now })

	recurringRepo.On("FindDue", mock.Anything, now, 50).Return([]billing.RecurringInvoice{*tmpl}, nil)
	recurringRepo.On("FindByIDForOrg", mock.Anything, tmpl.OrganizationID, tmpl.ID).Return(tmpl, nil)
	invoiceRepo.On("GenerateInvoiceNumber", mock.Anything, tmpl.OrganizationID).Return("INV-202608-0A1B2C", nil)
	invoiceRepo.On("Save", mock.Anything, mock.AnythingOfType("*billing.Invoice")).Return(nil)
	recurringRepo.On("SaveWithLock", mock.Anything, tmpl).Return(nil)

	generated, err := svc.GenerateDueInvoices(context.Background(), 50)
	require.NoError(t, err)

	assert.Equal(t, 3, generated)
	assert.Equal(t, 3, tmpl.GeneratedCount)
	assert.False(t, tmpl.IsDue(now))
}

func TestRecurringService_GenerateDueInvoices_DeactivatesEndedTemplate(t *testing.T) {
	now := time.Now()
	start := now.AddDate(0, 0, -40)
	tmpl := newTestTemplate(t, start)
	end := now.AddDate(0, 0, -35)
	tmpl.EndDate = &end
	tmpl.NextGenerationDate = now.AddDate(0, 0, -5) // past the end date

	invoiceRepo := new(MockInvoiceRepository)
	recurringRepo := new(MockRecurringInvoiceRepository)
	svc := newRecurringService(invoiceRepo, recurringRepo, func() time.Time { return now })

	recurringRepo.On("FindDue", mock.Anything, now, 50).Return([]billing.RecurringInvoice{*tmpl}, nil)
	recurringRepo.On("FindByIDForOrg", mock.Anything, tmpl.OrganizationID, tmpl.ID).Return(tmpl, nil)
	recurringRepo.On("SaveWithLock", mock.Anything, tmpl).Return(nil)

	generated, err := svc.GenerateDueInvoices(context.Background(), 50)
	require.NoError(t, err)

	assert.Equal(t, 0, generated)
	assert.False(t, tmpl.Active)
	invoiceRepo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestRecurringService_GenerateNow(t *testing.T) {
	now := time.Now()
	tmpl := newTestTemplate(t, now.AddDate(0, 0, -1))

	invoiceRepo := new(MockInvoiceRepository)
	recurringRepo := new(MockRecurringInvoiceRepository)
	svc := newRecurringService(invoiceRepo, recurringRepo, func() time.Time { return now })

	recurringRepo.On("FindByIDForOrg", mock.Anything, tmpl.OrganizationID, tmpl.ID).Return(tmpl, nil)
	invoiceRepo.On("GenerateInvoiceNumber", mock.Anything, tmpl.OrganizationID).Return("INV-202608-0A1B2D", nil)
	invoiceRepo.On("Save", mock.Anything, mock.AnythingOfType("*billing.Invoice")).Return(nil)
	recurringRepo.On("SaveWithLock", mock.Anything, tmpl).Return(nil)

	resp, err := svc.GenerateNow(context.Background(), tmpl.OrganizationID, tmpl.ID)
	require.NoError(t, err)

	assert.Equal(t, "INV-202608-0A1B2D", resp.InvoiceNumber)
	assert.Equal(t, string(billing.InvoiceStatusDraft), resp.Status)
	assert.Equal(t, 1, tmpl.GeneratedCount)
}

func TestRecurringService_GenerateNow_NotDue(t *testing.T) {
	now := time.Now()
	tmpl := newTestTemplate(t, now.AddDate(0, 1, 0))

	invoiceRepo := new(MockInvoiceRepository)
	recurringRepo := new(MockRecurringInvoiceRepository)
	svc := newRecurringService(invoiceRepo, recurringRepo, func() time.Time { return now })

	recurringRepo.On("FindByIDForOrg", mock.Anything, tmpl.OrganizationID, tmpl.ID).Return(tmpl, nil)

	_, err := svc.GenerateNow(context.Background(), tmpl.OrganizationID, tmpl.ID)
	require.Error(t, err)
	invoiceRepo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

// ============================================
// CRUD Tests
// ============================================

func TestRecurringService_CreateRecurringInvoice(t *testing.T) {
	recurringRepo := new(MockRecurringInvoiceRepository)
	svc := newRecurringService(new(MockInvoiceRepository), recurringRepo, nil)

	recurringRepo.On("Save", mock.Anything, mock.AnythingOfType("*billing.RecurringInvoice")).Return(nil)

	resp, err := svc.CreateRecurringInvoice(context.Background(), uuid.New(), nil, CreateRecurringInvoiceRequest{
		Name:       "Quarterly Support",
		ClientID:   uuid.New(),
		ClientName: "Acme Corp",
		Items: []InvoiceItemRequest{
			{Product: "Support", Description: "Support plan", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(500)},
		},
		AllowPartialPayments: false,
		Frequency:            "QUARTERLY",
		StartDate:            time.Now().AddDate(0, 0, 1),
		PaymentDueDays:       30,
	})
	require.NoError(t, err)

	assert.True(t, resp.Active)
	assert.Equal(t, "QUARTERLY", resp.Frequency)
	assert.Equal(t, 0, resp.GeneratedCount)
}

func TestRecurringService_CreateRecurringInvoice_InvalidFrequency(t *testing.T) {
	svc := newRecurringService(new(MockInvoiceRepository), new(MockRecurringInvoiceRepository), nil)

	_, err := svc.CreateRecurringInvoice(context.Background(), uuid.New(), nil, CreateRecurringInvoiceRequest{
		Name:       "Bad",
		ClientID:   uuid.New(),
		ClientName: "Acme Corp",
		Items: []InvoiceItemRequest{
			{Product: "Support", Description: "Support plan", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(500)},
		},
		Frequency:      "DAILY",
		StartDate:      time.Now(),
		PaymentDueDays: 30,
	})
	assert.Error(t, err)
}

func TestRecurringService_SetRecurringInvoiceActive(t *testing.T) {
	tmpl := newTestTemplate(t, time.Now())
	recurringRepo := new(MockRecurringInvoiceRepository)
	svc := newRecurringService(new(MockInvoiceRepository), recurringRepo, nil)

	recurringRepo.On("FindByIDForOrg", mock.Anything, tmpl.OrganizationID, tmpl.ID).Return(tmpl, nil)
	recurringRepo.On("SaveWithLock", mock.Anything, tmpl).Return(nil)

	resp, err := svc.SetRecurringInvoiceActive(context.Background(), tmpl.OrganizationID, tmpl.ID, false)
	require.NoError(t, err)
	assert.False(t, resp.Active)
}
