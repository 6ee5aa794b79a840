package billing

import (
	"context"
	"testing"
	"time"

	"github.com/billing/backend/internal/domain/billing"
	"github.com/billing/backend/internal/domain/shared"
	"github.com/billing/backend/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// Test helpers

func newTestItems(t *testing.T) []billing.InvoiceItem {
	t.Helper()
	consulting, err := billing.NewInvoiceItem("Consulting", "Consulting hours", decimal.NewFromInt(2), decimal.NewFromInt(100))
	require.NoError(t, err)
	hosting, err := billing.NewInvoiceItem("Hosting", "Monthly hosting", decimal.NewFromInt(1), decimal.NewFromInt(50))
	require.NoError(t, err)
	return []billing.InvoiceItem{*consulting, *hosting}
}

// / newIssuedInvoice builds an ISSUED invoice: subtotal 250.00, 10% tax,
// total 275.00, partial payments allowed with a 20.00 floor.
func newIssuedInvoice(t *testing.T) *billing.Invoice {
	t.Helper()
	now := time.Now()
	inv, err := billing.NewInvoice(billing.NewInvoiceParams{
		OrganizationID:       uuid.New(),
		InvoiceNumber:        "INV-202608-0A1B2C",
		ClientID:             uuid.New(),
		ClientName:           "Acme Corp",
		IssueDate:            now.AddDate(0, 0, -1),
		DueDate:              now.AddDate(0, 0, 30),
		Items:                newTestItems(t),
		TaxRate:              decimal.NewFromInt(10),
		LateFeePercent:       decimal.NewFromInt(5),
		AllowPartialPayments: true,
		MinimumPaymentAmount: decimal.NewFromInt(20),
	})
	require.NoError(t, err)
	require.NoError(t, inv.Issue())
	inv.ClearDomainEvents()
	return inv
}

func newPaymentService(invoiceRepo *MockInvoiceRepository, paymentRepo *MockPaymentRepository, publisher *MockEventPublisher) *PaymentService {
	return NewPaymentService(PaymentServiceConfig{
		TxScope:        NewNoOpTransactionScope(invoiceRepo, paymentRepo, nil),
		InvoiceRepo:    invoiceRepo,
		PaymentRepo:    paymentRepo,
		EventPublisher: publisher,
	})
}

func recordRequest(amount string, method string) RecordPaymentRequest {
	return RecordPaymentRequest{
		Amount:      decimal.RequireFromString(amount),
		Method:      method,
		PaymentDate: time.Now(),
	}
}

// ============================================
// RecordPayment Tests
// ============================================

func TestPaymentService_RecordPayment_ManualFull(t *testing.T) {
	inv := newIssuedInvoice(t)
	invoiceRepo := new(MockInvoiceRepository)
	paymentRepo := new(MockPaymentRepository)
	publisher := NewMockEventPublisher()
	svc := newPaymentService(invoiceRepo, paymentRepo, publisher)

	invoiceRepo.On("FindByIDForUpdate", mock.Anything, inv.OrganizationID, inv.ID).Return(inv, nil)
	paymentRepo.On("FindByInvoice", mock.Anything, inv.ID).Return([]billing.Payment{}, nil)
	invoiceRepo.On("SaveWithLock", mock.Anything, inv).Return(nil)
	paymentRepo.On("Save", mock.Anything, mock.AnythingOfType("*billing.Payment")).Return(nil)

	result, err := svc.RecordPayment(context.Background(), inv.OrganizationID, inv.ID, recordRequest("275.00", "CASH"))
	require.NoError(t, err)

	assert.Equal(t, string(billing.PaymentStatusCompleted), result.Payment.Status)
	assert.Equal(t, string(billing.InvoiceStatusPaid), result.Invoice.Status)
	assert.Equal(t, "0.00", result.Invoice.Balance.StringFixed(2))

	assert.Len(t, publisher.GetEventsByType("PaymentRecorded"), 1)
	assert.Len(t, publisher.GetEventsByType("InvoicePaid"), 1)
	invoiceRepo.AssertExpectations(t)
	paymentRepo.AssertExpectations(t)
}

func TestPaymentService_RecordPayment_ManualPartial(t *testing.T) {
	inv := newIssuedInvoice(t)
	invoiceRepo := new(MockInvoiceRepository)
	paymentRepo := new(MockPaymentRepository)
	svc := newPaymentService(invoiceRepo, paymentRepo, NewMockEventPublisher())

	invoiceRepo.On("FindByIDForUpdate", mock.Anything, inv.OrganizationID, inv.ID).Return(inv, nil)
	paymentRepo.On("FindByInvoice", mock.Anything, inv.ID).Return([]billing.Payment{}, nil)
	invoiceRepo.On("SaveWithLock", mock.Anything, inv).Return(nil)
	paymentRepo.On("Save", mock.Anything, mock.AnythingOfType("*billing.Payment")).Return(nil)

	result, err := svc.RecordPayment(context.Background(), inv.OrganizationID, inv.ID, recordRequest("100.00", "BANK_TRANSFER"))
	require.NoError(t, err)

	assert.Equal(t, string(billing.InvoiceStatusPartiallyPaid), result.Invoice.Status)
	assert.Equal(t, "175.00", result.Invoice.Balance.StringFixed(2))
}

func TestPaymentService_RecordPayment_GatewayStaysPending(t *testing.T) {
	inv := newIssuedInvoice(t)
	invoiceRepo := new(MockInvoiceRepository)
	paymentRepo := new(MockPaymentRepository)
	svc := newPaymentService(invoiceRepo, paymentRepo, NewMockEventPublisher())

	invoiceRepo.On("FindByIDForUpdate", mock.Anything, inv.OrganizationID, inv.ID).Return(inv, nil)
	paymentRepo.On("FindByInvoice", mock.Anything, inv.ID).Return([]billing.Payment{}, nil)
	paymentRepo.On("Save", mock.Anything, mock.AnythingOfType("*billing.Payment")).Return(nil)

	req := recordRequest("275.00", "CARD")
	req.GatewayTransactionID = "pi_pending_1"

	result, err := svc.RecordPayment(context.Background(), inv.OrganizationID, inv.ID, req)
	require.NoError(t, err)

	assert.Equal(t, string(billing.PaymentStatusPending), result.Payment.Status)
	// The invoice does not move until the gateway confirms
	assert.Equal(t, string(billing.InvoiceStatusIssued), result.Invoice.Status)
	assert.Equal(t, "0.00", result.Invoice.PaidAmount.StringFixed(2))
	invoiceRepo.AssertNotCalled(t, "SaveWithLock", mock.Anything, mock.Anything)
}

func TestPaymentService_RecordPayment_AdmissionRejected(t *testing.T) {
	inv := newIssuedInvoice(t)
	invoiceRepo := new(MockInvoiceRepository)
	paymentRepo := new(MockPaymentRepository)
	svc := newPaymentService(invoiceRepo, paymentRepo, NewMockEventPublisher())

	invoiceRepo.On("FindByIDForUpdate", mock.Anything, inv.OrganizationID, inv.ID).Return(inv, nil)
	paymentRepo.On("FindByInvoice", mock.Anything, inv.ID).Return([]billing.Payment{}, nil)

	_, err := svc.RecordPayment(context.Background(), inv.OrganizationID, inv.ID, recordRequest("300.00", "CASH"))
	require.Error(t, err)

	var admErr *billing.AdmissionError
	require.ErrorAs(t, err, &admErr)
	assert.Equal(t, billing.AdmissionExceedsBalance, admErr.Reason)
	paymentRepo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
	invoiceRepo.AssertNotCalled(t, "SaveWithLock", mock.Anything, mock.Anything)
}

func TestPaymentService_RecordPayment_RejectsUnknownMethod(t *testing.T) {
	svc := newPaymentService(new(MockInvoiceRepository), new(MockPaymentRepository), NewMockEventPublisher())

	_, err := svc.RecordPayment(context.Background(), uuid.New(), uuid.New(), recordRequest("10.00", "BARTER"))
	require.Error(t, err)

	var de *shared.DomainError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "INVALID_METHOD", de.Code)
}

func TestPaymentService_RecordPayment_RetriesOnConflict(t *testing.T) {
	invoiceRepo := new(MockInvoiceRepository)
	paymentRepo := new(MockPaymentRepository)
	svc := newPaymentService(invoiceRepo, paymentRepo, NewMockEventPublisher())

	first := newIssuedInvoice(t)
	second := newIssuedInvoice(t)
	second.OrganizationID = first.OrganizationID
	second.ID = first.ID

	// First attempt loses the optimistic locking race, second succeeds
	invoiceRepo.On("FindByIDForUpdate", mock.Anything, first.OrganizationID, first.ID).Return(first, nil).Once()
	invoiceRepo.On("FindByIDForUpdate", mock.Anything, first.OrganizationID, first.ID).Return(second, nil).Once()
	paymentRepo.On("FindByInvoice", mock.Anything, first.ID).Return([]billing.Payment{}, nil)
	invoiceRepo.On("SaveWithLock", mock.Anything, first).Return(shared.ErrConcurrencyConflict).Once()
	invoiceRepo.On("SaveWithLock", mock.Anything, second).Return(nil).Once()
	paymentRepo.On("Save", mock.Anything, mock.AnythingOfType("*billing.Payment")).Return(nil)

	result, err := svc.RecordPayment(context.Background(), first.OrganizationID, first.ID, recordRequest("275.00", "CASH"))
	require.NoError(t, err)
	assert.Equal(t, string(billing.InvoiceStatusPaid), result.Invoice.Status)
	invoiceRepo.AssertExpectations(t)
}

func TestPaymentService_RecordPayment_GivesUpAfterSecondConflict(t *testing.T) {
	invoiceRepo := new(MockInvoiceRepository)
	paymentRepo := new(MockPaymentRepository)
	svc := newPaymentService(invoiceRepo, paymentRepo, NewMockEventPublisher())

	first := newIssuedInvoice(t)
	second := newIssuedInvoice(t)
	second.OrganizationID = first.OrganizationID
	second.ID = first.ID

	invoiceRepo.On("FindByIDForUpdate", mock.Anything, first.OrganizationID, first.ID).Return(first, nil).Once()
	invoiceRepo.On("FindByIDForUpdate", mock.Anything, first.OrganizationID, first.ID).Return(second, nil).Once()
	paymentRepo.On("FindByInvoice", mock.Anything, first.ID).Return([]billing.Payment{}, nil)
	invoiceRepo.On("SaveWithLock", mock.Anything, mock.Anything).Return(shared.ErrConcurrencyConflict)

	_, err := svc.RecordPayment(context.Background(), first.OrganizationID, first.ID, recordRequest("275.00", "CASH"))
	require.Error(t, err)
	assert.True(t, shared.IsRetryable(err))
	invoiceRepo.AssertNumberOfCalls(t, "FindByIDForUpdate", 2)
}

func TestPaymentService_RecordPayment_AppliesLateFeeBeforeAdmission(t *testing.T) {
	// An invoice past its due date grows the late fee lazily inside the
	// recorder, so a payment of the old total is a partial payment.
	inv := newIssuedInvoice(t)
	inv.DueDate = time.Now().AddDate(0, 0, -10)

	invoiceRepo := new(MockInvoiceRepository)
	paymentRepo := new(MockPaymentRepository)
	svc := newPaymentService(invoiceRepo, paymentRepo, NewMockEventPublisher())

	invoiceRepo.On("FindByIDForUpdate", mock.Anything, inv.OrganizationID, inv.ID).Return(inv, nil)
	paymentRepo.On("FindByInvoice", mock.Anything, inv.ID).Return([]billing.Payment{}, nil)
	invoiceRepo.On("SaveWithLock", mock.Anything, inv).Return(nil)
	paymentRepo.On("Save", mock.Anything, mock.AnythingOfType("*billing.Payment")).Return(nil)

	result, err := svc.RecordPayment(context.Background(), inv.OrganizationID, inv.ID, recordRequest("275.00", "CASH"))
	require.NoError(t, err)

	assert.True(t, result.Invoice.LateFeeApplied)
	assert.Equal(t, "288.75", result.Invoice.TotalAmount.StringFixed(2))
	assert.Equal(t, string(billing.InvoiceStatusOverdue), result.Invoice.Status)
	assert.Equal(t, "13.75", result.Invoice.Balance.StringFixed(2))
}

// ============================================
// RefundPayment Tests
// ============================================

func TestPaymentService_RefundPayment(t *testing.T) {
	inv := newIssuedInvoice(t)
	require.NoError(t, inv.ApplyPayment(valueobject.NewMoneyUSDFromFloat(275.00), time.Now()))
	inv.ClearDomainEvents()

	payment, err := billing.NewPayment(billing.NewPaymentParams{
		OrganizationID: inv.OrganizationID,
		InvoiceID:      inv.ID,
		ClientID:       inv.ClientID,
		Method:         billing.PaymentMethodCash,
		Amount:         valueobject.NewMoneyUSDFromFloat(275.00),
		PaymentDate:    time.Now(),
	}, time.Now())
	require.NoError(t, err)
	payment.ClearDomainEvents()

	invoiceRepo := new(MockInvoiceRepository)
	paymentRepo := new(MockPaymentRepository)
	publisher := NewMockEventPublisher()
	svc := newPaymentService(invoiceRepo, paymentRepo, publisher)

	paymentRepo.On("FindByIDForOrg", mock.Anything, inv.OrganizationID, payment.ID).Return(payment, nil)
	invoiceRepo.On("FindByIDForUpdate", mock.Anything, inv.OrganizationID, inv.ID).Return(inv, nil)
	paymentRepo.On("SaveWithLock", mock.Anything, payment).Return(nil)
	invoiceRepo.On("SaveWithLock", mock.Anything, inv).Return(nil)

	result, err := svc.RefundPayment(context.Background(), inv.OrganizationID, payment.ID, RefundPaymentRequest{Reason: "client dispute"})
	require.NoError(t, err)

	assert.Equal(t, string(billing.PaymentStatusRefunded), result.Payment.Status)
	assert.Equal(t, string(billing.InvoiceStatusIssued), result.Invoice.Status)
	assert.Equal(t, "0.00", result.Invoice.PaidAmount.StringFixed(2))
	assert.Len(t, publisher.GetEventsByType("PaymentRefunded"), 1)
}

func TestPaymentService_CancelPayment(t *testing.T) {
	inv := newIssuedInvoice(t)
	require.NoError(t, inv.ApplyPayment(valueobject.NewMoneyUSDFromFloat(275.00), time.Now()))
	inv.ClearDomainEvents()

	payment, err := billing.NewPayment(billing.NewPaymentParams{
		OrganizationID: inv.OrganizationID,
		InvoiceID:      inv.ID,
		ClientID:       inv.ClientID,
		Method:         billing.PaymentMethodCheck,
		Amount:         valueobject.NewMoneyUSDFromFloat(275.00),
		PaymentDate:    time.Now(),
	}, time.Now())
	require.NoError(t, err)
	payment.ClearDomainEvents()

	invoiceRepo := new(MockInvoiceRepository)
	paymentRepo := new(MockPaymentRepository)
	publisher := NewMockEventPublisher()
	svc := newPaymentService(invoiceRepo, paymentRepo, publisher)

	paymentRepo.On("FindByIDForOrg", mock.Anything, inv.OrganizationID, payment.ID).Return(payment, nil)
	invoiceRepo.On("FindByIDForUpdate", mock.Anything, inv.OrganizationID, inv.ID).Return(inv, nil)
	paymentRepo.On("Delete", mock.Anything, inv.OrganizationID, payment.ID).Return(nil)
	invoiceRepo.On("SaveWithLock", mock.Anything, inv).Return(nil)

	result, err := svc.CancelPayment(context.Background(), inv.OrganizationID, payment.ID)
	require.NoError(t, err)

	// The payment row is gone and the invoice balance restored
	assert.Equal(t, string(billing.InvoiceStatusIssued), result.Status)
	assert.Equal(t, "0.00", result.PaidAmount.StringFixed(2))
	paymentRepo.AssertCalled(t, "Delete", mock.Anything, inv.OrganizationID, payment.ID)
}

func TestPaymentService_CancelPayment_GatewayMethodRejected(t *testing.T) {
	inv := newIssuedInvoice(t)
	payment, err := billing.NewPayment(billing.NewPaymentParams{
		OrganizationID:       inv.OrganizationID,
		InvoiceID:            inv.ID,
		ClientID:             inv.ClientID,
		Method:               billing.PaymentMethodCard,
		Amount:               valueobject.NewMoneyUSDFromFloat(100.00),
		PaymentDate:          time.Now(),
		GatewayTransactionID: "pi_y",
	}, time.Now())
	require.NoError(t, err)

	invoiceRepo := new(MockInvoiceRepository)
	paymentRepo := new(MockPaymentRepository)
	svc := newPaymentService(invoiceRepo, paymentRepo, NewMockEventPublisher())

	paymentRepo.On("FindByIDForOrg", mock.Anything, inv.OrganizationID, payment.ID).Return(payment, nil)

	_, err = svc.CancelPayment(context.Background(), inv.OrganizationID, payment.ID)
	require.Error(t, err)

	var de *shared.DomainError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "GATEWAY_REFUND_ONLY", de.Code)
	paymentRepo.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything, mock.Anything)
}

func TestPaymentService_CancelPayment_RefundedRejected(t *testing.T) {
	inv := newIssuedInvoice(t)
	payment, err := billing.NewPayment(billing.NewPaymentParams{
		OrganizationID: inv.OrganizationID,
		InvoiceID:      inv.ID,
		ClientID:       inv.ClientID,
		Method:         billing.PaymentMethodCash,
		Amount:         valueobject.NewMoneyUSDFromFloat(50.00),
		PaymentDate:    time.Now(),
	}, time.Now())
	require.NoError(t, err)
	_, err = payment.Refund("already handled", time.Now())
	require.NoError(t, err)

	invoiceRepo := new(MockInvoiceRepository)
	paymentRepo := new(MockPaymentRepository)
	svc := newPaymentService(invoiceRepo, paymentRepo, NewMockEventPublisher())

	paymentRepo.On("FindByIDForOrg", mock.Anything, inv.OrganizationID, payment.ID).Return(payment, nil)

	_, err = svc.CancelPayment(context.Background(), inv.OrganizationID, payment.ID)
	require.Error(t, err)

	var de *shared.DomainError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "NOT_CANCELLABLE", de.Code)
	paymentRepo.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything, mock.Anything)
}

func TestPaymentService_RefundPayment_GatewayMethodRejected(t *testing.T) {
	inv := newIssuedInvoice(t)
	payment, err := billing.NewPayment(billing.NewPaymentParams{
		OrganizationID:       inv.OrganizationID,
		InvoiceID:            inv.ID,
		ClientID:             inv.ClientID,
		Method:               billing.PaymentMethodCard,
		Amount:               valueobject.NewMoneyUSDFromFloat(100.00),
		PaymentDate:          time.Now(),
		GatewayTransactionID: "pi_x",
	}, time.Now())
	require.NoError(t, err)

	invoiceRepo := new(MockInvoiceRepository)
	paymentRepo := new(MockPaymentRepository)
	svc := newPaymentService(invoiceRepo, paymentRepo, NewMockEventPublisher())

	paymentRepo.On("FindByIDForOrg", mock.Anything, inv.OrganizationID, payment.ID).Return(payment, nil)

	_, err = svc.RefundPayment(context.Background(), inv.OrganizationID, payment.ID, RefundPaymentRequest{Reason: "nope"})
	require.Error(t, err)

	var de *shared.DomainError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "GATEWAY_REFUND_ONLY", de.Code)
	invoiceRepo.AssertNotCalled(t, "SaveWithLock", mock.Anything, mock.Anything)
}
