package handler

import (
	"context"
	"net/http"
	"testing"
	"time"

	billingapp "github.com/billing/backend/internal/application/billing"
	"github.com/billing/backend/internal/domain/billing"
	"github.com/billing/backend/internal/domain/shared"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPaymentTestHandler(invoiceRepo *fakeInvoiceRepository, paymentRepo *fakePaymentRepository) *PaymentHandler {
	svc := billingapp.NewPaymentService(billingapp.PaymentServiceConfig{
		TxScope:        billingapp.NewNoOpTransactionScope(invoiceRepo, paymentRepo, nil),
		InvoiceRepo:    invoiceRepo,
		PaymentRepo:    paymentRepo,
		EventPublisher: nopPublisher{},
	})
	return NewPaymentHandler(svc)
}

func recordPaymentBody(amount int64) billingapp.RecordPaymentRequest {
	return billingapp.RecordPaymentRequest{
		Amount:      decimal.NewFromInt(amount),
		Method:      string(billing.PaymentMethodBankTransfer),
		PaymentDate: time.Now(),
		Reference:   "WIRE-1001",
	}
}

func TestPaymentHandler_Record(t *testing.T) {
	invoiceRepo := newFakeInvoiceRepository()
	paymentRepo := newFakePaymentRepository()
	organizationID := uuid.New()
	inv := newIssuedTestInvoice(t, organizationID)
	invoiceRepo.put(inv)

	h := newPaymentTestHandler(invoiceRepo, paymentRepo)

	w := performRequest(t, http.MethodPost, "/api/v1/invoices/"+inv.ID.String()+"/payments",
		recordPaymentBody(220), organizationID,
		h.Record, gin.Param{Key: "id", Value: inv.ID.String()})

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	resp := decodeResponse(t, w)
	require.True(t, resp.Success)

	data := resp.Data.(map[string]interface{})
	payment := data["payment"].(map[string]interface{})
	invoice := data["invoice"].(map[string]interface{})
	assert.Equal(t, string(billing.PaymentStatusCompleted), payment["status"])
	assert.Equal(t, string(billing.InvoiceStatusPaid), invoice["status"])
}

func TestPaymentHandler_Record_AdmissionRejected(t *testing.T) {
	invoiceRepo := newFakeInvoiceRepository()
	organizationID := uuid.New()
	inv := newIssuedTestInvoice(t, organizationID)
	invoiceRepo.put(inv)

	h := newPaymentTestHandler(invoiceRepo, newFakePaymentRepository())

	// Total is 220.00; paying more must be rejected with a machine-readable reason
	w := performRequest(t, http.MethodPost, "/api/v1/invoices/"+inv.ID.String()+"/payments",
		recordPaymentBody(500), organizationID,
		h.Record, gin.Param{Key: "id", Value: inv.ID.String()})

	require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
	resp := decodeResponse(t, w)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "ERR_ADMISSION_REJECTED", resp.Error.Code)
	assert.Equal(t, string(billing.AdmissionExceedsBalance), resp.Error.Details["reason"])
}

func TestPaymentHandler_Record_DraftInvoiceNotPayable(t *testing.T) {
	invoiceRepo := newFakeInvoiceRepository()
	organizationID := uuid.New()
	inv := newTestInvoice(t, organizationID)
	invoiceRepo.put(inv)

	h := newPaymentTestHandler(invoiceRepo, newFakePaymentRepository())

	w := performRequest(t, http.MethodPost, "/api/v1/invoices/"+inv.ID.String()+"/payments",
		recordPaymentBody(100), organizationID,
		h.Record, gin.Param{Key: "id", Value: inv.ID.String()})

	require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
	resp := decodeResponse(t, w)
	assert.Equal(t, string(billing.AdmissionInvoiceNotPayable), resp.Error.Details["reason"])
}

func TestPaymentHandler_Cancel(t *testing.T) {
	invoiceRepo := newFakeInvoiceRepository()
	paymentRepo := newFakePaymentRepository()
	organizationID := uuid.New()
	inv := newIssuedTestInvoice(t, organizationID)
	invoiceRepo.put(inv)

	h := newPaymentTestHandler(invoiceRepo, paymentRepo)

	w := performRequest(t, http.MethodPost, "/api/v1/invoices/"+inv.ID.String()+"/payments",
		recordPaymentBody(220), organizationID,
		h.Record, gin.Param{Key: "id", Value: inv.ID.String()})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	resp := decodeResponse(t, w)
	paymentID := resp.Data.(map[string]interface{})["payment"].(map[string]interface{})["id"].(string)

	w = performRequest(t, http.MethodPost, "/api/v1/payments/"+paymentID+"/cancel",
		nil, organizationID,
		h.Cancel, gin.Param{Key: "id", Value: paymentID})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp = decodeResponse(t, w)
	invoice := resp.Data.(map[string]interface{})
	assert.Equal(t, string(billing.InvoiceStatusIssued), invoice["status"])

	// The payment row is gone, not marked refunded
	_, err := paymentRepo.FindByIDForOrg(context.Background(), organizationID, uuid.MustParse(paymentID))
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestPaymentHandler_Cancel_InvalidPaymentID(t *testing.T) {
	h := newPaymentTestHandler(newFakeInvoiceRepository(), newFakePaymentRepository())

	w := performRequest(t, http.MethodPost, "/api/v1/payments/nope/cancel",
		nil, uuid.New(),
		h.Cancel, gin.Param{Key: "id", Value: "nope"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPaymentHandler_Record_InvalidInvoiceID(t *testing.T) {
	h := newPaymentTestHandler(newFakeInvoiceRepository(), newFakePaymentRepository())

	w := performRequest(t, http.MethodPost, "/api/v1/invoices/nope/payments",
		recordPaymentBody(100), uuid.New(),
		h.Record, gin.Param{Key: "id", Value: "nope"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPaymentHandler_Record_MissingFields(t *testing.T) {
	h := newPaymentTestHandler(newFakeInvoiceRepository(), newFakePaymentRepository())

	id := uuid.New()
	w := performRequest(t, http.MethodPost, "/api/v1/invoices/"+id.String()+"/payments",
		map[string]string{}, uuid.New(),
		h.Record, gin.Param{Key: "id", Value: id.String()})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPaymentHandler_ListForInvoice(t *testing.T) {
	invoiceRepo := newFakeInvoiceRepository()
	paymentRepo := newFakePaymentRepository()
	organizationID := uuid.New()
	inv := newIssuedTestInvoice(t, organizationID)
	invoiceRepo.put(inv)

	h := newPaymentTestHandler(invoiceRepo, paymentRepo)

	// Record one payment first so the listing has content
	w := performRequest(t, http.MethodPost, "/api/v1/invoices/"+inv.ID.String()+"/payments",
		recordPaymentBody(50), organizationID,
		h.Record, gin.Param{Key: "id", Value: inv.ID.String()})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code) // partial payments not allowed on this invoice

	w = performRequest(t, http.MethodPost, "/api/v1/invoices/"+inv.ID.String()+"/payments",
		recordPaymentBody(220), organizationID,
		h.Record, gin.Param{Key: "id", Value: inv.ID.String()})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = performRequest(t, http.MethodGet, "/api/v1/invoices/"+inv.ID.String()+"/payments",
		nil, organizationID,
		h.ListForInvoice, gin.Param{Key: "id", Value: inv.ID.String()})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decodeResponse(t, w)
	payments := resp.Data.([]interface{})
	assert.Len(t, payments, 1)
}

func TestPaymentHandler_List_InvalidMethod(t *testing.T) {
	h := newPaymentTestHandler(newFakeInvoiceRepository(), newFakePaymentRepository())

	w := performRequest(t, http.MethodGet, "/api/v1/payments?method=BARTER", nil, uuid.New(), h.List)

	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
}

func TestPaymentListQuery_ToFilter(t *testing.T) {
	invoiceID := uuid.New()
	q := PaymentListQuery{
		InvoiceID: invoiceID.String(),
		Status:    string(billing.PaymentStatusCompleted),
		Method:    string(billing.PaymentMethodCard),
	}

	filter, err := q.toFilter()
	require.NoError(t, err)

	require.NotNil(t, filter.InvoiceID)
	assert.Equal(t, invoiceID, *filter.InvoiceID)
	assert.Equal(t, billing.PaymentStatusCompleted, *filter.Status)
	assert.Equal(t, billing.PaymentMethodCard, *filter.Method)
}
