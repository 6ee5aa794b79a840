package billing

import (
	"context"
	"sync"
	"time"

	"github.com/billing/backend/internal/domain/billing"
	"github.com/billing/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockEventPublisher records published events for assertions
type MockEventPublisher struct {
	mu     sync.Mutex
	events []shared.DomainEvent
}

func NewMockEventPublisher() *MockEventPublisher {
	return &MockEventPublisher{events: make([]shared.DomainEvent, 0)}
}

func (m *MockEventPublisher) Publish(ctx context.Context, events ...shared.DomainEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, events...)
	return nil
}

func (m *MockEventPublisher) GetEventsByType(eventType string) []shared.DomainEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]shared.DomainEvent, 0)
	for _, e := range m.events {
		if e.EventType() == eventType {
			result = append(result, e)
		}
	}
	return result
}

// MockIdempotencyStore is an in-memory shared.IdempotencyStore
type MockIdempotencyStore struct {
	mu   sync.Mutex
	seen map[string]bool
}

func NewMockIdempotencyStore() *MockIdempotencyStore {
	return &MockIdempotencyStore{seen: make(map[string]bool)}
}

func (m *MockIdempotencyStore) MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen[eventID] {
		return false, nil
	}
	m.seen[eventID] = true
	return true, nil
}

func (m *MockIdempotencyStore) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seen[eventID], nil
}

func (m *MockIdempotencyStore) Close() error { return nil }

// MockPaymentGateway is a mock implementation of billing.PaymentGateway
type MockPaymentGateway struct {
	mock.Mock
}

func (m *MockPaymentGateway) GatewayType() billing.PaymentGatewayType {
	args := m.Called()
	return args.Get(0).(billing.PaymentGatewayType)
}

func (m *MockPaymentGateway) VerifyNotification(ctx context.Context, payload []byte, signature string) (*billing.GatewayNotification, error) {
	args := m.Called(ctx, payload, signature)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.GatewayNotification), args.Error(1)
}

// MockInvoiceRepository is a mock implementation of billing.InvoiceRepository
type MockInvoiceRepository struct {
	mock.Mock
}

func (m *MockInvoiceRepository) FindByID(ctx context.Context, id uuid.UUID) (*billing.Invoice, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Invoice), args.Error(1)
}

func (m *MockInvoiceRepository) FindByIDForOrg(ctx context.Context, organizationID, id uuid.UUID) (*billing.Invoice, error) {
	args := m.Called(ctx, organizationID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Invoice), args.Error(1)
}

func (m *MockInvoiceRepository) FindByIDForUpdate(ctx context.Context, organizationID, id uuid.UUID) (*billing.Invoice, error) {
	args := m.Called(ctx, organizationID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Invoice), args.Error(1)
}

func (m *MockInvoiceRepository) FindByPublicToken(ctx context.Context, token uuid.UUID) (*billing.Invoice, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Invoice), args.Error(1)
}

func (m *MockInvoiceRepository) FindByNumber(ctx context.Context, organizationID uuid.UUID, invoiceNumber string) (*billing.Invoice, error) {
	args := m.Called(ctx, organizationID, invoiceNumber)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Invoice), args.Error(1)
}

func (m *MockInvoiceRepository) FindAllForOrg(ctx context.Context, organizationID uuid.UUID, filter billing.InvoiceFilter) ([]billing.Invoice, error) {
	args := m.Called(ctx, organizationID, filter)
	return args.Get(0).([]billing.Invoice), args.Error(1)
}

func (m *MockInvoiceRepository) FindSweepCandidates(ctx context.Context, cutoff time.Time, limit int) ([]billing.Invoice, error) {
	args := m.Called(ctx, cutoff, limit)
	return args.Get(0).([]billing.Invoice), args.Error(1)
}

func (m *MockInvoiceRepository) FindReminderCandidates(ctx context.Context, now time.Time, limit int) ([]billing.Invoice, error) {
	args := m.Called(ctx, now, limit)
	return args.Get(0).([]billing.Invoice), args.Error(1)
}

func (m *MockInvoiceRepository) Save(ctx context.Context, invoice *billing.Invoice) error {
	args := m.Called(ctx, invoice)
	return args.Error(0)
}

func (m *MockInvoiceRepository) SaveWithLock(ctx context.Context, invoice *billing.Invoice) error {
	args := m.Called(ctx, invoice)
	return args.Error(0)
}

func (m *MockInvoiceRepository) CountForOrg(ctx context.Context, organizationID uuid.UUID, filter billing.InvoiceFilter) (int64, error) {
	args := m.Called(ctx, organizationID, filter)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockInvoiceRepository) GenerateInvoiceNumber(ctx context.Context, organizationID uuid.UUID) (string, error) {
	args := m.Called(ctx, organizationID)
	return args.String(0), args.Error(1)
}

func (m *MockInvoiceRepository) WithTx(tx any) billing.InvoiceRepository {
	return m
}

// MockPaymentRepository is a mock implementation of billing.PaymentRepository
type MockPaymentRepository struct {
	mock.Mock
}

func (m *MockPaymentRepository) FindByID(ctx context.Context, id uuid.UUID) (*billing.Payment, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Payment), args.Error(1)
}

func (m *MockPaymentRepository) FindByIDForOrg(ctx context.Context, organizationID, id uuid.UUID) (*billing.Payment, error) {
	args := m.Called(ctx, organizationID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Payment), args.Error(1)
}

func (m *MockPaymentRepository) FindByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]billing.Payment, error) {
	args := m.Called(ctx, invoiceID)
	return args.Get(0).([]billing.Payment), args.Error(1)
}

func (m *MockPaymentRepository) FindByGatewayTransactionID(ctx context.Context, gatewayTransactionID string) (*billing.Payment, error) {
	args := m.Called(ctx, gatewayTransactionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Payment), args.Error(1)
}

func (m *MockPaymentRepository) FindAllForOrg(ctx context.Context, organizationID uuid.UUID, filter billing.PaymentFilter) ([]billing.Payment, error) {
	args := m.Called(ctx, organizationID, filter)
	return args.Get(0).([]billing.Payment), args.Error(1)
}

func (m *MockPaymentRepository) Save(ctx context.Context, payment *billing.Payment) error {
	args := m.Called(ctx, payment)
	return args.Error(0)
}

func (m *MockPaymentRepository) SaveWithLock(ctx context.Context, payment *billing.Payment) error {
	args := m.Called(ctx, payment)
	return args.Error(0)
}

func (m *MockPaymentRepository) Delete(ctx context.Context, organizationID, id uuid.UUID) error {
	args := m.Called(ctx, organizationID, id)
	return args.Error(0)
}

func (m *MockPaymentRepository) CountForOrg(ctx context.Context, organizationID uuid.UUID, filter billing.PaymentFilter) (int64, error) {
	args := m.Called(ctx, organizationID, filter)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockPaymentRepository) WithTx(tx any) billing.PaymentRepository {
	return m
}

// MockRecurringInvoiceRepository is a mock implementation of billing.RecurringInvoiceRepository
type MockRecurringInvoiceRepository struct {
	mock.Mock
}

func (m *MockRecurringInvoiceRepository) FindByID(ctx context.Context, id uuid.UUID) (*billing.RecurringInvoice, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.RecurringInvoice), args.Error(1)
}

func (m *MockRecurringInvoiceRepository) FindByIDForOrg(ctx context.Context, organizationID, id uuid.UUID) (*billing.RecurringInvoice, error) {
	args := m.Called(ctx, organizationID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.RecurringInvoice), args.Error(1)
}

func (m *MockRecurringInvoiceRepository) FindDue(ctx context.Context, today time.Time, limit int) ([]billing.RecurringInvoice, error) {
	args := m.Called(ctx, today, limit)
	return args.Get(0).([]billing.RecurringInvoice), args.Error(1)
}

func (m *MockRecurringInvoiceRepository) FindAllForOrg(ctx context.Context, organizationID uuid.UUID, filter billing.RecurringInvoiceFilter) ([]billing.RecurringInvoice, error) {
	args := m.Called(ctx, organizationID, filter)
	return args.Get(0).([]billing.RecurringInvoice), args.Error(1)
}

func (m *MockRecurringInvoiceRepository) Save(ctx context.Context, template *billing.RecurringInvoice) error {
	args := m.Called(ctx, template)
	return args.Error(0)
}

func (m *MockRecurringInvoiceRepository) SaveWithLock(ctx context.Context, template *billing.RecurringInvoice) error {
	args := m.Called(ctx, template)
	return args.Error(0)
}

func (m *MockRecurringInvoiceRepository) Delete(ctx context.Context, organizationID, id uuid.UUID) error {
	args := m.Called(ctx, organizationID, id)
	return args.Error(0)
}

func (m *MockRecurringInvoiceRepository) CountForOrg(ctx context.Context, organizationID uuid.UUID, filter billing.RecurringInvoiceFilter) (int64, error) {
	args := m.Called(ctx, organizationID, filter)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRecurringInvoiceRepository) WithTx(tx any) billing.RecurringInvoiceRepository {
	return m
}

// Interface guards
var _ billing.InvoiceRepository = (*MockInvoiceRepository)(nil)
var _ billing.PaymentRepository = (*MockPaymentRepository)(nil)
var _ billing.RecurringInvoiceRepository = (*MockRecurringInvoiceRepository)(nil)
var _ billing.PaymentGateway = (*MockPaymentGateway)(nil)
var _ shared.EventPublisher = (*MockEventPublisher)(nil)
var _ shared.IdempotencyStore = (*MockIdempotencyStore)(nil)
