package handler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/billing/backend/internal/domain/billing"
	"github.com/billing/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// In-memory fakes backing the real application services in handler tests.

type fakeInvoiceRepository struct {
	mu        sync.Mutex
	invoices  map[uuid.UUID]*billing.Invoice
	returnErr error
	nextSeq   int
}

func newFakeInvoiceRepository() *fakeInvoiceRepository {
	return &fakeInvoiceRepository{invoices: make(map[uuid.UUID]*billing.Invoice)}
}

func (r *fakeInvoiceRepository) put(inv *billing.Invoice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invoices[inv.ID] = inv
}

func (r *fakeInvoiceRepository) FindByID(ctx context.Context, id uuid.UUID) (*billing.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.returnErr != nil {
		return nil, r.returnErr
	}
	if inv, ok := r.invoices[id]; ok {
		return inv, nil
	}
	return nil, shared.ErrNotFound
}

func (r *fakeInvoiceRepository) FindByIDForOrg(ctx context.Context, organizationID, id uuid.UUID) (*billing.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.returnErr != nil {
		return nil, r.returnErr
	}
	if inv, ok := r.invoices[id]; ok && inv.OrganizationID == organizationID {
		return inv, nil
	}
	return nil, shared.ErrNotFound
}

func (r *fakeInvoiceRepository) FindByIDForUpdate(ctx context.Context, organizationID, id uuid.UUID) (*billing.Invoice, error) {
	return r.FindByIDForOrg(ctx, organizationID, id)
}

func (r *fakeInvoiceRepository) FindByPublicToken(ctx context.Context, token uuid.UUID) (*billing.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.returnErr != nil {
		return nil, r.returnErr
	}
	for _, inv := range r.invoices {
		if inv.PublicToken == token {
			return inv, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r *fakeInvoiceRepository) FindByNumber(ctx context.Context, organizationID uuid.UUID, invoiceNumber string) (*billing.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.returnErr != nil {
		return nil, r.returnErr
	}
	for _, inv := range r.invoices {
		if inv.OrganizationID == organizationID && inv.InvoiceNumber == invoiceNumber {
			return inv, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r *fakeInvoiceRepository) FindAllForOrg(ctx context.Context, organizationID uuid.UUID, filter billing.InvoiceFilter) ([]billing.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.returnErr != nil {
		return nil, r.returnErr
	}
	result := make([]billing.Invoice, 0)
	for _, inv := range r.invoices {
		if inv.OrganizationID == organizationID {
			result = append(result, *inv)
		}
	}
	return result, nil
}

func (r *fakeInvoiceRepository) FindSweepCandidates(ctx context.Context, cutoff time.Time, limit int) ([]billing.Invoice, error) {
	return nil, nil
}

func (r *fakeInvoiceRepository) FindReminderCandidates(ctx context.Context, now time.Time, limit int) ([]billing.Invoice, error) {
	return nil, nil
}

func (r *fakeInvoiceRepository) Save(ctx context.Context, invoice *billing.Invoice) error {
	if r.returnErr != nil {
		return r.returnErr
	}
	r.put(invoice)
	return nil
}

func (r *fakeInvoiceRepository) SaveWithLock(ctx context.Context, invoice *billing.Invoice) error {
	return r.Save(ctx, invoice)
}

func (r *fakeInvoiceRepository) CountForOrg(ctx context.Context, organizationID uuid.UUID, filter billing.InvoiceFilter) (int64, error) {
	invoices, err := r.FindAllForOrg(ctx, organizationID, filter)
	if err != nil {
		return 0, err
	}
	return int64(len(invoices)), nil
}

func (r *fakeInvoiceRepository) GenerateInvoiceNumber(ctx context.Context, organizationID uuid.UUID) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextSeq++
	return fmt.Sprintf("INV-202608-%06d", r.nextSeq), nil
}

func (r *fakeInvoiceRepository) WithTx(tx any) billing.InvoiceRepository { return r }

type fakePaymentRepository struct {
	mu        sync.Mutex
	payments  map[uuid.UUID]*billing.Payment
	returnErr error
}

func newFakePaymentRepository() *fakePaymentRepository {
	return &fakePaymentRepository{payments: make(map[uuid.UUID]*billing.Payment)}
}

func (r *fakePaymentRepository) FindByID(ctx context.Context, id uuid.UUID) (*billing.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.returnErr != nil {
		return nil, r.returnErr
	}
	if p, ok := r.payments[id]; ok {
		return p, nil
	}
	return nil, shared.ErrNotFound
}

func (r *fakePaymentRepository) FindByIDForOrg(ctx context.Context, organizationID, id uuid.UUID) (*billing.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.returnErr != nil {
		return nil, r.returnErr
	}
	if p, ok := r.payments[id]; ok && p.OrganizationID == organizationID {
		return p, nil
	}
	return nil, shared.ErrNotFound
}

func (r *fakePaymentRepository) FindByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]billing.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.returnErr != nil {
		return nil, r.returnErr
	}
	result := make([]billing.Payment, 0)
	for _, p := range r.payments {
		if p.InvoiceID == invoiceID {
			result = append(result, *p)
		}
	}
	return result, nil
}

func (r *fakePaymentRepository) FindByGatewayTransactionID(ctx context.Context, gatewayTransactionID string) (*billing.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.returnErr != nil {
		return nil, r.returnErr
	}
	for _, p := range r.payments {
		if p.GatewayTransactionID == gatewayTransactionID {
			return p, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r *fakePaymentRepository) FindAllForOrg(ctx context.Context, organizationID uuid.UUID, filter billing.PaymentFilter) ([]billing.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.returnErr != nil {
		return nil, r.returnErr
	}
	result := make([]billing.Payment, 0)
	for _, p := range r.payments {
		if p.OrganizationID == organizationID {
			result = append(result, *p)
		}
	}
	return result, nil
}

func (r *fakePaymentRepository) Save(ctx context.Context, payment *billing.Payment) error {
	if r.returnErr != nil {
		return r.returnErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payments[payment.ID] = payment
	return nil
}

func (r *fakePaymentRepository) SaveWithLock(ctx context.Context, payment *billing.Payment) error {
	return r.Save(ctx, payment)
}

func (r *fakePaymentRepository) Delete(ctx context.Context, organizationID, id uuid.UUID) error {
	if r.returnErr != nil {
		return r.returnErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id]
	if !ok || p.OrganizationID != organizationID {
		return shared.ErrNotFound
	}
	delete(r.payments, id)
	return nil
}

func (r *fakePaymentRepository) CountForOrg(ctx context.Context, organizationID uuid.UUID, filter billing.PaymentFilter) (int64, error) {
	payments, err := r.FindAllForOrg(ctx, organizationID, filter)
	if err != nil {
		return 0, err
	}
	return int64(len(payments)), nil
}

func (r *fakePaymentRepository) WithTx(tx any) billing.PaymentRepository { return r }

type fakeRecurringRepository struct {
	mu        sync.Mutex
	templates map[uuid.UUID]*billing.RecurringInvoice
	returnErr error
}

func newFakeRecurringRepository() *fakeRecurringRepository {
	return &fakeRecurringRepository{templates: make(map[uuid.UUID]*billing.RecurringInvoice)}
}

func (r *fakeRecurringRepository) put(tmpl *billing.RecurringInvoice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[tmpl.ID] = tmpl
}

func (r *fakeRecurringRepository) FindByID(ctx context.Context, id uuid.UUID) (*billing.RecurringInvoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.returnErr != nil {
		return nil, r.returnErr
	}
	if tmpl, ok := r.templates[id]; ok {
		return tmpl, nil
	}
	return nil, shared.ErrNotFound
}

func (r *fakeRecurringRepository) FindByIDForOrg(ctx context.Context, organizationID, id uuid.UUID) (*billing.RecurringInvoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.returnErr != nil {
		return nil, r.returnErr
	}
	if tmpl, ok := r.templates[id]; ok && tmpl.OrganizationID == organizationID {
		return tmpl, nil
	}
	return nil, shared.ErrNotFound
}

func (r *fakeRecurringRepository) FindDue(ctx context.Context, today time.Time, limit int) ([]billing.RecurringInvoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]billing.RecurringInvoice, 0)
	for _, tmpl := range r.templates {
		if tmpl.Active && !tmpl.NextGenerationDate.After(today) {
			result = append(result, *tmpl)
		}
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (r *fakeRecurringRepository) FindAllForOrg(ctx context.Context, organizationID uuid.UUID, filter billing.RecurringInvoiceFilter) ([]billing.RecurringInvoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.returnErr != nil {
		return nil, r.returnErr
	}
	result := make([]billing.RecurringInvoice, 0)
	for _, tmpl := range r.templates {
		if tmpl.OrganizationID == organizationID {
			result = append(result, *tmpl)
		}
	}
	return result, nil
}

func (r *fakeRecurringRepository) Save(ctx context.Context, template *billing.RecurringInvoice) error {
	if r.returnErr != nil {
		return r.returnErr
	}
	r.put(template)
	return nil
}

func (r *fakeRecurringRepository) SaveWithLock(ctx context.Context, template *billing.RecurringInvoice) error {
	return r.Save(ctx, template)
}

func (r *fakeRecurringRepository) Delete(ctx context.Context, organizationID, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tmpl, ok := r.templates[id]; ok && tmpl.OrganizationID == organizationID {
		delete(r.templates, id)
		return nil
	}
	return shared.ErrNotFound
}

func (r *fakeRecurringRepository) CountForOrg(ctx context.Context, organizationID uuid.UUID, filter billing.RecurringInvoiceFilter) (int64, error) {
	templates, err := r.FindAllForOrg(ctx, organizationID, filter)
	if err != nil {
		return 0, err
	}
	return int64(len(templates)), nil
}

func (r *fakeRecurringRepository) WithTx(tx any) billing.RecurringInvoiceRepository { return r }

// stubGateway returns a canned verification result
type stubGateway struct {
	notification *billing.GatewayNotification
	err          error
}

func (g *stubGateway) GatewayType() billing.PaymentGatewayType {
	return billing.PaymentGatewayTypeStripe
}

func (g *stubGateway) VerifyNotification(ctx context.Context, payload []byte, signature string) (*billing.GatewayNotification, error) {
	if g.err != nil {
		return nil, g.err
	}
	return g.notification, nil
}

// nopPublisher swallows domain events
type nopPublisher struct{}

func (nopPublisher) Publish(ctx context.Context, events ...shared.DomainEvent) error { return nil }

// memoryIdempotencyStore is a map-backed shared.IdempotencyStore
type memoryIdempotencyStore struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newMemoryIdempotencyStore() *memoryIdempotencyStore {
	return &memoryIdempotencyStore{seen: make(map[string]bool)}
}

func (s *memoryIdempotencyStore) MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen[eventID] {
		return false, nil
	}
	s.seen[eventID] = true
	return true, nil
}

func (s *memoryIdempotencyStore) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen[eventID], nil
}

func (s *memoryIdempotencyStore) Close() error { return nil }

var _ billing.InvoiceRepository = (*fakeInvoiceRepository)(nil)
var _ billing.PaymentRepository = (*fakePaymentRepository)(nil)
var _ billing.RecurringInvoiceRepository = (*fakeRecurringRepository)(nil)
var _ billing.PaymentGateway = (*stubGateway)(nil)
var _ shared.EventPublisher = nopPublisher{}
var _ shared.IdempotencyStore = (*memoryIdempotencyStore)(nil)
