package service

import (
	"context"
	"database/sql"
	"net/url"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Cheertaboi/reviewcard-checkout/internal/catalog"
	"github.com/Cheertaboi/reviewcard-checkout/internal/models"
	"github.com/Cheertaboi/reviewcard-checkout/internal/outbox"
	"github.com/Cheertaboi/reviewcard-checkout/internal/payment"
	"github.com/Cheertaboi/reviewcard-checkout/internal/repository"
)

// fakeOrders keeps orders in memory and applies the same compare-and-swap
// rules as the SQL repository. It ignores the transaction.
type fakeOrders struct {
	mu     sync.Mutex
	orders map[string]*models.Order
	// history records every status an order was moved to.
	history map[string][]models.OrderStatus
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{orders: map[string]*models.Order{}, history: map[string][]models.OrderStatus{}}
}

func (f *fakeOrders) put(o *models.Order) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *o
	f.orders[o.ID] = &cp
	f.history[o.ID] = append(f.history[o.ID], o.Status)
}

// Create enforces the same uniqueness as the schema: order id, and one
// provider payment id per method.
func (f *fakeOrders) Create(_ context.Context, o *models.Order) error {
	f.mu.Lock()
	_, exists := f.orders[o.ID]
	for _, other := range f.orders {
		if o.Payment.ExternalID != nil && other.Payment.ExternalID != nil &&
			other.Payment.Method == o.Payment.Method && *other.Payment.ExternalID == *o.Payment.ExternalID {
			exists = true
		}
	}
	f.mu.Unlock()
	if exists {
		return repository.ErrDuplicate
	}
	f.put(o)
	return nil
}

func (f *fakeOrders) CreateTx(ctx context.Context, _ *sql.Tx, o *models.Order) error {
	return f.Create(ctx, o)
}

func (f *fakeOrders) Get(_ context.Context, id string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (f *fakeOrders) ListByUser(_ context.Context, userID string) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.Order{}
	for _, o := range f.orders {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeOrders) SetExternalID(_ context.Context, id, externalID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return repository.ErrNotFound
	}
	o.Payment.ExternalID = &externalID
	o.PaymentAttempts++
	return nil
}

func (f *fakeOrders) setStatus(o *models.Order, to models.OrderStatus) {
	o.Status = to
	f.history[o.ID] = append(f.history[o.ID], to)
}

func (f *fakeOrders) Complete(_ context.Context, _ *sql.Tx, id, transactionID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok || !models.CanTransition(o.Status, models.OrderStatusCompleted) {
		return false, nil
	}
	for _, other := range f.orders {
		if transactionID != "" && other.ID != id && other.Payment.Method == o.Payment.Method &&
			other.Payment.TransactionID != nil && *other.Payment.TransactionID == transactionID {
			return false, repository.ErrDuplicate
		}
	}
	f.setStatus(o, models.OrderStatusCompleted)
	o.Payment.TransactionID = &transactionID
	return true, nil
}

func (f *fakeOrders) Transition(_ context.Context, _ *sql.Tx, id string, to models.OrderStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok || !models.CanTransition(o.Status, to) {
		return false, nil
	}
	f.setStatus(o, to)
	return true, nil
}

func (f *fakeOrders) ResetPaymentSession(_ context.Context, id, externalID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok || !o.Status.Retryable() {
		return false, nil
	}
	if o.Status != models.OrderStatusPending {
		f.setStatus(o, models.OrderStatusPending)
	}
	o.Payment.ExternalID = &externalID
	o.Payment.TransactionID = nil
	o.PaymentAttempts++
	return true, nil
}

type fakeUsage struct {
	counts map[string]int

	// exhausted codes have no capacity left for new orders
	exhausted map[string]bool
}

func (f *fakeUsage) HasCapacity(_ context.Context, _ *sql.Tx, code string) (bool, error) {
	return !f.exhausted[code], nil
}

func (f *fakeUsage) IncrementUsage(_ context.Context, _ *sql.Tx, code string) (bool, error) {
	if f.counts == nil {
		f.counts = map[string]int{}
	}
	f.counts[code]++
	return false, nil
}

type fakeLedger struct {
	entries map[string]models.CommissionEntry
	balance map[string]decimal.Decimal
}

func (f *fakeLedger) Credit(_ context.Context, _ *sql.Tx, e models.CommissionEntry) (bool, error) {
	if f.entries == nil {
		f.entries = map[string]models.CommissionEntry{}
		f.balance = map[string]decimal.Decimal{}
	}
	if _, dup := f.entries[e.OrderID]; dup {
		return false, nil
	}
	f.entries[e.OrderID] = e
	f.balance[e.PromoterID] = f.balance[e.PromoterID].Add(e.Amount)
	return true, nil
}

type fakeOutbox struct {
	events []outbox.Event
}

func (f *fakeOutbox) Enqueue(_ context.Context, _ *sql.Tx, e outbox.Event) error {
	f.events = append(f.events, e)
	return nil
}

func (f *fakeOutbox) types() []string {
	out := make([]string, len(f.events))
	for i, e := range f.events {
		out[i] = e.Type
	}
	return out
}

type fakePromos struct {
	codes       map[string]models.PromoValidation
	invalidated []string
}

func (f *fakePromos) Validate(_ context.Context, code string) (models.PromoValidation, error) {
	code = models.NormalizeCode(code)
	if v, ok := f.codes[code]; ok {
		return v, nil
	}
	return models.PromoValidation{Code: code, Reason: models.PromoNotFound}, nil
}

func (f *fakePromos) Invalidate(_ context.Context, code string) {
	f.invalidated = append(f.invalidated, code)
}

type fakeGateway struct {
	method      models.PaymentMethod
	currency    string
	session     payment.Session
	initiateErr error
	verify      payment.VerifyResult
	verifyErr   error
	refundErr   error

	initiated  int
	charged    []*models.Order
	verifiedID []string
	refunded   int
}

func (g *fakeGateway) Method() models.PaymentMethod { return g.method }

func (g *fakeGateway) Currency() string {
	if g.currency == "" {
		return "USD"
	}
	return g.currency
}

func (g *fakeGateway) Initiate(_ context.Context, order *models.Order, _, _ string) (payment.Session, error) {
	g.initiated++
	cp := *order
	g.charged = append(g.charged, &cp)
	if g.initiateErr != nil {
		return payment.Session{}, g.initiateErr
	}
	return g.session, nil
}

func (g *fakeGateway) Verify(_ context.Context, _ *models.Order, id string) (payment.VerifyResult, error) {
	g.verifiedID = append(g.verifiedID, id)
	return g.verify, g.verifyErr
}

func (g *fakeGateway) Refund(_ context.Context, _ *models.Order) error {
	g.refunded++
	return g.refundErr
}

func (g *fakeGateway) CallbackPaymentID(params url.Values) string {
	return params.Get("token")
}

type harness struct {
	svc     *CheckoutService
	mock    sqlmock.Sqlmock
	orders  *fakeOrders
	usage   *fakeUsage
	ledger  *fakeLedger
	outbox  *fakeOutbox
	promos  *fakePromos
	gateway *fakeGateway
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})

	h := &harness{
		mock:   mock,
		orders: newFakeOrders(),
		usage:  &fakeUsage{},
		ledger: &fakeLedger{},
		outbox: &fakeOutbox{},
		promos: &fakePromos{codes: map[string]models.PromoValidation{}},
		gateway: &fakeGateway{
			method:  models.PaymentMethodPayPal,
			session: payment.Session{PaymentURL: "https://pay.test/approve/PP-1", PaymentID: "PP-1"},
		},
	}
	h.svc = NewCheckoutService(CheckoutDeps{
		DB:             db,
		Catalog:        catalog.Default(),
		Promos:         h.promos,
		Orders:         h.orders,
		Usage:          h.usage,
		Ledger:         h.ledger,
		Outbox:         h.outbox,
		Gateways:       payment.NewRegistry(h.gateway),
		APIBaseURL:     "https://api.test/",
		ClientURL:      "https://app.test",
		CommissionRate: decimal.RequireFromString("0.10"),
		Log:            zap.NewNop(),
	})
	return h
}

// expectCommit and expectRollback describe the transaction the next state change opens.
func (h *harness) expectCommit() {
	h.mock.ExpectBegin()
	h.mock.ExpectCommit()
}

func (h *harness) expectRollback() {
	h.mock.ExpectBegin()
	h.mock.ExpectRollback()
}

func validShipping() models.ShippingInfo {
	return models.ShippingInfo{
		FullName: "Ana Diaz", Address: "Av Providencia 123", City: "Santiago",
		PostalCode: "7500000", Country: "CL", Phone: "+56 9 1234 5678",
	}
}

func strPtr(s string) *string { return &s }
