package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Cheertaboi/reviewcard-checkout/internal/catalog"
	"github.com/Cheertaboi/reviewcard-checkout/internal/models"
	"github.com/Cheertaboi/reviewcard-checkout/internal/outbox"
	"github.com/Cheertaboi/reviewcard-checkout/internal/payment"
	"github.com/Cheertaboi/reviewcard-checkout/internal/repository"
)

// Repos required by the checkout flow. Methods taking a *sql.Tx run inside
// the service's transaction.
type OrderRepository interface {
	Create(ctx context.Context, o *models.Order) error
	CreateTx(ctx context.Context, tx *sql.Tx, o *models.Order) error
	Get(ctx context.Context, id string) (*models.Order, error)
	ListByUser(ctx context.Context, userID string) ([]models.Order, error)
	SetExternalID(ctx context.Context, id, externalID string) error
	Complete(ctx context.Context, tx *sql.Tx, id, transactionID string) (bool, error)
	Transition(ctx context.Context, tx *sql.Tx, id string, to models.OrderStatus) (bool, error)
	ResetPaymentSession(ctx context.Context, id, externalID string) (bool, error)
}

type PromoUsageRepository interface {
	HasCapacity(ctx context.Context, tx *sql.Tx, code string) (bool, error)
	IncrementUsage(ctx context.Context, tx *sql.Tx, code string) (bool, error)
}

type CommissionLedger interface {
	Credit(ctx context.Context, tx *sql.Tx, e models.CommissionEntry) (bool, error)
}

type OutboxWriter interface {
	Enqueue(ctx context.Context, tx *sql.Tx, e outbox.Event) error
}

type PromoValidator interface {
	Validate(ctx context.Context, code string) (models.PromoValidation, error)
	Invalidate(ctx context.Context, code string)
}

type CheckoutDeps struct {
	DB       *sql.DB // used for transactions
	Catalog  *catalog.Catalog
	Promos   PromoValidator
	Orders   OrderRepository
	Usage    PromoUsageRepository
	Ledger   CommissionLedger
	Outbox   OutboxWriter
	Gateways *payment.Registry
	// APIBaseURL is where providers send the customer back to; ClientURL hosts
	// the success and cancel pages.
	APIBaseURL     string
	ClientURL      string
	CommissionRate decimal.Decimal
	Log            *zap.Logger
}

type CheckoutService struct {
	db         *sql.DB
	catalog    *catalog.Catalog
	promos     PromoValidator
	orders     OrderRepository
	usage      PromoUsageRepository
	ledger     CommissionLedger
	outbox     OutboxWriter
	gateways   *payment.Registry
	apiBaseURL string
	clientURL  string
	rate       decimal.Decimal
	log        *zap.Logger
	tracer     trace.Tracer
	newID      func() string
}

func NewCheckoutService(d CheckoutDeps) *CheckoutService {
	return &CheckoutService{
		db:         d.DB,
		catalog:    d.Catalog,
		promos:     d.Promos,
		orders:     d.Orders,
		usage:      d.Usage,
		ledger:     d.Ledger,
		outbox:     d.Outbox,
		gateways:   d.Gateways,
		apiBaseURL: strings.TrimRight(d.APIBaseURL, "/"),
		clientURL:  strings.TrimRight(d.ClientURL, "/"),
		rate:       d.CommissionRate,
		log:        d.Log,
		tracer:     otel.Tracer("service/checkout"),
		newID:      uuid.NewString,
	}
}

// Plans lists the catalog.
func (s *CheckoutService) Plans() []models.Plan {
	return s.catalog.List()
}

// RedirectURL is the client page a provider callback ends on.
func (s *CheckoutService) RedirectURL(r models.Redirect) string {
	page := "cancel"
	if r.Success {
		page = "success"
	}
	return fmt.Sprintf("%s/checkout/%s/%s", s.clientURL, page, url.PathEscape(r.OrderID))
}

func (s *CheckoutService) returnURLs(orderID string) (string, string) {
	id := url.PathEscape(orderID)
	return s.apiBaseURL + "/checkout/success/" + id, s.apiBaseURL + "/checkout/cancel/" + id
}

func (s *CheckoutService) gateway(method models.PaymentMethod) (payment.Gateway, error) {
	gw, err := s.gateways.Get(method)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMethod, method)
	}
	return gw, nil
}

func (s *CheckoutService) getOrder(ctx context.Context, id string) (*models.Order, error) {
	o, err := s.orders.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	return o, err
}

// CreateOrder prices the plan, persists a pending order and opens a provider
// session. With PaidExternalID set the order is reconciled against the
// provider straight away instead.
func (s *CheckoutService) CreateOrder(ctx context.Context, in models.CreateOrderInput) (models.CreateOrderResult, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.CreateOrder",
		trace.WithAttributes(attribute.String("plan_id", in.PlanID), attribute.String("payment_method", string(in.PaymentMethod))))
	defer span.End()

	// 1) Plan and gateway
	plan, ok := s.catalog.Get(in.PlanID)
	if !ok {
		return models.CreateOrderResult{}, fmt.Errorf("%w: %q", ErrUnknownPlan, in.PlanID)
	}
	gw, err := s.gateway(in.PaymentMethod)
	if err != nil {
		return models.CreateOrderResult{}, err
	}
	if in.PaidExternalID != "" && in.PaymentMethod != models.PaymentMethodPayPal {
		return models.CreateOrderResult{}, fmt.Errorf("%w: paypalOrderId requires paymentMethod paypal", ErrInvalidInput)
	}

	price, ok := plan.PriceIn(gw.Currency())
	if !ok {
		return models.CreateOrderResult{}, fmt.Errorf("%w: plan %q is not priced in %s", ErrUnsupportedMethod, plan.ID, gw.Currency())
	}

	order := &models.Order{
		ID:             s.newID(),
		UserID:         in.UserID,
		PlanID:         plan.ID,
		PlanName:       plan.Name,
		CardCount:      plan.CardCount,
		OriginalAmount: price,
		Currency:       gw.Currency(),
		Status:         models.OrderStatusPending,
		Shipping:       in.Shipping,
		Payment:        models.PaymentDetails{Method: in.PaymentMethod},
	}

	// 2) Promo code; usage is counted on completion, persist only holds a use
	if code := models.NormalizeCode(in.PromoCode); code != "" {
		v, err := s.promos.Validate(ctx, code)
		if err != nil {
			return models.CreateOrderResult{}, err
		}
		if !v.Valid {
			return models.CreateOrderResult{}, fmt.Errorf("%w: %s", ErrInvalidPromo, v.Reason)
		}
		order.DiscountPercentage = v.DiscountPercentage
		order.DiscountCode = &v.Code
		order.PromoterID = v.PromoterID
	}
	order.TotalAmount = models.ComputeTotalIn(price, order.DiscountPercentage, order.Currency)

	// 3) Already-paid: persist, then verify like any callback
	if in.PaidExternalID != "" {
		ext := in.PaidExternalID
		order.Payment.ExternalID = &ext
		order.PaymentAttempts = 1
		if err := s.persist(ctx, order); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				s.log.Warn("provider payment presented for a second order",
					zap.String("payment_id", ext),
					zap.String("user_id", order.UserID))
				return models.CreateOrderResult{}, ErrPaymentAlreadyUsed
			}
			return models.CreateOrderResult{}, err
		}
		status, err := s.reconcile(ctx, order, gw, ext)
		if err != nil {
			return models.CreateOrderResult{OrderID: order.ID}, err
		}
		res := models.CreateOrderResult{OrderID: order.ID, Status: status}
		if status != models.OrderStatusCompleted {
			return res, ErrPaymentNotVerified
		}
		return res, nil
	}

	// 4) Hosted checkout
	if err := s.persist(ctx, order); err != nil {
		return models.CreateOrderResult{}, err
	}
	returnURL, cancelURL := s.returnURLs(order.ID)
	sess, err := gw.Initiate(ctx, order, returnURL, cancelURL)
	if err != nil {
		s.log.Error("payment initiation failed",
			zap.String("order_id", order.ID),
			zap.String("method", string(in.PaymentMethod)),
			zap.Error(err))
		return models.CreateOrderResult{OrderID: order.ID, Status: models.OrderStatusPending},
			fmt.Errorf("%w: %w", ErrPaymentInitiation, err)
	}
	if err := s.orders.SetExternalID(ctx, order.ID, sess.PaymentID); err != nil {
		return models.CreateOrderResult{}, fmt.Errorf("store payment session: %w", err)
	}

	s.log.Info("order created",
		zap.String("order_id", order.ID),
		zap.String("user_id", order.UserID),
		zap.String("plan_id", order.PlanID),
		zap.String("total", order.TotalAmount.StringFixed(2)),
		zap.String("method", string(order.Payment.Method)))
	return models.CreateOrderResult{OrderID: order.ID, PaymentURL: sess.PaymentURL, Status: models.OrderStatusPending}, nil
}

// persist inserts the order. A discounted order re-checks its code under the
// code's row lock so pending orders cannot outnumber the uses left.
func (s *CheckoutService) persist(ctx context.Context, order *models.Order) error {
	if order.DiscountCode == nil {
		return s.orders.Create(ctx, order)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	ok, err := s.usage.HasCapacity(ctx, tx, *order.DiscountCode)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrInvalidPromo, models.PromoNotFound)
	case err != nil:
		return fmt.Errorf("check promo capacity: %w", err)
	case !ok:
		return fmt.Errorf("%w: %s", ErrInvalidPromo, models.PromoExhausted)
	}
	if err := s.orders.CreateTx(ctx, tx, order); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// HandlePaymentSuccess reconciles a provider redirect. Nothing the client
// sends decides the outcome; only the provider's verify does.
func (s *CheckoutService) HandlePaymentSuccess(ctx context.Context, orderID string, params url.Values) (models.Redirect, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.HandlePaymentSuccess", trace.WithAttributes(attribute.String("order_id", orderID)))
	defer span.End()

	fail := models.Redirect{OrderID: orderID}
	order, err := s.getOrder(ctx, orderID)
	if err != nil {
		return fail, err
	}

	switch order.Status {
	case models.OrderStatusCompleted:
		return models.Redirect{OrderID: orderID, Success: true}, nil
	case models.OrderStatusPending:
	default:
		return fail, nil
	}

	gw, err := s.gateway(order.Payment.Method)
	if err != nil {
		return fail, err
	}
	status, err := s.reconcile(ctx, order, gw, gw.CallbackPaymentID(params))
	if err != nil {
		return fail, err
	}
	return models.Redirect{OrderID: orderID, Success: status == models.OrderStatusCompleted}, nil
}

// reconcile has the gateway verify the order's payment and moves the pending
// order to completed or failed. paymentID is the redirect's and may be empty;
// the gateway then falls back to what it stored for the order. It returns the
// status the order ends in, which is whatever a concurrent caller stored if
// this one lost the race.
func (s *CheckoutService) reconcile(ctx context.Context, order *models.Order, gw payment.Gateway, paymentID string) (models.OrderStatus, error) {
	res, err := gw.Verify(ctx, order, paymentID)
	if err != nil {
		fields := []zap.Field{
			zap.String("order_id", order.ID),
			zap.String("payment_id", paymentID),
			zap.Error(err),
		}
		if errors.Is(err, payment.ErrPaymentMismatch) {
			s.log.Warn("payment does not belong to order, treating as not verified", fields...)
		} else {
			s.log.Warn("payment verification errored, treating as not verified", fields...)
		}
		res = payment.VerifyResult{}
	}

	var (
		applied bool
		target  models.OrderStatus
	)
	if res.Verified {
		target = models.OrderStatusCompleted
		applied, err = s.complete(ctx, order, res.TransactionID)
		if errors.Is(err, repository.ErrDuplicate) {
			s.log.Warn("provider transaction already settles another order",
				zap.String("order_id", order.ID),
				zap.String("transaction_id", res.TransactionID))
			res.Verified, err = false, nil
		}
	}
	if err == nil && !res.Verified {
		target = models.OrderStatusFailed
		applied, err = s.fail(ctx, order)
	}
	if err != nil {
		return "", err
	}
	if applied {
		return target, nil
	}

	current, err := s.getOrder(ctx, order.ID)
	if err != nil {
		return "", err
	}
	s.log.Info("order already reconciled",
		zap.String("order_id", order.ID),
		zap.String("status", string(current.Status)))
	return current.Status, nil
}

// complete applies the status change, promo usage, commission credit and
// notification as one transaction.
func (s *CheckoutService) complete(ctx context.Context, order *models.Order, transactionID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	ok, err := s.orders.Complete(ctx, tx, order.ID, transactionID)
	if err != nil || !ok {
		return false, err
	}
	order.Status = models.OrderStatusCompleted
	if transactionID != "" {
		order.Payment.TransactionID = &transactionID
	}

	if order.DiscountCode != nil {
		exceeded, err := s.usage.IncrementUsage(ctx, tx, *order.DiscountCode)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			s.log.Warn("promo code of completed order is gone", zap.String("order_id", order.ID), zap.String("code", *order.DiscountCode))
		case err != nil:
			return false, fmt.Errorf("increment promo usage: %w", err)
		case exceeded:
			s.log.Warn("promo code used past its limit", zap.String("order_id", order.ID), zap.String("code", *order.DiscountCode))
		}
	}

	if order.PromoterID != nil && s.rate.IsPositive() {
		entry := models.NewCommissionEntry(order.ID, *order.PromoterID, order.TotalAmount, s.rate)
		credited, err := s.ledger.Credit(ctx, tx, entry)
		if err != nil {
			return false, fmt.Errorf("credit commission: %w", err)
		}
		if !credited {
			s.log.Warn("commission already credited", zap.String("order_id", order.ID))
		}
	}

	if err := s.enqueue(ctx, tx, outbox.TypeOrderCompleted, order); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}

	if order.DiscountCode != nil {
		s.promos.Invalidate(ctx, *order.DiscountCode)
	}
	s.log.Info("order completed",
		zap.String("order_id", order.ID),
		zap.String("transaction_id", transactionID))
	return true, nil
}

func (s *CheckoutService) fail(ctx context.Context, order *models.Order) (bool, error) {
	return s.transition(ctx, order, models.OrderStatusFailed, outbox.TypeOrderFailed)
}

// transition applies a compare-and-swap status change plus its notification.
func (s *CheckoutService) transition(ctx context.Context, order *models.Order, to models.OrderStatus, eventType string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	ok, err := s.orders.Transition(ctx, tx, order.ID, to)
	if err != nil || !ok {
		return false, err
	}
	order.Status = to
	if err := s.enqueue(ctx, tx, eventType, order); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	s.log.Info("order status changed", zap.String("order_id", order.ID), zap.String("status", string(to)))
	return true, nil
}

func (s *CheckoutService) enqueue(ctx context.Context, tx *sql.Tx, eventType string, order *models.Order) error {
	ev, err := outbox.NewOrderEvent(ctx, eventType, order)
	if err != nil {
		return fmt.Errorf("build %s event: %w", eventType, err)
	}
	if err := s.outbox.Enqueue(ctx, tx, ev); err != nil {
		return fmt.Errorf("enqueue %s event: %w", eventType, err)
	}
	return nil
}

// HandlePaymentCancel abandons a pending order. Orders in any other state are
// left as they are; the customer lands on the cancel page either way.
func (s *CheckoutService) HandlePaymentCancel(ctx context.Context, orderID string) (models.Redirect, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.HandlePaymentCancel", trace.WithAttributes(attribute.String("order_id", orderID)))
	defer span.End()

	redirect := models.Redirect{OrderID: orderID}
	order, err := s.getOrder(ctx, orderID)
	if err != nil {
		return redirect, err
	}
	if !models.CanTransition(order.Status, models.OrderStatusCancelled) {
		s.log.Info("cancel ignored", zap.String("order_id", orderID), zap.String("status", string(order.Status)))
		return redirect, nil
	}
	if _, err := s.transition(ctx, order, models.OrderStatusCancelled, outbox.TypeOrderCancelled); err != nil {
		return redirect, err
	}
	return redirect, nil
}

// RetryPayment opens a new provider session for the owner's order. The amount
// is never recomputed.
func (s *CheckoutService) RetryPayment(ctx context.Context, actor models.Actor, orderID string) (models.CreateOrderResult, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.RetryPayment", trace.WithAttributes(attribute.String("order_id", orderID)))
	defer span.End()

	order, err := s.getOrder(ctx, orderID)
	if err != nil {
		return models.CreateOrderResult{}, err
	}
	if !order.OwnedBy(actor.UserID) {
		return models.CreateOrderResult{}, ErrForbidden
	}
	if !order.Status.Retryable() {
		return models.CreateOrderResult{}, fmt.Errorf("%w: order is %s", ErrInvalidTransition, order.Status)
	}

	gw, err := s.gateway(order.Payment.Method)
	if err != nil {
		return models.CreateOrderResult{}, err
	}
	returnURL, cancelURL := s.returnURLs(order.ID)
	sess, err := gw.Initiate(ctx, order, returnURL, cancelURL)
	if err != nil {
		s.log.Error("payment re-initiation failed", zap.String("order_id", order.ID), zap.Error(err))
		return models.CreateOrderResult{}, fmt.Errorf("%w: %w", ErrPaymentInitiation, err)
	}

	ok, err := s.orders.ResetPaymentSession(ctx, order.ID, sess.PaymentID)
	if err != nil {
		return models.CreateOrderResult{}, err
	}
	if !ok {
		return models.CreateOrderResult{}, fmt.Errorf("%w: order changed during retry", ErrInvalidTransition)
	}

	s.log.Info("payment retried",
		zap.String("order_id", order.ID),
		zap.String("previous_status", string(order.Status)),
		zap.Int("attempt", order.PaymentAttempts+1))
	return models.CreateOrderResult{OrderID: order.ID, PaymentURL: sess.PaymentURL, Status: models.OrderStatusPending}, nil
}

// GetOrder is visible to the owner and to admins.
func (s *CheckoutService) GetOrder(ctx context.Context, actor models.Actor, orderID string) (*models.Order, error) {
	order, err := s.getOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.OwnedBy(actor.UserID) && !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	return order, nil
}

func (s *CheckoutService) ListOrders(ctx context.Context, actor models.Actor) ([]models.Order, error) {
	return s.orders.ListByUser(ctx, actor.UserID)
}

// VerifyPayPalOrder asks PayPal for the state of a client-side checkout,
// capturing it if approved. Provider errors read as not verified.
func (s *CheckoutService) VerifyPayPalOrder(ctx context.Context, paypalOrderID string) (payment.VerifyResult, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.VerifyPayPalOrder")
	defer span.End()

	gw, err := s.gateway(models.PaymentMethodPayPal)
	if err != nil {
		return payment.VerifyResult{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	res, err := gw.Verify(ctx, nil, paypalOrderID)
	if err != nil {
		s.log.Warn("paypal verification errored", zap.String("paypal_order_id", paypalOrderID), zap.Error(err))
		return payment.VerifyResult{}, nil
	}
	return res, nil
}

// RefundOrder reverses a completed payment with the provider, then marks the
// order refunded. Commission already credited stays in the ledger.
func (s *CheckoutService) RefundOrder(ctx context.Context, actor models.Actor, orderID string) (*models.Order, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.RefundOrder", trace.WithAttributes(attribute.String("order_id", orderID)))
	defer span.End()

	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	order, err := s.getOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !models.CanTransition(order.Status, models.OrderStatusRefunded) {
		return nil, fmt.Errorf("%w: order is %s", ErrInvalidTransition, order.Status)
	}

	gw, err := s.gateway(order.Payment.Method)
	if err != nil {
		return nil, err
	}
	if err := gw.Refund(ctx, order); err != nil {
		s.log.Error("provider refund failed", zap.String("order_id", order.ID), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrRefundFailed, err)
	}

	ok, err := s.transition(ctx, order, models.OrderStatusRefunded, outbox.TypeOrderRefunded)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.log.Error("order changed while refunding", zap.String("order_id", order.ID))
		return nil, fmt.Errorf("%w: order changed during refund", ErrInvalidTransition)
	}
	s.log.Info("order refunded", zap.String("order_id", order.ID), zap.String("by", actor.UserID))
	return order, nil
}
