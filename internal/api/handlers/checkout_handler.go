package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Cheertaboi/reviewcard-checkout/internal/api/middleware"
	"github.com/Cheertaboi/reviewcard-checkout/internal/cache"
	"github.com/Cheertaboi/reviewcard-checkout/internal/models"
	"github.com/Cheertaboi/reviewcard-checkout/internal/payment"
)

type CheckoutService interface {
	Plans() []models.Plan
	CreateOrder(ctx context.Context, in models.CreateOrderInput) (models.CreateOrderResult, error)
	HandlePaymentSuccess(ctx context.Context, orderID string, params url.Values) (models.Redirect, error)
	HandlePaymentCancel(ctx context.Context, orderID string) (models.Redirect, error)
	RetryPayment(ctx context.Context, actor models.Actor, orderID string) (models.CreateOrderResult, error)
	GetOrder(ctx context.Context, actor models.Actor, orderID string) (*models.Order, error)
	ListOrders(ctx context.Context, actor models.Actor) ([]models.Order, error)
	VerifyPayPalOrder(ctx context.Context, paypalOrderID string) (payment.VerifyResult, error)
	RefundOrder(ctx context.Context, actor models.Actor, orderID string) (*models.Order, error)
	RedirectURL(r models.Redirect) string
}

type PromoValidator interface {
	Validate(ctx context.Context, code string) (models.PromoValidation, error)
}

type IdempotencyStore interface {
	Reserve(ctx context.Context, scope, userID, key string) (*cache.StoredResponse, error)
	Complete(ctx context.Context, scope, userID, key string, resp cache.StoredResponse) error
	Release(ctx context.Context, scope, userID, key string) error
}

const (
	idempotencyHeader = "Idempotency-Key"
	createOrderScope  = "create-order"
	maxIdempotencyKey = 255
	replayedHeader    = "Idempotent-Replayed"
)

// --- Request / Response DTOs ---

type verifyPromoRequest struct {
	PromoCode string `json:"promoCode" validate:"required"`
}

type verifyPromoResponse struct {
	Code               string  `json:"code"`
	DiscountPercentage int     `json:"discountPercentage"`
	PromoterID         *string `json:"promoterId"`
}

type createOrderRequest struct {
	PlanID        string               `json:"planId" validate:"required"`
	ShippingInfo  *models.ShippingInfo `json:"shippingInfo" validate:"required"`
	PaymentMethod models.PaymentMethod `json:"paymentMethod" validate:"required,oneof=paypal webpay mercadopago"`
	PromoCode     string               `json:"promoCode,omitempty"`
	PayPalOrderID string               `json:"paypalOrderId,omitempty"`
}

type createOrderResponse struct {
	OrderID    string             `json:"orderId"`
	PaymentURL string             `json:"paymentUrl,omitempty"`
	Status     models.OrderStatus `json:"status"`
}

type verifyPayPalResponse struct {
	Success       bool   `json:"success"`
	TransactionID string `json:"transactionId,omitempty"`
}

// --- Handler struct & constructor ---

type CheckoutHandler struct {
	log    *zap.Logger
	svc    CheckoutService
	promos PromoValidator
	idem   IdempotencyStore
}

// NewCheckoutHandler wires the checkout endpoints. idem may be nil, in which
// case Idempotency-Key headers are ignored.
func NewCheckoutHandler(log *zap.Logger, svc CheckoutService, promos PromoValidator, idem IdempotencyStore) *CheckoutHandler {
	return &CheckoutHandler{log: log, svc: svc, promos: promos, idem: idem}
}

// --- Handlers ---

// Plans handles GET /checkout/plans
func (h *CheckoutHandler) Plans(w http.ResponseWriter, r *http.Request) {
	plans := h.svc.Plans()
	out := make([]planResponse, 0, len(plans))
	for _, p := range plans {
		out = append(out, toPlanResponse(p))
	}
	writeJSON(w, http.StatusOK, out)
}

// VerifyPromo handles POST /checkout/verify-promo
func (h *CheckoutHandler) VerifyPromo(w http.ResponseWriter, r *http.Request) {
	var req verifyPromoRequest
	if err := decode(w, r, &req); err != nil {
		respondError(h.log, w, r, err)
		return
	}

	v, err := h.promos.Validate(r.Context(), req.PromoCode)
	if err != nil {
		respondError(h.log, w, r, err)
		return
	}
	if !v.Valid {
		writeError(w, http.StatusNotFound, v.Reason, "promo code is not valid")
		return
	}
	writeJSON(w, http.StatusOK, verifyPromoResponse{
		Code:               v.Code,
		DiscountPercentage: v.DiscountPercentage,
		PromoterID:         v.PromoterID,
	})
}

// CreateOrder handles POST /checkout/create-order
func (h *CheckoutHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.ActorFrom(r.Context())

	key := r.Header.Get(idempotencyHeader)
	if key == "" || h.idem == nil {
		status, body := h.createOrder(w, r, actor)
		writeJSON(w, status, body)
		return
	}
	if len(key) > maxIdempotencyKey {
		writeError(w, http.StatusBadRequest, "invalid_request", "Idempotency-Key is too long")
		return
	}

	stored, err := h.idem.Reserve(r.Context(), createOrderScope, actor.UserID, key)
	switch {
	case errors.Is(err, cache.ErrInFlight):
		writeError(w, http.StatusConflict, "request_in_progress", "a request with this Idempotency-Key is still in progress")
		return
	case err != nil:
		// without the store the request still runs, just without replay protection
		h.log.Warn("idempotency store unavailable", zap.Error(err))
		status, body := h.createOrder(w, r, actor)
		writeJSON(w, status, body)
		return
	case stored != nil:
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set(replayedHeader, "true")
		w.WriteHeader(stored.Status)
		_, _ = w.Write(stored.Body)
		return
	}

	status, body := h.createOrder(w, r, actor)
	raw, err := marshalBody(body)
	if err != nil {
		_ = h.idem.Release(r.Context(), createOrderScope, actor.UserID, key)
		respondError(h.log, w, r, err)
		return
	}

	// server-side failures may be retried with the same key
	if status >= http.StatusInternalServerError {
		if err := h.idem.Release(r.Context(), createOrderScope, actor.UserID, key); err != nil {
			h.log.Warn("idempotency release failed", zap.Error(err))
		}
	} else {
		resp := cache.StoredResponse{Status: status, Body: raw}
		if err := h.idem.Complete(r.Context(), createOrderScope, actor.UserID, key, resp); err != nil {
			h.log.Warn("idempotency complete failed", zap.Error(err))
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(raw)
}

func (h *CheckoutHandler) createOrder(w http.ResponseWriter, r *http.Request, actor models.Actor) (int, any) {
	var req createOrderRequest
	if err := decode(w, r, &req); err != nil {
		return classify(err)
	}

	res, err := h.svc.CreateOrder(r.Context(), models.CreateOrderInput{
		UserID:         actor.UserID,
		PlanID:         req.PlanID,
		Shipping:       *req.ShippingInfo,
		PaymentMethod:  req.PaymentMethod,
		PromoCode:      req.PromoCode,
		PaidExternalID: req.PayPalOrderID,
	})
	if err != nil {
		status, body := classify(err)
		if status >= http.StatusInternalServerError {
			h.log.Error("create order failed", zap.String("user_id", actor.UserID), zap.Error(err))
		}
		body.OrderID = res.OrderID
		return status, body
	}
	return http.StatusOK, createOrderResponse{OrderID: res.OrderID, PaymentURL: res.PaymentURL, Status: res.Status}
}

func marshalBody(v any) (json.RawMessage, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// PaymentSuccess handles GET|POST /checkout/success/{orderId}. Providers send
// their parameters either in the query or as a form post.
func (h *CheckoutHandler) PaymentSuccess(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	if err := r.ParseForm(); err != nil {
		h.log.Warn("unreadable payment callback", zap.String("order_id", orderID), zap.Error(err))
	}

	redirect, err := h.svc.HandlePaymentSuccess(r.Context(), orderID, r.Form)
	if err != nil {
		h.log.Error("payment success callback failed", zap.String("order_id", orderID), zap.Error(err))
		redirect = models.Redirect{OrderID: orderID}
	}
	http.Redirect(w, r, h.svc.RedirectURL(redirect), http.StatusFound)
}

// PaymentCancel handles GET|POST /checkout/cancel/{orderId}
func (h *CheckoutHandler) PaymentCancel(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	redirect, err := h.svc.HandlePaymentCancel(r.Context(), orderID)
	if err != nil {
		h.log.Error("payment cancel callback failed", zap.String("order_id", orderID), zap.Error(err))
		redirect = models.Redirect{OrderID: orderID}
	}
	http.Redirect(w, r, h.svc.RedirectURL(redirect), http.StatusFound)
}

// ListOrders handles GET /checkout/orders
func (h *CheckoutHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.ActorFrom(r.Context())
	orders, err := h.svc.ListOrders(r.Context(), actor)
	if err != nil {
		respondError(h.log, w, r, err)
		return
	}
	out := make([]orderResponse, 0, len(orders))
	for i := range orders {
		out = append(out, toOrderResponse(&orders[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetOrder handles GET /checkout/orders/{orderId}
func (h *CheckoutHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.ActorFrom(r.Context())
	o, err := h.svc.GetOrder(r.Context(), actor, chi.URLParam(r, "orderId"))
	if err != nil {
		respondError(h.log, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

// VerifyPayPal handles GET /checkout/verify-paypal/{paypalOrderId}
func (h *CheckoutHandler) VerifyPayPal(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.VerifyPayPalOrder(r.Context(), chi.URLParam(r, "paypalOrderId"))
	if err != nil {
		respondError(h.log, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, verifyPayPalResponse{Success: res.Verified, TransactionID: res.TransactionID})
}

// RetryPayment handles POST /checkout/retry-payment/{orderId}
func (h *CheckoutHandler) RetryPayment(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.ActorFrom(r.Context())
	res, err := h.svc.RetryPayment(r.Context(), actor, chi.URLParam(r, "orderId"))
	if err != nil {
		respondError(h.log, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, createOrderResponse{OrderID: res.OrderID, PaymentURL: res.PaymentURL, Status: res.Status})
}

// RefundOrder handles POST /admin/orders/{orderId}/refund
func (h *CheckoutHandler) RefundOrder(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.ActorFrom(r.Context())
	o, err := h.svc.RefundOrder(r.Context(), actor, chi.URLParam(r, "orderId"))
	if err != nil {
		respondError(h.log, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}
