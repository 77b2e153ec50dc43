package payment

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Cheertaboi/reviewcard-checkout/internal/models"
)

const MercadoPagoURL = "https://api.mercadopago.com"

type MercadoPagoOptions struct {
	AccessToken string
	BaseURL     string
	Currency    string
}

// MercadoPago uses Checkout Pro preferences; verification reads the payment resource.
type MercadoPago struct {
	opts MercadoPagoOptions
	api  *apiClient
}

func NewMercadoPago(opts MercadoPagoOptions, hc *http.Client, log *zap.Logger) *MercadoPago {
	if opts.BaseURL == "" {
		opts.BaseURL = MercadoPagoURL
	}
	if opts.Currency == "" {
		opts.Currency = "USD"
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &MercadoPago{opts: opts, api: newAPIClient("mercadopago", hc, log)}
}

func (m *MercadoPago) Method() models.PaymentMethod { return models.PaymentMethodMercadoPago }

func (m *MercadoPago) Currency() string { return m.opts.Currency }

func (m *MercadoPago) sandbox() bool {
	return strings.HasPrefix(m.opts.AccessToken, "TEST-")
}

func (m *MercadoPago) call(ctx context.Context, method, path, op string, body, out any) error {
	req, err := m.api.newJSONRequest(ctx, method, m.opts.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+m.opts.AccessToken)
	if method == http.MethodPost {
		req.Header.Set("X-Idempotency-Key", uuid.NewString())
	}
	return m.api.do(req, op, out)
}

func (m *MercadoPago) Initiate(ctx context.Context, order *models.Order, returnURL, cancelURL string) (Session, error) {
	body := map[string]any{
		"items": []map[string]any{{
			"id":          order.PlanID,
			"title":       fmt.Sprintf("%s plan - %d review card(s)", order.PlanName, order.CardCount),
			"quantity":    1,
			"unit_price":  order.TotalAmount.InexactFloat64(),
			"currency_id": order.Currency,
		}},
		"external_reference": order.ID,
		"back_urls": map[string]string{
			"success": returnURL,
			"pending": returnURL,
			"failure": cancelURL,
		},
		"auto_return": "approved",
	}
	var out struct {
		ID               string `json:"id"`
		InitPoint        string `json:"init_point"`
		SandboxInitPoint string `json:"sandbox_init_point"`
	}
	if err := m.call(ctx, http.MethodPost, "/checkout/preferences", "create_preference", body, &out); err != nil {
		return Session{}, err
	}
	link := out.InitPoint
	if m.sandbox() && out.SandboxInitPoint != "" {
		link = out.SandboxInitPoint
	}
	if out.ID == "" || link == "" {
		return Session{}, fmt.Errorf("%w: mercadopago preference without checkout link", ErrProviderFault)
	}
	return Session{PaymentURL: link, PaymentID: out.ID}, nil
}

type mercadoPagoPayment struct {
	ID                int64           `json:"id"`
	Status            string          `json:"status"`
	ExternalReference string          `json:"external_reference"`
	TransactionAmount decimal.Decimal `json:"transaction_amount"`
	CurrencyID        string          `json:"currency_id"`
}

func (p *mercadoPagoPayment) belongsTo(order *models.Order) error {
	if order == nil {
		return nil
	}
	if p.ExternalReference != order.ID {
		return fmt.Errorf("%w: mercadopago payment %d references %q, not %s", ErrPaymentMismatch, p.ID, p.ExternalReference, order.ID)
	}
	return checkCharge(order, p.CurrencyID, p.TransactionAmount)
}

func (p *mercadoPagoPayment) result() VerifyResult {
	if p.Status != "approved" {
		return VerifyResult{}
	}
	return VerifyResult{Verified: true, TransactionID: strconv.FormatInt(p.ID, 10)}
}

// Verify reads the payment the redirect named. Without one it searches the
// order's payments by external_reference; the stored preference id is not a
// payment and cannot be looked up.
func (m *MercadoPago) Verify(ctx context.Context, order *models.Order, paymentID string) (VerifyResult, error) {
	if paymentID == "" {
		if order == nil {
			return VerifyResult{}, fmt.Errorf("%w: mercadopago: empty payment id", ErrProviderFault)
		}
		return m.findApproved(ctx, order)
	}
	var p mercadoPagoPayment
	if err := m.call(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(paymentID), "get_payment", nil, &p); err != nil {
		return VerifyResult{}, err
	}
	if err := p.belongsTo(order); err != nil {
		return VerifyResult{}, err
	}
	return p.result(), nil
}

func (m *MercadoPago) findApproved(ctx context.Context, order *models.Order) (VerifyResult, error) {
	q := url.Values{
		"external_reference": {order.ID},
		"sort":               {"date_created"},
		"criteria":           {"desc"},
	}
	var out struct {
		Results []mercadoPagoPayment `json:"results"`
	}
	if err := m.call(ctx, http.MethodGet, "/v1/payments/search?"+q.Encode(), "search_payments", nil, &out); err != nil {
		return VerifyResult{}, err
	}
	for _, p := range out.Results {
		if p.Status != "approved" {
			continue
		}
		if err := p.belongsTo(order); err != nil {
			return VerifyResult{}, err
		}
		return p.result(), nil
	}
	return VerifyResult{}, nil
}

func (m *MercadoPago) Refund(ctx context.Context, order *models.Order) error {
	if order.Payment.TransactionID == nil || *order.Payment.TransactionID == "" {
		return fmt.Errorf("%w: mercadopago: order %s has no payment id", ErrProviderFault, order.ID)
	}
	var out struct {
		Status string `json:"status"`
	}
	path := "/v1/payments/" + url.PathEscape(*order.Payment.TransactionID) + "/refunds"
	if err := m.call(ctx, http.MethodPost, path, "refund", map[string]any{}, &out); err != nil {
		return err
	}
	if out.Status != "approved" {
		return fmt.Errorf("%w: mercadopago refund status %q", ErrProviderFault, out.Status)
	}
	return nil
}

func (m *MercadoPago) CallbackPaymentID(params url.Values) string {
	if id := params.Get("payment_id"); id != "" {
		return id
	}
	return params.Get("collection_id")
}
