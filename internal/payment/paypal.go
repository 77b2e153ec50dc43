package payment

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Cheertaboi/reviewcard-checkout/internal/models"
)

const (
	PayPalSandboxURL = "https://api-m.sandbox.paypal.com"
	PayPalLiveURL    = "https://api-m.paypal.com"
)

// PayPalBaseURL maps PAYPAL_MODE to an API host.
func PayPalBaseURL(mode string) string {
	if strings.EqualFold(mode, "live") || strings.EqualFold(mode, "production") {
		return PayPalLiveURL
	}
	return PayPalSandboxURL
}

type PayPalOptions struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	Currency     string
	BrandName    string
}

// PayPal talks to the Orders v2 API. A fresh OAuth token is fetched for every call.
type PayPal struct {
	opts PayPalOptions
	api  *apiClient
}

func NewPayPal(opts PayPalOptions, hc *http.Client, log *zap.Logger) *PayPal {
	if opts.BaseURL == "" {
		opts.BaseURL = PayPalSandboxURL
	}
	if opts.Currency == "" {
		opts.Currency = "USD"
	}
	if opts.BrandName == "" {
		opts.BrandName = "Review Cards"
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &PayPal{opts: opts, api: newAPIClient("paypal", hc, log)}
}

func (p *PayPal) Method() models.PaymentMethod { return models.PaymentMethodPayPal }

func (p *PayPal) Currency() string { return p.opts.Currency }

type paypalLink struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

type paypalCapture struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type paypalAmount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type paypalOrder struct {
	ID            string       `json:"id"`
	Status        string       `json:"status"`
	Links         []paypalLink `json:"links"`
	PurchaseUnits []struct {
		ReferenceID string       `json:"reference_id"`
		Amount      paypalAmount `json:"amount"`
		Payments    struct {
			Captures []paypalCapture `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

// belongsTo checks the single purchase unit against the order. Orders the
// buyer created with the PayPal JS SDK carry PayPal's "default" reference.
func (o *paypalOrder) belongsTo(order *models.Order) error {
	if order == nil {
		return nil
	}
	if len(o.PurchaseUnits) != 1 {
		return fmt.Errorf("%w: paypal order %s has %d purchase units", ErrPaymentMismatch, o.ID, len(o.PurchaseUnits))
	}
	pu := o.PurchaseUnits[0]
	switch pu.ReferenceID {
	case order.ID, "", "default":
	default:
		return fmt.Errorf("%w: paypal order %s references %q, not %s", ErrPaymentMismatch, o.ID, pu.ReferenceID, order.ID)
	}
	value, err := decimal.NewFromString(pu.Amount.Value)
	if err != nil {
		return fmt.Errorf("%w: paypal order %s amount %q", ErrPaymentMismatch, o.ID, pu.Amount.Value)
	}
	return checkCharge(order, pu.Amount.CurrencyCode, value)
}

func (o *paypalOrder) captureID() (string, bool) {
	for _, pu := range o.PurchaseUnits {
		for _, c := range pu.Payments.Captures {
			if c.Status == "COMPLETED" {
				return c.ID, true
			}
		}
	}
	return "", false
}

func (p *PayPal) accessToken(ctx context.Context) (string, error) {
	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.opts.BaseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("%w: build token request: %v", ErrProviderFault, err)
	}
	req.SetBasicAuth(p.opts.ClientID, p.opts.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := p.api.do(req, "oauth", &out); err != nil {
		return "", err
	}
	if out.AccessToken == "" {
		return "", fmt.Errorf("%w: paypal oauth: empty access token", ErrProviderFault)
	}
	return out.AccessToken, nil
}

func (p *PayPal) call(ctx context.Context, method, path, op string, body, out any) error {
	token, err := p.accessToken(ctx)
	if err != nil {
		return err
	}
	req, err := p.api.newJSONRequest(ctx, method, p.opts.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return p.api.do(req, op, out)
}

func (p *PayPal) Initiate(ctx context.Context, order *models.Order, returnURL, cancelURL string) (Session, error) {
	body := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{{
			"reference_id": order.ID,
			"description":  fmt.Sprintf("%s plan - %d review card(s)", order.PlanName, order.CardCount),
			"amount": map[string]string{
				"currency_code": order.Currency,
				"value":         order.TotalAmount.StringFixed(2),
			},
		}},
		"application_context": map[string]string{
			"brand_name":          p.opts.BrandName,
			"user_action":         "PAY_NOW",
			"shipping_preference": "NO_SHIPPING",
			"return_url":          returnURL,
			"cancel_url":          cancelURL,
		},
	}

	var out paypalOrder
	if err := p.call(ctx, http.MethodPost, "/v2/checkout/orders", "create_order", body, &out); err != nil {
		return Session{}, err
	}
	for _, l := range out.Links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			return Session{PaymentURL: l.Href, PaymentID: out.ID}, nil
		}
	}
	return Session{}, fmt.Errorf("%w: paypal order %s has no approve link", ErrProviderFault, out.ID)
}

// Verify reads the PayPal order, checks it pays for order, and captures it
// when the payer has approved it.
func (p *PayPal) Verify(ctx context.Context, order *models.Order, paymentID string) (VerifyResult, error) {
	id, err := sessionPaymentID(order, paymentID)
	if err != nil {
		return VerifyResult{}, err
	}
	path := "/v2/checkout/orders/" + url.PathEscape(id)

	var current paypalOrder
	if err := p.call(ctx, http.MethodGet, path, "get_order", nil, &current); err != nil {
		return VerifyResult{}, err
	}
	if err := current.belongsTo(order); err != nil {
		return VerifyResult{}, err
	}

	switch current.Status {
	case "COMPLETED":
		if id, ok := current.captureID(); ok {
			return VerifyResult{Verified: true, TransactionID: id}, nil
		}
		return VerifyResult{}, nil
	case "APPROVED":
		var captured paypalOrder
		if err := p.call(ctx, http.MethodPost, path+"/capture", "capture", map[string]any{}, &captured); err != nil {
			return VerifyResult{}, err
		}
		if captured.Status != "COMPLETED" {
			return VerifyResult{}, nil
		}
		if id, ok := captured.captureID(); ok {
			return VerifyResult{Verified: true, TransactionID: id}, nil
		}
		return VerifyResult{}, nil
	default:
		return VerifyResult{}, nil
	}
}

func (p *PayPal) Refund(ctx context.Context, order *models.Order) error {
	if order.Payment.TransactionID == nil || *order.Payment.TransactionID == "" {
		return fmt.Errorf("%w: paypal: order %s has no capture id", ErrProviderFault, order.ID)
	}
	body := map[string]any{
		"amount": map[string]string{
			"currency_code": order.Currency,
			"value":         order.TotalAmount.StringFixed(2),
		},
	}
	var out struct {
		Status string `json:"status"`
	}
	path := "/v2/payments/captures/" + url.PathEscape(*order.Payment.TransactionID) + "/refund"
	if err := p.call(ctx, http.MethodPost, path, "refund", body, &out); err != nil {
		return err
	}
	if out.Status != "COMPLETED" && out.Status != "PENDING" {
		return fmt.Errorf("%w: paypal refund status %q", ErrProviderFault, out.Status)
	}
	return nil
}

func (p *PayPal) CallbackPaymentID(params url.Values) string {
	return params.Get("token")
}
