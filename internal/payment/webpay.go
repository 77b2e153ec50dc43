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
	WebPayIntegrationURL = "https://webpay3gint.transbank.cl"
	WebPayProductionURL  = "https://webpay3g.transbank.cl"

	webpayTransactions = "/rswebpaytransaction/api/webpay/v1.2/transactions"
	webpayMaxBuyOrder  = 26
)

func WebPayBaseURL(mode string) string {
	if strings.EqualFold(mode, "production") || strings.EqualFold(mode, "live") {
		return WebPayProductionURL
	}
	return WebPayIntegrationURL
}

type WebPayOptions struct {
	CommerceCode string
	APIKey       string
	BaseURL      string
}

// WebPay implements WebPay Plus over the Transbank REST API. Amounts are whole pesos.
type WebPay struct {
	opts WebPayOptions
	api  *apiClient
}

func NewWebPay(opts WebPayOptions, hc *http.Client, log *zap.Logger) *WebPay {
	if opts.BaseURL == "" {
		opts.BaseURL = WebPayIntegrationURL
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &WebPay{opts: opts, api: newAPIClient("webpay", hc, log)}
}

func (w *WebPay) Method() models.PaymentMethod { return models.PaymentMethodWebPay }

func (w *WebPay) Currency() string { return "CLP" }

func (w *WebPay) call(ctx context.Context, method, path, op string, body, out any) error {
	req, err := w.api.newJSONRequest(ctx, method, w.opts.BaseURL+webpayTransactions+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Tbk-Api-Key-Id", w.opts.CommerceCode)
	req.Header.Set("Tbk-Api-Key-Secret", w.opts.APIKey)
	return w.api.do(req, op, out)
}

// buyOrder derives Transbank's buy_order (max 26 chars) from the order id.
func buyOrder(orderID string) string {
	s := strings.ReplaceAll(orderID, "-", "")
	if len(s) > webpayMaxBuyOrder {
		s = s[:webpayMaxBuyOrder]
	}
	return s
}

func wholeAmount(order *models.Order) int64 {
	return order.TotalAmount.Round(0).IntPart()
}

func (w *WebPay) Initiate(ctx context.Context, order *models.Order, returnURL, _ string) (Session, error) {
	if !strings.EqualFold(order.Currency, w.Currency()) || !order.TotalAmount.Equal(order.TotalAmount.Round(0)) {
		return Session{}, fmt.Errorf("%w: webpay charges whole CLP, order %s totals %s %s",
			ErrPaymentMismatch, order.ID, order.TotalAmount.String(), order.Currency)
	}
	body := map[string]any{
		"buy_order":  buyOrder(order.ID),
		"session_id": order.UserID,
		"amount":     wholeAmount(order),
		"return_url": returnURL,
	}
	var out struct {
		Token string `json:"token"`
		URL   string `json:"url"`
	}
	if err := w.call(ctx, http.MethodPost, "", "create", body, &out); err != nil {
		return Session{}, err
	}
	if out.Token == "" || out.URL == "" {
		return Session{}, fmt.Errorf("%w: webpay create returned no token", ErrProviderFault)
	}
	return Session{
		PaymentURL: out.URL + "?token_ws=" + url.QueryEscape(out.Token),
		PaymentID:  out.Token,
	}, nil
}

// Verify commits the order's transaction; only an authorized commit with
// response code 0 for this buy order and amount counts.
func (w *WebPay) Verify(ctx context.Context, order *models.Order, callbackToken string) (VerifyResult, error) {
	token, err := sessionPaymentID(order, callbackToken)
	if err != nil {
		return VerifyResult{}, err
	}
	var out struct {
		Status            string          `json:"status"`
		ResponseCode      *int            `json:"response_code"`
		AuthorizationCode string          `json:"authorization_code"`
		BuyOrder          string          `json:"buy_order"`
		Amount            decimal.Decimal `json:"amount"`
	}
	if err := w.call(ctx, http.MethodPut, "/"+url.PathEscape(token), "commit", nil, &out); err != nil {
		return VerifyResult{}, err
	}
	if out.Status != "AUTHORIZED" || out.ResponseCode == nil || *out.ResponseCode != 0 {
		return VerifyResult{}, nil
	}
	if order != nil {
		if out.BuyOrder != buyOrder(order.ID) {
			return VerifyResult{}, fmt.Errorf("%w: webpay buy order %q is not order %s", ErrPaymentMismatch, out.BuyOrder, order.ID)
		}
		if err := checkCharge(order, w.Currency(), out.Amount); err != nil {
			return VerifyResult{}, err
		}
	}
	return VerifyResult{Verified: true, TransactionID: out.AuthorizationCode}, nil
}

func (w *WebPay) Refund(ctx context.Context, order *models.Order) error {
	if order.Payment.ExternalID == nil || *order.Payment.ExternalID == "" {
		return fmt.Errorf("%w: webpay: order %s has no token", ErrProviderFault, order.ID)
	}
	var out struct {
		Type         string `json:"type"`
		ResponseCode *int   `json:"response_code"`
	}
	path := "/" + url.PathEscape(*order.Payment.ExternalID) + "/refunds"
	if err := w.call(ctx, http.MethodPost, path, "refund", map[string]any{"amount": wholeAmount(order)}, &out); err != nil {
		return err
	}
	switch {
	case out.Type == "REVERSED":
		return nil
	case out.Type == "NULLIFIED" && out.ResponseCode != nil && *out.ResponseCode == 0:
		return nil
	}
	return fmt.Errorf("%w: webpay refund type %q", ErrProviderFault, out.Type)
}

func (w *WebPay) CallbackPaymentID(params url.Values) string {
	if t := params.Get("token_ws"); t != "" {
		return t
	}
	return params.Get("token")
}
