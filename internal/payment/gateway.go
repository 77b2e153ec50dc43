// Package payment adapts external payment providers to one initiate/verify/refund contract.
package payment

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Cheertaboi/reviewcard-checkout/internal/models"
)

var (
	// ErrProviderFault wraps every transport, auth or response-shape failure.
	ErrProviderFault     = errors.New("payment provider fault")
	ErrUnsupportedMethod = errors.New("unsupported payment method")
	// ErrPaymentMismatch is a real provider payment that settles some other
	// order, amount or currency than the one it was presented for.
	ErrPaymentMismatch = errors.New("payment does not match order")
)

// Session is a hosted-checkout session opened with a provider.
type Session struct {
	PaymentURL string
	PaymentID  string
}

type VerifyResult struct {
	Verified      bool
	TransactionID string
}

type Gateway interface {
	Method() models.PaymentMethod
	// Currency is the ISO code orders paid through this gateway are priced in.
	Currency() string
	// Initiate opens a hosted checkout for the order's total.
	Initiate(ctx context.Context, order *models.Order, returnURL, cancelURL string) (Session, error)
	// Verify asks the provider for the authoritative status of the order's
	// payment, capturing or committing it where the provider requires that
	// step. paymentID is what the redirect carried and may be empty. A nil
	// order is a bare status lookup with no binding checks.
	Verify(ctx context.Context, order *models.Order, paymentID string) (VerifyResult, error)
	// Refund reverses a completed payment.
	Refund(ctx context.Context, order *models.Order) error
	// CallbackPaymentID extracts the provider payment id from redirect parameters.
	CallbackPaymentID(params url.Values) string
}

type Registry struct {
	gateways map[models.PaymentMethod]Gateway
}

func NewRegistry(gateways ...Gateway) *Registry {
	r := &Registry{gateways: make(map[models.PaymentMethod]Gateway, len(gateways))}
	for _, g := range gateways {
		r.gateways[g.Method()] = g
	}
	return r
}

func (r *Registry) Get(method models.PaymentMethod) (Gateway, error) {
	g, ok := r.gateways[method]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMethod, method)
	}
	return g, nil
}

func (r *Registry) Supports(method models.PaymentMethod) bool {
	_, ok := r.gateways[method]
	return ok
}

// All returns the registered gateways ordered by method.
func (r *Registry) All() []Gateway {
	out := make([]Gateway, 0, len(r.gateways))
	for _, g := range r.gateways {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Method() < out[j].Method() })
	return out
}

// sessionPaymentID picks the provider id to verify for a session-based
// provider: the redirect's id, else the session stored on the order. A
// redirect id other than the stored session belongs to another checkout.
func sessionPaymentID(order *models.Order, callbackID string) (string, error) {
	var stored string
	if order != nil && order.Payment.ExternalID != nil {
		stored = *order.Payment.ExternalID
	}
	switch {
	case callbackID == "" && stored == "":
		return "", fmt.Errorf("%w: no payment id to verify", ErrProviderFault)
	case callbackID == "":
		return stored, nil
	case stored != "" && callbackID != stored:
		return "", fmt.Errorf("%w: payment %q is not session %q of order %s", ErrPaymentMismatch, callbackID, stored, order.ID)
	}
	return callbackID, nil
}

// checkCharge fails unless the provider charged exactly the order total in
// the order currency.
func checkCharge(order *models.Order, currency string, amount decimal.Decimal) error {
	if order == nil {
		return nil
	}
	if !strings.EqualFold(currency, order.Currency) || !amount.Equal(order.TotalAmount) {
		return fmt.Errorf("%w: charged %s %s, order %s totals %s %s",
			ErrPaymentMismatch, amount.String(), currency, order.ID, order.TotalAmount.String(), order.Currency)
	}
	return nil
}
