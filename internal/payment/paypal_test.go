package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Cheertaboi/reviewcard-checkout/internal/models"
)

func testOrder() *models.Order {
	return &models.Order{
		ID:          "6f1c2a9e-3b4d-4e5f-8a7b-1c2d3e4f5a6b",
		UserID:      "user-1",
		PlanID:      "standard",
		PlanName:    "Standard",
		CardCount:   3,
		TotalAmount: decimal.RequireFromString("53.10"),
		Currency:    "USD",
		Payment:     models.PaymentDetails{Method: models.PaymentMethodPayPal},
	}
}

// paypalStub serves the OAuth endpoint and delegates everything else to h.
func paypalStub(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "client", user)
		assert.Equal(t, "secret", pass)
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "tok"})
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		h(w, r)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestPayPal(srv *httptest.Server) *PayPal {
	return NewPayPal(PayPalOptions{ClientID: "client", ClientSecret: "secret", BaseURL: srv.URL}, srv.Client(), zap.NewNop())
}

func TestPayPalInitiate(t *testing.T) {
	srv := paypalStub(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/checkout/orders", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "CAPTURE", body["intent"])
		unit := body["purchase_units"].([]any)[0].(map[string]any)
		assert.Equal(t, "53.10", unit["amount"].(map[string]any)["value"])

		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "PP-1",
			"status": "CREATED",
			"links": []map[string]string{
				{"rel": "self", "href": "https://paypal.test/self"},
				{"rel": "approve", "href": "https://paypal.test/approve"},
			},
		})
	})

	sess, err := newTestPayPal(srv).Initiate(context.Background(), testOrder(), "https://api/ok", "https://api/cancel")
	require.NoError(t, err)
	assert.Equal(t, "PP-1", sess.PaymentID)
	assert.Equal(t, "https://paypal.test/approve", sess.PaymentURL)
}

func TestPayPalInitiateWithoutApproveLink(t *testing.T) {
	srv := paypalStub(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "PP-1", "links": []any{}})
	})
	_, err := newTestPayPal(srv).Initiate(context.Background(), testOrder(), "a", "b")
	assert.True(t, errors.Is(err, ErrProviderFault))
}

// paypalOrderBody is a GET /v2/checkout/orders response for one purchase unit.
func paypalOrderBody(status, reference, currency, value string, captures ...map[string]string) map[string]any {
	return map[string]any{
		"id":     "PP-1",
		"status": status,
		"purchase_units": []any{map[string]any{
			"reference_id": reference,
			"amount":       map[string]string{"currency_code": currency, "value": value},
			"payments":     map[string]any{"captures": captures},
		}},
	}
}

func TestPayPalVerifyCapturesApprovedOrder(t *testing.T) {
	order := testOrder()
	captured := false
	srv := paypalStub(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v2/checkout/orders/PP-1":
			_ = json.NewEncoder(w).Encode(paypalOrderBody("APPROVED", order.ID, "USD", "53.10"))
		case r.Method == http.MethodPost && r.URL.Path == "/v2/checkout/orders/PP-1/capture":
			captured = true
			_ = json.NewEncoder(w).Encode(paypalOrderBody("COMPLETED", order.ID, "USD", "53.10",
				map[string]string{"id": "CAP-9", "status": "COMPLETED"}))
		default:
			t.Errorf("unexpected call %s %s", r.Method, r.URL.Path)
		}
	})

	res, err := newTestPayPal(srv).Verify(context.Background(), order, "PP-1")
	require.NoError(t, err)
	assert.True(t, captured)
	assert.True(t, res.Verified)
	assert.Equal(t, "CAP-9", res.TransactionID)
}

func TestPayPalVerifyFallsBackToStoredSession(t *testing.T) {
	order := testOrder()
	stored := "PP-1"
	order.Payment.ExternalID = &stored
	srv := paypalStub(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/checkout/orders/PP-1", r.URL.Path)
		_ = json.NewEncoder(w).Encode(paypalOrderBody("COMPLETED", order.ID, "USD", "53.10",
			map[string]string{"id": "CAP-1", "status": "COMPLETED"}))
	})

	res, err := newTestPayPal(srv).Verify(context.Background(), order, "")
	require.NoError(t, err)
	assert.True(t, res.Verified)
	assert.Equal(t, "CAP-1", res.TransactionID)
}

func TestPayPalVerifyRejectsPaymentsForSomethingElse(t *testing.T) {
	order := testOrder()
	completed := map[string]string{"id": "CAP-X", "status": "COMPLETED"}

	cases := []struct {
		name string
		body map[string]any
	}{
		{"other order", paypalOrderBody("COMPLETED", "someone-elses-order", "USD", "53.10", completed)},
		{"short amount", paypalOrderBody("COMPLETED", order.ID, "USD", "0.01", completed)},
		{"other currency", paypalOrderBody("COMPLETED", order.ID, "EUR", "53.10", completed)},
		{"approved for less", paypalOrderBody("APPROVED", "default", "USD", "1.00")},
		{"no purchase unit", map[string]any{"id": "PP-1", "status": "COMPLETED", "purchase_units": []any{}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := paypalStub(t, func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, http.MethodGet, r.Method, "a mismatched order is never captured")
				_ = json.NewEncoder(w).Encode(tc.body)
			})
			res, err := newTestPayPal(srv).Verify(context.Background(), order, "PP-1")
			assert.ErrorIs(t, err, ErrPaymentMismatch)
			assert.False(t, res.Verified)
		})
	}
}

func TestPayPalVerifyAcceptsClientSideOrder(t *testing.T) {
	order := testOrder()
	paid := "PP-1"
	order.Payment.ExternalID = &paid
	srv := paypalStub(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(paypalOrderBody("COMPLETED", "default", "USD", "53.10",
			map[string]string{"id": "CAP-2", "status": "COMPLETED"}))
	})

	res, err := newTestPayPal(srv).Verify(context.Background(), order, "PP-1")
	require.NoError(t, err)
	assert.True(t, res.Verified)
}

func TestPayPalVerifyRejectsForeignToken(t *testing.T) {
	order := testOrder()
	stored := "PP-1"
	order.Payment.ExternalID = &stored
	srv := paypalStub(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected call %s %s", r.Method, r.URL.Path)
	})

	_, err := newTestPayPal(srv).Verify(context.Background(), order, "PP-paid-by-someone-else")
	assert.ErrorIs(t, err, ErrPaymentMismatch)
}

func TestPayPalVerifyBareLookup(t *testing.T) {
	srv := paypalStub(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(paypalOrderBody("COMPLETED", "default", "USD", "12.00",
			map[string]string{"id": "CAP-3", "status": "COMPLETED"}))
	})
	res, err := newTestPayPal(srv).Verify(context.Background(), nil, "PP-1")
	require.NoError(t, err)
	assert.True(t, res.Verified)
	assert.Equal(t, "CAP-3", res.TransactionID)
}

func TestPayPalVerifyUnapproved(t *testing.T) {
	order := testOrder()
	srv := paypalStub(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(paypalOrderBody("CREATED", order.ID, "USD", "53.10"))
	})
	res, err := newTestPayPal(srv).Verify(context.Background(), order, "PP-1")
	require.NoError(t, err)
	assert.False(t, res.Verified)
}

func TestPayPalVerifyProviderError(t *testing.T) {
	srv := paypalStub(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	_, err := newTestPayPal(srv).Verify(context.Background(), testOrder(), "PP-1")
	assert.ErrorIs(t, err, ErrProviderFault)
}

func TestPayPalRefund(t *testing.T) {
	srv := paypalStub(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/payments/captures/CAP-9/refund", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "COMPLETED"})
	})
	order := testOrder()
	txID := "CAP-9"
	order.Payment.TransactionID = &txID
	require.NoError(t, newTestPayPal(srv).Refund(context.Background(), order))

	order.Payment.TransactionID = nil
	assert.ErrorIs(t, newTestPayPal(srv).Refund(context.Background(), order), ErrProviderFault)
}

func TestPayPalCallbackAndBaseURL(t *testing.T) {
	p := NewPayPal(PayPalOptions{}, nil, zap.NewNop())
	assert.Equal(t, "PP-7", p.CallbackPaymentID(url.Values{"token": {"PP-7"}, "PayerID": {"X"}}))
	assert.Equal(t, PayPalLiveURL, PayPalBaseURL("live"))
	assert.Equal(t, PayPalSandboxURL, PayPalBaseURL("sandbox"))
	assert.Equal(t, PayPalSandboxURL, PayPalBaseURL(""))
}
