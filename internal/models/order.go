package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusFailed    OrderStatus = "failed"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRefunded  OrderStatus = "refunded"
)

// allowedTransitions is the complete order lifecycle. Anything not listed is rejected.
var allowedTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:   {OrderStatusCompleted, OrderStatusFailed, OrderStatusCancelled},
	OrderStatusFailed:    {OrderStatusPending},
	OrderStatusCancelled: {OrderStatusPending},
	OrderStatusCompleted: {OrderStatusRefunded},
}

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to OrderStatus) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// SourcesOf returns every status that may transition into to.
func SourcesOf(to OrderStatus) []OrderStatus {
	var out []OrderStatus
	for _, from := range []OrderStatus{
		OrderStatusPending, OrderStatusCompleted, OrderStatusFailed,
		OrderStatusCancelled, OrderStatusRefunded,
	} {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// Retryable reports whether a new payment session may be opened for the order.
func (s OrderStatus) Retryable() bool {
	return s == OrderStatusPending || s == OrderStatusFailed || s == OrderStatusCancelled
}

type PaymentMethod string

const (
	PaymentMethodPayPal      PaymentMethod = "paypal"
	PaymentMethodWebPay      PaymentMethod = "webpay"
	PaymentMethodMercadoPago PaymentMethod = "mercadopago"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodPayPal, PaymentMethodWebPay, PaymentMethodMercadoPago:
		return true
	}
	return false
}

type ShippingInfo struct {
	FullName   string `json:"fullName" validate:"required"`
	Address    string `json:"address" validate:"required"`
	Address2   string `json:"address2,omitempty"`
	City       string `json:"city" validate:"required"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode" validate:"required"`
	Country    string `json:"country" validate:"required"`
	Phone      string `json:"phone" validate:"required"`
}

// PaymentDetails holds the provider-side references of the current payment session.
type PaymentDetails struct {
	Method        PaymentMethod `json:"method"`
	ExternalID    *string       `json:"externalId,omitempty"`
	TransactionID *string       `json:"transactionId,omitempty"`
}

type Order struct {
	ID                 string
	UserID             string
	PlanID             string
	PlanName           string
	CardCount          int
	OriginalAmount     decimal.Decimal
	DiscountPercentage int
	DiscountCode       *string
	TotalAmount        decimal.Decimal
	Currency           string
	PromoterID         *string
	Status             OrderStatus
	Shipping           ShippingInfo
	Payment            PaymentDetails
	PaymentAttempts    int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// OwnedBy reports whether userID placed the order.
func (o *Order) OwnedBy(userID string) bool {
	return o.UserID == userID
}

// ComputeTotal applies a percentage discount and rounds to cents.
func ComputeTotal(price decimal.Decimal, discountPercentage int) decimal.Decimal {
	if discountPercentage <= 0 {
		return price.Round(2)
	}
	if discountPercentage > 100 {
		discountPercentage = 100
	}
	factor := decimal.NewFromInt(int64(100 - discountPercentage)).Div(decimal.NewFromInt(100))
	return price.Mul(factor).Round(2)
}

// ComputeTotalIn is ComputeTotal rounded to the minor unit of currency.
func ComputeTotalIn(price decimal.Decimal, discountPercentage int, currency string) decimal.Decimal {
	return ComputeTotal(price, discountPercentage).Round(CurrencyPlaces(currency))
}
