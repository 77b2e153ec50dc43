package models

// CreateOrderInput is what the checkout service needs to open an order.
type CreateOrderInput struct {
	UserID        string
	PlanID        string
	Shipping      ShippingInfo
	PaymentMethod PaymentMethod
	PromoCode     string
	// PaidExternalID is a provider order id the client claims is already paid.
	PaidExternalID string
}

type CreateOrderResult struct {
	OrderID    string
	PaymentURL string
	Status     OrderStatus
}

// Redirect is where a provider callback sends the customer next.
type Redirect struct {
	OrderID string
	Success bool
}
