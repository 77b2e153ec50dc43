package handlers

import (
	"time"

	"github.com/Cheertaboi/reviewcard-checkout/internal/models"
)

// Amounts are rendered as JSON numbers with cent precision.

type planResponse struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	Price     float64            `json:"price"`
	Currency  string             `json:"currency"`
	Prices    map[string]float64 `json:"prices,omitempty"`
	CardCount int                `json:"cardCount"`
}

func toPlanResponse(p models.Plan) planResponse {
	resp := planResponse{
		ID:        p.ID,
		Name:      p.Name,
		Price:     p.Price.InexactFloat64(),
		Currency:  models.BaseCurrency,
		CardCount: p.CardCount,
	}
	if len(p.Prices) > 0 {
		resp.Prices = make(map[string]float64, len(p.Prices))
		for cur, price := range p.Prices {
			resp.Prices[cur] = price.InexactFloat64()
		}
	}
	return resp
}

type orderResponse struct {
	ID                 string               `json:"id"`
	UserID             string               `json:"userId"`
	PlanID             string               `json:"planId"`
	PlanName           string               `json:"planName"`
	CardCount          int                  `json:"cardCount"`
	OriginalAmount     float64              `json:"originalAmount"`
	DiscountPercentage int                  `json:"discountPercentage"`
	DiscountCode       *string              `json:"discountCode,omitempty"`
	TotalAmount        float64              `json:"totalAmount"`
	Currency           string               `json:"currency"`
	Status             models.OrderStatus   `json:"status"`
	ShippingInfo       models.ShippingInfo  `json:"shippingInfo"`
	PaymentMethod      models.PaymentMethod `json:"paymentMethod"`
	TransactionID      *string              `json:"transactionId,omitempty"`
	PaymentAttempts    int                  `json:"paymentAttempts"`
	CreatedAt          time.Time            `json:"createdAt"`
	UpdatedAt          time.Time            `json:"updatedAt"`
}

func toOrderResponse(o *models.Order) orderResponse {
	return orderResponse{
		ID:                 o.ID,
		UserID:             o.UserID,
		PlanID:             o.PlanID,
		PlanName:           o.PlanName,
		CardCount:          o.CardCount,
		OriginalAmount:     o.OriginalAmount.InexactFloat64(),
		DiscountPercentage: o.DiscountPercentage,
		DiscountCode:       o.DiscountCode,
		TotalAmount:        o.TotalAmount.InexactFloat64(),
		Currency:           o.Currency,
		Status:             o.Status,
		ShippingInfo:       o.Shipping,
		PaymentMethod:      o.Payment.Method,
		TransactionID:      o.Payment.TransactionID,
		PaymentAttempts:    o.PaymentAttempts,
		CreatedAt:          o.CreatedAt,
		UpdatedAt:          o.UpdatedAt,
	}
}

type promoterStatsResponse struct {
	PromoterID       string  `json:"promoterId"`
	CompletedOrders  int64   `json:"completedOrders"`
	TotalSales       float64 `json:"totalSales"`
	CommissionRate   float64 `json:"commissionRate"`
	CommissionEarned float64 `json:"commissionEarned"`
	Balance          float64 `json:"balance"`
}

func toPromoterStatsResponse(s models.PromoterStats) promoterStatsResponse {
	return promoterStatsResponse{
		PromoterID:       s.PromoterID,
		CompletedOrders:  s.CompletedOrders,
		TotalSales:       s.TotalSales.InexactFloat64(),
		CommissionRate:   s.CommissionRate.InexactFloat64(),
		CommissionEarned: s.CommissionEarned.InexactFloat64(),
		Balance:          s.Balance.InexactFloat64(),
	}
}
