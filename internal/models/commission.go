package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CommissionEntry is one ledger line; there is at most one per order.
type CommissionEntry struct {
	OrderID    string
	PromoterID string
	OrderTotal decimal.Decimal
	Rate       decimal.Decimal
	Amount     decimal.Decimal
	CreatedAt  time.Time
}

// NewCommissionEntry computes the credit for a completed order.
func NewCommissionEntry(orderID, promoterID string, total, rate decimal.Decimal) CommissionEntry {
	return CommissionEntry{
		OrderID:    orderID,
		PromoterID: promoterID,
		OrderTotal: total,
		Rate:       rate,
		Amount:     total.Mul(rate).Round(2),
		CreatedAt:  time.Now().UTC(),
	}
}

type PromoterStats struct {
	PromoterID       string
	CompletedOrders  int64
	TotalSales       decimal.Decimal
	CommissionRate   decimal.Decimal
	CommissionEarned decimal.Decimal
	Balance          decimal.Decimal
}
