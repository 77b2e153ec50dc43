// Package outbox carries order notifications from the database to Kafka.
// Events are written in the same transaction as the state change they describe
// and relayed asynchronously, so a broker outage never blocks checkout.
package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/Cheertaboi/reviewcard-checkout/internal/models"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
)

const (
	TypeOrderCompleted = "order.completed"
	TypeOrderFailed    = "order.failed"
	TypeOrderCancelled = "order.cancelled"
	TypeOrderRefunded  = "order.refunded"
)

type Event struct {
	ID          string
	AggregateID string
	Type        string
	Payload     []byte
	Headers     map[string]string
	Attempts    int
	CreatedAt   time.Time
}

// OrderNotification is the message body consumed by the mail service.
type OrderNotification struct {
	OrderID       string    `json:"orderId"`
	UserID        string    `json:"userId"`
	Status        string    `json:"status"`
	PlanName      string    `json:"planName"`
	CardCount     int       `json:"cardCount"`
	TotalAmount   string    `json:"totalAmount"`
	Currency      string    `json:"currency"`
	DiscountCode  string    `json:"discountCode,omitempty"`
	TransactionID string    `json:"transactionId,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// NewOrderEvent snapshots the order into an event of the given type.
// The caller's trace context travels with it as headers.
func NewOrderEvent(ctx context.Context, eventType string, o *models.Order) (Event, error) {
	n := OrderNotification{
		OrderID:     o.ID,
		UserID:      o.UserID,
		Status:      string(o.Status),
		PlanName:    o.PlanName,
		CardCount:   o.CardCount,
		TotalAmount: o.TotalAmount.StringFixed(2),
		Currency:    o.Currency,
		OccurredAt:  time.Now().UTC(),
	}
	if o.DiscountCode != nil {
		n.DiscountCode = *o.DiscountCode
	}
	if o.Payment.TransactionID != nil {
		n.TransactionID = *o.Payment.TransactionID
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return Event{}, err
	}

	headers := map[string]string{}
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(headers))

	return Event{
		ID:          uuid.NewString(),
		AggregateID: o.ID,
		Type:        eventType,
		Payload:     payload,
		Headers:     headers,
		CreatedAt:   n.OccurredAt,
	}, nil
}
