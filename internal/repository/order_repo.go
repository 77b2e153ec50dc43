package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/Cheertaboi/reviewcard-checkout/internal/models"
)

const orderColumns = `id, user_id, plan_id, plan_name, card_count, original_amount,
	discount_percentage, discount_code, total_amount, currency, promoter_id, status,
	shipping, payment_method, external_id, transaction_id, payment_attempts,
	created_at, updated_at`

type OrderRepo struct {
	db *sql.DB
}

func NewOrderRepo(db *sql.DB) *OrderRepo {
	return &OrderRepo{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var (
		o        models.Order
		shipping []byte
		status   string
		method   string
	)
	err := row.Scan(
		&o.ID,
		&o.UserID,
		&o.PlanID,
		&o.PlanName,
		&o.CardCount,
		&o.OriginalAmount,
		&o.DiscountPercentage,
		&o.DiscountCode,
		&o.TotalAmount,
		&o.Currency,
		&o.PromoterID,
		&status,
		&shipping,
		&method,
		&o.Payment.ExternalID,
		&o.Payment.TransactionID,
		&o.PaymentAttempts,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(shipping, &o.Shipping); err != nil {
		return nil, fmt.Errorf("decode shipping of order %s: %w", o.ID, err)
	}
	o.Status = models.OrderStatus(status)
	o.Payment.Method = models.PaymentMethod(method)
	return &o, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Create inserts a new order; CreatedAt and UpdatedAt are filled from the
// database. ErrDuplicate means the id or the provider payment id is taken.
func (r *OrderRepo) Create(ctx context.Context, o *models.Order) error {
	return insertOrder(ctx, r.db, o)
}

// CreateTx is Create inside the caller's transaction.
func (r *OrderRepo) CreateTx(ctx context.Context, tx *sql.Tx, o *models.Order) error {
	return insertOrder(ctx, tx, o)
}

func insertOrder(ctx context.Context, q queryRower, o *models.Order) error {
	shipping, err := json.Marshal(o.Shipping)
	if err != nil {
		return fmt.Errorf("encode shipping: %w", err)
	}

	query := `
		INSERT INTO orders
		(id, user_id, plan_id, plan_name, card_count, original_amount, discount_percentage,
		 discount_code, total_amount, currency, promoter_id, status, shipping,
		 payment_method, external_id, transaction_id, payment_attempts, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,NOW(),NOW())
		RETURNING created_at, updated_at
	`
	err = q.QueryRowContext(ctx, query,
		o.ID,
		o.UserID,
		o.PlanID,
		o.PlanName,
		o.CardCount,
		o.OriginalAmount,
		o.DiscountPercentage,
		o.DiscountCode,
		o.TotalAmount,
		o.Currency,
		o.PromoterID,
		string(o.Status),
		string(shipping),
		string(o.Payment.Method),
		o.Payment.ExternalID,
		o.Payment.TransactionID,
		o.PaymentAttempts,
	).Scan(&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (r *OrderRepo) Get(ctx context.Context, id string) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	o, err := scanOrder(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return o, nil
}

// ListByUser returns the user's orders, newest first.
func (r *OrderRepo) ListByUser(ctx context.Context, userID string) ([]models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := []models.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

// SetExternalID records the provider session opened for a pending order.
func (r *OrderRepo) SetExternalID(ctx context.Context, id, externalID string) error {
	query := `
		UPDATE orders
		SET external_id = $2,
		    payment_attempts = payment_attempts + 1,
		    updated_at = NOW()
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, id, externalID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return expectOne(res)
}

// Complete moves the order to completed and stores the provider transaction id.
// It reports false when the order was no longer in a state that may complete,
// and ErrDuplicate when the transaction already settles another order.
func (r *OrderRepo) Complete(ctx context.Context, tx *sql.Tx, id, transactionID string) (bool, error) {
	query := `
		UPDATE orders
		SET status = $2,
		    transaction_id = NULLIF($3, ''),
		    updated_at = NOW()
		WHERE id = $1 AND status = ANY($4)
	`
	res, err := tx.ExecContext(ctx, query, id, string(models.OrderStatusCompleted), transactionID,
		statusArray(models.SourcesOf(models.OrderStatusCompleted)))
	if err != nil {
		if isUniqueViolation(err) {
			return false, ErrDuplicate
		}
		return false, err
	}
	return applied(res)
}

// Transition is a compare-and-swap on status: it only fires from a status
// allowed to reach to.
func (r *OrderRepo) Transition(ctx context.Context, tx *sql.Tx, id string, to models.OrderStatus) (bool, error) {
	from := models.SourcesOf(to)
	if len(from) == 0 {
		return false, fmt.Errorf("no transition leads to %q", to)
	}
	query := `
		UPDATE orders
		SET status = $2,
		    updated_at = NOW()
		WHERE id = $1 AND status = ANY($3)
	`
	res, err := tx.ExecContext(ctx, query, id, string(to), statusArray(from))
	if err != nil {
		return false, err
	}
	return applied(res)
}

// ResetPaymentSession reopens a retryable order with a fresh provider session.
func (r *OrderRepo) ResetPaymentSession(ctx context.Context, id, externalID string) (bool, error) {
	query := `
		UPDATE orders
		SET status = $2,
		    external_id = $3,
		    transaction_id = NULL,
		    payment_attempts = payment_attempts + 1,
		    updated_at = NOW()
		WHERE id = $1 AND status = ANY($4)
	`
	retryable := []models.OrderStatus{models.OrderStatusPending, models.OrderStatusFailed, models.OrderStatusCancelled}
	res, err := r.db.ExecContext(ctx, query, id, string(models.OrderStatusPending), externalID, statusArray(retryable))
	if err != nil {
		if isUniqueViolation(err) {
			return false, ErrDuplicate
		}
		return false, err
	}
	return applied(res)
}

func statusArray(statuses []models.OrderStatus) any {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return pq.Array(out)
}

func applied(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func expectOne(res sql.Result) error {
	ok, err := applied(res)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}
