package repository

import (
	"context"
	"database/sql"

	"github.com/Cheertaboi/reviewcard-checkout/internal/models"
)

type CommissionRepo struct {
	db *sql.DB
}

func NewCommissionRepo(db *sql.DB) *CommissionRepo {
	return &CommissionRepo{db: db}
}

// Credit writes the ledger entry and adds it to the promoter balance.
// The order id is unique in the ledger, so a second credit for the same
// order is a no-op and reports false.
func (r *CommissionRepo) Credit(ctx context.Context, tx *sql.Tx, e models.CommissionEntry) (bool, error) {
	insert := `
		INSERT INTO commission_entries (order_id, promoter_id, order_total, rate, amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (order_id) DO NOTHING
	`
	res, err := tx.ExecContext(ctx, insert, e.OrderID, e.PromoterID, e.OrderTotal, e.Rate, e.Amount, e.CreatedAt)
	if err != nil {
		return false, err
	}
	inserted, err := applied(res)
	if err != nil || !inserted {
		return false, err
	}

	upsert := `
		INSERT INTO promoter_balances (promoter_id, balance, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (promoter_id)
		DO UPDATE SET balance = promoter_balances.balance + EXCLUDED.balance,
		              updated_at = NOW()
	`
	if _, err := tx.ExecContext(ctx, upsert, e.PromoterID, e.Amount); err != nil {
		return false, err
	}
	return true, nil
}

// Stats aggregates a promoter's referred sales and earnings. CommissionRate is left for the caller.
func (r *CommissionRepo) Stats(ctx context.Context, promoterID string) (models.PromoterStats, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM orders WHERE promoter_id = $1 AND status = $2),
			(SELECT COALESCE(SUM(total_amount), 0) FROM orders WHERE promoter_id = $1 AND status = $2),
			(SELECT COALESCE(SUM(amount), 0) FROM commission_entries WHERE promoter_id = $1),
			COALESCE((SELECT balance FROM promoter_balances WHERE promoter_id = $1), 0)
	`
	s := models.PromoterStats{PromoterID: promoterID}
	err := r.db.QueryRowContext(ctx, query, promoterID, string(models.OrderStatusCompleted)).Scan(
		&s.CompletedOrders,
		&s.TotalSales,
		&s.CommissionEarned,
		&s.Balance,
	)
	return s, err
}
