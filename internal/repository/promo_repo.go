package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Cheertaboi/reviewcard-checkout/internal/models"
)

// PendingPromoHold is how long an unpaid order keeps holding a use of its
// promo code.
const PendingPromoHold = time.Hour

const promoColumns = `id, code, discount_percentage, active, expires_at, max_uses, used_count,
	promoter_id, description, created_by, created_at, updated_at`

type PromoRepo struct {
	db *sql.DB
}

func NewPromoRepo(db *sql.DB) *PromoRepo {
	return &PromoRepo{db: db}
}

func scanPromo(row rowScanner) (*models.PromoCode, error) {
	var (
		p       models.PromoCode
		maxUses sql.NullInt64
	)
	err := row.Scan(
		&p.ID,
		&p.Code,
		&p.DiscountPercentage,
		&p.Active,
		&p.ExpiresAt,
		&maxUses,
		&p.UsedCount,
		&p.PromoterID,
		&p.Description,
		&p.CreatedBy,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if maxUses.Valid {
		n := int(maxUses.Int64)
		p.MaxUses = &n
	}
	return &p, nil
}

// GetByCode looks a code up in its normalized form.
func (r *PromoRepo) GetByCode(ctx context.Context, code string) (*models.PromoCode, error) {
	query := `SELECT ` + promoColumns + ` FROM promo_codes WHERE code = $1`
	p, err := scanPromo(r.db.QueryRowContext(ctx, query, models.NormalizeCode(code)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

func (r *PromoRepo) Create(ctx context.Context, p *models.PromoCode) error {
	p.Code = models.NormalizeCode(p.Code)
	query := `
		INSERT INTO promo_codes
		(code, discount_percentage, active, expires_at, max_uses, used_count,
		 promoter_id, description, created_by, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,0,$6,$7,$8,NOW(),NOW())
		RETURNING id, used_count, created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query,
		p.Code,
		p.DiscountPercentage,
		p.Active,
		p.ExpiresAt,
		p.MaxUses,
		p.PromoterID,
		p.Description,
		p.CreatedBy,
	).Scan(&p.ID, &p.UsedCount, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert promo code: %w", err)
	}
	return nil
}

// IncrementUsage counts one more completed order against the code.
// exceeded reports that the code is now past its usage limit.
func (r *PromoRepo) IncrementUsage(ctx context.Context, tx *sql.Tx, code string) (exceeded bool, err error) {
	query := `
		UPDATE promo_codes
		SET used_count = used_count + 1,
		    updated_at = NOW()
		WHERE code = $1
		RETURNING max_uses IS NOT NULL AND used_count > max_uses
	`
	err = tx.QueryRowContext(ctx, query, models.NormalizeCode(code)).Scan(&exceeded)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	return exceeded, err
}

// HasCapacity locks the code's row and reports whether it can back one more
// order, counting completed uses and recent orders still awaiting payment.
// Callers insert the new order in the same transaction so concurrent
// checkouts for the code queue behind the lock.
func (r *PromoRepo) HasCapacity(ctx context.Context, tx *sql.Tx, code string) (bool, error) {
	query := `
		SELECT p.max_uses IS NULL OR p.used_count + (
			SELECT COUNT(*) FROM orders o
			WHERE o.discount_code = p.code AND o.status = $2 AND o.updated_at > $3
		) < p.max_uses
		FROM promo_codes p
		WHERE p.code = $1
		FOR UPDATE OF p
	`
	var ok bool
	err := tx.QueryRowContext(ctx, query,
		models.NormalizeCode(code),
		string(models.OrderStatusPending),
		time.Now().Add(-PendingPromoHold),
	).Scan(&ok)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	return ok, err
}

// Deactivate flips the active flag; codes are never deleted.
func (r *PromoRepo) Deactivate(ctx context.Context, code string) error {
	query := `UPDATE promo_codes SET active = FALSE, updated_at = NOW() WHERE code = $1`
	res, err := r.db.ExecContext(ctx, query, models.NormalizeCode(code))
	if err != nil {
		return err
	}
	return expectOne(res)
}

// List returns codes newest first; a nil promoterID lists every code.
func (r *PromoRepo) List(ctx context.Context, promoterID *string) ([]models.PromoCode, error) {
	query := `SELECT ` + promoColumns + ` FROM promo_codes
		WHERE $1::text IS NULL OR promoter_id = $1
		ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, promoterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	codes := []models.PromoCode{}
	for rows.Next() {
		p, err := scanPromo(rows)
		if err != nil {
			return nil, err
		}
		codes = append(codes, *p)
	}
	return codes, rows.Err()
}
