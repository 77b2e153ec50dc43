package db

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is idempotent; Migrate may run on every deploy.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS promo_codes (
		id                  BIGSERIAL PRIMARY KEY,
		code                TEXT NOT NULL UNIQUE,
		discount_percentage INT NOT NULL CHECK (discount_percentage BETWEEN 0 AND 100),
		active              BOOLEAN NOT NULL DEFAULT TRUE,
		expires_at          TIMESTAMPTZ,
		max_uses            INT,
		used_count          INT NOT NULL DEFAULT 0,
		promoter_id         TEXT,
		description         TEXT NOT NULL DEFAULT '',
		created_by          TEXT NOT NULL DEFAULT '',
		created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_promo_codes_promoter ON promo_codes (promoter_id)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id                  TEXT PRIMARY KEY,
		user_id             TEXT NOT NULL,
		plan_id             TEXT NOT NULL,
		plan_name           TEXT NOT NULL,
		card_count          INT NOT NULL,
		original_amount     NUMERIC(12,2) NOT NULL,
		discount_percentage INT NOT NULL DEFAULT 0,
		discount_code       TEXT,
		total_amount        NUMERIC(12,2) NOT NULL CHECK (total_amount >= 0),
		currency            TEXT NOT NULL,
		promoter_id         TEXT,
		status              TEXT NOT NULL,
		shipping            JSONB NOT NULL,
		payment_method      TEXT NOT NULL,
		external_id         TEXT,
		transaction_id      TEXT,
		payment_attempts    INT NOT NULL DEFAULT 0,
		created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_user_created ON orders (user_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_promoter_status ON orders (promoter_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_discount_pending ON orders (discount_code, updated_at) WHERE status = 'pending'`,
	// one provider payment settles at most one order
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_orders_external_id ON orders (payment_method, external_id) WHERE external_id IS NOT NULL`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_orders_transaction_id ON orders (payment_method, transaction_id) WHERE transaction_id IS NOT NULL`,
	`CREATE TABLE IF NOT EXISTS commission_entries (
		order_id    TEXT PRIMARY KEY REFERENCES orders (id),
		promoter_id TEXT NOT NULL,
		order_total NUMERIC(12,2) NOT NULL,
		rate        NUMERIC(5,4) NOT NULL,
		amount      NUMERIC(12,2) NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_commission_entries_promoter ON commission_entries (promoter_id)`,
	`CREATE TABLE IF NOT EXISTS promoter_balances (
		promoter_id TEXT PRIMARY KEY,
		balance     NUMERIC(14,2) NOT NULL DEFAULT 0,
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS outbox_events (
		id           TEXT PRIMARY KEY,
		aggregate_id TEXT NOT NULL,
		type         TEXT NOT NULL,
		payload      JSONB NOT NULL,
		headers      JSONB NOT NULL DEFAULT '{}',
		status       TEXT NOT NULL DEFAULT 'pending',
		attempts     INT NOT NULL DEFAULT 0,
		last_error   TEXT,
		locked_until TIMESTAMPTZ,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		sent_at      TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_events_pending ON outbox_events (created_at) WHERE status IN ('pending', 'in_progress')`,
}

// Migrate creates the tables the service needs.
func Migrate(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for i, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration step %d: %w", i, err)
		}
	}
	return tx.Commit()
}
