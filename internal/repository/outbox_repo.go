package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/Cheertaboi/reviewcard-checkout/internal/outbox"
)

type OutboxRepo struct {
	db *sql.DB
}

func NewOutboxRepo(db *sql.DB) *OutboxRepo {
	return &OutboxRepo{db: db}
}

// Enqueue stores the event in the caller's transaction.
func (r *OutboxRepo) Enqueue(ctx context.Context, tx *sql.Tx, e outbox.Event) error {
	headers, err := json.Marshal(e.Headers)
	if err != nil {
		return fmt.Errorf("encode outbox headers: %w", err)
	}
	query := `
		INSERT INTO outbox_events (id, aggregate_id, type, payload, headers, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	// lib/pq sends []byte as bytea, so JSON goes over the wire as text.
	_, err = tx.ExecContext(ctx, query, e.ID, e.AggregateID, e.Type, string(e.Payload), string(headers),
		string(outbox.StatusPending), e.CreatedAt)
	return err
}

// LockBatch leases due events. Rows locked by another relay are skipped, and
// an in-progress row whose lease ran out is handed out again.
func (r *OutboxRepo) LockBatch(ctx context.Context, batchSize int, lease time.Duration) ([]outbox.Event, error) {
	query := `
		UPDATE outbox_events
		SET status = $1,
		    locked_until = NOW() + make_interval(secs => $2)
		WHERE id IN (
			SELECT id FROM outbox_events
			WHERE status = $3 OR (status = $1 AND locked_until < NOW())
			ORDER BY created_at
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, aggregate_id, type, payload, headers, attempts, created_at
	`
	rows, err := r.db.QueryContext(ctx, query,
		string(outbox.StatusInProgress),
		lease.Seconds(),
		string(outbox.StatusPending),
		batchSize,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []outbox.Event
	for rows.Next() {
		var (
			e       outbox.Event
			headers []byte
		)
		if err := rows.Scan(&e.ID, &e.AggregateID, &e.Type, &e.Payload, &headers, &e.Attempts, &e.CreatedAt); err != nil {
			return nil, err
		}
		if len(headers) > 0 {
			if err := json.Unmarshal(headers, &e.Headers); err != nil {
				return nil, fmt.Errorf("decode outbox headers of %s: %w", e.ID, err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *OutboxRepo) MarkSent(ctx context.Context, ids []string) error {
	query := `
		UPDATE outbox_events
		SET status = $1, sent_at = NOW(), locked_until = NULL
		WHERE id = ANY($2)
	`
	_, err := r.db.ExecContext(ctx, query, string(outbox.StatusSent), pq.Array(ids))
	return err
}

func (r *OutboxRepo) MarkFailed(ctx context.Context, id, errMsg string, maxAttempts int) error {
	query := `
		UPDATE outbox_events
		SET attempts = attempts + 1,
		    last_error = $2,
		    locked_until = NULL,
		    status = CASE WHEN attempts + 1 >= $3 THEN $4 ELSE $5 END
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, id, errMsg, maxAttempts,
		string(outbox.StatusFailed), string(outbox.StatusPending))
	return err
}
