package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cheertaboi/reviewcard-checkout/internal/outbox"
)

func TestOutboxRepoEnqueue(t *testing.T) {
	db, mock := newMock(t)
	tx := beginTx(t, db, mock)
	now := time.Now().UTC()

	mock.ExpectExec(`INSERT INTO outbox_events`).
		WithArgs("e1", "order-1", outbox.TypeOrderCompleted, `{"orderId":"order-1"}`, `{"traceparent":"00-x"}`, "pending", now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := NewOutboxRepo(db).Enqueue(context.Background(), tx, outbox.Event{
		ID: "e1", AggregateID: "order-1", Type: outbox.TypeOrderCompleted,
		Payload: []byte(`{"orderId":"order-1"}`), Headers: map[string]string{"traceparent": "00-x"},
		CreatedAt: now,
	})
	require.NoError(t, err)
}

func TestOutboxRepoLockBatch(t *testing.T) {
	db, mock := newMock(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`FOR UPDATE SKIP LOCKED`).
		WithArgs("in_progress", float64(30), "pending", 50).
		WillReturnRows(sqlmock.NewRows([]string{"id", "aggregate_id", "type", "payload", "headers", "attempts", "created_at"}).
			AddRow("e1", "order-1", outbox.TypeOrderFailed, []byte(`{}`), []byte(`{"traceparent":"00-x"}`), 2, now))

	events, err := NewOutboxRepo(db).LockBatch(context.Background(), 50, 30*time.Second)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "order-1", events[0].AggregateID)
	assert.Equal(t, 2, events[0].Attempts)
	assert.Equal(t, "00-x", events[0].Headers["traceparent"])
}

func TestOutboxRepoMarkSentAndFailed(t *testing.T) {
	db, mock := newMock(t)
	repo := NewOutboxRepo(db)

	mock.ExpectExec(`SET status = \$1, sent_at = NOW\(\)`).
		WithArgs("sent", pq.Array([]string{"e1", "e2"})).
		WillReturnResult(sqlmock.NewResult(0, 2))
	require.NoError(t, repo.MarkSent(context.Background(), []string{"e1", "e2"}))

	mock.ExpectExec(`SET attempts = attempts \+ 1`).
		WithArgs("e3", "broker down", 5, "failed", "pending").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.MarkFailed(context.Background(), "e3", "broker down", 5))
}
