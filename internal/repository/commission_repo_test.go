package repository

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cheertaboi/reviewcard-checkout/internal/models"
)

func TestCommissionRepoCreditOnce(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCommissionRepo(db)
	tx := beginTx(t, db, mock)
	entry := models.NewCommissionEntry("order-1", "promoter-1", decimal.RequireFromString("53.10"), decimal.RequireFromString("0.10"))

	mock.ExpectExec(`INSERT INTO commission_entries .+ ON CONFLICT \(order_id\) DO NOTHING`).
		WithArgs("order-1", "promoter-1", sqlmock.AnyArg(), sqlmock.AnyArg(), "5.31", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO promoter_balances .+ ON CONFLICT \(promoter_id\)`).
		WithArgs("promoter-1", "5.31").
		WillReturnResult(sqlmock.NewResult(0, 1))

	credited, err := repo.Credit(context.Background(), tx, entry)
	require.NoError(t, err)
	assert.True(t, credited)

	// the ledger already holds this order: the balance must not move
	mock.ExpectExec(`INSERT INTO commission_entries`).WillReturnResult(sqlmock.NewResult(0, 0))
	credited, err = repo.Credit(context.Background(), tx, entry)
	require.NoError(t, err)
	assert.False(t, credited)
}

func TestCommissionRepoStats(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(`SELECT`).
		WithArgs("promoter-1", "completed").
		WillReturnRows(sqlmock.NewRows([]string{"count", "sales", "earned", "balance"}).
			AddRow(int64(4), "212.40", "21.24", "21.24"))

	s, err := NewCommissionRepo(db).Stats(context.Background(), "promoter-1")
	require.NoError(t, err)
	assert.Equal(t, "promoter-1", s.PromoterID)
	assert.Equal(t, int64(4), s.CompletedOrders)
	assert.True(t, s.TotalSales.Equal(decimal.RequireFromString("212.4")))
	assert.True(t, s.Balance.Equal(decimal.RequireFromString("21.24")))
}
