package persistence

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/freight/recognition/internal/domain/recognition"
	"github.com/freight/recognition/internal/domain/shared"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// newMockGormDB opens gorm on a sqlmock connection through the postgres dialector
func newMockGormDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock, *sql.DB) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn:       mockDB,
		DriverName: "postgres",
	}), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)

	return gormDB, mock, mockDB
}

func TestGormActualRepository_ActualsAsOfSQL(t *testing.T) {
	ref := recognition.JobRef{Type: recognition.JobTypeAirShipment, ID: "AWB-1"}
	asOf := time.Date(2024, 3, 31, 15, 0, 0, 0, time.UTC)

	t.Run("sums per side", func(t *testing.T) {
		db, mock, mockDB := newMockGormDB(t)
		defer mockDB.Close()

		mock.ExpectQuery(`SELECT side, COALESCE\(SUM\(amount\), 0\) AS total FROM "recognition_actuals" WHERE \(job_type = \$1 AND job_id = \$2 AND posted_on <= \$3\) GROUP BY "side"`).
			WithArgs(sqlmock.AnyArg(), "AWB-1", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"side", "total"}).
				AddRow("WIP", "200.5").
				AddRow("ACCRUAL", "75"))

		actuals, err := NewGormActualRepository(db).ActualsAsOf(context.Background(), ref, asOf)

		require.NoError(t, err)
		assert.True(t, decimal.RequireFromString("200.5").Equal(actuals.Revenue))
		assert.True(t, decimal.NewFromInt(75).Equal(actuals.Cost))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no entries gives zero", func(t *testing.T) {
		db, mock, mockDB := newMockGormDB(t)
		defer mockDB.Close()

		mock.ExpectQuery(`FROM "recognition_actuals"`).
			WillReturnRows(sqlmock.NewRows([]string{"side", "total"}))

		actuals, err := NewGormActualRepository(db).ActualsAsOf(context.Background(), ref, asOf)

		require.NoError(t, err)
		assert.True(t, actuals.Revenue.IsZero())
		assert.True(t, actuals.Cost.IsZero())
	})

	t.Run("wraps driver errors", func(t *testing.T) {
		db, mock, mockDB := newMockGormDB(t)
		defer mockDB.Close()

		boom := errors.New("connection reset")
		mock.ExpectQuery(`FROM "recognition_actuals"`).WillReturnError(boom)

		_, err := NewGormActualRepository(db).ActualsAsOf(context.Background(), ref, asOf)

		require.Error(t, err)
		assert.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), "AIR_SHIPMENT/AWB-1")
	})
}

func TestGormPostingRepository_FindByIdempotencyKeySQL(t *testing.T) {
	t.Run("missing key is not found", func(t *testing.T) {
		db, mock, mockDB := newMockGormDB(t)
		defer mockDB.Close()

		mock.ExpectQuery(`SELECT \* FROM "recognition_postings" WHERE idempotency_key = \$1`).
			WithArgs("ACME|AIR_SHIPMENT/AWB-1|INITIAL_WIP|t1", 1).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		_, err := NewGormPostingRepository(db).FindByIdempotencyKey(context.Background(), "ACME|AIR_SHIPMENT/AWB-1|INITIAL_WIP|t1")

		assert.ErrorIs(t, err, shared.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty create issues no statement", func(t *testing.T) {
		db, mock, mockDB := newMockGormDB(t)
		defer mockDB.Close()

		require.NoError(t, NewGormPostingRepository(db).Create(context.Background()))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
