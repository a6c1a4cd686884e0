package migration

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func expectTables(mock sqlmock.Sqlmock, missing map[string]bool) {
	for _, table := range RecognitionTables {
		rows := sqlmock.NewRows([]string{"to_regclass"})
		if missing[table] {
			rows.AddRow(nil)
		} else {
			rows.AddRow(table)
		}
		mock.ExpectQuery(`SELECT to_regclass\(\$1\)::text`).WithArgs(table).WillReturnRows(rows)
	}
}

func TestVerifySchema(t *testing.T) {
	t.Run("complete schema", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		expectTables(mock, nil)
		mock.ExpectQuery(`FROM pg_trigger`).WithArgs(PostingImmutableTrigger).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

		assert.NoError(t, VerifySchema(context.Background(), db))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("reports every problem", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		expectTables(mock, map[string]bool{"recognition_actuals": true})
		mock.ExpectQuery(`FROM pg_trigger`).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

		err = VerifySchema(context.Background(), db)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing table recognition_actuals")
		assert.Contains(t, err.Error(), "trigger "+PostingImmutableTrigger)
	})

	t.Run("query failure", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		boom := errors.New("connection refused")
		mock.ExpectQuery(`to_regclass`).WillReturnError(boom)

		assert.ErrorIs(t, VerifySchema(context.Background(), db), boom)
	})
}
