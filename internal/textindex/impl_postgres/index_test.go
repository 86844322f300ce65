package impl_postgres

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newIndexFixture(t *testing.T) (*Index, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "postgres")
	return New(sqlxDB, zap.NewNop()), mock, func() { db.Close() }
}

func TestWriteUpsertsBlob(t *testing.T) {
	idx, mock, closeFn := newIndexFixture(t)
	defer closeFn()

	mock.ExpectExec("INSERT INTO text_index_blobs").
		WithArgs("t1", "v1", "inv-1", "printer ink black").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := idx.Write(context.Background(), "t1", "v1", "inv-1", "printer ink black")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNearTextOrdersBySimilarityThenInvoiceID(t *testing.T) {
	idx, mock, closeFn := newIndexFixture(t)
	defer closeFn()

	mock.ExpectQuery("SELECT invoice_id FROM text_index_blobs").
		WithArgs("t1", "v1", "inv-query", "printer ink black", 5).
		WillReturnRows(sqlmock.NewRows([]string{"invoice_id"}).AddRow("inv-1").AddRow("inv-2"))

	ids, err := idx.NearText(context.Background(), "t1", "v1", "inv-query", "printer ink black", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"inv-1", "inv-2"}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}
