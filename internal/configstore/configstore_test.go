package configstore

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newStoreFixture(t *testing.T) (*Store, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "postgres")
	return New(sqlxDB, zap.NewNop()), mock, func() { db.Close() }
}

func TestGetPrefersVendorScopeOverGlobal(t *testing.T) {
	store, mock, closeFn := newStoreFixture(t)
	defer closeFn()

	mock.ExpectQuery("SELECT value FROM config_values").
		WithArgs("t1", VendorScope("v1"), "t_hold").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("85"))

	v, found, err := store.Get(context.Background(), "t1", "v1", "t_hold")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "85", v)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetFallsBackToGlobalWhenVendorScopeAbsent(t *testing.T) {
	store, mock, closeFn := newStoreFixture(t)
	defer closeFn()

	mock.ExpectQuery("SELECT value FROM config_values").
		WithArgs("t1", VendorScope("v1"), "t_hold").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT value FROM config_values").
		WithArgs("t1", GlobalScope, "t_hold").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("80"))

	v, found, err := store.Get(context.Background(), "t1", "v1", "t_hold")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "80", v)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetFloatUsesDefaultWhenAbsentEverywhere(t *testing.T) {
	store, mock, closeFn := newStoreFixture(t)
	defer closeFn()

	mock.ExpectQuery("SELECT value FROM config_values").WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT value FROM config_values").WillReturnError(sql.ErrNoRows)

	f, err := store.GetFloat(context.Background(), "t1", "v1", "t_review", 50)
	require.NoError(t, err)
	assert.Equal(t, 50.0, f)
}

func TestGetCachesAcrossCalls(t *testing.T) {
	store, mock, closeFn := newStoreFixture(t)
	defer closeFn()

	mock.ExpectQuery("SELECT value FROM config_values").
		WithArgs("t1", VendorScope("v1"), "t_hold").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("85"))

	_, _, err := store.Get(context.Background(), "t1", "v1", "t_hold")
	require.NoError(t, err)
	v, found, err := store.Get(context.Background(), "t1", "v1", "t_hold")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "85", v)
	require.NoError(t, mock.ExpectationsWereMet())
}
