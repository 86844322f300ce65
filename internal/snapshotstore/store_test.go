package snapshotstore

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jimmc414/invoice-anomaly-detection-sieve/internal/domain"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "postgres")
	return New(sqlxDB, zap.NewNop()), mock, func() { db.Close() }
}

func TestUpsertInvoiceIdempotentNoOpOnConflict(t *testing.T) {
	store, mock, closeFn := newMockStore(t)
	defer closeFn()

	snap := domain.InvoiceSnapshot{
		TenantID:          "t1",
		InvoiceID:         "inv-1",
		VendorID:          "v1",
		VendorName:        "Acme",
		InvoiceNumberRaw:  "1",
		InvoiceNumberNorm: "1",
		InvoiceDate:       time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Currency:          "USD",
		Total:             decimal.RequireFromString("100.00"),
		PayloadHash:       "hash1",
		NormalizerVersion: "normalize-v1",
		CreatedAt:         time.Now(),
	}
	lines := []domain.InvoiceLine{
		{TenantID: "t1", InvoiceID: "inv-1", LineNo: 1, Desc: "a", Qty: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(1), Amount: decimal.NewFromInt(1)},
	}

	mock.ExpectExec("INSERT INTO invoice_snapshots").WillReturnResult(sqlmock.NewResult(0, 0))

	created, err := store.UpsertInvoice(context.Background(), store.db, snap, lines)
	require.NoError(t, err)
	require.False(t, created, "second call with same key must be a no-op")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertInvoiceInsertsLinesOnFirstWrite(t *testing.T) {
	store, mock, closeFn := newMockStore(t)
	defer closeFn()

	snap := domain.InvoiceSnapshot{
		TenantID: "t1", InvoiceID: "inv-2", VendorID: "v1", VendorName: "Acme",
		InvoiceNumberRaw: "2", InvoiceNumberNorm: "2",
		InvoiceDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), Currency: "USD",
		Total: decimal.RequireFromString("50.00"), PayloadHash: "hash2",
		NormalizerVersion: "normalize-v1", CreatedAt: time.Now(),
	}
	lines := []domain.InvoiceLine{
		{TenantID: "t1", InvoiceID: "inv-2", LineNo: 1, Desc: "a", Qty: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(1), Amount: decimal.NewFromInt(1)},
		{TenantID: "t1", InvoiceID: "inv-2", LineNo: 2, Desc: "b", Qty: decimal.NewFromInt(2), UnitPrice: decimal.NewFromInt(2), Amount: decimal.NewFromInt(4)},
	}

	mock.ExpectExec("INSERT INTO invoice_snapshots").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO invoice_lines").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO invoice_lines").WillReturnResult(sqlmock.NewResult(1, 1))

	created, err := store.UpsertInvoice(context.Background(), store.db, snap, lines)
	require.NoError(t, err)
	require.True(t, created)
	require.NoError(t, mock.ExpectationsWereMet())
}
