package cases

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jimmc414/invoice-anomaly-detection-sieve/internal/domain"
	"github.com/jimmc414/invoice-anomaly-detection-sieve/pkg/clock"
)

func newMgrFixture(t *testing.T) (*Manager, sqlmock.Sqlmock, *sqlx.DB, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "postgres")
	clk := clock.FixedClock{T: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	return New(clk), mock, sqlxDB, func() { db.Close() }
}

func TestUpsertForDecisionPassIsNoOp(t *testing.T) {
	mgr, mock, db, closeFn := newMgrFixture(t)
	defer closeFn()

	c, err := mgr.UpsertForDecision(context.Background(), db, "t1", "inv-1", domain.DecisionPass)
	require.NoError(t, err)
	assert.Nil(t, c)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertForDecisionOpensNewCaseOnHold(t *testing.T) {
	mgr, mock, db, closeFn := newMgrFixture(t)
	defer closeFn()

	mock.ExpectQuery("SELECT (.|\\n)*FROM cases").WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO cases").WillReturnResult(sqlmock.NewResult(1, 1))

	c, err := mgr.UpsertForDecision(context.Background(), db, "t1", "inv-1", domain.DecisionHold)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, domain.CaseOpen, c.Status)
	assert.Equal(t, time.Date(2026, 1, 3, 12, 0, 0, 0, time.UTC), c.SLADue)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertForDecisionReusesExistingOpenCase(t *testing.T) {
	mgr, mock, db, closeFn := newMgrFixture(t)
	defer closeFn()

	cols := []string{"tenant_id", "case_id", "invoice_id", "status", "sla_due",
		"disposition_user", "disposition_at", "disposition_label", "disposition_notes",
		"created_at", "updated_at"}
	mock.ExpectQuery("SELECT (.|\\n)*FROM cases").WillReturnRows(
		sqlmock.NewRows(cols).AddRow("t1", "case-1", "inv-1", "OPEN", time.Now(),
			nil, nil, nil, nil, time.Now(), time.Now()))

	c, err := mgr.UpsertForDecision(context.Background(), db, "t1", "inv-1", domain.DecisionReview)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "case-1", c.CaseID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDisposeRejectsAlreadyDisposedCase(t *testing.T) {
	mgr, mock, db, closeFn := newMgrFixture(t)
	defer closeFn()

	mock.ExpectQuery("SELECT status, disposition_user FROM cases").WillReturnRows(
		sqlmock.NewRows([]string{"status", "disposition_user"}).AddRow("CLOSED", "alice"))

	err := mgr.Dispose(context.Background(), db, "t1", "case-1", "bob", "FALSE_POSITIVE", "checked")
	require.Error(t, err)
}
