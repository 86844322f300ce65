// Package cases implements the Case Manager (spec.md §4.9): opens or
// refreshes a review case for HOLD/REVIEW decisions, leaves PASS invoices
// untouched, and never overwrites a disposition once it is set.
package cases

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jimmc414/invoice-anomaly-detection-sieve/internal/domain"
	"github.com/jimmc414/invoice-anomaly-detection-sieve/pkg/clock"
	"github.com/jimmc414/invoice-anomaly-detection-sieve/pkg/sieveerrors"
)

// SLADuration is the default time-to-resolve window for an opened case.
const SLADuration = 48 * time.Hour

// Execer is satisfied by *sqlx.DB and *sqlx.Tx.
type Execer interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// Manager is the Case Manager.
type Manager struct {
	clk clock.Clock
}

// New constructs a Manager.
func New(clk clock.Clock) *Manager {
	return &Manager{clk: clk}
}

// UpsertForDecision opens a case for invoiceID when label is HOLD or
// REVIEW, and is a no-op for PASS. Calling it again for an already-open
// case is idempotent: it does not reset sla_due or touch an existing
// disposition.
func (m *Manager) UpsertForDecision(ctx context.Context, ex Execer, tenantID, invoiceID string, label domain.DecisionLabel) (*domain.Case, error) {
	if label == domain.DecisionPass {
		return nil, nil
	}

	existing, err := m.loadOpenCase(ctx, ex, tenantID, invoiceID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	now := m.clk.Now()
	c := domain.Case{
		TenantID:  tenantID,
		CaseID:    uuid.NewString(),
		InvoiceID: invoiceID,
		Status:    domain.CaseOpen,
		SLADue:    now.Add(SLADuration),
		CreatedAt: now,
		UpdatedAt: now,
	}

	const q = `
		INSERT INTO cases (tenant_id, case_id, invoice_id, status, sla_due, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := ex.ExecContext(ctx, q, c.TenantID, c.CaseID, c.InvoiceID, string(c.Status), c.SLADue, c.CreatedAt, c.UpdatedAt); err != nil {
		return nil, fmt.Errorf("%w: insert case: %v", sieveerrors.ErrStoreUnavailable, err)
	}
	return &c, nil
}

func (m *Manager) loadOpenCase(ctx context.Context, ex Execer, tenantID, invoiceID string) (*domain.Case, error) {
	const q = `
		SELECT tenant_id, case_id, invoice_id, status, sla_due,
		       disposition_user, disposition_at, disposition_label, disposition_notes,
		       created_at, updated_at
		FROM cases WHERE tenant_id = $1 AND invoice_id = $2 AND status = 'OPEN'`
	var row caseRow
	if err := ex.GetContext(ctx, &row, q, tenantID, invoiceID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: load case: %v", sieveerrors.ErrStoreUnavailable, err)
	}
	out := row.toDomain()
	return &out, nil
}

// Dispose closes an open case with a disposition. Disposition fields are
// immutable once set: a second call against an already-disposed case
// returns sieveerrors.ErrCaseAlreadyDisposed rather than overwriting it.
func (m *Manager) Dispose(ctx context.Context, ex Execer, tenantID, caseID, user, label, notes string) error {
	const selectQ = `SELECT status, disposition_user FROM cases WHERE tenant_id = $1 AND case_id = $2`
	var row struct {
		Status            string         `db:"status"`
		DispositionUser   sql.NullString `db:"disposition_user"`
	}
	if err := ex.GetContext(ctx, &row, selectQ, tenantID, caseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sieveerrors.ErrInvoiceNotFound
		}
		return fmt.Errorf("%w: load case for disposition: %v", sieveerrors.ErrStoreUnavailable, err)
	}
	if row.Status == string(domain.CaseClosed) || row.DispositionUser.Valid {
		return sieveerrors.ErrCaseAlreadyDisposed
	}

	now := m.clk.Now()
	const q = `
		UPDATE cases SET status = $1, disposition_user = $2, disposition_at = $3,
		       disposition_label = $4, disposition_notes = $5, updated_at = $3
		WHERE tenant_id = $6 AND case_id = $7`
	if _, err := ex.ExecContext(ctx, q, string(domain.CaseClosed), user, now, label, notes, tenantID, caseID); err != nil {
		return fmt.Errorf("%w: dispose case: %v", sieveerrors.ErrStoreUnavailable, err)
	}
	return nil
}

type caseRow struct {
	TenantID          string         `db:"tenant_id"`
	CaseID            string         `db:"case_id"`
	InvoiceID         string         `db:"invoice_id"`
	Status            string         `db:"status"`
	SLADue            time.Time      `db:"sla_due"`
	DispositionUser   sql.NullString `db:"disposition_user"`
	DispositionAt     sql.NullTime   `db:"disposition_at"`
	DispositionLabel  sql.NullString `db:"disposition_label"`
	DispositionNotes  sql.NullString `db:"disposition_notes"`
	CreatedAt         time.Time      `db:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at"`
}

func (r caseRow) toDomain() domain.Case {
	out := domain.Case{
		TenantID:  r.TenantID,
		CaseID:    r.CaseID,
		InvoiceID: r.InvoiceID,
		Status:    domain.CaseStatus(r.Status),
		SLADue:    r.SLADue,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.DispositionUser.Valid {
		out.Disposition = &domain.CaseDisposition{
			User:      r.DispositionUser.String,
			Timestamp: r.DispositionAt.Time,
			Label:     r.DispositionLabel.String,
			Notes:     r.DispositionNotes.String,
		}
	}
	return out
}
