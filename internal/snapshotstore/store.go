// Package snapshotstore is the Snapshot Store component of spec.md §4.2: it
// persists immutable invoice snapshots, lines, vendor remit sightings, and
// decisions against Postgres via sqlx, and provides WithTx for the
// transaction boundaries spec.md §5 requires (snapshot+lines+remit in one
// transaction, decision+case+audit in another). Cases and audit entries are
// written by internal/cases and internal/auditlog inside that transaction.
package snapshotstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/jimmc414/invoice-anomaly-detection-sieve/internal/domain"
	"github.com/jimmc414/invoice-anomaly-detection-sieve/pkg/sieveerrors"
)

// Execer is satisfied by both *sqlx.DB and *sqlx.Tx, letting every method
// below run either standalone or inside a caller-managed transaction.
type Execer interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// Store is the Postgres-backed Snapshot Store.
type Store struct {
	db  *sqlx.DB
	log *zap.Logger
}

// New wraps an already-connected *sqlx.DB. Connection setup (DSN, pool
// sizing) is the caller's responsibility (cmd/sieve-server).
func New(db *sqlx.DB, log *zap.Logger) *Store {
	return &Store{db: db, log: log}
}

// DB exposes the underlying *sqlx.DB as an Execer, for callers that need a
// non-transactional handle (single-statement reads outside any of the
// grouped-write transactions WithTx governs).
func (s *Store) DB() Execer {
	return s.db
}

// WithTx runs fn inside a single transaction, committing on success and
// rolling back on error or panic. This is the only way callers should group
// the multi-row writes spec.md §5 requires to be atomic.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", sieveerrors.ErrStoreUnavailable, err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err = fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit tx: %v", sieveerrors.ErrStoreUnavailable, err)
	}
	return nil
}

// UpsertInvoice inserts the snapshot and its lines if (tenant_id,
// invoice_id) does not already exist. A second call with the same key is a
// no-op on both tables (spec.md §4.2) and reports created=false.
func (s *Store) UpsertInvoice(ctx context.Context, ex Execer, snap domain.InvoiceSnapshot, lines []domain.InvoiceLine) (created bool, err error) {
	const insertSnap = `
		INSERT INTO invoice_snapshots (
			tenant_id, invoice_id, vendor_id, vendor_name,
			invoice_number_raw, invoice_number_norm, invoice_date, currency,
			total, tax_total, po_number, remit_account_hash, remit_account_masked,
			remit_name, pdf_hash, terms, payload_hash, normalizer_version, created_at
		) VALUES (
			:tenant_id, :invoice_id, :vendor_id, :vendor_name,
			:invoice_number_raw, :invoice_number_norm, :invoice_date, :currency,
			:total, :tax_total, :po_number, :remit_account_hash, :remit_account_masked,
			:remit_name, :pdf_hash, :terms, :payload_hash, :normalizer_version, :created_at
		)
		ON CONFLICT (tenant_id, invoice_id) DO NOTHING`

	res, err := sqlx.NamedExecContext(ctx, ex, insertSnap, snapRow(snap))
	if err != nil {
		return false, fmt.Errorf("%w: insert snapshot: %v", sieveerrors.ErrStoreUnavailable, err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		// Snapshot already existed: lines must already exist too, per the
		// invariant that a snapshot and its lines are written together.
		return false, nil
	}

	const insertLine = `
		INSERT INTO invoice_lines (
			tenant_id, invoice_id, line_no, description, qty, unit_price, amount,
			sku, gl_code, cost_center
		) VALUES (
			:tenant_id, :invoice_id, :line_no, :description, :qty, :unit_price, :amount,
			:sku, :gl_code, :cost_center
		)
		ON CONFLICT (tenant_id, invoice_id, line_no) DO NOTHING`

	for _, line := range lines {
		if _, err := sqlx.NamedExecContext(ctx, ex, insertLine, lineRowFrom(line)); err != nil {
			return false, fmt.Errorf("%w: insert line %d: %v", sieveerrors.ErrStoreUnavailable, line.LineNo, err)
		}
	}
	return true, nil
}

// UpsertRemitSighting implements spec.md §4.2 upsert_remit_sighting:
// inserts a first_seen=last_seen=now row if absent, otherwise refreshes
// last_seen. Sighting counts (implicit via first_seen/last_seen) are
// monotonic non-decreasing by construction. created reports whether this
// call inserted the row (the account had no prior sighting for this
// vendor), the same way UpsertInvoice reports created for the snapshot
// table — the anomaly scorer's "ever seen" bank-change check uses this
// return directly instead of a separate existence query.
func (s *Store) UpsertRemitSighting(ctx context.Context, ex Execer, tenantID, vendorID, accountHash string, name *string, now time.Time) (created bool, err error) {
	const q = `
		INSERT INTO vendor_remit_sightings (tenant_id, vendor_id, remit_account_hash, remit_name, first_seen, last_seen)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (tenant_id, vendor_id, remit_account_hash)
		DO UPDATE SET last_seen = GREATEST(vendor_remit_sightings.last_seen, EXCLUDED.last_seen)
		RETURNING (xmax = 0) AS inserted`
	if gerr := ex.GetContext(ctx, &created, q, tenantID, vendorID, accountHash, name, now); gerr != nil {
		return false, fmt.Errorf("%w: upsert remit sighting: %v", sieveerrors.ErrStoreUnavailable, gerr)
	}
	return created, nil
}

// HasRecentRemitSighting reports whether (tenant, vendor, accountHash) has
// been sighted at or after since — used by the bank-change rule's 12-month
// lookback window. Must be called before UpsertRemitSighting runs for the
// same request: that call bumps last_seen to now, which would always
// satisfy last_seen >= since and mask a genuinely new or stale account.
func (s *Store) HasRecentRemitSighting(ctx context.Context, ex Execer, tenantID, vendorID, accountHash string, since time.Time) (bool, error) {
	const q = `
		SELECT count(*) FROM vendor_remit_sightings
		WHERE tenant_id = $1 AND vendor_id = $2 AND remit_account_hash = $3 AND last_seen >= $4`
	var n int
	if err := ex.GetContext(ctx, &n, q, tenantID, vendorID, accountHash, since); err != nil {
		return false, fmt.Errorf("%w: lookup recent remit sighting: %v", sieveerrors.ErrStoreUnavailable, err)
	}
	return n > 0, nil
}

// LoadInvoiceRow implements spec.md §4.2 load_invoice_row.
func (s *Store) LoadInvoiceRow(ctx context.Context, ex Execer, tenantID, invoiceID string) (*domain.InvoiceSnapshot, error) {
	const q = `
		SELECT tenant_id, invoice_id, vendor_id, vendor_name, invoice_number_raw,
		       invoice_number_norm, invoice_date, currency, total, tax_total,
		       po_number, remit_account_hash, remit_account_masked, remit_name,
		       pdf_hash, terms, payload_hash, normalizer_version, created_at
		FROM invoice_snapshots WHERE tenant_id = $1 AND invoice_id = $2`
	var row snapshotRow
	if err := ex.GetContext(ctx, &row, q, tenantID, invoiceID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sieveerrors.ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("%w: load invoice row: %v", sieveerrors.ErrStoreUnavailable, err)
	}
	out := row.toDomain()
	return &out, nil
}

// LoadLines implements spec.md §4.2 load_lines, ordered by line_no.
func (s *Store) LoadLines(ctx context.Context, ex Execer, tenantID, invoiceID string) ([]domain.InvoiceLine, error) {
	const q = `
		SELECT tenant_id, invoice_id, line_no, description, qty, unit_price, amount,
		       sku, gl_code, cost_center
		FROM invoice_lines WHERE tenant_id = $1 AND invoice_id = $2
		ORDER BY line_no ASC`
	var rows []lineRow
	if err := ex.SelectContext(ctx, &rows, q, tenantID, invoiceID); err != nil {
		return nil, fmt.Errorf("%w: load lines: %v", sieveerrors.ErrStoreUnavailable, err)
	}
	out := make([]domain.InvoiceLine, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// PersistDecision implements spec.md §4.2 persist_decision. Decisions are
// append-only: no UPDATE path exists for this table.
func (s *Store) PersistDecision(ctx context.Context, ex Execer, d domain.Decision) error {
	const q = `
		INSERT INTO decisions (
			tenant_id, decision_id, invoice_id, model_id, model_version, ruleset_version,
			risk_score, label, reason_codes, top_matches, explanations, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`
	topMatchesJSON, explanationsJSON, err := encodeDecisionBlobs(d)
	if err != nil {
		return fmt.Errorf("encode decision blobs: %w", err)
	}
	_, err = ex.ExecContext(ctx, q,
		d.TenantID, d.DecisionID, d.InvoiceID, d.ModelID, d.ModelVersion, d.RulesetVersion,
		d.RiskScore.StringFixed(2), string(d.Label), pq.Array(d.ReasonCodes),
		topMatchesJSON, explanationsJSON, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("%w: insert decision: %v", sieveerrors.ErrStoreUnavailable, err)
	}
	return nil
}

// LatestDecision returns the most recent decision for an invoice (newest
// created_at first, spec.md §5 ordering guarantee).
func (s *Store) LatestDecision(ctx context.Context, ex Execer, tenantID, invoiceID string) (*domain.Decision, error) {
	const q = `
		SELECT tenant_id, decision_id, invoice_id, model_id, model_version, ruleset_version,
		       risk_score, label, reason_codes, top_matches, explanations, created_at
		FROM decisions WHERE tenant_id = $1 AND invoice_id = $2
		ORDER BY created_at DESC LIMIT 1`
	var row decisionRow
	if err := ex.GetContext(ctx, &row, q, tenantID, invoiceID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sieveerrors.ErrDecisionNotFound
		}
		return nil, fmt.Errorf("%w: load decision: %v", sieveerrors.ErrStoreUnavailable, err)
	}
	out, err := row.toDomain()
	if err != nil {
		return nil, fmt.Errorf("decode decision row: %w", err)
	}
	return &out, nil
}
