// Package candidates implements the Candidate Retriever (spec.md §4.3): it
// returns up to candidate_cap historical invoices for the same vendor that
// match one of four structured blocking predicates, falls back to an
// optional near-text path when structured predicates under-fill the cap,
// and orders results by a fixed priority with most-recent-date tie-break.
package candidates

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/jimmc414/invoice-anomaly-detection-sieve/internal/domain"
	"github.com/jimmc414/invoice-anomaly-detection-sieve/internal/snapshotstore"
	"github.com/jimmc414/invoice-anomaly-detection-sieve/internal/textindex"
)

// DefaultCap is the candidate_cap config default (spec.md §6).
const DefaultCap = 200

// Retriever returns bounded candidate sets for a query invoice.
type Retriever struct {
	store   *snapshotstore.Store
	ex      snapshotstore.Execer
	textIdx textindex.Index // may be nil: near-text path is then always skipped
	log     *zap.Logger
}

// New constructs a Retriever. textIdx may be nil to disable the near-text
// fallback entirely (e.g. in tests that only exercise structured blocking).
func New(store *snapshotstore.Store, ex snapshotstore.Execer, textIdx textindex.Index, log *zap.Logger) *Retriever {
	return &Retriever{store: store, ex: ex, textIdx: textIdx, log: log}
}

// row is the self-contained sqlx destination for the structured candidate
// query; it deliberately duplicates snapshotstore's private row shape
// instead of reaching into that package's unexported types.
type row struct {
	TenantID           string          `db:"tenant_id"`
	InvoiceID          string          `db:"invoice_id"`
	VendorID           string          `db:"vendor_id"`
	VendorName         string          `db:"vendor_name"`
	InvoiceNumberRaw   string          `db:"invoice_number_raw"`
	InvoiceNumberNorm  string          `db:"invoice_number_norm"`
	InvoiceDate        time.Time       `db:"invoice_date"`
	Currency           string          `db:"currency"`
	Total              decimal.Decimal `db:"total"`
	TaxTotal           sql.NullString  `db:"tax_total"`
	PONumber           sql.NullString  `db:"po_number"`
	RemitAccountHash   sql.NullString  `db:"remit_account_hash"`
	RemitAccountMasked sql.NullString  `db:"remit_account_masked"`
	RemitName          sql.NullString  `db:"remit_name"`
	PDFHash            sql.NullString  `db:"pdf_hash"`
	Terms              sql.NullString  `db:"terms"`
	PayloadHash        string          `db:"payload_hash"`
	NormalizerVersion  string          `db:"normalizer_version"`
	CreatedAt          time.Time       `db:"created_at"`
	Priority           int             `db:"priority"`
}

func (r row) toSnapshot() domain.InvoiceSnapshot {
	out := domain.InvoiceSnapshot{
		TenantID:          r.TenantID,
		InvoiceID:         r.InvoiceID,
		VendorID:          r.VendorID,
		VendorName:        r.VendorName,
		InvoiceNumberRaw:  r.InvoiceNumberRaw,
		InvoiceNumberNorm: r.InvoiceNumberNorm,
		InvoiceDate:       r.InvoiceDate,
		Currency:          r.Currency,
		Total:             r.Total,
		PayloadHash:       r.PayloadHash,
		NormalizerVersion: r.NormalizerVersion,
		CreatedAt:         r.CreatedAt,
	}
	if r.TaxTotal.Valid {
		d, _ := decimal.NewFromString(r.TaxTotal.String)
		out.TaxTotal = &d
	}
	if r.PONumber.Valid {
		v := r.PONumber.String
		out.PONumber = &v
	}
	if r.RemitAccountHash.Valid {
		v := r.RemitAccountHash.String
		out.RemitAccountHash = &v
	}
	if r.RemitAccountMasked.Valid {
		v := r.RemitAccountMasked.String
		out.RemitAccountMasked = &v
	}
	if r.RemitName.Valid {
		v := r.RemitName.String
		out.RemitName = &v
	}
	if r.PDFHash.Valid {
		v := r.PDFHash.String
		out.PDFHash = &v
	}
	if r.Terms.Valid {
		v := r.Terms.String
		out.Terms = &v
	}
	return out
}

// structuredQuery ranks candidates into the four priority buckets spec.md
// §4.3 defines, using a CASE expression so a single round-trip produces a
// stably ordered, already-deduplicated result set.
const structuredQuery = `
	SELECT tenant_id, invoice_id, vendor_id, vendor_name, invoice_number_raw,
	       invoice_number_norm, invoice_date, currency, total, tax_total,
	       po_number, remit_account_hash, remit_account_masked, remit_name,
	       pdf_hash, terms, payload_hash, normalizer_version, created_at,
	       CASE
	           WHEN invoice_number_norm = $2 AND invoice_number_norm <> '' THEN 1
	           WHEN po_number IS NOT NULL AND po_number = $3 THEN 2
	           WHEN $4 IS NOT NULL AND round(total, 2) = $4
	                AND date_trunc('month', invoice_date) = date_trunc('month', $5::date) THEN 3
	           WHEN remit_account_hash IS NOT NULL AND remit_account_hash = $6 THEN 3
	           ELSE 4
	       END AS priority
	FROM invoice_snapshots
	WHERE tenant_id = $1 AND vendor_id = $7 AND invoice_id <> $8
	  AND (
	        (invoice_number_norm = $2 AND invoice_number_norm <> '')
	     OR (po_number IS NOT NULL AND po_number = $3)
	     OR ($4 IS NOT NULL AND round(total, 2) = $4 AND date_trunc('month', invoice_date) = date_trunc('month', $5::date))
	     OR (remit_account_hash IS NOT NULL AND remit_account_hash = $6)
	  )
	ORDER BY priority ASC, invoice_date DESC
	LIMIT $9`

// Retrieve implements the Candidate Retriever. queryTextBlob is the caller's
// already-computed normalize.TextBlob for query, used only by the near-text
// fallback. The returned slice is sorted by priority bucket then recency,
// capped at cap.
func (r *Retriever) Retrieve(ctx context.Context, tenantID string, query domain.InvoiceSnapshot, queryTextBlob string, cap int) ([]domain.InvoiceSnapshot, error) {
	if cap <= 0 {
		cap = DefaultCap
	}

	roundedTotal := query.Total.Round(2).StringFixed(2)

	var po interface{}
	if query.PONumber != nil {
		po = *query.PONumber
	}
	var remitHash interface{}
	if query.RemitAccountHash != nil {
		remitHash = *query.RemitAccountHash
	}

	var rows []row
	err := r.ex.SelectContext(ctx, &rows, structuredQuery,
		tenantID, query.InvoiceNumberNorm, po, roundedTotal, query.InvoiceDate, remitHash,
		query.VendorID, query.InvoiceID, cap)
	if err != nil {
		return nil, fmt.Errorf("retrieve candidates: %w", err)
	}

	out := make([]domain.InvoiceSnapshot, 0, len(rows))
	seen := make(map[string]struct{}, len(rows))
	for _, rr := range rows {
		out = append(out, rr.toSnapshot())
		seen[rr.InvoiceID] = struct{}{}
	}

	if len(out) >= cap || r.textIdx == nil {
		return out, nil
	}

	nearIDs, err := r.textIdx.NearText(ctx, tenantID, query.VendorID, query.InvoiceID, queryTextBlob, cap-len(out))
	if err != nil {
		// Best-effort: the near-text path is silently skipped on index
		// failure (spec.md §4.3), never fatal to the request.
		r.log.Warn("text index near-text lookup degraded", zap.Error(err))
		return out, nil
	}

	for _, id := range nearIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		snap, err := r.store.LoadInvoiceRow(ctx, r.ex, tenantID, id)
		if err != nil {
			continue
		}
		out = append(out, *snap)
		seen[id] = struct{}{}
		if len(out) >= cap {
			break
		}
	}
	return out, nil
}
