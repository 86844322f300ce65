// Package textindex defines the Text Indexer component (spec.md §4.3): a
// normalized text blob is written per invoice, and consulted by the
// Candidate Retriever's optional near-text path only when structured
// blocking predicates under-fill the candidate cap. Every write and query
// is best-effort: failures are logged, never fatal (spec.md §7).
package textindex

import "context"

// Index is implemented by impl_inmem (process-local, used in tests and
// selectable with --text-index=inmem) and impl_postgres (pg_trgm-backed
// similarity search).
type Index interface {
	// Write indexes the blob for (tenant, vendor, invoice). Overwrites any
	// prior blob for the same invoice (the spec treats the blob as a pure
	// function of current input, not an append log).
	Write(ctx context.Context, tenantID, vendorID, invoiceID, blob string) error

	// NearText returns up to limit invoice IDs for the same vendor whose
	// indexed blob is most textually similar to query, excluding self.
	// Implementations return an empty result with a nil error rather than
	// erroring when the index itself is healthy but has no eligible rows.
	NearText(ctx context.Context, tenantID, vendorID, selfInvoiceID, query string, limit int) ([]string, error)
}
