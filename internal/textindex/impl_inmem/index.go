// Package impl_inmem is an in-memory Index used in tests and selectable in
// sieve-server with --text-index=inmem. Nothing switches to it automatically
// when the Postgres-backed index is unavailable.
package impl_inmem

import (
	"context"
	"sort"
	"strings"
	"sync"
)

type entry struct {
	vendorID  string
	invoiceID string
	blob      string
	trigrams  map[string]struct{}
}

// Index is a mutex-guarded, process-local text index.
type Index struct {
	mu      sync.RWMutex
	byTenant map[string][]entry
}

// New creates an empty in-memory index.
func New() *Index {
	return &Index{byTenant: make(map[string][]entry)}
}

// Write implements textindex.Index.
func (idx *Index) Write(_ context.Context, tenantID, vendorID, invoiceID, blob string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	rows := idx.byTenant[tenantID]
	for i, e := range rows {
		if e.invoiceID == invoiceID {
			rows[i] = entry{vendorID: vendorID, invoiceID: invoiceID, blob: blob, trigrams: trigramSet(blob)}
			idx.byTenant[tenantID] = rows
			return nil
		}
	}
	idx.byTenant[tenantID] = append(rows, entry{vendorID: vendorID, invoiceID: invoiceID, blob: blob, trigrams: trigramSet(blob)})
	return nil
}

// NearText implements textindex.Index using 3-gram Jaccard similarity,
// ranking the same vendor's other invoices by similarity to query.
func (idx *Index) NearText(_ context.Context, tenantID, vendorID, selfInvoiceID, query string, limit int) ([]string, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	queryGrams := trigramSet(query)
	type scored struct {
		invoiceID string
		score     float64
	}
	var candidates []scored
	for _, e := range idx.byTenant[tenantID] {
		if e.vendorID != vendorID || e.invoiceID == selfInvoiceID {
			continue
		}
		candidates = append(candidates, scored{invoiceID: e.invoiceID, score: jaccard(queryGrams, e.trigrams)})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].invoiceID < candidates[j].invoiceID
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.invoiceID)
	}
	return out, nil
}

func trigramSet(s string) map[string]struct{} {
	s = strings.ToLower(s)
	set := make(map[string]struct{})
	if len(s) < 3 {
		if s != "" {
			set[s] = struct{}{}
		}
		return set
	}
	for i := 0; i+3 <= len(s); i++ {
		set[s[i:i+3]] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for g := range a {
		if _, ok := b[g]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
