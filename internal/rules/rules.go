// Package rules implements the Rule Engine (spec.md §4.7): deterministic
// rules evaluated against the query invoice, its top-1 candidate, and remit
// sightings, each contributing reason codes and a forced minimum decision
// label that is authoritative over score-only thresholds.
package rules

import (
	"time"

	"github.com/jimmc414/invoice-anomaly-detection-sieve/internal/domain"
	"github.com/jimmc414/invoice-anomaly-detection-sieve/internal/features"
)

// Reason codes emitted by mandatory rules.
const (
	ReasonExactInvnum    = "EXACT_INVNUM"
	ReasonSamePONearTotal = "SAME_PO_NEAR_TOTAL"
	ReasonPDFNearDup     = "PDF_NEAR_DUP"
	ReasonBankChange     = "BANK_CHANGE"
)

const (
	samePOTotalDiffMax = 0.005
	samePODaysDiffMax  = 30.0
	shingleJaccardMin  = 0.9
)

// BankChangeLookback is the 12-month recency window spec.md §4.7 defines for
// the bank-change rule. Callers resolve remitSeenRecently against this
// window themselves (see internal/orchestrator) before calling Evaluate.
const BankChangeLookback = 12 * 30 * 24 * time.Hour

// Engine evaluates the mandatory rule set. It makes no store calls itself:
// remitSeenRecently must be resolved by the caller against pre-ingest store
// state, since by the time Evaluate runs the orchestrator has already
// persisted the current request's own remit sighting (spec.md §5's
// single-transaction snapshot+lines+remit write), and a lookup here would
// always find it.
type Engine struct{}

// New constructs a rule Engine.
func New() *Engine {
	return &Engine{}
}

// Result is the Rule Engine's output: the accumulated reason codes and the
// strictest forced decision label across all fired rules.
type Result struct {
	ReasonCodes []string
	Forced      domain.DecisionLabel
}

// Evaluate runs every mandatory rule against the query invoice, its top-1
// candidate (top1 may be nil when there are no candidates), its feature
// vector against top1 (ignored when top1 is nil), the submitted
// shingle_jaccard (nil when not provided), and remitSeenRecently — whether
// query.RemitAccountHash (if present) was sighted within BankChangeLookback
// of now, excluding the current request's own sighting. Forced decisions
// default to PASS when no rule fires.
func (e *Engine) Evaluate(query domain.InvoiceSnapshot, top1 *domain.InvoiceSnapshot, top1Features features.Vector, shingleJaccard *float64, remitSeenRecently bool) Result {
	res := Result{Forced: domain.DecisionPass}

	if top1 != nil {
		if query.InvoiceNumberNorm != "" && query.InvoiceNumberNorm == top1.InvoiceNumberNorm {
			res.ReasonCodes = append(res.ReasonCodes, ReasonExactInvnum)
			res.Forced = domain.Stricter(res.Forced, domain.DecisionHold)
		}

		if query.PONumber != nil && top1.PONumber != nil && *query.PONumber == *top1.PONumber &&
			top1Features["abs_total_diff_pct"] <= samePOTotalDiffMax &&
			top1Features["days_diff"] <= samePODaysDiffMax {
			res.ReasonCodes = append(res.ReasonCodes, ReasonSamePONearTotal)
			res.Forced = domain.Stricter(res.Forced, domain.DecisionHold)
		}

		pdfDup := query.PDFHash != nil && top1.PDFHash != nil && *query.PDFHash == *top1.PDFHash
		jaccardDup := shingleJaccard != nil && *shingleJaccard >= shingleJaccardMin
		if pdfDup || jaccardDup {
			res.ReasonCodes = append(res.ReasonCodes, ReasonPDFNearDup)
			res.Forced = domain.Stricter(res.Forced, domain.DecisionHold)
		}
	}

	if query.RemitAccountHash != nil && !remitSeenRecently {
		res.ReasonCodes = append(res.ReasonCodes, ReasonBankChange)
		res.Forced = domain.Stricter(res.Forced, domain.DecisionReview)
	}

	return res
}
