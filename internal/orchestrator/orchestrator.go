// Package orchestrator implements the Scoring Orchestrator (spec.md §4.11):
// the request-scoped driver that wires the Normalizer, Snapshot Store, Text
// Indexer, Candidate Retriever, Feature Engine, Duplicate Scorer, Anomaly
// Scorer, Rule Engine, Decision Engine, Case Manager, and Audit Log into a
// single synchronous scoring pipeline.
package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/jimmc414/invoice-anomaly-detection-sieve/internal/anomaly"
	"github.com/jimmc414/invoice-anomaly-detection-sieve/internal/auditlog"
	"github.com/jimmc414/invoice-anomaly-detection-sieve/internal/candidates"
	"github.com/jimmc414/invoice-anomaly-detection-sieve/internal/cases"
	"github.com/jimmc414/invoice-anomaly-detection-sieve/internal/decision"
	"github.com/jimmc414/invoice-anomaly-detection-sieve/internal/domain"
	"github.com/jimmc414/invoice-anomaly-detection-sieve/internal/dupscore"
	"github.com/jimmc414/invoice-anomaly-detection-sieve/internal/features"
	"github.com/jimmc414/invoice-anomaly-detection-sieve/internal/normalize"
	"github.com/jimmc414/invoice-anomaly-detection-sieve/internal/rules"
	"github.com/jimmc414/invoice-anomaly-detection-sieve/internal/snapshotstore"
	"github.com/jimmc414/invoice-anomaly-detection-sieve/internal/textindex"
	"github.com/jimmc414/invoice-anomaly-detection-sieve/pkg/clock"
	"github.com/jimmc414/invoice-anomaly-detection-sieve/pkg/sieveerrors"
)

// ReasonDataQualityCheckFail is appended when the submitted line amounts
// don't reconcile with the header total beyond tolerance (spec.md §7).
const ReasonDataQualityCheckFail = "DATA_QUALITY_CHECK_FAIL"

// dataQualityTolerance bounds |sum(line.amount) - total| / max(|total|,1)
// before a submission is flagged as a data-quality warning rather than
// rejected outright.
const dataQualityTolerance = 0.02

// candidateConcurrency bounds how many candidates are feature-scored in
// parallel per request, to cap database and CPU load under fan-out
// (spec.md §4.12).
const candidateConcurrency = 8

// RulesetVersion is recorded on every Decision so degraded/legacy rule
// evaluations are reconstructible.
const RulesetVersion = "rules-v1"

// TopK is how many top candidates are retained on the Decision.
const TopK = 3

// Orchestrator wires every scoring-core component into one request path.
type Orchestrator struct {
	store      *snapshotstore.Store
	textIdx    textindex.Index
	retriever  *candidates.Retriever
	anomalyS   *anomaly.Scorer
	ruleEngine *rules.Engine
	scorer     *dupscore.Scorer
	decisionE  *decision.Engine
	caseMgr    *cases.Manager
	audit      *auditlog.Log
	clk        clock.Clock
	log        *zap.Logger
}

// Config bundles the constructed collaborators an Orchestrator wires
// together; every field except TextIndex is required. A nil TextIndex skips
// the text-index write.
type Config struct {
	Store      *snapshotstore.Store
	TextIndex  textindex.Index
	Retriever  *candidates.Retriever
	Anomaly    *anomaly.Scorer
	Rules      *rules.Engine
	DupScorer  *dupscore.Scorer
	Decision   *decision.Engine
	Cases      *cases.Manager
	Audit      *auditlog.Log
	Clock      clock.Clock
	Log        *zap.Logger
}

// New constructs an Orchestrator from cfg.
func New(cfg Config) *Orchestrator {
	return &Orchestrator{
		store: cfg.Store, textIdx: cfg.TextIndex, retriever: cfg.Retriever,
		anomalyS: cfg.Anomaly, ruleEngine: cfg.Rules,
		scorer: cfg.DupScorer, decisionE: cfg.Decision, caseMgr: cfg.Cases,
		audit: cfg.Audit, clk: cfg.Clock, log: cfg.Log,
	}
}

// Result is the Scoring Orchestrator's output, shaped directly for the
// POST /scoreInvoice response body.
type Result struct {
	RiskScore    decimal.Decimal
	Decision     domain.DecisionLabel
	ReasonCodes  []string
	TopMatches   []domain.TopMatch
	Explanations []domain.Explanation
}

type candidateResult struct {
	invoiceID string
	snapshot  domain.InvoiceSnapshot
	vector    features.Vector
	dupProb   float64
}

// Score runs the full scoring pipeline for in, authenticated for tenantID
// with actor recorded on the audit trail.
func (o *Orchestrator) Score(ctx context.Context, tenantID, actor string, in domain.InvoiceIn) (Result, error) {
	snap, lines, err := buildSnapshot(tenantID, in)
	if err != nil {
		return Result{}, err
	}
	snap.CreatedAt = o.clk.Now()

	dqReasons := dataQualityReasons(snap, lines)

	// Resolve the remit account's pre-ingest sighting history before
	// persistIngest writes the current request's own sighting: spec.md §5
	// requires snapshot+lines+remit to commit in one transaction, so this
	// fact can only be read "before", never reconstructed "after".
	var remitSeenRecently bool
	if snap.RemitAccountHash != nil {
		since := o.clk.Now().Add(-rules.BankChangeLookback)
		remitSeenRecently, err = o.store.HasRecentRemitSighting(ctx, o.store2DB(), tenantID, snap.VendorID, *snap.RemitAccountHash, since)
		if err != nil {
			return Result{}, err
		}
	}

	remitCreated, err := o.persistIngest(ctx, snap, lines, in)
	if err != nil {
		return Result{}, err
	}
	remitSeenBefore := snap.RemitAccountHash != nil && !remitCreated

	queryRow, err := o.store.LoadInvoiceRow(ctx, o.store2DB(), tenantID, snap.InvoiceID)
	if err != nil {
		return Result{}, err
	}

	queryBlob := normalize.TextBlob(in)
	candList, err := o.retriever.Retrieve(ctx, tenantID, *queryRow, queryBlob, candidates.DefaultCap)
	if err != nil {
		return Result{}, err
	}

	results, err := o.scoreCandidates(ctx, tenantID, *queryRow, candList)
	if err != nil {
		return Result{}, err
	}

	top := selectTopK(results, TopK)

	var top1Snap *domain.InvoiceSnapshot
	var top1Vec features.Vector
	if len(top) > 0 {
		top1Snap = &top[0].snapshot
		top1Vec = top[0].vector
	}

	anomProb, anomReasons, err := o.anomalyS.Score(ctx, tenantID, queryRow.VendorID, queryRow.Total, queryRow.RemitAccountHash, remitSeenBefore)
	if err != nil {
		return Result{}, err
	}

	ruleResult := o.ruleEngine.Evaluate(*queryRow, top1Snap, top1Vec, in.ShingleJaccard, remitSeenRecently)

	forced := ruleResult.Forced
	if len(dqReasons) > 0 {
		forced = domain.Stricter(forced, domain.DecisionReview)
	}

	textDupProb := 0.0
	if top1Vec != nil {
		textDupProb = top1Vec["text_cosine"]
	}
	bankChange := containsString(anomReasons, anomaly.ReasonBankChange)

	riskScore, label, err := o.decisionE.Resolve(ctx, tenantID, queryRow.VendorID, dupProbOf(top), anomProb, textDupProb, bankChange, forced)
	if err != nil {
		return Result{}, err
	}

	reasonCodes := mergeReasons(ruleResult.ReasonCodes, anomReasons, dqReasons)
	topMatches := toTopMatches(top)
	explanations := toExplanations(top1Vec)

	dec := domain.Decision{
		TenantID:       tenantID,
		DecisionID:     newDecisionID(),
		InvoiceID:      snap.InvoiceID,
		ModelID:        o.scorer.ModelID(),
		ModelVersion:   o.scorer.ModelVersion(),
		RulesetVersion: RulesetVersion,
		RiskScore:      riskScore,
		Label:          label,
		ReasonCodes:    reasonCodes,
		TopMatches:     topMatches,
		Explanations:   explanations,
		CreatedAt:      o.clk.Now(),
	}

	if err := o.persistOutcome(ctx, tenantID, actor, dec); err != nil {
		return Result{}, err
	}

	return Result{
		RiskScore: dec.RiskScore, Decision: dec.Label, ReasonCodes: dec.ReasonCodes,
		TopMatches: dec.TopMatches, Explanations: dec.Explanations,
	}, nil
}

// store2DB exposes the underlying *sqlx.DB for single-statement, non-
// transactional reads; every multi-row write path below uses
// store.WithTx/an explicit *sqlx.Tx instead.
func (o *Orchestrator) store2DB() snapshotstore.Execer {
	return o.store.DB()
}

// persistIngest commits the snapshot, lines, and (if present) remit sighting
// in one transaction, and reports whether the remit sighting was newly
// created (absent before this call) so the caller can resolve
// remitSeenBefore without a post-commit lookup that would always find it.
func (o *Orchestrator) persistIngest(ctx context.Context, snap domain.InvoiceSnapshot, lines []domain.InvoiceLine, in domain.InvoiceIn) (remitCreated bool, err error) {
	err = o.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := o.store.UpsertInvoice(ctx, tx, snap, lines); err != nil {
			return err
		}
		if snap.RemitAccountHash != nil {
			created, err := o.store.UpsertRemitSighting(ctx, tx, snap.TenantID, snap.VendorID, *snap.RemitAccountHash, snap.RemitName, o.clk.Now())
			if err != nil {
				return err
			}
			remitCreated = created
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	if o.textIdx != nil {
		blob := normalize.TextBlob(in)
		if werr := o.textIdx.Write(ctx, snap.TenantID, snap.VendorID, snap.InvoiceID, blob); werr != nil {
			o.log.Warn("text index write degraded", zap.Error(werr), zap.String("invoice_id", snap.InvoiceID))
		}
	}
	return remitCreated, nil
}

func (o *Orchestrator) persistOutcome(ctx context.Context, tenantID, actor string, dec domain.Decision) error {
	return o.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := o.store.PersistDecision(ctx, tx, dec); err != nil {
			return err
		}
		if _, err := o.caseMgr.UpsertForDecision(ctx, tx, tenantID, dec.InvoiceID, dec.Label); err != nil {
			return err
		}
		summary := fmt.Sprintf("risk_score=%s label=%s reasons=%v", dec.RiskScore.String(), dec.Label, dec.ReasonCodes)
		if _, err := o.audit.Append(ctx, tx, tenantID, actor, auditlog.ActionScore, auditlog.EntityInvoice, dec.InvoiceID, summary); err != nil {
			return err
		}
		return nil
	})
}

// scoreCandidates fans candidate-level feature computation and scoring out
// across a bounded worker pool, then merges results in stable candidate_id
// order before top-K selection, so concurrency never changes output
// (spec.md §4.12).
func (o *Orchestrator) scoreCandidates(ctx context.Context, tenantID string, query domain.InvoiceSnapshot, cands []domain.InvoiceSnapshot) ([]candidateResult, error) {
	if len(cands) == 0 {
		return nil, nil
	}

	queryLines, err := o.store.LoadLines(ctx, o.store2DB(), tenantID, query.InvoiceID)
	if err != nil {
		return nil, err
	}

	results := make([]candidateResult, len(cands))
	errs := make([]error, len(cands))

	sem := make(chan struct{}, candidateConcurrency)
	var wg sync.WaitGroup
	for i, c := range cands {
		wg.Add(1)
		go func(i int, c domain.InvoiceSnapshot) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			candLines, lerr := o.store.LoadLines(ctx, o.store2DB(), tenantID, c.InvoiceID)
			if lerr != nil {
				errs[i] = lerr
				return
			}
			vec := features.Compute(query, c, queryLines, candLines)
			dupProb := o.scorer.Predict(vec)
			results[i] = candidateResult{invoiceID: c.InvoiceID, snapshot: c, vector: vec, dupProb: dupProb}
		}(i, c)
	}
	wg.Wait()

	for _, e := range errs {
		if e != nil {
			return nil, e
		}
	}

	sort.Slice(results, func(i, j int) bool { return results[i].invoiceID < results[j].invoiceID })
	return results, nil
}

// selectTopK returns the top k candidates by dup_prob descending, with a
// deterministic tie-break by invoice_id ascending (spec.md §4.11 step 5).
func selectTopK(results []candidateResult, k int) []candidateResult {
	sorted := append([]candidateResult(nil), results...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].dupProb != sorted[j].dupProb {
			return sorted[i].dupProb > sorted[j].dupProb
		}
		return sorted[i].invoiceID < sorted[j].invoiceID
	})
	if len(sorted) > k {
		sorted = sorted[:k]
	}
	return sorted
}

func dupProbOf(top []candidateResult) float64 {
	if len(top) == 0 {
		return 0
	}
	return top[0].dupProb
}

// featureDigest renders a stable hash over v's canonical feature ordering,
// so two candidates with identical feature vectors always report the same
// digest regardless of map iteration order.
func featureDigest(v features.Vector) string {
	if v == nil {
		return ""
	}
	var b strings.Builder
	for _, name := range features.Names {
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(strconv.FormatFloat(v[name], 'f', 6, 64))
		b.WriteByte(';')
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])[:16]
}

func toTopMatches(top []candidateResult) []domain.TopMatch {
	out := make([]domain.TopMatch, 0, len(top))
	for _, c := range top {
		out = append(out, domain.TopMatch{
			InvoiceID:     c.invoiceID,
			Similarity:    c.dupProb,
			FeatureDigest: featureDigest(c.vector),
		})
	}
	return out
}

func toExplanations(v features.Vector) []domain.Explanation {
	if v == nil {
		return nil
	}
	out := make([]domain.Explanation, 0, len(features.Names))
	for _, name := range features.Names {
		out = append(out, domain.Explanation{Feature: name, Value: v[name]})
	}
	return out
}

func mergeReasons(groups ...[]string) []string {
	var out []string
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

func containsString(xs []string, needle string) bool {
	for _, x := range xs {
		if x == needle {
			return true
		}
	}
	return false
}

func buildSnapshot(tenantID string, in domain.InvoiceIn) (domain.InvoiceSnapshot, []domain.InvoiceLine, error) {
	if err := validate(in); err != nil {
		return domain.InvoiceSnapshot{}, nil, err
	}

	total, err := decimal.NewFromString(in.Total)
	if err != nil {
		return domain.InvoiceSnapshot{}, nil, fmt.Errorf("%w: invalid total", sieveerrors.ErrSchemaViolation)
	}
	invDate, err := time.Parse("2006-01-02", in.InvoiceDate)
	if err != nil {
		return domain.InvoiceSnapshot{}, nil, fmt.Errorf("%w: invalid invoice_date", sieveerrors.ErrSchemaViolation)
	}

	snap := domain.InvoiceSnapshot{
		TenantID:          tenantID,
		InvoiceID:         in.InvoiceID,
		VendorID:          in.VendorID,
		VendorName:        in.VendorName,
		InvoiceNumberRaw:  in.InvoiceNumber,
		InvoiceNumberNorm: normalize.InvoiceNumberNorm(in.InvoiceNumber),
		InvoiceDate:       invDate,
		Currency:          in.Currency,
		Total:             total,
		PONumber:          in.PONumber,
		RemitAccountHash:  normalize.HashAccount(in.RemitAccount),
		RemitAccountMasked: normalize.MaskAccountLast4(in.RemitAccount),
		RemitName:         in.RemitName,
		PDFHash:           in.PDFHash,
		Terms:             in.Terms,
		PayloadHash:       normalize.PayloadHash(in),
		NormalizerVersion: normalize.Version,
	}
	if in.TaxTotal != nil {
		tax, terr := decimal.NewFromString(*in.TaxTotal)
		if terr != nil {
			return domain.InvoiceSnapshot{}, nil, fmt.Errorf("%w: invalid tax_total", sieveerrors.ErrSchemaViolation)
		}
		snap.TaxTotal = &tax
	}

	lines := make([]domain.InvoiceLine, 0, len(in.LineItems))
	for i, li := range in.LineItems {
		qty, qerr := decimal.NewFromString(li.Qty)
		price, perr := decimal.NewFromString(li.UnitPrice)
		amount, aerr := decimal.NewFromString(li.Amount)
		if qerr != nil || perr != nil || aerr != nil {
			return domain.InvoiceSnapshot{}, nil, fmt.Errorf("%w: invalid line item %d", sieveerrors.ErrSchemaViolation, i+1)
		}
		lines = append(lines, domain.InvoiceLine{
			TenantID: tenantID, InvoiceID: in.InvoiceID, LineNo: i + 1,
			Desc: li.Desc, Qty: qty, UnitPrice: price, Amount: amount,
			SKU: li.SKU, GLCode: li.GLCode, CostCenter: li.CostCenter,
		})
	}

	return snap, lines, nil
}

func validate(in domain.InvoiceIn) error {
	switch {
	case in.InvoiceID == "":
		return fmt.Errorf("%w: missing invoice_id", sieveerrors.ErrSchemaViolation)
	case in.VendorID == "":
		return fmt.Errorf("%w: missing vendor_id", sieveerrors.ErrSchemaViolation)
	case in.InvoiceNumber == "":
		return fmt.Errorf("%w: missing invoice_number", sieveerrors.ErrSchemaViolation)
	case in.InvoiceDate == "":
		return fmt.Errorf("%w: missing invoice_date", sieveerrors.ErrSchemaViolation)
	case len(in.Currency) != 3:
		return fmt.Errorf("%w: invalid currency", sieveerrors.ErrSchemaViolation)
	case in.Total == "":
		return fmt.Errorf("%w: missing total", sieveerrors.ErrSchemaViolation)
	case len(in.LineItems) == 0:
		return fmt.Errorf("%w: empty line_items", sieveerrors.ErrSchemaViolation)
	}
	for i, li := range in.LineItems {
		if li.Desc == "" || li.Qty == "" || li.UnitPrice == "" || li.Amount == "" {
			return fmt.Errorf("%w: incomplete line item %d", sieveerrors.ErrSchemaViolation, i+1)
		}
	}
	return nil
}

// dataQualityReasons flags ReasonDataQualityCheckFail when the line amounts
// don't reconcile with the header total beyond tolerance (spec.md §7).
func dataQualityReasons(snap domain.InvoiceSnapshot, lines []domain.InvoiceLine) []string {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.Amount)
	}
	diff := sum.Sub(snap.Total).Abs()
	floor := decimal.NewFromInt(1)
	denom := snap.Total.Abs()
	if denom.LessThan(floor) {
		denom = floor
	}
	ratio, _ := diff.Div(denom).Float64()
	if ratio > dataQualityTolerance {
		return []string{ReasonDataQualityCheckFail}
	}
	return nil
}

func newDecisionID() string {
	return uuid.NewString()
}
