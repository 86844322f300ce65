// Package features implements the Feature Engine (spec.md §4.4): for a
// (query, candidate) invoice pair it computes header, line-assignment, and
// text-similarity features into a canonically ordered, versioned vector fed
// to the Duplicate Scorer and the Rule Engine.
package features

import (
	"sort"

	"github.com/shopspring/decimal"
	"github.com/xrash/smetrics"

	"github.com/jimmc414/invoice-anomaly-detection-sieve/internal/domain"
	"github.com/jimmc414/invoice-anomaly-detection-sieve/internal/normalize"
	"github.com/jimmc414/invoice-anomaly-detection-sieve/pkg/moneydec"
)

// Version is recorded alongside every feature vector for reproducibility.
const Version = "features-v1"

// Names is the stable, canonical 13-feature ordering (spec.md §4.4). Model
// artifacts and heuristic weights are keyed by these names; any name absent
// from a loaded artifact is treated as weight 0.
var Names = []string{
	"abs_total_diff_pct",
	"days_diff",
	"same_po",
	"same_currency",
	"same_tax_total",
	"bank_change_flag",
	"payee_name_change_flag",
	"invnum_edit",
	"unmatched_amount_frac",
	"line_coverage_pct",
	"count_new_items",
	"median_unit_price_diff",
	"text_cosine",
}

// Vector is a computed feature map, keyed by entries of Names.
type Vector map[string]float64

// Ordered returns v's values in the canonical Names order, filling 0 for
// any missing name.
func (v Vector) Ordered() []float64 {
	out := make([]float64, len(Names))
	for i, name := range Names {
		out[i] = v[name]
	}
	return out
}

// jaroWinklerBoostThreshold and prefixSize match smetrics' documented
// defaults for Jaro-Winkler similarity.
const (
	jaroWinklerBoostThreshold = 0.7
	jaroWinklerPrefixSize     = 4
)

// assignmentWeights are the alpha/beta/gamma line-cost weights from
// spec.md §4.4.
const (
	alphaDescWeight  = 0.7
	betaPriceWeight  = 0.2
	gammaQtyWeight   = 0.1
	costCapPerTerm   = 5.0
)

// Compute implements the full Feature Engine for one (a=query, b=candidate)
// pair.
func Compute(a, b domain.InvoiceSnapshot, aLines, bLines []domain.InvoiceLine) Vector {
	v := Vector{}

	v["abs_total_diff_pct"] = moneydec.Ratio(moneydec.AbsDiff(a.Total, b.Total), a.Total)
	v["days_diff"] = daysDiff(a, b)
	v["same_po"] = boolFloat(a.PONumber != nil && b.PONumber != nil && *a.PONumber == *b.PONumber)
	v["same_currency"] = boolFloat(a.Currency == b.Currency)
	v["same_tax_total"] = boolFloat(sameTaxTotal(a.TaxTotal, b.TaxTotal))
	v["bank_change_flag"] = boolFloat(strPtr(a.RemitAccountHash) != strPtr(b.RemitAccountHash))
	v["payee_name_change_flag"] = boolFloat(strPtr(a.RemitName) != strPtr(b.RemitName))
	v["invnum_edit"] = 1 - smetrics.JaroWinkler(a.InvoiceNumberNorm, b.InvoiceNumberNorm, jaroWinklerBoostThreshold, jaroWinklerPrefixSize)

	lineFeatures(aLines, bLines, v)

	v["text_cosine"] = textCosine(aLines, bLines)

	return v
}

func daysDiff(a, b domain.InvoiceSnapshot) float64 {
	d := a.InvoiceDate.Sub(b.InvoiceDate)
	if d < 0 {
		d = -d
	}
	return float64(d.Hours() / 24)
}

func sameTaxTotal(a, b *decimal.Decimal) bool {
	az, bz := decimal.Zero, decimal.Zero
	if a != nil {
		az = *a
	}
	if b != nil {
		bz = *b
	}
	// Absent-vs-absent is treated as equal (0 == 0); absent-vs-present
	// compares the present value against 0, per spec.md §9.
	return moneydec.SameRoundedTotal(az, bz)
}

func strPtr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// lineFeatures solves the rectangular min-cost assignment between a's and
// b's lines and fills the line-assignment features into v.
func lineFeatures(aLines, bLines []domain.InvoiceLine, v Vector) {
	n, m := len(aLines), len(bLines)

	if n == 0 {
		v["unmatched_amount_frac"] = 0
		v["line_coverage_pct"] = 1
		v["count_new_items"] = 0
		v["median_unit_price_diff"] = 0
		return
	}
	if m == 0 {
		totalAmount := sumAmounts(aLines)
		v["unmatched_amount_frac"] = 1
		v["line_coverage_pct"] = 0
		v["count_new_items"] = float64(n)
		v["median_unit_price_diff"] = 0
		_ = totalAmount
		return
	}

	cost := make([][]float64, n)
	for i := 0; i < n; i++ {
		cost[i] = make([]float64, m)
		for j := 0; j < m; j++ {
			cost[i][j] = lineCost(aLines[i], bLines[j])
		}
	}

	assign := solveAssignment(cost, n, m)

	matchedAmount := decimal.Zero
	totalAmount := decimal.Zero
	matchedCount := 0
	priceDiffs := make([]float64, 0, n)
	for i, line := range aLines {
		totalAmount = totalAmount.Add(line.Amount)
		if j := assign.rowMatch[i]; j >= 0 {
			matchedCount++
			matchedAmount = matchedAmount.Add(line.Amount)
			priceDiffs = append(priceDiffs, moneydec.Float64(moneydec.AbsDiff(line.UnitPrice, bLines[j].UnitPrice)))
		}
	}

	unmatchedFrac := moneydec.Ratio(decimal.Max(totalAmount.Sub(matchedAmount), decimal.Zero), totalAmount)
	v["unmatched_amount_frac"] = unmatchedFrac
	v["line_coverage_pct"] = 1 - unmatchedFrac
	v["count_new_items"] = math0(n - matchedCount)
	v["median_unit_price_diff"] = median(priceDiffs)
}

func math0(x int) float64 {
	if x < 0 {
		return 0
	}
	return float64(x)
}

func sumAmounts(lines []domain.InvoiceLine) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.Amount)
	}
	return sum
}

// lineCost implements spec.md §4.4's per-cell cost function.
func lineCost(a, b domain.InvoiceLine) float64 {
	descSim := smetrics.JaroWinkler(normalize.DescNorm(a.Desc), normalize.DescNorm(b.Desc), jaroWinklerBoostThreshold, jaroWinklerPrefixSize)
	priceTerm := capped(moneydec.Ratio(moneydec.AbsDiff(a.UnitPrice, b.UnitPrice), a.UnitPrice), costCapPerTerm)
	qtyTerm := capped(moneydec.Ratio(moneydec.AbsDiff(a.Qty, b.Qty), a.Qty), costCapPerTerm)
	return alphaDescWeight*(1-descSim) + betaPriceWeight*priceTerm + gammaQtyWeight*qtyTerm
}

func capped(x, cap float64) float64 {
	if x > cap {
		return cap
	}
	return x
}

func median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

// textCosine implements spec.md §4.4's character-3-gram set-overlap proxy
// over the concatenated normalized line descriptions of each side.
func textCosine(aLines, bLines []domain.InvoiceLine) float64 {
	aText := concatDescNorm(aLines)
	bText := concatDescNorm(bLines)
	aSet := trigramSet(aText)
	bSet := trigramSet(bText)

	inter := 0
	for g := range aSet {
		if _, ok := bSet[g]; ok {
			inter++
		}
	}
	denom := len(aText) + len(bText)
	if denom < 1 {
		denom = 1
	}
	cos := 2 * float64(inter) / float64(denom)
	if cos > 1 {
		cos = 1
	}
	return cos
}

func concatDescNorm(lines []domain.InvoiceLine) string {
	var out string
	for i, l := range lines {
		if i > 0 {
			out += " "
		}
		out += normalize.DescNorm(l.Desc)
	}
	return out
}

func trigramSet(s string) map[string]struct{} {
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
