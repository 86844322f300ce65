package features

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jimmc414/invoice-anomaly-detection-sieve/internal/domain"
)

func snap(total string, date time.Time, po, remitHash, remitName *string) domain.InvoiceSnapshot {
	return domain.InvoiceSnapshot{
		InvoiceNumberNorm: "1001",
		InvoiceDate:       date,
		Currency:          "USD",
		Total:             decimal.RequireFromString(total),
		PONumber:          po,
		RemitAccountHash:  remitHash,
		RemitName:         remitName,
	}
}

func line(desc, qty, price, amount string) domain.InvoiceLine {
	return domain.InvoiceLine{
		Desc:      desc,
		Qty:       decimal.RequireFromString(qty),
		UnitPrice: decimal.RequireFromString(price),
		Amount:    decimal.RequireFromString(amount),
	}
}

func TestComputeIdenticalInvoicesAreMaximallySimilar(t *testing.T) {
	d := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	po := "PO-1"
	hash := "h1"
	name := "Acme"
	a := snap("100.00", d, &po, &hash, &name)
	lines := []domain.InvoiceLine{line("widget delivery", "2", "10.00", "20.00")}

	v := Compute(a, a, lines, lines)

	assert.Equal(t, 0.0, v["abs_total_diff_pct"])
	assert.Equal(t, 0.0, v["days_diff"])
	assert.Equal(t, 1.0, v["same_po"])
	assert.Equal(t, 1.0, v["same_currency"])
	assert.Equal(t, 1.0, v["same_tax_total"])
	assert.Equal(t, 0.0, v["bank_change_flag"])
	assert.Equal(t, 0.0, v["payee_name_change_flag"])
	assert.InDelta(t, 0.0, v["invnum_edit"], 1e-9)
	assert.Equal(t, 0.0, v["unmatched_amount_frac"])
	assert.Equal(t, 1.0, v["line_coverage_pct"])
	assert.Equal(t, 0.0, v["count_new_items"])
	// "widget delivery" is 15 characters with 13 distinct 3-grams, and the
	// proxy divides by the summed character length: 2*13 / (15+15).
	assert.InDelta(t, 26.0/30.0, v["text_cosine"], 1e-9)
}

func TestComputeBankChangeFlagsAccountHashDifference(t *testing.T) {
	d := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	h1, h2 := "h1", "h2"
	a := snap("100.00", d, nil, &h1, nil)
	b := snap("100.00", d, nil, &h2, nil)

	v := Compute(a, b, nil, nil)
	assert.Equal(t, 1.0, v["bank_change_flag"])
}

func TestComputeEmptyCandidateLinesMeansFullyUnmatched(t *testing.T) {
	d := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	a := snap("100.00", d, nil, nil, nil)
	aLines := []domain.InvoiceLine{line("widget", "1", "100.00", "100.00")}

	v := Compute(a, a, aLines, nil)
	assert.Equal(t, 1.0, v["unmatched_amount_frac"])
	assert.Equal(t, 0.0, v["line_coverage_pct"])
	assert.Equal(t, 1.0, v["count_new_items"])
}

func TestVectorOrderedFillsMissingWithZero(t *testing.T) {
	v := Vector{"same_po": 1}
	ordered := v.Ordered()
	require.Len(t, ordered, len(Names))
	for i, name := range Names {
		if name == "same_po" {
			assert.Equal(t, 1.0, ordered[i])
		} else {
			assert.Equal(t, 0.0, ordered[i])
		}
	}
}

func TestSolveAssignmentPrefersLowerCostMatching(t *testing.T) {
	cost := [][]float64{
		{0.0, 5.0},
		{5.0, 0.0},
	}
	assign := solveAssignment(cost, 2, 2)
	assert.Equal(t, 0, assign.rowMatch[0])
	assert.Equal(t, 1, assign.rowMatch[1])
}

func TestSolveAssignmentHandlesRectangularInput(t *testing.T) {
	cost := [][]float64{
		{0.1, 0.9, 0.9},
	}
	assign := solveAssignment(cost, 1, 3)
	require.Len(t, assign.rowMatch, 1)
	assert.Equal(t, 0, assign.rowMatch[0])
}
