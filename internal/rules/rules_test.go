package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jimmc414/invoice-anomaly-detection-sieve/internal/domain"
	"github.com/jimmc414/invoice-anomaly-detection-sieve/internal/features"
)

func TestExactInvnumForcesHold(t *testing.T) {
	e := New()
	query := domain.InvoiceSnapshot{InvoiceNumberNorm: "1001"}
	top1 := domain.InvoiceSnapshot{InvoiceNumberNorm: "1001"}

	res := e.Evaluate(query, &top1, features.Vector{}, nil, true)
	assert.Contains(t, res.ReasonCodes, ReasonExactInvnum)
	assert.Equal(t, domain.DecisionHold, res.Forced)
}

func TestSamePONearTotalForcesHold(t *testing.T) {
	e := New()
	po := "PO-1"
	query := domain.InvoiceSnapshot{InvoiceNumberNorm: "a", PONumber: &po}
	top1 := domain.InvoiceSnapshot{InvoiceNumberNorm: "b", PONumber: &po}
	vec := features.Vector{"abs_total_diff_pct": 0.001, "days_diff": 2}

	res := e.Evaluate(query, &top1, vec, nil, true)
	assert.Contains(t, res.ReasonCodes, ReasonSamePONearTotal)
	assert.Equal(t, domain.DecisionHold, res.Forced)
}

func TestBankChangeForcesAtLeastReviewWhenUnseenRecently(t *testing.T) {
	e := New()
	hash := "h1"
	query := domain.InvoiceSnapshot{RemitAccountHash: &hash}

	res := e.Evaluate(query, nil, features.Vector{}, nil, false)
	assert.Contains(t, res.ReasonCodes, ReasonBankChange)
	assert.Equal(t, domain.DecisionReview, res.Forced)
}

func TestBankChangeDoesNotFireWhenSeenRecently(t *testing.T) {
	e := New()
	hash := "h1"
	query := domain.InvoiceSnapshot{RemitAccountHash: &hash}

	res := e.Evaluate(query, nil, features.Vector{}, nil, true)
	assert.NotContains(t, res.ReasonCodes, ReasonBankChange)
	assert.Equal(t, domain.DecisionPass, res.Forced)
}

func TestNoRuleFiresYieldsPass(t *testing.T) {
	e := New()
	query := domain.InvoiceSnapshot{InvoiceNumberNorm: "a"}
	top1 := domain.InvoiceSnapshot{InvoiceNumberNorm: "b"}

	res := e.Evaluate(query, &top1, features.Vector{"abs_total_diff_pct": 1, "days_diff": 365}, nil, true)
	assert.Empty(t, res.ReasonCodes)
	assert.Equal(t, domain.DecisionPass, res.Forced)
}

func TestPDFHashDuplicateForcesHold(t *testing.T) {
	e := New()
	pdf := "pdfhash1"
	query := domain.InvoiceSnapshot{InvoiceNumberNorm: "a", PDFHash: &pdf}
	top1 := domain.InvoiceSnapshot{InvoiceNumberNorm: "b", PDFHash: &pdf}

	res := e.Evaluate(query, &top1, features.Vector{"abs_total_diff_pct": 1, "days_diff": 365}, nil, true)
	assert.Contains(t, res.ReasonCodes, ReasonPDFNearDup)
	assert.Equal(t, domain.DecisionHold, res.Forced)
}
