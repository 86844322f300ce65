// Package decision implements the Decision Engine (spec.md §4.8): fuses
// dup_prob, anom_prob, bank_change, and a text-duplication signal into a
// 0-100 risk score, maps it through tenant/vendor-scoped thresholds, and
// resolves the final label against the Rule Engine's forced outcome.
package decision

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/jimmc414/invoice-anomaly-detection-sieve/internal/domain"
)

// Default thresholds used when neither vendor nor global config scopes
// define one.
const (
	DefaultTHold   = 80.0
	DefaultTReview = 50.0

	bankChangeTerm = 0.6
)

// Thresholds resolves T_hold/T_review with vendor-then-global scope
// fallback, matching spec.md §4.8.
type Thresholds interface {
	GetFloat(ctx context.Context, tenantID, vendorID, key string, defaultValue float64) (float64, error)
}

// Engine is the Decision Engine.
type Engine struct {
	thresholds Thresholds
}

// New constructs a decision Engine.
func New(thresholds Thresholds) *Engine {
	return &Engine{thresholds: thresholds}
}

// Fuse implements spec.md §4.8's fusion formula:
//
//	p = 1 - (1-dup_prob)(1-anom_prob)(1-(0.6 if bank_change else 0))(1-text_dup_prob)
//	risk_score = round(100*p, 2)
//
// Fusion is order-independent and monotone non-decreasing in each input.
func Fuse(dupProb, anomProb, textDupProb float64, bankChange bool) decimal.Decimal {
	bankTerm := 0.0
	if bankChange {
		bankTerm = bankChangeTerm
	}
	survive := (1 - dupProb) * (1 - anomProb) * (1 - bankTerm) * (1 - textDupProb)
	p := 1 - survive
	riskScore := decimal.NewFromFloat(100 * p).Round(2)
	return riskScore
}

// ScoreDecision maps a risk_score through T_hold/T_review.
func ScoreDecision(riskScore decimal.Decimal, tHold, tReview float64) domain.DecisionLabel {
	f, _ := riskScore.Float64()
	switch {
	case f >= tHold:
		return domain.DecisionHold
	case f >= tReview:
		return domain.DecisionReview
	default:
		return domain.DecisionPass
	}
}

// Resolve implements the full Decision Engine step: loads thresholds,
// fuses the risk score, and resolves the final label as
// max(score_decision, rule_forced_decision).
func (e *Engine) Resolve(ctx context.Context, tenantID, vendorID string, dupProb, anomProb, textDupProb float64, bankChange bool, ruleForced domain.DecisionLabel) (riskScore decimal.Decimal, label domain.DecisionLabel, err error) {
	tHold, err := e.thresholds.GetFloat(ctx, tenantID, vendorID, "t_hold", DefaultTHold)
	if err != nil {
		return decimal.Zero, "", err
	}
	tReview, err := e.thresholds.GetFloat(ctx, tenantID, vendorID, "t_review", DefaultTReview)
	if err != nil {
		return decimal.Zero, "", err
	}

	riskScore = Fuse(dupProb, anomProb, textDupProb, bankChange)
	scoreLabel := ScoreDecision(riskScore, tHold, tReview)
	return riskScore, domain.Stricter(scoreLabel, ruleForced), nil
}
