package decision

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jimmc414/invoice-anomaly-detection-sieve/internal/domain"
)

type fixedThresholds struct {
	tHold, tReview float64
}

func (f fixedThresholds) GetFloat(ctx context.Context, tenantID, vendorID, key string, defaultValue float64) (float64, error) {
	switch key {
	case "t_hold":
		return f.tHold, nil
	case "t_review":
		return f.tReview, nil
	default:
		return defaultValue, nil
	}
}

func TestFuseHighDupAndBankChangeYieldsHoldRange(t *testing.T) {
	riskScore := Fuse(0.8, 0.2, 0.1, true)
	f, _ := riskScore.Float64()
	assert.GreaterOrEqual(t, f, 80.0)
	assert.LessOrEqual(t, f, 100.0)
}

func TestFuseIsMonotoneInEachInput(t *testing.T) {
	base := Fuse(0.3, 0.1, 0.1, false)
	higherDup := Fuse(0.5, 0.1, 0.1, false)
	higherAnom := Fuse(0.3, 0.3, 0.1, false)
	higherText := Fuse(0.3, 0.1, 0.3, false)
	withBank := Fuse(0.3, 0.1, 0.1, true)

	bf, _ := base.Float64()
	hdf, _ := higherDup.Float64()
	haf, _ := higherAnom.Float64()
	htf, _ := higherText.Float64()
	wbf, _ := withBank.Float64()

	assert.GreaterOrEqual(t, hdf, bf)
	assert.GreaterOrEqual(t, haf, bf)
	assert.GreaterOrEqual(t, htf, bf)
	assert.GreaterOrEqual(t, wbf, bf)
}

func TestResolveRuleForcedOverridesScoreOnlyDecision(t *testing.T) {
	e := New(fixedThresholds{tHold: 80, tReview: 50})
	riskScore, label, err := e.Resolve(context.Background(), "t1", "v1", 0.0, 0.0, 0.0, false, domain.DecisionHold)
	require.NoError(t, err)
	assert.True(t, riskScore.IsZero())
	assert.Equal(t, domain.DecisionHold, label)
}

func TestResolveUsesScoreDecisionWhenNoRuleForced(t *testing.T) {
	e := New(fixedThresholds{tHold: 80, tReview: 50})
	_, label, err := e.Resolve(context.Background(), "t1", "v1", 0.95, 0.0, 0.0, false, domain.DecisionPass)
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionHold, label)
}
