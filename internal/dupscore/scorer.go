// Package dupscore implements the Duplicate Scorer (spec.md §4.5): a
// pluggable capability that turns a feature vector into dup_prob using a
// loaded classifier artifact, falling back to a documented linear heuristic
// when no artifact is available so the service degrades rather than fails.
package dupscore

import (
	"encoding/json"
	"io"
	"math"
	"os"

	"go.uber.org/zap"

	"github.com/jimmc414/invoice-anomaly-detection-sieve/internal/features"
)

// HeuristicModelID is recorded on every Decision scored by the fallback
// path, so a reader of historical decisions can tell which invoices were
// never touched by a trained classifier.
const HeuristicModelID = "heuristic"

// HeuristicVersion is bumped whenever the fallback weights below change.
const HeuristicVersion = "heuristic-v1"

// heuristicWeights is the documented linear-heuristic scorer used when no
// classifier artifact loads. Weights are hand-tuned to push dup_prob high
// when the cheapest, highest-signal features line up (matching invoice
// numbers, near-zero total delta, high line coverage), and are intentionally
// conservative elsewhere so the heuristic degrades gracefully rather than
// firing HOLD on thin evidence.
var heuristicWeights = features.Vector{
	"abs_total_diff_pct":     -3.0,
	"days_diff":              -0.01,
	"same_po":                1.2,
	"same_currency":          0.2,
	"same_tax_total":         0.4,
	"bank_change_flag":       -0.3,
	"payee_name_change_flag": -0.3,
	"invnum_edit":            -4.0,
	"unmatched_amount_frac":  -2.0,
	"line_coverage_pct":      1.5,
	"count_new_items":        -0.2,
	"median_unit_price_diff": -0.05,
	"text_cosine":            1.0,
}

const heuristicBias = -1.0

// Artifact is the on-disk shape of a logistic-regression classifier: a bias
// plus one weight per canonical feature name. Unknown names are ignored;
// names from features.Names absent from Weights are treated as weight 0.
type Artifact struct {
	ModelID string             `json:"model_id"`
	Version string             `json:"version"`
	Bias    float64            `json:"bias"`
	Weights map[string]float64 `json:"weights"`
}

// Scorer is the Duplicate Scorer. It is safe for concurrent use: after
// construction, its artifact is immutable.
type Scorer struct {
	artifact *Artifact
	log      *zap.Logger
}

// Load reads a classifier artifact from path at process start. On any
// error (missing file, malformed JSON), it logs and returns a Scorer
// running the heuristic fallback; it never returns an error itself, since a
// missing artifact must never prevent the service from starting.
func Load(path string, log *zap.Logger) *Scorer {
	if path == "" {
		log.Info("duplicate scorer: no artifact path configured, using heuristic fallback")
		return &Scorer{log: log}
	}

	f, err := os.Open(path)
	if err != nil {
		log.Warn("duplicate scorer: artifact open failed, using heuristic fallback", zap.Error(err), zap.String("path", path))
		return &Scorer{log: log}
	}
	defer f.Close()

	raw, err := io.ReadAll(f)
	if err != nil {
		log.Warn("duplicate scorer: artifact read failed, using heuristic fallback", zap.Error(err), zap.String("path", path))
		return &Scorer{log: log}
	}

	var art Artifact
	if err := json.Unmarshal(raw, &art); err != nil {
		log.Warn("duplicate scorer: artifact parse failed, using heuristic fallback", zap.Error(err), zap.String("path", path))
		return &Scorer{log: log}
	}

	log.Info("duplicate scorer: loaded classifier artifact", zap.String("model_id", art.ModelID), zap.String("version", art.Version))
	return &Scorer{artifact: &art, log: log}
}

// ModelID reports which model this Scorer is running, for Decision
// provenance.
func (s *Scorer) ModelID() string {
	if s.artifact != nil {
		return s.artifact.ModelID
	}
	return HeuristicModelID
}

// ModelVersion reports the running model's version, for Decision
// provenance.
func (s *Scorer) ModelVersion() string {
	if s.artifact != nil {
		return s.artifact.Version
	}
	return HeuristicVersion
}

// Predict returns dup_prob for v using the canonical feature ordering,
// clamped to [0,1].
func (s *Scorer) Predict(v features.Vector) float64 {
	if s.artifact != nil {
		return sigmoid(linearScore(v, s.artifact.Weights, s.artifact.Bias))
	}
	return sigmoid(linearScore(v, heuristicWeights, heuristicBias))
}

func linearScore(v features.Vector, weights map[string]float64, bias float64) float64 {
	sum := bias
	for _, name := range features.Names {
		sum += weights[name] * v[name]
	}
	return sum
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
