package ml

import (
	"errors"
	"fmt"
)

// ErrEmptyValidationSet indicates a validation set with fewer than two
// distinct labels, over which no threshold can be optimized.
var ErrEmptyValidationSet = errors.New("validation set must contain both labels")

// LabeledVector pairs a feature vector with its ground-truth label
// (1 = anomaly, 0 = normal).
type LabeledVector struct {
	Features FeatureVector
	Label    int
}

// Policy scores a candidate metric tuple; the candidate with the highest
// value wins. The weighting between accuracy, precision, recall and F1 is the
// caller's choice, never hard-coded in the optimizer.
type Policy func(m EvaluationMetrics) float64

// MaximizeF1 prefers the candidate with the highest F1 score.
func MaximizeF1() Policy {
	return func(m EvaluationMetrics) float64 { return m.F1 }
}

// TargetCount counts how many of accuracy, precision, recall and F1 meet the
// corresponding cutoff, breaking ties by the metric sum. Fewer than four
// cutoffs reuse the last one for the remaining metrics.
func TargetCount(cutoffs ...float64) Policy {
	targets := [4]float64{0.95, 0.95, 0.95, 0.95}
	for i := 0; i < 4; i++ {
		if i < len(cutoffs) {
			targets[i] = cutoffs[i]
		} else if len(cutoffs) > 0 {
			targets[i] = cutoffs[len(cutoffs)-1]
		}
	}
	return func(m EvaluationMetrics) float64 {
		values := [4]float64{m.Accuracy, m.Precision, m.Recall, m.F1}
		met := 0
		for i, v := range values {
			if v >= targets[i] {
				met++
			}
		}
		// Sum is at most 4, so dividing by 10 keeps it a pure tie-breaker.
		return float64(met) + m.Sum()/10
	}
}

// RecallWithPrecisionFloor maximizes recall among candidates whose precision
// stays at or above the floor; candidates below the floor rank behind all
// candidates that meet it.
func RecallWithPrecisionFloor(floor float64) Policy {
	return func(m EvaluationMetrics) float64 {
		if m.Precision < floor {
			return m.Recall - 1
		}
		return m.Recall
	}
}

// OptimizeResult holds the winning threshold and the metrics it achieves on
// the validation set.
type OptimizeResult struct {
	Threshold float64
	Metrics   EvaluationMetrics
}

// ThresholdOptimizer searches a fixed grid of candidate thresholds over the
// observed score range.
type ThresholdOptimizer struct {
	step float64
}

// NewThresholdOptimizer creates an optimizer with the given grid step.
// Non-positive steps fall back to 0.01.
func NewThresholdOptimizer(step float64) *ThresholdOptimizer {
	if step <= 0 {
		step = 0.01
	}
	return &ThresholdOptimizer{step: step}
}

// Optimize scores the validation set once, scans candidate thresholds and
// returns the candidate the policy ranks highest. A nil policy defaults to
// MaximizeF1. AUC is threshold-independent and computed once from the full
// score/label set.
func (o *ThresholdOptimizer) Optimize(scorer *IsolationForest, validation []LabeledVector, policy Policy) (OptimizeResult, error) {
	if policy == nil {
		policy = MaximizeF1()
	}

	labelsSeen := map[int]bool{}
	for _, lv := range validation {
		labelsSeen[lv.Label] = true
	}
	if !labelsSeen[0] || !labelsSeen[1] {
		return OptimizeResult{}, fmt.Errorf("%w: %d samples", ErrEmptyValidationSet, len(validation))
	}

	scores := make([]float64, len(validation))
	labels := make([]int, len(validation))
	minScore, maxScore := 1.0, 0.0
	for i, lv := range validation {
		scores[i] = scorer.Score(lv.Features)
		labels[i] = lv.Label
		if scores[i] < minScore {
			minScore = scores[i]
		}
		if scores[i] > maxScore {
			maxScore = scores[i]
		}
	}

	auc := computeAUC(scores, labels)

	best := OptimizeResult{Threshold: minScore}
	bestValue := 0.0
	first := true
	for t := minScore; t <= maxScore+o.step/2; t += o.step {
		tp, fp, tn, fn := 0, 0, 0, 0
		for i, score := range scores {
			predicted := 0
			if score >= t {
				predicted = 1
			}
			switch {
			case predicted == 1 && labels[i] == 1:
				tp++
			case predicted == 1 && labels[i] == 0:
				fp++
			case predicted == 0 && labels[i] == 0:
				tn++
			default:
				fn++
			}
		}
		m := MetricsFromCounts(tp, fp, tn, fn)
		m.AUC = auc
		value := policy(m)
		if first || value > bestValue {
			best = OptimizeResult{Threshold: t, Metrics: m}
			bestValue = value
			first = false
		}
	}
	return best, nil
}
