package ml

import "sort"

// EvaluationMetrics is the standard binary-classification metric tuple.
// Precision, recall and F1 default to 0 when their denominator is 0.
type EvaluationMetrics struct {
	Accuracy  float64
	Precision float64
	Recall    float64
	F1        float64
	AUC       float64
}

// Sum returns the sum of the four threshold-dependent metrics (AUC excluded,
// it does not vary with the threshold).
func (m EvaluationMetrics) Sum() float64 {
	return m.Accuracy + m.Precision + m.Recall + m.F1
}

// MetricsFromCounts derives the metric tuple from confusion-matrix counts.
// AUC is left at zero; it is computed separately from the full score set.
func MetricsFromCounts(tp, fp, tn, fn int) EvaluationMetrics {
	var m EvaluationMetrics
	total := tp + fp + tn + fn
	if total > 0 {
		m.Accuracy = float64(tp+tn) / float64(total)
	}
	if tp+fp > 0 {
		m.Precision = float64(tp) / float64(tp+fp)
	}
	if tp+fn > 0 {
		m.Recall = float64(tp) / float64(tp+fn)
	}
	if m.Precision+m.Recall > 0 {
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}
	return m
}

// computeAUC returns the area under the ROC curve via the rank-sum
// (Mann-Whitney) formulation, with average ranks for tied scores.
func computeAUC(scores []float64, labels []int) float64 {
	type scored struct {
		score float64
		label int
	}
	points := make([]scored, len(scores))
	for i := range scores {
		points[i] = scored{scores[i], labels[i]}
	}
	sort.Slice(points, func(i, j int) bool { return points[i].score < points[j].score })

	nPos, nNeg := 0, 0
	rankSum := 0.0
	i := 0
	for i < len(points) {
		j := i
		for j < len(points) && points[j].score == points[i].score {
			j++
		}
		// Ranks are 1-based; ties share the average rank of their block.
		avgRank := float64(i+j+1) / 2
		for k := i; k < j; k++ {
			if points[k].label == 1 {
				rankSum += avgRank
			}
		}
		i = j
	}
	for _, p := range points {
		if p.label == 1 {
			nPos++
		} else {
			nNeg++
		}
	}
	if nPos == 0 || nNeg == 0 {
		return 0
	}
	return (rankSum - float64(nPos)*float64(nPos+1)/2) / (float64(nPos) * float64(nNeg))
}
