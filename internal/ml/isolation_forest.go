package ml

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"math"
	"math/rand"
)

// ErrInvalidTrainingData indicates an unusable training set (empty, ragged, or
// a subsample larger than the sample count).
var ErrInvalidTrainingData = errors.New("invalid training data")

// ErrScoringTimeout is returned when a scoring call exceeds its deadline. The
// caller may retry with a fresh deadline; no partial score is ever returned.
var ErrScoringTimeout = errors.New("scoring deadline exceeded")

// Euler-Mascheroni constant, used in the harmonic number approximation.
const eulerMascheroni = 0.5772156649

// treeNode is a single node of an isolation tree. Internal nodes carry a
// random split; leaves record how many training points remained. Fields are
// exported for gob serialization only; trees are never mutated after Train.
type treeNode struct {
	SplitFeature int
	SplitValue   float64
	Left         *treeNode
	Right        *treeNode
	Size         int
}

func (n *treeNode) isLeaf() bool { return n.Left == nil && n.Right == nil }

// IsolationForest is a trained isolation ensemble. It is immutable once built:
// Score performs no mutation and is safe for unlimited concurrent callers.
type IsolationForest struct {
	trees         []*treeNode
	treeCount     int
	subsampleSize int
	featureCount  int
	maxDepth      int
	seed          int64
}

// TreeCount returns the number of trees in the ensemble.
func (f *IsolationForest) TreeCount() int { return f.treeCount }

// SubsampleSize returns the per-tree training subsample size.
func (f *IsolationForest) SubsampleSize() int { return f.subsampleSize }

// FeatureCount returns the feature dimensionality the forest was trained on.
func (f *IsolationForest) FeatureCount() int { return f.featureCount }

// Seed returns the seed the forest was trained with, so retraining is
// reproducible.
func (f *IsolationForest) Seed() int64 { return f.seed }

// Train builds an isolation ensemble over the given samples. Each tree is
// grown on a subsample drawn without replacement using the seeded generator,
// splitting on a uniformly random feature at a uniformly random value between
// that feature's observed min and max, until a branch isolates a single point
// or reaches depth ceil(log2(subsampleSize)).
func Train(samples []FeatureVector, treeCount, subsampleSize int, seed int64) (*IsolationForest, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: empty sample set", ErrInvalidTrainingData)
	}
	if treeCount < 1 {
		return nil, fmt.Errorf("%w: tree count %d", ErrInvalidTrainingData, treeCount)
	}
	if subsampleSize < 1 || subsampleSize > len(samples) {
		return nil, fmt.Errorf("%w: subsample size %d for %d samples", ErrInvalidTrainingData, subsampleSize, len(samples))
	}
	featureCount := len(samples[0])
	if featureCount == 0 {
		return nil, fmt.Errorf("%w: zero-dimensional samples", ErrInvalidTrainingData)
	}
	for i, s := range samples {
		if len(s) != featureCount {
			return nil, fmt.Errorf("%w: sample %d has %d features, expected %d", ErrInvalidTrainingData, i, len(s), featureCount)
		}
	}

	f := &IsolationForest{
		trees:         make([]*treeNode, 0, treeCount),
		treeCount:     treeCount,
		subsampleSize: subsampleSize,
		featureCount:  featureCount,
		maxDepth:      int(math.Ceil(math.Log2(float64(subsampleSize)))),
		seed:          seed,
	}

	rng := rand.New(rand.NewSource(seed))
	for i := 0; i < treeCount; i++ {
		// Subsample without replacement.
		indices := rng.Perm(len(samples))[:subsampleSize]
		sample := make([]FeatureVector, subsampleSize)
		for j, idx := range indices {
			sample[j] = samples[idx]
		}
		f.trees = append(f.trees, f.buildNode(rng, sample, 0))
	}
	return f, nil
}

func (f *IsolationForest) buildNode(rng *rand.Rand, data []FeatureVector, depth int) *treeNode {
	if len(data) <= 1 || depth >= f.maxDepth {
		return &treeNode{Size: len(data)}
	}

	feature := rng.Intn(f.featureCount)
	minVal, maxVal := featureRange(data, feature)
	if minVal == maxVal {
		return &treeNode{Size: len(data)}
	}
	splitValue := minVal + rng.Float64()*(maxVal-minVal)

	var left, right []FeatureVector
	for _, row := range data {
		if row[feature] < splitValue {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}
	// A degenerate split cannot partition the data further.
	if len(left) == 0 || len(right) == 0 {
		return &treeNode{Size: len(data)}
	}

	return &treeNode{
		SplitFeature: feature,
		SplitValue:   splitValue,
		Left:         f.buildNode(rng, left, depth+1),
		Right:        f.buildNode(rng, right, depth+1),
		Size:         len(data),
	}
}

func featureRange(data []FeatureVector, feature int) (float64, float64) {
	minVal, maxVal := data[0][feature], data[0][feature]
	for _, row := range data[1:] {
		if row[feature] < minVal {
			minVal = row[feature]
		}
		if row[feature] > maxVal {
			maxVal = row[feature]
		}
	}
	return minVal, maxVal
}

// Score returns the anomaly score for v in [0,1]. Higher means a shorter
// average isolation path, i.e. more anomalous. Deterministic for a fixed
// trained forest.
func (f *IsolationForest) Score(v FeatureVector) float64 {
	total := 0.0
	for _, tree := range f.trees {
		total += pathLength(tree, v, 0)
	}
	avg := total / float64(len(f.trees))
	return math.Pow(2, -avg/averagePathLength(f.subsampleSize))
}

// ScoreContext is Score with coarse-grained cancellation: the deadline is
// checked between tree evaluations, never mid-tree. On expiry it returns
// ErrScoringTimeout and no score.
func (f *IsolationForest) ScoreContext(ctx context.Context, v FeatureVector) (float64, error) {
	total := 0.0
	for _, tree := range f.trees {
		if err := ctx.Err(); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return 0, fmt.Errorf("%w: %v", ErrScoringTimeout, err)
			}
			return 0, err
		}
		total += pathLength(tree, v, 0)
	}
	avg := total / float64(len(f.trees))
	return math.Pow(2, -avg/averagePathLength(f.subsampleSize)), nil
}

// pathLength walks v down a tree and returns the path length, adding the
// expected remaining depth c(size) at an early-terminated leaf.
func pathLength(n *treeNode, v FeatureVector, depth int) float64 {
	if n.isLeaf() {
		return float64(depth) + averagePathLength(n.Size)
	}
	if v[n.SplitFeature] < n.SplitValue {
		return pathLength(n.Left, v, depth+1)
	}
	return pathLength(n.Right, v, depth+1)
}

// averagePathLength is c(n), the average path length of an unsuccessful BST
// search: c(n) = 2H(n-1) - 2(n-1)/n, with H(n) ≈ ln(n) + γ.
func averagePathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	if n == 2 {
		return 1
	}
	h := math.Log(float64(n-1)) + eulerMascheroni
	return 2*h - 2*float64(n-1)/float64(n)
}

// forestState is the gob representation of a trained forest.
type forestState struct {
	Trees         []*treeNode
	TreeCount     int
	SubsampleSize int
	FeatureCount  int
	MaxDepth      int
	Seed          int64
}

// Encode serializes the trained forest for durable storage.
func (f *IsolationForest) Encode() ([]byte, error) {
	var buf bytes.Buffer
	state := forestState{
		Trees:         f.trees,
		TreeCount:     f.treeCount,
		SubsampleSize: f.subsampleSize,
		FeatureCount:  f.featureCount,
		MaxDepth:      f.maxDepth,
		Seed:          f.seed,
	}
	if err := gob.NewEncoder(&buf).Encode(&state); err != nil {
		return nil, fmt.Errorf("encode forest: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeForest reconstructs a trained forest from Encode output.
func DecodeForest(data []byte) (*IsolationForest, error) {
	var state forestState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&state); err != nil {
		return nil, fmt.Errorf("decode forest: %w", err)
	}
	return &IsolationForest{
		trees:         state.Trees,
		treeCount:     state.TreeCount,
		subsampleSize: state.SubsampleSize,
		featureCount:  state.FeatureCount,
		maxDepth:      state.MaxDepth,
		seed:          state.Seed,
	}, nil
}
