package ml

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"
)

// clusterAround draws n points normally distributed around a center.
func clusterAround(rng *rand.Rand, center []float64, spread float64, n int) []FeatureVector {
	out := make([]FeatureVector, n)
	for i := 0; i < n; i++ {
		v := make(FeatureVector, len(center))
		for d := range center {
			v[d] = center[d] + rng.NormFloat64()*spread
		}
		out[i] = v
	}
	return out
}

func TestTrainRejectsInvalidData(t *testing.T) {
	if _, err := Train(nil, 10, 4, 1); !errors.Is(err, ErrInvalidTrainingData) {
		t.Errorf("empty samples: got %v, want ErrInvalidTrainingData", err)
	}

	ragged := []FeatureVector{{1, 2}, {1, 2, 3}}
	if _, err := Train(ragged, 10, 2, 1); !errors.Is(err, ErrInvalidTrainingData) {
		t.Errorf("ragged samples: got %v, want ErrInvalidTrainingData", err)
	}

	samples := []FeatureVector{{1, 2}, {3, 4}}
	if _, err := Train(samples, 10, 5, 1); !errors.Is(err, ErrInvalidTrainingData) {
		t.Errorf("oversized subsample: got %v, want ErrInvalidTrainingData", err)
	}

	if _, err := Train(samples, 0, 2, 1); !errors.Is(err, ErrInvalidTrainingData) {
		t.Errorf("zero trees: got %v, want ErrInvalidTrainingData", err)
	}
}

func TestTrainIsDeterministicForSeed(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	samples := clusterAround(rng, []float64{5, 5, 5}, 1.0, 200)

	f1, err := Train(samples, 50, 64, 42)
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	f2, err := Train(samples, 50, 64, 42)
	if err != nil {
		t.Fatalf("Train: %v", err)
	}

	probes := clusterAround(rng, []float64{5, 5, 5}, 3.0, 20)
	for i, p := range probes {
		if s1, s2 := f1.Score(p), f2.Score(p); s1 != s2 {
			t.Errorf("probe %d: same seed produced different scores %v vs %v", i, s1, s2)
		}
	}
}

func TestScoresAreInUnitInterval(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	samples := clusterAround(rng, []float64{0, 0}, 1.0, 300)

	f, err := Train(samples, 100, 128, 1)
	if err != nil {
		t.Fatalf("Train: %v", err)
	}

	probes := append(clusterAround(rng, []float64{0, 0}, 1.0, 50),
		clusterAround(rng, []float64{50, 50}, 1.0, 50)...)
	for i, p := range probes {
		s := f.Score(p)
		if s <= 0 || s >= 1 {
			t.Errorf("probe %d: score %v outside (0, 1)", i, s)
		}
	}
}

func TestOutliersScoreHigherThanInliers(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	samples := clusterAround(rng, []float64{10, 10, 10, 10}, 0.5, 500)

	f, err := Train(samples, 100, 256, 99)
	if err != nil {
		t.Fatalf("Train: %v", err)
	}

	inlier := FeatureVector{10, 10, 10, 10}
	outlier := FeatureVector{40, -20, 35, 0}
	if si, so := f.Score(inlier), f.Score(outlier); so <= si {
		t.Errorf("outlier score %v not above inlier score %v", so, si)
	}
}

func TestScoreContextHonorsDeadline(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	samples := clusterAround(rng, []float64{0, 0}, 1.0, 100)

	f, err := Train(samples, 50, 64, 1)
	if err != nil {
		t.Fatalf("Train: %v", err)
	}

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	if _, err := f.ScoreContext(ctx, samples[0]); !errors.Is(err, ErrScoringTimeout) {
		t.Errorf("expired deadline: got %v, want ErrScoringTimeout", err)
	}

	// A live context scores identically to the pure path.
	got, err := f.ScoreContext(context.Background(), samples[0])
	if err != nil {
		t.Fatalf("ScoreContext: %v", err)
	}
	if want := f.Score(samples[0]); got != want {
		t.Errorf("ScoreContext = %v, Score = %v", got, want)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(21))
	samples := clusterAround(rng, []float64{1, 2, 3}, 1.0, 150)

	f, err := Train(samples, 40, 64, 17)
	if err != nil {
		t.Fatalf("Train: %v", err)
	}

	blob, err := f.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := DecodeForest(blob)
	if err != nil {
		t.Fatalf("DecodeForest: %v", err)
	}

	if decoded.TreeCount() != f.TreeCount() ||
		decoded.SubsampleSize() != f.SubsampleSize() ||
		decoded.FeatureCount() != f.FeatureCount() ||
		decoded.Seed() != f.Seed() {
		t.Fatalf("decoded forest parameters differ: %+v", decoded)
	}

	probes := clusterAround(rng, []float64{1, 2, 3}, 2.0, 25)
	for i, p := range probes {
		if a, b := f.Score(p), decoded.Score(p); a != b {
			t.Errorf("probe %d: decoded forest scored %v, original %v", i, b, a)
		}
	}
}

func TestAveragePathLengthEdgeCases(t *testing.T) {
	if got := averagePathLength(0); got != 0 {
		t.Errorf("c(0) = %v, want 0", got)
	}
	if got := averagePathLength(1); got != 0 {
		t.Errorf("c(1) = %v, want 0", got)
	}
	if got := averagePathLength(2); got != 1 {
		t.Errorf("c(2) = %v, want 1", got)
	}
	if c3, c10 := averagePathLength(3), averagePathLength(10); c3 >= c10 {
		t.Errorf("c(n) not increasing: c(3)=%v c(10)=%v", c3, c10)
	}
}

func TestSchemaVector(t *testing.T) {
	schema := NewSchema("cpu_usage", "memory_usage")

	v, err := schema.Vector(map[string]float64{"cpu_usage": 0.5, "memory_usage": 0.7})
	if err != nil {
		t.Fatalf("Vector: %v", err)
	}
	if v[0] != 0.5 || v[1] != 0.7 {
		t.Errorf("vector out of schema order: %v", v)
	}

	if _, err := schema.Vector(map[string]float64{"cpu_usage": 0.5}); !errors.Is(err, ErrMalformedFeatureVector) {
		t.Errorf("missing feature: got %v, want ErrMalformedFeatureVector", err)
	}
	if _, err := schema.Vector(map[string]float64{"cpu_usage": 0.5, "disk_io": 1}); !errors.Is(err, ErrMalformedFeatureVector) {
		t.Errorf("wrong feature name: got %v, want ErrMalformedFeatureVector", err)
	}

	if err := (FeatureVector{1}).Validate(schema); !errors.Is(err, ErrMalformedFeatureVector) {
		t.Errorf("short vector: got %v, want ErrMalformedFeatureVector", err)
	}
	if err := (FeatureVector{1, 2}).Validate(schema); err != nil {
		t.Errorf("valid vector rejected: %v", err)
	}
}
