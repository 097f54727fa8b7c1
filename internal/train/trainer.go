package train

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Dileepreddy93/smartcloudops-ai-sub001/internal/metrics"
	"github.com/Dileepreddy93/smartcloudops-ai-sub001/internal/ml"
	"github.com/Dileepreddy93/smartcloudops-ai-sub001/internal/registry"
)

// Config controls one training run. Zero values fall back to sensible
// defaults; Seed 0 derives a seed from the clock so the run is still
// reproducible from the recorded metadata.
type Config struct {
	TreeCount     int
	SubsampleSize int
	Seed          int64
	GridStep      float64
	Schema        ml.Schema
	Policy        ml.Policy
}

// Trainer fits isolation forests and registers the result with its optimized
// threshold and validation metrics.
type Trainer struct {
	registry *registry.Registry
	log      *zap.Logger
}

// New creates a trainer bound to a registry.
func New(reg *registry.Registry, log *zap.Logger) *Trainer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Trainer{registry: reg, log: log}
}

// TrainAndRegister fits a forest on the training samples, tunes the decision
// threshold on the labeled validation set and registers the resulting version.
// The new version starts with both lifecycle flags cleared.
func (t *Trainer) TrainAndRegister(ctx context.Context, cfg Config, training []ml.FeatureVector, validation []ml.LabeledVector) (registry.Metadata, error) {
	start := time.Now()
	meta, err := t.run(ctx, cfg, training, validation)
	metrics.TrainingDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.TrainingRuns.WithLabelValues("failure").Inc()
		return registry.Metadata{}, err
	}
	metrics.TrainingRuns.WithLabelValues("success").Inc()
	return meta, nil
}

func (t *Trainer) run(ctx context.Context, cfg Config, training []ml.FeatureVector, validation []ml.LabeledVector) (registry.Metadata, error) {
	if cfg.TreeCount <= 0 {
		cfg.TreeCount = 100
	}
	if cfg.SubsampleSize <= 0 {
		cfg.SubsampleSize = 256
	}
	if cfg.SubsampleSize > len(training) {
		cfg.SubsampleSize = len(training)
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	if cfg.Policy == nil {
		cfg.Policy = ml.MaximizeF1()
	}

	forest, err := ml.Train(training, cfg.TreeCount, cfg.SubsampleSize, cfg.Seed)
	if err != nil {
		return registry.Metadata{}, fmt.Errorf("train forest: %w", err)
	}

	optimizer := ml.NewThresholdOptimizer(cfg.GridStep)
	result, err := optimizer.Optimize(forest, validation, cfg.Policy)
	if err != nil {
		return registry.Metadata{}, fmt.Errorf("optimize threshold: %w", err)
	}

	meta := registry.Metadata{
		Version:   newVersion(),
		Algorithm: registry.AlgorithmIsolationForest,
		CreatedAt: time.Now().UTC(),
		Accuracy:  result.Metrics.Accuracy,
		Precision: result.Metrics.Precision,
		Recall:    result.Metrics.Recall,
		F1:        result.Metrics.F1,
		AUC:       result.Metrics.AUC,
		Threshold: result.Threshold,
		Seed:      cfg.Seed,
		Schema:    cfg.Schema,
	}
	artifact := registry.ScorerArtifact{
		Algorithm: registry.AlgorithmIsolationForest,
		Forest:    forest,
	}
	if err := t.registry.Register(ctx, artifact, meta); err != nil {
		return registry.Metadata{}, fmt.Errorf("register %s: %w", meta.Version, err)
	}

	t.log.Info("training run complete",
		zap.String("version", meta.Version),
		zap.Int("trees", cfg.TreeCount),
		zap.Int("subsample", cfg.SubsampleSize),
		zap.Float64("threshold", meta.Threshold),
		zap.Float64("f1", meta.F1),
		zap.Float64("auc", meta.AUC),
	)
	return meta, nil
}

// newVersion builds a sortable timestamped version with a short unique suffix.
func newVersion() string {
	return fmt.Sprintf("v%s-%s", time.Now().UTC().Format("20060102-150405"), uuid.NewString()[:8])
}
