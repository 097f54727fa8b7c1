package predict

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/Dileepreddy93/smartcloudops-ai-sub001/internal/abtest"
	"github.com/Dileepreddy93/smartcloudops-ai-sub001/internal/metrics"
	"github.com/Dileepreddy93/smartcloudops-ai-sub001/internal/ml"
	"github.com/Dileepreddy93/smartcloudops-ai-sub001/internal/registry"
)

// ErrNoModelAvailable is returned when neither a production nor an active
// model exists and no test routed the request.
var ErrNoModelAvailable = errors.New("no model available for prediction")

// Result is one served prediction. Prediction is 1 for anomaly, 0 for normal.
type Result struct {
	Version    string    `json:"model_version"`
	Score      float64   `json:"score"`
	Threshold  float64   `json:"threshold"`
	Prediction int       `json:"prediction"`
	IsAnomaly  bool      `json:"is_anomaly"`
	Confidence float64   `json:"confidence"`
	TestID     string    `json:"test_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Publisher receives every served prediction, e.g. for live streaming.
type Publisher interface {
	Publish(Result)
}

// Service resolves which model serves a request, scores the features and
// classifies against the model's stored threshold.
type Service struct {
	registry *registry.Registry
	tests    *abtest.Controller
	pub      Publisher
	log      *zap.Logger
}

// New creates a prediction service. pub may be nil.
func New(reg *registry.Registry, tests *abtest.Controller, pub Publisher, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{registry: reg, tests: tests, pub: pub, log: log}
}

// Predict scores named features. With a test ID the test's traffic split
// picks the version; a test that cannot take traffic (unknown, stopped,
// expired) falls through to the production model, then the active one. A
// prediction served by a test arm also records an unlabeled outcome so ground
// truth can be attached later.
func (s *Service) Predict(ctx context.Context, features map[string]float64, testID string) (Result, error) {
	start := time.Now()

	artifact, meta, viaTest, err := s.resolve(testID)
	if err != nil {
		return Result{}, err
	}
	if !viaTest {
		testID = ""
	}

	vector, err := meta.Schema.Vector(features)
	if err != nil {
		return Result{}, err
	}

	score, err := artifact.Forest.ScoreContext(ctx, vector)
	if err != nil {
		if errors.Is(err, ml.ErrScoringTimeout) {
			metrics.ScoringTimeouts.Inc()
		}
		return Result{}, err
	}

	res := Result{
		Version:    meta.Version,
		Score:      score,
		Threshold:  meta.Threshold,
		Confidence: confidence(score, meta.Threshold),
		TestID:     testID,
		Timestamp:  time.Now().UTC(),
	}
	if score >= meta.Threshold {
		res.Prediction = 1
		res.IsAnomaly = true
	}

	classification := "normal"
	if res.IsAnomaly {
		classification = "anomaly"
	}
	metrics.PredictionsTotal.WithLabelValues(meta.Version, classification).Inc()
	metrics.PredictionDuration.Observe(time.Since(start).Seconds())

	if testID != "" {
		if err := s.tests.RecordOutcome(ctx, testID, abtest.Outcome{
			Version:    meta.Version,
			Prediction: res.Prediction,
			Confidence: res.Confidence,
			Timestamp:  res.Timestamp,
		}); err != nil {
			s.log.Warn("record test outcome failed",
				zap.String("test_id", testID), zap.Error(err))
		}
	}

	if s.pub != nil {
		s.pub.Publish(res)
	}
	return res, nil
}

// resolve picks the serving model: test assignment first, then production,
// then active. Assignment failures that mean the test simply cannot serve
// (unknown, stopped, expired, or its arm deregistered) drop into the standing
// chain rather than failing the prediction.
func (s *Service) resolve(testID string) (registry.ScorerArtifact, registry.Metadata, bool, error) {
	if testID != "" {
		version, err := s.tests.AssignVersion(testID)
		if err == nil {
			artifact, meta, gerr := s.registry.Get(version)
			if gerr == nil {
				return artifact, meta, true, nil
			}
			err = gerr
		}
		if !errors.Is(err, abtest.ErrUnknownTest) &&
			!errors.Is(err, abtest.ErrTestNotRunning) &&
			!errors.Is(err, registry.ErrModelNotFound) {
			return registry.ScorerArtifact{}, registry.Metadata{}, false, err
		}
		s.log.Warn("test cannot serve traffic, using standing model",
			zap.String("test_id", testID), zap.Error(err))
	}

	artifact, meta, err := s.registry.GetProduction()
	if err == nil {
		return artifact, meta, false, nil
	}
	artifact, meta, err = s.registry.GetActive()
	if err == nil {
		return artifact, meta, false, nil
	}
	return registry.ScorerArtifact{}, registry.Metadata{}, false, ErrNoModelAvailable
}

// confidence measures how far a score sits from the decision boundary,
// normalized so a score at either extreme maps to 1.
func confidence(score, threshold float64) float64 {
	span := threshold
	if 1-threshold > span {
		span = 1 - threshold
	}
	if span <= 0 {
		return 0
	}
	c := (score - threshold) / span
	if c < 0 {
		c = -c
	}
	if c > 1 {
		c = 1
	}
	return c
}

// LabelOutcome attaches ground truth to a test after the fact.
func (s *Service) LabelOutcome(ctx context.Context, testID, version string, prediction, actualLabel int) error {
	label := actualLabel
	return s.tests.RecordOutcome(ctx, testID, abtest.Outcome{
		Version:     version,
		Prediction:  prediction,
		ActualLabel: &label,
		Timestamp:   time.Now().UTC(),
	})
}
