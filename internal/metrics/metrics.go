package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prediction platform metrics for production monitoring
var (
	// Prediction metrics
	PredictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smartcloudops_predictions_total",
			Help: "Total number of predictions served",
		},
		[]string{"model_version", "classification"},
	)

	PredictionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "smartcloudops_prediction_duration_seconds",
			Help:    "Prediction latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14), // 100µs to ~1.6s
		},
	)

	ScoringTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "smartcloudops_scoring_timeouts_total",
			Help: "Total number of predictions aborted on deadline",
		},
	)

	PredictionErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smartcloudops_prediction_errors_total",
			Help: "Total number of failed prediction requests",
		},
		[]string{"code"},
	)

	// Registry metrics
	ModelsRegistered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "smartcloudops_models_registered_total",
			Help: "Total number of model versions registered",
		},
	)

	ModelPromotions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smartcloudops_model_promotions_total",
			Help: "Total number of model promotions",
		},
		[]string{"target"}, // target: active/production
	)

	RegistryModels = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "smartcloudops_registry_models",
			Help: "Current number of registered model versions",
		},
	)

	// Training metrics
	TrainingRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smartcloudops_training_runs_total",
			Help: "Total number of training runs",
		},
		[]string{"status"},
	)

	TrainingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "smartcloudops_training_duration_seconds",
			Help:    "Training run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
	)

	// A/B test metrics
	ABAssignments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smartcloudops_abtest_assignments_total",
			Help: "Total number of A/B test traffic assignments",
		},
		[]string{"test_id", "version"},
	)

	ABOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smartcloudops_abtest_outcomes_total",
			Help: "Total number of recorded A/B test outcomes",
		},
		[]string{"test_id"},
	)

	// WebSocket metrics
	StreamConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "smartcloudops_stream_connections",
			Help: "Current number of active prediction stream connections",
		},
	)
)
