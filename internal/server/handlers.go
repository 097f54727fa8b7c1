package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Dileepreddy93/smartcloudops-ai-sub001/internal/abtest"
	"github.com/Dileepreddy93/smartcloudops-ai-sub001/internal/audit"
	"github.com/Dileepreddy93/smartcloudops-ai-sub001/internal/metrics"
	"github.com/Dileepreddy93/smartcloudops-ai-sub001/internal/ml"
	"github.com/Dileepreddy93/smartcloudops-ai-sub001/internal/predict"
	"github.com/Dileepreddy93/smartcloudops-ai-sub001/internal/registry"
	"github.com/Dileepreddy93/smartcloudops-ai-sub001/internal/train"
)

// Error codes returned in the error envelope.
const (
	CodeInvalidRequest   = "INVALID_REQUEST"
	CodeMissingFeatures  = "MISSING_FEATURES"
	CodeNoModelAvailable = "NO_MODEL_AVAILABLE"
	CodeScoringTimeout   = "SCORING_TIMEOUT"
	CodeModelNotFound    = "MODEL_NOT_FOUND"
	CodeModelInUse       = "MODEL_IN_USE"
	CodeTrainingFailed   = "TRAINING_FAILED"
	CodeDuplicateTestID  = "DUPLICATE_TEST_ID"
	CodeUnknownTest      = "UNKNOWN_TEST"
	CodeTestNotRunning   = "TEST_NOT_RUNNING"
	CodeInternal         = "INTERNAL"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, code string, err error) {
	metrics.PredictionErrors.WithLabelValues(code).Inc()
	s.log.Warn("request failed", zap.String("code", code), zap.Error(err))
	writeJSON(w, status, errorResponse{Error: err.Error(), Code: code})
}

// handleHealth reports liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

// handleReady reports readiness: the store must answer and at least one model
// must be servable for full readiness.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "not_ready",
			"reason": "database unreachable",
		})
		return
	}
	ready := true
	if _, _, err := s.registry.GetProduction(); err != nil {
		if _, _, err := s.registry.GetActive(); err != nil {
			ready = false
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "ready",
		"model_serving": ready,
	})
}

// PredictRequest is a request to score one set of features.
type PredictRequest struct {
	Features map[string]float64 `json:"features"`
	TestID   string             `json:"test_id,omitempty"`
	// TimeoutMs caps scoring latency; 0 means no deadline beyond the request's.
	TimeoutMs int `json:"timeout_ms,omitempty"`
}

// handlePredict serves a single prediction.
func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req PredictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, CodeInvalidRequest, err)
		return
	}
	if len(req.Features) == 0 {
		s.writeError(w, http.StatusBadRequest, CodeMissingFeatures, errors.New("features cannot be empty"))
		return
	}

	ctx := r.Context()
	if req.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	result, err := s.predict.Predict(ctx, req.Features, req.TestID)
	if err != nil {
		switch {
		case errors.Is(err, ml.ErrMalformedFeatureVector):
			s.writeError(w, http.StatusBadRequest, CodeMissingFeatures, err)
		case errors.Is(err, predict.ErrNoModelAvailable):
			s.writeError(w, http.StatusServiceUnavailable, CodeNoModelAvailable, err)
		case errors.Is(err, ml.ErrScoringTimeout):
			s.writeError(w, http.StatusGatewayTimeout, CodeScoringTimeout, err)
		default:
			s.writeError(w, http.StatusInternalServerError, CodeInternal, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleListModels lists registered model versions, newest first.
func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"models": s.registry.List(),
	})
}

// TrainRequest submits a training run. Training samples are raw vectors in
// schema order; validation samples carry ground-truth labels.
type TrainRequest struct {
	Training   [][]float64 `json:"training"`
	Validation []struct {
		Features []float64 `json:"features"`
		Label    int       `json:"label"`
	} `json:"validation"`
	TreeCount     int   `json:"tree_count,omitempty"`
	SubsampleSize int   `json:"subsample_size,omitempty"`
	Seed          int64 `json:"seed,omitempty"`
}

// handleTrain runs training synchronously and registers the new version.
func (s *Server) handleTrain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req TrainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, CodeInvalidRequest, err)
		return
	}

	training := make([]ml.FeatureVector, len(req.Training))
	for i, v := range req.Training {
		training[i] = ml.FeatureVector(v)
	}
	validation := make([]ml.LabeledVector, len(req.Validation))
	for i, v := range req.Validation {
		validation[i] = ml.LabeledVector{Features: ml.FeatureVector(v.Features), Label: v.Label}
	}

	cfg := train.Config{
		TreeCount:     req.TreeCount,
		SubsampleSize: req.SubsampleSize,
		Seed:          req.Seed,
		GridStep:      s.config.Threshold.GridStep,
		Schema:        s.schema(),
		Policy:        s.policy(),
	}
	if cfg.TreeCount == 0 {
		cfg.TreeCount = s.config.ML.NumTrees
	}
	if cfg.SubsampleSize == 0 {
		cfg.SubsampleSize = s.config.ML.SampleSize
	}
	if cfg.Seed == 0 {
		cfg.Seed = s.config.ML.Seed
	}

	started := time.Now()
	meta, err := s.trainer.TrainAndRegister(r.Context(), cfg, training, validation)
	if err != nil {
		if s.audit != nil {
			_ = s.audit.LogTrainingFailed(r.Context(), err)
		}
		s.writeError(w, http.StatusBadRequest, CodeTrainingFailed, err)
		return
	}
	if s.audit != nil {
		_ = s.audit.LogTrainingCompleted(r.Context(), meta.Version, time.Since(started))
		_ = s.audit.LogModelRegistered(r.Context(), meta.Version)
	}
	writeJSON(w, http.StatusCreated, meta)
}

// handleModelByVersion routes /api/v1/models/{version}: GET returns metadata,
// DELETE removes a retired version. Serving versions cannot be deleted.
func (s *Server) handleModelByVersion(w http.ResponseWriter, r *http.Request) {
	version := strings.TrimPrefix(r.URL.Path, "/api/v1/models/")
	if version == "" || strings.Contains(version, "/") {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		_, meta, err := s.registry.Get(version)
		if err != nil {
			s.writeError(w, http.StatusNotFound, CodeModelNotFound, err)
			return
		}
		writeJSON(w, http.StatusOK, meta)

	case http.MethodDelete:
		if err := s.registry.Delete(r.Context(), version); err != nil {
			switch {
			case errors.Is(err, registry.ErrModelNotFound):
				s.writeError(w, http.StatusNotFound, CodeModelNotFound, err)
			case errors.Is(err, registry.ErrModelInUse):
				s.writeError(w, http.StatusConflict, CodeModelInUse, err)
			default:
				s.writeError(w, http.StatusInternalServerError, CodeInternal, err)
			}
			return
		}
		if s.audit != nil {
			_ = s.audit.Log(r.Context(), audit.NewEvent(audit.EventModelDeleted).
				WithModelVersion(version).
				WithResult(audit.ResultSuccess))
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "deleted",
			"version": version,
		})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// PromoteRequest promotes a version to active or production serving.
type PromoteRequest struct {
	Version      string `json:"version"`
	ToProduction bool   `json:"to_production"`
}

// handlePromote promotes a model version.
func (s *Server) handlePromote(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req PromoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, CodeInvalidRequest, err)
		return
	}
	if req.Version == "" {
		s.writeError(w, http.StatusBadRequest, CodeInvalidRequest, errors.New("version is required"))
		return
	}

	if err := s.registry.Promote(r.Context(), req.Version, req.ToProduction); err != nil {
		if errors.Is(err, registry.ErrModelNotFound) {
			s.writeError(w, http.StatusNotFound, CodeModelNotFound, err)
			return
		}
		s.writeError(w, http.StatusInternalServerError, CodeInternal, err)
		return
	}
	if s.audit != nil {
		_ = s.audit.LogModelPromoted(r.Context(), req.Version, req.ToProduction)
	}

	_, meta, err := s.registry.Get(req.Version)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, CodeInternal, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

// StartTestRequest starts an A/B test between two registered versions.
type StartTestRequest struct {
	ID              string  `json:"id"`
	VersionA        string  `json:"version_a"`
	VersionB        string  `json:"version_b"`
	Split           float64 `json:"split"`
	DurationSeconds int     `json:"duration_seconds,omitempty"`
	Seed            int64   `json:"seed,omitempty"`
}

// handleABTests handles the test collection: POST starts, GET lists.
func (s *Server) handleABTests(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"tests": s.tests.ListTests(),
		})
	case http.MethodPost:
		var req StartTestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, CodeInvalidRequest, err)
			return
		}
		if req.ID == "" {
			s.writeError(w, http.StatusBadRequest, CodeInvalidRequest, errors.New("id is required"))
			return
		}
		duration := time.Duration(req.DurationSeconds) * time.Second
		if req.DurationSeconds <= 0 {
			duration = time.Duration(s.config.ABTest.DefaultDurationSeconds) * time.Second
		}

		test, err := s.tests.StartTest(req.ID, req.VersionA, req.VersionB, req.Split, duration, req.Seed)
		if err != nil {
			switch {
			case errors.Is(err, abtest.ErrDuplicateTestID):
				s.writeError(w, http.StatusConflict, CodeDuplicateTestID, err)
			case errors.Is(err, registry.ErrModelNotFound):
				s.writeError(w, http.StatusNotFound, CodeModelNotFound, err)
			case errors.Is(err, abtest.ErrInvalidSplit):
				s.writeError(w, http.StatusBadRequest, CodeInvalidRequest, err)
			default:
				s.writeError(w, http.StatusInternalServerError, CodeInternal, err)
			}
			return
		}
		if s.audit != nil {
			_ = s.audit.LogTestStarted(r.Context(), test.ID, test.VersionA, test.VersionB)
		}
		writeJSON(w, http.StatusCreated, test)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// OutcomeRequest attaches a labeled outcome to a test arm.
type OutcomeRequest struct {
	Version     string `json:"version"`
	Prediction  int    `json:"prediction"`
	ActualLabel int    `json:"actual_label"`
}

// handleABTestByID routes /api/v1/abtests/{id}[/metrics|/stop|/outcomes].
func (s *Server) handleABTestByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/abtests/")
	parts := strings.SplitN(rest, "/", 2)
	id := parts[0]
	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}
	if id == "" {
		http.NotFound(w, r)
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		test, err := s.tests.GetTest(id)
		if err != nil {
			s.writeError(w, http.StatusNotFound, CodeUnknownTest, err)
			return
		}
		writeJSON(w, http.StatusOK, test)

	case action == "metrics" && r.Method == http.MethodGet:
		m, err := s.tests.ComputeMetrics(id)
		if err != nil {
			s.writeError(w, http.StatusNotFound, CodeUnknownTest, err)
			return
		}
		writeJSON(w, http.StatusOK, m)

	case action == "stop" && r.Method == http.MethodPost:
		test, err := s.tests.StopTest(id)
		if err != nil {
			s.writeError(w, http.StatusNotFound, CodeUnknownTest, err)
			return
		}
		if s.audit != nil {
			_ = s.audit.LogTestStopped(r.Context(), id)
		}
		writeJSON(w, http.StatusOK, test)

	case action == "outcomes" && r.Method == http.MethodGet:
		if _, err := s.tests.GetTest(id); err != nil {
			s.writeError(w, http.StatusNotFound, CodeUnknownTest, err)
			return
		}
		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				s.writeError(w, http.StatusBadRequest, CodeInvalidRequest,
					errors.New("limit must be a non-negative integer"))
				return
			}
			limit = n
		}
		outcomes, err := s.store.QueryOutcomes(r.Context(), id, limit)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, CodeInternal, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"test_id":  id,
			"outcomes": outcomes,
		})

	case action == "outcomes" && r.Method == http.MethodPost:
		var req OutcomeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, CodeInvalidRequest, err)
			return
		}
		if err := s.predict.LabelOutcome(r.Context(), id, req.Version, req.Prediction, req.ActualLabel); err != nil {
			s.writeError(w, http.StatusNotFound, CodeUnknownTest, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}
