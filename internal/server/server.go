package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Dileepreddy93/smartcloudops-ai-sub001/internal/abtest"
	"github.com/Dileepreddy93/smartcloudops-ai-sub001/internal/audit"
	"github.com/Dileepreddy93/smartcloudops-ai-sub001/internal/config"
	"github.com/Dileepreddy93/smartcloudops-ai-sub001/internal/db"
	"github.com/Dileepreddy93/smartcloudops-ai-sub001/internal/middleware"
	"github.com/Dileepreddy93/smartcloudops-ai-sub001/internal/ml"
	"github.com/Dileepreddy93/smartcloudops-ai-sub001/internal/predict"
	"github.com/Dileepreddy93/smartcloudops-ai-sub001/internal/registry"
	"github.com/Dileepreddy93/smartcloudops-ai-sub001/internal/train"
)

// Server represents the prediction service
type Server struct {
	config *config.Config
	log    *zap.Logger
	audit  audit.Logger

	// Core components
	store    db.Store
	registry *registry.Registry
	tests    *abtest.Controller
	predict  *predict.Service
	trainer  *train.Trainer
	hub      *streamHub
	limiter  *middleware.RateLimiter

	// HTTP server
	httpServer *http.Server

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// State
	mu      sync.RWMutex
	running bool
}

// NewServer creates a new prediction server and wires all components.
func NewServer(cfg *config.Config, log *zap.Logger, auditLog audit.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if log == nil {
		log = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	srv := &Server{
		config: cfg,
		log:    log,
		audit:  auditLog,
		ctx:    ctx,
		cancel: cancel,
	}

	if err := srv.initializeComponents(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	return srv, nil
}

// initializeComponents initializes all server components
func (s *Server) initializeComponents() error {
	// 1. Persistence
	store, err := db.NewSQLiteStore(s.config.Database.SQLitePath)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	s.store = store

	// 2. Model registry, loaded from the store
	s.registry = registry.New(registry.NewSQLStore(store), s.log)
	if err := s.registry.Load(s.ctx); err != nil {
		return fmt.Errorf("failed to load registry: %w", err)
	}

	// 3. A/B test controller with durable outcomes
	s.tests = abtest.New(s.registry, outcomeSink{store: store}, s.log)

	// 4. Prediction stream hub, fed by the prediction service
	s.hub = newStreamHub(s.config.Server.AllowedOrigins, s.log)

	// 5. Prediction service and trainer
	s.predict = predict.New(s.registry, s.tests, s.hub, s.log)
	s.trainer = train.New(s.registry, s.log)

	// 6. Per-client rate limiting on the API surface
	if s.config.Server.RateLimitPerMinute > 0 {
		s.limiter = middleware.NewRateLimiter(s.config.Server.RateLimitPerMinute)
	}

	return nil
}

// outcomeSink adapts the database outcome store to the controller's sink.
type outcomeSink struct {
	store db.OutcomeStore
}

func (o outcomeSink) AppendOutcome(ctx context.Context, testID string, out abtest.Outcome) error {
	return o.store.AppendOutcome(ctx, &db.OutcomeRecord{
		TestID:      testID,
		Version:     out.Version,
		Prediction:  out.Prediction,
		ActualLabel: out.ActualLabel,
		Confidence:  out.Confidence,
		Timestamp:   out.Timestamp,
	})
}

// Start starts the server
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.running = true
	s.mu.Unlock()

	mux := http.NewServeMux()
	s.registerHandlers(mux)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Server.Port),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.log.Info("starting HTTP server", zap.Int("port", s.config.Server.Port))
		var err error
		if s.config.Server.TLSEnabled {
			err = s.httpServer.ListenAndServeTLS(s.config.Server.TLSCertPath, s.config.Server.TLSKeyPath)
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.log.Error("HTTP server error", zap.Error(err))
		}
	}()

	if s.audit != nil {
		_ = s.audit.Log(s.ctx, audit.NewEvent(audit.EventServerStarted).
			WithResult(audit.ResultSuccess).
			WithMetadata("port", s.config.Server.Port))
	}
	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is not running")
	}
	s.running = false
	s.mu.Unlock()

	s.log.Info("stopping server")

	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.log.Error("error shutting down HTTP server", zap.Error(err))
		}
	}

	s.cancel()
	s.hub.closeAll()
	if s.limiter != nil {
		s.limiter.Stop()
	}
	s.wg.Wait()

	if s.audit != nil {
		_ = s.audit.Log(context.Background(), audit.NewEvent(audit.EventServerShutdown).
			WithResult(audit.ResultSuccess))
	}
	if err := s.store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}

	s.log.Info("server stopped")
	return nil
}

// Wait blocks until the server is stopped
func (s *Server) Wait() {
	<-s.ctx.Done()
}

// IsRunning returns whether the server is running
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// schema returns the configured training schema.
func (s *Server) schema() ml.Schema {
	return ml.NewSchema(s.config.ML.FeatureSchema...)
}

// policy maps the configured policy name to a threshold policy.
func (s *Server) policy() ml.Policy {
	switch s.config.Threshold.Policy {
	case "target_count":
		return ml.TargetCount(s.config.Threshold.Targets...)
	case "recall_floor":
		return ml.RecallWithPrecisionFloor(s.config.Threshold.PrecisionFloor)
	default:
		return ml.MaximizeF1()
	}
}

// limited wraps an API handler with the rate limiter when one is configured.
func (s *Server) limited(next http.HandlerFunc) http.HandlerFunc {
	if s.limiter == nil {
		return next
	}
	return s.limiter.Middleware(next)
}

// registerHandlers registers HTTP handlers
func (s *Server) registerHandlers(mux *http.ServeMux) {
	// Health and readiness
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)

	// Prometheus metrics
	mux.Handle("/metrics", promhttp.Handler())

	// Prediction endpoints
	mux.HandleFunc("/api/v1/predict", s.limited(s.handlePredict))
	mux.HandleFunc("/api/v1/predictions/stream", s.hub.handleStream)

	// Model lifecycle endpoints
	mux.HandleFunc("/api/v1/models", s.limited(s.handleListModels))
	mux.HandleFunc("/api/v1/models/", s.limited(s.handleModelByVersion))
	mux.HandleFunc("/api/v1/models/train", s.limited(s.handleTrain))
	mux.HandleFunc("/api/v1/models/promote", s.limited(s.handlePromote))

	// A/B test endpoints
	mux.HandleFunc("/api/v1/abtests", s.limited(s.handleABTests))
	mux.HandleFunc("/api/v1/abtests/", s.limited(s.handleABTestByID))
}
