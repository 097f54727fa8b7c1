// Package main is the entry point for the anomaly prediction server.
//
// Responsibilities:
//   - Load and validate configuration from YAML and environment variables
//   - Open the SQLite model store and rehydrate the model registry
//   - Start the REST API server for training, promotion and prediction
//   - Start the WebSocket handler for real-time prediction streaming
//   - Register and serve health check and Prometheus metrics endpoints
//   - Implement graceful shutdown with context cancellation
//
// Graceful Shutdown:
//   - Stops accepting new requests
//   - Disconnects prediction stream subscribers
//   - Finalizes audit logs and closes the store
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/Dileepreddy93/smartcloudops-ai-sub001/internal/audit"
	"github.com/Dileepreddy93/smartcloudops-ai-sub001/internal/config"
	"github.com/Dileepreddy93/smartcloudops-ai-sub001/internal/server"
)

func main() {
	configPath := flag.String("config", "/etc/smartcloudops/config.yaml", "path to config file")
	flag.Parse()

	ctx := context.Background()

	// Load configuration
	mgr, err := config.NewConfigManager(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create config manager: %v\n", err)
		os.Exit(1)
	}
	if err := mgr.Load(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := mgr.Validate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	cfg := mgr.Get(ctx)

	log, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	auditLog, err := audit.NewLogger(&audit.Config{
		AuditLogPath: cfg.Audit.LogPath,
		MaxSize:      cfg.Audit.MaxSizeMB,
		MaxBackups:   cfg.Audit.MaxBackups,
		MaxAge:       cfg.Audit.MaxAgeDays,
		Compress:     cfg.Audit.Compress,
	}, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create audit logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = auditLog.Close() }()

	// Create server with all components wired together
	srv, err := server.NewServer(cfg, log, auditLog)
	if err != nil {
		log.Fatal("failed to create server", zap.Error(err))
	}

	if err := srv.Start(); err != nil {
		log.Fatal("failed to start server", zap.Error(err))
	}

	// Wait for shutdown signal (Ctrl+C or SIGTERM)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Info("received shutdown signal")

	if err := srv.Stop(); err != nil {
		log.Error("error stopping server", zap.Error(err))
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

// newLogger builds the application logger from the logging config.
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Logging.Format == "text" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	zc.Level = level
	return zc.Build()
}
