package config

import "context"

// Package config provides configuration management for the prediction service.
//
// Configuration Sources (priority order, high to low):
//   1. Environment variables (SMARTCLOUDOPS_* prefix)
//   2. YAML config files (default: /etc/smartcloudops/config.yaml)
//   3. Built-in defaults (lowest priority)
//
// Main Configuration Sections:
//
//   1. Server
//      - port: Listen port (default 8081)
//      - tls_enabled: Enable TLS
//      - tls_cert_path: Path to certificate
//      - tls_key_path: Path to key
//      - allowed_origins: Origins permitted to open WebSocket connections
//      - rate_limit_per_minute: Per-client request budget on API endpoints
//
//   2. Database
//      - sqlite_path: Path to SQLite file
//
//   3. ML
//      - num_trees: Ensemble size for training runs
//      - sample_size: Per-tree subsample size
//      - seed: Fixed RNG seed (0 = derive from clock)
//      - feature_schema: Ordered feature names every model trains on
//
//   4. Threshold
//      - grid_step: Scan granularity for threshold optimization
//      - policy: "max_f1" | "target_count" | "recall_floor"
//      - precision_floor: Minimum precision for the recall_floor policy
//      - targets: Metric cutoffs for the target_count policy
//
//   5. ABTest
//      - default_duration_seconds: Test window when the request omits one
//
//   6. Audit
//      - log_path: Append-only audit trail location
//      - max_size_mb / max_backups / max_age_days / compress: rotation
//
//   7. Logging
//      - level: "debug" | "info" | "warn" | "error"
//      - format: "json" | "text"
//
// Config struct contains all configuration fields
type Config struct {
	// Server configuration
	Server struct {
		Port        int
		TLSEnabled  bool
		TLSCertPath string
		TLSKeyPath  string
		// AllowedOrigins is a list of origins permitted to open WebSocket connections.
		// Use ["*"] to allow any origin (development only).
		AllowedOrigins []string
		// RateLimitPerMinute caps API requests per client IP. Zero disables.
		RateLimitPerMinute int
	}

	// Database configuration
	Database struct {
		SQLitePath string
	}

	// ML training configuration
	ML struct {
		NumTrees      int
		SampleSize    int
		Seed          int64
		FeatureSchema []string
	}

	// Threshold optimization configuration
	Threshold struct {
		GridStep       float64
		Policy         string
		PrecisionFloor float64
		Targets        []float64
	}

	// A/B testing configuration
	ABTest struct {
		DefaultDurationSeconds int
	}

	// Audit trail configuration
	Audit struct {
		LogPath    string
		MaxSizeMB  int
		MaxBackups int
		MaxAgeDays int
		Compress   bool
	}

	// Logging configuration
	Logging struct {
		Level  string
		Format string
	}
}

// ConfigManager defines the interface for configuration access.
type ConfigManager interface {
	// Load loads configuration from all sources.
	Load(ctx context.Context) error

	// Get returns the current configuration.
	Get(ctx context.Context) *Config

	// Validate validates configuration is correct and complete.
	Validate(ctx context.Context) error

	// Watch watches for configuration changes and reloads (if supported).
	Watch(ctx context.Context) <-chan Config

	// Reload reloads configuration from sources.
	Reload(ctx context.Context) error
}

// NewConfigManager creates a new configuration manager.
func NewConfigManager(configPath string) (ConfigManager, error) {
	mgr := &viperConfigManager{
		configPath: configPath,
		config:     DefaultConfig(),
		watchChan:  make(chan Config, 1),
	}
	return mgr, nil
}

// NewConfigManagerWithDefaults creates a config manager with default config path.
func NewConfigManagerWithDefaults() (ConfigManager, error) {
	return NewConfigManager("/etc/smartcloudops/config.yaml")
}
