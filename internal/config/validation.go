package config

import (
	"fmt"
	"os"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// Validate validates the configuration and returns validation errors.
func (c *Config) Validate() []error {
	var errs []error

	// Validate server configuration
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", c.Server.Port),
		})
	}

	if c.Server.TLSEnabled {
		if c.Server.TLSCertPath == "" {
			errs = append(errs, &ValidationError{
				Field:   "server.tls_cert_path",
				Message: "tls_cert_path is required when tls_enabled is true",
			})
		} else if _, err := os.Stat(c.Server.TLSCertPath); os.IsNotExist(err) {
			errs = append(errs, &ValidationError{
				Field:   "server.tls_cert_path",
				Message: fmt.Sprintf("certificate file does not exist: %s", c.Server.TLSCertPath),
			})
		}

		if c.Server.TLSKeyPath == "" {
			errs = append(errs, &ValidationError{
				Field:   "server.tls_key_path",
				Message: "tls_key_path is required when tls_enabled is true",
			})
		} else if _, err := os.Stat(c.Server.TLSKeyPath); os.IsNotExist(err) {
			errs = append(errs, &ValidationError{
				Field:   "server.tls_key_path",
				Message: fmt.Sprintf("key file does not exist: %s", c.Server.TLSKeyPath),
			})
		}
	}

	if c.Server.RateLimitPerMinute < 0 {
		errs = append(errs, &ValidationError{
			Field:   "server.rate_limit_per_minute",
			Message: fmt.Sprintf("rate_limit_per_minute cannot be negative, got %d", c.Server.RateLimitPerMinute),
		})
	}

	// Validate database configuration
	if c.Database.SQLitePath == "" {
		errs = append(errs, &ValidationError{
			Field:   "database.sqlite_path",
			Message: "sqlite_path is required",
		})
	}

	// Validate ML configuration
	if c.ML.NumTrees < 1 {
		errs = append(errs, &ValidationError{
			Field:   "ml.num_trees",
			Message: fmt.Sprintf("num_trees must be at least 1, got %d", c.ML.NumTrees),
		})
	}

	if c.ML.SampleSize < 2 {
		errs = append(errs, &ValidationError{
			Field:   "ml.sample_size",
			Message: fmt.Sprintf("sample_size must be at least 2, got %d", c.ML.SampleSize),
		})
	}

	if len(c.ML.FeatureSchema) == 0 {
		errs = append(errs, &ValidationError{
			Field:   "ml.feature_schema",
			Message: "feature_schema must name at least one feature",
		})
	}
	seen := make(map[string]bool, len(c.ML.FeatureSchema))
	for _, name := range c.ML.FeatureSchema {
		if name == "" {
			errs = append(errs, &ValidationError{
				Field:   "ml.feature_schema",
				Message: "feature names cannot be empty",
			})
			continue
		}
		if seen[name] {
			errs = append(errs, &ValidationError{
				Field:   "ml.feature_schema",
				Message: fmt.Sprintf("duplicate feature name: %s", name),
			})
		}
		seen[name] = true
	}

	// Validate threshold configuration
	if c.Threshold.GridStep <= 0 || c.Threshold.GridStep > 0.5 {
		errs = append(errs, &ValidationError{
			Field:   "threshold.grid_step",
			Message: fmt.Sprintf("grid_step must be in (0, 0.5], got %g", c.Threshold.GridStep),
		})
	}

	validPolicies := map[string]bool{
		"max_f1":       true,
		"target_count": true,
		"recall_floor": true,
	}
	if !validPolicies[c.Threshold.Policy] {
		errs = append(errs, &ValidationError{
			Field:   "threshold.policy",
			Message: fmt.Sprintf("invalid policy '%s', must be one of: max_f1, target_count, recall_floor", c.Threshold.Policy),
		})
	}

	if c.Threshold.PrecisionFloor < 0 || c.Threshold.PrecisionFloor > 1 {
		errs = append(errs, &ValidationError{
			Field:   "threshold.precision_floor",
			Message: fmt.Sprintf("precision_floor must be in [0, 1], got %g", c.Threshold.PrecisionFloor),
		})
	}

	// Validate A/B test configuration
	if c.ABTest.DefaultDurationSeconds < 1 {
		errs = append(errs, &ValidationError{
			Field:   "abtest.default_duration_seconds",
			Message: fmt.Sprintf("default_duration_seconds must be at least 1, got %d", c.ABTest.DefaultDurationSeconds),
		})
	}

	// Validate audit configuration
	if c.Audit.LogPath == "" {
		errs = append(errs, &ValidationError{
			Field:   "audit.log_path",
			Message: "log_path is required",
		})
	}

	// Validate logging configuration
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, &ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level '%s', must be one of: debug, info, warn, error", c.Logging.Level),
		})
	}

	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, &ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format '%s', must be one of: json, text", c.Logging.Format),
		})
	}

	return errs
}
