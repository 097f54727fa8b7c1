package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	// Test server defaults
	assert.Equal(t, 8081, cfg.Server.Port)
	assert.False(t, cfg.Server.TLSEnabled)
	assert.NotEmpty(t, cfg.Server.AllowedOrigins)
	assert.Equal(t, 600, cfg.Server.RateLimitPerMinute)

	// Test database defaults
	assert.NotEmpty(t, cfg.Database.SQLitePath)

	// Test ML defaults
	assert.Equal(t, 100, cfg.ML.NumTrees)
	assert.Equal(t, 256, cfg.ML.SampleSize)
	assert.Equal(t, int64(0), cfg.ML.Seed)
	assert.Contains(t, cfg.ML.FeatureSchema, "cpu_usage")

	// Test threshold defaults
	assert.Equal(t, 0.01, cfg.Threshold.GridStep)
	assert.Equal(t, "max_f1", cfg.Threshold.Policy)
	assert.Equal(t, 0.8, cfg.Threshold.PrecisionFloor)

	// Test A/B test defaults
	assert.Equal(t, 3600, cfg.ABTest.DefaultDurationSeconds)

	// Test audit defaults
	assert.Equal(t, "logs/audit.log", cfg.Audit.LogPath)
	assert.Equal(t, 100, cfg.Audit.MaxSizeMB)

	// Test logging defaults
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name      string
		modifyFn  func(*Config)
		wantError bool
		errorMsg  string
	}{
		{
			name:      "valid default config",
			modifyFn:  func(cfg *Config) {},
			wantError: false,
		},
		{
			name: "invalid port - too low",
			modifyFn: func(cfg *Config) {
				cfg.Server.Port = 0
			},
			wantError: true,
			errorMsg:  "port must be between 1 and 65535",
		},
		{
			name: "invalid port - too high",
			modifyFn: func(cfg *Config) {
				cfg.Server.Port = 70000
			},
			wantError: true,
			errorMsg:  "port must be between 1 and 65535",
		},
		{
			name: "missing sqlite path",
			modifyFn: func(cfg *Config) {
				cfg.Database.SQLitePath = ""
			},
			wantError: true,
			errorMsg:  "sqlite_path is required",
		},
		{
			name: "zero trees",
			modifyFn: func(cfg *Config) {
				cfg.ML.NumTrees = 0
			},
			wantError: true,
			errorMsg:  "num_trees must be at least 1",
		},
		{
			name: "sample size too small",
			modifyFn: func(cfg *Config) {
				cfg.ML.SampleSize = 1
			},
			wantError: true,
			errorMsg:  "sample_size must be at least 2",
		},
		{
			name: "empty feature schema",
			modifyFn: func(cfg *Config) {
				cfg.ML.FeatureSchema = nil
			},
			wantError: true,
			errorMsg:  "feature_schema must name at least one feature",
		},
		{
			name: "duplicate feature names",
			modifyFn: func(cfg *Config) {
				cfg.ML.FeatureSchema = []string{"cpu_usage", "cpu_usage"}
			},
			wantError: true,
			errorMsg:  "duplicate feature name",
		},
		{
			name: "grid step out of range",
			modifyFn: func(cfg *Config) {
				cfg.Threshold.GridStep = 0.9
			},
			wantError: true,
			errorMsg:  "grid_step must be in (0, 0.5]",
		},
		{
			name: "invalid policy",
			modifyFn: func(cfg *Config) {
				cfg.Threshold.Policy = "wishful_thinking"
			},
			wantError: true,
			errorMsg:  "invalid policy",
		},
		{
			name: "precision floor out of range",
			modifyFn: func(cfg *Config) {
				cfg.Threshold.PrecisionFloor = 1.5
			},
			wantError: true,
			errorMsg:  "precision_floor must be in [0, 1]",
		},
		{
			name: "zero test duration",
			modifyFn: func(cfg *Config) {
				cfg.ABTest.DefaultDurationSeconds = 0
			},
			wantError: true,
			errorMsg:  "default_duration_seconds must be at least 1",
		},
		{
			name: "invalid log level",
			modifyFn: func(cfg *Config) {
				cfg.Logging.Level = "loud"
			},
			wantError: true,
			errorMsg:  "invalid log level",
		},
		{
			name: "invalid log format",
			modifyFn: func(cfg *Config) {
				cfg.Logging.Format = "xml"
			},
			wantError: true,
			errorMsg:  "invalid log format",
		},
		{
			name: "tls without cert paths",
			modifyFn: func(cfg *Config) {
				cfg.Server.TLSEnabled = true
			},
			wantError: true,
			errorMsg:  "tls_cert_path is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modifyFn(cfg)

			errs := cfg.Validate()
			if tt.wantError {
				require.NotEmpty(t, errs)
				found := false
				for _, err := range errs {
					if strings.Contains(err.Error(), tt.errorMsg) {
						found = true
					}
				}
				assert.True(t, found, "expected error containing %q, got %v", tt.errorMsg, errs)
			} else {
				assert.Empty(t, errs)
			}
		})
	}
}

func TestLoadWithoutConfigFileUsesDefaults(t *testing.T) {
	mgr, err := NewConfigManager(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, mgr.Load(ctx))
	require.NoError(t, mgr.Validate(ctx))

	cfg := mgr.Get(ctx)
	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, "max_f1", cfg.Threshold.Policy)
}

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  port: 9090
ml:
  num_trees: 50
  feature_schema:
    - cpu_usage
    - memory_usage
threshold:
  policy: recall_floor
  precision_floor: 0.75
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	mgr, err := NewConfigManager(path)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, mgr.Load(ctx))
	require.NoError(t, mgr.Validate(ctx))

	cfg := mgr.Get(ctx)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 50, cfg.ML.NumTrees)
	assert.Equal(t, []string{"cpu_usage", "memory_usage"}, cfg.ML.FeatureSchema)
	assert.Equal(t, "recall_floor", cfg.Threshold.Policy)
	assert.Equal(t, 0.75, cfg.Threshold.PrecisionFloor)

	// Unspecified sections keep their defaults.
	assert.Equal(t, 256, cfg.ML.SampleSize)
	assert.Equal(t, 3600, cfg.ABTest.DefaultDurationSeconds)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("SMARTCLOUDOPS_DB_PATH", "/tmp/override.db")

	mgr, err := NewConfigManager(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, mgr.Load(ctx))

	cfg := mgr.Get(ctx)
	assert.Equal(t, "/tmp/override.db", cfg.Database.SQLitePath)
}
