package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// viperConfigManager implements ConfigManager using Viper.
type viperConfigManager struct {
	configPath string
	config     *Config
	viper      *viper.Viper
	watchChan  chan Config
}

// Load loads configuration from all sources.
func (m *viperConfigManager) Load(ctx context.Context) error {
	m.viper = viper.New()

	m.viper.SetConfigFile(m.configPath)
	m.viper.SetConfigType("yaml")

	// Environment variables: SMARTCLOUDOPS_SERVER_PORT etc.
	m.viper.SetEnvPrefix("SMARTCLOUDOPS")
	m.viper.AutomaticEnv()
	m.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	m.setDefaults()

	// Config file is optional; defaults plus env vars are enough to run.
	if err := m.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// use defaults
		} else if os.IsNotExist(err) {
			// use defaults
		} else {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.applyEnvOverrides()

	return nil
}

// Get returns the current configuration.
func (m *viperConfigManager) Get(ctx context.Context) *Config {
	return m.config
}

// Validate validates configuration is correct and complete.
func (m *viperConfigManager) Validate(ctx context.Context) error {
	errs := m.config.Validate()
	if len(errs) > 0 {
		var errMsgs []string
		for _, err := range errs {
			errMsgs = append(errMsgs, err.Error())
		}
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errMsgs, "\n  - "))
	}
	return nil
}

// Watch watches for configuration changes and reloads.
func (m *viperConfigManager) Watch(ctx context.Context) <-chan Config {
	m.viper.WatchConfig()
	m.viper.OnConfigChange(func(e fsnotify.Event) {
		if err := m.unmarshalConfig(); err != nil {
			return
		}
		select {
		case m.watchChan <- *m.config:
		default:
			// Channel full, skip this update
		}
	})

	return m.watchChan
}

// Reload reloads configuration from sources.
func (m *viperConfigManager) Reload(ctx context.Context) error {
	if err := m.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.applyEnvOverrides()

	return nil
}

// setDefaults sets default values in viper.
func (m *viperConfigManager) setDefaults() {
	defaults := DefaultConfig()

	// Server defaults
	m.viper.SetDefault("server.port", defaults.Server.Port)
	m.viper.SetDefault("server.tls_enabled", defaults.Server.TLSEnabled)
	m.viper.SetDefault("server.tls_cert_path", defaults.Server.TLSCertPath)
	m.viper.SetDefault("server.tls_key_path", defaults.Server.TLSKeyPath)
	m.viper.SetDefault("server.allowed_origins", defaults.Server.AllowedOrigins)
	m.viper.SetDefault("server.rate_limit_per_minute", defaults.Server.RateLimitPerMinute)

	// Database defaults
	m.viper.SetDefault("database.sqlite_path", defaults.Database.SQLitePath)

	// ML defaults
	m.viper.SetDefault("ml.num_trees", defaults.ML.NumTrees)
	m.viper.SetDefault("ml.sample_size", defaults.ML.SampleSize)
	m.viper.SetDefault("ml.seed", defaults.ML.Seed)
	m.viper.SetDefault("ml.feature_schema", defaults.ML.FeatureSchema)

	// Threshold defaults
	m.viper.SetDefault("threshold.grid_step", defaults.Threshold.GridStep)
	m.viper.SetDefault("threshold.policy", defaults.Threshold.Policy)
	m.viper.SetDefault("threshold.precision_floor", defaults.Threshold.PrecisionFloor)
	m.viper.SetDefault("threshold.targets", defaults.Threshold.Targets)

	// A/B test defaults
	m.viper.SetDefault("abtest.default_duration_seconds", defaults.ABTest.DefaultDurationSeconds)

	// Audit defaults
	m.viper.SetDefault("audit.log_path", defaults.Audit.LogPath)
	m.viper.SetDefault("audit.max_size_mb", defaults.Audit.MaxSizeMB)
	m.viper.SetDefault("audit.max_backups", defaults.Audit.MaxBackups)
	m.viper.SetDefault("audit.max_age_days", defaults.Audit.MaxAgeDays)
	m.viper.SetDefault("audit.compress", defaults.Audit.Compress)

	// Logging defaults
	m.viper.SetDefault("logging.level", defaults.Logging.Level)
	m.viper.SetDefault("logging.format", defaults.Logging.Format)
}

// unmarshalConfig unmarshals viper config into Config struct.
func (m *viperConfigManager) unmarshalConfig() error {
	cfg := &Config{}

	// Server
	cfg.Server.Port = m.viper.GetInt("server.port")
	cfg.Server.TLSEnabled = m.viper.GetBool("server.tls_enabled")
	cfg.Server.TLSCertPath = m.viper.GetString("server.tls_cert_path")
	cfg.Server.TLSKeyPath = m.viper.GetString("server.tls_key_path")
	cfg.Server.AllowedOrigins = m.viper.GetStringSlice("server.allowed_origins")
	cfg.Server.RateLimitPerMinute = m.viper.GetInt("server.rate_limit_per_minute")

	// Database
	cfg.Database.SQLitePath = m.viper.GetString("database.sqlite_path")

	// ML
	cfg.ML.NumTrees = m.viper.GetInt("ml.num_trees")
	cfg.ML.SampleSize = m.viper.GetInt("ml.sample_size")
	cfg.ML.Seed = m.viper.GetInt64("ml.seed")
	cfg.ML.FeatureSchema = m.viper.GetStringSlice("ml.feature_schema")

	// Threshold
	cfg.Threshold.GridStep = m.viper.GetFloat64("threshold.grid_step")
	cfg.Threshold.Policy = m.viper.GetString("threshold.policy")
	cfg.Threshold.PrecisionFloor = m.viper.GetFloat64("threshold.precision_floor")
	cfg.Threshold.Targets = floats(m.viper.GetStringSlice("threshold.targets"))
	if len(cfg.Threshold.Targets) == 0 {
		cfg.Threshold.Targets = DefaultConfig().Threshold.Targets
	}

	// A/B test
	cfg.ABTest.DefaultDurationSeconds = m.viper.GetInt("abtest.default_duration_seconds")

	// Audit
	cfg.Audit.LogPath = m.viper.GetString("audit.log_path")
	cfg.Audit.MaxSizeMB = m.viper.GetInt("audit.max_size_mb")
	cfg.Audit.MaxBackups = m.viper.GetInt("audit.max_backups")
	cfg.Audit.MaxAgeDays = m.viper.GetInt("audit.max_age_days")
	cfg.Audit.Compress = m.viper.GetBool("audit.compress")

	// Logging
	cfg.Logging.Level = m.viper.GetString("logging.level")
	cfg.Logging.Format = m.viper.GetString("logging.format")

	m.config = cfg
	return nil
}

// floats parses a string slice into float64s, skipping unparseable entries.
func floats(values []string) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		var f float64
		if _, err := fmt.Sscanf(v, "%g", &f); err == nil {
			out = append(out, f)
		}
	}
	return out
}

// applyEnvOverrides applies environment variable overrides for settings that
// commonly come from the deployment environment.
func (m *viperConfigManager) applyEnvOverrides() {
	if path := os.Getenv("SMARTCLOUDOPS_DB_PATH"); path != "" {
		m.config.Database.SQLitePath = path
	}

	// Port from environment - only override if explicitly set
	if portEnv := os.Getenv("SMARTCLOUDOPS_PORT"); portEnv != "" {
		m.config.Server.Port = m.viper.GetInt("port")
	}
}
