package config

// DefaultConfig returns a configuration with all default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	// Server defaults
	cfg.Server.Port = 8081
	cfg.Server.TLSEnabled = false
	cfg.Server.TLSCertPath = ""
	cfg.Server.TLSKeyPath = ""
	cfg.Server.AllowedOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	cfg.Server.RateLimitPerMinute = 600

	// Database defaults
	cfg.Database.SQLitePath = "/var/lib/smartcloudops/models.db"

	// ML defaults
	cfg.ML.NumTrees = 100
	cfg.ML.SampleSize = 256
	cfg.ML.Seed = 0 // derive from clock
	cfg.ML.FeatureSchema = []string{
		"cpu_usage",
		"memory_usage",
		"disk_io",
		"network_io",
		"load_1m",
		"response_time_ms",
	}

	// Threshold defaults
	cfg.Threshold.GridStep = 0.01
	cfg.Threshold.Policy = "max_f1"
	cfg.Threshold.PrecisionFloor = 0.8
	cfg.Threshold.Targets = []float64{0.7, 0.7, 0.7, 0.7, 0.5}

	// A/B test defaults
	cfg.ABTest.DefaultDurationSeconds = 3600

	// Audit defaults
	cfg.Audit.LogPath = "logs/audit.log"
	cfg.Audit.MaxSizeMB = 100
	cfg.Audit.MaxBackups = 10
	cfg.Audit.MaxAgeDays = 30
	cfg.Audit.Compress = true

	// Logging defaults
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	return cfg
}
