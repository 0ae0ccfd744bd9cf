package config

import "time"

// Default configuration values.
const (
	// Database defaults.
	DefaultDBPath       = "schedulerd.db"
	DefaultCacheSize    = -64000 // 64MB
	DefaultBusyTimeout  = 5 * time.Second
	DefaultMaxOpenConns = 1 // SQLite works best with single writer
	DefaultMaxIdleConns = 1

	// Scheduler defaults.
	DefaultPollInterval       = 30 * time.Second
	DefaultBatchSize          = 100
	DefaultHandlerTimeout     = 5 * time.Minute
	DefaultClaimLease         = 10 * time.Minute
	DefaultExecutionRetention = 30 * 24 * time.Hour
	DefaultCleanupInterval    = time.Hour

	// Logging defaults.
	DefaultLogLevel  = "info"
	DefaultLogFormat = "console"

	// Metrics defaults.
	DefaultMetricsAddress = "localhost:9464"
	DefaultMetricsPath    = "/metrics"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:            DefaultDBPath,
			WALMode:         true,
			CacheSize:       DefaultCacheSize,
			BusyTimeout:     DefaultBusyTimeout,
			ForeignKeys:     true,
			MaxOpenConns:    DefaultMaxOpenConns,
			MaxIdleConns:    DefaultMaxIdleConns,
			ConnMaxLifetime: 0, // No limit
		},
		Scheduler: SchedulerConfig{
			PollInterval:       DefaultPollInterval,
			BatchSize:          DefaultBatchSize,
			HandlerTimeout:     DefaultHandlerTimeout,
			ClaimLease:         DefaultClaimLease,
			DispatchRate:       0,
			DispatchBurst:      1,
			ExecutionRetention: DefaultExecutionRetention,
			CleanupInterval:    DefaultCleanupInterval,
			RecoverStale:       true,
		},
		Logging: LoggingConfig{
			Level:      DefaultLogLevel,
			Format:     DefaultLogFormat,
			Caller:     false,
			Timestamp:  true,
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: DefaultMetricsAddress,
			Path:    DefaultMetricsPath,
		},
	}
}
