// Package config provides configuration management for schedulerd.
package config

import (
	"time"
)

// Config is the root configuration structure for schedulerd.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// DatabaseConfig holds database settings.
type DatabaseConfig struct {
	// Path to SQLite database file
	Path string `mapstructure:"path"`

	// Enable WAL mode (recommended)
	WALMode bool `mapstructure:"wal_mode"`

	// Cache size in KB (negative for KB, positive for pages)
	CacheSize int `mapstructure:"cache_size"`

	// Busy timeout
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`

	// Enable foreign keys
	ForeignKeys bool `mapstructure:"foreign_keys"`

	// Maximum open connections
	MaxOpenConns int `mapstructure:"max_open_conns"`

	// Maximum idle connections
	MaxIdleConns int `mapstructure:"max_idle_conns"`

	// Connection max lifetime
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SchedulerConfig holds dispatch loop and executor settings.
type SchedulerConfig struct {
	// How often the dispatch loop polls for due schedules
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// Maximum number of schedules claimed per tick
	BatchSize int `mapstructure:"batch_size"`

	// Default upper bound for a single handler invocation (0 = no timeout)
	HandlerTimeout time.Duration `mapstructure:"handler_timeout"`

	// How long a claimed schedule stays invisible to other ticks
	ClaimLease time.Duration `mapstructure:"claim_lease"`

	// Executions started per second (0 = unlimited)
	DispatchRate float64 `mapstructure:"dispatch_rate"`

	// Burst allowance for DispatchRate
	DispatchBurst int `mapstructure:"dispatch_burst"`

	// How long settled executions are kept
	ExecutionRetention time.Duration `mapstructure:"execution_retention"`

	// How often old executions are pruned
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`

	// Settle executions left running by a previous process on startup
	RecoverStale bool `mapstructure:"recover_stale"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Log level (debug, info, warn, error)
	Level string `mapstructure:"level"`

	// Log format (json, console)
	Format string `mapstructure:"format"`

	// Include caller info
	Caller bool `mapstructure:"caller"`

	// Include timestamp
	Timestamp bool `mapstructure:"timestamp"`

	// Output file (empty for stderr)
	Output string `mapstructure:"output"`

	// Rotation settings, used only when Output is a file
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

// MetricsConfig holds Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
	Path    string `mapstructure:"path"`
}
