package config

import (
	"fmt"
	"strings"
	"time"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, err := range e {
		sb.WriteString("  - ")
		sb.WriteString(err.Error())
		sb.WriteString("\n")
	}
	return sb.String()
}

func Validate(cfg *Config) error {
	var errs ValidationErrors

	errs = append(errs, validateDatabase(&cfg.Database)...)
	errs = append(errs, validateScheduler(&cfg.Scheduler)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateMetrics(&cfg.Metrics)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateDatabase(cfg *DatabaseConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.Path == "" {
		errs = append(errs, ValidationError{
			Field:   "database.path",
			Message: "required",
		})
	}

	if cfg.BusyTimeout < 0 {
		errs = append(errs, ValidationError{
			Field:   "database.busy_timeout",
			Message: "must be non-negative",
		})
	}

	if cfg.MaxOpenConns < 0 {
		errs = append(errs, ValidationError{
			Field:   "database.max_open_conns",
			Message: "must be non-negative",
		})
	}

	return errs
}

func validateScheduler(cfg *SchedulerConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.PollInterval < time.Second {
		errs = append(errs, ValidationError{
			Field:   "scheduler.poll_interval",
			Message: "must be at least 1s",
		})
	}

	if cfg.BatchSize < 1 {
		errs = append(errs, ValidationError{
			Field:   "scheduler.batch_size",
			Message: "must be at least 1",
		})
	}

	if cfg.HandlerTimeout < 0 {
		errs = append(errs, ValidationError{
			Field:   "scheduler.handler_timeout",
			Message: "must be non-negative",
		})
	}

	if cfg.ClaimLease <= 0 {
		errs = append(errs, ValidationError{
			Field:   "scheduler.claim_lease",
			Message: "must be positive",
		})
	} else if cfg.HandlerTimeout > 0 && cfg.ClaimLease < cfg.HandlerTimeout {
		errs = append(errs, ValidationError{
			Field:   "scheduler.claim_lease",
			Message: "must not be shorter than handler_timeout",
		})
	}

	if cfg.DispatchRate < 0 {
		errs = append(errs, ValidationError{
			Field:   "scheduler.dispatch_rate",
			Message: "must be non-negative",
		})
	}

	if cfg.DispatchRate > 0 && cfg.DispatchBurst < 1 {
		errs = append(errs, ValidationError{
			Field:   "scheduler.dispatch_burst",
			Message: "must be at least 1 when dispatch_rate is set",
		})
	}

	if cfg.ExecutionRetention < 0 {
		errs = append(errs, ValidationError{
			Field:   "scheduler.execution_retention",
			Message: "must be non-negative",
		})
	}

	if cfg.ExecutionRetention > 0 && cfg.CleanupInterval <= 0 {
		errs = append(errs, ValidationError{
			Field:   "scheduler.cleanup_interval",
			Message: "must be positive when execution_retention is set",
		})
	}

	return errs
}

func validateLogging(cfg *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLevels[cfg.Level] {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: "must be one of: trace, debug, info, warn, error, fatal, panic",
		})
	}

	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[cfg.Format] {
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: "must be 'json' or 'console'",
		})
	}

	if cfg.Output != "" && cfg.MaxSizeMB < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_size_mb",
			Message: "must be non-negative",
		})
	}

	return errs
}

func validateMetrics(cfg *MetricsConfig) ValidationErrors {
	var errs ValidationErrors

	if !cfg.Enabled {
		return errs
	}

	if cfg.Address == "" {
		errs = append(errs, ValidationError{
			Field:   "metrics.address",
			Message: "required when metrics are enabled",
		})
	}

	if !strings.HasPrefix(cfg.Path, "/") {
		errs = append(errs, ValidationError{
			Field:   "metrics.path",
			Message: "must start with '/'",
		})
	}

	return errs
}
