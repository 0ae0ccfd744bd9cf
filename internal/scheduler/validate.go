package scheduler

import (
	"fmt"
	"strings"
	"time"
)

// validateSpec checks the fields required to create a schedule.
func (m *Manager) validateSpec(spec *ScheduleSpec) error {
	var errs ValidationErrors

	if strings.TrimSpace(spec.Name) == "" {
		errs.add("name", "is required")
	}
	if spec.Type == "" {
		errs.add("type", "is required")
	} else if !spec.Type.Valid() {
		errs.add("type", fmt.Sprintf("unknown schedule type %q", spec.Type))
	}
	if strings.TrimSpace(spec.ActionType) == "" {
		errs.add("action_type", "is required")
	}
	if spec.MaxRuns != nil && *spec.MaxRuns < 1 {
		errs.add("max_runs", "must be at least 1")
	}

	if spec.Type.Valid() {
		errs = append(errs, m.validateConfig(spec.Type, spec.Config)...)
	}

	return errs.err()
}

// validateConfig checks a config already merged over the defaults.
func (m *Manager) validateConfig(typ ScheduleType, cfg ScheduleConfig) ValidationErrors {
	var errs ValidationErrors

	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		errs.add("config.timezone", fmt.Sprintf("unknown timezone %q", cfg.Timezone))
	}
	if cfg.Interval < 1 {
		errs.add("config.interval", "must be at least 1")
	}
	if cfg.MaxOccurrences != nil && *cfg.MaxOccurrences < 1 {
		errs.add("config.max_occurrences", "must be at least 1")
	}
	if cfg.StartDate != nil && cfg.EndDate != nil && cfg.EndDate.Before(*cfg.StartDate) {
		errs.add("config.end_date", "must not be before start_date")
	}
	if cfg.TimeoutSeconds < 0 {
		errs.add("config.timeout_seconds", "must not be negative")
	}
	if cfg.Retry != nil {
		if cfg.Retry.MaxRetries < 0 {
			errs.add("config.retry.max_retries", "must not be negative")
		}
		if cfg.Retry.BackoffSeconds < 0 {
			errs.add("config.retry.backoff_seconds", "must not be negative")
		}
		if cfg.Retry.MaxBackoffSeconds < 0 {
			errs.add("config.retry.max_backoff_seconds", "must not be negative")
		}
	}

	switch typ {
	case ScheduleTypeOnce:
		if cfg.StartDate == nil {
			errs.add("config.start_date", "is required for once schedules")
		}

	case ScheduleTypeDaily:
		if !cfg.RecurrencePattern.Valid() {
			errs.add("config.recurrence_pattern", fmt.Sprintf("unknown pattern %q", cfg.RecurrencePattern))
		}
		if cfg.RecurrencePattern == PatternCustomDays && len(cfg.CustomDays) == 0 {
			errs.add("config.custom_days", "is required for the custom_days pattern")
		}

	case ScheduleTypeCron:
		if cfg.CronExpression == "" {
			errs.add("config.cron_expression", "is required for cron schedules")
		} else if _, err := m.calc.cron.Parse(cfg.CronExpression); err != nil {
			errs.add("config.cron_expression", err.Error())
		}

	case ScheduleTypeCustom:
		if name, ok := cfg.Metadata[MetadataCustomStrategy].(string); ok && name != "" {
			if _, found := m.calc.customStrategy(name); !found {
				errs.add("config.metadata.custom_strategy", fmt.Sprintf("unknown strategy %q", name))
			}
		}
	}

	for _, d := range cfg.CustomDays {
		if d < Monday || d > Sunday {
			errs.add("config.custom_days", fmt.Sprintf("day index %d out of range 0-6", d))
			break
		}
	}

	return errs
}
