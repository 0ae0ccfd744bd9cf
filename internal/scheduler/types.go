package scheduler

import (
	"time"
)

// ScheduleType selects the recurrence algorithm.
type ScheduleType string

const (
	ScheduleTypeOnce    ScheduleType = "once"
	ScheduleTypeDaily   ScheduleType = "daily"
	ScheduleTypeWeekly  ScheduleType = "weekly"
	ScheduleTypeMonthly ScheduleType = "monthly"
	ScheduleTypeYearly  ScheduleType = "yearly"
	ScheduleTypeCron    ScheduleType = "cron"
	ScheduleTypeCustom  ScheduleType = "custom"
)

// Valid reports whether t is a known schedule type.
func (t ScheduleType) Valid() bool {
	switch t {
	case ScheduleTypeOnce, ScheduleTypeDaily, ScheduleTypeWeekly, ScheduleTypeMonthly,
		ScheduleTypeYearly, ScheduleTypeCron, ScheduleTypeCustom:
		return true
	}
	return false
}

// Status is the lifecycle state of a schedule.
//
//	active ⇄ paused
//	active|paused → cancelled
//	active → completed
//
// Completed and cancelled are terminal.
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusPaused, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// RecurrencePattern refines ScheduleTypeDaily.
type RecurrencePattern string

const (
	PatternEveryDay   RecurrencePattern = "every_day"
	PatternEveryNDays RecurrencePattern = "every_n_days"
	PatternWeekdays   RecurrencePattern = "weekdays"
	PatternWeekends   RecurrencePattern = "weekends"
	PatternCustomDays RecurrencePattern = "custom_days"
)

// Valid reports whether p is a known pattern.
func (p RecurrencePattern) Valid() bool {
	switch p {
	case PatternEveryDay, PatternEveryNDays, PatternWeekdays, PatternWeekends, PatternCustomDays:
		return true
	}
	return false
}

// Weekday indices used by ScheduleConfig.CustomDays: 0=Monday .. 6=Sunday.
const (
	Monday = iota
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

// weekdayIndex converts a time.Weekday (Sunday=0) to the Monday=0 index.
func weekdayIndex(d time.Weekday) int {
	return (int(d) + 6) % 7
}

// RetryPolicy bounds retries of a failing occurrence. The zero value keeps
// the schedule due after a failure so the next tick retries immediately.
type RetryPolicy struct {
	MaxRetries        int `json:"max_retries" yaml:"max_retries"`
	BackoffSeconds    int `json:"backoff_seconds" yaml:"backoff_seconds"`
	MaxBackoffSeconds int `json:"max_backoff_seconds,omitempty" yaml:"max_backoff_seconds,omitempty"`
}

// Enabled reports whether the policy changes the default retry behaviour.
func (p *RetryPolicy) Enabled() bool {
	return p != nil && (p.MaxRetries > 0 || p.BackoffSeconds > 0)
}

// ScheduleConfig is the recurrence configuration stored as JSON.
type ScheduleConfig struct {
	Timezone          string            `json:"timezone" yaml:"timezone"`
	StartDate         *time.Time        `json:"start_date,omitempty" yaml:"start_date,omitempty"`
	EndDate           *time.Time        `json:"end_date,omitempty" yaml:"end_date,omitempty"`
	MaxOccurrences    *int              `json:"max_occurrences,omitempty" yaml:"max_occurrences,omitempty"`
	RecurrencePattern RecurrencePattern `json:"recurrence_pattern" yaml:"recurrence_pattern"`
	CustomDays        []int             `json:"custom_days" yaml:"custom_days"`
	Interval          int               `json:"interval" yaml:"interval"`
	CronExpression    string            `json:"cron_expression,omitempty" yaml:"cron_expression,omitempty"`
	TimeoutSeconds    int               `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
	Retry             *RetryPolicy      `json:"retry,omitempty" yaml:"retry,omitempty"`
	Metadata          map[string]any    `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// withDefaults returns c merged over the documented defaults.
func (c ScheduleConfig) withDefaults() ScheduleConfig {
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	if c.RecurrencePattern == "" {
		c.RecurrencePattern = PatternEveryDay
	}
	if c.CustomDays == nil {
		c.CustomDays = []int{}
	}
	if c.Interval == 0 {
		c.Interval = 1
	}
	return c
}

// Schedule is a persisted recurring job definition. Revision increases on
// every definition update.
type Schedule struct {
	ID                  string         `json:"id" yaml:"id"`
	Name                string         `json:"name" yaml:"name"`
	Description         string         `json:"description" yaml:"description"`
	Type                ScheduleType   `json:"type" yaml:"type"`
	Status              Status         `json:"status" yaml:"status"`
	Config              ScheduleConfig `json:"config" yaml:"config"`
	ActionType          string         `json:"action_type" yaml:"action_type"`
	ActionConfig        map[string]any `json:"action_config" yaml:"action_config"`
	NextRun             *time.Time     `json:"next_run" yaml:"next_run"`
	LastRun             *time.Time     `json:"last_run" yaml:"last_run"`
	RunCount            int            `json:"run_count" yaml:"run_count"`
	MaxRuns             *int           `json:"max_runs,omitempty" yaml:"max_runs,omitempty"`
	ConsecutiveFailures int            `json:"consecutive_failures" yaml:"consecutive_failures"`
	Revision            int            `json:"revision" yaml:"revision"`
	CreatedBy           string         `json:"created_by" yaml:"created_by"`
	CreatedAt           time.Time      `json:"created_at" yaml:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at" yaml:"updated_at"`
}

// IsActive reports whether the schedule is eligible for dispatch.
func (s *Schedule) IsActive() bool {
	return s.Status == StatusActive
}

// ScheduleSpec is the input to Manager.Create.
type ScheduleSpec struct {
	Name         string         `json:"name" yaml:"name"`
	Description  string         `json:"description" yaml:"description"`
	Type         ScheduleType   `json:"type" yaml:"type"`
	Config       ScheduleConfig `json:"config" yaml:"config"`
	ActionType   string         `json:"action_type" yaml:"action_type"`
	ActionConfig map[string]any `json:"action_config" yaml:"action_config"`
	MaxRuns      *int           `json:"max_runs,omitempty" yaml:"max_runs,omitempty"`
	CreatedBy    string         `json:"created_by" yaml:"created_by"`
}

// ScheduleUpdate carries the fields of a partial update. Nil fields are
// left unchanged.
type ScheduleUpdate struct {
	Name         *string         `json:"name,omitempty" yaml:"name,omitempty"`
	Description  *string         `json:"description,omitempty" yaml:"description,omitempty"`
	Type         *ScheduleType   `json:"type,omitempty" yaml:"type,omitempty"`
	Config       *ScheduleConfig `json:"config,omitempty" yaml:"config,omitempty"`
	ActionType   *string         `json:"action_type,omitempty" yaml:"action_type,omitempty"`
	ActionConfig map[string]any  `json:"action_config,omitempty" yaml:"action_config,omitempty"`
	MaxRuns      *int            `json:"max_runs,omitempty" yaml:"max_runs,omitempty"`
}

// ScheduleFilter narrows GetSchedules. Empty fields match everything.
type ScheduleFilter struct {
	Status   Status
	Type     ScheduleType
	NameGlob string
}

// Statistics summarizes schedules and their executions.
type Statistics struct {
	TotalSchedules       int     `json:"total_schedules" yaml:"total_schedules"`
	ActiveSchedules      int     `json:"active_schedules" yaml:"active_schedules"`
	PausedSchedules      int     `json:"paused_schedules" yaml:"paused_schedules"`
	TotalExecutions      int     `json:"total_executions" yaml:"total_executions"`
	SuccessfulExecutions int     `json:"successful_executions" yaml:"successful_executions"`
	FailedExecutions     int     `json:"failed_executions" yaml:"failed_executions"`
	TimedOutExecutions   int     `json:"timed_out_executions" yaml:"timed_out_executions"`
	SuccessRate          float64 `json:"success_rate" yaml:"success_rate"`
}
