// Package executions records dispatch attempts of schedules.
package executions

import "time"

// Status represents the state of one dispatch attempt.
type Status string

const (
	// StatusPending indicates the attempt is recorded but the handler has not started.
	StatusPending Status = "pending"
	// StatusRunning indicates the handler is in progress.
	StatusRunning Status = "running"
	// StatusCompleted indicates the handler returned successfully.
	StatusCompleted Status = "completed"
	// StatusFailed indicates the handler returned an error, panicked or was missing.
	StatusFailed Status = "failed"
	// StatusTimedOut indicates the handler exceeded its timeout.
	StatusTimedOut Status = "timed_out"
)

// IsTerminal reports whether s is a settled status.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimedOut:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusPending || s == StatusRunning || s.IsTerminal()
}

// Execution is one dispatch attempt of a schedule. It is created running
// and settled exactly once.
type Execution struct {
	ID           string     `json:"id" yaml:"id"`
	ScheduleID   string     `json:"schedule_id" yaml:"schedule_id"`
	ScheduledAt  *time.Time `json:"scheduled_at,omitempty" yaml:"scheduled_at,omitempty"`
	StartedAt    time.Time  `json:"started_at" yaml:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	Status       Status     `json:"status" yaml:"status"`
	Result       any        `json:"result,omitempty" yaml:"result,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty" yaml:"error_message,omitempty"`
	DurationMs   int64      `json:"duration_ms" yaml:"duration_ms"`
}

// Outcome is the terminal state written when an execution settles.
type Outcome struct {
	Status       Status
	CompletedAt  time.Time
	Result       any
	ErrorMessage string
	DurationMs   int64
}

// Filter narrows List results. Empty fields match everything.
type Filter struct {
	ScheduleID string
	Status     Status
}

// Counts summarizes executions by status.
type Counts struct {
	Total     int
	Completed int
	Failed    int
	TimedOut  int
	Running   int
}
