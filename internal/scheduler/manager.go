package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/staybook/schedulerd/internal/executions"
)

// Manager is the caller-facing API for schedule lifecycle operations.
type Manager struct {
	store    Store
	calc     *Calculator
	executor *Executor
	clock    Clock
}

// NewManager creates a manager. executor may be nil, in which case
// TriggerNow is unavailable.
func NewManager(store Store, calc *Calculator, executor *Executor, clock Clock) *Manager {
	if clock == nil {
		clock = SystemClock{}
	}

	return &Manager{
		store:    store,
		calc:     calc,
		executor: executor,
		clock:    clock,
	}
}

// Create validates spec, computes the first run and persists an active
// schedule. A schedule with no possible run is stored completed.
func (m *Manager) Create(ctx context.Context, spec ScheduleSpec) (*Schedule, error) {
	spec.Config = spec.Config.withDefaults()

	if err := m.validateSpec(&spec); err != nil {
		return nil, err
	}

	maxRuns := spec.MaxRuns
	if maxRuns == nil && spec.Config.MaxOccurrences != nil {
		n := *spec.Config.MaxOccurrences
		maxRuns = &n
	}

	now := m.clock.Now()
	schedule := &Schedule{
		ID:           uuid.New().String(),
		Name:         strings.TrimSpace(spec.Name),
		Description:  spec.Description,
		Type:         spec.Type,
		Status:       StatusActive,
		Config:       spec.Config,
		ActionType:   spec.ActionType,
		ActionConfig: spec.ActionConfig,
		MaxRuns:      maxRuns,
		CreatedBy:    spec.CreatedBy,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if schedule.ActionConfig == nil {
		schedule.ActionConfig = map[string]any{}
	}

	schedule.NextRun = m.calc.NextRun(schedule, now)
	if schedule.NextRun == nil {
		schedule.Status = StatusCompleted
		log.Warn().
			Str("schedule_id", schedule.ID).
			Str("schedule_name", schedule.Name).
			Msg("Schedule has no upcoming run, storing as completed")
	}

	if err := m.store.InsertSchedule(ctx, schedule); err != nil {
		return nil, err
	}

	log.Info().
		Str("schedule_id", schedule.ID).
		Str("schedule_name", schedule.Name).
		Str("type", string(schedule.Type)).
		Msg("Schedule created")

	return schedule, nil
}

// Get retrieves a schedule by ID.
func (m *Manager) Get(ctx context.Context, id string) (*Schedule, error) {
	return m.store.GetSchedule(ctx, id)
}

// Update applies the non-nil fields of update. Changing the type or config
// recomputes next_run from now. A schedule left with no run, or with
// max_runs already reached, completes.
func (m *Manager) Update(ctx context.Context, id string, update ScheduleUpdate) (*Schedule, error) {
	schedule, err := m.store.GetSchedule(ctx, id)
	if err != nil {
		return nil, err
	}
	expected := schedule.Status

	var errs ValidationErrors
	if update.Name != nil {
		if strings.TrimSpace(*update.Name) == "" {
			errs.add("name", "is required")
		}
		schedule.Name = strings.TrimSpace(*update.Name)
	}
	if update.Description != nil {
		schedule.Description = *update.Description
	}
	if update.ActionType != nil {
		if strings.TrimSpace(*update.ActionType) == "" {
			errs.add("action_type", "is required")
		}
		schedule.ActionType = *update.ActionType
	}
	if update.ActionConfig != nil {
		schedule.ActionConfig = update.ActionConfig
	}
	if update.MaxRuns != nil {
		if *update.MaxRuns < 1 {
			errs.add("max_runs", "must be at least 1")
		}
		schedule.MaxRuns = update.MaxRuns
	}

	recurrenceChanged := update.Type != nil || update.Config != nil
	if update.Type != nil {
		if !update.Type.Valid() {
			errs.add("type", fmt.Sprintf("unknown schedule type %q", *update.Type))
		}
		schedule.Type = *update.Type
	}
	if update.Config != nil {
		schedule.Config = update.Config.withDefaults()
	}
	if recurrenceChanged && schedule.Type.Valid() {
		errs = append(errs, m.validateConfig(schedule.Type, schedule.Config)...)
	}

	if err := errs.err(); err != nil {
		return nil, err
	}

	now := m.clock.Now()
	schedule.UpdatedAt = now

	if recurrenceChanged && !schedule.Status.IsTerminal() {
		schedule.NextRun = m.calc.NextRun(schedule, now)
		if schedule.NextRun == nil && schedule.Status == StatusActive {
			schedule.Status = StatusCompleted
		}
	}
	if schedule.MaxRuns != nil && schedule.RunCount >= *schedule.MaxRuns && !schedule.Status.IsTerminal() {
		schedule.Status = StatusCompleted
	}

	if err := m.store.UpdateSchedule(ctx, schedule, expected); err != nil {
		return nil, err
	}

	log.Info().
		Str("schedule_id", schedule.ID).
		Bool("rescheduled", recurrenceChanged).
		Msg("Schedule updated")

	return schedule, nil
}

// Pause stops dispatching an active schedule. Pausing a paused schedule
// succeeds; a terminal schedule cannot be paused.
func (m *Manager) Pause(ctx context.Context, id string) (bool, error) {
	ok, err := m.store.SetStatus(ctx, id, []Status{StatusActive, StatusPaused}, StatusPaused, m.clock.Now())
	if err != nil {
		return false, err
	}
	if ok {
		log.Info().Str("schedule_id", id).Msg("Schedule paused")
	}
	return ok, nil
}

// Resume reactivates a paused schedule with next_run computed from now. It
// reports false when the schedule was not paused, or when it has no
// remaining run, in which case it is completed instead.
func (m *Manager) Resume(ctx context.Context, id string) (bool, error) {
	schedule, err := m.store.GetSchedule(ctx, id)
	if err != nil {
		return false, err
	}
	if schedule.Status != StatusPaused {
		return false, nil
	}

	now := m.clock.Now()
	nextRun := m.calc.NextRun(schedule, now)

	to := StatusActive
	if nextRun == nil {
		to = StatusCompleted
	}

	ok, err := m.store.Reschedule(ctx, id, StatusPaused, to, nextRun, now)
	if err != nil || !ok {
		return false, err
	}

	if to == StatusCompleted {
		log.Info().Str("schedule_id", id).Msg("Paused schedule has no remaining run, completed")
		return false, nil
	}

	log.Info().Str("schedule_id", id).Time("next_run", *nextRun).Msg("Schedule resumed")
	return true, nil
}

// Cancel terminates an active or paused schedule. Cancelling a cancelled
// schedule succeeds; a completed schedule cannot be cancelled.
func (m *Manager) Cancel(ctx context.Context, id string) (bool, error) {
	ok, err := m.store.SetStatus(ctx, id, []Status{StatusActive, StatusPaused, StatusCancelled}, StatusCancelled, m.clock.Now())
	if err != nil {
		return false, err
	}
	if ok {
		log.Info().Str("schedule_id", id).Msg("Schedule cancelled")
	}
	return ok, nil
}

// Delete removes a schedule and its execution history.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := m.store.DeleteSchedule(ctx, id); err != nil {
		return err
	}
	log.Info().Str("schedule_id", id).Msg("Schedule deleted")
	return nil
}

// TriggerNow runs a schedule immediately, outside the dispatch loop. The
// run counts toward run_count and max_runs like a dispatched one.
func (m *Manager) TriggerNow(ctx context.Context, id string) (*executions.Execution, error) {
	if m.executor == nil {
		return nil, errors.New("manager has no executor")
	}

	schedule, err := m.store.GetSchedule(ctx, id)
	if err != nil {
		return nil, err
	}
	if schedule.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: schedule %s is %s", ErrInvalidTransition, id, schedule.Status)
	}

	return m.executor.Execute(ctx, schedule)
}

// GetSchedules lists schedules matching filter. A non-positive limit
// returns every match.
func (m *Manager) GetSchedules(ctx context.Context, filter ScheduleFilter, limit int) ([]*Schedule, error) {
	return m.store.ListSchedules(ctx, filter, limit)
}

// GetScheduleExecutions lists executions newest first. An empty scheduleID
// lists executions of every schedule.
func (m *Manager) GetScheduleExecutions(ctx context.Context, scheduleID string, limit int) ([]*executions.Execution, error) {
	return m.store.ListExecutions(ctx, scheduleID, limit)
}

// GetScheduleStatistics summarizes schedules and executions. SuccessRate is
// a percentage of all recorded executions.
func (m *Manager) GetScheduleStatistics(ctx context.Context) (*Statistics, error) {
	schedules, err := m.store.CountSchedules(ctx)
	if err != nil {
		return nil, err
	}
	execs, err := m.store.CountExecutions(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Statistics{
		TotalSchedules:       schedules.Total,
		ActiveSchedules:      schedules.Active,
		PausedSchedules:      schedules.Paused,
		TotalExecutions:      execs.Total,
		SuccessfulExecutions: execs.Completed,
		FailedExecutions:     execs.Failed,
		TimedOutExecutions:   execs.TimedOut,
	}
	if execs.Total > 0 {
		stats.SuccessRate = float64(execs.Completed) / float64(execs.Total) * 100
	}

	return stats, nil
}
