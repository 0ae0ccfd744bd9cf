package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/staybook/schedulerd/internal/executions"
	"github.com/staybook/schedulerd/internal/metrics"
)

// Executor runs one schedule occurrence and records its outcome.
type Executor struct {
	store    Store
	calc     *Calculator
	registry *Registry
	clock    Clock
	timeout  time.Duration
}

// NewExecutor creates an executor. timeout bounds every handler unless the
// schedule sets timeout_seconds; zero means no bound.
func NewExecutor(store Store, calc *Calculator, registry *Registry, clock Clock, timeout time.Duration) *Executor {
	if clock == nil {
		clock = SystemClock{}
	}

	return &Executor{
		store:    store,
		calc:     calc,
		registry: registry,
		clock:    clock,
		timeout:  timeout,
	}
}

// Execute runs schedule's handler and settles the execution. Handler
// failures are recorded on the execution, not returned; the error is
// reserved for bookkeeping writes that failed.
func (e *Executor) Execute(ctx context.Context, schedule *Schedule) (*executions.Execution, error) {
	// Bookkeeping must land even when shutdown cancels the handler.
	storeCtx := context.WithoutCancel(ctx)

	exec := &executions.Execution{
		ID:          uuid.New().String(),
		ScheduleID:  schedule.ID,
		ScheduledAt: schedule.NextRun,
		StartedAt:   e.clock.Now(),
		Status:      executions.StatusRunning,
	}

	if err := e.store.InsertExecution(storeCtx, exec); err != nil {
		if releaseErr := e.store.ReleaseClaim(storeCtx, schedule.ID); releaseErr != nil {
			log.Error().Err(releaseErr).Str("schedule_id", schedule.ID).Msg("Failed to release claim")
		}
		return nil, fmt.Errorf("recording execution start: %w", err)
	}

	logger := log.With().
		Str("schedule_id", schedule.ID).
		Str("schedule_name", schedule.Name).
		Str("action_type", schedule.ActionType).
		Str("execution_id", exec.ID).
		Logger()

	metrics.IncrementInFlight()
	started := time.Now()
	result, status, runErr := e.run(ctx, schedule)
	elapsed := time.Since(started)
	metrics.DecrementInFlight()

	outcome := executions.Outcome{
		Status:      status,
		CompletedAt: e.clock.Now(),
		Result:      result,
		DurationMs:  elapsed.Milliseconds(),
	}
	if runErr != nil {
		outcome.ErrorMessage = runErr.Error()
	}

	if err := e.store.SettleExecution(storeCtx, exec.ID, outcome); err != nil {
		if releaseErr := e.store.ReleaseClaim(storeCtx, schedule.ID); releaseErr != nil {
			logger.Error().Err(releaseErr).Msg("Failed to release claim")
		}
		return nil, fmt.Errorf("settling execution: %w", err)
	}

	exec.Status = outcome.Status
	exec.CompletedAt = &outcome.CompletedAt
	exec.Result = outcome.Result
	exec.ErrorMessage = outcome.ErrorMessage
	exec.DurationMs = outcome.DurationMs

	metrics.RecordExecution(schedule.ActionType, string(status), elapsed)

	var update RunUpdate
	if status == executions.StatusCompleted {
		update = e.afterSuccess(schedule, outcome.CompletedAt)
		logger.Debug().Dur("duration", elapsed).Msg("Schedule executed")
	} else {
		update = e.afterFailure(schedule, outcome.CompletedAt)
		logger.Warn().
			Str("status", string(status)).
			Str("error", outcome.ErrorMessage).
			Int("consecutive_failures", update.ConsecutiveFailures).
			Msg("Schedule execution failed")
	}

	update.Revision = schedule.Revision
	if err := e.store.RecordRun(storeCtx, schedule.ID, update); err != nil {
		return exec, fmt.Errorf("recording run: %w", err)
	}

	if update.Complete {
		logger.Info().Int("run_count", schedule.RunCount+1).Msg("Schedule completed")
	}

	return exec, nil
}

// run invokes the handler under a timeout, converting panics and missing
// handlers into failures.
func (e *Executor) run(ctx context.Context, schedule *Schedule) (any, executions.Status, error) {
	handler, ok := e.registry.Resolve(schedule.ActionType)
	if !ok {
		return nil, executions.StatusFailed, fmt.Errorf("no handler registered for action type %q", schedule.ActionType)
	}

	timeout := e.timeout
	if schedule.Config.TimeoutSeconds > 0 {
		timeout = time.Duration(schedule.Config.TimeoutSeconds) * time.Second
	}

	var runCtx context.Context
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	type handlerResult struct {
		value any
		err   error
	}
	done := make(chan handlerResult, 1)

	go func() {
		var res handlerResult
		defer func() {
			if r := recover(); r != nil {
				log.Error().
					Str("schedule_id", schedule.ID).
					Str("action_type", schedule.ActionType).
					Interface("panic", r).
					Str("stack", string(debug.Stack())).
					Msg("Action handler panicked")
				res = handlerResult{err: fmt.Errorf("panic: %v", r)}
			}
			done <- res
		}()
		res.value, res.err = handler(runCtx, schedule.ActionConfig)
	}()

	// A handler that ignores ctx is abandoned once the deadline passes.
	var res handlerResult
	select {
	case res = <-done:
	case <-runCtx.Done():
		res = handlerResult{err: runCtx.Err()}
	}

	if res.err == nil {
		return res.value, executions.StatusCompleted, nil
	}
	if ctx.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return nil, executions.StatusTimedOut, fmt.Errorf("handler timed out after %s", timeout)
	}
	return nil, executions.StatusFailed, res.err
}

func (e *Executor) afterSuccess(schedule *Schedule, now time.Time) RunUpdate {
	nextRun := e.calc.NextRun(schedule, now)
	return RunUpdate{
		RanAt:    now,
		NextRun:  nextRun,
		Complete: nextRun == nil || !shouldContinue(schedule),
	}
}

// afterFailure leaves the schedule due unless a retry policy applies. An
// exhausted policy abandons the occurrence and moves to the next one.
func (e *Executor) afterFailure(schedule *Schedule, now time.Time) RunUpdate {
	failures := schedule.ConsecutiveFailures + 1
	policy := schedule.Config.Retry

	if !policy.Enabled() {
		return RunUpdate{RanAt: now, KeepNextRun: true, ConsecutiveFailures: failures}
	}

	if failures <= policy.MaxRetries {
		retryAt := now.Add(backoffDelay(policy, failures))
		return RunUpdate{RanAt: now, NextRun: &retryAt, ConsecutiveFailures: failures}
	}

	nextRun := e.calc.NextRun(schedule, now)
	return RunUpdate{
		RanAt:    now,
		NextRun:  nextRun,
		Complete: nextRun == nil || !shouldContinue(schedule),
	}
}

// shouldContinue reports whether the run being recorded leaves the
// schedule below its max_runs cap.
func shouldContinue(schedule *Schedule) bool {
	return schedule.MaxRuns == nil || schedule.RunCount+1 < *schedule.MaxRuns
}

// backoffDelay doubles the base delay per consecutive failure, capped by
// max_backoff_seconds when set.
func backoffDelay(policy *RetryPolicy, failures int) time.Duration {
	base := time.Duration(policy.BackoffSeconds) * time.Second
	limit := time.Duration(policy.MaxBackoffSeconds) * time.Second

	delay := base
	for i := 1; i < failures && delay > 0; i++ {
		if limit > 0 && delay >= limit {
			break
		}
		delay *= 2
		if delay > 24*time.Hour*365 {
			break
		}
	}

	if limit > 0 && delay > limit {
		delay = limit
	}
	return delay
}
