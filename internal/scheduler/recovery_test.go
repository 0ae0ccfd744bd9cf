package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/staybook/schedulerd/internal/config"
	"github.com/staybook/schedulerd/internal/executions"
)

func TestRecoverer_RecoverStale(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	insert(t, h.store, storedSchedule("s1", "crashed", StatusActive, timePtr(jan1)))
	insert(t, h.store, storedSchedule("s2", "fresh", StatusActive, timePtr(jan1)))

	_, err := h.store.ClaimDue(ctx, jan1, jan1.Add(10*time.Minute), 10)
	require.NoError(t, err)

	require.NoError(t, h.store.InsertExecution(ctx, &executions.Execution{
		ID: "old", ScheduleID: "s1", StartedAt: jan1, Status: executions.StatusRunning,
	}))
	require.NoError(t, h.store.InsertExecution(ctx, &executions.Execution{
		ID: "recent", ScheduleID: "s2", StartedAt: jan1.Add(25 * time.Minute), Status: executions.StatusRunning,
	}))

	h.clock.Set(jan1.Add(30 * time.Minute))
	recoverer := NewRecoverer(h.store, h.clock)

	report, err := recoverer.RecoverStale(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, RecoveryReport{AbandonedExecutions: 1, ReleasedClaims: 2}, report)

	old, err := h.store.Executions().Get(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, executions.StatusFailed, old.Status)
	assert.Equal(t, AbandonedMessage, old.ErrorMessage)

	recent, err := h.store.Executions().Get(ctx, "recent")
	require.NoError(t, err)
	assert.Equal(t, executions.StatusRunning, recent.Status)

	// Abandoned attempts count as runs.
	s1, err := h.store.GetSchedule(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, s1.RunCount)
	assert.Equal(t, StatusActive, s1.Status)
	s2, err := h.store.GetSchedule(ctx, "s2")
	require.NoError(t, err)
	assert.Equal(t, 0, s2.RunCount)

	// Released schedules are claimable again.
	claimed, err := h.store.ClaimDue(ctx, h.clock.Now(), h.clock.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Len(t, claimed, 2)
}

func TestRecoverer_AbandonedRunCompletesAtMaxRuns(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	s := storedSchedule("s1", "last run crashed", StatusActive, timePtr(jan1))
	s.MaxRuns = intPtr(1)
	insert(t, h.store, s)

	_, err := h.store.ClaimDue(ctx, jan1, jan1.Add(10*time.Minute), 10)
	require.NoError(t, err)
	require.NoError(t, h.store.InsertExecution(ctx, &executions.Execution{
		ID: "old", ScheduleID: "s1", StartedAt: jan1, Status: executions.StatusRunning,
	}))

	h.clock.Set(jan1.Add(30 * time.Minute))
	report, err := NewRecoverer(h.store, h.clock).RecoverStale(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.AbandonedExecutions)

	got, err := h.store.GetSchedule(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.RunCount)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.False(t, isActiveColumn(t, h, "s1"))

	claimed, err := h.store.ClaimDue(ctx, h.clock.Now(), h.clock.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestScheduler_StartStop(t *testing.T) {
	db := testDB(t)
	registry := NewRegistry()

	ran := make(chan struct{}, 1)
	registry.Register("signal", func(ctx context.Context, config map[string]any) (any, error) {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil, nil
	})

	cfg := config.Default().Scheduler
	cfg.PollInterval = 10 * time.Millisecond

	clock := newFakeClock(jan1)
	s := New(db, registry, cfg, clock)
	ctx := context.Background()

	schedule, err := s.Manager.Create(ctx, ScheduleSpec{
		Name:       "wired",
		Type:       ScheduleTypeDaily,
		ActionType: "signal",
	})
	require.NoError(t, err)
	clock.Set(*schedule.NextRun)

	require.NoError(t, s.Start(ctx))
	waitFor(t, ran, "scheduled run")

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(stopCtx))

	execs, err := s.Manager.GetScheduleExecutions(ctx, schedule.ID, 10)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, executions.StatusCompleted, execs[0].Status)
}
