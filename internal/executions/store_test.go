package executions

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/staybook/schedulerd/internal/config"
	"github.com/staybook/schedulerd/internal/database"
)

var baseTime = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func testDBExec(t *testing.T) *database.DB {
	t.Helper()

	cfg := config.Default().Database
	cfg.Path = filepath.Join(t.TempDir(), "test.db")

	db, err := database.Open(&cfg)
	require.NoError(t, err)

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

// seedSchedule inserts a minimal schedule row for the foreign key.
func seedSchedule(t *testing.T, db *database.DB, id string) {
	t.Helper()

	now := database.FormatTime(baseTime)
	_, err := db.ExecContext(context.Background(), `
		INSERT INTO schedules (id, name, type, status, is_active, action_type, created_at, updated_at)
		VALUES (?, ?, 'daily', 'active', 1, 'noop', ?, ?)
	`, id, id, now, now)
	require.NoError(t, err)
}

func running(id, scheduleID string, startedAt time.Time) *Execution {
	scheduledAt := startedAt.Add(-time.Second)
	return &Execution{
		ID:          id,
		ScheduleID:  scheduleID,
		ScheduledAt: &scheduledAt,
		StartedAt:   startedAt,
		Status:      StatusRunning,
	}
}

func TestStore_Create(t *testing.T) {
	db := testDBExec(t)
	seedSchedule(t, db, "sched-1")
	store := NewStore(db)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, running("exec-1", "sched-1", baseTime)))

	got, err := store.Get(ctx, "exec-1")
	require.NoError(t, err)
	require.Equal(t, "sched-1", got.ScheduleID)
	require.Equal(t, StatusRunning, got.Status)
	require.True(t, got.StartedAt.Equal(baseTime))
	require.NotNil(t, got.ScheduledAt)
	require.Nil(t, got.CompletedAt)
	require.Nil(t, got.Result)
}

func TestStore_Create_UnknownSchedule(t *testing.T) {
	db := testDBExec(t)
	store := NewStore(db)

	err := store.Create(context.Background(), running("exec-1", "missing", baseTime))
	require.Error(t, err)
	require.True(t, errors.Is(err, database.ErrForeignKey))
}

func TestStore_Settle(t *testing.T) {
	db := testDBExec(t)
	seedSchedule(t, db, "sched-1")
	store := NewStore(db)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, running("exec-1", "sched-1", baseTime)))

	err := store.Settle(ctx, "exec-1", Outcome{
		Status:      StatusCompleted,
		CompletedAt: baseTime.Add(2 * time.Second),
		Result:      map[string]any{"sent": float64(3)},
		DurationMs:  2000,
	})
	require.NoError(t, err)

	got, err := store.Get(ctx, "exec-1")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
	require.Equal(t, map[string]any{"sent": float64(3)}, got.Result)
	require.Equal(t, int64(2000), got.DurationMs)
	require.Empty(t, got.ErrorMessage)
}

func TestStore_Settle_OnlyOnce(t *testing.T) {
	db := testDBExec(t)
	seedSchedule(t, db, "sched-1")
	store := NewStore(db)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, running("exec-1", "sched-1", baseTime)))
	require.NoError(t, store.Settle(ctx, "exec-1", Outcome{
		Status:       StatusFailed,
		CompletedAt:  baseTime,
		ErrorMessage: "smtp unavailable",
	}))

	err := store.Settle(ctx, "exec-1", Outcome{Status: StatusCompleted, CompletedAt: baseTime})
	require.ErrorIs(t, err, ErrAlreadySettled)

	got, err := store.Get(ctx, "exec-1")
	require.NoError(t, err)
	require.Equal(t, StatusFailed, got.Status)
	require.Equal(t, "smtp unavailable", got.ErrorMessage)
}

func TestStore_Settle_Validation(t *testing.T) {
	db := testDBExec(t)
	store := NewStore(db)
	ctx := context.Background()

	err := store.Settle(ctx, "exec-1", Outcome{Status: StatusRunning, CompletedAt: baseTime})
	require.Error(t, err)

	err = store.Settle(ctx, "missing", Outcome{Status: StatusCompleted, CompletedAt: baseTime})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStore_Get_NotFound(t *testing.T) {
	db := testDBExec(t)
	store := NewStore(db)

	_, err := store.Get(context.Background(), "nonexistent")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStore_List(t *testing.T) {
	db := testDBExec(t)
	seedSchedule(t, db, "sched-a")
	seedSchedule(t, db, "sched-b")
	store := NewStore(db)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, running("exec-1", "sched-a", baseTime.Add(-3*time.Minute))))
	require.NoError(t, store.Create(ctx, running("exec-2", "sched-b", baseTime.Add(-2*time.Minute))))
	require.NoError(t, store.Create(ctx, running("exec-3", "sched-a", baseTime.Add(-1*time.Minute))))
	require.NoError(t, store.Settle(ctx, "exec-1", Outcome{Status: StatusFailed, CompletedAt: baseTime}))

	all, err := store.List(ctx, Filter{}, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "exec-3", all[0].ID, "newest first")
	assert.Equal(t, "exec-1", all[2].ID)

	bySchedule, err := store.List(ctx, Filter{ScheduleID: "sched-a"}, 0, 0)
	require.NoError(t, err)
	require.Len(t, bySchedule, 2)

	failed, err := store.List(ctx, Filter{Status: StatusFailed}, 0, 0)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "exec-1", failed[0].ID)

	limited, err := store.List(ctx, Filter{}, 2, 1)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "exec-2", limited[0].ID)
}

func TestStore_Counts(t *testing.T) {
	db := testDBExec(t)
	seedSchedule(t, db, "sched-1")
	store := NewStore(db)
	ctx := context.Background()

	outcomes := []Status{StatusCompleted, StatusCompleted, StatusFailed, StatusTimedOut}
	for i, status := range outcomes {
		id := "exec-" + string(rune('a'+i))
		require.NoError(t, store.Create(ctx, running(id, "sched-1", baseTime)))
		require.NoError(t, store.Settle(ctx, id, Outcome{Status: status, CompletedAt: baseTime}))
	}
	require.NoError(t, store.Create(ctx, running("exec-open", "sched-1", baseTime)))

	counts, err := store.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{Total: 5, Completed: 2, Failed: 1, TimedOut: 1, Running: 1}, counts)
}

func TestStore_DeleteOlderThan(t *testing.T) {
	db := testDBExec(t)
	seedSchedule(t, db, "sched-1")
	store := NewStore(db)
	ctx := context.Background()

	old := baseTime.Add(-48 * time.Hour)
	require.NoError(t, store.Create(ctx, running("old-settled", "sched-1", old)))
	require.NoError(t, store.Settle(ctx, "old-settled", Outcome{Status: StatusCompleted, CompletedAt: old}))
	require.NoError(t, store.Create(ctx, running("old-running", "sched-1", old)))
	require.NoError(t, store.Create(ctx, running("recent", "sched-1", baseTime)))
	require.NoError(t, store.Settle(ctx, "recent", Outcome{Status: StatusCompleted, CompletedAt: baseTime}))

	deleted, err := store.DeleteOlderThan(ctx, baseTime.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = store.Get(ctx, "old-settled")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = store.Get(ctx, "old-running")
	require.NoError(t, err, "unsettled executions are never pruned")
}

func TestStore_FailStale(t *testing.T) {
	db := testDBExec(t)
	seedSchedule(t, db, "sched-1")
	store := NewStore(db)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, running("stale", "sched-1", baseTime.Add(-time.Hour))))
	require.NoError(t, store.Create(ctx, running("fresh", "sched-1", baseTime)))

	n, err := store.FailStale(ctx, baseTime.Add(-30*time.Minute), baseTime, "abandoned")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	stale, err := store.Get(ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, stale.Status)
	assert.Equal(t, "abandoned", stale.ErrorMessage)
	require.NotNil(t, stale.CompletedAt)

	fresh, err := store.Get(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, fresh.Status)
}

func TestPruner_Prune(t *testing.T) {
	db := testDBExec(t)
	seedSchedule(t, db, "sched-1")
	store := NewStore(db)
	ctx := context.Background()

	old := baseTime.Add(-10 * 24 * time.Hour)
	require.NoError(t, store.Create(ctx, running("old", "sched-1", old)))
	require.NoError(t, store.Settle(ctx, "old", Outcome{Status: StatusFailed, CompletedAt: old}))

	pruner := NewPruner(store, 7*24*time.Hour, time.Hour)
	pruner.now = func() time.Time { return baseTime }

	deleted, err := pruner.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}

func TestPruner_StartStopIdempotent(t *testing.T) {
	db := testDBExec(t)
	pruner := NewPruner(NewStore(db), 0, 0)

	pruner.Start(context.Background())
	pruner.Start(context.Background())
	pruner.Stop()
	pruner.Stop()
}

func TestStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status   Status
		terminal bool
	}{
		{StatusPending, false},
		{StatusRunning, false},
		{StatusCompleted, true},
		{StatusFailed, true},
		{StatusTimedOut, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.status.IsTerminal())
			assert.True(t, tt.status.Valid())
		})
	}

	assert.False(t, Status("bogus").Valid())
}
