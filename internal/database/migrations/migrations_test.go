package migrations

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func TestRun(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	require.NoError(t, Run(ctx, db))

	var count int
	err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+versionTable).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestRun_Idempotent(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	require.NoError(t, Run(ctx, db))
	require.NoError(t, Run(ctx, db))

	status, err := Status(ctx, db)
	require.NoError(t, err)
	require.Len(t, status, 2)
	for _, m := range status {
		assert.True(t, m.Applied, "migration %s should be applied", m.ID)
		assert.NotNil(t, m.AppliedAt)
	}
}

func TestStatus_BeforeRun(t *testing.T) {
	db := testDB(t)

	status, err := Status(context.Background(), db)
	require.NoError(t, err)
	require.Len(t, status, 2)
	assert.Equal(t, "001_schedules", status[0].ID)
	assert.False(t, status[0].Applied)
}

func TestSchedulesTables(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	require.NoError(t, Run(ctx, db))

	tests := []struct {
		table   string
		columns []string
	}{
		{
			table: "schedules",
			columns: []string{
				"id", "name", "type", "status", "is_active", "config",
				"action_type", "action_config", "next_run", "last_run",
				"run_count", "max_runs", "consecutive_failures", "revision", "claimed_until",
			},
		},
		{
			table: "schedule_executions",
			columns: []string{
				"id", "schedule_id", "scheduled_at", "started_at",
				"completed_at", "status", "result", "error_message",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.table, func(t *testing.T) {
			columns := tableColumns(t, db, tt.table)
			for _, col := range tt.columns {
				assert.True(t, columns[col], "%s missing column %s", tt.table, col)
			}
		})
	}
}

func TestSplitStatements(t *testing.T) {
	content := stripComments(`
-- leading comment
CREATE TABLE a (v TEXT DEFAULT 'x;y');
-- between
CREATE INDEX i ON a (v);
`)

	stmts := splitStatements(content)
	require.Len(t, stmts, 2)
	assert.Contains(t, stmts[0], "'x;y'")
	assert.Equal(t, "CREATE INDEX i ON a (v)", stmts[1])
}

func tableColumns(t *testing.T, db *sql.DB, table string) map[string]bool {
	t.Helper()

	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	require.NoError(t, err)
	defer rows.Close()

	columns := make(map[string]bool)
	for rows.Next() {
		var cid int
		var name, typ string
		var notnull, pk int
		var dflt sql.NullString
		require.NoError(t, rows.Scan(&cid, &name, &typ, &notnull, &dflt, &pk))
		columns[name] = true
	}
	require.NoError(t, rows.Err())

	return columns
}
