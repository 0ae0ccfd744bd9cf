package metrics

import (
	"database/sql"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T) string {
	t.Helper()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestRecordExecution(t *testing.T) {
	RecordExecution("metrics_test", "completed", 20*time.Millisecond)
	RecordExecution("metrics_test", "completed", 30*time.Millisecond)
	RecordExecution("metrics_test", "timed_out", time.Second)

	body := scrape(t)
	assert.Contains(t, body, `schedulerd_executions_total{action_type="metrics_test",status="completed"} 2`)
	assert.Contains(t, body, `schedulerd_executions_total{action_type="metrics_test",status="timed_out"} 1`)
	assert.Contains(t, body, `schedulerd_execution_duration_seconds_count{action_type="metrics_test"} 3`)
}

func TestInFlight(t *testing.T) {
	IncrementInFlight()
	IncrementInFlight()
	DecrementInFlight()
	assert.Contains(t, scrape(t), "schedulerd_executions_in_flight 1")
	DecrementInFlight()
}

func TestDispatchAndMaintenanceMetrics(t *testing.T) {
	RecordTick(3, nil)
	RecordTick(0, errors.New("database is locked"))
	RecordSkipped()
	RecordPruned(7)
	UpdateDBStats(sql.DBStats{OpenConnections: 1, InUse: 1})

	body := scrape(t)
	for _, name := range []string{
		"schedulerd_dispatch_ticks_total",
		"schedulerd_dispatch_tick_errors_total",
		"schedulerd_schedules_claimed_total",
		"schedulerd_dispatch_skipped_total",
		"schedulerd_executions_pruned_total",
	} {
		assert.Contains(t, body, name)
	}
	assert.Contains(t, body, "schedulerd_db_connections_open 1")
	assert.Contains(t, body, "schedulerd_db_connections_in_use 1")
}
