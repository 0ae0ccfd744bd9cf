// Package metrics exposes Prometheus instrumentation for the dispatch loop
// and executor.
package metrics

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	dispatchTicksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "schedulerd_dispatch_ticks_total",
			Help: "Total number of dispatch loop ticks",
		},
	)

	dispatchTickErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "schedulerd_dispatch_tick_errors_total",
			Help: "Total number of dispatch ticks that failed to claim due schedules",
		},
	)

	schedulesClaimedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "schedulerd_schedules_claimed_total",
			Help: "Total number of due schedules claimed for dispatch",
		},
	)

	dispatchSkippedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "schedulerd_dispatch_skipped_total",
			Help: "Total number of claimed schedules skipped because a run was still in flight",
		},
	)

	executionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schedulerd_executions_total",
			Help: "Total number of settled executions",
		},
		[]string{"action_type", "status"},
	)

	executionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "schedulerd_execution_duration_seconds",
			Help:    "Action handler latency in seconds",
			Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 300},
		},
		[]string{"action_type"},
	)

	executionsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "schedulerd_executions_in_flight",
			Help: "Number of action handlers currently running",
		},
	)

	executionsPrunedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "schedulerd_executions_pruned_total",
			Help: "Total number of execution records removed by retention",
		},
	)

	dbConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "schedulerd_db_connections_open",
			Help: "Number of open database connections",
		},
	)

	dbConnectionsInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "schedulerd_db_connections_in_use",
			Help: "Number of database connections currently in use",
		},
	)
)

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordTick counts one dispatch tick and the schedules it claimed.
func RecordTick(claimed int, err error) {
	dispatchTicksTotal.Inc()
	if err != nil {
		dispatchTickErrorsTotal.Inc()
		return
	}
	schedulesClaimedTotal.Add(float64(claimed))
}

// RecordSkipped counts a claimed schedule that was not dispatched.
func RecordSkipped() {
	dispatchSkippedTotal.Inc()
}

// RecordExecution records a settled execution.
func RecordExecution(actionType, status string, duration time.Duration) {
	executionsTotal.WithLabelValues(actionType, status).Inc()
	executionDuration.WithLabelValues(actionType).Observe(duration.Seconds())
}

func IncrementInFlight() {
	executionsInFlight.Inc()
}

func DecrementInFlight() {
	executionsInFlight.Dec()
}

// RecordPruned counts execution records removed by retention.
func RecordPruned(n int64) {
	executionsPrunedTotal.Add(float64(n))
}

// UpdateDBStats publishes connection pool statistics.
func UpdateDBStats(stats sql.DBStats) {
	dbConnectionsOpen.Set(float64(stats.OpenConnections))
	dbConnectionsInUse.Set(float64(stats.InUse))
}
