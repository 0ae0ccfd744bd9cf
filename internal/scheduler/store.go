package scheduler

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gobwas/glob"

	"github.com/staybook/schedulerd/internal/database"
	"github.com/staybook/schedulerd/internal/executions"
)

// ErrConflict is returned when a guarded write finds the schedule in a
// different status than the caller read.
var ErrConflict = errors.New("schedule modified concurrently")

// RunUpdate describes the schedule changes that follow one execution.
type RunUpdate struct {
	RanAt time.Time
	// NextRun is written unless KeepNextRun is set.
	NextRun     *time.Time
	KeepNextRun bool
	// Complete moves an active or paused schedule to completed.
	Complete            bool
	ConsecutiveFailures int
	// Revision is the schedule revision NextRun and Complete were computed
	// from. If the definition changed since, the stored next_run is kept
	// and only max_runs can complete the schedule.
	Revision int
}

// ScheduleCounts summarizes schedules by status.
type ScheduleCounts struct {
	Total     int
	Active    int
	Paused    int
	Completed int
	Cancelled int
}

// Store persists schedules and their executions. Every status write also
// writes is_active so the two never disagree.
type Store interface {
	InsertSchedule(ctx context.Context, schedule *Schedule) error
	GetSchedule(ctx context.Context, id string) (*Schedule, error)
	// UpdateSchedule writes the mutable definition fields, next_run and
	// status, provided the stored status still equals expected.
	UpdateSchedule(ctx context.Context, schedule *Schedule, expected Status) error
	// SetStatus moves a schedule whose status is one of from to to. It
	// reports false when the stored status matched none of from.
	SetStatus(ctx context.Context, id string, from []Status, to Status, now time.Time) (bool, error)
	// Reschedule is SetStatus that also writes next_run.
	Reschedule(ctx context.Context, id string, from, to Status, nextRun *time.Time, now time.Time) (bool, error)
	RecordRun(ctx context.Context, id string, update RunUpdate) error
	DeleteSchedule(ctx context.Context, id string) error

	QueryDueSchedules(ctx context.Context, now time.Time) ([]*Schedule, error)
	// ClaimDue atomically marks up to limit due, unclaimed schedules as
	// claimed until leaseUntil and returns them.
	ClaimDue(ctx context.Context, now, leaseUntil time.Time, limit int) ([]*Schedule, error)
	ReleaseClaim(ctx context.Context, id string) error
	ClearExpiredClaims(ctx context.Context, now time.Time) (int64, error)

	ListSchedules(ctx context.Context, filter ScheduleFilter, limit int) ([]*Schedule, error)
	CountSchedules(ctx context.Context) (ScheduleCounts, error)

	InsertExecution(ctx context.Context, exec *executions.Execution) error
	SettleExecution(ctx context.Context, id string, outcome executions.Outcome) error
	ListExecutions(ctx context.Context, scheduleID string, limit int) ([]*executions.Execution, error)
	CountExecutions(ctx context.Context) (executions.Counts, error)
	FailStaleExecutions(ctx context.Context, cutoff, now time.Time, message string) (int64, error)
}

const scheduleColumns = `id, name, description, type, status, config, action_type, action_config,
	next_run, last_run, run_count, max_runs, consecutive_failures, revision, created_by, created_at, updated_at`

// SQLStore is the SQLite implementation of Store.
type SQLStore struct {
	db         *database.DB
	executions *executions.Store
}

// NewSQLStore creates a store backed by db.
func NewSQLStore(db *database.DB) *SQLStore {
	return &SQLStore{
		db:         db,
		executions: executions.NewStore(db),
	}
}

// Executions exposes the execution store, e.g. for the retention pruner.
func (s *SQLStore) Executions() *executions.Store {
	return s.executions
}

// InsertSchedule inserts a new schedule.
func (s *SQLStore) InsertSchedule(ctx context.Context, schedule *Schedule) error {
	configJSON, actionJSON, err := encodeDefinition(schedule)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO schedules (`+scheduleColumns+`, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		schedule.ID,
		schedule.Name,
		schedule.Description,
		string(schedule.Type),
		string(schedule.Status),
		configJSON,
		schedule.ActionType,
		actionJSON,
		database.NullTime(schedule.NextRun),
		database.NullTime(schedule.LastRun),
		schedule.RunCount,
		nullInt(schedule.MaxRuns),
		schedule.ConsecutiveFailures,
		schedule.Revision,
		schedule.CreatedBy,
		database.FormatTime(schedule.CreatedAt),
		database.FormatTime(schedule.UpdatedAt),
		schedule.Status == StatusActive,
	)
	if err != nil {
		return fmt.Errorf("inserting schedule: %w", database.ClassifyError(err))
	}

	return nil
}

// GetSchedule retrieves a schedule by ID.
func (s *SQLStore) GetSchedule(ctx context.Context, id string) (*Schedule, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+scheduleColumns+`
		FROM schedules
		WHERE id = ?
	`, id)

	schedule, err := scanSchedule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &NotFoundError{ID: id}
		}
		return nil, fmt.Errorf("getting schedule: %w", err)
	}

	return schedule, nil
}

// UpdateSchedule writes the definition of schedule and bumps its revision.
func (s *SQLStore) UpdateSchedule(ctx context.Context, schedule *Schedule, expected Status) error {
	configJSON, actionJSON, err := encodeDefinition(schedule)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE schedules
		SET name = ?, description = ?, type = ?, config = ?, action_type = ?, action_config = ?,
		    max_runs = ?, next_run = ?, status = ?, is_active = ?, updated_at = ?,
		    revision = revision + 1
		WHERE id = ? AND status = ?
	`,
		schedule.Name,
		schedule.Description,
		string(schedule.Type),
		configJSON,
		schedule.ActionType,
		actionJSON,
		nullInt(schedule.MaxRuns),
		database.NullTime(schedule.NextRun),
		string(schedule.Status),
		schedule.Status == StatusActive,
		database.FormatTime(schedule.UpdatedAt),
		schedule.ID,
		string(expected),
	)
	if err != nil {
		return fmt.Errorf("updating schedule: %w", database.ClassifyError(err))
	}

	updated, err := s.affected(ctx, res, schedule.ID)
	if err != nil {
		return err
	}
	if !updated {
		return fmt.Errorf("%w: %s", ErrConflict, schedule.ID)
	}

	schedule.Revision++
	return nil
}

// SetStatus performs a guarded status transition.
func (s *SQLStore) SetStatus(ctx context.Context, id string, from []Status, to Status, now time.Time) (bool, error) {
	placeholders, args := statusArgs(from)

	query := `
		UPDATE schedules
		SET status = ?, is_active = ?, updated_at = ?
		WHERE id = ? AND status IN (` + placeholders + `)
	`
	res, err := s.db.ExecContext(ctx, query,
		append([]any{string(to), to == StatusActive, database.FormatTime(now), id}, args...)...)
	if err != nil {
		return false, fmt.Errorf("updating schedule status: %w", err)
	}

	return s.affected(ctx, res, id)
}

// Reschedule performs a guarded status transition that also sets next_run.
func (s *SQLStore) Reschedule(ctx context.Context, id string, from, to Status, nextRun *time.Time, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE schedules
		SET status = ?, is_active = ?, next_run = ?, claimed_until = NULL, updated_at = ?
		WHERE id = ? AND status = ?
	`,
		string(to),
		to == StatusActive,
		database.NullTime(nextRun),
		database.FormatTime(now),
		id,
		string(from),
	)
	if err != nil {
		return false, fmt.Errorf("rescheduling: %w", err)
	}

	return s.affected(ctx, res, id)
}

// RecordRun applies the bookkeeping of one execution and releases the
// claim. run_count is incremented in SQL so concurrent writers never lose
// a run. A cancelled schedule stays cancelled.
func (s *SQLStore) RecordRun(ctx context.Context, id string, update RunUpdate) error {
	// SET expressions see the row before the update.
	const complete = `status IN ('active', 'paused') AND (
		    (? AND revision = ?)
		    OR (revision <> ? AND max_runs IS NOT NULL AND run_count + 1 >= max_runs))`

	res, err := s.db.ExecContext(ctx, `
		UPDATE schedules
		SET last_run = ?,
		    run_count = run_count + 1,
		    consecutive_failures = ?,
		    next_run = CASE WHEN ? OR revision <> ? THEN next_run ELSE ? END,
		    status = CASE WHEN `+complete+` THEN 'completed' ELSE status END,
		    is_active = CASE WHEN `+complete+` THEN 0 ELSE is_active END,
		    claimed_until = NULL,
		    updated_at = ?
		WHERE id = ?
	`,
		database.FormatTime(update.RanAt),
		update.ConsecutiveFailures,
		update.KeepNextRun, update.Revision,
		database.NullTime(update.NextRun),
		update.Complete, update.Revision, update.Revision,
		update.Complete, update.Revision, update.Revision,
		database.FormatTime(update.RanAt),
		id,
	)
	if err != nil {
		return fmt.Errorf("recording run: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		return &NotFoundError{ID: id}
	}

	return nil
}

// DeleteSchedule removes a schedule. Its executions cascade.
func (s *SQLStore) DeleteSchedule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting schedule: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		return &NotFoundError{ID: id}
	}

	return nil
}

// QueryDueSchedules returns active schedules whose next_run is at or
// before now, claimed or not. It does not modify anything.
func (s *SQLStore) QueryDueSchedules(ctx context.Context, now time.Time) ([]*Schedule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+scheduleColumns+`
		FROM schedules
		WHERE is_active = 1
		  AND status = 'active'
		  AND next_run IS NOT NULL
		  AND next_run <= ?
		ORDER BY next_run ASC, id ASC
	`, database.FormatTime(now))
	if err != nil {
		return nil, fmt.Errorf("querying due schedules: %w", err)
	}
	defer rows.Close()

	return scanSchedules(rows)
}

// ClaimDue claims due schedules in one statement.
func (s *SQLStore) ClaimDue(ctx context.Context, now, leaseUntil time.Time, limit int) ([]*Schedule, error) {
	nowStr := database.FormatTime(now)

	rows, err := s.db.QueryContext(ctx, `
		UPDATE schedules
		SET claimed_until = ?
		WHERE id IN (
			SELECT id FROM schedules
			WHERE is_active = 1
			  AND status = 'active'
			  AND next_run IS NOT NULL
			  AND next_run <= ?
			  AND (claimed_until IS NULL OR claimed_until <= ?)
			ORDER BY next_run ASC, id ASC
			LIMIT ?
		)
		RETURNING `+scheduleColumns,
		database.FormatTime(leaseUntil), nowStr, nowStr, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claiming due schedules: %w", err)
	}
	defer rows.Close()

	schedules, err := scanSchedules(rows)
	if err != nil {
		return nil, err
	}

	// RETURNING order is unspecified.
	sort.SliceStable(schedules, func(i, j int) bool {
		a, b := schedules[i], schedules[j]
		if !a.NextRun.Equal(*b.NextRun) {
			return a.NextRun.Before(*b.NextRun)
		}
		return a.ID < b.ID
	})

	return schedules, nil
}

// ReleaseClaim clears the claim on a schedule.
func (s *SQLStore) ReleaseClaim(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE schedules SET claimed_until = NULL WHERE id = ?`, id); err != nil {
		return fmt.Errorf("releasing claim: %w", err)
	}
	return nil
}

// ClearExpiredClaims clears claims whose lease ended at or before now.
func (s *SQLStore) ClearExpiredClaims(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE schedules
		SET claimed_until = NULL
		WHERE claimed_until IS NOT NULL AND claimed_until <= ?
	`, database.FormatTime(now))
	if err != nil {
		return 0, fmt.Errorf("clearing expired claims: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}

	return rows, nil
}

// ListSchedules retrieves schedules matching filter, oldest first. A
// non-positive limit returns every match.
func (s *SQLStore) ListSchedules(ctx context.Context, filter ScheduleFilter, limit int) ([]*Schedule, error) {
	var nameGlob glob.Glob
	if filter.NameGlob != "" {
		g, err := glob.Compile(filter.NameGlob)
		if err != nil {
			return nil, &ValidationError{Field: "name", Message: fmt.Sprintf("invalid glob %q: %v", filter.NameGlob, err)}
		}
		nameGlob = g
	}

	query := `
		SELECT ` + scheduleColumns + `
		FROM schedules
		WHERE 1=1
	`
	args := []any{}

	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.Type != "" {
		query += " AND type = ?"
		args = append(args, string(filter.Type))
	}

	query += " ORDER BY created_at ASC, rowid ASC"

	// The glob is matched in Go, so the limit can only be pushed down
	// when there is none.
	if limit > 0 && nameGlob == nil {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying schedules: %w", err)
	}
	defer rows.Close()

	var schedules []*Schedule
	for rows.Next() {
		schedule, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning schedule row: %w", err)
		}
		if nameGlob != nil && !nameGlob.Match(schedule.Name) {
			continue
		}
		schedules = append(schedules, schedule)
		if limit > 0 && len(schedules) == limit {
			break
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating schedules: %w", err)
	}

	return schedules, nil
}

// CountSchedules returns schedule totals grouped by status.
func (s *SQLStore) CountSchedules(ctx context.Context) (ScheduleCounts, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM schedules GROUP BY status`)
	if err != nil {
		return ScheduleCounts{}, fmt.Errorf("counting schedules: %w", err)
	}
	defer rows.Close()

	var counts ScheduleCounts
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return ScheduleCounts{}, fmt.Errorf("scanning schedule count: %w", err)
		}

		counts.Total += n
		switch Status(status) {
		case StatusActive:
			counts.Active = n
		case StatusPaused:
			counts.Paused = n
		case StatusCompleted:
			counts.Completed = n
		case StatusCancelled:
			counts.Cancelled = n
		}
	}

	if err := rows.Err(); err != nil {
		return ScheduleCounts{}, fmt.Errorf("iterating schedule counts: %w", err)
	}

	return counts, nil
}

// InsertExecution records a new execution.
func (s *SQLStore) InsertExecution(ctx context.Context, exec *executions.Execution) error {
	return s.executions.Create(ctx, exec)
}

// SettleExecution moves an execution to its terminal state.
func (s *SQLStore) SettleExecution(ctx context.Context, id string, outcome executions.Outcome) error {
	return s.executions.Settle(ctx, id, outcome)
}

// ListExecutions returns executions newest first, optionally for one
// schedule.
func (s *SQLStore) ListExecutions(ctx context.Context, scheduleID string, limit int) ([]*executions.Execution, error) {
	return s.executions.List(ctx, executions.Filter{ScheduleID: scheduleID}, limit, 0)
}

// CountExecutions returns execution totals grouped by status.
func (s *SQLStore) CountExecutions(ctx context.Context) (executions.Counts, error) {
	return s.executions.Counts(ctx)
}

// FailStaleExecutions settles executions orphaned before cutoff. Each
// abandoned attempt counts toward its schedule's run_count, completing
// schedules that reach max_runs.
func (s *SQLStore) FailStaleExecutions(ctx context.Context, cutoff, now time.Time, message string) (int64, error) {
	const abandoned = `(SELECT n FROM abandoned WHERE abandoned.schedule_id = schedules.id)`
	const complete = `status IN ('active', 'paused') AND max_runs IS NOT NULL
		    AND run_count + ` + abandoned + ` >= max_runs`

	var failed int64
	err := s.db.Transaction(ctx, func(tx *database.Tx) error {
		_, err := tx.ExecContext(ctx, `
			WITH abandoned AS (
				SELECT schedule_id, COUNT(*) AS n
				FROM schedule_executions
				WHERE status IN ('pending', 'running') AND started_at < ?
				GROUP BY schedule_id
			)
			UPDATE schedules
			SET run_count = run_count + `+abandoned+`,
			    status = CASE WHEN `+complete+` THEN 'completed' ELSE status END,
			    is_active = CASE WHEN `+complete+` THEN 0 ELSE is_active END,
			    updated_at = ?
			WHERE id IN (SELECT schedule_id FROM abandoned)
		`, database.FormatTime(cutoff), database.FormatTime(now))
		if err != nil {
			return fmt.Errorf("counting abandoned runs: %w", err)
		}

		failed, err = s.executions.FailStaleTx(ctx, tx, cutoff, now, message)
		return err
	})
	if err != nil {
		return 0, err
	}

	return failed, nil
}

// affected reports whether res touched a row, distinguishing a guard
// mismatch (false, nil) from a missing schedule.
func (s *SQLStore) affected(ctx context.Context, res sql.Result, id string) (bool, error) {
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}
	if rows > 0 {
		return true, nil
	}

	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM schedules WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, &NotFoundError{ID: id}
	}
	if err != nil {
		return false, fmt.Errorf("checking schedule: %w", err)
	}

	return false, nil
}

func statusArgs(statuses []Status) (string, []any) {
	placeholders := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, status := range statuses {
		placeholders[i] = "?"
		args[i] = string(status)
	}
	return strings.Join(placeholders, ", "), args
}

func encodeDefinition(schedule *Schedule) (string, string, error) {
	configJSON, err := json.Marshal(schedule.Config)
	if err != nil {
		return "", "", fmt.Errorf("marshaling config: %w", err)
	}

	actionConfig := schedule.ActionConfig
	if actionConfig == nil {
		actionConfig = map[string]any{}
	}
	actionJSON, err := json.Marshal(actionConfig)
	if err != nil {
		return "", "", fmt.Errorf("marshaling action config: %w", err)
	}

	return string(configJSON), string(actionJSON), nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row rowScanner) (*Schedule, error) {
	var schedule Schedule
	var scheduleType, status, configJSON, actionJSON string
	var nextRun, lastRun sql.NullString
	var maxRuns sql.NullInt64
	var createdAt, updatedAt string

	err := row.Scan(
		&schedule.ID,
		&schedule.Name,
		&schedule.Description,
		&scheduleType,
		&status,
		&configJSON,
		&schedule.ActionType,
		&actionJSON,
		&nextRun,
		&lastRun,
		&schedule.RunCount,
		&maxRuns,
		&schedule.ConsecutiveFailures,
		&schedule.Revision,
		&schedule.CreatedBy,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	schedule.Type = ScheduleType(scheduleType)
	schedule.Status = Status(status)

	if err := json.Unmarshal([]byte(configJSON), &schedule.Config); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := json.Unmarshal([]byte(actionJSON), &schedule.ActionConfig); err != nil {
		return nil, fmt.Errorf("unmarshaling action config: %w", err)
	}

	if maxRuns.Valid {
		n := int(maxRuns.Int64)
		schedule.MaxRuns = &n
	}

	if schedule.NextRun, err = database.ParseNullTime(nextRun); err != nil {
		return nil, fmt.Errorf("parsing next_run: %w", err)
	}
	if schedule.LastRun, err = database.ParseNullTime(lastRun); err != nil {
		return nil, fmt.Errorf("parsing last_run: %w", err)
	}
	if schedule.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if schedule.UpdatedAt, err = database.ParseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &schedule, nil
}

func scanSchedules(rows *sql.Rows) ([]*Schedule, error) {
	var schedules []*Schedule

	for rows.Next() {
		schedule, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning schedule row: %w", err)
		}
		schedules = append(schedules, schedule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating schedules: %w", err)
	}

	return schedules, nil
}
