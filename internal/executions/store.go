package executions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/staybook/schedulerd/internal/database"
)

var (
	// ErrNotFound is returned when an execution id does not exist.
	ErrNotFound = errors.New("execution not found")
	// ErrAlreadySettled is returned when settling an execution a second time.
	ErrAlreadySettled = errors.New("execution already settled")
)

const executionColumns = `id, schedule_id, scheduled_at, started_at, completed_at,
	status, result, error_message, duration_ms`

// Store handles database operations for schedule executions.
type Store struct {
	db *database.DB
}

// NewStore creates a new execution store.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// Create inserts a new execution.
func (s *Store) Create(ctx context.Context, exec *Execution) error {
	if !exec.Status.Valid() {
		return fmt.Errorf("invalid execution status %q", exec.Status)
	}

	result, err := encodeResult(exec.Result)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO schedule_executions (`+executionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		exec.ID,
		exec.ScheduleID,
		database.NullTime(exec.ScheduledAt),
		database.FormatTime(exec.StartedAt),
		database.NullTime(exec.CompletedAt),
		string(exec.Status),
		result,
		exec.ErrorMessage,
		exec.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("inserting execution: %w", database.ClassifyError(err))
	}

	return nil
}

// Settle moves a pending or running execution to its terminal state. A
// settled row is never touched again.
func (s *Store) Settle(ctx context.Context, id string, outcome Outcome) error {
	if !outcome.Status.IsTerminal() {
		return fmt.Errorf("cannot settle execution with non-terminal status %q", outcome.Status)
	}

	result, err := encodeResult(outcome.Result)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE schedule_executions
		SET status = ?, completed_at = ?, result = ?, error_message = ?, duration_ms = ?
		WHERE id = ? AND status IN ('pending', 'running')
	`,
		string(outcome.Status),
		database.FormatTime(outcome.CompletedAt),
		result,
		outcome.ErrorMessage,
		outcome.DurationMs,
		id,
	)
	if err != nil {
		return fmt.Errorf("settling execution: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: %s", ErrAlreadySettled, id)
	}

	return nil
}

// Get retrieves an execution by ID.
func (s *Store) Get(ctx context.Context, id string) (*Execution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+executionColumns+`
		FROM schedule_executions
		WHERE id = ?
	`, id)

	exec, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("querying execution: %w", err)
	}

	return exec, nil
}

// List retrieves executions, newest first.
func (s *Store) List(ctx context.Context, filter Filter, limit, offset int) ([]*Execution, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM schedule_executions
		WHERE 1=1
	`
	args := []any{}

	if filter.ScheduleID != "" {
		query += " AND schedule_id = ?"
		args = append(args, filter.ScheduleID)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}

	query += " ORDER BY started_at DESC, rowid DESC"

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
		if offset > 0 {
			query += " OFFSET ?"
			args = append(args, offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying executions: %w", err)
	}
	defer rows.Close()

	var list []*Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning execution: %w", err)
		}
		list = append(list, exec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating executions: %w", err)
	}

	return list, nil
}

// Counts returns execution totals grouped by status.
func (s *Store) Counts(ctx context.Context) (Counts, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM schedule_executions GROUP BY status
	`)
	if err != nil {
		return Counts{}, fmt.Errorf("counting executions: %w", err)
	}
	defer rows.Close()

	var counts Counts
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return Counts{}, fmt.Errorf("scanning execution count: %w", err)
		}

		counts.Total += n
		switch Status(status) {
		case StatusCompleted:
			counts.Completed = n
		case StatusFailed:
			counts.Failed = n
		case StatusTimedOut:
			counts.TimedOut = n
		case StatusPending, StatusRunning:
			counts.Running += n
		}
	}

	if err := rows.Err(); err != nil {
		return Counts{}, fmt.Errorf("iterating execution counts: %w", err)
	}

	return counts, nil
}

// DeleteOlderThan deletes settled executions that started before cutoff.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM schedule_executions
		WHERE started_at < ?
		  AND status IN ('completed', 'failed', 'timed_out')
	`, database.FormatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("deleting old executions: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}

	return rows, nil
}

// FailStale settles executions still pending or running that started
// before cutoff. It is used at startup to close attempts orphaned by a
// previous process.
func (s *Store) FailStale(ctx context.Context, cutoff, now time.Time, message string) (int64, error) {
	return failStale(ctx, s.db, cutoff, now, message)
}

// FailStaleTx is FailStale inside tx.
func (s *Store) FailStaleTx(ctx context.Context, tx *database.Tx, cutoff, now time.Time, message string) (int64, error) {
	return failStale(ctx, tx, cutoff, now, message)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func failStale(ctx context.Context, db execer, cutoff, now time.Time, message string) (int64, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE schedule_executions
		SET status = 'failed', completed_at = ?, error_message = ?
		WHERE status IN ('pending', 'running')
		  AND started_at < ?
	`, database.FormatTime(now), message, database.FormatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failing stale executions: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}

	return rows, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (*Execution, error) {
	var exec Execution
	var status, startedAt string
	var scheduledAt, completedAt, result sql.NullString

	if err := row.Scan(
		&exec.ID,
		&exec.ScheduleID,
		&scheduledAt,
		&startedAt,
		&completedAt,
		&status,
		&result,
		&exec.ErrorMessage,
		&exec.DurationMs,
	); err != nil {
		return nil, err
	}

	exec.Status = Status(status)

	var err error
	if exec.StartedAt, err = database.ParseTime(startedAt); err != nil {
		return nil, fmt.Errorf("parsing started_at: %w", err)
	}
	if exec.ScheduledAt, err = database.ParseNullTime(scheduledAt); err != nil {
		return nil, fmt.Errorf("parsing scheduled_at: %w", err)
	}
	if exec.CompletedAt, err = database.ParseNullTime(completedAt); err != nil {
		return nil, fmt.Errorf("parsing completed_at: %w", err)
	}

	if result.Valid && result.String != "" {
		if err := json.Unmarshal([]byte(result.String), &exec.Result); err != nil {
			return nil, fmt.Errorf("unmarshaling result: %w", err)
		}
	}

	return &exec, nil
}

func encodeResult(result any) (sql.NullString, error) {
	if result == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshaling result: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
