// Package migrations provides the embedded SQL schema for schedules and
// their execution history.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

//go:embed sql/*.sql
var sqlFS embed.FS

const versionTable = "_schedulerd_versions"

// Migration describes one embedded migration and whether it has been applied.
type Migration struct {
	ID        string     `json:"id" yaml:"id"`
	Applied   bool       `json:"applied" yaml:"applied"`
	AppliedAt *time.Time `json:"applied_at,omitempty" yaml:"applied_at,omitempty"`
}

type migration struct {
	id         string
	statements []string
}

// Run applies every pending migration in filename order. Each migration
// runs in its own transaction together with its version record.
func Run(ctx context.Context, db *sql.DB) error {
	if err := ensureVersionTable(ctx, db); err != nil {
		return fmt.Errorf("ensuring version table: %w", err)
	}

	applied, err := appliedAt(ctx, db)
	if err != nil {
		return fmt.Errorf("reading applied migrations: %w", err)
	}

	all, err := load()
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}

	for _, m := range all {
		if _, ok := applied[m.id]; ok {
			continue
		}

		if err := apply(ctx, db, m); err != nil {
			return fmt.Errorf("applying migration %s: %w", m.id, err)
		}

		log.Info().Str("migration", m.id).Msg("Applied migration")
	}

	return nil
}

// Status lists every embedded migration with its applied state.
func Status(ctx context.Context, db *sql.DB) ([]Migration, error) {
	if err := ensureVersionTable(ctx, db); err != nil {
		return nil, fmt.Errorf("ensuring version table: %w", err)
	}

	applied, err := appliedAt(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("reading applied migrations: %w", err)
	}

	all, err := load()
	if err != nil {
		return nil, fmt.Errorf("loading migrations: %w", err)
	}

	result := make([]Migration, 0, len(all))
	for _, m := range all {
		status := Migration{ID: m.id}
		if at, ok := applied[m.id]; ok {
			status.Applied = true
			status.AppliedAt = at
		}
		result = append(result, status)
	}

	return result, nil
}

func ensureVersionTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS `+versionTable+` (
			id TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL
		)
	`)
	return err
}

func appliedAt(ctx context.Context, db *sql.DB) (map[string]*time.Time, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, applied_at FROM `+versionTable)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]*time.Time)
	for rows.Next() {
		var id, at string
		if err := rows.Scan(&id, &at); err != nil {
			return nil, err
		}
		var ts *time.Time
		if t, parseErr := time.Parse(time.RFC3339, at); parseErr == nil {
			ts = &t
		}
		applied[id] = ts
	}

	return applied, rows.Err()
}

func load() ([]migration, error) {
	entries, err := fs.ReadDir(sqlFS, "sql")
	if err != nil {
		return nil, fmt.Errorf("reading sql directory: %w", err)
	}

	var all []migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		content, err := fs.ReadFile(sqlFS, "sql/"+entry.Name())
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", entry.Name(), err)
		}

		all = append(all, migration{
			id:         strings.TrimSuffix(entry.Name(), ".sql"),
			statements: splitStatements(stripComments(string(content))),
		})
	}

	sort.Slice(all, func(i, j int) bool {
		return all[i].id < all[j].id
	})

	return all, nil
}

func apply(ctx context.Context, db *sql.DB, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range m.statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("executing statement: %w\nSQL: %s", err, truncate(stmt, 100))
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO `+versionTable+` (id, applied_at) VALUES (?, ?)`,
		m.id, time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("recording migration: %w", err)
	}

	return tx.Commit()
}

// stripComments drops "--" line comments. The schema files keep comments
// on their own lines, so no string-literal awareness is needed here.
func stripComments(content string) string {
	lines := strings.Split(content, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

// splitStatements splits on semicolons that are outside quoted strings.
func splitStatements(content string) []string {
	var statements []string
	var current strings.Builder
	var quote rune

	for _, ch := range content {
		switch {
		case quote != 0:
			if ch == quote {
				quote = 0
			}
		case ch == '\'' || ch == '"':
			quote = ch
		case ch == ';':
			if stmt := strings.TrimSpace(current.String()); stmt != "" {
				statements = append(statements, stmt)
			}
			current.Reset()
			continue
		}
		current.WriteRune(ch)
	}

	if stmt := strings.TrimSpace(current.String()); stmt != "" {
		statements = append(statements, stmt)
	}

	return statements
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
