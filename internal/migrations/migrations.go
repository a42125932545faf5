// Package migrations owns the Postgres schema of the incident store.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

//go:embed sql/*.sql
var embeddedFS embed.FS

const versionTable = "nocassist_schema_migrations"

var fileNamePattern = regexp.MustCompile(`^(\d+)_([a-z0-9_]+)\.(up|down)\.sql$`)

// Migration is one numbered schema change with its inverse.
type Migration struct {
	Version int64
	Name    string
	Up      string
	Down    string
}

type Runner struct {
	source fs.FS
}

func NewRunner() *Runner {
	return &Runner{source: embeddedFS}
}

// Up applies pending migrations oldest first. steps <= 0 applies all of them.
func (r *Runner) Up(ctx context.Context, db *sql.DB, steps int) (int, error) {
	available, applied, err := r.state(ctx, db)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, m := range available {
		if steps > 0 && count == steps {
			break
		}
		if slices.Contains(applied, m.Version) {
			continue
		}
		record := `INSERT INTO ` + versionTable + ` (version) VALUES ($1)`
		if err := execStep(ctx, db, m.Version, m.Up, record); err != nil {
			return count, fmt.Errorf("apply migration %d_%s: %w", m.Version, m.Name, err)
		}
		count++
	}
	return count, nil
}

// Down reverts the newest applied migrations. steps <= 0 reverts one.
func (r *Runner) Down(ctx context.Context, db *sql.DB, steps int) (int, error) {
	steps = max(steps, 1)
	available, applied, err := r.state(ctx, db)
	if err != nil {
		return 0, err
	}
	byVersion := make(map[int64]Migration, len(available))
	for _, m := range available {
		byVersion[m.Version] = m
	}

	count := 0
	for i := len(applied) - 1; i >= 0 && count < steps; i-- {
		m, ok := byVersion[applied[i]]
		if !ok {
			return count, fmt.Errorf("applied migration %d has no source", applied[i])
		}
		forget := `DELETE FROM ` + versionTable + ` WHERE version = $1`
		if err := execStep(ctx, db, m.Version, m.Down, forget); err != nil {
			return count, fmt.Errorf("revert migration %d_%s: %w", m.Version, m.Name, err)
		}
		count++
	}
	return count, nil
}

// Status lists applied and pending migration versions in ascending order.
func (r *Runner) Status(ctx context.Context, db *sql.DB) (applied []int64, pending []int64, err error) {
	available, applied, err := r.state(ctx, db)
	if err != nil {
		return nil, nil, err
	}
	for _, m := range available {
		if !slices.Contains(applied, m.Version) {
			pending = append(pending, m.Version)
		}
	}
	return applied, pending, nil
}

func (r *Runner) state(ctx context.Context, db *sql.DB) ([]Migration, []int64, error) {
	available, err := Load(r.source)
	if err != nil {
		return nil, nil, err
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+versionTable+` (
	version BIGINT PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`); err != nil {
		return nil, nil, fmt.Errorf("ensure %s: %w", versionTable, err)
	}

	rows, err := db.QueryContext(ctx, `SELECT version FROM `+versionTable+` ORDER BY version`)
	if err != nil {
		return nil, nil, fmt.Errorf("read applied versions: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var applied []int64
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return nil, nil, fmt.Errorf("scan applied version: %w", err)
		}
		applied = append(applied, version)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("read applied versions: %w", err)
	}
	return available, applied, nil
}

// execStep runs the script and the version bookkeeping in one transaction.
func execStep(ctx context.Context, db *sql.DB, version int64, script, bookkeeping string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, script); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, bookkeeping, version); err != nil {
		return fmt.Errorf("record version: %w", err)
	}
	return tx.Commit()
}

// Load reads NNNNNN_name.up.sql / .down.sql pairs from the sql directory of
// fsys, sorted by version. Every version needs both halves.
func Load(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, "sql")
	if err != nil {
		return nil, fmt.Errorf("read migration dir: %w", err)
	}

	found := map[int64]*Migration{}
	for _, entry := range entries {
		parts := fileNamePattern.FindStringSubmatch(entry.Name())
		if entry.IsDir() || parts == nil {
			continue
		}
		version, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("migration %q: %w", entry.Name(), err)
		}
		body, err := fs.ReadFile(fsys, "sql/"+entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read migration %q: %w", entry.Name(), err)
		}

		m, ok := found[version]
		if !ok {
			m = &Migration{Version: version, Name: parts[2]}
			found[version] = m
		} else if m.Name != parts[2] {
			return nil, fmt.Errorf("migration %d has conflicting names %q and %q", version, m.Name, parts[2])
		}
		if parts[3] == "up" {
			m.Up = string(body)
		} else {
			m.Down = string(body)
		}
	}

	out := make([]Migration, 0, len(found))
	for _, m := range found {
		switch {
		case strings.TrimSpace(m.Up) == "":
			return nil, fmt.Errorf("migration %d_%s is missing its up script", m.Version, m.Name)
		case strings.TrimSpace(m.Down) == "":
			return nil, fmt.Errorf("migration %d_%s is missing its down script", m.Version, m.Name)
		}
		out = append(out, *m)
	}
	slices.SortFunc(out, func(a, b Migration) int {
		switch {
		case a.Version < b.Version:
			return -1
		case a.Version > b.Version:
			return 1
		}
		return 0
	})
	return out, nil
}
