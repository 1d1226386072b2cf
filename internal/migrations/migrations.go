// Package migrations applies the catalog schema from SQL scripts embedded in
// the binary. Scripts live under sql/ as NNNNNN_label.up.sql and
// NNNNNN_label.down.sql pairs; applied versions are tracked in the
// sheetflow_schema_migrations table and every script runs in its own
// transaction.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"
)

//go:embed sql/*.sql
var embeddedFS embed.FS

const versionTable = "sheetflow_schema_migrations"

// Migration is one paired up/down script.
type Migration struct {
	Version int64
	Label   string
	upSQL   string
	downSQL string
}

// StatusEntry reports whether one migration has been applied. AppliedAt is
// zero for pending entries.
type StatusEntry struct {
	Version   int64
	Label     string
	Applied   bool
	AppliedAt time.Time
}

type Runner struct {
	fsys fs.FS
}

func NewRunner() *Runner {
	return &Runner{fsys: embeddedFS}
}

// Up applies pending migrations in version order and returns the ones it
// ran. A positive steps value caps how many are applied; zero applies all.
func (r *Runner) Up(ctx context.Context, db *sql.DB, steps int) ([]Migration, error) {
	scripts, err := loadScripts(r.fsys)
	if err != nil {
		return nil, err
	}
	if err := ensureVersionTable(ctx, db); err != nil {
		return nil, err
	}
	appliedAt, err := appliedVersions(ctx, db)
	if err != nil {
		return nil, err
	}

	var ran []Migration
	for _, m := range scripts {
		if _, done := appliedAt[m.Version]; done {
			continue
		}
		if steps > 0 && len(ran) >= steps {
			break
		}
		if err := runInTx(ctx, db, m.upSQL, markApplied, m.Version); err != nil {
			return ran, fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Label, err)
		}
		ran = append(ran, m)
	}
	return ran, nil
}

// Down rolls back the newest applied migrations and returns the ones it
// reverted. steps defaults to 1; a database containing a version with no
// matching script is reported as drift.
func (r *Runner) Down(ctx context.Context, db *sql.DB, steps int) ([]Migration, error) {
	if steps <= 0 {
		steps = 1
	}
	scripts, err := loadScripts(r.fsys)
	if err != nil {
		return nil, err
	}
	if err := ensureVersionTable(ctx, db); err != nil {
		return nil, err
	}
	appliedAt, err := appliedVersions(ctx, db)
	if err != nil {
		return nil, err
	}

	versions := make([]int64, 0, len(appliedAt))
	for version := range appliedAt {
		versions = append(versions, version)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] > versions[j] })

	byVersion := make(map[int64]Migration, len(scripts))
	for _, m := range scripts {
		byVersion[m.Version] = m
	}

	var reverted []Migration
	for _, version := range versions {
		if len(reverted) >= steps {
			break
		}
		m, ok := byVersion[version]
		if !ok {
			return reverted, fmt.Errorf("applied version %d has no migration script", version)
		}
		if err := runInTx(ctx, db, m.downSQL, markReverted, m.Version); err != nil {
			return reverted, fmt.Errorf("roll back migration %d (%s): %w", m.Version, m.Label, err)
		}
		reverted = append(reverted, m)
	}
	return reverted, nil
}

// Status lists every known migration with its applied state, in version
// order.
func (r *Runner) Status(ctx context.Context, db *sql.DB) ([]StatusEntry, error) {
	scripts, err := loadScripts(r.fsys)
	if err != nil {
		return nil, err
	}
	if err := ensureVersionTable(ctx, db); err != nil {
		return nil, err
	}
	appliedAt, err := appliedVersions(ctx, db)
	if err != nil {
		return nil, err
	}

	entries := make([]StatusEntry, 0, len(scripts))
	for _, m := range scripts {
		at, done := appliedAt[m.Version]
		entries = append(entries, StatusEntry{
			Version:   m.Version,
			Label:     m.Label,
			Applied:   done,
			AppliedAt: at,
		})
	}
	return entries, nil
}

type versionMark int

const (
	markApplied versionMark = iota
	markReverted
)

// runInTx executes the script and updates the version table in a single
// transaction so a failed script leaves no applied-version record behind.
func runInTx(ctx context.Context, db *sql.DB, script string, mark versionMark, version int64) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, script); err != nil {
		return err
	}
	switch mark {
	case markApplied:
		_, err = tx.ExecContext(ctx, `INSERT INTO `+versionTable+` (version) VALUES ($1)`, version)
	case markReverted:
		_, err = tx.ExecContext(ctx, `DELETE FROM `+versionTable+` WHERE version = $1`, version)
	}
	if err != nil {
		return fmt.Errorf("update version table: %w", err)
	}
	return tx.Commit()
}

func ensureVersionTable(ctx context.Context, db *sql.DB) error {
	query := `
CREATE TABLE IF NOT EXISTS ` + versionTable + ` (
	version BIGINT PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
	if _, err := db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("ensure version table: %w", err)
	}
	return nil
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[int64]time.Time, error) {
	rows, err := db.QueryContext(ctx, `SELECT version, applied_at FROM `+versionTable)
	if err != nil {
		return nil, fmt.Errorf("query applied versions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	applied := map[int64]time.Time{}
	for rows.Next() {
		var version int64
		var at time.Time
		if err := rows.Scan(&version, &at); err != nil {
			return nil, fmt.Errorf("scan applied version: %w", err)
		}
		applied[version] = at
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied versions: %w", err)
	}
	return applied, nil
}

// loadScripts reads the sql/ directory and pairs up and down scripts by
// version. Files that do not follow the NNNNNN_label.direction.sql shape are
// ignored; a version with a missing direction or inconsistent labels is an
// error.
func loadScripts(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, "sql")
	if err != nil {
		return nil, fmt.Errorf("read migration dir: %w", err)
	}

	byVersion := map[int64]*Migration{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version, label, direction, ok := parseScriptName(entry.Name())
		if !ok {
			continue
		}
		script, err := fs.ReadFile(fsys, path.Join("sql", entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %q: %w", entry.Name(), err)
		}

		m := byVersion[version]
		if m == nil {
			m = &Migration{Version: version, Label: label}
			byVersion[version] = m
		}
		if m.Label != label {
			return nil, fmt.Errorf("migration %d has conflicting labels %q and %q", version, m.Label, label)
		}
		switch direction {
		case "up":
			if m.upSQL != "" {
				return nil, fmt.Errorf("migration %d has more than one up script", version)
			}
			m.upSQL = string(script)
		case "down":
			if m.downSQL != "" {
				return nil, fmt.Errorf("migration %d has more than one down script", version)
			}
			m.downSQL = string(script)
		}
	}

	scripts := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if strings.TrimSpace(m.upSQL) == "" {
			return nil, fmt.Errorf("migration %d (%s) is missing its up script", m.Version, m.Label)
		}
		if strings.TrimSpace(m.downSQL) == "" {
			return nil, fmt.Errorf("migration %d (%s) is missing its down script", m.Version, m.Label)
		}
		scripts = append(scripts, *m)
	}
	sort.Slice(scripts, func(i, j int) bool { return scripts[i].Version < scripts[j].Version })
	return scripts, nil
}

func parseScriptName(name string) (int64, string, string, bool) {
	base, found := strings.CutSuffix(path.Base(name), ".sql")
	if !found {
		return 0, "", "", false
	}
	var direction string
	switch {
	case strings.HasSuffix(base, ".up"):
		direction = "up"
		base = strings.TrimSuffix(base, ".up")
	case strings.HasSuffix(base, ".down"):
		direction = "down"
		base = strings.TrimSuffix(base, ".down")
	default:
		return 0, "", "", false
	}
	number, label, found := strings.Cut(base, "_")
	if !found || label == "" {
		return 0, "", "", false
	}
	version, err := strconv.ParseInt(number, 10, 64)
	if err != nil || version <= 0 {
		return 0, "", "", false
	}
	return version, label, direction, true
}
