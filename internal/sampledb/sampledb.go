// Package sampledb installs the timber sales sample database used to try out
// question answering, and publishes it as parquet datasets.
package sampledb

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

//go:embed sql/*.sql
var embeddedFS embed.FS

// VersionTable records applied sample versions in the target database.
const VersionTable = "text2sql_sample_versions"

var versionNamePattern = regexp.MustCompile(`^([0-9]+)_.+\.(up|down)\.sql$`)

type Installer struct {
	fsys fs.FS
}

func NewInstaller() *Installer {
	return &Installer{fsys: embeddedFS}
}

type version struct {
	Number  int64
	UpSQL   string
	DownSQL string
}

// Up applies pending versions in order. steps <= 0 applies all of them.
func (i *Installer) Up(ctx context.Context, db *sql.DB, steps int) (int, error) {
	versions, err := loadVersions(i.fsys)
	if err != nil {
		return 0, err
	}
	if err := ensureVersionTable(ctx, db); err != nil {
		return 0, err
	}
	applied, err := listApplied(ctx, db, "ASC")
	if err != nil {
		return 0, err
	}
	appliedSet := make(map[int64]struct{}, len(applied))
	for _, number := range applied {
		appliedSet[number] = struct{}{}
	}

	count := 0
	for _, item := range versions {
		if _, ok := appliedSet[item.Number]; ok {
			continue
		}
		if steps > 0 && count >= steps {
			break
		}
		if err := run(ctx, db, item.UpSQL, fmt.Sprintf(`INSERT INTO %s (version) VALUES (%d)`, VersionTable, item.Number)); err != nil {
			return count, fmt.Errorf("apply version %d: %w", item.Number, err)
		}
		count++
	}
	return count, nil
}

// Down reverts the most recent versions. steps <= 0 reverts one.
func (i *Installer) Down(ctx context.Context, db *sql.DB, steps int) (int, error) {
	if steps <= 0 {
		steps = 1
	}
	versions, err := loadVersions(i.fsys)
	if err != nil {
		return 0, err
	}
	if err := ensureVersionTable(ctx, db); err != nil {
		return 0, err
	}
	applied, err := listApplied(ctx, db, "DESC")
	if err != nil {
		return 0, err
	}
	lookup := make(map[int64]version, len(versions))
	for _, item := range versions {
		lookup[item.Number] = item
	}

	count := 0
	for _, number := range applied {
		if count >= steps {
			break
		}
		item, ok := lookup[number]
		if !ok {
			return count, fmt.Errorf("applied version %d is missing from source", number)
		}
		if err := run(ctx, db, item.DownSQL, fmt.Sprintf(`DELETE FROM %s WHERE version = %d`, VersionTable, item.Number)); err != nil {
			return count, fmt.Errorf("revert version %d: %w", item.Number, err)
		}
		count++
	}
	return count, nil
}

func ensureVersionTable(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+VersionTable+` (version BIGINT PRIMARY KEY)`); err != nil {
		return fmt.Errorf("ensure version table: %w", err)
	}
	return nil
}

// run executes a script statement by statement followed by the bookkeeping
// statement, all in one transaction.
func run(ctx context.Context, db *sql.DB, script, bookkeeping string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, statement := range append(splitStatements(script), bookkeeping) {
		if _, err := tx.ExecContext(ctx, statement); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func listApplied(ctx context.Context, db *sql.DB, order string) ([]int64, error) {
	rows, err := db.QueryContext(ctx, `SELECT version FROM `+VersionTable+` ORDER BY version `+order)
	if err != nil {
		return nil, fmt.Errorf("query applied versions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var numbers []int64
	for rows.Next() {
		var number int64
		if err := rows.Scan(&number); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		numbers = append(numbers, number)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return numbers, nil
}

// splitStatements splits a script on semicolons that end a line. Not every
// driver accepts several statements in one Exec.
func splitStatements(script string) []string {
	statements := make([]string, 0)
	var current strings.Builder
	for _, line := range strings.Split(script, "\n") {
		current.WriteString(line)
		current.WriteString("\n")
		if strings.HasSuffix(strings.TrimSpace(line), ";") {
			if statement := strings.TrimSuffix(strings.TrimSpace(current.String()), ";"); statement != "" {
				statements = append(statements, statement)
			}
			current.Reset()
		}
	}
	if rest := strings.TrimSpace(current.String()); rest != "" {
		statements = append(statements, rest)
	}
	return statements
}

func loadVersions(fsys fs.FS) ([]version, error) {
	entries, err := fs.ReadDir(fsys, "sql")
	if err != nil {
		return nil, fmt.Errorf("read sample dir: %w", err)
	}

	items := map[int64]version{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		base := path.Base(entry.Name())
		matches := versionNamePattern.FindStringSubmatch(base)
		if len(matches) != 3 {
			continue
		}
		number, err := strconv.ParseInt(matches[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse version for %q: %w", base, err)
		}
		script, err := fs.ReadFile(fsys, path.Join("sql", entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %q: %w", entry.Name(), err)
		}

		item := items[number]
		item.Number = number
		if matches[2] == "up" {
			item.UpSQL = string(script)
		} else {
			item.DownSQL = string(script)
		}
		items[number] = item
	}

	versions := make([]version, 0, len(items))
	for _, item := range items {
		if strings.TrimSpace(item.UpSQL) == "" {
			return nil, fmt.Errorf("version %d missing up SQL", item.Number)
		}
		if strings.TrimSpace(item.DownSQL) == "" {
			return nil, fmt.Errorf("version %d missing down SQL", item.Number)
		}
		versions = append(versions, item)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i].Number < versions[j].Number })
	return versions, nil
}
