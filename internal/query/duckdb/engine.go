package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/text2sql/text2sql/internal/query"
	"github.com/text2sql/text2sql/internal/storage"
)

type Config struct {
	// Path is the DuckDB database file. Empty opens an in-memory database.
	Path          string
	Datasets      storage.DatasetStore
	DatasetPrefix string
	RowLimit      int
	ReadOnly      bool
}

// Engine is a DuckDB-backed query.Executor. Parquet datasets found in the
// configured store are downloaded once and exposed as views named after
// their table directory.
type Engine struct {
	db       *sql.DB
	datasets storage.DatasetStore
	prefix   string
	rowLimit int
	readOnly bool

	mu      sync.Mutex
	workDir string
	tables  []string
}

func Open(ctx context.Context, cfg Config) (*Engine, error) {
	db, err := sql.Open("duckdb", strings.TrimSpace(cfg.Path))
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}

	engine := &Engine{
		db:       db,
		datasets: cfg.Datasets,
		prefix:   cfg.DatasetPrefix,
		rowLimit: cfg.RowLimit,
		readOnly: cfg.ReadOnly,
	}
	if engine.datasets != nil {
		if err := engine.LoadDatasets(ctx); err != nil {
			_ = engine.Close()
			return nil, err
		}
	}
	return engine, nil
}

func (e *Engine) DB() *sql.DB {
	return e.db
}

// Tables lists the views registered from the dataset store.
func (e *Engine) Tables() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.tables...)
}

// LoadDatasets downloads every parquet object under the dataset prefix and
// (re)creates one view per table. Previously downloaded files are replaced
// and views of tables no longer in the store are dropped.
func (e *Engine) LoadDatasets(ctx context.Context) error {
	if e.datasets == nil {
		return fmt.Errorf("dataset store is required")
	}
	objects, err := e.datasets.List(ctx, e.prefix)
	if err != nil {
		return fmt.Errorf("list datasets: %w", err)
	}

	workDir, err := os.MkdirTemp("", "text2sql-datasets-")
	if err != nil {
		return fmt.Errorf("create dataset temp dir: %w", err)
	}

	groupedPaths := map[string][]string{}
	for index, object := range objects {
		tableName, ok := storage.TableFromKey(e.prefix, object.Key)
		if !ok {
			continue
		}
		reader, err := e.datasets.Get(ctx, object.Key)
		if err != nil {
			_ = os.RemoveAll(workDir)
			return fmt.Errorf("get object %q: %w", object.Key, err)
		}
		localPath := filepath.Join(workDir, fmt.Sprintf("%s_%d.parquet", sanitizeFileComponent(tableName), index))
		if err := writeFile(localPath, reader); err != nil {
			_ = reader.Close()
			_ = os.RemoveAll(workDir)
			return fmt.Errorf("write local parquet file %q: %w", localPath, err)
		}
		if err := reader.Close(); err != nil {
			_ = os.RemoveAll(workDir)
			return fmt.Errorf("close object %q: %w", object.Key, err)
		}
		groupedPaths[tableName] = append(groupedPaths[tableName], localPath)
	}

	tables := make([]string, 0, len(groupedPaths))
	for tableName, localPaths := range groupedPaths {
		viewSQL := fmt.Sprintf(`CREATE OR REPLACE VIEW %s AS SELECT * FROM read_parquet(%s)`, quoteIdent(tableName), quoteStringArray(localPaths))
		if _, err := e.db.ExecContext(ctx, viewSQL); err != nil {
			_ = os.RemoveAll(workDir)
			return fmt.Errorf("create view for table %q: %w", tableName, err)
		}
		tables = append(tables, tableName)
	}
	sort.Strings(tables)

	e.mu.Lock()
	stale := make([]string, 0)
	for _, tableName := range e.tables {
		if _, ok := groupedPaths[tableName]; !ok {
			stale = append(stale, tableName)
		}
	}
	e.mu.Unlock()
	for _, tableName := range stale {
		if _, err := e.db.ExecContext(ctx, fmt.Sprintf(`DROP VIEW IF EXISTS %s`, quoteIdent(tableName))); err != nil {
			_ = os.RemoveAll(workDir)
			return fmt.Errorf("drop view for removed table %q: %w", tableName, err)
		}
	}

	e.mu.Lock()
	previous := e.workDir
	e.workDir = workDir
	e.tables = tables
	e.mu.Unlock()
	if previous != "" {
		_ = os.RemoveAll(previous)
	}
	return nil
}

func (e *Engine) Execute(ctx context.Context, sqlText string) (query.Result, error) {
	statement := query.StripTrailingSemicolons(sqlText)
	if statement == "" {
		return query.Result{}, query.NewExecutionError(sqlText, fmt.Errorf("sql is required"))
	}
	if !query.IsSingleStatement(statement) {
		return query.Result{}, query.NewExecutionError(sqlText, query.ErrMultipleStatements)
	}
	if e.readOnly && !query.IsReadOnly(statement) {
		return query.Result{}, query.NewExecutionError(sqlText, fmt.Errorf("only read-only SELECT/WITH queries are allowed"))
	}
	if e.rowLimit > 0 {
		statement = fmt.Sprintf("SELECT * FROM (%s) AS q LIMIT %d", statement, e.rowLimit+1)
	}

	start := time.Now()
	rows, err := e.db.QueryContext(ctx, statement)
	if err != nil {
		return query.Result{}, query.NewExecutionError(sqlText, fmt.Errorf("execute query: %w", err))
	}
	defer func() { _ = rows.Close() }()

	result, err := query.ScanRows(rows, e.rowLimit)
	if err != nil {
		return query.Result{}, query.NewExecutionError(sqlText, err)
	}
	result.Duration = time.Since(start)
	return result, nil
}

func (e *Engine) HealthCheck(ctx context.Context) error {
	if err := e.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping duckdb: %w", err)
	}
	return nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	workDir := e.workDir
	e.workDir = ""
	e.mu.Unlock()
	if workDir != "" {
		_ = os.RemoveAll(workDir)
	}
	return e.db.Close()
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteStringArray(values []string) string {
	quoted := make([]string, 0, len(values))
	for _, value := range values {
		quoted = append(quoted, `'`+strings.ReplaceAll(value, `'`, `''`)+`'`)
	}
	return "[" + strings.Join(quoted, ",") + "]"
}

func sanitizeFileComponent(value string) string {
	value = strings.ReplaceAll(value, "/", "_")
	value = strings.ReplaceAll(value, "..", "_")
	if value == "" {
		return "table"
	}
	return value
}
