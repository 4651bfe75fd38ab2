package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/text2sql/text2sql/internal/query"
)

var errNotReadOnly = errors.New("only read-only SELECT/WITH queries are allowed")

// Executor runs generated SQL over a pooled database/sql handle. The pool is
// shared by concurrent runs; database/sql handles the locking.
type Executor struct {
	DB       *sql.DB
	RowLimit int
	ReadOnly bool
}

func NewExecutor(db *sql.DB, rowLimit int, readOnly bool) *Executor {
	return &Executor{DB: db, RowLimit: rowLimit, ReadOnly: readOnly}
}

func (e *Executor) Execute(ctx context.Context, sqlText string) (query.Result, error) {
	if e.DB == nil {
		return query.Result{}, query.NewExecutionError(sqlText, fmt.Errorf("database is not connected"))
	}
	statement := query.StripTrailingSemicolons(sqlText)
	if statement == "" {
		return query.Result{}, query.NewExecutionError(sqlText, fmt.Errorf("sql is required"))
	}
	if !query.IsSingleStatement(statement) {
		return query.Result{}, query.NewExecutionError(sqlText, query.ErrMultipleStatements)
	}
	if e.ReadOnly && !query.IsReadOnly(statement) {
		return query.Result{}, query.NewExecutionError(sqlText, errNotReadOnly)
	}

	start := time.Now()
	rows, err := e.DB.QueryContext(ctx, statement)
	if err != nil {
		return query.Result{}, query.NewExecutionError(sqlText, fmt.Errorf("execute query: %w", err))
	}
	defer func() { _ = rows.Close() }()

	result, err := query.ScanRows(rows, e.RowLimit)
	if err != nil {
		return query.Result{}, query.NewExecutionError(sqlText, err)
	}
	result.Duration = time.Since(start)
	return result, nil
}

func (e *Executor) HealthCheck(ctx context.Context) error {
	if e.DB == nil {
		return fmt.Errorf("database is not connected")
	}
	if err := e.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}
