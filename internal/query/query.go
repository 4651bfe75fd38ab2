package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMultipleStatements rejects SQL text that chains statements with ';'.
// Some drivers (sqlite3, duckdb) execute every statement of such text.
var ErrMultipleStatements = errors.New("only a single SQL statement is allowed")

// ErrEmptyResult marks a query that ran but produced no rows. Callers in this
// module treat it as a failed execution.
var ErrEmptyResult = errors.New("query returned empty result set")

type Result struct {
	Columns   []string      `json:"columns"`
	Rows      [][]any       `json:"rows"`
	Truncated bool          `json:"truncated,omitempty"`
	Duration  time.Duration `json:"-"`
}

func (r Result) Empty() bool {
	return len(r.Rows) == 0
}

// Executor runs a single SQL statement against a connected data source.
// Implementations report every backend failure as *ExecutionError.
type Executor interface {
	Execute(ctx context.Context, sqlText string) (Result, error)
}

type ExecutionError struct {
	SQL string
	Err error
}

func (e *ExecutionError) Error() string {
	if e.Err == nil {
		return "execution failed"
	}
	return e.Err.Error()
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

func NewExecutionError(sqlText string, err error) *ExecutionError {
	return &ExecutionError{SQL: sqlText, Err: err}
}

func IsReadOnly(sqlText string) bool {
	normalized := strings.ToLower(strings.TrimSpace(sqlText))
	if normalized == "" {
		return false
	}
	return strings.HasPrefix(normalized, "select") || strings.HasPrefix(normalized, "with")
}

// IsSingleStatement reports whether sqlText, after trailing semicolons are
// removed, has no ';' outside string literals, quoted identifiers and comments.
func IsSingleStatement(sqlText string) bool {
	text := StripTrailingSemicolons(sqlText)
	for i := 0; i < len(text); i++ {
		switch c := text[i]; c {
		case '\'', '"', '`':
			end := closingQuote(text, i+1, c)
			if end < 0 {
				return true
			}
			i = end
		case '-':
			if i+1 < len(text) && text[i+1] == '-' {
				newline := strings.IndexByte(text[i:], '\n')
				if newline < 0 {
					return true
				}
				i += newline
			}
		case '/':
			if i+1 < len(text) && text[i+1] == '*' {
				end := strings.Index(text[i+2:], "*/")
				if end < 0 {
					return true
				}
				i += end + 3
			}
		case ';':
			return false
		}
	}
	return true
}

// closingQuote returns the index of the quote closing a literal that starts
// at from. A doubled quote is an escaped quote. It returns -1 when the
// literal is unterminated.
func closingQuote(text string, from int, quote byte) int {
	for i := from; i < len(text); i++ {
		if text[i] != quote {
			continue
		}
		if i+1 < len(text) && text[i+1] == quote {
			i++
			continue
		}
		return i
	}
	return -1
}

func StripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}

// ScanRows drains rows into a Result. A positive limit caps the number of
// rows kept; further rows set Truncated.
func ScanRows(rows *sql.Rows, limit int) (Result, error) {
	columns, err := rows.Columns()
	if err != nil {
		return Result{}, fmt.Errorf("query columns: %w", err)
	}

	result := Result{Columns: columns, Rows: make([][]any, 0)}
	for rows.Next() {
		if limit > 0 && len(result.Rows) >= limit {
			result.Truncated = true
			break
		}
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return Result{}, fmt.Errorf("scan row: %w", err)
		}
		result.Rows = append(result.Rows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return Result{}, fmt.Errorf("iterate rows: %w", err)
	}
	return result, nil
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}
