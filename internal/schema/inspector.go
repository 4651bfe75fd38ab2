package schema

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/text2sql/text2sql/internal/query"
)

type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
	DialectSQLite   Dialect = "sqlite"
	DialectDuckDB   Dialect = "duckdb"
)

const (
	DefaultMaxTables  = 10
	DefaultSampleRows = 3
	// sampleColumns caps how many values of a sample row are rendered.
	sampleColumns = 3
)

func ParseDialect(value string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "postgres", "postgresql", "pgx":
		return DialectPostgres, nil
	case "mysql":
		return DialectMySQL, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "duckdb":
		return DialectDuckDB, nil
	default:
		return "", fmt.Errorf("unsupported dialect %q", value)
	}
}

func (d Dialect) Title() string {
	switch d {
	case DialectPostgres:
		return "PostgreSQL"
	case DialectMySQL:
		return "MySQL"
	case DialectSQLite:
		return "SQLite"
	case DialectDuckDB:
		return "DuckDB"
	default:
		return string(d)
	}
}

type Column struct {
	Name       string `json:"name"`
	DataType   string `json:"data_type"`
	NotNull    bool   `json:"not_null"`
	PrimaryKey bool   `json:"primary_key"`
	ForeignKey bool   `json:"foreign_key"`
}

type Table struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
	// SampleColumns holds the column order of SampleRows.
	SampleColumns []string `json:"sample_columns,omitempty"`
	SampleRows    [][]any  `json:"sample_rows,omitempty"`
}

// Description is the schema context handed to the text generation models.
type Description struct {
	Dialect     Dialect `json:"dialect"`
	TotalTables int     `json:"total_tables"`
	Tables      []Table `json:"tables"`
	Text        string  `json:"text"`
	// Warnings collects per-table introspection failures. The affected
	// tables are still described with whatever could be read.
	Warnings error `json:"-"`
}

type Inspector struct {
	DB         *sql.DB
	Dialect    Dialect
	MaxTables  int
	SampleRows int
	// Exclude lists tables left out of the description, matched case-insensitively.
	Exclude []string
	Logger  *slog.Logger
}

func NewInspector(db *sql.DB, dialect Dialect, maxTables, sampleRows int, logger *slog.Logger) *Inspector {
	return &Inspector{DB: db, Dialect: dialect, MaxTables: maxTables, SampleRows: sampleRows, Logger: logger}
}

func (i *Inspector) Describe(ctx context.Context) (Description, error) {
	if i.DB == nil {
		return Description{}, fmt.Errorf("database is not connected")
	}
	maxTables := i.MaxTables
	if maxTables <= 0 {
		maxTables = DefaultMaxTables
	}
	sampleRows := i.SampleRows
	if sampleRows < 0 {
		sampleRows = 0
	}

	names, err := i.listTables(ctx)
	if err != nil {
		return Description{}, err
	}
	names = i.filter(names)

	desc := Description{Dialect: i.Dialect, TotalTables: len(names), Tables: make([]Table, 0, min(len(names), maxTables))}
	var warnings *multierror.Error
	for _, name := range names[:min(len(names), maxTables)] {
		table := Table{Name: name}
		columns, err := i.listColumns(ctx, name)
		if err != nil {
			warnings = multierror.Append(warnings, fmt.Errorf("describe columns of %q: %w", name, err))
		}
		table.Columns = columns
		if sampleRows > 0 {
			sample, err := i.sample(ctx, name, sampleRows)
			if err != nil {
				warnings = multierror.Append(warnings, fmt.Errorf("sample rows of %q: %w", name, err))
			} else {
				table.SampleRows = sample.Rows
				table.SampleColumns = sample.Columns
			}
		}
		desc.Tables = append(desc.Tables, table)
	}
	desc.Warnings = warnings.ErrorOrNil()
	if desc.Warnings != nil && i.Logger != nil {
		i.Logger.WarnContext(ctx, "schema introspection incomplete", slog.Any("error", desc.Warnings))
	}
	desc.Text = Render(desc)
	return desc, nil
}

func (i *Inspector) listTables(ctx context.Context) ([]string, error) {
	statement, err := tablesQuery(i.Dialect)
	if err != nil {
		return nil, err
	}
	rows, err := i.DB.QueryContext(ctx, statement)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}
	return names, nil
}

func (i *Inspector) filter(names []string) []string {
	if len(i.Exclude) == 0 {
		return names
	}
	kept := names[:0]
	for _, name := range names {
		excluded := false
		for _, candidate := range i.Exclude {
			if strings.EqualFold(name, candidate) {
				excluded = true
				break
			}
		}
		if !excluded {
			kept = append(kept, name)
		}
	}
	return kept
}

func (i *Inspector) listColumns(ctx context.Context, table string) ([]Column, error) {
	statement, err := columnsQuery(i.Dialect)
	if err != nil {
		return nil, err
	}
	args := []any{table}
	if i.Dialect == DialectSQLite {
		args = append(args, table)
	}
	rows, err := i.DB.QueryContext(ctx, statement, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	columns := make([]Column, 0)
	for rows.Next() {
		var column Column
		var dataType sql.NullString
		if err := rows.Scan(&column.Name, &dataType, &column.NotNull, &column.PrimaryKey, &column.ForeignKey); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		column.DataType = dataType.String
		columns = append(columns, column)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}
	return columns, nil
}

func (i *Inspector) sample(ctx context.Context, table string, limit int) (query.Result, error) {
	statement := fmt.Sprintf("SELECT * FROM %s LIMIT %d", quoteIdent(i.Dialect, table), limit)
	rows, err := i.DB.QueryContext(ctx, statement)
	if err != nil {
		return query.Result{}, err
	}
	defer func() { _ = rows.Close() }()
	return query.ScanRows(rows, limit)
}

func quoteIdent(dialect Dialect, name string) string {
	if dialect == DialectMySQL {
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Render formats a description as the markdown-like context used in prompts.
func Render(desc Description) string {
	if desc.TotalTables == 0 {
		return "No tables found in the database."
	}
	var b strings.Builder
	b.WriteString("### Database Schema Information\n")
	fmt.Fprintf(&b, "**Database Type**: %s\n", desc.Dialect.Title())
	fmt.Fprintf(&b, "**Tables**: %d\n\n", desc.TotalTables)

	for index, table := range desc.Tables {
		fmt.Fprintf(&b, "**%d. %s**\n", index+1, table.Name)
		if len(table.Columns) > 0 {
			b.WriteString("   Columns:\n")
			for _, column := range table.Columns {
				fmt.Fprintf(&b, "   - `%s` (%s)%s\n", column.Name, column.DataType, columnFlags(column))
			}
		}
		if len(table.SampleRows) > 0 {
			fmt.Fprintf(&b, "   Sample data (%d rows):\n", len(table.SampleRows))
			for _, row := range table.SampleRows {
				fmt.Fprintf(&b, "   %s...\n", renderSampleRow(table.SampleColumns, row))
			}
		}
		b.WriteString("\n")
	}
	if hidden := desc.TotalTables - len(desc.Tables); hidden > 0 {
		fmt.Fprintf(&b, "... and %d more tables\n", hidden)
	}
	return b.String()
}

func columnFlags(column Column) string {
	flags := make([]string, 0, 3)
	if column.PrimaryKey {
		flags = append(flags, "PK")
	}
	if column.ForeignKey {
		flags = append(flags, "FK")
	}
	if column.NotNull {
		flags = append(flags, "NOT NULL")
	}
	if len(flags) == 0 {
		return ""
	}
	return " (" + strings.Join(flags, ", ") + ")"
}

func renderSampleRow(columns []string, row []any) string {
	parts := make([]string, 0, sampleColumns)
	for index, value := range row {
		if index >= sampleColumns {
			break
		}
		name := fmt.Sprintf("col%d", index+1)
		if index < len(columns) {
			name = columns[index]
		}
		parts = append(parts, fmt.Sprintf("%s: %v", name, value))
	}
	return strings.Join(parts, " | ")
}
