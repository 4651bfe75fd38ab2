package schema

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/hashicorp/go-multierror"
	_ "github.com/mattn/go-sqlite3"
)

func TestDescribeSQLiteDatabase(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	statements := []string{
		`CREATE TABLE salesperson (salesperson_id INTEGER PRIMARY KEY, name TEXT NOT NULL, region TEXT)`,
		`CREATE TABLE timber_sales (sale_id INTEGER PRIMARY KEY, salesperson_id INTEGER NOT NULL REFERENCES salesperson(salesperson_id), volume REAL, sale_date TEXT)`,
		`INSERT INTO salesperson VALUES (1, 'John Doe', 'North'), (2, 'Jane Smith', 'South'), (3, 'Mike Johnson', 'East'), (4, 'Sara Lee', 'West')`,
		`INSERT INTO timber_sales VALUES (1, 1, 120.5, '2022-01-01')`,
		`CREATE TABLE text2sql_sample_versions (version BIGINT PRIMARY KEY)`,
	}
	for _, statement := range statements {
		if _, err := db.Exec(statement); err != nil {
			t.Fatalf("exec %q: %v", statement, err)
		}
	}

	inspector := NewInspector(db, DialectSQLite, 0, 3, nil)
	inspector.Exclude = []string{"TEXT2SQL_SAMPLE_VERSIONS"}
	desc, err := inspector.Describe(context.Background())
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	if desc.Warnings != nil {
		t.Fatalf("warnings = %v", desc.Warnings)
	}
	if desc.TotalTables != 2 || len(desc.Tables) != 2 {
		t.Fatalf("tables = %#v", desc.Tables)
	}
	sales := desc.Tables[1]
	if sales.Name != "timber_sales" || len(sales.Columns) != 4 {
		t.Fatalf("timber_sales = %#v", sales)
	}
	if !sales.Columns[0].PrimaryKey || !sales.Columns[1].ForeignKey || !sales.Columns[1].NotNull {
		t.Fatalf("columns = %#v", sales.Columns)
	}
	if len(desc.Tables[0].SampleRows) != 3 {
		t.Fatalf("sample rows = %d", len(desc.Tables[0].SampleRows))
	}

	for _, want := range []string{
		"### Database Schema Information",
		"**Database Type**: SQLite",
		"**Tables**: 2",
		"**1. salesperson**",
		"- `name` (TEXT) (NOT NULL)",
		"- `salesperson_id` (INTEGER) (FK, NOT NULL)",
		"Sample data (3 rows):",
		"salesperson_id: 1 | name: John Doe | region: North...",
	} {
		if !strings.Contains(desc.Text, want) {
			t.Fatalf("description missing %q:\n%s", want, desc.Text)
		}
	}
}

func TestDescribeCapsTablesAndCollectsWarnings(t *testing.T) {
	db, mock := newSQLMock(t)

	mock.ExpectQuery(`FROM information_schema\.tables`).
		WillReturnRows(sqlmock.NewRows([]string{"table_name"}).AddRow("region").AddRow("salesperson").AddRow("timber_sales"))
	mock.ExpectQuery(`FROM information_schema\.columns`).
		WithArgs("region").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type", "not_null", "pk", "fk"}).
			AddRow("region_id", "integer", true, true, false).
			AddRow("name", "text", false, false, false))
	mock.ExpectQuery(`SELECT \* FROM "region" LIMIT 2`).
		WillReturnError(errors.New("permission denied for table region"))
	mock.ExpectQuery(`FROM information_schema\.columns`).
		WithArgs("salesperson").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type", "not_null", "pk", "fk"}).
			AddRow("salesperson_id", "integer", true, true, false))
	mock.ExpectQuery(`SELECT \* FROM "salesperson" LIMIT 2`).
		WillReturnRows(sqlmock.NewRows([]string{"salesperson_id"}).AddRow(int64(1)))

	desc, err := NewInspector(db, DialectPostgres, 2, 2, nil).Describe(context.Background())
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	if desc.TotalTables != 3 || len(desc.Tables) != 2 {
		t.Fatalf("total = %d described = %d", desc.TotalTables, len(desc.Tables))
	}
	var merr *multierror.Error
	if !errors.As(desc.Warnings, &merr) || len(merr.Errors) != 1 {
		t.Fatalf("warnings = %v", desc.Warnings)
	}
	if !strings.Contains(desc.Text, "... and 1 more tables") {
		t.Fatalf("description = %s", desc.Text)
	}
	if !strings.Contains(desc.Text, "- `region_id` (integer) (PK, NOT NULL)") {
		t.Fatalf("description = %s", desc.Text)
	}
	assertSQLMock(t, mock)
}

func TestDescribeFailsWhenTablesCannotBeListed(t *testing.T) {
	db, mock := newSQLMock(t)
	mock.ExpectQuery(`DATABASE\(\)`).WillReturnError(errors.New("connection refused"))

	_, err := NewInspector(db, DialectMySQL, 0, 0, nil).Describe(context.Background())
	if err == nil || !strings.Contains(err.Error(), "list tables") {
		t.Fatalf("error = %v", err)
	}
	assertSQLMock(t, mock)
}

func TestRenderWithoutTables(t *testing.T) {
	if got := Render(Description{Dialect: DialectDuckDB}); got != "No tables found in the database." {
		t.Fatalf("Render() = %q", got)
	}
}

func TestQuoteIdent(t *testing.T) {
	if got := quoteIdent(DialectMySQL, "order`s"); got != "`order``s`" {
		t.Fatalf("mysql quote = %q", got)
	}
	if got := quoteIdent(DialectPostgres, `my"table`); got != `"my""table"` {
		t.Fatalf("postgres quote = %q", got)
	}
}

func TestParseDialect(t *testing.T) {
	for input, want := range map[string]Dialect{"PostgreSQL": DialectPostgres, "sqlite3": DialectSQLite, "duckdb": DialectDuckDB, "mysql": DialectMySQL} {
		got, err := ParseDialect(input)
		if err != nil || got != want {
			t.Fatalf("ParseDialect(%q) = %q, %v", input, got, err)
		}
	}
	if _, err := ParseDialect("oracle"); err == nil {
		t.Fatal("expected error")
	}
}

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sql expectations: %v", err)
	}
}
