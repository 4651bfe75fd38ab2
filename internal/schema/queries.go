package schema

import "fmt"

// Column queries return (name, data type, not null, primary key, foreign key)
// for one table, in declaration order.

const postgresTablesQuery = `SELECT table_name
FROM information_schema.tables
WHERE table_schema = current_schema()
  AND table_type IN ('BASE TABLE', 'VIEW')
ORDER BY table_name`

const postgresColumnsQuery = `SELECT c.column_name,
       c.data_type,
       c.is_nullable = 'NO',
       EXISTS (
         SELECT 1
         FROM information_schema.table_constraints tc
         JOIN information_schema.key_column_usage k
           ON k.constraint_name = tc.constraint_name
          AND k.table_schema = tc.table_schema
          AND k.table_name = tc.table_name
         WHERE tc.table_schema = c.table_schema
           AND tc.table_name = c.table_name
           AND k.column_name = c.column_name
           AND tc.constraint_type = 'PRIMARY KEY'
       ),
       EXISTS (
         SELECT 1
         FROM information_schema.table_constraints tc
         JOIN information_schema.key_column_usage k
           ON k.constraint_name = tc.constraint_name
          AND k.table_schema = tc.table_schema
          AND k.table_name = tc.table_name
         WHERE tc.table_schema = c.table_schema
           AND tc.table_name = c.table_name
           AND k.column_name = c.column_name
           AND tc.constraint_type = 'FOREIGN KEY'
       )
FROM information_schema.columns c
WHERE c.table_schema = current_schema()
  AND c.table_name = $1
ORDER BY c.ordinal_position`

const mysqlTablesQuery = `SELECT table_name
FROM information_schema.tables
WHERE table_schema = DATABASE()
ORDER BY table_name`

const mysqlColumnsQuery = `SELECT c.column_name,
       c.column_type,
       c.is_nullable = 'NO',
       c.column_key = 'PRI',
       EXISTS (
         SELECT 1
         FROM information_schema.key_column_usage k
         WHERE k.table_schema = c.table_schema
           AND k.table_name = c.table_name
           AND k.column_name = c.column_name
           AND k.referenced_table_name IS NOT NULL
       )
FROM information_schema.columns c
WHERE c.table_schema = DATABASE()
  AND c.table_name = ?
ORDER BY c.ordinal_position`

const sqliteTablesQuery = `SELECT name
FROM sqlite_master
WHERE type IN ('table', 'view')
  AND name NOT LIKE 'sqlite_%'
ORDER BY name`

const sqliteColumnsQuery = `SELECT p.name,
       p.type,
       p."notnull" <> 0,
       p.pk > 0,
       EXISTS (SELECT 1 FROM pragma_foreign_key_list(?) f WHERE f."from" = p.name)
FROM pragma_table_info(?) p
ORDER BY p.cid`

const duckdbTablesQuery = `SELECT table_name
FROM information_schema.tables
WHERE table_schema = current_schema()
ORDER BY table_name`

const duckdbColumnsQuery = `SELECT c.column_name,
       c.data_type,
       c.is_nullable = 'NO',
       EXISTS (
         SELECT 1
         FROM duckdb_constraints() k
         WHERE k.schema_name = c.table_schema
           AND k.table_name = c.table_name
           AND k.constraint_type = 'PRIMARY KEY'
           AND list_contains(k.constraint_column_names, c.column_name)
       ),
       EXISTS (
         SELECT 1
         FROM duckdb_constraints() k
         WHERE k.schema_name = c.table_schema
           AND k.table_name = c.table_name
           AND k.constraint_type = 'FOREIGN KEY'
           AND list_contains(k.constraint_column_names, c.column_name)
       )
FROM information_schema.columns c
WHERE c.table_schema = current_schema()
  AND c.table_name = ?
ORDER BY c.ordinal_position`

func tablesQuery(dialect Dialect) (string, error) {
	switch dialect {
	case DialectPostgres:
		return postgresTablesQuery, nil
	case DialectMySQL:
		return mysqlTablesQuery, nil
	case DialectSQLite:
		return sqliteTablesQuery, nil
	case DialectDuckDB:
		return duckdbTablesQuery, nil
	default:
		return "", fmt.Errorf("unsupported dialect %q", dialect)
	}
}

func columnsQuery(dialect Dialect) (string, error) {
	switch dialect {
	case DialectPostgres:
		return postgresColumnsQuery, nil
	case DialectMySQL:
		return mysqlColumnsQuery, nil
	case DialectSQLite:
		return sqliteColumnsQuery, nil
	case DialectDuckDB:
		return duckdbColumnsQuery, nil
	default:
		return "", fmt.Errorf("unsupported dialect %q", dialect)
	}
}
