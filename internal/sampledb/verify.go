package sampledb

import (
	"context"
	"database/sql"
	"fmt"
)

// minimumRows lists the tables a usable sample database must hold.
var minimumRows = []struct {
	table string
	rows  int64
}{
	{table: "salesperson", rows: 2},
	{table: "timber_sales", rows: 3},
}

// Verify checks that the sample tables exist and hold data. It returns the
// row count of every checked table.
func Verify(ctx context.Context, db *sql.DB) (map[string]int64, error) {
	counts := make(map[string]int64, len(minimumRows))
	for _, want := range minimumRows {
		var count int64
		if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+want.table).Scan(&count); err != nil {
			return counts, fmt.Errorf("count %s: %w", want.table, err)
		}
		counts[want.table] = count
		if count < want.rows {
			return counts, fmt.Errorf("table %s has %d rows, want at least %d", want.table, count, want.rows)
		}
	}
	return counts, nil
}
