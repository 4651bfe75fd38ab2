package sampledb

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/text2sql/text2sql/internal/storage"
)

const parquetContentType = "application/vnd.apache.parquet"

type salespersonRow struct {
	SalespersonID int32  `parquet:"salesperson_id"`
	Name          string `parquet:"name"`
	Region        string `parquet:"region"`
}

type timberSaleRow struct {
	SalesID       int32   `parquet:"sales_id"`
	SalespersonID *int32  `parquet:"salesperson_id,optional"`
	Volume        float64 `parquet:"volume"`
	SaleDate      int32   `parquet:"sale_date,date"`
	ProductID     *int32  `parquet:"product_id,optional"`
}

type productRow struct {
	ProductID   int32   `parquet:"product_id"`
	ProductName string  `parquet:"product_name"`
	Category    string  `parquet:"category"`
	UnitPrice   float64 `parquet:"unit_price"`
}

// Export copies the sample tables into parquet objects named
// <prefix>/<table>/part-0.parquet. Tables that do not exist yet are skipped.
func Export(ctx context.Context, db *sql.DB, dst storage.DatasetWriter, prefix string) ([]storage.ObjectInfo, error) {
	exports := []struct {
		table  string
		encode func(context.Context, *sql.DB) ([]byte, error)
	}{
		{table: "salesperson", encode: encodeSalespeople},
		{table: "timber_sales", encode: encodeTimberSales},
		{table: "products", encode: encodeProducts},
	}

	objects := make([]storage.ObjectInfo, 0, len(exports))
	for _, export := range exports {
		exists, err := tableExists(ctx, db, export.table)
		if err != nil {
			return objects, err
		}
		if !exists {
			continue
		}
		data, err := export.encode(ctx, db)
		if err != nil {
			return objects, fmt.Errorf("encode %s: %w", export.table, err)
		}
		key, err := storage.BuildDatasetPath(prefix, export.table, 0)
		if err != nil {
			return objects, err
		}
		info, err := dst.Put(ctx, key, bytes.NewReader(data), int64(len(data)), parquetContentType)
		if err != nil {
			return objects, err
		}
		objects = append(objects, info)
	}
	return objects, nil
}

func tableExists(ctx context.Context, db *sql.DB, table string) (bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT * FROM `+table+` WHERE 1 = 0`)
	if err != nil {
		if isMissingTable(err) {
			return false, nil
		}
		return false, fmt.Errorf("probe %s: %w", table, err)
	}
	return true, rows.Close()
}

func isMissingTable(err error) bool {
	message := strings.ToLower(err.Error())
	for _, marker := range []string{"no such table", "does not exist", "doesn't exist", "not found"} {
		if strings.Contains(message, marker) {
			return true
		}
	}
	return false
}

func encodeSalespeople(ctx context.Context, db *sql.DB) ([]byte, error) {
	rows, err := db.QueryContext(ctx, `SELECT salesperson_id, name, region FROM salesperson ORDER BY salesperson_id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]salespersonRow, 0)
	for rows.Next() {
		var row salespersonRow
		if err := rows.Scan(&row.SalespersonID, &row.Name, &row.Region); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return writeParquet(out)
}

func encodeTimberSales(ctx context.Context, db *sql.DB) ([]byte, error) {
	rows, err := db.QueryContext(ctx, `SELECT sales_id, salesperson_id, volume, sale_date, product_id FROM timber_sales ORDER BY sales_id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]timberSaleRow, 0)
	for rows.Next() {
		var row timberSaleRow
		var salesperson, product sql.NullInt32
		var saleDate any
		if err := rows.Scan(&row.SalesID, &salesperson, &row.Volume, &saleDate, &product); err != nil {
			return nil, err
		}
		days, err := epochDays(saleDate)
		if err != nil {
			return nil, fmt.Errorf("sale %d: %w", row.SalesID, err)
		}
		row.SaleDate = days
		row.SalespersonID = nullableInt32(salesperson)
		row.ProductID = nullableInt32(product)
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return writeParquet(out)
}

func encodeProducts(ctx context.Context, db *sql.DB) ([]byte, error) {
	rows, err := db.QueryContext(ctx, `SELECT product_id, product_name, category, unit_price FROM products ORDER BY product_id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]productRow, 0)
	for rows.Next() {
		var row productRow
		if err := rows.Scan(&row.ProductID, &row.ProductName, &row.Category, &row.UnitPrice); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return writeParquet(out)
}

func writeParquet[T any](rows []T) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[T](buf)
	if _, err := writer.Write(rows); err != nil {
		return nil, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

// epochDays converts a DATE value as returned by the supported drivers to
// days since 1970-01-01.
func epochDays(value any) (int32, error) {
	var t time.Time
	switch v := value.(type) {
	case time.Time:
		t = v
	case string:
		parsed, err := time.Parse("2006-01-02", v[:min(len(v), 10)])
		if err != nil {
			return 0, fmt.Errorf("parse date %q: %w", v, err)
		}
		t = parsed
	case []byte:
		return epochDays(string(v))
	default:
		return 0, fmt.Errorf("unsupported date value %T", value)
	}
	y, m, d := t.Date()
	return int32(time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400), nil
}

func nullableInt32(value sql.NullInt32) *int32 {
	if !value.Valid {
		return nil
	}
	v := value.Int32
	return &v
}
