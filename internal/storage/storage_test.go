package storage

import "testing"

func TestTableFromKey(t *testing.T) {
	tests := []struct {
		prefix string
		key    string
		table  string
		ok     bool
	}{
		{prefix: "datasets", key: "datasets/timber_sales/part-0.parquet", table: "timber_sales", ok: true},
		{prefix: "", key: "salesperson.parquet", table: "salesperson", ok: true},
		{prefix: "datasets/", key: "datasets/events/2024/01/f.parquet", table: "events", ok: true},
		{prefix: "datasets", key: "datasets/readme.md", ok: false},
		{prefix: "", key: ".parquet", ok: false},
	}
	for _, tc := range tests {
		table, ok := TableFromKey(tc.prefix, tc.key)
		if ok != tc.ok || table != tc.table {
			t.Fatalf("TableFromKey(%q, %q) = (%q, %v), want (%q, %v)", tc.prefix, tc.key, table, ok, tc.table, tc.ok)
		}
	}
}
