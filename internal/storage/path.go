package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// BuildDatasetPath returns the object key of one parquet part of a table
// dataset: <prefix>/<table>/part-<n>.parquet. TableFromKey maps it back.
func BuildDatasetPath(prefix, tableName string, part int) (string, error) {
	if err := validatePathComponent(tableName, "table name"); err != nil {
		return "", err
	}
	if part < 0 {
		return "", fmt.Errorf("part must be >= 0")
	}
	prefix = strings.Trim(prefix, "/")
	for _, component := range strings.Split(prefix, "/") {
		if prefix == "" {
			break
		}
		if err := validatePathComponent(component, "prefix component"); err != nil {
			return "", err
		}
	}
	return path.Join(prefix, tableName, fmt.Sprintf("part-%d.parquet", part)), nil
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
