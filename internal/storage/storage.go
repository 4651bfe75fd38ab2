package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"time"
)

var ErrObjectNotFound = errors.New("object not found")

type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

// DatasetStore is a read-only view of parquet datasets kept in object storage.
type DatasetStore interface {
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// DatasetWriter publishes dataset objects.
type DatasetWriter interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (ObjectInfo, error)
}

// TableFromKey derives the table a dataset object belongs to from its key,
// relative to prefix: "<table>/<file>.parquet" or "<table>.parquet".
func TableFromKey(prefix, key string) (string, bool) {
	rel := strings.TrimPrefix(key, "/")
	if p := strings.Trim(prefix, "/"); p != "" {
		rel = strings.TrimPrefix(rel, p+"/")
	}
	if !strings.HasSuffix(strings.ToLower(rel), ".parquet") {
		return "", false
	}
	dir, file := path.Split(rel)
	dir = strings.Trim(dir, "/")
	if dir == "" {
		return strings.TrimSuffix(file, path.Ext(file)), file != ".parquet"
	}
	if strings.Contains(dir, "/") {
		dir = dir[:strings.Index(dir, "/")]
	}
	return dir, true
}
