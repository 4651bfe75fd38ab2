package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/text2sql/text2sql/internal/observability"
	"github.com/text2sql/text2sql/internal/schema"
)

type SchemaSource interface {
	Describe(ctx context.Context) (schema.Description, error)
}

// SchemaCache holds the schema context shared by every question. Loads and
// refreshes are serialized on their own lock, so readers of the cached
// description never wait for introspection. A failed refresh keeps the
// previous description.
type SchemaCache struct {
	source SchemaSource
	logger *slog.Logger
	// BeforeRefresh runs ahead of a forced refresh, e.g. to reload datasets.
	BeforeRefresh func(ctx context.Context) error

	refreshMu sync.Mutex
	mu        sync.RWMutex
	desc      schema.Description
	loaded    bool
}

func NewSchemaCache(source SchemaSource, logger *slog.Logger) *SchemaCache {
	return &SchemaCache{source: source, logger: logger}
}

// Get returns the cached description, introspecting the database on first
// use or when refresh is set.
func (c *SchemaCache) Get(ctx context.Context, refresh bool) (schema.Description, error) {
	if !refresh {
		if desc, ok := c.cached(); ok {
			return desc, nil
		}
	}
	if c.source == nil {
		return schema.Description{}, errors.New("schema source is not configured")
	}

	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()
	if !refresh {
		// Loaded by a concurrent caller while this one waited.
		if desc, ok := c.cached(); ok {
			return desc, nil
		}
	}
	if refresh && c.BeforeRefresh != nil {
		if err := c.BeforeRefresh(ctx); err != nil {
			return schema.Description{}, err
		}
	}
	desc, err := c.source.Describe(ctx)
	if err != nil {
		return schema.Description{}, err
	}

	c.mu.Lock()
	c.desc = desc
	c.loaded = true
	c.mu.Unlock()

	observability.SetSchemaTables(desc.TotalTables)
	if c.logger != nil {
		c.logger.InfoContext(ctx, "schema context loaded",
			slog.String("dialect", string(desc.Dialect)),
			slog.Int("tables", desc.TotalTables),
			slog.Int("described_tables", len(desc.Tables)),
		)
	}
	return desc, nil
}

func (c *SchemaCache) cached() (schema.Description, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.desc, c.loaded
}

func (c *SchemaCache) Loaded() bool {
	_, loaded := c.cached()
	return loaded
}

type schemaResponse struct {
	schema.Description
	Warnings []string `json:"warnings,omitempty"`
}

func handleSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Schema == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "schema source is not configured", false, nil)
		return
	}
	refresh := false
	if raw := r.URL.Query().Get("refresh"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REFRESH", "refresh must be a boolean", false, map[string]any{"refresh": raw})
			return
		}
		refresh = parsed
	}

	desc, err := deps.Schema.Get(r.Context(), refresh)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "SCHEMA_FETCH_FAILED", "failed to load schema context", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, schemaResponse{Description: desc, Warnings: warningMessages(desc.Warnings)})
}

func warningMessages(err error) []string {
	if err == nil {
		return nil
	}
	var merr *multierror.Error
	if !errors.As(err, &merr) {
		return []string{err.Error()}
	}
	messages := make([]string, 0, len(merr.Errors))
	for _, item := range merr.Errors {
		messages = append(messages, item.Error())
	}
	return messages
}
