package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/text2sql/text2sql/internal/auth"
	"github.com/text2sql/text2sql/internal/observability"
	"github.com/text2sql/text2sql/internal/repair"
)

const defaultRunTimeout = 100 * time.Second

type askRequest struct {
	Question string `json:"question"`
}

type askResponse struct {
	repair.Trace
	SQL       string   `json:"sql,omitempty"`
	Columns   []string `json:"columns,omitempty"`
	Rows      [][]any  `json:"rows,omitempty"`
	Truncated bool     `json:"truncated,omitempty"`
}

func handleAsk(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Runner == nil || deps.Executor == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ASK_NOT_CONFIGURED", "question answering is not configured", false, nil)
		return
	}
	if deps.Schema == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "schema source is not configured", false, nil)
		return
	}

	var req askRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid ask request body", false, map[string]any{"details": err.Error()})
		return
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return
	}

	desc, err := deps.Schema.Get(r.Context(), false)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "SCHEMA_FETCH_FAILED", "failed to load schema context", true, map[string]any{"details": err.Error()})
		return
	}

	timeout := deps.RunTimeout
	if timeout <= 0 {
		timeout = defaultRunTimeout
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	if deps.Logger != nil {
		attrs := []slog.Attr{slog.Int("question_chars", len(question))}
		if identity, ok := auth.IdentityFromContext(ctx); ok {
			attrs = append(attrs, slog.String("client", identity.Client))
		}
		deps.Logger.LogAttrs(ctx, slog.LevelDebug, "ask received", attrs...)
	}

	trace := deps.Runner.Run(ctx, repair.Request{Question: question, SchemaContext: desc.Text}, deps.Executor)
	observability.ObserveRun(string(trace.Outcome), len(trace.Attempts), trace.Duration)

	if trace.Outcome == repair.OutcomeGenerationError {
		writeError(r.Context(), w, http.StatusBadGateway, "GENERATION_FAILED", "failed to generate sql", true, map[string]any{
			"run_id":  trace.RunID,
			"details": trace.Err,
		})
		return
	}

	response := askResponse{Trace: trace}
	if attempt, ok := repair.LastSuccess(trace); ok {
		response.SQL = attempt.SQL
		if attempt.Result != nil {
			response.Columns = attempt.Result.Columns
			response.Rows = attempt.Result.Rows
			response.Truncated = attempt.Result.Truncated
		}
	}
	writeJSON(w, http.StatusOK, response)
}
