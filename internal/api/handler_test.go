package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/text2sql/text2sql/internal/auth"
	"github.com/text2sql/text2sql/internal/config"
	"github.com/text2sql/text2sql/internal/query"
	"github.com/text2sql/text2sql/internal/repair"
	"github.com/text2sql/text2sql/internal/schema"
)

func TestHealthEndpoint(t *testing.T) {
	h := NewHandler(loadConfig(t, nil), Dependencies{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["service"] != "text2sql-api" {
		t.Fatalf("body = %v", body)
	}
}

func TestReadyEndpointReturns503WhenDependencyFails(t *testing.T) {
	h := NewHandler(loadConfig(t, nil), Dependencies{
		Readiness: func(context.Context) error {
			return errors.New("dependency down")
		},
	})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/ready", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["error_code"] != "NOT_READY" || body["retryable"] != true {
		t.Fatalf("body = %v", body)
	}
}

func TestReadyRequiresLoadedSchema(t *testing.T) {
	cache := NewSchemaCache(&fakeSchemaSource{}, nil)
	check := CombineReadinessChecks(CheckDatabase(healthCheckerFunc(func(context.Context) error { return nil })), CheckSchemaLoaded(cache))
	if err := check(context.Background()); err == nil {
		t.Fatal("expected not ready before the schema is loaded")
	}
	if _, err := cache.Get(context.Background(), false); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if err := check(context.Background()); err != nil {
		t.Fatalf("ready check error = %v", err)
	}
	if err := CheckDatabase(nil)(context.Background()); err == nil {
		t.Fatal("expected error without database")
	}
}

func TestCombineReadinessChecksStopsOnFirstFailure(t *testing.T) {
	order := make([]int, 0, 3)
	combined := CombineReadinessChecks(
		func(_ context.Context) error {
			order = append(order, 1)
			return nil
		},
		nil,
		func(_ context.Context) error {
			order = append(order, 2)
			return errors.New("boom")
		},
		func(_ context.Context) error {
			order = append(order, 3)
			return nil
		},
	)

	if err := combined(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("execution order = %#v", order)
	}
}

func TestAskReturnsTraceAndResult(t *testing.T) {
	runner := &fakeRunner{trace: repair.Trace{
		RunID:    "run-1",
		Question: "How many salespeople?",
		Outcome:  repair.OutcomeSuccess,
		Attempts: []repair.Attempt{
			{Number: 1, SQL: "SELECT COUNT(*) FROM sales_people", Status: repair.AttemptFailed, Error: "no such table: sales_people"},
			{Number: 2, SQL: "SELECT COUNT(*) FROM salesperson", Status: repair.AttemptSucceeded, Result: &query.Result{Columns: []string{"count"}, Rows: [][]any{{int64(4)}}}},
		},
		Diagnoses: []repair.DiagnosisRecord{{ErrorText: "no such table: sales_people", DiagnosisText: "use salesperson"}},
	}}
	h := NewHandler(loadConfig(t, nil), askDependencies(runner))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/ask", strings.NewReader(`{"question":"  How many salespeople?  "}`)))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}

	if runner.req.Question != "How many salespeople?" {
		t.Fatalf("question = %q", runner.req.Question)
	}
	if !strings.Contains(runner.req.SchemaContext, "salesperson") {
		t.Fatalf("schema context = %q", runner.req.SchemaContext)
	}
	if _, ok := runner.ctx.Deadline(); !ok {
		t.Fatal("expected run context deadline")
	}

	body := decodeBody(t, rr)
	if body["run_id"] != "run-1" || body["outcome"] != "success" {
		t.Fatalf("body = %v", body)
	}
	if body["sql"] != "SELECT COUNT(*) FROM salesperson" {
		t.Fatalf("sql = %v", body["sql"])
	}
	rows, _ := body["rows"].([]any)
	if len(rows) != 1 {
		t.Fatalf("rows = %v", body["rows"])
	}
	attempts, _ := body["attempts"].([]any)
	diagnoses, _ := body["diagnoses"].([]any)
	if len(attempts) != 2 || len(diagnoses) != 1 {
		t.Fatalf("attempts = %d diagnoses = %d", len(attempts), len(diagnoses))
	}
}

func TestAskReportsFailureOutcomesWith200(t *testing.T) {
	for _, outcome := range []repair.Outcome{repair.OutcomeFailure, repair.OutcomeOutOfScope} {
		t.Run(string(outcome), func(t *testing.T) {
			runner := &fakeRunner{trace: repair.Trace{RunID: "run-2", Outcome: outcome, FailureReason: repair.ReasonBudgetExhausted}}
			h := NewHandler(loadConfig(t, nil), askDependencies(runner))

			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/ask", strings.NewReader(`{"question":"q"}`)))
			if rr.Code != http.StatusOK {
				t.Fatalf("status = %d", rr.Code)
			}
			body := decodeBody(t, rr)
			if body["outcome"] != string(outcome) {
				t.Fatalf("outcome = %v", body["outcome"])
			}
			if _, ok := body["sql"]; ok {
				t.Fatalf("unexpected sql in %v", body)
			}
		})
	}
}

func TestAskGenerationErrorReturns502(t *testing.T) {
	runner := &fakeRunner{trace: repair.Trace{RunID: "run-3", Outcome: repair.OutcomeGenerationError, Err: "text generation capability unavailable: status 401"}}
	h := NewHandler(loadConfig(t, nil), askDependencies(runner))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/ask", strings.NewReader(`{"question":"q"}`)))
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["error_code"] != "GENERATION_FAILED" {
		t.Fatalf("body = %v", body)
	}
	extra, _ := body["context"].(map[string]any)
	if extra["run_id"] != "run-3" {
		t.Fatalf("context = %v", body["context"])
	}
}

func TestAskValidatesRequest(t *testing.T) {
	tests := map[string]struct {
		body string
		code string
	}{
		"malformed":     {body: `{"question":`, code: "INVALID_JSON"},
		"unknown field": {body: `{"question":"q","model":"x"}`, code: "INVALID_JSON"},
		"blank":         {body: `{"question":"   "}`, code: "QUESTION_REQUIRED"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			runner := &fakeRunner{}
			h := NewHandler(loadConfig(t, nil), askDependencies(runner))
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/ask", strings.NewReader(tc.body)))
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status = %d", rr.Code)
			}
			if body := decodeBody(t, rr); body["error_code"] != tc.code {
				t.Fatalf("body = %v", body)
			}
			if runner.calls != 0 {
				t.Fatal("runner should not be called")
			}
		})
	}
}

func TestAskWithoutRunnerIsNotConfigured(t *testing.T) {
	h := NewHandler(loadConfig(t, nil), Dependencies{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/ask", strings.NewReader(`{"question":"q"}`)))
	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestAskFailsWhenSchemaCannotBeLoaded(t *testing.T) {
	deps := askDependencies(&fakeRunner{})
	deps.Schema = NewSchemaCache(&fakeSchemaSource{err: errors.New("connection refused")}, nil)
	h := NewHandler(loadConfig(t, nil), deps)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/ask", strings.NewReader(`{"question":"q"}`)))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["error_code"] != "SCHEMA_FETCH_FAILED" {
		t.Fatalf("body = %v", body)
	}
}

func TestSchemaEndpointCachesAndRefreshes(t *testing.T) {
	source := &fakeSchemaSource{warnings: multierror.Append(nil, errors.New(`sample rows of "audit": permission denied`))}
	deps := Dependencies{Schema: NewSchemaCache(source, nil)}
	reloads := 0
	deps.Schema.BeforeRefresh = func(context.Context) error {
		reloads++
		return nil
	}
	h := NewHandler(loadConfig(t, nil), deps)

	for _, target := range []string{"/v1/schema", "/v1/schema", "/v1/schema?refresh=true"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status = %d", target, rr.Code)
		}
		body := decodeBody(t, rr)
		if body["dialect"] != "sqlite" || body["total_tables"] != float64(1) {
			t.Fatalf("body = %v", body)
		}
		warnings, _ := body["warnings"].([]any)
		if len(warnings) != 1 {
			t.Fatalf("warnings = %v", body["warnings"])
		}
	}
	if source.calls != 2 || reloads != 1 {
		t.Fatalf("describe calls = %d reloads = %d", source.calls, reloads)
	}
}

func TestSchemaRefreshFailureKeepsCachedDescription(t *testing.T) {
	source := &fakeSchemaSource{}
	cache := NewSchemaCache(source, nil)
	if _, err := cache.Get(context.Background(), false); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	source.err = errors.New("database is locked")
	if _, err := cache.Get(context.Background(), true); err == nil {
		t.Fatal("expected refresh error")
	}
	desc, err := cache.Get(context.Background(), false)
	if err != nil || desc.TotalTables != 1 {
		t.Fatalf("Get() = %#v, %v", desc, err)
	}
}

func TestSchemaReadersDoNotWaitForRefresh(t *testing.T) {
	cache := NewSchemaCache(&fakeSchemaSource{}, nil)
	if _, err := cache.Get(context.Background(), false); err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	entered := make(chan struct{})
	release := make(chan struct{})
	cache.BeforeRefresh = func(context.Context) error {
		close(entered)
		<-release
		return nil
	}
	refreshed := make(chan error, 1)
	go func() {
		_, err := cache.Get(context.Background(), true)
		refreshed <- err
	}()
	<-entered

	read := make(chan schema.Description, 1)
	go func() {
		desc, _ := cache.Get(context.Background(), false)
		read <- desc
	}()
	select {
	case desc := <-read:
		if desc.TotalTables != 1 {
			t.Fatalf("cached description = %#v", desc)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cached read blocked behind refresh")
	}

	close(release)
	if err := <-refreshed; err != nil {
		t.Fatalf("refresh error = %v", err)
	}
}

func TestSchemaEndpointRejectsInvalidRefresh(t *testing.T) {
	h := NewHandler(loadConfig(t, nil), Dependencies{Schema: NewSchemaCache(&fakeSchemaSource{}, nil)})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/schema?refresh=soon", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	cfg := loadConfig(t, map[string]string{
		"TEXT2SQL_AUTH_REQUIRED":    "true",
		"TEXT2SQL_AUTH_STATIC_KEYS": "k1:analyst",
	})
	validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
	if err != nil {
		t.Fatalf("validator setup failed: %v", err)
	}
	deps := askDependencies(&fakeRunner{trace: repair.Trace{Outcome: repair.OutcomeOutOfScope}})
	deps.AuthMiddleware = auth.Middleware(nil, validator)
	h := NewHandler(cfg, deps)

	unauthResp := httptest.NewRecorder()
	h.ServeHTTP(unauthResp, httptest.NewRequest(http.MethodGet, "/v1/schema", nil))
	if unauthResp.Code != http.StatusUnauthorized {
		t.Fatalf("unauth status = %d", unauthResp.Code)
	}

	authReq := httptest.NewRequest(http.MethodPost, "/v1/ask", strings.NewReader(`{"question":"q"}`))
	authReq.Header.Set("X-API-Key", "k1")
	authResp := httptest.NewRecorder()
	h.ServeHTTP(authResp, authReq)
	if authResp.Code != http.StatusOK {
		t.Fatalf("auth status = %d", authResp.Code)
	}

	healthResp := httptest.NewRecorder()
	h.ServeHTTP(healthResp, httptest.NewRequest(http.MethodGet, "/v1/health", nil))
	if healthResp.Code != http.StatusOK {
		t.Fatalf("health status = %d", healthResp.Code)
	}
}

func TestAuthRequiredWithoutMiddlewareFailsClosed(t *testing.T) {
	cfg := loadConfig(t, map[string]string{
		"TEXT2SQL_AUTH_REQUIRED":    "true",
		"TEXT2SQL_AUTH_STATIC_KEYS": "k1:analyst",
	})
	h := NewHandler(cfg, askDependencies(&fakeRunner{}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/ask", strings.NewReader(`{"question":"q"}`)))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rr.Code)
	}
}

type fakeRunner struct {
	trace repair.Trace
	req   repair.Request
	ctx   context.Context
	calls int
}

func (f *fakeRunner) Run(ctx context.Context, req repair.Request, _ query.Executor) repair.Trace {
	f.calls++
	f.ctx = ctx
	f.req = req
	return f.trace
}

type fakeExecutor struct{}

func (fakeExecutor) Execute(context.Context, string) (query.Result, error) {
	return query.Result{}, nil
}

type fakeSchemaSource struct {
	err      error
	warnings error
	calls    int
}

func (f *fakeSchemaSource) Describe(context.Context) (schema.Description, error) {
	f.calls++
	if f.err != nil {
		return schema.Description{}, f.err
	}
	desc := schema.Description{
		Dialect:     schema.DialectSQLite,
		TotalTables: 1,
		Tables:      []schema.Table{{Name: "salesperson", Columns: []schema.Column{{Name: "salesperson_id", DataType: "INTEGER", PrimaryKey: true}}}},
		Warnings:    f.warnings,
	}
	desc.Text = schema.Render(desc)
	return desc, nil
}

type healthCheckerFunc func(ctx context.Context) error

func (f healthCheckerFunc) HealthCheck(ctx context.Context) error {
	return f(ctx)
}

func askDependencies(runner Runner) Dependencies {
	return Dependencies{
		Runner:     runner,
		Executor:   fakeExecutor{},
		Schema:     NewSchemaCache(&fakeSchemaSource{}, nil),
		RunTimeout: time.Minute,
	}
}

func loadConfig(t *testing.T, values map[string]string) config.Config {
	t.Helper()
	if values == nil {
		values = map[string]string{}
	}
	cfg, err := config.Load("text2sql-api", mapLookup(values))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	return cfg
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("json decode failed: %v, body=%s", err, rr.Body.String())
	}
	return body
}

func mapLookup(values map[string]string) config.LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
