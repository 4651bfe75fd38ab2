package nl2sql

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type capturedRequest struct {
	Authorization string
	Body          chatRequest
}

func newChatServer(t *testing.T, status int, content string, captured *[]capturedRequest) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var body chatRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if captured != nil {
			*captured = append(*captured, capturedRequest{Authorization: r.Header.Get("Authorization"), Body: body})
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status >= 400 {
			_, _ = w.Write([]byte(`{"error":{"message":"invalid api key"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": content}}},
		})
	}))
	t.Cleanup(server.Close)
	return server
}

func TestNewOpenAIClientRequiresAPIKey(t *testing.T) {
	if _, err := NewOpenAIClient(OpenAIConfig{}); err == nil {
		t.Fatal("expected error without api key")
	}
}

func TestGenerateSQLUsesSQLModelAndReturnsRawContent(t *testing.T) {
	var captured []capturedRequest
	server := newChatServer(t, http.StatusOK, "```sql\nSELECT name FROM salesperson\n```", &captured)

	client, err := NewOpenAIClient(OpenAIConfig{BaseURL: server.URL, APIKey: "sk-test", Dialect: "postgres"})
	if err != nil {
		t.Fatalf("NewOpenAIClient() error = %v", err)
	}
	raw, err := client.GenerateSQL(context.Background(), "List all salespeople", "Table: salesperson")
	if err != nil {
		t.Fatalf("GenerateSQL() error = %v", err)
	}
	if raw != "```sql\nSELECT name FROM salesperson\n```" {
		t.Fatalf("raw = %q", raw)
	}
	if len(captured) != 1 {
		t.Fatalf("requests = %d", len(captured))
	}
	req := captured[0]
	if req.Authorization != "Bearer sk-test" {
		t.Fatalf("authorization = %q", req.Authorization)
	}
	if req.Body.Model != DefaultSQLModel || req.Body.MaxTokens != DefaultMaxTokens {
		t.Fatalf("model/max_tokens = %q/%d", req.Body.Model, req.Body.MaxTokens)
	}
	if len(req.Body.Messages) != 2 || !strings.Contains(req.Body.Messages[1].Content, "List all salespeople") {
		t.Fatalf("messages = %#v", req.Body.Messages)
	}
	if !strings.Contains(req.Body.Messages[0].Content, "Target database: postgres.") {
		t.Fatalf("system prompt = %q", req.Body.Messages[0].Content)
	}
}

func TestDiagnoseClassifiesOutOfScope(t *testing.T) {
	var captured []capturedRequest
	server := newChatServer(t, http.StatusOK, `The user is chatting. SELECT "NOT ASKING FOR SQL";`, &captured)

	client, err := NewOpenAIClient(OpenAIConfig{BaseURL: server.URL, APIKey: "sk-test", DiagnosisModel: "reasoner"})
	if err != nil {
		t.Fatalf("NewOpenAIClient() error = %v", err)
	}
	diagnosis, err := client.Diagnose(context.Background(), DiagnosisRequest{
		ErrorText:  "syntax error at or near \"hello\"",
		FailingSQL: "hello",
		Question:   "hello there",
	})
	if err != nil {
		t.Fatalf("Diagnose() error = %v", err)
	}
	if !diagnosis.OutOfScope() {
		t.Fatalf("diagnosis = %#v", diagnosis)
	}
	if captured[0].Body.Model != "reasoner" {
		t.Fatalf("model = %q", captured[0].Body.Model)
	}
	if !strings.Contains(captured[0].Body.Messages[1].Content, "syntax error at or near") {
		t.Fatalf("user prompt = %q", captured[0].Body.Messages[1].Content)
	}
}

func TestFixSQLUsesFixModel(t *testing.T) {
	var captured []capturedRequest
	server := newChatServer(t, http.StatusOK, "SELECT 1", &captured)

	client, err := NewOpenAIClient(OpenAIConfig{BaseURL: server.URL, APIKey: "sk-test"})
	if err != nil {
		t.Fatalf("NewOpenAIClient() error = %v", err)
	}
	fixed, err := client.FixSQL(context.Background(), "Use the column region instead of area")
	if err != nil {
		t.Fatalf("FixSQL() error = %v", err)
	}
	if fixed != "SELECT 1" || captured[0].Body.Model != DefaultFixModel {
		t.Fatalf("fixed/model = %q/%q", fixed, captured[0].Body.Model)
	}
}

func TestCompletionFailuresWrapCapabilityUnavailable(t *testing.T) {
	server := newChatServer(t, http.StatusUnauthorized, "", nil)

	client, err := NewOpenAIClient(OpenAIConfig{BaseURL: server.URL, APIKey: "sk-bad"})
	if err != nil {
		t.Fatalf("NewOpenAIClient() error = %v", err)
	}
	_, err = client.GenerateSQL(context.Background(), "q", "schema")
	if !errors.Is(err, ErrCapabilityUnavailable) {
		t.Fatalf("error = %v", err)
	}
	if !strings.Contains(err.Error(), "status=401") {
		t.Fatalf("error text = %q", err.Error())
	}
}

func TestCompletionTransportFailureWrapsCapabilityUnavailable(t *testing.T) {
	client, err := NewOpenAIClient(OpenAIConfig{BaseURL: "http://127.0.0.1:1", APIKey: "sk-test"})
	if err != nil {
		t.Fatalf("NewOpenAIClient() error = %v", err)
	}
	_, err = client.FixSQL(context.Background(), "instructions")
	if !errors.Is(err, ErrCapabilityUnavailable) {
		t.Fatalf("error = %v", err)
	}
}

func TestClassifyDiagnosisIsCaseSensitive(t *testing.T) {
	if ClassifyDiagnosis("not asking for sql").OutOfScope() {
		t.Fatal("lower-case phrase must not match")
	}
	diagnosis := ClassifyDiagnosis("Rename column area to region")
	if diagnosis.Kind != DiagnosisActionable || diagnosis.Instructions != "Rename column area to region" {
		t.Fatalf("diagnosis = %#v", diagnosis)
	}
}
