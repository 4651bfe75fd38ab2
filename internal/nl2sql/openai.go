package nl2sql

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultBaseURL        = "https://api.openai.com"
	DefaultSQLModel       = "gpt-4o-mini"
	DefaultDiagnosisModel = "gpt-4o"
	DefaultFixModel       = "gpt-4o-mini"
	DefaultMaxTokens      = 2000
)

type OpenAIConfig struct {
	BaseURL        string
	APIKey         string
	SQLModel       string
	DiagnosisModel string
	FixModel       string
	// Dialect names the target database in the generation and fix prompts.
	Dialect     string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// OpenAIClient talks to an OpenAI-compatible chat completions endpoint and
// serves all three capabilities, each with its own model.
type OpenAIClient struct {
	baseURL        string
	apiKey         string
	sqlModel       string
	diagnosisModel string
	fixModel       string
	dialect        string
	temperature    float64
	maxTokens      int
	client         *http.Client
}

func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenAIClient{
		baseURL:        strings.TrimRight(baseURL, "/"),
		apiKey:         strings.TrimSpace(cfg.APIKey),
		sqlModel:       defaultString(cfg.SQLModel, DefaultSQLModel),
		diagnosisModel: defaultString(cfg.DiagnosisModel, DefaultDiagnosisModel),
		fixModel:       defaultString(cfg.FixModel, DefaultFixModel),
		dialect:        strings.TrimSpace(cfg.Dialect),
		temperature:    cfg.Temperature,
		maxTokens:      maxTokens,
		client:         &http.Client{Timeout: timeout},
	}, nil
}

func (c *OpenAIClient) GenerateSQL(ctx context.Context, question, schemaContext string) (string, error) {
	content, err := c.complete(ctx, c.sqlModel, withDialect(generationSystemPrompt, c.dialect), generationUserPrompt(question, schemaContext))
	if err != nil {
		return "", fmt.Errorf("generate sql: %w", err)
	}
	return content, nil
}

func (c *OpenAIClient) Diagnose(ctx context.Context, req DiagnosisRequest) (Diagnosis, error) {
	content, err := c.complete(ctx, c.diagnosisModel, diagnosisSystemPrompt, diagnosisUserPrompt(req))
	if err != nil {
		return Diagnosis{}, fmt.Errorf("diagnose error: %w", err)
	}
	return ClassifyDiagnosis(content), nil
}

func (c *OpenAIClient) FixSQL(ctx context.Context, instructions string) (string, error) {
	content, err := c.complete(ctx, c.fixModel, withDialect(fixSystemPrompt, c.dialect), "Instructions:\n"+strings.TrimSpace(instructions))
	if err != nil {
		return "", fmt.Errorf("fix sql: %w", err)
	}
	return content, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

// complete returns the first choice's content. Every failure wraps
// ErrCapabilityUnavailable.
func (c *OpenAIClient) complete(ctx context.Context, model, systemPrompt, userPrompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("%w: marshal chat payload: %v", ErrCapabilityUnavailable, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: build chat request: %v", ErrCapabilityUnavailable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: request chat completion: %w", ErrCapabilityUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	rawRespBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read chat response body: %v", ErrCapabilityUnavailable, err)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("%w: chat completion failed status=%d body=%s", ErrCapabilityUnavailable, resp.StatusCode, truncate(string(rawRespBody), 512))
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(rawRespBody, &parsed); err != nil {
		return "", fmt.Errorf("%w: decode chat completion response: %v", ErrCapabilityUnavailable, err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("%w: empty chat completion choices", ErrCapabilityUnavailable)
	}
	return parsed.Choices[0].Message.Content, nil
}

func defaultString(value, fallback string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return fallback
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit]
}
