package text2sqlctl

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

type client struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	rawJSON bool
	http    *http.Client
}

type errorEnvelope struct {
	ErrorCode string         `json:"error_code"`
	Message   string         `json:"message"`
	Context   map[string]any `json:"context"`
	TraceID   string         `json:"trace_id"`
}

func (c *client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.baseURL, "/")+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key := strings.TrimSpace(c.apiKey); key != "" {
		req.Header.Set("X-API-Key", key)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, failed("request failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, failed("read response: %v", err)
	}
	if resp.StatusCode >= 400 {
		return nil, httpFailure(resp.StatusCode, responseBody)
	}
	return responseBody, nil
}

func httpFailure(status int, body []byte) error {
	var envelope errorEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.ErrorCode == "" {
		return failed("http %d: %s", status, strings.TrimSpace(string(body)))
	}
	message := fmt.Sprintf("http %d %s: %s", status, envelope.ErrorCode, envelope.Message)
	if details, ok := envelope.Context["details"].(string); ok && details != "" {
		message += " (" + details + ")"
	}
	if envelope.TraceID != "" {
		message += " [trace " + envelope.TraceID + "]"
	}
	return failed("%s", message)
}

func printJSON(w io.Writer, raw []byte) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	var formatted bytes.Buffer
	if err := json.Indent(&formatted, raw, "", "  "); err != nil {
		_, err = fmt.Fprintln(w, string(raw))
		return err
	}
	_, err := fmt.Fprintln(w, formatted.String())
	return err
}
