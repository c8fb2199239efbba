// Package puter calls Puter's AI chat through its drivers API. The call
// resolves to a value of arbitrary shape, so it is exposed as an in-process
// driver.Callable rather than a raw completer.
package puter

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"

	"github.com/fiestalabs/fiesta/internal/ailink/content"
	"github.com/fiestalabs/fiesta/internal/ailink/driver"
)

const (
	defaultBaseURL = "https://api.puter.com"
	// DefaultModel is what Puter runs when no model is sent.
	DefaultModel        = "gpt-4.1-nano"
	chatLatestMaxTokens = 8000
)

// Client invokes puter-chat-completion. AuthToken is optional; anonymous
// calls are usually rejected with 401.
type Client struct {
	BaseURL    string
	AuthToken  string
	HTTPClient *http.Client
	Timeout    time.Duration
}

func NewClient(baseURL, authToken string) *Client {
	url := strings.TrimSpace(baseURL)
	if url == "" {
		url = defaultBaseURL
	}
	return &Client{BaseURL: url, AuthToken: strings.TrimSpace(authToken)}
}

func (c *Client) Name() string { return "puter" }

func (c *Client) Capabilities() driver.Capabilities {
	return driver.Capabilities{SupportsImages: true}
}

type driverCall struct {
	Interface string   `json:"interface"`
	Driver    string   `json:"driver"`
	Method    string   `json:"method"`
	Args      callArgs `json:"args"`
}

type callArgs struct {
	Messages  []callMessage `json:"messages"`
	Model     string        `json:"model,omitempty"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type callMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type imagePart struct {
	Type     string            `json:"type"`
	Text     string            `json:"text,omitempty"`
	ImageURL map[string]string `json:"image_url,omitempty"`
}

// Call sends the last user message. A successful envelope resolves to its
// result; an error-shaped 2xx envelope is returned as the value for the
// classifier; transport-level failures become *driver.ThrownError.
func (c *Client) Call(ctx context.Context, req *driver.Request) (any, error) {
	if c == nil {
		return nil, fmt.Errorf("puter client not configured")
	}
	payload, err := buildCall(req)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	url := strings.TrimRight(c.BaseURL, "/") + "/drivers/call"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	token := c.AuthToken
	if req != nil && strings.TrimSpace(req.APIKey) != "" {
		token = strings.TrimSpace(req.APIKey)
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	trace := driver.TraceEntry{Driver: "puter", Provider: "puter", Endpoint: url, Method: http.MethodPost, Model: payload.Args.Model, RequestBody: body}
	start := time.Now()
	resp, err := client.Do(httpReq)
	trace.DurationMs = time.Since(start).Milliseconds()
	if err != nil {
		trace.Error = err.Error()
		driver.Trace(trace)
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	trace.StatusCode = resp.StatusCode
	if json.Valid(respBody) {
		trace.Response = respBody
	}
	driver.Trace(trace)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, thrown(resp.StatusCode, respBody)
	}
	return unwrap(respBody)
}

func unwrap(body []byte) (any, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || !gjson.ValidBytes(trimmed) {
		return nil, &driver.ThrownError{Value: "Puter.js AI chat returned unexpected reply type: " + describe(trimmed)}
	}
	envelope := gjson.ParseBytes(trimmed)
	if !envelope.IsObject() {
		return json.RawMessage(trimmed), nil
	}
	if envelope.Get("success").Type == gjson.False {
		return json.RawMessage(trimmed), nil
	}
	result := envelope.Get("result")
	if !result.Exists() {
		return json.RawMessage(trimmed), nil
	}
	if result.Type == gjson.Null {
		return nil, &driver.ThrownError{Value: "Puter.js AI chat returned null or undefined"}
	}
	return json.RawMessage(result.Raw), nil
}

func thrown(status int, body []byte) *driver.ThrownError {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && gjson.ValidBytes(trimmed) {
		return &driver.ThrownError{Value: json.RawMessage(trimmed), StatusCode: status}
	}
	msg := strings.TrimSpace(string(trimmed))
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &driver.ThrownError{Value: fmt.Sprintf("%d %s", status, msg), StatusCode: status}
}

func describe(body []byte) string {
	if len(body) == 0 {
		return "empty body"
	}
	return "non-JSON body"
}

func buildCall(req *driver.Request) (*driverCall, error) {
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}
	idx := content.LastUserIndex(req.Messages)
	if idx < 0 {
		return nil, fmt.Errorf("a user message is required")
	}
	last := req.Messages[idx]

	msg := callMessage{Role: content.RoleUser, Content: last.Text()}
	if strings.TrimSpace(req.ImageDataURL) != "" {
		msg.Content = []imagePart{
			{Type: "text", Text: last.Text()},
			{Type: "image_url", ImageURL: map[string]string{"url": req.ImageDataURL}},
		}
	}

	args := callArgs{Messages: []callMessage{msg}}
	model := strings.TrimSpace(req.Model)
	if model != "" && model != DefaultModel {
		args.Model = model
	}
	if strings.Contains(model, "chat-latest") {
		args.MaxTokens = chatLatestMaxTokens
	} else if req.MaxTokens != nil {
		args.MaxTokens = *req.MaxTokens
	}

	return &driverCall{
		Interface: "puter-chat-completion",
		Driver:    "ai-chat",
		Method:    "complete",
		Args:      args,
	}, nil
}
