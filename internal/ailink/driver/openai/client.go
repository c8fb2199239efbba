package openai

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/fiestalabs/fiesta/internal/ailink/driver"
)

const defaultBaseURL = "https://openrouter.ai/api/v1"

// Client speaks the OpenAI chat completions wire format. OpenRouter and
// Gemini's OpenAI-compatible endpoint are both served by it; ProviderID
// names the configured provider in errors and traces.
type Client struct {
	ProviderID string
	BaseURL    string
	APIKey     string
	// DefaultModel is sent when a request leaves the model empty.
	DefaultModel string
	Headers      map[string]string
	HTTPClient   *http.Client
	Timeout      time.Duration
}

// NewClient returns a client with defaults applied.
func NewClient(providerID, baseURL, apiKey string) *Client {
	url := strings.TrimSpace(baseURL)
	if url == "" {
		url = defaultBaseURL
	}
	id := strings.TrimSpace(providerID)
	if id == "" {
		id = "openai"
	}

	return &Client{
		ProviderID: id,
		BaseURL:    url,
		APIKey:     strings.TrimSpace(apiKey),
	}
}

// Name returns the provider identifier.
func (c *Client) Name() string {
	return c.ProviderID
}

// Capabilities describes supported features.
func (c *Client) Capabilities() driver.Capabilities {
	return driver.Capabilities{
		SupportsImages:    true,
		SupportsStreaming: true,
	}
}

// CompleteRaw sends a non-streaming chat completion and returns the reply
// body undecoded.
func (c *Client) CompleteRaw(ctx context.Context, req *driver.Request) ([]byte, error) {
	ctx, cancel := withTimeout(ctx, c.timeout())
	if cancel != nil {
		defer cancel()
	}

	resp, trace, err := c.post(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	trace.StatusCode = resp.StatusCode
	trace.Response = traceableBody(respBody)
	driver.Trace(trace)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, driver.NewProviderError(c.ProviderID, resp.StatusCode, respBody)
	}
	return respBody, nil
}

// OpenStream starts a streaming chat completion. The caller owns the
// returned body. The client timeout does not apply to streams; the caller's
// context bounds them.
func (c *Client) OpenStream(ctx context.Context, req *driver.Request) (io.ReadCloser, error) {
	resp, trace, err := c.post(ctx, req, true)
	if err != nil {
		return nil, err
	}

	trace.StatusCode = resp.StatusCode
	trace.Streamed = true
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		defer resp.Body.Close() // nolint:errcheck // best-effort cleanup
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		trace.Response = traceableBody(respBody)
		driver.Trace(trace)
		return nil, driver.NewProviderError(c.ProviderID, resp.StatusCode, respBody)
	}
	driver.Trace(trace)

	if resp.Body == nil {
		return nil, fmt.Errorf("%s: response has no body", c.ProviderID)
	}
	return resp.Body, nil
}

func (c *Client) post(ctx context.Context, req *driver.Request, stream bool) (*http.Response, driver.TraceEntry, error) {
	if c == nil {
		return nil, driver.TraceEntry{}, fmt.Errorf("openai client not configured")
	}
	trace := driver.TraceEntry{Driver: "openai", Provider: c.ProviderID, Method: http.MethodPost}

	apiKey := c.APIKey
	if req != nil && strings.TrimSpace(req.APIKey) != "" {
		apiKey = strings.TrimSpace(req.APIKey)
	}
	if apiKey == "" {
		return nil, trace, fmt.Errorf("api key is required")
	}

	payload, err := buildChatRequest(req, c.DefaultModel, stream)
	if err != nil {
		return nil, trace, err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, trace, fmt.Errorf("encode request: %w", err)
	}

	url := strings.TrimRight(c.BaseURL, "/") + "/chat/completions"
	trace.Endpoint = url
	trace.Model = payload.Model
	trace.RequestBody = body

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, trace, fmt.Errorf("build request: %w", err)
	}

	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	for k, v := range c.Headers {
		httpReq.Header.Set(k, v)
	}

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	start := time.Now()
	resp, err := client.Do(httpReq)
	trace.DurationMs = time.Since(start).Milliseconds()
	if err != nil {
		trace.Error = err.Error()
		driver.Trace(trace)
		return nil, trace, fmt.Errorf("request failed: %w", err)
	}
	return resp, trace, nil
}

func (c *Client) timeout() time.Duration {
	if c == nil {
		return 0
	}
	return c.Timeout
}

// traceableBody keeps JSON bodies as-is in traces and quotes anything else.
func traceableBody(body []byte) json.RawMessage {
	if len(body) == 0 {
		return nil
	}
	if json.Valid(body) {
		return body
	}
	quoted, err := json.Marshal(string(body))
	if err != nil {
		return nil
	}
	return quoted
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, nil
	}
	return context.WithTimeout(ctx, timeout)
}
