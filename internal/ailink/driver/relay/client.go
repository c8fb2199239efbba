// Package relay forwards chat requests to another fiesta server, so a CLI or
// an edge instance can use a remote deployment's shared credentials.
package relay

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

// Client calls /api/chat and /api/chat/stream on a fiesta server.
// RemoteProvider selects the provider on the remote side.
type Client struct {
	ProviderID     string
	BaseURL        string
	RemoteProvider string
	HTTPClient     *http.Client
	Timeout        time.Duration
}

func NewClient(providerID, baseURL, remoteProvider string) *Client {
	return &Client{
		ProviderID:     providerID,
		BaseURL:        strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		RemoteProvider: remoteProvider,
	}
}

func (c *Client) Name() string { return c.ProviderID }

func (c *Client) Capabilities() driver.Capabilities {
	return driver.Capabilities{SupportsImages: true, SupportsStreaming: true}
}

// ChatMessage is the wire form of a message on fiesta's chat endpoints.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the body accepted by fiesta's chat endpoints.
type ChatRequest struct {
	Provider     string        `json:"provider,omitempty"`
	Model        string        `json:"model,omitempty"`
	Messages     []ChatMessage `json:"messages"`
	APIKey       string        `json:"apiKey,omitempty"`
	ImageDataURL string        `json:"imageDataUrl,omitempty"`
}

// CompleteRaw returns the remote NormalizedResult body for classification.
func (c *Client) CompleteRaw(ctx context.Context, req *driver.Request) ([]byte, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	resp, err := c.post(ctx, "/api/chat", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, driver.NewProviderError(c.ProviderID, resp.StatusCode, body)
	}
	return body, nil
}

// OpenStream returns the remote item-frame SSE body.
func (c *Client) OpenStream(ctx context.Context, req *driver.Request) (io.ReadCloser, error) {
	resp, err := c.post(ctx, "/api/chat/stream", req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		defer resp.Body.Close() // nolint:errcheck // best-effort cleanup
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, driver.NewProviderError(c.ProviderID, resp.StatusCode, body)
	}
	return resp.Body, nil
}

func (c *Client) post(ctx context.Context, path string, req *driver.Request) (*http.Response, error) {
	if c == nil || c.BaseURL == "" {
		return nil, fmt.Errorf("relay server url is required")
	}
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}

	payload := ChatRequest{
		Provider:     c.RemoteProvider,
		Model:        req.Model,
		APIKey:       req.APIKey,
		ImageDataURL: req.ImageDataURL,
	}
	for _, m := range req.Messages {
		payload.Messages = append(payload.Messages, ChatMessage{Role: m.Role, Content: m.Text()})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	url := c.BaseURL + path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	start := time.Now()
	resp, err := client.Do(httpReq)
	entry := driver.TraceEntry{
		Driver:     "relay",
		Provider:   c.ProviderID,
		Endpoint:   url,
		Method:     http.MethodPost,
		Model:      req.Model,
		Streamed:   strings.HasSuffix(path, "/stream"),
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		entry.Error = err.Error()
		driver.Trace(entry)
		return nil, fmt.Errorf("request failed: %w", err)
	}
	entry.StatusCode = resp.StatusCode
	driver.Trace(entry)
	return resp, nil
}
