package openai

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/fiestalabs/fiesta/internal/ailink/content"
	"github.com/fiestalabs/fiesta/internal/ailink/driver"
)

func userRequest(model, text string) *driver.Request {
	return &driver.Request{Model: model, Messages: []content.Message{content.TextMessage(content.RoleUser, text)}}
}

func TestClientRequiresAPIKey(t *testing.T) {
	client := NewClient("openrouter", "", "")
	_, err := client.CompleteRaw(context.Background(), userRequest("test", "hi"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "api key")
}

func TestClientRequiresModel(t *testing.T) {
	client := NewClient("openrouter", "", "k")
	_, err := client.CompleteRaw(context.Background(), userRequest("", "hi"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "model is required")
}

func TestClientSendsRequestAndReturnsRawBody(t *testing.T) {
	reply := `{"choices":[{"message":{"content":"ok"},"finish_reason":"stop"}]}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer user-key", r.Header.Get("Authorization"))
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.Equal(t, "AI Fiesta", r.Header.Get("X-Title"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		var payload map[string]any
		require.NoError(t, json.Unmarshal(body, &payload))
		require.Equal(t, "openrouter/auto", payload["model"])
		_, streaming := payload["stream"]
		require.False(t, streaming)

		messages := payload["messages"].([]any)
		require.Len(t, messages, 2)
		last := messages[1].(map[string]any)
		parts := last["content"].([]any)
		require.Len(t, parts, 2)
		require.Equal(t, "image_url", parts[1].(map[string]any)["type"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(reply))
	}))
	defer server.Close()

	client := NewClient("openrouter", server.URL, "shared-key")
	client.HTTPClient = server.Client()
	client.DefaultModel = "openrouter/auto"
	client.Headers = map[string]string{"X-Title": "AI Fiesta"}

	req := &driver.Request{
		APIKey:       "user-key",
		ImageDataURL: "data:image/png;base64,AAAA",
		Messages: []content.Message{
			content.TextMessage(content.RoleSystem, "sys"),
			content.TextMessage(content.RoleUser, "what is this?"),
		},
	}
	raw, err := client.CompleteRaw(context.Background(), req)
	require.NoError(t, err)
	require.JSONEq(t, reply, string(raw))
}

func TestClientErrorsOnNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"No auth credentials found","code":401}}`))
	}))
	defer server.Close()

	client := NewClient("openrouter", server.URL, "test-key")
	client.HTTPClient = server.Client()

	_, err := client.CompleteRaw(context.Background(), userRequest("m", "hi"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "status 401")

	var perr *driver.ProviderError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, "openrouter", perr.Provider)
	require.Contains(t, string(perr.RawResponse), "No auth credentials")
}

func TestClientOpenStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.Contains(t, string(body), `"stream":true`)

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\ndata: [DONE]\n\n"))
	}))
	defer server.Close()

	client := NewClient("gemini", server.URL, "k")
	client.HTTPClient = server.Client()

	body, err := client.OpenStream(context.Background(), userRequest("gemini-2.5-flash", "hi"))
	require.NoError(t, err)
	defer body.Close() // nolint:errcheck // test cleanup

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(string(data), "data: [DONE]\n\n"))
}

func TestClientOpenStreamNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("slow down"))
	}))
	defer server.Close()

	client := NewClient("gemini", server.URL, "k")
	client.HTTPClient = server.Client()

	_, err := client.OpenStream(context.Background(), userRequest("m", "hi"))
	var perr *driver.ProviderError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, http.StatusTooManyRequests, perr.StatusCode)
	require.Equal(t, "slow down", perr.Message)
}

func TestClientWritesTrace(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"text":"traced"}`))
	}))
	defer server.Close()

	path := filepath.Join(t.TempDir(), "trace.ndjson")
	cleanup, err := driver.EnableTracing(path)
	require.NoError(t, err)
	t.Cleanup(cleanup)

	client := NewClient("openrouter", server.URL, "secret-key")
	client.HTTPClient = server.Client()
	_, err = client.CompleteRaw(context.Background(), userRequest("m", "hi"))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotContains(t, string(data), "secret-key")

	var entry driver.TraceEntry
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(string(data))), &entry))
	require.Equal(t, "openrouter", entry.Provider)
	require.Equal(t, http.StatusOK, entry.StatusCode)
	require.Equal(t, "m", entry.Model)
}
