package relay

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/fiestalabs/fiesta/internal/ailink/content"
	"github.com/fiestalabs/fiesta/internal/ailink/driver"
)

func TestRelayForwardsChat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		var got ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		require.Equal(t, "gemini", got.Provider)
		require.Equal(t, "gemini-2.5-flash", got.Model)
		require.Equal(t, []ChatMessage{{Role: "user", Content: "hi"}}, got.Messages)
		_, _ = w.Write([]byte(`{"text":"hello","provider":"gemini","usedKeyType":"shared"}`))
	}))
	defer server.Close()

	client := NewClient("remote-gemini", server.URL+"/", "gemini")
	client.HTTPClient = server.Client()

	body, err := client.CompleteRaw(context.Background(), &driver.Request{
		Model:    "gemini-2.5-flash",
		Messages: []content.Message{content.TextMessage("user", "hi")},
	})
	require.NoError(t, err)
	require.Contains(t, string(body), `"text":"hello"`)
}

func TestRelayStreamAndErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/chat/stream" {
			_, _ = w.Write([]byte("data: {\"delta\":\"x\"}\n\ndata: [DONE]\n\n"))
			return
		}
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":"RATE_LIMITED","message":"Rate limit exceeded. Please try again later."}}`))
	}))
	defer server.Close()

	client := NewClient("remote", server.URL, "openrouter")
	req := &driver.Request{Messages: []content.Message{content.TextMessage("user", "hi")}}

	stream, err := client.OpenStream(context.Background(), req)
	require.NoError(t, err)
	data, err := io.ReadAll(stream)
	require.NoError(t, err)
	require.NoError(t, stream.Close())
	require.Contains(t, string(data), "[DONE]")

	_, err = client.CompleteRaw(context.Background(), req)
	var perr *driver.ProviderError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, http.StatusTooManyRequests, perr.StatusCode)
}

func TestRelayRequiresURL(t *testing.T) {
	_, err := NewClient("remote", "", "").CompleteRaw(context.Background(), &driver.Request{})
	require.Error(t, err)
}
