package ailink

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fiestalabs/fiesta/internal/ailink/driver"
	"github.com/fiestalabs/fiesta/internal/ailink/sse"
)

func openRouterConfig(baseURL string) ProviderInstanceConfig {
	return ProviderInstanceConfig{
		Enabled:    true,
		AIProvider: FamilyOpenAI,
		BaseURL:    baseURL,
		Models:     map[string]string{"default": "openrouter/auto"},
		Credentials: []CredentialConfig{
			{Enabled: true, Label: "shared", APIKey: "shared-key"},
		},
	}
}

func TestSelectCredentialPriority(t *testing.T) {
	cfg := ProviderInstanceConfig{Credentials: []CredentialConfig{
		{Enabled: true, Label: "low", APIKey: "k1", Priority: 1},
		{Enabled: true, Label: "high", APIKey: "k2", Priority: 5},
	}}

	cred, key, err := selectCredential(cfg, nil)
	require.NoError(t, err)
	require.Equal(t, "high", key)
	require.Equal(t, "k2", cred.APIKey)
}

func TestSelectCredentialRoundRobin(t *testing.T) {
	reg := NewRegistry(Config{})
	cfg := ProviderInstanceConfig{SelectionPolicy: "round_robin", Credentials: []CredentialConfig{
		{Enabled: true, Label: "a", APIKey: "ka"},
		{Enabled: true, Label: "b", APIKey: "kb"},
	}}

	var keys []string
	for i := 0; i < 4; i++ {
		_, key, err := selectCredential(cfg, reg.rrNext("p"))
		require.NoError(t, err)
		keys = append(keys, key)
	}
	require.Equal(t, []string{"a", "b", "a", "b"}, keys)
}

func TestSelectCredentialDefaultLabel(t *testing.T) {
	cfg := ProviderInstanceConfig{DefaultCredential: "B", Credentials: []CredentialConfig{
		{Enabled: true, Label: "a", APIKey: "ka", Priority: 9},
		{Enabled: true, Label: "b", APIKey: "kb"},
	}}

	cred, _, err := selectCredential(cfg, nil)
	require.NoError(t, err)
	require.Equal(t, "kb", cred.APIKey)
}

func TestResolveKeyTypes(t *testing.T) {
	reg := NewRegistry(Config{Providers: map[string]ProviderInstanceConfig{
		"openrouter": openRouterConfig("http://127.0.0.1:1"),
		"nokey":      {Enabled: true, AIProvider: FamilyOpenAI},
		"puter":      {Enabled: true, AIProvider: FamilyPuter},
		"relay":      {Enabled: true, AIProvider: FamilyRelay, BaseURL: "http://127.0.0.1:1"},
	}})

	shared, err := reg.Resolve("openrouter", "")
	require.NoError(t, err)
	require.Equal(t, driver.KeyShared, shared.KeyType)
	require.Equal(t, "openrouter/auto", shared.DefaultModel)

	user, err := reg.Resolve("openrouter", "  user-key ")
	require.NoError(t, err)
	require.Equal(t, driver.KeyUser, user.KeyType)

	userOnly, err := reg.Resolve("nokey", "user-key")
	require.NoError(t, err)
	require.Equal(t, driver.KeyUser, userOnly.KeyType)

	_, err = reg.Resolve("nokey", "")
	require.Error(t, err)
	require.Contains(t, err.Error(), "no API key configured")

	puterProvider, err := reg.Resolve("puter", "")
	require.NoError(t, err)
	require.Equal(t, driver.KeyNone, puterProvider.KeyType)
	require.Equal(t, "gpt-4.1-nano", puterProvider.DefaultModel)

	relayProvider, err := reg.Resolve("relay", "")
	require.NoError(t, err)
	require.Equal(t, driver.KeyNone, relayProvider.KeyType)
}

func TestResolveProviderSelection(t *testing.T) {
	single := NewRegistry(Config{Providers: map[string]ProviderInstanceConfig{
		"openrouter": openRouterConfig(""),
		"off":        {Enabled: false, AIProvider: FamilyOpenAI},
	}})
	resolved, err := single.Resolve("", "")
	require.NoError(t, err)
	require.Equal(t, "openrouter", resolved.ProviderID)
	require.Equal(t, []string{"openrouter"}, single.ProviderIDs())

	_, err = single.Resolve("off", "")
	require.ErrorContains(t, err, "disabled")

	_, err = single.Resolve("missing", "")
	require.ErrorContains(t, err, "unknown provider")

	multi := NewRegistry(Config{Providers: map[string]ProviderInstanceConfig{
		"a": openRouterConfig(""),
		"b": openRouterConfig(""),
	}})
	_, err = multi.Resolve("", "")
	require.ErrorContains(t, err, "no default provider")

	multi = NewRegistry(Config{DefaultProvider: "b", Providers: multi.Config().Providers})
	resolved, err = multi.Resolve("", "")
	require.NoError(t, err)
	require.Equal(t, "b", resolved.ProviderID)

	_, err = NewRegistry(Config{Providers: map[string]ProviderInstanceConfig{
		"odd": {Enabled: true, AIProvider: "carrier-pigeon"},
	}}).Resolve("odd", "k")
	require.ErrorContains(t, err, "unsupported ai_provider")
}

func TestResolvedPipelineFallsBackAndTimes(t *testing.T) {
	var models []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Model string `json:"model"`
		}
		require.NoError(t, decodeJSON(r, &body))
		models = append(models, body.Model)
		if body.Model == "exotic/model" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"message":"exotic/model is not a valid model ID","code":404}}`))
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"from default"}}]}`))
	}))
	defer server.Close()

	reg := NewRegistry(Config{Providers: map[string]ProviderInstanceConfig{"openrouter": openRouterConfig(server.URL)}})
	reg.HTTPClient = server.Client()

	resolved, err := reg.Resolve("openrouter", "")
	require.NoError(t, err)

	res := resolved.Adapter.Invoke(context.Background(), request("exotic/model"))
	require.True(t, res.OK(), res.Error)
	require.Equal(t, "from default", res.Text)
	require.Equal(t, []string{"exotic/model", "openrouter/auto"}, models)
	require.False(t, res.StartTime.IsZero())
	require.False(t, res.EndTime.Before(res.StartTime))
}

func TestResolvedStreamIsBufferedWithoutStreamingCapability(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"whole"}}]}`))
	}))
	defer server.Close()

	reg := NewRegistry(Config{Providers: map[string]ProviderInstanceConfig{"openrouter": openRouterConfig(server.URL)}})
	reg.HTTPClient = server.Client()

	resolved, err := reg.Resolve("openrouter", "")
	require.NoError(t, err)

	var events []sse.Event
	resolved.Stream.Stream(context.Background(), request(""), collect(&events))
	require.Equal(t, []sse.Kind{sse.KindMeta, sse.KindToken, sse.KindDone}, kinds(events))
	require.Equal(t, "whole", events[1].Delta)
	require.Equal(t, "shared", events[0].UsedKeyType)
}

func TestResolvedStreamUsesOpenAIChunks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"He\"}}]}\n\n" +
			"data: {\"choices\":[{\"delta\":{\"content\":\"y\"}}]}\n\n" +
			"data: [DONE]\n\n"))
	}))
	defer server.Close()

	providerCfg := openRouterConfig(server.URL)
	providerCfg.Capabilities.Streaming = true
	reg := NewRegistry(Config{Providers: map[string]ProviderInstanceConfig{"gemini": providerCfg}})
	reg.HTTPClient = server.Client()

	resolved, err := reg.Resolve("gemini", "")
	require.NoError(t, err)

	var events []sse.Event
	resolved.Stream.Stream(context.Background(), request(""), collect(&events))
	require.Equal(t, []sse.Kind{sse.KindMeta, sse.KindToken, sse.KindToken, sse.KindDone}, kinds(events))
	require.Equal(t, "gemini", events[0].Provider)
	require.NotNil(t, events[3].Timing)
}
