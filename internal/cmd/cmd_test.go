package cmd

import (
	"bytes"
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/fiestalabs/fiesta/internal/ailink"
	"github.com/fiestalabs/fiesta/internal/ailink/content"
	"github.com/fiestalabs/fiesta/internal/ailink/sse"
	"github.com/fiestalabs/fiesta/internal/config"
	"github.com/fiestalabs/fiesta/internal/output"
	"github.com/fiestalabs/fiesta/internal/ratelimit"
)

// pngHeader is enough for http.DetectContentType to report image/png.
var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func TestReadPrompt(t *testing.T) {
	prompt, err := readPrompt([]string{"hello", "there"}, strings.NewReader("ignored"))
	require.NoError(t, err)
	require.Equal(t, "hello there", prompt)

	prompt, err = readPrompt(nil, strings.NewReader("  from stdin \n"))
	require.NoError(t, err)
	require.Equal(t, "from stdin", prompt)

	prompt, err = readPrompt([]string{"-"}, strings.NewReader("dash"))
	require.NoError(t, err)
	require.Equal(t, "dash", prompt)

	_, err = readPrompt(nil, strings.NewReader("   "))
	require.ErrorContains(t, err, "prompt is empty")
}

func TestChatFlagsRequest(t *testing.T) {
	f := chatFlags{provider: " gemini ", model: "m", apiKey: " k ", system: "be brief", maxTokens: 12}
	req, err := f.request("hi")
	require.NoError(t, err)

	require.Equal(t, "gemini", req.Provider)
	require.Equal(t, "k", req.APIKey)
	require.NotNil(t, req.MaxTokens)
	require.Equal(t, 12, *req.MaxTokens)
	require.Len(t, req.Messages, 2)
	require.Equal(t, content.RoleSystem, req.Messages[0].Role)
	require.Equal(t, "hi", req.Messages[1].Text())
	require.Empty(t, req.ImageDataURL)

	req, err = chatFlags{}.request("hi")
	require.NoError(t, err)
	require.Len(t, req.Messages, 1)
	require.Nil(t, req.MaxTokens)
}

func TestImageDataURL(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "pic.png")
	require.NoError(t, os.WriteFile(img, pngHeader, 0o600))

	dataURL, err := imageDataURL(img)
	require.NoError(t, err)
	require.Equal(t, "data:image/png;base64,"+base64.StdEncoding.EncodeToString(pngHeader), dataURL)

	passthrough, err := imageDataURL("data:image/jpeg;base64,AAAA")
	require.NoError(t, err)
	require.Equal(t, "data:image/jpeg;base64,AAAA", passthrough)

	text := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(text, []byte("just words"), 0o600))
	_, err = imageDataURL(text)
	require.ErrorContains(t, err, "not an image")

	_, err = imageDataURL(filepath.Join(dir, "missing.png"))
	require.Error(t, err)
}

func TestTextSink(t *testing.T) {
	var out, errOut bytes.Buffer
	var streamErr error
	sink := textSink(&out, &errOut, &streamErr)

	sink(sse.Meta("gemini", "shared"))
	sink(sse.Token("Hel"))
	sink(sse.Token("lo"))
	sink(sse.Error("cut off", 500, "gemini"))
	sink(sse.Done())

	require.Equal(t, "Hello\n", out.String())
	require.Contains(t, errOut.String(), "error from gemini: cut off")
	require.ErrorContains(t, streamErr, "cut off")
}

func TestWriteAnswer(t *testing.T) {
	ok := ailink.NormalizedResult{Text: "forty-two", Provider: "gemini", Model: "m"}

	var buf bytes.Buffer
	require.NoError(t, writeAnswer(&buf, output.FormatTable, ok))
	require.Equal(t, "forty-two\n", buf.String())

	buf.Reset()
	require.NoError(t, writeAnswer(&buf, output.FormatJSON, ok))
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Equal(t, "forty-two", decoded["text"])

	buf.Reset()
	err := writeAnswer(&buf, output.FormatTable, ailink.NormalizedResult{Provider: "gemini", Error: "quota exceeded"})
	require.ErrorContains(t, err, "gemini: quota exceeded")
	require.Empty(t, buf.String())

	err = writeAnswer(&buf, output.FormatTable, ailink.NormalizedResult{Aborted: true})
	require.ErrorContains(t, err, "aborted")
}

func TestCatalogSelectionTargets(t *testing.T) {
	targets, err := catalogSelection{}.targets([]string{"deepseek-r1", "gemini:custom"})
	require.NoError(t, err)
	require.Equal(t, []ailink.Target{
		{Provider: "openrouter", Model: "deepseek/deepseek-r1:free"},
		{Provider: "gemini", Model: "custom"},
	}, targets)

	free, err := catalogSelection{provider: "openrouter", free: true}.targets(nil)
	require.NoError(t, err)
	require.NotEmpty(t, free)
	for _, target := range free {
		require.Equal(t, "openrouter", target.Provider)
	}

	_, err = catalogSelection{provider: "no-such-provider"}.targets(nil)
	require.ErrorContains(t, err, "no catalog models")
}

func TestProbeTargetList(t *testing.T) {
	probeTargets = []string{"gemini-2.5-pro", "puter:gpt-4o"}
	t.Cleanup(func() { probeTargets = nil })

	targets, err := probeTargetList()
	require.NoError(t, err)
	require.Len(t, targets, 2)
	require.Equal(t, "gemini-2.5-pro", targets[0].ModelID)
	require.Equal(t, "Gemini 2.5 Pro", targets[0].Label)
	require.Equal(t, "puter", targets[1].Provider)
	require.Equal(t, "gpt-4o", targets[1].Model)
	require.Equal(t, "puter:gpt-4o", targets[1].Label)
}

func TestOpenLimiterBackend(t *testing.T) {
	cfg := &config.Config{RateLimit: config.RateLimitConfig{Backend: config.BackendMemory}}
	backend, err := openLimiterBackend(context.Background(), cfg)
	require.NoError(t, err)
	require.Equal(t, config.BackendMemory, backend.name)
	require.Nil(t, backend.ping)
	require.NoError(t, backend.close())

	limiter := ratelimit.New(backend.store, ratelimit.Config{MaxRequests: 1, Window: time.Minute})
	require.True(t, limiter.Admit(context.Background(), "a").Allowed)
	require.False(t, limiter.Admit(context.Background(), "a").Allowed)

	entries, err := backend.admin.List(context.Background(), ratelimit.Query{All: true})
	require.NoError(t, err)
	require.Len(t, entries, 1)

	cfg.RateLimit.Backend = "carrier-pigeon"
	_, err = openLimiterBackend(context.Background(), cfg)
	require.ErrorContains(t, err, "unsupported")
}

func TestRateLimitBox(t *testing.T) {
	empty := rateLimitBox("redis", nil)
	require.Contains(t, empty, "Rate Limits (redis)")
	require.Contains(t, empty, "(no active windows)")
}

// upstream answers OpenAI-style with "<model> says <last message>".
func upstream(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Content any `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		last, _ := body.Messages[len(body.Messages)-1].Content.(string)
		payload, _ := json.Marshal(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"content": body.Model + " says " + last}}},
		})
		_, _ = w.Write(payload)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// runCLI executes the root command with an isolated config pointing the
// "local" provider at the upstream server.
func runCLI(t *testing.T, baseURL string, args ...string) (string, error) {
	t.Helper()
	root := t.TempDir()
	t.Setenv("HOME", root)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(root, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(root, "data"))
	t.Setenv("FIESTA_DB_PATH", filepath.Join(root, "fiesta.db"))
	t.Setenv("FIESTA_AILINK_DEFAULT_PROVIDER", "local")
	t.Setenv("FIESTA_AILINK_PROVIDERS_LOCAL_ENABLED", "true")
	t.Setenv("FIESTA_AILINK_PROVIDERS_LOCAL_AI_PROVIDER", "openai")
	t.Setenv("FIESTA_AILINK_PROVIDERS_LOCAL_BASE_URL", baseURL)
	t.Setenv("FIESTA_AILINK_PROVIDERS_LOCAL_MODELS_DEFAULT", "tiny")
	t.Setenv("FIESTA_AILINK_PROVIDERS_LOCAL_CREDENTIALS_0_ENABLED", "true")
	t.Setenv("FIESTA_AILINK_PROVIDERS_LOCAL_CREDENTIALS_0_API_KEY", "k")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetIn(strings.NewReader(""))
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetIn(nil)
		rootCmd.SetArgs(nil)
	})

	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestAskCommand(t *testing.T) {
	srv := upstream(t)

	out, err := runCLI(t, srv.URL, "ask", "--provider", "local", "--model", "big", "ping")
	require.NoError(t, err)
	require.Equal(t, "big says ping\n", out)
}

func TestStreamCommandBuffersNonStreamingProvider(t *testing.T) {
	srv := upstream(t)

	out, err := runCLI(t, srv.URL, "stream", "--provider", "local", "--raw=false", "hello")
	require.NoError(t, err)
	require.Equal(t, "tiny says hello\n", out)
}

func TestCompareCommand(t *testing.T) {
	srv := upstream(t)

	out, err := runCLI(t, srv.URL, "compare", "--output-format", "json", "--fail-on-error",
		"--target", "local:one", "--target", "local:two", "question")
	require.NoError(t, err)

	var results []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 2)
	require.Equal(t, "one says question", results[0]["text"])
	require.Equal(t, "two says question", results[1]["text"])
}

func TestModelsCommand(t *testing.T) {
	out, err := runCLI(t, "http://127.0.0.1:1", "models", "--provider", "gemini", "--output-format", "json")
	require.NoError(t, err)

	var models []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &models))
	require.NotEmpty(t, models)
	for _, m := range models {
		require.Equal(t, "gemini", m["provider"])
	}
}

func TestRateLimitCommandsRejectMemoryBackend(t *testing.T) {
	_, err := runCLI(t, "http://127.0.0.1:1", "rate-limit", "list")
	require.ErrorContains(t, err, "memory")
}

func TestOutputTarget(t *testing.T) {
	dir := t.TempDir()

	var stdout bytes.Buffer
	require.NoError(t, outputTarget{format: output.FormatTable}.write(&stdout, "compare", "to stdout"))
	require.Equal(t, "to stdout\n", stdout.String())

	target := outputTarget{format: output.FormatJSON, dir: filepath.Join(dir, "reports")}
	require.NoError(t, target.write(&stdout, "probe.run-1", "[]"))
	data, err := os.ReadFile(filepath.Join(dir, "reports", "probe.run-1.json"))
	require.NoError(t, err)
	require.Equal(t, "[]\n", string(data))

	file := filepath.Join(dir, "nested", "out.md")
	require.NoError(t, outputTarget{format: output.FormatMarkdown, path: file}.write(&stdout, "ignored", "# hi"))
	require.FileExists(t, file)
}

func TestCompareRejectsOutAndOutDir(t *testing.T) {
	_, err := runCLI(t, "http://127.0.0.1:1", "compare", "--out", "a.json", "--out-dir", "b", "--target", "local:x", "hi")
	require.ErrorContains(t, err, "mutually exclusive")
}

func TestEnvInfoJSONHidesKeys(t *testing.T) {
	out, err := runCLI(t, "http://127.0.0.1:1", "envinfo", "--json")
	require.NoError(t, err)

	var sections []envSection
	require.NoError(t, json.Unmarshal([]byte(out), &sections))

	titles := make([]string, 0, len(sections))
	var local string
	for _, s := range sections {
		titles = append(titles, s.Title)
		for _, f := range s.Fields {
			if s.Title == "Providers" && f.Name == "local" {
				local = f.Value
			}
		}
	}
	require.Equal(t, []string{"Application", "Runtime", "Configuration", "Providers"}, titles)
	require.Contains(t, local, "api_key=set")
	require.Contains(t, local, "model=tiny")
}

func TestRenderEnvSections(t *testing.T) {
	s := envSection{Title: "Runtime"}
	s.add("Platform", "linux/amd64")

	var buf bytes.Buffer
	renderEnvSections(&buf, []envSection{s})
	require.Contains(t, buf.String(), "Runtime")
	require.Contains(t, buf.String(), "linux/amd64")
}
