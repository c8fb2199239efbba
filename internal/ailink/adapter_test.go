package ailink

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fiestalabs/fiesta/internal/ailink/content"
	"github.com/fiestalabs/fiesta/internal/ailink/driver"
	"github.com/fiestalabs/fiesta/internal/ailink/sse"
)

type completerFunc func(ctx context.Context, req *driver.Request) ([]byte, error)

func (f completerFunc) Name() string { return "fake" }

func (f completerFunc) CompleteRaw(ctx context.Context, req *driver.Request) ([]byte, error) {
	return f(ctx, req)
}

type openerFunc func(ctx context.Context, req *driver.Request) (io.ReadCloser, error)

func (f openerFunc) Name() string { return "fake" }

func (f openerFunc) OpenStream(ctx context.Context, req *driver.Request) (io.ReadCloser, error) {
	return f(ctx, req)
}

func request(model string) *driver.Request {
	return &driver.Request{Model: model, Messages: []content.Message{content.TextMessage(content.RoleUser, "hi")}}
}

func collect(events *[]sse.Event) func(sse.Event) {
	return func(ev sse.Event) { *events = append(*events, ev) }
}

func kinds(events []sse.Event) []sse.Kind {
	out := make([]sse.Kind, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Kind)
	}
	return out
}

func TestDirectAdapterSuccess(t *testing.T) {
	adapter := NewDirectAdapter("openrouter", driver.KeyShared, completerFunc(func(context.Context, *driver.Request) ([]byte, error) {
		return []byte(`{"choices":[{"message":{"content":"  hello  "}}]}`), nil
	}))

	res := adapter.Invoke(context.Background(), request("m1"))
	require.True(t, res.OK())
	require.Equal(t, "hello", res.Text)
	require.Equal(t, "openrouter", res.Provider)
	require.Equal(t, "m1", res.Model)
	require.Equal(t, driver.KeyShared, res.UsedKeyType)
}

func TestDirectAdapterErrorEnvelopeInSuccessReply(t *testing.T) {
	adapter := NewDirectAdapter("p", driver.KeyUser, completerFunc(func(context.Context, *driver.Request) ([]byte, error) {
		return []byte(`{"success":false,"error":{"message":"quota exceeded"}}`), nil
	}))

	res := adapter.Invoke(context.Background(), request("m"))
	require.False(t, res.OK())
	require.Equal(t, "quota exceeded", res.Error)
	require.Empty(t, res.Text)
}

func TestDirectAdapterProviderErrorBody(t *testing.T) {
	adapter := NewDirectAdapter("p", driver.KeyShared, completerFunc(func(context.Context, *driver.Request) ([]byte, error) {
		return nil, driver.NewProviderError("p", 402, []byte(`{"error":{"message":"Insufficient credits"}}`))
	}))

	res := adapter.Invoke(context.Background(), request("m"))
	require.Equal(t, "Insufficient credits", res.Error)
}

func TestDirectAdapterProviderErrorWithUnreadableBody(t *testing.T) {
	perr := driver.NewProviderError("p", 502, []byte("<html>bad gateway</html>"))
	adapter := NewDirectAdapter("p", driver.KeyShared, completerFunc(func(context.Context, *driver.Request) ([]byte, error) {
		return nil, perr
	}))

	res := adapter.Invoke(context.Background(), request("m"))
	require.Equal(t, perr.Error(), res.Error)
}

func TestDirectAdapterTransportError(t *testing.T) {
	adapter := NewDirectAdapter("p", driver.KeyShared, completerFunc(func(context.Context, *driver.Request) ([]byte, error) {
		return nil, errors.New("request failed: connection refused")
	}))

	res := adapter.Invoke(context.Background(), request("m"))
	require.Equal(t, "request failed: connection refused", res.Error)
	require.False(t, res.Aborted)
}

func TestDirectAdapterAbort(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	adapter := NewDirectAdapter("p", driver.KeyShared, completerFunc(func(ctx context.Context, _ *driver.Request) ([]byte, error) {
		return nil, ctx.Err()
	}))

	res := adapter.Invoke(ctx, request("m"))
	require.True(t, res.Aborted)
	require.Empty(t, res.Error)
	require.Empty(t, res.Text)
}

func TestDirectAdapterLowConfidence(t *testing.T) {
	adapter := NewDirectAdapter("p", driver.KeyNone, completerFunc(func(context.Context, *driver.Request) ([]byte, error) {
		return []byte(`{"id":7,"answer_v2":"this is a fairly long answer in an odd place"}`), nil
	}))

	res := adapter.Invoke(context.Background(), request("m"))
	require.True(t, res.OK())
	require.True(t, res.LowConfidence)
}

func TestStreamingAdapterItemFrames(t *testing.T) {
	body := "data: {\"delta\":\"Hel\"}\n\ndata: {\"delta\":\"lo\"}\n\ndata: [DONE]\n\n"
	adapter := NewStreamingAdapter("relay", driver.KeyNone, openerFunc(func(context.Context, *driver.Request) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(body)), nil
	}), sse.ItemFrames)

	var events []sse.Event
	adapter.Stream(context.Background(), request("m"), collect(&events))

	require.Equal(t, []sse.Kind{sse.KindMeta, sse.KindToken, sse.KindToken, sse.KindDone}, kinds(events))
	require.Equal(t, "relay", events[0].Provider)
	require.Equal(t, "none", events[0].UsedKeyType)
	require.Equal(t, "Hel", events[1].Delta)
	require.Equal(t, "lo", events[2].Delta)
}

func TestStreamingAdapterErrorFrameGetsProvider(t *testing.T) {
	body := "data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n\ndata: {\"error\":{\"message\":\"overloaded\",\"code\":503}}\n\n"
	adapter := NewStreamingAdapter("gemini", driver.KeyShared, openerFunc(func(context.Context, *driver.Request) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(body)), nil
	}), sse.OpenAIChunks)

	var events []sse.Event
	adapter.Stream(context.Background(), request("m"), collect(&events))

	require.Equal(t, []sse.Kind{sse.KindMeta, sse.KindToken, sse.KindError, sse.KindDone}, kinds(events))
	require.Equal(t, "overloaded", events[2].Message)
	require.Equal(t, 503, events[2].Code)
	require.Equal(t, "gemini", events[2].Provider)
}

func TestStreamingAdapterOpenFailure(t *testing.T) {
	adapter := NewStreamingAdapter("gemini", driver.KeyShared, openerFunc(func(context.Context, *driver.Request) (io.ReadCloser, error) {
		return nil, driver.NewProviderError("gemini", 429, []byte(`{"error":{"message":"rate limited"}}`))
	}), sse.OpenAIChunks)

	var events []sse.Event
	adapter.Stream(context.Background(), request("m"), collect(&events))

	require.Equal(t, []sse.Kind{sse.KindMeta, sse.KindError, sse.KindDone}, kinds(events))
	require.Equal(t, "rate limited", events[1].Message)
	require.Equal(t, 429, events[1].Code)
}

func TestStreamingAdapterOpenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	adapter := NewStreamingAdapter("gemini", driver.KeyShared, openerFunc(func(ctx context.Context, _ *driver.Request) (io.ReadCloser, error) {
		return nil, ctx.Err()
	}), sse.OpenAIChunks)

	var events []sse.Event
	adapter.Stream(ctx, request("m"), collect(&events))
	require.Equal(t, []sse.Kind{sse.KindMeta, sse.KindDone}, kinds(events))
}

func TestInProcessAdapterValueShapes(t *testing.T) {
	cases := []struct {
		name  string
		value any
		text  string
		err   string
	}{
		{name: "plain string", value: "  hi there ", text: "hi there"},
		{name: "message content", value: map[string]any{"message": map[string]any{"content": "from message"}}, text: "from message"},
		{name: "text blocks", value: map[string]any{"message": map[string]any{"content": []any{
			map[string]any{"type": "text", "text": "a"},
			map[string]any{"type": "image"},
			map[string]any{"type": "text", "text": "b"},
		}}}, text: "ab"},
		{name: "success false", value: map[string]any{"success": false, "error": map[string]any{"type": "quota"}}, err: "Error type: quota"},
		{name: "nil", value: nil, err: "empty response"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			adapter := NewInProcessAdapter("puter", driver.KeyNone, driver.CallableFunc{ID: "puter", Fn: func(context.Context, *driver.Request) (any, error) {
				return tc.value, nil
			}}, nil)

			res := adapter.Invoke(context.Background(), request(""))
			require.Equal(t, tc.text, res.Text)
			require.Equal(t, tc.err, res.Error)
			require.Equal(t, driver.KeyNone, res.UsedKeyType)
		})
	}
}

func TestInProcessAdapterThrownValueIsMapped(t *testing.T) {
	var seen error
	adapter := NewInProcessAdapter("puter", driver.KeyNone, driver.CallableFunc{ID: "puter", Fn: func(context.Context, *driver.Request) (any, error) {
		return nil, &driver.ThrownError{Value: map[string]any{"message": "401 Unauthorized"}}
	}}, func(err error, msg string) string {
		seen = err
		if strings.Contains(msg, "401") {
			return "mapped"
		}
		return msg
	})

	res := adapter.Invoke(context.Background(), request(""))
	require.Equal(t, "mapped", res.Error)
	require.Error(t, seen)
}

func TestBufferedStream(t *testing.T) {
	ok := NewBufferedStream("puter", driver.KeyNone, adapterFunc(func(context.Context, *driver.Request) NormalizedResult {
		return NormalizedResult{Text: "whole answer"}
	}))
	var events []sse.Event
	ok.Stream(context.Background(), request(""), collect(&events))
	require.Equal(t, []sse.Kind{sse.KindMeta, sse.KindToken, sse.KindDone}, kinds(events))
	require.Equal(t, "whole answer", events[1].Delta)

	failing := NewBufferedStream("puter", driver.KeyNone, adapterFunc(func(context.Context, *driver.Request) NormalizedResult {
		return NormalizedResult{Error: "boom"}
	}))
	events = nil
	failing.Stream(context.Background(), request(""), collect(&events))
	require.Equal(t, []sse.Kind{sse.KindMeta, sse.KindError, sse.KindDone}, kinds(events))
	require.Equal(t, "puter", events[1].Provider)
}

type adapterFunc func(ctx context.Context, req *driver.Request) NormalizedResult

func (f adapterFunc) Invoke(ctx context.Context, req *driver.Request) NormalizedResult {
	return f(ctx, req)
}
