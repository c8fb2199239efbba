package ailink

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/fiestalabs/fiesta/internal/ailink/driver"
	"github.com/fiestalabs/fiesta/internal/ailink/shape"
	"github.com/fiestalabs/fiesta/internal/ailink/sse"
	"github.com/fiestalabs/fiesta/internal/observability"
)

// Adapter performs one synchronous provider call. Failures are reported in
// the result, never as a Go error.
type Adapter interface {
	Invoke(ctx context.Context, req *driver.Request) NormalizedResult
}

// StreamAdapter performs one streaming provider call, forwarding events to
// sink in order. The last event delivered is always Done.
type StreamAdapter interface {
	Stream(ctx context.Context, req *driver.Request, sink func(sse.Event))
}

// identity stamps results and events with who served them.
type identity struct {
	Provider string
	KeyType  driver.KeyType
}

// DirectAdapter calls a provider that answers with a single JSON document.
type DirectAdapter struct {
	identity
	Completer driver.RawCompleter
}

func NewDirectAdapter(provider string, keyType driver.KeyType, c driver.RawCompleter) *DirectAdapter {
	return &DirectAdapter{identity: identity{Provider: provider, KeyType: keyType}, Completer: c}
}

func (a *DirectAdapter) Invoke(ctx context.Context, req *driver.Request) NormalizedResult {
	body, err := a.Completer.CompleteRaw(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return a.aborted(req.Model)
		}
		return a.failed(req.Model, providerFailure(err))
	}
	out := shape.Classify(body)
	logLowConfidence(a.Provider, req.Model, out)
	return a.fromOutcome(req.Model, out)
}

// providerFailure prefers the message a provider declared in its error body
// over the transport-level description.
func providerFailure(err error) string {
	var perr *driver.ProviderError
	if errors.As(err, &perr) && len(perr.RawResponse) > 0 {
		if out := shape.Classify(perr.RawResponse); !out.OK() && out.Rule != "malformed" && out.Rule != "unrecognized" {
			return out.Err
		}
	}
	return err.Error()
}

// StreamingAdapter calls a provider that answers with an SSE stream.
type StreamingAdapter struct {
	identity
	Opener driver.StreamOpener
	Mapper sse.PayloadMapper
}

func NewStreamingAdapter(provider string, keyType driver.KeyType, o driver.StreamOpener, mapper sse.PayloadMapper) *StreamingAdapter {
	return &StreamingAdapter{identity: identity{Provider: provider, KeyType: keyType}, Opener: o, Mapper: mapper}
}

func (a *StreamingAdapter) Stream(ctx context.Context, req *driver.Request, sink func(sse.Event)) {
	sink(sse.Meta(a.Provider, string(a.KeyType)))

	body, err := a.Opener.OpenStream(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			sink(sse.Done())
			return
		}
		code := 0
		var perr *driver.ProviderError
		if errors.As(err, &perr) {
			code = perr.StatusCode
		}
		sink(sse.Error(providerFailure(err), code, a.Provider))
		sink(sse.Done())
		return
	}
	defer body.Close() // nolint:errcheck // best-effort cleanup

	sse.Read(ctx, body, sse.NewDecoder(a.Mapper), func(ev sse.Event) {
		if ev.Kind == sse.KindError && ev.Provider == "" {
			ev.Provider = a.Provider
		}
		sink(ev)
	})
}

// MessageMapper rewrites a normalized failure message. err is the original
// failure when there was one.
type MessageMapper func(err error, msg string) string

// InProcessAdapter invokes a callable that resolves to a value of any shape
// or fails with a value of any shape.
type InProcessAdapter struct {
	identity
	Callable driver.Callable
	MapError MessageMapper
}

func NewInProcessAdapter(provider string, keyType driver.KeyType, c driver.Callable, mapError MessageMapper) *InProcessAdapter {
	return &InProcessAdapter{identity: identity{Provider: provider, KeyType: keyType}, Callable: c, MapError: mapError}
}

func (a *InProcessAdapter) Invoke(ctx context.Context, req *driver.Request) NormalizedResult {
	value, err := a.Callable.Call(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return a.aborted(req.Model)
		}
		return a.failed(req.Model, a.mapError(err, shape.ErrorMessage(err)))
	}

	out := shape.ClassifyValue(value)
	logLowConfidence(a.Provider, req.Model, out)
	if !out.OK() {
		return a.failed(req.Model, a.mapError(nil, out.Err))
	}
	return a.fromOutcome(req.Model, out)
}

func (a *InProcessAdapter) mapError(err error, msg string) string {
	if a.MapError == nil {
		return msg
	}
	return a.MapError(err, msg)
}

// BufferedStream serves the streaming contract from a synchronous adapter:
// meta, the whole answer as one token, then Done.
type BufferedStream struct {
	identity
	Next Adapter
}

func NewBufferedStream(provider string, keyType driver.KeyType, next Adapter) *BufferedStream {
	return &BufferedStream{identity: identity{Provider: provider, KeyType: keyType}, Next: next}
}

func (b *BufferedStream) Stream(ctx context.Context, req *driver.Request, sink func(sse.Event)) {
	sink(sse.Meta(b.Provider, string(b.KeyType)))
	res := b.Next.Invoke(ctx, req)
	switch {
	case res.Aborted:
	case res.Error != "":
		sink(sse.Error(res.Error, 0, b.Provider))
	default:
		sink(sse.Token(res.Text))
	}
	sink(sse.Done())
}

func logLowConfidence(provider, model string, out shape.Outcome) {
	if !out.LowConfidence {
		return
	}
	if logger := observability.Logger(); logger != nil {
		logger.Debug("Reply text found by long-string fallback",
			zap.String("provider", provider),
			zap.String("model", model),
			zap.Int("text_length", len(out.Text)))
	}
}
