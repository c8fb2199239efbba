package ailink

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fiestalabs/fiesta/internal/ailink/driver"
	"github.com/fiestalabs/fiesta/internal/ailink/sse"
	"github.com/fiestalabs/fiesta/internal/metrics"
	"github.com/fiestalabs/fiesta/internal/observability"
)

// defaultModelPolicy decides which model identifiers already mean "the
// provider's default", for which a fallback retry would repeat the call.
type defaultModelPolicy struct {
	DefaultModel   string
	DefaultAliases []string
}

func (p defaultModelPolicy) isDefault(model string) bool {
	model = strings.TrimSpace(model)
	if model == "" {
		return true
	}
	if p.DefaultModel != "" && strings.EqualFold(model, p.DefaultModel) {
		return true
	}
	return contains(p.DefaultAliases, model)
}

func composeFallbackError(model, first, second string) string {
	return fmt.Sprintf("Model %q failed: %s. Default model also failed: %s", model, first, second)
}

// Fallback retries a failed call once with the provider's default model.
type Fallback struct {
	defaultModelPolicy
	Provider string
	Next     Adapter
}

func NewFallback(provider string, next Adapter, defaultModel string, aliases []string) *Fallback {
	return &Fallback{
		defaultModelPolicy: defaultModelPolicy{DefaultModel: defaultModel, DefaultAliases: aliases},
		Provider:           provider,
		Next:               next,
	}
}

func (f *Fallback) Invoke(ctx context.Context, req *driver.Request) NormalizedResult {
	first := f.Next.Invoke(ctx, req)
	if first.Error == "" || first.Aborted || f.isDefault(req.Model) || ctx.Err() != nil {
		return first
	}

	logFallback(f.Provider, req.Model, first.Error)
	second := f.Next.Invoke(ctx, req.WithModel(""))
	metrics.RecordProviderFallback(f.Provider, second.OK())
	if second.Aborted || second.Error == "" {
		return second
	}
	second.Model = req.Model
	second.Error = composeFallbackError(req.Model, first.Error, second.Error)
	return second
}

// StreamFallback retries a stream with the default model when it fails
// before producing any token. Once a token has been forwarded the failure is
// passed through unchanged.
type StreamFallback struct {
	defaultModelPolicy
	Provider string
	Next     StreamAdapter
}

func NewStreamFallback(provider string, next StreamAdapter, defaultModel string, aliases []string) *StreamFallback {
	return &StreamFallback{
		defaultModelPolicy: defaultModelPolicy{DefaultModel: defaultModel, DefaultAliases: aliases},
		Provider:           provider,
		Next:               next,
	}
}

func (f *StreamFallback) Stream(ctx context.Context, req *driver.Request, sink func(sse.Event)) {
	if f.isDefault(req.Model) {
		f.Next.Stream(ctx, req, sink)
		return
	}

	var (
		started  bool
		firstErr *sse.Event
	)
	f.Next.Stream(ctx, req, func(ev sse.Event) {
		if firstErr != nil {
			return
		}
		switch ev.Kind {
		case sse.KindToken:
			started = true
		case sse.KindError:
			if !started && ctx.Err() == nil {
				held := ev
				firstErr = &held
				return
			}
		}
		sink(ev)
	})
	if firstErr == nil {
		return
	}

	logFallback(f.Provider, req.Model, firstErr.Message)
	recovered := true
	f.Next.Stream(ctx, req.WithModel(""), func(ev sse.Event) {
		if ev.Kind == sse.KindError {
			recovered = false
			ev.Message = composeFallbackError(req.Model, firstErr.Message, ev.Message)
		}
		sink(ev)
	})
	metrics.RecordProviderFallback(f.Provider, recovered)
}

func logFallback(provider, model, reason string) {
	if logger := observability.Logger(); logger != nil {
		logger.Info("Model failed, retrying with provider default",
			zap.String("provider", provider),
			zap.String("model", model),
			zap.String("reason", reason))
	}
}
