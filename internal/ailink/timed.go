package ailink

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fiestalabs/fiesta/internal/ailink/driver"
	"github.com/fiestalabs/fiesta/internal/ailink/sse"
	"github.com/fiestalabs/fiesta/internal/metrics"
	"github.com/fiestalabs/fiesta/internal/observability"
)

type clock func() time.Time

func (c clock) now() time.Time {
	if c != nil {
		return c()
	}
	return time.Now().UTC()
}

// Timed stamps start, end and elapsed time on every result, including
// failures and aborts, and records provider call metrics.
type Timed struct {
	Provider string
	Next     Adapter
	Clock    func() time.Time
}

func (t *Timed) Invoke(ctx context.Context, req *driver.Request) NormalizedResult {
	now := clock(t.Clock).now
	start := now()
	res := t.Next.Invoke(ctx, req)
	end := now()

	res.StartTime = start
	res.EndTime = end
	res.ResponseTime = end.Sub(start)

	recordCall(t.Provider, req.Model, outcomeOf(res.Aborted, res.Error), res.ResponseTime)
	return res
}

// TimedStream attaches timing to every meta event and to the terminal event.
// A stream that ends without Done is closed with one.
type TimedStream struct {
	Provider string
	Next     StreamAdapter
	Clock    func() time.Time
}

func (t *TimedStream) Stream(ctx context.Context, req *driver.Request, sink func(sse.Event)) {
	now := clock(t.Clock).now
	start := now()
	stamp := func(ev *sse.Event) time.Duration {
		end := now()
		ev.Timing = &sse.Timing{Start: start, End: end, Elapsed: end.Sub(start)}
		return ev.Timing.Elapsed
	}

	done := false
	failure := ""
	t.Next.Stream(ctx, req, func(ev sse.Event) {
		if done {
			return
		}
		switch ev.Kind {
		case sse.KindMeta:
			stamp(&ev)
		case sse.KindError:
			stamp(&ev)
			failure = ev.Message
		case sse.KindDone:
			done = true
			elapsed := stamp(&ev)
			recordCall(t.Provider, req.Model, outcomeOf(ctx.Err() != nil, failure), elapsed)
		}
		metrics.RecordStreamEvent(t.Provider, string(ev.Kind))
		sink(ev)
	})

	if !done {
		ev := sse.Done()
		elapsed := stamp(&ev)
		recordCall(t.Provider, req.Model, outcomeOf(ctx.Err() != nil, failure), elapsed)
		metrics.RecordStreamEvent(t.Provider, string(ev.Kind))
		sink(ev)
	}
}

func outcomeOf(aborted bool, failure string) string {
	switch {
	case aborted:
		return "aborted"
	case failure != "":
		return "error"
	}
	return "success"
}

func recordCall(provider, model, outcome string, elapsed time.Duration) {
	metrics.RecordProviderCall(provider, outcome, elapsed)
	if logger := observability.Logger(); logger != nil {
		logger.Debug("Provider call finished",
			zap.String("provider", provider),
			zap.String("model", model),
			zap.String("outcome", outcome),
			zap.Int64("response_time_ms", elapsed.Milliseconds()))
	}
}
