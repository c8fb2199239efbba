package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fiestalabs/fiesta/internal/ailink"
	"github.com/fiestalabs/fiesta/internal/core"
)

type fakeInvoker struct {
	mu       sync.Mutex
	requests []ailink.ChatRequest
	reply    func(req ailink.ChatRequest) (ailink.NormalizedResult, error)
}

func (f *fakeInvoker) Invoke(_ context.Context, req ailink.ChatRequest) (ailink.NormalizedResult, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.reply(req)
}

func TestProberRunsSequentially(t *testing.T) {
	long := strings.Repeat("x", 200)
	invoker := &fakeInvoker{reply: func(req ailink.ChatRequest) (ailink.NormalizedResult, error) {
		switch req.Model {
		case "good":
			return ailink.NormalizedResult{Text: long, ResponseTime: 40 * time.Millisecond}, nil
		case "bad":
			return ailink.NormalizedResult{Error: "model not found"}, nil
		case "":
			return ailink.NormalizedResult{Text: "short"}, nil
		}
		return ailink.NormalizedResult{}, errors.New("unknown provider \"nope\"")
	}}

	var seen []int
	prober := &Prober{Invoker: invoker, Delay: -1, OnResult: func(i int, _ core.ProbeResult) { seen = append(seen, i) }}
	run, err := prober.Run(context.Background(), []core.ProbeTarget{
		{Label: "Good", Provider: "p", Model: "good"},
		{Label: "Bad", Provider: "p", Model: "bad"},
		{Label: "Default", Provider: "puter"},
		{Label: "Nope", Provider: "nope", Model: "m"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, run.ID)
	require.Equal(t, []int{0, 1, 2, 3}, seen)
	require.Equal(t, 4, run.Total)
	require.Equal(t, 2, run.Passed)

	require.True(t, run.Results[0].Success)
	require.Equal(t, strings.Repeat("x", 150)+"...", run.Results[0].Response)
	require.EqualValues(t, 40, run.Results[0].ResponseTimeMs)
	require.Equal(t, "model not found", run.Results[1].Error)
	require.Equal(t, "short...", run.Results[2].Response)
	require.Contains(t, run.Results[3].Error, "unknown provider")

	require.Equal(t, `Say "Hello from good" and tell me what model you are.`, invoker.requests[0].Messages[0].Text())
	require.Equal(t, `Say "Hello from default" and tell me what model you are.`, invoker.requests[2].Messages[0].Text())
}

func TestProberPacesCalls(t *testing.T) {
	var (
		mu    sync.Mutex
		times []time.Time
	)
	invoker := &fakeInvoker{reply: func(ailink.ChatRequest) (ailink.NormalizedResult, error) {
		mu.Lock()
		times = append(times, time.Now())
		mu.Unlock()
		return ailink.NormalizedResult{Text: "ok"}, nil
	}}

	prober := &Prober{Invoker: invoker, Delay: 50 * time.Millisecond}
	_, err := prober.Run(context.Background(), []core.ProbeTarget{{Provider: "p"}, {Provider: "p"}, {Provider: "p"}})
	require.NoError(t, err)
	require.Len(t, times, 3)
	require.GreaterOrEqual(t, times[2].Sub(times[0]), 90*time.Millisecond)
}

func TestProberStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	invoker := &fakeInvoker{reply: func(ailink.ChatRequest) (ailink.NormalizedResult, error) {
		cancel()
		return ailink.NormalizedResult{Text: "ok"}, nil
	}}

	prober := &Prober{Invoker: invoker, Delay: time.Hour}
	run, err := prober.Run(ctx, []core.ProbeTarget{{Provider: "p"}, {Provider: "p"}})
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, run.Results, 1)
	require.Equal(t, 1, run.Total)
}

func TestExcerptCountsRunes(t *testing.T) {
	text := strings.Repeat("é", 151)
	require.Equal(t, strings.Repeat("é", 150)+"...", Excerpt(text))
}
