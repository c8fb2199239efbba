// Package engine runs model probes: one fixed greeting sent to each target
// in turn, paced so free-tier providers are not flooded.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fiestalabs/fiesta/internal/ailink"
	"github.com/fiestalabs/fiesta/internal/ailink/content"
	"github.com/fiestalabs/fiesta/internal/core"
	"github.com/fiestalabs/fiesta/internal/observability"
)

// DefaultProbeDelay is the pause between consecutive probe calls.
const DefaultProbeDelay = 2 * time.Second

// probeResponseChars is how much of an answer a probe result keeps.
const probeResponseChars = 150

// Invoker performs one chat call.
type Invoker interface {
	Invoke(ctx context.Context, req ailink.ChatRequest) (ailink.NormalizedResult, error)
}

// Prober probes targets sequentially.
type Prober struct {
	Invoker Invoker
	// Delay separates consecutive calls; zero uses DefaultProbeDelay and a
	// negative value disables pacing.
	Delay time.Duration
	// APIKey, when set, is sent as the caller's own key.
	APIKey string
	Clock  func() time.Time
	// OnResult observes each result as soon as it is known.
	OnResult func(index int, result core.ProbeResult)
}

// ProbePrompt is the message sent to every target.
func ProbePrompt(label string) string {
	return fmt.Sprintf("Say \"Hello from %s\" and tell me what model you are.", label)
}

// Run probes every target in order. Cancellation stops the run at the next
// pacing point; the partial run is returned together with the context error.
func (p *Prober) Run(ctx context.Context, targets []core.ProbeTarget) (*core.ProbeRun, error) {
	if p == nil || p.Invoker == nil {
		return nil, fmt.Errorf("prober not configured")
	}

	run := &core.ProbeRun{ID: uuid.NewString(), StartedAt: p.now(), Results: make([]core.ProbeResult, 0, len(targets))}
	limiter := p.limiter()

	var runErr error
	for i, target := range targets {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				runErr = err
				break
			}
		}
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		result := p.probe(ctx, target)
		run.Results = append(run.Results, result)
		if p.OnResult != nil {
			p.OnResult(i, result)
		}
	}

	run.FinishedAt = p.now()
	run.Summarize()

	if logger := observability.Logger(); logger != nil {
		logger.Info("Probe run finished",
			zap.String("run_id", run.ID),
			zap.Int("total", run.Total),
			zap.Int("passed", run.Passed),
			zap.Duration("elapsed", run.FinishedAt.Sub(run.StartedAt)))
	}
	return run, runErr
}

func (p *Prober) probe(ctx context.Context, target core.ProbeTarget) core.ProbeResult {
	result := core.ProbeResult{ProbeTarget: target}

	label := target.Model
	if label == "" {
		label = "default"
	}

	res, err := p.Invoker.Invoke(ctx, ailink.ChatRequest{
		Provider: target.Provider,
		Model:    target.Model,
		APIKey:   p.APIKey,
		Messages: []content.Message{content.TextMessage(content.RoleUser, ProbePrompt(label))},
	})
	result.ResponseTimeMs = res.ResponseTime.Milliseconds()

	switch {
	case err != nil:
		result.Error = err.Error()
	case res.Aborted:
		result.Error = "aborted"
	case res.Error != "":
		result.Error = res.Error
	case res.Text != "":
		result.Success = true
		result.Response = Excerpt(res.Text)
	default:
		result.Error = "Unknown response format"
	}
	return result
}

// Excerpt keeps the first characters of an answer followed by an ellipsis.
func Excerpt(text string) string {
	runes := []rune(text)
	if len(runes) > probeResponseChars {
		runes = runes[:probeResponseChars]
	}
	return string(runes) + "..."
}

func (p *Prober) limiter() *rate.Limiter {
	delay := p.Delay
	if delay == 0 {
		delay = DefaultProbeDelay
	}
	if delay < 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(delay), 1)
}

func (p *Prober) now() time.Time {
	if p.Clock != nil {
		return p.Clock()
	}
	return time.Now().UTC()
}
