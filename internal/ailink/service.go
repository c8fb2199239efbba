package ailink

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/fiestalabs/fiesta/internal/ailink/content"
	"github.com/fiestalabs/fiesta/internal/ailink/driver"
	"github.com/fiestalabs/fiesta/internal/ailink/sse"
	"github.com/fiestalabs/fiesta/internal/observability"
)

const defaultMaxParallel = 4

// ChatRequest is one chat turn addressed to a provider.
type ChatRequest struct {
	Provider     string
	Model        string
	Messages     []content.Message
	APIKey       string
	ImageDataURL string
	MaxTokens    *int
}

// Target names one provider/model pair of a comparison.
type Target struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// Service routes chat requests through the registry's pipelines.
type Service struct {
	Registry    *Registry
	MaxParallel int
}

func NewService(reg *Registry) *Service {
	svc := &Service{Registry: reg}
	if reg != nil {
		svc.MaxParallel = reg.Config().MaxParallel
	}
	return svc
}

// Invoke performs one synchronous chat call. The error is non-nil only when
// the provider cannot be resolved; call failures are reported in the result.
func (s *Service) Invoke(ctx context.Context, req ChatRequest) (NormalizedResult, error) {
	resolved, err := s.resolve(req)
	if err != nil {
		return NormalizedResult{}, err
	}
	return resolved.Adapter.Invoke(ctx, toDriverRequest(req)), nil
}

// Stream performs one streaming chat call. No event is delivered when the
// provider cannot be resolved.
func (s *Service) Stream(ctx context.Context, req ChatRequest, sink func(sse.Event)) error {
	resolved, err := s.resolve(req)
	if err != nil {
		return err
	}
	resolved.Stream.Stream(ctx, toDriverRequest(req), sink)
	return nil
}

type compareJob struct {
	index  int
	target Target
}

// Compare sends the same conversation to every target concurrently and
// returns one result per target in target order.
func (s *Service) Compare(ctx context.Context, base ChatRequest, targets []Target) []NormalizedResult {
	results := make([]NormalizedResult, len(targets))
	if len(targets) == 0 {
		return results
	}

	workers := s.MaxParallel
	if workers <= 0 {
		workers = defaultMaxParallel
	}
	if workers > len(targets) {
		workers = len(targets)
	}

	jobs := make(chan compareJob)
	var wg sync.WaitGroup
	worker := func() {
		defer wg.Done()
		for job := range jobs {
			results[job.index] = s.compareOne(ctx, base, job.target)
		}
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go worker()
	}
	for i, target := range targets {
		jobs <- compareJob{index: i, target: target}
	}
	close(jobs)
	wg.Wait()

	return results
}

func (s *Service) compareOne(ctx context.Context, base ChatRequest, target Target) NormalizedResult {
	req := base
	req.Provider = target.Provider
	req.Model = target.Model

	if ctx.Err() != nil {
		return NormalizedResult{Provider: target.Provider, Model: target.Model, UsedKeyType: driver.KeyNone, Aborted: true}
	}

	res, err := s.Invoke(ctx, req)
	if err != nil {
		if logger := observability.Logger(); logger != nil {
			logger.Warn("Compare target could not be resolved",
				zap.String("provider", target.Provider),
				zap.String("model", target.Model),
				zap.Error(err))
		}
		return NormalizedResult{Provider: target.Provider, Model: target.Model, UsedKeyType: driver.KeyNone, Error: err.Error()}
	}
	return res
}

func (s *Service) resolve(req ChatRequest) (*ResolvedProvider, error) {
	if s == nil || s.Registry == nil {
		return nil, fmt.Errorf("ailink service not configured")
	}
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("at least one message is required")
	}
	return s.Registry.Resolve(req.Provider, req.APIKey)
}

func toDriverRequest(req ChatRequest) *driver.Request {
	return &driver.Request{
		Model:        strings.TrimSpace(req.Model),
		Messages:     req.Messages,
		APIKey:       strings.TrimSpace(req.APIKey),
		ImageDataURL: req.ImageDataURL,
		MaxTokens:    req.MaxTokens,
	}
}
