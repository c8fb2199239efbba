package driver

import (
	"context"
	"io"

	"github.com/fiestalabs/fiesta/internal/ailink/content"
)

// KeyType reports whose credential authorized a call.
type KeyType string

const (
	KeyUser   KeyType = "user"
	KeyShared KeyType = "shared"
	KeyNone   KeyType = "none"
)

// Request is a provider-agnostic chat request.
type Request struct {
	Model        string
	Messages     []content.Message
	APIKey       string
	ImageDataURL string
	MaxTokens    *int
}

// WithModel returns a shallow copy of the request targeting model.
func (r *Request) WithModel(model string) *Request {
	clone := *r
	clone.Model = model
	return &clone
}

// Capabilities describes driver features.
type Capabilities struct {
	SupportsImages    bool
	SupportsStreaming bool
}

// RawCompleter performs a synchronous call and returns the undecoded reply
// body. Non-2xx replies are reported as *ProviderError.
type RawCompleter interface {
	Name() string
	CompleteRaw(ctx context.Context, req *Request) ([]byte, error)
}

// StreamOpener starts a streaming call and returns the SSE response body.
type StreamOpener interface {
	Name() string
	OpenStream(ctx context.Context, req *Request) (io.ReadCloser, error)
}

// Callable is an in-process provider call that may resolve to a value of any
// shape or fail with a *ThrownError.
type Callable interface {
	Name() string
	Call(ctx context.Context, req *Request) (any, error)
}

// CallableFunc adapts a function to the Callable interface.
type CallableFunc struct {
	ID string
	Fn func(ctx context.Context, req *Request) (any, error)
}

func (f CallableFunc) Name() string { return f.ID }

func (f CallableFunc) Call(ctx context.Context, req *Request) (any, error) {
	return f.Fn(ctx, req)
}
