package driver

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
)

// TraceEntry is one upstream call. Request bodies are captured after the
// credential has moved into a header, so they never contain API keys.
type TraceEntry struct {
	Timestamp   time.Time       `json:"timestamp"`
	Driver      string          `json:"driver"`
	Provider    string          `json:"provider,omitempty"`
	KeyType     KeyType         `json:"key_type,omitempty"`
	Endpoint    string          `json:"endpoint"`
	Method      string          `json:"method"`
	Model       string          `json:"model,omitempty"`
	RequestBody json.RawMessage `json:"request_body,omitempty"`
	StatusCode  int             `json:"status_code,omitempty"`
	Response    json.RawMessage `json:"response,omitempty"`
	Error       string          `json:"error,omitempty"`
	Streamed    bool            `json:"streamed,omitempty"`
	DurationMs  int64           `json:"duration_ms"`
}

// Tracer appends entries to w as NDJSON.
type Tracer struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
}

func NewTracer(w io.Writer) *Tracer {
	t := &Tracer{w: w}
	if c, ok := w.(io.Closer); ok {
		t.closer = c
	}
	return t
}

var active atomic.Pointer[Tracer]

// SetTracer installs t as the process tracer and returns a function that
// uninstalls and closes it. A nil t disables tracing.
func SetTracer(t *Tracer) func() {
	if prev := active.Swap(t); prev != nil && prev != t {
		_ = prev.Close()
	}
	return func() {
		if active.CompareAndSwap(t, nil) {
			_ = t.Close()
		}
	}
}

// EnableTracing appends traces to the file at path until the returned
// function is called.
func EnableTracing(path string) (func(), error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	return SetTracer(NewTracer(f)), nil
}

func Tracing() bool {
	return active.Load() != nil
}

// Trace records entry on the installed tracer, if any.
func Trace(entry TraceEntry) {
	active.Load().Write(entry)
}

func (t *Tracer) Write(entry TraceEntry) {
	if t == nil || t.w == nil {
		return
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return
	}
	line = append(line, '\n')

	t.mu.Lock()
	defer t.mu.Unlock()
	_, _ = t.w.Write(line)
}

func (t *Tracer) Close() error {
	if t == nil || t.closer == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closer.Close()
}
