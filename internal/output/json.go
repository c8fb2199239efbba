package output

import (
	"time"

	"github.com/goccy/go-json"

	"github.com/fiestalabs/fiesta/internal/ailink"
	"github.com/fiestalabs/fiesta/internal/catalog"
	"github.com/fiestalabs/fiesta/internal/core"
	"github.com/fiestalabs/fiesta/internal/ratelimit"
)

// JSONFormatter renders results as JSON.
type JSONFormatter struct {
	Indent bool
}

type rateLimitJSON struct {
	Key     string `json:"key"`
	Count   int    `json:"count"`
	ResetAt string `json:"reset_at"`
}

func (f *JSONFormatter) marshal(v any) (string, error) {
	var (
		data []byte
		err  error
	)

	if f.Indent {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return "", err
	}

	return string(data), nil
}

func (f *JSONFormatter) FormatCompare(results []ailink.NormalizedResult) (string, error) {
	if results == nil {
		results = []ailink.NormalizedResult{}
	}
	return f.marshal(results)
}

func (f *JSONFormatter) FormatProbeRun(run *core.ProbeRun) (string, error) {
	if run == nil {
		return "", nil
	}
	return f.marshal(run)
}

func (f *JSONFormatter) FormatProbeHistory(runs []*core.ProbeRun) (string, error) {
	if runs == nil {
		runs = []*core.ProbeRun{}
	}
	return f.marshal(runs)
}

func (f *JSONFormatter) FormatModels(models []catalog.Model) (string, error) {
	if models == nil {
		models = []catalog.Model{}
	}
	return f.marshal(models)
}

func (f *JSONFormatter) FormatRateLimits(entries []ratelimit.Entry) (string, error) {
	out := make([]rateLimitJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, rateLimitJSON{Key: e.Key, Count: e.Count, ResetAt: e.ResetAt.UTC().Format(time.RFC3339)})
	}
	return f.marshal(out)
}
