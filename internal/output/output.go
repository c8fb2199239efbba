package output

import (
	"fmt"
	"strings"

	"github.com/fiestalabs/fiesta/internal/ailink"
	"github.com/fiestalabs/fiesta/internal/catalog"
	"github.com/fiestalabs/fiesta/internal/core"
	"github.com/fiestalabs/fiesta/internal/ratelimit"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// Formatter renders command results.
type Formatter interface {
	FormatCompare(results []ailink.NormalizedResult) (string, error)
	FormatProbeRun(run *core.ProbeRun) (string, error)
	FormatProbeHistory(runs []*core.ProbeRun) (string, error)
	FormatModels(models []catalog.Model) (string, error)
	FormatRateLimits(entries []ratelimit.Entry) (string, error)
}

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatMarkdown), "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// NewFormatter returns a formatter for the requested format.
func NewFormatter(format Format) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true}
	case FormatMarkdown:
		return &MarkdownFormatter{}
	default:
		return &TableFormatter{}
	}
}

func resultStatus(r ailink.NormalizedResult) string {
	switch {
	case r.Aborted:
		return "aborted"
	case r.Error != "":
		return "error"
	case r.LowConfidence:
		return "ok (low confidence)"
	default:
		return "ok"
	}
}

func resultBody(r ailink.NormalizedResult) string {
	if r.Error != "" {
		return r.Error
	}
	return r.Text
}

func targetLabel(provider, model string) string {
	if model == "" {
		return provider + ":default"
	}
	return provider + ":" + model
}

func passLabel(ok bool) string {
	if ok {
		return "pass"
	}
	return "fail"
}

func flagList(m catalog.Model) string {
	var flags []string
	if m.Free {
		flags = append(flags, "free")
	}
	if m.Good {
		flags = append(flags, "good")
	}
	if m.Disabled {
		flags = append(flags, "disabled")
	}
	return strings.Join(flags, ", ")
}

const timeLayout = "2006-01-02 15:04:05"
