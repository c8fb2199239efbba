package output

import (
	"fmt"
	"strings"

	"github.com/fiestalabs/fiesta/internal/ailink"
	"github.com/fiestalabs/fiesta/internal/catalog"
	"github.com/fiestalabs/fiesta/internal/core"
	"github.com/fiestalabs/fiesta/internal/ratelimit"
)

// MarkdownFormatter renders results as markdown.
type MarkdownFormatter struct{}

// FormatCompare renders a section per target so multi-line answers survive.
func (f *MarkdownFormatter) FormatCompare(results []ailink.NormalizedResult) (string, error) {
	var sb strings.Builder
	for i, r := range results {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(fmt.Sprintf("## %s\n\n", targetLabel(r.Provider, r.Model)))
		sb.WriteString(fmt.Sprintf("*%s, %s key, %dms*\n\n", resultStatus(r), r.UsedKeyType, r.ResponseTime.Milliseconds()))
		body := strings.TrimSpace(resultBody(r))
		if r.Error != "" {
			body = "> " + strings.ReplaceAll(body, "\n", "\n> ")
		}
		if body != "" {
			sb.WriteString(body)
			sb.WriteString("\n")
		}
	}
	return sb.String(), nil
}

func (f *MarkdownFormatter) FormatProbeRun(run *core.ProbeRun) (string, error) {
	if run == nil {
		return "", nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Probe %s\n\n", run.ID))
	sb.WriteString("| Model | Provider | Result | Time | Response |\n")
	sb.WriteString("|-------|----------|--------|------|----------|\n")
	for _, r := range run.Results {
		detail := r.Response
		if !r.Success {
			detail = r.Error
		}
		sb.WriteString(fmt.Sprintf("| %s | %s | %s | %dms | %s |\n",
			escapeMarkdownCell(r.Label),
			escapeMarkdownCell(r.Provider),
			passLabel(r.Success),
			r.ResponseTimeMs,
			escapeMarkdownCell(detail),
		))
	}
	sb.WriteString(fmt.Sprintf("\n**Passed**: %d/%d\n", run.Passed, run.Total))
	return sb.String(), nil
}

func (f *MarkdownFormatter) FormatProbeHistory(runs []*core.ProbeRun) (string, error) {
	var sb strings.Builder
	sb.WriteString("| Run | Started | Passed |\n")
	sb.WriteString("|-----|---------|--------|\n")
	for _, run := range runs {
		if run == nil {
			continue
		}
		sb.WriteString(fmt.Sprintf("| %s | %s | %d/%d |\n", run.ID, run.StartedAt.UTC().Format(timeLayout), run.Passed, run.Total))
	}
	return sb.String(), nil
}

func (f *MarkdownFormatter) FormatModels(models []catalog.Model) (string, error) {
	var sb strings.Builder
	sb.WriteString("| ID | Label | Provider | Model | Flags |\n")
	sb.WriteString("|----|-------|----------|-------|-------|\n")
	for _, m := range models {
		sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s |\n",
			escapeMarkdownCell(m.ID),
			escapeMarkdownCell(m.Label),
			escapeMarkdownCell(m.Provider),
			escapeMarkdownCell(m.Model),
			flagList(m),
		))
	}
	return sb.String(), nil
}

func (f *MarkdownFormatter) FormatRateLimits(entries []ratelimit.Entry) (string, error) {
	var sb strings.Builder
	sb.WriteString("| Client | Requests | Resets |\n")
	sb.WriteString("|--------|----------|--------|\n")
	for _, e := range entries {
		sb.WriteString(fmt.Sprintf("| %s | %d | %s |\n", escapeMarkdownCell(e.Key), e.Count, e.ResetAt.UTC().Format(timeLayout)))
	}
	return sb.String(), nil
}

func escapeMarkdownCell(value string) string {
	value = strings.ReplaceAll(value, "\n", " ")
	return strings.ReplaceAll(value, "|", "\\|")
}
