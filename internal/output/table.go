package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/fiestalabs/fiesta/internal/ailink"
	"github.com/fiestalabs/fiesta/internal/catalog"
	"github.com/fiestalabs/fiesta/internal/core"
	"github.com/fiestalabs/fiesta/internal/ratelimit"
)

// answerWidth wraps long answers inside table cells.
const answerWidth = 72

// TableFormatter renders results as ASCII tables.
type TableFormatter struct{}

func newTable(header table.Row) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.Style().Format.Footer = text.FormatDefault
	t.AppendHeader(header)
	return t
}

// FormatCompare renders one row per target, in target order.
func (f *TableFormatter) FormatCompare(results []ailink.NormalizedResult) (string, error) {
	if len(results) == 0 {
		return "", nil
	}

	t := newTable(table.Row{"Target", "Key", "Status", "Time", "Answer"})
	t.SetColumnConfigs([]table.ColumnConfig{{Name: "Answer", WidthMax: answerWidth, Align: text.AlignLeft}})

	ok := 0
	for _, r := range results {
		if r.OK() {
			ok++
		}
		t.AppendRow(table.Row{
			targetLabel(r.Provider, r.Model),
			string(r.UsedKeyType),
			resultStatus(r),
			fmt.Sprintf("%dms", r.ResponseTime.Milliseconds()),
			strings.TrimSpace(resultBody(r)),
		})
	}
	t.AppendFooter(table.Row{"", "", fmt.Sprintf("%d/%d answered", ok, len(results)), "", ""})
	return t.Render(), nil
}

// FormatProbeRun renders the results of one probe run.
func (f *TableFormatter) FormatProbeRun(run *core.ProbeRun) (string, error) {
	if run == nil {
		return "", nil
	}

	t := newTable(table.Row{"Model", "Provider", "Result", "Time", "Response"})
	t.SetColumnConfigs([]table.ColumnConfig{{Name: "Response", WidthMax: answerWidth}})
	for _, r := range run.Results {
		detail := r.Response
		if !r.Success {
			detail = r.Error
		}
		t.AppendRow(table.Row{r.Label, r.Provider, passLabel(r.Success), fmt.Sprintf("%dms", r.ResponseTimeMs), detail})
	}
	t.AppendFooter(table.Row{"", "", fmt.Sprintf("%d/%d passed", run.Passed, run.Total), "", ""})
	return t.Render(), nil
}

// FormatProbeHistory renders one row per stored run.
func (f *TableFormatter) FormatProbeHistory(runs []*core.ProbeRun) (string, error) {
	if len(runs) == 0 {
		return "No probe runs recorded.", nil
	}

	t := newTable(table.Row{"Run", "Started", "Duration", "Passed"})
	for _, run := range runs {
		if run == nil {
			continue
		}
		t.AppendRow(table.Row{
			run.ID,
			run.StartedAt.Local().Format(timeLayout),
			run.FinishedAt.Sub(run.StartedAt).Round(100 * time.Millisecond).String(),
			fmt.Sprintf("%d/%d", run.Passed, run.Total),
		})
	}
	return t.Render(), nil
}

// FormatModels renders the model catalog.
func (f *TableFormatter) FormatModels(models []catalog.Model) (string, error) {
	t := newTable(table.Row{"ID", "Label", "Provider", "Model", "Flags"})
	for _, m := range models {
		model := m.Model
		if model == "" {
			model = "(default)"
		}
		t.AppendRow(table.Row{m.ID, m.Label, m.Provider, model, flagList(m)})
	}
	t.AppendFooter(table.Row{"", "", "", "", fmt.Sprintf("%d models", len(models))})
	return t.Render(), nil
}

// FormatRateLimits renders active rate-limit windows.
func (f *TableFormatter) FormatRateLimits(entries []ratelimit.Entry) (string, error) {
	if len(entries) == 0 {
		return "No active rate-limit windows.", nil
	}

	t := newTable(table.Row{"Client", "Requests", "Resets"})
	for _, e := range entries {
		t.AppendRow(table.Row{e.Key, e.Count, e.ResetAt.Local().Format(timeLayout)})
	}
	return t.Render(), nil
}
