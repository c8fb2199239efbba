package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fiestalabs/fiesta/internal/output"
)

// addOutputFlags registers --output-format, --out and --out-dir. formats is
// the help text of the accepted formats.
func addOutputFlags(cmd *cobra.Command, formats string) {
	cmd.Flags().String("output-format", string(output.FormatTable), "Output format: "+formats)
	cmd.Flags().String("out", "", "Write output to a file (default stdout)")
	cmd.Flags().String("out-dir", "", "Write output to a directory")
}

// outputTarget is where and how a command writes its report.
type outputTarget struct {
	format output.Format
	path   string
	dir    string
}

func resolveOutputFormat(cmd *cobra.Command) (output.Format, error) {
	value, err := cmd.Flags().GetString("output-format")
	if err != nil {
		return "", err
	}
	return output.ParseFormat(value)
}

func resolveOutput(cmd *cobra.Command) (outputTarget, error) {
	format, err := resolveOutputFormat(cmd)
	if err != nil {
		return outputTarget{}, err
	}
	path, _ := cmd.Flags().GetString("out")
	dir, _ := cmd.Flags().GetString("out-dir")
	target := outputTarget{format: format, path: strings.TrimSpace(path), dir: strings.TrimSpace(dir)}
	if target.path != "" && target.dir != "" {
		return outputTarget{}, fmt.Errorf("--out and --out-dir are mutually exclusive")
	}
	return target, nil
}

func (o outputTarget) extension() string {
	switch o.format {
	case output.FormatJSON:
		return "json"
	case output.FormatMarkdown:
		return "md"
	default:
		return "txt"
	}
}

// open returns the writer for the report. With --out-dir the file is
// <dir>/<name>.<ext>; without --out or --out-dir it is stdout.
func (o outputTarget) open(stdout io.Writer, name string) (io.Writer, func() error, error) {
	path := o.path
	if o.dir != "" {
		if err := os.MkdirAll(o.dir, 0755); err != nil {
			return nil, nil, fmt.Errorf("create output directory: %w", err)
		}
		path = filepath.Join(o.dir, name+"."+o.extension())
	}
	if path == "" || path == "-" {
		return stdout, func() error { return nil }, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, nil, fmt.Errorf("create output directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return file, file.Close, nil
}

// write renders into the target named name.
// write sends rendered to the target, newline terminated.
func (o outputTarget) write(stdout io.Writer, name, rendered string) error {
	if rendered != "" && !strings.HasSuffix(rendered, "\n") {
		rendered += "\n"
	}
	w, closeFn, err := o.open(stdout, name)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, rendered); err != nil {
		_ = closeFn()
		return err
	}
	return closeFn()
}
