package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/fiestalabs/fiesta/internal/output"
	"github.com/fiestalabs/fiesta/internal/ratelimit"
)

var (
	rateLimitResetAll    bool
	rateLimitResetKey    string
	rateLimitResetPrefix string
	rateLimitResetYes    bool
	rateLimitResetDryRun bool
)

var rateLimitResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset rate limit windows",
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := resolveOutput(cmd)
		if err != nil {
			return err
		}
		if target.format != output.FormatJSON && target.format != output.FormatTable {
			return fmt.Errorf("unsupported output format: %s", target.format)
		}

		query := ratelimit.Query{
			All:    rateLimitResetAll,
			Key:    strings.TrimSpace(rateLimitResetKey),
			Prefix: strings.TrimSpace(rateLimitResetPrefix),
		}
		if err := query.Validate(); err != nil {
			return err
		}

		if query.All && !rateLimitResetYes && !rateLimitResetDryRun {
			return errors.New("--all requires --yes (or use --dry-run)")
		}

		backend, err := openRateLimitAdmin(cmd)
		if err != nil {
			return err
		}
		defer backend.close() // nolint:errcheck // best-effort cleanup

		entries, err := backend.admin.List(cmd.Context(), query)
		if err != nil {
			return err
		}

		summary := resetSummary{Matched: len(entries), DryRun: rateLimitResetDryRun}
		if !summary.DryRun {
			if summary.Deleted, err = backend.admin.Reset(cmd.Context(), query); err != nil {
				return err
			}
		}

		rendered, err := summary.render(target.format)
		if err != nil {
			return err
		}
		return target.write(cmd.OutOrStdout(), "rate-limit.reset", rendered)
	},
}

// resetSummary reports one reset run. Matched counts windows selected by the
// query; Deleted stays zero on a dry run.
type resetSummary struct {
	Matched int   `json:"matched"`
	Deleted int64 `json:"deleted"`
	DryRun  bool  `json:"dry_run"`
}

func (s resetSummary) String() string {
	if s.DryRun {
		return fmt.Sprintf("Would reset %d rate limit window(s)", s.Matched)
	}
	return fmt.Sprintf("Reset %d/%d rate limit window(s)", s.Deleted, s.Matched)
}

func (s resetSummary) render(format output.Format) (string, error) {
	if format != output.FormatJSON {
		return s.String(), nil
	}
	payload, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

func init() {
	rateLimitResetCmd.Flags().BoolVar(&rateLimitResetAll, "all", false, "Reset all clients")
	rateLimitResetCmd.Flags().StringVar(&rateLimitResetKey, "key", "", "Reset a single client key (exact match)")
	rateLimitResetCmd.Flags().StringVar(&rateLimitResetPrefix, "prefix", "", "Reset clients with matching key prefix")
	rateLimitResetCmd.Flags().BoolVar(&rateLimitResetYes, "yes", false, "Confirm destructive reset")
	rateLimitResetCmd.Flags().BoolVar(&rateLimitResetDryRun, "dry-run", false, "Show what would be reset")
	addOutputFlags(rateLimitResetCmd, "table|json")
}
