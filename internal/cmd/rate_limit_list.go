package cmd

import (
	"fmt"
	"strings"

	"github.com/fulmenhq/gofulmen/ascii"
	"github.com/spf13/cobra"

	"github.com/fiestalabs/fiesta/internal/output"
	"github.com/fiestalabs/fiesta/internal/ratelimit"
)

var (
	rateLimitListAll    bool
	rateLimitListPrefix string
)

var rateLimitListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active rate limit windows",
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := resolveOutput(cmd)
		if err != nil {
			return err
		}

		backend, err := openRateLimitAdmin(cmd)
		if err != nil {
			return err
		}
		defer backend.close() // nolint:errcheck // best-effort cleanup

		query := ratelimit.Query{
			All:    rateLimitListAll,
			Prefix: strings.TrimSpace(rateLimitListPrefix),
		}
		if !query.All && query.Prefix == "" {
			query.All = true
		}

		entries, err := backend.admin.List(cmd.Context(), query)
		if err != nil {
			return err
		}

		rendered := rateLimitBox(backend.name, entries)
		if target.format != output.FormatTable {
			rendered, err = output.NewFormatter(target.format).FormatRateLimits(entries)
			if err != nil {
				return err
			}
		}
		return target.write(cmd.OutOrStdout(), "rate-limit.list", rendered)
	},
}

func rateLimitBox(backend string, entries []ratelimit.Entry) string {
	lines := []string{fmt.Sprintf("Rate Limits (%s)", backend), ""}
	if len(entries) == 0 {
		lines = append(lines, "(no active windows)")
		return ascii.DrawBox(strings.Join(lines, "\n"), 0)
	}
	for _, entry := range entries {
		lines = append(lines, fmt.Sprintf("%s: count=%d reset_at=%s", entry.Key, entry.Count, entry.ResetAt.UTC().Format("2006-01-02T15:04:05Z")))
	}
	return ascii.DrawBox(strings.Join(lines, "\n"), 0)
}

func init() {
	addOutputFlags(rateLimitListCmd, "table|json|markdown")
	rateLimitListCmd.Flags().BoolVar(&rateLimitListAll, "all", false, "List all clients")
	rateLimitListCmd.Flags().StringVar(&rateLimitListPrefix, "prefix", "", "List clients with matching key prefix")
}
