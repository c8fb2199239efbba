package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fiestalabs/fiesta/internal/ailink"
	"github.com/fiestalabs/fiesta/internal/catalog"
	"github.com/fiestalabs/fiesta/internal/observability"
	"github.com/fiestalabs/fiesta/internal/output"
	"github.com/fiestalabs/fiesta/internal/server/handlers"
)

var (
	compareFlags    chatFlags
	compareTargets  []string
	compareSelect   catalogSelection
	compareFailFast bool
)

var compareCmd = &cobra.Command{
	Use:   "compare [prompt...]",
	Short: "Send one prompt to several models and compare the answers",
	Long: `Send one prompt to several models concurrently and print the answers
side by side, in target order.

Targets are catalog ids or provider:model pairs given with --target. Without
--target the catalog selection flags (--provider, --free, --good) pick them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := resolveOutput(cmd)
		if err != nil {
			return err
		}
		prompt, err := readPrompt(args, cmd.InOrStdin())
		if err != nil {
			return err
		}
		req, err := compareFlags.request(prompt)
		if err != nil {
			return err
		}

		targets, err := compareSelect.targets(compareTargets)
		if err != nil {
			return err
		}
		if len(targets) > handlers.MaxCompareTargets {
			return fmt.Errorf("too many targets: %d (max %d)", len(targets), handlers.MaxCompareTargets)
		}

		cfg, err := loadConfig(cmd.Context())
		if err != nil {
			return err
		}

		observability.CLILogger.Debug("Comparing", zap.Int("targets", len(targets)))
		results := newService(cfg).Compare(cmd.Context(), req, targets)

		rendered, err := output.NewFormatter(target.format).FormatCompare(results)
		if err != nil {
			return err
		}
		if err := target.write(cmd.OutOrStdout(), "compare", rendered); err != nil {
			return err
		}

		if compareFailFast {
			if failed := countFailed(results); failed > 0 {
				return fmt.Errorf("%d/%d targets failed", failed, len(results))
			}
		}
		return nil
	},
}

func countFailed(results []ailink.NormalizedResult) int {
	failed := 0
	for _, res := range results {
		if !res.OK() {
			failed++
		}
	}
	return failed
}

// catalogSelection picks targets from the model catalog.
type catalogSelection struct {
	provider string
	free     bool
	good     bool
	all      bool
}

func (s *catalogSelection) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&s.provider, "provider", "", "Only catalog models of this provider")
	cmd.Flags().BoolVar(&s.free, "free", false, "Only free catalog models")
	cmd.Flags().BoolVar(&s.good, "good", false, "Only catalog models marked good")
	cmd.Flags().BoolVar(&s.all, "all", false, "Include disabled catalog models")
}

func (s catalogSelection) filter() catalog.Filter {
	return catalog.Filter{Provider: s.provider, FreeOnly: s.free, GoodOnly: s.good, IncludeDisabled: s.all}
}

// targets resolves explicit specs, or the catalog selection when specs is
// empty.
func (s catalogSelection) targets(specs []string) ([]ailink.Target, error) {
	cat, err := catalog.Default()
	if err != nil {
		return nil, err
	}
	if len(specs) > 0 {
		return cat.ResolveTargets(specs)
	}

	models := cat.List(s.filter())
	if len(models) == 0 {
		return nil, fmt.Errorf("no catalog models match the selection")
	}
	targets := make([]ailink.Target, 0, len(models))
	for _, m := range models {
		targets = append(targets, m.Target())
	}
	return targets, nil
}

func init() {
	rootCmd.AddCommand(compareCmd)
	addChatFlags(compareCmd, &compareFlags, false)
	compareSelect.addFlags(compareCmd)
	compareCmd.Flags().StringArrayVarP(&compareTargets, "target", "t", nil, "Catalog id or provider:model (repeatable)")
	compareCmd.Flags().BoolVar(&compareFailFast, "fail-on-error", false, "Exit non-zero when any target failed")
	addOutputFlags(compareCmd, "table|json|markdown")
}
