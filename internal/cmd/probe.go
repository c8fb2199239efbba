package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fiestalabs/fiesta/internal/catalog"
	"github.com/fiestalabs/fiesta/internal/core"
	"github.com/fiestalabs/fiesta/internal/core/engine"
	"github.com/fiestalabs/fiesta/internal/observability"
	"github.com/fiestalabs/fiesta/internal/output"
)

var (
	probeSelect  catalogSelection
	probeTargets []string
	probeAPIKey  string
	probeDelay   time.Duration
	probeNoSave  bool

	probeHistoryLimit int
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check which models answer, one at a time",
	Long: `Send a short greeting to each selected model in turn and record who
answered. Calls are paced (--delay, default probe.delay) so free tiers are not
flooded. Runs are stored and can be listed with "probe history".`,
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := resolveOutput(cmd)
		if err != nil {
			return err
		}

		targets, err := probeTargetList()
		if err != nil {
			return err
		}

		cfg, err := loadConfig(cmd.Context())
		if err != nil {
			return err
		}

		delay := cfg.Probe.Delay
		if cmd.Flags().Changed("delay") {
			delay = probeDelay
			if delay == 0 {
				delay = -1
			}
		}

		prober := &engine.Prober{
			Invoker: newService(cfg),
			Delay:   delay,
			APIKey:  probeAPIKey,
			OnResult: func(i int, res core.ProbeResult) {
				status := "ok"
				if !res.Success {
					status = "failed"
				}
				observability.CLILogger.Info(fmt.Sprintf("[%d/%d] %s %s", i+1, len(targets), res.Label, status),
					zap.String("provider", res.Provider),
					zap.String("model", res.Model),
					zap.Int64("response_time_ms", res.ResponseTimeMs))
			},
		}

		run, runErr := prober.Run(cmd.Context(), targets)
		if run == nil {
			return runErr
		}

		if !probeNoSave {
			db, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close() // nolint:errcheck // best-effort cleanup
			// A cancelled run is still worth keeping.
			if err := db.SaveProbeRun(context.WithoutCancel(cmd.Context()), run); err != nil {
				return err
			}
		}

		rendered, err := output.NewFormatter(target.format).FormatProbeRun(run)
		if err != nil {
			return err
		}
		if err := target.write(cmd.OutOrStdout(), "probe."+run.ID, rendered); err != nil {
			return err
		}
		return runErr
	},
}

// probeTargetList resolves --target specs, or the catalog selection, into
// probe targets labelled with their catalog names where known.
func probeTargetList() ([]core.ProbeTarget, error) {
	cat, err := catalog.Default()
	if err != nil {
		return nil, err
	}

	if len(probeTargets) == 0 {
		models := cat.List(probeSelect.filter())
		if len(models) == 0 {
			return nil, errors.New("no catalog models match the selection")
		}
		out := make([]core.ProbeTarget, 0, len(models))
		for _, m := range models {
			out = append(out, core.ProbeTarget{ModelID: m.ID, Label: m.Label, Provider: m.Provider, Model: m.Model})
		}
		return out, nil
	}

	out := make([]core.ProbeTarget, 0, len(probeTargets))
	for _, spec := range probeTargets {
		if m, ok := cat.Lookup(spec); ok {
			out = append(out, core.ProbeTarget{ModelID: m.ID, Label: m.Label, Provider: m.Provider, Model: m.Model})
			continue
		}
		target, err := catalog.ParseTarget(spec)
		if err != nil {
			return nil, err
		}
		out = append(out, core.ProbeTarget{Label: spec, Provider: target.Provider, Model: target.Model})
	}
	return out, nil
}

var probeHistoryCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "List stored probe runs, or show one run",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}
		cfg, err := loadConfig(cmd.Context())
		if err != nil {
			return err
		}
		db, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		formatter := output.NewFormatter(format)
		var rendered string
		if len(args) == 1 {
			run, err := db.GetProbeRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if run == nil {
				return fmt.Errorf("probe run %s not found", args[0])
			}
			rendered, err = formatter.FormatProbeRun(run)
			if err != nil {
				return err
			}
		} else {
			limit := probeHistoryLimit
			if limit <= 0 {
				limit = cfg.Probe.HistoryLimit
			}
			runs, err := db.ListProbeRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			ptrs := make([]*core.ProbeRun, 0, len(runs))
			for i := range runs {
				ptrs = append(ptrs, &runs[i])
			}
			rendered, err = formatter.FormatProbeHistory(ptrs)
			if err != nil {
				return err
			}
		}

		_, err = fmt.Fprintln(cmd.OutOrStdout(), strings.TrimRight(rendered, "\n"))
		return err
	},
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.AddCommand(probeHistoryCmd)

	probeSelect.addFlags(probeCmd)
	probeCmd.Flags().StringArrayVarP(&probeTargets, "target", "t", nil, "Catalog id or provider:model (repeatable)")
	probeCmd.Flags().StringVar(&probeAPIKey, "api-key", "", "Use your own API key instead of the shared credential")
	probeCmd.Flags().DurationVar(&probeDelay, "delay", engine.DefaultProbeDelay, "Pause between calls (0 disables pacing)")
	probeCmd.Flags().BoolVar(&probeNoSave, "no-save", false, "Do not store the run")
	addOutputFlags(probeCmd, "table|json|markdown")

	probeHistoryCmd.Flags().IntVar(&probeHistoryLimit, "limit", 0, "Maximum runs to list (default probe.history_limit)")
	probeHistoryCmd.Flags().String("output-format", string(output.FormatTable), "Output format: table|json|markdown")
}
