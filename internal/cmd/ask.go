package cmd

import (
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fiestalabs/fiesta/internal/ailink"
	"github.com/fiestalabs/fiesta/internal/observability"
	"github.com/fiestalabs/fiesta/internal/output"
)

var (
	askFlags        chatFlags
	askOutputFormat string
)

var askCmd = &cobra.Command{
	Use:   "ask [prompt...]",
	Short: "Send one prompt to one provider",
	Long: `Send one prompt to one provider and print the answer.

The prompt is taken from the arguments, or from stdin when none are given.
Provider failures are reported with exit status 1; use --output-format json
to get the normalized result either way.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(askOutputFormat)
		if err != nil {
			return err
		}
		prompt, err := readPrompt(args, cmd.InOrStdin())
		if err != nil {
			return err
		}
		req, err := askFlags.request(prompt)
		if err != nil {
			return err
		}

		cfg, err := loadConfig(cmd.Context())
		if err != nil {
			return err
		}

		res, err := newService(cfg).Invoke(cmd.Context(), req)
		if err != nil {
			return err
		}
		observability.CLILogger.Debug("Answer received",
			zap.String("provider", res.Provider),
			zap.String("model", res.Model),
			zap.String("key_type", string(res.UsedKeyType)),
			zap.Duration("response_time", res.ResponseTime))

		return writeAnswer(cmd.OutOrStdout(), format, res)
	},
}

func writeAnswer(w io.Writer, format output.Format, res ailink.NormalizedResult) error {
	switch format {
	case output.FormatJSON:
		payload, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(w, string(payload)); err != nil {
			return err
		}
	case output.FormatMarkdown:
		rendered, err := output.NewFormatter(format).FormatCompare([]ailink.NormalizedResult{res})
		if err != nil {
			return err
		}
		if _, err := fmt.Fprint(w, rendered); err != nil {
			return err
		}
	default:
		if res.OK() {
			if _, err := fmt.Fprintln(w, res.Text); err != nil {
				return err
			}
		}
	}

	switch {
	case res.Aborted:
		return fmt.Errorf("request aborted")
	case !res.OK():
		return fmt.Errorf("%s: %s", res.Provider, res.Error)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(askCmd)
	addChatFlags(askCmd, &askFlags, true)
	askCmd.Flags().StringVar(&askOutputFormat, "output-format", string(output.FormatTable), "Output format: table|json|markdown")
}
