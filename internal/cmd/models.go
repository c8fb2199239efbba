package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fiestalabs/fiesta/internal/catalog"
	"github.com/fiestalabs/fiesta/internal/output"
)

var modelsSelect catalogSelection

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the model catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}
		cat, err := catalog.Default()
		if err != nil {
			return err
		}

		rendered, err := output.NewFormatter(format).FormatModels(cat.List(modelsSelect.filter()))
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), strings.TrimRight(rendered, "\n"))
		return err
	},
}

func init() {
	rootCmd.AddCommand(modelsCmd)
	modelsSelect.addFlags(modelsCmd)
	modelsCmd.Flags().String("output-format", string(output.FormatTable), "Output format: table|json|markdown")
}
