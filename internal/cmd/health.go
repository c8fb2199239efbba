package cmd

import (
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fiestalabs/fiesta/internal/catalog"
	errwrap "github.com/fiestalabs/fiesta/internal/errors"
	"github.com/fiestalabs/fiesta/internal/observability"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run self-health check",
	Long:  "Run a self-health check to verify the application can start successfully.",
	Run: func(cmd *cobra.Command, args []string) {
		observability.CLILogger.Info("Running health check...")

		// Check 1: Version info available
		if versionInfo.Version == "" {
			observability.CLILogger.Error("❌ FAIL: Version information missing")
			ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Version information missing", errwrap.NewConfigInvalidError("Version information missing"))
			return
		}
		observability.CLILogger.Debug("Version check passed", zap.String("version", versionInfo.Version))
		observability.CLILogger.Info("✅ Version information available")

		// Check 2: Logger initialized
		if observability.CLILogger == nil {
			// Can't log if logger is nil, so use stderr
			ExitWithCodeStderr(foundry.ExitConfigInvalid, "Logger not initialized", errwrap.NewConfigInvalidError("Logger not initialized"))
			return
		}
		observability.CLILogger.Info("✅ Logger initialized")

		// Check 3: Configuration loads
		cfg, err := loadConfig(cmd.Context())
		if err != nil {
			ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Configuration invalid", err)
			return
		}
		observability.CLILogger.Info("✅ Configuration loaded")

		// Check 4: Model catalog parses
		cat, err := catalog.Default()
		if err != nil {
			ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Model catalog invalid", err)
			return
		}
		observability.CLILogger.Info(fmt.Sprintf("✅ Model catalog loaded (%d models)", len(cat.List(catalog.Filter{IncludeDisabled: true}))))

		// Check 5: At least one provider enabled
		providers := newService(cfg).Registry.ProviderIDs()
		if len(providers) == 0 {
			ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "No providers enabled", errwrap.NewConfigInvalidError("no providers enabled"))
			return
		}
		observability.CLILogger.Info("✅ Providers enabled", zap.Strings("providers", providers))

		// Overall status
		observability.CLILogger.Info("")
		observability.CLILogger.Info("✅ All health checks passed")
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
