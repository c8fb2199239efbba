package observability

import (
	"fmt"
	"strings"

	"github.com/fulmenhq/gofulmen/logging"
)

var (
	// CLILogger backs every command (SIMPLE profile, human readable).
	CLILogger *logging.Logger

	// ServerLogger backs `fiesta serve` (STRUCTURED profile, JSON on stderr).
	ServerLogger *logging.Logger
)

var logLevels = map[string]string{
	"trace":   "TRACE",
	"debug":   "DEBUG",
	"info":    "INFO",
	"warn":    "WARN",
	"warning": "WARN",
	"error":   "ERROR",
}

// InitCLILogger installs the CLI logger. verbose lowers the level to DEBUG.
func InitCLILogger(serviceName string, verbose bool) error {
	logger, err := logging.NewCLI(serviceName)
	if err != nil {
		return fmt.Errorf("cli logger: %w", err)
	}
	if verbose {
		logger.SetLevel(logging.DEBUG)
	}
	CLILogger = logger
	return nil
}

// ServerLoggerOptions controls the structured logger used by `fiesta serve`.
type ServerLoggerOptions struct {
	Service     string
	Level       string
	Environment string
	Namespace   string
}

func (o ServerLoggerOptions) loggerConfig() *logging.LoggerConfig {
	environment := strings.TrimSpace(o.Environment)
	if environment == "" {
		environment = "production"
	}

	static := map[string]any{}
	if o.Namespace != "" {
		static["namespace"] = o.Namespace
	}

	return &logging.LoggerConfig{
		Profile:      logging.ProfileStructured,
		DefaultLevel: ParseLogLevel(o.Level),
		Service:      o.Service,
		Environment:  environment,
		StaticFields: static,
		Middleware: []logging.MiddlewareConfig{
			{Name: "correlation", Enabled: true, Order: 100, Config: map[string]any{}},
		},
		Sinks: []logging.SinkConfig{{
			Type:    "console",
			Format:  "json",
			Console: &logging.ConsoleSinkConfig{Stream: "stderr"},
		}},
		EnableCaller:     true,
		EnableStacktrace: environment != "production",
	}
}

// InitServerLogger installs the structured server logger.
func InitServerLogger(opts ServerLoggerOptions) error {
	logger, err := logging.New(opts.loggerConfig())
	if err != nil {
		return fmt.Errorf("server logger: %w", err)
	}
	ServerLogger = logger
	return nil
}

// Logger returns the server logger while serving and the CLI logger
// otherwise. It is nil when neither was initialized.
func Logger() *logging.Logger {
	if ServerLogger != nil {
		return ServerLogger
	}
	return CLILogger
}

// ParseLogLevel maps a config level name to a logging severity. Unknown
// names log at INFO.
func ParseLogLevel(level string) string {
	if severity, ok := logLevels[strings.ToLower(strings.TrimSpace(level))]; ok {
		return severity
	}
	return "INFO"
}
