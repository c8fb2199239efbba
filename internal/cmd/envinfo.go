package cmd

import (
	"fmt"
	"io"
	"runtime"
	"sort"
	"strings"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/goccy/go-json"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fiestalabs/fiesta/internal/config"
	"github.com/fiestalabs/fiesta/internal/observability"
)

type envSection struct {
	Title  string     `json:"title"`
	Fields []envField `json:"fields"`
}

type envField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func (s *envSection) add(name, value string) {
	s.Fields = append(s.Fields, envField{Name: name, Value: value})
}

var envInfoJSON bool

var envInfoCmd = &cobra.Command{
	Use:   "envinfo",
	Short: "Display environment information",
	Long:  "Display build, runtime, configuration and provider information. API keys are never printed.",
	RunE: func(cmd *cobra.Command, args []string) error {
		sections := []envSection{buildSection(), runtimeSection()}

		cfg, err := loadConfig(cmd.Context())
		if err != nil {
			observability.CLILogger.Warn("Config load failed", zap.Error(err))
		} else {
			sections = append(sections, configSection(cfg), providerSection(cfg))
		}

		if envInfoJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(sections)
		}
		renderEnvSections(cmd.OutOrStdout(), sections)
		return nil
	},
}

func init() {
	envInfoCmd.Flags().BoolVar(&envInfoJSON, "json", false, "Output as JSON")
	rootCmd.AddCommand(envInfoCmd)
}

func buildSection() envSection {
	ssot := crucible.GetVersion()
	s := envSection{Title: "Application"}
	s.add("Name", GetAppIdentity().BinaryName)
	s.add("Version", versionInfo.Version)
	s.add("Commit", versionInfo.Commit)
	s.add("Built", versionInfo.BuildDate)
	s.add("Gofulmen", ssot.Gofulmen)
	s.add("Crucible", ssot.Crucible)
	return s
}

func runtimeSection() envSection {
	s := envSection{Title: "Runtime"}
	s.add("Go Version", runtime.Version())
	s.add("Platform", runtime.GOOS+"/"+runtime.GOARCH)
	s.add("NumCPU", fmt.Sprint(runtime.NumCPU()))
	return s
}

func configSection(cfg *config.Config) envSection {
	s := envSection{Title: "Configuration"}
	configFile := config.ActivePath()
	if configFile == "" {
		configFile = config.DefaultConfigPath() + " (not present)"
	}
	s.add("Config File", configFile)
	s.add("Server", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port))
	s.add("Log Level", cfg.Logging.Level)
	s.add("DB Driver", cfg.Store.Driver)
	if strings.TrimSpace(cfg.Store.URL) != "" {
		s.add("DB URL", cfg.Store.URL)
	} else {
		s.add("DB Path", cfg.Store.Path)
	}
	s.add("Metrics Port", fmt.Sprint(cfg.Metrics.Port))
	s.add("Rate Limit", fmt.Sprintf("%s, %d per %s", cfg.RateLimit.Backend, cfg.RateLimit.MaxRequests, cfg.RateLimit.Window))
	if cfg.RateLimit.Backend == config.BackendRedis {
		s.add("Redis", cfg.RateLimit.Redis.Addr)
	}
	return s
}

func providerSection(cfg *config.Config) envSection {
	s := envSection{Title: "Providers"}
	s.add("Default Provider", cfg.AILink.DefaultProvider)
	s.add("Default Timeout", cfg.AILink.DefaultTimeout.String())

	ids := make([]string, 0, len(cfg.AILink.Providers))
	for id := range cfg.AILink.Providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		p := cfg.AILink.Providers[id]
		key := "not set"
		for _, cred := range p.Credentials {
			if cred.Enabled && strings.TrimSpace(cred.APIKey) != "" {
				key = "set"
				break
			}
		}
		s.add(id, fmt.Sprintf("enabled=%t ai_provider=%s model=%s api_key=%s", p.Enabled, p.AIProvider, p.DefaultModel(), key))
	}
	return s
}

func renderEnvSections(w io.Writer, sections []envSection) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	for i, section := range sections {
		if i > 0 {
			t.AppendSeparator()
		}
		t.AppendRow(table.Row{section.Title, ""})
		t.AppendSeparator()
		for _, f := range section.Fields {
			t.AppendRow(table.Row{"  " + f.Name, f.Value})
		}
	}
	t.Render()
}
