package ailink

import "time"

// Provider families understood by the registry.
const (
	FamilyOpenAI = "openai"
	FamilyPuter  = "puter"
	FamilyRelay  = "relay"
)

// Config defines the providers fiesta can fan a prompt out to.
type Config struct {
	DefaultProvider string        `mapstructure:"default_provider"`
	DefaultTimeout  time.Duration `mapstructure:"default_timeout"`
	// MaxParallel bounds concurrent provider calls within one compare.
	MaxParallel int `mapstructure:"max_parallel"`

	// Providers is keyed by a user-defined id (slug), e.g. "openrouter".
	// Each instance declares its family via AIProvider.
	Providers map[string]ProviderInstanceConfig `mapstructure:"providers"`
}

// ProviderInstanceConfig defines one configured provider.
type ProviderInstanceConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Label   string `mapstructure:"label"`

	// AIProvider is the family: "openai", "puter" or "relay".
	AIProvider string `mapstructure:"ai_provider"`

	BaseURL string `mapstructure:"base_url"`
	// RemoteProvider is the provider id requested from a relay server.
	RemoteProvider string `mapstructure:"remote_provider"`

	// Models holds named models; "default" is the fallback target.
	Models map[string]string `mapstructure:"models"`
	// DefaultModelAliases are identifiers that already mean the default
	// model, so a failure with one of them is not retried.
	DefaultModelAliases []string          `mapstructure:"default_model_aliases"`
	Headers             map[string]string `mapstructure:"headers"`

	// SelectionPolicy controls which credential is chosen.
	// Supported values: "priority" (default), "round_robin".
	SelectionPolicy string `mapstructure:"selection_policy"`

	// DefaultCredential, if set, forces selecting the matching credential label.
	DefaultCredential string `mapstructure:"default_credential"`

	Capabilities Capabilities       `mapstructure:"capabilities"`
	Credentials  []CredentialConfig `mapstructure:"credentials"`
}

// CredentialConfig is a single shared credential for a provider.
type CredentialConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Label    string `mapstructure:"label"`
	APIKey   string `mapstructure:"api_key"`
	Priority int    `mapstructure:"priority"`
}

// Capabilities describes provider-level hints.
type Capabilities struct {
	Images    bool `mapstructure:"images"`
	Streaming bool `mapstructure:"streaming"`
}

// DefaultModel returns the configured default model, if any.
func (p ProviderInstanceConfig) DefaultModel() string {
	if p.Models == nil {
		return ""
	}
	return p.Models["default"]
}
