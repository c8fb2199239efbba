package ailink

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fiestalabs/fiesta/internal/ailink/driver"
	"github.com/fiestalabs/fiesta/internal/ailink/driver/openai"
	"github.com/fiestalabs/fiesta/internal/ailink/driver/puter"
	"github.com/fiestalabs/fiesta/internal/ailink/driver/relay"
	"github.com/fiestalabs/fiesta/internal/ailink/sse"
)

// Registry resolves provider ids into ready-to-call adapter pipelines.
type Registry struct {
	cfg Config

	// HTTPClient is shared by every driver; nil uses http.DefaultClient.
	HTTPClient *http.Client
	// Clock drives the timing wrappers; nil uses time.Now.
	Clock func() time.Time

	mu sync.Mutex
	rr map[string]int
}

// ResolvedProvider is a provider bound to the credential that will serve a
// request, with its synchronous and streaming pipelines.
type ResolvedProvider struct {
	ProviderID   string
	Provider     ProviderInstanceConfig
	KeyType      driver.KeyType
	DefaultModel string
	Adapter      Adapter
	Stream       StreamAdapter
}

func NewRegistry(cfg Config) *Registry {
	return &Registry{cfg: cfg}
}

// Config returns the provider configuration the registry was built from.
func (r *Registry) Config() Config {
	return r.cfg
}

// ProviderIDs lists enabled providers in name order.
func (r *Registry) ProviderIDs() []string {
	ids := make([]string, 0, len(r.cfg.Providers))
	for id, p := range r.cfg.Providers {
		if p.Enabled {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Resolve binds providerID (empty selects the default provider) to a
// credential. A caller-supplied key wins and is reported as "user"; shared
// credentials are reported as "shared"; keyless families report "none".
func (r *Registry) Resolve(providerID, userAPIKey string) (*ResolvedProvider, error) {
	providerID, providerCfg, err := r.resolveProvider(providerID)
	if err != nil {
		return nil, err
	}

	family := strings.ToLower(strings.TrimSpace(providerCfg.AIProvider))
	userAPIKey = strings.TrimSpace(userAPIKey)

	keyType := driver.KeyNone
	apiKey := ""
	switch {
	case userAPIKey != "":
		keyType = driver.KeyUser
		apiKey = userAPIKey
	case family == FamilyPuter || family == FamilyRelay:
		if cred, _, err := selectCredential(providerCfg, r.rrNext(providerID)); err == nil {
			apiKey = strings.TrimSpace(cred.APIKey)
		}
	default:
		cred, _, err := selectCredential(providerCfg, r.rrNext(providerID))
		if err != nil || strings.TrimSpace(cred.APIKey) == "" {
			return nil, fmt.Errorf("no API key configured for provider %q", providerID)
		}
		keyType = driver.KeyShared
		apiKey = strings.TrimSpace(cred.APIKey)
	}

	resolved := &ResolvedProvider{
		ProviderID:   providerID,
		Provider:     providerCfg,
		KeyType:      keyType,
		DefaultModel: strings.TrimSpace(providerCfg.DefaultModel()),
	}
	if err := r.buildPipelines(resolved, family, apiKey); err != nil {
		return nil, err
	}
	return resolved, nil
}

func (r *Registry) buildPipelines(p *ResolvedProvider, family, apiKey string) error {
	var (
		base   Adapter
		stream StreamAdapter
	)
	aliases := p.Provider.DefaultModelAliases

	switch family {
	case FamilyOpenAI:
		client := openai.NewClient(p.ProviderID, p.Provider.BaseURL, apiKey)
		client.DefaultModel = p.DefaultModel
		client.Headers = p.Provider.Headers
		client.HTTPClient = r.HTTPClient
		client.Timeout = r.cfg.DefaultTimeout
		base = NewDirectAdapter(p.ProviderID, p.KeyType, client)
		if p.Provider.Capabilities.Streaming {
			stream = NewStreamingAdapter(p.ProviderID, p.KeyType, client, sse.OpenAIChunks)
		}
	case FamilyPuter:
		client := puter.NewClient(p.Provider.BaseURL, apiKey)
		client.HTTPClient = r.HTTPClient
		client.Timeout = r.cfg.DefaultTimeout
		base = NewInProcessAdapter(p.ProviderID, p.KeyType, client, puter.MapErrorMessage)
		if p.DefaultModel == "" {
			p.DefaultModel = puter.DefaultModel
		}
	case FamilyRelay:
		client := relay.NewClient(p.ProviderID, p.Provider.BaseURL, p.Provider.RemoteProvider)
		client.HTTPClient = r.HTTPClient
		client.Timeout = r.cfg.DefaultTimeout
		base = NewDirectAdapter(p.ProviderID, p.KeyType, client)
		stream = NewStreamingAdapter(p.ProviderID, p.KeyType, client, sse.ItemFrames)
	default:
		if family == "" {
			family = "(unset)"
		}
		return fmt.Errorf("unsupported ai_provider %q for provider %q", family, p.ProviderID)
	}

	if stream == nil {
		stream = NewBufferedStream(p.ProviderID, p.KeyType, base)
	}

	p.Adapter = &Timed{
		Provider: p.ProviderID,
		Next:     NewFallback(p.ProviderID, base, p.DefaultModel, aliases),
		Clock:    r.Clock,
	}
	p.Stream = &TimedStream{
		Provider: p.ProviderID,
		Next:     NewStreamFallback(p.ProviderID, stream, p.DefaultModel, aliases),
		Clock:    r.Clock,
	}
	return nil
}

func (r *Registry) resolveProvider(providerID string) (string, ProviderInstanceConfig, error) {
	if r == nil {
		return "", ProviderInstanceConfig{}, fmt.Errorf("ailink registry not configured")
	}

	providerID = strings.TrimSpace(providerID)
	if providerID == "" {
		providerID = strings.TrimSpace(r.cfg.DefaultProvider)
	}

	if providerID != "" {
		providerCfg, ok := r.cfg.Providers[providerID]
		if !ok {
			return "", ProviderInstanceConfig{}, fmt.Errorf("unknown provider %q", providerID)
		}
		if !providerCfg.Enabled {
			return "", ProviderInstanceConfig{}, fmt.Errorf("provider %q is disabled", providerID)
		}
		return providerID, providerCfg, nil
	}

	ids := r.ProviderIDs()
	switch len(ids) {
	case 0:
		return "", ProviderInstanceConfig{}, fmt.Errorf("no enabled providers configured")
	case 1:
		return ids[0], r.cfg.Providers[ids[0]], nil
	}
	return "", ProviderInstanceConfig{}, fmt.Errorf("no default provider configured")
}

func (r *Registry) rrNext(providerID string) func(groupKey string, n int) int {
	return func(groupKey string, n int) int {
		return r.rrIndex(providerID+":"+groupKey, n)
	}
}

func selectCredential(cfg ProviderInstanceConfig, rrNext func(groupKey string, n int) int) (CredentialConfig, string, error) {
	if len(cfg.Credentials) == 0 {
		return CredentialConfig{}, "", fmt.Errorf("no credentials configured")
	}

	enabled := make([]CredentialConfig, 0, len(cfg.Credentials))
	for _, cred := range cfg.Credentials {
		if !cred.Enabled && strings.TrimSpace(cred.Label) != "" {
			continue
		}
		if strings.TrimSpace(cred.APIKey) == "" {
			continue
		}
		enabled = append(enabled, cred)
	}
	if len(enabled) == 0 {
		// Credentials exist but are not usable; return first so caller can report missing key.
		cred := cfg.Credentials[0]
		key := strings.TrimSpace(cred.Label)
		if key == "" {
			key = "0"
		}
		return cred, key, nil
	}

	if label := strings.TrimSpace(cfg.DefaultCredential); label != "" {
		for _, cred := range enabled {
			if strings.EqualFold(strings.TrimSpace(cred.Label), label) {
				return cred, strings.TrimSpace(cred.Label), nil
			}
		}
	}

	policy := strings.ToLower(strings.TrimSpace(cfg.SelectionPolicy))
	if policy == "" {
		policy = "priority"
	}

	// Compute highest priority set.
	highest := enabled[0].Priority
	for _, cred := range enabled[1:] {
		if cred.Priority > highest {
			highest = cred.Priority
		}
	}
	group := make([]CredentialConfig, 0, len(enabled))
	for _, cred := range enabled {
		if cred.Priority == highest {
			group = append(group, cred)
		}
	}

	switch policy {
	case "round_robin":
		idx := 0
		if rrNext != nil {
			idx = rrNext(fmt.Sprintf("%d", highest), len(group))
		}
		cred := group[idx]
		key := strings.TrimSpace(cred.Label)
		if key == "" {
			key = fmt.Sprintf("p%d", highest)
		}
		return cred, key, nil
	case "priority":
		fallthrough
	default:
		cred := group[0]
		key := strings.TrimSpace(cred.Label)
		if key == "" {
			key = fmt.Sprintf("p%d", highest)
		}
		return cred, key, nil
	}
}

func (r *Registry) rrIndex(key string, n int) int {
	if n <= 1 {
		return 0
	}
	if r == nil {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rr == nil {
		r.rr = map[string]int{}
	}
	idx := r.rr[key] % n
	r.rr[key] = r.rr[key] + 1
	return idx
}

func contains(values []string, needle string) bool {
	needle = strings.TrimSpace(needle)
	if needle == "" {
		return false
	}
	for _, v := range values {
		if strings.EqualFold(strings.TrimSpace(v), needle) {
			return true
		}
	}
	return false
}
