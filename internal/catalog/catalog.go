// Package catalog holds the built-in list of models fiesta can address.
package catalog

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/fiestalabs/fiesta/internal/ailink"
)

//go:embed models.yaml
var modelsYAML []byte

// Model is one catalog entry. An empty Model selects the provider default.
type Model struct {
	ID       string `yaml:"id" json:"id"`
	Label    string `yaml:"label" json:"label"`
	Provider string `yaml:"provider" json:"provider"`
	Model    string `yaml:"model" json:"model"`
	Free     bool   `yaml:"free" json:"free,omitempty"`
	Good     bool   `yaml:"good" json:"good,omitempty"`
	Disabled bool   `yaml:"disabled" json:"disabled,omitempty"`
}

// Target returns the provider/model pair the entry addresses.
func (m Model) Target() ailink.Target {
	return ailink.Target{Provider: m.Provider, Model: m.Model}
}

// Filter narrows List. Zero value lists every enabled model.
type Filter struct {
	Provider        string
	FreeOnly        bool
	GoodOnly        bool
	IncludeDisabled bool
}

type Catalog struct {
	models []Model
	byID   map[string]int
}

type document struct {
	Models []Model `yaml:"models"`
}

// Parse decodes a catalog document. Ids must be unique and every entry needs
// an id and a provider.
func Parse(data []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	c := &Catalog{models: make([]Model, 0, len(doc.Models)), byID: make(map[string]int, len(doc.Models))}
	for i, m := range doc.Models {
		m.ID = strings.TrimSpace(m.ID)
		m.Provider = strings.TrimSpace(m.Provider)
		m.Model = strings.TrimSpace(m.Model)
		if m.ID == "" {
			return nil, fmt.Errorf("catalog entry %d: id is required", i)
		}
		if m.Provider == "" {
			return nil, fmt.Errorf("catalog entry %q: provider is required", m.ID)
		}
		if _, dup := c.byID[m.ID]; dup {
			return nil, fmt.Errorf("catalog entry %q: duplicate id", m.ID)
		}
		if strings.TrimSpace(m.Label) == "" {
			m.Label = m.ID
		}
		c.byID[m.ID] = len(c.models)
		c.models = append(c.models, m)
	}
	return c, nil
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
	defaultErr     error
)

// Default returns the embedded catalog.
func Default() (*Catalog, error) {
	defaultOnce.Do(func() {
		defaultCatalog, defaultErr = Parse(modelsYAML)
	})
	return defaultCatalog, defaultErr
}

// List returns the entries matching f in catalog order.
func (c *Catalog) List(f Filter) []Model {
	provider := strings.TrimSpace(f.Provider)
	out := make([]Model, 0, len(c.models))
	for _, m := range c.models {
		if m.Disabled && !f.IncludeDisabled {
			continue
		}
		if provider != "" && !strings.EqualFold(m.Provider, provider) {
			continue
		}
		if f.FreeOnly && !m.Free {
			continue
		}
		if f.GoodOnly && !m.Good {
			continue
		}
		out = append(out, m)
	}
	return out
}

func (c *Catalog) Lookup(id string) (Model, bool) {
	idx, ok := c.byID[strings.TrimSpace(id)]
	if !ok {
		return Model{}, false
	}
	return c.models[idx], true
}

// Providers lists the distinct providers referenced by the catalog.
func (c *Catalog) Providers() []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range c.models {
		if !seen[m.Provider] {
			seen[m.Provider] = true
			out = append(out, m.Provider)
		}
	}
	sort.Strings(out)
	return out
}

// ParseTarget parses "provider:model". Only the first colon separates the
// two, since model ids such as "deepseek/deepseek-r1:free" contain colons. A
// bare provider selects its default model.
func ParseTarget(s string) (ailink.Target, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ailink.Target{}, fmt.Errorf("target is empty")
	}
	provider, model, _ := strings.Cut(s, ":")
	provider = strings.TrimSpace(provider)
	if provider == "" {
		return ailink.Target{}, fmt.Errorf("target %q has no provider", s)
	}
	return ailink.Target{Provider: provider, Model: strings.TrimSpace(model)}, nil
}

// ResolveTarget accepts either a catalog id or a "provider:model" pair.
func (c *Catalog) ResolveTarget(s string) (ailink.Target, error) {
	if c != nil {
		if m, ok := c.Lookup(s); ok {
			if m.Disabled {
				return ailink.Target{}, fmt.Errorf("model %q is disabled", m.ID)
			}
			return m.Target(), nil
		}
	}
	return ParseTarget(s)
}

// ResolveTargets resolves each entry of specs in order.
func (c *Catalog) ResolveTargets(specs []string) ([]ailink.Target, error) {
	targets := make([]ailink.Target, 0, len(specs))
	for _, spec := range specs {
		target, err := c.ResolveTarget(spec)
		if err != nil {
			return nil, err
		}
		targets = append(targets, target)
	}
	return targets, nil
}
