// Package providers manages the YAML-based registry of LLM providers.
package providers

import (
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Provider describes one vision LLM the extension can send charts to.
type Provider struct {
	ID           string `yaml:"id" json:"id"`
	Name         string `yaml:"name" json:"name"`
	DefaultModel string `yaml:"default_model" json:"defaultModel"`
	Endpoint     string `yaml:"endpoint" json:"endpoint"`
	Info         string `yaml:"info" json:"info"`
}

// Config is the top-level YAML structure.
type Config struct {
	Providers []Provider `yaml:"providers"`
}

// Builtin returns the providers known without any configuration file.
func Builtin() []Provider {
	return []Provider{
		{
			ID:           "anthropic",
			Name:         "Anthropic Claude",
			DefaultModel: "claude-sonnet-4-20250514",
			Endpoint:     "https://api.anthropic.com/v1/messages",
			Info:         "Anthropic Claude: State-of-the-art vision and reasoning",
		},
		{
			ID:           "openai",
			Name:         "OpenAI GPT",
			DefaultModel: "gpt-4o",
			Endpoint:     "https://api.openai.com/v1/chat/completions",
			Info:         "OpenAI GPT-4: Advanced vision model with strong multimodal capabilities",
		},
		{
			ID:           "google",
			Name:         "Google Gemini",
			DefaultModel: "gemini-2.0-flash-exp",
			Endpoint:     "https://generativelanguage.googleapis.com/v1/models",
			Info:         "Google Gemini: Fast and efficient multimodal AI",
		},
		{
			ID:           "openrouter",
			Name:         "OpenRouter",
			DefaultModel: "anthropic/claude-sonnet-4",
			Endpoint:     "https://openrouter.ai/api/v1/chat/completions",
			Info:         "OpenRouter: Access multiple AI models through one API",
		},
		{
			ID:   "custom",
			Name: "Custom API",
			Info: "Custom: Configure your own API endpoint",
		},
	}
}

// Registry holds loaded providers, keyed by id.
type Registry struct {
	byID  map[string]*Provider
	order []string // preserves definition order
}

// NewRegistry builds a registry from providers. Later entries with the same id replace earlier ones.
func NewRegistry(providers []Provider) *Registry {
	r := &Registry{byID: make(map[string]*Provider, len(providers))}
	for i := range providers {
		r.add(providers[i])
	}
	return r
}

func (r *Registry) add(p Provider) {
	if p.ID == "" {
		return
	}
	if _, exists := r.byID[p.ID]; !exists {
		r.order = append(r.order, p.ID)
	}
	r.byID[p.ID] = &p
}

// Load reads the YAML file at path on top of the built-in providers.
// If the file does not exist, Load returns the built-ins (not an error).
func Load(path string) (*Registry, error) {
	r := NewRegistry(Builtin())

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	for _, p := range cfg.Providers {
		r.add(p)
	}
	return r, nil
}

// Get returns a provider by id. Returns (nil, false) if not found.
func (r *Registry) Get(id string) (*Provider, bool) {
	p, ok := r.byID[id]
	return p, ok
}

// Label returns the display name for id, or id itself when unknown or unnamed.
func (r *Registry) Label(id string) string {
	if p, ok := r.byID[id]; ok && p.Name != "" {
		return p.Name
	}
	return id
}

// All returns all providers in definition order.
func (r *Registry) All() []*Provider {
	result := make([]*Provider, 0, len(r.order))
	for _, id := range r.order {
		result = append(result, r.byID[id])
	}
	return result
}

// IDs returns a sorted list of provider ids.
func (r *Registry) IDs() []string {
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	sort.Strings(ids)
	return ids
}
