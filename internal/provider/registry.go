package provider

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/opencode-ai/cliagent/internal/logging"
	"github.com/opencode-ai/cliagent/pkg/types"
)

// Registry manages the configured providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	model     string
}

// NewRegistry creates a registry. defaultModel is a "provider/model"
// reference and may be empty.
func NewRegistry(defaultModel string) *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		model:     defaultModel,
	}
}

// Register adds a provider to the registry.
func (r *Registry) Register(provider Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[provider.ID()] = provider
}

// Get retrieves a provider by ID.
func (r *Registry) Get(providerID string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	provider, ok := r.providers[providerID]
	if !ok {
		return nil, fmt.Errorf("provider not found: %s", providerID)
	}
	return provider, nil
}

// List returns the providers sorted by ID.
func (r *Registry) List() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	providers := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		providers = append(providers, p)
	}
	sort.Slice(providers, func(i, j int) bool { return providers[i].ID() < providers[j].ID() })
	return providers
}

// AllModels returns the models of every provider, best first.
func (r *Registry) AllModels() []Model {
	var models []Model
	for _, p := range r.List() {
		models = append(models, p.Models()...)
	}
	sort.SliceStable(models, func(i, j int) bool {
		return modelPriority(models[i].ID) > modelPriority(models[j].ID)
	})
	return models
}

// Resolve finds the provider for a model reference. A bare model ID is looked
// up in every provider's model list; an empty reference selects the default.
func (r *Registry) Resolve(ref string) (Provider, string, error) {
	if ref == "" {
		ref = r.DefaultModel()
		if ref == "" {
			return nil, "", fmt.Errorf("no models available")
		}
	}

	providerID, modelID := ParseModelString(ref)
	if providerID != "" {
		p, err := r.Get(providerID)
		if err != nil {
			return nil, "", err
		}
		if modelID == "" {
			modelID = p.DefaultModel()
		}
		return p, modelID, nil
	}

	for _, p := range r.List() {
		for _, m := range p.Models() {
			if m.ID == modelID {
				return p, modelID, nil
			}
		}
	}
	return nil, "", fmt.Errorf("model not found: %s", ref)
}

// DefaultModel returns the configured model, or the best available one.
func (r *Registry) DefaultModel() string {
	if r.model != "" {
		return r.model
	}
	if p, err := r.Get("anthropic"); err == nil {
		return "anthropic/" + p.DefaultModel()
	}
	providers := r.List()
	if len(providers) == 0 {
		return ""
	}
	return providers[0].ID() + "/" + providers[0].DefaultModel()
}

// ParseModelString parses "provider/model" format.
func ParseModelString(s string) (providerID, modelID string) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return "", s
}

func modelPriority(modelID string) int {
	switch {
	case strings.Contains(modelID, "gpt-5"):
		return 100
	case strings.Contains(modelID, "claude-sonnet-4"):
		return 90
	case strings.Contains(modelID, "claude-opus"):
		return 85
	case strings.Contains(modelID, "gpt-4o"):
		return 80
	case strings.Contains(modelID, "claude-3-5"):
		return 75
	default:
		return 50
	}
}

// InitializeProviders creates and registers every provider that has an API
// key in config or the environment. Providers that fail to initialize are
// logged and skipped.
func InitializeProviders(ctx context.Context, config *types.Config) (*Registry, error) {
	registry := NewRegistry(config.Model)
	log := logging.Component("provider")

	enabled := func(id, envKey string) (types.ProviderConfig, bool) {
		cfg := config.Provider[id]
		if cfg.Disable {
			return cfg, false
		}
		return cfg, cfg.APIKey != "" || os.Getenv(envKey) != ""
	}

	if cfg, ok := enabled("anthropic", "ANTHROPIC_API_KEY"); ok {
		p, err := NewAnthropicProvider(ctx, &AnthropicConfig{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
		})
		if err != nil {
			log.Warn().Err(err).Msg("anthropic provider disabled")
		} else {
			registry.Register(p)
		}
	}

	if cfg, ok := enabled("openai", "OPENAI_API_KEY"); ok {
		p, err := NewOpenAIProvider(ctx, &OpenAIConfig{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
		})
		if err != nil {
			log.Warn().Err(err).Msg("openai provider disabled")
		} else {
			registry.Register(p)
		}
	}

	if cfg, ok := enabled("ark", "ARK_API_KEY"); ok {
		p, err := NewArkProvider(ctx, &ArkConfig{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
		})
		if err != nil {
			log.Warn().Err(err).Msg("ark provider disabled")
		} else {
			registry.Register(p)
		}
	}

	return registry, nil
}
