package provider

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/codeloom-ai/codeloom/internal/logging"
	"github.com/codeloom-ai/codeloom/pkg/types"
)

// Registry manages all configured provider adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	config   *types.Config
}

// NewRegistry creates a new provider registry.
func NewRegistry(config *types.Config) *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
		config:   config,
	}
}

// Register adds an adapter to the registry.
func (r *Registry) Register(adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[adapter.ID()] = adapter
}

// Get retrieves an adapter by ID.
func (r *Registry) Get(providerID string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	adapter, ok := r.adapters[providerID]
	if !ok {
		return nil, fmt.Errorf("provider not found: %s", providerID)
	}
	return adapter, nil
}

// List returns all registered adapters.
func (r *Registry) List() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	adapters := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		adapters = append(adapters, a)
	}
	return adapters
}

// GetModel retrieves a specific model from a provider.
func (r *Registry) GetModel(providerID, modelID string) (*types.Model, error) {
	adapter, err := r.Get(providerID)
	if err != nil {
		return nil, err
	}

	for _, model := range adapter.Models() {
		if model.ID == modelID {
			return &model, nil
		}
	}
	return nil, fmt.Errorf("model not found: %s/%s", providerID, modelID)
}

// AllModels returns all models from all providers, priority-sorted.
func (r *Registry) AllModels() []types.Model {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var models []types.Model
	for _, a := range r.adapters {
		models = append(models, a.Models()...)
	}

	sort.Slice(models, func(i, j int) bool {
		return modelPriority(models[i].ID) > modelPriority(models[j].ID)
	})
	return models
}

// DefaultModel returns the configured default model, falling back to the
// highest-priority available one.
func (r *Registry) DefaultModel() (*types.Model, error) {
	if r.config != nil && r.config.Model != "" {
		providerID, modelID := ParseModelString(r.config.Model)
		return r.GetModel(providerID, modelID)
	}

	models := r.AllModels()
	if len(models) == 0 {
		return nil, fmt.Errorf("no models available")
	}
	return &models[0], nil
}

// ParseModelString parses "provider/model" format.
func ParseModelString(s string) (providerID, modelID string) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return "", s
}

// modelPriority returns sorting priority for models.
func modelPriority(modelID string) int {
	switch {
	case strings.Contains(modelID, "claude-sonnet-4"):
		return 90
	case strings.Contains(modelID, "claude-opus"):
		return 85
	case strings.Contains(modelID, "gpt-4o"):
		return 80
	case strings.Contains(modelID, "o1"):
		return 75
	case strings.Contains(modelID, "claude-3-5"):
		return 70
	default:
		return 50
	}
}

// InitializeProviders creates and registers all adapters from config.
// Providers whose credentials are missing are skipped, not fatal.
func InitializeProviders(config *types.Config) (*Registry, error) {
	registry := NewRegistry(config)

	if cfg, ok := config.Provider["anthropic"]; ok && !cfg.Disable {
		adapter, err := NewAnthropicAdapter(&AnthropicConfig{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
		})
		if err != nil {
			logging.Warn().Err(err).Msg("skipping anthropic provider")
		} else {
			registry.Register(adapter)
		}
	}

	if cfg, ok := config.Provider["openai"]; ok && !cfg.Disable {
		adapter, err := NewOpenAIAdapter(&OpenAIConfig{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
		})
		if err != nil {
			logging.Warn().Err(err).Msg("skipping openai provider")
		} else {
			registry.Register(adapter)
		}
	}

	if cfg, ok := config.Provider["ollama"]; ok && !cfg.Disable {
		adapter, err := NewOllamaAdapter(&OllamaConfig{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
		})
		if err != nil {
			logging.Warn().Err(err).Msg("skipping ollama provider")
		} else {
			registry.Register(adapter)
		}
	}

	return registry, nil
}
