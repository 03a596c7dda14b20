package llm

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"biotutor/internal/config"
)

// Factory builds a Client from one model endpoint configuration.
type Factory func(cfg config.ModelConfig) (Client, error)

// Registry maps provider identifiers to client constructors. It replaces
// string-prefix sniffing of model names with an explicit lookup.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a registry with the built-in providers registered.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register("openai", NewOpenAIClient)
	return r
}

// Register adds or replaces a provider constructor.
func (r *Registry) Register(provider string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[strings.ToLower(provider)] = factory
}

// New builds a client for cfg.Provider. Unknown providers fail with the list
// of registered ones so misconfiguration is obvious.
func (r *Registry) New(cfg config.ModelConfig) (Client, error) {
	provider := strings.ToLower(cfg.Provider)
	if provider == "" {
		provider = "openai"
	}

	r.mu.RLock()
	factory, ok := r.factories[provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown provider %q (registered: %s)", cfg.Provider, strings.Join(r.providers(), ", "))
	}
	return factory(cfg)
}

func (r *Registry) providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolver picks the effective model for a role: the session override when it
// supplies one, otherwise the process-wide default. Constructed once at
// startup and read-only thereafter.
type Resolver struct {
	registry *Registry
	defaults config.ModelsConfig
}

// NewResolver builds a resolver over the given defaults.
func NewResolver(registry *Registry, defaults config.ModelsConfig) *Resolver {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Resolver{registry: registry, defaults: defaults}
}

// Resolve returns a client for role. A non-nil override replaces the default
// endpoint field-by-field; an override without a credential keeps the default
// credential (fallback-to-default policy).
func (r *Resolver) Resolve(role config.Role, override *config.ModelConfig) (Client, error) {
	cfg := r.defaults.ForRole(role)
	if override != nil {
		if override.Provider != "" {
			cfg.Provider = override.Provider
		}
		if override.Model != "" {
			cfg.Model = override.Model
		}
		if override.APIKey != "" {
			cfg.APIKey = override.APIKey
		}
		if override.BaseURL != "" {
			cfg.BaseURL = override.BaseURL
		}
		if override.Temperature > 0 {
			cfg.Temperature = override.Temperature
		}
		if override.MaxTokens > 0 {
			cfg.MaxTokens = override.MaxTokens
		}
		if override.Timeout > 0 {
			cfg.Timeout = override.Timeout
		}
	}
	return r.registry.New(cfg)
}

// ResolveStreaming resolves a role and guarantees streaming support.
func (r *Resolver) ResolveStreaming(role config.Role, override *config.ModelConfig) (StreamingClient, error) {
	client, err := r.Resolve(role, override)
	if err != nil {
		return nil, err
	}
	return EnsureStreaming(client), nil
}

// Defaults exposes the effective default config for a role, used by prompt
// assembly to read temperature and token limits.
func (r *Resolver) Defaults(role config.Role) config.ModelConfig {
	return r.defaults.ForRole(role)
}
