package llm

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"kraina-desktop/utils"
)

// APIType names a vendor API
type APIType string

const (
	APIOpenAI    APIType = "openai"
	APIAzure     APIType = "azure"
	APIAnthropic APIType = "anthropic"
	APIOllama    APIType = "ollama"
	APIGoogle    APIType = "google"
)

// SupportedAPITypes lists every API type in environment detection order
var SupportedAPITypes = []APIType{APIAzure, APIOpenAI, APIAnthropic, APIGoogle, APIOllama}

// ErrNoProvider is returned when no provider is registered for the selected API type
var ErrNoProvider = errors.New("no LLM provider configured")

// ParseAPIType validates an API type name; the empty string is accepted
func ParseAPIType(s string) (APIType, error) {
	if s == "" {
		return "", nil
	}
	for _, t := range SupportedAPITypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("api type %q is invalid, supported: %v", s, SupportedAPITypes)
}

// Registry holds one provider per API type and the per-API model aliases
type Registry struct {
	mu         sync.RWMutex
	providers  map[APIType]Provider
	modelMap   map[APIType]map[string]string
	defaultAPI APIType
	getenv     func(string) string
}

// NewRegistry creates an empty registry
func NewRegistry(defaultAPI APIType, modelMap map[string]map[string]string) *Registry {
	r := &Registry{
		providers:  make(map[APIType]Provider),
		modelMap:   make(map[APIType]map[string]string),
		defaultAPI: defaultAPI,
		getenv:     os.Getenv,
	}
	for api, aliases := range modelMap {
		r.modelMap[APIType(api)] = aliases
	}
	return r
}

// NewRegistryFromConfig creates providers for every enabled entry of cfg
func NewRegistryFromConfig(cfg *utils.Config, logger *utils.Logger) (*Registry, error) {
	defaultAPI, err := ParseAPIType(cfg.LLM.DefaultAPI)
	if err != nil {
		return nil, err
	}
	r := NewRegistry(defaultAPI, cfg.LLM.MapModel)

	for name, pc := range cfg.LLMProviders {
		if !pc.Enabled {
			continue
		}
		api, err := ParseAPIType(name)
		if err != nil {
			logger.Warn("Skipping provider %s: %v", name, err)
			continue
		}
		pcfg := Config{
			ProviderName: pc.DisplayName,
			APIKey:       pc.APIKey,
			BaseURL:      pc.BaseURL,
			Model:        pc.DefaultModel,
			Models:       pc.Models,
			Timeout:      pc.Timeout,
		}
		if cfg.Proxy.Enabled {
			pcfg.ProxyURL = cfg.Proxy.URL
		}
		p, err := NewProvider(api, pcfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s provider: %w", api, err)
		}
		if err := p.ValidateConfig(); err != nil {
			logger.Warn("Provider %s is not usable: %v", api, err)
			continue
		}
		r.Register(api, p)
		logger.Info("Registered LLM provider %s (%s)", api, p.Name())
	}
	return r, nil
}

// NewProvider creates the adapter for api
func NewProvider(api APIType, cfg Config) (Provider, error) {
	switch api {
	case APIOpenAI:
		return NewOpenAIProvider(cfg)
	case APIAzure:
		return NewAzureProvider(cfg)
	case APIAnthropic:
		return NewClaudeProvider(cfg)
	case APIOllama:
		return NewOllamaProvider(cfg)
	case APIGoogle:
		return NewGeminiProvider(cfg)
	}
	return nil, fmt.Errorf("unsupported api type %q", api)
}

// Register adds or replaces the provider of api
func (r *Registry) Register(api APIType, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[api] = p
}

// APITypes returns the registered API types in a stable order
func (r *Registry) APITypes() []APIType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]APIType, 0, len(r.providers))
	for api := range r.providers {
		out = append(out, api)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Resolve picks the API type for a call: forced (assistant setting), then
// the override, then the configured default, then environment detection.
func (r *Registry) Resolve(forced APIType, overrides RequestOverrides) APIType {
	switch {
	case forced != "":
		return forced
	case overrides.APIType != "":
		return overrides.APIType
	case r.defaultAPI != "":
		return r.defaultAPI
	}
	return r.detect()
}

func (r *Registry) detect() APIType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	env := map[APIType]bool{
		APIAzure:     r.getenv("AZURE_OPENAI_API_KEY") != "" && r.getenv("AZURE_OPENAI_ENDPOINT") != "",
		APIOpenAI:    r.getenv("OPENAI_API_KEY") != "",
		APIAnthropic: r.getenv("ANTHROPIC_API_KEY") != "",
		APIGoogle:    r.getenv("GOOGLE_API_KEY") != "",
	}
	for _, api := range SupportedAPITypes {
		if _, ok := r.providers[api]; ok && env[api] {
			return api
		}
	}
	for _, api := range SupportedAPITypes {
		if _, ok := r.providers[api]; ok {
			return api
		}
	}
	return ""
}

// Select returns the provider for a call together with its API type
func (r *Registry) Select(forced APIType, overrides RequestOverrides) (APIType, Provider, error) {
	api := r.Resolve(forced, overrides)
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[api]
	if !ok {
		if api == "" {
			return "", nil, ErrNoProvider
		}
		return api, nil, fmt.Errorf("%w for api type %q", ErrNoProvider, api)
	}
	return api, p, nil
}

// MapModel translates a model alias for api; unknown names pass through
func (r *Registry) MapModel(api APIType, model string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if mapped, ok := r.modelMap[api][model]; ok && mapped != "" {
		return mapped
	}
	return model
}
