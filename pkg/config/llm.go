package config

import (
	"fmt"
	"sync"
)

const (
	// SectionIDLLM is the identifier for the LLM settings section
	SectionIDLLM = "llm"

	// ProviderOpenAI selects the OpenAI-compatible backend
	ProviderOpenAI = "openai"
	// ProviderAnthropic selects the Anthropic Messages backend
	ProviderAnthropic = "anthropic"
)

// LLMSection manages LLM backend configuration settings.
type LLMSection struct {
	Provider     string
	Model        string
	BaseURL      string
	APIKey       string
	CacheEnabled bool
	CachePath    string
	mu           sync.RWMutex
}

// NewLLMSection creates a new LLM section with default settings.
func NewLLMSection() *LLMSection {
	return &LLMSection{
		Provider:     ProviderOpenAI,
		CacheEnabled: true,
	}
}

// ID returns the section identifier.
func (s *LLMSection) ID() string {
	return SectionIDLLM
}

// Title returns the section title.
func (s *LLMSection) Title() string {
	return "LLM Settings"
}

// Description returns the section description.
func (s *LLMSection) Description() string {
	return "Configure the LLM backend used for extraction. provider selects openai or anthropic; cache_path defaults to ~/.harvest/cache.json when caching is enabled."
}

// Data returns the current configuration data.
func (s *LLMSection) Data() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]interface{}{
		"provider":      s.Provider,
		"model":         s.Model,
		"base_url":      s.BaseURL,
		"api_key":       s.APIKey,
		"cache_enabled": s.CacheEnabled,
		"cache_path":    s.CachePath,
	}
}

// SetData updates the configuration from the provided data.
func (s *LLMSection) SetData(data map[string]interface{}) error {
	if data == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if provider, ok := data["provider"].(string); ok {
		s.Provider = provider
	}

	if model, ok := data["model"].(string); ok {
		s.Model = model
	}

	if baseURL, ok := data["base_url"].(string); ok {
		s.BaseURL = baseURL
	}

	if apiKey, ok := data["api_key"].(string); ok {
		s.APIKey = apiKey
	}

	if cacheEnabled, ok := data["cache_enabled"].(bool); ok {
		s.CacheEnabled = cacheEnabled
	}

	if cachePath, ok := data["cache_path"].(string); ok {
		s.CachePath = cachePath
	}

	return nil
}

// Validate validates the current configuration.
func (s *LLMSection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch s.Provider {
	case "", ProviderOpenAI, ProviderAnthropic:
		return nil
	}
	return fmt.Errorf("unknown provider %q: expected %q or %q", s.Provider, ProviderOpenAI, ProviderAnthropic)
}

// Reset resets the section to default configuration.
func (s *LLMSection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Provider = ProviderOpenAI
	s.Model = ""
	s.BaseURL = ""
	s.APIKey = ""
	s.CacheEnabled = true
	s.CachePath = ""
}

// GetProvider returns the configured provider name.
func (s *LLMSection) GetProvider() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Provider
}

// SetProvider sets the provider name.
func (s *LLMSection) SetProvider(provider string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Provider = provider
}

// GetModel returns the configured model name.
func (s *LLMSection) GetModel() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Model
}

// SetModel sets the model name.
func (s *LLMSection) SetModel(model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Model = model
}

// GetBaseURL returns the configured base URL.
func (s *LLMSection) GetBaseURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.BaseURL
}

// SetBaseURL sets the base URL.
func (s *LLMSection) SetBaseURL(baseURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.BaseURL = baseURL
}

// GetAPIKey returns the configured API key.
func (s *LLMSection) GetAPIKey() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.APIKey
}

// SetAPIKey sets the API key.
func (s *LLMSection) SetAPIKey(apiKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.APIKey = apiKey
}

// GetCacheEnabled returns whether response caching is enabled.
func (s *LLMSection) GetCacheEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.CacheEnabled
}

// SetCacheEnabled toggles response caching.
func (s *LLMSection) SetCacheEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CacheEnabled = enabled
}

// GetCachePath returns the configured cache file path.
// An empty string means the default location.
func (s *LLMSection) GetCachePath() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.CachePath
}

// SetCachePath sets the cache file path.
func (s *LLMSection) SetCachePath(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CachePath = path
}
