package config

import (
	"fmt"
	"os"

	"github.com/entrhq/harvest/pkg/llm"
	"github.com/entrhq/harvest/pkg/llm/anthropic"
	"github.com/entrhq/harvest/pkg/llm/cache"
	"github.com/entrhq/harvest/pkg/llm/openai"
	"github.com/entrhq/harvest/pkg/logging"
)

// ProviderSettings carries CLI-level overrides for provider construction.
// Empty fields fall through the precedence chain.
type ProviderSettings struct {
	Provider string
	Model    string
	BaseURL  string
	APIKey   string
	NoCache  bool
}

// BuildProvider creates an LLM provider based on configuration precedence:
// CLI flags > Environment variables > Config file > Defaults
func BuildProvider(settings ProviderSettings, logger *logging.Logger) (llm.Provider, error) {
	llmConfig := GetLLM()

	provider := settings.Provider
	if provider == "" && llmConfig != nil {
		provider = llmConfig.GetProvider()
	}
	if provider == "" {
		provider = ProviderOpenAI
	}

	model := settings.Model
	if model == "" && llmConfig != nil {
		model = llmConfig.GetModel()
	}

	baseURL := settings.BaseURL
	if baseURL == "" {
		switch provider {
		case ProviderAnthropic:
			baseURL = os.Getenv("ANTHROPIC_BASE_URL")
		default:
			baseURL = os.Getenv("OPENAI_BASE_URL")
		}
	}
	if baseURL == "" && llmConfig != nil {
		baseURL = llmConfig.GetBaseURL()
	}

	apiKey := settings.APIKey
	if apiKey == "" {
		switch provider {
		case ProviderAnthropic:
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		default:
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
	}
	if apiKey == "" && llmConfig != nil {
		apiKey = llmConfig.GetAPIKey()
	}

	if apiKey == "" {
		return nil, fmt.Errorf("API key is required: set OPENAI_API_KEY or ANTHROPIC_API_KEY, use -api-key, or configure in ~/.harvest/config.json")
	}

	responseCache, err := buildCache(settings.NoCache, llmConfig, logger)
	if err != nil {
		return nil, err
	}

	switch provider {
	case ProviderAnthropic:
		opts := []anthropic.ProviderOption{anthropic.WithLogger(logger)}
		if model != "" {
			opts = append(opts, anthropic.WithModel(model))
		}
		if baseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(baseURL))
		}
		if responseCache != nil {
			opts = append(opts, anthropic.WithCache(responseCache))
		}
		p, err := anthropic.NewProvider(apiKey, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create anthropic provider: %w", err)
		}
		return p, nil

	case ProviderOpenAI:
		opts := []openai.ProviderOption{openai.WithLogger(logger)}
		if model != "" {
			opts = append(opts, openai.WithModel(model))
		}
		if baseURL != "" {
			opts = append(opts, openai.WithBaseURL(baseURL))
		}
		if responseCache != nil {
			opts = append(opts, openai.WithCache(responseCache))
		}
		p, err := openai.NewProvider(apiKey, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create openai provider: %w", err)
		}
		return p, nil
	}

	return nil, fmt.Errorf("unknown provider %q: expected %q or %q", provider, ProviderOpenAI, ProviderAnthropic)
}

// buildCache resolves the response cache from settings. A nil cache disables
// response caching entirely.
func buildCache(noCache bool, llmConfig *LLMSection, logger *logging.Logger) (cache.Cache, error) {
	if noCache {
		return nil, nil
	}

	path := ""
	if llmConfig != nil {
		if !llmConfig.GetCacheEnabled() {
			return nil, nil
		}
		path = llmConfig.GetCachePath()
	}

	fileCache, err := cache.NewFileCache(path, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create response cache: %w", err)
	}
	return fileCache, nil
}
