package providers

import (
	"fmt"
	"strings"
	"time"

	"github.com/kdf-labs/empathicbot/pkg/config"
)

const (
	ProviderOpenRouter = "openrouter"
	ProviderAnthropic  = "anthropic"
	ProviderLocal      = "local"
)

func NormalizeProviderName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return ProviderOpenRouter
	}
	return name
}

// CreateGenerator builds the configured generation backend wrapped in the
// fallback chain.
func CreateGenerator(cfg *config.Config) (Generator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	var (
		inner Generator
		err   error
	)
	switch name := NormalizeProviderName(cfg.Providers.Generation); name {
	case ProviderOpenRouter:
		inner, err = NewOpenRouterProvider(
			cfg.Providers.OpenRouter.APIKey,
			cfg.OpenRouterAPIBase(),
			cfg.Providers.OpenRouter.Model,
			cfg.Providers.OpenRouter.EmbeddingModel,
			cfg.Providers.OpenRouter.Proxy,
			time.Duration(cfg.Providers.TimeoutSeconds)*time.Second,
		)
	case ProviderAnthropic:
		inner, err = NewAnthropicProvider(cfg.Providers.Anthropic.APIKey, cfg.Providers.Anthropic.Model)
	default:
		return nil, fmt.Errorf("unsupported generation provider %q: supported providers are %s, %s", name, ProviderOpenRouter, ProviderAnthropic)
	}
	if err != nil {
		return nil, err
	}
	return NewFallbackGenerator(inner, cfg.Providers.FallbackModels), nil
}

// CreateEmbedder builds the embedding backend. With no OpenRouter key or
// an explicit local model configured, the deterministic local embedder is
// used instead of the network.
func CreateEmbedder(cfg *config.Config) (Embedder, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	if cfg.Memory.LocalEmbedder != "" || strings.TrimSpace(cfg.Providers.OpenRouter.APIKey) == "" {
		return NewLocalEmbedder(cfg.Memory.LocalEmbedder), nil
	}

	return NewOpenRouterProvider(
		cfg.Providers.OpenRouter.APIKey,
		cfg.OpenRouterAPIBase(),
		cfg.Providers.OpenRouter.Model,
		cfg.Providers.OpenRouter.EmbeddingModel,
		cfg.Providers.OpenRouter.Proxy,
		time.Duration(cfg.Providers.TimeoutSeconds)*time.Second,
	)
}
