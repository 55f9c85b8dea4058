// Package providers adapts the provider-neutral transport request to each
// LLM vendor's chat API.
package providers

import (
	"fmt"

	"github.com/ahrav/go-arena/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-arena/internal/llm/errors"
	"github.com/ahrav/go-arena/internal/llm/transport"
)

// Supported LLM provider identifiers. They must match configuration keys.
const (
	ProviderOpenAI    = "openai"    // OpenAI chat completions
	ProviderAnthropic = "anthropic" // Anthropic messages API
)

// NewRouter creates a router with one adapter per configured provider.
func NewRouter(configs map[string]configuration.ProviderConfig) (transport.Router, error) {
	adapters := make(map[string]transport.ProviderAdapter, len(configs))

	for name, cfg := range configs {
		var adapter transport.ProviderAdapter
		switch name {
		case ProviderOpenAI:
			adapter = NewOpenAIAdapter(cfg)
		case ProviderAnthropic:
			adapter = NewAnthropicAdapter(cfg)
		default:
			return nil, fmt.Errorf("%w: %s", llmerrors.ErrUnknownProvider, name)
		}
		adapters[name] = adapter
	}

	return &router{adapters: adapters}, nil
}

type router struct {
	adapters map[string]transport.ProviderAdapter
}

// Pick selects the adapter for provider. Models are not restricted; the
// provider rejects unknown ones with a validation error.
func (r *router) Pick(provider, _ string) (transport.ProviderAdapter, error) {
	adapter, ok := r.adapters[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", llmerrors.ErrUnknownProvider, provider)
	}
	return adapter, nil
}
