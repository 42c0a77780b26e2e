package agent

import (
	"context"
	"fmt"
)

// Provider is the model boundary: given the conversation and the available
// tool descriptors, return either a final answer or tool call requests.
type Provider interface {
	// Complete makes a single model call.
	Complete(ctx context.Context, request Request) (*Response, error)

	// Name returns the provider name.
	Name() string
}

// NewProvider creates a provider by name.
func NewProvider(name, apiKey, baseURL string) (Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key is required for provider %s", name)
	}

	switch name {
	case "anthropic":
		return NewAnthropicProvider(apiKey, baseURL), nil
	case "openai":
		return NewOpenAIProvider(apiKey, baseURL), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", name)
	}
}
