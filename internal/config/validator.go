package config

import (
	"fmt"
)

var supportedProviders = map[string]bool{
	"anthropic": true,
	"openai":    true,
}

// Validate checks the configuration for recognized values and consistent
// bounds. It is called once at startup so a bad configuration fails fast
// instead of surfacing mid-run.
func (c *Config) Validate() error {
	if !supportedProviders[c.LLM.Provider] {
		return fmt.Errorf("unsupported llm provider: %q", c.LLM.Provider)
	}
	if c.LLM.APIKey == "" {
		return fmt.Errorf("llm api key is required (set llm.api_key or MINIAGENT_API_KEY)")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm model is required")
	}
	if c.LLM.MaxTokens < 0 {
		return fmt.Errorf("llm max_tokens cannot be negative")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 1 {
		return fmt.Errorf("llm temperature must be between 0 and 1")
	}

	if c.Agent.MaxSteps <= 0 {
		return fmt.Errorf("agent max_steps must be positive")
	}
	if c.Agent.MaxRetries < 0 {
		return fmt.Errorf("agent max_retries cannot be negative")
	}
	if c.Agent.ParallelTools < 0 {
		return fmt.Errorf("agent parallel_tools cannot be negative")
	}

	return nil
}
