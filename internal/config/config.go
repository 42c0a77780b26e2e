package config

import (
	"github.com/yann0001/mini-agent/internal/logger"
)

// LLMConfig configures the model provider.
type LLMConfig struct {
	Provider    string  `json:"provider" mapstructure:"provider"`
	APIKey      string  `json:"api_key" mapstructure:"api_key"`
	APIBase     string  `json:"api_base,omitempty" mapstructure:"api_base"`
	Model       string  `json:"model" mapstructure:"model"`
	MaxTokens   int     `json:"max_tokens,omitempty" mapstructure:"max_tokens"`
	Temperature float64 `json:"temperature,omitempty" mapstructure:"temperature"`
}

// AgentConfig configures the agent loop.
type AgentConfig struct {
	SystemPrompt  string `json:"system_prompt,omitempty" mapstructure:"system_prompt"`
	MaxSteps      int    `json:"max_steps,omitempty" mapstructure:"max_steps"`
	MaxRetries    int    `json:"max_retries,omitempty" mapstructure:"max_retries"`
	ParallelTools int    `json:"parallel_tools,omitempty" mapstructure:"parallel_tools"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level  string `json:"level,omitempty" mapstructure:"level"`
	File   string `json:"file,omitempty" mapstructure:"file"`
	Pretty bool   `json:"pretty,omitempty" mapstructure:"pretty"`
}

// Config is the full application configuration.
type Config struct {
	DataDir    string        `json:"data_dir,omitempty" mapstructure:"data_dir"`
	Workspace  string        `json:"workspace,omitempty" mapstructure:"workspace"`
	MemoryFile string        `json:"memory_file,omitempty" mapstructure:"memory_file"`
	MCPConfig  string        `json:"mcp_config,omitempty" mapstructure:"mcp_config"`
	LLM        LLMConfig     `json:"llm" mapstructure:"llm"`
	Agent      AgentConfig   `json:"agent,omitempty" mapstructure:"agent"`
	Logging    LoggingConfig `json:"logging,omitempty" mapstructure:"logging"`
}

// DefaultConfig returns the configuration defaults.
func DefaultConfig() *Config {
	return &Config{
		Workspace: ".",
		LLM: LLMConfig{
			Provider:  "anthropic",
			Model:     "claude-sonnet-4-20250514",
			MaxTokens: 16384,
		},
		Agent: AgentConfig{
			MaxSteps:      20,
			MaxRetries:    3,
			ParallelTools: 4,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Pretty: true,
		},
	}
}

// LoggerConfig converts the logging section into a logger configuration.
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:   c.Logging.Level,
		File:    c.Logging.File,
		Console: true,
		Pretty:  c.Logging.Pretty,
	}
}
