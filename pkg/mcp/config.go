package mcp

import (
	"encoding/json"
	"fmt"
	"os"
)

// ServerConfig describes one external tool provider: how to launch it, which
// credentials to pass, and whether it is enabled.
type ServerConfig struct {
	Command  string            `json:"command"`
	Args     []string          `json:"args,omitempty"`
	Env      map[string]string `json:"env,omitempty"`
	Disabled bool              `json:"disabled,omitempty"`
}

// Config is the on-disk provider configuration (mcp.json).
type Config struct {
	Servers map[string]ServerConfig `json:"mcpServers"`
}

// LoadConfig reads the provider configuration. A missing file means no
// providers are configured and is not an error.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("failed to read MCP config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse MCP config: %w", err)
	}

	return cfg, nil
}
