package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Loader handles configuration loading.
type Loader struct {
	configPath string
}

// NewLoader creates a config loader. An empty path uses the default location
// under the user's home directory.
func NewLoader(configPath string) *Loader {
	return &Loader{configPath: configPath}
}

func defaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".mini-agent", "config.json"), nil
}

// Load reads the configuration file, applying environment overrides with the
// MINIAGENT_ prefix. A missing file yields the defaults.
func (l *Loader) Load() (*Config, error) {
	configPath := l.configPath
	if configPath == "" {
		var err error
		configPath, err = defaultConfigPath()
		if err != nil {
			return nil, err
		}
	}

	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")
	v.SetEnvPrefix("MINIAGENT")
	v.AutomaticEnv()

	if _, err := os.Stat(configPath); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	// API key may come from the environment instead of the file.
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = os.Getenv("MINIAGENT_API_KEY")
	}

	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".mini-agent")
	}
	if cfg.MemoryFile == "" {
		cfg.MemoryFile = filepath.Join(cfg.DataDir, "agent_memory.json")
	}
	if cfg.MCPConfig == "" {
		cfg.MCPConfig = filepath.Join(cfg.DataDir, "mcp.json")
	}

	return cfg, nil
}

// Load is a convenience function that creates a loader and loads the config.
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}
