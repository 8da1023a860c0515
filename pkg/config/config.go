package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Config holds the application configuration.
type Config struct {
	AnthropicAPIKey string
	OpenAIAPIKey    string
	GoogleAPIKey    string
	DeepSeekAPIKey  string
	Cascade         *CascadeConfig
	ConfigDir       string
}

// Load reads API keys from the environment and the cascade file from the config dir.
// API keys are never read from files.
func Load() (*Config, error) {
	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}

	cfg := envConfig(configDir)

	cascadePath := filepath.Join(configDir, "cascade.yaml")
	if _, err := os.Stat(cascadePath); err == nil {
		cascade, err := LoadCascadeConfig(cascadePath)
		if err != nil {
			return nil, fmt.Errorf("failed to load cascade config: %w", err)
		}
		cfg.Cascade = cascade
	} else {
		cfg.Cascade = DefaultCascadeConfig()
	}

	return cfg, nil
}

// LoadWithCascadeFile loads config with a specific cascade file.
func LoadWithCascadeFile(cascadePath string) (*Config, error) {
	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}

	cfg := envConfig(configDir)

	cascade, err := LoadCascadeConfig(cascadePath)
	if err != nil {
		return nil, fmt.Errorf("failed to load cascade config from %s: %w", cascadePath, err)
	}
	cfg.Cascade = cascade

	return cfg, nil
}

func envConfig(configDir string) *Config {
	return &Config{
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		GoogleAPIKey:    os.Getenv("GOOGLE_API_KEY"),
		DeepSeekAPIKey:  os.Getenv("DEEPSEEK_API_KEY"),
		ConfigDir:       configDir,
	}
}

// HasAdapter returns true if the API key for the given adapter is configured.
func (c *Config) HasAdapter(name string) bool {
	switch name {
	case "anthropic":
		return c.AnthropicAPIKey != ""
	case "openai":
		return c.OpenAIAPIKey != ""
	case "google":
		return c.GoogleAPIKey != ""
	case "deepseek":
		return c.DeepSeekAPIKey != ""
	case "mock":
		return true
	default:
		return false
	}
}

func getConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	configDir := filepath.Join(home, ".cascadegate")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", err
	}
	return configDir, nil
}
