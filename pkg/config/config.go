package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	AnthropicAPIKey string
	OpenAIAPIKey    string
	GoogleAPIKey    string

	HomeDir        string
	ModelsPath     string
	RoutingPath    string
	ConditionsPath string
	ToolsPath      string
	RewardsPath    string
	TracePath      string

	LogLevel        string
	Offline         bool
	AllowPrivileged bool

	Models  *ModelsConfig
	Routing *RoutingConfig
}

// FileConfig represents the structure of ~/.sentinel/config.yaml
type FileConfig struct {
	APIKeys         APIKeysConfig `yaml:"api_keys"`
	Paths           PathsConfig   `yaml:"paths"`
	LogLevel        string        `yaml:"log_level"`
	Offline         bool          `yaml:"offline"`
	AllowPrivileged bool          `yaml:"allow_privileged"`
}

// APIKeysConfig holds API key configuration from file.
type APIKeysConfig struct {
	Anthropic string `yaml:"anthropic"`
	OpenAI    string `yaml:"openai"`
	Google    string `yaml:"google"`
}

// PathsConfig overrides the location of individual configuration files.
// Relative paths are resolved against the config directory.
type PathsConfig struct {
	Models     string `yaml:"models"`
	Routing    string `yaml:"routing"`
	Conditions string `yaml:"conditions"`
	Tools      string `yaml:"tools"`
	Rewards    string `yaml:"rewards"`
	Traces     string `yaml:"traces"`
}

// Load reads configuration from the default config directory.
// Environment variables take precedence over file configuration.
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom reads configuration rooted at home. An empty home selects
// $SENTINEL_HOME or ~/.sentinel.
func LoadFrom(home string) (*Config, error) {
	if home == "" {
		dir, err := getConfigDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get config directory: %w", err)
		}
		home = dir
	}

	fileConfig, err := loadFileConfig(filepath.Join(home, "config.yaml"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		AnthropicAPIKey: getEnvOrDefault("ANTHROPIC_API_KEY", fileConfig.APIKeys.Anthropic),
		OpenAIAPIKey:    getEnvOrDefault("OPENAI_API_KEY", fileConfig.APIKeys.OpenAI),
		GoogleAPIKey:    getEnvOrDefault("GOOGLE_API_KEY", fileConfig.APIKeys.Google),
		HomeDir:         home,
		ModelsPath:      resolvePath(home, fileConfig.Paths.Models, "models.toml"),
		RoutingPath:     resolvePath(home, fileConfig.Paths.Routing, "routing.yaml"),
		ConditionsPath:  resolvePath(home, fileConfig.Paths.Conditions, "conditions.yaml"),
		ToolsPath:       resolvePath(home, fileConfig.Paths.Tools, "tools.yaml"),
		RewardsPath:     resolvePath(home, fileConfig.Paths.Rewards, "rewards.yaml"),
		TracePath:       resolvePath(home, fileConfig.Paths.Traces, filepath.Join("traces", "rl_trace.jsonl")),
		LogLevel:        getEnvOrDefault("SENTINEL_LOG_LEVEL", fileConfig.LogLevel),
		Offline:         getEnvBool("SENTINEL_OFFLINE", fileConfig.Offline),
		AllowPrivileged: getEnvBool("SENTINEL_ALLOW_PRIVILEGED", fileConfig.AllowPrivileged),
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	if fileExists(cfg.ModelsPath) {
		models, err := LoadModels(cfg.ModelsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load models config: %w", err)
		}
		cfg.Models = models
	} else {
		cfg.Models = DefaultModels()
	}

	if fileExists(cfg.RoutingPath) {
		routing, err := LoadRoutingConfig(cfg.RoutingPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load routing config: %w", err)
		}
		cfg.Routing = routing
	} else {
		cfg.Routing = DefaultRoutingConfig()
	}

	if err := cfg.Routing.Validate(cfg.Models); err != nil {
		return nil, fmt.Errorf("invalid routing config: %w", err)
	}

	return cfg, nil
}

// HasProvider returns true if credentials for a remote provider are configured.
// Local providers never need credentials.
func (c *Config) HasProvider(provider string) bool {
	switch provider {
	case "anthropic":
		return c.AnthropicAPIKey != ""
	case "openai":
		return c.OpenAIAPIKey != ""
	case "google":
		return c.GoogleAPIKey != ""
	default:
		return true
	}
}

// loadFileConfig reads the config file, returning empty config if not found.
func loadFileConfig(path string) (*FileConfig, error) {
	cfg := &FileConfig{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// getEnvOrDefault returns the environment variable value if set,
// otherwise returns the default value.
func getEnvOrDefault(envVar, defaultValue string) string {
	if val := os.Getenv(envVar); val != "" {
		return val
	}
	return defaultValue
}

func getEnvBool(envVar string, defaultValue bool) bool {
	val := os.Getenv(envVar)
	if val == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func resolvePath(home, configured, fallback string) string {
	if configured == "" {
		return filepath.Join(home, fallback)
	}
	if filepath.IsAbs(configured) {
		return configured
	}
	return filepath.Join(home, configured)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func getConfigDir() (string, error) {
	if dir := os.Getenv("SENTINEL_HOME"); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", err
		}
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	configDir := filepath.Join(home, ".sentinel")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", err
	}
	return configDir, nil
}
