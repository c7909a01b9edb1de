// Package config handles configuration loading and management for the
// engine. It supports XDG config paths, project-level overrides, and
// environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the engine.
type Config struct {
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Pool      PoolConfig      `mapstructure:"pool"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Quality   QualityConfig   `mapstructure:"quality"`
	Journal   JournalConfig   `mapstructure:"journal"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	// APIKey is the Anthropic API key. ${VAR} references are expanded.
	APIKey string `mapstructure:"api_key"`
	// Model is the model identifier used for oracle calls.
	Model string `mapstructure:"model"`
	// UseBedrock routes oracle calls through AWS Bedrock.
	UseBedrock bool `mapstructure:"use_bedrock"`
	// MaxTokens caps tokens per oracle completion.
	MaxTokens int64 `mapstructure:"max_tokens"`
}

// PoolConfig holds worker pool settings.
type PoolConfig struct {
	// Workers is the number of pool workers.
	Workers int `mapstructure:"workers"`
	// Timeout is the per-task execution timeout.
	Timeout time.Duration `mapstructure:"timeout"`
	// Capabilities is the capability set granted to each worker.
	Capabilities []string `mapstructure:"capabilities"`
}

// ExecutionConfig holds retry and concurrency settings.
type ExecutionConfig struct {
	// MaxRetries caps total attempts per task.
	MaxRetries int `mapstructure:"max_retries"`
	// RetryDelay is slept between attempts.
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	// MaxConcurrency bounds parallel batch width.
	MaxConcurrency int `mapstructure:"max_concurrency"`
}

// QualityConfig holds quality controller settings.
type QualityConfig struct {
	// ConfigFile points at the YAML quality tuning file, optional.
	ConfigFile string `mapstructure:"config_file"`
	// Watch enables hot reload of the quality tuning file.
	Watch bool `mapstructure:"watch"`
}

// JournalConfig holds execution journal settings.
type JournalConfig struct {
	// Path is the SQLite database location. Empty disables the journal.
	Path string `mapstructure:"path"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY)
// 2. Project config (.taskmesh.yaml in current directory or parent)
// 3. User config (~/.config/taskmesh/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	// Project config takes precedence over the user config.
	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// Save writes the current configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	configPath := filepath.Join(userConfigDir, "config.yaml")

	v := viper.New()
	v.SetConfigFile(configPath)

	v.Set("anthropic.api_key", cfg.Anthropic.APIKey)
	v.Set("anthropic.model", cfg.Anthropic.Model)
	v.Set("anthropic.use_bedrock", cfg.Anthropic.UseBedrock)
	v.Set("anthropic.max_tokens", cfg.Anthropic.MaxTokens)
	v.Set("pool.workers", cfg.Pool.Workers)
	v.Set("pool.timeout", cfg.Pool.Timeout.String())
	v.Set("pool.capabilities", cfg.Pool.Capabilities)
	v.Set("execution.max_retries", cfg.Execution.MaxRetries)
	v.Set("execution.retry_delay", cfg.Execution.RetryDelay.String())
	v.Set("execution.max_concurrency", cfg.Execution.MaxConcurrency)
	v.Set("quality.config_file", cfg.Quality.ConfigFile)
	v.Set("quality.watch", cfg.Quality.Watch)
	v.Set("journal.path", cfg.Journal.Path)

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", "claude-sonnet-4-20250514")
	v.SetDefault("anthropic.use_bedrock", false)
	v.SetDefault("anthropic.max_tokens", 4096)

	v.SetDefault("pool.workers", 5)
	v.SetDefault("pool.timeout", "30s")
	v.SetDefault("pool.capabilities", []string{"general"})

	v.SetDefault("execution.max_retries", 3)
	v.SetDefault("execution.retry_delay", "1s")
	v.SetDefault("execution.max_concurrency", 5)

	v.SetDefault("quality.config_file", "")
	v.SetDefault("quality.watch", false)

	v.SetDefault("journal.path", "")
}

// getUserConfigDir returns the XDG config directory for the engine.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "taskmesh")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "taskmesh")
	}
	return filepath.Join(home, ".config", "taskmesh")
}

// findProjectConfig searches for .taskmesh.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".taskmesh.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Anthropic: AnthropicConfig{
			Model:     "claude-sonnet-4-20250514",
			MaxTokens: 4096,
		},
		Pool: PoolConfig{
			Workers:      5,
			Timeout:      30 * time.Second,
			Capabilities: []string{"general"},
		},
		Execution: ExecutionConfig{
			MaxRetries:     3,
			RetryDelay:     time.Second,
			MaxConcurrency: 5,
		},
	}
}
