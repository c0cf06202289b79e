package utils

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. LIGHTCHAT_CHAT_PROVIDER.
const EnvPrefix = "LIGHTCHAT"

// Config represents the application configuration
type Config struct {
	LLMProviders map[string]ProviderConfig `json:"llm_providers" mapstructure:"llm_providers"`
	Chat         ChatConfig                `json:"chat" mapstructure:"chat"`
	Data         DataConfig                `json:"data" mapstructure:"data"`
	Relay        RelayConfig               `json:"relay" mapstructure:"relay"`
	Log          LogConfig                 `json:"log" mapstructure:"log"`
	Proxy        ProxyConfig               `json:"proxy" mapstructure:"proxy"`
	UI           UIConfig                  `json:"ui" mapstructure:"ui"`
}

// ProviderConfig represents LLM provider configuration
type ProviderConfig struct {
	Type         string   `json:"type,omitempty" mapstructure:"type"` // openai, azure, relay, ollama, claude, gemini
	DisplayName  string   `json:"display_name,omitempty" mapstructure:"display_name"`
	APIKey       string   `json:"api_key" mapstructure:"api_key"`
	BaseURL      string   `json:"base_url" mapstructure:"base_url"`
	APIVersion   string   `json:"api_version,omitempty" mapstructure:"api_version"`
	DefaultModel string   `json:"default_model" mapstructure:"default_model"`
	Models       []string `json:"models,omitempty" mapstructure:"models"`
	Enabled      bool     `json:"enabled" mapstructure:"enabled"`
	MaxTokens    int      `json:"max_tokens,omitempty" mapstructure:"max_tokens"`
	Temperature  *float64 `json:"temperature,omitempty" mapstructure:"temperature"` // unset means the provider default
	Timeout      int      `json:"timeout,omitempty" mapstructure:"timeout"` // seconds, connection phase only
}

// ChatConfig configures the conversation core.
type ChatConfig struct {
	Provider        string   `json:"provider" mapstructure:"provider"`
	DefaultModel    string   `json:"default_model" mapstructure:"default_model"`
	ReasoningModels []string `json:"reasoning_models,omitempty" mapstructure:"reasoning_models"`
	AutoTitle       bool     `json:"auto_title" mapstructure:"auto_title"`
}

// DataConfig represents data storage configuration
type DataConfig struct {
	Backend  string      `json:"backend" mapstructure:"backend"` // sqlite, bolt, redis
	DBPath   string      `json:"db_path" mapstructure:"db_path"`
	BoltPath string      `json:"bolt_path,omitempty" mapstructure:"bolt_path"`
	Redis    RedisConfig `json:"redis" mapstructure:"redis"`
}

// RedisConfig holds the redis backend connection settings.
type RedisConfig struct {
	Address  string `json:"address" mapstructure:"address"`
	Password string `json:"password,omitempty" mapstructure:"password"`
	Database int    `json:"database" mapstructure:"database"`
	Prefix   string `json:"prefix,omitempty" mapstructure:"prefix"`
}

// RelayConfig configures the completion relay server.
type RelayConfig struct {
	Listen         string  `json:"listen" mapstructure:"listen"`
	Path           string  `json:"path" mapstructure:"path"`
	Upstream       string  `json:"upstream" mapstructure:"upstream"`
	RateLimitQPS   float64 `json:"rate_limit_qps" mapstructure:"rate_limit_qps"`
	RateLimitBurst int     `json:"rate_limit_burst" mapstructure:"rate_limit_burst"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level   string `json:"level" mapstructure:"level"`
	Console bool   `json:"console" mapstructure:"console"`
}

// UIConfig represents desktop window configuration
type UIConfig struct {
	Theme        string `json:"theme" mapstructure:"theme"` // light, dark, system
	WindowWidth  int    `json:"window_width" mapstructure:"window_width"`
	WindowHeight int    `json:"window_height" mapstructure:"window_height"`
}

// ProxyConfig represents proxy configuration
type ProxyConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	URL     string `json:"url" mapstructure:"url"`
}

// LoadConfig loads configuration from file. Every key can be overridden with an
// environment variable: LIGHTCHAT_ + upper-cased key path joined by underscores.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Expand paths
	config.Data.DBPath = expandPath(config.Data.DBPath)
	config.Data.BoltPath = expandPath(config.Data.BoltPath)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate reports configuration that cannot be wired at startup.
func (c *Config) Validate() error {
	switch c.Data.Backend {
	case "", "sqlite", "bolt", "redis", "memory":
	default:
		return fmt.Errorf("unknown data backend %q", c.Data.Backend)
	}
	if c.Chat.Provider != "" {
		if _, ok := c.LLMProviders[c.Chat.Provider]; !ok {
			return fmt.Errorf("chat provider %q is not configured", c.Chat.Provider)
		}
	}
	if c.Relay.Upstream != "" {
		if _, ok := c.LLMProviders[c.Relay.Upstream]; !ok {
			return fmt.Errorf("relay upstream %q is not configured", c.Relay.Upstream)
		}
	}
	return nil
}

// SaveConfig saves configuration to file
func SaveConfig(configPath string, config *Config) error {
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Ensure directory exists
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// expandPath expands ~ and relative paths
func expandPath(path string) string {
	if len(path) == 0 {
		return path
	}

	if expanded, err := homedir.Expand(path); err == nil {
		path = expanded
	}

	// Make absolute
	absPath, err := filepath.Abs(path)
	if err == nil {
		return absPath
	}

	return path
}

// GetConfigPath returns the default config path
func GetConfigPath() string {
	// Try to get user config directory
	configDir, err := os.UserConfigDir()
	if err != nil {
		// Fallback to current directory
		return "./config/default.json"
	}

	return filepath.Join(configDir, "lightchat", "config.json")
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() *Config {
	return &Config{
		LLMProviders: map[string]ProviderConfig{
			"azure": {
				Type:         "azure",
				DisplayName:  "Azure OpenAI",
				BaseURL:      "https://YOUR-RESOURCE.openai.azure.com",
				APIVersion:   "2024-12-01-preview",
				DefaultModel: "gpt-4o",
				Models:       []string{"gpt-4o", "o3-mini"},
				Enabled:      true,
			},
			"openai": {
				Type:         "openai",
				DisplayName:  "OpenAI",
				BaseURL:      "https://api.openai.com/v1",
				DefaultModel: "gpt-4o",
				Models:       []string{"gpt-4o", "o3-mini"},
				Enabled:      false,
			},
			"relay": {
				Type:         "relay",
				DisplayName:  "Relay",
				BaseURL:      "http://localhost:8787/api/chat",
				DefaultModel: "gpt-4o",
				Enabled:      false,
			},
			"ollama": {
				Type:         "ollama",
				DisplayName:  "Ollama",
				BaseURL:      "http://localhost:11434",
				DefaultModel: "llama3",
				Models:       []string{"llama3", "mistral"},
				Enabled:      false,
			},
			"claude": {
				Type:         "claude",
				DisplayName:  "Claude",
				BaseURL:      "https://api.anthropic.com/v1",
				DefaultModel: "claude-3-5-sonnet-20241022",
				Models:       []string{"claude-3-5-sonnet-20241022", "claude-3-5-haiku-20241022"},
				Enabled:      false,
			},
			"gemini": {
				Type:         "gemini",
				DisplayName:  "Gemini",
				BaseURL:      "https://generativelanguage.googleapis.com/v1beta",
				DefaultModel: "gemini-1.5-flash",
				Models:       []string{"gemini-1.5-flash", "gemini-1.5-pro"},
				Enabled:      false,
			},
		},
		Chat: ChatConfig{
			Provider:        "azure",
			DefaultModel:    "gpt-4o",
			ReasoningModels: []string{"o3-mini"},
			AutoTitle:       true,
		},
		Data: DataConfig{
			Backend:  "sqlite",
			DBPath:   "./data/chat.db",
			BoltPath: "./data/chat.bolt",
			Redis: RedisConfig{
				Address: "localhost:6379",
				Prefix:  "lightchat:",
			},
		},
		Relay: RelayConfig{
			Listen:         ":8787",
			Path:           "/api/chat",
			Upstream:       "azure",
			RateLimitQPS:   5,
			RateLimitBurst: 10,
		},
		Log: LogConfig{
			Level: "info",
		},
		UI: UIConfig{
			Theme:        "system",
			WindowWidth:  1000,
			WindowHeight: 700,
		},
	}
}

// EnsureDefaultConfig creates a default config file if it doesn't exist
func EnsureDefaultConfig() (string, error) {
	configPath := GetConfigPath()

	// Check if config exists
	if _, err := os.Stat(configPath); err == nil {
		return configPath, nil
	}

	if err := SaveConfig(configPath, DefaultConfig()); err != nil {
		return "", err
	}

	return configPath, nil
}
