package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// Config represents the application configuration
type Config struct {
	LLMProviders map[string]ProviderConfig `json:"llm_providers"` // keyed by api type
	LLM          LLMConfig                 `json:"llm"`
	UI           UIConfig                  `json:"ui"`
	Data         DataConfig                `json:"data"`
	Proxy        ProxyConfig               `json:"proxy"`
	Assets       AssetsConfig              `json:"assets"`
	IPC          IPCConfig                 `json:"ipc"`
	Metrics      MetricsConfig             `json:"metrics"`
	Tools        ToolsConfig               `json:"tools"`
	LogLevel     string                    `json:"log_level,omitempty"`
}

// ProviderConfig represents LLM provider configuration
type ProviderConfig struct {
	DisplayName  string   `json:"display_name,omitempty"`
	APIKey       string   `json:"api_key"`
	BaseURL      string   `json:"base_url"`
	DefaultModel string   `json:"default_model"`
	Models       []string `json:"models,omitempty"`
	Enabled      bool     `json:"enabled"`
	Timeout      int      `json:"timeout,omitempty"` // seconds
}

// LLMConfig selects the default vendor and maps model aliases per vendor
type LLMConfig struct {
	DefaultAPI          string                       `json:"default_api,omitempty"`
	MapModel            map[string]map[string]string `json:"map_model,omitempty"`
	ForceAPIForSnippets string                       `json:"force_api_for_snippets,omitempty"`
}

// UIConfig represents UI configuration
type UIConfig struct {
	WindowWidth    int  `json:"window_width"`
	WindowHeight   int  `json:"window_height"`
	MinimizeToTray bool `json:"minimize_to_tray"`
	ShowHidden     bool `json:"show_hidden_chats"`
	ChatListLimit  int  `json:"chat_list_limit"`
}

// DataConfig represents data storage configuration
type DataConfig struct {
	DBPath     string `json:"db_path"`
	MaxHistory int    `json:"max_history"`
}

// ProxyConfig represents proxy configuration
type ProxyConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url"`
}

// AssetsConfig lists the folders scanned for assistants and snippets
type AssetsConfig struct {
	AssistantDirs []string `json:"assistant_dirs"`
	SnippetDirs   []string `json:"snippet_dirs"`
	Watch         bool     `json:"watch"`
}

// IPCConfig configures the local command host
type IPCConfig struct {
	Enabled        bool   `json:"enabled"`
	Address        string `json:"address"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// MetricsConfig configures the metrics endpoint; empty ListenAddr disables it
type MetricsConfig struct {
	ListenAddr string `json:"listen_addr"`
}

// ToolsConfig configures the built-in tools
type ToolsConfig struct {
	SandboxRoot       string `json:"sandbox_root"`
	TextToTextSnippet string `json:"text_to_text_snippet"`
}

var providerEnv = map[string]struct{ key, url string }{
	"openai":    {key: "OPENAI_API_KEY"},
	"azure":     {key: "AZURE_OPENAI_API_KEY", url: "AZURE_OPENAI_ENDPOINT"},
	"anthropic": {key: "ANTHROPIC_API_KEY"},
	"google":    {key: "GOOGLE_API_KEY"},
	"ollama":    {url: "OLLAMA_ENDPOINT"},
}

// LoadConfig loads configuration from file. A .env file next to the working
// directory is loaded first; API keys missing from the file are taken from
// the environment.
func LoadConfig(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	config.applyDefaults()
	config.applyEnv()

	if config.Data.DBPath != "" {
		config.Data.DBPath = expandPath(config.Data.DBPath)
	}
	for i, dir := range config.Assets.AssistantDirs {
		config.Assets.AssistantDirs[i] = expandPath(dir)
	}
	for i, dir := range config.Assets.SnippetDirs {
		config.Assets.SnippetDirs[i] = expandPath(dir)
	}
	if config.Tools.SandboxRoot != "" {
		config.Tools.SandboxRoot = expandPath(config.Tools.SandboxRoot)
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.LLMProviders == nil {
		c.LLMProviders = make(map[string]ProviderConfig)
	}
	if c.IPC.Address == "" {
		c.IPC.Address = "127.0.0.1:8998"
	}
	if c.IPC.TimeoutSeconds <= 0 {
		c.IPC.TimeoutSeconds = 30
	}
	if c.UI.ChatListLimit <= 0 {
		c.UI.ChatListLimit = 30
	}
	if c.Data.DBPath == "" {
		c.Data.DBPath = "./data/kraina.db"
	}
}

func (c *Config) applyEnv() {
	for api, env := range providerEnv {
		pc := c.LLMProviders[api]
		changed := false
		if pc.APIKey == "" && env.key != "" {
			if v := os.Getenv(env.key); v != "" {
				pc.APIKey = v
				changed = true
			}
		}
		if pc.BaseURL == "" && env.url != "" {
			if v := os.Getenv(env.url); v != "" {
				pc.BaseURL = v
				changed = true
			}
		}
		if changed {
			if _, exists := c.LLMProviders[api]; !exists {
				pc.Enabled = true
			}
			c.LLMProviders[api] = pc
		}
	}
}

// SaveConfig saves configuration to file
func SaveConfig(configPath string, config *Config) error {
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

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

	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[1:])
		}
	}

	absPath, err := filepath.Abs(path)
	if err == nil {
		return absPath
	}

	return path
}

// GetConfigPath returns the default config path
func GetConfigPath() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "./config/default.json"
	}

	return filepath.Join(configDir, "kraina", "config.json")
}

// DefaultConfig returns the configuration written on first start
func DefaultConfig() *Config {
	return &Config{
		LLMProviders: map[string]ProviderConfig{
			"openai": {
				DisplayName:  "OpenAI",
				BaseURL:      "https://api.openai.com/v1",
				DefaultModel: "gpt-4o-mini",
				Enabled:      true,
			},
			"anthropic": {
				DisplayName:  "Anthropic",
				BaseURL:      "https://api.anthropic.com/v1",
				DefaultModel: "claude-3-5-sonnet-20241022",
			},
			"google": {
				DisplayName:  "Gemini",
				DefaultModel: "gemini-1.5-flash",
			},
			"ollama": {
				DisplayName:  "Ollama",
				BaseURL:      "http://localhost:11434",
				DefaultModel: "llama3.1",
			},
		},
		LLM: LLMConfig{
			MapModel: map[string]map[string]string{
				"openai":    {"A": "gpt-4o", "B": "gpt-4o-mini"},
				"anthropic": {"A": "claude-3-5-sonnet-20241022", "B": "claude-3-5-haiku-20241022"},
				"google":    {"A": "gemini-1.5-pro", "B": "gemini-1.5-flash"},
				"ollama":    {"A": "llama3.1", "B": "llama3.1"},
			},
		},
		UI: UIConfig{
			WindowWidth:    1000,
			WindowHeight:   700,
			MinimizeToTray: true,
			ChatListLimit:  30,
		},
		Data: DataConfig{
			DBPath:     "./data/kraina.db",
			MaxHistory: 1000,
		},
		Assets: AssetsConfig{
			AssistantDirs: []string{"./assistants"},
			SnippetDirs:   []string{"./snippets"},
			Watch:         true,
		},
		IPC: IPCConfig{
			Enabled:        true,
			Address:        "127.0.0.1:8998",
			TimeoutSeconds: 30,
		},
		Tools: ToolsConfig{
			SandboxRoot:       ".",
			TextToTextSnippet: "translate",
		},
		LogLevel: "info",
	}
}

// EnsureDefaultConfig creates a default config file if it doesn't exist
func EnsureDefaultConfig() (string, error) {
	configPath := GetConfigPath()

	if _, err := os.Stat(configPath); err == nil {
		return configPath, nil
	}

	if err := SaveConfig(configPath, DefaultConfig()); err != nil {
		return "", err
	}

	return configPath, nil
}
