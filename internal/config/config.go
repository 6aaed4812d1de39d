// Package config handles Nova configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/nova/config.yaml, /etc/nova/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "nova", "config.yaml"))
	}

	paths = append(paths, "/etc/nova/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Nova configuration.
type Config struct {
	Workspace   WorkspaceConfig  `yaml:"workspace"`
	Provider    ProviderConfig   `yaml:"provider"`
	Embeddings  EmbeddingsConfig `yaml:"embeddings"`
	Agent       AgentConfig      `yaml:"agent"`
	ShellExec   ShellExecConfig  `yaml:"shell_exec"`
	Search      SearchConfig     `yaml:"search"`
	Telegram    TelegramConfig   `yaml:"telegram"`
	API         APIConfig        `yaml:"api"`
	Heartbeat   HeartbeatConfig  `yaml:"heartbeat"`
	Cron        CronConfig       `yaml:"cron"`
	DefaultUser string           `yaml:"default_user"`
	LogLevel    string           `yaml:"log_level"`
}

// WorkspaceConfig defines the agent's workspace directory. Sessions,
// memory, and bootstrap files all live under Path, and file tools are
// confined to it.
type WorkspaceConfig struct {
	Path string `yaml:"path"`
	// ReadOnlyDirs are additional directories the agent can read but not write.
	ReadOnlyDirs []string `yaml:"read_only_dirs"`
}

// ProviderConfig defines the chat-completion provider. Any
// OpenAI-compatible endpoint works (OpenRouter, Ollama, vLLM, ...).
type ProviderConfig struct {
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// EmbeddingsConfig defines embedding generation settings.
type EmbeddingsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Model   string `yaml:"model"`   // e.g. nomic-embed-text
	BaseURL string `yaml:"baseurl"` // Ollama URL
}

// AgentConfig tunes the conversation loop.
type AgentConfig struct {
	// MaxIterations bounds LLM round-trips per user message (default 10).
	MaxIterations int `yaml:"max_iterations"`
	// MemoryWindow is how many recent messages ride along in context
	// before consolidation kicks in (default 50).
	MemoryWindow int `yaml:"memory_window"`
	// ConsolidateKeep is how many recent messages a consolidation pass
	// leaves untouched (default 10).
	ConsolidateKeep int `yaml:"consolidate_keep"`
}

// ShellExecConfig defines shell execution capabilities.
type ShellExecConfig struct {
	// Enabled allows shell command execution. Disabled by default.
	Enabled bool `yaml:"enabled"`
	// WorkingDir sets the default working directory for commands.
	WorkingDir string `yaml:"working_dir"`
	// DeniedPatterns are command substrings to block in addition to the
	// built-in set (e.g. "rm -rf /").
	DeniedPatterns []string `yaml:"denied_patterns"`
	// DefaultTimeoutSec is the default timeout in seconds (default 30).
	DefaultTimeoutSec int `yaml:"default_timeout_sec"`
}

// SearchConfig defines web search provider settings.
type SearchConfig struct {
	Provider string `yaml:"provider"` // brave
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
}

// TelegramConfig defines the Telegram channel.
type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	// AllowedUsers restricts who may talk to the bot. Empty means anyone.
	AllowedUsers []string `yaml:"allowed_users"`
}

// APIConfig defines the local HTTP chat surface.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// HeartbeatConfig defines the periodic self-wake.
type HeartbeatConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"` // default 30m
}

// CronConfig defines the scheduled-job checker.
type CronConfig struct {
	Enabled       bool          `yaml:"enabled"`
	CheckInterval time.Duration `yaml:"check_interval"` // default 60s
}

// Load reads configuration from a YAML file. Environment variable
// references in the file are expanded before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	return cfg, nil
}

// Default returns a configuration with workable defaults.
func Default() *Config {
	cfg := &Config{
		Workspace: WorkspaceConfig{Path: "~/nova"},
		Provider: ProviderConfig{
			BaseURL: "https://openrouter.ai/api/v1",
			Model:   "anthropic/claude-sonnet-4",
		},
		Embeddings: EmbeddingsConfig{
			Model:   "nomic-embed-text",
			BaseURL: "http://localhost:11434",
		},
		API:  APIConfig{Port: 8421},
		Cron: CronConfig{Enabled: true},
	}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Agent.MaxIterations <= 0 {
		c.Agent.MaxIterations = 10
	}
	if c.Agent.MemoryWindow <= 0 {
		c.Agent.MemoryWindow = 50
	}
	if c.Agent.ConsolidateKeep <= 0 {
		c.Agent.ConsolidateKeep = 10
	}
	if c.ShellExec.DefaultTimeoutSec <= 0 {
		c.ShellExec.DefaultTimeoutSec = 30
	}
	if c.Heartbeat.Interval <= 0 {
		c.Heartbeat.Interval = 30 * time.Minute
	}
	if c.Cron.CheckInterval <= 0 {
		c.Cron.CheckInterval = 60 * time.Second
	}
	if c.DefaultUser == "" {
		c.DefaultUser = "default"
	}
}
