// Package config handles Kestrel configuration loading.
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
// Then: ./kestrel.yaml, ~/.config/kestrel/kestrel.yaml, /etc/kestrel/kestrel.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"kestrel.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "kestrel", "kestrel.yaml"))
	}

	paths = append(paths, "/etc/kestrel/kestrel.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
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

// Config holds all Kestrel configuration.
type Config struct {
	Listen     ListenConfig     `yaml:"listen"`
	Models     ModelsConfig     `yaml:"models"`
	Anthropic  AnthropicConfig  `yaml:"anthropic"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Loop       LoopConfig       `yaml:"loop"`
	Tools      ToolsConfig      `yaml:"tools"`
	Cache      CacheConfig      `yaml:"cache"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	DataDir    string           `yaml:"data_dir"`
	LogLevel   string           `yaml:"log_level"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// ModelsConfig defines LLM provider settings.
type ModelsConfig struct {
	Default   string `yaml:"default"`   // Primary reasoning model
	Alt       string `yaml:"alt"`       // Cheaper model for structured phase completions
	OllamaURL string `yaml:"ollama_url"`
}

// AnthropicConfig defines Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key"`
}

// EmbeddingsConfig defines embedding generation settings.
type EmbeddingsConfig struct {
	Model   string `yaml:"model"`   // Embedding model name (e.g., nomic-embed-text)
	BaseURL string `yaml:"baseurl"` // Ollama URL (defaults to models.ollama_url)
}

// RetrievalConfig tunes the hybrid search engine.
type RetrievalConfig struct {
	// DefaultLimit is the result cap when callers pass limit <= 0.
	DefaultLimit int `yaml:"default_limit"`
}

// LoopConfig bounds the reasoning loop.
type LoopConfig struct {
	// MaxSteps is the hard bound on Act invocations per session.
	MaxSteps int `yaml:"max_steps"`
}

// ToolsConfig tunes the tool dispatcher.
type ToolsConfig struct {
	// TimeoutSec is the per-execution budget in seconds (default 30).
	TimeoutSec int `yaml:"timeout_sec"`
}

// CacheConfig tunes the record/search-result cache.
type CacheConfig struct {
	// TTLSec is the entry lifetime in seconds (default 300).
	TTLSec int `yaml:"ttl_sec"`
	// SweepSec is the interval between expiry sweeps (default 60).
	SweepSec int `yaml:"sweep_sec"`
}

// MQTTConfig defines the optional status publisher.
type MQTTConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Broker     string `yaml:"broker"` // e.g. mqtt://broker.local:1883
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	TopicBase  string `yaml:"topic_base"`  // default "kestrel"
	DeviceName string `yaml:"device_name"` // default "Kestrel"
}

// ToolTimeout returns the configured per-execution budget as a Duration.
func (c ToolsConfig) ToolTimeout() time.Duration {
	if c.TimeoutSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSec) * time.Second
}

// TTL returns the cache entry lifetime as a Duration.
func (c CacheConfig) TTL() time.Duration {
	if c.TTLSec <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.TTLSec) * time.Second
}

// SweepInterval returns the cache sweep interval as a Duration.
func (c CacheConfig) SweepInterval() time.Duration {
	if c.SweepSec <= 0 {
		return time.Minute
	}
	return time.Duration(c.SweepSec) * time.Second
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: 8080},
		Models: ModelsConfig{
			Default:   "qwen3:8b",
			Alt:       "qwen3:4b",
			OllamaURL: "http://localhost:11434",
		},
		Embeddings: EmbeddingsConfig{Model: "nomic-embed-text"},
		Retrieval:  RetrievalConfig{DefaultLimit: 10},
		Loop:       LoopConfig{MaxSteps: 8},
		DataDir:    "data",
	}
}
