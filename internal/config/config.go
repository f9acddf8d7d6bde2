// Package config loads teampulse configuration from YAML with environment
// variable overrides. The config file is optional; a service configured
// entirely through the environment is a supported deployment.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all teampulse configuration.
type Config struct {
	// Tracker is the issue tracker (Jira-style REST API).
	Tracker TrackerConfig `yaml:"tracker"`

	// RepoHost is the source hosting platform (GitHub-style REST API).
	RepoHost RepoHostConfig `yaml:"repo_host"`

	// LLM configures the generation backend.
	LLM LLMConfig `yaml:"llm"`

	// Cache configures the shared result cache.
	Cache CacheConfig `yaml:"cache"`

	// Snapshot configures the context snapshot builder.
	Snapshot SnapshotConfig `yaml:"snapshot"`

	// Storage configures durable conversation storage.
	Storage StorageConfig `yaml:"storage"`

	// Server configures the HTTP API.
	Server ServerConfig `yaml:"server"`

	// Logging configures the process logger.
	Logging LoggingConfig `yaml:"logging"`
}

// TrackerConfig holds issue tracker connection parameters.
type TrackerConfig struct {
	BaseURL  string `yaml:"base_url"`
	Email    string `yaml:"email"`
	APIToken string `yaml:"api_token"`
	Timeout  string `yaml:"timeout"`
}

// RepoHostConfig holds source host connection parameters.
type RepoHostConfig struct {
	BaseURL      string `yaml:"base_url"`
	Token        string `yaml:"token"`
	Organization string `yaml:"organization"`
	Timeout      string `yaml:"timeout"`
}

// LLMConfig configures the generation backend.
type LLMConfig struct {
	Provider string `yaml:"provider"` // gemini, openai
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	Timeout  string `yaml:"timeout"`
}

// CacheConfig configures the result cache.
type CacheConfig struct {
	TTL     string `yaml:"ttl"`
	MaxSize int    `yaml:"max_size"`
}

// SnapshotConfig configures the context snapshot builder.
type SnapshotConfig struct {
	TTL string `yaml:"ttl"`
}

// StorageConfig configures the sqlite conversation store.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns the configuration used when no file or overrides exist.
func Default() *Config {
	return &Config{
		RepoHost: RepoHostConfig{
			BaseURL: "https://api.github.com",
			Timeout: "30s",
		},
		Tracker: TrackerConfig{
			Timeout: "30s",
		},
		LLM: LLMConfig{
			Provider: "gemini",
			Model:    "gemini-2.0-flash",
			Timeout:  "60s",
		},
		Cache: CacheConfig{
			TTL:     "5m",
			MaxSize: 1024,
		},
		Snapshot: SnapshotConfig{
			TTL: "1h",
		},
		Storage: StorageConfig{
			DatabasePath: "teampulse.db",
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads YAML configuration from path and applies environment overrides.
// A missing file is not an error; defaults plus the environment apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables onto the loaded file values.
// Environment wins over file so containerized deployments can override
// a baked-in config.
func (c *Config) applyEnv() {
	setIfEnv(&c.Tracker.BaseURL, "TRACKER_BASE_URL", "JIRA_SERVER_URL")
	setIfEnv(&c.Tracker.Email, "TRACKER_EMAIL", "JIRA_EMAIL")
	setIfEnv(&c.Tracker.APIToken, "TRACKER_API_TOKEN", "JIRA_API_TOKEN")

	setIfEnv(&c.RepoHost.Token, "REPOHOST_TOKEN", "GITHUB_TOKEN")
	setIfEnv(&c.RepoHost.Organization, "REPOHOST_ORG", "GITHUB_ORGANIZATION")
	setIfEnv(&c.RepoHost.BaseURL, "REPOHOST_BASE_URL")

	setIfEnv(&c.LLM.Provider, "LLM_PROVIDER")
	setIfEnv(&c.LLM.Model, "LLM_MODEL")
	if c.LLM.APIKey == "" {
		switch c.LLM.Provider {
		case "openai":
			c.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		default:
			c.LLM.APIKey = os.Getenv("GEMINI_API_KEY")
		}
	}

	setIfEnv(&c.Storage.DatabasePath, "TEAMPULSE_DB")
	setIfEnv(&c.Server.Addr, "TEAMPULSE_ADDR")
	setIfEnv(&c.Logging.Level, "TEAMPULSE_LOG_LEVEL")
}

func setIfEnv(dst *string, keys ...string) {
	for _, key := range keys {
		if v := os.Getenv(key); v != "" {
			*dst = v
			return
		}
	}
}

// Validate checks durations and enumerations. Connection parameters are
// deliberately not required: an unconfigured adapter degrades to empty
// results instead of refusing to start.
func (c *Config) Validate() error {
	for _, d := range []struct {
		name  string
		value string
	}{
		{"tracker.timeout", c.Tracker.Timeout},
		{"repo_host.timeout", c.RepoHost.Timeout},
		{"llm.timeout", c.LLM.Timeout},
		{"cache.ttl", c.Cache.TTL},
		{"snapshot.ttl", c.Snapshot.TTL},
	} {
		if d.value == "" {
			continue
		}
		if _, err := time.ParseDuration(d.value); err != nil {
			return fmt.Errorf("invalid %s: %w", d.name, err)
		}
	}

	switch c.LLM.Provider {
	case "", "gemini", "openai":
	default:
		return fmt.Errorf("unknown llm.provider %q", c.LLM.Provider)
	}
	return nil
}

// Duration parses a config duration string, returning fallback when unset.
func Duration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
