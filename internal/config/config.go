// Package config provides YAML-based configuration loading for Testyard.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Testyard configuration, loaded from config.yaml.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Executor  ExecutorConfig  `yaml:"executor"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Generator GeneratorConfig `yaml:"generator"`
	Notify    NotifyConfig    `yaml:"notify"`
	Export    ExportConfig    `yaml:"export"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port             int `yaml:"port"`
	SessionTTLMins   int `yaml:"session_ttl_minutes"`
	HeartbeatSeconds int `yaml:"heartbeat_seconds"`
}

// StorageConfig selects the persistence backend. Driver is "sqlite" (default,
// file-based) or "mysql".
type StorageConfig struct {
	Driver   string `yaml:"driver"`
	Path     string `yaml:"path"` // sqlite file path
	Host     string `yaml:"host"` // mysql settings
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// ExecutorConfig tunes the script execution engine.
type ExecutorConfig struct {
	MaxWorkers     int               `yaml:"max_workers"`
	TimeoutSeconds int               `yaml:"timeout_seconds"`
	WorkRoot       string            `yaml:"work_root"`
	MaxOutputBytes int               `yaml:"max_output_bytes"`
	Commands       map[string]string `yaml:"commands"` // format → command template override
}

// SchedulerConfig tunes the scheduled-task runner.
type SchedulerConfig struct {
	Enabled              bool `yaml:"enabled"`
	TickSeconds          int  `yaml:"tick_seconds"`
	MaxRetries           int  `yaml:"max_retries"`
	RetryIntervalSeconds int  `yaml:"retry_interval_seconds"`
}

// GeneratorConfig selects the script content generator. Provider is
// "template" (offline, default), "anthropic", or "openai".
type GeneratorConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
}

// NotifyConfig configures failure notifications for scheduled runs.
type NotifyConfig struct {
	Slack   SlackConfig   `yaml:"slack"`
	Discord DiscordConfig `yaml:"discord"`
}

// SlackConfig holds Slack bot credentials for notifications.
type SlackConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

// DiscordConfig holds Discord bot credentials for notifications.
type DiscordConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

// ExportConfig configures pushing generated scripts to a GitHub repository.
type ExportConfig struct {
	Enabled bool   `yaml:"enabled"`
	Owner   string `yaml:"owner"`
	Repo    string `yaml:"repo"`
	Branch  string `yaml:"branch"`
	Dir     string `yaml:"dir"`
	Token   string `yaml:"token"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a Config with all defaults applied and no file input.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.SessionTTLMins == 0 {
		c.Server.SessionTTLMins = 60
	}
	if c.Server.HeartbeatSeconds == 0 {
		c.Server.HeartbeatSeconds = 15
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "testyard.db"
	}
	if c.Storage.Host == "" {
		c.Storage.Host = "127.0.0.1"
	}
	if c.Storage.Port == 0 {
		c.Storage.Port = 3306
	}
	if c.Storage.Database == "" {
		c.Storage.Database = "testyard"
	}
	if c.Storage.User == "" {
		c.Storage.User = "root"
	}
	if c.Executor.MaxWorkers == 0 {
		c.Executor.MaxWorkers = 4
	}
	if c.Executor.TimeoutSeconds == 0 {
		c.Executor.TimeoutSeconds = 300
	}
	if c.Executor.WorkRoot == "" {
		c.Executor.WorkRoot = os.TempDir()
	}
	if c.Executor.MaxOutputBytes == 0 {
		c.Executor.MaxOutputBytes = 1 << 20
	}
	if c.Scheduler.TickSeconds == 0 {
		c.Scheduler.TickSeconds = 1
	}
	if c.Scheduler.MaxRetries == 0 {
		c.Scheduler.MaxRetries = 2
	}
	if c.Scheduler.RetryIntervalSeconds == 0 {
		c.Scheduler.RetryIntervalSeconds = 60
	}
	if c.Generator.Provider == "" {
		c.Generator.Provider = "template"
	}
	if c.Export.Branch == "" {
		c.Export.Branch = "main"
	}
	if c.Export.Dir == "" {
		c.Export.Dir = "scripts"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Storage.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("storage.driver %q is not supported (sqlite, mysql)", c.Storage.Driver))
	}
	switch c.Generator.Provider {
	case "template", "anthropic", "openai":
	default:
		errs = append(errs, fmt.Sprintf("generator.provider %q is not supported (template, anthropic, openai)", c.Generator.Provider))
	}
	if c.Executor.MaxWorkers < 1 {
		errs = append(errs, "executor.max_workers must be at least 1")
	}
	if c.Executor.TimeoutSeconds < 1 {
		errs = append(errs, "executor.timeout_seconds must be at least 1")
	}
	if c.Export.Enabled {
		if c.Export.Owner == "" {
			errs = append(errs, "export.owner is required when export is enabled")
		}
		if c.Export.Repo == "" {
			errs = append(errs, "export.repo is required when export is enabled")
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
