// Package config provides YAML-based configuration loading for Switchboard.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Switchboard configuration, loaded from
// switchboard.yaml.
type Config struct {
	Owner     string          `yaml:"owner"`
	Store     StoreConfig     `yaml:"store"`
	Watcher   WatcherConfig   `yaml:"watcher"`
	Worker    WorkerConfig    `yaml:"worker"`
	Dedup     DedupConfig     `yaml:"dedup"`
	Defaults  PolicyDefaults  `yaml:"defaults"`
	Agents    []AgentConfig   `yaml:"agents"`
	Safety    SafetyConfig    `yaml:"safety"`
	Notify    NotifyConfig    `yaml:"notify"`
	API       APIConfig       `yaml:"api"`
	Retention RetentionConfig `yaml:"retention"`
}

// StoreConfig holds connection settings for the message store.
type StoreConfig struct {
	Driver   string `yaml:"driver"` // "sqlite" or "mysql"
	Path     string `yaml:"path"`   // sqlite file path
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
}

// WatcherConfig controls the mailbox poll loop.
type WatcherConfig struct {
	PollIntervalSec int `yaml:"poll_interval_sec"`
}

// WorkerConfig describes the worker subprocess launched for accepted triggers.
type WorkerConfig struct {
	Command       string   `yaml:"command"`
	Args          []string `yaml:"args"`
	MaxConcurrent int      `yaml:"max_concurrent"`
}

// DedupConfig controls the deduplication ledger.
type DedupConfig struct {
	TTLSeconds int `yaml:"ttl_sec"`
}

// PolicyDefaults are the automation policy values applied to agents that do
// not override them.
type PolicyDefaults struct {
	Mode            string `yaml:"mode"`
	CooldownSeconds int    `yaml:"cooldown_sec"`
	MaxPerWindow    int    `yaml:"max_per_window"`
	WindowSeconds   int    `yaml:"window_sec"`
	TimeoutSeconds  int    `yaml:"timeout_sec"`
	MaxRetries      int    `yaml:"max_retries"`
}

// AgentConfig registers one agent: its mailbox identity, workspace root, and
// any per-agent policy overrides (zero values inherit from Defaults).
type AgentConfig struct {
	ID              string `yaml:"id"`
	Workspace       string `yaml:"workspace"`
	Mode            string `yaml:"mode"`
	CooldownSeconds int    `yaml:"cooldown_sec"`
	MaxPerWindow    int    `yaml:"max_per_window"`
	WindowSeconds   int    `yaml:"window_sec"`
	TimeoutSeconds  int    `yaml:"timeout_sec"`
	MaxRetries      int    `yaml:"max_retries"`
	Priority        int    `yaml:"priority"`
}

// SafetyConfig holds kill-switch settings.
type SafetyConfig struct {
	SentinelPath string `yaml:"sentinel_path"`
}

// NotifyConfig controls how notify-mode messages and escalations are surfaced.
type NotifyConfig struct {
	Command string        `yaml:"command"` // shell command template
	Slack   SlackConfig   `yaml:"slack"`
	Discord DiscordConfig `yaml:"discord"`
}

// SlackConfig holds Slack notifier credentials.
type SlackConfig struct {
	BotToken string `yaml:"bot_token"`
	Channel  string `yaml:"channel"`
}

// DiscordConfig holds Discord notifier credentials.
type DiscordConfig struct {
	Token     string `yaml:"token"`
	ChannelID string `yaml:"channel_id"`
}

// APIConfig controls the operator HTTP API.
type APIConfig struct {
	Port int `yaml:"port"`
}

// RetentionConfig controls the scheduled pruning of expired dedup entries
// and aged ledger and worker-log rows.
type RetentionConfig struct {
	Schedule      string `yaml:"schedule"` // 5-field cron expression
	LedgerDays    int    `yaml:"ledger_days"`
	WorkerLogDays int    `yaml:"worker_log_days"`
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

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Store.Driver == "" {
		c.Store.Driver = "sqlite"
	}
	if c.Store.Path == "" {
		c.Store.Path = "switchboard.db"
	}
	if c.Store.Host == "" {
		c.Store.Host = "127.0.0.1"
	}
	if c.Store.Port == 0 {
		c.Store.Port = 3306
	}
	if c.Store.Database == "" && c.Owner != "" {
		c.Store.Database = "switchboard_" + c.Owner
	}
	if c.Watcher.PollIntervalSec == 0 {
		c.Watcher.PollIntervalSec = 60
	}
	if c.Worker.Command == "" {
		c.Worker.Command = "claude"
	}
	if c.Worker.MaxConcurrent == 0 {
		c.Worker.MaxConcurrent = 4
	}
	if c.Dedup.TTLSeconds == 0 {
		c.Dedup.TTLSeconds = 3600
	}
	if c.Defaults.Mode == "" {
		c.Defaults.Mode = "manual"
	}
	if c.Defaults.CooldownSeconds == 0 {
		c.Defaults.CooldownSeconds = 300
	}
	if c.Defaults.MaxPerWindow == 0 {
		c.Defaults.MaxPerWindow = 3
	}
	if c.Defaults.WindowSeconds == 0 {
		c.Defaults.WindowSeconds = 3600
	}
	if c.Defaults.TimeoutSeconds == 0 {
		c.Defaults.TimeoutSeconds = 600
	}
	if c.Defaults.MaxRetries == 0 {
		c.Defaults.MaxRetries = 3
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.Retention.Schedule == "" {
		c.Retention.Schedule = "0 3 * * *"
	}
	if c.Retention.LedgerDays == 0 {
		c.Retention.LedgerDays = 30
	}
	if c.Retention.WorkerLogDays == 0 {
		c.Retention.WorkerLogDays = 7
	}

	for i := range c.Agents {
		a := &c.Agents[i]
		if a.Mode == "" {
			a.Mode = c.Defaults.Mode
		}
		if a.CooldownSeconds == 0 {
			a.CooldownSeconds = c.Defaults.CooldownSeconds
		}
		if a.MaxPerWindow == 0 {
			a.MaxPerWindow = c.Defaults.MaxPerWindow
		}
		if a.WindowSeconds == 0 {
			a.WindowSeconds = c.Defaults.WindowSeconds
		}
		if a.TimeoutSeconds == 0 {
			a.TimeoutSeconds = c.Defaults.TimeoutSeconds
		}
		if a.MaxRetries == 0 {
			a.MaxRetries = c.Defaults.MaxRetries
		}
	}
}

// validModes are the automation modes accepted in config.
var validModes = map[string]bool{"auto": true, "notify": true, "manual": true}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Owner == "" {
		errs = append(errs, "owner is required")
	}
	if c.Store.Driver != "sqlite" && c.Store.Driver != "mysql" {
		errs = append(errs, fmt.Sprintf("store.driver %q is not supported (sqlite or mysql)", c.Store.Driver))
	}
	if len(c.Agents) == 0 {
		errs = append(errs, "at least one agent is required")
	}
	if !validModes[c.Defaults.Mode] {
		errs = append(errs, fmt.Sprintf("defaults.mode %q is invalid", c.Defaults.Mode))
	}
	seen := make(map[string]bool, len(c.Agents))
	for i, a := range c.Agents {
		if a.ID == "" {
			errs = append(errs, fmt.Sprintf("agents[%d].id is required", i))
		}
		if a.Workspace == "" {
			errs = append(errs, fmt.Sprintf("agents[%d].workspace is required", i))
		}
		if a.Mode != "" && !validModes[a.Mode] {
			errs = append(errs, fmt.Sprintf("agents[%d].mode %q is invalid", i, a.Mode))
		}
		if a.ID != "" && seen[a.ID] {
			errs = append(errs, fmt.Sprintf("agents[%d].id %q is duplicated", i, a.ID))
		}
		seen[a.ID] = true
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Agent returns the AgentConfig with the given ID, or nil if unregistered.
func (c *Config) Agent(id string) *AgentConfig {
	for i := range c.Agents {
		if c.Agents[i].ID == id {
			return &c.Agents[i]
		}
	}
	return nil
}
