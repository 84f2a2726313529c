package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const fullYAML = `
owner: alice

store:
  driver: mysql
  host: 10.0.0.5
  port: 3307
  database: switchboard_alice

watcher:
  poll_interval_sec: 120

worker:
  command: /usr/local/bin/claude
  args: ["--output-format", "text"]
  max_concurrent: 8

dedup:
  ttl_sec: 900

defaults:
  mode: notify
  cooldown_sec: 60
  max_per_window: 5
  window_sec: 600
  timeout_sec: 300
  max_retries: 2

agents:
  - id: alpha
    workspace: /srv/agents/alpha
    mode: auto
    cooldown_sec: 10
  - id: beta
    workspace: /srv/agents/beta

safety:
  sentinel_path: /srv/switchboard/KILL

api:
  port: 9090

retention:
  schedule: "30 2 * * *"
  ledger_days: 14
  worker_log_days: 3
`

const minimalYAML = `
owner: bob
agents:
  - id: solo
    workspace: /srv/agents/solo
`

func TestParse_FullConfig(t *testing.T) {
	cfg, err := Parse([]byte(fullYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Owner != "alice" {
		t.Errorf("Owner = %q, want %q", cfg.Owner, "alice")
	}
	if cfg.Store.Driver != "mysql" {
		t.Errorf("Store.Driver = %q, want mysql", cfg.Store.Driver)
	}
	if cfg.Store.Host != "10.0.0.5" {
		t.Errorf("Store.Host = %q, want 10.0.0.5", cfg.Store.Host)
	}
	if cfg.Store.Port != 3307 {
		t.Errorf("Store.Port = %d, want 3307", cfg.Store.Port)
	}
	if cfg.Watcher.PollIntervalSec != 120 {
		t.Errorf("PollIntervalSec = %d, want 120", cfg.Watcher.PollIntervalSec)
	}
	if cfg.Worker.Command != "/usr/local/bin/claude" {
		t.Errorf("Worker.Command = %q", cfg.Worker.Command)
	}
	if len(cfg.Worker.Args) != 2 {
		t.Errorf("Worker.Args = %v, want 2 entries", cfg.Worker.Args)
	}
	if cfg.Worker.MaxConcurrent != 8 {
		t.Errorf("MaxConcurrent = %d, want 8", cfg.Worker.MaxConcurrent)
	}
	if cfg.Dedup.TTLSeconds != 900 {
		t.Errorf("Dedup.TTLSeconds = %d, want 900", cfg.Dedup.TTLSeconds)
	}
	if cfg.Safety.SentinelPath != "/srv/switchboard/KILL" {
		t.Errorf("SentinelPath = %q", cfg.Safety.SentinelPath)
	}
	if cfg.API.Port != 9090 {
		t.Errorf("API.Port = %d, want 9090", cfg.API.Port)
	}
	if cfg.Retention.Schedule != "30 2 * * *" {
		t.Errorf("Retention.Schedule = %q", cfg.Retention.Schedule)
	}
	if len(cfg.Agents) != 2 {
		t.Fatalf("len(Agents) = %d, want 2", len(cfg.Agents))
	}
	if cfg.Agents[0].Mode != "auto" {
		t.Errorf("Agents[0].Mode = %q, want auto", cfg.Agents[0].Mode)
	}
	if cfg.Agents[0].CooldownSeconds != 10 {
		t.Errorf("Agents[0].CooldownSeconds = %d, want 10", cfg.Agents[0].CooldownSeconds)
	}
}

func TestParse_AgentInheritsDefaults(t *testing.T) {
	cfg, err := Parse([]byte(fullYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	beta := cfg.Agent("beta")
	if beta == nil {
		t.Fatal("Agent(beta) = nil")
	}
	if beta.Mode != "notify" {
		t.Errorf("beta.Mode = %q, want notify (inherited)", beta.Mode)
	}
	if beta.CooldownSeconds != 60 {
		t.Errorf("beta.CooldownSeconds = %d, want 60 (inherited)", beta.CooldownSeconds)
	}
	if beta.MaxPerWindow != 5 {
		t.Errorf("beta.MaxPerWindow = %d, want 5 (inherited)", beta.MaxPerWindow)
	}
	if beta.TimeoutSeconds != 300 {
		t.Errorf("beta.TimeoutSeconds = %d, want 300 (inherited)", beta.TimeoutSeconds)
	}
}

func TestParse_MinimalDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Store.Driver != "sqlite" {
		t.Errorf("Store.Driver = %q, want sqlite", cfg.Store.Driver)
	}
	if cfg.Store.Path != "switchboard.db" {
		t.Errorf("Store.Path = %q, want switchboard.db", cfg.Store.Path)
	}
	if cfg.Store.Database != "switchboard_bob" {
		t.Errorf("Store.Database = %q, want switchboard_bob", cfg.Store.Database)
	}
	if cfg.Watcher.PollIntervalSec != 60 {
		t.Errorf("PollIntervalSec = %d, want 60", cfg.Watcher.PollIntervalSec)
	}
	if cfg.Defaults.Mode != "manual" {
		t.Errorf("Defaults.Mode = %q, want manual", cfg.Defaults.Mode)
	}
	if cfg.Defaults.MaxPerWindow != 3 {
		t.Errorf("Defaults.MaxPerWindow = %d, want 3", cfg.Defaults.MaxPerWindow)
	}
	if cfg.Worker.MaxConcurrent != 4 {
		t.Errorf("Worker.MaxConcurrent = %d, want 4", cfg.Worker.MaxConcurrent)
	}
	if cfg.Agents[0].Mode != "manual" {
		t.Errorf("Agents[0].Mode = %q, want manual (inherited)", cfg.Agents[0].Mode)
	}
	if cfg.Agents[0].TimeoutSeconds != 600 {
		t.Errorf("Agents[0].TimeoutSeconds = %d, want 600", cfg.Agents[0].TimeoutSeconds)
	}
}

func TestParse_MissingOwner(t *testing.T) {
	_, err := Parse([]byte("agents:\n  - id: a\n    workspace: /tmp/a\n"))
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "owner is required") {
		t.Errorf("error = %q, want owner is required", err)
	}
}

func TestParse_NoAgents(t *testing.T) {
	_, err := Parse([]byte("owner: carol\n"))
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "at least one agent is required") {
		t.Errorf("error = %q", err)
	}
}

func TestParse_InvalidMode(t *testing.T) {
	yaml := `
owner: carol
defaults:
  mode: turbo
agents:
  - id: a
    workspace: /tmp/a
`
	_, err := Parse([]byte(yaml))
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), `defaults.mode "turbo" is invalid`) {
		t.Errorf("error = %q", err)
	}
}

func TestParse_DuplicateAgent(t *testing.T) {
	yaml := `
owner: carol
agents:
  - id: a
    workspace: /tmp/a
  - id: a
    workspace: /tmp/b
`
	_, err := Parse([]byte(yaml))
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), `agents[1].id "a" is duplicated`) {
		t.Errorf("error = %q", err)
	}
}

func TestParse_MissingWorkspace(t *testing.T) {
	yaml := `
owner: carol
agents:
  - id: a
`
	_, err := Parse([]byte(yaml))
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "agents[0].workspace is required") {
		t.Errorf("error = %q", err)
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("owner: [unclosed"))
	if err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "switchboard.yaml")
	if err := os.WriteFile(path, []byte(minimalYAML), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Owner != "bob" {
		t.Errorf("Owner = %q, want bob", cfg.Owner)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestAgent_Unregistered(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := cfg.Agent("ghost"); got != nil {
		t.Errorf("Agent(ghost) = %+v, want nil", got)
	}
}
