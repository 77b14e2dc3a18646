package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "enharmonic.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Storage.Driver != "badger" || cfg.Program.Namespace != "seed_state" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.HTTPPort() != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.HTTPPort())
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
version: 1
program:
  id: gap-prod
  namespace: seed_state
  mint_id: gapcoin
network:
  http_port: 9000
storage:
  driver: postgres
mqtt:
  enabled: true
  broker: tcp://broker:1883
  topic_prefix: gap
alerts:
  webhook_url: https://hooks.example.com/alert
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Program.ID != "gap-prod" || cfg.Program.MintID != "gapcoin" {
		t.Errorf("unexpected program: %+v", cfg.Program)
	}
	if cfg.HTTPPort() != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.HTTPPort())
	}
	if !cfg.MQTT.Enabled || cfg.MQTT.TopicPrefix != "gap" {
		t.Errorf("unexpected mqtt: %+v", cfg.MQTT)
	}
	// Unset keys keep their defaults.
	if cfg.MQTT.ClientID != "enharmonic" {
		t.Errorf("expected default client id, got %q", cfg.MQTT.ClientID)
	}
}

func TestLoadRejectsVersion(t *testing.T) {
	path := writeConfig(t, "version: 2\n")
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "unsupported enharmonic.yaml version: 2") {
		t.Errorf("expected version error, got %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ENHARMONIC_HTTP_PORT", "9191")
	t.Setenv("ENHARMONIC_STORAGE", "memory")
	t.Setenv("ENHARMONIC_MINT_ID", "override")

	cfg, err := Load(writeConfig(t, "version: 1\nnetwork:\n  http_port: 9000\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPPort() != 9191 {
		t.Errorf("expected env port 9191, got %d", cfg.HTTPPort())
	}
	if cfg.Storage.Driver != "memory" || cfg.Program.MintID != "override" {
		t.Errorf("env overrides not applied: %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"unknown driver", func(c *Config) { c.Storage.Driver = "sqlite" }, "Driver"},
		{"badger without path", func(c *Config) { c.Storage.Path = "" }, "Path"},
		{"empty mint", func(c *Config) { c.Program.MintID = "" }, "MintID"},
		{"port out of range", func(c *Config) { c.Network.HTTPPort = 70000 }, "HTTPPort"},
		{"mqtt without broker", func(c *Config) { c.MQTT.Enabled = true; c.MQTT.Broker = "" }, "Broker"},
		{"wildcard prefix", func(c *Config) { c.MQTT.TopicPrefix = "gap/#" }, "TopicPrefix"},
		{"bad webhook", func(c *Config) { c.Alerts.WebhookURL = "not a url" }, "WebhookURL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("expected error to name %s, got %v", tt.field, err)
			}
		})
	}

	if err := Validate(Default()); err != nil {
		t.Errorf("default config must validate: %v", err)
	}
}
