// Package config loads the service configuration from enharmonic.yaml with
// ENHARMONIC_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// SecretEnv names the variable holding the program derivation secret.
// ENHARMONIC_PROGRAM_SECRET_FILE takes precedence.
const SecretEnv = "ENHARMONIC_PROGRAM_SECRET"

type Config struct {
	Version int           `yaml:"version" validate:"eq=1"`
	Program ProgramConfig `yaml:"program"`
	Network NetworkConfig `yaml:"network"`
	Storage StorageConfig `yaml:"storage"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Alerts  AlertsConfig  `yaml:"alerts"`
}

type ProgramConfig struct {
	ID        string `yaml:"id" env:"ENHARMONIC_PROGRAM_ID" validate:"required"`
	Namespace string `yaml:"namespace" env:"ENHARMONIC_NAMESPACE" validate:"required"`
	MintID    string `yaml:"mint_id" env:"ENHARMONIC_MINT_ID" validate:"required"`
}

type NetworkConfig struct {
	HTTPPort int `yaml:"http_port" env:"ENHARMONIC_HTTP_PORT" validate:"gte=0,lte=65535"`
}

type StorageConfig struct {
	Driver string `yaml:"driver" env:"ENHARMONIC_STORAGE" validate:"oneof=memory badger postgres"`
	Path   string `yaml:"path" env:"ENHARMONIC_BADGER_PATH" validate:"required_if=Driver badger"`
}

type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled" env:"ENHARMONIC_MQTT_ENABLED"`
	Broker      string `yaml:"broker" env:"ENHARMONIC_MQTT_BROKER" validate:"required_if=Enabled true"`
	ClientID    string `yaml:"client_id" env:"ENHARMONIC_MQTT_CLIENT_ID"`
	TopicPrefix string `yaml:"topic_prefix" env:"ENHARMONIC_MQTT_TOPIC_PREFIX" validate:"required_if=Enabled true,excludesall=+#"`
}

type AlertsConfig struct {
	WebhookURL string `yaml:"webhook_url" env:"ENHARMONIC_ALERT_WEBHOOK_URL" validate:"omitempty,url"`
}

// HTTPPort returns the configured HTTP port, defaulting to 8080 if not set.
func (c *Config) HTTPPort() int {
	if c.Network.HTTPPort == 0 {
		return 8080
	}
	return c.Network.HTTPPort
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Version: 1,
		Program: ProgramConfig{
			ID:        "enharmonic-gap",
			Namespace: "seed_state",
			MintID:    "gap",
		},
		Storage: StorageConfig{
			Driver: "badger",
			Path:   "data/badger",
		},
		MQTT: MQTTConfig{
			Broker:      "tcp://localhost:1883",
			ClientID:    "enharmonic",
			TopicPrefix: "enharmonic",
		},
	}
}

// Load reads path, applies environment overrides and validates the result.
// An empty path starts from Default.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, err
		}
		if cfg.Version != 1 {
			return nil, fmt.Errorf("unsupported enharmonic.yaml version: %d", cfg.Version)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks field constraints and reports the first failure by its
// yaml-facing field path.
func Validate(cfg *Config) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Errorf("invalid config: %s fails %q", fe.Namespace(), fe.Tag())
	}
	return fmt.Errorf("invalid config: %w", err)
}
