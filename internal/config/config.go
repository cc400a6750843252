// Package config loads the daemon's YAML configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPath     = "/etc/turkovd/config.yaml"
	DefaultHTTPAddr = "0.0.0.0:8080"
)

// Config is the turkovd configuration file.
type Config struct {
	HTTPAddr string        `yaml:"http_addr"`
	Logging  LoggingConfig `yaml:"logging"`
	Turkov   TurkovConfig  `yaml:"turkov"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TurkovConfig holds account credentials and per-device local endpoints,
// keyed by device id.
type TurkovConfig struct {
	BaseURL  string                `yaml:"base_url"`
	Email    string                `yaml:"email"`
	Password string                `yaml:"password"`
	Hosts    map[string]HostConfig `yaml:"hosts"`
}

// HostConfig points at a device reachable on the local network.
type HostConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Load parses the YAML config file, applies defaults, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = DefaultHTTPAddr
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate enforces required fields beyond YAML typing.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if cfg.Turkov.Email == "" {
		return fmt.Errorf("turkov.email is required")
	}
	if cfg.Turkov.Password == "" {
		return fmt.Errorf("turkov.password is required")
	}
	for id, host := range cfg.Turkov.Hosts {
		if id == "" {
			return fmt.Errorf("turkov.hosts keys must be device ids")
		}
		if host.Host == "" {
			return fmt.Errorf("turkov.hosts[%s].host is required", id)
		}
		if host.Port < 0 || host.Port > 65535 {
			return fmt.Errorf("turkov.hosts[%s].port out of range", id)
		}
	}
	return nil
}
