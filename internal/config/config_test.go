package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
turkov:
  email: user@example.com
  password: hunter2
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != DefaultHTTPAddr {
		t.Errorf("http addr = %q", cfg.HTTPAddr)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("logging defaults = %+v", cfg.Logging)
	}
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
http_addr: "127.0.0.1:9090"
logging:
  level: debug
  format: text
turkov:
  base_url: "https://example.com"
  email: user@example.com
  password: hunter2
  hosts:
    dev-1:
      host: "192.168.1.40"
      port: 8080
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != "127.0.0.1:9090" {
		t.Errorf("http addr = %q", cfg.HTTPAddr)
	}
	if cfg.Turkov.BaseURL != "https://example.com" {
		t.Errorf("base url = %q", cfg.Turkov.BaseURL)
	}
	host, ok := cfg.Turkov.Hosts["dev-1"]
	if !ok {
		t.Fatal("dev-1 host missing")
	}
	if host.Host != "192.168.1.40" || host.Port != 8080 {
		t.Errorf("dev-1 host = %+v", host)
	}
}

func TestLoadRejectsInvalidConfigs(t *testing.T) {
	cases := []struct {
		name     string
		contents string
	}{
		{"missing email", "turkov:\n  password: hunter2\n"},
		{"missing password", "turkov:\n  email: user@example.com\n"},
		{
			"host without address",
			"turkov:\n  email: user@example.com\n  password: hunter2\n  hosts:\n    dev-1:\n      port: 8080\n",
		},
		{
			"port out of range",
			"turkov:\n  email: user@example.com\n  password: hunter2\n  hosts:\n    dev-1:\n      host: h\n      port: 70000\n",
		},
		{"not yaml", "{{"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.contents)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
