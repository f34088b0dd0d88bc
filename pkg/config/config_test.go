package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() = %v", err)
	}
	if cfg.Session.Timeout != 30*time.Minute {
		t.Errorf("session timeout = %v, want 30m", cfg.Session.Timeout)
	}
	if cfg.Session.CleanupInterval != 10*time.Minute {
		t.Errorf("cleanup interval = %v, want 10m", cfg.Session.CleanupInterval)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero port", func(c *Config) { c.Server.Port = 0 }},
		{"port collision", func(c *Config) { c.Server.APIPort = c.Server.Port }},
		{"empty db path", func(c *Config) { c.Database.Path = "" }},
		{"zero session timeout", func(c *Config) { c.Session.Timeout = 0 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "chatty" }},
		{"empty upstream", func(c *Config) { c.Bridge.UpstreamURL = "" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadMissingFileFallsBack(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
server:
  port: 4000
  apiPort: 4001
logging:
  level: debug
bridge:
  port: 4002
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	t.Setenv(EnvPort, "5000")
	t.Setenv(EnvSessionTimeoutMS, "60000")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 5000 {
		t.Errorf("env should beat file: port = %d", cfg.Server.Port)
	}
	if cfg.Server.APIPort != 4001 {
		t.Errorf("file should beat default: apiPort = %d", cfg.Server.APIPort)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("level = %q", cfg.Logging.Level)
	}
	if cfg.Session.Timeout != time.Minute {
		t.Errorf("session timeout = %v", cfg.Session.Timeout)
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: -1\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected validation error")
	}
}

func TestWatchReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 4000\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	reloaded := make(chan *Config, 1)
	w, err := Watch(path, func(c *Config) { reloaded <- c })
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(path, []byte("server:\n  port: 4100\n"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Server.Port != 4100 {
			t.Errorf("reloaded port = %d", cfg.Server.Port)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("reload callback never fired")
	}
}
