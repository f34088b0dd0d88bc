// Package config loads and validates the proxy configuration: YAML file,
// environment overrides, and an fsnotify watcher for hot reload.
package config

import (
	"fmt"
	"time"
)

// Config is the full configuration shared by the supervisor, gateway, and
// bridge. One file configures all three; each process reads the sections it
// cares about.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Session     SessionConfig     `yaml:"session"`
	Logging     LoggingConfig     `yaml:"logging"`
	Bridge      BridgeConfig      `yaml:"bridge"`
	Persistence PersistenceConfig `yaml:"persistence"`
}

// ServerConfig configures the HTTP listeners.
type ServerConfig struct {
	// Port is the gateway's OpenAI-compatible listener port.
	Port int `yaml:"port"`

	// APIPort is the control plane REST/WebSocket port.
	APIPort int `yaml:"apiPort"`

	// CORSOrigin is the allowed browser origin, or "*".
	CORSOrigin string `yaml:"corsOrigin"`

	// RequestTimeout bounds each request end to end.
	RequestTimeout time.Duration `yaml:"requestTimeout"`
}

// DatabaseConfig configures the SQLite store.
type DatabaseConfig struct {
	// Path is the SQLite database file.
	Path string `yaml:"path"`
}

// SessionConfig configures conversation session lifetimes.
type SessionConfig struct {
	// Timeout is how long a session lives after its last access.
	Timeout time.Duration `yaml:"timeout"`

	// CleanupInterval is how often expired sessions are swept.
	CleanupInterval time.Duration `yaml:"cleanupInterval"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	// Level is "debug", "info", "warn", or "error".
	Level string `yaml:"level"`

	// Format is "json" or "text".
	Format string `yaml:"format"`
}

// BridgeConfig configures the web-chat bridge process.
type BridgeConfig struct {
	// Port is the bridge's OpenAI-subset listener port.
	Port int `yaml:"port"`

	// UpstreamURL is the web-chat API root the bridge talks to.
	UpstreamURL string `yaml:"upstreamURL"`
}

// PersistenceConfig configures audit-trail persistence.
type PersistenceConfig struct {
	// StoreStreamChunks also persists every relayed stream chunk, not just
	// the accumulated response. Off by default; it multiplies write volume.
	StoreStreamChunks bool `yaml:"storeStreamChunks"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           3000,
			APIPort:        3001,
			CORSOrigin:     "*",
			RequestTimeout: 120 * time.Second,
		},
		Database: DatabaseConfig{
			Path: "data/qwen-proxy.db",
		},
		Session: SessionConfig{
			Timeout:         30 * time.Minute,
			CleanupInterval: 10 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Bridge: BridgeConfig{
			Port:        3002,
			UpstreamURL: "https://chat.qwen.ai/api",
		},
	}
}

// Validate checks field ranges and cross-field consistency.
func (c *Config) Validate() error {
	if err := validPort("server.port", c.Server.Port); err != nil {
		return err
	}
	if err := validPort("server.apiPort", c.Server.APIPort); err != nil {
		return err
	}
	if err := validPort("bridge.port", c.Bridge.Port); err != nil {
		return err
	}
	if c.Server.Port == c.Server.APIPort || c.Server.Port == c.Bridge.Port || c.Server.APIPort == c.Bridge.Port {
		return fmt.Errorf("config: server.port, server.apiPort, and bridge.port must be distinct")
	}
	if c.Server.RequestTimeout < 0 {
		return fmt.Errorf("config: server.requestTimeout must not be negative")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("config: database.path is required")
	}
	if c.Session.Timeout <= 0 {
		return fmt.Errorf("config: session.timeout must be positive")
	}
	if c.Session.CleanupInterval <= 0 {
		return fmt.Errorf("config: session.cleanupInterval must be positive")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error", "":
	default:
		return fmt.Errorf("config: logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	if c.Bridge.UpstreamURL == "" {
		return fmt.Errorf("config: bridge.upstreamURL is required")
	}
	return nil
}

func validPort(field string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("config: %s %d is outside 1-65535", field, port)
	}
	return nil
}
