package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variable names. Env values override file values; CLI flags
// override both.
const (
	EnvPort              = "PORT"
	EnvAPIPort           = "API_PORT"
	EnvCORSOrigin        = "CORS_ORIGIN"
	EnvDatabasePath      = "DATABASE_PATH"
	EnvSessionTimeoutMS  = "SESSION_TIMEOUT_MS"
	EnvSessionCleanupMS  = "SESSION_CLEANUP_INTERVAL_MS"
	EnvRequestTimeoutMS  = "REQUEST_TIMEOUT_MS"
	EnvLogLevel          = "LOG_LEVEL"
	EnvBridgePort        = "BRIDGE_PORT"
	EnvBridgeUpstreamURL = "BRIDGE_UPSTREAM_URL"
)

// Load builds the configuration: defaults, then the YAML file at path (when
// path is non-empty and the file exists), then environment overrides. The
// result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Missing file falls back to defaults plus env.
		case err != nil:
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables onto cfg.
func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvPort); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv(EnvAPIPort); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.APIPort = port
		}
	}
	if v := os.Getenv(EnvCORSOrigin); v != "" {
		cfg.Server.CORSOrigin = v
	}
	if v := os.Getenv(EnvDatabasePath); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv(EnvSessionTimeoutMS); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil && ms > 0 {
			cfg.Session.Timeout = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv(EnvSessionCleanupMS); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil && ms > 0 {
			cfg.Session.CleanupInterval = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv(EnvRequestTimeoutMS); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil && ms >= 0 {
			cfg.Server.RequestTimeout = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv(EnvBridgePort); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Bridge.Port = port
		}
	}
	if v := os.Getenv(EnvBridgeUpstreamURL); v != "" {
		cfg.Bridge.UpstreamURL = v
	}
}
