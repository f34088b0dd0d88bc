package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"

	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/config"
	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/store"
	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/telemetry/logging"
)

var (
	// Global flags
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "qwen-proxy",
	Short: "Qwen Proxy - local LLM provider gateway",
	Long: `Qwen Proxy is a local LLM provider gateway. It exposes an
OpenAI-compatible HTTP/SSE endpoint backed by configurable providers (a
local inference server, a reverse-engineered web-chat bridge, hosted
OpenAI-compatible APIs), persists every exchange in SQLite, and serves a
control plane REST API plus a WebSocket push channel for a management UI.

The same binary runs all three roles: "serve" starts the control plane,
which supervises "gateway" and "bridge" as child processes.`,
	Version: Version,
}

// Execute runs the root command. A startup failure exits 1.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")
}

// loadConfig builds the effective configuration and installs the logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	if _, err := logging.Setup(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openStore opens the shared database with the given driver, creating the
// data directory when needed.
func openStore(cfg *config.Config, driver string) (*store.Store, error) {
	if dir := filepath.Dir(cfg.Database.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	storeCfg := store.DefaultConfig(cfg.Database.Path)
	storeCfg.Driver = driver
	return store.Open(storeCfg)
}

// signalContext derives a context from the command that cancels on SIGINT
// or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}
