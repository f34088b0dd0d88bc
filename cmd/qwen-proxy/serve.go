package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/config"
	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/controlplane"
	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/providers"
	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/providers/openaicompat"
	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/providers/webchat"
	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/supervisor"
	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/telemetry/logging"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the control plane and supervise the gateway and bridge",
	Long: `Start the control plane REST API and WebSocket push channel, then
spawn the gateway and web-chat bridge as supervised child processes.

Examples:
  # Start with default config
  qwen-proxy serve

  # Start with a config file
  qwen-proxy serve --config /etc/qwen-proxy/config.yaml`,
	RunE: runServe,
}

var serveFlags struct {
	apiPort   int
	autoStart bool
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntVar(&serveFlags.apiPort, "api-port", 0, "override control plane port")
	serveCmd.Flags().BoolVar(&serveFlags.autoStart, "auto-start", true, "start the gateway and bridge immediately")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveFlags.apiPort != 0 {
		cfg.Server.APIPort = serveFlags.apiPort
	}

	// Hot reload: log level and format follow the config file without a
	// restart. Port or database changes still need one.
	if cfgFile != "" {
		watcher, werr := config.Watch(cfgFile, func(next *config.Config) {
			if _, lerr := logging.Setup(logging.Config{
				Level:  next.Logging.Level,
				Format: next.Logging.Format,
			}); lerr != nil {
				slog.Warn("config reload: bad logging settings", "error", lerr)
				return
			}
			slog.Info("logging settings reloaded", "level", next.Logging.Level)
		})
		if werr != nil {
			slog.Warn("config watch unavailable", "error", werr)
		} else {
			defer watcher.Close()
		}
	}

	// The control plane boots first, so it owns schema migration; the
	// children check the version and refuse to run against newer schemas.
	st, err := openStore(cfg, "sqlite3")
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Migrate(cmd.Context()); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	reg := providers.NewRegistry(st)
	reg.RegisterFactory(providers.TypeLocalOpenAI, openaicompat.Factory)
	reg.RegisterFactory(providers.TypeHostedOpenAI, openaicompat.Factory)
	reg.RegisterFactory(providers.TypeWebChat, webchat.Factory)
	defer reg.Close()

	sup := supervisor.New(cfg, cfgFile)
	server := controlplane.NewServer(cfg, st, reg, sup)

	ctx, stop := signalContext(cmd)
	defer stop()

	if serveFlags.autoStart {
		if err := sup.Start(ctx); err != nil {
			return err
		}
	}

	// Child retry exhaustion is a distinct failure from a startup error.
	go func() {
		if err := sup.Monitor(ctx); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
	}()

	return server.ListenAndServe(ctx)
}
