package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/config"
	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/gateway"
	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/providers"
	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/providers/openaicompat"
	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/providers/webchat"
	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/session"
	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/telemetry/metrics"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run the OpenAI-compatible gateway in the foreground",
	RunE:  runGateway,
}

var gatewayFlags struct {
	port int
}

func init() {
	rootCmd.AddCommand(gatewayCmd)

	gatewayCmd.Flags().IntVarP(&gatewayFlags.port, "port", "p", 0, "override gateway port")
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if gatewayFlags.port != 0 {
		cfg.Server.Port = gatewayFlags.port
	}

	st, err := openStore(cfg, "sqlite3")
	if err != nil {
		return err
	}
	defer st.Close()
	// Running standalone the gateway migrates itself; under the supervisor
	// this is a no-op because the control plane already did.
	if err := st.Migrate(cmd.Context()); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	reg := providers.NewRegistry(st)
	reg.RegisterFactory(providers.TypeLocalOpenAI, openaicompat.Factory)
	reg.RegisterFactory(providers.TypeHostedOpenAI, openaicompat.Factory)
	reg.RegisterFactory(providers.TypeWebChat, webchat.Factory)
	defer reg.Close()

	sessions := session.NewManager(st, sessionConfig(cfg))
	sessions.Start()
	defer sessions.Stop()

	collector := metrics.NewCollector(metrics.Config{})
	server := gateway.NewServer(cfg, st, reg, sessions, collector)

	ctx, stop := signalContext(cmd)
	defer stop()
	return server.ListenAndServe(ctx)
}

// sessionConfig maps the shared config onto the session manager's.
func sessionConfig(cfg *config.Config) *session.Config {
	return &session.Config{
		TTL:             cfg.Session.Timeout,
		CleanupInterval: cfg.Session.CleanupInterval,
	}
}
