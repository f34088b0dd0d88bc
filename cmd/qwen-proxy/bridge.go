package main

import (
	"fmt"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/bridge"
	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/session"
)

var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Run the web-chat bridge in the foreground",
	RunE:  runBridge,
}

var bridgeFlags struct {
	port int
}

func init() {
	rootCmd.AddCommand(bridgeCmd)

	bridgeCmd.Flags().IntVarP(&bridgeFlags.port, "port", "p", 0, "override bridge port")
}

func runBridge(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if bridgeFlags.port != 0 {
		cfg.Bridge.Port = bridgeFlags.port
	}

	// The bridge uses the cgo-free driver so it stays a plain sibling
	// process; both drivers speak the same WAL file.
	st, err := openStore(cfg, "sqlite")
	if err != nil {
		return err
	}
	defer st.Close()
	// Migrations belong to the parent; the bridge only refuses to run
	// against a schema newer than it understands.
	if err := st.CheckVersion(cmd.Context()); err != nil {
		return fmt.Errorf("schema check: %w", err)
	}

	sessions := session.NewManager(st, sessionConfig(cfg))
	sessions.Start()
	defer sessions.Stop()

	server := bridge.NewServer(cfg, st, sessions)

	ctx, stop := signalContext(cmd)
	defer stop()
	return server.ListenAndServe(ctx)
}
