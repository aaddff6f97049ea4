// File: cmd/hioload-wsd/serve.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/momentics/hioload-wsengine/control"
	"github.com/momentics/hioload-wsengine/internal/logging"
	"github.com/momentics/hioload-wsengine/server"
)

func serveCmd() *cobra.Command {
	var (
		configPath string
		listen     string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the WebSocket echo service",
		Long: `Run the WebSocket echo service until SIGINT or SIGTERM.

SIGHUP reloads the configuration file. Limits, compression and liveness
settings apply to connections accepted after the reload.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := control.DefaultConfig()
			if configPath != "" {
				loaded, err := control.LoadConfig(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			if cmd.Flags().Changed("listen") {
				cfg.Listen = listen
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			if err := logging.Initialize(cfg.LogLevel); err != nil {
				return err
			}

			store := control.NewConfigStore(cfg, configPath)
			srv, err := server.New(store)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if configPath != "" {
				control.ReloadOnSignal(ctx, store, func(err error) {
					logging.Warn("configuration reload rejected", zap.Error(err))
				}, syscall.SIGHUP)
			}
			return srv.Run(ctx)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	cmd.Flags().StringVarP(&listen, "listen", "l", ":8080", "Listen address, overrides the file")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error or off")

	return cmd
}

