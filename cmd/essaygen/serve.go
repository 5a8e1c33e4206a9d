package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	srv "github.com/mohammad-safakhou/essaygen/internal/server"
	"github.com/mohammad-safakhou/essaygen/internal/telemetry"
)

func serveCMD(load loader) *cobra.Command {
	var serveAddr string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Distill the configured records and serve essay generation over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, cleanup, err := load()
			if err != nil {
				return err
			}
			defer cleanup()
			if serveAddr != "" {
				cfg.Server.Address = serveAddr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if cfg.Telemetry.Tracing {
				shutdown, err := telemetry.SetupTracing(ctx, "essaygen", version)
				if err != nil {
					return err
				}
				defer func() {
					if err := shutdown(context.Background()); err != nil {
						logger.Warn("tracer shutdown", zap.Error(err))
					}
				}()
			}
			return srv.Run(ctx, cfg, logger)
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.address)")
	return serve
}
