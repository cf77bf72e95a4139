package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/StricklySoft/auth-gateway/pkg/gateway"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve POST /oauth2/token and POST /receiver until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			g, err := gateway.Build(ctx, cfg, gateway.WithLogger(logger))
			if err != nil {
				return err
			}
			defer g.Close()

			logger.InfoContext(ctx, "authgateway: starting", "version", version, "addr", cfg.Server.Addr)
			return g.Run(ctx)
		},
	}
}
