package main

import (
	"github.com/spf13/cobra"

	"github.com/StricklySoft/auth-gateway/pkg/gateway"
)

func newHealthCheckCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "healthcheck",
		Short: "Ask the shared-signal transmitter for a verification event",
		Long: `healthcheck obtains a client-credentials token from the transmitter and
requests a verification event. It exits 0 when the transmitter answers
204 No Content and 3 otherwise.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			checker, err := gateway.NewChecker(cfg, gateway.WithLogger(logger))
			if err != nil {
				return err
			}
			if err := checker.Check(cmd.Context()); err != nil {
				return &unhealthyError{err: err}
			}
			cmd.Println("shared-signal health check passed")
			return nil
		},
	}
}
