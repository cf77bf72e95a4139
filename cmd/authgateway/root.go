package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	sserr "github.com/StricklySoft/auth-gateway/pkg/errors"
	"github.com/StricklySoft/auth-gateway/pkg/gateway"
	"github.com/StricklySoft/auth-gateway/pkg/server"
)

// Exit codes.
const (
	exitOK            = 0
	exitError         = 1
	exitConfiguration = 2
	exitUnhealthy     = 3
)

// rootOptions holds the persistent flags.
type rootOptions struct {
	configFile string
	envPrefix  string
	out        io.Writer
	lookup     func(string) (string, bool)
}

func newRootCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "authgateway",
		Short: "OAuth token proxy and shared-signal receiver",
		Long: `authgateway sits between the mobile app and the identity provider.

It forwards sanitised token requests to the identity provider, adding the
client secret and checking app attestation when enabled, and it receives
security event tokens from the shared-signal transmitter and applies them
to the user directory.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate(`{{printf "authgateway version %s\n" .Version}}`)
	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "YAML or JSON configuration file")
	cmd.PersistentFlags().StringVar(&opts.envPrefix, "env-prefix", gateway.EnvPrefix, "prefix of configuration environment variables")

	cmd.AddCommand(newServeCmd(opts), newHealthCheckCmd(opts))
	return cmd
}

// load reads configuration and installs the JSON logger as the default.
func (o *rootOptions) load() (gateway.Config, *slog.Logger, error) {
	cfg, err := gateway.Load(o.configFile, o.envPrefix, o.lookup)
	if err != nil {
		return gateway.Config{}, nil, err
	}
	handler := slog.NewJSONHandler(o.out, &slog.HandlerOptions{Level: cfg.Level()})
	logger := slog.New(server.NewLogHandler(handler))
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func execute(args []string) int {
	return run(context.Background(), args, os.Stdout, os.Stderr, os.LookupEnv)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer, lookup func(string) (string, bool)) int {
	opts := &rootOptions{out: stdout, lookup: lookup}
	cmd := newRootCmd(opts)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	fmt.Fprintf(stderr, "authgateway: %v\n", err)
	return exitCode(err)
}

func exitCode(err error) int {
	var unhealthy *unhealthyError
	switch {
	case errors.As(err, &unhealthy):
		return exitUnhealthy
	case sserr.HasCode(err, sserr.CodeInternalConfiguration):
		return exitConfiguration
	default:
		return exitError
	}
}

// unhealthyError marks a failed health check.
type unhealthyError struct {
	err error
}

func (e *unhealthyError) Error() string { return "health check failed: " + e.err.Error() }
func (e *unhealthyError) Unwrap() error { return e.err }
