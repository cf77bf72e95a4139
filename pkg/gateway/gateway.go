// Package gateway is the composition root: it turns a Config into a ready
// server with every collaborator wired.
package gateway

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/StricklySoft/auth-gateway/pkg/attestation"
	"github.com/StricklySoft/auth-gateway/pkg/clients/postgres"
	"github.com/StricklySoft/auth-gateway/pkg/clients/redis"
	"github.com/StricklySoft/auth-gateway/pkg/directory"
	sserr "github.com/StricklySoft/auth-gateway/pkg/errors"
	"github.com/StricklySoft/auth-gateway/pkg/flags"
	"github.com/StricklySoft/auth-gateway/pkg/healthcheck"
	"github.com/StricklySoft/auth-gateway/pkg/httpclient"
	"github.com/StricklySoft/auth-gateway/pkg/jwks"
	"github.com/StricklySoft/auth-gateway/pkg/proxy"
	"github.com/StricklySoft/auth-gateway/pkg/replay"
	"github.com/StricklySoft/auth-gateway/pkg/sanitize"
	"github.com/StricklySoft/auth-gateway/pkg/secrets"
	"github.com/StricklySoft/auth-gateway/pkg/server"
	"github.com/StricklySoft/auth-gateway/pkg/signals"
	"github.com/StricklySoft/auth-gateway/pkg/token"
)

type options struct {
	logger *slog.Logger
	tp     trace.TracerProvider
	pool   postgres.Pool
	redis  redis.Cmdable
	doer   httpclient.Doer
}

// Option configures Build.
type Option func(*options)

// WithLogger sets the logger handed to every component.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithTracerProvider sets the tracer provider handed to every component.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tp = tp }
}

// WithPostgresPool uses pool instead of connecting with Config.Postgres.
func WithPostgresPool(pool postgres.Pool) Option {
	return func(o *options) { o.pool = pool }
}

// WithRedis uses c instead of connecting with Config.Redis.
func WithRedis(c redis.Cmdable) Option {
	return func(o *options) { o.redis = c }
}

// WithDoer replaces the outbound HTTP client.
func WithDoer(d httpclient.Doer) Option {
	return func(o *options) { o.doer = d }
}

// Gateway owns the long-lived components.
type Gateway struct {
	Server     *server.Server
	Proxy      *proxy.Handler
	Dispatcher *signals.Dispatcher
	Directory  *directory.Postgres
	Checker    *healthcheck.Checker

	db     *postgres.Client
	redis  *redis.Client
	logger *slog.Logger
}

// Build connects to the backing stores and wires every component. On
// error any connection already opened is closed.
func Build(ctx context.Context, cfg Config, opts ...Option) (*Gateway, error) {
	o := newOptions(opts)
	g := &Gateway{logger: o.logger}
	if err := g.build(ctx, cfg, o); err != nil {
		g.Close()
		return nil, err
	}
	return g, nil
}

// NewChecker builds only the shared-signal health check, without
// touching the backing stores.
func NewChecker(cfg Config, opts ...Option) (*healthcheck.Checker, error) {
	o := newOptions(opts)
	store, err := newSecretStore(cfg, o)
	if err != nil {
		return nil, err
	}
	return newChecker(cfg, o, store, newHTTPClient(o))
}

func newOptions(opts []Option) options {
	o := options{logger: slog.Default(), tp: otel.GetTracerProvider()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func newHTTPClient(o options) *httpclient.Client {
	httpOpts := []httpclient.Option{httpclient.WithLogger(o.logger), httpclient.WithTracerProvider(o.tp)}
	if o.doer != nil {
		httpOpts = append(httpOpts, httpclient.WithDoer(o.doer))
	}
	return httpclient.New(httpOpts...)
}

func newSecretStore(cfg Config, o options) (*secrets.FileStore, error) {
	return secrets.NewFileStore(cfg.Secrets.Dir,
		secrets.WithMaxAge(cfg.Secrets.MaxAge), secrets.WithLogger(o.logger))
}

func newChecker(cfg Config, o options, store secrets.Store, client *httpclient.Client) (*healthcheck.Checker, error) {
	if !cfg.HealthCheckEnabled() {
		return nil, sserr.Configuration("gateway: health check is not configured")
	}
	return healthcheck.New(healthcheck.Config{
		TokenURL:   cfg.HealthCheck.TokenURL,
		VerifyURL:  cfg.HealthCheck.VerifyURL,
		SecretName: cfg.HealthCheck.SecretName,
		State:      cfg.HealthCheck.State,
	}, store, client, healthcheck.WithLogger(o.logger))
}

func (g *Gateway) build(ctx context.Context, cfg Config, o options) error {
	client := newHTTPClient(o)
	store, err := newSecretStore(cfg, o)
	if err != nil {
		return err
	}

	if err := g.connectRedis(ctx, cfg, o); err != nil {
		return err
	}
	source, err := g.flagSource(cfg, o)
	if err != nil {
		return err
	}

	if err := g.connectDirectory(ctx, cfg, o); err != nil {
		return err
	}

	if err := g.buildDispatcher(cfg, o, client, source); err != nil {
		return err
	}
	if err := g.buildProxy(cfg, o, client, source, store); err != nil {
		return err
	}

	g.Server, err = server.New(cfg.Server, g.Proxy, g.Dispatcher, server.WithLogger(o.logger))
	if err != nil {
		return err
	}

	if cfg.HealthCheckEnabled() {
		g.Checker, err = newChecker(cfg, o, store, client)
		if err != nil {
			return err
		}
	}
	return nil
}

func (g *Gateway) connectRedis(ctx context.Context, cfg Config, o options) error {
	switch {
	case o.redis != nil:
		g.redis = redis.NewFromClient(o.redis, redis.WithTracerProvider(o.tp))
	case cfg.Redis.Enabled():
		c, err := redis.NewClient(ctx, cfg.Redis, redis.WithTracerProvider(o.tp))
		if err != nil {
			return err
		}
		g.redis = c
	}
	return nil
}

func (g *Gateway) flagSource(cfg Config, o options) (flags.Source, error) {
	if cfg.Flags.Source != FlagSourceRedis {
		return flags.Static{
			flags.Attestation:  cfg.Flags.Attestation,
			flags.SharedSignal: cfg.Flags.SharedSignal,
		}, nil
	}
	if g.redis == nil {
		return nil, sserr.Configuration("gateway: redis flag source needs a redis server")
	}
	return flags.NewRedis(g.redis, cfg.KeyPrefix,
		flags.WithCacheTTL(cfg.Flags.CacheTTL), flags.WithLogger(o.logger))
}

func (g *Gateway) connectDirectory(ctx context.Context, cfg Config, o options) error {
	if o.pool != nil {
		g.db = postgres.NewFromPool(o.pool, postgres.WithTracerProvider(o.tp), postgres.WithDatabaseName(cfg.Postgres.Database))
	} else {
		db, err := postgres.NewClient(ctx, cfg.Postgres, postgres.WithTracerProvider(o.tp))
		if err != nil {
			return err
		}
		g.db = db
	}

	dir, err := directory.NewPostgres(g.db, directory.WithLogger(o.logger))
	if err != nil {
		return err
	}
	if cfg.ManageSchema {
		if err := dir.EnsureSchema(ctx); err != nil {
			return err
		}
	}
	g.Directory = dir
	return nil
}

func (g *Gateway) verifier(url string, cfg jwks.Config, o options, client *httpclient.Client) (*token.Verifier, error) {
	cfg.URL = url
	cache, err := jwks.New(client, cfg, jwks.WithLogger(o.logger), jwks.WithTracerProvider(o.tp))
	if err != nil {
		return nil, err
	}
	return token.NewVerifier(cache, token.WithLogger(o.logger), token.WithTracerProvider(o.tp))
}

func (g *Gateway) buildDispatcher(cfg Config, o options, client *httpclient.Client, source flags.Source) error {
	v, err := g.verifier(cfg.Signals.JWKSURL, jwks.Config{FetchTimeout: cfg.Signals.JWKSTimeout}, o, client)
	if err != nil {
		return err
	}
	dispatchOpts := []signals.Option{signals.WithLogger(o.logger), signals.WithTracerProvider(o.tp)}
	if g.redis != nil {
		guard, err := replay.New(g.redis, cfg.KeyPrefix,
			replay.WithTTL(cfg.Signals.ReplayTTL), replay.WithLogger(o.logger))
		if err != nil {
			return err
		}
		dispatchOpts = append(dispatchOpts, signals.WithReplayGuard(guard))
	}
	g.Dispatcher, err = signals.New(v, g.Directory, source, signals.Config{
		Issuer:    cfg.Signals.Issuer,
		Audience:  cfg.Signals.Audience,
		Algorithm: cfg.Signals.Algorithm,
		Leeway:    cfg.Signals.Leeway,
	}, dispatchOpts...)
	return err
}

func (g *Gateway) buildProxy(cfg Config, o options, client *httpclient.Client, source flags.Source, store secrets.Store) error {
	proxyOpts := []proxy.Option{proxy.WithLogger(o.logger), proxy.WithTracerProvider(o.tp)}
	if cfg.Attestation.Enabled() {
		v, err := g.verifier(cfg.Attestation.JWKSURL, jwks.Config{FetchTimeout: cfg.Attestation.JWKSTimeout}, o, client)
		if err != nil {
			return err
		}
		a, err := attestation.New(v, cfg.Attestation.validator(), attestation.WithLogger(o.logger))
		if err != nil {
			return err
		}
		proxyOpts = append(proxyOpts, proxy.WithAttestation(a, attestation.PublicMessage))
	}

	var err error
	g.Proxy, err = proxy.New(proxy.Config{
		TokenURL:   cfg.Proxy.TokenURL(),
		SecretName: cfg.Proxy.SecretName,
		Retry: httpclient.RetryConfig{
			MaxAttempts: cfg.Proxy.MaxAttempts,
			Timeout:     cfg.Proxy.Timeout,
		},
	}, sanitize.New(), source, store, client, proxyOpts...)
	return err
}

// Run serves until ctx is done.
func (g *Gateway) Run(ctx context.Context) error {
	return g.Server.Run(ctx)
}

// HealthCheck runs the shared-signal health check once.
func (g *Gateway) HealthCheck(ctx context.Context) error {
	if g.Checker == nil {
		return sserr.Configuration("gateway: health check is not configured")
	}
	return g.Checker.Check(ctx)
}

// Ready reports whether the backing stores answer.
func (g *Gateway) Ready(ctx context.Context) error {
	var errs []error
	if g.db != nil {
		errs = append(errs, g.db.Health(ctx))
	}
	if g.redis != nil {
		errs = append(errs, g.redis.Health(ctx))
	}
	return errors.Join(errs...)
}

// Close releases the store connections. It is safe to call more than once.
func (g *Gateway) Close() {
	if g.redis != nil {
		if err := g.redis.Close(); err != nil {
			g.logger.Warn("gateway: redis close failed", "error", err)
		}
		g.redis = nil
	}
	if g.db != nil {
		g.db.Close()
		g.db = nil
	}
}
