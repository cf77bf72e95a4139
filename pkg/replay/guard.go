// Package replay stops a security event from being acted on twice when
// the transmitter redelivers it.
package replay

import (
	"context"
	"log/slog"
	"time"

	sserr "github.com/StricklySoft/auth-gateway/pkg/errors"
)

// DefaultTTL is how long a claimed event id is remembered.
const DefaultTTL = 24 * time.Hour

// Store is satisfied by *redis.Client from pkg/clients/redis.
type Store interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) (int64, error)
}

// Guard claims event ids. A nil *Guard claims everything.
type Guard struct {
	store  Store
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// Option configures a Guard.
type Option func(*Guard)

// WithTTL overrides DefaultTTL.
func WithTTL(d time.Duration) Option {
	return func(g *Guard) { g.ttl = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Guard) { g.logger = l }
}

// New returns a Guard storing claims under "<prefix>:set-jti:".
func New(store Store, prefix string, opts ...Option) (*Guard, error) {
	if store == nil {
		return nil, sserr.Configuration("replay: store is required")
	}
	g := &Guard{store: store, prefix: prefix, ttl: DefaultTTL, logger: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

func (g *Guard) key(jti string) string {
	if g.prefix == "" {
		return "set-jti:" + jti
	}
	return g.prefix + ":set-jti:" + jti
}

// Claim records jti and reports whether this call was first. An empty jti
// cannot be tracked and is always claimed. A store failure is logged and
// the event is claimed, so an outage never blocks delivery.
func (g *Guard) Claim(ctx context.Context, jti string) bool {
	if g == nil || jti == "" {
		return true
	}
	ok, err := g.store.SetNX(ctx, g.key(jti), time.Now().UTC().Format(time.RFC3339), g.ttl)
	if err != nil {
		g.logger.WarnContext(ctx, "replay: claim failed, processing event anyway", "jti", jti, "error", err)
		return true
	}
	return ok
}

// Release forgets jti so a redelivery is processed again.
func (g *Guard) Release(ctx context.Context, jti string) {
	if g == nil || jti == "" {
		return
	}
	if _, err := g.store.Del(ctx, g.key(jti)); err != nil {
		g.logger.WarnContext(ctx, "replay: release failed", "jti", jti, "error", err)
	}
}
