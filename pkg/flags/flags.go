// Package flags answers whether gateway features are switched on.
package flags

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	sserr "github.com/StricklySoft/auth-gateway/pkg/errors"
)

// Flag names a feature.
type Flag string

// Known flags.
const (
	Attestation  Flag = "attestation"
	SharedSignal Flag = "shared-signal"
)

// DefaultCacheTTL is how long Redis answers are reused.
const DefaultCacheTTL = 15 * time.Minute

// Source reports whether a flag is on.
type Source interface {
	Enabled(ctx context.Context, f Flag) (bool, error)
}

// Static serves flags fixed at start-up. Unknown flags are off.
type Static map[Flag]bool

// Enabled implements Source.
func (s Static) Enabled(_ context.Context, f Flag) (bool, error) {
	return s[f], nil
}

// Getter is satisfied by *redis.Client from pkg/clients/redis.
type Getter interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
}

type answer struct {
	on        bool
	expiresAt time.Time
}

// Redis reads "<prefix>:feature-flags:<name>" and treats a
// case-insensitive "true" as on. A missing key is an error.
type Redis struct {
	client Getter
	prefix string
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger

	mu    sync.Mutex
	cache map[Flag]answer
}

// RedisOption configures a Redis source.
type RedisOption func(*Redis)

// WithCacheTTL overrides DefaultCacheTTL.
func WithCacheTTL(d time.Duration) RedisOption {
	return func(r *Redis) { r.ttl = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) RedisOption {
	return func(r *Redis) { r.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) RedisOption {
	return func(r *Redis) { r.logger = l }
}

// NewRedis returns a Redis source reading keys under prefix.
func NewRedis(client Getter, prefix string, opts ...RedisOption) (*Redis, error) {
	if client == nil {
		return nil, sserr.Configuration("flags: redis client is required")
	}
	if prefix == "" {
		return nil, sserr.Configuration("flags: key prefix is required")
	}
	r := &Redis{
		client: client,
		prefix: prefix,
		ttl:    DefaultCacheTTL,
		now:    time.Now,
		logger: slog.Default(),
		cache:  make(map[Flag]answer),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Key returns the Redis key holding f.
func (r *Redis) Key(f Flag) string {
	return r.prefix + ":feature-flags:" + string(f)
}

// Enabled implements Source.
func (r *Redis) Enabled(ctx context.Context, f Flag) (bool, error) {
	now := r.now()
	r.mu.Lock()
	a, ok := r.cache[f]
	r.mu.Unlock()
	if ok && now.Before(a.expiresAt) {
		return a.on, nil
	}

	key := r.Key(f)
	v, found, err := r.client.Get(ctx, key)
	if err != nil {
		return false, sserr.Wrapf(err, sserr.CodeInternalConfiguration, "flags: read %s", key)
	}
	if !found {
		return false, sserr.Newf(sserr.CodeInternalConfiguration, "flags: %s is not set", key)
	}

	on := strings.EqualFold(strings.TrimSpace(v), "true")
	r.mu.Lock()
	r.cache[f] = answer{on: on, expiresAt: now.Add(r.ttl)}
	r.mu.Unlock()
	r.logger.DebugContext(ctx, "flags: refreshed", "flag", string(f), "enabled", on)
	return on, nil
}
