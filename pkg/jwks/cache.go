// Package jwks caches a remote JSON Web Key Set and resolves verification
// keys by key id.
//
// The cache holds one entry at a time. A stale or missing entry is
// replaced wholesale by a fresh fetch; concurrent refreshes may race and
// the last one to finish wins, but readers never observe a partially
// built entry. Freshness comes from the response's Cache-Control max-age,
// falling back to [DefaultMaxAge].
package jwks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/auth-gateway/pkg/errors"
	"github.com/StricklySoft/auth-gateway/pkg/httpclient"
)

const tracerName = "github.com/StricklySoft/auth-gateway/pkg/jwks"

const (
	// DefaultMaxAge applies when the response carries no max-age.
	DefaultMaxAge = 6 * time.Hour

	// MaxCacheAge caps the max-age a key set response can request.
	MaxCacheAge = 7 * 24 * time.Hour

	// DefaultFetchTimeout bounds a whole fetch, retries included.
	DefaultFetchTimeout = 5 * time.Second
)

var (
	// ErrNoMatchingKey means the current key set has no key for the kid.
	ErrNoMatchingKey = errors.New("jwks: no matching key")

	// ErrFetch means the key set could not be retrieved or was malformed.
	ErrFetch = errors.New("jwks: fetch failed")
)

var maxAgePattern = regexp.MustCompile(`max-age=(\d+)`)

// Sender is satisfied by *httpclient.Client.
type Sender interface {
	Send(ctx context.Context, spec httpclient.RequestSpec, cfg *httpclient.RetryConfig) (*httpclient.Response, error)
}

// Config locates the key set.
type Config struct {
	URL          string
	FetchTimeout time.Duration
	Retry        *httpclient.RetryConfig
}

type entry struct {
	keys      jwk.Set
	expiresAt time.Time
}

// Cache resolves keys from a lazily fetched key set. It is safe for
// concurrent use.
type Cache struct {
	url     string
	timeout time.Duration
	retry   *httpclient.RetryConfig
	sender  Sender
	now     func() time.Time
	logger  *slog.Logger
	tracer  trace.Tracer

	current atomic.Pointer[entry]
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithLogger sets the cache logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// WithTracerProvider sets where fetch spans are recorded.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Cache) { c.tracer = tp.Tracer(tracerName) }
}

// New builds an empty cache. Nothing is fetched until the first
// ResolveKey.
func New(sender Sender, cfg Config, opts ...Option) (*Cache, error) {
	if sender == nil {
		return nil, sserr.New(sserr.CodeInternalConfiguration, "jwks: sender is required")
	}
	if cfg.URL == "" {
		return nil, sserr.New(sserr.CodeInternalConfiguration, "jwks: URL is required")
	}
	c := &Cache{
		url:     cfg.URL,
		timeout: cfg.FetchTimeout,
		retry:   cfg.Retry,
		sender:  sender,
		now:     time.Now,
		logger:  slog.Default(),
		tracer:  otel.Tracer(tracerName),
	}
	if c.timeout <= 0 {
		c.timeout = DefaultFetchTimeout
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// URL returns the key set location.
func (c *Cache) URL() string { return c.url }

// ResolveKey returns the key whose kid equals kid. A fresh entry is
// consulted without network access; otherwise the set is fetched first.
func (c *Cache) ResolveKey(ctx context.Context, kid string) (jwk.Key, error) {
	e := c.current.Load()
	if e == nil || !c.now().Before(e.expiresAt) {
		fetched, err := c.fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.current.Store(fetched)
		e = fetched
	} else {
		c.logger.DebugContext(ctx, "jwks: serving keys from cache", "url", c.url)
	}

	key, ok := e.keys.LookupKeyID(kid)
	if !ok {
		return nil, sserr.Wrapf(ErrNoMatchingKey, sserr.CodeNotFoundKey,
			"jwks: kid %q not present in %s", kid, c.url)
	}
	return key, nil
}

// Invalidate drops the cached entry.
func (c *Cache) Invalidate() {
	c.current.Store(nil)
}

// ExpiresAt reports when the current entry goes stale. The zero time means
// nothing is cached.
func (c *Cache) ExpiresAt() time.Time {
	if e := c.current.Load(); e != nil {
		return e.expiresAt
	}
	return time.Time{}
}

func (c *Cache) fetch(ctx context.Context) (*entry, error) {
	ctx, span := c.tracer.Start(ctx, "jwks.Fetch", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(attribute.String("jwks.url", c.url))

	e, err := c.fetchEntry(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.ErrorContext(ctx, "jwks: fetch failed", "url", c.url, "error", err)
	} else {
		span.SetAttributes(attribute.Int("jwks.keys", e.keys.Len()))
		span.SetStatus(codes.Ok, "")
		c.logger.InfoContext(ctx, "jwks: fetched fresh keys", "url", c.url, "keys", e.keys.Len(), "expires_at", e.expiresAt)
	}
	span.End()
	return e, err
}

func (c *Cache) fetchEntry(ctx context.Context) (*entry, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.sender.Send(ctx, httpclient.RequestSpec{
		Method: http.MethodGet,
		URL:    c.url,
		Header: http.Header{"Accept": {"application/json"}},
	}, c.retry)
	if err != nil {
		return nil, fetchError(err, "request failed")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fetchError(nil, fmt.Sprintf("unexpected status %d", resp.StatusCode))
	}

	var shape struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := json.Unmarshal(resp.Body, &shape); err != nil {
		return nil, fetchError(err, "response is not JSON")
	}
	if shape.Keys == nil {
		return nil, fetchError(nil, "response has no keys array")
	}

	keys, err := jwk.Parse(resp.Body)
	if err != nil {
		return nil, fetchError(err, "response is not a valid key set")
	}

	maxAge, ok := MaxAge(resp.Header.Get("Cache-Control"))
	if !ok {
		maxAge = DefaultMaxAge
	}
	return &entry{keys: keys, expiresAt: c.now().Add(maxAge)}, nil
}

func fetchError(cause error, reason string) error {
	wrapped := ErrFetch
	if cause != nil {
		wrapped = fmt.Errorf("%w: %w", ErrFetch, cause)
	}
	return sserr.Wrapf(wrapped, sserr.CodeInternalJWKS, "jwks: %s", reason)
}

// MaxAge extracts the max-age directive from a Cache-Control value,
// capped at MaxCacheAge.
func MaxAge(cacheControl string) (time.Duration, bool) {
	m := maxAgePattern.FindStringSubmatch(cacheControl)
	if m == nil {
		return 0, false
	}
	secs, err := strconv.ParseInt(m[1], 10, 64)
	if errors.Is(err, strconv.ErrRange) || secs > int64(MaxCacheAge/time.Second) {
		return MaxCacheAge, true
	}
	if err != nil {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}
