// Package httpclient sends outbound HTTP requests with per-attempt
// timeouts and exponential backoff with full jitter.
//
// Send returns every response it finally receives, including non-2xx
// ones; only transport failures become errors. Retries happen when the
// status is in RetryConfig.RetryableStatusCodes or the transport failed,
// and attempts remain. The delay before attempt n+1 is
//
//	floor(rand[0,1) * BaseDelay * 2^(n-1))
//
// and is abandoned as soon as the caller's context is done.
package httpclient

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/auth-gateway/pkg/errors"
)

const tracerName = "github.com/StricklySoft/auth-gateway/pkg/httpclient"

const (
	// DefaultMaxAttempts is the total number of attempts, not retries.
	DefaultMaxAttempts = 3

	// DefaultBaseDelay is the backoff unit for the first retry.
	DefaultBaseDelay = 100 * time.Millisecond

	// DefaultAttemptTimeout bounds a single attempt.
	DefaultAttemptTimeout = 5 * time.Second

	// MaxResponseBytes caps how much of a response body is read.
	MaxResponseBytes = 4 << 20
)

// DefaultRetryableStatusCodes are retried when attempts remain.
var DefaultRetryableStatusCodes = []int{
	http.StatusRequestTimeout,
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

// RetryConfig controls a single Send call. Zero fields take defaults.
type RetryConfig struct {
	MaxAttempts          int
	BaseDelay            time.Duration
	RetryableStatusCodes []int

	// Timeout bounds each attempt, including reading the body.
	Timeout time.Duration
}

// DefaultRetryConfig returns the defaults as an explicit value.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:          DefaultMaxAttempts,
		BaseDelay:            DefaultBaseDelay,
		RetryableStatusCodes: slices.Clone(DefaultRetryableStatusCodes),
		Timeout:              DefaultAttemptTimeout,
	}
}

func (c *RetryConfig) withDefaults() RetryConfig {
	out := DefaultRetryConfig()
	if c == nil {
		return out
	}
	if c.MaxAttempts > 0 {
		out.MaxAttempts = c.MaxAttempts
	}
	if c.BaseDelay > 0 {
		out.BaseDelay = c.BaseDelay
	}
	if c.RetryableStatusCodes != nil {
		out.RetryableStatusCodes = c.RetryableStatusCodes
	}
	if c.Timeout > 0 {
		out.Timeout = c.Timeout
	}
	return out
}

// RequestSpec describes one logical request. Body is resent on every
// attempt.
type RequestSpec struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is a fully read upstream response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte

	// Attempts is how many attempts produced this response.
	Attempts int
}

// Doer is satisfied by *http.Client.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is safe for concurrent use.
type Client struct {
	doer   Doer
	logger *slog.Logger
	tracer trace.Tracer
	random func() float64
	sleep  func(ctx context.Context, d time.Duration) error
}

// Option configures a Client.
type Option func(*Client)

// WithDoer replaces the underlying HTTP client.
func WithDoer(d Doer) Option {
	return func(c *Client) { c.doer = d }
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithTracerProvider sets where spans are recorded. The global provider
// is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) { c.tracer = tp.Tracer(tracerName) }
}

// WithRandom replaces the jitter source. fn must return values in [0,1).
func WithRandom(fn func() float64) Option {
	return func(c *Client) { c.random = fn }
}

// WithSleep replaces the backoff wait. The function must return ctx.Err()
// when ctx is done before d elapses.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = fn }
}

// New builds a Client. Without options it uses a plain *http.Client whose
// deadlines come from the per-attempt context.
func New(opts ...Option) *Client {
	c := &Client{
		doer:   &http.Client{},
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
		random: rand.Float64,
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Backoff returns floor(r * base * 2^(attempt-1)) for attempt >= 1.
func Backoff(attempt int, base time.Duration, r float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	ceiling := float64(base) * math.Pow(2, float64(attempt-1))
	return time.Duration(math.Floor(r * ceiling))
}

// Send performs spec with retries. A nil cfg means DefaultRetryConfig.
func (c *Client) Send(ctx context.Context, spec RequestSpec, cfg *RetryConfig) (*Response, error) {
	rc := cfg.withDefaults()

	target, err := url.Parse(spec.URL)
	if err != nil || !target.IsAbs() {
		return nil, sserr.Newf(sserr.CodeInternalConfiguration,
			"httpclient: %q is not an absolute URL", spec.URL)
	}
	method := spec.Method
	if method == "" {
		method = http.MethodGet
	}

	ctx, span := c.tracer.Start(ctx, "httpclient.Send", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("http.request.method", method),
		attribute.String("server.address", target.Host),
		attribute.String("url.path", target.Path),
	)

	resp, err := c.loop(ctx, method, spec, rc)
	if resp != nil {
		span.SetAttributes(
			attribute.Int("http.response.status_code", resp.StatusCode),
			attribute.Int("http.request.resend_count", resp.Attempts-1),
		)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
	return resp, err
}

func (c *Client) loop(ctx context.Context, method string, spec RequestSpec, rc RetryConfig) (*Response, error) {
	for attempt := 1; ; attempt++ {
		resp, err := c.attempt(ctx, method, spec, rc.Timeout)
		more := attempt < rc.MaxAttempts

		switch {
		case err == nil && !(more && slices.Contains(rc.RetryableStatusCodes, resp.StatusCode)):
			resp.Attempts = attempt
			return resp, nil
		case err != nil && !more:
			return nil, classify(err, spec.URL, attempt)
		}

		if ctx.Err() != nil {
			return nil, classify(ctx.Err(), spec.URL, attempt)
		}

		delay := Backoff(attempt, rc.BaseDelay, c.random())
		logArgs := []any{"url", spec.URL, "attempt", attempt, "delay", delay}
		if err != nil {
			logArgs = append(logArgs, "error", err)
		} else {
			logArgs = append(logArgs, "status", resp.StatusCode)
		}
		c.logger.DebugContext(ctx, "httpclient: retrying request", logArgs...)

		if err := c.sleep(ctx, delay); err != nil {
			return nil, classify(err, spec.URL, attempt)
		}
	}
}

// attempt runs one request under its own timeout. The timer is released
// before returning on every path.
func (c *Client) attempt(ctx context.Context, method string, spec RequestSpec, timeout time.Duration) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if spec.Body != nil {
		body = bytes.NewReader(spec.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, spec.URL, body)
	if err != nil {
		return nil, err
	}
	for name, values := range spec.Header {
		req.Header[name] = slices.Clone(values)
	}

	res, err := c.doer.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, MaxResponseBytes))
	if err != nil {
		return nil, err
	}
	return &Response{StatusCode: res.StatusCode, Header: res.Header.Clone(), Body: data}, nil
}

func classify(err error, target string, attempts int) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return sserr.Wrapf(err, sserr.CodeTimeoutUpstream,
			"httpclient: %s timed out after %d attempt(s)", target, attempts)
	}
	return sserr.Wrapf(err, sserr.CodeUnavailableUpstream,
		"httpclient: %s failed after %d attempt(s)", target, attempts)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
