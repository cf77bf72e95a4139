// Package proxy forwards OAuth2 token-exchange requests to the identity
// provider's token endpoint.
//
// A request passes through these stages in order, and any stage may end it
// with an error response:
//
//  1. route check: only POST /oauth2/token is served
//  2. header sanitization
//  3. body validation into a [sanitize.Grant]
//  4. attestation, when the attestation flag is on
//  5. client secret lookup
//  6. the upstream call, whose status, body and filtered headers are
//     returned verbatim
//
// Error responses carry a fixed {"message": ...} body that never reflects
// the underlying cause; the cause is logged.
package proxy

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/auth-gateway/pkg/errors"
	"github.com/StricklySoft/auth-gateway/pkg/flags"
	"github.com/StricklySoft/auth-gateway/pkg/httpclient"
	"github.com/StricklySoft/auth-gateway/pkg/sanitize"
	"github.com/StricklySoft/auth-gateway/pkg/secrets"
)

const tracerName = "github.com/StricklySoft/auth-gateway/pkg/proxy"

// TokenPath is the only path the proxy serves.
const TokenPath = "/oauth2/token"

// Upstream retry defaults. An authorization code is single use, so only
// statuses that mean the provider never handled the request are retried.
const (
	DefaultTimeout     = 3 * time.Second
	DefaultMaxAttempts = 2
)

// DefaultRetryableStatusCodes are retried when Config.Retry leaves them nil.
var DefaultRetryableStatusCodes = []int{
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

// Fixed response messages.
const (
	MessageBadRequest = "Bad Request"
	MessageNotFound   = "Not Found"
	MessageInternal   = "Internal Server Error"
)

// hopHeaders are not copied from the upstream response.
var hopHeaders = map[string]bool{
	"connection":          true,
	"keep-alive":          true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"te":                  true,
	"trailer":             true,
	"transfer-encoding":   true,
	"upgrade":             true,
	"content-length":      true,
}

// Request is an inbound token-exchange request.
type Request struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
}

// Response is written back to the caller as is. Header names are
// lower-case and repeated values are joined with ", ".
type Response struct {
	StatusCode int
	Header     map[string]string
	Body       []byte
}

// Sender is satisfied by *httpclient.Client.
type Sender interface {
	Send(ctx context.Context, spec httpclient.RequestSpec, cfg *httpclient.RetryConfig) (*httpclient.Response, error)
}

// Attester is satisfied by *attestation.Validator. Errors are classified
// with classify, normally attestation.PublicMessage.
type Attester interface {
	Validate(ctx context.Context, token string) error
}

// Config locates the upstream token endpoint and its client secret.
type Config struct {
	// TokenURL is the identity provider's token endpoint.
	TokenURL string

	// SecretName names the client secret in the secret store.
	SecretName string

	// Retry governs upstream attempts. Zero fields take the proxy
	// defaults above rather than httpclient's.
	Retry httpclient.RetryConfig
}

// Handler is safe for concurrent use.
type Handler struct {
	cfg       Config
	sanitizer *sanitize.Sanitizer
	flags     flags.Source
	attester  Attester
	classify  func(error) (string, bool)
	secrets   secrets.Store
	sender    Sender
	logger    *slog.Logger
	tracer    trace.Tracer
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// WithTracerProvider sets where spans are recorded.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(h *Handler) { h.tracer = tp.Tracer(tracerName) }
}

// WithAttestation enables attestation checks when the attestation flag is
// on. classify maps a Validate error to its 401 message, or reports false
// for errors that are server faults.
func WithAttestation(a Attester, classify func(error) (string, bool)) Option {
	return func(h *Handler) {
		h.attester = a
		h.classify = classify
	}
}

// New returns a Handler. Attestation needs WithAttestation; without it an
// enabled attestation flag fails every request with a 500.
func New(cfg Config, sanitizer *sanitize.Sanitizer, source flags.Source, store secrets.Store, sender Sender, opts ...Option) (*Handler, error) {
	switch {
	case cfg.TokenURL == "":
		return nil, sserr.Configuration("proxy: token URL is required")
	case cfg.SecretName == "":
		return nil, sserr.Configuration("proxy: secret name is required")
	case sanitizer == nil, source == nil, store == nil, sender == nil:
		return nil, sserr.Configuration("proxy: sanitizer, flag source, secret store and sender are required")
	}
	if cfg.Retry.Timeout <= 0 {
		cfg.Retry.Timeout = DefaultTimeout
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Retry.RetryableStatusCodes == nil {
		cfg.Retry.RetryableStatusCodes = slices.Clone(DefaultRetryableStatusCodes)
	}
	h := &Handler{
		cfg:       cfg,
		sanitizer: sanitizer,
		flags:     source,
		secrets:   store,
		sender:    sender,
		logger:    slog.Default(),
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Handle runs req through the pipeline. It never returns a nil Response.
func (h *Handler) Handle(ctx context.Context, req Request) *Response {
	ctx, span := h.tracer.Start(ctx, "proxy.Handle")
	defer span.End()

	resp := h.handle(ctx, span, req)
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if resp.StatusCode >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
	}
	return resp
}

func (h *Handler) handle(ctx context.Context, span trace.Span, req Request) *Response {
	if req.Method != http.MethodPost || strings.TrimSuffix(req.Path, "/") != TokenPath {
		return Message(http.StatusNotFound, MessageNotFound)
	}

	attest, err := h.flags.Enabled(ctx, flags.Attestation)
	if err != nil {
		return h.fail(ctx, "proxy: attestation flag unavailable", err)
	}

	headers, err := h.sanitizer.Headers(req.Header, attest)
	if err != nil {
		h.logger.WarnContext(ctx, "proxy: headers rejected", "error", err)
		return Message(http.StatusBadRequest, MessageBadRequest)
	}

	grant, err := h.sanitizer.Body(headers.ContentType, req.Body)
	if err != nil {
		h.logger.WarnContext(ctx, "proxy: body rejected", "error", err)
		return Message(http.StatusBadRequest, MessageBadRequest)
	}
	span.SetAttributes(attribute.String("oauth.grant_type", string(grant.Type)))

	if attest {
		if h.attester == nil {
			return h.fail(ctx, "proxy: attestation enabled without a validator", nil)
		}
		if err := h.attester.Validate(ctx, headers.AttestationToken); err != nil {
			msg, ok := h.classify(err)
			if !ok {
				return h.fail(ctx, "proxy: attestation could not be checked", err)
			}
			h.logger.WarnContext(ctx, "proxy: attestation rejected", "reason", msg, "error", err)
			return Message(http.StatusUnauthorized, msg)
		}
	}

	secret, err := secrets.ClientSecret(ctx, h.secrets, h.cfg.SecretName)
	if err != nil {
		return h.fail(ctx, "proxy: client secret unavailable", err)
	}

	up, err := h.sender.Send(ctx, httpclient.RequestSpec{
		Method: http.MethodPost,
		URL:    h.cfg.TokenURL,
		Header: headers.Forward(),
		Body:   []byte(grant.Form(secret).Encode()),
	}, &h.cfg.Retry)
	if err != nil {
		return h.fail(ctx, "proxy: upstream call failed", err)
	}

	out := &Response{StatusCode: up.StatusCode, Header: passthroughHeaders(up.Header), Body: up.Body}
	if up.StatusCode < 200 || up.StatusCode > 299 {
		h.logger.WarnContext(ctx, "proxy: identity provider returned an error",
			"statusCode", up.StatusCode,
			"headers", out.Header,
			"body", string(up.Body),
		)
	}
	return out
}

func (h *Handler) fail(ctx context.Context, msg string, err error) *Response {
	h.logger.ErrorContext(ctx, msg, "error", err, "code", sserr.GetCode(err))
	return Message(http.StatusInternalServerError, MessageInternal)
}

// Message builds a JSON {"message": msg} response.
func Message(status int, msg string) *Response {
	body, _ := json.Marshal(struct {
		Message string `json:"message"`
	}{msg})
	return &Response{
		StatusCode: status,
		Header:     map[string]string{"content-type": "application/json"},
		Body:       body,
	}
}

func passthroughHeaders(in http.Header) map[string]string {
	out := make(map[string]string, len(in))
	for name, values := range in {
		key := strings.ToLower(name)
		if hopHeaders[key] {
			continue
		}
		out[key] = strings.Join(values, ", ")
	}
	return out
}
