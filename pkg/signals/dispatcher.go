// Package signals receives Security Event Tokens from the shared-signal
// transmitter and turns them into User Directory operations.
//
// A token moves through the states in state.go. The dispatcher verifies
// it, matches its claims against each known event schema in a fixed
// order, confirms the subject still has an account and runs the handler
// for the matched kind. A subject without an account is accepted without
// action so the receiver never reveals whether an account exists.
package signals

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/StricklySoft/auth-gateway/pkg/directory"
	sserr "github.com/StricklySoft/auth-gateway/pkg/errors"
	"github.com/StricklySoft/auth-gateway/pkg/flags"
	"github.com/StricklySoft/auth-gateway/pkg/replay"
	"github.com/StricklySoft/auth-gateway/pkg/token"
)

const tracerName = "github.com/StricklySoft/auth-gateway/pkg/signals"

// TokenType is the typ header every SET must carry.
const TokenType = "secevent+jwt"

// Verifier is satisfied by *token.Verifier.
type Verifier interface {
	Verify(ctx context.Context, raw string, want token.Expected) (token.Claims, error)
}

// Config identifies the trusted transmitter.
type Config struct {
	Issuer    string
	Audience  string
	Algorithm string
	Leeway    time.Duration
}

type route struct {
	schema  *Schema
	handler Handler
}

// Dispatcher is safe for concurrent use.
type Dispatcher struct {
	verifier Verifier
	dir      directory.Directory
	flags    flags.Source
	expected token.Expected
	routes   []route
	guard    *replay.Guard
	logger   *slog.Logger
	tracer   trace.Tracer
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger used by the dispatcher and its handlers.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithTracerProvider sets where spans are recorded.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(d *Dispatcher) { d.tracer = tp.Tracer(tracerName) }
}

// WithReplayGuard drops events whose jti was already processed.
func WithReplayGuard(g *replay.Guard) Option {
	return func(d *Dispatcher) { d.guard = g }
}

// New builds a Dispatcher routing credential-change events first and
// account-purged events second.
func New(verifier Verifier, dir directory.Directory, source flags.Source, cfg Config, opts ...Option) (*Dispatcher, error) {
	if verifier == nil || dir == nil || source == nil {
		return nil, sserr.Configuration("signals: verifier, directory and flag source are required")
	}
	d := &Dispatcher{
		verifier: verifier,
		dir:      dir,
		flags:    source,
		expected: token.Expected{
			Issuer:    cfg.Issuer,
			Audience:  cfg.Audience,
			Algorithm: cfg.Algorithm,
			Type:      TokenType,
			Leeway:    cfg.Leeway,
		},
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(d)
	}
	if err := d.expected.Validate(); err != nil {
		return nil, err
	}
	if cfg.Audience == "" {
		return nil, sserr.Configuration("signals: audience is required")
	}

	for _, r := range []struct {
		kind    Kind
		handler Handler
	}{
		{KindCredentialChange, NewCredentialChangeHandler(dir, d.logger)},
		{KindAccountPurged, NewAccountPurgeHandler(dir, d.logger)},
	} {
		s, err := LoadSchema(r.kind)
		if err != nil {
			return nil, err
		}
		d.routes = append(d.routes, route{schema: s, handler: r.handler})
	}
	return d, nil
}

// Dispatch processes one receiver request body: the compact SET, either
// raw or as a JSON string.
func (d *Dispatcher) Dispatch(ctx context.Context, body []byte) Response {
	ctx, span := d.tracer.Start(ctx, "signals.Dispatch")
	defer span.End()

	r := newRun(d.logger)
	resp := d.dispatch(ctx, span, r, body)
	if err := r.advance(ctx, StateResponded); err != nil {
		d.logger.ErrorContext(ctx, "signals: state machine", "error", err)
	}
	resp.Reached = r.last

	span.SetAttributes(
		attribute.String("set.state", string(r.last)),
		attribute.Int("http.response.status_code", resp.StatusCode),
	)
	if resp.StatusCode >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
	}
	d.logger.InfoContext(ctx, "signals: responded", "jti", r.jti, "state", r.last, "status", resp.StatusCode)
	return resp
}

func (d *Dispatcher) dispatch(ctx context.Context, span trace.Span, r *run, body []byte) Response {
	enabled, err := d.flags.Enabled(ctx, flags.SharedSignal)
	if err != nil {
		d.logger.ErrorContext(ctx, "signals: shared-signal flag unavailable", "error", err)
		return message(http.StatusInternalServerError)
	}
	if !enabled {
		d.logger.WarnContext(ctx, "signals: shared signal processing is disabled")
		return message(http.StatusServiceUnavailable)
	}

	raw, err := compactToken(body)
	if err != nil {
		d.logger.WarnContext(ctx, "signals: request body rejected", "error", err)
		return setError(http.StatusBadRequest, ErrInvalidRequest)
	}

	claims, err := d.verifier.Verify(ctx, raw, d.expected)
	if err != nil {
		code := ErrAuthenticationFailed
		if errors.Is(err, token.ErrInvalidKeyID) {
			code = ErrInvalidKey
		}
		d.logger.WarnContext(ctx, "signals: token verification failed", "err_code", code, "error", err)
		return setError(http.StatusBadRequest, code)
	}
	r.jti = claims.ID()
	span.SetAttributes(attribute.String("set.jti", r.jti))
	if err := r.advance(ctx, StateSignatureVerified); err != nil {
		return d.internal(ctx, err)
	}

	var (
		matched   *route
		violation []string
	)
	for i := range d.routes {
		ok, v := d.routes[i].schema.Match(claims)
		if ok {
			matched = &d.routes[i]
			break
		}
		violation = append(violation, v...)
	}
	if matched == nil {
		d.logger.WarnContext(ctx, "signals: no event schema matched", "jti", r.jti, "violations", summarize(violation))
		return message(http.StatusBadRequest)
	}
	span.SetAttributes(attribute.String("set.kind", string(matched.schema.Kind())))

	ev, err := newEvent(matched.schema.Kind(), claims)
	if err != nil {
		d.logger.WarnContext(ctx, "signals: event rejected", "jti", r.jti, "error", err)
		return message(http.StatusBadRequest)
	}
	if err := matched.handler.Check(ev); err != nil {
		d.logger.ErrorContext(ctx, "signals: event rejected", "jti", r.jti, "user_id", ev.Subject,
			"change_type", ev.ChangeType, "error", err)
		return message(http.StatusBadRequest)
	}
	if err := r.advance(ctx, StateSchemaMatched); err != nil {
		return d.internal(ctx, err)
	}

	if !d.guard.Claim(ctx, ev.ID) {
		d.logger.InfoContext(ctx, "signals: duplicate event ignored", "jti", ev.ID)
		return message(http.StatusAccepted)
	}

	exists, err := d.dir.UserExists(ctx, ev.Subject)
	if err != nil {
		d.guard.Release(ctx, ev.ID)
		d.logger.ErrorContext(ctx, "signals: user lookup failed", "jti", ev.ID, "user_id", ev.Subject, "error", err)
		return message(http.StatusInternalServerError)
	}
	if !exists {
		d.logger.WarnContext(ctx, "signals: user not found", "jti", ev.ID, "user_id", ev.Subject, "kind", ev.Kind)
		return message(http.StatusAccepted)
	}
	if err := r.advance(ctx, StateSubjectVerified); err != nil {
		return d.internal(ctx, err)
	}

	if err := r.advance(ctx, StateDispatched); err != nil {
		return d.internal(ctx, err)
	}
	if !matched.handler.Handle(ctx, ev) {
		d.guard.Release(ctx, ev.ID)
		return message(http.StatusInternalServerError)
	}
	return message(http.StatusAccepted)
}

func (d *Dispatcher) internal(ctx context.Context, err error) Response {
	d.logger.ErrorContext(ctx, "signals: internal error", "error", err)
	return message(http.StatusInternalServerError)
}

// compactToken extracts the JWS compact serialization from a request body.
func compactToken(body []byte) (string, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return "", sserr.New(sserr.CodeValidation, "signals: body is empty")
	}
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal([]byte(trimmed), &s); err != nil {
			return "", sserr.Wrap(err, sserr.CodeValidation, "signals: body is not a JSON string")
		}
		trimmed = strings.TrimSpace(s)
	}
	parts := strings.Split(trimmed, ".")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return "", sserr.New(sserr.CodeValidation, "signals: body is not a compact JWS")
	}
	for _, p := range parts {
		if !isBase64URL(p) {
			return "", sserr.New(sserr.CodeValidation, "signals: body is not a compact JWS")
		}
	}
	return trimmed, nil
}

// isBase64URL reports whether s uses only the unpadded base64url alphabet.
func isBase64URL(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}
