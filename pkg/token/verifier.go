// Package token verifies compact JWS tokens against keys resolved by key
// id, failing closed with a single error code for every rejection.
//
// Verification runs in a fixed order. The protected header is decoded
// first and must carry a safe kid, the expected alg and the expected typ;
// only then is the key resolved, and only with a key is the signature
// checked, followed by exp, iss, aud, nbf and iat. Every failure is a
// [sserr.CodeTokenInvalid] error whose message names the reason. Causes
// stay in the chain, so a key set outage remains distinguishable with
// [sserr.ChainHasCode] and an unusable kid with [ErrInvalidKeyID].
package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/auth-gateway/pkg/errors"
)

const tracerName = "github.com/StricklySoft/auth-gateway/pkg/token"

// Token types accepted in the typ header.
const (
	TypeJWT           = "JWT"
	TypeSecurityEvent = "secevent+jwt"
)

// ErrInvalidKeyID marks a token whose kid header is absent, empty or
// contains characters outside [A-Za-z0-9_-].
var ErrInvalidKeyID = errors.New("token: invalid kid header")

var safeKeyID = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// KeyResolver is satisfied by *jwks.Cache.
type KeyResolver interface {
	ResolveKey(ctx context.Context, kid string) (jwk.Key, error)
}

// Expected is what a caller requires of a token.
type Expected struct {
	Issuer    string
	Audience  string
	Algorithm string
	Type      string

	// RequireExpiry rejects tokens without exp. A present exp is always
	// checked.
	RequireExpiry bool

	// Leeway tolerates clock skew for exp, nbf and iat.
	Leeway time.Duration
}

// Validate reports configuration mistakes before any token is seen.
func (e Expected) Validate() error {
	switch {
	case e.Issuer == "":
		return sserr.New(sserr.CodeInternalConfiguration, "token: expected issuer is required")
	case e.Algorithm == "", strings.EqualFold(e.Algorithm, "none"):
		return sserr.New(sserr.CodeInternalConfiguration, "token: a signing algorithm is required")
	case e.Type == "":
		return sserr.New(sserr.CodeInternalConfiguration, "token: expected typ is required")
	}
	return nil
}

// Verifier checks tokens. It holds no per-token state and is safe for
// concurrent use.
type Verifier struct {
	keys   KeyResolver
	now    func() time.Time
	logger *slog.Logger
	tracer trace.Tracer
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithClock replaces time.Now for exp, nbf and iat.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(v *Verifier) { v.logger = l }
}

// WithTracerProvider sets where spans are recorded.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(v *Verifier) { v.tracer = tp.Tracer(tracerName) }
}

// NewVerifier returns a Verifier resolving keys through keys.
func NewVerifier(keys KeyResolver, opts ...Option) (*Verifier, error) {
	if keys == nil {
		return nil, sserr.New(sserr.CodeInternalConfiguration, "token: key resolver is required")
	}
	v := &Verifier{
		keys:   keys,
		now:    time.Now,
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Verify checks raw against want and returns its claims.
func (v *Verifier) Verify(ctx context.Context, raw string, want Expected) (Claims, error) {
	ctx, span := v.tracer.Start(ctx, "token.Verify")
	span.SetAttributes(
		attribute.String("token.expected_alg", want.Algorithm),
		attribute.String("token.expected_typ", want.Type),
	)

	claims, err := v.verify(ctx, span, raw, want)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		v.logger.DebugContext(ctx, "token: verification failed", "error", err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
	return claims, err
}

func (v *Verifier) verify(ctx context.Context, span trace.Span, raw string, want Expected) (Claims, error) {
	if err := want.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(raw) == "" {
		return nil, invalid(nil, "token is empty")
	}

	unverified, _, err := jwt.NewParser().ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return nil, invalid(err, "token is malformed")
	}
	kid, err := headerKeyID(unverified.Header)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("token.kid", kid))

	alg, _ := unverified.Header["alg"].(string)
	if alg == "" {
		return nil, invalid(nil, "alg header is missing")
	}
	if alg != want.Algorithm {
		return nil, invalid(nil, fmt.Sprintf("alg %q is not allowed", alg))
	}

	typ, _ := unverified.Header["typ"].(string)
	if typ == "" {
		return nil, invalid(nil, "typ header is missing")
	}
	if normalizeType(typ) != normalizeType(want.Type) {
		return nil, invalid(nil, fmt.Sprintf("typ %q does not match %q", typ, want.Type))
	}

	key, err := v.keys.ResolveKey(ctx, kid)
	if err != nil {
		return nil, invalid(err, "no usable verification key")
	}
	var material any
	if err := key.Raw(&material); err != nil {
		return nil, invalid(err, "verification key could not be exported")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{want.Algorithm}),
		jwt.WithIssuer(want.Issuer),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(want.Leeway),
		jwt.WithTimeFunc(v.now),
	}
	if want.Audience != "" {
		opts = append(opts, jwt.WithAudience(want.Audience))
	}
	if want.RequireExpiry {
		opts = append(opts, jwt.WithExpirationRequired())
	}

	parsed, err := jwt.Parse(raw, func(*jwt.Token) (any, error) { return material, nil }, opts...)
	if err != nil {
		return nil, invalid(err, reason(err))
	}
	mc, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, invalid(nil, "claims are not a JSON object")
	}
	return Claims(mc), nil
}

func headerKeyID(header map[string]any) (string, error) {
	kid, _ := header["kid"].(string)
	if kid == "" {
		return "", invalid(ErrInvalidKeyID, "kid header is missing")
	}
	if !safeKeyID.MatchString(kid) {
		return "", invalid(ErrInvalidKeyID, "kid header contains unsafe characters")
	}
	return kid, nil
}

// normalizeType compares typ values the way RFC 7515 section 4.1.9
// allows: case-insensitive, with an optional application/ prefix.
func normalizeType(typ string) string {
	typ = strings.ToLower(strings.TrimSpace(typ))
	return strings.TrimPrefix(typ, "application/")
}

func reason(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "signature is invalid"
	case errors.Is(err, jwt.ErrTokenExpired):
		return "token is expired"
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return "a required claim is missing"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return "issuer is not trusted"
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return "audience does not match"
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return "token is not valid yet"
	case errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return "token was issued in the future"
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return "signing method is not allowed"
	default:
		return "token is invalid"
	}
}

func invalid(cause error, reason string) error {
	if cause == nil {
		return sserr.TokenInvalid("token: " + reason)
	}
	return sserr.Wrap(cause, sserr.CodeTokenInvalid, "token: "+reason)
}
